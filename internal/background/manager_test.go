package background

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"panierfacile-pricing/internal/comparison"
	"panierfacile-pricing/internal/config"
	"panierfacile-pricing/internal/matcher"
	"panierfacile-pricing/pkg/models"
)

type fakeMatcher struct{}

func (fakeMatcher) MatchBatch(ctx context.Context, ingredients []models.Ingredient, retailer string, opts matcher.MatchOptions, progress matcher.ProgressFunc) (*matcher.BatchResult, error) {
	result := &matcher.BatchResult{Retailer: retailer, Matches: map[int64]*models.ProductMatch{}, Total: len(ingredients)}
	for i, ing := range ingredients {
		if ing.Name != "safran" {
			result.Matches[ing.ID] = &models.ProductMatch{ID: ing.ID * 10, ProductName: ing.Name, ProductURL: "https://www.e.leclerc/fp/" + ing.Name}
			result.Matched++
		}
		progress(i+1, len(ingredients), ing.Name)
	}
	return result, nil
}

type fakeComparator struct {
	release chan struct{}
	err     error
}

func (f *fakeComparator) Compare(ctx context.Context, req comparison.Request, progress comparison.ProgressFunc) (*models.PriceComparison, error) {
	progress(models.ComparisonProgress{Current: 1, Total: 2, Retailer: "leclerc", Ingredient: "lait"})
	if f.release != nil {
		select {
		case <-f.release:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if f.err != nil {
		return nil, f.err
	}
	return &models.PriceComparison{ID: "cmp-1", Cheapest: "lidl", TotalIngredients: len(req.Ingredients)}, nil
}

type fakeRefresher struct {
	mu      sync.Mutex
	popular int
}

func (f *fakeRefresher) ScrapeIngredientPrices(ctx context.Context, ingredients []models.Ingredient, retailers []string) (*models.RefreshResult, error) {
	return &models.RefreshResult{Total: len(ingredients), Scraped: map[string]int{"leclerc": len(ingredients)}}, nil
}

func (f *fakeRefresher) RefreshPopular(ctx context.Context) (*models.RefreshResult, error) {
	f.mu.Lock()
	f.popular++
	f.mu.Unlock()
	panic("popular ingredients unavailable")
}

func newTestManager(t *testing.T, mutate func(*config.Config), services Services) *TaskManagerImpl {
	t.Helper()
	cfg := config.Default()
	if mutate != nil {
		mutate(cfg)
	}
	tm := NewTaskManager(cfg, services)
	tm.logger.out = io.Discard
	require.NoError(t, tm.Start(context.Background()))
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		tm.Stop(ctx)
	})
	return tm
}

func waitFor(t *testing.T, tm *TaskManagerImpl, processID string, status TaskStatus) *TaskResult {
	t.Helper()
	var result *TaskResult
	require.Eventually(t, func() bool {
		r, err := tm.GetTaskResult(context.Background(), processID)
		if err != nil {
			return false
		}
		result = r
		return r.Status == status
	}, 2*time.Second, 5*time.Millisecond)
	return result
}

func TestSubmitMatchTask(t *testing.T) {
	tm := newTestManager(t, nil, Services{Matcher: fakeMatcher{}})

	err := tm.SubmitMatchTask(context.Background(), "match-1", MatchTask{
		Retailer: "leclerc",
		Ingredients: []models.Ingredient{
			{ID: 1, Name: "lait", Quantity: 2},
			{ID: 2, Name: "safran", Quantity: 1},
		},
		Options: matcher.DefaultOptions(),
	})
	require.NoError(t, err)

	result := waitFor(t, tm, "match-1", TaskStatusSuccess)
	data, ok := result.Data.(*models.MatchBatchResult)
	require.True(t, ok)
	assert.Equal(t, 1, data.Matched)
	assert.Equal(t, 2, data.Total)
	assert.InDelta(t, 0.5, data.HitRate, 1e-9)
	assert.Equal(t, []models.CartItem{{ItemID: "lait", Quantity: 2, Catalog: "PDV"}}, data.CartItems)
	assert.Equal(t, "lait", data.Matches["1"].ProductName)

	require.NotNil(t, result.Progress)
	assert.Equal(t, 2, result.Progress.Current)
	require.NotNil(t, result.ProcessingTime)
	require.NotNil(t, result.CompletedAt)
	assert.Equal(t, "leclerc", result.Metadata["retailer"])
}

func TestSubmitComparisonTask_ProgressThenSuccess(t *testing.T) {
	cmp := &fakeComparator{release: make(chan struct{})}
	tm := newTestManager(t, nil, Services{Comparator: cmp})

	req := comparison.Request{Ingredients: []models.Ingredient{{ID: 1, Name: "lait"}}}
	require.NoError(t, tm.SubmitComparisonTask(context.Background(), "cmp-task", req))

	require.Eventually(t, func() bool {
		r, err := tm.GetTaskResult(context.Background(), "cmp-task")
		return err == nil && r.Status == TaskStatusProcessing && r.Progress != nil
	}, 2*time.Second, 5*time.Millisecond)

	close(cmp.release)
	result := waitFor(t, tm, "cmp-task", TaskStatusSuccess)
	data := result.Data.(*CompareTaskData)
	assert.Equal(t, "lidl", data.Comparison.Cheapest)

	resp := result.ToResponse()
	assert.Equal(t, models.AsyncStatusSuccess, resp.Status)
	assert.True(t, resp.IsCompleted())
	assert.Equal(t, "compare", resp.Type)
}

func TestSubmitComparisonTask_Failure(t *testing.T) {
	tm := newTestManager(t, nil, Services{Comparator: &fakeComparator{err: errors.New("failed to save comparison: disk full")}})

	require.NoError(t, tm.SubmitComparisonTask(context.Background(), "cmp-fail", comparison.Request{}))
	result := waitFor(t, tm, "cmp-fail", TaskStatusFailure)
	assert.Equal(t, "failed to save comparison: disk full", result.Error)
	assert.Nil(t, result.Data)
}

func TestSubmitRefreshTask(t *testing.T) {
	refresher := &fakeRefresher{}
	tm := newTestManager(t, nil, Services{Refresher: refresher})

	require.NoError(t, tm.SubmitRefreshTask(context.Background(), "refresh-1", RefreshTask{
		Ingredients: []models.Ingredient{{ID: 1, Name: "lait"}, {ID: 2, Name: "beurre"}},
	}))
	result := waitFor(t, tm, "refresh-1", TaskStatusSuccess)
	assert.Equal(t, 2, result.Data.(*models.RefreshResult).Total)

	// a panicking task fails without taking the worker down
	require.NoError(t, tm.SubmitRefreshTask(context.Background(), "refresh-2", RefreshTask{Popular: true}))
	failed := waitFor(t, tm, "refresh-2", TaskStatusFailure)
	assert.Contains(t, failed.Error, "popular ingredients unavailable")

	require.NoError(t, tm.SubmitRefreshTask(context.Background(), "refresh-3", RefreshTask{}))
	waitFor(t, tm, "refresh-3", TaskStatusSuccess)
}

func TestSubmit_QueueFull(t *testing.T) {
	cmp := &fakeComparator{release: make(chan struct{})}
	tm := newTestManager(t, func(c *config.Config) {
		c.BackgroundTasks.MaxWorkers = 1
		c.BackgroundTasks.QueueSize = 1
	}, Services{Comparator: cmp})
	defer close(cmp.release)

	ctx := context.Background()
	require.NoError(t, tm.SubmitComparisonTask(ctx, "a", comparison.Request{}))
	waitFor(t, tm, "a", TaskStatusProcessing)

	require.NoError(t, tm.SubmitComparisonTask(ctx, "b", comparison.Request{}))
	err := tm.SubmitComparisonTask(ctx, "c", comparison.Request{})
	assert.ErrorIs(t, err, ErrQueueFull)
	assert.EqualError(t, err, "task queue is full")

	_, err = tm.GetTaskResult(ctx, "c")
	assert.ErrorIs(t, err, ErrTaskNotFound)

	stats := tm.Stats(ctx)
	assert.Equal(t, 1, stats["queue_length"])
	assert.Equal(t, 1, stats["processing"])
}

func TestSubmit_NotStarted(t *testing.T) {
	tm := NewTaskManager(config.Default(), Services{})
	err := tm.SubmitRefreshTask(context.Background(), "x", RefreshTask{})
	assert.ErrorIs(t, err, ErrNotRunning)
	assert.False(t, tm.IsHealthy())
}

func TestInMemoryTaskStore_Cleanup(t *testing.T) {
	s := NewInMemoryTaskStore()
	now := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)
	s.now = func() time.Time { return now }
	ctx := context.Background()

	require.NoError(t, s.Store(ctx, &TaskResult{ProcessID: "old-done", Status: TaskStatusSuccess, CreatedAt: now.Add(-25 * time.Hour)}))
	require.NoError(t, s.Store(ctx, &TaskResult{ProcessID: "old-running", Status: TaskStatusProcessing, CreatedAt: now.Add(-25 * time.Hour)}))
	require.NoError(t, s.Store(ctx, &TaskResult{ProcessID: "recent", Status: TaskStatusFailure, CreatedAt: now.Add(-time.Hour)}))

	require.NoError(t, s.Cleanup(ctx, 24*time.Hour))

	list, err := s.List(ctx)
	require.NoError(t, err)
	require.Len(t, list, 2)
	assert.Equal(t, "recent", list[0].ProcessID)
	assert.Equal(t, "old-running", list[1].ProcessID)

	assert.ErrorIs(t, s.Update(ctx, &TaskResult{ProcessID: "missing"}), ErrTaskNotFound)
	assert.ErrorIs(t, s.Delete(ctx, "missing"), ErrTaskNotFound)
}

func TestLogTaskCompletion(t *testing.T) {
	var buf bytes.Buffer
	l := NewTaskCompletionLogger()
	l.out = &buf

	d := 1500 * time.Millisecond
	require.NoError(t, l.LogTaskCompletion(&TaskResult{
		ProcessID:      "p-1",
		Type:           TaskTypeCompare,
		Status:         TaskStatusSuccess,
		ProcessingTime: &d,
		Data:           map[string]int{"big": 1},
	}))

	var entry map[string]interface{}
	require.NoError(t, json.Unmarshal(buf.Bytes(), &entry))
	assert.Equal(t, "p-1", entry["processId"])
	assert.Equal(t, "compare", entry["operation"])
	assert.Equal(t, "1.5s", entry["processing_time"])
	assert.NotContains(t, entry, "data")
}
