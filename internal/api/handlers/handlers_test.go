package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"panierfacile-pricing/internal/api/middleware"
	"panierfacile-pricing/internal/background"
	"panierfacile-pricing/internal/comparison"
	"panierfacile-pricing/internal/config"
	"panierfacile-pricing/internal/scraper"
	"panierfacile-pricing/internal/scraper/retailers"
	"panierfacile-pricing/internal/store"
	"panierfacile-pricing/pkg/models"
)

type fakeSearcher struct {
	result  scraper.SearchResult
	err     error
	enabled []string
	blocked *scraper.BlockRegistry
}

func (f *fakeSearcher) Search(ctx context.Context, retailer, query string) (scraper.SearchResult, error) {
	if f.err != nil {
		return scraper.SearchResult{}, f.err
	}
	r := f.result
	r.Retailer, r.Query = retailer, query
	return r, nil
}

func (f *fakeSearcher) Available() []string            { return retailers.Names() }
func (f *fakeSearcher) Enabled() []string              { return f.enabled }
func (f *fakeSearcher) Blocked() *scraper.BlockRegistry { return f.blocked }

type fakeTasks struct {
	mu      sync.Mutex
	healthy bool
	err     error
	matches []background.MatchTask
	compare []comparison.Request
	refresh []background.RefreshTask
	results map[string]*background.TaskResult
}

func (f *fakeTasks) Start(ctx context.Context) error { return nil }
func (f *fakeTasks) Stop(ctx context.Context) error  { return nil }

func (f *fakeTasks) SubmitMatchTask(ctx context.Context, processID string, task background.MatchTask) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return f.err
	}
	f.matches = append(f.matches, task)
	return nil
}

func (f *fakeTasks) SubmitComparisonTask(ctx context.Context, processID string, req comparison.Request) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return f.err
	}
	f.compare = append(f.compare, req)
	return nil
}

func (f *fakeTasks) SubmitRefreshTask(ctx context.Context, processID string, task background.RefreshTask) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return f.err
	}
	f.refresh = append(f.refresh, task)
	return nil
}

func (f *fakeTasks) GetTaskResult(ctx context.Context, processID string) (*background.TaskResult, error) {
	if r, ok := f.results[processID]; ok {
		return r, nil
	}
	return nil, background.ErrTaskNotFound
}

func (f *fakeTasks) ListTasks(ctx context.Context) ([]*background.TaskResult, error) {
	out := make([]*background.TaskResult, 0, len(f.results))
	for _, r := range f.results {
		out = append(out, r)
	}
	return out, nil
}

func (f *fakeTasks) Stats(ctx context.Context) map[string]interface{} {
	return map[string]interface{}{"total": len(f.results)}
}

func (f *fakeTasks) IsHealthy() bool { return f.healthy }

type fakeResetter struct{ calls int }

func (f *fakeResetter) ResetCache(ctx context.Context) error {
	f.calls++
	return nil
}

type fixture struct {
	deps     *Deps
	searcher *fakeSearcher
	tasks    *fakeTasks
	store    *store.Store
	resetter *fakeResetter
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	st, err := store.OpenWith(store.DriverSQLite, filepath.Join(t.TempDir(), "api.db"), 0)
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })

	searcher := &fakeSearcher{
		enabled: []string{"leclerc", "lidl", "carrefour"},
		blocked: scraper.NewBlockRegistry(t.TempDir()),
	}
	tasks := &fakeTasks{healthy: true, results: map[string]*background.TaskResult{}}
	resetter := &fakeResetter{}

	return &fixture{
		deps: &Deps{
			Config:   config.Default(),
			Version:  "test",
			Scrapers: searcher,
			Store:    st,
			Matcher:  resetter,
			Tasks:    tasks,
		},
		searcher: searcher,
		tasks:    tasks,
		store:    st,
		resetter: resetter,
	}
}

// serve runs h behind the request id middleware
func serve(t *testing.T, h echo.HandlerFunc, method, target, body string, params ...string) *httptest.ResponseRecorder {
	t.Helper()
	e := echo.New()
	req := httptest.NewRequest(method, target, strings.NewReader(body))
	if body != "" {
		req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	}
	rec := httptest.NewRecorder()
	c := e.NewContext(req, rec)
	if len(params) == 2 {
		c.SetParamNames(params[0])
		c.SetParamValues(params[1])
	}
	require.NoError(t, middleware.RequestValidation()(h)(c))
	return rec
}

func decode(t *testing.T, rec *httptest.ResponseRecorder, v interface{}) {
	t.Helper()
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), v))
}

func TestSearchHandler(t *testing.T) {
	f := newFixture(t)
	price := 0.99
	f.searcher.result = scraper.SearchResult{
		Outcome:  scraper.OutcomeSuccess,
		Products: []models.ProductRecord{{ProductName: "Lait demi-écrémé 1L", Price: &price, IsAvailable: true}},
	}

	rec := serve(t, SearchHandler(f.deps), http.MethodPost, "/api/v1/search", `{"retailer":" Leclerc ","query":"lait"}`)

	require.Equal(t, http.StatusOK, rec.Code)
	var resp models.SearchResponse
	decode(t, rec, &resp)
	assert.True(t, resp.Success)
	assert.Equal(t, "leclerc", resp.Retailer)
	assert.Equal(t, "success", resp.Outcome)
	require.Len(t, resp.Products, 1)
	assert.NotEmpty(t, resp.RequestID)
}

func TestSearchHandler_Errors(t *testing.T) {
	tests := []struct {
		name string
		body string
		err  error
		code int
		kind string
	}{
		{
			name: "unknown retailer fails validation",
			body: `{"retailer":"monoprix","query":"lait"}`,
			code: http.StatusBadRequest,
			kind: "validation_failed",
		},
		{
			name: "missing query",
			body: `{"retailer":"lidl"}`,
			code: http.StatusBadRequest,
			kind: "validation_failed",
		},
		{
			name: "malformed body",
			body: `{"retailer":`,
			code: http.StatusBadRequest,
			kind: "invalid_request",
		},
		{
			name: "disabled retailer",
			body: `{"retailer":"aldi","query":"lait"}`,
			err:  fmt.Errorf("%s: %w", "aldi", scraper.ErrRetailerDisabled),
			code: http.StatusBadRequest,
			kind: "invalid_request",
		},
		{
			name: "browser failure",
			body: `{"retailer":"lidl","query":"lait"}`,
			err:  errors.New("failed to launch browser"),
			code: http.StatusBadGateway,
			kind: "scraping_failed",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t)
			f.searcher.err = tt.err

			rec := serve(t, SearchHandler(f.deps), http.MethodPost, "/api/v1/search", tt.body)

			assert.Equal(t, tt.code, rec.Code)
			var resp models.ErrorResponse
			decode(t, rec, &resp)
			assert.Equal(t, tt.kind, resp.Error)
		})
	}
}

func TestSearchHandler_BlockedOutcomeIsNotAnError(t *testing.T) {
	f := newFixture(t)
	f.searcher.result = scraper.SearchResult{Outcome: scraper.OutcomeBlocked, Reason: "datadome"}

	rec := serve(t, SearchHandler(f.deps), http.MethodPost, "/api/v1/search", `{"retailer":"carrefour","query":"beurre"}`)

	require.Equal(t, http.StatusOK, rec.Code)
	var resp models.SearchResponse
	decode(t, rec, &resp)
	assert.False(t, resp.Success)
	assert.Equal(t, "blocked", resp.Outcome)
	assert.Equal(t, "datadome", resp.Reason)
	assert.NotNil(t, resp.Products)
}

func TestMatchHandler(t *testing.T) {
	f := newFixture(t)
	body := `{"retailer":"leclerc","use_cache":false,"store_id":"1234","ingredients":[{"name":"Lait","quantity":2,"unit":"l"},{"name":"beurre doux"}]}`

	rec := serve(t, MatchHandler(f.deps), http.MethodPost, "/api/v1/match", body)

	require.Equal(t, http.StatusAccepted, rec.Code)
	var resp models.AsyncAcceptedResponse
	decode(t, rec, &resp)
	assert.True(t, strings.HasPrefix(resp.ProcessID, "match_"))
	assert.Equal(t, models.AsyncStatusAccepted, resp.Status)

	require.Len(t, f.tasks.matches, 1)
	task := f.tasks.matches[0]
	assert.Equal(t, "leclerc", task.Retailer)
	assert.False(t, task.Options.UseCache)
	assert.Equal(t, "1234", task.Options.StoreID)
	require.Len(t, task.Ingredients, 2)
	assert.NotZero(t, task.Ingredients[0].ID)
	assert.Equal(t, "Lait", task.Ingredients[0].Name)
	assert.Equal(t, 2.0, task.Ingredients[0].Quantity)
	assert.Equal(t, 1.0, task.Ingredients[1].Quantity)
}

func TestMatchHandler_DisabledRetailer(t *testing.T) {
	f := newFixture(t)

	rec := serve(t, MatchHandler(f.deps), http.MethodPost, "/api/v1/match", `{"retailer":"auchan","ingredients":[{"name":"lait"}]}`)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Empty(t, f.tasks.matches)
}

func TestMatchHandler_QueueFull(t *testing.T) {
	f := newFixture(t)
	f.tasks.err = background.ErrQueueFull

	rec := serve(t, MatchHandler(f.deps), http.MethodPost, "/api/v1/match", `{"retailer":"lidl","ingredients":[{"name":"lait"}]}`)

	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	var resp models.ErrorResponse
	decode(t, rec, &resp)
	assert.Equal(t, "service_unavailable", resp.Error)
}

func TestCompareHandler(t *testing.T) {
	f := newFixture(t)
	body := `{"retailers":["Lidl","leclerc"],"latitude":48.85,"longitude":2.35,"ingredients":[{"name":"lait","quantity":1}]}`

	rec := serve(t, CompareHandler(f.deps), http.MethodPost, "/api/v1/compare", body)

	require.Equal(t, http.StatusAccepted, rec.Code)
	var resp models.AsyncAcceptedResponse
	decode(t, rec, &resp)
	assert.True(t, strings.HasPrefix(resp.ProcessID, "cmp_"))

	require.Len(t, f.tasks.compare, 1)
	req := f.tasks.compare[0]
	assert.Equal(t, [2]string{"lidl", "leclerc"}, req.Retailers)
	require.NotNil(t, req.Latitude)
	assert.InDelta(t, 48.85, *req.Latitude, 1e-9)
	require.Len(t, req.Ingredients, 1)
}

func TestCompareHandler_DefaultRetailers(t *testing.T) {
	f := newFixture(t)

	rec := serve(t, CompareHandler(f.deps), http.MethodPost, "/api/v1/compare", `{"ingredients":[{"name":"lait"}]}`)

	require.Equal(t, http.StatusAccepted, rec.Code)
	require.Len(t, f.tasks.compare, 1)
	assert.Equal(t, [2]string{}, f.tasks.compare[0].Retailers)
}

func TestCompareHandler_Rejects(t *testing.T) {
	tests := []struct {
		name string
		body string
	}{
		{"same retailer twice", `{"retailers":["lidl","LIDL"],"ingredients":[{"name":"lait"}]}`},
		{"one retailer", `{"retailers":["lidl"],"ingredients":[{"name":"lait"}]}`},
		{"no ingredients", `{"retailers":["lidl","aldi"],"ingredients":[]}`},
		{"bad latitude", `{"latitude":123,"ingredients":[{"name":"lait"}]}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t)
			rec := serve(t, CompareHandler(f.deps), http.MethodPost, "/api/v1/compare", tt.body)
			assert.Equal(t, http.StatusBadRequest, rec.Code)
			assert.Empty(t, f.tasks.compare)
		})
	}
}

func TestRefreshHandler(t *testing.T) {
	f := newFixture(t)

	rec := serve(t, RefreshHandler(f.deps), http.MethodPost, "/api/v1/refresh", `{"retailers":["Lidl"],"ingredients":[{"name":"oeufs"}]}`)
	require.Equal(t, http.StatusAccepted, rec.Code)

	rec = serve(t, RefreshHandler(f.deps), http.MethodPost, "/api/v1/refresh", `{"popular":true}`)
	require.Equal(t, http.StatusAccepted, rec.Code)

	rec = serve(t, RefreshHandler(f.deps), http.MethodPost, "/api/v1/refresh", `{}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	require.Len(t, f.tasks.refresh, 2)
	assert.Equal(t, []string{"lidl"}, f.tasks.refresh[0].Retailers)
	require.Len(t, f.tasks.refresh[0].Ingredients, 1)
	assert.True(t, f.tasks.refresh[1].Popular)
	assert.Empty(t, f.tasks.refresh[1].Ingredients)
	assert.Nil(t, f.tasks.refresh[1].Retailers)
}

func TestTaskStatusHandler(t *testing.T) {
	f := newFixture(t)
	f.tasks.results["cmp_abc"] = &background.TaskResult{
		ProcessID: "cmp_abc",
		Type:      background.TaskTypeCompare,
		Status:    background.TaskStatusProcessing,
		Progress:  &models.ComparisonProgress{Current: 3, Total: 8, Retailer: "lidl"},
		CreatedAt: time.Now(),
	}

	rec := serve(t, TaskStatusHandler(f.deps), http.MethodGet, "/api/v1/tasks/cmp_abc", "", "id", "cmp_abc")
	require.Equal(t, http.StatusOK, rec.Code)
	var resp models.AsyncTaskStatusResponse
	decode(t, rec, &resp)
	assert.Equal(t, models.AsyncStatusProcessing, resp.Status)
	assert.Equal(t, "compare", resp.Type)
	require.NotNil(t, resp.Progress)
	assert.Equal(t, 3, resp.Progress.Current)

	rec = serve(t, TaskStatusHandler(f.deps), http.MethodGet, "/api/v1/tasks/nope", "", "id", "nope")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestComparisonHandler(t *testing.T) {
	f := newFixture(t)
	total := 4.5
	cmp := &models.PriceComparison{
		Retailers:        []models.RetailerTotal{{Retailer: "lidl", Total: &total, Found: 1}, {Retailer: "leclerc", Found: 0}},
		TotalIngredients: 1,
		Cheapest:         "lidl",
	}
	require.NoError(t, f.store.SaveComparison(context.Background(), cmp))

	rec := serve(t, ComparisonHandler(f.deps), http.MethodGet, "/", "", "id", cmp.ID)
	require.Equal(t, http.StatusOK, rec.Code)
	var got models.PriceComparison
	decode(t, rec, &got)
	assert.Equal(t, cmp.ID, got.ID)
	assert.Equal(t, "lidl", got.Cheapest)
	require.Len(t, got.Retailers, 2)
	assert.Nil(t, got.Retailers[1].Total)

	rec = serve(t, ComparisonHandler(f.deps), http.MethodGet, "/", "", "id", "missing")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestReadinessHandler(t *testing.T) {
	f := newFixture(t)

	rec := serve(t, ReadinessHandler(f.deps), http.MethodGet, "/health/ready", "")
	assert.Equal(t, http.StatusOK, rec.Code)

	f.tasks.healthy = false
	rec = serve(t, ReadinessHandler(f.deps), http.MethodGet, "/health/ready", "")
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	var resp models.HealthResponse
	decode(t, rec, &resp)
	assert.Equal(t, "not_ready", resp.Status)
	assert.Equal(t, "not running", resp.Checks["tasks"])
}

func TestStatusHandler(t *testing.T) {
	f := newFixture(t)
	f.searcher.blocked.Record("carrefour", "https://www.carrefour.fr/s?q=lait", "datadome")

	rec := serve(t, StatusHandler(f.deps), http.MethodGet, "/status", "")
	require.Equal(t, http.StatusOK, rec.Code)

	var resp map[string]interface{}
	decode(t, rec, &resp)
	assert.Equal(t, "operational", resp["status"])
	assert.Contains(t, resp, "database")
	blocked, ok := resp["blocked_retailers"].(map[string]interface{})
	require.True(t, ok)
	assert.Contains(t, blocked, "carrefour")
}

func TestListRetailersHandler(t *testing.T) {
	f := newFixture(t)
	f.searcher.blocked.Record("lidl", "https://www.lidl.fr", "captcha")

	rec := serve(t, ListRetailersHandler(f.deps), http.MethodGet, "/api/v1/retailers", "")
	require.Equal(t, http.StatusOK, rec.Code)

	var resp struct {
		Retailers []RetailerInfo `json:"retailers"`
		Count     int            `json:"count"`
	}
	decode(t, rec, &resp)
	assert.Equal(t, len(retailers.Names()), resp.Count)

	byName := map[string]RetailerInfo{}
	for _, r := range resp.Retailers {
		byName[r.Name] = r
	}
	assert.True(t, byName["leclerc"].Enabled)
	assert.False(t, byName["aldi"].Enabled)
	assert.True(t, byName["lidl"].Blocked)
	assert.NotEmpty(t, byName["leclerc"].BaseURL)
}

func TestResetCacheHandler(t *testing.T) {
	f := newFixture(t)

	rec := serve(t, ResetCacheHandler(f.deps), http.MethodPost, "/api/v1/admin/cache/reset", "")

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, 1, f.resetter.calls)
}
