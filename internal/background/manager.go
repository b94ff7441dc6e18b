package background

import (
	"context"
	"fmt"
	"strconv"
	"sync"
	"time"

	"panierfacile-pricing/internal/comparison"
	"panierfacile-pricing/internal/config"
	"panierfacile-pricing/internal/logging"
	"panierfacile-pricing/internal/logging/types"
	"panierfacile-pricing/internal/matcher"
	"panierfacile-pricing/pkg/models"
)

// Task manager configuration constants
const (
	// Default configuration values
	DefaultMaxWorkers   = 4
	DefaultMaxQueueSize = 100

	// Maximum configuration values for safety
	MaxWorkers   = 64
	MaxQueueSize = 10000
)

// Matcher is the batch matcher a match task runs. *matcher.Matcher
// implements it.
type Matcher interface {
	MatchBatch(ctx context.Context, ingredients []models.Ingredient, retailer string, opts matcher.MatchOptions, progress matcher.ProgressFunc) (*matcher.BatchResult, error)
}

// Comparator runs comparison tasks. *comparison.Comparator implements it.
type Comparator interface {
	Compare(ctx context.Context, req comparison.Request, progress comparison.ProgressFunc) (*models.PriceComparison, error)
}

// Refresher runs refresh tasks. *refresh.Refresher implements it.
type Refresher interface {
	ScrapeIngredientPrices(ctx context.Context, ingredients []models.Ingredient, retailers []string) (*models.RefreshResult, error)
	RefreshPopular(ctx context.Context) (*models.RefreshResult, error)
}

// Services are the domain operations tasks execute
type Services struct {
	Matcher    Matcher
	Comparator Comparator
	Refresher  Refresher
}

// MatchTask is a queued shopping-list match
type MatchTask struct {
	Retailer    string
	Ingredients []models.Ingredient
	Options     matcher.MatchOptions
}

// RefreshTask is a queued proactive scrape. Popular ignores Ingredients
// and refreshes the most used recent ingredients instead.
type RefreshTask struct {
	Ingredients []models.Ingredient
	Retailers   []string
	Popular     bool
}

// TaskManager defines the interface for managing background tasks
type TaskManager interface {
	// Start starts the task manager
	Start(ctx context.Context) error

	// Stop stops the task manager gracefully
	Stop(ctx context.Context) error

	// SubmitMatchTask queues a batch match
	SubmitMatchTask(ctx context.Context, processID string, task MatchTask) error

	// SubmitComparisonTask queues a price comparison
	SubmitComparisonTask(ctx context.Context, processID string, req comparison.Request) error

	// SubmitRefreshTask queues a proactive scrape
	SubmitRefreshTask(ctx context.Context, processID string, task RefreshTask) error

	// GetTaskResult retrieves the result of a task by process ID
	GetTaskResult(ctx context.Context, processID string) (*TaskResult, error)

	// ListTasks lists all known tasks (for monitoring)
	ListTasks(ctx context.Context) ([]*TaskResult, error)

	// Stats summarizes queue and task counts
	Stats(ctx context.Context) map[string]interface{}

	// IsHealthy checks if the task manager is healthy
	IsHealthy() bool
}

// TaskManagerImpl implements the TaskManager interface
type TaskManagerImpl struct {
	services        Services
	store           TaskStore
	logger          *TaskCompletionLogger
	appLogger       types.Logger
	ctx             context.Context
	cancel          context.CancelFunc
	wg              sync.WaitGroup
	mu              sync.RWMutex
	running         bool
	taskChan        chan *TaskExecution
	maxWorkers      int
	maxQueueSize    int
	taskTimeout     time.Duration
	cleanupInterval time.Duration
	maxTaskAge      time.Duration
}

// TaskExecution represents a queued task
type TaskExecution struct {
	ProcessID   string
	Type        TaskType
	ExecuteFunc func(context.Context) (interface{}, error)
}

// validateTaskManagerConfig validates and returns safe configuration values
func validateTaskManagerConfig(cfg *config.Config) (maxWorkers, maxQueueSize int, err error) {
	maxWorkers = cfg.BackgroundTasks.MaxWorkers
	if maxWorkers <= 0 {
		maxWorkers = DefaultMaxWorkers
	} else if maxWorkers > MaxWorkers {
		return 0, 0, fmt.Errorf("worker count (%d) exceeds maximum (%d)", maxWorkers, MaxWorkers)
	}

	maxQueueSize = cfg.BackgroundTasks.QueueSize
	if maxQueueSize <= 0 {
		maxQueueSize = DefaultMaxQueueSize
	} else if maxQueueSize > MaxQueueSize {
		return 0, 0, fmt.Errorf("queue size (%d) exceeds maximum (%d)", maxQueueSize, MaxQueueSize)
	}

	return maxWorkers, maxQueueSize, nil
}

// NewTaskManager creates a new task manager
func NewTaskManager(cfg *config.Config, services Services) *TaskManagerImpl {
	logger := logging.GetGlobalLogger().WithField("component", "task_manager")

	maxWorkers, maxQueueSize, err := validateTaskManagerConfig(cfg)
	if err != nil {
		logger.Warn("Task manager configuration validation failed, using defaults", map[string]interface{}{
			"error": err.Error(),
		})
		maxWorkers = DefaultMaxWorkers
		maxQueueSize = DefaultMaxQueueSize
	}

	logger.Info("Task manager configuration initialized", map[string]interface{}{
		"max_workers":    maxWorkers,
		"max_queue_size": maxQueueSize,
		"using_defaults": err != nil,
	})

	cleanupInterval := cfg.BackgroundTasks.CleanupInterval
	if cleanupInterval <= 0 {
		cleanupInterval = time.Hour
	}
	maxTaskAge := cfg.BackgroundTasks.MaxTaskAge
	if maxTaskAge <= 0 {
		maxTaskAge = 24 * time.Hour
	}

	return &TaskManagerImpl{
		services:        services,
		store:           NewInMemoryTaskStore(),
		logger:          NewTaskCompletionLogger(),
		appLogger:       logger,
		maxWorkers:      maxWorkers,
		maxQueueSize:    maxQueueSize,
		taskTimeout:     cfg.BackgroundTasks.TaskTimeout,
		cleanupInterval: cleanupInterval,
		maxTaskAge:      maxTaskAge,
		taskChan:        make(chan *TaskExecution, maxQueueSize),
	}
}

// Start starts the task manager
func (tm *TaskManagerImpl) Start(ctx context.Context) error {
	tm.mu.Lock()
	defer tm.mu.Unlock()

	if tm.running {
		return fmt.Errorf("task manager already running")
	}

	tm.ctx, tm.cancel = context.WithCancel(ctx)
	tm.running = true

	for i := 0; i < tm.maxWorkers; i++ {
		tm.wg.Add(1)
		go tm.worker(i)
	}

	tm.wg.Add(1)
	go tm.cleanupRoutine()

	tm.appLogger.Info("Task manager started", map[string]interface{}{
		"max_workers": tm.maxWorkers,
	})
	return nil
}

// Stop cancels running tasks and waits for workers up to ctx
func (tm *TaskManagerImpl) Stop(ctx context.Context) error {
	tm.mu.Lock()
	defer tm.mu.Unlock()

	if !tm.running {
		return nil
	}

	tm.appLogger.Info("Stopping task manager...")
	tm.cancel()

	done := make(chan struct{})
	go func() {
		tm.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		tm.appLogger.Info("Task manager stopped gracefully")
	case <-ctx.Done():
		tm.appLogger.Warn("Task manager shutdown timed out")
	}

	tm.running = false
	return nil
}

// submit stores the ACCEPTED result and queues the execution without
// blocking
func (tm *TaskManagerImpl) submit(ctx context.Context, processID string, taskType TaskType, metadata map[string]interface{}, fn func(context.Context) (interface{}, error)) error {
	if !tm.IsHealthy() {
		return ErrNotRunning
	}

	result := &TaskResult{
		ProcessID: processID,
		Type:      taskType,
		Status:    TaskStatusAccepted,
		CreatedAt: time.Now(),
		Metadata:  metadata,
	}
	if err := tm.store.Store(ctx, result); err != nil {
		return fmt.Errorf("failed to store task result: %w", err)
	}

	execution := &TaskExecution{ProcessID: processID, Type: taskType, ExecuteFunc: fn}

	select {
	case tm.taskChan <- execution:
		tm.logger.LogTaskAccepted(processID, taskType)
		return nil
	case <-ctx.Done():
		_ = tm.store.Delete(context.Background(), processID)
		return ctx.Err()
	default:
		_ = tm.store.Delete(context.Background(), processID)
		return ErrQueueFull
	}
}

// SubmitMatchTask queues a batch match. The task data is a
// models.MatchBatchResult with the cart lines of the matched ingredients.
func (tm *TaskManagerImpl) SubmitMatchTask(ctx context.Context, processID string, task MatchTask) error {
	metadata := map[string]interface{}{
		"retailer":    task.Retailer,
		"ingredients": len(task.Ingredients),
		"use_cache":   task.Options.UseCache,
	}
	return tm.submit(ctx, processID, TaskTypeMatch, metadata, func(execCtx context.Context) (interface{}, error) {
		total := len(task.Ingredients)
		progress := func(done, _ int, ingredient string) {
			tm.setProgress(processID, models.ComparisonProgress{
				Current:    done,
				Total:      total,
				Retailer:   task.Retailer,
				Ingredient: ingredient,
				Message:    fmt.Sprintf("%s: %s", task.Retailer, ingredient),
			})
		}

		batch, err := tm.services.Matcher.MatchBatch(execCtx, task.Ingredients, task.Retailer, task.Options, progress)
		if err != nil {
			return nil, err
		}

		matches := make(map[string]*models.ProductMatch, len(batch.Matches))
		for id, m := range batch.Matches {
			matches[strconv.FormatInt(id, 10)] = m
		}
		return &models.MatchBatchResult{
			Retailer:  batch.Retailer,
			Matched:   batch.Matched,
			Total:     batch.Total,
			HitRate:   batch.HitRate(),
			Matches:   matches,
			CartItems: matcher.ToCartItems(batch.Matches, task.Ingredients),
		}, nil
	})
}

// SubmitComparisonTask queues a price comparison. Progress events are
// stored on the task as they arrive.
func (tm *TaskManagerImpl) SubmitComparisonTask(ctx context.Context, processID string, req comparison.Request) error {
	metadata := map[string]interface{}{
		"ingredients": len(req.Ingredients),
	}
	if req.Retailers[0] != "" {
		metadata["retailers"] = req.Retailers[:]
	}
	return tm.submit(ctx, processID, TaskTypeCompare, metadata, func(execCtx context.Context) (interface{}, error) {
		result, err := tm.services.Comparator.Compare(execCtx, req, func(p models.ComparisonProgress) {
			tm.setProgress(processID, p)
		})
		if err != nil {
			return nil, err
		}
		return &CompareTaskData{Comparison: result}, nil
	})
}

// SubmitRefreshTask queues a proactive scrape
func (tm *TaskManagerImpl) SubmitRefreshTask(ctx context.Context, processID string, task RefreshTask) error {
	metadata := map[string]interface{}{
		"popular":     task.Popular,
		"ingredients": len(task.Ingredients),
	}
	if len(task.Retailers) > 0 {
		metadata["retailers"] = task.Retailers
	}
	return tm.submit(ctx, processID, TaskTypeRefresh, metadata, func(execCtx context.Context) (interface{}, error) {
		if task.Popular {
			return tm.services.Refresher.RefreshPopular(execCtx)
		}
		return tm.services.Refresher.ScrapeIngredientPrices(execCtx, task.Ingredients, task.Retailers)
	})
}

// GetTaskResult retrieves the result of a task by process ID
func (tm *TaskManagerImpl) GetTaskResult(ctx context.Context, processID string) (*TaskResult, error) {
	return tm.store.Get(ctx, processID)
}

// ListTasks lists all known tasks, newest first
func (tm *TaskManagerImpl) ListTasks(ctx context.Context) ([]*TaskResult, error) {
	return tm.store.List(ctx)
}

// Stats summarizes queue and task counts for the status endpoint
func (tm *TaskManagerImpl) Stats(ctx context.Context) map[string]interface{} {
	byStatus := map[TaskStatus]int{}
	if tasks, err := tm.store.List(ctx); err == nil {
		for _, t := range tasks {
			byStatus[t.Status]++
		}
	}
	return map[string]interface{}{
		"healthy":      tm.IsHealthy(),
		"workers":      tm.maxWorkers,
		"queue_length": len(tm.taskChan),
		"queue_size":   tm.maxQueueSize,
		"accepted":     byStatus[TaskStatusAccepted],
		"processing":   byStatus[TaskStatusProcessing],
		"succeeded":    byStatus[TaskStatusSuccess],
		"failed":       byStatus[TaskStatusFailure],
	}
}

// IsHealthy checks if the task manager is healthy
func (tm *TaskManagerImpl) IsHealthy() bool {
	tm.mu.RLock()
	defer tm.mu.RUnlock()
	return tm.running && tm.ctx.Err() == nil
}

// worker processes tasks from the task channel
func (tm *TaskManagerImpl) worker(workerID int) {
	defer tm.wg.Done()

	tm.appLogger.Debug("Task worker started", map[string]interface{}{
		"worker_id": workerID,
	})

	for {
		select {
		case <-tm.ctx.Done():
			tm.appLogger.Debug("Task worker stopping", map[string]interface{}{
				"worker_id": workerID,
			})
			return
		case task := <-tm.taskChan:
			tm.processTask(workerID, task)
		}
	}
}

// processTask runs one task and records its final status
func (tm *TaskManagerImpl) processTask(workerID int, task *TaskExecution) {
	startTime := time.Now()

	tm.appLogger.Info("Processing task", map[string]interface{}{
		"worker_id":  workerID,
		"process_id": task.ProcessID,
		"task_type":  task.Type,
	})

	if err := tm.updateTaskStatus(task.ProcessID, TaskStatusProcessing); err != nil {
		tm.appLogger.Error("Failed to update task status to processing", map[string]interface{}{
			"process_id": task.ProcessID,
			"error":      err.Error(),
		})
	}
	tm.logger.LogTaskStart(task.ProcessID, task.Type)

	ctx, cancel := tm.ctx, context.CancelFunc(func() {})
	if tm.taskTimeout > 0 {
		ctx, cancel = context.WithTimeout(tm.ctx, tm.taskTimeout)
	}
	data, err := tm.execute(ctx, task)
	cancel()
	processingTime := time.Since(startTime)

	result, getErr := tm.store.Get(context.Background(), task.ProcessID)
	if getErr != nil {
		tm.appLogger.Error("Failed to retrieve task result for completion", map[string]interface{}{
			"process_id": task.ProcessID,
			"error":      getErr.Error(),
		})
		return
	}

	completedAt := time.Now()
	result.ProcessingTime = &processingTime
	result.CompletedAt = &completedAt
	if err != nil {
		result.Status = TaskStatusFailure
		result.Error = err.Error()
		tm.logger.LogTaskError(task.ProcessID, task.Type, err)
	} else {
		result.Status = TaskStatusSuccess
		result.Data = data
		tm.logger.LogTaskSuccess(task.ProcessID, task.Type, processingTime)
	}

	if err := tm.store.Update(context.Background(), result); err != nil {
		tm.appLogger.Error("Failed to store task result", map[string]interface{}{
			"process_id": task.ProcessID,
			"error":      err.Error(),
		})
	}

	if err := tm.logger.LogTaskCompletion(result); err != nil {
		tm.appLogger.Error("Failed to log task completion", map[string]interface{}{
			"error": err.Error(),
		})
	}
}

// execute runs the task body, turning a panic into a task failure
func (tm *TaskManagerImpl) execute(ctx context.Context, task *TaskExecution) (data interface{}, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("task panicked: %v", r)
		}
	}()
	return task.ExecuteFunc(ctx)
}

// updateTaskStatus updates the status of a task
func (tm *TaskManagerImpl) updateTaskStatus(processID string, status TaskStatus) error {
	result, err := tm.store.Get(context.Background(), processID)
	if err != nil {
		return err
	}

	result.Status = status
	return tm.store.Update(context.Background(), result)
}

func (tm *TaskManagerImpl) setProgress(processID string, p models.ComparisonProgress) {
	result, err := tm.store.Get(context.Background(), processID)
	if err != nil {
		return
	}
	result.Progress = &p
	if err := tm.store.Update(context.Background(), result); err != nil {
		tm.appLogger.Warn("Failed to store task progress", map[string]interface{}{
			"process_id": processID,
			"error":      err.Error(),
		})
	}
}

// cleanupRoutine periodically drops finished task results
func (tm *TaskManagerImpl) cleanupRoutine() {
	defer tm.wg.Done()

	ticker := time.NewTicker(tm.cleanupInterval)
	defer ticker.Stop()

	for {
		select {
		case <-tm.ctx.Done():
			return
		case <-ticker.C:
			if err := tm.store.Cleanup(context.Background(), tm.maxTaskAge); err != nil {
				tm.appLogger.Error("Failed to cleanup old task results", map[string]interface{}{
					"error": err.Error(),
				})
			}
		}
	}
}
