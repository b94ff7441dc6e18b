package background

import (
	"context"
	"sort"
	"sync"
	"time"

	"panierfacile-pricing/pkg/models"
)

// TaskStatus represents the status of a background task
type TaskStatus string

const (
	TaskStatusAccepted   TaskStatus = "ACCEPTED"
	TaskStatusProcessing TaskStatus = "PROCESSING"
	TaskStatusSuccess    TaskStatus = "SUCCESS"
	TaskStatusFailure    TaskStatus = "FAILURE"
)

// TaskType represents the type of background task
type TaskType string

const (
	TaskTypeMatch   TaskType = "match"
	TaskTypeCompare TaskType = "compare"
	TaskTypeRefresh TaskType = "refresh"
)

// TaskResult represents the state and result of a background task
type TaskResult struct {
	ProcessID      string                     `json:"processId"`
	Type           TaskType                   `json:"type"`
	Status         TaskStatus                 `json:"status"`
	Data           interface{}                `json:"data,omitempty"`
	Error          string                     `json:"error,omitempty"`
	Progress       *models.ComparisonProgress `json:"progress,omitempty"`
	CreatedAt      time.Time                  `json:"createdAt"`
	CompletedAt    *time.Time                 `json:"completedAt,omitempty"`
	ProcessingTime *time.Duration             `json:"processingTime,omitempty"`
	Metadata       map[string]interface{}     `json:"metadata,omitempty"`
}

// IsCompleted reports whether the task reached a final status
func (r *TaskResult) IsCompleted() bool {
	return r.Status == TaskStatusSuccess || r.Status == TaskStatusFailure
}

// ToResponse converts the result to the API's status payload
func (r *TaskResult) ToResponse() *models.AsyncTaskStatusResponse {
	return &models.AsyncTaskStatusResponse{
		ProcessID:      r.ProcessID,
		Type:           string(r.Type),
		Status:         models.AsyncStatus(r.Status),
		Data:           r.Data,
		Error:          r.Error,
		Progress:       r.Progress,
		CreatedAt:      r.CreatedAt,
		CompletedAt:    r.CompletedAt,
		ProcessingTime: r.ProcessingTime,
		Metadata:       r.Metadata,
	}
}

// CompareTaskData is the payload of a finished comparison task
type CompareTaskData struct {
	Comparison *models.PriceComparison `json:"comparison"`
}

// TaskStore defines the interface for storing and retrieving task results
type TaskStore interface {
	// Store stores a task result
	Store(ctx context.Context, result *TaskResult) error

	// Get retrieves a task result by process ID
	Get(ctx context.Context, processID string) (*TaskResult, error)

	// Update updates a task result
	Update(ctx context.Context, result *TaskResult) error

	// Delete removes a task result
	Delete(ctx context.Context, processID string) error

	// Cleanup removes expired task results
	Cleanup(ctx context.Context, maxAge time.Duration) error

	// List returns all task results (for monitoring)
	List(ctx context.Context) ([]*TaskResult, error)
}

// InMemoryTaskStore implements TaskStore using in-memory storage. It
// hands out copies so workers and readers never share a result.
type InMemoryTaskStore struct {
	mu    sync.RWMutex
	tasks map[string]*TaskResult
	now   func() time.Time
}

// NewInMemoryTaskStore creates a new in-memory task store
func NewInMemoryTaskStore() *InMemoryTaskStore {
	return &InMemoryTaskStore{
		tasks: make(map[string]*TaskResult),
		now:   time.Now,
	}
}

func clone(r *TaskResult) *TaskResult {
	c := *r
	if r.Metadata != nil {
		c.Metadata = make(map[string]interface{}, len(r.Metadata))
		for k, v := range r.Metadata {
			c.Metadata[k] = v
		}
	}
	return &c
}

// Store stores a task result
func (s *InMemoryTaskStore) Store(ctx context.Context, result *TaskResult) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.tasks[result.ProcessID] = clone(result)
	return nil
}

// Get retrieves a task result by process ID
func (s *InMemoryTaskStore) Get(ctx context.Context, processID string) (*TaskResult, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result, exists := s.tasks[processID]
	if !exists {
		return nil, ErrTaskNotFound
	}

	return clone(result), nil
}

// Update updates a task result
func (s *InMemoryTaskStore) Update(ctx context.Context, result *TaskResult) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.tasks[result.ProcessID]; !exists {
		return ErrTaskNotFound
	}

	s.tasks[result.ProcessID] = clone(result)
	return nil
}

// Delete removes a task result
func (s *InMemoryTaskStore) Delete(ctx context.Context, processID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.tasks[processID]; !exists {
		return ErrTaskNotFound
	}

	delete(s.tasks, processID)
	return nil
}

// Cleanup removes finished task results older than maxAge. Tasks still
// queued or running are kept.
func (s *InMemoryTaskStore) Cleanup(ctx context.Context, maxAge time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	cutoff := s.now().Add(-maxAge)

	for processID, result := range s.tasks {
		if result.IsCompleted() && result.CreatedAt.Before(cutoff) {
			delete(s.tasks, processID)
		}
	}

	return nil
}

// List returns all task results, newest first
func (s *InMemoryTaskStore) List(ctx context.Context) ([]*TaskResult, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	results := make([]*TaskResult, 0, len(s.tasks))
	for _, result := range s.tasks {
		results = append(results, clone(result))
	}
	sort.Slice(results, func(i, j int) bool { return results[i].CreatedAt.After(results[j].CreatedAt) })

	return results, nil
}

// Common errors
var (
	ErrTaskNotFound = NewTaskError("task not found")
	ErrQueueFull    = NewTaskError("task queue is full")
	ErrNotRunning   = NewTaskError("task manager is not healthy")
)

// TaskError represents a background task error
type TaskError struct {
	Message string
	Code    string
}

func NewTaskError(message string) *TaskError {
	return &TaskError{
		Message: message,
		Code:    "TASK_ERROR",
	}
}

func (e *TaskError) Error() string {
	return e.Message
}
