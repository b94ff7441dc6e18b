package background

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"time"

	"panierfacile-pricing/internal/logging"
	"panierfacile-pricing/internal/logging/types"
)

// TaskCompletionLogger handles structured logging for task lifecycle
// events. Completion records are also written as one JSON line to out
// so log collectors can pick them up.
type TaskCompletionLogger struct {
	logger types.Logger
	out    io.Writer
}

// NewTaskCompletionLogger creates a new task completion logger writing
// completion records to stdout
func NewTaskCompletionLogger() *TaskCompletionLogger {
	return &TaskCompletionLogger{
		logger: logging.GetGlobalLogger().WithField("component", "background"),
		out:    os.Stdout,
	}
}

// TaskCompletionLog represents the structured log entry for task completion
type TaskCompletionLog struct {
	ProcessID      string                 `json:"processId"`
	Status         string                 `json:"status"`
	Error          string                 `json:"error,omitempty"`
	Timestamp      time.Time              `json:"timestamp"`
	Operation      string                 `json:"operation"`
	ProcessingTime string                 `json:"processing_time"`
	Metadata       map[string]interface{} `json:"metadata,omitempty"`
}

// CreateTaskCompletionLog creates a TaskCompletionLog from a TaskResult.
// Data is left out, comparisons can be large.
func CreateTaskCompletionLog(result *TaskResult) *TaskCompletionLog {
	processingTime := "0s"
	if result.ProcessingTime != nil {
		processingTime = result.ProcessingTime.String()
	}

	return &TaskCompletionLog{
		ProcessID:      result.ProcessID,
		Status:         string(result.Status),
		Error:          result.Error,
		Timestamp:      time.Now(),
		Operation:      string(result.Type),
		ProcessingTime: processingTime,
		Metadata:       result.Metadata,
	}
}

// LogTaskCompletion writes the completion record and logs a summary
func (l *TaskCompletionLogger) LogTaskCompletion(result *TaskResult) error {
	jsonData, err := json.Marshal(CreateTaskCompletionLog(result))
	if err != nil {
		l.logger.Error("Failed to marshal task completion log", map[string]interface{}{
			"error": err.Error(),
		})
		return fmt.Errorf("failed to marshal task completion log: %w", err)
	}

	if _, err := l.out.Write(append(jsonData, '\n')); err != nil {
		return fmt.Errorf("failed to write task completion log: %w", err)
	}

	var processingTime interface{} = "not set"
	if result.ProcessingTime != nil {
		processingTime = result.ProcessingTime.String()
	}
	l.logger.Info("Background task completed", map[string]interface{}{
		"process_id":      result.ProcessID,
		"status":          result.Status,
		"operation":       result.Type,
		"processing_time": processingTime,
	})
	return nil
}

// LogTaskStart logs when a task starts processing
func (l *TaskCompletionLogger) LogTaskStart(processID string, taskType TaskType) {
	l.logger.Info("Background task started", map[string]interface{}{
		"process_id": processID,
		"operation":  taskType,
		"status":     TaskStatusProcessing,
	})
}

// LogTaskAccepted logs when a task is accepted for processing
func (l *TaskCompletionLogger) LogTaskAccepted(processID string, taskType TaskType) {
	l.logger.Info("Background task accepted", map[string]interface{}{
		"process_id": processID,
		"operation":  taskType,
		"status":     TaskStatusAccepted,
	})
}

// LogTaskError logs task errors during processing
func (l *TaskCompletionLogger) LogTaskError(processID string, taskType TaskType, err error) {
	l.logger.Error("Background task failed", map[string]interface{}{
		"process_id": processID,
		"operation":  taskType,
		"status":     TaskStatusFailure,
		"error":      err.Error(),
	})
}

// LogTaskSuccess logs successful task completion
func (l *TaskCompletionLogger) LogTaskSuccess(processID string, taskType TaskType, processingTime time.Duration) {
	l.logger.Info("Background task completed successfully", map[string]interface{}{
		"process_id":      processID,
		"operation":       taskType,
		"status":          TaskStatusSuccess,
		"processing_time": processingTime.String(),
	})
}
