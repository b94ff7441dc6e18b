package models

import (
	"time"
)

// AsyncStatus represents the status of a background task
type AsyncStatus string

const (
	AsyncStatusAccepted   AsyncStatus = "ACCEPTED"
	AsyncStatusProcessing AsyncStatus = "PROCESSING"
	AsyncStatusSuccess    AsyncStatus = "SUCCESS"
	AsyncStatusFailure    AsyncStatus = "FAILURE"
)

// AsyncAcceptedResponse is returned when a task has been queued
type AsyncAcceptedResponse struct {
	ProcessID string      `json:"processId"`
	Status    AsyncStatus `json:"status"`
	Message   string      `json:"message"`
	Timestamp time.Time   `json:"timestamp"`
}

// AsyncTaskStatusResponse represents the response for task status queries
type AsyncTaskStatusResponse struct {
	ProcessID      string                 `json:"processId"`
	Type           string                 `json:"type"`
	Status         AsyncStatus            `json:"status"`
	Data           interface{}            `json:"data,omitempty"`
	Error          string                 `json:"error,omitempty"`
	Progress       *ComparisonProgress    `json:"progress,omitempty"`
	CreatedAt      time.Time              `json:"createdAt"`
	CompletedAt    *time.Time             `json:"completedAt,omitempty"`
	ProcessingTime *time.Duration         `json:"processingTime,omitempty"`
	Metadata       map[string]interface{} `json:"metadata,omitempty"`
}

// NewAsyncAcceptedResponse builds the accepted response for a queued task
func NewAsyncAcceptedResponse(processID, message string) *AsyncAcceptedResponse {
	return &AsyncAcceptedResponse{
		ProcessID: processID,
		Status:    AsyncStatusAccepted,
		Message:   message,
		Timestamp: time.Now(),
	}
}

// IsCompleted checks if the task has finished, successfully or not
func (r *AsyncTaskStatusResponse) IsCompleted() bool {
	return r.Status == AsyncStatusSuccess || r.Status == AsyncStatusFailure
}
