package utils

import (
	"fmt"
	"net/http"
)

// CustomError represents an HTTP-facing application error. Kind is the
// stable slug reported in the error field of responses.
type CustomError struct {
	Code    int    `json:"code"`
	Kind    string `json:"error"`
	Message string `json:"message"`
	Detail  string `json:"detail,omitempty"`
}

func (e *CustomError) Error() string {
	if e.Detail != "" {
		return fmt.Sprintf("%s: %s", e.Message, e.Detail)
	}
	return e.Message
}

// Common error constructors
func NewBadRequestError(message string) *CustomError {
	return &CustomError{
		Code:    http.StatusBadRequest,
		Kind:    "invalid_request",
		Message: message,
	}
}

func NewValidationError(detail string) *CustomError {
	return &CustomError{
		Code:    http.StatusBadRequest,
		Kind:    "validation_failed",
		Message: "Validation failed",
		Detail:  detail,
	}
}

func NewNotFoundError(message string) *CustomError {
	return &CustomError{
		Code:    http.StatusNotFound,
		Kind:    "not_found",
		Message: message,
	}
}

func NewInternalServerError(message string) *CustomError {
	return &CustomError{
		Code:    http.StatusInternalServerError,
		Kind:    "internal_error",
		Message: message,
	}
}

func NewServiceUnavailableError(message string) *CustomError {
	return &CustomError{
		Code:    http.StatusServiceUnavailable,
		Kind:    "service_unavailable",
		Message: message,
	}
}

// NewUnknownRetailerError is returned for retailer identifiers that are
// not registered
func NewUnknownRetailerError(detail string) *CustomError {
	return &CustomError{
		Code:    http.StatusBadRequest,
		Kind:    "unknown_retailer",
		Message: "Unknown retailer",
		Detail:  detail,
	}
}

// NewScrapingError is returned when a retailer search could not run
func NewScrapingError(detail string) *CustomError {
	return &CustomError{
		Code:    http.StatusBadGateway,
		Kind:    "scraping_failed",
		Message: "Scraping failed",
		Detail:  detail,
	}
}
