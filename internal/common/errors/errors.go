// Package errors provides standardized error handling for the notification
// outbox service.
package errors

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

// ==========================
// 1. Standard Error Types
// ==========================

// ErrorCode represents standardized internal error codes.
type ErrorCode string

const (
	ErrCodeTemplateNotFound         ErrorCode = "TEMPLATE_NOT_FOUND"
	ErrCodeTemplateKeyConflict      ErrorCode = "TEMPLATE_KEY_CONFLICT"
	ErrCodeTemplateValidationFailed ErrorCode = "TEMPLATE_VALIDATION_FAILED"

	ErrCodeOutboxNotFound ErrorCode = "OUTBOX_NOT_FOUND"
	ErrCodeInvalidState   ErrorCode = "INVALID_STATE"

	ErrCodeTransportSendFailed    ErrorCode = "TRANSPORT_SEND_FAILED"
	ErrCodeTransportNotConfigured ErrorCode = "TRANSPORT_NOT_CONFIGURED"

	ErrCodeDatabaseConnectionFailed ErrorCode = "DATABASE_CONNECTION_FAILED"
	ErrCodeQueryExecutionFailed     ErrorCode = "QUERY_EXECUTION_FAILED"
)

// StandardError represents a structured application error.
type StandardError struct {
	Code      ErrorCode              `json:"code"`
	Message   string                 `json:"message"`
	Details   string                 `json:"details,omitempty"`
	Retryable bool                   `json:"retryable"`
	Metadata  map[string]interface{} `json:"metadata,omitempty"`
	Timestamp time.Time              `json:"timestamp"`
}

func (e *StandardError) Error() string {
	return fmt.Sprintf("StandardError[%s]: %s", e.Code, e.Message)
}

// CodeOf extracts the error code, or empty if err is not a StandardError.
func CodeOf(err error) ErrorCode {
	var stdErr *StandardError
	if errors.As(err, &stdErr) {
		return stdErr.Code
	}
	return ""
}

// IsRetryable reports whether a delivery failure should go through the
// backoff path. Unknown errors are treated as retryable so a transient
// infrastructure hiccup never silently cancels an entry.
func IsRetryable(err error) bool {
	var stdErr *StandardError
	if errors.As(err, &stdErr) {
		return stdErr.Retryable
	}
	return true
}

// ==========================
// 2. Error Constructors
// ==========================

// NewTemplateNotFoundError creates a retryable template lookup error. At
// delivery time the template may be reactivated or recreated before the next
// attempt, so the failure goes through the backoff path.
func NewTemplateNotFoundError(templateKey string) *StandardError {
	return &StandardError{
		Code:      ErrCodeTemplateNotFound,
		Message:   "No active template for key",
		Details:   fmt.Sprintf("templateKey: %s", templateKey),
		Retryable: true,
		Timestamp: time.Now().UTC(),
	}
}

// NewTemplateKeyConflictError creates a non-retryable conflict error for
// template creation with an existing key.
func NewTemplateKeyConflictError(templateKey string) *StandardError {
	return &StandardError{
		Code:      ErrCodeTemplateKeyConflict,
		Message:   "Template key already exists",
		Details:   fmt.Sprintf("templateKey: %s", templateKey),
		Retryable: false,
		Timestamp: time.Now().UTC(),
	}
}

// NewTemplateValidationFailedError creates a non-retryable validation error
// listing the required variables missing from the payload.
func NewTemplateValidationFailedError(missing []string) *StandardError {
	return &StandardError{
		Code:      ErrCodeTemplateValidationFailed,
		Message:   "Payload is missing required template variables",
		Details:   fmt.Sprintf("missing: %s", strings.Join(missing, ", ")),
		Retryable: false,
		Metadata:  map[string]interface{}{"missing": missing},
		Timestamp: time.Now().UTC(),
	}
}

// NewOutboxNotFoundError creates a non-retryable lookup error.
func NewOutboxNotFoundError(outboxID string) *StandardError {
	return &StandardError{
		Code:      ErrCodeOutboxNotFound,
		Message:   "Outbox entry not found",
		Details:   fmt.Sprintf("outboxId: %s", outboxID),
		Retryable: false,
		Timestamp: time.Now().UTC(),
	}
}

// NewInvalidStateError creates a non-retryable state machine error, e.g.
// retry requested on an entry that is not FAILED or CANCELLED.
func NewInvalidStateError(outboxID, status string) *StandardError {
	return &StandardError{
		Code:      ErrCodeInvalidState,
		Message:   "Operation not allowed in current entry state",
		Details:   fmt.Sprintf("outboxId: %s, status: %s", outboxID, status),
		Retryable: false,
		Timestamp: time.Now().UTC(),
	}
}

// NewTransportSendFailedError creates a retryable delivery error.
func NewTransportSendFailedError(err error) *StandardError {
	return &StandardError{
		Code:      ErrCodeTransportSendFailed,
		Message:   "Transport delivery attempt failed",
		Details:   err.Error(),
		Retryable: true,
		Timestamp: time.Now().UTC(),
	}
}

// NewTransportNotConfiguredError creates a retryable configuration error.
// Treated identically to a transport failure so an unconfigured provider
// fails cleanly through the backoff path instead of crashing the process.
func NewTransportNotConfiguredError() *StandardError {
	return &StandardError{
		Code:      ErrCodeTransportNotConfigured,
		Message:   "Outbound transport is not configured",
		Retryable: true,
		Timestamp: time.Now().UTC(),
	}
}

// NewDatabaseConnectionFailedError creates a retryable database connection error.
func NewDatabaseConnectionFailedError(err error) *StandardError {
	return &StandardError{
		Code:      ErrCodeDatabaseConnectionFailed,
		Message:   "Database connection error",
		Details:   err.Error(),
		Retryable: true,
		Timestamp: time.Now().UTC(),
	}
}

// NewQueryExecutionFailedError creates a retryable query execution error.
func NewQueryExecutionFailedError(operation string, err error) *StandardError {
	return &StandardError{
		Code:      ErrCodeQueryExecutionFailed,
		Message:   "Database query execution error",
		Details:   fmt.Sprintf("operation: %s, error: %s", operation, err.Error()),
		Retryable: true,
		Timestamp: time.Now().UTC(),
	}
}
