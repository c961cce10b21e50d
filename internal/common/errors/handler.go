// internal/common/errors/handler.go
package errors

import (
	"encoding/json"
	"net/http"
)

// HTTPStatus maps an error code to the status the admin API responds with.
func HTTPStatus(code ErrorCode) int {
	switch code {
	case ErrCodeTemplateNotFound, ErrCodeOutboxNotFound:
		return http.StatusNotFound
	case ErrCodeTemplateKeyConflict:
		return http.StatusConflict
	case ErrCodeTemplateValidationFailed:
		return http.StatusUnprocessableEntity
	case ErrCodeInvalidState:
		return http.StatusConflict
	case ErrCodeDatabaseConnectionFailed, ErrCodeQueryExecutionFailed:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

// ErrorHandler writes standardized error responses for the admin surface.
type ErrorHandler struct {
	logger Logger
}

type Logger interface {
	Error(msg string, fields map[string]interface{})
}

func NewErrorHandler(logger Logger) *ErrorHandler {
	return &ErrorHandler{logger: logger}
}

// WriteError normalizes err to a StandardError and writes it as JSON.
func (h *ErrorHandler) WriteError(w http.ResponseWriter, r *http.Request, err error) {
	stdErr := h.normalizeError(err)

	h.logger.Error("request failed", map[string]interface{}{
		"method":    r.Method,
		"path":      r.URL.Path,
		"errorCode": string(stdErr.Code),
		"message":   stdErr.Message,
		"details":   stdErr.Details,
		"retryable": stdErr.Retryable,
	})

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(HTTPStatus(stdErr.Code))
	_ = json.NewEncoder(w).Encode(map[string]interface{}{
		"error": stdErr,
	})
}

// normalizeError ensures we always have a StandardError
func (h *ErrorHandler) normalizeError(err error) *StandardError {
	if stdErr, ok := err.(*StandardError); ok {
		return stdErr
	}
	return &StandardError{
		Code:      "INTERNAL_ERROR",
		Message:   "Unexpected error",
		Details:   err.Error(),
		Retryable: false,
	}
}
