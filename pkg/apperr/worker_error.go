package apperr

import (
	"errors"
	"fmt"
	"net/http"
	"time"
)

// Error codes
const (
	// Auth errors
	CodeUnauthorized = "UNAUTHORIZED"
	CodeForbidden    = "FORBIDDEN"

	// Validation errors
	CodeBadRequest   = "BAD_REQUEST"
	CodeInvalidInput = "INVALID_INPUT"

	// Resource errors
	CodeNotFound = "NOT_FOUND"
	CodeConflict = "CONFLICT"

	// Remote collaborator errors
	CodeTransientRemote = "TRANSIENT_REMOTE"
	CodePermanentRemote = "PERMANENT_REMOTE"
	CodeRemoteRejected  = "REMOTE_REJECTED"
	CodeRateLimited     = "RATE_LIMITED"

	// Classification errors
	CodeClassifierUnavailable = "CLASSIFIER_UNAVAILABLE"

	// Execution errors
	CodeInvalidTransition = "INVALID_TRANSITION"
	CodeAlreadySucceeded  = "ALREADY_SUCCEEDED"

	// Internal errors
	CodeInternalError = "INTERNAL_ERROR"
	CodeDatabaseError = "DATABASE_ERROR"
	CodeConfigError   = "CONFIGURATION_ERROR"
	CodeTimeout       = "TIMEOUT"
)

// AppError represents a structured application error
type AppError struct {
	Code    string         `json:"code"`
	Message string         `json:"message"`
	Status  int            `json:"-"`
	Details map[string]any `json:"details,omitempty"`
	Err     error          `json:"-"`
}

func (e *AppError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("[%s] %s: %v", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

func (e *AppError) Unwrap() error {
	return e.Err
}

func (e *AppError) WithDetail(key string, value any) *AppError {
	if e.Details == nil {
		e.Details = make(map[string]any)
	}
	e.Details[key] = value
	return e
}

func (e *AppError) WithError(err error) *AppError {
	e.Err = err
	return e
}

// HTTPStatus returns the HTTP status code
func (e *AppError) HTTPStatus() int {
	if e.Status == 0 {
		return http.StatusInternalServerError
	}
	return e.Status
}

// Constructor functions
func New(code, message string, status int) *AppError {
	return &AppError{
		Code:    code,
		Message: message,
		Status:  status,
	}
}

func Wrap(err error, code, message string, status int) *AppError {
	return &AppError{
		Code:    code,
		Message: message,
		Status:  status,
		Err:     err,
	}
}

// Validation errors
func BadRequest(message string) *AppError {
	return &AppError{
		Code:    CodeBadRequest,
		Message: message,
		Status:  http.StatusBadRequest,
	}
}

func InvalidInput(field, reason string) *AppError {
	return &AppError{
		Code:    CodeInvalidInput,
		Message: fmt.Sprintf("invalid input for '%s': %s", field, reason),
		Status:  http.StatusBadRequest,
		Details: map[string]any{"field": field},
	}
}

// Resource errors
func NotFound(resource string) *AppError {
	return &AppError{
		Code:    CodeNotFound,
		Message: fmt.Sprintf("%s not found", resource),
		Status:  http.StatusNotFound,
	}
}

func Conflict(message string) *AppError {
	return &AppError{
		Code:    CodeConflict,
		Message: message,
		Status:  http.StatusConflict,
	}
}

// =============================================================================
// Remote collaborator taxonomy
// =============================================================================

// TransientRemote marks a network or server-side failure that may succeed on retry.
func TransientRemote(service string, err error) *AppError {
	return &AppError{
		Code:    CodeTransientRemote,
		Message: fmt.Sprintf("transient error from %s", service),
		Status:  http.StatusBadGateway,
		Details: map[string]any{"service": service},
		Err:     err,
	}
}

// PermanentRemote marks an item the remote side reports as not found or already gone.
func PermanentRemote(service, itemID string, err error) *AppError {
	return &AppError{
		Code:    CodePermanentRemote,
		Message: fmt.Sprintf("%s: item %s is gone", service, itemID),
		Status:  http.StatusGone,
		Details: map[string]any{"service": service, "item_id": itemID},
		Err:     err,
	}
}

// RemoteRejected marks a request the remote side refused (auth, permission, bad request).
func RemoteRejected(service string, status int, err error) *AppError {
	return &AppError{
		Code:    CodeRemoteRejected,
		Message: fmt.Sprintf("%s rejected the request", service),
		Status:  status,
		Details: map[string]any{"service": service},
		Err:     err,
	}
}

// RateLimited is transient; retryAfter of zero means the remote gave no hint.
func RateLimited(service string, retryAfter time.Duration, err error) *AppError {
	return &AppError{
		Code:    CodeRateLimited,
		Message: fmt.Sprintf("rate limited by %s", service),
		Status:  http.StatusTooManyRequests,
		Details: map[string]any{"service": service, "retry_after": retryAfter},
		Err:     err,
	}
}

func ClassifierUnavailable(classifier string, err error) *AppError {
	return &AppError{
		Code:    CodeClassifierUnavailable,
		Message: fmt.Sprintf("classifier unavailable: %s", classifier),
		Status:  http.StatusServiceUnavailable,
		Details: map[string]any{"classifier": classifier},
		Err:     err,
	}
}

// =============================================================================
// Internal errors
// =============================================================================

func Internal(message string) *AppError {
	if message == "" {
		message = "internal server error"
	}
	return &AppError{
		Code:    CodeInternalError,
		Message: message,
		Status:  http.StatusInternalServerError,
	}
}

func InternalWithError(err error) *AppError {
	return &AppError{
		Code:    CodeInternalError,
		Message: "internal server error",
		Status:  http.StatusInternalServerError,
		Err:     err,
	}
}

func DatabaseError(operation string, err error) *AppError {
	return &AppError{
		Code:    CodeDatabaseError,
		Message: fmt.Sprintf("database error: %s", operation),
		Status:  http.StatusInternalServerError,
		Err:     err,
	}
}

// ConfigError is fatal: a run never starts with an invalid configuration.
func ConfigError(message string) *AppError {
	return &AppError{
		Code:    CodeConfigError,
		Message: message,
		Status:  http.StatusInternalServerError,
	}
}

func ConfigErrorf(format string, args ...any) *AppError {
	return ConfigError(fmt.Sprintf(format, args...))
}

func InvalidTransition(from, to string) *AppError {
	return &AppError{
		Code:    CodeInvalidTransition,
		Message: fmt.Sprintf("invalid action transition %s -> %s", from, to),
		Status:  http.StatusConflict,
		Details: map[string]any{"from": from, "to": to},
	}
}

func AlreadySucceeded(itemKey string) *AppError {
	return &AppError{
		Code:    CodeAlreadySucceeded,
		Message: fmt.Sprintf("item %s already deleted", itemKey),
		Status:  http.StatusConflict,
		Details: map[string]any{"item": itemKey},
	}
}

func Timeout(operation string) *AppError {
	return &AppError{
		Code:    CodeTimeout,
		Message: fmt.Sprintf("operation timed out: %s", operation),
		Status:  http.StatusGatewayTimeout,
	}
}

// Helper functions
func IsAppError(err error) bool {
	var appErr *AppError
	return errors.As(err, &appErr)
}

// HasCode reports whether any AppError in err's chain carries code.
func HasCode(err error, code string) bool {
	var appErr *AppError
	for err != nil {
		if !errors.As(err, &appErr) {
			return false
		}
		if appErr.Code == code {
			return true
		}
		err = appErr.Err
	}
	return false
}

func IsTransient(err error) bool {
	return HasCode(err, CodeTransientRemote) || HasCode(err, CodeRateLimited) || HasCode(err, CodeTimeout)
}

func IsPermanentRemote(err error) bool { return HasCode(err, CodePermanentRemote) }
func IsRejected(err error) bool        { return HasCode(err, CodeRemoteRejected) }
func IsConfiguration(err error) bool   { return HasCode(err, CodeConfigError) }
func IsAlreadySucceeded(err error) bool {
	return HasCode(err, CodeAlreadySucceeded)
}

func IsClassifierUnavailable(err error) bool {
	return HasCode(err, CodeClassifierUnavailable)
}

// RetryAfter returns the remote's retry hint for rate-limit errors.
func RetryAfter(err error) (time.Duration, bool) {
	var appErr *AppError
	for err != nil {
		if !errors.As(err, &appErr) {
			return 0, false
		}
		if appErr.Code == CodeRateLimited {
			d, ok := appErr.Details["retry_after"].(time.Duration)
			return d, ok && d > 0
		}
		err = appErr.Err
	}
	return 0, false
}

