package errors

import (
	"fmt"
	"net/http"
)

// AppError represents an application error with an HTTP status code and a
// stable kind, so the transport boundary can map it without inspecting text.
type AppError struct {
	Kind    string `json:"kind"`
	Code    int    `json:"code"`
	Message string `json:"message"`
	Details string `json:"details,omitempty"`
}

func (e *AppError) Error() string {
	if e.Details != "" {
		return fmt.Sprintf("%s: %s", e.Message, e.Details)
	}
	return e.Message
}

// NewAppError creates a new application error of the given kind.
func NewAppError(kind string, code int, message string, details ...string) *AppError {
	err := &AppError{
		Kind:    kind,
		Code:    code,
		Message: message,
	}
	if len(details) > 0 {
		err.Details = details[0]
	}
	return err
}

// WithDetails returns a copy of the sentinel carrying extra detail text,
// leaving the shared sentinel value untouched.
func (e *AppError) WithDetails(details string) *AppError {
	cp := *e
	cp.Details = details
	return &cp
}

// Error kinds named by the chat-dispatch error taxonomy.
const (
	KindValidation          = "ValidationError"
	KindNotAuthenticated     = "NotAuthenticated"
	KindMessageNotFound      = "MessageNotFound"
	KindCacheOperationFailed = "CacheOperationFailed"
	KindCacheConnection      = "CacheConnectionError"
	KindQueuePublishFailed   = "QueuePublishFailed"
	KindQueueConsumeFailed   = "QueueConsumeFailed"
	KindQueueConnection      = "QueueConnectionError"
	KindDatabase             = "DatabaseError"
	KindInternal             = "InternalError"
)

// Predeclared sentinels for the chat-dispatch pipeline.
var (
	ErrValidation      = NewAppError(KindValidation, http.StatusBadRequest, "invalid request")
	ErrNotAuthenticated = NewAppError(KindNotAuthenticated, http.StatusUnauthorized, "session has no bound user")
	ErrMessageNotFound  = NewAppError(KindMessageNotFound, http.StatusNotFound, "message not found")

	ErrCacheOperationFailed = NewAppError(KindCacheOperationFailed, http.StatusInternalServerError, "cache operation failed")
	ErrCacheConnection      = NewAppError(KindCacheConnection, http.StatusServiceUnavailable, "cache connection unavailable")

	ErrQueuePublishFailed = NewAppError(KindQueuePublishFailed, http.StatusInternalServerError, "queue publish failed")
	ErrQueueConsumeFailed = NewAppError(KindQueueConsumeFailed, http.StatusInternalServerError, "queue consume setup failed")
	ErrQueueConnection    = NewAppError(KindQueueConnection, http.StatusServiceUnavailable, "queue connection unavailable")

	ErrDatabase  = NewAppError(KindDatabase, http.StatusInternalServerError, "database error")
	ErrInternal  = NewAppError(KindInternal, http.StatusInternalServerError, "internal error")
)

// CacheOpFailed builds a CacheOperationFailed error carrying the failing
// operation name and key, per spec: the cache surfaces op+key on failure.
func CacheOpFailed(op, key string, cause error) *AppError {
	return ErrCacheOperationFailed.WithDetails(fmt.Sprintf("op=%s key=%s: %v", op, key, cause))
}

// IsAppError checks if an error is an AppError.
func IsAppError(err error) bool {
	_, ok := err.(*AppError)
	return ok
}

// GetAppError extracts an AppError from err, mapping anything else to a
// generic InternalError at the client boundary (per spec §7).
func GetAppError(err error) *AppError {
	if appErr, ok := err.(*AppError); ok {
		return appErr
	}
	if unwrapped, ok := err.(interface{ Unwrap() error }); ok {
		if appErr, ok := unwrapped.Unwrap().(*AppError); ok {
			return appErr
		}
	}
	return ErrInternal.WithDetails(err.Error())
}

// Is reports whether err is (or wraps) an AppError of the given kind.
func Is(err error, kind string) bool {
	appErr := GetAppError(err)
	return appErr != nil && appErr.Kind == kind
}
