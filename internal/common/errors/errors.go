// Package errors provides the standardized error taxonomy shared by
// the lifecycle engine, the store, and the adapters.
package errors

import (
	"errors"
	"fmt"
	"net/http"
	"time"
)

// ErrorCode represents standardized internal error codes.
type ErrorCode string

const (
	ErrCodeValidationFailed   ErrorCode = "VALIDATION_FAILED"
	ErrCodeInvalidTransition  ErrorCode = "INVALID_TRANSITION"
	ErrCodeForbiddenAction    ErrorCode = "FORBIDDEN_ACTION"
	ErrCodeStaleVersion       ErrorCode = "STALE_VERSION"
	ErrCodeSubmissionNotFound ErrorCode = "SUBMISSION_NOT_FOUND"
	ErrCodeCooldownActive     ErrorCode = "COOLDOWN_ACTIVE"

	ErrCodeStoreUnavailable       ErrorCode = "STORE_UNAVAILABLE"
	ErrCodeQueryExecutionFailed   ErrorCode = "QUERY_EXECUTION_FAILED"
	ErrCodeNotificationSendFailed ErrorCode = "NOTIFICATION_SEND_FAILED"
	ErrCodePublicationFailed      ErrorCode = "PUBLICATION_FAILED"
	ErrCodeSearchIndexFailed      ErrorCode = "SEARCH_INDEX_FAILED"
	ErrCodeAuthenticationFailed   ErrorCode = "AUTHENTICATION_FAILED"
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

// Is lets errors.Is match two StandardErrors by code.
func (e *StandardError) Is(target error) bool {
	var se *StandardError
	if errors.As(target, &se) {
		return se.Code == e.Code
	}
	return false
}

// CodeOf extracts the ErrorCode from err, or "" when err is not a
// StandardError.
func CodeOf(err error) ErrorCode {
	var se *StandardError
	if errors.As(err, &se) {
		return se.Code
	}
	return ""
}

// IsCode reports whether err is a StandardError carrying code.
func IsCode(err error, code ErrorCode) bool {
	return CodeOf(err) == code
}

// ==========================
// Constructors
// ==========================

// NewValidationError marks malformed or incomplete input. Never retried.
func NewValidationError(details string) *StandardError {
	return &StandardError{
		Code:      ErrCodeValidationFailed,
		Message:   "Submission payload validation failed",
		Details:   details,
		Retryable: false,
		Timestamp: time.Now().UTC(),
	}
}

// NewInvalidTransitionError names the current and the requested status.
func NewInvalidTransitionError(current, requested string) *StandardError {
	return &StandardError{
		Code:      ErrCodeInvalidTransition,
		Message:   "Action is not legal for the current status",
		Details:   fmt.Sprintf("current: %s, requested: %s", current, requested),
		Retryable: false,
		Timestamp: time.Now().UTC(),
	}
}

// NewForbiddenActionError marks an action issued through the wrong
// role path. Logged by callers as a potential misuse signal.
func NewForbiddenActionError(action, role string) *StandardError {
	return &StandardError{
		Code:      ErrCodeForbiddenAction,
		Message:   "Action is not permitted for the calling role",
		Details:   fmt.Sprintf("action: %s, role: %s", action, role),
		Retryable: false,
		Timestamp: time.Now().UTC(),
	}
}

// NewStaleVersionError marks a lost optimistic-concurrency race. The
// caller must re-read current state; never re-apply stale data.
func NewStaleVersionError(submissionID string, expectedVersion int64) *StandardError {
	return &StandardError{
		Code:      ErrCodeStaleVersion,
		Message:   "Submission was modified by another actor",
		Details:   fmt.Sprintf("submissionId: %s, expectedVersion: %d", submissionID, expectedVersion),
		Retryable: false,
		Metadata:  map[string]interface{}{"submissionId": submissionID},
		Timestamp: time.Now().UTC(),
	}
}

// NewSubmissionNotFoundError creates a non-retryable lookup error.
func NewSubmissionNotFoundError(submissionID string) *StandardError {
	return &StandardError{
		Code:      ErrCodeSubmissionNotFound,
		Message:   "Submission not found",
		Details:   fmt.Sprintf("submissionId: %s", submissionID),
		Retryable: false,
		Timestamp: time.Now().UTC(),
	}
}

// NewCooldownActiveError tells an applicant to wait before submitting
// again.
func NewCooldownActiveError(remaining time.Duration) *StandardError {
	return &StandardError{
		Code:      ErrCodeCooldownActive,
		Message:   "Submission cooldown is still active",
		Details:   fmt.Sprintf("remaining: %s", remaining.Round(time.Second)),
		Retryable: false,
		Timestamp: time.Now().UTC(),
	}
}

// NewStoreUnavailableError creates a retryable store connectivity error.
func NewStoreUnavailableError(err error) *StandardError {
	return &StandardError{
		Code:      ErrCodeStoreUnavailable,
		Message:   "Store is temporarily unavailable",
		Details:   err.Error(),
		Retryable: true,
		Timestamp: time.Now().UTC(),
	}
}

// NewQueryExecutionFailedError creates a retryable query error.
func NewQueryExecutionFailedError(op string, err error) *StandardError {
	return &StandardError{
		Code:      ErrCodeQueryExecutionFailed,
		Message:   "Store query execution failed",
		Details:   fmt.Sprintf("op: %s, error: %s", op, err.Error()),
		Retryable: true,
		Timestamp: time.Now().UTC(),
	}
}

// NewNotificationSendFailedError creates a retryable delivery error.
func NewNotificationSendFailedError(channel string, err error) *StandardError {
	return &StandardError{
		Code:      ErrCodeNotificationSendFailed,
		Message:   "Notification delivery failed",
		Details:   fmt.Sprintf("channel: %s, error: %s", channel, err.Error()),
		Retryable: true,
		Timestamp: time.Now().UTC(),
	}
}

// NewPublicationFailedError creates a retryable channel posting error.
func NewPublicationFailedError(err error) *StandardError {
	return &StandardError{
		Code:      ErrCodePublicationFailed,
		Message:   "Channel publication failed",
		Details:   err.Error(),
		Retryable: true,
		Timestamp: time.Now().UTC(),
	}
}

// NewSearchIndexFailedError creates a retryable search index error.
func NewSearchIndexFailedError(op string, err error) *StandardError {
	return &StandardError{
		Code:      ErrCodeSearchIndexFailed,
		Message:   "Search index operation failed",
		Details:   fmt.Sprintf("op: %s, error: %s", op, err.Error()),
		Retryable: true,
		Timestamp: time.Now().UTC(),
	}
}

// NewAuthenticationError creates a non-retryable auth error.
func NewAuthenticationError(details string) *StandardError {
	return &StandardError{
		Code:      ErrCodeAuthenticationFailed,
		Message:   "Authentication failed",
		Details:   details,
		Retryable: false,
		Timestamp: time.Now().UTC(),
	}
}

// ==========================
// Classification
// ==========================

// GetRetryCount returns the bounded retry budget for an error code.
func GetRetryCount(code ErrorCode) int {
	switch code {
	case ErrCodeStoreUnavailable,
		ErrCodeQueryExecutionFailed,
		ErrCodeNotificationSendFailed,
		ErrCodeSearchIndexFailed:
		return 3

	case ErrCodePublicationFailed:
		return 2

	default:
		// Lifecycle errors are facts about state, not transient faults.
		return 0
	}
}

// IsRetryableErrorCode checks if an error code is retryable.
func IsRetryableErrorCode(code ErrorCode) bool {
	return GetRetryCount(code) > 0
}

// HTTPStatus maps an error code to the status the web layer answers with.
func HTTPStatus(code ErrorCode) int {
	switch code {
	case ErrCodeValidationFailed:
		return http.StatusBadRequest
	case ErrCodeAuthenticationFailed:
		return http.StatusUnauthorized
	case ErrCodeForbiddenAction:
		return http.StatusForbidden
	case ErrCodeSubmissionNotFound:
		return http.StatusNotFound
	case ErrCodeInvalidTransition, ErrCodeStaleVersion:
		return http.StatusConflict
	case ErrCodeCooldownActive:
		return http.StatusTooManyRequests
	case ErrCodeStoreUnavailable:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}
