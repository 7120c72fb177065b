package errors

import (
	"errors"
	"fmt"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestIsCode_MatchesThroughWrapping(t *testing.T) {
	err := NewStaleVersionError("sub-1", 5)
	wrapped := fmt.Errorf("applying transition: %w", err)

	assert.True(t, IsCode(wrapped, ErrCodeStaleVersion))
	assert.False(t, IsCode(wrapped, ErrCodeValidationFailed))
	assert.True(t, errors.Is(wrapped, &StandardError{Code: ErrCodeStaleVersion}))
}

func TestCodeOf_NonStandardError(t *testing.T) {
	assert.Equal(t, ErrorCode(""), CodeOf(errors.New("plain")))
	assert.Equal(t, ErrorCode(""), CodeOf(nil))
}

func TestLifecycleErrorsAreNotRetryable(t *testing.T) {
	for _, code := range []ErrorCode{
		ErrCodeValidationFailed,
		ErrCodeInvalidTransition,
		ErrCodeForbiddenAction,
		ErrCodeStaleVersion,
		ErrCodeSubmissionNotFound,
		ErrCodeCooldownActive,
	} {
		assert.Equal(t, 0, GetRetryCount(code), "%s must not be retried", code)
		assert.False(t, IsRetryableErrorCode(code))
	}
}

func TestInfrastructureErrorsHaveRetryBudget(t *testing.T) {
	assert.Equal(t, 3, GetRetryCount(ErrCodeStoreUnavailable))
	assert.Equal(t, 3, GetRetryCount(ErrCodeQueryExecutionFailed))
	assert.Equal(t, 2, GetRetryCount(ErrCodePublicationFailed))
}

func TestHTTPStatusMapping(t *testing.T) {
	tests := map[ErrorCode]int{
		ErrCodeValidationFailed:       http.StatusBadRequest,
		ErrCodeAuthenticationFailed:   http.StatusUnauthorized,
		ErrCodeForbiddenAction:        http.StatusForbidden,
		ErrCodeSubmissionNotFound:     http.StatusNotFound,
		ErrCodeInvalidTransition:      http.StatusConflict,
		ErrCodeStaleVersion:           http.StatusConflict,
		ErrCodeCooldownActive:         http.StatusTooManyRequests,
		ErrCodeStoreUnavailable:       http.StatusServiceUnavailable,
		ErrCodeNotificationSendFailed: http.StatusInternalServerError,
	}
	for code, want := range tests {
		assert.Equal(t, want, HTTPStatus(code), "status for %s", code)
	}
}

func TestInvalidTransitionError_NamesBothStatuses(t *testing.T) {
	err := NewInvalidTransitionError("published", "approve")
	assert.Contains(t, err.Details, "published")
	assert.Contains(t, err.Details, "approve")
}
