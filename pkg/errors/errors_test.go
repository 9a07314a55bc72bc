package errors

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDomainError_Creation(t *testing.T) {
	cause := errors.New("underlying error")

	err := NewLaunchError("cannot start", cause)

	assert.Equal(t, ErrorTypeLaunch, err.Type)
	assert.Equal(t, "cannot start", err.Message)
	assert.Equal(t, cause, err.Cause)
	assert.NotNil(t, err.Context)
}

func TestDomainError_WithContext(t *testing.T) {
	err := NewEarlyExitError("exited", nil)

	err = err.WithContext("app_id", "app-1").WithContext("pid", 12345)

	assert.Equal(t, "app-1", err.Context["app_id"])
	assert.Equal(t, 12345, err.Context["pid"])
}

func TestDomainError_ErrorMessage(t *testing.T) {
	tests := []struct {
		name     string
		error    *DomainError
		expected string
	}{
		{
			name:     "error without cause",
			error:    NewValidationError("test message", nil),
			expected: "validation: test message",
		},
		{
			name:     "error with cause",
			error:    NewBuildFailedError("build failed", errors.New("exit status 1")),
			expected: "build_failed: build failed: exit status 1",
		},
		{
			name:     "error with output",
			error:    NewReadinessTimeoutError("no readiness line", nil).WithOutput("out text", "err text"),
			expected: "readiness_timeout: no readiness line\nOutput: out text\nError: err text",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, tt.error.Error())
		})
	}
}

func TestDomainError_TypeChecking(t *testing.T) {
	tests := []struct {
		name  string
		err   error
		check func(error) bool
	}{
		{"launch", NewLaunchError("x", nil), IsLaunchError},
		{"build_failed", NewBuildFailedError("x", nil), IsBuildFailedError},
		{"process_failed", NewProcessFailedError("x", nil), IsProcessFailedError},
		{"early_exit", NewEarlyExitError("x", nil), IsEarlyExitError},
		{"readiness_timeout", NewReadinessTimeoutError("x", nil), IsReadinessTimeoutError},
		{"malformed_url", NewMalformedURLError("x", nil), IsMalformedURLError},
		{"cancelled", NewCancelledError("x", nil), IsCancelledError},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.True(t, tt.check(tt.err))
			assert.True(t, tt.check(fmt.Errorf("wrapped: %w", tt.err)))
			assert.False(t, tt.check(NewValidationError("other", nil)))
			assert.False(t, tt.check(errors.New("plain")))
		})
	}
}

func TestDomainError_IsMatchesByType(t *testing.T) {
	err := NewEarlyExitError("first", nil)

	assert.True(t, errors.Is(err, NewEarlyExitError("second", nil)))
	assert.False(t, errors.Is(err, NewLaunchError("second", nil)))
}

func TestDomainError_Unwrap(t *testing.T) {
	cause := errors.New("underlying error")
	err := NewProcessFailedError("test error", cause)

	assert.Equal(t, cause, errors.Unwrap(err))
}

func TestTypeOf(t *testing.T) {
	assert.Equal(t, ErrorTypeMalformedURL, TypeOf(fmt.Errorf("ctx: %w", NewMalformedURLError("bad", nil))))
	assert.Equal(t, ErrorType(""), TypeOf(errors.New("plain")))
}

func TestErrorCollection(t *testing.T) {
	collection := NewErrorCollection()
	require.NoError(t, collection.ToError())

	collection.Add(nil)
	assert.False(t, collection.HasErrors())

	collection.Add(errors.New("first"))
	assert.Equal(t, "first", collection.Error())

	collection.Add(errors.New("second"))
	assert.Equal(t, "2 errors occurred: first", collection.ToError().Error())
}
