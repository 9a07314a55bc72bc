package errors

import (
	"errors"
	"fmt"
	"strings"
)

// ErrorType represents different categories of errors
type ErrorType string

const (
	ErrorTypeValidation ErrorType = "validation"
	ErrorTypeIO         ErrorType = "io"
	ErrorTypePermission ErrorType = "permission"
	ErrorTypeNetwork    ErrorType = "network"
	ErrorTypeTimeout    ErrorType = "timeout"
	ErrorTypeCancelled  ErrorType = "cancelled"
	ErrorTypeInternal   ErrorType = "internal"

	// Application host lifecycle failures
	ErrorTypeLaunch           ErrorType = "launch"
	ErrorTypeBuildFailed      ErrorType = "build_failed"
	ErrorTypeProcessFailed    ErrorType = "process_failed"
	ErrorTypeEarlyExit        ErrorType = "early_exit"
	ErrorTypeReadinessTimeout ErrorType = "readiness_timeout"
	ErrorTypeMalformedURL     ErrorType = "malformed_url"
)

// DomainError represents a structured error with type and context.
// Output and ErrorOutput hold whatever the child process wrote so far,
// so a failed test setup can be diagnosed without re-running it.
type DomainError struct {
	Type        ErrorType
	Message     string
	Cause       error
	Context     map[string]interface{}
	Output      string
	ErrorOutput string
}

func (e *DomainError) Error() string {
	var sb strings.Builder
	sb.WriteString(string(e.Type))
	sb.WriteString(": ")
	sb.WriteString(e.Message)
	if e.Cause != nil {
		sb.WriteString(": ")
		sb.WriteString(e.Cause.Error())
	}
	if e.Output != "" || e.ErrorOutput != "" {
		fmt.Fprintf(&sb, "\nOutput: %s\nError: %s", e.Output, e.ErrorOutput)
	}
	return sb.String()
}

func (e *DomainError) Unwrap() error {
	return e.Cause
}

// Is checks if the error is of a specific type
func (e *DomainError) Is(target error) bool {
	if other, ok := target.(*DomainError); ok {
		return e.Type == other.Type
	}
	return false
}

// WithContext adds context information to the error
func (e *DomainError) WithContext(key string, value interface{}) *DomainError {
	if e.Context == nil {
		e.Context = make(map[string]interface{})
	}
	e.Context[key] = value
	return e
}

// WithOutput attaches captured stdout and stderr text of a child process
func (e *DomainError) WithOutput(output, errorOutput string) *DomainError {
	e.Output = output
	e.ErrorOutput = errorOutput
	return e
}

// NewDomainError creates a new domain error
func NewDomainError(errorType ErrorType, message string, cause error) *DomainError {
	return &DomainError{
		Type:    errorType,
		Message: message,
		Cause:   cause,
		Context: make(map[string]interface{}),
	}
}

func NewValidationError(message string, cause error) *DomainError {
	return NewDomainError(ErrorTypeValidation, message, cause)
}

func NewIOError(message string, cause error) *DomainError {
	return NewDomainError(ErrorTypeIO, message, cause)
}

func NewPermissionError(message string, cause error) *DomainError {
	return NewDomainError(ErrorTypePermission, message, cause)
}

func NewNetworkError(message string, cause error) *DomainError {
	return NewDomainError(ErrorTypeNetwork, message, cause)
}

func NewTimeoutError(message string, cause error) *DomainError {
	return NewDomainError(ErrorTypeTimeout, message, cause)
}

func NewCancelledError(message string, cause error) *DomainError {
	return NewDomainError(ErrorTypeCancelled, message, cause)
}

func NewInternalError(message string, cause error) *DomainError {
	return NewDomainError(ErrorTypeInternal, message, cause)
}

// Lifecycle errors
func NewLaunchError(message string, cause error) *DomainError {
	return NewDomainError(ErrorTypeLaunch, message, cause)
}

func NewBuildFailedError(message string, cause error) *DomainError {
	return NewDomainError(ErrorTypeBuildFailed, message, cause)
}

func NewProcessFailedError(message string, cause error) *DomainError {
	return NewDomainError(ErrorTypeProcessFailed, message, cause)
}

func NewEarlyExitError(message string, cause error) *DomainError {
	return NewDomainError(ErrorTypeEarlyExit, message, cause)
}

func NewReadinessTimeoutError(message string, cause error) *DomainError {
	return NewDomainError(ErrorTypeReadinessTimeout, message, cause)
}

func NewMalformedURLError(message string, cause error) *DomainError {
	return NewDomainError(ErrorTypeMalformedURL, message, cause)
}

// TypeOf returns the type of the outermost DomainError in the chain, or "" if none
func TypeOf(err error) ErrorType {
	var domainErr *DomainError
	if errors.As(err, &domainErr) {
		return domainErr.Type
	}
	return ""
}

func isType(err error, errorType ErrorType) bool {
	var domainErr *DomainError
	return errors.As(err, &domainErr) && domainErr.Type == errorType
}

// Error checking helpers
func IsValidationError(err error) bool { return isType(err, ErrorTypeValidation) }
func IsIOError(err error) bool         { return isType(err, ErrorTypeIO) }
func IsPermissionError(err error) bool { return isType(err, ErrorTypePermission) }
func IsNetworkError(err error) bool    { return isType(err, ErrorTypeNetwork) }
func IsTimeoutError(err error) bool    { return isType(err, ErrorTypeTimeout) }
func IsCancelledError(err error) bool  { return isType(err, ErrorTypeCancelled) }
func IsInternalError(err error) bool   { return isType(err, ErrorTypeInternal) }

func IsLaunchError(err error) bool           { return isType(err, ErrorTypeLaunch) }
func IsBuildFailedError(err error) bool      { return isType(err, ErrorTypeBuildFailed) }
func IsProcessFailedError(err error) bool    { return isType(err, ErrorTypeProcessFailed) }
func IsEarlyExitError(err error) bool        { return isType(err, ErrorTypeEarlyExit) }
func IsReadinessTimeoutError(err error) bool { return isType(err, ErrorTypeReadinessTimeout) }
func IsMalformedURLError(err error) bool     { return isType(err, ErrorTypeMalformedURL) }

// ErrorCollection aggregates errors from teardown steps that must all run
type ErrorCollection struct {
	Errors []error
}

func (e *ErrorCollection) Error() string {
	if len(e.Errors) == 0 {
		return "no errors"
	}
	if len(e.Errors) == 1 {
		return e.Errors[0].Error()
	}
	return fmt.Sprintf("%d errors occurred: %v", len(e.Errors), e.Errors[0])
}

func (e *ErrorCollection) Add(err error) {
	if err != nil {
		e.Errors = append(e.Errors, err)
	}
}

func (e *ErrorCollection) HasErrors() bool {
	return len(e.Errors) > 0
}

func (e *ErrorCollection) ToError() error {
	if !e.HasErrors() {
		return nil
	}
	return e
}

// NewErrorCollection creates a new error collection
func NewErrorCollection() *ErrorCollection {
	return &ErrorCollection{
		Errors: make([]error, 0),
	}
}
