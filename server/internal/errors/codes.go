package errors

import (
	"errors"
	"fmt"
	"net/http"

	"github.com/hrygo/chorus/plugin/ai/agent"
)

// ErrorCode represents a specific error type returned by the API.
type ErrorCode string

const (
	// ErrCodeUnauthorized indicates authentication failure.
	ErrCodeUnauthorized ErrorCode = "UNAUTHORIZED"
	// ErrCodePermissionDenied indicates the user may not access the resource.
	ErrCodePermissionDenied ErrorCode = "PERMISSION_DENIED"
	// ErrCodeNotFound indicates the resource does not exist.
	ErrCodeNotFound ErrorCode = "NOT_FOUND"
	// ErrCodeRateLimitExceeded indicates rate limit has been exceeded.
	ErrCodeRateLimitExceeded ErrorCode = "RATE_LIMIT_EXCEEDED"
	// ErrCodeInvalidArgument indicates invalid input parameters.
	ErrCodeInvalidArgument ErrorCode = "INVALID_ARGUMENT"
	// ErrCodeServiceUnavailable indicates the service is not available.
	ErrCodeServiceUnavailable ErrorCode = "SERVICE_UNAVAILABLE"
	// ErrCodeAgentExecutionFailed indicates agent execution failure.
	ErrCodeAgentExecutionFailed ErrorCode = "AGENT_EXECUTION_FAILED"
	// ErrCodeAgentNotFound indicates the requested agent does not exist.
	ErrCodeAgentNotFound ErrorCode = "AGENT_NOT_FOUND"
	// ErrCodeLLMUnavailable indicates the LLM service is not available.
	ErrCodeLLMUnavailable ErrorCode = "LLM_UNAVAILABLE"
	// ErrCodeInternal indicates an unexpected server failure.
	ErrCodeInternal ErrorCode = "INTERNAL"
)

var httpStatus = map[ErrorCode]int{
	ErrCodeUnauthorized:         http.StatusUnauthorized,
	ErrCodePermissionDenied:     http.StatusForbidden,
	ErrCodeNotFound:             http.StatusNotFound,
	ErrCodeRateLimitExceeded:    http.StatusTooManyRequests,
	ErrCodeInvalidArgument:      http.StatusBadRequest,
	ErrCodeServiceUnavailable:   http.StatusServiceUnavailable,
	ErrCodeAgentExecutionFailed: http.StatusBadGateway,
	ErrCodeAgentNotFound:        http.StatusNotFound,
	ErrCodeLLMUnavailable:       http.StatusServiceUnavailable,
	ErrCodeInternal:             http.StatusInternalServerError,
}

// AIError represents a structured API error.
type AIError struct {
	Code    ErrorCode
	Message string
	Cause   error

	// Retryable is set when sending the message again may succeed.
	Retryable bool
}

// Error implements the error interface.
func (e *AIError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("[%s] %s: %v", e.Code, e.Message, e.Cause)
	}
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

// Unwrap returns the underlying cause.
func (e *AIError) Unwrap() error {
	return e.Cause
}

// HTTPStatus returns the status code the error is served with.
func (e *AIError) HTTPStatus() int {
	if status, ok := httpStatus[e.Code]; ok {
		return status
	}
	return http.StatusInternalServerError
}

// Unauthorized creates an unauthorized error.
func Unauthorized(msg string) *AIError {
	return &AIError{Code: ErrCodeUnauthorized, Message: msg}
}

// PermissionDenied creates a permission denied error.
func PermissionDenied(msg string) *AIError {
	return &AIError{Code: ErrCodePermissionDenied, Message: msg}
}

// NotFound creates a not found error.
func NotFound(msg string) *AIError {
	return &AIError{Code: ErrCodeNotFound, Message: msg}
}

// RateLimitExceeded creates a rate limit exceeded error.
func RateLimitExceeded(msg string) *AIError {
	return &AIError{Code: ErrCodeRateLimitExceeded, Message: msg}
}

// InvalidArgument creates an invalid argument error.
func InvalidArgument(msg string) *AIError {
	return &AIError{Code: ErrCodeInvalidArgument, Message: msg}
}

// AgentNotFound creates an agent not found error.
func AgentNotFound(agent string) *AIError {
	return &AIError{
		Code:    ErrCodeAgentNotFound,
		Message: fmt.Sprintf("agent not found: %s", agent),
	}
}

// Internal wraps an unexpected failure.
func Internal(msg string, cause error) *AIError {
	return &AIError{Code: ErrCodeInternal, Message: msg, Cause: cause}
}

// FromTurnError classifies the failure of an agent turn.
func FromTurnError(err error) *AIError {
	aiErr := turnError(err)
	aiErr.Retryable = agent.IsTransientError(err)
	return aiErr
}

func turnError(err error) *AIError {
	switch {
	case errors.Is(err, agent.ErrUnknownPersona):
		return &AIError{Code: ErrCodeAgentNotFound, Message: "agent not found", Cause: err}
	case errors.Is(err, agent.ErrGenerationUnavailable):
		return &AIError{Code: ErrCodeLLMUnavailable, Message: "generation service unavailable", Cause: err}
	case errors.Is(err, agent.ErrPersistFailed):
		return &AIError{Code: ErrCodeServiceUnavailable, Message: "reply could not be saved", Cause: err}
	default:
		return &AIError{Code: ErrCodeAgentExecutionFailed, Message: "agent turn failed", Cause: err}
	}
}

// IsCode checks if an error is of a specific code.
func IsCode(err error, code ErrorCode) bool {
	var aiErr *AIError
	if errors.As(err, &aiErr) {
		return aiErr.Code == code
	}
	return false
}

// GetCodeFromError extracts the error code from any error.
// Returns the provided default code if the error is not an AIError.
func GetCodeFromError(err error, defaultCode ErrorCode) ErrorCode {
	var aiErr *AIError
	if errors.As(err, &aiErr) {
		return aiErr.Code
	}
	return defaultCode
}
