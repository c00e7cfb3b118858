package unified

import (
	"errors"
	"fmt"
	"net/http"
	"time"
)

// ErrorClass is the gateway error taxonomy.
type ErrorClass string

const (
	ErrInvalidRequest      ErrorClass = "invalid_request"
	ErrUnknownModel        ErrorClass = "unknown_model"
	ErrConfig              ErrorClass = "config_error"
	ErrNoEligibleProvider  ErrorClass = "no_eligible_provider"
	ErrAllProvidersFailed  ErrorClass = "all_providers_failed"
	ErrUpstreamTransient   ErrorClass = "upstream_transient"
	ErrUpstreamRateLimited ErrorClass = "upstream_rate_limited"
	ErrUpstreamAuth        ErrorClass = "upstream_auth"
	ErrUpstreamInvalid     ErrorClass = "upstream_invalid"
	ErrCancelled           ErrorClass = "cancelled"
	ErrInternal            ErrorClass = "internal_error"
)

// GatewayError carries a classified failure through the pipeline.
type GatewayError struct {
	Class   ErrorClass
	Message string
	Status  int // HTTP status surfaced to the client

	// RetryAfter is the upstream-requested backoff for rate limits; zero
	// when the upstream did not say.
	RetryAfter time.Duration

	Cause error
}

func (e *GatewayError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Class, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Class, e.Message)
}

func (e *GatewayError) Unwrap() error { return e.Cause }

// Retryable reports whether the dispatcher may try the next candidate.
func (e *GatewayError) Retryable() bool {
	switch e.Class {
	case ErrUpstreamTransient, ErrUpstreamRateLimited:
		return true
	default:
		return false
	}
}

// NewError builds a GatewayError with the class's default HTTP status.
func NewError(class ErrorClass, format string, args ...interface{}) *GatewayError {
	return &GatewayError{
		Class:   class,
		Message: fmt.Sprintf(format, args...),
		Status:  statusFor(class),
	}
}

// WrapError builds a GatewayError around a cause.
func WrapError(class ErrorClass, cause error, format string, args ...interface{}) *GatewayError {
	return &GatewayError{
		Class:   class,
		Message: fmt.Sprintf(format, args...),
		Status:  statusFor(class),
		Cause:   cause,
	}
}

func statusFor(class ErrorClass) int {
	switch class {
	case ErrInvalidRequest, ErrUpstreamInvalid:
		return http.StatusBadRequest
	case ErrUnknownModel:
		return http.StatusNotFound
	case ErrUpstreamAuth:
		return http.StatusBadGateway
	case ErrNoEligibleProvider, ErrAllProvidersFailed:
		return http.StatusServiceUnavailable
	case ErrUpstreamRateLimited:
		return http.StatusTooManyRequests
	case ErrUpstreamTransient:
		return http.StatusBadGateway
	case ErrCancelled:
		return 499 // nginx convention: client closed request
	default:
		return http.StatusInternalServerError
	}
}

// AsGateway extracts a GatewayError, wrapping unknown errors as internal.
func AsGateway(err error) *GatewayError {
	if err == nil {
		return nil
	}
	var ge *GatewayError
	if errors.As(err, &ge) {
		return ge
	}
	return WrapError(ErrInternal, err, "unexpected error")
}
