// Package errors defines the unified error contract for gateway operations.
// Upstream failures, assignment failures and malformed requests are all
// surfaced as *GatewayError so the HTTP boundary can render them uniformly.
package errors

import (
	stderrors "errors"
	"fmt"
	"net/http"
)

// GatewayError represents a failure that is surfaced to the inbound caller.
type GatewayError struct {
	StatusCode int    `json:"status_code"`
	Message    string `json:"message"`
	Type       string `json:"type"`
	Upstream   string `json:"upstream,omitempty"`
	Variant    string `json:"variant,omitempty"`
	Retryable  bool   `json:"-"`
}

// Error implements the error interface.
func (e *GatewayError) Error() string {
	return fmt.Sprintf("[%s] %s (upstream=%s, variant=%s, code=%d)",
		e.Type, e.Message, e.Upstream, e.Variant, e.StatusCode)
}

// HTTPStatusCode returns the status code the inbound caller should receive.
func (e *GatewayError) HTTPStatusCode() int {
	if e.StatusCode > 0 {
		return e.StatusCode
	}
	return http.StatusInternalServerError
}

// Error types as constants for consistency.
const (
	TypeAuthentication        = "authentication_error"
	TypeRateLimit             = "rate_limit_error"
	TypeInvalidRequest        = "invalid_request_error"
	TypeNotFound              = "not_found_error"
	TypeTimeout               = "timeout_error"
	TypeServiceUnavailable    = "service_unavailable_error"
	TypeInternalError         = "internal_error"
	TypeUpstream              = "upstream_error"
	TypeUpstreamConnection    = "upstream_connection_error"
	TypeInvalidUpstreamResp   = "invalid_upstream_response"
	TypeAssignmentUnavailable = "assignment_unavailable"
)

// DefaultRetryStatuses are the upstream status codes treated as transient.
var DefaultRetryStatuses = []int{
	http.StatusTooManyRequests,     // 429
	http.StatusInternalServerError, // 500
	http.StatusBadGateway,          // 502
	http.StatusServiceUnavailable,  // 503
	http.StatusGatewayTimeout,      // 504
}

// IsRetryableStatus reports whether statusCode is in DefaultRetryStatuses.
func IsRetryableStatus(statusCode int) bool {
	for _, code := range DefaultRetryStatuses {
		if code == statusCode {
			return true
		}
	}
	return false
}

// As extracts a *GatewayError from err's chain.
func As(err error) (*GatewayError, bool) {
	var gwErr *GatewayError
	if stderrors.As(err, &gwErr) {
		return gwErr, true
	}
	return nil, false
}

// NewInvalidRequestError creates an invalid request error (400).
func NewInvalidRequestError(message string) *GatewayError {
	return &GatewayError{
		StatusCode: http.StatusBadRequest,
		Message:    message,
		Type:       TypeInvalidRequest,
	}
}

// NewUpstreamError translates a non-200 upstream response. The upstream status
// code is kept verbatim so the caller sees what the model API returned.
func NewUpstreamError(upstream, variant string, statusCode int, message string) *GatewayError {
	return &GatewayError{
		StatusCode: statusCode,
		Message:    message,
		Type:       typeForStatus(statusCode),
		Upstream:   upstream,
		Variant:    variant,
		Retryable:  IsRetryableStatus(statusCode),
	}
}

// NewConnectionError creates a bad gateway error (502) for transport failures.
func NewConnectionError(upstream, variant, message string) *GatewayError {
	return &GatewayError{
		StatusCode: http.StatusBadGateway,
		Message:    message,
		Type:       TypeUpstreamConnection,
		Upstream:   upstream,
		Variant:    variant,
		Retryable:  true,
	}
}

// NewInvalidResponseError creates a bad gateway error (502) for upstream
// responses that cannot be decoded into an answer.
func NewInvalidResponseError(upstream, variant, message string) *GatewayError {
	return &GatewayError{
		StatusCode: http.StatusBadGateway,
		Message:    message,
		Type:       TypeInvalidUpstreamResp,
		Upstream:   upstream,
		Variant:    variant,
	}
}

// NewTimeoutError creates a gateway timeout error (504).
func NewTimeoutError(upstream, variant, message string) *GatewayError {
	return &GatewayError{
		StatusCode: http.StatusGatewayTimeout,
		Message:    message,
		Type:       TypeTimeout,
		Upstream:   upstream,
		Variant:    variant,
		Retryable:  true,
	}
}

// NewServiceUnavailableError creates a service unavailable error (503).
func NewServiceUnavailableError(upstream, variant, message string) *GatewayError {
	return &GatewayError{
		StatusCode: http.StatusServiceUnavailable,
		Message:    message,
		Type:       TypeServiceUnavailable,
		Upstream:   upstream,
		Variant:    variant,
		Retryable:  true,
	}
}

// NewAssignmentUnavailableError creates the 503 returned when no experiment
// variant could be assigned to the request.
func NewAssignmentUnavailableError(message string) *GatewayError {
	return &GatewayError{
		StatusCode: http.StatusServiceUnavailable,
		Message:    message,
		Type:       TypeAssignmentUnavailable,
	}
}

// NewInternalError creates an internal server error (500).
func NewInternalError(message string) *GatewayError {
	return &GatewayError{
		StatusCode: http.StatusInternalServerError,
		Message:    message,
		Type:       TypeInternalError,
	}
}

func typeForStatus(statusCode int) string {
	switch {
	case statusCode == http.StatusUnauthorized || statusCode == http.StatusForbidden:
		return TypeAuthentication
	case statusCode == http.StatusNotFound:
		return TypeNotFound
	case statusCode == http.StatusTooManyRequests:
		return TypeRateLimit
	case statusCode == http.StatusRequestTimeout || statusCode == http.StatusGatewayTimeout:
		return TypeTimeout
	case statusCode == http.StatusServiceUnavailable:
		return TypeServiceUnavailable
	case statusCode >= 400 && statusCode < 500:
		return TypeInvalidRequest
	default:
		return TypeUpstream
	}
}
