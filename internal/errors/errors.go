package errors

import (
	"encoding/json"
	"fmt"
	"net/http"
	"time"
)

// GatewayError is the single error shape returned to clients. Every failure
// the gateway produces itself (as opposed to relayed upstream bodies) uses
// this structure so callers can parse failures uniformly.
type GatewayError struct {
	ErrorName       string   `json:"error"`
	Message         string   `json:"message"`
	StatusCode      int      `json:"statusCode"`
	Timestamp       string   `json:"timestamp"`
	Service         string   `json:"service,omitempty"`
	RequestID       string   `json:"requestId,omitempty"`
	AvailableRoutes []string `json:"availableRoutes,omitempty"`
	underlying      error
}

func (e *GatewayError) Error() string {
	if e.underlying != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.underlying)
	}
	return e.Message
}

func (e *GatewayError) Unwrap() error {
	return e.underlying
}

// WriteJSON writes the error as JSON to the response. The timestamp is
// stamped at write time; the receiver is never mutated so the shared
// singletons below stay safe for concurrent use.
func (e *GatewayError) WriteJSON(w http.ResponseWriter) {
	out := *e
	out.Timestamp = time.Now().UTC().Format(time.RFC3339)
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(out.StatusCode)
	json.NewEncoder(w).Encode(&out)
}

// Denial and failure singletons. Messages are deliberately generic so a
// response does not reveal more about the check that failed than callers
// operationally need.
var (
	ErrMissingToken = &GatewayError{
		StatusCode: http.StatusUnauthorized,
		ErrorName:  "Unauthorized",
		Message:    "Access token is required",
	}

	ErrInvalidToken = &GatewayError{
		StatusCode: http.StatusForbidden,
		ErrorName:  "Forbidden",
		Message:    "Invalid or expired token",
	}

	ErrStaffRequired = &GatewayError{
		StatusCode: http.StatusForbidden,
		ErrorName:  "Forbidden",
		Message:    "Staff access required",
	}

	ErrAdminRequired = &GatewayError{
		StatusCode: http.StatusForbidden,
		ErrorName:  "Forbidden",
		Message:    "Admin staff access required",
	}

	ErrRouteNotFound = &GatewayError{
		StatusCode: http.StatusNotFound,
		ErrorName:  "Not Found",
		Message:    "The requested route does not exist",
	}

	ErrUpstreamUnavailable = &GatewayError{
		StatusCode: http.StatusServiceUnavailable,
		ErrorName:  "Service Unavailable",
		Message:    "Upstream service is currently unavailable",
	}

	ErrTooManyRequests = &GatewayError{
		StatusCode: http.StatusTooManyRequests,
		ErrorName:  "Too Many Requests",
		Message:    "Rate limit exceeded, please try again later",
	}

	ErrInternal = &GatewayError{
		StatusCode: http.StatusInternalServerError,
		ErrorName:  "Internal Server Error",
		Message:    "An unexpected error occurred",
	}
)

// New creates a new GatewayError
func New(statusCode int, name, message string) *GatewayError {
	return &GatewayError{
		StatusCode: statusCode,
		ErrorName:  name,
		Message:    message,
	}
}

// Wrap wraps an error with a client-facing GatewayError
func Wrap(err error, statusCode int, name, message string) *GatewayError {
	return &GatewayError{
		StatusCode: statusCode,
		ErrorName:  name,
		Message:    message,
		underlying: err,
	}
}

// WithMessage returns a copy with a different message
func (e *GatewayError) WithMessage(message string) *GatewayError {
	out := *e
	out.Message = message
	return &out
}

// WithService returns a copy naming the upstream service involved
func (e *GatewayError) WithService(service string) *GatewayError {
	out := *e
	out.Service = service
	return &out
}

// WithRequestID returns a copy carrying the request id
func (e *GatewayError) WithRequestID(requestID string) *GatewayError {
	out := *e
	out.RequestID = requestID
	return &out
}

// WithRoutes returns a copy listing the configured route prefixes
func (e *GatewayError) WithRoutes(routes []string) *GatewayError {
	out := *e
	out.AvailableRoutes = routes
	return &out
}

// WithCause returns a copy wrapping an underlying error. The cause is kept
// for logging and never serialized to clients.
func (e *GatewayError) WithCause(err error) *GatewayError {
	out := *e
	out.underlying = err
	return &out
}

// AsGatewayError checks if an error is a GatewayError
func AsGatewayError(err error) (*GatewayError, bool) {
	if ge, ok := err.(*GatewayError); ok {
		return ge, true
	}
	return nil, false
}
