// Package errors provides the error envelope used by the HTTP API and the
// wrappers the CLI uses to attach a code to a failure.
package errors

import (
	"context"
	"encoding/json"
	stderrors "errors"
	"fmt"
	"net/http"
)

// Error codes used in HTTP error envelopes.
const (
	CodeNotFound           = "NOT_FOUND"
	CodeMethodNotAllowed   = "METHOD_NOT_ALLOWED"
	CodeBadRequest         = "BAD_REQUEST"
	CodeServiceUnavailable = "SERVICE_UNAVAILABLE"
	CodeExternalService    = "EXTERNAL_SERVICE_ERROR"
	CodeInternal           = "INTERNAL_ERROR"
)

// RequestIDHeader carries the request id between client and server.
const RequestIDHeader = "X-Request-ID"

type requestIDKey struct{}

// WithRequestID stores a request id on ctx.
func WithRequestID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, requestIDKey{}, id)
}

// RequestIDFromContext returns the request id stored on ctx, if any.
func RequestIDFromContext(ctx context.Context) string {
	id, _ := ctx.Value(requestIDKey{}).(string)
	return id
}

// Error is a failure with an API code and HTTP status.
type Error struct {
	Code    string
	Status  int
	Message string
	Details map[string]any
	Err     error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *Error) Unwrap() error { return e.Err }

// WithDetails returns a copy of e carrying details.
func (e *Error) WithDetails(details map[string]any) *Error {
	cp := *e
	cp.Details = details
	return &cp
}

// NewNotFound reports a missing resource.
func NewNotFound(message string) *Error {
	return &Error{Code: CodeNotFound, Status: http.StatusNotFound, Message: message}
}

// NewMethodNotAllowed reports an unsupported method on a known route.
func NewMethodNotAllowed(message string) *Error {
	return &Error{Code: CodeMethodNotAllowed, Status: http.StatusMethodNotAllowed, Message: message}
}

// NewBadRequest reports an invalid request.
func NewBadRequest(message string) *Error {
	return &Error{Code: CodeBadRequest, Status: http.StatusBadRequest, Message: message}
}

// NewServiceUnavailable reports a failed dependency or probe.
func NewServiceUnavailable(message string) *Error {
	return &Error{Code: CodeServiceUnavailable, Status: http.StatusServiceUnavailable, Message: message}
}

// NewExternalServiceError reports a failure of something simstat depends on
// but does not control, such as an object store.
func NewExternalServiceError(message string) *Error {
	return &Error{Code: CodeExternalService, Status: http.StatusBadGateway, Message: message}
}

// WrapInternal wraps err as an internal error. The request id on ctx, if
// any, is recorded in the details.
func WrapInternal(ctx context.Context, err error, message string) *Error {
	e := &Error{Code: CodeInternal, Status: http.StatusInternalServerError, Message: message, Err: err}
	if id := RequestIDFromContext(ctx); id != "" {
		e.Details = map[string]any{"request_id": id}
	}
	return e
}

// HTTPError is the body of an error envelope.
type HTTPError struct {
	Code      string         `json:"code"`
	Message   string         `json:"message"`
	RequestID string         `json:"request_id,omitempty"`
	Details   map[string]any `json:"details,omitempty"`
}

// HTTPErrorResponse is the JSON envelope for every API error.
type HTTPErrorResponse struct {
	Error HTTPError `json:"error"`
}

// RespondWithError writes err as a JSON envelope. Errors that are not *Error
// are reported as internal errors without exposing their text.
func RespondWithError(w http.ResponseWriter, r *http.Request, err error) {
	var apiErr *Error
	if !stderrors.As(err, &apiErr) {
		apiErr = &Error{Code: CodeInternal, Status: http.StatusInternalServerError, Message: "internal server error", Err: err}
	}

	status := apiErr.Status
	if status == 0 {
		status = http.StatusInternalServerError
	}

	body := HTTPErrorResponse{Error: HTTPError{
		Code:    apiErr.Code,
		Message: apiErr.Message,
		Details: apiErr.Details,
	}}
	if r != nil {
		body.Error.RequestID = RequestIDFromContext(r.Context())
	}

	WriteJSON(w, status, body)
}

// WriteJSON writes v with the given status.
func WriteJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
