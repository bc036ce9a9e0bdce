package protocol

import (
	"context"
	"errors"
	"fmt"
	"net/http"
)

// Anthropic error type strings surfaced in Messages API error envelopes.
const (
	ErrorTypeInvalidRequest = "invalid_request_error"
	ErrorTypeAPI            = "api_error"
	ErrorTypeAuthentication = "authentication_error"
	ErrorTypeNotFound       = "not_found_error"
	ErrorTypeOverloaded     = "overloaded_error"
)

// Client input error codes carried in the envelope's code field.
const (
	CodeToolSchema         = "tool_schema"
	CodeDanglingToolResult = "dangling_tool_result"
)

// Request outcome labels recorded in logs and metrics.
const (
	OutcomeOK            = "ok"
	OutcomeClientError   = "client_error"
	OutcomeUpstreamError = "upstream_error"
	OutcomeCancelled     = "cancelled"
	OutcomeTimeout       = "timeout"
	OutcomeInternalError = "internal_error"
)

// ErrorKind classifies a request failure for HTTP surfacing and accounting.
type ErrorKind int

const (
	// KindInternal covers violated invariants inside the proxy itself.
	// It is the zero value so an unclassified error degrades to a 500.
	KindInternal ErrorKind = iota
	// KindClientInput covers malformed requests, schema violations and
	// dangling tool results.
	KindClientInput
	// KindUpstreamUnavailable covers connection, DNS and TLS failures
	// before the backend produced a response.
	KindUpstreamUnavailable
	// KindUpstreamProtocol covers malformed chunks and truncated streams
	// from a backend that did respond.
	KindUpstreamProtocol
	// KindTimeout marks requests terminated by the watchdog.
	KindTimeout
	// KindCancelled marks requests abandoned by the client.
	KindCancelled
)

// Error is a classified proxy failure. It decides the HTTP status, the
// Anthropic error type and the outcome label recorded for the request.
type Error struct {
	Kind    ErrorKind
	Code    string
	Message string
	Cause   error
}

func (e *Error) Error() string {
	msg := e.Message
	if msg == "" && e.Cause != nil {
		msg = e.Cause.Error()
	}
	if e.Code != "" {
		return e.Code + ": " + msg
	}
	return msg
}

func (e *Error) Unwrap() error { return e.Cause }

// AnthropicType returns the error type string for the Messages API envelope.
func (e *Error) AnthropicType() string {
	switch e.Kind {
	case KindClientInput:
		return ErrorTypeInvalidRequest
	default:
		return ErrorTypeAPI
	}
}

// StatusCode returns the HTTP status used when headers have not been sent.
func (e *Error) StatusCode() int {
	switch e.Kind {
	case KindClientInput:
		return http.StatusBadRequest
	case KindUpstreamUnavailable, KindUpstreamProtocol:
		return http.StatusBadGateway
	case KindTimeout:
		return http.StatusGatewayTimeout
	case KindCancelled:
		// Client is gone; nginx convention for logging purposes.
		return 499
	default:
		return http.StatusInternalServerError
	}
}

// Outcome returns the label recorded in request logs and requests_total.
func (e *Error) Outcome() string {
	switch e.Kind {
	case KindClientInput:
		return OutcomeClientError
	case KindUpstreamUnavailable, KindUpstreamProtocol:
		return OutcomeUpstreamError
	case KindTimeout:
		return OutcomeTimeout
	case KindCancelled:
		return OutcomeCancelled
	default:
		return OutcomeInternalError
	}
}

// NewClientInputError builds a 400-class error. code may be empty or one of
// the Code* constants.
func NewClientInputError(code, format string, args ...interface{}) *Error {
	return &Error{
		Kind:    KindClientInput,
		Code:    code,
		Message: fmt.Sprintf(format, args...),
	}
}

// NewUpstreamUnavailableError wraps a failure to reach the backend.
func NewUpstreamUnavailableError(err error) *Error {
	return &Error{
		Kind:    KindUpstreamUnavailable,
		Message: "upstream request failed",
		Cause:   err,
	}
}

// NewUpstreamProtocolError wraps a malformed or truncated backend response.
func NewUpstreamProtocolError(message string, err error) *Error {
	return &Error{
		Kind:    KindUpstreamProtocol,
		Message: message,
		Cause:   err,
	}
}

// NewTimeoutError marks a request terminated by the watchdog.
func NewTimeoutError(message string) *Error {
	return &Error{Kind: KindTimeout, Message: message}
}

// NewCancelledError marks a request abandoned by the client.
func NewCancelledError() *Error {
	return &Error{Kind: KindCancelled, Message: "request cancelled by client"}
}

// NewInternalError wraps a violated invariant inside the proxy.
func NewInternalError(err error) *Error {
	return &Error{Kind: KindInternal, Message: "internal error", Cause: err}
}

// Classify maps an arbitrary error to its *Error form. Context sentinels
// become Cancelled/Timeout; anything unclassified becomes KindInternal.
func Classify(err error) *Error {
	var pe *Error
	if errors.As(err, &pe) {
		return pe
	}
	if errors.Is(err, context.Canceled) {
		return NewCancelledError()
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return NewTimeoutError("request deadline exceeded")
	}
	return NewInternalError(err)
}

// ClassifyUpstream is Classify for errors returned by the backend call
// path: unclassified errors become KindUpstreamUnavailable instead.
func ClassifyUpstream(err error) *Error {
	var pe *Error
	if errors.As(err, &pe) {
		return pe
	}
	if errors.Is(err, context.Canceled) {
		return NewCancelledError()
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return NewTimeoutError("upstream deadline exceeded")
	}
	return NewUpstreamUnavailableError(err)
}

// ErrorResponse is the Anthropic-shaped error body.
type ErrorResponse struct {
	Type  string      `json:"type"`
	Error ErrorDetail `json:"error"`
}

// ErrorDetail carries the error type and human-readable message.
type ErrorDetail struct {
	Type    string `json:"type"`
	Message string `json:"message"`
	Code    string `json:"code,omitempty"`
}

// NewErrorResponse renders any error as an HTTP status plus envelope.
func NewErrorResponse(err error) (int, ErrorResponse) {
	pe := Classify(err)
	msg := pe.Message
	if msg == "" && pe.Cause != nil {
		msg = pe.Cause.Error()
	}
	return pe.StatusCode(), ErrorResponse{
		Type: "error",
		Error: ErrorDetail{
			Type:    pe.AnthropicType(),
			Message: msg,
			Code:    pe.Code,
		},
	}
}
