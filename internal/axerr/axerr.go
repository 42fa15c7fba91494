// Package axerr defines the daemon's tagged error kinds. Callers use
// errors.As against *axerr.Error rather than string-matching a message,
// mirroring the teacher's internal/mcp StructuredError pattern adapted to
// the daemon's own error taxonomy.
package axerr

import (
	"errors"
	"fmt"

	"github.com/axbridge/axd/internal/model"
)

// Kind is one of the tagged error categories from the error-handling design.
type Kind string

const (
	PermissionDenied    Kind = "permission_denied"
	AppNotFound         Kind = "app_not_found"
	RefUnknown          Kind = "ref_unknown"
	TransportUnavailable Kind = "transport_unavailable"
	TransportFailed     Kind = "transport_failed"
	Timeout             Kind = "timeout"
	InvalidRequest      Kind = "invalid_request"
	MethodNotAllowed    Kind = "method_not_allowed"
	AppBlocked          Kind = "app_blocked"
	AuthFailed          Kind = "auth_failed"
	RateLimited         Kind = "rate_limited"
	Internal            Kind = "internal"
)

// jsonrpcCodes maps each kind to an application-range JSON-RPC code in
// -32000..-32099, per the numeric-range convention.
var jsonrpcCodes = map[Kind]int{
	PermissionDenied:     -32000,
	AppNotFound:          -32001,
	RefUnknown:           -32002,
	TransportUnavailable: -32003,
	TransportFailed:      -32004,
	Timeout:              -32005,
	InvalidRequest:       -32006,
	MethodNotAllowed:     -32007,
	AppBlocked:           -32008,
	AuthFailed:           -32009,
	RateLimited:          -32010,
	Internal:             -32011,
}

// Error is the daemon's structured error type. It wraps an optional cause so
// errors.Is/errors.As compose the idiomatic way rather than via message text.
type Error struct {
	Kind    Kind
	Message string
	Cause   error
}

func New(kind Kind, message string) *Error {
	return &Error{Kind: kind, Message: message}
}

func Wrap(kind Kind, message string, cause error) *Error {
	return &Error{Kind: kind, Message: message, Cause: cause}
}

func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *Error) Unwrap() error { return e.Cause }

// Is allows errors.Is(err, axerr.New(kind, "")) to match by kind alone.
func (e *Error) Is(target error) bool {
	var t *Error
	if errors.As(target, &t) {
		return e.Kind == t.Kind
	}
	return false
}

// JSONRPC converts the error into a model.RPCError using the numeric-range
// convention: -32600..-32603 for the protocol-level cases, -32000..-32099
// for the tagged application kinds.
func (e *Error) JSONRPC() *model.RPCError {
	switch e.Kind {
	case InvalidRequest:
		return &model.RPCError{Code: model.CodeInvalidRequest, Message: e.Error()}
	}
	code, ok := jsonrpcCodes[e.Kind]
	if !ok {
		code = jsonrpcCodes[Internal]
	}
	return &model.RPCError{Code: code, Message: e.Error()}
}

// Of returns the *Error wrapped in err, if any.
func Of(err error) (*Error, bool) {
	var e *Error
	if errors.As(err, &e) {
		return e, true
	}
	return nil, false
}
