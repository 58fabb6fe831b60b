// Package apperr defines the error kinds surfaced to tools and MCP clients.
package apperr

import (
	"context"
	"errors"
	"fmt"
)

// Kind classifies an error for client-facing payloads.
type Kind string

const (
	KindAuthenticationRequired Kind = "AuthenticationRequired"
	KindNotFound               Kind = "NotFound"
	KindInvalidArgument        Kind = "InvalidArgument"
	KindEmbeddingUnavailable   Kind = "EmbeddingUnavailable"
	KindStorageFailure         Kind = "StorageFailure"
	KindSearchUnavailable      Kind = "SearchUnavailable"
	KindCancelled              Kind = "Cancelled"
	KindInternal               Kind = "Internal"
)

// JSON-RPC error codes reserved by the wire protocol.
const (
	CodeSessionError  = -32000
	CodeAuthRequired  = -32001
	CodeInvalidParams = -32602
	CodeInternalError = -32603
)

// Error is a classified error carrying an optional detail map for the
// client-facing {code, message, data{kind, details}} payload. Stack traces
// never cross this boundary.
type Error struct {
	Kind    Kind
	Message string
	Details map[string]any
	Err     error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *Error) Unwrap() error { return e.Err }

// New creates a classified error.
func New(kind Kind, message string) *Error {
	return &Error{Kind: kind, Message: message}
}

// Newf creates a classified error with a formatted message.
func Newf(kind Kind, format string, args ...any) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...)}
}

// Wrap classifies an underlying error.
func Wrap(kind Kind, message string, err error) *Error {
	return &Error{Kind: kind, Message: message, Err: err}
}

// WithDetails attaches detail key/value pairs.
func (e *Error) WithDetails(details map[string]any) *Error {
	e.Details = details
	return e
}

// KindOf extracts the Kind from an error chain. Context cancellation and
// deadline expiry map to KindCancelled; unclassified errors are KindInternal.
func KindOf(err error) Kind {
	if err == nil {
		return ""
	}
	var ae *Error
	if errors.As(err, &ae) {
		return ae.Kind
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return KindCancelled
	}
	return KindInternal
}

// Code maps an error to its reserved JSON-RPC error code.
func Code(err error) int {
	switch KindOf(err) {
	case KindAuthenticationRequired:
		return CodeAuthRequired
	case KindInvalidArgument:
		return CodeInvalidParams
	case KindCancelled:
		return CodeSessionError
	default:
		return CodeInternalError
	}
}

// Payload builds the client-facing error payload {code, message, data}.
func Payload(err error) map[string]any {
	kind := KindOf(err)
	data := map[string]any{"kind": string(kind)}
	message := "internal error"
	var ae *Error
	if errors.As(err, &ae) {
		message = ae.Message
		if len(ae.Details) > 0 {
			data["details"] = ae.Details
		}
	} else if kind == KindCancelled {
		message = "operation cancelled"
	}
	return map[string]any{
		"code":    Code(err),
		"message": message,
		"data":    data,
	}
}
