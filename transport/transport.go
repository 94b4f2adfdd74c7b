// Package transport defines the abstract pub/sub wire boundary and its
// error taxonomy. Concrete transports live in transport/memory (in-process,
// used by tests and single-process deployments) and transport/redis
// (github.com/redis/go-redis/v9-backed, for multi-process backplanes).
package transport

import (
	"context"
	"fmt"
)

// Code classifies a transport failure.
type Code string

const (
	CodeConnectionFailed Code = "CONNECTION_FAILED"
	CodeNotReady         Code = "NOT_READY"
	CodePublishFailed    Code = "PUBLISH_FAILED"
	CodeSubscribeFailed  Code = "SUBSCRIBE_FAILED"
	CodeUnsubscribeFailed Code = "UNSUBSCRIBE_FAILED"
	CodeTransportError   Code = "TRANSPORT_ERROR"
)

// Error is the error type every Transport implementation must return for
// failures, carrying a machine-readable Code and a Retryable hint so
// middleware (retry/DLQ) and callers can make policy decisions without
// string-matching error text.
type Error struct {
	Code      Code
	Retryable bool
	Err       error
}

func (e *Error) Error() string {
	return fmt.Sprintf("transport: %s: %v", e.Code, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// NewError builds a transport Error.
func NewError(code Code, retryable bool, err error) *Error {
	return &Error{Code: code, Retryable: retryable, Err: err}
}

// Handler receives one raw message payload on a channel: delivery at the
// Transport boundary is byte-oriented. The Bus decodes these bytes before
// calling its own user-facing handlers.
type Handler func(ctx context.Context, data []byte)

// Transport is the abstract pub/sub wire. Implementations must be safe for
// concurrent use; publish calls for a given channel are not reordered by
// the transport.
type Transport interface {
	Name() string
	Connect(ctx context.Context) error
	Disconnect(ctx context.Context) error
	Publish(ctx context.Context, channel string, data []byte) error
	Subscribe(ctx context.Context, channel string, handler Handler) error
	Unsubscribe(ctx context.Context, channel string) error
	// OnReconnect registers cb to be invoked after the transport
	// re-establishes a dropped connection. Implementations that never
	// disconnect transparently (e.g. the in-memory transport) may treat
	// this as a no-op.
	OnReconnect(cb func())
}
