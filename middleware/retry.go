package middleware

import (
	"context"

	"github.com/otero-labs/tiercache/retryqueue"
	"github.com/otero-labs/tiercache/transport"
)

// Retry wraps only Publish: on failure it either hands the payload to a
// retryqueue.Queue for later redelivery, or rethrows if no queue is
// configured. Subscribe/Unsubscribe pass straight through, since a failed
// inbound delivery has no retry semantics of its own.
type Retry struct {
	inner transport.Transport
	queue *retryqueue.Queue
}

// NewRetry wraps inner with retry-via-queue semantics. queue should have
// been built with a publish function that calls inner.Publish directly
// (see retryqueue.New), so retried deliveries do not re-enter this
// decorator. A nil queue makes Retry a transparent passthrough that
// rethrows every publish failure.
func NewRetry(inner transport.Transport, queue *retryqueue.Queue) *Retry {
	return &Retry{inner: inner, queue: queue}
}

func (r *Retry) Name() string { return "retry(" + r.inner.Name() + ")" }

// Connect starts the retry queue's scheduler goroutine alongside the inner
// transport's connection. Retry owns the queue's lifecycle: callers never
// call queue.Start/Stop themselves.
func (r *Retry) Connect(ctx context.Context) error {
	if err := r.inner.Connect(ctx); err != nil {
		return err
	}
	if r.queue != nil {
		r.queue.Start(ctx)
	}
	return nil
}

// Disconnect stops the retry queue's scheduler goroutine before
// disconnecting the inner transport, so no retry tick can fire against a
// disconnected transport.
func (r *Retry) Disconnect(ctx context.Context) error {
	if r.queue != nil {
		r.queue.Stop()
	}
	return r.inner.Disconnect(ctx)
}

func (r *Retry) OnReconnect(cb func()) { r.inner.OnReconnect(cb) }

func (r *Retry) Publish(ctx context.Context, channel string, data []byte) error {
	err := r.inner.Publish(ctx, channel, data)
	if err == nil {
		return nil
	}
	if r.queue == nil {
		return err
	}
	return r.queue.Enqueue(channel, data, err)
}

func (r *Retry) Subscribe(ctx context.Context, channel string, handler transport.Handler) error {
	return r.inner.Subscribe(ctx, channel, handler)
}

func (r *Retry) Unsubscribe(ctx context.Context, channel string) error {
	return r.inner.Unsubscribe(ctx, channel)
}
