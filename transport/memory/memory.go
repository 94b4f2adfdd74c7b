// Package memory implements an in-process transport.Transport, used by
// tests and single-process deployments of the bus/cache backplane. A
// shared Broker fans out published payloads to every subscribed Transport
// instance, the same injectable-collaborator pattern used elsewhere in this
// module for storage backends, applied here to pub/sub instead.
package memory

import (
	"context"
	"sync"

	"github.com/otero-labs/tiercache/transport"
)

// Broker is the shared medium multiple Transport instances publish to and
// subscribe from, modeling an in-memory stand-in for a real message broker.
// A single Broker can back several independent Transport "connections" so
// tests can simulate multiple processes sharing one backplane.
type Broker struct {
	mu          sync.RWMutex
	subscribers map[string][]*subscriber
}

type subscriber struct {
	owner   *Transport
	handler transport.Handler
}

// NewBroker creates an empty in-memory broker.
func NewBroker() *Broker {
	return &Broker{subscribers: make(map[string][]*subscriber)}
}

func (b *Broker) publish(ctx context.Context, channel string, data []byte) {
	b.mu.RLock()
	subs := append([]*subscriber(nil), b.subscribers[channel]...)
	b.mu.RUnlock()
	for _, s := range subs {
		s.handler(ctx, data)
	}
}

func (b *Broker) subscribe(channel string, s *subscriber) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.subscribers[channel] = append(b.subscribers[channel], s)
}

func (b *Broker) unsubscribe(channel string, owner *Transport) {
	b.mu.Lock()
	defer b.mu.Unlock()
	subs := b.subscribers[channel]
	out := subs[:0]
	for _, s := range subs {
		if s.owner != owner {
			out = append(out, s)
		}
	}
	if len(out) == 0 {
		delete(b.subscribers, channel)
	} else {
		b.subscribers[channel] = out
	}
}

// Transport is a transport.Transport backed by a shared Broker. Connect and
// Disconnect are no-ops beyond bookkeeping: the in-memory medium has no
// real connection to establish, so reconnection callbacks are never fired.
type Transport struct {
	name   string
	broker *Broker

	mu        sync.Mutex
	connected bool
}

// New creates a Transport named name attached to broker.
func New(name string, broker *Broker) *Transport {
	return &Transport{name: name, broker: broker}
}

func (t *Transport) Name() string { return t.name }

func (t *Transport) Connect(ctx context.Context) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.connected = true
	return nil
}

func (t *Transport) Disconnect(ctx context.Context) error {
	t.mu.Lock()
	t.connected = false
	t.mu.Unlock()
	return nil
}

func (t *Transport) Publish(ctx context.Context, channel string, data []byte) error {
	t.mu.Lock()
	connected := t.connected
	t.mu.Unlock()
	if !connected {
		return transport.NewError(transport.CodeNotReady, true, errNotConnected)
	}
	t.broker.publish(ctx, channel, data)
	return nil
}

func (t *Transport) Subscribe(ctx context.Context, channel string, handler transport.Handler) error {
	t.broker.subscribe(channel, &subscriber{owner: t, handler: handler})
	return nil
}

func (t *Transport) Unsubscribe(ctx context.Context, channel string) error {
	t.broker.unsubscribe(channel, t)
	return nil
}

// OnReconnect is a no-op: the in-memory transport never disconnects on its
// own, so no reconnection ever happens.
func (t *Transport) OnReconnect(cb func()) {}

var errNotConnected = transportNotConnectedError{}

type transportNotConnectedError struct{}

func (transportNotConnectedError) Error() string { return "memory transport: not connected" }
