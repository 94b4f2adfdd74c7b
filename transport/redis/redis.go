// Package redis implements transport.Transport over Redis Pub/Sub via
// github.com/redis/go-redis/v9, generalizing the common pattern of a single
// hardcoded invalidation channel into an arbitrary multi-channel transport.
package redis

import (
	"context"
	"sync"

	goredis "github.com/redis/go-redis/v9"

	"github.com/otero-labs/tiercache/transport"
)

// Transport adapts a redis.UniversalClient to transport.Transport.
// Reconnection is driven by go-redis's own client, which silently
// reconnects individual commands; Pub/Sub specifically needs explicit
// resubscription after the underlying connection to a channel drops. This
// type watches for a tracked PubSub.Channel() closing and then invokes the
// registered OnReconnect callback; it does not resubscribe by itself, the
// callback's owner (the Bus) does.
type Transport struct {
	client goredis.UniversalClient

	mu          sync.Mutex
	connected   bool
	subs        map[string]*goredis.PubSub
	handlers    map[string]transport.Handler
	reconnectCb func()
}

// New wraps an existing go-redis client. The caller owns the client's
// lifecycle beyond Connect/Disconnect (e.g. for shared connection pools).
func New(client goredis.UniversalClient) *Transport {
	return &Transport{
		client:   client,
		subs:     make(map[string]*goredis.PubSub),
		handlers: make(map[string]transport.Handler),
	}
}

func (t *Transport) Name() string { return "redis" }

func (t *Transport) Connect(ctx context.Context) error {
	if err := t.client.Ping(ctx).Err(); err != nil {
		return transport.NewError(transport.CodeConnectionFailed, true, err)
	}
	t.mu.Lock()
	t.connected = true
	t.mu.Unlock()
	return nil
}

func (t *Transport) Disconnect(ctx context.Context) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	for ch, ps := range t.subs {
		_ = ps.Close()
		delete(t.subs, ch)
	}
	t.connected = false
	return nil
}

func (t *Transport) Publish(ctx context.Context, channel string, data []byte) error {
	t.mu.Lock()
	connected := t.connected
	t.mu.Unlock()
	if !connected {
		return transport.NewError(transport.CodeNotReady, true, errNotConnected)
	}
	if err := t.client.Publish(ctx, channel, data).Err(); err != nil {
		return transport.NewError(transport.CodePublishFailed, true, err)
	}
	return nil
}

func (t *Transport) Subscribe(ctx context.Context, channel string, handler transport.Handler) error {
	ps := t.client.Subscribe(ctx, channel)
	if _, err := ps.Receive(ctx); err != nil {
		_ = ps.Close()
		return transport.NewError(transport.CodeSubscribeFailed, true, err)
	}

	t.mu.Lock()
	t.subs[channel] = ps
	t.handlers[channel] = handler
	t.mu.Unlock()

	go t.pump(channel, ps, handler)
	return nil
}

// pump drains ps until it is closed (explicit Unsubscribe, or the
// connection dropping). On an unexpected close it fires the reconnect
// callback so the Bus can re-register every channel it was tracking.
func (t *Transport) pump(channel string, ps *goredis.PubSub, handler transport.Handler) {
	ch := ps.Channel()
	for msg := range ch {
		handler(context.Background(), []byte(msg.Payload))
	}

	t.mu.Lock()
	stillTracked := t.subs[channel] == ps
	t.mu.Unlock()
	if !stillTracked {
		return // explicit Unsubscribe already removed this pump
	}

	t.mu.Lock()
	cb := t.reconnectCb
	t.mu.Unlock()
	if cb != nil {
		cb()
	}
}

func (t *Transport) Unsubscribe(ctx context.Context, channel string) error {
	t.mu.Lock()
	ps, ok := t.subs[channel]
	delete(t.subs, channel)
	delete(t.handlers, channel)
	t.mu.Unlock()
	if !ok {
		return nil
	}
	if err := ps.Close(); err != nil {
		return transport.NewError(transport.CodeUnsubscribeFailed, false, err)
	}
	return nil
}

func (t *Transport) OnReconnect(cb func()) {
	t.mu.Lock()
	t.reconnectCb = cb
	t.mu.Unlock()
}

var errNotConnected = notConnectedError{}

type notConnectedError struct{}

func (notConnectedError) Error() string { return "redis transport: not connected" }
