// Package bus implements the typed, codec-aware message bus: encode/decode
// over a pluggable transport, telemetry hooks at every boundary, and
// automatic re-subscription across reconnects.
package bus

import (
	"context"
	"sync"
	"time"

	"github.com/otero-labs/tiercache/codec"
	"github.com/otero-labs/tiercache/transport"
)

// Telemetry receives lifecycle events from a Bus. Every method is optional;
// a nil field is simply not called.
type Telemetry struct {
	OnPublish          func(channel string, payloadSize int, codecUsed string, duration time.Duration, err error)
	OnSubscribe        func(channel string, handlerCount int)
	OnHandlerExecution func(channel string, duration time.Duration, err error)
	OnHandlerError     func(channel string, err error)
	OnError            func(operation string, channel string, err error)
}

func (t Telemetry) publish(channel string, size int, codecUsed string, d time.Duration, err error) {
	if t.OnPublish != nil {
		t.OnPublish(channel, size, codecUsed, d, err)
	}
}
func (t Telemetry) subscribe(channel string, n int) {
	if t.OnSubscribe != nil {
		t.OnSubscribe(channel, n)
	}
}
func (t Telemetry) handlerExecution(channel string, d time.Duration, err error) {
	if t.OnHandlerExecution != nil {
		t.OnHandlerExecution(channel, d, err)
	}
}
func (t Telemetry) handlerError(channel string, err error) {
	if t.OnHandlerError != nil {
		t.OnHandlerError(channel, err)
	}
}
func (t Telemetry) onError(op, channel string, err error) {
	if t.OnError != nil {
		t.OnError(op, channel, err)
	}
}

// Handler processes one decoded message. A Handler should not block
// indefinitely: the bus awaits all handlers on a channel before a dispatch
// for that channel completes.
type Handler func(ctx context.Context, payload any)

// subscriptionSet is the ordered handler list for one channel, plus
// whether the underlying transport subscription is active.
type subscriptionSet struct {
	handlers []Handler
	active   bool
}

// Config configures a Bus.
type Config struct {
	Codec       codec.Codec // defaults to codec.JSON{}
	AutoConnect bool
	Telemetry   Telemetry
}

// Bus is codec-aware pub/sub atop a transport.Transport (typically a
// middleware-wrapped one: retry -> integrity -> compression -> base).
type Bus struct {
	transport transport.Transport
	codec     codec.Codec
	autoConn  bool
	telemetry Telemetry

	mu          sync.Mutex
	connected   bool
	connecting  chan struct{} // non-nil while a connect() is in flight
	connectErr  error
	subs        map[string]*subscriptionSet
}

// New creates a Bus over t.
func New(t transport.Transport, cfg Config) *Bus {
	c := cfg.Codec
	if c == nil {
		c = codec.JSON{}
	}
	b := &Bus{
		transport: t,
		codec:     c,
		autoConn:  cfg.AutoConnect,
		telemetry: cfg.Telemetry,
		subs:      make(map[string]*subscriptionSet),
	}
	t.OnReconnect(b.onReconnect)
	return b
}

// Connect establishes the transport connection. Idempotent: concurrent
// Connect calls share the single in-flight attempt.
func (b *Bus) Connect(ctx context.Context) error {
	b.mu.Lock()
	if b.connected {
		b.mu.Unlock()
		return nil
	}
	if ch := b.connecting; ch != nil {
		b.mu.Unlock()
		<-ch
		b.mu.Lock()
		err := b.connectErr
		b.mu.Unlock()
		return err
	}
	ch := make(chan struct{})
	b.connecting = ch
	b.mu.Unlock()

	err := b.transport.Connect(ctx)

	b.mu.Lock()
	b.connected = err == nil
	b.connectErr = err
	b.connecting = nil
	b.mu.Unlock()
	close(ch)
	return err
}

func (b *Bus) ensureConnected(ctx context.Context) error {
	b.mu.Lock()
	connected := b.connected
	b.mu.Unlock()
	if connected || !b.autoConn {
		if !connected {
			return errNotConnected
		}
		return nil
	}
	return b.Connect(ctx)
}

// Publish encodes value and sends it on channel.
func (b *Bus) Publish(ctx context.Context, channel string, value any) error {
	if err := b.ensureConnected(ctx); err != nil {
		return err
	}

	data, err := b.codec.Encode(value)
	if err != nil {
		b.telemetry.onError("encode", channel, err)
		return err
	}

	start := time.Now()
	err = b.transport.Publish(ctx, channel, data)
	b.telemetry.publish(channel, len(data), b.codec.Name(), time.Since(start), err)
	if err != nil {
		b.telemetry.onError("publish", channel, err)
	}
	return err
}

// Subscribe registers handler on channel, establishing the underlying
// transport subscription on the first handler for that channel.
func (b *Bus) Subscribe(ctx context.Context, channel string, handler Handler) error {
	if err := b.ensureConnected(ctx); err != nil {
		return err
	}

	b.mu.Lock()
	set, ok := b.subs[channel]
	if !ok {
		set = &subscriptionSet{}
		b.subs[channel] = set
	}
	set.handlers = append(set.handlers, handler)
	isFirst := !set.active
	if isFirst {
		set.active = true
	}
	handlerCount := len(set.handlers)
	b.mu.Unlock()

	b.telemetry.subscribe(channel, handlerCount)

	if !isFirst {
		return nil
	}

	if err := b.transport.Subscribe(ctx, channel, func(ctx context.Context, data []byte) {
		b.dispatch(ctx, channel, data)
	}); err != nil {
		b.mu.Lock()
		set.active = false
		set.handlers = nil
		b.mu.Unlock()
		b.telemetry.onError("subscribe", channel, err)
		return err
	}
	return nil
}

// dispatch decodes data and invokes every handler registered for channel
// concurrently, with settle semantics: one handler panicking or failing
// does not prevent the others from running.
func (b *Bus) dispatch(ctx context.Context, channel string, data []byte) {
	var payload any
	if err := b.codec.Decode(data, &payload); err != nil {
		b.telemetry.onError("decode", channel, err)
		return
	}

	b.mu.Lock()
	set, ok := b.subs[channel]
	var handlers []Handler
	if ok {
		handlers = append([]Handler(nil), set.handlers...)
	}
	b.mu.Unlock()
	if !ok {
		return
	}

	var wg sync.WaitGroup
	for _, h := range handlers {
		wg.Add(1)
		go func(h Handler) {
			defer wg.Done()
			start := time.Now()
			err := b.runHandler(ctx, h, payload)
			b.telemetry.handlerExecution(channel, time.Since(start), err)
			if err != nil {
				b.telemetry.handlerError(channel, err)
			}
		}(h)
	}
	wg.Wait()
}

func (b *Bus) runHandler(ctx context.Context, h Handler, payload any) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = handlerPanicError{value: r}
		}
	}()
	h(ctx, payload)
	return nil
}

// Unsubscribe removes every handler registered on channel and, if the
// transport subscription was active, unsubscribes the transport. There is
// no way to remove a single handler while keeping the others.
func (b *Bus) Unsubscribe(ctx context.Context, channel string) error {
	b.mu.Lock()
	set, ok := b.subs[channel]
	if !ok {
		b.mu.Unlock()
		return nil
	}
	delete(b.subs, channel)
	b.mu.Unlock()

	if !set.active {
		return nil
	}
	return b.transport.Unsubscribe(ctx, channel)
}

// Disconnect unsubscribes every channel, disconnects the transport, and
// clears subscription state.
func (b *Bus) Disconnect(ctx context.Context) error {
	b.mu.Lock()
	channels := make([]string, 0, len(b.subs))
	for ch := range b.subs {
		channels = append(channels, ch)
	}
	b.mu.Unlock()

	for _, ch := range channels {
		_ = b.Unsubscribe(ctx, ch)
	}

	err := b.transport.Disconnect(ctx)
	b.mu.Lock()
	b.connected = false
	b.subs = make(map[string]*subscriptionSet)
	b.mu.Unlock()
	return err
}

// onReconnect re-subscribes every currently-tracked channel after the
// transport signals it has reconnected. Errors are swallowed per-channel:
// a single channel failing to resubscribe must not block the rest.
func (b *Bus) onReconnect() {
	b.mu.Lock()
	channels := make([]string, 0, len(b.subs))
	for ch := range b.subs {
		channels = append(channels, ch)
	}
	b.mu.Unlock()

	ctx := context.Background()
	for _, ch := range channels {
		channel := ch
		if err := b.transport.Subscribe(ctx, channel, func(ctx context.Context, data []byte) {
			b.dispatch(ctx, channel, data)
		}); err != nil {
			b.telemetry.onError("reconnect-subscribe", channel, err)
		}
	}
}

type errNotConnectedType struct{}

func (errNotConnectedType) Error() string { return "bus: not connected" }

var errNotConnected = errNotConnectedType{}

type handlerPanicError struct{ value any }

func (e handlerPanicError) Error() string {
	if err, ok := e.value.(error); ok {
		return "bus: handler panicked: " + err.Error()
	}
	return "bus: handler panicked"
}
