// Package cache is the public cache API: stale-while-revalidate reads,
// loader retries with exponential backoff, single-flight loader
// coalescing, and hit/miss/set event emission atop a cachestack.Stack.
package cache

import (
	"context"
	"sync"
	"time"

	"github.com/otero-labs/tiercache/cachestack"
	"github.com/otero-labs/tiercache/codec"
	"github.com/otero-labs/tiercache/dedup"
	"github.com/otero-labs/tiercache/entry"
)

// Loader produces a fresh value for a missed or stale key. It should honor
// ctx cancellation. A foreground load gets the caller's ctx; an SWR
// refresh gets a Cache-owned ctx that Disconnect cancels. An SWR timeout
// does not cancel the load: it only stops the foreground wait.
type Loader func(ctx context.Context) (any, error)

// Event is emitted after Get/Set/GetOrSet complete.
type Event struct {
	Kind   string // "hit", "miss", "set"
	Key    string
	Source string
	Graced bool
	// Start is when the operation began; a recorder can pass it to
	// telemetry.Since for a latency observation.
	Start time.Time
}

// SetOptions configures Set and the store side of GetOrSet.
type SetOptions struct {
	StaleTime time.Duration
	GcTime    time.Duration
	Tags      []string
}

// GetOrSetOptions configures GetOrSet's SWR and retry behavior.
type GetOrSetOptions struct {
	SetOptions
	// Fresh skips the cache entirely and always loads.
	Fresh bool
	// Timeout, when non-nil, bounds the foreground wait for a stale hit's
	// background refresh: 0 means return the stale value immediately, a
	// positive duration races the loader against the timer, and a nil
	// Timeout means await the loader unconditionally.
	Timeout *time.Duration
	// Retries is the number of additional loader attempts after the
	// first failure.
	Retries int
	// RetryBaseDelay defaults to 100ms; actual delay is base * 2^n.
	RetryBaseDelay time.Duration
}

// Config holds the defaults a Cache applies when an operation does not
// override them.
type Config struct {
	Codec     codec.Codec // defaults to codec.JSON{}
	StaleTime time.Duration
	GcTime    time.Duration
}

// Cache is the public API layered on one cachestack.Stack. SWR background
// refreshes run on goroutines tracked by bgWG under bgCtx, so Disconnect can
// cancel and wait for them to settle instead of leaving them to load into
// a disconnected stack.
type Cache struct {
	stack *cachestack.Stack
	codec codec.Codec
	cfg   Config
	dedup *dedup.Group[any]
	onEvt func(Event)

	bgWG     sync.WaitGroup
	bgCtx    context.Context
	bgCancel context.CancelFunc
}

// New creates a Cache over stack. onEvent, if non-nil, receives every
// emitted Event.
func New(stack *cachestack.Stack, cfg Config, onEvent func(Event)) *Cache {
	c := cfg.Codec
	if c == nil {
		c = codec.JSON{}
	}
	bgCtx, bgCancel := context.WithCancel(context.Background())
	return &Cache{
		stack:    stack,
		codec:    c,
		cfg:      cfg,
		dedup:    dedup.New[any](),
		onEvt:    onEvent,
		bgCtx:    bgCtx,
		bgCancel: bgCancel,
	}
}

func (c *Cache) emit(e Event) {
	if c.onEvt != nil {
		c.onEvt(e)
	}
}

// Namespace returns a Cache sharing this Cache's config and codec over a
// namespaced child Stack.
func (c *Cache) Namespace(prefix string) *Cache {
	return New(c.stack.Namespace(prefix), c.cfg, c.onEvt)
}

// Get reads key, treating a collected entry as a miss.
func (c *Cache) Get(ctx context.Context, key string) (any, bool, error) {
	start := time.Now()
	res, err := c.stack.Get(ctx, key)
	if err != nil {
		return nil, false, err
	}
	if !res.Found {
		c.emit(Event{Kind: "miss", Key: key, Start: start})
		return nil, false, nil
	}

	var value any
	if err := c.codec.Decode(res.Entry.Value, &value); err != nil {
		return nil, false, err
	}
	c.emit(Event{Kind: "hit", Key: key, Source: res.Source, Graced: res.Graced, Start: start})
	return value, true, nil
}

// Set encodes value and writes it via the Stack using opts (falling back
// to Cache defaults for zero fields).
func (c *Cache) Set(ctx context.Context, key string, value any, opts SetOptions) error {
	start := time.Now()
	e, err := c.buildEntry(value, opts)
	if err != nil {
		return err
	}
	if err := c.stack.Set(ctx, key, e); err != nil {
		return err
	}
	c.emit(Event{Kind: "set", Key: key, Start: start})
	return nil
}

func (c *Cache) buildEntry(value any, opts SetOptions) (entry.Entry, error) {
	data, err := c.codec.Encode(value)
	if err != nil {
		return entry.Entry{}, err
	}
	staleTime := opts.StaleTime
	if staleTime == 0 {
		staleTime = c.cfg.StaleTime
	}
	gcTime := opts.GcTime
	if gcTime == 0 {
		gcTime = c.cfg.GcTime
	}
	return entry.New(data, time.Now(), staleTime, gcTime, opts.Tags), nil
}

// GetOrSet reads key, running loader under single-flight coalescing on a
// miss or (per opts.Timeout) a stale hit, storing the loaded value.
func (c *Cache) GetOrSet(ctx context.Context, key string, loader Loader, opts GetOrSetOptions) (any, error) {
	if opts.Fresh {
		return c.loadAndStore(ctx, key, loader, opts)
	}

	start := time.Now()
	res, err := c.stack.Get(ctx, key)
	if err != nil {
		return nil, err
	}

	now := time.Now()
	if res.Found && res.Entry.Fresh(now) {
		var value any
		if err := c.codec.Decode(res.Entry.Value, &value); err != nil {
			return nil, err
		}
		c.emit(Event{Kind: "hit", Key: key, Source: res.Source, Graced: false, Start: start})
		return value, nil
	}

	if res.Found && res.Entry.Stale(now) {
		return c.swr(ctx, key, res, loader, opts, start)
	}

	c.emit(Event{Kind: "miss", Key: key, Start: start})
	return c.loadAndStore(ctx, key, loader, opts)
}

// swr implements stale-while-revalidate per GetOrSetOptions.Timeout. start
// is the time GetOrSet began, stamped onto the emitted hit Event.
func (c *Cache) swr(ctx context.Context, key string, res cachestack.Result, loader Loader, opts GetOrSetOptions, start time.Time) (any, error) {
	var stale any
	if err := c.codec.Decode(res.Entry.Value, &stale); err != nil {
		return nil, err
	}
	c.emit(Event{Kind: "hit", Key: key, Source: res.Source, Graced: true, Start: start})

	refresh := func() {
		defer c.bgWG.Done()
		// The background refresh runs detached from the caller's ctx (so an
		// SWR timeout cancelling the foreground wait does not cancel the
		// load populating the cache) but under bgCtx, so Disconnect can
		// still cancel it.
		if _, err := c.loadAndStore(c.bgCtx, key, loader, opts); err != nil {
			return
		}
	}

	if opts.Timeout == nil {
		v, err := c.loadAndStore(ctx, key, loader, opts)
		if err != nil {
			return stale, nil
		}
		return v, nil
	}
	if *opts.Timeout == 0 {
		c.bgWG.Add(1)
		go refresh()
		return stale, nil
	}

	done := make(chan struct{})
	var result any
	var loadErr error
	c.bgWG.Add(1)
	go func() {
		defer c.bgWG.Done()
		defer close(done)
		result, loadErr = c.loadAndStore(c.bgCtx, key, loader, opts)
	}()

	select {
	case <-done:
		if loadErr != nil {
			return stale, nil
		}
		return result, nil
	case <-time.After(*opts.Timeout):
		return stale, nil
	}
}

// loadAndStore runs loader under dedup with retry/backoff, storing a
// successful result.
func (c *Cache) loadAndStore(ctx context.Context, key string, loader Loader, opts GetOrSetOptions) (any, error) {
	value, _, err := c.dedup.Do(key, func() (any, error) {
		return c.runWithRetries(ctx, loader, opts)
	})
	if err != nil {
		return nil, err
	}
	if err := c.Set(ctx, key, value, opts.SetOptions); err != nil {
		return value, err
	}
	return value, nil
}

func (c *Cache) runWithRetries(ctx context.Context, loader Loader, opts GetOrSetOptions) (any, error) {
	base := opts.RetryBaseDelay
	if base == 0 {
		base = 100 * time.Millisecond
	}
	var lastErr error
	for attempt := 0; attempt <= opts.Retries; attempt++ {
		if attempt > 0 {
			delay := base
			for i := 1; i < attempt; i++ {
				delay *= 2
			}
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(delay):
			}
		}
		v, err := loader(ctx)
		if err == nil {
			return v, nil
		}
		lastErr = err
	}
	return nil, lastErr
}

// Pull reads key and deletes it.
func (c *Cache) Pull(ctx context.Context, key string) (any, bool, error) {
	v, ok, err := c.Get(ctx, key)
	if err != nil || !ok {
		return v, ok, err
	}
	if _, err := c.stack.Delete(ctx, key); err != nil {
		return v, ok, err
	}
	return v, ok, nil
}

// Expire rewrites key's entry with StaleAt=now, preserving GcAt, so the
// next read sees it as stale rather than fresh.
func (c *Cache) Expire(ctx context.Context, key string) error {
	res, err := c.stack.Get(ctx, key)
	if err != nil || !res.Found {
		return err
	}
	return c.stack.Set(ctx, key, res.Entry.Expire(time.Now()))
}

// Delete removes keys from every tier.
func (c *Cache) Delete(ctx context.Context, keys ...string) (int, error) {
	return c.stack.Delete(ctx, keys...)
}

// DeleteL1 removes keys from L1 only. Used by the backplane so an
// invalidation arriving from a peer never re-deletes from L2.
func (c *Cache) DeleteL1(ctx context.Context, keys ...string) (int, error) {
	return c.stack.DeleteL1(ctx, keys...)
}

// InvalidateTags removes every key registered under any of tags.
func (c *Cache) InvalidateTags(ctx context.Context, tags []string) (int, error) {
	return c.stack.InvalidateTags(ctx, tags)
}

// ClearL1 empties L1 only. Used by the backplane for inbound cache:clear
// messages.
func (c *Cache) ClearL1(ctx context.Context) error {
	return c.stack.ClearL1(ctx)
}

// Clear empties every tier.
func (c *Cache) Clear(ctx context.Context) error {
	return c.stack.Clear(ctx)
}

// Connect manages the underlying Stack's L2 connections.
func (c *Cache) Connect(ctx context.Context) error { return c.stack.Connect(ctx) }

// Disconnect cancels pending SWR background refreshes, waits for them to
// settle, and disconnects the underlying Stack.
func (c *Cache) Disconnect(ctx context.Context) error {
	c.bgCancel()
	c.bgWG.Wait()
	return c.stack.Disconnect(ctx)
}
