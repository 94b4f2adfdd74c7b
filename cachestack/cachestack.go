// Package cachestack implements tiered (L1 + N L2) lookup and write with
// per-layer failure isolation: circuit breakers gate failing L2 layers,
// hits backfill shallower layers asynchronously, and tag invalidation
// fans out across every layer. It generalizes a single hardcoded L1+L2
// pair into an arbitrary ordered layer list, the way a production cache
// grows from "memory + one Redis" into "memory + near + far" over time.
package cachestack

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/otero-labs/tiercache/breaker"
	"github.com/otero-labs/tiercache/driver"
	"github.com/otero-labs/tiercache/entry"
)

// Layer is one L2 tier: a remote driver gated by its own circuit breaker.
type Layer struct {
	Name    string
	Driver  driver.RemoteDriver
	Breaker *breaker.CircuitBreaker
}

// Result is the outcome of a Get.
type Result struct {
	Entry  entry.Entry
	Found  bool
	Source string // "l1" or an L2 layer's Name
	Graced bool   // true when Entry is stale but not collected
}

// Stack is a tiered cache over one L1 driver and an ordered list of L2
// layers. Backfill runs on background goroutines tracked by wg, so
// Disconnect can wait for them to settle.
type Stack struct {
	l1     driver.Driver
	layers []Layer
	tags   *entry.TagIndex
	prefix string

	mu     sync.Mutex
	wg     sync.WaitGroup
	ctx    context.Context
	cancel context.CancelFunc
}

// New creates a Stack over l1 and layers (read/backfill order = layers
// order). tags defaults to a fresh TagIndex if nil.
func New(l1 driver.Driver, layers []Layer, tags *entry.TagIndex) *Stack {
	if tags == nil {
		tags = entry.NewTagIndex()
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Stack{l1: l1, layers: layers, tags: tags, ctx: ctx, cancel: cancel}
}

// Namespace returns a new Stack sharing this Stack's drivers, breakers,
// and TagIndex, with every key prefixed "parent:child".
func (s *Stack) Namespace(prefix string) *Stack {
	child := New(s.l1, s.layers, s.tags)
	if s.prefix == "" {
		child.prefix = prefix
	} else {
		child.prefix = s.prefix + ":" + prefix
	}
	return child
}

func (s *Stack) namespacedKey(key string) string {
	if s.prefix == "" {
		return key
	}
	return s.prefix + ":" + key
}

// Get probes L1, then each non-broken L2 layer in order, backfilling
// shallower layers on an L2 hit.
func (s *Stack) Get(ctx context.Context, key string) (Result, error) {
	nk := s.namespacedKey(key)
	now := time.Now()

	if raw, ok, err := s.l1.Get(ctx, nk); err == nil && ok {
		var e entry.Entry
		decodeErr := e.UnmarshalBinary(raw)
		if decodeErr == nil && !e.Collected(now) {
			return Result{Entry: e, Found: true, Source: "l1", Graced: e.Stale(now)}, nil
		}
	}

	for i, layer := range s.layers {
		if layer.Breaker.IsOpen() {
			continue
		}
		raw, ok, err := layer.Driver.Get(ctx, nk)
		if err != nil {
			layer.Breaker.RecordFailure()
			continue
		}
		layer.Breaker.RecordSuccess()
		if !ok {
			continue
		}
		var e entry.Entry
		if err := e.UnmarshalBinary(raw); err != nil || e.Collected(now) {
			continue
		}

		s.scheduleBackfill(nk, raw, e, i)
		return Result{Entry: e, Found: true, Source: layer.Name, Graced: e.Stale(now)}, nil
	}

	return Result{}, nil
}

// scheduleBackfill fires and forgets a write of raw to L1 and to every L2
// layer shallower than hitIndex. A backfill failure is recorded on that
// layer's breaker (which opens once its threshold is reached); it never
// affects the caller's read.
func (s *Stack) scheduleBackfill(key string, raw []byte, e entry.Entry, hitIndex int) {
	ttl := time.Until(time.UnixMilli(e.GcAt))
	if ttl <= 0 {
		return
	}

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		ctx := s.ctx
		if err := s.l1.Set(ctx, key, raw, ttl); err != nil {
			return
		}
		for i := 0; i < hitIndex; i++ {
			layer := s.layers[i]
			if layer.Breaker.IsOpen() {
				continue
			}
			if err := layer.Driver.Set(ctx, key, raw, ttl); err != nil {
				layer.Breaker.RecordFailure()
				continue
			}
			layer.Breaker.RecordSuccess()
		}
	}()
}

// Set registers tags, writes L1 synchronously, and writes every
// non-broken L2 layer concurrently. A single failing L2 is recorded on its
// breaker (which opens once its threshold is reached) and is swallowed;
// Set only returns an error if every layer failed.
func (s *Stack) Set(ctx context.Context, key string, e entry.Entry) error {
	nk := s.namespacedKey(key)
	if len(e.Tags) > 0 {
		s.tags.Register(nk, e.Tags)
	}

	raw, err := e.MarshalBinary()
	if err != nil {
		return err
	}
	ttl := time.Until(time.UnixMilli(e.GcAt))
	if ttl <= 0 {
		ttl = time.Millisecond
	}

	l1Err := s.l1.Set(ctx, nk, raw, ttl)

	if len(s.layers) == 0 {
		return l1Err
	}

	var mu sync.Mutex
	var wg sync.WaitGroup
	errs := make([]error, 0, len(s.layers))
	successes := 0

	for _, layer := range s.layers {
		if layer.Breaker.IsOpen() {
			continue
		}
		wg.Add(1)
		go func(layer Layer) {
			defer wg.Done()
			if err := layer.Driver.Set(ctx, nk, raw, ttl); err != nil {
				layer.Breaker.RecordFailure()
				mu.Lock()
				errs = append(errs, err)
				mu.Unlock()
				return
			}
			layer.Breaker.RecordSuccess()
			mu.Lock()
			successes++
			mu.Unlock()
		}(layer)
	}
	wg.Wait()

	if l1Err == nil || successes > 0 {
		return nil
	}
	if len(errs) == 0 {
		return l1Err
	}
	return errors.Join(append([]error{l1Err}, errs...)...)
}

// DeleteL1 removes keys from L1 only, bypassing every L2 layer. The
// backplane uses this for invalidations arriving over the bus, which must
// never re-trigger an L2 delete the originating node already performed.
func (s *Stack) DeleteL1(ctx context.Context, keys ...string) (int, error) {
	if len(keys) == 0 {
		return 0, nil
	}
	nks := make([]string, len(keys))
	for i, k := range keys {
		nks[i] = s.namespacedKey(k)
		s.tags.Unregister(nks[i])
	}
	return s.l1.DeleteMany(ctx, nks)
}

// ClearL1 empties L1 and the TagIndex only, bypassing every L2 layer.
func (s *Stack) ClearL1(ctx context.Context) error {
	s.tags.Clear()
	return s.l1.Clear(ctx)
}

// Delete removes keys from L1 and from every L2 layer whose breaker is
// closed, returning the maximum per-layer deletion count.
func (s *Stack) Delete(ctx context.Context, keys ...string) (int, error) {
	if len(keys) == 0 {
		return 0, nil
	}
	nks := make([]string, len(keys))
	for i, k := range keys {
		nks[i] = s.namespacedKey(k)
		s.tags.Unregister(nks[i])
	}

	maxCount, err := s.l1.DeleteMany(ctx, nks)

	var mu sync.Mutex
	var wg sync.WaitGroup
	for _, layer := range s.layers {
		if layer.Breaker.IsOpen() {
			continue
		}
		wg.Add(1)
		go func(layer Layer) {
			defer wg.Done()
			n, lerr := layer.Driver.DeleteMany(ctx, nks)
			if lerr != nil {
				layer.Breaker.RecordFailure()
				return
			}
			layer.Breaker.RecordSuccess()
			mu.Lock()
			if n > maxCount {
				maxCount = n
			}
			mu.Unlock()
		}(layer)
	}
	wg.Wait()

	return maxCount, err
}

// InvalidateTags resolves keys touching any of tags via the TagIndex, then
// deletes them from L1 and from every L2 layer whose breaker is closed.
func (s *Stack) InvalidateTags(ctx context.Context, tags []string) (int, error) {
	keys := s.tags.Invalidate(tags)
	if len(keys) == 0 {
		return 0, nil
	}
	// keys from TagIndex are already namespaced; Delete would re-namespace,
	// so call the layers directly instead.
	maxCount, err := s.l1.DeleteMany(ctx, keys)

	var mu sync.Mutex
	var wg sync.WaitGroup
	for _, layer := range s.layers {
		if layer.Breaker.IsOpen() {
			continue
		}
		wg.Add(1)
		go func(layer Layer) {
			defer wg.Done()
			n, lerr := layer.Driver.DeleteMany(ctx, keys)
			if lerr != nil {
				layer.Breaker.RecordFailure()
				return
			}
			layer.Breaker.RecordSuccess()
			mu.Lock()
			if n > maxCount {
				maxCount = n
			}
			mu.Unlock()
		}(layer)
	}
	wg.Wait()
	return maxCount, err
}

// Has reports whether key is present (non-collected) in any layer.
func (s *Stack) Has(ctx context.Context, key string) (bool, error) {
	res, err := s.Get(ctx, key)
	return res.Found, err
}

// Clear empties L1, every non-broken L2 layer, and the TagIndex.
func (s *Stack) Clear(ctx context.Context) error {
	s.tags.Clear()
	l1Err := s.l1.Clear(ctx)

	var wg sync.WaitGroup
	for _, layer := range s.layers {
		if layer.Breaker.IsOpen() {
			continue
		}
		wg.Add(1)
		go func(layer Layer) {
			defer wg.Done()
			_ = layer.Driver.Clear(ctx)
		}(layer)
	}
	wg.Wait()
	return l1Err
}

// Connect establishes every L2 layer's remote connection.
func (s *Stack) Connect(ctx context.Context) error {
	var errs []error
	for _, layer := range s.layers {
		if err := layer.Driver.Connect(ctx); err != nil {
			errs = append(errs, err)
		}
	}
	if len(errs) == 0 {
		return nil
	}
	return errors.Join(errs...)
}

// Disconnect cancels pending backfills, waits for in-flight ones to
// settle, and disconnects every L2 layer.
func (s *Stack) Disconnect(ctx context.Context) error {
	s.cancel()
	s.wg.Wait()

	var errs []error
	for _, layer := range s.layers {
		if err := layer.Driver.Disconnect(ctx); err != nil {
			errs = append(errs, err)
		}
	}
	if len(errs) == 0 {
		return nil
	}
	return errors.Join(errs...)
}
