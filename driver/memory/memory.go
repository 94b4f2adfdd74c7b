// Package memory implements driver.Driver as a thread-safe in-memory LRU
// cache with TTL expiration, generalized from an L1-specific byte-blind
// cache into a plain driver.Driver over []byte. A global RWMutex is used
// in place of sync.Map for the same reason: LRU needs ordered iteration
// and atomic eviction that sync.Map cannot give cheaply, and a single lock
// is adequate below roughly 100K ops/sec (shard across multiple Drivers
// above that, if ever needed).
package memory

import (
	"container/list"
	"context"
	"sync"
	"time"
)

type entry struct {
	key       string
	value     []byte
	expiresAt time.Time
	element   *list.Element
}

// Driver is an in-process, capacity-bounded, TTL-expiring key/value store.
type Driver struct {
	mu         sync.RWMutex
	entries    map[string]*entry
	lru        *list.List
	maxEntries int
	now        func() time.Time
}

// New creates a Driver holding at most maxEntries keys. A maxEntries of 0
// means unbounded.
func New(maxEntries int) *Driver {
	return &Driver{
		entries:    make(map[string]*entry, maxEntries),
		lru:        list.New(),
		maxEntries: maxEntries,
		now:        time.Now,
	}
}

func (d *Driver) Get(ctx context.Context, key string) ([]byte, bool, error) {
	d.mu.RLock()
	e, ok := d.entries[key]
	d.mu.RUnlock()
	if !ok {
		return nil, false, nil
	}

	if d.now().After(e.expiresAt) {
		d.mu.Lock()
		d.deleteLocked(key)
		d.mu.Unlock()
		return nil, false, nil
	}

	d.mu.Lock()
	d.lru.MoveToFront(e.element)
	d.mu.Unlock()

	return append([]byte(nil), e.value...), true, nil
}

func (d *Driver) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	expiresAt := d.now().Add(ttl)
	stored := append([]byte(nil), value...)

	if e, ok := d.entries[key]; ok {
		e.value = stored
		e.expiresAt = expiresAt
		d.lru.MoveToFront(e.element)
		return nil
	}

	if d.maxEntries > 0 && d.lru.Len() >= d.maxEntries {
		d.evictLocked()
	}

	e := &entry{key: key, value: stored, expiresAt: expiresAt}
	e.element = d.lru.PushFront(e)
	d.entries[key] = e
	return nil
}

func (d *Driver) Delete(ctx context.Context, key string) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.deleteLocked(key)
	return nil
}

func (d *Driver) DeleteMany(ctx context.Context, keys []string) (int, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	count := 0
	for _, k := range keys {
		if d.deleteLocked(k) {
			count++
		}
	}
	return count, nil
}

func (d *Driver) GetMany(ctx context.Context, keys []string) (map[string][]byte, error) {
	out := make(map[string][]byte, len(keys))
	for _, k := range keys {
		v, ok, err := d.Get(ctx, k)
		if err != nil {
			return nil, err
		}
		if ok {
			out[k] = v
		}
	}
	return out, nil
}

func (d *Driver) Has(ctx context.Context, key string) (bool, error) {
	_, ok, err := d.Get(ctx, key)
	return ok, err
}

func (d *Driver) Clear(ctx context.Context) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.entries = make(map[string]*entry, d.maxEntries)
	d.lru = list.New()
	return nil
}

// Size reports the current number of stored entries.
func (d *Driver) Size() int {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return len(d.entries)
}

func (d *Driver) deleteLocked(key string) bool {
	e, ok := d.entries[key]
	if !ok {
		return false
	}
	d.lru.Remove(e.element)
	delete(d.entries, key)
	return true
}

func (d *Driver) evictLocked() {
	oldest := d.lru.Back()
	if oldest == nil {
		return
	}
	e := oldest.Value.(*entry)
	d.lru.Remove(oldest)
	delete(d.entries, e.key)
}
