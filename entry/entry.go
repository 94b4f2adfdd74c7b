// Package entry provides the immutable cache record type and the
// bidirectional key/tag index used for tag-based invalidation.
package entry

import (
	"encoding/json"
	"sort"
	"sync"
	"time"
)

// Entry is an immutable cache record. Value is the already-encoded payload
// (the Cache layer owns codec selection); entry itself is encoding-agnostic.
//
// Invariant: CreatedAt <= StaleAt <= GcAt. Construct via New; there is no
// exported way to mutate a live Entry, only to derive a new one (Expire).
type Entry struct {
	Value     []byte
	CreatedAt int64 // epoch-ms
	StaleAt   int64 // epoch-ms
	GcAt      int64 // epoch-ms
	Tags      []string
}

// New builds an Entry valid as of now, with staleAt = now+staleTTL and
// gcAt = now+gcTTL. gcTTL is clamped up to staleTTL if smaller, preserving
// CreatedAt <= StaleAt <= GcAt.
func New(value []byte, now time.Time, staleTTL, gcTTL time.Duration, tags []string) Entry {
	if gcTTL < staleTTL {
		gcTTL = staleTTL
	}
	created := now.UnixMilli()
	return Entry{
		Value:     value,
		CreatedAt: created,
		StaleAt:   created + staleTTL.Milliseconds(),
		GcAt:      created + gcTTL.Milliseconds(),
		Tags:      append([]string(nil), tags...),
	}
}

// Expire returns a copy of e with StaleAt pulled forward to now, preserving
// GcAt. If now is already past GcAt, GcAt is unchanged: the entry is simply
// collected on the next read.
func (e Entry) Expire(now time.Time) Entry {
	e.StaleAt = now.UnixMilli()
	return e
}

// Fresh reports whether the entry is still within its stale-free window.
func (e Entry) Fresh(now time.Time) bool { return now.UnixMilli() < e.StaleAt }

// Stale reports whether the entry is past staleness but not yet collected.
func (e Entry) Stale(now time.Time) bool {
	ms := now.UnixMilli()
	return ms >= e.StaleAt && ms < e.GcAt
}

// Collected reports whether the entry's GC deadline has passed; a collected
// entry must be treated as absent by every reader.
func (e Entry) Collected(now time.Time) bool { return now.UnixMilli() >= e.GcAt }

// wireEntry is Entry's on-disk/on-wire shape. Value is base64-encoded by
// encoding/json's native []byte handling; kept as a separate type so
// storage drivers never need Entry's behavior, only its data.
type wireEntry struct {
	Value     []byte   `json:"v"`
	CreatedAt int64    `json:"c"`
	StaleAt   int64    `json:"s"`
	GcAt      int64    `json:"g"`
	Tags      []string `json:"t,omitempty"`
}

// MarshalBinary encodes e for storage in a Driver, which only deals in
// opaque bytes.
func (e Entry) MarshalBinary() ([]byte, error) {
	return json.Marshal(wireEntry{
		Value: e.Value, CreatedAt: e.CreatedAt, StaleAt: e.StaleAt, GcAt: e.GcAt, Tags: e.Tags,
	})
}

// UnmarshalBinary decodes an Entry previously written by MarshalBinary.
func (e *Entry) UnmarshalBinary(data []byte) error {
	var w wireEntry
	if err := json.Unmarshal(data, &w); err != nil {
		return err
	}
	e.Value, e.CreatedAt, e.StaleAt, e.GcAt, e.Tags = w.Value, w.CreatedAt, w.StaleAt, w.GcAt, w.Tags
	return nil
}

// TagIndex maintains a bidirectional tag<->key mapping: for every edge
// (k, t), k is present in tagToKeys[t] iff t is present in keyToTags[k].
// All operations are atomic with respect to concurrent readers.
type TagIndex struct {
	mu         sync.Mutex
	tagToKeys  map[string]map[string]struct{}
	keyToTags  map[string]map[string]struct{}
}

// NewTagIndex creates an empty index.
func NewTagIndex() *TagIndex {
	return &TagIndex{
		tagToKeys: make(map[string]map[string]struct{}),
		keyToTags: make(map[string]map[string]struct{}),
	}
}

// Register replaces any prior tag set for key with tags. An empty tags slice
// is equivalent to Unregister.
func (idx *TagIndex) Register(key string, tags []string) {
	idx.mu.Lock()
	defer idx.mu.Unlock()
	idx.unregisterLocked(key)
	if len(tags) == 0 {
		return
	}
	set := make(map[string]struct{}, len(tags))
	for _, t := range tags {
		set[t] = struct{}{}
		bucket, ok := idx.tagToKeys[t]
		if !ok {
			bucket = make(map[string]struct{})
			idx.tagToKeys[t] = bucket
		}
		bucket[key] = struct{}{}
	}
	idx.keyToTags[key] = set
}

// Unregister removes every edge touching key.
func (idx *TagIndex) Unregister(key string) {
	idx.mu.Lock()
	defer idx.mu.Unlock()
	idx.unregisterLocked(key)
}

func (idx *TagIndex) unregisterLocked(key string) {
	tags, ok := idx.keyToTags[key]
	if !ok {
		return
	}
	for t := range tags {
		bucket := idx.tagToKeys[t]
		delete(bucket, key)
		if len(bucket) == 0 {
			delete(idx.tagToKeys, t)
		}
	}
	delete(idx.keyToTags, key)
}

// Invalidate returns the union of keys registered under any of tags and
// atomically unregisters those keys (so a subsequent Register observes a
// clean slate). The returned slice is sorted for deterministic tests.
func (idx *TagIndex) Invalidate(tags []string) []string {
	idx.mu.Lock()
	defer idx.mu.Unlock()

	union := make(map[string]struct{})
	for _, t := range tags {
		for k := range idx.tagToKeys[t] {
			union[k] = struct{}{}
		}
	}
	keys := make([]string, 0, len(union))
	for k := range union {
		keys = append(keys, k)
		idx.unregisterLocked(k)
	}
	sort.Strings(keys)
	return keys
}

// Tags returns the tag set currently registered for key.
func (idx *TagIndex) Tags(key string) []string {
	idx.mu.Lock()
	defer idx.mu.Unlock()
	set, ok := idx.keyToTags[key]
	if !ok {
		return nil
	}
	out := make([]string, 0, len(set))
	for t := range set {
		out = append(out, t)
	}
	sort.Strings(out)
	return out
}

// Clear removes every edge.
func (idx *TagIndex) Clear() {
	idx.mu.Lock()
	defer idx.mu.Unlock()
	idx.tagToKeys = make(map[string]map[string]struct{})
	idx.keyToTags = make(map[string]map[string]struct{})
}
