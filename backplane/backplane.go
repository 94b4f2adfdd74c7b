// Package backplane adapts CacheManager mutations onto a message bus so
// multiple processes sharing L2 state keep their L1 caches coherent. It
// publishes one message per local mutation and, on receipt of a peer's
// message, applies it locally: key invalidations and clears as L1-only
// operations, tag invalidations as a full (L1 and L2) invalidation. It
// never republishes, so two processes never bounce the same invalidation
// back and forth.
package backplane

import (
	"context"
	"encoding/json"

	"github.com/google/uuid"
	"github.com/otero-labs/tiercache/bus"
)

const (
	channelInvalidate     = "cache:invalidate"
	channelInvalidateTags = "cache:invalidate:tags"
	channelClear          = "cache:clear"
)

// Cache is the subset of cache.Cache the adapter needs to apply an inbound
// message. It is defined here, rather than imported from cache, so manager
// can implement CacheManager without an import cycle.
type Cache interface {
	DeleteL1(ctx context.Context, keys ...string) (int, error)
	InvalidateTags(ctx context.Context, tags []string) (int, error)
	ClearL1(ctx context.Context) error
}

// CacheManager resolves a store name to its Cache. An empty store name
// means "every store" at the manager level, but inbound backplane messages
// always carry the specific store that originated them.
type CacheManager interface {
	Cache(store string) (Cache, error)
}

type invalidateMsg struct {
	ID    string   `json:"id"`
	Keys  []string `json:"keys"`
	Store string   `json:"store"`
}

type invalidateTagsMsg struct {
	ID    string   `json:"id"`
	Tags  []string `json:"tags"`
	Store string   `json:"store"`
}

type clearMsg struct {
	ID    string `json:"id"`
	Store string `json:"store"`
}

// Adapter wires a CacheManager to a message Bus: local mutations are
// published outward, and the three backplane channels are applied inward
// without republishing (cache:invalidate and cache:clear as L1-only
// operations, cache:invalidate:tags as a full tag invalidation).
type Adapter struct {
	bus *bus.Bus
	mgr CacheManager
}

// New builds an Adapter. Call Connect to subscribe the inbound channels.
func New(b *bus.Bus, mgr CacheManager) *Adapter {
	return &Adapter{bus: b, mgr: mgr}
}

// Connect connects the bus and subscribes all three backplane channels.
func (a *Adapter) Connect(ctx context.Context) error {
	if err := a.bus.Connect(ctx); err != nil {
		return err
	}
	if err := a.bus.Subscribe(ctx, channelInvalidate, a.onInvalidate); err != nil {
		return err
	}
	if err := a.bus.Subscribe(ctx, channelInvalidateTags, a.onInvalidateTags); err != nil {
		return err
	}
	return a.bus.Subscribe(ctx, channelClear, a.onClear)
}

// Disconnect disconnects the underlying bus.
func (a *Adapter) Disconnect(ctx context.Context) error {
	return a.bus.Disconnect(ctx)
}

// PublishInvalidate announces a key-level delete that already happened
// locally on store. Each message carries a fresh trace id, since the
// backplane has no other correlation between a publish and the deletes it
// triggers on peers.
func (a *Adapter) PublishInvalidate(ctx context.Context, store string, keys []string) {
	_ = a.bus.Publish(ctx, channelInvalidate, invalidateMsg{ID: uuid.NewString(), Keys: keys, Store: store})
}

// PublishInvalidateTags announces a tag invalidation that already happened
// locally on store.
func (a *Adapter) PublishInvalidateTags(ctx context.Context, store string, tags []string) {
	_ = a.bus.Publish(ctx, channelInvalidateTags, invalidateTagsMsg{ID: uuid.NewString(), Tags: tags, Store: store})
}

// PublishClear announces a clear that already happened locally on store.
func (a *Adapter) PublishClear(ctx context.Context, store string) {
	_ = a.bus.Publish(ctx, channelClear, clearMsg{ID: uuid.NewString(), Store: store})
}

// onInvalidate applies an inbound cache:invalidate message as an L1-only
// delete, per the literal channel-to-operation mapping: deleteL1, not the
// full tiered delete, since the peer that published already deleted L2.
func (a *Adapter) onInvalidate(ctx context.Context, payload any) {
	msg, ok := decodeInto(payload, invalidateMsg{})
	if !ok {
		return
	}
	c, err := a.mgr.Cache(msg.Store)
	if err != nil {
		return
	}
	_, _ = c.DeleteL1(ctx, msg.Keys...)
}

// onInvalidateTags applies an inbound cache:invalidate:tags message as a
// full invalidation (L1 and L2): tags are resolved to keys locally, so an
// L1-only delete would leave L2 holding entries no longer reachable by tag
// on this node.
func (a *Adapter) onInvalidateTags(ctx context.Context, payload any) {
	msg, ok := decodeInto(payload, invalidateTagsMsg{})
	if !ok {
		return
	}
	c, err := a.mgr.Cache(msg.Store)
	if err != nil {
		return
	}
	_, _ = c.InvalidateTags(ctx, msg.Tags)
}

// onClear applies an inbound cache:clear message as an L1-only clear.
func (a *Adapter) onClear(ctx context.Context, payload any) {
	msg, ok := decodeInto(payload, clearMsg{})
	if !ok {
		return
	}
	c, err := a.mgr.Cache(msg.Store)
	if err != nil {
		return
	}
	_ = c.ClearL1(ctx)
}

// decodeInto converts a bus-decoded payload (typically map[string]any, per
// the JSON codec's Decode-into-any behavior) into the shape T expects. It
// round-trips through the same JSON codec machinery the bus already
// decoded with, since the payload arrives as generic Go values rather than
// raw bytes.
func decodeInto[T any](payload any, zero T) (T, bool) {
	if v, ok := payload.(T); ok {
		return v, true
	}
	data, err := json.Marshal(payload)
	if err != nil {
		return zero, false
	}
	var out T
	if err := json.Unmarshal(data, &out); err != nil {
		return zero, false
	}
	return out, true
}
