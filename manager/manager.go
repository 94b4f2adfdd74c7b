// Package manager implements CacheManager: a name->Cache registry with
// shared defaults and an optional backplane bus for cross-process
// invalidation. It generalizes the pattern of a single cache Service
// instance into multiple independently-configured named stores sharing
// one process.
package manager

import (
	"context"
	"errors"
	"fmt"

	"github.com/otero-labs/tiercache/backplane"
	"github.com/otero-labs/tiercache/bus"
	"github.com/otero-labs/tiercache/cache"
	"github.com/otero-labs/tiercache/cachestack"
	"github.com/otero-labs/tiercache/driver"
)

// StoreConfig describes one named store: its L1, its L2 layers, its
// per-store cache defaults, and an optional event sink (hits/misses/sets).
type StoreConfig struct {
	L1      driver.Driver
	Layers  []cachestack.Layer
	Cache   cache.Config
	OnEvent func(cache.Event)
}

// Config configures a Manager.
type Config struct {
	Default string
	Stores  map[string]StoreConfig
	Bus     *bus.Bus // optional backplane; nil disables cross-process invalidation
}

// ErrUnknownStore is returned when a store name has no matching
// configuration.
var ErrUnknownStore = errors.New("manager: unknown store")

// Manager owns a set of named Caches and, if configured, a backplane bus
// propagating invalidations across processes sharing L2 state.
type Manager struct {
	def    string
	caches map[string]*cache.Cache
	adapter *backplane.Adapter
}

// New builds a Manager from cfg. If cfg.Default names a store not present
// in cfg.Stores, New returns a configuration error.
func New(cfg Config) (*Manager, error) {
	if _, ok := cfg.Stores[cfg.Default]; cfg.Default != "" && !ok {
		return nil, fmt.Errorf("%w: default store %q not configured", ErrUnknownStore, cfg.Default)
	}

	m := &Manager{def: cfg.Default, caches: make(map[string]*cache.Cache, len(cfg.Stores))}
	for name, sc := range cfg.Stores {
		stack := cachestack.New(sc.L1, sc.Layers, nil)
		m.caches[name] = cache.New(stack, sc.Cache, sc.OnEvent)
	}

	if cfg.Bus != nil {
		m.adapter = backplane.New(cfg.Bus, m)
	}
	return m, nil
}

// Store returns the named Cache, or the default Cache if name is empty.
func (m *Manager) Store(name string) (*cache.Cache, error) {
	if name == "" {
		name = m.def
	}
	c, ok := m.caches[name]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownStore, name)
	}
	return c, nil
}

// Cache implements backplane.CacheManager so an Adapter can route inbound
// messages without importing this package back.
func (m *Manager) Cache(store string) (backplane.Cache, error) { return m.Store(store) }

// Stores returns every configured store name.
func (m *Manager) Stores() []string {
	names := make([]string, 0, len(m.caches))
	for name := range m.caches {
		names = append(names, name)
	}
	return names
}

// Delete fans a delete out to store (or every store if store is empty),
// publishing a backplane invalidation on success when a bus is configured.
func (m *Manager) Delete(ctx context.Context, store string, keys ...string) (int, error) {
	total := 0
	for _, name := range m.targetStores(store) {
		c, err := m.Store(name)
		if err != nil {
			return total, err
		}
		n, err := c.Delete(ctx, keys...)
		if err != nil {
			return total, err
		}
		total += n
		if m.adapter != nil {
			m.adapter.PublishInvalidate(ctx, name, keys)
		}
	}
	return total, nil
}

// InvalidateTags fans a tag invalidation out to store (or every store),
// publishing a backplane message when configured.
func (m *Manager) InvalidateTags(ctx context.Context, store string, tags []string) (int, error) {
	total := 0
	for _, name := range m.targetStores(store) {
		c, err := m.Store(name)
		if err != nil {
			return total, err
		}
		n, err := c.InvalidateTags(ctx, tags)
		if err != nil {
			return total, err
		}
		total += n
		if m.adapter != nil {
			m.adapter.PublishInvalidateTags(ctx, name, tags)
		}
	}
	return total, nil
}

// Clear empties store (or every store), publishing a backplane message
// when configured.
func (m *Manager) Clear(ctx context.Context, store string) error {
	for _, name := range m.targetStores(store) {
		c, err := m.Store(name)
		if err != nil {
			return err
		}
		if err := c.Clear(ctx); err != nil {
			return err
		}
		if m.adapter != nil {
			m.adapter.PublishClear(ctx, name)
		}
	}
	return nil
}

func (m *Manager) targetStores(store string) []string {
	if store != "" {
		return []string{store}
	}
	return m.Stores()
}

// Connect connects every store and, if configured, the backplane bus.
func (m *Manager) Connect(ctx context.Context) error {
	for _, c := range m.caches {
		if err := c.Connect(ctx); err != nil {
			return err
		}
	}
	if m.adapter != nil {
		return m.adapter.Connect(ctx)
	}
	return nil
}

// Disconnect disconnects the backplane bus (if any) and every store.
func (m *Manager) Disconnect(ctx context.Context) error {
	if m.adapter != nil {
		if err := m.adapter.Disconnect(ctx); err != nil {
			return err
		}
	}
	for _, c := range m.caches {
		if err := c.Disconnect(ctx); err != nil {
			return err
		}
	}
	return nil
}
