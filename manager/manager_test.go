package manager

import (
	"context"
	"testing"
	"time"

	"github.com/otero-labs/tiercache/bus"
	"github.com/otero-labs/tiercache/cache"
	memdriver "github.com/otero-labs/tiercache/driver/memory"
	memtransport "github.com/otero-labs/tiercache/transport/memory"
)

func newManager(t *testing.T) *Manager {
	t.Helper()
	mgr, err := New(Config{
		Default: "default",
		Stores: map[string]StoreConfig{
			"default": {L1: memdriver.New(100), Cache: cache.Config{StaleTime: time.Hour, GcTime: 2 * time.Hour}},
		},
	})
	if err != nil {
		t.Fatalf("new manager: %v", err)
	}
	return mgr
}

func TestStoreResolvesDefault(t *testing.T) {
	mgr := newManager(t)
	c, err := mgr.Store("")
	if err != nil {
		t.Fatalf("store: %v", err)
	}
	ctx := context.Background()
	if err := c.Set(ctx, "k", "v", cache.SetOptions{}); err != nil {
		t.Fatalf("set: %v", err)
	}
}

func TestUnknownDefaultStoreIsConfigError(t *testing.T) {
	_, err := New(Config{Default: "missing", Stores: map[string]StoreConfig{}})
	if err == nil {
		t.Fatalf("expected config error for unknown default store")
	}
}

func TestDeleteFansOutAcrossStores(t *testing.T) {
	mgr, err := New(Config{
		Stores: map[string]StoreConfig{
			"a": {L1: memdriver.New(100)},
			"b": {L1: memdriver.New(100)},
		},
	})
	if err != nil {
		t.Fatalf("new manager: %v", err)
	}
	ctx := context.Background()
	ca, _ := mgr.Store("a")
	cb, _ := mgr.Store("b")
	_ = ca.Set(ctx, "k", "v", cache.SetOptions{})
	_ = cb.Set(ctx, "k", "v", cache.SetOptions{})

	if _, err := mgr.Delete(ctx, "", "k"); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if _, ok, _ := ca.Get(ctx, "k"); ok {
		t.Fatalf("expected store a to be empty after fan-out delete")
	}
	if _, ok, _ := cb.Get(ctx, "k"); ok {
		t.Fatalf("expected store b to be empty after fan-out delete")
	}
}

func TestBackplanePropagatesDeleteBetweenManagers(t *testing.T) {
	broker := memtransport.NewBroker()
	ctx := context.Background()

	newBackplaned := func(name string) *Manager {
		tr := memtransport.New(name, broker)
		b := bus.New(tr, bus.Config{})
		mgr, err := New(Config{
			Default: "shared",
			Stores:  map[string]StoreConfig{"shared": {L1: memdriver.New(100)}},
			Bus:     b,
		})
		if err != nil {
			t.Fatalf("new manager %s: %v", name, err)
		}
		return mgr
	}

	mgrA := newBackplaned("a")
	mgrB := newBackplaned("b")

	if err := mgrA.Connect(ctx); err != nil {
		t.Fatalf("connect a: %v", err)
	}
	if err := mgrB.Connect(ctx); err != nil {
		t.Fatalf("connect b: %v", err)
	}

	ca, _ := mgrA.Store("")
	cb, _ := mgrB.Store("")
	_ = ca.Set(ctx, "shared", "v", cache.SetOptions{})
	_ = cb.Set(ctx, "shared", "v", cache.SetOptions{})

	if _, err := mgrA.Delete(ctx, "", "shared"); err != nil {
		t.Fatalf("delete on a: %v", err)
	}

	deadline := time.After(time.Second)
	for {
		_, ok, _ := cb.Get(ctx, "shared")
		if !ok {
			break
		}
		select {
		case <-deadline:
			t.Fatalf("manager b's L1 still has key after backplane delete from a")
		case <-time.After(5 * time.Millisecond):
		}
	}
}
