package tiercache

import (
	"context"
	"testing"
	"time"

	"github.com/otero-labs/tiercache/cache"
)

func TestNewBuildsManagerWithDefaultStore(t *testing.T) {
	mgr, err := New(Config{
		Default: "default",
		Stores: map[string]StoreConfig{
			"default": {Cache: cache.Config{StaleTime: time.Hour, GcTime: 2 * time.Hour}},
		},
	})
	if err != nil {
		t.Fatalf("new: %v", err)
	}

	c, err := mgr.Store("")
	if err != nil {
		t.Fatalf("store: %v", err)
	}

	ctx := context.Background()
	if err := c.Set(ctx, "k", "v", cache.SetOptions{}); err != nil {
		t.Fatalf("set: %v", err)
	}
	v, ok, err := c.Get(ctx, "k")
	if err != nil || !ok || v != "v" {
		t.Fatalf("get: v=%v ok=%v err=%v", v, ok, err)
	}
}

func TestNewRejectsUnknownDefaultStore(t *testing.T) {
	_, err := New(Config{Default: "missing", Stores: map[string]StoreConfig{}})
	if err == nil {
		t.Fatalf("expected error for unknown default store")
	}
}
