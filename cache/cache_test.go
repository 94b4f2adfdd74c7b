package cache

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/otero-labs/tiercache/cachestack"
	"github.com/otero-labs/tiercache/driver/memory"
)

func newCache() *Cache {
	l1 := memory.New(100)
	stack := cachestack.New(l1, nil, nil)
	return New(stack, Config{StaleTime: time.Hour, GcTime: 2 * time.Hour}, nil)
}

func TestSetGetRoundTrip(t *testing.T) {
	c := newCache()
	ctx := context.Background()
	if err := c.Set(ctx, "k", "v", SetOptions{}); err != nil {
		t.Fatalf("set: %v", err)
	}
	v, ok, err := c.Get(ctx, "k")
	if err != nil || !ok {
		t.Fatalf("get: ok=%v err=%v", ok, err)
	}
	if v != "v" {
		t.Fatalf("got %v, want v", v)
	}
}

func TestGetOrSetStampedeCoalescesLoader(t *testing.T) {
	c := newCache()
	ctx := context.Background()
	var calls int32

	slowLoader := func(ctx context.Context) (any, error) {
		atomic.AddInt32(&calls, 1)
		time.Sleep(30 * time.Millisecond)
		return "v", nil
	}

	results := make(chan any, 50)
	for i := 0; i < 50; i++ {
		go func() {
			v, err := c.GetOrSet(ctx, "k", slowLoader, GetOrSetOptions{})
			if err != nil {
				results <- err
				return
			}
			results <- v
		}()
	}

	for i := 0; i < 50; i++ {
		v := <-results
		if v != "v" {
			t.Fatalf("caller %d got %v, want v", i, v)
		}
	}
	if calls != 1 {
		t.Fatalf("expected loader invoked once, got %d", calls)
	}
}

func TestGetOrSetMissRunsLoaderAndStores(t *testing.T) {
	c := newCache()
	ctx := context.Background()
	v, err := c.GetOrSet(ctx, "k", func(ctx context.Context) (any, error) {
		return "loaded", nil
	}, GetOrSetOptions{})
	if err != nil {
		t.Fatalf("getOrSet: %v", err)
	}
	if v != "loaded" {
		t.Fatalf("got %v, want loaded", v)
	}
	stored, ok, _ := c.Get(ctx, "k")
	if !ok || stored != "loaded" {
		t.Fatalf("expected value stored, got %v ok=%v", stored, ok)
	}
}

func TestSWRReturnsStaleImmediatelyWithZeroTimeout(t *testing.T) {
	c := newCache()
	ctx := context.Background()
	_ = c.Set(ctx, "k", "v1", SetOptions{StaleTime: 10 * time.Millisecond, GcTime: time.Second})
	time.Sleep(30 * time.Millisecond)

	zero := time.Duration(0)
	done := make(chan struct{})
	v, err := c.GetOrSet(ctx, "k", func(ctx context.Context) (any, error) {
		defer close(done)
		return "v2", nil
	}, GetOrSetOptions{Timeout: &zero})
	if err != nil {
		t.Fatalf("getOrSet: %v", err)
	}
	if v != "v1" {
		t.Fatalf("expected immediate stale value v1, got %v", v)
	}

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatalf("background refresh never ran")
	}
	time.Sleep(10 * time.Millisecond)
	v2, _, _ := c.Get(ctx, "k")
	if v2 != "v2" {
		t.Fatalf("expected background refresh to update cache to v2, got %v", v2)
	}
}

func TestLoaderRetriesOnFailure(t *testing.T) {
	c := newCache()
	ctx := context.Background()
	var calls int32
	v, err := c.GetOrSet(ctx, "k", func(ctx context.Context) (any, error) {
		n := atomic.AddInt32(&calls, 1)
		if n < 3 {
			return nil, errors.New("fail")
		}
		return "ok", nil
	}, GetOrSetOptions{Retries: 3, RetryBaseDelay: time.Millisecond})
	if err != nil {
		t.Fatalf("getOrSet: %v", err)
	}
	if v != "ok" {
		t.Fatalf("got %v, want ok", v)
	}
	if calls != 3 {
		t.Fatalf("expected 3 attempts, got %d", calls)
	}
}

func TestTagInvalidation(t *testing.T) {
	c := newCache()
	ctx := context.Background()
	_ = c.Set(ctx, "k", "v", SetOptions{Tags: []string{"user:1"}})

	n, err := c.InvalidateTags(ctx, []string{"user:1"})
	if err != nil {
		t.Fatalf("invalidate: %v", err)
	}
	if n != 1 {
		t.Fatalf("expected 1 key, got %d", n)
	}
	_, ok, _ := c.Get(ctx, "k")
	if ok {
		t.Fatalf("expected key absent after tag invalidation")
	}
}
