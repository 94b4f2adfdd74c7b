package memory

import (
	"context"
	"testing"
	"time"
)

func TestGetSetRoundTrip(t *testing.T) {
	d := New(10)
	ctx := context.Background()
	if err := d.Set(ctx, "k", []byte("v"), time.Minute); err != nil {
		t.Fatalf("set: %v", err)
	}
	v, ok, err := d.Get(ctx, "k")
	if err != nil || !ok {
		t.Fatalf("get: ok=%v err=%v", ok, err)
	}
	if string(v) != "v" {
		t.Fatalf("got %q, want v", v)
	}
}

func TestExpiredEntryIsAbsent(t *testing.T) {
	d := New(10)
	fixed := time.Now()
	d.now = func() time.Time { return fixed }
	ctx := context.Background()
	_ = d.Set(ctx, "k", []byte("v"), time.Second)

	d.now = func() time.Time { return fixed.Add(2 * time.Second) }
	_, ok, err := d.Get(ctx, "k")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if ok {
		t.Fatalf("expected expired entry to be absent")
	}
	if d.Size() != 0 {
		t.Fatalf("expired entry should be evicted lazily, size=%d", d.Size())
	}
}

func TestEvictsLeastRecentlyUsed(t *testing.T) {
	d := New(2)
	ctx := context.Background()
	_ = d.Set(ctx, "a", []byte("1"), time.Minute)
	_ = d.Set(ctx, "b", []byte("2"), time.Minute)
	// touch "a" so "b" becomes the least recently used
	_, _, _ = d.Get(ctx, "a")
	_ = d.Set(ctx, "c", []byte("3"), time.Minute)

	if _, ok, _ := d.Get(ctx, "b"); ok {
		t.Fatalf("expected b to be evicted")
	}
	if _, ok, _ := d.Get(ctx, "a"); !ok {
		t.Fatalf("expected a to survive eviction")
	}
	if _, ok, _ := d.Get(ctx, "c"); !ok {
		t.Fatalf("expected c to be present")
	}
}

func TestGetManyAndDeleteMany(t *testing.T) {
	d := New(10)
	ctx := context.Background()
	_ = d.Set(ctx, "a", []byte("1"), time.Minute)
	_ = d.Set(ctx, "b", []byte("2"), time.Minute)

	got, err := d.GetMany(ctx, []string{"a", "b", "missing"})
	if err != nil {
		t.Fatalf("get many: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("expected 2 results, got %d", len(got))
	}

	n, err := d.DeleteMany(ctx, []string{"a", "missing"})
	if err != nil {
		t.Fatalf("delete many: %v", err)
	}
	if n != 1 {
		t.Fatalf("expected 1 deletion, got %d", n)
	}
}

func TestClear(t *testing.T) {
	d := New(10)
	ctx := context.Background()
	_ = d.Set(ctx, "a", []byte("1"), time.Minute)
	if err := d.Clear(ctx); err != nil {
		t.Fatalf("clear: %v", err)
	}
	if d.Size() != 0 {
		t.Fatalf("expected empty after clear")
	}
}
