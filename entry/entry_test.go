package entry

import (
	"testing"
	"time"
)

func TestEntryLifecycle(t *testing.T) {
	now := time.Unix(1000, 0)
	e := New([]byte("v"), now, 10*time.Second, 100*time.Second, []string{"a"})

	if !e.Fresh(now) {
		t.Fatalf("expected fresh entry right after creation")
	}
	if e.Stale(now) || e.Collected(now) {
		t.Fatalf("entry should be neither stale nor collected at creation")
	}

	mid := now.Add(50 * time.Second)
	if e.Fresh(mid) {
		t.Fatalf("expected entry to no longer be fresh at %v", mid)
	}
	if !e.Stale(mid) {
		t.Fatalf("expected entry to be stale at %v", mid)
	}

	late := now.Add(200 * time.Second)
	if !e.Collected(late) {
		t.Fatalf("expected entry to be collected at %v", late)
	}
}

func TestEntryExpirePreservesGcAt(t *testing.T) {
	now := time.Unix(1000, 0)
	e := New([]byte("v"), now, 10*time.Second, 100*time.Second, nil)
	gcAt := e.GcAt

	later := now.Add(5 * time.Second)
	expired := e.Expire(later)

	if expired.GcAt != gcAt {
		t.Fatalf("expected GcAt to be preserved, got %d want %d", expired.GcAt, gcAt)
	}
	if !expired.Stale(later) {
		t.Fatalf("expected expired entry to be stale immediately")
	}
}

func TestTagIndexRegisterUnregisterAgreement(t *testing.T) {
	idx := NewTagIndex()
	idx.Register("k1", []string{"a", "b"})
	idx.Register("k2", []string{"b", "c"})

	if got := idx.Tags("k1"); len(got) != 2 {
		t.Fatalf("expected 2 tags for k1, got %v", got)
	}

	// Register replaces the prior tag set.
	idx.Register("k1", []string{"c"})
	if got := idx.Tags("k1"); len(got) != 1 || got[0] != "c" {
		t.Fatalf("expected k1 tags to be replaced with [c], got %v", got)
	}

	idx.Unregister("k2")
	if got := idx.Tags("k2"); got != nil {
		t.Fatalf("expected no tags after unregister, got %v", got)
	}
}

func TestTagIndexInvalidateIsAtomicAndUnregisters(t *testing.T) {
	idx := NewTagIndex()
	idx.Register("k1", []string{"a"})
	idx.Register("k2", []string{"a", "b"})
	idx.Register("k3", []string{"c"})

	keys := idx.Invalidate([]string{"a"})
	if len(keys) != 2 || keys[0] != "k1" || keys[1] != "k2" {
		t.Fatalf("expected [k1 k2], got %v", keys)
	}

	// k1, k2 must now have no registered tags (unregistered atomically).
	if idx.Tags("k1") != nil || idx.Tags("k2") != nil {
		t.Fatalf("expected invalidated keys to be unregistered")
	}
	// k3, untouched by tag "a", is unaffected.
	if got := idx.Tags("k3"); len(got) != 1 {
		t.Fatalf("expected k3 untouched, got %v", got)
	}

	// Invalidating disjoint tags returns nothing.
	if keys := idx.Invalidate([]string{"z"}); len(keys) != 0 {
		t.Fatalf("expected no keys for disjoint tag, got %v", keys)
	}
}
