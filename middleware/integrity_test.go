package middleware

import (
	"bytes"
	"context"
	"sync"
	"testing"

	"github.com/otero-labs/tiercache/transport/memory"
)

func TestIntegritySignsAndVerifies(t *testing.T) {
	broker := memory.NewBroker()
	base := memory.New("base", broker)
	ctx := context.Background()
	_ = base.Connect(ctx)

	secret := []byte("topsecret")
	g := NewIntegrity(base, secret, func(channel string, err error) {
		t.Fatalf("unexpected integrity error on %s: %v", channel, err)
	})

	var mu sync.Mutex
	var received []byte
	if err := g.Subscribe(ctx, "ch", func(ctx context.Context, data []byte) {
		mu.Lock()
		received = append([]byte(nil), data...)
		mu.Unlock()
	}); err != nil {
		t.Fatalf("subscribe: %v", err)
	}

	payload := []byte("payload")
	if err := g.Publish(ctx, "ch", payload); err != nil {
		t.Fatalf("publish: %v", err)
	}

	mu.Lock()
	defer mu.Unlock()
	if !bytes.Equal(received, payload) {
		t.Fatalf("got %q, want %q", received, payload)
	}
}

func TestIntegrityRejectsTamperedFrame(t *testing.T) {
	broker := memory.NewBroker()
	base := memory.New("base", broker)
	ctx := context.Background()
	_ = base.Connect(ctx)

	var errCount int
	var mu sync.Mutex
	g := NewIntegrity(base, []byte("secret-a"), func(channel string, err error) {
		mu.Lock()
		errCount++
		mu.Unlock()
	})

	called := false
	if err := g.Subscribe(ctx, "ch", func(ctx context.Context, data []byte) {
		called = true
	}); err != nil {
		t.Fatalf("subscribe: %v", err)
	}

	// Publish directly on base with a different signer's key mixed in.
	other := NewIntegrity(base, []byte("secret-b"), nil)
	if err := other.Publish(ctx, "ch", []byte("payload")); err != nil {
		t.Fatalf("publish: %v", err)
	}

	mu.Lock()
	defer mu.Unlock()
	if called {
		t.Fatalf("handler should not be invoked on signature mismatch")
	}
	if errCount != 1 {
		t.Fatalf("expected 1 integrity error, got %d", errCount)
	}
}
