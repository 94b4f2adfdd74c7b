package bus

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/otero-labs/tiercache/transport/memory"
)

func TestPublishSubscribeRoundTrip(t *testing.T) {
	broker := memory.NewBroker()
	tr := memory.New("t", broker)
	b := New(tr, Config{AutoConnect: true})
	ctx := context.Background()

	var mu sync.Mutex
	var got any
	if err := b.Subscribe(ctx, "ch", func(ctx context.Context, payload any) {
		mu.Lock()
		got = payload
		mu.Unlock()
	}); err != nil {
		t.Fatalf("subscribe: %v", err)
	}

	if err := b.Publish(ctx, "ch", "hello"); err != nil {
		t.Fatalf("publish: %v", err)
	}

	mu.Lock()
	defer mu.Unlock()
	if got != "hello" {
		t.Fatalf("got %v, want hello", got)
	}
}

func TestHandlerIsolation(t *testing.T) {
	broker := memory.NewBroker()
	tr := memory.New("t", broker)
	b := New(tr, Config{AutoConnect: true})
	ctx := context.Background()

	var mu sync.Mutex
	var secondCalled bool
	_ = b.Subscribe(ctx, "ch", func(ctx context.Context, payload any) {
		panic("boom")
	})
	_ = b.Subscribe(ctx, "ch", func(ctx context.Context, payload any) {
		mu.Lock()
		secondCalled = true
		mu.Unlock()
	})

	if err := b.Publish(ctx, "ch", "x"); err != nil {
		t.Fatalf("publish: %v", err)
	}

	mu.Lock()
	defer mu.Unlock()
	if !secondCalled {
		t.Fatalf("expected second handler to run despite first panicking")
	}
}

func TestMultipleHandlersAllReceive(t *testing.T) {
	broker := memory.NewBroker()
	tr := memory.New("t", broker)
	b := New(tr, Config{AutoConnect: true})
	ctx := context.Background()

	var mu sync.Mutex
	count := 0
	for i := 0; i < 3; i++ {
		_ = b.Subscribe(ctx, "ch", func(ctx context.Context, payload any) {
			mu.Lock()
			count++
			mu.Unlock()
		})
	}

	_ = b.Publish(ctx, "ch", "x")

	mu.Lock()
	defer mu.Unlock()
	if count != 3 {
		t.Fatalf("expected all 3 handlers invoked, got %d", count)
	}
}

func TestConnectIsIdempotentUnderConcurrency(t *testing.T) {
	broker := memory.NewBroker()
	tr := memory.New("t", broker)
	b := New(tr, Config{})
	ctx := context.Background()

	var wg sync.WaitGroup
	errs := make([]error, 10)
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			errs[i] = b.Connect(ctx)
		}(i)
	}
	wg.Wait()

	for i, err := range errs {
		if err != nil {
			t.Fatalf("connect[%d]: %v", i, err)
		}
	}
}

func TestDisconnectClearsSubscriptions(t *testing.T) {
	broker := memory.NewBroker()
	tr := memory.New("t", broker)
	b := New(tr, Config{AutoConnect: true})
	ctx := context.Background()

	called := false
	_ = b.Subscribe(ctx, "ch", func(ctx context.Context, payload any) { called = true })
	if err := b.Disconnect(ctx); err != nil {
		t.Fatalf("disconnect: %v", err)
	}

	// Republishing after disconnect must not reach the old handler: the
	// subscription set was cleared and the transport never resubscribed.
	_ = tr.Connect(ctx)
	_ = tr.Publish(ctx, "ch", []byte(`"x"`))
	time.Sleep(10 * time.Millisecond)
	if called {
		t.Fatalf("handler should not fire after Disconnect")
	}
}
