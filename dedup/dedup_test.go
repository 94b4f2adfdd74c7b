package dedup

import (
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

func TestGroupCoalescesConcurrentCalls(t *testing.T) {
	g := New[int]()
	var calls int32
	var wg sync.WaitGroup
	results := make([]int, 20)

	start := make(chan struct{})
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			<-start
			v, _, err := g.Do("k", func() (int, error) {
				atomic.AddInt32(&calls, 1)
				time.Sleep(20 * time.Millisecond)
				return 42, nil
			})
			if err != nil {
				t.Errorf("unexpected error: %v", err)
			}
			results[i] = v
		}(i)
	}
	close(start)
	wg.Wait()

	if calls != 1 {
		t.Fatalf("expected exactly 1 underlying call, got %d", calls)
	}
	for i, v := range results {
		if v != 42 {
			t.Fatalf("result[%d] = %d, want 42", i, v)
		}
	}
}

func TestGroupPropagatesError(t *testing.T) {
	g := New[string]()
	wantErr := errors.New("boom")
	_, _, err := g.Do("k", func() (string, error) {
		return "", wantErr
	})
	if !errors.Is(err, wantErr) {
		t.Fatalf("got %v, want %v", err, wantErr)
	}
}

func TestGroupForgetAllowsReexecution(t *testing.T) {
	g := New[int]()
	var calls int32
	fn := func() (int, error) {
		atomic.AddInt32(&calls, 1)
		return int(calls), nil
	}
	v1, _, _ := g.Do("k", fn)
	g.Forget("k")
	v2, _, _ := g.Do("k", fn)
	if v1 == v2 {
		t.Fatalf("expected distinct calls after Forget, got %d twice", v1)
	}
	if calls != 2 {
		t.Fatalf("expected 2 calls, got %d", calls)
	}
}
