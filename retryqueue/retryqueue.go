// Package retryqueue implements a scheduled, deduped, bounded retry queue:
// failed publishes are enqueued, retried with backoff on a
// self-rescheduling timer, and dead-lettered after maxAttempts.
package retryqueue

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/time/rate"
)

// Backoff computes the delay before the nth retry (n starts at 1, the
// first retry after the initial failure).
type Backoff func(attempt int, base time.Duration) time.Duration

// Exponential is base * 2^(attempt-1).
func Exponential(attempt int, base time.Duration) time.Duration {
	d := base
	for i := 1; i < attempt; i++ {
		d *= 2
	}
	return d
}

// Linear is base * attempt.
func Linear(attempt int, base time.Duration) time.Duration {
	return base * time.Duration(attempt)
}

// Fibonacci is base * fib(attempt).
func Fibonacci(attempt int, base time.Duration) time.Duration {
	a, b := 1, 1
	for i := 1; i < attempt; i++ {
		a, b = b, a+b
	}
	return base * time.Duration(a)
}

// DeadLetterError is the terminal error passed to OnDeadLetter once a
// message exhausts MaxAttempts.
type DeadLetterError struct {
	Channel  string
	Attempts int
	LastErr  error
}

func (e *DeadLetterError) Error() string {
	return "retryqueue: dead letter after " + itoa(e.Attempts) + " attempts: " + e.LastErr.Error()
}

func (e *DeadLetterError) Unwrap() error { return e.LastErr }

func itoa(n int) string {
	if n == 0 {
		return "0"
	}
	neg := n < 0
	if neg {
		n = -n
	}
	var buf [20]byte
	i := len(buf)
	for n > 0 {
		i--
		buf[i] = byte('0' + n%10)
		n /= 10
	}
	if neg {
		i--
		buf[i] = '-'
	}
	return string(buf[i:])
}

// message is a queued retry entry.
type message struct {
	id          string
	channel     string
	payload     []byte
	attempts    int
	nextRetryAt time.Time
	lastError   error
}

// Config configures a Queue.
type Config struct {
	MaxAttempts      int
	BaseDelay        time.Duration
	Interval         time.Duration // scheduler tick period
	Backoff          Backoff
	RemoveDuplicates bool
	MaxSize          int
	Concurrency      int
	// RatePerSecond, if > 0, additionally caps how many retry publishes per
	// second the scheduler issues, on top of the per-tick Concurrency
	// batch size.
	RatePerSecond float64

	OnRetry      func(channel string, payload []byte, attempt int)
	OnDeadLetter func(channel string, payload []byte, err *DeadLetterError)
}

func (c Config) backoff() Backoff {
	if c.Backoff != nil {
		return c.Backoff
	}
	return Exponential
}

// Queue is a keyed, bounded, self-rescheduling retry queue.
type Queue struct {
	cfg     Config
	publish func(ctx context.Context, channel string, data []byte) error
	limiter *rate.Limiter

	mu       sync.Mutex
	messages map[string]*message
	order    []string // insertion order, for deterministic batch selection

	cancel context.CancelFunc
	done   chan struct{}
}

// New creates a Queue that retries via publish (typically the base
// transport's Publish, reached directly so retries do not re-enter the
// Retry middleware that feeds this queue).
func New(cfg Config, publish func(ctx context.Context, channel string, data []byte) error) *Queue {
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = 5
	}
	if cfg.BaseDelay <= 0 {
		cfg.BaseDelay = 100 * time.Millisecond
	}
	if cfg.Interval <= 0 {
		cfg.Interval = 50 * time.Millisecond
	}
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = 4
	}
	var limiter *rate.Limiter
	if cfg.RatePerSecond > 0 {
		limiter = rate.NewLimiter(rate.Limit(cfg.RatePerSecond), cfg.Concurrency)
	}
	return &Queue{
		cfg:      cfg,
		publish:  publish,
		limiter:  limiter,
		messages: make(map[string]*message),
	}
}

// Start begins the self-rescheduling scheduler loop. Calling Start twice
// without an intervening Stop is a no-op.
func (q *Queue) Start(ctx context.Context) {
	q.mu.Lock()
	if q.cancel != nil {
		q.mu.Unlock()
		return
	}
	ctx, cancel := context.WithCancel(ctx)
	q.cancel = cancel
	q.done = make(chan struct{})
	q.mu.Unlock()

	go q.loop(ctx)
}

// Stop cancels the scheduler loop and waits for it to exit.
func (q *Queue) Stop() {
	q.mu.Lock()
	cancel := q.cancel
	done := q.done
	q.cancel = nil
	q.mu.Unlock()
	if cancel == nil {
		return
	}
	cancel()
	<-done
}

func (q *Queue) loop(ctx context.Context) {
	defer close(q.done)
	timer := time.NewTimer(q.cfg.Interval)
	defer timer.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-timer.C:
			q.tick(ctx)
			timer.Reset(q.cfg.Interval)
		}
	}
}

// id computes the content-addressed id used for dedup (hash of
// channel||payload).
func id(channel string, payload []byte) string {
	h := sha256.New()
	h.Write([]byte(channel))
	h.Write([]byte{0})
	h.Write(payload)
	return hex.EncodeToString(h.Sum(nil))
}

// ErrQueueFull is returned by Enqueue when the queue is at MaxSize and the
// message is not a dedup match for an already-queued one.
var ErrQueueFull = queueFullError{}

type queueFullError struct{}

func (queueFullError) Error() string { return "retryqueue: queue full" }

// Enqueue adds a failed publish to the queue. A duplicate (when dedup is
// enabled) is dropped silently; an enqueue that would exceed MaxSize and is
// not such a duplicate returns ErrQueueFull.
func (q *Queue) Enqueue(channel string, payload []byte, err error) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	var msgID string
	if q.cfg.RemoveDuplicates {
		msgID = id(channel, payload)
		if _, exists := q.messages[msgID]; exists {
			return nil
		}
	} else {
		// Content hashing is off, so there is no natural dedup key; a
		// random id keeps every enqueue distinct instead of colliding.
		msgID = uuid.NewString()
	}

	if q.cfg.MaxSize > 0 && len(q.messages) >= q.cfg.MaxSize {
		return ErrQueueFull
	}

	m := &message{
		id:          msgID,
		channel:     channel,
		payload:     payload,
		attempts:    0,
		nextRetryAt: time.Now().Add(q.cfg.BaseDelay),
		lastError:   err,
	}
	q.messages[msgID] = m
	q.order = append(q.order, msgID)
	return nil
}

// Len reports the number of currently queued messages.
func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.messages)
}

func (q *Queue) tick(ctx context.Context) {
	ready := q.snapshotReady()
	if len(ready) == 0 {
		return
	}

	for i := 0; i < len(ready); i += q.cfg.Concurrency {
		end := i + q.cfg.Concurrency
		if end > len(ready) {
			end = len(ready)
		}
		batch := ready[i:end]

		var wg sync.WaitGroup
		for _, m := range batch {
			wg.Add(1)
			go func(m *message) {
				defer wg.Done()
				q.attempt(ctx, m)
			}(m)
		}
		wg.Wait()
	}
}

func (q *Queue) snapshotReady() []*message {
	now := time.Now()
	q.mu.Lock()
	defer q.mu.Unlock()
	var ready []*message
	for _, id := range q.order {
		m, ok := q.messages[id]
		if ok && !now.Before(m.nextRetryAt) {
			ready = append(ready, m)
		}
	}
	return ready
}

func (q *Queue) attempt(ctx context.Context, m *message) {
	if q.limiter != nil {
		if err := q.limiter.Wait(ctx); err != nil {
			return
		}
	}

	q.mu.Lock()
	m.attempts++
	attempt := m.attempts
	q.mu.Unlock()

	if q.cfg.OnRetry != nil {
		safeCall(func() { q.cfg.OnRetry(m.channel, m.payload, attempt) })
	}

	err := q.publish(ctx, m.channel, m.payload)
	if err == nil {
		q.remove(m.id)
		return
	}

	q.mu.Lock()
	m.lastError = err
	if m.attempts >= q.cfg.MaxAttempts {
		q.mu.Unlock()
		q.remove(m.id)
		if q.cfg.OnDeadLetter != nil {
			dle := &DeadLetterError{Channel: m.channel, Attempts: m.attempts, LastErr: err}
			safeCall(func() { q.cfg.OnDeadLetter(m.channel, m.payload, dle) })
		}
		return
	}
	m.nextRetryAt = time.Now().Add(q.cfg.backoff()(m.attempts, q.cfg.BaseDelay))
	q.mu.Unlock()
}

func (q *Queue) remove(id string) {
	q.mu.Lock()
	defer q.mu.Unlock()
	delete(q.messages, id)
	for i, oid := range q.order {
		if oid == id {
			q.order = append(q.order[:i], q.order[i+1:]...)
			break
		}
	}
}

func safeCall(f func()) {
	defer func() { _ = recover() }()
	f()
}
