// Package dedup coalesces concurrent callers requesting the same key into a
// single execution, preventing cache-stampede: many goroutines missing on
// the same expired/missing key would otherwise issue N identical origin
// loads instead of 1. It wraps golang.org/x/sync/singleflight.Group with a
// generic, typed Do so callers never type-assert the result.
package dedup

import (
	"golang.org/x/sync/singleflight"
)

// Group coalesces concurrent Do calls sharing a key.
type Group[T any] struct {
	sf singleflight.Group
}

// New creates an empty Group.
func New[T any]() *Group[T] {
	return &Group[T]{}
}

// Do executes fn for key if no call for that key is in flight, or waits for
// and shares the result of the in-flight call otherwise. shared reports
// whether the result was delivered to more than one caller (it is true for
// the caller whose fn ran as well, when others joined it).
func (g *Group[T]) Do(key string, fn func() (T, error)) (value T, shared bool, err error) {
	v, err, shared := g.sf.Do(key, func() (any, error) {
		return fn()
	})
	result, ok := v.(T)
	if !ok {
		var zero T
		return zero, shared, err
	}
	return result, shared, err
}

// Forget removes key from the in-flight set, so the next Do for key always
// executes fn rather than joining a stale call.
func (g *Group[T]) Forget(key string) {
	g.sf.Forget(key)
}
