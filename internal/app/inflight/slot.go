// Package inflight provides a single-slot handle for an operation that many
// callers may ask for at once. Callers asking for the same key share one
// execution and observe the same outcome.
package inflight

import (
	"context"
	"errors"
	"sync"
)

// ErrBusy is returned by Acquire when the slot holds a call for another key.
var ErrBusy = errors.New("inflight: slot busy")

// Call is one in-flight operation. It completes exactly once.
type Call[T any] struct {
	key  string
	done chan struct{}
	once sync.Once
	val  T
	err  error
}

func newCall[T any](key string) *Call[T] {
	return &Call[T]{key: key, done: make(chan struct{})}
}

func (c *Call[T]) Key() string { return c.key }

// Done is closed once the call has a result.
func (c *Call[T]) Done() <-chan struct{} { return c.done }

// Wait blocks until the call completes or ctx ends.
func (c *Call[T]) Wait(ctx context.Context) (T, error) {
	select {
	case <-c.done:
		return c.val, c.err
	case <-ctx.Done():
		var zero T
		return zero, ctx.Err()
	}
}

// complete reports whether this invocation set the result.
func (c *Call[T]) complete(val T, err error) bool {
	set := false
	c.once.Do(func() {
		c.val, c.err = val, err
		close(c.done)
		set = true
	})
	return set
}

// Slot holds at most one Call at a time.
type Slot[T any] struct {
	mu   sync.Mutex
	call *Call[T]
}

// Acquire claims the slot for key. If a call for the same key is already in
// flight it is returned with owned=false. If a call for a different key holds
// the slot, that call is returned together with ErrBusy so the caller can
// await it and retry.
func (s *Slot[T]) Acquire(key string) (c *Call[T], owned bool, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.call != nil {
		if s.call.key == key {
			return s.call, false, nil
		}
		return s.call, false, ErrBusy
	}
	s.call = newCall[T](key)
	return s.call, true, nil
}

// Release publishes the result of c and frees the slot if c still holds it.
// Releasing an already completed call is a no-op for the result.
func (s *Slot[T]) Release(c *Call[T], val T, err error) {
	s.mu.Lock()
	if s.call == c {
		s.call = nil
	}
	s.mu.Unlock()
	c.complete(val, err)
}

// Drop frees the slot held by c and resolves its waiters with val/err
// without waiting for the owner. It reports whether c still held the slot.
func (s *Slot[T]) Drop(c *Call[T], val T, err error) bool {
	s.mu.Lock()
	held := s.call == c
	if held {
		s.call = nil
	}
	s.mu.Unlock()
	if held {
		c.complete(val, err)
	}
	return held
}

// Current returns the in-flight call, or nil.
func (s *Slot[T]) Current() *Call[T] {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.call
}

// Do runs fn under the slot for key, sharing the result with concurrent
// callers of the same key. Callers of a different key wait for the current
// call to finish and then try again.
func (s *Slot[T]) Do(ctx context.Context, key string, fn func() (T, error)) (T, error) {
	for {
		c, owned, err := s.Acquire(key)
		if errors.Is(err, ErrBusy) {
			select {
			case <-c.Done():
				continue
			case <-ctx.Done():
				var zero T
				return zero, ctx.Err()
			}
		}
		if !owned {
			return c.Wait(ctx)
		}
		val, err := fn()
		s.Release(c, val, err)
		return val, err
	}
}
