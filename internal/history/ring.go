// Package history holds the bounded and unbounded sample buffers behind the
// dashboard. Types here are not synchronized; callers serialize access.
package history

import (
	"errors"
	"fmt"
)

// ErrCapacity is returned for a non-positive ring capacity.
var ErrCapacity = errors.New("ring capacity must be at least 1")

// Ring is a fixed-capacity circular buffer. Adding to a full ring evicts the
// oldest element.
type Ring[T any] struct {
	slots []T
	next  int // index the next Add writes to
	count int
}

// NewRing allocates a ring holding at most capacity elements.
func NewRing[T any](capacity int) (*Ring[T], error) {
	if capacity < 1 {
		return nil, fmt.Errorf("%w: got %d", ErrCapacity, capacity)
	}
	return &Ring[T]{slots: make([]T, capacity)}, nil
}

// Add appends v and reports whether an element was evicted.
func (r *Ring[T]) Add(v T) (evicted bool) {
	evicted = r.count == len(r.slots)
	r.slots[r.next] = v
	r.next = (r.next + 1) % len(r.slots)
	if !evicted {
		r.count++
	}
	return evicted
}

// Len returns the number of stored elements.
func (r *Ring[T]) Len() int { return r.count }

// Cap returns the ring capacity.
func (r *Ring[T]) Cap() int { return len(r.slots) }

// Items returns a copy of the contents, oldest first.
func (r *Ring[T]) Items() []T {
	out := make([]T, 0, r.count)
	start := (r.next - r.count + len(r.slots)) % len(r.slots)
	for i := 0; i < r.count; i++ {
		out = append(out, r.slots[(start+i)%len(r.slots)])
	}
	return out
}

// Recent returns up to n elements, newest first.
func (r *Ring[T]) Recent(n int) []T {
	if n <= 0 {
		return []T{}
	}
	if n > r.count {
		n = r.count
	}
	out := make([]T, 0, n)
	for i := 1; i <= n; i++ {
		out = append(out, r.slots[(r.next-i+len(r.slots))%len(r.slots)])
	}
	return out
}

// Latest returns the newest element.
func (r *Ring[T]) Latest() (T, bool) {
	var zero T
	if r.count == 0 {
		return zero, false
	}
	return r.slots[(r.next-1+len(r.slots))%len(r.slots)], true
}

// Reset drops every element.
func (r *Ring[T]) Reset() {
	var zero T
	for i := range r.slots {
		r.slots[i] = zero
	}
	r.next, r.count = 0, 0
}
