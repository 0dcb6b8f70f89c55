// Package buffer provides the bounded drop-oldest ring used between stream
// producers and their consumers. When a consumer falls behind, the oldest
// samples are discarded so the producer never blocks and the buffer never
// grows past its capacity.
package buffer

import (
	"context"
	"errors"
	"sync"
)

// ErrClosed is returned by Recv once the ring is closed and drained.
var ErrClosed = errors.New("buffer: closed")

// DefaultCapacity is used when NewRing is given a non-positive capacity.
const DefaultCapacity = 16

// Ring is a thread-safe bounded ring buffer. Push never blocks: when the ring
// is full, the oldest element is dropped to make room.
type Ring[T any] struct {
	mu       sync.Mutex
	cond     *sync.Cond
	buf      []T
	head     int // read position
	tail     int // write position
	count    int
	capacity int
	closed   bool

	dropped int64
}

// NewRing creates a ring with the given capacity. Non-positive capacities are
// replaced by DefaultCapacity.
func NewRing[T any](capacity int) *Ring[T] {
	if capacity < 1 {
		capacity = DefaultCapacity
	}
	r := &Ring[T]{
		buf:      make([]T, capacity),
		capacity: capacity,
	}
	r.cond = sync.NewCond(&r.mu)
	return r
}

// Push adds an element, dropping the oldest one when full. Returns false if
// the ring is closed.
func (r *Ring[T]) Push(item T) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.closed {
		return false
	}

	if r.count == r.capacity {
		// Overwrite the oldest element.
		var zero T
		r.buf[r.head] = zero
		r.head = (r.head + 1) % r.capacity
		r.count--
		r.dropped++
	}

	r.buf[r.tail] = item
	r.tail = (r.tail + 1) % r.capacity
	r.count++

	r.cond.Signal()
	return true
}

// Recv removes and returns the oldest element, blocking until one is
// available, the ring is closed and drained (ErrClosed), or ctx is done.
func (r *Ring[T]) Recv(ctx context.Context) (T, error) {
	var zero T

	stop := context.AfterFunc(ctx, func() {
		r.mu.Lock()
		r.cond.Broadcast()
		r.mu.Unlock()
	})
	defer stop()

	r.mu.Lock()
	defer r.mu.Unlock()

	for r.count == 0 && !r.closed && ctx.Err() == nil {
		r.cond.Wait()
	}

	if r.count == 0 {
		if err := ctx.Err(); err != nil {
			return zero, err
		}
		return zero, ErrClosed
	}

	item := r.buf[r.head]
	r.buf[r.head] = zero
	r.head = (r.head + 1) % r.capacity
	r.count--

	return item, nil
}

// TryRecv removes and returns the oldest element without blocking.
func (r *Ring[T]) TryRecv() (T, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	var zero T
	if r.count == 0 {
		return zero, false
	}

	item := r.buf[r.head]
	r.buf[r.head] = zero
	r.head = (r.head + 1) % r.capacity
	r.count--

	return item, true
}

// PollLatest removes and returns the newest element, discarding everything
// older. Returns false if the ring is empty. Intended for latest-value
// consumers such as display refresh, where stale samples have no use.
func (r *Ring[T]) PollLatest() (T, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	var zero T
	if r.count == 0 {
		return zero, false
	}

	newest := (r.tail - 1 + r.capacity) % r.capacity
	item := r.buf[newest]

	skipped := int64(r.count - 1)
	r.dropped += skipped

	for i := 0; i < r.count; i++ {
		r.buf[r.head] = zero
		r.head = (r.head + 1) % r.capacity
	}
	r.count = 0

	return item, true
}

// Close closes the ring. Push returns false afterwards; blocked receivers
// drain remaining elements and then get ErrClosed.
func (r *Ring[T]) Close() {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.closed = true
	r.cond.Broadcast()
}

// Len returns the number of buffered elements.
func (r *Ring[T]) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.count
}

// Cap returns the fixed capacity.
func (r *Ring[T]) Cap() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.capacity
}

// Dropped returns the number of elements discarded so far, whether by
// overwrite on Push or by PollLatest skipping stale samples.
func (r *Ring[T]) Dropped() int64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.dropped
}
