// Package ring provides the fixed-capacity single-producer single-consumer
// buffers joining the planner, the interpolator and the step ISR.
//
// Items are filled and consumed in place. The write index is stored only by
// the Producer and the read index only by the Consumer; both are atomics so
// a consumer running in interrupt context always sees whole index updates.
// One slot stays free to tell a full ring from an empty one.
package ring

import "sync/atomic"

// Ring is the shared storage. Use Split to obtain the two endpoints.
type Ring[T any] struct {
	slots []T
	read  atomic.Uint32
	write atomic.Uint32
	split bool
}

// noCopy makes `go vet` flag copies of the endpoint handles
type noCopy struct{}

func (*noCopy) Lock()   {}
func (*noCopy) Unlock() {}

// Producer is the writing endpoint. There is exactly one per Ring.
type Producer[T any] struct {
	noCopy noCopy
	r      *Ring[T]
}

// Consumer is the reading endpoint. There is exactly one per Ring.
type Consumer[T any] struct {
	noCopy noCopy
	r      *Ring[T]
}

// New allocates a ring holding up to capacity items
func New[T any](capacity int) *Ring[T] {
	if capacity < 1 {
		capacity = 1
	}
	return &Ring[T]{slots: make([]T, capacity+1)}
}

// Split hands out the producer and consumer endpoints. It panics when
// called twice, so each index keeps a single writer.
func (r *Ring[T]) Split() (*Producer[T], *Consumer[T]) {
	if r.split {
		panic("ring: endpoints already taken")
	}
	r.split = true
	return &Producer[T]{r: r}, &Consumer[T]{r: r}
}

func (r *Ring[T]) next(i uint32) uint32 {
	i++
	if i == uint32(len(r.slots)) {
		return 0
	}
	return i
}

func (r *Ring[T]) prev(i uint32) uint32 {
	if i == 0 {
		return uint32(len(r.slots)) - 1
	}
	return i - 1
}

// Cap returns the number of items the ring can hold
func (r *Ring[T]) Cap() int {
	return len(r.slots) - 1
}

// Len returns the number of committed items
func (r *Ring[T]) Len() int {
	w, rd := r.write.Load(), r.read.Load()
	if w >= rd {
		return int(w - rd)
	}
	return int(w) + len(r.slots) - int(rd)
}

// Free returns the number of slots available to the producer
func (r *Ring[T]) Free() int {
	return r.Cap() - r.Len()
}

// Empty reports whether no item is committed
func (r *Ring[T]) Empty() bool {
	return r.read.Load() == r.write.Load()
}

// Full reports whether the producer must wait
func (r *Ring[T]) Full() bool {
	return r.next(r.write.Load()) == r.read.Load()
}

// At returns the committed item n positions after the oldest one.
// It returns nil when n is out of range.
func (r *Ring[T]) At(n int) *T {
	if n < 0 || n >= r.Len() {
		return nil
	}
	idx := int(r.read.Load()) + n
	if idx >= len(r.slots) {
		idx -= len(r.slots)
	}
	return &r.slots[idx]
}

// Reset discards everything. Both sides must be quiescent (ISR stopped).
func (r *Ring[T]) Reset() {
	var zero T
	for i := range r.slots {
		r.slots[i] = zero
	}
	r.read.Store(0)
	r.write.Store(0)
}

// Ring returns the shared storage for read-only inspection
func (p *Producer[T]) Ring() *Ring[T] {
	return p.r
}

// Full reports whether there is no free slot
func (p *Producer[T]) Full() bool {
	return p.r.Full()
}

// Slot returns the slot the next Commit publishes, or nil when full.
// The slot keeps whatever it held last time; callers reset it.
func (p *Producer[T]) Slot() *T {
	w := p.r.write.Load()
	if p.r.next(w) == p.r.read.Load() {
		return nil
	}
	return &p.r.slots[w]
}

// Commit publishes the slot returned by Slot. It returns false when full.
func (p *Producer[T]) Commit() bool {
	w := p.r.write.Load()
	n := p.r.next(w)
	if n == p.r.read.Load() {
		return false
	}
	p.r.write.Store(n)
	return true
}

// Newest returns the most recently committed item, or nil when empty
func (p *Producer[T]) Newest() *T {
	w, rd := p.r.write.Load(), p.r.read.Load()
	if w == rd {
		return nil
	}
	return &p.r.slots[p.r.prev(w)]
}

// Ring returns the shared storage for read-only inspection
func (c *Consumer[T]) Ring() *Ring[T] {
	return c.r
}

// Empty reports whether there is nothing to consume
func (c *Consumer[T]) Empty() bool {
	return c.r.Empty()
}

// Peek returns the oldest committed item, or nil when empty
func (c *Consumer[T]) Peek() *T {
	rd := c.r.read.Load()
	if rd == c.r.write.Load() {
		return nil
	}
	return &c.r.slots[rd]
}

// Release retires the oldest item. It returns false when empty.
func (c *Consumer[T]) Release() bool {
	rd := c.r.read.Load()
	if rd == c.r.write.Load() {
		return false
	}
	c.r.read.Store(c.r.next(rd))
	return true
}
