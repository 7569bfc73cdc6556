package hft

import (
	"sync/atomic"
)

// RingBuffer is a fixed-capacity single-producer/single-consumer queue.
//
// Exactly one goroutine may call Push and exactly one (other) goroutine may call Pop.
// Use NewSPSC to get handles that enforce this split at the type level.
//
// The ring keeps one slot empty so that full (head+1 == tail) and empty (head == tail)
// can be told apart without a shared counter. A ring of capacity C therefore holds
// at most C-1 items.
//
// sync/atomic loads and stores are sequentially consistent, which is at least as strong
// as the release-store/acquire-load pairing the algorithm needs: once the consumer sees
// the new head, the slot written before it is visible too.
type RingBuffer[T any] struct {
	// Cache line padding to avoid false sharing
	_          [64]byte
	head       atomic.Uint64 // next slot the producer writes
	cachedTail uint64        // producer's last view of tail
	_          [48]byte
	tail       atomic.Uint64 // next slot the consumer reads
	cachedHead uint64        // consumer's last view of head
	_          [48]byte

	buffer []T
	mask   uint64
}

// NewRingBuffer creates a ring with the given number of slots.
// capacity must be a power of 2 and at least 2.
func NewRingBuffer[T any](capacity int) *RingBuffer[T] {
	if capacity < 2 || (capacity&(capacity-1)) != 0 {
		panic("size must be a power of 2")
	}

	return &RingBuffer[T]{
		buffer: make([]T, capacity),
		mask:   uint64(capacity - 1),
	}
}

// Push appends v. It returns false without blocking when the ring is full.
// Producer side only.
func (rb *RingBuffer[T]) Push(v T) bool {
	head := rb.head.Load()
	next := (head + 1) & rb.mask

	if next == rb.cachedTail {
		rb.cachedTail = rb.tail.Load()
		if next == rb.cachedTail {
			return false
		}
	}

	rb.buffer[head] = v
	rb.head.Store(next)
	return true
}

// Pop removes the oldest item. ok is false when the ring is empty.
// Consumer side only.
func (rb *RingBuffer[T]) Pop() (v T, ok bool) {
	tail := rb.tail.Load()

	if tail == rb.cachedHead {
		rb.cachedHead = rb.head.Load()
		if tail == rb.cachedHead {
			return v, false
		}
	}

	v = rb.buffer[tail]
	// release references held by the slot (symbols, level slices)
	var zero T
	rb.buffer[tail] = zero
	rb.tail.Store((tail + 1) & rb.mask)
	return v, true
}

// Size returns the number of buffered items.
// It races with concurrent Push/Pop and is only meant for diagnostics.
func (rb *RingBuffer[T]) Size() int {
	return int((rb.head.Load() - rb.tail.Load()) & rb.mask)
}

// Cap returns the number of slots. The ring holds at most Cap()-1 items.
func (rb *RingBuffer[T]) Cap() int {
	return len(rb.buffer)
}

// Producer is the push-only end of a ring.
type Producer[T any] struct {
	rb *RingBuffer[T]
}

// Consumer is the pop-only end of a ring.
type Consumer[T any] struct {
	rb *RingBuffer[T]
}

// NewSPSC creates a ring and returns its two ends.
// Hand the producer to exactly one goroutine and the consumer to exactly one other.
func NewSPSC[T any](capacity int) (*Producer[T], *Consumer[T]) {
	rb := NewRingBuffer[T](capacity)
	return &Producer[T]{rb: rb}, &Consumer[T]{rb: rb}
}

// Push appends v. It returns false when the ring is full.
func (p *Producer[T]) Push(v T) bool {
	return p.rb.Push(v)
}

// Size returns the approximate number of buffered items.
func (p *Producer[T]) Size() int {
	return p.rb.Size()
}

// Pop removes the oldest item.
func (c *Consumer[T]) Pop() (T, bool) {
	return c.rb.Pop()
}

// Drain pops until the ring is empty, calling fn for each item, and returns the count.
func (c *Consumer[T]) Drain(fn func(T)) int {
	n := 0
	for {
		v, ok := c.rb.Pop()
		if !ok {
			return n
		}
		fn(v)
		n++
	}
}

// Size returns the approximate number of buffered items.
func (c *Consumer[T]) Size() int {
	return c.rb.Size()
}
