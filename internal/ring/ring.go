// Package ring implements the block ring buffer described in Module A: a
// fixed-capacity single-producer/single-consumer queue of motion blocks.
//
// The producer (the planner, driven by upstream plan_buffer_line calls) owns
// head and next_head. The consumer (the step ISR) owns tail. Neither side
// touches the other's index, and the block payload at index tail is owned
// exclusively by the consumer for the lifetime of its execution -- the
// planner's re-plan passes must never reach it (see Planner.Recalculate).
package ring

import "fmt"

// Ring is a fixed-capacity SPSC ring buffer of blocks. The zero value is not
// usable; construct with New.
type Ring[T any] struct {
	buf      []T
	head     int // next free slot for the producer
	tail     int // slot currently executing, owned by the consumer
	nextHead int // precomputed head+1 mod capacity

	tailBorrowed bool // consumer has checked out the tail block for execution
}

// New creates a ring with the given capacity. Capacity must be at least 2,
// since one slot is always kept empty to distinguish full from empty.
func New[T any](capacity int) *Ring[T] {
	if capacity < 2 {
		panic(fmt.Sprintf("ring: capacity must be >= 2, got %d", capacity))
	}
	return &Ring[T]{buf: make([]T, capacity), nextHead: 1 % capacity}
}

// Capacity returns the number of usable slots (buffer length minus one).
func (r *Ring[T]) Capacity() int {
	return len(r.buf) - 1
}

// Empty reports whether the ring holds no blocks.
func (r *Ring[T]) Empty() bool {
	return r.head == r.tail
}

// Full reports whether the ring has no room for another reserve.
func (r *Ring[T]) Full() bool {
	return r.nextHead == r.tail
}

// Reserve returns a writable slot at next_head for the producer to fill in
// place, or ok=false if the ring is full. The caller must call Commit once
// the slot has been fully written.
func (r *Ring[T]) Reserve() (slot *T, ok bool) {
	if r.Full() {
		return nil, false
	}
	return &r.buf[r.head], true
}

// Commit publishes the slot most recently returned by Reserve, advancing
// head. Must only be called by the producer, and only after the slot is
// completely written -- the consumer may observe the new head the instant
// this returns.
func (r *Ring[T]) Commit() {
	r.head = r.nextHead
	r.nextHead = (r.head + 1) % len(r.buf)
}

// PeekTail returns a borrow of the block at tail, or ok=false if the ring is
// empty. A read-only look: it does not transfer ownership, so the producer
// may use it too (the planner re-profiles an unborrowed tail through it).
// Consumers popping a block for execution use BorrowTail instead.
func (r *Ring[T]) PeekTail() (blk *T, ok bool) {
	if r.Empty() {
		return nil, false
	}
	return &r.buf[r.tail], true
}

// BorrowTail is PeekTail plus an ownership transfer: the returned block is
// checked out to the consumer for the lifetime of its execution, and the
// producer's replan passes will leave it alone until DiscardTail releases
// it. The step ISR pops blocks through this, never through PeekTail.
func (r *Ring[T]) BorrowTail() (blk *T, ok bool) {
	if r.Empty() {
		return nil, false
	}
	r.tailBorrowed = true
	return &r.buf[r.tail], true
}

// TailBorrowed reports whether the consumer currently holds the tail block.
// While false, the tail payload is still producer-owned and may be
// re-profiled (its exit speed raised when a successor arrives).
func (r *Ring[T]) TailBorrowed() bool { return r.tailBorrowed }

// DiscardTail advances tail, releasing the block most recently returned by
// PeekTail or BorrowTail. Only the consumer may call this, and only after
// it has finished with the block.
func (r *Ring[T]) DiscardTail() {
	if r.Empty() {
		return
	}
	r.tail = (r.tail + 1) % len(r.buf)
	r.tailBorrowed = false
}

// IterPlanned walks the queued-but-not-executing blocks in reverse order,
// from the newest (head-1) back to -- but not including -- tail, which
// belongs to the consumer. fn is called with the block's ring index and a
// pointer into the buffer; returning false stops the traversal early.
//
// This is the traversal the planner's reverse pass and rate recompute use
// (Module C); it never yields the tail slot, satisfying invariant 6.
func (r *Ring[T]) IterPlanned(fn func(idx int, blk *T) bool) {
	if r.Empty() {
		return
	}
	for i := (r.head - 1 + len(r.buf)) % len(r.buf); i != r.tail; i = (i - 1 + len(r.buf)) % len(r.buf) {
		if !fn(i, &r.buf[i]) {
			return
		}
	}
}

// IterPlannedForward walks the same span as IterPlanned but oldest-first,
// i.e. from the block immediately after tail up to the newest. Used by the
// planner's forward pass (Module C step 4).
func (r *Ring[T]) IterPlannedForward(fn func(idx int, blk *T) bool) {
	if r.Empty() {
		return
	}
	start := (r.tail + 1) % len(r.buf)
	if start == r.head {
		return
	}
	for i := start; i != r.head; i = (i + 1) % len(r.buf) {
		if !fn(i, &r.buf[i]) {
			return
		}
	}
}

// At returns a pointer to the block at the given ring index, for callers
// that already have an index from IterPlanned/IterPlannedForward and want
// direct access (e.g. the planner comparing a block to its predecessor).
func (r *Ring[T]) At(idx int) *T {
	return &r.buf[idx]
}

// Prev returns the ring index immediately before idx, wrapping around the
// buffer. It does not check bounds against head/tail.
func (r *Ring[T]) Prev(idx int) int {
	return (idx - 1 + len(r.buf)) % len(r.buf)
}

// Next returns the ring index immediately after idx, wrapping around the
// buffer.
func (r *Ring[T]) Next(idx int) int {
	return (idx + 1) % len(r.buf)
}

// Head returns the current head index (next free slot). Exposed for tests
// and for callers that need to compare a remembered index against head.
func (r *Ring[T]) Head() int { return r.head }

// Tail returns the current tail index (slot under execution).
func (r *Ring[T]) Tail() int { return r.tail }

// Reset empties the ring without touching the underlying slots' contents --
// callers that need a clean slate (abort/reset, spec.md Module G "Any ->
// Init") should also reinitialize the slot contents themselves if reuse of
// stale data would be observable.
func (r *Ring[T]) Reset() {
	r.head = 0
	r.tail = 0
	r.nextHead = 1 % len(r.buf)
	r.tailBorrowed = false
}

// Len returns the number of blocks currently queued (including the one
// under execution at tail).
func (r *Ring[T]) Len() int {
	if r.head >= r.tail {
		return r.head - r.tail
	}
	return len(r.buf) - r.tail + r.head
}
