// Package staging owns the per-connection byte staging buffer.
//
// One Buffer sits between "bytes arrived on the socket" and "bytes understood
// by the decoder": the read side appends raw runs of whatever length the
// transport delivered, the decode side peeks at the contiguous unread run and
// retires exactly what it consumed. A Buffer has exactly one logical owner
// and is never shared across goroutines.
package staging

import (
	"errors"
	"fmt"
)

const (
	// DefaultInitialCapacity sizes a fresh buffer for typical socket reads.
	DefaultInitialCapacity = 4 * 1024

	// DefaultMaxCapacity bounds growth for one connection's staging space.
	DefaultMaxCapacity = 16 * 1024 * 1024
)

var (
	ErrCapacityLimit   = errors.New("staging: capacity limit exceeded")
	ErrInvalidCapacity = errors.New("staging: invalid capacity")
)

// Limits constrains how much memory one buffer may claim.
type Limits struct {
	MaxCapacity int
}

func DefaultLimits() Limits {
	return Limits{MaxCapacity: DefaultMaxCapacity}
}

// Stats counts layout events since creation.
type Stats struct {
	Grows       uint64
	Compactions uint64
}

// Buffer is a single-owner resizable byte staging area.
//
// Layout: storage[read:write] is the unread run, storage[write:cap] is free
// space for the next append. Invariant: 0 <= read <= write <= cap(storage).
// The buffer never shrinks and performs no locking.
type Buffer struct {
	storage  []byte
	read     int
	write    int
	limits   Limits
	stats    Stats
	released bool
}

// New allocates a buffer with the given initial capacity and default limits.
// A zero initial capacity is valid; the first write grows the buffer.
func New(initialCapacity int) (*Buffer, error) {
	return NewWithLimits(initialCapacity, DefaultLimits())
}

// NewWithLimits allocates a buffer with explicit growth limits. Allocation
// beyond the limit is reported as ErrCapacityLimit, never an abort.
func NewWithLimits(initialCapacity int, lim Limits) (*Buffer, error) {
	if initialCapacity < 0 {
		return nil, fmt.Errorf("%w: %d", ErrInvalidCapacity, initialCapacity)
	}
	if lim.MaxCapacity <= 0 {
		lim.MaxCapacity = DefaultMaxCapacity
	}
	if initialCapacity > lim.MaxCapacity {
		return nil, fmt.Errorf("%w: initial %d over limit %d", ErrCapacityLimit, initialCapacity, lim.MaxCapacity)
	}
	return &Buffer{
		storage: make([]byte, initialCapacity),
		limits:  lim,
	}, nil
}

// Write appends p to the unread run. Cheapest strategy wins: use trailing
// free space as-is, otherwise slide the unread run back to offset zero to
// reclaim consumed space, otherwise grow. An empty p is a no-op. On
// ErrCapacityLimit the buffer is unchanged; the write did not happen.
func (b *Buffer) Write(p []byte) error {
	b.mustLive()
	if len(p) == 0 {
		return nil
	}

	trailing := len(b.storage) - b.write
	if trailing < len(p) {
		unread := b.write - b.read
		if trailing+b.read >= len(p) {
			// Sliding the unread run back reclaims enough space.
			copy(b.storage, b.storage[b.read:b.write])
			b.read = 0
			b.write = unread
			b.stats.Compactions++
		} else {
			next := len(b.storage)*2 + len(p)
			if next > b.limits.MaxCapacity {
				if unread+len(p) > b.limits.MaxCapacity {
					return fmt.Errorf("%w: need %d, limit %d", ErrCapacityLimit, unread+len(p), b.limits.MaxCapacity)
				}
				next = b.limits.MaxCapacity
			}
			grown := make([]byte, next)
			copy(grown, b.storage[b.read:b.write])
			b.storage = grown
			b.read = 0
			b.write = unread
			b.stats.Grows++
		}
	}

	copy(b.storage[b.write:], p)
	b.write += len(p)
	return nil
}

// Len reports the number of unread bytes. A nil buffer reports 0 so callers
// can treat "no buffer yet" and "empty buffer" identically.
func (b *Buffer) Len() int {
	if b == nil {
		return 0
	}
	b.mustLive()
	return b.write - b.read
}

// Peek returns the unread run without copying. The slice is valid only until
// the next Write, Skip, or Release on this buffer.
func (b *Buffer) Peek() []byte {
	b.mustLive()
	return b.storage[b.read:b.write]
}

// Skip retires forward bytes from the front of the unread run. Consuming the
// whole run (or more) resets both cursors to the start of storage so the next
// write sees the full capacity as trailing free space. A negative forward is
// a no-op.
func (b *Buffer) Skip(forward int) {
	b.mustLive()
	if forward < 0 {
		return
	}
	if forward >= b.write-b.read {
		b.read = 0
		b.write = 0
		return
	}
	b.read += forward
}

// Cap reports the current storage capacity.
func (b *Buffer) Cap() int {
	b.mustLive()
	return len(b.storage)
}

// Stats reports grow/compaction counters since creation.
func (b *Buffer) Stats() Stats {
	b.mustLive()
	return b.stats
}

// Release drops the storage. The owner calls it exactly once; any operation
// afterward panics rather than corrupting memory.
func (b *Buffer) Release() {
	b.mustLive()
	b.storage = nil
	b.read = 0
	b.write = 0
	b.released = true
}

func (b *Buffer) mustLive() {
	if b.released {
		panic("staging: use after Release")
	}
}
