package alloc

import (
	"errors"
	"sync/atomic"
)

// ErrExhausted is returned when an allocator has no room left for the
// requested number of indices.
var ErrExhausted = errors.New("alloc: capacity exhausted")

// ErrOutOfRange is returned for an index the allocator does not manage.
var ErrOutOfRange = errors.New("alloc: index out of range")

// ErrOverflow is returned by FreeList.Commit when released indices did not
// fit back into the list. It means an index was released twice.
var ErrOverflow = errors.New("alloc: free list overflow")

// Bump is a capacity-bounded counter allocator. Each call to Allocate reserves
// a contiguous range of positions in the backing storage; the cursor only
// moves forward until Reset or Drain.
type Bump struct {
	cursor atomic.Int64
	slots  []int32
}

// NewBump creates a bump allocator with the given capacity.
func NewBump(capacity int) *Bump {
	if capacity < 0 {
		capacity = 0
	}
	return &Bump{slots: make([]int32, capacity)}
}

// Cap returns the maximum number of positions one round can allocate.
func (b *Bump) Cap() int {
	return len(b.slots)
}

// Len returns the number of positions allocated since the last reset.
func (b *Bump) Len() int {
	n := int(b.cursor.Load())
	if n > len(b.slots) {
		return len(b.slots)
	}
	return n
}

// Allocate reserves count contiguous positions and returns the first one.
// It fails without side effects if the reservation would exceed capacity.
func (b *Bump) Allocate(count int) (int, bool) {
	if count < 0 {
		return 0, false
	}
	limit := int64(len(b.slots))
	for {
		cur := b.cursor.Load()
		next := cur + int64(count)
		if next > limit {
			return 0, false
		}
		if b.cursor.CompareAndSwap(cur, next) {
			return int(cur), true
		}
	}
}

// Push allocates a single position and stores v in it.
func (b *Bump) Push(v int32) bool {
	pos, ok := b.Allocate(1)
	if !ok {
		return false
	}
	b.slots[pos] = v
	return true
}

// Values returns the values pushed since the last reset. The returned slice
// aliases the backing storage and is only valid until the next Reset.
func (b *Bump) Values() []int32 {
	return b.slots[:b.Len()]
}

// Drain returns a copy of the pushed values and resets the cursor.
func (b *Bump) Drain() []int32 {
	out := make([]int32, b.Len())
	copy(out, b.slots)
	b.Reset()
	return out
}

// Reset rewinds the cursor to zero.
func (b *Bump) Reset() {
	b.cursor.Store(0)
}

// Resize replaces the backing storage and rewinds the cursor.
func (b *Bump) Resize(capacity int) {
	if capacity < 0 {
		capacity = 0
	}
	b.slots = make([]int32, capacity)
	b.cursor.Store(0)
}
