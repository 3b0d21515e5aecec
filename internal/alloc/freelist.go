package alloc

import (
	"fmt"
	"sync/atomic"
)

// FreeList hands out indices that do not currently own live data.
//
// Deallocate pops from the front of the list with an atomic cursor. Indices
// given back with Release are staged in a bump buffer and only become
// available again after Commit, so an index released in round N is never
// reissued within round N.
type FreeList struct {
	head     atomic.Int64
	entries  []int32
	released *Bump
}

// NewFreeList creates a free list holding every index in [0, capacity).
func NewFreeList(capacity int) *FreeList {
	f := &FreeList{}
	f.Reset(capacity)
	return f
}

// Cap returns the total number of indices the list manages.
func (f *FreeList) Cap() int {
	return cap(f.entries)
}

// Len returns the number of indices currently available to Deallocate.
func (f *FreeList) Len() int {
	n := len(f.entries) - int(f.head.Load())
	if n < 0 {
		return 0
	}
	return n
}

// Pending returns the number of released indices waiting for Commit.
func (f *FreeList) Pending() int {
	return f.released.Len()
}

// Deallocate takes one free index. It reports false once the list is
// exhausted; that is how pool-full backpressure reaches a spawn.
func (f *FreeList) Deallocate() (int32, bool) {
	limit := int64(len(f.entries))
	for {
		cur := f.head.Load()
		if cur >= limit {
			return 0, false
		}
		if f.head.CompareAndSwap(cur, cur+1) {
			return f.entries[cur], true
		}
	}
}

// Release stages an index for reuse after the next Commit.
func (f *FreeList) Release(index int32) error {
	if index < 0 || int(index) >= f.Cap() {
		return fmt.Errorf("release of index %d outside [0, %d): %w", index, f.Cap(), ErrOutOfRange)
	}
	if !f.released.Push(index) {
		return fmt.Errorf("release of index %d: %w", index, ErrExhausted)
	}
	return nil
}

// Commit compacts consumed entries away and appends every released index.
// It is a round-boundary operation. Released indices that no longer fit are
// counted in the returned ErrOverflow error; the list stays usable.
func (f *FreeList) Commit() error {
	head := int(f.head.Load())
	if head > len(f.entries) {
		head = len(f.entries)
	}
	n := copy(f.entries, f.entries[head:])
	f.entries = f.entries[:n]
	dropped := 0
	for _, idx := range f.released.Values() {
		if len(f.entries) == cap(f.entries) {
			dropped++
			continue
		}
		f.entries = append(f.entries, idx)
	}
	f.released.Reset()
	f.head.Store(0)
	if dropped > 0 {
		return fmt.Errorf("commit dropped %d released indices: %w", dropped, ErrOverflow)
	}
	return nil
}

// Reset refills the list with every index in [0, capacity).
func (f *FreeList) Reset(capacity int) {
	if capacity < 0 {
		capacity = 0
	}
	f.entries = make([]int32, capacity)
	for i := range f.entries {
		f.entries[i] = int32(i)
	}
	f.released = NewBump(capacity)
	f.head.Store(0)
}
