package alloc

import (
	"sort"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBump_Allocate(t *testing.T) {
	t.Run("contiguous ranges within capacity", func(t *testing.T) {
		b := NewBump(8)

		base, ok := b.Allocate(3)
		require.True(t, ok)
		assert.Equal(t, 0, base)

		base, ok = b.Allocate(5)
		require.True(t, ok)
		assert.Equal(t, 3, base)
		assert.Equal(t, 8, b.Len())
	})

	t.Run("overflow fails without partial effect", func(t *testing.T) {
		b := NewBump(4)
		_, ok := b.Allocate(3)
		require.True(t, ok)

		_, ok = b.Allocate(2)
		assert.False(t, ok)
		assert.Equal(t, 3, b.Len(), "failed allocation must not move the cursor")

		base, ok := b.Allocate(1)
		require.True(t, ok)
		assert.Equal(t, 3, base)
	})

	t.Run("negative count is rejected", func(t *testing.T) {
		b := NewBump(4)
		_, ok := b.Allocate(-1)
		assert.False(t, ok)
	})

	t.Run("reset rewinds the cursor", func(t *testing.T) {
		b := NewBump(2)
		require.True(t, b.Push(7))
		require.True(t, b.Push(9))
		assert.False(t, b.Push(11))

		assert.Equal(t, []int32{7, 9}, b.Drain())
		assert.Equal(t, 0, b.Len())
		assert.True(t, b.Push(11))
	})
}

// TestBump_ConcurrentAllocate verifies the atomic-counter contract: the
// positions handed out to concurrent callers form a permutation of a
// contiguous range.
func TestBump_ConcurrentAllocate(t *testing.T) {
	const capacity = 1000
	const callers = 64
	b := NewBump(capacity)

	var mu sync.Mutex
	var got []int
	var wg sync.WaitGroup
	wg.Add(callers)
	for i := 0; i < callers; i++ {
		go func() {
			defer wg.Done()
			for {
				base, ok := b.Allocate(3)
				if !ok {
					return
				}
				mu.Lock()
				got = append(got, base, base+1, base+2)
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	sort.Ints(got)
	require.Len(t, got, 999, "333 full ranges of 3 fit into 1000")
	for i, v := range got {
		assert.Equal(t, i, v)
	}
}

func TestFreeList_Deallocate(t *testing.T) {
	f := NewFreeList(3)
	assert.Equal(t, 3, f.Len())
	assert.Equal(t, 3, f.Cap())

	for want := int32(0); want < 3; want++ {
		idx, ok := f.Deallocate()
		require.True(t, ok)
		assert.Equal(t, want, idx)
	}

	_, ok := f.Deallocate()
	assert.False(t, ok, "an exhausted list reports failure")
	assert.Equal(t, 0, f.Len())
}

func TestFreeList_ReleaseIsVisibleAfterCommit(t *testing.T) {
	f := NewFreeList(2)
	a, _ := f.Deallocate()
	b, _ := f.Deallocate()

	require.NoError(t, f.Release(a))
	assert.Equal(t, 1, f.Pending())

	_, ok := f.Deallocate()
	assert.False(t, ok, "released index must not be reissued before commit")

	require.NoError(t, f.Commit())
	assert.Equal(t, 1, f.Len())
	idx, ok := f.Deallocate()
	require.True(t, ok)
	assert.Equal(t, a, idx)

	require.NoError(t, f.Release(b))
	require.NoError(t, f.Release(a))
	require.NoError(t, f.Commit())
	assert.Equal(t, 2, f.Len())
}

func TestFreeList_ReleaseOutOfRange(t *testing.T) {
	f := NewFreeList(2)
	assert.ErrorIs(t, f.Release(5), ErrOutOfRange)
	assert.ErrorIs(t, f.Release(-1), ErrOutOfRange)
	assert.Zero(t, f.Pending())
}

func TestFreeList_CommitReportsOverflow(t *testing.T) {
	// Arrange: index 0 is still free, so releasing it again is a double release.
	f := NewFreeList(2)
	a, ok := f.Deallocate()
	require.True(t, ok)
	require.NoError(t, f.Release(a))
	require.NoError(t, f.Release(a))

	// Act
	err := f.Commit()

	// Assert
	assert.ErrorIs(t, err, ErrOverflow)
	assert.ErrorContains(t, err, "dropped 1 released indices")
	assert.Equal(t, 2, f.Len())
	assert.Zero(t, f.Pending())
}

func TestFreeList_CommitCompactsConsumedEntries(t *testing.T) {
	f := NewFreeList(5)
	for i := 0; i < 3; i++ {
		_, ok := f.Deallocate()
		require.True(t, ok)
	}
	require.NoError(t, f.Release(1))
	require.NoError(t, f.Commit())

	var got []int32
	for {
		idx, ok := f.Deallocate()
		if !ok {
			break
		}
		got = append(got, idx)
	}
	assert.Equal(t, []int32{3, 4, 1}, got)
}

func TestFreeList_ConcurrentDeallocate(t *testing.T) {
	const capacity = 512
	f := NewFreeList(capacity)

	var mu sync.Mutex
	seen := make(map[int32]int)
	var wg sync.WaitGroup
	wg.Add(32)
	for i := 0; i < 32; i++ {
		go func() {
			defer wg.Done()
			for {
				idx, ok := f.Deallocate()
				if !ok {
					return
				}
				mu.Lock()
				seen[idx]++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	require.Len(t, seen, capacity)
	for idx, n := range seen {
		assert.Equal(t, 1, n, "index %d issued more than once", idx)
	}
}

func TestFreeList_Reset(t *testing.T) {
	f := NewFreeList(2)
	f.Deallocate()
	f.Reset(4)
	assert.Equal(t, 4, f.Len())
	assert.Equal(t, 0, f.Pending())
}
