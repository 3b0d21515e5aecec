package group

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/vk/wavefront/internal/alloc"
	"github.com/vk/wavefront/internal/future"
	"github.com/vk/wavefront/internal/pool"
)

type counterState struct {
	Seen int `cty:"seen"`
}

type counterPayload struct {
	Target int `cty:"target"`
	Count  int `cty:"count"`
}

// countTo finishes a task once it has been polled Target times.
func countTo() future.Future[counterState, counterPayload] {
	return future.Func("count", 1, func(inv *future.Invocation[counterState, counterPayload]) future.Poll {
		inv.State.Seen = inv.Polls
		inv.Payload.Count++
		if inv.Payload.Count >= inv.Payload.Target {
			return future.Ready
		}
		return future.Pending
	})
}

type noHost struct{}

var errNoHost = errors.New("no host")

func (noHost) Spawn(pool.TypeID, []byte, pool.Ref) (pool.Ref, error) { return pool.None, errNoHost }
func (noHost) Status(pool.Ref) pool.Status { return pool.DoesNotExist }
func (noHost) ReadPayload(pool.Ref) ([]byte, error) { return nil, errNoHost }
func (noHost) Reap(pool.Ref) error { return errNoHost }
func (noHost) ReportConfigError(pool.Ref, error) {}

func newCounterGroup(t *testing.T, capacity int) *TaskGroup[counterState, counterPayload] {
	t.Helper()
	g, err := New(3, "counter", countTo(), Sizing{})
	require.NoError(t, err)
	g.Reset(capacity)
	return g
}

func round(t *testing.T, g *TaskGroup[counterState, counterPayload], lanes int) DispatchStats {
	t.Helper()
	g.Compact()
	stats, err := g.Dispatch(context.Background(), noHost{}, 1, lanes)
	require.NoError(t, err)
	require.NoError(t, g.Commit())
	return stats
}

func TestTaskGroup_Lifecycle(t *testing.T) {
	// Arrange
	g := newCounterGroup(t, 4)
	quick, err := g.SpawnValue(counterPayload{Target: 1}, pool.None)
	require.NoError(t, err)
	slow, err := g.SpawnValue(counterPayload{Target: 2}, pool.None)
	require.NoError(t, err)
	assert.Equal(t, 2, g.ActiveCount(), "spawned tasks count as active before they join the set")
	assert.Equal(t, 2, g.FreeCount())

	// Act
	first := round(t, g, 2)

	// Assert
	assert.Equal(t, DispatchStats{Polled: 2, Finished: 1}, first)
	assert.Equal(t, 1, g.ActiveCount())
	assert.Equal(t, pool.Finished, g.Status(quick))
	assert.Equal(t, pool.Sleeping, g.Status(slow))

	got, err := g.ReadValue(quick)
	require.NoError(t, err)
	assert.Equal(t, counterPayload{Target: 1, Count: 1}, got)

	require.NoError(t, g.Reap(quick))
	assert.Equal(t, 2, g.FreeCount(), "a reaped slot is not reusable before commit")

	second := round(t, g, 2)
	assert.Equal(t, DispatchStats{Polled: 1, Finished: 1}, second)
	assert.Equal(t, 0, g.ActiveCount())
	assert.Equal(t, 3, g.FreeCount())

	require.NoError(t, g.Reap(slow))
	g.Compact()
	require.NoError(t, g.Commit())
	assert.Equal(t, 4, g.FreeCount())
	assert.Equal(t, 0, g.Alive())
	assert.Equal(t, Counters{Spawned: 2, Reaped: 2}, g.Counters())
}

func TestTaskGroup_StatelessFuture(t *testing.T) {
	// Arrange
	double := future.Done("double", func(inv *future.Invocation[struct{}, counterPayload]) {
		inv.Payload.Count = 2 * inv.Payload.Target
	})
	g, err := New(4, "double", double, Sizing{})
	require.NoError(t, err)
	g.Reset(2)
	ref, err := g.SpawnValue(counterPayload{Target: 21}, pool.None)
	require.NoError(t, err)

	// Act
	g.Compact()
	stats, err := g.Dispatch(context.Background(), noHost{}, 1, 1)
	require.NoError(t, err)
	require.NoError(t, g.Commit())

	// Assert
	assert.Equal(t, DispatchStats{Polled: 1, Finished: 1}, stats)
	got, err := g.ReadValue(ref)
	require.NoError(t, err)
	assert.Equal(t, counterPayload{Target: 21, Count: 42}, got)
}

func TestTaskGroup_FinishedTaskIsNotRepolled(t *testing.T) {
	// Arrange
	g := newCounterGroup(t, 2)
	done, err := g.SpawnValue(counterPayload{Target: 1}, pool.None)
	require.NoError(t, err)
	other, err := g.SpawnValue(counterPayload{Target: 5}, pool.None)
	require.NoError(t, err)
	g.Compact()
	_, err = g.Dispatch(context.Background(), noHost{}, 1, 1)
	require.NoError(t, err)

	doneState, donePayload, _, err := g.pool.Load(done.Index)
	require.NoError(t, err)
	otherState, otherPayload, _, err := g.pool.Load(other.Index)
	require.NoError(t, err)

	// Act: dispatch again before compaction, so the finished slot is still listed.
	_, err = g.Dispatch(context.Background(), noHost{}, 2, 1)
	require.NoError(t, err)

	// Assert
	state, payload, _, err := g.pool.Load(done.Index)
	require.NoError(t, err)
	assert.Equal(t, doneState, state)
	assert.Equal(t, donePayload, payload)
	assert.Equal(t, pool.Finished, g.Status(done))

	state, payload, _, err = g.pool.Load(other.Index)
	require.NoError(t, err)
	assert.NotEqual(t, otherState, state, "the sleeping task still advances")
	assert.NotEqual(t, otherPayload, payload)
	assert.Equal(t, 1, g.removed.Len(), "the finished slot is queued for removal once")
}

func TestTaskGroup_SpawnExhausted(t *testing.T) {
	g := newCounterGroup(t, 1)
	_, err := g.SpawnValue(counterPayload{Target: 1}, pool.None)
	require.NoError(t, err)

	_, err = g.SpawnValue(counterPayload{Target: 1}, pool.None)

	assert.ErrorIs(t, err, alloc.ErrExhausted)
	assert.Equal(t, 1, g.Counters().SpawnFailures)
	assert.Equal(t, 1, g.Alive())
}

// TestTaskGroup_ReusedSlotJoinsOnce covers a slot that finishes, is reaped,
// committed and spawned again before the group compacts.
func TestTaskGroup_ReusedSlotJoinsOnce(t *testing.T) {
	g := newCounterGroup(t, 1)
	first, err := g.SpawnValue(counterPayload{Target: 1}, pool.None)
	require.NoError(t, err)
	g.Compact()
	_, err = g.Dispatch(context.Background(), noHost{}, 1, 1)
	require.NoError(t, err)
	require.NoError(t, g.Reap(first))
	require.NoError(t, g.Commit())

	second, err := g.SpawnValue(counterPayload{Target: 2}, pool.None)
	require.NoError(t, err)
	require.Equal(t, first.Index, second.Index)
	require.NotEqual(t, first.Generation, second.Generation)

	g.Compact()

	assert.Equal(t, []int32{second.Index}, g.active)
	assert.Equal(t, 1, g.ActiveCount())
	assert.Equal(t, pool.DoesNotExist, g.Status(first))
}

func TestTaskGroup_ManyLanes(t *testing.T) {
	const tasks = 200
	g := newCounterGroup(t, tasks)
	refs := make([]pool.Ref, 0, tasks)
	for i := 0; i < tasks; i++ {
		ref, err := g.SpawnValue(counterPayload{Target: 1 + i%4}, pool.None)
		require.NoError(t, err)
		refs = append(refs, ref)
	}

	polled := 0
	for r := 0; r < 10 && g.ActiveCount() > 0; r++ {
		polled += round(t, g, 8).Polled
	}

	require.Equal(t, 0, g.ActiveCount())
	assert.Equal(t, 50*(1+2+3+4), polled, "every task is polled exactly Target times")
	for i, ref := range refs {
		got, err := g.ReadValue(ref)
		require.NoError(t, err)
		assert.Equal(t, 1+i%4, got.Count)
	}
}

func TestTaskGroup_DispatchStopsOnCanceledContext(t *testing.T) {
	g := newCounterGroup(t, 4)
	for i := 0; i < 4; i++ {
		_, err := g.SpawnValue(counterPayload{Target: 1}, pool.None)
		require.NoError(t, err)
	}
	g.Compact()
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	stats, err := g.Dispatch(ctx, noHost{}, 1, 2)

	assert.ErrorIs(t, err, context.Canceled)
	assert.Zero(t, stats.Finished)
}

func TestSizing_Capacity(t *testing.T) {
	testCases := []struct {
		name   string
		sizing Sizing
		roots  int
		want   int
	}{
		{name: "defaults to one per root", sizing: Sizing{}, roots: 8, want: 8},
		{name: "recursion multiplies", sizing: Sizing{Recursion: 3}, roots: 8, want: 24},
		{name: "fixed concurrency ignores roots", sizing: Sizing{Concurrency: 2, Recursion: 2}, roots: 100, want: 4},
	}
	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, tc.sizing.Capacity(tc.roots))
		})
	}
}
