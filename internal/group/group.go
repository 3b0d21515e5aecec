// Package group implements the task group executor: one task pool together
// with its active set, its free list and the future that polls its slots.
//
// # Round Protocol
//
// The driver calls three methods per group per round, in this order:
//
//  1. Compact: sequentially drops the slots that finished during the previous
//     dispatch and appends the slots spawned since the previous compaction.
//  2. Dispatch: runs one poll step per active slot on parallel lanes.
//  3. Commit: makes slots reaped since the previous commit available to spawn.
//
// Spawn, Status, ReadPayload and Reap may be called from any lane at any time
// during a round; they only touch atomics and the slot owned by the caller.
//
// Removal from the active set is driven by the explicit list of slots that
// finished, never by re-reading statuses. A slot that finished, was reaped
// and was handed to a new task before this group compacts therefore leaves
// the active set once and joins it again once.
package group

import (
	"context"
	"fmt"
	"runtime"
	"sync/atomic"

	"github.com/vk/wavefront/internal/alloc"
	"github.com/vk/wavefront/internal/codec"
	"github.com/vk/wavefront/internal/ctxlog"
	"github.com/vk/wavefront/internal/future"
	"github.com/vk/wavefront/internal/pool"
	"golang.org/x/sync/errgroup"
)

// Sizing derives a pool capacity from the number of root tasks of a batch.
type Sizing struct {
	// Concurrency is the expected number of simultaneously live tasks per
	// recursion level. Zero means one per root task.
	Concurrency int
	// Recursion is the maximum nesting depth of this task type. Zero means 1.
	Recursion int
}

// Capacity returns concurrency × recursion for a batch of expectedRoots roots.
func (s Sizing) Capacity(expectedRoots int) int {
	c := s.Concurrency
	if c <= 0 {
		c = expectedRoots
	}
	r := s.Recursion
	if r <= 0 {
		r = 1
	}
	return c * r
}

// DispatchStats counts what one dispatch did.
type DispatchStats struct {
	Polled   int
	Finished int
}

// Counters are the spawn counters of a group since its last reset.
type Counters struct {
	Spawned       int
	SpawnFailures int
	Reaped        int
}

// Group is the type-erased view of a TaskGroup used by the driver.
type Group interface {
	ID() pool.TypeID
	Name() string
	Sizing() Sizing
	RequiredPollCount() int
	Bindings() []future.Binding

	Reset(capacity int)
	Compact()
	Dispatch(ctx context.Context, host future.Host, round, lanes int) (DispatchStats, error)
	Commit() error

	Spawn(payload []byte, parent pool.Ref) (pool.Ref, error)
	Status(ref pool.Ref) pool.Status
	ReadPayload(ref pool.Ref) ([]byte, error)
	Reap(ref pool.Ref) error

	Cap() int
	Alive() int
	ActiveCount() int
	FreeCount() int
	Counters() Counters
}

// frame is the slot state envelope: the Seq cursor, the poll count and the
// future's own state.
type frame[S any] struct {
	Stage uint32 `cty:"stage"`
	Polls uint32 `cty:"polls"`
	State S      `cty:"state"`
}

// TaskGroup executes the tasks of one type. S is the future's private state
// and P the payload shared with the parent.
type TaskGroup[S, P any] struct {
	id     pool.TypeID
	name   string
	sizing Sizing
	fut    future.Future[S, P]

	states   *codec.Schema[frame[S]]
	payloads *codec.Schema[P]

	pool    *pool.Pool
	free    *alloc.FreeList
	active  []int32
	pending *alloc.Bump
	removed *alloc.Bump
	mark    []bool

	spawned       atomic.Int64
	spawnFailures atomic.Int64
	reaped        atomic.Int64
}

var _ Group = (*TaskGroup[struct{}, struct{}])(nil)

// New creates a task group with no capacity; the driver sizes it on Reset.
func New[S, P any](id pool.TypeID, name string, fut future.Future[S, P], sizing Sizing) (*TaskGroup[S, P], error) {
	states, err := codec.New[frame[S]](name + ".state")
	if err != nil {
		return nil, fmt.Errorf("task group %s: %w", name, err)
	}
	payloads, err := codec.New[P](name + ".payload")
	if err != nil {
		return nil, fmt.Errorf("task group %s: %w", name, err)
	}
	g := &TaskGroup[S, P]{
		id:       id,
		name:     name,
		sizing:   sizing,
		fut:      fut,
		states:   states,
		payloads: payloads,
		pool:     pool.New(id, name, 0),
		free:     alloc.NewFreeList(0),
		pending:  alloc.NewBump(0),
		removed:  alloc.NewBump(0),
	}
	return g, nil
}

func (g *TaskGroup[S, P]) ID() pool.TypeID { return g.id }
func (g *TaskGroup[S, P]) Name() string { return g.name }
func (g *TaskGroup[S, P]) Sizing() Sizing { return g.sizing }
func (g *TaskGroup[S, P]) RequiredPollCount() int { return g.fut.RequiredPollCount() }
func (g *TaskGroup[S, P]) Bindings() []future.Binding { return g.fut.Bindings() }
func (g *TaskGroup[S, P]) Payloads() *codec.Schema[P] { return g.payloads }
func (g *TaskGroup[S, P]) Cap() int { return g.pool.Cap() }
func (g *TaskGroup[S, P]) Alive() int { return g.pool.Alive() }
func (g *TaskGroup[S, P]) FreeCount() int { return g.free.Len() }
func (g *TaskGroup[S, P]) Status(ref pool.Ref) pool.Status { return g.pool.Status(ref) }

// Counters returns the spawn and reap counters since the last reset.
func (g *TaskGroup[S, P]) Counters() Counters {
	return Counters{
		Spawned:       int(g.spawned.Load()),
		SpawnFailures: int(g.spawnFailures.Load()),
		Reaped:        int(g.reaped.Load()),
	}
}

// ActiveCount is the number of spawned tasks that have not finished. It is
// only meaningful between rounds.
func (g *TaskGroup[S, P]) ActiveCount() int {
	return len(g.active) + g.pending.Len() - g.removed.Len()
}

// Reset discards every task and resizes the group for a new batch.
func (g *TaskGroup[S, P]) Reset(capacity int) {
	g.pool.Reset(capacity)
	g.free.Reset(capacity)
	g.pending.Resize(capacity)
	g.removed.Resize(capacity)
	g.active = make([]int32, 0, capacity)
	g.mark = make([]bool, capacity)
	g.spawned.Store(0)
	g.spawnFailures.Store(0)
	g.reaped.Store(0)
}

// Compact applies the removals and additions recorded since the last call.
// It must not run concurrently with Dispatch or Spawn.
func (g *TaskGroup[S, P]) Compact() {
	if removed := g.removed.Values(); len(removed) > 0 {
		for _, idx := range removed {
			g.mark[idx] = true
		}
		kept := g.active[:0]
		for _, idx := range g.active {
			if g.mark[idx] {
				g.mark[idx] = false
				continue
			}
			kept = append(kept, idx)
		}
		g.active = kept
		for _, idx := range removed {
			g.mark[idx] = false
		}
	}
	g.active = append(g.active, g.pending.Values()...)
	g.removed.Reset()
	g.pending.Reset()
}

// Commit folds the slots reaped since the last commit into the free list.
func (g *TaskGroup[S, P]) Commit() error {
	if err := g.free.Commit(); err != nil {
		return fmt.Errorf("commit %s: %w", g.name, err)
	}
	return nil
}

// Spawn creates a task from an encoded payload. It fails with
// alloc.ErrExhausted when the pool has no free slot.
func (g *TaskGroup[S, P]) Spawn(payload []byte, parent pool.Ref) (pool.Ref, error) {
	idx, ok := g.free.Deallocate()
	if !ok {
		g.spawnFailures.Add(1)
		return pool.None, fmt.Errorf("spawn %s: %w", g.name, alloc.ErrExhausted)
	}
	ref, err := g.pool.Spawn(idx, nil, payload, parent)
	if err != nil {
		return pool.None, err
	}
	if !g.pending.Push(idx) {
		return pool.None, fmt.Errorf("spawn %s: pending set full: %w", g.name, alloc.ErrExhausted)
	}
	g.spawned.Add(1)
	return ref, nil
}

// SpawnValue encodes payload and spawns it.
func (g *TaskGroup[S, P]) SpawnValue(payload P, parent pool.Ref) (pool.Ref, error) {
	b, err := g.payloads.Encode(payload)
	if err != nil {
		return pool.None, err
	}
	return g.Spawn(b, parent)
}

// ReadPayload returns a copy of a finished task's payload.
func (g *TaskGroup[S, P]) ReadPayload(ref pool.Ref) ([]byte, error) {
	return g.pool.ReadPayload(ref)
}

// ReadValue decodes a finished task's payload.
func (g *TaskGroup[S, P]) ReadValue(ref pool.Ref) (P, error) {
	b, err := g.pool.ReadPayload(ref)
	if err != nil {
		var zero P
		return zero, err
	}
	return g.payloads.Decode(b)
}

// Reap retires a finished task and queues its slot for the next commit.
func (g *TaskGroup[S, P]) Reap(ref pool.Ref) error {
	if err := g.pool.MarkReaped(ref); err != nil {
		return err
	}
	g.reaped.Add(1)
	return g.free.Release(ref.Index)
}

// Dispatch runs one poll step for every active slot, at most lanes at a time.
func (g *TaskGroup[S, P]) Dispatch(ctx context.Context, host future.Host, round, lanes int) (DispatchStats, error) {
	if len(g.active) == 0 {
		return DispatchStats{}, nil
	}
	if lanes <= 0 {
		lanes = runtime.GOMAXPROCS(0)
	}

	var polled, finished atomic.Int64
	eg, egCtx := errgroup.WithContext(ctx)
	eg.SetLimit(lanes)
	for _, idx := range g.active {
		eg.Go(func() error {
			if err := egCtx.Err(); err != nil {
				return err
			}
			ran, res, err := g.step(egCtx, host, round, idx)
			if err != nil {
				return err
			}
			if ran {
				polled.Add(1)
				if res == future.Ready {
					finished.Add(1)
				}
			}
			return nil
		})
	}
	err := eg.Wait()
	return DispatchStats{Polled: int(polled.Load()), Finished: int(finished.Load())}, err
}

// step advances the task at idx by one poll. A slot that is not sleeping is
// left untouched.
func (g *TaskGroup[S, P]) step(ctx context.Context, host future.Host, round int, idx int32) (bool, future.Poll, error) {
	if g.pool.StatusAt(idx) != pool.Sleeping {
		return false, future.Pending, nil
	}
	rawState, rawPayload, parent, err := g.pool.Load(idx)
	if err != nil {
		return false, future.Pending, err
	}
	fr, err := g.states.Decode(rawState)
	if err != nil {
		return false, future.Pending, err
	}
	payload, err := g.payloads.Decode(rawPayload)
	if err != nil {
		return false, future.Pending, err
	}

	self := g.pool.RefAt(idx)
	inv := &future.Invocation[S, P]{
		Env: future.Env{
			Ctx:    ctx,
			Self:   self,
			Parent: parent,
			Round:  round,
			Logger: ctxlog.FromContext(ctx).With("task", g.name, "self", self.String()),
			Host:   host,
			Stage:  int(fr.Stage),
			Polls:  int(fr.Polls) + 1,
		},
		State:   fr.State,
		Payload: payload,
	}
	res := g.fut.Poll(inv)

	st, err := g.states.Encode(frame[S]{Stage: uint32(inv.Stage), Polls: uint32(inv.Polls), State: inv.State})
	if err != nil {
		return true, res, err
	}
	pl, err := g.payloads.Encode(inv.Payload)
	if err != nil {
		return true, res, err
	}
	if err := g.pool.Store(idx, st, pl); err != nil {
		return true, res, err
	}

	if res == future.Ready {
		g.pool.MarkFinished(idx)
		if !g.removed.Push(idx) {
			return true, res, fmt.Errorf("finish %s: removal buffer full: %w", self, alloc.ErrExhausted)
		}
		return true, res, nil
	}
	g.pool.MarkSleeping(idx)
	return true, res, nil
}
