package future

import (
	"context"
	"errors"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/vk/wavefront/internal/alloc"
	"github.com/vk/wavefront/internal/codec"
	"github.com/vk/wavefront/internal/pool"
)

type testState struct {
	Count int `cty:"count"`
}

type testPayload struct {
	Value int       `cty:"value"`
	Link  ChildLink `cty:"link"`
}

type childPayload struct {
	Arg    int `cty:"arg"`
	Result int `cty:"result"`
}

// fakeHost is a single-child-type host backed by a real pool and free list.
type fakeHost struct {
	pool      *pool.Pool
	free      *alloc.FreeList
	configErr []error
}

func newFakeHost(capacity int) *fakeHost {
	return &fakeHost{pool: pool.New(1, "child", capacity), free: alloc.NewFreeList(capacity)}
}

func (h *fakeHost) Spawn(typ pool.TypeID, payload []byte, parent pool.Ref) (pool.Ref, error) {
	if typ != h.pool.Type() {
		return pool.None, errors.New("unknown type")
	}
	idx, ok := h.free.Deallocate()
	if !ok {
		return pool.None, alloc.ErrExhausted
	}
	return h.pool.Spawn(idx, nil, payload, parent)
}

func (h *fakeHost) Status(ref pool.Ref) pool.Status { return h.pool.Status(ref) }
func (h *fakeHost) ReadPayload(ref pool.Ref) ([]byte, error) { return h.pool.ReadPayload(ref) }
func (h *fakeHost) ReportConfigError(_ pool.Ref, err error) { h.configErr = append(h.configErr, err) }
func (h *fakeHost) Reap(ref pool.Ref) error {
	if err := h.pool.MarkReaped(ref); err != nil {
		return err
	}
	return h.free.Release(ref.Index)
}

// finishChild plays the child's own poll step: write the result, then publish.
func (h *fakeHost) finishChild(t *testing.T, ref pool.Ref, schema *codec.Schema[childPayload], result int) {
	t.Helper()
	_, raw, _, err := h.pool.Load(ref.Index)
	require.NoError(t, err)
	p, err := schema.Decode(raw)
	require.NoError(t, err)
	p.Result = result
	b, err := schema.Encode(p)
	require.NoError(t, err)
	require.NoError(t, h.pool.Store(ref.Index, nil, b))
	h.pool.MarkFinished(ref.Index)
}

func newInvocation(host Host) *Invocation[testState, testPayload] {
	return &Invocation[testState, testPayload]{Env: Env{
		Ctx:    context.Background(),
		Self:   pool.Ref{Type: 0, Index: 0},
		Parent: pool.None,
		Logger: slog.New(slog.DiscardHandler),
		Host:   host,
	}}
}

func TestSeq_PersistsStageCursor(t *testing.T) {
	// Arrange
	var trace []string
	wait := Func("wait", 3, func(inv *Invocation[testState, testPayload]) Poll {
		inv.State.Count++
		trace = append(trace, "wait")
		if inv.State.Count < 3 {
			return Pending
		}
		return Ready
	})
	finish := Done("finish", func(inv *Invocation[testState, testPayload]) {
		trace = append(trace, "finish")
		inv.Payload.Value = inv.State.Count * 10
	})
	f := Seq(wait, finish)
	inv := newInvocation(newFakeHost(1))

	// Act
	var polls []Poll
	for i := 0; i < 3; i++ {
		polls = append(polls, f.Poll(inv))
	}

	// Assert
	assert.Equal(t, []Poll{Pending, Pending, Ready}, polls)
	assert.Equal(t, []string{"wait", "wait", "wait", "finish"}, trace, "a resolved stage continues into the next one within the same step")
	assert.Equal(t, 2, inv.Stage)
	assert.Equal(t, 30, inv.Payload.Value)
	assert.Equal(t, 3, f.RequiredPollCount())
}

func TestSeq_FlattensAndMergesBindings(t *testing.T) {
	accel := Binding{Name: "scene", Kind: "accel"}
	sbt := Binding{Name: "sbt", Kind: "table"}
	noop := func(*Invocation[testState, testPayload]) Poll { return Ready }

	f := Then(
		Seq(Func("a", 2, noop, accel), Func("b", 2, noop, sbt)),
		Func("c", 1, noop, accel),
	)

	assert.Equal(t, []Binding{accel, sbt}, f.Bindings())
	assert.Equal(t, 3, f.RequiredPollCount(), "2 + 2 + 1 minus two shared boundary steps")
	assert.Equal(t, "seq(a, b, c)", f.(interface{ String() string }).String())
	assert.Equal(t, 1, Seq[testState, testPayload]().RequiredPollCount())
}

func TestSpawnAwait_ResolvesAndReaps(t *testing.T) {
	// Arrange
	host := newFakeHost(1)
	schema := codec.MustNew[childPayload]("child")
	inv := newInvocation(host)

	// Act: spawn.
	require.NoError(t, Spawn(&inv.Env, &inv.Payload.Link, 1, schema, childPayload{Arg: 7}))
	link := inv.Payload.Link

	// Assert
	require.Equal(t, LinkSleeping, link.State)
	assert.Equal(t, inv.Self, host.pool.Parent(link.Child.Index))
	require.NoError(t, Spawn(&inv.Env, &inv.Payload.Link, 1, schema, childPayload{Arg: 8}), "respawning a live link is a no-op")
	assert.Equal(t, link, inv.Payload.Link)

	_, p := Await(&inv.Env, &inv.Payload.Link, schema)
	assert.Equal(t, Pending, p, "a sleeping child keeps the parent pending")

	// Act: child finishes, parent awaits.
	host.finishChild(t, link.Child, schema, 49)
	got, p := Await(&inv.Env, &inv.Payload.Link, schema)

	// Assert
	assert.Equal(t, Ready, p)
	assert.Equal(t, childPayload{Arg: 7, Result: 49}, got)
	assert.Equal(t, LinkReaped, inv.Payload.Link.State)
	assert.True(t, inv.Payload.Link.Succeeded())
	assert.Equal(t, 0, host.pool.Alive())
	assert.Equal(t, 1, host.free.Pending())

	again, p := Await(&inv.Env, &inv.Payload.Link, schema)
	assert.Equal(t, Ready, p)
	assert.Zero(t, again, "a resolved link is never re-read")
}

func TestSpawn_ExhaustedPoolFailsTheEdge(t *testing.T) {
	host := newFakeHost(1)
	schema := codec.MustNew[childPayload]("child")
	first := newInvocation(host)
	second := newInvocation(host)

	require.NoError(t, Spawn(&first.Env, &first.Payload.Link, 1, schema, childPayload{}))
	err := Spawn(&second.Env, &second.Payload.Link, 1, schema, childPayload{})

	assert.ErrorIs(t, err, alloc.ErrExhausted)
	assert.Equal(t, LinkSpawnFailed, second.Payload.Link.State)
	assert.True(t, second.Payload.Link.Resolved())
	assert.False(t, second.Payload.Link.Succeeded())
}

func TestAwait_StaleChildIsLost(t *testing.T) {
	host := newFakeHost(1)
	schema := codec.MustNew[childPayload]("child")
	inv := newInvocation(host)
	require.NoError(t, Spawn(&inv.Env, &inv.Payload.Link, 1, schema, childPayload{}))

	// Another identity took over the slot.
	inv.Payload.Link.Child.Generation++

	_, p := Await(&inv.Env, &inv.Payload.Link, schema)
	assert.Equal(t, Ready, p)
	assert.Equal(t, LinkLost, inv.Payload.Link.State)
}

func TestSpawnAndAwait(t *testing.T) {
	schema := codec.MustNew[childPayload]("child")
	newStage := func(calls *[]ChildLink) Future[testState, testPayload] {
		return SpawnAndAwait("square", 1, schema,
			func(inv *Invocation[testState, testPayload]) *ChildLink { return &inv.Payload.Link },
			func(inv *Invocation[testState, testPayload]) childPayload { return childPayload{Arg: 3} },
			func(inv *Invocation[testState, testPayload], res childPayload, link ChildLink) {
				*calls = append(*calls, link)
				inv.Payload.Value = res.Result
			},
		)
	}

	t.Run("delivers the child result", func(t *testing.T) {
		host := newFakeHost(1)
		var calls []ChildLink
		f := newStage(&calls)
		inv := newInvocation(host)

		assert.Equal(t, Pending, f.Poll(inv))
		assert.Equal(t, Pending, f.Poll(inv))
		host.finishChild(t, inv.Payload.Link.Child, schema, 9)
		assert.Equal(t, Ready, f.Poll(inv))

		require.Len(t, calls, 1)
		assert.Equal(t, LinkReaped, calls[0].State)
		assert.Equal(t, 9, inv.Payload.Value)
		assert.Equal(t, 2, f.RequiredPollCount())
		assert.Equal(t, []Binding{{Name: "child", Kind: "task"}}, f.Bindings())
	})

	t.Run("resolves immediately when the spawn fails", func(t *testing.T) {
		host := newFakeHost(0)
		var calls []ChildLink
		f := newStage(&calls)
		inv := newInvocation(host)

		assert.Equal(t, Ready, f.Poll(inv))
		require.Len(t, calls, 1)
		assert.Equal(t, LinkSpawnFailed, calls[0].State)
		assert.Zero(t, inv.Payload.Value)
	})
}

func TestStrings(t *testing.T) {
	assert.Equal(t, "ready", Ready.String())
	assert.Equal(t, "pending", Pending.String())
	assert.Equal(t, "spawn-failed", LinkSpawnFailed.String())
	assert.Equal(t, "link(42)", LinkState(42).String())
	assert.Equal(t, "accel:scene", Binding{Name: "scene", Kind: "accel"}.String())
}
