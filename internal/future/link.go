package future

import (
	"fmt"

	"github.com/vk/wavefront/internal/codec"
	"github.com/vk/wavefront/internal/pool"
)

// LinkState tracks one parent→child edge of the spawn/resolve protocol.
type LinkState uint8

const (
	// LinkNotSpawned is the zero state: the parent has not needed the child yet.
	LinkNotSpawned LinkState = iota
	// LinkSleeping means the child was spawned and has not reported finished.
	LinkSleeping
	// LinkFinished means the result was copied out but the reap did not happen.
	LinkFinished
	// LinkReaped means the result was copied out and the child slot released.
	LinkReaped
	// LinkSpawnFailed means no slot of the child type was available.
	LinkSpawnFailed
	// LinkLost means the child identity vanished before it could be read.
	LinkLost
)

func (s LinkState) String() string {
	switch s {
	case LinkNotSpawned:
		return "not-spawned"
	case LinkSleeping:
		return "sleeping"
	case LinkFinished:
		return "finished"
	case LinkReaped:
		return "reaped"
	case LinkSpawnFailed:
		return "spawn-failed"
	case LinkLost:
		return "lost"
	default:
		return fmt.Sprintf("link(%d)", uint8(s))
	}
}

// ChildLink is the record a parent keeps in its own state or payload for a
// child it spawned.
type ChildLink struct {
	State LinkState `cty:"state"`
	Child pool.Ref  `cty:"child"`
}

// Resolved reports whether the edge will not change any more.
func (l ChildLink) Resolved() bool {
	switch l.State {
	case LinkFinished, LinkReaped, LinkSpawnFailed, LinkLost:
		return true
	}
	return false
}

// Succeeded reports whether the child's result was delivered.
func (l ChildLink) Succeeded() bool {
	return l.State == LinkFinished || l.State == LinkReaped
}

// Spawn creates a child of type typ with arg as its payload and records it in
// link. Calling it again for an already spawned link does nothing. When no
// slot is available the link resolves as LinkSpawnFailed and the error wraps
// alloc.ErrExhausted.
func Spawn[C any](env *Env, link *ChildLink, typ pool.TypeID, schema *codec.Schema[C], arg C) error {
	if link.State != LinkNotSpawned {
		return nil
	}
	b, err := schema.Encode(arg)
	if err != nil {
		link.State = LinkSpawnFailed
		return err
	}
	ref, err := env.Host.Spawn(typ, b, env.Self)
	if err != nil {
		link.State = LinkSpawnFailed
		env.Logger.Debug("Child spawn failed.", "self", env.Self, "childType", typ, "error", err)
		return err
	}
	link.Child = ref
	link.State = LinkSleeping
	return nil
}

// Await checks a sleeping child. While the child sleeps it returns Pending.
// Once the child finished, its payload is decoded, the child is reaped and
// Ready is returned with the result. Links that are already resolved return
// Ready with the zero value; the caller keeps its own copy of a delivered
// result.
func Await[C any](env *Env, link *ChildLink, schema *codec.Schema[C]) (C, Poll) {
	var zero C
	switch link.State {
	case LinkSleeping:
	case LinkNotSpawned:
		link.State = LinkLost
		return zero, Ready
	default:
		return zero, Ready
	}

	switch st := env.Host.Status(link.Child); st {
	case pool.Finished:
	case pool.DoesNotExist:
		env.Logger.Warn("Awaited child no longer exists.", "self", env.Self, "child", link.Child)
		link.State = LinkLost
		return zero, Ready
	default:
		return zero, Pending
	}

	b, err := env.Host.ReadPayload(link.Child)
	if err != nil {
		env.Logger.Warn("Reading child payload failed.", "self", env.Self, "child", link.Child, "error", err)
		link.State = LinkLost
		return zero, Ready
	}
	out, decodeErr := schema.Decode(b)
	if decodeErr != nil {
		env.Logger.Warn("Decoding child payload failed.", "self", env.Self, "child", link.Child, "error", decodeErr)
	}

	link.State = LinkFinished
	if err := env.Host.Reap(link.Child); err != nil {
		env.Logger.Warn("Reaping child failed.", "self", env.Self, "child", link.Child, "error", err)
	} else {
		link.State = LinkReaped
	}
	if decodeErr != nil {
		link.State = LinkLost
		return zero, Ready
	}
	return out, Ready
}

type spawnAwait[S, P, C any] struct {
	name   string
	typ    pool.TypeID
	schema *codec.Schema[C]
	link   func(*Invocation[S, P]) *ChildLink
	arg    func(*Invocation[S, P]) C
	done   func(*Invocation[S, P], C, ChildLink)
}

// SpawnAndAwait is a stage that spawns one child of type typ on its first
// poll, sleeps while the child runs, and calls done with the child's final
// payload once the edge resolves. done is also called, with the zero value,
// when the spawn fails, so the parent never hangs on a missing child.
func SpawnAndAwait[S, P, C any](
	name string,
	typ pool.TypeID,
	schema *codec.Schema[C],
	link func(*Invocation[S, P]) *ChildLink,
	arg func(*Invocation[S, P]) C,
	done func(*Invocation[S, P], C, ChildLink),
) Future[S, P] {
	return &spawnAwait[S, P, C]{name: name, typ: typ, schema: schema, link: link, arg: arg, done: done}
}

func (f *spawnAwait[S, P, C]) Poll(inv *Invocation[S, P]) Poll {
	l := f.link(inv)
	if l.State == LinkNotSpawned {
		if err := Spawn(&inv.Env, l, f.typ, f.schema, f.arg(inv)); err != nil {
			var zero C
			f.done(inv, zero, *l)
			return Ready
		}
		return Pending
	}
	res, p := Await(&inv.Env, l, f.schema)
	if p == Pending {
		return Pending
	}
	f.done(inv, res, *l)
	return Ready
}

// RequiredPollCount is two: the child cannot finish in the round it was spawned in.
func (f *spawnAwait[S, P, C]) RequiredPollCount() int { return 2 }

func (f *spawnAwait[S, P, C]) Bindings() []Binding {
	return []Binding{{Name: f.schema.Name(), Kind: "task"}}
}

func (f *spawnAwait[S, P, C]) String() string { return f.name }
