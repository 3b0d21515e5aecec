// Package pool implements the fixed-capacity slot arena that holds every
// in-flight task of one task type.
//
// A slot is addressed by index, never by pointer. Its state and payload are
// opaque serialized bytes; the finished flag and the generation counter are
// atomics so a parent lane can observe a child's completion while the child's
// own lane is the only writer of the slot.
package pool

import (
	"bytes"
	"errors"
	"fmt"
	"sync/atomic"
)

var (
	// ErrStale is returned when a reference outlived the reap of its slot.
	ErrStale = errors.New("pool: stale slot reference")
	// ErrNotFinished is returned when a payload is read before the task finished.
	ErrNotFinished = errors.New("pool: task not finished")
	// ErrOccupied is returned when spawning into a slot that owns live data.
	ErrOccupied = errors.New("pool: slot already owns a live task")
	// ErrOutOfRange is returned for indices outside the pool.
	ErrOutOfRange = errors.New("pool: slot index out of range")
)

// TypeID identifies a task type, and therefore a pool, within a scheduler.
type TypeID int32

// Status is the finished flag of a slot.
type Status int32

const (
	// NotSpawned marks a slot that has never held a task since the last reset.
	NotSpawned Status = iota
	// Sleeping marks a spawned task that has not finished yet.
	Sleeping
	// Finished marks a task whose result is ready to be read by its parent.
	Finished
	// DoesNotExist marks a reaped slot, or any reference to a previous identity.
	DoesNotExist
)

func (s Status) String() string {
	switch s {
	case NotSpawned:
		return "not-spawned"
	case Sleeping:
		return "sleeping"
	case Finished:
		return "finished"
	case DoesNotExist:
		return "does-not-exist"
	default:
		return fmt.Sprintf("status(%d)", int32(s))
	}
}

// Ref names one task identity: a slot of a typed pool at a given generation.
type Ref struct {
	Type       TypeID `cty:"type"`
	Index      int32  `cty:"index"`
	Generation uint32 `cty:"generation"`
}

// None is the parent reference of a root task.
var None = Ref{Type: -1, Index: -1}

// IsNone reports whether r refers to no task.
func (r Ref) IsNone() bool {
	return r.Index < 0
}

func (r Ref) String() string {
	if r.IsNone() {
		return "none"
	}
	return fmt.Sprintf("%d[%d]@%d", r.Type, r.Index, r.Generation)
}

// Slot is one record of the arena.
type Slot struct {
	status     atomic.Int32
	generation atomic.Uint32
	state      []byte
	payload    []byte
	parent     Ref
}

// Pool is a fixed-capacity array of slots for one task type.
type Pool struct {
	typ   TypeID
	name  string
	slots []Slot
	alive atomic.Int64
}

// New creates a pool of the given capacity.
func New(typ TypeID, name string, capacity int) *Pool {
	p := &Pool{typ: typ, name: name}
	p.Reset(capacity)
	return p
}

// Type returns the task type the pool stores.
func (p *Pool) Type() TypeID { return p.typ }

// Name returns the human-readable task type name.
func (p *Pool) Name() string { return p.name }

// Cap returns the number of slots.
func (p *Pool) Cap() int { return len(p.slots) }

// Alive returns the number of spawned, not yet reaped slots.
func (p *Pool) Alive() int { return int(p.alive.Load()) }

// Reset discards every slot and resizes the pool.
func (p *Pool) Reset(capacity int) {
	if capacity < 0 {
		capacity = 0
	}
	p.slots = make([]Slot, capacity)
	p.alive.Store(0)
}

func (p *Pool) slot(index int32) (*Slot, error) {
	if index < 0 || int(index) >= len(p.slots) {
		return nil, fmt.Errorf("%s[%d]: %w", p.name, index, ErrOutOfRange)
	}
	return &p.slots[index], nil
}

// RefAt returns the reference to the identity currently owning index.
func (p *Pool) RefAt(index int32) Ref {
	s, err := p.slot(index)
	if err != nil {
		return None
	}
	return Ref{Type: p.typ, Index: index, Generation: s.generation.Load()}
}

// Spawn writes a new task into a slot previously taken from the free list.
// The slot must not own live data.
func (p *Pool) Spawn(index int32, state, payload []byte, parent Ref) (Ref, error) {
	s, err := p.slot(index)
	if err != nil {
		return None, err
	}
	switch Status(s.status.Load()) {
	case Sleeping, Finished:
		return None, fmt.Errorf("spawn into %s[%d]: %w", p.name, index, ErrOccupied)
	}
	s.state = state
	s.payload = payload
	s.parent = parent
	p.alive.Add(1)
	s.status.Store(int32(Sleeping))
	return Ref{Type: p.typ, Index: index, Generation: s.generation.Load()}, nil
}

// Status returns the finished flag of the identity named by ref. A reference
// whose generation no longer matches reads as DoesNotExist.
func (p *Pool) Status(ref Ref) Status {
	if ref.Type != p.typ {
		return DoesNotExist
	}
	s, err := p.slot(ref.Index)
	if err != nil {
		return DoesNotExist
	}
	st := Status(s.status.Load())
	if s.generation.Load() != ref.Generation {
		return DoesNotExist
	}
	return st
}

// StatusAt returns the finished flag of whatever occupies index.
func (p *Pool) StatusAt(index int32) Status {
	s, err := p.slot(index)
	if err != nil {
		return DoesNotExist
	}
	return Status(s.status.Load())
}

// MarkFinished publishes the task's result. Only the owning poll step may call it.
func (p *Pool) MarkFinished(index int32) {
	if s, err := p.slot(index); err == nil {
		s.status.Store(int32(Finished))
	}
}

// MarkSleeping re-arms the task for the next round. Only the owning poll step may call it.
func (p *Pool) MarkSleeping(index int32) {
	if s, err := p.slot(index); err == nil {
		s.status.Store(int32(Sleeping))
	}
}

// Load returns the state, payload and parent of the task at index. Only the
// owning lane may call it while the task is sleeping.
func (p *Pool) Load(index int32) (state, payload []byte, parent Ref, err error) {
	s, err := p.slot(index)
	if err != nil {
		return nil, nil, None, err
	}
	return s.state, s.payload, s.parent, nil
}

// Store replaces the state and payload of the task at index. It must happen
// before MarkFinished so a parent observing the flag also observes the bytes.
func (p *Pool) Store(index int32, state, payload []byte) error {
	s, err := p.slot(index)
	if err != nil {
		return err
	}
	s.state = state
	s.payload = payload
	return nil
}

// Parent returns the parent reference recorded at spawn time.
func (p *Pool) Parent(index int32) Ref {
	s, err := p.slot(index)
	if err != nil {
		return None
	}
	return s.parent
}

// ReadPayload returns a copy of the payload of a finished task.
func (p *Pool) ReadPayload(ref Ref) ([]byte, error) {
	switch st := p.Status(ref); st {
	case Finished:
	case DoesNotExist:
		return nil, fmt.Errorf("read %s: %w", ref, ErrStale)
	default:
		return nil, fmt.Errorf("read %s (%s): %w", ref, st, ErrNotFinished)
	}
	return bytes.Clone(p.slots[ref.Index].payload), nil
}

// MarkReaped retires the identity named by ref. It is the last step before
// the index goes back to the free list and succeeds at most once per identity.
func (p *Pool) MarkReaped(ref Ref) error {
	if p.Status(ref) == DoesNotExist {
		return fmt.Errorf("reap %s: %w", ref, ErrStale)
	}
	s := &p.slots[ref.Index]
	if !s.status.CompareAndSwap(int32(Finished), int32(DoesNotExist)) {
		return fmt.Errorf("reap %s (%s): %w", ref, Status(s.status.Load()), ErrNotFinished)
	}
	s.generation.Add(1)
	s.state = nil
	s.payload = nil
	s.parent = None
	p.alive.Add(-1)
	return nil
}
