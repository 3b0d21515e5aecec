// Package future defines the unit of suspendable computation that a task
// group polls once per round.
//
// # Why Futures Exist
//
// A task cannot block a lane waiting for another task: there is no call stack
// to park it on. Instead every task type is described by a Future whose Poll
// method advances the task by exactly one indivisible step and reports whether
// the task resolved. Everything the task needs to remember between steps lives
// in its decoded State and Payload, which the task group re-encodes into the
// slot after the step.
//
// # Composition
//
// Seq chains futures. The stage cursor is persisted in the slot next to the
// task's own state, so a compound step re-derives where it left off (the
// already-resolved upstream results are in State) and runs the next stage. A
// stage that resolves hands over to the next stage within the same step.
//
// # Relationship with Other Components
//
//   - **Task Group:** decodes the slot, builds the Invocation, calls Poll, encodes.
//   - **Scheduler Driver:** implements Host so futures can spawn, inspect and
//     reap children of any task type.
package future

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/vk/wavefront/internal/pool"
)

// Poll is the result of one poll step.
type Poll int

const (
	// Pending re-arms the task for the next round.
	Pending Poll = iota
	// Ready resolves the task; its payload becomes visible to the parent.
	Ready
)

func (p Poll) String() string {
	if p == Ready {
		return "ready"
	}
	return "pending"
}

// Binding names an external resource a future touches during a step, such as
// the acceleration structure or the shader binding table.
type Binding struct {
	Name string
	Kind string
}

func (b Binding) String() string {
	return b.Kind + ":" + b.Name
}

// Future is the compiled poll-step logic of one task type.
type Future[S, P any] interface {
	// Poll runs one step. It never blocks and never suspends mid-step.
	Poll(inv *Invocation[S, P]) Poll
	// RequiredPollCount is a lower bound on the rounds needed to resolve.
	// It is a scheduling hint; resolution is decided by the finished flag.
	RequiredPollCount() int
	// Bindings declares the external resources the future reads.
	Bindings() []Binding
}

// Spawner gives a poll step access to the pools of every task type.
type Spawner interface {
	Spawn(typ pool.TypeID, payload []byte, parent pool.Ref) (pool.Ref, error)
	Status(ref pool.Ref) pool.Status
	ReadPayload(ref pool.Ref) ([]byte, error)
	Reap(ref pool.Ref) error
}

// Reporter receives faults that resolve a task through a fallback branch.
type Reporter interface {
	ReportConfigError(self pool.Ref, err error)
}

// Host is what the scheduler driver offers to every lane.
type Host interface {
	Spawner
	Reporter
}

// Env is the type-independent part of an invocation.
type Env struct {
	Ctx    context.Context
	Self   pool.Ref
	Parent pool.Ref
	Round  int
	Logger *slog.Logger
	Host   Host

	// Stage is the Seq cursor persisted in the slot state.
	Stage int
	// Polls counts the steps this task has run, including the current one.
	Polls int
}

// Invocation is the decoded view of one slot for the duration of one step.
type Invocation[S, P any] struct {
	Env
	State   S
	Payload P
}

type funcFuture[S, P any] struct {
	name     string
	minPolls int
	fn       func(*Invocation[S, P]) Poll
	bindings []Binding
}

// Func wraps fn as a leaf future.
func Func[S, P any](name string, minPolls int, fn func(*Invocation[S, P]) Poll, bindings ...Binding) Future[S, P] {
	if minPolls < 1 {
		minPolls = 1
	}
	return &funcFuture[S, P]{name: name, minPolls: minPolls, fn: fn, bindings: bindings}
}

func (f *funcFuture[S, P]) Poll(inv *Invocation[S, P]) Poll { return f.fn(inv) }
func (f *funcFuture[S, P]) RequiredPollCount() int { return f.minPolls }
func (f *funcFuture[S, P]) Bindings() []Binding { return f.bindings }
func (f *funcFuture[S, P]) String() string { return f.name }

// Done is a future that runs fn and resolves on its first poll.
func Done[S, P any](name string, fn func(*Invocation[S, P])) Future[S, P] {
	return Func(name, 1, func(inv *Invocation[S, P]) Poll {
		fn(inv)
		return Ready
	})
}

type seqFuture[S, P any] struct {
	stages []Future[S, P]
}

// Seq runs stages in order. Nested sequences are flattened so a single cursor
// addresses every leaf stage.
func Seq[S, P any](stages ...Future[S, P]) Future[S, P] {
	flat := make([]Future[S, P], 0, len(stages))
	for _, st := range stages {
		if inner, ok := st.(*seqFuture[S, P]); ok {
			flat = append(flat, inner.stages...)
			continue
		}
		flat = append(flat, st)
	}
	return &seqFuture[S, P]{stages: flat}
}

// Then is Seq(first, next).
func Then[S, P any](first, next Future[S, P]) Future[S, P] {
	return Seq(first, next)
}

func (s *seqFuture[S, P]) Poll(inv *Invocation[S, P]) Poll {
	for inv.Stage < len(s.stages) {
		if s.stages[inv.Stage].Poll(inv) == Pending {
			return Pending
		}
		inv.Stage++
	}
	return Ready
}

// RequiredPollCount of a sequence is the sum of its stages minus the steps
// shared at every stage boundary.
func (s *seqFuture[S, P]) RequiredPollCount() int {
	if len(s.stages) == 0 {
		return 1
	}
	total := 0
	for _, st := range s.stages {
		total += st.RequiredPollCount()
	}
	total -= len(s.stages) - 1
	if total < 1 {
		return 1
	}
	return total
}

func (s *seqFuture[S, P]) Bindings() []Binding {
	var out []Binding
	seen := make(map[Binding]bool)
	for _, st := range s.stages {
		for _, b := range st.Bindings() {
			if !seen[b] {
				seen[b] = true
				out = append(out, b)
			}
		}
	}
	return out
}

func (s *seqFuture[S, P]) String() string {
	names := make([]string, len(s.stages))
	for i, st := range s.stages {
		names[i] = fmt.Sprint(st)
	}
	return "seq(" + strings.Join(names, ", ") + ")"
}
