// Package scheduler drives the round-based execution of task groups.
//
// # Why Scheduler Exists
//
// Tasks never call each other. A parent spawns a child into the child's pool
// and checks on it in later rounds, so something has to keep polling every
// pool until the roots resolve. The scheduler is that loop: it owns the
// ordered list of task groups and runs one barrier-synchronised round at a
// time.
//
// This provides several key benefits:
//   - **Stack-free recursion:** any lane can resume any task because all
//     suspended state lives in pool slots.
//   - **Explicit backpressure:** a full pool fails the spawning edge instead of
//     blocking a lane.
//   - **Decoupled logic:** the driver decides when groups run, the futures
//     decide what a step does.
//
// # How It Works
//
// Each round walks the groups in dependency order:
//  1. Compact the group's active set (sequential, the one hard barrier)
//  2. Dispatch one poll step per active slot on parallel lanes
//  3. Commit slots reaped since the last commit back to the free list
//
// A child spawned by a group that runs earlier in the order is polled in the
// same round; a result published by a child is observed by its parent in the
// next round at the latest.
//
// # Relationship with Other Components
//
//   - **Task Groups:** own the pools, allocators and futures.
//   - **Futures:** reach other groups through the driver's Host methods.
//   - **Callers:** seed roots, run rounds within a budget and collect roots.
package scheduler

import "context"

// Scheduler is the batch lifecycle seen by callers.
type Scheduler interface {
	// Reset resizes every pool for a batch of expectedRoots root tasks and
	// discards all tasks. It is required before the first round of a batch.
	Reset(expectedRoots int)
	// SeedRoot spawns one root task before the first round.
	SeedRoot(payload []byte) error
	// ExecuteOneRound runs compaction and dispatch for every task type.
	ExecuteOneRound(ctx context.Context) (RoundStats, error)
	// AllDone reports whether the root type's active set is empty.
	AllDone() bool
}

// Observer is notified after every round.
type Observer interface {
	ObserveRound(ctx context.Context, stats RoundStats)
}

// ObserverFunc adapts a function to Observer.
type ObserverFunc func(ctx context.Context, stats RoundStats)

// ObserveRound calls f.
func (f ObserverFunc) ObserveRound(ctx context.Context, stats RoundStats) { f(ctx, stats) }
