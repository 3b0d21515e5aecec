// Package alloc provides the two index allocators every task pool is built on.
//
// Bump hands out monotonically increasing positions from a shared cursor that
// is reset between rounds. FreeList hands out previously reclaimed indices and
// accepts indices released by reaping. Both are safe for many concurrent
// callers within a round: the positions returned across all callers form a
// permutation of a contiguous range and no position is handed out twice.
//
// Neither type takes a lock on its hot path. Commit, Drain and Reset are
// round-boundary operations and must not race with Allocate, Push,
// Deallocate or Release.
package alloc
