// Package bvh implements a two-level software bounding volume hierarchy: one
// bottom-level tree per mesh over its triangles and one top-level tree over
// the instances. Trees are built either on the host with a binned surface
// area heuristic or as a linear BVH over Morton codes computed on parallel
// lanes.
package bvh

import (
	"fmt"

	"github.com/vk/wavefront/internal/accel"
	"github.com/vk/wavefront/internal/vecmath"
)

// Node is one tree node. Leaves have Count > 0 and cover
// Order[First:First+Count]; inner nodes have Left and Right.
type Node struct {
	Bounds      vecmath.AABB
	Left, Right int32
	First       int32
	Count       int32
}

// Leaf reports whether n is a leaf.
func (n Node) Leaf() bool { return n.Count > 0 }

// Tree is a flat BVH over a list of items.
type Tree struct {
	Nodes []Node
	// Order maps leaf positions to item indices.
	Order []int32
	// Root is -1 for an empty tree.
	Root int32
}

// Bounds returns the box of the whole tree.
func (t *Tree) Bounds() vecmath.AABB {
	if t.Root < 0 {
		return vecmath.EmptyAABB()
	}
	return t.Nodes[t.Root].Bounds
}

// Depth returns the number of levels on the longest root-to-leaf path.
func (t *Tree) Depth() int {
	if t.Root < 0 {
		return 0
	}
	var walk func(idx int32) int
	walk = func(idx int32) int {
		n := t.Nodes[idx]
		if n.Leaf() {
			return 1
		}
		return 1 + max(walk(n.Left), walk(n.Right))
	}
	return walk(t.Root)
}

// traverse visits, near child first, every leaf item whose node box
// intersects the ray within the query's current interval.
func (t *Tree) traverse(origin, invDir vecmath.Vec3, q *accel.Query, visit func(item int32)) {
	if t.Root < 0 {
		return
	}
	tMin := q.Ray().TMin
	var stackBuf [64]int32
	stack := append(stackBuf[:0], t.Root)
	for len(stack) > 0 && !q.Done() {
		idx := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		n := &t.Nodes[idx]
		if _, ok := n.Bounds.Intersect(origin, invDir, tMin, q.TMax()); !ok {
			continue
		}
		if n.Leaf() {
			for i := n.First; i < n.First+n.Count; i++ {
				visit(t.Order[i])
				if q.Done() {
					return
				}
			}
			continue
		}
		tl, okL := t.Nodes[n.Left].Bounds.Intersect(origin, invDir, tMin, q.TMax())
		tr, okR := t.Nodes[n.Right].Bounds.Intersect(origin, invDir, tMin, q.TMax())
		switch {
		case okL && okR:
			if tl <= tr {
				stack = append(stack, n.Right, n.Left)
			} else {
				stack = append(stack, n.Left, n.Right)
			}
		case okL:
			stack = append(stack, n.Left)
		case okR:
			stack = append(stack, n.Right)
		}
	}
}

// check verifies that every item appears in exactly one leaf and that inner
// boxes enclose their children.
func (t *Tree) check(items int) error {
	if t.Root < 0 {
		if items != 0 {
			return fmt.Errorf("empty tree for %d items", items)
		}
		return nil
	}
	seen := make([]int, items)
	var walk func(idx int32) error
	walk = func(idx int32) error {
		n := t.Nodes[idx]
		if n.Leaf() {
			for i := n.First; i < n.First+n.Count; i++ {
				seen[t.Order[i]]++
			}
			return nil
		}
		for _, c := range []int32{n.Left, n.Right} {
			cb := t.Nodes[c].Bounds
			if n.Bounds.Union(cb) != n.Bounds {
				return fmt.Errorf("node %d does not enclose child %d", idx, c)
			}
			if err := walk(c); err != nil {
				return err
			}
		}
		return nil
	}
	if err := walk(t.Root); err != nil {
		return err
	}
	for i, c := range seen {
		if c != 1 {
			return fmt.Errorf("item %d appears in %d leaves", i, c)
		}
	}
	return nil
}

func identityOrder(n int) []int32 {
	order := make([]int32, n)
	for i := range order {
		order[i] = int32(i)
	}
	return order
}
