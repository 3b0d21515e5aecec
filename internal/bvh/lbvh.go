package bvh

import (
	"cmp"
	"context"
	"math/bits"
	"runtime"
	"slices"

	"github.com/vk/wavefront/internal/vecmath"
	"golang.org/x/sync/errgroup"
)

// BuildLBVH builds a linear BVH: items are sorted along a 30-bit Morton curve
// and the hierarchy is derived from the longest common prefixes of adjacent
// codes. Morton codes and inner nodes are computed on up to lanes goroutines;
// every inner node is independent, so lanes never write the same node.
func BuildLBVH(ctx context.Context, items []vecmath.AABB, lanes int) (*Tree, error) {
	n := len(items)
	t := &Tree{Root: -1}
	if n == 0 {
		return t, nil
	}
	if lanes <= 0 {
		lanes = runtime.GOMAXPROCS(0)
	}

	cbounds := vecmath.EmptyAABB()
	for _, b := range items {
		cbounds = cbounds.Grow(b.Centroid())
	}

	codes := make([]uint32, n)
	if err := parallelRange(ctx, n, lanes, func(i int) {
		codes[i] = mortonCode(items[i].Centroid(), cbounds)
	}); err != nil {
		return nil, err
	}

	order := identityOrder(n)
	slices.SortFunc(order, func(a, b int32) int {
		if c := cmp.Compare(codes[a], codes[b]); c != 0 {
			return c
		}
		return cmp.Compare(a, b)
	})
	sorted := make([]uint32, n)
	for i, it := range order {
		sorted[i] = codes[it]
	}
	t.Order = order

	if n == 1 {
		t.Nodes = []Node{{Bounds: items[order[0]], Left: -1, Right: -1, First: 0, Count: 1}}
		t.Root = 0
		return t, nil
	}

	// Inner nodes occupy [0, n-1), leaves [n-1, 2n-1).
	t.Nodes = make([]Node, 2*n-1)
	for k := 0; k < n; k++ {
		t.Nodes[n-1+k] = Node{Bounds: items[order[k]], Left: -1, Right: -1, First: int32(k), Count: 1}
	}
	if err := parallelRange(ctx, n-1, lanes, func(i int) {
		left, right := karrasSplit(sorted, i)
		t.Nodes[i].Left, t.Nodes[i].Right = left, right
	}); err != nil {
		return nil, err
	}
	t.Root = 0
	t.refit(0)
	return t, nil
}

// parallelRange calls fn for every index in [0, n) using contiguous chunks,
// one chunk per lane.
func parallelRange(ctx context.Context, n, lanes int, fn func(i int)) error {
	chunk := max((n+lanes-1)/lanes, 1)
	eg, egCtx := errgroup.WithContext(ctx)
	eg.SetLimit(lanes)
	for start := 0; start < n; start += chunk {
		end := min(start+chunk, n)
		eg.Go(func() error {
			if err := egCtx.Err(); err != nil {
				return err
			}
			for i := start; i < end; i++ {
				fn(i)
			}
			return nil
		})
	}
	return eg.Wait()
}

// karrasSplit returns the children of inner node i of the radix tree over the
// sorted codes.
func karrasSplit(codes []uint32, i int) (left, right int32) {
	n := len(codes)
	delta := func(a, b int) int {
		if b < 0 || b >= n {
			return -1
		}
		if codes[a] == codes[b] {
			return 32 + bits.LeadingZeros32(uint32(a^b))
		}
		return bits.LeadingZeros32(codes[a] ^ codes[b])
	}

	d := 1
	if delta(i, i+1) < delta(i, i-1) {
		d = -1
	}
	dMin := delta(i, i-d)
	lMax := 2
	for delta(i, i+lMax*d) > dMin {
		lMax *= 2
	}
	l := 0
	for step := lMax / 2; step >= 1; step /= 2 {
		if delta(i, i+(l+step)*d) > dMin {
			l += step
		}
	}
	j := i + l*d
	dNode := delta(i, j)

	s := 0
	for div := 2; ; div *= 2 {
		step := (l + div - 1) / div
		if delta(i, i+(s+step)*d) > dNode {
			s += step
		}
		if step <= 1 {
			break
		}
	}
	gamma := i + s*d + min(d, 0)

	leafBase := int32(n - 1)
	left, right = int32(gamma), int32(gamma+1)
	if min(i, j) == gamma {
		left = leafBase + int32(gamma)
	}
	if max(i, j) == gamma+1 {
		right = leafBase + int32(gamma+1)
	}
	return left, right
}

func (t *Tree) refit(idx int32) vecmath.AABB {
	n := t.Nodes[idx]
	if n.Leaf() {
		return n.Bounds
	}
	b := t.refit(n.Left).Union(t.refit(n.Right))
	t.Nodes[idx].Bounds = b
	return b
}

func mortonCode(c vecmath.Vec3, bounds vecmath.AABB) uint32 {
	quantize := func(axis int) uint32 {
		lo, hi := bounds.Min.Axis(axis), bounds.Max.Axis(axis)
		if hi <= lo {
			return 0
		}
		f := (c.Axis(axis) - lo) / (hi - lo)
		return uint32(min(max(f*1023, 0), 1023))
	}
	return expandBits(quantize(0))<<2 | expandBits(quantize(1))<<1 | expandBits(quantize(2))
}

// expandBits spreads the low 10 bits of v so two zero bits follow each one.
func expandBits(v uint32) uint32 {
	v = (v * 0x00010001) & 0xFF0000FF
	v = (v * 0x00000101) & 0x0F00F00F
	v = (v * 0x00000011) & 0xC30C30C3
	v = (v * 0x00000005) & 0x49249249
	return v
}
