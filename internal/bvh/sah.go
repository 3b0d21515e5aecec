package bvh

import "github.com/vk/wavefront/internal/vecmath"

const (
	sahBins = 12
	// maxLeafItems is the leaf size below which no split is attempted.
	maxLeafItems = 2
	// forceSplitItems is the leaf size above which a split is taken even when
	// the heuristic prefers a leaf.
	forceSplitItems = 8
)

type bin struct {
	bounds vecmath.AABB
	count  int
}

// BuildSAH builds a tree on the calling goroutine using a binned surface
// area heuristic.
func BuildSAH(items []vecmath.AABB) *Tree {
	t := &Tree{Order: identityOrder(len(items)), Root: -1}
	if len(items) == 0 {
		return t
	}
	centroids := make([]vecmath.Vec3, len(items))
	for i, b := range items {
		centroids[i] = b.Centroid()
	}
	t.Nodes = make([]Node, 0, 2*len(items))
	t.Root = t.buildSAH(items, centroids, 0, len(items))
	return t
}

func (t *Tree) buildSAH(items []vecmath.AABB, centroids []vecmath.Vec3, first, count int) int32 {
	idx := int32(len(t.Nodes))
	t.Nodes = append(t.Nodes, Node{})

	bounds, cbounds := vecmath.EmptyAABB(), vecmath.EmptyAABB()
	for _, it := range t.Order[first : first+count] {
		bounds = bounds.Union(items[it])
		cbounds = cbounds.Grow(centroids[it])
	}
	leaf := Node{Bounds: bounds, Left: -1, Right: -1, First: int32(first), Count: int32(count)}
	if count <= maxLeafItems {
		t.Nodes[idx] = leaf
		return idx
	}

	axis := cbounds.LargestAxis()
	lo, hi := cbounds.Min.Axis(axis), cbounds.Max.Axis(axis)
	mid := first + count/2
	if hi > lo {
		binOf := func(c vecmath.Vec3) int {
			b := int((c.Axis(axis) - lo) / (hi - lo) * sahBins)
			return min(max(b, 0), sahBins-1)
		}
		var bins [sahBins]bin
		for i := range bins {
			bins[i].bounds = vecmath.EmptyAABB()
		}
		for _, it := range t.Order[first : first+count] {
			b := binOf(centroids[it])
			bins[b].count++
			bins[b].bounds = bins[b].bounds.Union(items[it])
		}

		bestSplit, bestCost := -1, float32(0)
		for split := 1; split < sahBins; split++ {
			left, right := vecmath.EmptyAABB(), vecmath.EmptyAABB()
			nl, nr := 0, 0
			for i := 0; i < split; i++ {
				left = left.Union(bins[i].bounds)
				nl += bins[i].count
			}
			for i := split; i < sahBins; i++ {
				right = right.Union(bins[i].bounds)
				nr += bins[i].count
			}
			if nl == 0 || nr == 0 {
				continue
			}
			cost := float32(nl)*left.SurfaceArea() + float32(nr)*right.SurfaceArea()
			if bestSplit < 0 || cost < bestCost {
				bestSplit, bestCost = split, cost
			}
		}

		if bestSplit > 0 {
			leafCost := float32(count) * bounds.SurfaceArea()
			if bestCost >= leafCost && count <= forceSplitItems {
				t.Nodes[idx] = leaf
				return idx
			}
			order := t.Order[first : first+count]
			i, j := 0, len(order)-1
			for i <= j {
				if binOf(centroids[order[i]]) < bestSplit {
					i++
					continue
				}
				order[i], order[j] = order[j], order[i]
				j--
			}
			if i > 0 && i < count {
				mid = first + i
			}
		}
	}

	left := t.buildSAH(items, centroids, first, mid-first)
	right := t.buildSAH(items, centroids, mid, first+count-mid)
	t.Nodes[idx] = Node{Bounds: bounds, Left: left, Right: right}
	return idx
}
