package bvh

import (
	"context"
	"fmt"
	"strings"

	"github.com/vk/wavefront/internal/accel"
	"github.com/vk/wavefront/internal/ctxlog"
	"github.com/vk/wavefront/internal/vecmath"
)

// Method selects the tree builder.
type Method int

const (
	// SAH is the host-side binned surface area heuristic builder.
	SAH Method = iota
	// LBVH is the parallel linear BVH builder.
	LBVH
)

func (m Method) String() string {
	switch m {
	case SAH:
		return "sah"
	case LBVH:
		return "lbvh"
	default:
		return fmt.Sprintf("method(%d)", int(m))
	}
}

// ParseMethod parses "sah" or "lbvh".
func ParseMethod(s string) (Method, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "sah", "":
		return SAH, nil
	case "lbvh":
		return LBVH, nil
	default:
		return SAH, fmt.Errorf("unknown BVH builder %q (want sah or lbvh)", s)
	}
}

type primRef struct {
	geometry uint32
	prim     uint32
}

// Accel is a two-level BVH over an accel.Scene.
type Accel struct {
	scene    *accel.Scene
	inverses []vecmath.Mat3x4
	blas     []*Tree
	prims    [][]primRef
	tlas     *Tree
	// tlasInstances maps top-level items to instance indices.
	tlasInstances []int32
}

var _ accel.Traverser = (*Accel)(nil)

// Build validates scene and builds one bottom-level tree per mesh and the
// top-level tree with the chosen method.
func Build(ctx context.Context, scene *accel.Scene, method Method, lanes int) (*Accel, error) {
	logger := ctxlog.FromContext(ctx)
	if err := scene.Validate(); err != nil {
		return nil, err
	}
	build := func(items []vecmath.AABB) (*Tree, error) {
		if method == LBVH {
			return BuildLBVH(ctx, items, lanes)
		}
		return BuildSAH(items), nil
	}

	a := &Accel{
		scene:    scene,
		inverses: scene.Inverses(),
		blas:     make([]*Tree, len(scene.Meshes)),
		prims:    make([][]primRef, len(scene.Meshes)),
	}
	for mi, mesh := range scene.Meshes {
		var items []vecmath.AABB
		var refs []primRef
		for gi, g := range mesh.Geometries {
			for p := 0; p < g.Triangles(); p++ {
				items = append(items, g.Bounds(p))
				refs = append(refs, primRef{geometry: uint32(gi), prim: uint32(p)})
			}
		}
		tree, err := build(items)
		if err != nil {
			return nil, fmt.Errorf("build BLAS for mesh %q: %w", mesh.Name, err)
		}
		a.blas[mi] = tree
		a.prims[mi] = refs
		logger.Debug("Built bottom-level BVH.", "mesh", mesh.Name, "triangles", len(items), "nodes", len(tree.Nodes), "depth", tree.Depth())
	}

	var items []vecmath.AABB
	for ii, inst := range scene.Instances {
		b := a.blas[inst.Mesh].Bounds()
		if b.Empty() {
			continue
		}
		items = append(items, inst.Transform.TransformAABB(b))
		a.tlasInstances = append(a.tlasInstances, int32(ii))
	}
	tlas, err := build(items)
	if err != nil {
		return nil, fmt.Errorf("build TLAS: %w", err)
	}
	a.tlas = tlas
	logger.Debug("Built top-level BVH.", "method", method, "instances", len(items), "depth", tlas.Depth())
	return a, nil
}

// Scene returns the scene the structure was built over.
func (a *Accel) Scene() *accel.Scene { return a.scene }

// Traverse implements accel.Traverser.
func (a *Accel) Traverse(ray accel.Ray, anyHit accel.AnyHitFunc) (accel.HitRecord, bool) {
	q := accel.NewQuery(ray, anyHit)
	a.tlas.traverse(ray.Origin, ray.Direction.Inverse(), &q, func(item int32) {
		ii := a.tlasInstances[item]
		inst := &a.scene.Instances[ii]
		if !q.Visible(inst.Mask) {
			return
		}
		w2o := a.inverses[ii]
		objRay := q.ObjectRay(w2o)
		mesh := &a.scene.Meshes[inst.Mesh]
		refs := a.prims[inst.Mesh]
		a.blas[inst.Mesh].traverse(objRay.Origin, objRay.Direction.Inverse(), &q, func(p int32) {
			ref := refs[p]
			q.TestTriangle(uint32(ii), inst, w2o, objRay, ref.geometry, &mesh.Geometries[ref.geometry], int(ref.prim))
		})
	})
	return q.Result()
}
