package accel

import (
	"math"

	"github.com/vk/wavefront/internal/vecmath"
)

const parallelEpsilon = 1e-12

// IntersectTriangle is the Möller–Trumbore test. It returns the distance, the
// barycentric weights of b and c, and which face the ray arrived at. A
// counter-clockwise triangle seen from the ray origin is front facing.
func IntersectTriangle(o, d, a, b, c vecmath.Vec3, tMin, tMax float32) (t, u, v float32, kind FaceKind, ok bool) {
	e1 := b.Sub(a)
	e2 := c.Sub(a)
	p := d.Cross(e2)
	det := e1.Dot(p)
	if math.Abs(float64(det)) < parallelEpsilon {
		return 0, 0, 0, FrontFace, false
	}
	inv := 1 / det
	s := o.Sub(a)
	u = s.Dot(p) * inv
	if u < 0 || u > 1 {
		return 0, 0, 0, FrontFace, false
	}
	q := s.Cross(e1)
	v = d.Dot(q) * inv
	if v < 0 || u+v > 1 {
		return 0, 0, 0, FrontFace, false
	}
	t = e2.Dot(q) * inv
	if t < tMin || t > tMax {
		return 0, 0, 0, FrontFace, false
	}
	kind = FrontFace
	if det < 0 {
		kind = BackFace
	}
	return t, u, v, kind, true
}

// Query is the candidate bookkeeping of one traversal. Traversers feed it
// triangles in any order; it keeps the closest accepted candidate.
type Query struct {
	ray    Ray
	anyHit AnyHitFunc
	tMax   float32
	best   HitRecord
	found  bool
	done   bool
}

// NewQuery starts a traversal of ray.
func NewQuery(ray Ray, anyHit AnyHitFunc) Query {
	return Query{ray: ray, anyHit: anyHit, tMax: ray.TMax}
}

// Ray returns the world-space query ray.
func (q *Query) Ray() Ray { return q.ray }

// TMax is the current upper bound of the search interval.
func (q *Query) TMax() float32 { return q.tMax }

// Done reports whether the search was terminated early.
func (q *Query) Done() bool { return q.done }

// Result returns the closest accepted hit.
func (q *Query) Result() (HitRecord, bool) { return q.best, q.found }

// ObjectRay transforms the query ray into an instance's object space. The
// direction is not renormalised, so distances match world space.
func (q *Query) ObjectRay(worldToObject vecmath.Mat3x4) Ray {
	r := q.ray
	r.Origin = worldToObject.Point(q.ray.Origin)
	r.Direction = worldToObject.Vector(q.ray.Direction)
	return r
}

// Visible reports whether an instance mask passes the ray's cull mask.
func (q *Query) Visible(mask uint32) bool {
	return mask&q.ray.CullMask != 0
}

// TestTriangle intersects triangle prim of geometry g of an instance and
// offers the hit as a candidate.
func (q *Query) TestTriangle(instanceID uint32, inst *Instance, worldToObject vecmath.Mat3x4, objRay Ray, geometryID uint32, g *Geometry, prim int) {
	a, b, c := g.Triangle(prim)
	t, u, v, kind, ok := IntersectTriangle(objRay.Origin, objRay.Direction, a, b, c, q.ray.TMin, q.tMax)
	if !ok {
		return
	}
	q.Offer(HitRecord{
		PrimitiveID:   uint32(prim),
		InstanceID:    instanceID,
		GeometryID:    geometryID,
		ObjectToWorld: inst.Transform,
		WorldToObject: worldToObject,
		ObjectRay:     objRay,
		T:             t,
		Kind:          kind,
		U:             u,
		V:             v,
		SBTOffset:     inst.SBTOffset,
	}, g.Opaque)
}

// Offer applies the cull flags and the any-hit callback to a candidate that
// lies inside the current search interval.
func (q *Query) Offer(c HitRecord, opaque bool) {
	if q.done {
		return
	}
	f := q.ray.Flags
	if f&FlagCullBackFacing != 0 && c.Kind == BackFace {
		return
	}
	if f&FlagCullFrontFacing != 0 && c.Kind == FrontFace {
		return
	}
	switch {
	case f&FlagOpaque != 0:
		opaque = true
	case f&FlagNoOpaque != 0:
		opaque = false
	}

	decision := Accept
	if !opaque && q.anyHit != nil {
		decision = q.anyHit(c)
	}
	if decision == Reject {
		return
	}
	q.best = c
	q.found = true
	q.tMax = c.T
	if decision == AcceptAndTerminate || f&FlagTerminateOnFirstHit != 0 {
		q.done = true
	}
}

// Linear tests every triangle of every instance. It is the reference
// traverser the BVH is checked against.
type Linear struct {
	scene    *Scene
	inverses []vecmath.Mat3x4
}

var _ Traverser = (*Linear)(nil)

// NewLinear validates the scene and prepares the instance inverses.
func NewLinear(scene *Scene) (*Linear, error) {
	if err := scene.Validate(); err != nil {
		return nil, err
	}
	return &Linear{scene: scene, inverses: scene.Inverses()}, nil
}

// Traverse implements Traverser.
func (l *Linear) Traverse(ray Ray, anyHit AnyHitFunc) (HitRecord, bool) {
	q := NewQuery(ray, anyHit)
	for ii := range l.scene.Instances {
		inst := &l.scene.Instances[ii]
		if !q.Visible(inst.Mask) {
			continue
		}
		objRay := q.ObjectRay(l.inverses[ii])
		mesh := &l.scene.Meshes[inst.Mesh]
		for gi := range mesh.Geometries {
			g := &mesh.Geometries[gi]
			for p := 0; p < g.Triangles(); p++ {
				q.TestTriangle(uint32(ii), inst, l.inverses[ii], objRay, uint32(gi), g, p)
				if q.Done() {
					return q.Result()
				}
			}
		}
	}
	return q.Result()
}
