// Package accel defines the acceleration-structure collaborator consumed by
// the trace task: the ray and hit record types, the any-hit protocol, the
// scene description shared by every traverser, and a brute-force Linear
// traverser used as the reference implementation.
package accel

import (
	"fmt"

	"github.com/vk/wavefront/internal/vecmath"
)

// Flags are ray flags that change how candidates are considered.
type Flags uint32

const (
	// FlagOpaque treats every geometry as opaque, so no any-hit call is made.
	FlagOpaque Flags = 1 << iota
	// FlagNoOpaque treats every geometry as non-opaque.
	FlagNoOpaque
	// FlagTerminateOnFirstHit ends the search at the first accepted candidate.
	FlagTerminateOnFirstHit
	// FlagCullBackFacing ignores back-facing triangles.
	FlagCullBackFacing
	// FlagCullFrontFacing ignores front-facing triangles.
	FlagCullFrontFacing
)

// Ray is a traversal query. SBTOffset and MissIndex feed the shader binding
// table lookup after traversal.
type Ray struct {
	Origin    vecmath.Vec3 `cty:"origin"`
	Direction vecmath.Vec3 `cty:"direction"`
	TMin      float32      `cty:"t_min"`
	TMax      float32      `cty:"t_max"`
	Flags     Flags        `cty:"flags"`
	CullMask  uint32       `cty:"cull_mask"`
	SBTOffset uint32       `cty:"sbt_offset"`
	MissIndex uint32       `cty:"miss_index"`
}

// At returns the point at distance t along the ray.
func (r Ray) At(t float32) vecmath.Vec3 {
	return r.Origin.Add(r.Direction.Scale(t))
}

// FaceKind says which side of a triangle was hit.
type FaceKind uint8

const (
	FrontFace FaceKind = iota
	BackFace
)

func (k FaceKind) String() string {
	if k == BackFace {
		return "back"
	}
	return "front"
}

// HitRecord describes one intersection.
type HitRecord struct {
	PrimitiveID   uint32
	InstanceID    uint32
	GeometryID    uint32
	ObjectToWorld vecmath.Mat3x4
	WorldToObject vecmath.Mat3x4
	ObjectRay     Ray
	T             float32
	Kind          FaceKind
	// U and V are the barycentric weights of the second and third vertex.
	U, V float32
	// SBTOffset is the instance's hit group base record.
	SBTOffset uint32
}

// Decision is the answer of an any-hit callback.
type Decision int

const (
	// Accept commits the candidate as the closest hit so far.
	Accept Decision = iota
	// Reject ignores the candidate.
	Reject
	// AcceptAndTerminate commits the candidate and ends the search.
	AcceptAndTerminate
)

// AnyHitFunc is called for every candidate on non-opaque geometry.
type AnyHitFunc func(candidate HitRecord) Decision

// Traverser is the single operation the scheduler needs from an acceleration
// structure.
type Traverser interface {
	// Traverse returns the closest accepted hit along ray, or false.
	Traverse(ray Ray, anyHit AnyHitFunc) (HitRecord, bool)
}

// Geometry is one triangle list of a mesh.
type Geometry struct {
	Vertices []vecmath.Vec3
	Indices  []uint32
	Opaque   bool
}

// Triangles returns the number of triangles.
func (g Geometry) Triangles() int { return len(g.Indices) / 3 }

// Triangle returns the corners of triangle prim.
func (g Geometry) Triangle(prim int) (a, b, c vecmath.Vec3) {
	i := prim * 3
	return g.Vertices[g.Indices[i]], g.Vertices[g.Indices[i+1]], g.Vertices[g.Indices[i+2]]
}

// Bounds returns the object-space box of triangle prim.
func (g Geometry) Bounds(prim int) vecmath.AABB {
	a, b, c := g.Triangle(prim)
	return vecmath.EmptyAABB().Grow(a).Grow(b).Grow(c)
}

// Mesh is a bottom-level object made of geometries.
type Mesh struct {
	Name       string
	Geometries []Geometry
}

// Instance places a mesh in the world.
type Instance struct {
	Name      string
	Mesh      int
	Transform vecmath.Mat3x4
	SBTOffset uint32
	Mask      uint32
}

// Scene is the input of every traverser.
type Scene struct {
	Meshes    []Mesh
	Instances []Instance
}

// Validate checks index ranges and transforms.
func (s *Scene) Validate() error {
	for _, m := range s.Meshes {
		for gi, g := range m.Geometries {
			if len(g.Indices)%3 != 0 {
				return fmt.Errorf("mesh %q geometry %d: %d indices is not a triangle list", m.Name, gi, len(g.Indices))
			}
			for _, idx := range g.Indices {
				if int(idx) >= len(g.Vertices) {
					return fmt.Errorf("mesh %q geometry %d: index %d out of %d vertices", m.Name, gi, idx, len(g.Vertices))
				}
			}
		}
	}
	for _, inst := range s.Instances {
		if inst.Mesh < 0 || inst.Mesh >= len(s.Meshes) {
			return fmt.Errorf("instance %q: mesh %d does not exist", inst.Name, inst.Mesh)
		}
		if _, ok := inst.Transform.Inverse(); !ok {
			return fmt.Errorf("instance %q: transform is singular", inst.Name)
		}
	}
	return nil
}

// Inverses returns the world-to-object transform of every instance.
func (s *Scene) Inverses() []vecmath.Mat3x4 {
	out := make([]vecmath.Mat3x4, len(s.Instances))
	for i, inst := range s.Instances {
		inv, ok := inst.Transform.Inverse()
		if !ok {
			inv = vecmath.Identity()
		}
		out[i] = inv
	}
	return out
}

// GeometricNormal returns the unit world-space normal of the triangle named
// by h, following the triangle's winding.
func (s *Scene) GeometricNormal(h HitRecord) vecmath.Vec3 {
	inst := s.Instances[h.InstanceID]
	g := s.Meshes[inst.Mesh].Geometries[h.GeometryID]
	a, b, c := g.Triangle(int(h.PrimitiveID))
	n := b.Sub(a).Cross(c.Sub(a))
	return h.WorldToObject.Normal(n).Normalize()
}
