package config

import (
	"errors"
	"fmt"
	"math"
)

// Model is the unified, format-agnostic representation of one render batch:
// the scheduler settings, the pools, the shading setup and the scene.
type Model struct {
	Batch     Batch
	Pools     map[string]*Pool
	Camera    Camera
	Light     Light
	HitGroups map[string]*HitGroup
	Misses    map[string]*Miss
	SBT       SBT
	Meshes    map[string]*Mesh
	// Instances keep their declaration order, which defines instance ids.
	Instances []*Instance
}

// NewModel returns an empty model with every map allocated.
func NewModel() *Model {
	return &Model{
		Pools:     make(map[string]*Pool),
		HitGroups: make(map[string]*HitGroup),
		Misses:    make(map[string]*Miss),
		Meshes:    make(map[string]*Mesh),
	}
}

// Batch holds the scheduler and image settings.
type Batch struct {
	Width     int
	Height    int
	Lanes     int
	MaxDepth  int
	Rounds    int
	BatchSize int
	Builder   string
	Fallback  []float64
}

// Pool overrides the sizing of one task type's pool.
type Pool struct {
	Name        string
	Concurrency int
	Recursion   int
}

// Camera is the pinhole camera of the batch.
type Camera struct {
	Origin []float64
	LookAt []float64
	Up     []float64
	FOV    float64
}

// Light is the directional light of the batch.
type Light struct {
	Direction []float64
	Color     []float64
	Ambient   []float64
}

// HitGroup is a named hit-group record.
type HitGroup struct {
	Name   string
	Kind   string
	Color  []float64
	AnyHit string
}

// Miss is a named miss record.
type Miss struct {
	Name  string
	Kind  string
	Color []float64
}

// SBT orders the named records into the shader binding table.
type SBT struct {
	HitGroups []string
	Miss      []string
	Stride    int
}

// Mesh is a named triangle mesh.
type Mesh struct {
	Name       string
	Geometries []*Geometry
}

// Geometry is one triangle list; Vertices is a flat list of xyz triples.
type Geometry struct {
	Vertices []float64
	Indices  []int
	Opaque   bool
}

// Instance places a mesh. Transform, when set, is a row-major 3x4 matrix
// and wins over Translate, RotateY and Scale.
type Instance struct {
	Name      string
	Mesh      string
	Transform []float64
	Translate []float64
	RotateY   float64
	Scale     []float64
	SBTOffset int
	Mask      int
}

// Validate checks that every cross-reference resolves and every vector has
// the right arity.
func (m *Model) Validate() error {
	var errs []error
	vec := func(owner string, v []float64) {
		if len(v) != 3 {
			errs = append(errs, fmt.Errorf("%s: expected 3 components, got %d", owner, len(v)))
		}
	}

	if m.Batch.Width <= 0 || m.Batch.Height <= 0 {
		errs = append(errs, fmt.Errorf("batch: invalid image size %dx%d", m.Batch.Width, m.Batch.Height))
	}
	vec("batch.fallback_color", m.Batch.Fallback)
	vec("camera.origin", m.Camera.Origin)
	vec("camera.look_at", m.Camera.LookAt)
	vec("camera.up", m.Camera.Up)
	vec("light.direction", m.Light.Direction)
	vec("light.color", m.Light.Color)
	vec("light.ambient", m.Light.Ambient)

	for name, hg := range m.HitGroups {
		vec(fmt.Sprintf("hit_group %q color", name), hg.Color)
	}
	for name, ms := range m.Misses {
		vec(fmt.Sprintf("miss %q color", name), ms.Color)
	}
	for _, name := range m.SBT.HitGroups {
		if _, ok := m.HitGroups[name]; !ok {
			errs = append(errs, fmt.Errorf("sbt: unknown hit_group %q", name))
		}
	}
	for _, name := range m.SBT.Miss {
		if _, ok := m.Misses[name]; !ok {
			errs = append(errs, fmt.Errorf("sbt: unknown miss %q", name))
		}
	}
	if m.SBT.Stride < 0 || int64(m.SBT.Stride) > math.MaxUint32 {
		errs = append(errs, fmt.Errorf("sbt: stride %d outside [0, %d]", m.SBT.Stride, uint32(math.MaxUint32)))
	}

	for name, mesh := range m.Meshes {
		for i, g := range mesh.Geometries {
			if len(g.Vertices)%3 != 0 {
				errs = append(errs, fmt.Errorf("mesh %q geometry %d: vertex list length %d is not a multiple of 3", name, i, len(g.Vertices)))
			}
			if len(g.Indices)%3 != 0 {
				errs = append(errs, fmt.Errorf("mesh %q geometry %d: index list length %d is not a multiple of 3", name, i, len(g.Indices)))
			}
			for _, idx := range g.Indices {
				if idx < 0 || idx >= len(g.Vertices)/3 {
					errs = append(errs, fmt.Errorf("mesh %q geometry %d: index %d out of range", name, i, idx))
					break
				}
			}
		}
	}
	seen := make(map[string]struct{}, len(m.Instances))
	for _, inst := range m.Instances {
		if _, dup := seen[inst.Name]; dup {
			errs = append(errs, fmt.Errorf("instance %q declared twice", inst.Name))
		}
		seen[inst.Name] = struct{}{}
		if _, ok := m.Meshes[inst.Mesh]; !ok {
			errs = append(errs, fmt.Errorf("instance %q: unknown mesh %q", inst.Name, inst.Mesh))
		}
		if inst.Transform != nil && len(inst.Transform) != 12 {
			errs = append(errs, fmt.Errorf("instance %q: transform needs 12 values, got %d", inst.Name, len(inst.Transform)))
		}
		vec(fmt.Sprintf("instance %q translate", inst.Name), inst.Translate)
		vec(fmt.Sprintf("instance %q scale", inst.Name), inst.Scale)
		if inst.SBTOffset < 0 {
			errs = append(errs, fmt.Errorf("instance %q: negative sbt_offset", inst.Name))
		} else if int64(inst.SBTOffset) > math.MaxUint32 {
			errs = append(errs, fmt.Errorf("instance %q: sbt_offset %d exceeds %d", inst.Name, inst.SBTOffset, uint32(math.MaxUint32)))
		}
	}
	return errors.Join(errs...)
}
