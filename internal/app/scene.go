package app

import (
	"context"
	"fmt"
	"math"
	"slices"

	"github.com/vk/wavefront/internal/accel"
	"github.com/vk/wavefront/internal/bvh"
	"github.com/vk/wavefront/internal/config"
	"github.com/vk/wavefront/internal/ctxlog"
	"github.com/vk/wavefront/internal/group"
	"github.com/vk/wavefront/internal/render"
	"github.com/vk/wavefront/internal/trace"
	"github.com/vk/wavefront/internal/vecmath"
)

// builderLinear selects the brute-force traverser instead of a BVH.
const builderLinear = "linear"

func vec3(v []float64) vecmath.Vec3 {
	f := make([]float32, len(v))
	for i, x := range v {
		f[i] = float32(x)
	}
	return vecmath.FromSlice(f)
}

// buildScene converts the meshes and instances of the model. Mesh ids
// follow name order; instance ids follow declaration order.
func buildScene(m *config.Model) (*accel.Scene, error) {
	scene := &accel.Scene{}
	meshIDs := make(map[string]int, len(m.Meshes))
	for _, name := range sortedNames(m.Meshes) {
		src := m.Meshes[name]
		mesh := accel.Mesh{Name: name}
		for _, g := range src.Geometries {
			geo := accel.Geometry{Opaque: g.Opaque}
			for i := 0; i+2 < len(g.Vertices); i += 3 {
				geo.Vertices = append(geo.Vertices, vec3(g.Vertices[i:i+3]))
			}
			for _, idx := range g.Indices {
				geo.Indices = append(geo.Indices, uint32(idx))
			}
			mesh.Geometries = append(mesh.Geometries, geo)
		}
		meshIDs[name] = len(scene.Meshes)
		scene.Meshes = append(scene.Meshes, mesh)
	}

	for _, in := range m.Instances {
		id, ok := meshIDs[in.Mesh]
		if !ok {
			return nil, fmt.Errorf("instance %q: unknown mesh %q", in.Name, in.Mesh)
		}
		offset, err := toUint32(in.SBTOffset)
		if err != nil {
			return nil, fmt.Errorf("instance %q: sbt_offset: %w", in.Name, err)
		}
		scene.Instances = append(scene.Instances, accel.Instance{
			Name:      in.Name,
			Mesh:      id,
			Transform: instanceTransform(in),
			SBTOffset: offset,
			Mask:      uint32(in.Mask) & 0xFF,
		})
	}
	if err := scene.Validate(); err != nil {
		return nil, err
	}
	return scene, nil
}

// instanceTransform applies scale, then the rotation about y (degrees),
// then the translation, unless an explicit matrix is given.
func instanceTransform(in *config.Instance) vecmath.Mat3x4 {
	if len(in.Transform) == 12 {
		rows := make([]float32, 12)
		for i, x := range in.Transform {
			rows[i] = float32(x)
		}
		return vecmath.FromRows(rows)
	}
	rad := in.RotateY * math.Pi / 180
	return vecmath.Translate(vec3(in.Translate)).
		Mul(vecmath.RotateY(rad)).
		Mul(vecmath.Scaling(vec3(in.Scale)))
}

// buildSBT resolves the table's record names into typed records.
func buildSBT(m *config.Model) (*trace.SBT, error) {
	stride, err := toUint32(m.SBT.Stride)
	if err != nil {
		return nil, fmt.Errorf("sbt: stride: %w", err)
	}
	sbt := &trace.SBT{Stride: stride}
	for _, name := range m.SBT.HitGroups {
		hg, ok := m.HitGroups[name]
		if !ok {
			return nil, fmt.Errorf("sbt: unknown hit_group %q", name)
		}
		kind, err := trace.ParseKind(hg.Kind)
		if err != nil {
			return nil, fmt.Errorf("hit_group %q: %w", name, err)
		}
		anyHit, err := trace.ParseAnyHit(hg.AnyHit)
		if err != nil {
			return nil, fmt.Errorf("hit_group %q: %w", name, err)
		}
		sbt.HitGroups = append(sbt.HitGroups, trace.HitGroup{
			Name: name, Kind: kind, Color: vec3(hg.Color), AnyHit: anyHit,
		})
	}
	for _, name := range m.SBT.Miss {
		ms, ok := m.Misses[name]
		if !ok {
			return nil, fmt.Errorf("sbt: unknown miss %q", name)
		}
		kind, err := trace.ParseKind(ms.Kind)
		if err != nil {
			return nil, fmt.Errorf("miss %q: %w", name, err)
		}
		sbt.Miss = append(sbt.Miss, trace.MissRecord{Name: name, Kind: kind, Color: vec3(ms.Color)})
	}
	return sbt, nil
}

// renderOptions maps the batch settings, with the command-line overrides
// of cfg taking precedence.
func renderOptions(m *config.Model, cfg *Config) render.Options {
	opts := render.Options{
		Width:     m.Batch.Width,
		Height:    m.Batch.Height,
		MaxDepth:  m.Batch.MaxDepth,
		Lanes:     m.Batch.Lanes,
		Rounds:    m.Batch.Rounds,
		BatchSize: m.Batch.BatchSize,
		Camera: render.Camera{
			Origin: vec3(m.Camera.Origin),
			LookAt: vec3(m.Camera.LookAt),
			Up:     vec3(m.Camera.Up),
			FOV:    float32(m.Camera.FOV),
		},
		Light: render.Light{
			Direction: vec3(m.Light.Direction),
			Color:     vec3(m.Light.Color),
			Ambient:   vec3(m.Light.Ambient),
		},
		Fallback: vec3(m.Batch.Fallback),
		Pools:    make(map[string]group.Sizing, len(m.Pools)),
	}
	for name, p := range m.Pools {
		opts.Pools[name] = group.Sizing{Concurrency: p.Concurrency, Recursion: p.Recursion}
	}
	if cfg.Rounds > 0 {
		opts.Rounds = cfg.Rounds
	}
	if cfg.Lanes > 0 {
		opts.Lanes = cfg.Lanes
	}
	return opts
}

// buildTraverser builds the acceleration structure selected by builder.
func buildTraverser(ctx context.Context, scene *accel.Scene, builder string, lanes int) (accel.Traverser, error) {
	logger := ctxlog.FromContext(ctx)
	if builder == builderLinear {
		logger.Debug("Using linear traversal.")
		lin, err := accel.NewLinear(scene)
		if err != nil {
			return nil, err
		}
		return lin, nil
	}
	method, err := bvh.ParseMethod(builder)
	if err != nil {
		return nil, err
	}
	logger.Debug("Building acceleration structure.", "method", method.String())
	tree, err := bvh.Build(ctx, scene, method, lanes)
	if err != nil {
		return nil, err
	}
	return tree, nil
}

func toUint32(v int) (uint32, error) {
	if v < 0 || int64(v) > math.MaxUint32 {
		return 0, fmt.Errorf("%d is outside [0, %d]", v, uint32(math.MaxUint32))
	}
	return uint32(v), nil
}

func sortedNames[V any](m map[string]V) []string {
	names := make([]string, 0, len(m))
	for k := range m {
		names = append(names, k)
	}
	slices.Sort(names)
	return names
}
