// This file contains the logic for translating HCL block structs (from
// schema.go) into the format-agnostic configuration model defined in the
// config package.

package hcl

import (
	"context"
	"fmt"
	"slices"

	"github.com/hashicorp/hcl/v2"
	"github.com/vk/wavefront/internal/config"
	"github.com/zclconf/go-cty/cty"
)

// translateVariable evaluates a variable's default and converts it to the
// declared type.
func translateVariable(ctx context.Context, v *variableBlock) (cty.Value, error) {
	ty, err := typeExprToCtyType(ctx, v.Type)
	if err != nil {
		return cty.NilVal, fmt.Errorf("variable %q: %w", v.Name, err)
	}
	if v.Default == nil {
		return cty.NilVal, fmt.Errorf("variable %q: a default value is required", v.Name)
	}
	val, diags := v.Default.Value(nil)
	if diags.HasErrors() {
		return cty.NilVal, fmt.Errorf("invalid default value for variable %q: %w", v.Name, diags)
	}
	if val.IsNull() {
		return cty.NilVal, fmt.Errorf("variable %q: a default value is required", v.Name)
	}
	if ty == cty.DynamicPseudoType {
		return val, nil
	}
	converted, err := convertValue(val, ty)
	if err != nil {
		return cty.NilVal, fmt.Errorf("variable %q: %w", v.Name, err)
	}
	return converted, nil
}

func (l *Loader) translateBatch(ctx context.Context, evalCtx *hcl.EvalContext, b *batchBlock) (config.Batch, error) {
	if b == nil {
		b = &batchBlock{}
	}
	var out config.Batch
	err := l.conv.DecodeFields(ctx, evalCtx, "batch",
		field{name: "width", expr: b.Width, target: &out.Width, def: cty.NumberIntVal(64)},
		field{name: "height", expr: b.Height, target: &out.Height, def: cty.NumberIntVal(48)},
		field{name: "lanes", expr: b.Lanes, target: &out.Lanes, def: cty.Zero},
		field{name: "max_depth", expr: b.MaxDepth, target: &out.MaxDepth, def: cty.NumberIntVal(4)},
		field{name: "rounds", expr: b.Rounds, target: &out.Rounds, def: cty.Zero},
		field{name: "batch_size", expr: b.BatchSize, target: &out.BatchSize, def: cty.Zero},
		field{name: "builder", expr: b.Builder, target: &out.Builder, def: cty.StringVal("sah")},
		field{name: "fallback_color", expr: b.Fallback, target: &out.Fallback, def: vec(1, 0, 1)},
	)
	return out, err
}

func (l *Loader) translatePool(ctx context.Context, evalCtx *hcl.EvalContext, p *poolBlock) (*config.Pool, error) {
	out := &config.Pool{Name: p.Name}
	err := l.conv.DecodeFields(ctx, evalCtx, fmt.Sprintf("pool %q", p.Name),
		field{name: "concurrency", expr: p.Concurrency, target: &out.Concurrency, def: cty.Zero},
		field{name: "recursion", expr: p.Recursion, target: &out.Recursion, def: cty.Zero},
	)
	return out, err
}

func (l *Loader) translateCamera(ctx context.Context, evalCtx *hcl.EvalContext, c *cameraBlock) (config.Camera, error) {
	if c == nil {
		c = &cameraBlock{}
	}
	var out config.Camera
	err := l.conv.DecodeFields(ctx, evalCtx, "camera",
		field{name: "origin", expr: c.Origin, target: &out.Origin, def: vec(0, 0, 5)},
		field{name: "look_at", expr: c.LookAt, target: &out.LookAt, def: vec(0, 0, 0)},
		field{name: "up", expr: c.Up, target: &out.Up, def: vec(0, 1, 0)},
		field{name: "fov", expr: c.FOV, target: &out.FOV, def: cty.NumberIntVal(45)},
	)
	return out, err
}

func (l *Loader) translateLight(ctx context.Context, evalCtx *hcl.EvalContext, lb *lightBlock) (config.Light, error) {
	if lb == nil {
		lb = &lightBlock{}
	}
	var out config.Light
	err := l.conv.DecodeFields(ctx, evalCtx, "light",
		field{name: "direction", expr: lb.Direction, target: &out.Direction, def: vec(-0.3, -1, -0.5)},
		field{name: "color", expr: lb.Color, target: &out.Color, def: vec(1, 1, 1)},
		field{name: "ambient", expr: lb.Ambient, target: &out.Ambient, def: vec(0.1, 0.1, 0.1)},
	)
	return out, err
}

func (l *Loader) translateHitGroup(ctx context.Context, evalCtx *hcl.EvalContext, h *hitGroupBlock) (*config.HitGroup, error) {
	out := &config.HitGroup{Name: h.Name}
	err := l.conv.DecodeFields(ctx, evalCtx, fmt.Sprintf("hit_group %q", h.Name),
		field{name: "kind", expr: h.Kind, target: &out.Kind},
		field{name: "color", expr: h.Color, target: &out.Color, def: vec(0.8, 0.8, 0.8)},
		field{name: "any_hit", expr: h.AnyHit, target: &out.AnyHit, def: cty.StringVal("none")},
	)
	return out, err
}

func (l *Loader) translateMiss(ctx context.Context, evalCtx *hcl.EvalContext, m *missBlock) (*config.Miss, error) {
	out := &config.Miss{Name: m.Name}
	err := l.conv.DecodeFields(ctx, evalCtx, fmt.Sprintf("miss %q", m.Name),
		field{name: "kind", expr: m.Kind, target: &out.Kind, def: cty.StringVal("sky")},
		field{name: "color", expr: m.Color, target: &out.Color, def: vec(0.5, 0.7, 1)},
	)
	return out, err
}

// translateSBT decodes the table. Without a table block, or for an omitted
// list, every declared record is used in name order.
func (l *Loader) translateSBT(ctx context.Context, evalCtx *hcl.EvalContext, s *sbtBlock, model *config.Model) (config.SBT, error) {
	if s == nil {
		s = &sbtBlock{}
	}
	var out config.SBT
	err := l.conv.DecodeFields(ctx, evalCtx, "sbt",
		field{name: "hit_groups", expr: s.HitGroups, target: &out.HitGroups, optional: true},
		field{name: "miss", expr: s.Miss, target: &out.Miss, optional: true},
		field{name: "stride", expr: s.Stride, target: &out.Stride, def: cty.NumberIntVal(1)},
	)
	if err != nil {
		return out, err
	}
	if out.HitGroups == nil {
		out.HitGroups = sortedKeys(model.HitGroups)
	}
	if out.Miss == nil {
		out.Miss = sortedKeys(model.Misses)
	}
	return out, nil
}

func (l *Loader) translateMesh(ctx context.Context, evalCtx *hcl.EvalContext, m *meshBlock) (*config.Mesh, error) {
	out := &config.Mesh{Name: m.Name}
	for i, g := range m.Geometries {
		geo := &config.Geometry{}
		err := l.conv.DecodeFields(ctx, evalCtx, fmt.Sprintf("mesh %q geometry %d", m.Name, i),
			field{name: "vertices", expr: g.Vertices, target: &geo.Vertices},
			field{name: "indices", expr: g.Indices, target: &geo.Indices},
			field{name: "opaque", expr: g.Opaque, target: &geo.Opaque, def: cty.True},
		)
		if err != nil {
			return nil, err
		}
		out.Geometries = append(out.Geometries, geo)
	}
	return out, nil
}

func (l *Loader) translateInstance(ctx context.Context, evalCtx *hcl.EvalContext, in *instanceBlock) (*config.Instance, error) {
	out := &config.Instance{Name: in.Name}
	err := l.conv.DecodeFields(ctx, evalCtx, fmt.Sprintf("instance %q", in.Name),
		field{name: "mesh", expr: in.Mesh, target: &out.Mesh},
		field{name: "transform", expr: in.Transform, target: &out.Transform, optional: true},
		field{name: "translate", expr: in.Translate, target: &out.Translate, def: vec(0, 0, 0)},
		field{name: "rotate_y", expr: in.RotateY, target: &out.RotateY, def: cty.Zero},
		field{name: "scale", expr: in.Scale, target: &out.Scale, def: vec(1, 1, 1)},
		field{name: "sbt_offset", expr: in.SBTOffset, target: &out.SBTOffset, def: cty.Zero},
		field{name: "mask", expr: in.Mask, target: &out.Mask, def: cty.NumberIntVal(0xFF)},
	)
	return out, err
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	slices.Sort(keys)
	return keys
}
