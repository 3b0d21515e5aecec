package hcl

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/hashicorp/hcl/v2"
	"github.com/hashicorp/hcl/v2/gohcl"
	"github.com/hashicorp/hcl/v2/hclparse"
	"github.com/vk/wavefront/internal/config"
	"github.com/vk/wavefront/internal/ctxlog"
	"github.com/vk/wavefront/internal/fsutil"
	"github.com/zclconf/go-cty/cty"
	"github.com/zclconf/go-cty/cty/convert"
	"github.com/zclconf/go-cty/cty/function"
	"github.com/zclconf/go-cty/cty/function/stdlib"
)

// ErrNoFiles is returned when no .hcl file was found under the given paths.
var ErrNoFiles = errors.New("no .hcl files found")

// Loader is the HCL-specific implementation of the config.Loader interface.
type Loader struct {
	conv *Converter
}

var _ config.Loader = (*Loader)(nil)

// NewLoader creates a new HCL configuration loader.
func NewLoader() *Loader {
	return &Loader{conv: NewConverter()}
}

// Load orchestrates the entire HCL configuration loading process. Blocks
// may be spread over any number of files; singleton blocks (batch, camera,
// light, sbt) may appear once across all of them.
func (l *Loader) Load(ctx context.Context, paths ...string) (*config.Model, error) {
	logger := ctxlog.FromContext(ctx)
	logger.Debug("HCL loader started.", "path_count", len(paths))

	hclFiles, err := l.findAllHCLFiles(paths)
	if err != nil {
		return nil, err
	}
	if len(hclFiles) == 0 {
		return nil, fmt.Errorf("%w in %v", ErrNoFiles, paths)
	}
	logger.Debug("Discovered HCL files.", "count", len(hclFiles))

	parser := hclparse.NewParser()
	var merged fileRoot
	for _, file := range hclFiles {
		hclFile, diags := parser.ParseHCLFile(file)
		if diags.HasErrors() {
			return nil, fmt.Errorf("failed to parse HCL file %s: %w", file, diags)
		}
		var root fileRoot
		diags = gohcl.DecodeBody(hclFile.Body, nil, &root)
		if diags.HasErrors() {
			return nil, fmt.Errorf("failed to decode HCL file %s: %w", file, diags)
		}
		if err := merge(&merged, &root); err != nil {
			return nil, fmt.Errorf("%s: %w", file, err)
		}
	}

	evalCtx, err := l.evalContext(ctx, merged.Variables)
	if err != nil {
		return nil, err
	}
	model, err := l.translate(ctx, evalCtx, &merged)
	if err != nil {
		return nil, err
	}
	if err := model.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	logger.Debug("HCL loading complete.",
		"meshes", len(model.Meshes),
		"instances", len(model.Instances),
		"hit_groups", len(model.HitGroups),
		"misses", len(model.Misses),
		"pools", len(model.Pools),
	)
	return model, nil
}

// merge appends the blocks of src to dst and rejects duplicate singletons.
func merge(dst, src *fileRoot) error {
	single := func(name string, have, add bool) error {
		if have && add {
			return fmt.Errorf("duplicate %s block", name)
		}
		return nil
	}
	if err := errors.Join(
		single("batch", dst.Batch != nil, src.Batch != nil),
		single("camera", dst.Camera != nil, src.Camera != nil),
		single("light", dst.Light != nil, src.Light != nil),
		single("sbt", dst.SBT != nil, src.SBT != nil),
	); err != nil {
		return err
	}
	if src.Batch != nil {
		dst.Batch = src.Batch
	}
	if src.Camera != nil {
		dst.Camera = src.Camera
	}
	if src.Light != nil {
		dst.Light = src.Light
	}
	if src.SBT != nil {
		dst.SBT = src.SBT
	}
	dst.Variables = append(dst.Variables, src.Variables...)
	dst.Pools = append(dst.Pools, src.Pools...)
	dst.HitGroups = append(dst.HitGroups, src.HitGroups...)
	dst.Misses = append(dst.Misses, src.Misses...)
	dst.Meshes = append(dst.Meshes, src.Meshes...)
	dst.Instances = append(dst.Instances, src.Instances...)
	return nil
}

// evalContext exposes the variables as var.<name> plus a few cty functions.
func (l *Loader) evalContext(ctx context.Context, vars []*variableBlock) (*hcl.EvalContext, error) {
	values := make(map[string]cty.Value, len(vars))
	for _, v := range vars {
		if _, dup := values[v.Name]; dup {
			return nil, fmt.Errorf("variable %q declared twice", v.Name)
		}
		val, err := translateVariable(ctx, v)
		if err != nil {
			return nil, err
		}
		values[v.Name] = val
	}
	return &hcl.EvalContext{
		Variables: map[string]cty.Value{"var": cty.ObjectVal(values)},
		Functions: map[string]function.Function{
			"abs":     stdlib.AbsoluteFunc,
			"ceil":    stdlib.CeilFunc,
			"concat":  stdlib.ConcatFunc,
			"flatten": stdlib.FlattenFunc,
			"floor":   stdlib.FloorFunc,
			"length":  stdlib.LengthFunc,
			"max":     stdlib.MaxFunc,
			"min":     stdlib.MinFunc,
			"range":   stdlib.RangeFunc,
		},
	}, nil
}

func (l *Loader) translate(ctx context.Context, evalCtx *hcl.EvalContext, root *fileRoot) (*config.Model, error) {
	model := config.NewModel()
	var err error

	if model.Batch, err = l.translateBatch(ctx, evalCtx, root.Batch); err != nil {
		return nil, err
	}
	if model.Camera, err = l.translateCamera(ctx, evalCtx, root.Camera); err != nil {
		return nil, err
	}
	if model.Light, err = l.translateLight(ctx, evalCtx, root.Light); err != nil {
		return nil, err
	}
	for _, p := range root.Pools {
		if _, dup := model.Pools[p.Name]; dup {
			return nil, fmt.Errorf("pool %q declared twice", p.Name)
		}
		def, err := l.translatePool(ctx, evalCtx, p)
		if err != nil {
			return nil, err
		}
		model.Pools[p.Name] = def
	}
	for _, h := range root.HitGroups {
		if _, dup := model.HitGroups[h.Name]; dup {
			return nil, fmt.Errorf("hit_group %q declared twice", h.Name)
		}
		def, err := l.translateHitGroup(ctx, evalCtx, h)
		if err != nil {
			return nil, err
		}
		model.HitGroups[h.Name] = def
	}
	for _, m := range root.Misses {
		if _, dup := model.Misses[m.Name]; dup {
			return nil, fmt.Errorf("miss %q declared twice", m.Name)
		}
		def, err := l.translateMiss(ctx, evalCtx, m)
		if err != nil {
			return nil, err
		}
		model.Misses[m.Name] = def
	}
	if model.SBT, err = l.translateSBT(ctx, evalCtx, root.SBT, model); err != nil {
		return nil, err
	}
	for _, m := range root.Meshes {
		if _, dup := model.Meshes[m.Name]; dup {
			return nil, fmt.Errorf("mesh %q declared twice", m.Name)
		}
		def, err := l.translateMesh(ctx, evalCtx, m)
		if err != nil {
			return nil, err
		}
		model.Meshes[m.Name] = def
	}
	for _, in := range root.Instances {
		def, err := l.translateInstance(ctx, evalCtx, in)
		if err != nil {
			return nil, err
		}
		model.Instances = append(model.Instances, def)
	}
	return model, nil
}

func convertValue(val cty.Value, ty cty.Type) (cty.Value, error) {
	out, err := convert.Convert(val, ty)
	if err != nil {
		return cty.NilVal, fmt.Errorf("cannot convert %s to %s: %w", val.Type().FriendlyName(), ty.FriendlyName(), err)
	}
	return out, nil
}

// findAllHCLFiles walks all given paths and returns a flat list of all .hcl files found.
func (l *Loader) findAllHCLFiles(paths []string) ([]string, error) {
	var allFiles []string
	seen := make(map[string]struct{})
	add := func(p string) {
		if _, wasSeen := seen[p]; !wasSeen {
			allFiles = append(allFiles, p)
			seen[p] = struct{}{}
		}
	}

	for _, path := range paths {
		info, err := os.Stat(path)
		if err != nil {
			if os.IsNotExist(err) {
				continue // It's not an error if a configured path doesn't exist.
			}
			return nil, fmt.Errorf("error accessing path %s: %w", path, err)
		}

		if !info.IsDir() {
			if strings.EqualFold(filepath.Ext(path), ".hcl") {
				add(path)
			}
			continue
		}
		files, err := fsutil.FindFiles(path, ".hcl")
		if err != nil {
			return nil, err
		}
		for _, f := range files {
			add(f)
		}
	}
	return allFiles, nil
}
