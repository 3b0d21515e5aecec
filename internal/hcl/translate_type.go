// This file parses the `type` attribute of variable blocks. Besides the
// primitive keywords it knows the scene keywords `vec3` and `color`, both a
// tuple of exactly three numbers.

package hcl

import (
	"context"
	"fmt"

	"github.com/hashicorp/hcl/v2"
	"github.com/hashicorp/hcl/v2/hclsyntax"
	"github.com/vk/wavefront/internal/ctxlog"
	"github.com/zclconf/go-cty/cty"
)

var vec3Type = cty.Tuple([]cty.Type{cty.Number, cty.Number, cty.Number})

var typeKeywords = map[string]cty.Type{
	"any":    cty.DynamicPseudoType,
	"bool":   cty.Bool,
	"number": cty.Number,
	"string": cty.String,
	"vec3":   vec3Type,
	"color":  vec3Type,
}

var typeConstructors = map[string]func(cty.Type) cty.Type{
	"list": cty.List,
	"map":  cty.Map,
	"set":  cty.Set,
}

// typeExprToCtyType resolves a variable type expression. An absent type is
// `any`.
func typeExprToCtyType(ctx context.Context, expr hcl.Expression) (cty.Type, error) {
	if expr == nil {
		return cty.DynamicPseudoType, nil
	}
	// gohcl fills absent optional expressions with a static null.
	if val, diags := expr.Value(nil); !diags.HasErrors() && val.IsNull() {
		return cty.DynamicPseudoType, nil
	}

	switch e := expr.(type) {
	case *hclsyntax.ScopeTraversalExpr:
		if len(e.Traversal) != 1 {
			return cty.NilType, fmt.Errorf("type keyword must be a single identifier")
		}
		name := e.Traversal.RootName()
		ty, ok := typeKeywords[name]
		if !ok {
			return cty.NilType, fmt.Errorf("unknown type keyword %q", name)
		}
		return ty, nil

	case *hclsyntax.FunctionCallExpr:
		build, ok := typeConstructors[e.Name]
		if !ok {
			return cty.NilType, fmt.Errorf("unknown type constructor %q", e.Name)
		}
		if len(e.Args) != 1 {
			return cty.NilType, fmt.Errorf("%s(...) takes one element type, got %d", e.Name, len(e.Args))
		}
		elem, err := typeExprToCtyType(ctx, e.Args[0])
		if err != nil {
			return cty.NilType, err
		}
		if elem == cty.DynamicPseudoType {
			return cty.NilType, fmt.Errorf("%s(any) is not a concrete type", e.Name)
		}
		ty := build(elem)
		ctxlog.FromContext(ctx).Debug("Parsed variable type.", "type", ty.FriendlyName())
		return ty, nil

	default:
		return cty.NilType, fmt.Errorf("unsupported type expression %T", expr)
	}
}
