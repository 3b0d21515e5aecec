package hcl

import (
	"context"
	"fmt"
	"reflect"

	"github.com/hashicorp/hcl/v2"
	"github.com/vk/wavefront/internal/ctxlog"
	"github.com/zclconf/go-cty/cty"
	"github.com/zclconf/go-cty/cty/convert"
	"github.com/zclconf/go-cty/cty/gocty"
)

// field binds one attribute expression to a Go target.
type field struct {
	name   string
	expr   hcl.Expression
	target any
	// def is applied when the attribute is absent or null. A cty.NilVal
	// default makes the attribute required unless optional is set.
	def      cty.Value
	optional bool
}

// Converter evaluates attribute expressions and binds them to Go values.
type Converter struct{}

// NewConverter creates a new HCL converter.
func NewConverter() *Converter {
	return &Converter{}
}

// DecodeFields evaluates every field, applies defaults, and populates the
// targets. owner names the block in error messages.
func (c *Converter) DecodeFields(ctx context.Context, evalCtx *hcl.EvalContext, owner string, fields ...field) error {
	for _, f := range fields {
		val := cty.NullVal(cty.DynamicPseudoType)
		if f.expr != nil {
			v, diags := f.expr.Value(evalCtx)
			if diags.HasErrors() {
				return fmt.Errorf("%s: %s: %w", owner, f.name, diags)
			}
			val = v
		}
		if val.IsNull() {
			if f.def == cty.NilVal {
				if f.optional {
					continue
				}
				return fmt.Errorf("%s: missing required argument %q", owner, f.name)
			}
			val = f.def
		}
		if err := c.decode(ctx, val, f.target); err != nil {
			return fmt.Errorf("%s: failed to decode argument '%s': %w", owner, f.name, err)
		}
	}
	return nil
}

// decode handles the conversion and decoding of a cty.Value into a Go pointer.
func (c *Converter) decode(ctx context.Context, val cty.Value, goVal any) error {
	logger := ctxlog.FromContext(ctx)
	valPtr := reflect.ValueOf(goVal)
	if valPtr.Kind() != reflect.Ptr {
		return fmt.Errorf("target for decoding must be a pointer, got %T", goVal)
	}
	if !val.IsWhollyKnown() {
		return fmt.Errorf("value is not known at load time")
	}

	impliedType, err := gocty.ImpliedType(valPtr.Elem().Interface())
	if err != nil {
		return fmt.Errorf("unsupported target type %s: %w", valPtr.Elem().Type(), err)
	}

	convertedVal, err := convert.Convert(val, impliedType)
	if err != nil {
		return fmt.Errorf("cannot convert %s to required type %s: %w", val.Type().FriendlyName(), impliedType.FriendlyName(), err)
	}
	if !val.Type().Equals(convertedVal.Type()) {
		logger.Debug("Implicitly converted value type.",
			"from", val.Type().FriendlyName(),
			"to", convertedVal.Type().FriendlyName(),
		)
	}
	return gocty.FromCtyValue(convertedVal, goVal)
}

// vec returns a cty tuple default of numbers.
func vec(xs ...float64) cty.Value {
	vals := make([]cty.Value, len(xs))
	for i, x := range xs {
		vals[i] = cty.NumberFloatVal(x)
	}
	return cty.TupleVal(vals)
}
