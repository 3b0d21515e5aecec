package codec

import (
	"reflect"

	"github.com/zclconf/go-cty/cty"
	"github.com/zclconf/go-cty/cty/gocty"
)

var valueType = reflect.TypeOf(cty.Value{})

// impliedType follows gocty.ImpliedType, except that a struct with no fields
// is the empty object type. Stateless tasks use struct{} as their state, and
// gocty converts such values once the type is known.
func impliedType(rt reflect.Type, path cty.Path) (cty.Type, error) {
	switch rt.Kind() {
	case reflect.Ptr:
		return impliedType(rt.Elem(), path)
	case reflect.Slice:
		ety, err := impliedType(rt.Elem(), append(path, cty.IndexStep{Key: cty.UnknownVal(cty.Number)}))
		if err != nil {
			return cty.NilType, err
		}
		return cty.List(ety), nil
	case reflect.Map:
		if rt.Key().Kind() != reflect.String {
			return cty.NilType, path.NewErrorf("no cty.Type for %s (must have string keys)", rt)
		}
		ety, err := impliedType(rt.Elem(), append(path, cty.IndexStep{Key: cty.UnknownVal(cty.String)}))
		if err != nil {
			return cty.NilType, err
		}
		return cty.Map(ety), nil
	case reflect.Struct:
		return impliedStructType(rt, path)
	case reflect.Interface:
		return cty.NilType, path.NewErrorf("no cty.Type for %s", rt)
	default:
		ty, err := gocty.ImpliedType(reflect.Zero(rt).Interface())
		if err != nil {
			return cty.NilType, path.NewErrorf("no cty.Type for %s", rt)
		}
		return ty, nil
	}
}

func impliedStructType(rt reflect.Type, path cty.Path) (cty.Type, error) {
	if valueType.AssignableTo(rt) {
		return cty.DynamicPseudoType, nil
	}
	if rt.NumField() == 0 {
		return cty.EmptyObject, nil
	}

	atys := make(map[string]cty.Type, rt.NumField())
	for i := 0; i < rt.NumField(); i++ {
		field := rt.Field(i)
		name := field.Tag.Get("cty")
		if name == "" {
			continue
		}
		aty, err := impliedType(field.Type, append(path, cty.GetAttrStep{Name: name}))
		if err != nil {
			return cty.NilType, err
		}
		atys[name] = aty
	}
	if len(atys) == 0 {
		return cty.NilType, path.NewErrorf("no cty.Type for %s (no cty field tags)", rt)
	}
	return cty.Object(atys), nil
}
