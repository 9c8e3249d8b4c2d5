package persist

import "reflect"

// deepClone copies value so the result shares no pointers, maps or slices
// with the original. Cyclic graphs are reproduced rather than followed
// forever. Unexported struct fields are copied shallowly.
func deepClone[T any](value T) T {
	rv := reflect.ValueOf(&value).Elem()
	cloned := cloneValue(rv, map[cloneKey]reflect.Value{})
	if !cloned.IsValid() {
		var zero T
		return zero
	}
	// A nil interface T comes back as an untyped nil.
	out, _ := cloned.Interface().(T)
	return out
}

type cloneKey struct {
	ptr uintptr
	typ reflect.Type
	len int
}

func cloneValue(v reflect.Value, seen map[cloneKey]reflect.Value) reflect.Value {
	if !v.IsValid() {
		return v
	}

	switch v.Kind() {
	case reflect.Pointer:
		if v.IsNil() {
			return reflect.Zero(v.Type())
		}
		key := cloneKey{ptr: v.Pointer(), typ: v.Type()}
		if existing, ok := seen[key]; ok {
			return existing
		}
		clone := reflect.New(v.Type().Elem())
		seen[key] = clone
		clone.Elem().Set(cloneValue(v.Elem(), seen))
		return clone
	case reflect.Interface:
		if v.IsNil() {
			return reflect.Zero(v.Type())
		}
		elem := cloneValue(v.Elem(), seen)
		out := reflect.New(v.Type()).Elem()
		out.Set(elem)
		return out
	case reflect.Struct:
		clone := reflect.New(v.Type()).Elem()
		if v.CanInterface() {
			clone.Set(v)
		}
		t := v.Type()
		for i := 0; i < v.NumField(); i++ {
			if !t.Field(i).IsExported() {
				continue
			}
			clone.Field(i).Set(cloneValue(v.Field(i), seen))
		}
		return clone
	case reflect.Map:
		if v.IsNil() {
			return reflect.Zero(v.Type())
		}
		key := cloneKey{ptr: v.Pointer(), typ: v.Type()}
		if existing, ok := seen[key]; ok {
			return existing
		}
		clone := reflect.MakeMapWithSize(v.Type(), v.Len())
		seen[key] = clone
		iter := v.MapRange()
		for iter.Next() {
			clone.SetMapIndex(iter.Key(), cloneValue(iter.Value(), seen))
		}
		return clone
	case reflect.Slice:
		if v.IsNil() {
			return reflect.Zero(v.Type())
		}
		key := cloneKey{ptr: v.Pointer(), typ: v.Type(), len: v.Len()}
		if existing, ok := seen[key]; ok {
			return existing
		}
		clone := reflect.MakeSlice(v.Type(), v.Len(), v.Len())
		seen[key] = clone
		for i := 0; i < v.Len(); i++ {
			clone.Index(i).Set(cloneValue(v.Index(i), seen))
		}
		return clone
	case reflect.Array:
		clone := reflect.New(v.Type()).Elem()
		for i := 0; i < v.Len(); i++ {
			clone.Index(i).Set(cloneValue(v.Index(i), seen))
		}
		return clone
	default:
		out := reflect.New(v.Type()).Elem()
		if v.CanInterface() {
			out.Set(v)
		}
		return out
	}
}
