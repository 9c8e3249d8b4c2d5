package codec

import (
	"fmt"
	"reflect"
)

type visit struct {
	ptr uintptr
	typ reflect.Type
	len int
}

// CheckAcyclic walks the exported graph reachable from value and returns an
// error wrapping ErrCyclic when a pointer, map or slice is reachable from
// itself. Shared but acyclic references are fine.
func CheckAcyclic(value any) error {
	return walkAcyclic(reflect.ValueOf(value), map[visit]struct{}{}, "$")
}

func walkAcyclic(v reflect.Value, onPath map[visit]struct{}, path string) error {
	if !v.IsValid() {
		return nil
	}

	switch v.Kind() {
	case reflect.Pointer:
		if v.IsNil() {
			return nil
		}
		key := visit{ptr: v.Pointer(), typ: v.Type()}
		if _, seen := onPath[key]; seen {
			return fmt.Errorf("%w at %s", ErrCyclic, path)
		}
		onPath[key] = struct{}{}
		defer delete(onPath, key)
		return walkAcyclic(v.Elem(), onPath, path)
	case reflect.Interface:
		if v.IsNil() {
			return nil
		}
		return walkAcyclic(v.Elem(), onPath, path)
	case reflect.Map:
		if v.IsNil() || v.Len() == 0 {
			return nil
		}
		key := visit{ptr: v.Pointer(), typ: v.Type()}
		if _, seen := onPath[key]; seen {
			return fmt.Errorf("%w at %s", ErrCyclic, path)
		}
		onPath[key] = struct{}{}
		defer delete(onPath, key)
		iter := v.MapRange()
		for iter.Next() {
			if err := walkAcyclic(iter.Value(), onPath, fmt.Sprintf("%s[%v]", path, iter.Key())); err != nil {
				return err
			}
		}
		return nil
	case reflect.Slice:
		if v.IsNil() || v.Len() == 0 {
			return nil
		}
		key := visit{ptr: v.Pointer(), typ: v.Type(), len: v.Len()}
		if _, seen := onPath[key]; seen {
			return fmt.Errorf("%w at %s", ErrCyclic, path)
		}
		onPath[key] = struct{}{}
		defer delete(onPath, key)
		for i := 0; i < v.Len(); i++ {
			if err := walkAcyclic(v.Index(i), onPath, fmt.Sprintf("%s[%d]", path, i)); err != nil {
				return err
			}
		}
		return nil
	case reflect.Array:
		for i := 0; i < v.Len(); i++ {
			if err := walkAcyclic(v.Index(i), onPath, fmt.Sprintf("%s[%d]", path, i)); err != nil {
				return err
			}
		}
		return nil
	case reflect.Struct:
		t := v.Type()
		for i := 0; i < v.NumField(); i++ {
			field := t.Field(i)
			if !field.IsExported() {
				continue
			}
			if err := walkAcyclic(v.Field(i), onPath, path+"."+field.Name); err != nil {
				return err
			}
		}
		return nil
	default:
		return nil
	}
}
