// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

package loan

import (
	"fmt"
	"reflect"
)

// maxAlign is the strongest alignment a middleware slot is required to provide.
const maxAlign = 8

// Layout describes the memory footprint of a loanable message type.
type Layout struct {
	Size  int
	Align int
}

// CheckLayout verifies that T can live in a middleware-allocated buffer and
// returns its layout. T must be a non-empty value type whose every field,
// recursively, is a boolean, number or array/struct of those.
func CheckLayout[T any]() (Layout, error) {
	t := reflect.TypeFor[T]()
	if err := checkType(t, t.String()); err != nil {
		return Layout{}, err
	}
	if t.Size() == 0 {
		return Layout{}, fmt.Errorf("%w: %s has zero size", ErrInvalidLayout, t)
	}
	if t.Align() > maxAlign {
		return Layout{}, fmt.Errorf("%w: %s requires %d-byte alignment", ErrInvalidLayout, t, t.Align())
	}
	return Layout{Size: int(t.Size()), Align: t.Align()}, nil
}

func checkType(t reflect.Type, path string) error {
	switch t.Kind() {
	case reflect.Bool,
		reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64,
		reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64, reflect.Uintptr,
		reflect.Float32, reflect.Float64, reflect.Complex64, reflect.Complex128:
		return nil
	case reflect.Array:
		return checkType(t.Elem(), path+"[]")
	case reflect.Struct:
		for i := 0; i < t.NumField(); i++ {
			f := t.Field(i)
			if err := checkType(f.Type, path+"."+f.Name); err != nil {
				return err
			}
		}
		return nil
	default:
		return fmt.Errorf("%w: %s is a %s", ErrInvalidLayout, path, t.Kind())
	}
}
