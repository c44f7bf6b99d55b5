// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

// Package element defines Type, the element type of the tensors flowing through the edges of an
// operator graph.
//
// It is a closed enumeration: booleans, reduced-precision and standard floats, signed and unsigned
// integers of several widths, plus two markers: Undefined (the zero value, used as a placeholder
// before inference) and Dynamic (a type that is not known at graph-construction time).
//
// Besides the usual predicates, the package provides the per-type "identity" values used by
// reductions (Lowest, Highest, Zero, One) as pure functions: they return an error for the marker
// types instead of making one up.
package element

import (
	"strings"

	"github.com/gomlx/gopjrt/dtypes"
	"github.com/pkg/errors"
)

// Type of the unit element of a tensor.
type Type int32

const (
	// Undefined is the zero value: a placeholder for a type not yet inferred.
	Undefined Type = iota

	// Dynamic marks a type that is not known at graph-construction time.
	Dynamic

	Boolean
	BF16
	F16
	F32
	F64
	I8
	I16
	I32
	I64
	U8
	U16
	U32
	U64
)

var typeNames = []string{
	Undefined: "undefined",
	Dynamic:   "dynamic",
	Boolean:   "boolean",
	BF16:      "bf16",
	F16:       "f16",
	F32:       "f32",
	F64:       "f64",
	I8:        "i8",
	I16:       "i16",
	I32:       "i32",
	I64:       "i64",
	U8:        "u8",
	U16:       "u16",
	U32:       "u32",
	U64:       "u64",
}

// All lists every element type, markers included, in enumeration order.
var All = []Type{Undefined, Dynamic, Boolean, BF16, F16, F32, F64, I8, I16, I32, I64, U8, U16, U32, U64}

// String implements fmt.Stringer.
func (t Type) String() string {
	if t < 0 || int(t) >= len(typeNames) {
		return "invalid"
	}
	return typeNames[t]
}

// FromName returns the Type with the given name (case-insensitive), e.g. "f32" or "boolean".
// "bool" is accepted as an alias of "boolean".
func FromName(name string) (Type, error) {
	name = strings.ToLower(name)
	if name == "bool" {
		return Boolean, nil
	}
	for ii, typeName := range typeNames {
		if typeName == name {
			return Type(ii), nil
		}
	}
	return Undefined, errors.Errorf("unknown element type %q", name)
}

// IsValid returns whether t is one of the enumerated values.
func (t Type) IsValid() bool {
	return t >= Undefined && t <= U64
}

// IsStatic returns whether t is a concrete type, that is, neither Undefined nor Dynamic.
func (t Type) IsStatic() bool {
	return t.IsValid() && t != Undefined && t != Dynamic
}

// IsReal returns whether t is a floating point type.
func (t Type) IsReal() bool {
	return t == BF16 || t == F16 || t == F32 || t == F64
}

// IsInteger returns whether t is a signed or unsigned integer type.
func (t Type) IsInteger() bool {
	return t >= I8 && t <= U64
}

// IsSigned returns whether t can represent negative values.
func (t Type) IsSigned() bool {
	return t.IsReal() || (t >= I8 && t <= I64)
}

// IsNumeric returns whether t is a number (integer or float).
func (t Type) IsNumeric() bool {
	return t.IsReal() || t.IsInteger()
}

// Bitwidth returns the number of bits used by one element, or 0 for the marker types.
func (t Type) Bitwidth() int {
	switch t {
	case Boolean, I8, U8:
		return 8
	case BF16, F16, I16, U16:
		return 16
	case F32, I32, U32:
		return 32
	case F64, I64, U64:
		return 64
	default:
		return 0
	}
}

// Size returns the number of bytes used by one element, or 0 for the marker types.
func (t Type) Size() int {
	return t.Bitwidth() / 8
}

// Merge returns the most specific type compatible with both a and b.
// Undefined and Dynamic merge with anything; two static types merge only when they are equal.
func Merge(a, b Type) (Type, bool) {
	switch {
	case !a.IsStatic() && !b.IsStatic():
		if a == Dynamic || b == Dynamic {
			return Dynamic, true
		}
		return Undefined, true
	case !a.IsStatic():
		return b, true
	case !b.IsStatic():
		return a, true
	case a == b:
		return a, true
	default:
		return Undefined, false
	}
}

// Compatible returns whether a and b can be merged.
func Compatible(a, b Type) bool {
	_, ok := Merge(a, b)
	return ok
}

var toDType = map[Type]dtypes.DType{
	Boolean: dtypes.Bool,
	BF16:    dtypes.BFloat16,
	F16:     dtypes.Float16,
	F32:     dtypes.Float32,
	F64:     dtypes.Float64,
	I8:      dtypes.Int8,
	I16:     dtypes.Int16,
	I32:     dtypes.Int32,
	I64:     dtypes.Int64,
	U8:      dtypes.Uint8,
	U16:     dtypes.Uint16,
	U32:     dtypes.Uint32,
	U64:     dtypes.Uint64,
}

// ToDType converts t to the backend DType. Marker types have no DType and return dtypes.InvalidDType.
func (t Type) ToDType() dtypes.DType {
	if dtype, found := toDType[t]; found {
		return dtype
	}
	return dtypes.InvalidDType
}

// FromDType converts a backend DType to an element Type.
// DTypes without a counterpart (complex numbers, for instance) return an error.
func FromDType(dtype dtypes.DType) (Type, error) {
	for t, candidate := range toDType {
		if candidate == dtype {
			return t, nil
		}
	}
	return Undefined, errors.Errorf("dtype %s has no corresponding element type", dtype)
}
