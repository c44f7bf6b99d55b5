// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package element

import (
	"math"

	"github.com/gomlx/gopjrt/dtypes/bfloat16"
	"github.com/pkg/errors"
	"github.com/x448/float16"
)

// ErrNoValue is returned (wrapped) when a value is requested for a type that doesn't have one,
// like Lowest(Dynamic).
var ErrNoValue = errors.New("no value defined for element type")

func noValue(t Type, what string) error {
	return errors.Wrapf(ErrNoValue, "%s of %s", what, t)
}

// Lowest returns the lowest value representable by t, as the corresponding Go type.
// For float types it is negative infinity, for Boolean it is false, and for unsigned integers 0.
//
// It is the identity element of a max-reduction.
func (t Type) Lowest() (any, error) {
	switch t {
	case Boolean:
		return false, nil
	case BF16:
		return bfloat16.FromFloat32(float32(math.Inf(-1))), nil
	case F16:
		return float16.Inf(-1), nil
	case F32:
		return float32(math.Inf(-1)), nil
	case F64:
		return math.Inf(-1), nil
	case I8:
		return int8(math.MinInt8), nil
	case I16:
		return int16(math.MinInt16), nil
	case I32:
		return int32(math.MinInt32), nil
	case I64:
		return int64(math.MinInt64), nil
	case U8:
		return uint8(0), nil
	case U16:
		return uint16(0), nil
	case U32:
		return uint32(0), nil
	case U64:
		return uint64(0), nil
	}
	return nil, noValue(t, "lowest value")
}

// Highest returns the highest value representable by t, as the corresponding Go type.
// For float types it is positive infinity, for Boolean it is true.
//
// It is the identity element of a min-reduction.
func (t Type) Highest() (any, error) {
	switch t {
	case Boolean:
		return true, nil
	case BF16:
		return bfloat16.FromFloat32(float32(math.Inf(1))), nil
	case F16:
		return float16.Inf(1), nil
	case F32:
		return float32(math.Inf(1)), nil
	case F64:
		return math.Inf(1), nil
	case I8:
		return int8(math.MaxInt8), nil
	case I16:
		return int16(math.MaxInt16), nil
	case I32:
		return int32(math.MaxInt32), nil
	case I64:
		return int64(math.MaxInt64), nil
	case U8:
		return uint8(math.MaxUint8), nil
	case U16:
		return uint16(math.MaxUint16), nil
	case U32:
		return uint32(math.MaxUint32), nil
	case U64:
		return uint64(math.MaxUint64), nil
	}
	return nil, noValue(t, "highest value")
}

// Zero returns the zero value of t, the identity element of a sum-reduction.
func (t Type) Zero() (any, error) {
	if !t.IsStatic() {
		return nil, noValue(t, "zero")
	}
	return ConvertValue(t, 0)
}

// One returns the value 1 (true for Boolean) of t, the identity element of a product-reduction.
func (t Type) One() (any, error) {
	if !t.IsStatic() {
		return nil, noValue(t, "one")
	}
	return ConvertValue(t, 1)
}

// ConvertValue converts a float64 to the Go value used to store elements of type t.
// Integer types truncate towards zero; Boolean is true for any non-zero value.
func ConvertValue(t Type, value float64) (any, error) {
	switch t {
	case Boolean:
		return value != 0, nil
	case BF16:
		return bfloat16.FromFloat32(float32(value)), nil
	case F16:
		return float16.Fromfloat32(float32(value)), nil
	case F32:
		return float32(value), nil
	case F64:
		return value, nil
	case I8:
		return int8(value), nil
	case I16:
		return int16(value), nil
	case I32:
		return int32(value), nil
	case I64:
		return int64(value), nil
	case U8:
		return uint8(value), nil
	case U16:
		return uint16(value), nil
	case U32:
		return uint32(value), nil
	case U64:
		return uint64(value), nil
	}
	return nil, noValue(t, "conversion of a value")
}

// ToFloat64 converts a Go value stored for an element type back to float64.
// It returns false if the value is not one of the supported Go types.
func ToFloat64(value any) (float64, bool) {
	switch v := value.(type) {
	case bool:
		if v {
			return 1, true
		}
		return 0, true
	case bfloat16.BFloat16:
		return float64(v.Float32()), true
	case float16.Float16:
		return float64(v.Float32()), true
	case float32:
		return float64(v), true
	case float64:
		return v, true
	case int8:
		return float64(v), true
	case int16:
		return float64(v), true
	case int32:
		return float64(v), true
	case int64:
		return float64(v), true
	case int:
		return float64(v), true
	case uint8:
		return float64(v), true
	case uint16:
		return float64(v), true
	case uint32:
		return float64(v), true
	case uint64:
		return float64(v), true
	}
	return 0, false
}

// ToInt64 converts a Go value stored for an integer (or boolean) element type to int64, without
// the precision loss of going through a float64.
func ToInt64(value any) (int64, bool) {
	switch v := value.(type) {
	case bool:
		if v {
			return 1, true
		}
		return 0, true
	case int8:
		return int64(v), true
	case int16:
		return int64(v), true
	case int32:
		return int64(v), true
	case int64:
		return v, true
	case int:
		return int64(v), true
	case uint8:
		return int64(v), true
	case uint16:
		return int64(v), true
	case uint32:
		return int64(v), true
	case uint64:
		if v > math.MaxInt64 {
			return 0, false
		}
		return int64(v), true
	}
	return 0, false
}
