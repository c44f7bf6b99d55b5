// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package element

import (
	"math"
	"testing"

	"github.com/gomlx/gopjrt/dtypes"
	"github.com/gomlx/gopjrt/dtypes/bfloat16"
	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/x448/float16"
)

func TestNames(t *testing.T) {
	for _, et := range All {
		got, err := FromName(et.String())
		require.NoError(t, err)
		assert.Equal(t, et, got)
	}
	got, err := FromName("BOOL")
	require.NoError(t, err)
	assert.Equal(t, Boolean, got)
	_, err = FromName("c64")
	require.Error(t, err)
}

func TestPredicates(t *testing.T) {
	assert.False(t, Undefined.IsStatic())
	assert.False(t, Dynamic.IsStatic())
	assert.True(t, F32.IsStatic())
	assert.True(t, BF16.IsReal())
	assert.False(t, I8.IsReal())
	assert.True(t, U16.IsInteger())
	assert.False(t, U16.IsSigned())
	assert.True(t, I16.IsSigned())
	assert.True(t, F16.IsSigned())
	assert.False(t, Boolean.IsNumeric())
	assert.Equal(t, 16, BF16.Bitwidth())
	assert.Equal(t, 8, F64.Size())
	assert.Equal(t, 0, Dynamic.Size())
}

func TestMerge(t *testing.T) {
	got, ok := Merge(Dynamic, F32)
	require.True(t, ok)
	assert.Equal(t, F32, got)
	got, ok = Merge(I64, Undefined)
	require.True(t, ok)
	assert.Equal(t, I64, got)
	got, ok = Merge(Undefined, Dynamic)
	require.True(t, ok)
	assert.Equal(t, Dynamic, got)
	_, ok = Merge(F32, F64)
	assert.False(t, ok)
}

func TestDType(t *testing.T) {
	assert.Equal(t, dtypes.Float32, F32.ToDType())
	assert.Equal(t, dtypes.InvalidDType, Dynamic.ToDType())
	for _, et := range All {
		if !et.IsStatic() {
			continue
		}
		back, err := FromDType(et.ToDType())
		require.NoError(t, err)
		assert.Equal(t, et, back)
	}
	_, err := FromDType(dtypes.Complex64)
	require.Error(t, err)
}

func TestLowest(t *testing.T) {
	v, err := F32.Lowest()
	require.NoError(t, err)
	assert.True(t, math.IsInf(float64(v.(float32)), -1))

	v, err = F16.Lowest()
	require.NoError(t, err)
	assert.Equal(t, float16.Inf(-1), v)

	v, err = BF16.Lowest()
	require.NoError(t, err)
	assert.True(t, math.IsInf(float64(v.(bfloat16.BFloat16).Float32()), -1))

	v, err = I16.Lowest()
	require.NoError(t, err)
	assert.Equal(t, int16(math.MinInt16), v)

	v, err = U32.Lowest()
	require.NoError(t, err)
	assert.Equal(t, uint32(0), v)

	v, err = Boolean.Lowest()
	require.NoError(t, err)
	assert.Equal(t, false, v)

	for _, marker := range []Type{Undefined, Dynamic} {
		_, err = marker.Lowest()
		require.Error(t, err)
		assert.True(t, errors.Is(err, ErrNoValue))
		_, err = marker.Highest()
		require.Error(t, err)
		_, err = marker.Zero()
		require.Error(t, err)
	}
}

func TestConvertValue(t *testing.T) {
	v, err := ConvertValue(F32, 0.01)
	require.NoError(t, err)
	assert.Equal(t, float32(0.01), v)

	v, err = ConvertValue(I8, -3.7)
	require.NoError(t, err)
	assert.Equal(t, int8(-3), v)

	v, err = I64.One()
	require.NoError(t, err)
	assert.Equal(t, int64(1), v)

	f, ok := ToFloat64(float16.Fromfloat32(2))
	require.True(t, ok)
	assert.Equal(t, 2.0, f)

	i, ok := ToInt64(uint16(7))
	require.True(t, ok)
	assert.Equal(t, int64(7), i)
	_, ok = ToInt64(float32(1))
	assert.False(t, ok)
}
