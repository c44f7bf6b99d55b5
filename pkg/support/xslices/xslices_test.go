// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package xslices

import (
	"strconv"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSlices(t *testing.T) {
	assert.Equal(t, []int{2, 3, 4}, Iota(2, 3))
	assert.Equal(t, 24, Product([]int{2, 3, 4}))
	assert.Equal(t, 1, Product([]int{}))
	assert.Equal(t, []string{"a", "b"}, SortedKeys(map[string]int{"b": 1, "a": 2}))

	v, rest := Pop([]int{1, 2})
	assert.Equal(t, 2, v)
	assert.Equal(t, []int{1}, rest)
}

func TestFlagValue(t *testing.T) {
	f := &genericSliceFlagImpl[int]{parserFn: strconv.Atoi}
	require.NoError(t, f.Set("1, 2,3"))
	assert.Equal(t, []int{1, 2, 3}, f.parsedSlice)
	assert.Equal(t, "1,2,3", f.String())
	require.Error(t, f.Set("1,x"))
	require.NoError(t, f.Set(""))
	assert.Empty(t, f.parsedSlice)
}
