// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package shapes

import (
	"fmt"
	"slices"
	"strings"

	"github.com/gomlx/opsetgraph/pkg/support/sets"
	"github.com/gomlx/opsetgraph/pkg/support/xslices"
	"github.com/pkg/errors"
)

// AxisSet is a sorted list of unique non-negative axes, used for reduction and broadcast axes.
type AxisSet []int

// MakeAxisSet returns the sorted, de-duplicated AxisSet with the given axes.
func MakeAxisSet(axes ...int) AxisSet {
	return AxisSet(sets.Sorted(sets.MakeWith(axes...)))
}

// Has returns whether axis is in the set.
func (a AxisSet) Has(axis int) bool {
	_, found := slices.BinarySearch(a, axis)
	return found
}

// Set returns the axes as a sets.Set.
func (a AxisSet) Set() sets.Set[int] { return sets.MakeWith(a...) }

// Equal returns whether both sets hold the same axes.
func (a AxisSet) Equal(a2 AxisSet) bool { return slices.Equal(a, a2) }

// String implements fmt.Stringer.
func (a AxisSet) String() string { return intsString(a) }

// CheckRank returns an error if any axis is out of bounds for the given rank.
// If rank is negative (unknown) it only checks that the axes are non-negative.
func (a AxisSet) CheckRank(rank int) error {
	for _, axis := range a {
		if axis < 0 || (rank >= 0 && axis >= rank) {
			return errors.Errorf("axis %d out of bounds for rank %d (axes=%s)", axis, rank, a)
		}
	}
	return nil
}

// AxisVector is an ordered list of axes, e.g. a permutation.
type AxisVector []int

// Equal returns whether both vectors are the same.
func (a AxisVector) Equal(a2 AxisVector) bool { return slices.Equal(a, a2) }

// String implements fmt.Stringer.
func (a AxisVector) String() string { return intsString(a) }

// IsIdentity returns whether a is the permutation 0, 1, ..., len(a)-1.
func (a AxisVector) IsIdentity() bool {
	return slices.Equal([]int(a), xslices.Iota(0, len(a)))
}

// IsPermutation returns whether a holds each axis in [0, rank) exactly once.
func (a AxisVector) IsPermutation(rank int) bool {
	if len(a) != rank {
		return false
	}
	seen := sets.Make[int](rank)
	for _, axis := range a {
		if axis < 0 || axis >= rank || seen.Has(axis) {
			return false
		}
		seen.Insert(axis)
	}
	return true
}

// Strides of a sliding window (convolution, pooling), one per spatial axis.
type Strides []int

// Equal returns whether both strides are the same.
func (s Strides) Equal(s2 Strides) bool { return slices.Equal(s, s2) }

// String implements fmt.Stringer.
func (s Strides) String() string { return intsString(s) }

// Ones returns strides of 1 for the given number of spatial axes.
func Ones(numSpatialAxes int) Strides {
	return xslices.SliceWithValue(numSpatialAxes, 1)
}

// IsUnit returns whether every stride is 1.
func (s Strides) IsUnit() bool {
	for _, stride := range s {
		if stride != 1 {
			return false
		}
	}
	return true
}

// CoordinateDiff is a per-axis signed offset, used for paddings.
type CoordinateDiff []int

// Zeros returns a CoordinateDiff of zeros for the given number of axes.
func Zeros(numAxes int) CoordinateDiff { return make(CoordinateDiff, numAxes) }

// Equal returns whether both are the same.
func (c CoordinateDiff) Equal(c2 CoordinateDiff) bool { return slices.Equal(c, c2) }

// String implements fmt.Stringer.
func (c CoordinateDiff) String() string { return intsString(c) }

func intsString[T ~[]int](values T) string {
	return fmt.Sprintf("{%s}", strings.Join(xslices.Map([]int(values), func(v int) string { return fmt.Sprint(v) }), ","))
}
