// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

// Package shapes defines Shape, the (possibly partially unknown) dimensions of the value produced
// by a node output, and the small attribute vector types used by ops (AxisSet, Strides, ...).
//
// Unlike a tensor shape, a graph Shape may be only partially known when the graph is built:
//
//   - Individual axes may have a dynamic dimension, represented by DynamicDim.
//   - The rank itself may be unknown, see DynamicRank.
//
// Inference rules propagate dynamism instead of guessing: the functions in this package that
// combine shapes (Merge, BroadcastNumpy) return the most specific shape that is consistent with
// their inputs.
//
// ## Glossary
//
//   - Rank: number of axes of a shape. -1 if unknown.
//   - Axis: the index of a dimension.
//   - Dimension: the size of an axis, DynamicDim if unknown.
//   - Static: a shape whose rank and dimensions are all known.
package shapes

import (
	"fmt"
	"slices"
	"strconv"
	"strings"

	"github.com/gomlx/exceptions"
	"github.com/gomlx/opsetgraph/pkg/core/element"
	"github.com/gomlx/opsetgraph/pkg/support/xslices"
	"github.com/pkg/errors"
)

// DynamicDim is the value of a dimension that is not known at graph-construction time.
const DynamicDim = -1

// Shape of the value produced by a node output.
//
// The zero value is a scalar shape (rank 0). Use Make to create a new shape.
type Shape struct {
	// Dimensions of each axis, DynamicDim if unknown. Ignored if UnknownRank is set.
	Dimensions []int

	// UnknownRank is set for shapes whose rank is not known.
	UnknownRank bool
}

// Make returns a Shape with the given dimensions. Use DynamicDim for axes with unknown dimension.
// It panics for negative dimensions other than DynamicDim.
func Make(dimensions ...int) Shape {
	s := Shape{Dimensions: slices.Clone(dimensions)}
	if err := s.Validate(); err != nil {
		exceptions.Panicf("shapes.Make(%v): %v", dimensions, err)
	}
	return s
}

// Validate returns an error if a dimension is negative and not DynamicDim. Shapes built with
// Make are always valid, but Shape literals are not checked.
func (s Shape) Validate() error {
	if s.UnknownRank {
		return nil
	}
	for axis, dim := range s.Dimensions {
		if dim < DynamicDim {
			return errors.Errorf("invalid negative dimension %d for axis %d", dim, axis)
		}
	}
	return nil
}

// Scalar returns a shape of rank 0.
func Scalar() Shape { return Shape{} }

// DynamicRank returns a shape whose rank (and hence dimensions) is not known.
func DynamicRank() Shape { return Shape{UnknownRank: true} }

// MakeDynamic returns a shape of known rank but all dimensions unknown.
func MakeDynamic(rank int) Shape {
	dims := make([]int, rank)
	for ii := range dims {
		dims[ii] = DynamicDim
	}
	return Shape{Dimensions: dims}
}

// Rank returns the number of axes, or -1 if the rank is unknown.
func (s Shape) Rank() int {
	if s.UnknownRank {
		return -1
	}
	return len(s.Dimensions)
}

// IsDynamicRank returns whether the rank is unknown.
func (s Shape) IsDynamicRank() bool { return s.UnknownRank }

// IsStatic returns whether the rank and every dimension are known.
func (s Shape) IsStatic() bool {
	if s.UnknownRank {
		return false
	}
	return !slices.ContainsFunc(s.Dimensions, func(dim int) bool { return dim < 0 })
}

// IsScalar returns whether the shape is known to have rank 0.
func (s Shape) IsScalar() bool { return !s.UnknownRank && len(s.Dimensions) == 0 }

// Size returns the number of elements for a static shape, or -1 otherwise.
func (s Shape) Size() int {
	if !s.IsStatic() {
		return -1
	}
	return xslices.Product(s.Dimensions)
}

// Memory returns the number of bytes needed to hold a value of this shape with the given
// element type, or -1 if either is not known statically.
func (s Shape) Memory(et element.Type) int64 {
	size := s.Size()
	if size < 0 || !et.IsStatic() {
		return -1
	}
	return int64(size) * int64(et.Size())
}

// Dim returns the dimension of the given axis. Negative axes count from the end.
// It panics if the rank is unknown or the axis is out of bounds, like slice indexing.
func (s Shape) Dim(axis int) int {
	if s.UnknownRank {
		exceptions.Panicf("Shape.Dim(%d) for shape of unknown rank", axis)
	}
	adjustedAxis := axis
	if adjustedAxis < 0 {
		adjustedAxis += s.Rank()
	}
	if adjustedAxis < 0 || adjustedAxis >= s.Rank() {
		exceptions.Panicf("Shape.Dim(%d) out-of-bounds for rank %d (shape=%s)", axis, s.Rank(), s)
	}
	return s.Dimensions[adjustedAxis]
}

// NormalizeAxis converts a possibly negative axis to its non-negative equivalent for the given
// rank, or returns an error if it is out of bounds.
func NormalizeAxis(axis, rank int) (int, error) {
	adjusted := axis
	if adjusted < 0 {
		adjusted += rank
	}
	if adjusted < 0 || adjusted >= rank {
		return 0, errors.Errorf("axis %d out of bounds for rank %d", axis, rank)
	}
	return adjusted, nil
}

// String implements fmt.Stringer: "[2,?,3]" for a shape with a dynamic axis, "[...]" for unknown
// rank and "[]" for scalars.
func (s Shape) String() string {
	if s.UnknownRank {
		return "[...]"
	}
	parts := make([]string, len(s.Dimensions))
	for ii, dim := range s.Dimensions {
		if dim == DynamicDim {
			parts[ii] = "?"
		} else {
			parts[ii] = strconv.Itoa(dim)
		}
	}
	return fmt.Sprintf("[%s]", strings.Join(parts, ","))
}

// Clone returns a deep copy of the shape.
func (s Shape) Clone() Shape {
	return Shape{Dimensions: slices.Clone(s.Dimensions), UnknownRank: s.UnknownRank}
}

// Equal compares two shapes structurally: dynamic dimensions are only equal to dynamic dimensions.
func (s Shape) Equal(s2 Shape) bool {
	if s.UnknownRank || s2.UnknownRank {
		return s.UnknownRank == s2.UnknownRank
	}
	return slices.Equal(s.Dimensions, s2.Dimensions)
}

// Compatible returns whether there is a static shape that both s and s2 could describe.
func (s Shape) Compatible(s2 Shape) bool {
	_, ok := Merge(s, s2)
	return ok
}

// Relaxes returns whether s is the same as s2 or a less specific version of it, that is, every
// static shape described by s2 is also described by s.
func (s Shape) Relaxes(s2 Shape) bool {
	if s.UnknownRank {
		return true
	}
	if s2.UnknownRank || len(s.Dimensions) != len(s2.Dimensions) {
		return false
	}
	for ii, dim := range s.Dimensions {
		if dim != DynamicDim && dim != s2.Dimensions[ii] {
			return false
		}
	}
	return true
}

// Merge returns the most specific shape compatible with both s1 and s2, refining dynamic
// dimensions of one with the static dimensions of the other.
// It returns false if the shapes are incompatible.
func Merge(s1, s2 Shape) (Shape, bool) {
	if s1.UnknownRank {
		return s2.Clone(), true
	}
	if s2.UnknownRank {
		return s1.Clone(), true
	}
	if len(s1.Dimensions) != len(s2.Dimensions) {
		return Shape{}, false
	}
	merged := make([]int, len(s1.Dimensions))
	for ii, dim1 := range s1.Dimensions {
		dim2 := s2.Dimensions[ii]
		switch {
		case dim1 == DynamicDim:
			merged[ii] = dim2
		case dim2 == DynamicDim || dim1 == dim2:
			merged[ii] = dim1
		default:
			return Shape{}, false
		}
	}
	return Shape{Dimensions: merged}, true
}

// BroadcastNumpy returns the shape resulting from broadcasting s1 and s2 with NumPy rules:
// shapes are right-aligned, missing leading axes are taken as 1, and an axis of dimension 1
// stretches to match the other.
//
// Dynamic dimensions are propagated: 1 against a dynamic dimension is dynamic, a static n != 1
// against a dynamic dimension is n. If either rank is unknown, so is the result's.
func BroadcastNumpy(s1, s2 Shape) (Shape, error) {
	if s1.UnknownRank || s2.UnknownRank {
		return DynamicRank(), nil
	}
	rank := max(len(s1.Dimensions), len(s2.Dimensions))
	out := make([]int, rank)
	for ii := range rank {
		dim1, dim2 := 1, 1
		if jj := ii - (rank - len(s1.Dimensions)); jj >= 0 {
			dim1 = s1.Dimensions[jj]
		}
		if jj := ii - (rank - len(s2.Dimensions)); jj >= 0 {
			dim2 = s2.Dimensions[jj]
		}
		switch {
		case dim1 == dim2:
			out[ii] = dim1
		case dim1 == 1:
			out[ii] = dim2
		case dim2 == 1:
			out[ii] = dim1
		case dim1 == DynamicDim:
			out[ii] = dim2
		case dim2 == DynamicDim:
			out[ii] = dim1
		default:
			return Shape{}, errors.Errorf("shapes %s and %s are not broadcastable: axis %d has dimensions %d and %d",
				s1, s2, ii, dim1, dim2)
		}
	}
	return Shape{Dimensions: out}, nil
}
