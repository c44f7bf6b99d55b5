// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package ops

import (
	"github.com/gomlx/opsetgraph/pkg/core/graph"
	"github.com/gomlx/opsetgraph/pkg/core/shapes"
)

// Reshape is the opset 0 reshape: the operand axes are first permuted by InputOrder (empty means
// identity), and the result is read in row-major order into OutputShape.
type Reshape struct {
	InputOrder  shapes.AxisVector
	OutputShape shapes.Shape
}

// NewReshape creates an opset 0 Reshape. inputOrder may be nil for the identity order.
func NewReshape(x graph.Output, inputOrder []int, outputShape shapes.Shape) (*graph.Node, error) {
	return graph.NewNode(&Reshape{InputOrder: inputOrder, OutputShape: outputShape.Clone()}, x)
}

// TypeInfo implements graph.Op.
func (r *Reshape) TypeInfo() graph.TypeInfo { return graph.TypeInfo{Name: "Reshape", Version: 0} }

// IsIdentityOrder returns whether InputOrder doesn't permute the operand axes.
func (r *Reshape) IsIdentityOrder() bool {
	return len(r.InputOrder) == 0 || r.InputOrder.IsIdentity()
}

// ValidateAndInferTypes implements graph.Op.
func (r *Reshape) ValidateAndInferTypes(n *graph.Node) error {
	if err := checkInputs(n, 1); err != nil {
		return err
	}
	if err := r.OutputShape.Validate(); err != nil {
		return graph.InvalidArgumentf("Reshape output shape %s: %v", r.OutputShape, err)
	}
	if !r.OutputShape.IsStatic() {
		return graph.InvalidArgumentf("Reshape requires a static output shape, got %s", r.OutputShape)
	}
	x := n.Input(0)
	xShape := x.Shape()
	if len(r.InputOrder) > 0 && !xShape.IsDynamicRank() && !r.InputOrder.IsPermutation(xShape.Rank()) {
		return graph.InvalidArgumentf("Reshape: input order %s is not a permutation of the operand axes (shape %s)",
			r.InputOrder, xShape)
	}
	if xShape.IsStatic() && xShape.Size() != r.OutputShape.Size() {
		return graph.TypeInferenceErrorf("Reshape of %s (%d elements) to %s (%d elements)",
			xShape, xShape.Size(), r.OutputShape, r.OutputShape.Size())
	}
	n.SetOutputType(0, x.ElementType(), r.OutputShape)
	return nil
}

// CopyWithNewArgs implements graph.Op.
func (r *Reshape) CopyWithNewArgs(args []graph.Output) (*graph.Node, error) {
	return graph.NewNode(&Reshape{InputOrder: r.InputOrder, OutputShape: r.OutputShape.Clone()}, args...)
}

// Attributes implements graph.AttributesProvider.
func (r *Reshape) Attributes() map[string]any {
	return map[string]any{"input_order": []int(r.InputOrder), "output_shape": r.OutputShape.Dimensions}
}

// GenerateAdjoints implements graph.Differentiable. Only reshapes with the identity input order
// are supported.
func (r *Reshape) GenerateAdjoints(n *graph.Node, adjoints graph.AdjointSink, deltas []graph.Output) error {
	if !r.IsIdentityOrder() {
		return graph.Unsupportedf("autodiff of Reshape with input order %s", r.InputOrder)
	}
	x := n.Input(0)
	xShape, err := staticShape(x, "autodiff of Reshape")
	if err != nil {
		return err
	}
	return catch(func() {
		addDelta(adjoints, x, mustOut(NewReshape(deltas[0], nil, xShape)))
	})
}

// ReshapeV1 is the opset 1 reshape: the output shape is given by the pattern input. A -1 in the
// pattern is inferred from the number of elements and, with SpecialZero, a 0 copies the operand
// dimension at the same axis.
type ReshapeV1 struct {
	SpecialZero bool
}

// NewReshapeV1 creates an opset 1 Reshape.
func NewReshapeV1(x, pattern graph.Output, specialZero bool) (*graph.Node, error) {
	return graph.NewNode(&ReshapeV1{SpecialZero: specialZero}, x, pattern)
}

// TypeInfo implements graph.Op.
func (r *ReshapeV1) TypeInfo() graph.TypeInfo { return graph.TypeInfo{Name: "Reshape", Version: 1} }

// ValidateAndInferTypes implements graph.Op.
func (r *ReshapeV1) ValidateAndInferTypes(n *graph.Node) error {
	if err := checkInputs(n, 2); err != nil {
		return err
	}
	if err := checkShapeInput(n, 1, "pattern"); err != nil {
		return err
	}
	x := n.Input(0)
	pattern, ok := ConstantInts(n.Input(1))
	if !ok {
		shape, _ := shapeFromInput(n.Input(1))
		n.SetOutputType(0, x.ElementType(), shape)
		return nil
	}
	shape, err := r.resolvePattern(x.Shape(), pattern)
	if err != nil {
		return err
	}
	n.SetOutputType(0, x.ElementType(), shape)
	return nil
}

func (r *ReshapeV1) resolvePattern(xShape shapes.Shape, pattern []int) (shapes.Shape, error) {
	dims := make([]int, len(pattern))
	inferredAxis := -1
	known := 1
	for ii, p := range pattern {
		switch {
		case p == -1:
			if inferredAxis >= 0 {
				return shapes.Shape{}, graph.InvalidArgumentf("Reshape pattern %v has more than one -1", pattern)
			}
			inferredAxis = ii
			dims[ii] = shapes.DynamicDim
			continue
		case p < -1:
			return shapes.Shape{}, graph.InvalidArgumentf("Reshape pattern %v has invalid value %d", pattern, p)
		case p == 0 && r.SpecialZero:
			if xShape.IsDynamicRank() {
				dims[ii] = shapes.DynamicDim
			} else if ii >= xShape.Rank() {
				return shapes.Shape{}, graph.InvalidArgumentf("Reshape pattern %v copies axis %d of operand %s", pattern, ii, xShape)
			} else {
				dims[ii] = xShape.Dimensions[ii]
			}
		default:
			dims[ii] = p
		}
		if dims[ii] == shapes.DynamicDim || known < 0 {
			known = -1
		} else {
			known *= dims[ii]
		}
	}
	size := xShape.Size()
	switch {
	case inferredAxis >= 0 && size >= 0 && known > 0:
		if size%known != 0 {
			return shapes.Shape{}, graph.TypeInferenceErrorf("Reshape of %s with pattern %v: %d elements don't divide into %d",
				xShape, pattern, size, known)
		}
		dims[inferredAxis] = size / known
	case inferredAxis < 0 && size >= 0 && known >= 0 && size != known:
		return shapes.Shape{}, graph.TypeInferenceErrorf("Reshape of %s (%d elements) with pattern %v (%d elements)",
			xShape, size, pattern, known)
	}
	return shapes.Make(dims...), nil
}

// OutputPattern returns the pattern input values if it is a Constant.
func (r *ReshapeV1) OutputPattern(n *graph.Node) ([]int, bool) {
	return ConstantInts(n.Input(1))
}

// CopyWithNewArgs implements graph.Op.
func (r *ReshapeV1) CopyWithNewArgs(args []graph.Output) (*graph.Node, error) {
	return graph.NewNode(&ReshapeV1{SpecialZero: r.SpecialZero}, args...)
}

// Attributes implements graph.AttributesProvider.
func (r *ReshapeV1) Attributes() map[string]any {
	return map[string]any{"special_zero": r.SpecialZero}
}
