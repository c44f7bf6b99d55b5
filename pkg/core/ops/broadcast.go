// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package ops

import (
	"slices"

	"github.com/gomlx/opsetgraph/pkg/core/graph"
	"github.com/gomlx/opsetgraph/pkg/core/shapes"
)

// Broadcast is the opset 0 broadcast: the output Shape is an attribute, and Axes lists the
// output axes that are not in the operand (the new axes). The remaining output axes map, in
// order, to the operand axes.
type Broadcast struct {
	Shape shapes.Shape
	Axes  shapes.AxisSet
}

// NewBroadcast creates an opset 0 Broadcast of x to shape, where axes are the new axes.
func NewBroadcast(x graph.Output, shape shapes.Shape, axes ...int) (*graph.Node, error) {
	return graph.NewNode(&Broadcast{Shape: shape.Clone(), Axes: shapes.MakeAxisSet(axes...)}, x)
}

// TypeInfo implements graph.Op.
func (b *Broadcast) TypeInfo() graph.TypeInfo { return graph.TypeInfo{Name: "Broadcast", Version: 0} }

// ValidateAndInferTypes implements graph.Op.
func (b *Broadcast) ValidateAndInferTypes(n *graph.Node) error {
	if err := checkInputs(n, 1); err != nil {
		return err
	}
	if err := b.Shape.Validate(); err != nil {
		return graph.InvalidArgumentf("Broadcast shape %s: %v", b.Shape, err)
	}
	if !b.Shape.IsStatic() {
		return graph.InvalidArgumentf("Broadcast requires a static shape attribute, got %s", b.Shape)
	}
	if err := b.Axes.CheckRank(b.Shape.Rank()); err != nil {
		return graph.InvalidArgumentf("Broadcast axes: %v", err)
	}
	x := n.Input(0)
	xShape := x.Shape()
	if !xShape.IsDynamicRank() {
		if xShape.Rank() != b.Shape.Rank()-len(b.Axes) {
			return graph.InvalidArgumentf("Broadcast of operand %s to %s with new axes %s: operand rank must be %d",
				xShape, b.Shape, b.Axes, b.Shape.Rank()-len(b.Axes))
		}
		xAxis := 0
		for axis, dim := range b.Shape.Dimensions {
			if b.Axes.Has(axis) {
				continue
			}
			if xDim := xShape.Dimensions[xAxis]; xDim != shapes.DynamicDim && xDim != dim {
				return graph.TypeInferenceErrorf("Broadcast of operand %s to %s: operand axis %d has dimension %d, wanted %d",
					xShape, b.Shape, xAxis, xDim, dim)
			}
			xAxis++
		}
	}
	n.SetOutputType(0, x.ElementType(), b.Shape)
	return nil
}

// CopyWithNewArgs implements graph.Op.
func (b *Broadcast) CopyWithNewArgs(args []graph.Output) (*graph.Node, error) {
	return graph.NewNode(&Broadcast{Shape: b.Shape.Clone(), Axes: b.Axes}, args...)
}

// Attributes implements graph.AttributesProvider.
func (b *Broadcast) Attributes() map[string]any {
	return map[string]any{"shape": b.Shape.Dimensions, "broadcast_axes": []int(b.Axes)}
}

// GenerateAdjoints implements graph.Differentiable: the delta is summed over the new axes.
func (b *Broadcast) GenerateAdjoints(n *graph.Node, adjoints graph.AdjointSink, deltas []graph.Output) error {
	return catch(func() {
		addDelta(adjoints, n.Input(0), mustOut(Sum(deltas[0], b.Axes...)))
	})
}

// BroadcastMode selects how the opset 1 Broadcast maps operand axes to output axes.
type BroadcastMode int

const (
	// BroadcastExplicit maps operand axes to output axes with the axes_mapping input.
	BroadcastExplicit BroadcastMode = iota

	// BroadcastNumpyMode right-aligns the operand axes with the output axes, NumPy style.
	BroadcastNumpyMode
)

// String implements fmt.Stringer.
func (m BroadcastMode) String() string {
	if m == BroadcastNumpyMode {
		return "numpy"
	}
	return "explicit"
}

// BroadcastV1 is the opset 1 broadcast: the target shape is the second input and, in explicit
// mode, the third input maps each operand axis to an output axis.
type BroadcastV1 struct {
	Mode BroadcastMode
}

// NewBroadcastV1 creates an opset 1 Broadcast. axesMapping must be given only in explicit mode.
func NewBroadcastV1(x, targetShape graph.Output, mode BroadcastMode, axesMapping ...graph.Output) (*graph.Node, error) {
	args := append([]graph.Output{x, targetShape}, axesMapping...)
	return graph.NewNode(&BroadcastV1{Mode: mode}, args...)
}

// TypeInfo implements graph.Op.
func (b *BroadcastV1) TypeInfo() graph.TypeInfo { return graph.TypeInfo{Name: "Broadcast", Version: 1} }

// ValidateAndInferTypes implements graph.Op.
func (b *BroadcastV1) ValidateAndInferTypes(n *graph.Node) error {
	numInputs := 2
	if b.Mode == BroadcastExplicit {
		numInputs = 3
	}
	if err := checkInputs(n, numInputs); err != nil {
		return err
	}
	if err := checkShapeInput(n, 1, "target_shape"); err != nil {
		return err
	}
	x := n.Input(0)
	target, known := shapeFromInput(n.Input(1))
	if !known || x.Shape().IsDynamicRank() {
		n.SetOutputType(0, x.ElementType(), target)
		return nil
	}
	xShape := x.Shape()
	switch b.Mode {
	case BroadcastNumpyMode:
		broadcast, err := shapes.BroadcastNumpy(xShape, target)
		if err != nil || !broadcast.Equal(target) {
			return graph.TypeInferenceErrorf("Broadcast: operand %s can't be numpy-broadcast to %s", xShape, target)
		}
	case BroadcastExplicit:
		if err := checkShapeInput(n, 2, "axes_mapping"); err != nil {
			return err
		}
		mapping, ok := ConstantInts(n.Input(2))
		if ok {
			if err := checkAxesMapping(xShape, target, mapping); err != nil {
				return err
			}
		}
	}
	n.SetOutputType(0, x.ElementType(), target)
	return nil
}

func checkAxesMapping(xShape, target shapes.Shape, mapping []int) error {
	if len(mapping) != xShape.Rank() {
		return graph.InvalidArgumentf("Broadcast: axes_mapping %v must have one entry per operand axis (rank %d)",
			mapping, xShape.Rank())
	}
	for ii, axis := range mapping {
		if axis < 0 || axis >= target.Rank() || (ii > 0 && axis <= mapping[ii-1]) {
			return graph.InvalidArgumentf("Broadcast: axes_mapping %v must be increasing and within target rank %d",
				mapping, target.Rank())
		}
		xDim, targetDim := xShape.Dimensions[ii], target.Dimensions[axis]
		if xDim != shapes.DynamicDim && targetDim != shapes.DynamicDim && xDim != targetDim && xDim != 1 {
			return graph.TypeInferenceErrorf("Broadcast: operand axis %d (dimension %d) can't be broadcast to target axis %d (dimension %d)",
				ii, xDim, axis, targetDim)
		}
	}
	return nil
}

// CopyWithNewArgs implements graph.Op.
func (b *BroadcastV1) CopyWithNewArgs(args []graph.Output) (*graph.Node, error) {
	return graph.NewNode(&BroadcastV1{Mode: b.Mode}, args...)
}

// Attributes implements graph.AttributesProvider.
func (b *BroadcastV1) Attributes() map[string]any {
	return map[string]any{"mode": b.Mode.String()}
}

// checkShapeInput returns an error if input i of n is not a 1D integer tensor.
func checkShapeInput(n *graph.Node, i int, what string) error {
	in := n.Input(i)
	if et := in.ElementType(); et.IsStatic() && !et.IsInteger() {
		return graph.InvalidArgumentf("%s: %s must be integer, got %s", n.Description(), what, et)
	}
	if rank := in.Shape().Rank(); rank >= 0 && rank != 1 {
		return graph.InvalidArgumentf("%s: %s must be 1D, got shape %s", n.Description(), what, in.Shape())
	}
	return nil
}

// shapeFromInput returns the shape described by a 1D shape input: fully known if it is a
// Constant, otherwise of the known rank with dynamic dimensions, or of dynamic rank.
// The boolean is true if the shape is known.
func shapeFromInput(o graph.Output) (shapes.Shape, bool) {
	if dims, ok := ConstantInts(o); ok && !slices.ContainsFunc(dims, func(d int) bool { return d < 0 }) {
		return shapes.Make(dims...), true
	}
	if s := o.Shape(); s.Rank() == 1 && s.Dimensions[0] != shapes.DynamicDim {
		return shapes.MakeDynamic(s.Dimensions[0]), false
	}
	return shapes.DynamicRank(), false
}
