// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package ops

import (
	"github.com/gomlx/opsetgraph/pkg/core/element"
	"github.com/gomlx/opsetgraph/pkg/core/graph"
	"github.com/gomlx/opsetgraph/pkg/core/shapes"
	"github.com/pkg/errors"
)

// ReductionKind enumerates the arithmetic reductions.
type ReductionKind int

const (
	ReduceSumKind ReductionKind = iota
	ReduceMaxKind
	ReduceMinKind
	ReduceProductKind
)

// Op names for opset 0 and opset 1 of each reduction kind.
var (
	reductionNamesV0 = []string{ReduceSumKind: "Sum", ReduceMaxKind: "Max", ReduceMinKind: "Min", ReduceProductKind: "Product"}
	reductionNamesV1 = []string{ReduceSumKind: "ReduceSum", ReduceMaxKind: "ReduceMax", ReduceMinKind: "ReduceMin",
		ReduceProductKind: "ReduceProd"}
)

// String returns the opset 0 op name of the kind.
func (k ReductionKind) String() string {
	if k < 0 || int(k) >= len(reductionNamesV0) {
		return "InvalidReduction"
	}
	return reductionNamesV0[k]
}

// NameV1 returns the opset 1 op name of the kind.
func (k ReductionKind) NameV1() string {
	if k < 0 || int(k) >= len(reductionNamesV1) {
		return "InvalidReduction"
	}
	return reductionNamesV1[k]
}

// ReductionKinds lists all reduction kinds.
var ReductionKinds = []ReductionKind{ReduceSumKind, ReduceMaxKind, ReduceMinKind, ReduceProductKind}

// identity returns the value of the reduction over an empty set, for the element type.
func (k ReductionKind) identity(et element.Type) (any, error) {
	switch k {
	case ReduceSumKind:
		return et.Zero()
	case ReduceMaxKind:
		return et.Lowest()
	case ReduceMinKind:
		return et.Highest()
	case ReduceProductKind:
		return et.One()
	}
	return nil, errors.Errorf("unknown reduction kind %d", k)
}

// acceptsBoolean returns false for arithmetic reductions (Sum, Product) over booleans.
func (k ReductionKind) acceptsBoolean(et element.Type) bool {
	return et != element.Boolean || k == ReduceMaxKind || k == ReduceMinKind
}

// Reduction is the opset 0 reduction op (Sum, Max, Min, Product): the reduced axes are an
// attribute and are removed from the output shape.
type Reduction struct {
	Kind ReductionKind
	Axes shapes.AxisSet
}

// NewReduction creates an opset 0 reduction node.
func NewReduction(kind ReductionKind, x graph.Output, axes ...int) (*graph.Node, error) {
	return graph.NewNode(&Reduction{Kind: kind, Axes: shapes.MakeAxisSet(axes...)}, x)
}

// Sum creates an opset 0 Sum over the given axes.
func Sum(x graph.Output, axes ...int) (*graph.Node, error) { return NewReduction(ReduceSumKind, x, axes...) }

// Max creates an opset 0 Max over the given axes.
func Max(x graph.Output, axes ...int) (*graph.Node, error) { return NewReduction(ReduceMaxKind, x, axes...) }

// TypeInfo implements graph.Op.
func (r *Reduction) TypeInfo() graph.TypeInfo { return graph.TypeInfo{Name: r.Kind.String(), Version: 0} }

// ValidateAndInferTypes implements graph.Op.
func (r *Reduction) ValidateAndInferTypes(n *graph.Node) error {
	if err := checkInputs(n, 1); err != nil {
		return err
	}
	x := n.Input(0)
	if !r.Kind.acceptsBoolean(x.ElementType()) {
		return graph.InvalidArgumentf("%s is not defined for boolean operands", r.Kind)
	}
	shape, err := reducedShape(x.Shape(), r.Axes, false)
	if err != nil {
		return errors.WithMessagef(err, "%s", r.Kind)
	}
	n.SetOutputType(0, x.ElementType(), shape)
	return nil
}

// reducedShape removes (or sets to 1 if keepDims) the given axes of shape.
func reducedShape(shape shapes.Shape, axes shapes.AxisSet, keepDims bool) (shapes.Shape, error) {
	if err := axes.CheckRank(shape.Rank()); err != nil {
		return shapes.Shape{}, errors.Wrapf(graph.ErrInvalidArgument, "reduction axes: %v", err)
	}
	if shape.IsDynamicRank() {
		return shapes.DynamicRank(), nil
	}
	dims := make([]int, 0, shape.Rank())
	for axis, dim := range shape.Dimensions {
		switch {
		case !axes.Has(axis):
			dims = append(dims, dim)
		case keepDims:
			dims = append(dims, 1)
		}
	}
	return shapes.Make(dims...), nil
}

// CopyWithNewArgs implements graph.Op.
func (r *Reduction) CopyWithNewArgs(args []graph.Output) (*graph.Node, error) {
	return graph.NewNode(&Reduction{Kind: r.Kind, Axes: r.Axes}, args...)
}

// Attributes implements graph.AttributesProvider.
func (r *Reduction) Attributes() map[string]any {
	return map[string]any{"reduction_axes": []int(r.Axes)}
}

// GenerateAdjoints implements graph.Differentiable. Only Sum is differentiable: its adjoint
// broadcasts delta back over the reduced axes.
func (r *Reduction) GenerateAdjoints(n *graph.Node, adjoints graph.AdjointSink, deltas []graph.Output) error {
	if r.Kind != ReduceSumKind {
		return graph.Unsupportedf("autodiff of %s is not supported", r.Kind)
	}
	x := n.Input(0)
	xShape, err := staticShape(x, "autodiff of Sum")
	if err != nil {
		return err
	}
	return catch(func() {
		addDelta(adjoints, x, mustOut(NewBroadcast(deltas[0], xShape, r.Axes...)))
	})
}

// DefaultValue returns a Constant with the output shape of n filled with the identity of the
// reduction, e.g. the lowest value of the element type for Max. It's the value of reducing an
// empty set.
//
// It fails with ErrInvalidArgument if the element type has no such value (Undefined, Dynamic) or
// if the output shape is not static.
func (r *Reduction) DefaultValue(n *graph.Node) (*graph.Node, error) {
	return defaultValue(r.Kind, n)
}

func defaultValue(kind ReductionKind, n *graph.Node) (*graph.Node, error) {
	et := n.OutputElementType(0)
	value, err := kind.identity(et)
	if err != nil {
		return nil, errors.Wrapf(graph.ErrInvalidArgument, "%s default value not defined: %v", n.Description(), err)
	}
	shape, err := staticShape(n.Output(0), n.Description()+" default value")
	if err != nil {
		return nil, err
	}
	return NewConstant(et, shape, []any{value})
}

// DefaultValuer is implemented by ops that define a default value, see DefaultValue.
type DefaultValuer interface {
	DefaultValue(n *graph.Node) (*graph.Node, error)
}

// DefaultValue returns the default value of a node whose op implements DefaultValuer.
func DefaultValue(n *graph.Node) (*graph.Node, error) {
	valuer, ok := n.Op().(DefaultValuer)
	if !ok {
		return nil, graph.Unsupportedf("%s has no default value", n.TypeInfo())
	}
	return valuer.DefaultValue(n)
}

// ReductionV1 is the opset 1 reduction op (ReduceSum, ReduceMax, ReduceMin, ReduceProd): the
// reduced axes are given by a second integer input, and KeepDims selects whether reduced axes
// are kept with dimension 1.
//
// If the axes input is not a Constant, the output rank is only known with KeepDims.
type ReductionV1 struct {
	Kind     ReductionKind
	KeepDims bool
}

// NewReductionV1 creates an opset 1 reduction node.
func NewReductionV1(kind ReductionKind, x, axes graph.Output, keepDims bool) (*graph.Node, error) {
	return graph.NewNode(&ReductionV1{Kind: kind, KeepDims: keepDims}, x, axes)
}

// TypeInfo implements graph.Op.
func (r *ReductionV1) TypeInfo() graph.TypeInfo {
	return graph.TypeInfo{Name: r.Kind.NameV1(), Version: 1}
}

// ValidateAndInferTypes implements graph.Op.
func (r *ReductionV1) ValidateAndInferTypes(n *graph.Node) error {
	if err := checkInputs(n, 2); err != nil {
		return err
	}
	x, axesInput := n.Input(0), n.Input(1)
	if !r.Kind.acceptsBoolean(x.ElementType()) {
		return graph.InvalidArgumentf("%s is not defined for boolean operands", r.Kind.NameV1())
	}
	if et := axesInput.ElementType(); et.IsStatic() && !et.IsInteger() {
		return graph.InvalidArgumentf("%s: axes must be integers, got %s", r.Kind.NameV1(), et)
	}
	if axesInput.Shape().Rank() > 1 {
		return graph.InvalidArgumentf("%s: axes must be a scalar or 1D, got shape %s", r.Kind.NameV1(), axesInput.Shape())
	}
	xShape := x.Shape()
	axes, err := r.Axes(n)
	switch {
	case err != nil:
		return err
	case axes != nil:
		shape, err := reducedShape(xShape, axes, r.KeepDims)
		if err != nil {
			return errors.WithMessagef(err, "%s", r.Kind.NameV1())
		}
		n.SetOutputType(0, x.ElementType(), shape)
	case r.KeepDims && !xShape.IsDynamicRank():
		n.SetOutputType(0, x.ElementType(), shapes.MakeDynamic(xShape.Rank()))
	default:
		n.SetOutputType(0, x.ElementType(), shapes.DynamicRank())
	}
	return nil
}

// Axes returns the reduction axes, normalized to non-negative values, if the axes input of n is a
// Constant. It returns nil if they are not known at graph-construction time.
func (r *ReductionV1) Axes(n *graph.Node) (shapes.AxisSet, error) {
	values, ok := ConstantInts(n.Input(1))
	if !ok {
		return nil, nil
	}
	rank := n.Input(0).Shape().Rank()
	if rank < 0 {
		for _, axis := range values {
			if axis < 0 {
				return nil, nil
			}
		}
		return shapes.MakeAxisSet(values...), nil
	}
	for ii, axis := range values {
		normalized, err := shapes.NormalizeAxis(axis, rank)
		if err != nil {
			return nil, errors.Wrapf(graph.ErrInvalidArgument, "%s reduction axes: %v", r.Kind.NameV1(), err)
		}
		values[ii] = normalized
	}
	return shapes.MakeAxisSet(values...), nil
}

// CopyWithNewArgs implements graph.Op.
func (r *ReductionV1) CopyWithNewArgs(args []graph.Output) (*graph.Node, error) {
	return graph.NewNode(&ReductionV1{Kind: r.Kind, KeepDims: r.KeepDims}, args...)
}

// Attributes implements graph.AttributesProvider.
func (r *ReductionV1) Attributes() map[string]any {
	return map[string]any{"keep_dims": r.KeepDims}
}

// DefaultValue implements DefaultValuer.
func (r *ReductionV1) DefaultValue(n *graph.Node) (*graph.Node, error) {
	return defaultValue(r.Kind, n)
}
