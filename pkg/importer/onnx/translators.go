// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package onnx

import (
	"github.com/gomlx/opsetgraph/pkg/core/graph"
	"github.com/gomlx/opsetgraph/pkg/core/ops"
	"github.com/gomlx/opsetgraph/pkg/core/shapes"
	"github.com/gomlx/opsetgraph/pkg/support/xslices"
)

// mustOut returns the first output of a newly created node, or panics with the error.
func mustOut(n *graph.Node, err error) graph.Output {
	if err != nil {
		panic(err)
	}
	return n.Output(0)
}

// mustValue returns value, or panics with err if it is not nil.
func mustValue[T any](value T, err error) T {
	if err != nil {
		panic(err)
	}
	return value
}

// check panics with err if it is not nil.
func check(err error) {
	if err != nil {
		panic(err)
	}
}

// single wraps a one-output translation.
func single(fn func(node *Node) graph.Output) Translator {
	return func(node *Node) (graph.NodeVector, error) {
		return graph.NodeVector{fn(node)}, nil
	}
}

// unary translates an operator with one input using the given node constructor.
func unary(build func(x graph.Output) (*graph.Node, error)) Translator {
	return single(func(node *Node) graph.Output {
		check(node.checkNumInputs(1, 1))
		return mustOut(build(node.Inputs[0]))
	})
}

// splatLike creates a Constant with the element type of x, and the shape of x if it is static, or
// a scalar otherwise.
func splatLike(x graph.Output, value float64) graph.Output {
	shape := x.Shape()
	if !shape.IsStatic() {
		shape = shapes.Scalar()
	}
	return mustOut(ops.NewSplatConstant(x.ElementType(), shape, value))
}

// elementwise builds kind(x, y), broadcasting y if it was created as a scalar by splatLike.
func elementwise(kind ops.BinaryKind, x, y graph.Output) graph.Output {
	if x.Shape().Equal(y.Shape()) {
		return mustOut(ops.NewBinary(kind, 0, x, y, ops.BroadcastNone))
	}
	return mustOut(ops.NewBinary(kind, 1, x, y, ops.BroadcastNumpy))
}

func (r *Registry) registerActivations() {
	r.Register("Identity", 1, func(node *Node) (graph.NodeVector, error) {
		if err := node.checkNumInputs(1, 1); err != nil {
			return nil, err
		}
		return graph.NodeVector{node.Inputs[0]}, nil
	})
	r.Register("Relu", 1, single(func(node *Node) graph.Output {
		check(node.checkNumInputs(1, 1))
		data := node.Inputs[0]
		return elementwise(ops.KindMaximum, data, splatLike(data, 0))
	}))
	r.Register("LeakyRelu", 1, single(translateLeakyRelu))
}

// translateLeakyRelu builds Maximum(data * alpha, data).
func translateLeakyRelu(node *Node) graph.Output {
	check(node.checkNumInputs(1, 1))
	data := node.Inputs[0]
	alpha := mustValue(node.Attributes.Float("alpha", 0.01))
	if !(alpha >= 0 && alpha <= 1) {
		panic(node.invalidArgumentf("alpha value should be in range [0,1], got %g", alpha))
	}
	scaled := elementwise(ops.KindMultiply, data, splatLike(data, alpha))
	return mustOut(ops.NewBinary(ops.KindMaximum, 0, scaled, data, ops.BroadcastNone))
}

func (r *Registry) registerMathOps() {
	for opType, kind := range map[string]ops.BinaryKind{
		"Add": ops.KindAdd, "Sub": ops.KindSubtract, "Mul": ops.KindMultiply, "Div": ops.KindDivide,
		"Less": ops.KindLess, "Greater": ops.KindGreater, "Equal": ops.KindEqual,
	} {
		r.Register(opType, 1, single(func(node *Node) graph.Output { return legacyBinary(node, kind) }))
		r.Register(opType, 7, single(func(node *Node) graph.Output { return numpyBinary(node, kind) }))
	}
	r.Register("Max", 1, single(func(node *Node) graph.Output { return variadic(node, ops.KindMaximum, 0) }))
	r.Register("Max", 8, single(func(node *Node) graph.Output { return variadic(node, ops.KindMaximum, 1) }))
	r.Register("Min", 1, single(func(node *Node) graph.Output { return variadic(node, ops.KindMinimum, 0) }))
	r.Register("Min", 8, single(func(node *Node) graph.Output { return variadic(node, ops.KindMinimum, 1) }))
	r.Register("Neg", 1, unary(ops.Negative))
	r.Register("Ceil", 1, unary(ops.Ceiling))
	r.Register("Cast", 1, single(func(node *Node) graph.Output {
		check(node.checkNumInputs(1, 1))
		to, err := node.Attributes.Int("to", TensorProtoUndefined)
		if err != nil || to == TensorProtoUndefined {
			panic(node.invalidArgumentf("missing or invalid attribute \"to\" (%v)", err))
		}
		return mustOut(ops.Convert(node.Inputs[0], mustValue(ElementType(to))))
	}))
}

// legacyBinary translates binary ops before opset 7, where broadcasting had to be requested with
// the "broadcast" attribute: only the non-broadcasting form is supported.
func legacyBinary(node *Node, kind ops.BinaryKind) graph.Output {
	check(node.checkNumInputs(2, 2))
	if mustValue(node.Attributes.Int("broadcast", 0)) != 0 {
		panic(graph.Unsupportedf("%s: legacy broadcast attribute", node))
	}
	return mustOut(ops.NewBinary(kind, 0, node.Inputs[0], node.Inputs[1], ops.BroadcastNone))
}

func numpyBinary(node *Node, kind ops.BinaryKind) graph.Output {
	check(node.checkNumInputs(2, 2))
	return mustOut(ops.NewBinary(kind, 1, node.Inputs[0], node.Inputs[1], ops.BroadcastNumpy))
}

// variadic folds the inputs with kind, using the opset version of the binary op: opset 1 uses
// numpy broadcasting.
func variadic(node *Node, kind ops.BinaryKind, version uint64) graph.Output {
	if len(node.Inputs) == 0 {
		panic(node.invalidArgumentf("requires at least one input"))
	}
	result := node.Inputs[0]
	for _, x := range node.Inputs[1:] {
		result = mustOut(ops.NewBinary(kind, version, result, x, ops.DefaultAutoBroadcast(version)))
	}
	return result
}

func (r *Registry) registerReductions() {
	for opType, kind := range map[string]ops.ReductionKind{
		"ReduceSum": ops.ReduceSumKind, "ReduceMax": ops.ReduceMaxKind,
		"ReduceMin": ops.ReduceMinKind, "ReduceProd": ops.ReduceProductKind,
	} {
		r.Register(opType, 1, single(func(node *Node) graph.Output { return reduceWithAxesAttribute(node, kind) }))
	}
	r.Register("ReduceSum", 13, single(func(node *Node) graph.Output {
		return reduceWithAxesInput(node, ops.ReduceSumKind)
	}))
}

// reduceWithAxesAttribute translates reductions taking the axes as an attribute. No axes means
// all axes.
func reduceWithAxesAttribute(node *Node, kind ops.ReductionKind) graph.Output {
	check(node.checkNumInputs(1, 1))
	x := node.Inputs[0]
	axes := mustValue(node.Attributes.Ints("axes", nil))
	if axes == nil {
		axes = allAxes(node, x)
	}
	keepDims := mustValue(node.Attributes.Int("keepdims", 1)) != 0
	return mustOut(ops.NewReductionV1(kind, x, intsConstant(axes), keepDims))
}

// reduceWithAxesInput translates reductions taking the axes as an optional second input.
func reduceWithAxesInput(node *Node, kind ops.ReductionKind) graph.Output {
	check(node.checkNumInputs(1, 2))
	x := node.Inputs[0]
	keepDims := mustValue(node.Attributes.Int("keepdims", 1)) != 0
	if len(node.Inputs) == 2 {
		return mustOut(ops.NewReductionV1(kind, x, node.Inputs[1], keepDims))
	}
	if mustValue(node.Attributes.Int("noop_with_empty_axes", 0)) != 0 {
		return x
	}
	return mustOut(ops.NewReductionV1(kind, x, intsConstant(allAxes(node, x)), keepDims))
}

func allAxes(node *Node, x graph.Output) []int {
	if x.Shape().IsDynamicRank() {
		panic(graph.Unsupportedf("%s: reducing all axes of an operand with dynamic rank", node))
	}
	return xslices.Iota(0, x.Shape().Rank())
}

func intsConstant(values []int) graph.Output {
	return mustOut(ops.NewInt64Constant(xslices.Map(values, func(v int) int64 { return int64(v) })))
}

func (r *Registry) registerConvolution() {
	r.Register("Conv", 1, single(translateConv))
}

// translateConv translates a convolution without groups, with an optional bias added to the
// channels axis.
func translateConv(node *Node) graph.Output {
	check(node.checkNumInputs(2, 3))
	data, filters := node.Inputs[0], node.Inputs[1]
	if group := mustValue(node.Attributes.Int("group", 1)); group != 1 {
		panic(graph.Unsupportedf("%s: grouped convolution (group=%d)", node, group))
	}
	rank := filters.Shape().Rank()
	if rank < 3 {
		panic(node.invalidArgumentf("filters must have rank >= 3 and known, got shape %s", filters.Shape()))
	}
	numSpatial := rank - 2
	autoPad := mustValue(ops.ParsePadType(mustValue(node.Attributes.String("auto_pad", "NOTSET"))))
	strides := shapes.Strides(mustValue(node.Attributes.Ints("strides", shapes.Ones(numSpatial))))
	dilations := shapes.Strides(mustValue(node.Attributes.Ints("dilations", shapes.Ones(numSpatial))))
	pads := mustValue(node.Attributes.Ints("pads", shapes.Zeros(2*numSpatial)))
	if len(pads) != 2*numSpatial {
		panic(node.invalidArgumentf("pads must have %d values, got %v", 2*numSpatial, pads))
	}
	padsBegin, padsEnd := shapes.CoordinateDiff(pads[:numSpatial]), shapes.CoordinateDiff(pads[numSpatial:])
	if autoPad != ops.PadExplicit {
		padsBegin, padsEnd = nil, nil
	}
	conv := mustOut(ops.NewConvolutionV1(data, filters, strides, padsBegin, padsEnd, dilations, autoPad))
	if len(node.Inputs) < 3 {
		return conv
	}
	// Bias of shape [O] is reshaped to [1, O, 1, ...] and broadcast.
	pattern := xslices.SliceWithValue(rank, 1)
	pattern[1] = -1
	bias := mustOut(ops.NewReshapeV1(node.Inputs[2], intsConstant(pattern), false))
	return mustOut(ops.NewBinary(ops.KindAdd, 1, conv, bias, ops.BroadcastNumpy))
}
