// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package opset

import (
	"testing"

	"github.com/gomlx/opsetgraph/pkg/core/element"
	"github.com/gomlx/opsetgraph/pkg/core/graph"
	"github.com/gomlx/opsetgraph/pkg/core/ops"
	"github.com/gomlx/opsetgraph/pkg/core/pass"
	"github.com/gomlx/opsetgraph/pkg/core/shapes"
	"github.com/janpfeifer/must"
	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func param(name string, dims ...int) *graph.Node {
	return must.M1(graph.NewParameter(name, element.F32, shapes.Make(dims...)))
}

func ints(values ...int64) graph.Output {
	return must.M1(ops.NewInt64Constant(values)).Output(0)
}

// singleResult wraps n into a Function with the given parameters.
func singleResult(t *testing.T, n *graph.Node, params ...*graph.Node) *graph.Function {
	t.Helper()
	f, err := graph.NewFunctionFromOutputs("f", []graph.Output{n.Output(0)}, params)
	require.NoError(t, err)
	return f
}

// resultProducer returns the node feeding the only result of f.
func resultProducer(f *graph.Function) *graph.Node {
	return f.Results()[0].Input(0).Node
}

func runPass(t *testing.T, f *graph.Function, name string) bool {
	t.Helper()
	m := pass.NewManager()
	require.NoError(t, m.RegisterByName(name))
	changed, err := m.Run(f)
	require.NoError(t, err)
	return changed
}

func TestRegistered(t *testing.T) {
	assert.Contains(t, pass.Names(), UpgradePassName)
	assert.Contains(t, pass.Names(), DowngradePassName)
	assert.Contains(t, NewUpgradePass().Rules(), graph.TypeInfo{Name: "Convolution", Version: 0})
	assert.Contains(t, NewDowngradePass().Rules(), graph.TypeInfo{Name: "ReduceSum", Version: 1})
}

func TestUpgradeConvolution(t *testing.T) {
	data, filters := param("data", 1, 3, 6, 9), param("filters", 1, 3, 3, 3)
	conv := must.M1(ops.NewConvolution(data.Output(0), filters.Output(0), shapes.Strides{1, 1}, shapes.Strides{1, 1},
		shapes.CoordinateDiff{0, 0}, shapes.CoordinateDiff{0, 0}, nil, ops.PadExplicit))
	f := singleResult(t, conv, data, filters)
	assert.True(t, runPass(t, f, UpgradePassName))

	upgraded := resultProducer(f)
	assert.Equal(t, "Convolution", upgraded.Description())
	assert.Equal(t, uint64(1), upgraded.Version())
	c, ok := upgraded.Op().(*ops.ConvolutionV1)
	require.True(t, ok)
	assert.Equal(t, shapes.Strides{1, 1}, c.Strides)
	assert.Equal(t, shapes.Strides{1, 1}, c.Dilations)
	assert.Equal(t, shapes.CoordinateDiff{0, 0}, c.PadsBegin)
	assert.Equal(t, shapes.CoordinateDiff{0, 0}, c.PadsEnd)
	assert.Equal(t, ops.PadExplicit, c.AutoPad)
	assert.Equal(t, shapes.Make(1, 1, 4, 7), upgraded.OutputShape(0))

	// Already upgraded: nothing else to do.
	assert.False(t, runPass(t, f, UpgradePassName))

	// Data dilation has no opset 1 equivalent.
	data, filters = param("data", 1, 3, 6, 9), param("filters", 1, 3, 3, 3)
	dilated := must.M1(ops.NewConvolution(data.Output(0), filters.Output(0), shapes.Strides{1, 1}, nil,
		shapes.CoordinateDiff{0, 0}, shapes.CoordinateDiff{0, 0}, shapes.Strides{2, 1}, ops.PadExplicit))
	f = singleResult(t, dilated, data, filters)
	_, err := NewUpgradePass().Run(f)
	assert.True(t, errors.Is(err, graph.ErrUnsupportedConfiguration), "got %v", err)
}

func TestDowngradeConvolution(t *testing.T) {
	data, filters := param("data", 1, 3, 6, 9), param("filters", 1, 3, 3, 3)
	conv := must.M1(ops.NewConvolutionV1(data.Output(0), filters.Output(0), shapes.Strides{1, 1},
		shapes.CoordinateDiff{1, 1}, shapes.CoordinateDiff{2, 2}, shapes.Strides{1, 1}, ops.PadExplicit))
	f := singleResult(t, conv, data, filters)
	assert.True(t, runPass(t, f, DowngradePassName))

	downgraded := resultProducer(f)
	assert.Equal(t, uint64(0), downgraded.Version())
	c, ok := downgraded.Op().(*ops.Convolution)
	require.True(t, ok)
	assert.Equal(t, shapes.CoordinateDiff{1, 1}, c.PaddingBelow)
	assert.Equal(t, shapes.CoordinateDiff{2, 2}, c.PaddingAbove)
	assert.Equal(t, shapes.Strides{1, 1}, c.DataDilationStrides)
	assert.Equal(t, shapes.Make(1, 1, 7, 10), downgraded.OutputShape(0))
}

func TestDowngradeConvolutionSamePadding(t *testing.T) {
	data, filters := param("data", 1, 3, 6, 9), param("filters", 1, 3, 3, 3)
	conv := must.M1(ops.NewConvolutionV1(data.Output(0), filters.Output(0), shapes.Strides{2, 2},
		nil, nil, nil, ops.PadSameUpper))
	f := singleResult(t, conv, data, filters)
	wantShape := conv.OutputShape(0)
	assert.True(t, runPass(t, f, DowngradePassName))
	c := resultProducer(f).Op().(*ops.Convolution)
	assert.Equal(t, ops.PadSameUpper, c.PadType)
	assert.Len(t, c.PaddingBelow, 2)
	assert.Equal(t, wantShape, resultProducer(f).OutputShape(0))
}

func TestDowngradeConvolutionBackprop(t *testing.T) {
	filters, delta := param("filters", 128, 3, 10), param("delta", 64, 128, 96)
	backData := must.M1(ops.NewConvolutionBackpropDataV1(filters.Output(0), delta.Output(0), ints(64, 3, 100),
		shapes.Strides{1}, shapes.CoordinateDiff{2}, shapes.CoordinateDiff{3}, shapes.Strides{1}))
	require.Equal(t, shapes.Make(64, 3, 100), backData.OutputShape(0))
	f := singleResult(t, backData, filters, delta)
	assert.True(t, runPass(t, f, DowngradePassName))
	downgraded := resultProducer(f)
	assert.Equal(t, uint64(0), downgraded.Version())
	c, ok := downgraded.Op().(*ops.ConvolutionBackpropData)
	require.True(t, ok)
	assert.Equal(t, shapes.Make(64, 3, 100), c.DataBatchShape)
	assert.Equal(t, shapes.CoordinateDiff{2}, c.PaddingBelowForward)
	assert.Equal(t, shapes.CoordinateDiff{3}, c.PaddingAboveForward)

	// Back to opset 1, the shape becomes a constant input again.
	assert.True(t, runPass(t, f, UpgradePassName))
	upgraded := resultProducer(f)
	shape, known := upgraded.Op().(*ops.ConvolutionBackpropDataV1).DataBatchShape(upgraded)
	require.True(t, known)
	assert.Equal(t, shapes.Make(64, 3, 100), shape)

	data, delta := param("data", 64, 3, 100), param("delta", 64, 128, 96)
	backFilters := must.M1(ops.NewConvolutionBackpropFiltersV1(data.Output(0), delta.Output(0), ints(128, 3, 10),
		shapes.Strides{1}, shapes.CoordinateDiff{2}, shapes.CoordinateDiff{3}, shapes.Strides{1}))
	f = singleResult(t, backFilters, data, delta)
	assert.True(t, runPass(t, f, DowngradePassName))
	cf, ok := resultProducer(f).Op().(*ops.ConvolutionBackpropFilters)
	require.True(t, ok)
	assert.Equal(t, shapes.Make(128, 3, 10), cf.FiltersShape)

	// A data batch shape computed at runtime can't be downgraded.
	filters, delta = param("filters", 128, 3, 10), param("delta", 64, 128, 96)
	shapeParam := must.M1(graph.NewParameter("shape", element.I64, shapes.Make(3)))
	dynamic := must.M1(ops.NewConvolutionBackpropDataV1(filters.Output(0), delta.Output(0), shapeParam.Output(0),
		shapes.Strides{1}, shapes.CoordinateDiff{2}, shapes.CoordinateDiff{3}, shapes.Strides{1}))
	f = singleResult(t, dynamic, filters, delta, shapeParam)
	_, err := NewDowngradePass().Run(f)
	assert.True(t, errors.Is(err, graph.ErrUnsupportedConfiguration), "got %v", err)
}

func TestBinaryRoundTrip(t *testing.T) {
	x, y := param("x", 2, 3), param("y", 2, 3)
	sub := must.M1(ops.Subtract(x.Output(0), y.Output(0)))
	minimum := must.M1(ops.Minimum(sub.Output(0), y.Output(0)))
	f := singleResult(t, minimum, x, y)

	assert.True(t, runPass(t, f, UpgradePassName))
	for _, n := range f.Nodes() {
		if b, ok := n.Op().(*ops.Binary); ok {
			assert.Equal(t, uint64(1), n.Version())
			assert.Equal(t, ops.BroadcastNone, b.AutoBroadcast)
		}
	}
	assert.True(t, runPass(t, f, DowngradePassName))
	var numBinary int
	for _, n := range f.Nodes() {
		if _, ok := n.Op().(*ops.Binary); ok {
			assert.Equal(t, uint64(0), n.Version())
			numBinary++
		}
	}
	assert.Equal(t, 2, numBinary)
	assert.Equal(t, "Minimum", resultProducer(f).Description())
}

func TestReductions(t *testing.T) {
	x := param("x", 2, 3, 4)
	sum := must.M1(ops.Sum(x.Output(0), 1))
	f := singleResult(t, sum, x)
	assert.True(t, runPass(t, f, UpgradePassName))
	upgraded := resultProducer(f)
	assert.Equal(t, "ReduceSum", upgraded.Description())
	assert.False(t, upgraded.Op().(*ops.ReductionV1).KeepDims)
	assert.Equal(t, shapes.Make(2, 4), upgraded.OutputShape(0))

	// KeepDims is emulated with a Reshape.
	x = param("x", 2, 3, 4)
	keep := must.M1(ops.NewReductionV1(ops.ReduceMaxKind, x.Output(0), ints(-1), true))
	f = singleResult(t, keep, x)
	assert.True(t, runPass(t, f, DowngradePassName))
	reshape := resultProducer(f)
	assert.Equal(t, "Reshape", reshape.Description())
	assert.Equal(t, shapes.Make(2, 3, 1), reshape.OutputShape(0))
	reduction := reshape.Input(0).Node
	assert.Equal(t, "Max", reduction.Description())
	assert.Equal(t, shapes.AxisSet{2}, reduction.Op().(*ops.Reduction).Axes)

	// Axes only known at runtime.
	x = param("x", 2, 3, 4)
	axes := must.M1(graph.NewParameter("axes", element.I64, shapes.Make(1)))
	dynamic := must.M1(ops.NewReductionV1(ops.ReduceSumKind, x.Output(0), axes.Output(0), false))
	f = singleResult(t, dynamic, x, axes)
	_, err := NewDowngradePass().Run(f)
	assert.True(t, errors.Is(err, graph.ErrUnsupportedConfiguration), "got %v", err)
}

func TestBroadcastAndReshape(t *testing.T) {
	x := param("x", 3)
	b := must.M1(ops.NewBroadcast(x.Output(0), shapes.Make(2, 3), 0))
	r := must.M1(ops.NewReshape(b.Output(0), nil, shapes.Make(6)))
	f := singleResult(t, r, x)
	assert.True(t, runPass(t, f, UpgradePassName))
	reshape := resultProducer(f)
	assert.Equal(t, uint64(1), reshape.Version())
	pattern, ok := reshape.Op().(*ops.ReshapeV1).OutputPattern(reshape)
	require.True(t, ok)
	assert.Equal(t, []int{6}, pattern)
	broadcast := reshape.Input(0).Node
	assert.Equal(t, uint64(1), broadcast.Version())
	mapping, ok := ops.ConstantInts(broadcast.Input(2))
	require.True(t, ok)
	assert.Equal(t, []int{1}, mapping)

	assert.True(t, runPass(t, f, DowngradePassName))
	reshape = resultProducer(f)
	assert.Equal(t, shapes.Make(6), reshape.Op().(*ops.Reshape).OutputShape)
	broadcast = reshape.Input(0).Node
	assert.Equal(t, shapes.AxisSet{0}, broadcast.Op().(*ops.Broadcast).Axes)

	// Numpy broadcast stretching a dimension 1 has no opset 0 equivalent.
	y := param("y", 1, 3)
	stretch := must.M1(ops.NewBroadcastV1(y.Output(0), ints(4, 3), ops.BroadcastNumpyMode))
	f = singleResult(t, stretch, y)
	_, err := NewDowngradePass().Run(f)
	assert.True(t, errors.Is(err, graph.ErrUnsupportedConfiguration), "got %v", err)

	// Permuting reshape has no opset 1 equivalent.
	z := param("z", 2, 3)
	permuted := must.M1(ops.NewReshape(z.Output(0), []int{1, 0}, shapes.Make(3, 2)))
	f = singleResult(t, permuted, z)
	_, err = NewUpgradePass().Run(f)
	assert.True(t, errors.Is(err, graph.ErrUnsupportedConfiguration), "got %v", err)
}

func TestAvgPool(t *testing.T) {
	x := param("x", 1, 3, 8, 8)
	pool := must.M1(ops.NewAvgPool(x.Output(0), shapes.Make(2, 2), shapes.Strides{2, 2}, shapes.CoordinateDiff{1, 1}, true))
	f := singleResult(t, pool, x)
	assert.True(t, runPass(t, f, UpgradePassName))
	p := resultProducer(f).Op().(*ops.AvgPoolV1)
	assert.Equal(t, shapes.CoordinateDiff{1, 1}, p.PadsBegin)
	assert.Equal(t, shapes.CoordinateDiff{1, 1}, p.PadsEnd)
	assert.False(t, p.ExcludePad)

	assert.True(t, runPass(t, f, DowngradePassName))
	p0 := resultProducer(f).Op().(*ops.AvgPool)
	assert.Equal(t, shapes.CoordinateDiff{1, 1}, p0.Padding)
	assert.True(t, p0.IncludePaddingInAvgComputation)

	x = param("x", 1, 3, 8, 8)
	asymmetric := must.M1(ops.NewAvgPoolV1(x.Output(0), shapes.Make(2, 2), nil,
		shapes.CoordinateDiff{0, 0}, shapes.CoordinateDiff{1, 1}, true, ops.PadExplicit))
	f = singleResult(t, asymmetric, x)
	_, err := NewDowngradePass().Run(f)
	assert.True(t, errors.Is(err, graph.ErrUnsupportedConfiguration), "got %v", err)
}

func TestDowngradeDynamicShapes(t *testing.T) {
	dynamicParam := func(name string, shape shapes.Shape) *graph.Node {
		return must.M1(graph.NewParameter(name, element.F32, shape))
	}

	// Negative axes over an operand of unknown rank can't be normalized.
	x := dynamicParam("x", shapes.DynamicRank())
	negative := must.M1(ops.NewReductionV1(ops.ReduceSumKind, x.Output(0), ints(-1), false))
	f := singleResult(t, negative, x)
	_, err := NewDowngradePass().Run(f)
	assert.True(t, errors.Is(err, graph.ErrUnsupportedConfiguration), "got %v", err)

	// Non-negative axes are fine.
	x = dynamicParam("x", shapes.DynamicRank())
	positive := must.M1(ops.NewReductionV1(ops.ReduceSumKind, x.Output(0), ints(0), false))
	f = singleResult(t, positive, x)
	assert.True(t, runPass(t, f, DowngradePassName))
	assert.Equal(t, shapes.AxisSet{0}, resultProducer(f).Op().(*ops.Reduction).Axes)

	// SAME padding over unknown spatial dimensions.
	x = dynamicParam("x", shapes.Make(1, 3, shapes.DynamicDim, shapes.DynamicDim))
	pool := must.M1(ops.NewAvgPoolV1(x.Output(0), shapes.Make(3, 3), nil,
		shapes.CoordinateDiff{0, 0}, shapes.CoordinateDiff{0, 0}, true, ops.PadSameUpper))
	f = singleResult(t, pool, x)
	_, err = NewDowngradePass().Run(f)
	assert.True(t, errors.Is(err, graph.ErrUnsupportedConfiguration), "got %v", err)

	data := dynamicParam("data", shapes.Make(1, 3, shapes.DynamicDim, shapes.DynamicDim))
	filters := param("filters", 2, 3, 3, 3)
	conv := must.M1(ops.NewConvolutionV1(data.Output(0), filters.Output(0), shapes.Strides{1, 1},
		nil, nil, nil, ops.PadSameLower))
	f = singleResult(t, conv, data, filters)
	_, err = NewDowngradePass().Run(f)
	assert.True(t, errors.Is(err, graph.ErrUnsupportedConfiguration), "got %v", err)

	// Explicit and valid paddings don't depend on the dimensions.
	for _, padType := range []ops.PadType{ops.PadExplicit, ops.PadValid} {
		data = dynamicParam("data", shapes.Make(1, 3, shapes.DynamicDim, shapes.DynamicDim))
		filters = param("filters", 2, 3, 3, 3)
		conv = must.M1(ops.NewConvolutionV1(data.Output(0), filters.Output(0), shapes.Strides{1, 1},
			shapes.CoordinateDiff{1, 1}, shapes.CoordinateDiff{1, 1}, nil, padType))
		f = singleResult(t, conv, data, filters)
		assert.True(t, runPass(t, f, DowngradePassName), "pad type %s", padType)
		c := resultProducer(f).Op().(*ops.Convolution)
		assert.Equal(t, uint64(0), resultProducer(f).Version())
		assert.Len(t, c.PaddingBelow, 2)
	}

	// Sum is not defined over booleans, in either opset.
	b := must.M1(graph.NewParameter("b", element.Boolean, shapes.Make(4)))
	_, err = ops.NewReductionV1(ops.ReduceSumKind, b.Output(0), ints(0), false)
	assert.True(t, errors.Is(err, graph.ErrInvalidArgument), "got %v", err)
	anyTrue := must.M1(ops.NewReductionV1(ops.ReduceMaxKind, b.Output(0), ints(0), false))
	f = singleResult(t, anyTrue, b)
	assert.True(t, runPass(t, f, DowngradePassName))
	assert.Equal(t, "Max", resultProducer(f).Description())
}
