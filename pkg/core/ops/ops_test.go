// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package ops

import (
	"math"
	"testing"

	"github.com/gomlx/opsetgraph/pkg/core/element"
	"github.com/gomlx/opsetgraph/pkg/core/graph"
	"github.com/gomlx/opsetgraph/pkg/core/shapes"
	"github.com/janpfeifer/must"
	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func param(name string, et element.Type, dims ...int) graph.Output {
	return must.M1(graph.NewParameter(name, et, shapes.Make(dims...))).Output(0)
}

func dynamicParam(name string, et element.Type, shape shapes.Shape) graph.Output {
	return must.M1(graph.NewParameter(name, et, shape)).Output(0)
}

func ints(values ...int) graph.Output { return must.M1(newIntsConstant(values)).Output(0) }

func requireShape(t *testing.T, n *graph.Node, et element.Type, dims ...int) {
	t.Helper()
	assert.Equal(t, et, n.OutputElementType(0), "element type of %s", n)
	assert.True(t, shapes.Make(dims...).Equal(n.OutputShape(0)), "shape of %s: got %s, wanted %v", n.Name(),
		n.OutputShape(0), dims)
}

// recordingSink collects the delta contributions of GenerateAdjoints.
type recordingSink map[graph.Output][]graph.Output

func (s recordingSink) AddDelta(x, delta graph.Output) error {
	if !x.Shape().Compatible(delta.Shape()) {
		return graph.TypeInferenceErrorf("delta %s doesn't match %s", delta.Shape(), x.Shape())
	}
	s[x] = append(s[x], delta)
	return nil
}

func TestLeakyReluPattern(t *testing.T) {
	x := param("x", element.F32, 2, 4)
	alpha := must.M1(NewSplatConstant(element.F32, shapes.Make(2, 4), 0.1))
	mul := must.M1(Multiply(alpha.Output(0), x))
	leaky := must.M1(Maximum(mul.Output(0), x))
	requireShape(t, leaky, element.F32, 2, 4)
	assert.Equal(t, "Maximum", leaky.Description())
	assert.Equal(t, uint64(0), leaky.Version())

	c, ok := AsConstant(alpha.Output(0))
	require.True(t, ok)
	assert.True(t, c.IsSplat())
	assert.InDelta(t, 0.1, c.Float64s()[7], 1e-6)
}

func TestBinary(t *testing.T) {
	x := param("x", element.F32, 2, 1, 4)
	y := param("y", element.F32, 3, 1)

	_, err := Add(x, y)
	require.Error(t, err)
	assert.True(t, errors.Is(err, graph.ErrTypeInference), "got %v", err)

	sum := must.M1(NewBinary(KindAdd, 1, x, y, DefaultAutoBroadcast(1)))
	requireShape(t, sum, element.F32, 2, 3, 4)
	assert.Equal(t, graph.TypeInfo{Name: "Add", Version: 1}, sum.TypeInfo())

	less := must.M1(NewBinary(KindLess, 1, x, y, BroadcastNumpy))
	requireShape(t, less, element.Boolean, 2, 3, 4)

	b := param("b", element.Boolean, 2)
	_, err = Add(b, b)
	assert.True(t, errors.Is(err, graph.ErrInvalidArgument), "got %v", err)
	requireShape(t, must.M1(Equal(b, b)), element.Boolean, 2)

	_, err = Add(x, param("i", element.I32, 2, 1, 4))
	assert.True(t, errors.Is(err, graph.ErrTypeInference), "got %v", err)

	// Dynamic dimensions are refined by the static operand.
	d := dynamicParam("d", element.F32, shapes.Make(shapes.DynamicDim, 1, 4))
	requireShape(t, must.M1(Add(x, d)), element.F32, 2, 1, 4)
}

func TestUnaryAndConvert(t *testing.T) {
	x := param("x", element.F64, 3)
	requireShape(t, must.M1(Negative(x)), element.F64, 3)
	requireShape(t, must.M1(Ceiling(x)), element.F64, 3)
	requireShape(t, must.M1(Gelu(x)), element.F64, 3)
	requireShape(t, must.M1(Convert(x, element.I32)), element.I32, 3)

	i := param("i", element.I32, 3)
	_, err := Ceiling(i)
	assert.True(t, errors.Is(err, graph.ErrInvalidArgument))
	requireShape(t, must.M1(Negative(i)), element.I32, 3)

	_, err = NewGeluBackprop(x, param("delta", element.F64, 4))
	assert.True(t, errors.Is(err, graph.ErrTypeInference))
}

func TestValidateIdempotent(t *testing.T) {
	x := param("x", element.F32, 2, 3, 4)
	nodes := []*graph.Node{
		must.M1(Sum(x, 1)),
		must.M1(NewReductionV1(ReduceMaxKind, x, ints(-1), true)),
		must.M1(NewReshapeV1(x, ints(0, -1), true)),
		must.M1(NewBroadcast(x, shapes.Make(5, 2, 3, 4), 0)),
		must.M1(NewAllReduce(x, ReduceSumKind)),
	}
	for _, n := range nodes {
		before := n.OutputShape(0)
		require.NoError(t, n.Validate(), "validating %s", n)
		require.NoError(t, n.Validate(), "validating %s", n)
		assert.True(t, before.Equal(n.OutputShape(0)), "%s changed shape on re-validation", n)
	}
}

func TestDefaultValue(t *testing.T) {
	x := param("x", element.F32, 2, 3)
	maxNode := must.M1(Max(x, 1))
	requireShape(t, maxNode, element.F32, 2)
	def := must.M1(DefaultValue(maxNode))
	c, ok := AsConstant(def.Output(0))
	require.True(t, ok)
	requireShape(t, def, element.F32, 2)
	assert.True(t, math.IsInf(c.Float64s()[0], -1))

	sumNode := must.M1(NewReductionV1(ReduceSumKind, param("i", element.I32, 4), ints(0), false))
	def = must.M1(DefaultValue(sumNode))
	c, _ = AsConstant(def.Output(0))
	assert.Equal(t, []any{int32(0)}, c.Values)

	// Dynamic element types have no lowest value.
	dyn := dynamicParam("dyn", element.Dynamic, shapes.Make(2, 3))
	maxNode = must.M1(Max(dyn, 0))
	_, err := DefaultValue(maxNode)
	require.Error(t, err)
	assert.True(t, errors.Is(err, graph.ErrInvalidArgument), "got %v", err)

	_, err = DefaultValue(must.M1(Negative(x)))
	assert.True(t, errors.Is(err, graph.ErrUnsupportedConfiguration))
}

func TestReductions(t *testing.T) {
	x := param("x", element.F32, 2, 3, 4)
	requireShape(t, must.M1(Sum(x, 0, 2)), element.F32, 3)
	requireShape(t, must.M1(NewReductionV1(ReduceSumKind, x, ints(1), true)), element.F32, 2, 1, 4)
	requireShape(t, must.M1(NewReductionV1(ReduceProductKind, x, ints(-1), false)), element.F32, 2, 3)

	_, err := Sum(x, 3)
	assert.True(t, errors.Is(err, graph.ErrInvalidArgument), "got %v", err)
	_, err = NewReductionV1(ReduceSumKind, x, ints(-4), false)
	assert.True(t, errors.Is(err, graph.ErrInvalidArgument), "got %v", err)

	// Non-constant axes: only the rank is known, and only with keep_dims.
	axes := param("axes", element.I64, 1)
	kept := must.M1(NewReductionV1(ReduceSumKind, x, axes, true))
	assert.True(t, shapes.MakeDynamic(3).Equal(kept.OutputShape(0)))
	dropped := must.M1(NewReductionV1(ReduceSumKind, x, axes, false))
	assert.True(t, dropped.OutputShape(0).IsDynamicRank())

	axesSet, err := kept.Op().(*ReductionV1).Axes(kept)
	require.NoError(t, err)
	assert.Nil(t, axesSet)
}

func TestBroadcastAndReshape(t *testing.T) {
	x := param("x", element.F32, 3)
	requireShape(t, must.M1(NewBroadcast(x, shapes.Make(2, 3), 0)), element.F32, 2, 3)
	_, err := NewBroadcast(x, shapes.Make(2, 4), 0)
	assert.True(t, errors.Is(err, graph.ErrTypeInference), "got %v", err)

	requireShape(t, must.M1(NewBroadcastV1(x, ints(2, 3), BroadcastNumpyMode)), element.F32, 2, 3)
	requireShape(t, must.M1(NewBroadcastV1(x, ints(3, 2), BroadcastExplicit, ints(0))), element.F32, 3, 2)
	_, err = NewBroadcastV1(x, ints(3, 2), BroadcastExplicit, ints(1))
	assert.True(t, errors.Is(err, graph.ErrTypeInference), "got %v", err)

	y := param("y", element.I32, 2, 3, 4)
	requireShape(t, must.M1(NewReshape(y, nil, shapes.Make(6, 4))), element.I32, 6, 4)
	_, err = NewReshape(y, nil, shapes.Make(5, 4))
	assert.True(t, errors.Is(err, graph.ErrTypeInference), "got %v", err)
	requireShape(t, must.M1(NewReshapeV1(y, ints(0, -1), true)), element.I32, 2, 12)
	requireShape(t, must.M1(NewReshapeV1(y, ints(-1, 4), false)), element.I32, 6, 4)
	_, err = NewReshapeV1(y, ints(-1, 5), false)
	assert.True(t, errors.Is(err, graph.ErrTypeInference), "got %v", err)
	_, err = NewReshapeV1(y, ints(-1, -1), false)
	assert.True(t, errors.Is(err, graph.ErrInvalidArgument), "got %v", err)

	// Non-constant pattern of known length.
	pattern := param("pattern", element.I64, 2)
	r := must.M1(NewReshapeV1(y, pattern, false))
	assert.True(t, shapes.MakeDynamic(2).Equal(r.OutputShape(0)))

	// Shape literals with invalid negative dimensions.
	invalid := shapes.Shape{Dimensions: []int{2, -5}}
	_, err = NewBroadcast(x, invalid, 0)
	assert.True(t, errors.Is(err, graph.ErrInvalidArgument), "got %v", err)
	_, err = NewReshape(y, nil, shapes.Shape{Dimensions: []int{-2, -12}})
	assert.True(t, errors.Is(err, graph.ErrInvalidArgument), "got %v", err)
	_, err = NewConstant(element.F32, invalid, []any{float32(1)})
	assert.True(t, errors.Is(err, graph.ErrInvalidArgument), "got %v", err)
}

func TestConvolution(t *testing.T) {
	data := param("data", element.F32, 64, 3, 100)
	filters := param("filters", element.F32, 128, 3, 10)
	conv := must.M1(NewConvolution(data, filters, shapes.Strides{1}, nil,
		shapes.CoordinateDiff{2}, shapes.CoordinateDiff{3}, nil, PadExplicit))
	requireShape(t, conv, element.F32, 64, 128, 96)
	op := conv.Op().(*Convolution)
	assert.Equal(t, shapes.Strides{1}, op.DataDilationStrides)
	assert.Equal(t, PadExplicit, op.PadType)

	_, err := NewConvolution(data, param("bad", element.F32, 128, 4, 10), shapes.Strides{1}, nil,
		shapes.CoordinateDiff{0}, shapes.CoordinateDiff{0}, nil, PadExplicit)
	assert.True(t, errors.Is(err, graph.ErrTypeInference), "got %v", err)
	_, err = NewConvolution(data, filters, shapes.Strides{1, 1}, nil,
		shapes.CoordinateDiff{0}, shapes.CoordinateDiff{0}, nil, PadExplicit)
	assert.True(t, errors.Is(err, graph.ErrInvalidArgument), "got %v", err)

	// Auto padding, with strides 2: output is ceil(5/2)=3 per spatial axis.
	img := param("img", element.F32, 1, 2, 5, 5)
	kernel := param("kernel", element.F32, 4, 2, 3, 3)
	convV1 := must.M1(NewConvolutionV1(img, kernel, shapes.Strides{2, 2}, nil, nil, nil, PadSameUpper))
	requireShape(t, convV1, element.F32, 1, 4, 3, 3)
	begin, end, err := convV1.Op().(*ConvolutionV1).ResolvedPads(convV1)
	require.NoError(t, err)
	assert.Equal(t, shapes.CoordinateDiff{1, 1}, begin)
	assert.Equal(t, shapes.CoordinateDiff{1, 1}, end)

	// Dynamic spatial axis.
	dynImg := dynamicParam("dyn", element.F32, shapes.Make(1, 2, shapes.DynamicDim, 5))
	convDyn := must.M1(NewConvolutionV1(dynImg, kernel, shapes.Strides{1, 1}, shapes.CoordinateDiff{0, 0},
		shapes.CoordinateDiff{0, 0}, nil, PadExplicit))
	assert.True(t, shapes.Make(1, 4, shapes.DynamicDim, 3).Equal(convDyn.OutputShape(0)))
	begin, end, err = convDyn.Op().(*ConvolutionV1).ResolvedPads(convDyn)
	require.NoError(t, err)
	assert.Equal(t, shapes.CoordinateDiff{0, 0}, begin)
	assert.Equal(t, shapes.CoordinateDiff{0, 0}, end)

	// SAME padding can't be resolved over the dynamic axis, but inference still works.
	sameDyn := must.M1(NewConvolutionV1(dynImg, kernel, shapes.Strides{1, 1}, nil, nil, nil, PadSameUpper))
	assert.True(t, shapes.Make(1, 4, shapes.DynamicDim, 5).Equal(sameDyn.OutputShape(0)))
	_, _, err = sameDyn.Op().(*ConvolutionV1).ResolvedPads(sameDyn)
	assert.True(t, errors.Is(err, graph.ErrUnsupportedConfiguration), "got %v", err)

	_, err = NewConvolutionV1(param("small", element.F32, 1, 2, 2, 2), kernel, shapes.Strides{1, 1},
		shapes.CoordinateDiff{0, 0}, shapes.CoordinateDiff{0, 0}, nil, PadExplicit)
	assert.True(t, errors.Is(err, graph.ErrInvalidArgument), "got %v", err)
}

func TestConvolutionBackprop(t *testing.T) {
	filters := param("filters", element.F32, 128, 3, 10)
	delta := param("delta", element.F32, 64, 128, 96)
	data := param("data", element.F32, 64, 3, 100)
	strides, pb, pa := shapes.Strides{1}, shapes.CoordinateDiff{2}, shapes.CoordinateDiff{3}

	bpData := must.M1(NewConvolutionBackpropData(shapes.Make(64, 3, 100), filters, delta, strides, nil, pb, pa, nil))
	requireShape(t, bpData, element.F32, 64, 3, 100)
	assert.Equal(t, shapes.Strides{1}, bpData.Op().(*ConvolutionBackpropData).DataDilationStridesForward)

	bpDataV1 := must.M1(NewConvolutionBackpropDataV1(filters, delta, ints(64, 3, 100), strides, pb, pa, nil))
	requireShape(t, bpDataV1, element.F32, 64, 3, 100)
	batchShape, known := bpDataV1.Op().(*ConvolutionBackpropDataV1).DataBatchShape(bpDataV1)
	assert.True(t, known)
	assert.Equal(t, []int{64, 3, 100}, batchShape.Dimensions)

	bpFilters := must.M1(NewConvolutionBackpropFilters(data, shapes.Make(128, 3, 10), delta, strides, nil, pb, pa, nil))
	requireShape(t, bpFilters, element.F32, 128, 3, 10)
	bpFiltersV1 := must.M1(NewConvolutionBackpropFiltersV1(data, delta, ints(128, 3, 10), strides, pb, pa, nil))
	requireShape(t, bpFiltersV1, element.F32, 128, 3, 10)

	// Delta not matching the forward convolution.
	_, err := NewConvolutionBackpropData(shapes.Make(64, 3, 100), filters, param("bad", element.F32, 64, 128, 95),
		strides, nil, pb, pa, nil)
	assert.True(t, errors.Is(err, graph.ErrTypeInference), "got %v", err)

	// Non-constant shape input.
	shapeParam := param("shape", element.I64, 3)
	dyn := must.M1(NewConvolutionBackpropDataV1(filters, delta, shapeParam, strides, pb, pa, nil))
	assert.True(t, shapes.MakeDynamic(3).Equal(dyn.OutputShape(0)))
}

func TestAvgPool(t *testing.T) {
	x := param("x", element.F32, 1, 1, 4, 4)
	pool := must.M1(NewAvgPool(x, shapes.Make(2, 2), shapes.Strides{2, 2}, nil, true))
	requireShape(t, pool, element.F32, 1, 1, 2, 2)

	poolV1 := must.M1(NewAvgPoolV1(x, shapes.Make(3, 3), shapes.Strides{1, 1},
		shapes.CoordinateDiff{0, 1}, shapes.CoordinateDiff{1, 1}, true, PadExplicit))
	requireShape(t, poolV1, element.F32, 1, 1, 3, 4)

	_, err := NewAvgPool(param("i", element.I32, 1, 1, 4, 4), shapes.Make(2, 2), nil, nil, false)
	assert.True(t, errors.Is(err, graph.ErrInvalidArgument), "got %v", err)
	_, err = NewAvgPool(x, shapes.Make(5, 5), nil, nil, false)
	assert.True(t, errors.Is(err, graph.ErrInvalidArgument), "got %v", err)
}

func TestAllReduce(t *testing.T) {
	x := param("x", element.F32, 8)
	n := must.M1(NewAllReduce(x, ReduceSumKind))
	requireShape(t, n, element.F32, 8)
	assert.Equal(t, map[string]any{"reduce_type": "sum"}, n.Attributes())

	require.NoError(t, SetReduceType(n, ReduceMaxKind))
	assert.Equal(t, ReduceMaxKind, n.Op().(*AllReduce).ReduceType)
	err := SetReduceType(n, ReductionKind(17))
	assert.True(t, errors.Is(err, graph.ErrInvalidArgument))
	assert.Equal(t, ReduceMaxKind, n.Op().(*AllReduce).ReduceType)

	err = n.Op().(graph.Differentiable).GenerateAdjoints(n, recordingSink{}, []graph.Output{x})
	assert.True(t, errors.Is(err, graph.ErrUnsupportedConfiguration))
}

func TestBinaryAdjoints(t *testing.T) {
	x := param("x", element.F32, 2, 4)
	y := param("y", element.F32, 2, 4)
	delta := param("delta", element.F32, 2, 4)

	minimum := must.M1(Minimum(x, y))
	sink := recordingSink{}
	require.NoError(t, minimum.Op().(graph.Differentiable).GenerateAdjoints(minimum, sink, []graph.Output{delta}))
	require.Len(t, sink[x], 1)
	require.Len(t, sink[y], 1)
	assert.Equal(t, "Multiply", sink[x][0].Node.Description())
	requireShape(t, sink[y][0].Node, element.F32, 2, 4)

	minimumV1 := must.M1(NewBinary(KindMinimum, 1, x, y, BroadcastNumpy))
	err := minimumV1.Op().(graph.Differentiable).GenerateAdjoints(minimumV1, recordingSink{}, []graph.Output{delta})
	assert.True(t, errors.Is(err, graph.ErrUnsupportedConfiguration), "got %v", err)

	less := must.M1(Less(x, y))
	err = less.Op().(graph.Differentiable).GenerateAdjoints(less, recordingSink{}, []graph.Output{delta})
	assert.True(t, errors.Is(err, graph.ErrUnsupportedConfiguration), "got %v", err)
}
