// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package autodiff

import (
	"testing"

	"github.com/gomlx/opsetgraph/pkg/core/element"
	"github.com/gomlx/opsetgraph/pkg/core/graph"
	"github.com/gomlx/opsetgraph/pkg/core/ops"
	"github.com/gomlx/opsetgraph/pkg/core/shapes"
	"github.com/janpfeifer/must"
	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func param(name string, et element.Type, dims ...int) *graph.Node {
	return must.M1(graph.NewParameter(name, et, shapes.Make(dims...)))
}

// twoWay has two outputs equal to its input. Its adjoint records the deltas it receives.
type twoWay struct {
	received *[]graph.Output
}

func (twoWay) TypeInfo() graph.TypeInfo { return graph.TypeInfo{Name: "TwoWay"} }

func (twoWay) ValidateAndInferTypes(n *graph.Node) error {
	n.SetOutputType(0, n.Input(0).ElementType(), n.Input(0).Shape())
	n.SetOutputType(1, n.Input(0).ElementType(), n.Input(0).Shape())
	return nil
}

func (op twoWay) CopyWithNewArgs(args []graph.Output) (*graph.Node, error) {
	return graph.NewNode(op, args...)
}

func (op twoWay) GenerateAdjoints(n *graph.Node, adjoints graph.AdjointSink, deltas []graph.Output) error {
	*op.received = append(*op.received, deltas...)
	sum, err := ops.Add(deltas[0], deltas[1])
	if err != nil {
		return err
	}
	return adjoints.AddDelta(n.Input(0), sum.Output(0))
}

func TestMinimumAdjoints(t *testing.T) {
	x, y := param("x", element.F32, 2, 4), param("y", element.F32, 2, 4)
	delta := param("delta", element.F32, 2, 4)
	minimum := must.M1(ops.Minimum(x.Output(0), y.Output(0)))
	adjoints, err := New([]graph.Output{minimum.Output(0)}, []graph.Output{delta.Output(0)})
	require.NoError(t, err)

	for _, p := range []*graph.Node{x, y} {
		grad := must.M1(adjoints.Backprop(p.Output(0)))
		assert.Equal(t, "Multiply", grad.Node.Description())
		assert.Same(t, delta, grad.Node.Input(0).Node)
		mask := grad.Node.Input(1).Node
		assert.Equal(t, "Convert", mask.Description())
		assert.Equal(t, "Less", mask.Input(0).Node.Description())
		assert.Same(t, p, mask.Input(0).Node.Input(0).Node, "Less(%s, other) expected", p.Name())
	}

	// Implicit broadcasting is not differentiable.
	minimumV1 := must.M1(ops.NewBinary(ops.KindMinimum, 1, x.Output(0), y.Output(0), ops.BroadcastNumpy))
	_, err = New([]graph.Output{minimumV1.Output(0)}, []graph.Output{delta.Output(0)})
	require.Error(t, err)
	assert.True(t, errors.Is(err, graph.ErrUnsupportedConfiguration), "got %v", err)
}

func TestMinimumV1Adjoints(t *testing.T) {
	x, y := param("x", element.F32, 3), param("y", element.F32, 3)
	delta := param("delta", element.F32, 3)
	minimum := must.M1(ops.NewBinary(ops.KindMinimum, 1, x.Output(0), y.Output(0), ops.BroadcastNone))
	adjoints, err := New([]graph.Output{minimum.Output(0)}, []graph.Output{delta.Output(0)})
	require.NoError(t, err)

	grad := must.M1(adjoints.Backprop(x.Output(0)))
	assert.Equal(t, graph.TypeInfo{Name: "Multiply", Version: 1}, grad.Node.TypeInfo())
	less := grad.Node.Input(1).Node.Input(0).Node
	assert.Equal(t, graph.TypeInfo{Name: "Less", Version: 1}, less.TypeInfo())
	assert.Equal(t, "none", less.Attributes()["auto_broadcast"])
}

func TestAccumulation(t *testing.T) {
	x := param("x", element.F32, 3)
	delta := param("delta", element.F32, 3)
	double := must.M1(ops.Add(x.Output(0), x.Output(0)))
	adjoints := must.M1(New([]graph.Output{double.Output(0)}, []graph.Output{delta.Output(0)}))
	grad := must.M1(adjoints.Backprop(x.Output(0)))
	assert.Equal(t, "Add", grad.Node.Description())
	assert.Same(t, delta, grad.Node.Input(0).Node)
	assert.Same(t, delta, grad.Node.Input(1).Node)

	// Contributions after the traversal are rejected.
	err := adjoints.AddDelta(x.Output(0), delta.Output(0))
	assert.True(t, errors.Is(err, graph.ErrTypeInference), "got %v", err)
}

func TestMultiOutputZeroFill(t *testing.T) {
	x := param("x", element.F32, 2, 2)
	delta := param("delta", element.F32, 2, 2)
	var received []graph.Output
	split := must.M1(graph.NewNode(twoWay{received: &received}, x.Output(0)))
	negated := must.M1(ops.Negative(split.Output(0)))

	adjoints := must.M1(New([]graph.Output{negated.Output(0)}, []graph.Output{delta.Output(0)}))
	require.Len(t, received, 2)
	assert.Equal(t, "Negative", received[0].Node.Description())
	zeros, ok := ops.AsConstant(received[1])
	require.True(t, ok, "missing delta should be filled with a Constant, got %s", received[1])
	assert.Equal(t, []float64{0, 0, 0, 0}, zeros.Float64s())

	grad := must.M1(adjoints.Backprop(x.Output(0)))
	assert.Equal(t, "Add", grad.Node.Description())
}

func TestGradients(t *testing.T) {
	x := param("x", element.F32, 2, 3)
	unused := param("unused", element.F32, 5)
	squares := must.M1(ops.Multiply(x.Output(0), x.Output(0)))
	loss := must.M1(ops.Sum(squares.Output(0), 0, 1))
	require.True(t, loss.OutputShape(0).IsScalar())

	grads, err := Gradients(loss.Output(0), []*graph.Node{x, unused})
	require.NoError(t, err)
	require.Len(t, grads, 2)
	assert.True(t, shapes.Make(2, 3).Equal(grads[0].Shape()))
	assert.Equal(t, "Add", grads[0].Node.Description(), "x*x contributes two deltas to x")
	zeros, ok := ops.AsConstant(grads[1])
	require.True(t, ok)
	assert.True(t, zeros.IsSplat())
	assert.True(t, shapes.Make(5).Equal(grads[1].Shape()))
}

func TestConstantSubgraphIsNotDifferentiated(t *testing.T) {
	x := param("x", element.F32, 3)
	c := must.M1(ops.NewSplatConstant(element.F32, shapes.Make(3), 2))
	// Max has no adjoint, but doesn't depend on any parameter.
	m := must.M1(ops.Max(c.Output(0), 0))
	s := must.M1(ops.Sum(x.Output(0), 0))
	loss := must.M1(ops.Add(m.Output(0), s.Output(0)))
	grads, err := Gradients(loss.Output(0), []*graph.Node{x})
	require.NoError(t, err)
	assert.Equal(t, "Broadcast", grads[0].Node.Description())

	// On a parameter path, Max fails.
	lossMax := must.M1(ops.Max(x.Output(0), 0))
	_, err = Gradients(lossMax.Output(0), []*graph.Node{x})
	assert.True(t, errors.Is(err, graph.ErrUnsupportedConfiguration), "got %v", err)
}

func TestDeltaMismatch(t *testing.T) {
	x := param("x", element.F32, 2)
	_, err := New([]graph.Output{x.Output(0)}, []graph.Output{param("delta", element.F32, 3).Output(0)})
	assert.True(t, errors.Is(err, graph.ErrTypeInference), "got %v", err)
	_, err = New([]graph.Output{x.Output(0)}, nil)
	assert.True(t, errors.Is(err, graph.ErrInvalidArgument), "got %v", err)
}

func TestBackpropFunction(t *testing.T) {
	x, y := param("x", element.F32, 2, 4), param("y", element.F32, 2, 4)
	product := must.M1(ops.Multiply(x.Output(0), y.Output(0)))
	forward := must.M1(graph.NewFunctionFromOutputs("product", []graph.Output{product.Output(0)}, []*graph.Node{x, y}))

	backward, err := BackpropFunction(forward)
	require.NoError(t, err)
	assert.Equal(t, "product_backprop", backward.Name())
	params := backward.Parameters()
	require.Len(t, params, 3)
	assert.Equal(t, []string{"x", "y", DeltaParameterName(0)},
		[]string{params[0].Name(), params[1].Name(), params[2].Name()})
	for _, p := range params[:2] {
		assert.NotSame(t, x, p)
		assert.NotSame(t, y, p)
	}
	outputs := backward.ResultOutputs()
	require.Len(t, outputs, 2)
	for _, o := range outputs {
		assert.Equal(t, "Multiply", o.Node.Description())
		assert.True(t, shapes.Make(2, 4).Equal(o.Shape()))
	}

	// The forward function is untouched and still valid.
	require.NoError(t, forward.Validate())
	assert.Len(t, forward.Nodes(), 4)
}

func TestBackpropFunctionConvolution(t *testing.T) {
	data := param("data", element.F32, 64, 3, 100)
	filters := param("filters", element.F32, 128, 3, 10)
	conv := must.M1(ops.NewConvolution(data.Output(0), filters.Output(0), shapes.Strides{1}, nil,
		shapes.CoordinateDiff{2}, shapes.CoordinateDiff{3}, nil, ops.PadExplicit))
	forward := must.M1(graph.NewFunctionFromOutputs("conv", []graph.Output{conv.Output(0)}, []*graph.Node{data, filters}))

	backward := must.M1(BackpropFunction(forward))
	outputs := backward.ResultOutputs()
	require.Len(t, outputs, 2)
	assert.Equal(t, graph.TypeInfo{Name: "ConvolutionBackpropData", Version: 0}, outputs[0].Node.TypeInfo())
	assert.True(t, shapes.Make(64, 3, 100).Equal(outputs[0].Shape()))
	assert.Equal(t, graph.TypeInfo{Name: "ConvolutionBackpropFilters", Version: 0}, outputs[1].Node.TypeInfo())
	assert.True(t, shapes.Make(128, 3, 10).Equal(outputs[1].Shape()))
}
