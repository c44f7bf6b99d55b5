// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package main

import (
	"github.com/gomlx/opsetgraph/pkg/core/element"
	"github.com/gomlx/opsetgraph/pkg/core/graph"
	"github.com/gomlx/opsetgraph/pkg/core/ops"
	"github.com/gomlx/opsetgraph/pkg/core/shapes"
	"github.com/gomlx/opsetgraph/pkg/importer/onnx"
	"github.com/gomlx/opsetgraph/pkg/support/xslices"
	"github.com/janpfeifer/must"
	"github.com/pkg/errors"
)

// samples maps the names accepted by -sample to the function building the sample graph.
var samples = map[string]func() (*graph.Function, error){
	"conv":               sampleConv,
	"conv_backprop_data": sampleConvBackpropData,
	"leaky_relu":         sampleLeakyRelu,
	"reduce_max":         sampleReduceMax,
	"minimum":            sampleMinimum,
	"avg_pool":           sampleAvgPool,
}

func sampleNames() []string { return xslices.SortedKeys(samples) }

func buildSample(name string) (*graph.Function, error) {
	build, found := samples[name]
	if !found {
		return nil, errors.Wrapf(graph.ErrInvalidArgument, "unknown sample %q, valid values are %q", name, sampleNames())
	}
	f, err := build()
	if err != nil {
		return nil, errors.WithMessagef(err, "building sample %q", name)
	}
	return f, nil
}

func parameter(name string, dims ...int) *graph.Node {
	return must.M1(graph.NewParameter(name, element.F32, shapes.Make(dims...)))
}

// sampleConv is an opset 0 convolution, with explicit padding.
func sampleConv() (*graph.Function, error) {
	data, filters := parameter("data", 1, 3, 6, 9), parameter("filters", 2, 3, 3, 3)
	conv, err := ops.NewConvolution(data.Output(0), filters.Output(0), shapes.Strides{1, 1}, shapes.Strides{1, 1},
		shapes.CoordinateDiff{1, 1}, shapes.CoordinateDiff{2, 2}, nil, ops.PadExplicit)
	if err != nil {
		return nil, err
	}
	conv.SetName("conv")
	return graph.NewFunctionFromOutputs("conv", []graph.Output{conv.Output(0)}, []*graph.Node{data, filters})
}

// sampleConvBackpropData is an opset 1 convolution data gradient, with a constant data batch shape.
func sampleConvBackpropData() (*graph.Function, error) {
	filters, delta := parameter("filters", 128, 3, 10), parameter("delta", 64, 128, 96)
	batchShape, err := ops.NewInt64Constant([]int64{64, 3, 100})
	if err != nil {
		return nil, err
	}
	backprop, err := ops.NewConvolutionBackpropDataV1(filters.Output(0), delta.Output(0), batchShape.Output(0),
		shapes.Strides{1}, shapes.CoordinateDiff{2}, shapes.CoordinateDiff{3}, shapes.Strides{1})
	if err != nil {
		return nil, err
	}
	backprop.SetName("backprop_data")
	return graph.NewFunctionFromOutputs("conv_backprop_data", []graph.Output{backprop.Output(0)},
		[]*graph.Node{filters, delta})
}

// sampleLeakyRelu is imported from an ONNX LeakyRelu operator.
func sampleLeakyRelu() (*graph.Function, error) {
	data := parameter("data", 2, 4)
	outputs, err := onnx.NewRegistry().Translate(&onnx.Node{
		Name:       "leaky_relu",
		OpType:     "LeakyRelu",
		Inputs:     []graph.Output{data.Output(0)},
		Attributes: onnx.Attributes{"alpha": 0.01},
	}, 6)
	if err != nil {
		return nil, err
	}
	return graph.NewFunctionFromOutputs("leaky_relu", outputs, []*graph.Node{data})
}

// sampleReduceMax is an opset 1 ReduceMax keeping the reduced axis.
func sampleReduceMax() (*graph.Function, error) {
	x := parameter("x", 2, 3, 4)
	axes, err := ops.NewInt64Constant([]int64{-1})
	if err != nil {
		return nil, err
	}
	reduceMax, err := ops.NewReductionV1(ops.ReduceMaxKind, x.Output(0), axes.Output(0), true)
	if err != nil {
		return nil, err
	}
	reduceMax.SetName("reduce_max")
	return graph.NewFunctionFromOutputs("reduce_max", []graph.Output{reduceMax.Output(0)}, []*graph.Node{x})
}

// sampleMinimum is the opset 0 Minimum(x - y, y).
func sampleMinimum() (*graph.Function, error) {
	x, y := parameter("x", 2, 3), parameter("y", 2, 3)
	diff, err := ops.Subtract(x.Output(0), y.Output(0))
	if err != nil {
		return nil, err
	}
	minimum, err := ops.Minimum(diff.Output(0), y.Output(0))
	if err != nil {
		return nil, err
	}
	minimum.SetName("minimum")
	return graph.NewFunctionFromOutputs("minimum", []graph.Output{minimum.Output(0)}, []*graph.Node{x, y})
}

// sampleAvgPool is an opset 0 AvgPool with symmetric padding.
func sampleAvgPool() (*graph.Function, error) {
	x := parameter("x", 1, 3, 8, 8)
	pool, err := ops.NewAvgPool(x.Output(0), shapes.Make(2, 2), shapes.Strides{2, 2}, shapes.CoordinateDiff{1, 1}, true)
	if err != nil {
		return nil, err
	}
	pool.SetName("avg_pool")
	return graph.NewFunctionFromOutputs("avg_pool", []graph.Output{pool.Output(0)}, []*graph.Node{x})
}
