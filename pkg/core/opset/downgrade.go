// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package opset

import (
	"slices"

	"github.com/gomlx/opsetgraph/pkg/core/graph"
	"github.com/gomlx/opsetgraph/pkg/core/ops"
	"github.com/gomlx/opsetgraph/pkg/core/pass"
)

func downgradeRules() map[graph.TypeInfo]pass.Rule {
	rules := map[graph.TypeInfo]pass.Rule{
		{Name: "Convolution", Version: 1}:                rule(downgradeConvolution),
		{Name: "ConvolutionBackpropData", Version: 1}:    rule(downgradeConvolutionBackpropData),
		{Name: "ConvolutionBackpropFilters", Version: 1}: rule(downgradeConvolutionBackpropFilters),
		{Name: "Broadcast", Version: 1}:                  rule(downgradeBroadcast),
		{Name: "Reshape", Version: 1}:                    rule(downgradeReshape),
		{Name: "AvgPool", Version: 1}:                    rule(downgradeAvgPool),
	}
	for _, kind := range ops.BinaryKinds {
		rules[graph.TypeInfo{Name: kind.String(), Version: 1}] = rule(downgradeBinary)
	}
	for _, kind := range ops.ReductionKinds {
		rules[graph.TypeInfo{Name: kind.NameV1(), Version: 1}] = rule(downgradeReduction)
	}
	return rules
}

func downgradeBinary(n *graph.Node) *graph.Node {
	b := n.Op().(*ops.Binary)
	return mustNode(ops.NewBinary(b.Kind, 0, n.Input(0), n.Input(1), b.AutoBroadcast))
}

// downgradeConvolution gives the opset 0 node the resolved pads. A SAME auto_pad over unknown
// spatial dimensions can't be resolved and is not supported.
func downgradeConvolution(n *graph.Node) *graph.Node {
	c := n.Op().(*ops.ConvolutionV1)
	padsBegin, padsEnd, err := c.ResolvedPads(n)
	if err != nil {
		panic(err)
	}
	return mustNode(ops.NewConvolution(n.Input(0), n.Input(1), c.Strides, c.Dilations,
		padsBegin, padsEnd, nil, c.AutoPad))
}

func downgradeConvolutionBackpropData(n *graph.Node) *graph.Node {
	c := n.Op().(*ops.ConvolutionBackpropDataV1)
	dataBatchShape, known := c.DataBatchShape(n)
	if !known {
		unsupported("%s: data batch shape must be a constant for opset 0", n.Name())
	}
	return mustNode(ops.NewConvolutionBackpropData(dataBatchShape, n.Input(0), n.Input(1),
		c.Strides, c.Dilations, c.PadsBegin, c.PadsEnd, nil))
}

func downgradeConvolutionBackpropFilters(n *graph.Node) *graph.Node {
	c := n.Op().(*ops.ConvolutionBackpropFiltersV1)
	filtersShape, known := c.FiltersShape(n)
	if !known {
		unsupported("%s: filters shape must be a constant for opset 0", n.Name())
	}
	return mustNode(ops.NewConvolutionBackpropFilters(n.Input(0), filtersShape, n.Input(1),
		c.Strides, c.Dilations, c.PadsBegin, c.PadsEnd, nil))
}

// downgradeReduction reduces with the opset 0 op, and reshapes the result to keep the reduced
// axes if KeepDims is set.
func downgradeReduction(n *graph.Node) *graph.Node {
	r := n.Op().(*ops.ReductionV1)
	values, isConstant := ops.ConstantInts(n.Input(1))
	if !isConstant {
		unsupported("%s: reduction axes must be a constant for opset 0", n.Name())
	}
	axes, err := r.Axes(n)
	if err != nil {
		panic(err)
	}
	if axes == nil && len(values) > 0 {
		unsupported("%s: negative reduction axes %v over an operand of unknown rank", n.Name(), values)
	}
	reduced := mustNode(ops.NewReduction(r.Kind, n.Input(0), axes...))
	if !r.KeepDims {
		return reduced
	}
	return mustNode(ops.NewReshape(reduced.Output(0), nil, staticOutputShape(n, "KeepDims reduction")))
}

// downgradeBroadcast only handles broadcasts that insert new axes: opset 0 can't stretch axes of
// dimension 1.
func downgradeBroadcast(n *graph.Node) *graph.Node {
	b := n.Op().(*ops.BroadcastV1)
	target := staticOutputShape(n, "Broadcast")
	x := n.Input(0)
	xShape := x.Shape()
	if xShape.IsDynamicRank() {
		unsupported("%s: Broadcast of an operand with dynamic rank", n.Name())
	}
	var mapping []int
	switch b.Mode {
	case ops.BroadcastExplicit:
		var ok bool
		mapping, ok = ops.ConstantInts(n.Input(2))
		if !ok {
			unsupported("%s: axes mapping must be a constant for opset 0", n.Name())
		}
	case ops.BroadcastNumpyMode:
		offset := target.Rank() - xShape.Rank()
		mapping = make([]int, xShape.Rank())
		for ii := range mapping {
			mapping[ii] = offset + ii
		}
	default:
		unsupported("%s: Broadcast mode %s", n.Name(), b.Mode)
	}
	for ii, axis := range mapping {
		if xDim := xShape.Dimensions[ii]; xDim != target.Dimensions[axis] {
			unsupported("%s: opset 0 Broadcast can't stretch operand axis %d (dimension %d) to %d",
				n.Name(), ii, xDim, target.Dimensions[axis])
		}
	}
	var newAxes []int
	for axis := range target.Rank() {
		if !slices.Contains(mapping, axis) {
			newAxes = append(newAxes, axis)
		}
	}
	return mustNode(ops.NewBroadcast(x, target, newAxes...))
}

func downgradeReshape(n *graph.Node) *graph.Node {
	return mustNode(ops.NewReshape(n.Input(0), nil, staticOutputShape(n, "Reshape")))
}

// downgradeAvgPool requires the same padding at both ends of each axis, since opset 0 AvgPool
// only has a symmetric padding.
func downgradeAvgPool(n *graph.Node) *graph.Node {
	p := n.Op().(*ops.AvgPoolV1)
	padsBegin, padsEnd, err := p.ResolvedPads(n)
	if err != nil {
		panic(err)
	}
	if !padsBegin.Equal(padsEnd) {
		unsupported("%s: opset 0 AvgPool requires symmetric padding, got pads_begin=%s, pads_end=%s",
			n.Name(), padsBegin, padsEnd)
	}
	return mustNode(ops.NewAvgPool(n.Input(0), p.Kernel, p.Strides, padsBegin, !p.ExcludePad))
}
