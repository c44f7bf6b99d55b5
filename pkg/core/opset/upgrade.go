// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package opset

import (
	"github.com/gomlx/opsetgraph/pkg/core/graph"
	"github.com/gomlx/opsetgraph/pkg/core/ops"
	"github.com/gomlx/opsetgraph/pkg/core/pass"
)

func upgradeRules() map[graph.TypeInfo]pass.Rule {
	rules := map[graph.TypeInfo]pass.Rule{
		{Name: "Convolution", Version: 0}:                rule(upgradeConvolution),
		{Name: "ConvolutionBackpropData", Version: 0}:    rule(upgradeConvolutionBackpropData),
		{Name: "ConvolutionBackpropFilters", Version: 0}: rule(upgradeConvolutionBackpropFilters),
		{Name: "Broadcast", Version: 0}:                  rule(upgradeBroadcast),
		{Name: "Reshape", Version: 0}:                    rule(upgradeReshape),
		{Name: "AvgPool", Version: 0}:                    rule(upgradeAvgPool),
	}
	for _, kind := range ops.BinaryKinds {
		rules[graph.TypeInfo{Name: kind.String(), Version: 0}] = rule(upgradeBinary)
	}
	for _, kind := range ops.ReductionKinds {
		rules[graph.TypeInfo{Name: kind.String(), Version: 0}] = rule(upgradeReduction)
	}
	return rules
}

// upgradeBinary keeps the auto-broadcast of the opset 0 node, which defaults to none.
func upgradeBinary(n *graph.Node) *graph.Node {
	b := n.Op().(*ops.Binary)
	return mustNode(ops.NewBinary(b.Kind, 1, n.Input(0), n.Input(1), b.AutoBroadcast))
}

func upgradeConvolution(n *graph.Node) *graph.Node {
	c := n.Op().(*ops.Convolution)
	if !c.DataDilationStrides.IsUnit() {
		unsupported("%s: data dilation strides %s have no opset 1 equivalent", n.Name(), c.DataDilationStrides)
	}
	return mustNode(ops.NewConvolutionV1(n.Input(0), n.Input(1), c.WindowMovementStrides,
		c.PaddingBelow, c.PaddingAbove, c.WindowDilationStrides, c.PadType))
}

func upgradeConvolutionBackpropData(n *graph.Node) *graph.Node {
	c := n.Op().(*ops.ConvolutionBackpropData)
	if !c.DataDilationStridesForward.IsUnit() {
		unsupported("%s: forward data dilation strides %s have no opset 1 equivalent", n.Name(), c.DataDilationStridesForward)
	}
	return mustNode(ops.NewConvolutionBackpropDataV1(n.Input(0), n.Input(1), intsInput(c.DataBatchShape.Dimensions),
		c.WindowMovementStridesForward, c.PaddingBelowForward, c.PaddingAboveForward, c.WindowDilationStridesForward))
}

func upgradeConvolutionBackpropFilters(n *graph.Node) *graph.Node {
	c := n.Op().(*ops.ConvolutionBackpropFilters)
	if !c.DataDilationStridesForward.IsUnit() {
		unsupported("%s: forward data dilation strides %s have no opset 1 equivalent", n.Name(), c.DataDilationStridesForward)
	}
	return mustNode(ops.NewConvolutionBackpropFiltersV1(n.Input(0), n.Input(1), intsInput(c.FiltersShape.Dimensions),
		c.WindowMovementStridesForward, c.PaddingBelowForward, c.PaddingAboveForward, c.WindowDilationStridesForward))
}

func upgradeReduction(n *graph.Node) *graph.Node {
	r := n.Op().(*ops.Reduction)
	return mustNode(ops.NewReductionV1(r.Kind, n.Input(0), intsInput(r.Axes), false))
}

// upgradeBroadcast maps each operand axis to the output axes that are not new.
func upgradeBroadcast(n *graph.Node) *graph.Node {
	b := n.Op().(*ops.Broadcast)
	mapping := make([]int, 0, b.Shape.Rank())
	for axis := range b.Shape.Rank() {
		if !b.Axes.Has(axis) {
			mapping = append(mapping, axis)
		}
	}
	return mustNode(ops.NewBroadcastV1(n.Input(0), intsInput(b.Shape.Dimensions), ops.BroadcastExplicit, intsInput(mapping)))
}

func upgradeReshape(n *graph.Node) *graph.Node {
	r := n.Op().(*ops.Reshape)
	if !r.IsIdentityOrder() {
		unsupported("%s: Reshape with input order %s has no opset 1 equivalent", n.Name(), r.InputOrder)
	}
	return mustNode(ops.NewReshapeV1(n.Input(0), intsInput(r.OutputShape.Dimensions), false))
}

func upgradeAvgPool(n *graph.Node) *graph.Node {
	p := n.Op().(*ops.AvgPool)
	return mustNode(ops.NewAvgPoolV1(n.Input(0), p.WindowShape, p.WindowMovementStrides, p.Padding, p.Padding,
		!p.IncludePaddingInAvgComputation, ops.PadExplicit))
}
