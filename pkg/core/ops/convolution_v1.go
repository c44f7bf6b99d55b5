// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package ops

import (
	"github.com/gomlx/opsetgraph/pkg/core/graph"
	"github.com/gomlx/opsetgraph/pkg/core/shapes"
	"github.com/pkg/errors"
)

// ConvolutionV1 is the opset 1 convolution. It has no data dilation, and the paddings are
// renamed to PadsBegin and PadsEnd.
type ConvolutionV1 struct {
	Strides   shapes.Strides
	PadsBegin shapes.CoordinateDiff
	PadsEnd   shapes.CoordinateDiff
	Dilations shapes.Strides
	AutoPad   PadType
}

// NewConvolutionV1 creates an opset 1 Convolution. Nil dilations default to ones.
func NewConvolutionV1(data, filters graph.Output, strides shapes.Strides, padsBegin, padsEnd shapes.CoordinateDiff,
	dilations shapes.Strides, autoPad PadType) (*graph.Node, error) {
	if dilations == nil {
		dilations = shapes.Ones(len(strides))
	}
	return graph.NewNode(&ConvolutionV1{
		Strides:   strides,
		PadsBegin: padsBegin,
		PadsEnd:   padsEnd,
		Dilations: dilations,
		AutoPad:   autoPad,
	}, data, filters)
}

func (c *ConvolutionV1) geometry() convGeometry {
	return convGeometry{
		strides: c.Strides, dilations: c.Dilations, dataDilations: shapes.Ones(len(c.Strides)),
		padBelow: c.PadsBegin, padAbove: c.PadsEnd, padType: c.AutoPad,
	}
}

// TypeInfo implements graph.Op.
func (c *ConvolutionV1) TypeInfo() graph.TypeInfo { return graph.TypeInfo{Name: "Convolution", Version: 1} }

// ValidateAndInferTypes implements graph.Op.
func (c *ConvolutionV1) ValidateAndInferTypes(n *graph.Node) error {
	return inferConvolution(n, c.geometry())
}

// ResolvedPads returns the paddings after applying AutoPad. With a SAME auto_pad it fails with
// ErrUnsupportedConfiguration if the spatial axes of the inputs of n are not static.
func (c *ConvolutionV1) ResolvedPads(n *graph.Node) (padsBegin, padsEnd shapes.CoordinateDiff, err error) {
	return c.geometry().resolvedPads(n.Input(0).Shape(), n.Input(1).Shape())
}

// CopyWithNewArgs implements graph.Op.
func (c *ConvolutionV1) CopyWithNewArgs(args []graph.Output) (*graph.Node, error) {
	clone := *c
	return graph.NewNode(&clone, args...)
}

// Attributes implements graph.AttributesProvider.
func (c *ConvolutionV1) Attributes() map[string]any {
	return map[string]any{
		"strides":    []int(c.Strides),
		"pads_begin": []int(c.PadsBegin),
		"pads_end":   []int(c.PadsEnd),
		"dilations":  []int(c.Dilations),
		"auto_pad":   c.AutoPad.String(),
	}
}

// GenerateAdjoints implements graph.Differentiable with the opset 1 backprop ops, whose shape
// inputs are Constants. Data and filters shapes must be static.
func (c *ConvolutionV1) GenerateAdjoints(n *graph.Node, adjoints graph.AdjointSink, deltas []graph.Output) error {
	data, filters, delta := n.Input(0), n.Input(1), deltas[0]
	dataShape, err := staticShape(data, "autodiff of Convolution")
	if err != nil {
		return err
	}
	filtersShape, err := staticShape(filters, "autodiff of Convolution")
	if err != nil {
		return err
	}
	padsBegin, padsEnd, err := c.ResolvedPads(n)
	if err != nil {
		return err
	}
	return catch(func() {
		dataShapeInput := mustOut(newIntsConstant(dataShape.Dimensions))
		addDelta(adjoints, data, mustOut(NewConvolutionBackpropDataV1(filters, delta, dataShapeInput,
			c.Strides, padsBegin, padsEnd, c.Dilations)))
		filtersShapeInput := mustOut(newIntsConstant(filtersShape.Dimensions))
		addDelta(adjoints, filters, mustOut(NewConvolutionBackpropFiltersV1(data, delta, filtersShapeInput,
			c.Strides, padsBegin, padsEnd, c.Dilations)))
	})
}

// backpropV1 holds the attributes shared by the opset 1 backprop convolutions.
type backpropV1 struct {
	Strides   shapes.Strides
	PadsBegin shapes.CoordinateDiff
	PadsEnd   shapes.CoordinateDiff
	Dilations shapes.Strides
}

func (b backpropV1) geometry() convGeometry {
	return convGeometry{
		strides: b.Strides, dilations: b.Dilations, dataDilations: shapes.Ones(len(b.Strides)),
		padBelow: b.PadsBegin, padAbove: b.PadsEnd,
	}
}

func (b backpropV1) attributes() map[string]any {
	return map[string]any{
		"strides":    []int(b.Strides),
		"pads_begin": []int(b.PadsBegin),
		"pads_end":   []int(b.PadsEnd),
		"dilations":  []int(b.Dilations),
	}
}

// inferBackpropV1 infers the output of an opset 1 backprop convolution, whose third input is the
// shape of the output. forward builds the (data, filters) shapes of the forward convolution from
// the output shape and the first input.
func inferBackpropV1(n *graph.Node, g convGeometry, forward func(out, first shapes.Shape) (data, filters shapes.Shape)) error {
	if err := checkInputs(n, 3); err != nil {
		return err
	}
	if err := checkShapeInput(n, 2, "output shape"); err != nil {
		return err
	}
	et, err := mergeElementTypes(n, 0, 1)
	if err != nil {
		return err
	}
	outShape, known := shapeFromInput(n.Input(2))
	if !known {
		if outShape.IsDynamicRank() {
			outShape = shapes.MakeDynamic(g.numSpatial() + 2)
		}
		n.SetOutputType(0, et, outShape)
		return nil
	}
	data, filters := forward(outShape, n.Input(0).Shape())
	if err := g.checkDelta(data, filters, n.Input(1).Shape()); err != nil {
		return errors.WithMessage(err, n.Description())
	}
	n.SetOutputType(0, et, outShape)
	return nil
}

// ConvolutionBackpropDataV1 is the opset 1 gradient of a convolution with respect to its data.
// Inputs are (filters, delta, data_batch_shape).
type ConvolutionBackpropDataV1 struct {
	backpropV1
}

// NewConvolutionBackpropDataV1 creates an opset 1 ConvolutionBackpropData.
func NewConvolutionBackpropDataV1(filters, delta, dataBatchShape graph.Output, strides shapes.Strides,
	padsBegin, padsEnd shapes.CoordinateDiff, dilations shapes.Strides) (*graph.Node, error) {
	if dilations == nil {
		dilations = shapes.Ones(len(strides))
	}
	return graph.NewNode(&ConvolutionBackpropDataV1{backpropV1{
		Strides: strides, PadsBegin: padsBegin, PadsEnd: padsEnd, Dilations: dilations,
	}}, filters, delta, dataBatchShape)
}

// TypeInfo implements graph.Op.
func (c *ConvolutionBackpropDataV1) TypeInfo() graph.TypeInfo {
	return graph.TypeInfo{Name: "ConvolutionBackpropData", Version: 1}
}

// ValidateAndInferTypes implements graph.Op.
func (c *ConvolutionBackpropDataV1) ValidateAndInferTypes(n *graph.Node) error {
	return inferBackpropV1(n, c.geometry(), func(out, filters shapes.Shape) (shapes.Shape, shapes.Shape) {
		return out, filters
	})
}

// DataBatchShape returns the data batch shape, if its input is a Constant.
func (c *ConvolutionBackpropDataV1) DataBatchShape(n *graph.Node) (shapes.Shape, bool) {
	return shapeFromInput(n.Input(2))
}

// CopyWithNewArgs implements graph.Op.
func (c *ConvolutionBackpropDataV1) CopyWithNewArgs(args []graph.Output) (*graph.Node, error) {
	clone := *c
	return graph.NewNode(&clone, args...)
}

// Attributes implements graph.AttributesProvider.
func (c *ConvolutionBackpropDataV1) Attributes() map[string]any { return c.attributes() }

// ConvolutionBackpropFiltersV1 is the opset 1 gradient of a convolution with respect to its
// filters. Inputs are (data, delta, filters_shape).
type ConvolutionBackpropFiltersV1 struct {
	backpropV1
}

// NewConvolutionBackpropFiltersV1 creates an opset 1 ConvolutionBackpropFilters.
func NewConvolutionBackpropFiltersV1(data, delta, filtersShape graph.Output, strides shapes.Strides,
	padsBegin, padsEnd shapes.CoordinateDiff, dilations shapes.Strides) (*graph.Node, error) {
	if dilations == nil {
		dilations = shapes.Ones(len(strides))
	}
	return graph.NewNode(&ConvolutionBackpropFiltersV1{backpropV1{
		Strides: strides, PadsBegin: padsBegin, PadsEnd: padsEnd, Dilations: dilations,
	}}, data, delta, filtersShape)
}

// TypeInfo implements graph.Op.
func (c *ConvolutionBackpropFiltersV1) TypeInfo() graph.TypeInfo {
	return graph.TypeInfo{Name: "ConvolutionBackpropFilters", Version: 1}
}

// ValidateAndInferTypes implements graph.Op.
func (c *ConvolutionBackpropFiltersV1) ValidateAndInferTypes(n *graph.Node) error {
	return inferBackpropV1(n, c.geometry(), func(out, data shapes.Shape) (shapes.Shape, shapes.Shape) {
		return data, out
	})
}

// FiltersShape returns the filters shape, if its input is a Constant.
func (c *ConvolutionBackpropFiltersV1) FiltersShape(n *graph.Node) (shapes.Shape, bool) {
	return shapeFromInput(n.Input(2))
}

// CopyWithNewArgs implements graph.Op.
func (c *ConvolutionBackpropFiltersV1) CopyWithNewArgs(args []graph.Output) (*graph.Node, error) {
	clone := *c
	return graph.NewNode(&clone, args...)
}

// Attributes implements graph.AttributesProvider.
func (c *ConvolutionBackpropFiltersV1) Attributes() map[string]any { return c.attributes() }
