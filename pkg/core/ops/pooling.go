// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package ops

import (
	"github.com/gomlx/opsetgraph/pkg/core/graph"
	"github.com/gomlx/opsetgraph/pkg/core/shapes"
	"github.com/pkg/errors"
)

// poolGeometry reuses the convolution geometry for a pooling window over data=[batch, channels,
// spatial...]: the window acts as a per-channel filter.
func poolGeometry(data shapes.Shape, window shapes.Shape, g convGeometry) (convForward, error) {
	if !window.IsStatic() || window.Rank() != g.numSpatial() {
		return convForward{}, graph.InvalidArgumentf("pooling window %s must be static with one dimension per spatial axis (%d)",
			window, g.numSpatial())
	}
	for _, dim := range window.Dimensions {
		if dim < 1 {
			return convForward{}, graph.InvalidArgumentf("pooling window %s must have positive dimensions", window)
		}
	}
	return g.forwardShape(data, poolFilters(data, window))
}

// poolFilters is the per-channel filters shape equivalent to the pooling window.
func poolFilters(data, window shapes.Shape) shapes.Shape {
	channels := shapes.DynamicDim
	if !data.IsDynamicRank() && data.Rank() > 1 {
		channels = data.Dimensions[1]
	}
	return shapes.Make(append([]int{channels, channels}, window.Dimensions...)...)
}

// AvgPool is the opset 0 average pooling. Padding is applied symmetrically: the same amount at
// the beginning and at the end of each spatial axis.
type AvgPool struct {
	WindowShape                    shapes.Shape
	WindowMovementStrides          shapes.Strides
	Padding                        shapes.CoordinateDiff
	IncludePaddingInAvgComputation bool
}

// NewAvgPool creates an opset 0 AvgPool. Nil strides and padding default to ones and zeros.
func NewAvgPool(x graph.Output, windowShape shapes.Shape, strides shapes.Strides, padding shapes.CoordinateDiff,
	includePadding bool) (*graph.Node, error) {
	if strides == nil {
		strides = shapes.Ones(windowShape.Rank())
	}
	if padding == nil {
		padding = shapes.Zeros(windowShape.Rank())
	}
	return graph.NewNode(&AvgPool{
		WindowShape:                    windowShape.Clone(),
		WindowMovementStrides:          strides,
		Padding:                        padding,
		IncludePaddingInAvgComputation: includePadding,
	}, x)
}

// TypeInfo implements graph.Op.
func (p *AvgPool) TypeInfo() graph.TypeInfo { return graph.TypeInfo{Name: "AvgPool", Version: 0} }

// ValidateAndInferTypes implements graph.Op.
func (p *AvgPool) ValidateAndInferTypes(n *graph.Node) error {
	if err := checkInputs(n, 1); err != nil {
		return err
	}
	x := n.Input(0)
	if et := x.ElementType(); et.IsStatic() && !et.IsReal() {
		return graph.InvalidArgumentf("AvgPool requires a floating point operand, got %s", et)
	}
	numSpatial := len(p.WindowMovementStrides)
	fwd, err := poolGeometry(x.Shape(), p.WindowShape, convGeometry{
		strides: p.WindowMovementStrides, dilations: shapes.Ones(numSpatial), dataDilations: shapes.Ones(numSpatial),
		padBelow: p.Padding, padAbove: p.Padding,
	})
	if err != nil {
		return errors.WithMessage(err, "AvgPool")
	}
	n.SetOutputType(0, x.ElementType(), fwd.shape)
	return nil
}

// CopyWithNewArgs implements graph.Op.
func (p *AvgPool) CopyWithNewArgs(args []graph.Output) (*graph.Node, error) {
	clone := *p
	clone.WindowShape = p.WindowShape.Clone()
	return graph.NewNode(&clone, args...)
}

// Attributes implements graph.AttributesProvider.
func (p *AvgPool) Attributes() map[string]any {
	return map[string]any{
		"window_shape":                       p.WindowShape.Dimensions,
		"window_movement_strides":            []int(p.WindowMovementStrides),
		"padding":                            []int(p.Padding),
		"include_padding_in_avg_computation": p.IncludePaddingInAvgComputation,
	}
}

// AvgPoolV1 is the opset 1 average pooling, with independent paddings at the beginning and end of
// each spatial axis, and auto padding.
type AvgPoolV1 struct {
	Kernel     shapes.Shape
	Strides    shapes.Strides
	PadsBegin  shapes.CoordinateDiff
	PadsEnd    shapes.CoordinateDiff
	ExcludePad bool
	AutoPad    PadType
}

// NewAvgPoolV1 creates an opset 1 AvgPool. Nil strides default to ones.
func NewAvgPoolV1(x graph.Output, kernel shapes.Shape, strides shapes.Strides, padsBegin, padsEnd shapes.CoordinateDiff,
	excludePad bool, autoPad PadType) (*graph.Node, error) {
	if strides == nil {
		strides = shapes.Ones(kernel.Rank())
	}
	return graph.NewNode(&AvgPoolV1{
		Kernel:     kernel.Clone(),
		Strides:    strides,
		PadsBegin:  padsBegin,
		PadsEnd:    padsEnd,
		ExcludePad: excludePad,
		AutoPad:    autoPad,
	}, x)
}

func (p *AvgPoolV1) geometry() convGeometry {
	numSpatial := len(p.Strides)
	return convGeometry{
		strides: p.Strides, dilations: shapes.Ones(numSpatial), dataDilations: shapes.Ones(numSpatial),
		padBelow: p.PadsBegin, padAbove: p.PadsEnd, padType: p.AutoPad,
	}
}

// TypeInfo implements graph.Op.
func (p *AvgPoolV1) TypeInfo() graph.TypeInfo { return graph.TypeInfo{Name: "AvgPool", Version: 1} }

// ValidateAndInferTypes implements graph.Op.
func (p *AvgPoolV1) ValidateAndInferTypes(n *graph.Node) error {
	if err := checkInputs(n, 1); err != nil {
		return err
	}
	x := n.Input(0)
	if et := x.ElementType(); et.IsStatic() && !et.IsReal() {
		return graph.InvalidArgumentf("AvgPool requires a floating point operand, got %s", et)
	}
	fwd, err := poolGeometry(x.Shape(), p.Kernel, p.geometry())
	if err != nil {
		return errors.WithMessage(err, "AvgPool")
	}
	n.SetOutputType(0, x.ElementType(), fwd.shape)
	return nil
}

// ResolvedPads returns the paddings after applying AutoPad. With a SAME auto_pad it fails with
// ErrUnsupportedConfiguration if the spatial axes of the operand are not static.
func (p *AvgPoolV1) ResolvedPads(n *graph.Node) (padsBegin, padsEnd shapes.CoordinateDiff, err error) {
	fwd, err := poolGeometry(n.Input(0).Shape(), p.Kernel, p.geometry())
	if err != nil {
		return nil, nil, err
	}
	if !fwd.padsResolved {
		return nil, nil, graph.Unsupportedf("AvgPool auto_pad=%s can't be resolved over operand %s",
			p.AutoPad, n.Input(0).Shape())
	}
	return fwd.padBelow, fwd.padAbove, nil
}

// CopyWithNewArgs implements graph.Op.
func (p *AvgPoolV1) CopyWithNewArgs(args []graph.Output) (*graph.Node, error) {
	clone := *p
	clone.Kernel = p.Kernel.Clone()
	return graph.NewNode(&clone, args...)
}

// Attributes implements graph.AttributesProvider.
func (p *AvgPoolV1) Attributes() map[string]any {
	return map[string]any{
		"kernel":      p.Kernel.Dimensions,
		"strides":     []int(p.Strides),
		"pads_begin":  []int(p.PadsBegin),
		"pads_end":    []int(p.PadsEnd),
		"exclude_pad": p.ExcludePad,
		"auto_pad":    p.AutoPad.String(),
	}
}
