// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package ops

import (
	"strings"

	"github.com/gomlx/opsetgraph/pkg/core/graph"
	"github.com/gomlx/opsetgraph/pkg/core/shapes"
	"github.com/pkg/errors"
)

// PadType selects how convolution and pooling paddings are computed.
type PadType int

const (
	// PadExplicit uses the paddings given as attributes.
	PadExplicit PadType = iota

	// PadSameUpper pads so the output spatial size is ceil(input/stride), with the extra padding
	// (if odd) at the end.
	PadSameUpper

	// PadSameLower is like PadSameUpper, with the extra padding at the beginning.
	PadSameLower

	// PadValid doesn't pad.
	PadValid
)

var padTypeNames = []string{PadExplicit: "explicit", PadSameUpper: "same_upper", PadSameLower: "same_lower", PadValid: "valid"}

// String implements fmt.Stringer.
func (p PadType) String() string {
	if p < 0 || int(p) >= len(padTypeNames) {
		return "invalid"
	}
	return padTypeNames[p]
}

// ParsePadType parses the name of a PadType, case-insensitive. "notset" is an alias of explicit.
func ParsePadType(name string) (PadType, error) {
	name = strings.ToLower(name)
	if name == "notset" || name == "" {
		return PadExplicit, nil
	}
	for ii, padName := range padTypeNames {
		if padName == name {
			return PadType(ii), nil
		}
	}
	return PadExplicit, graph.InvalidArgumentf("unknown pad type %q", name)
}

// convGeometry holds the attributes of a forward convolution over the layouts
// data=[batch, channels, spatial...] and filters=[outputChannels, channels, spatial...].
type convGeometry struct {
	strides, dilations, dataDilations shapes.Strides
	padBelow, padAbove                shapes.CoordinateDiff
	padType                           PadType
}

func (g convGeometry) numSpatial() int { return len(g.strides) }

func (g convGeometry) check() error {
	numSpatial := g.numSpatial()
	if numSpatial == 0 {
		return graph.InvalidArgumentf("convolution requires at least one spatial axis (strides is empty)")
	}
	type namedInts struct {
		name      string
		values    []int
		isPadding bool
	}
	for _, attr := range []namedInts{{"dilations", g.dilations, false}, {"data dilations", g.dataDilations, false},
		{"padding below", g.padBelow, true}, {"padding above", g.padAbove, true}} {
		if attr.isPadding && len(attr.values) == 0 && g.padType != PadExplicit {
			// Computed from the input shapes.
			continue
		}
		if len(attr.values) != numSpatial {
			return graph.InvalidArgumentf("convolution %s %v must have %d values, one per spatial axis",
				attr.name, attr.values, numSpatial)
		}
	}
	for _, attr := range []namedInts{{"strides", g.strides, false}, {"dilations", g.dilations, false},
		{"data dilations", g.dataDilations, false}} {
		for _, v := range attr.values {
			if v < 1 {
				return graph.InvalidArgumentf("convolution %s %v must be >= 1", attr.name, attr.values)
			}
		}
	}
	return nil
}

// convForward is the output of a forward convolution geometry.
type convForward struct {
	shape              shapes.Shape
	padBelow, padAbove shapes.CoordinateDiff

	// padsResolved is false if the paddings depend on spatial dimensions that are not known (SAME
	// pad types). padBelow and padAbove are then the explicit ones.
	padsResolved bool
}

// forwardShape returns the output shape of the convolution, and the paddings resolved for the
// pad type.
func (g convGeometry) forwardShape(data, filters shapes.Shape) (convForward, error) {
	fwd := convForward{padBelow: g.padBelow, padAbove: g.padAbove, padsResolved: true}
	if err := g.check(); err != nil {
		return fwd, err
	}
	rank := g.numSpatial() + 2
	for ii, s := range []shapes.Shape{data, filters} {
		if !s.IsDynamicRank() && s.Rank() != rank {
			return fwd, graph.InvalidArgumentf(
				"convolution %s shape %s must have rank %d (2 leading axes and %d spatial axes)",
				[]string{"data", "filters"}[ii], s, rank, g.numSpatial())
		}
	}
	dim := func(s shapes.Shape, axis int) int {
		if s.IsDynamicRank() {
			return shapes.DynamicDim
		}
		return s.Dimensions[axis]
	}
	if dataChannels, filterChannels := dim(data, 1), dim(filters, 1); dataChannels != shapes.DynamicDim &&
		filterChannels != shapes.DynamicDim && dataChannels != filterChannels {
		return fwd, graph.TypeInferenceErrorf(
			"convolution data channels (%d in %s) don't match filter input channels (%d in %s)",
			dataChannels, data, filterChannels, filters)
	}

	out := shapes.MakeDynamic(rank)
	out.Dimensions[0] = dim(data, 0)
	out.Dimensions[1] = dim(filters, 0)
	padBelow, padAbove := g.padBelow, g.padAbove
	if g.padType != PadExplicit {
		padBelow, padAbove = make(shapes.CoordinateDiff, g.numSpatial()), make(shapes.CoordinateDiff, g.numSpatial())
	}
	resolved := true
	for ii := range g.numSpatial() {
		inputDim, kernelDim := dim(data, ii+2), dim(filters, ii+2)
		if inputDim == shapes.DynamicDim || kernelDim == shapes.DynamicDim {
			resolved = false
			continue
		}
		effectiveInputDim := 0
		if inputDim > 0 {
			effectiveInputDim = (inputDim-1)*g.dataDilations[ii] + 1
		}
		effectiveKernelDim := (kernelDim-1)*g.dilations[ii] + 1
		stride := g.strides[ii]
		switch g.padType {
		case PadSameUpper, PadSameLower:
			outDim := (effectiveInputDim + stride - 1) / stride
			total := max((outDim-1)*stride+effectiveKernelDim-effectiveInputDim, 0)
			if g.padType == PadSameUpper {
				padBelow[ii], padAbove[ii] = total/2, total-total/2
			} else {
				padBelow[ii], padAbove[ii] = total-total/2, total/2
			}
		}
		paddedInputDim := effectiveInputDim + padBelow[ii] + padAbove[ii]
		if effectiveKernelDim > paddedInputDim {
			return fwd, graph.InvalidArgumentf(
				"convolution window (dilated size %d) is larger than the padded input (size %d) on spatial axis %d",
				effectiveKernelDim, paddedInputDim, ii)
		}
		out.Dimensions[ii+2] = (paddedInputDim-effectiveKernelDim)/stride + 1
	}
	fwd.shape = out
	if !resolved && (g.padType == PadSameUpper || g.padType == PadSameLower) {
		fwd.padsResolved = false
		return fwd, nil
	}
	fwd.padBelow, fwd.padAbove = padBelow, padAbove
	return fwd, nil
}

// resolvedPads returns the paddings of the forward geometry. It fails with
// ErrUnsupportedConfiguration if they depend on spatial dimensions that are not known.
func (g convGeometry) resolvedPads(data, filters shapes.Shape) (padBelow, padAbove shapes.CoordinateDiff, err error) {
	fwd, err := g.forwardShape(data, filters)
	if err != nil {
		return nil, nil, err
	}
	if !fwd.padsResolved {
		return nil, nil, graph.Unsupportedf("pad type %s can't be resolved over data %s and window %s",
			g.padType, data, filters)
	}
	return fwd.padBelow, fwd.padAbove, nil
}

// checkDelta verifies that the delta of a backprop convolution matches the forward output.
func (g convGeometry) checkDelta(data, filters, delta shapes.Shape) error {
	fwd, err := g.forwardShape(data, filters)
	if err != nil {
		return err
	}
	if forward := fwd.shape; !forward.Compatible(delta) {
		return graph.TypeInferenceErrorf("convolution delta shape %s doesn't match the forward output shape %s (data %s, filters %s)",
			delta, forward, data, filters)
	}
	return nil
}

// attributes returns the common attributes of the forward geometry for serialization.
func (g convGeometry) attributes(prefix string) map[string]any {
	return map[string]any{
		prefix + "strides":        []int(g.strides),
		prefix + "dilations":      []int(g.dilations),
		prefix + "padding_below":  []int(g.padBelow),
		prefix + "padding_above":  []int(g.padAbove),
		prefix + "data_dilations": []int(g.dataDilations),
		prefix + "pad_type":       g.padType.String(),
	}
}

// Convolution is the opset 0 convolution.
type Convolution struct {
	WindowMovementStrides shapes.Strides
	WindowDilationStrides shapes.Strides
	PaddingBelow          shapes.CoordinateDiff
	PaddingAbove          shapes.CoordinateDiff
	DataDilationStrides   shapes.Strides
	PadType               PadType
}

// NewConvolution creates an opset 0 Convolution. Nil dilations and data dilations default to
// ones.
func NewConvolution(data, filters graph.Output, strides, dilations shapes.Strides,
	paddingBelow, paddingAbove shapes.CoordinateDiff, dataDilations shapes.Strides, padType PadType) (*graph.Node, error) {
	if dilations == nil {
		dilations = shapes.Ones(len(strides))
	}
	if dataDilations == nil {
		dataDilations = shapes.Ones(len(strides))
	}
	return graph.NewNode(&Convolution{
		WindowMovementStrides: strides,
		WindowDilationStrides: dilations,
		PaddingBelow:          paddingBelow,
		PaddingAbove:          paddingAbove,
		DataDilationStrides:   dataDilations,
		PadType:               padType,
	}, data, filters)
}

func (c *Convolution) geometry() convGeometry {
	return convGeometry{
		strides: c.WindowMovementStrides, dilations: c.WindowDilationStrides, dataDilations: c.DataDilationStrides,
		padBelow: c.PaddingBelow, padAbove: c.PaddingAbove, padType: c.PadType,
	}
}

// TypeInfo implements graph.Op.
func (c *Convolution) TypeInfo() graph.TypeInfo { return graph.TypeInfo{Name: "Convolution", Version: 0} }

// ValidateAndInferTypes implements graph.Op.
func (c *Convolution) ValidateAndInferTypes(n *graph.Node) error {
	return inferConvolution(n, c.geometry())
}

func inferConvolution(n *graph.Node, g convGeometry) error {
	if err := checkInputs(n, 2); err != nil {
		return err
	}
	et, err := mergeElementTypes(n, 0, 1)
	if err != nil {
		return err
	}
	fwd, err := g.forwardShape(n.Input(0).Shape(), n.Input(1).Shape())
	if err != nil {
		return err
	}
	n.SetOutputType(0, et, fwd.shape)
	return nil
}

// CopyWithNewArgs implements graph.Op.
func (c *Convolution) CopyWithNewArgs(args []graph.Output) (*graph.Node, error) {
	clone := *c
	return graph.NewNode(&clone, args...)
}

// Attributes implements graph.AttributesProvider.
func (c *Convolution) Attributes() map[string]any {
	return map[string]any{
		"window_movement_strides": []int(c.WindowMovementStrides),
		"window_dilation_strides": []int(c.WindowDilationStrides),
		"padding_below":           []int(c.PaddingBelow),
		"padding_above":           []int(c.PaddingAbove),
		"data_dilation_strides":   []int(c.DataDilationStrides),
		"pad_type":                c.PadType.String(),
	}
}

// GenerateAdjoints implements graph.Differentiable, with ConvolutionBackpropData and
// ConvolutionBackpropFilters. Data and filters shapes must be static.
func (c *Convolution) GenerateAdjoints(n *graph.Node, adjoints graph.AdjointSink, deltas []graph.Output) error {
	data, filters, delta := n.Input(0), n.Input(1), deltas[0]
	dataShape, err := staticShape(data, "autodiff of Convolution")
	if err != nil {
		return err
	}
	filtersShape, err := staticShape(filters, "autodiff of Convolution")
	if err != nil {
		return err
	}
	g := c.geometry()
	g.padBelow, g.padAbove, err = g.resolvedPads(dataShape, filtersShape)
	if err != nil {
		return err
	}
	return catch(func() {
		addDelta(adjoints, data, mustOut(graph.NewNode(&ConvolutionBackpropData{
			DataBatchShape: dataShape, geometryForward: g.forwardAttributes()}, filters, delta)))
		addDelta(adjoints, filters, mustOut(graph.NewNode(&ConvolutionBackpropFilters{
			FiltersShape: filtersShape, geometryForward: g.forwardAttributes()}, data, delta)))
	})
}

// geometryForward holds the attributes of the forward convolution of the opset 0 backprop ops.
type geometryForward struct {
	WindowMovementStridesForward shapes.Strides
	WindowDilationStridesForward shapes.Strides
	PaddingBelowForward          shapes.CoordinateDiff
	PaddingAboveForward          shapes.CoordinateDiff
	DataDilationStridesForward   shapes.Strides
}

func (g convGeometry) forwardAttributes() geometryForward {
	return geometryForward{
		WindowMovementStridesForward: g.strides,
		WindowDilationStridesForward: g.dilations,
		PaddingBelowForward:          g.padBelow,
		PaddingAboveForward:          g.padAbove,
		DataDilationStridesForward:   g.dataDilations,
	}
}

func (f geometryForward) geometry() convGeometry {
	return convGeometry{
		strides: f.WindowMovementStridesForward, dilations: f.WindowDilationStridesForward,
		dataDilations: f.DataDilationStridesForward, padBelow: f.PaddingBelowForward, padAbove: f.PaddingAboveForward,
	}
}

// ConvolutionBackpropData is the opset 0 gradient of a convolution with respect to its data.
// Inputs are (filters, delta), and the data batch shape is an attribute.
type ConvolutionBackpropData struct {
	DataBatchShape shapes.Shape
	geometryForward
}

// NewConvolutionBackpropData creates an opset 0 ConvolutionBackpropData.
// Nil dilations and data dilations default to ones.
func NewConvolutionBackpropData(dataBatchShape shapes.Shape, filters, delta graph.Output,
	stridesForward, dilationsForward shapes.Strides, paddingBelowForward, paddingAboveForward shapes.CoordinateDiff,
	dataDilationsForward shapes.Strides) (*graph.Node, error) {
	if dilationsForward == nil {
		dilationsForward = shapes.Ones(len(stridesForward))
	}
	if dataDilationsForward == nil {
		dataDilationsForward = shapes.Ones(len(stridesForward))
	}
	return graph.NewNode(&ConvolutionBackpropData{
		DataBatchShape: dataBatchShape.Clone(),
		geometryForward: geometryForward{
			WindowMovementStridesForward: stridesForward,
			WindowDilationStridesForward: dilationsForward,
			PaddingBelowForward:          paddingBelowForward,
			PaddingAboveForward:          paddingAboveForward,
			DataDilationStridesForward:   dataDilationsForward,
		},
	}, filters, delta)
}

// TypeInfo implements graph.Op.
func (c *ConvolutionBackpropData) TypeInfo() graph.TypeInfo {
	return graph.TypeInfo{Name: "ConvolutionBackpropData", Version: 0}
}

// ValidateAndInferTypes implements graph.Op.
func (c *ConvolutionBackpropData) ValidateAndInferTypes(n *graph.Node) error {
	if err := checkInputs(n, 2); err != nil {
		return err
	}
	if !c.DataBatchShape.IsStatic() {
		return graph.InvalidArgumentf("ConvolutionBackpropData requires a static data batch shape, got %s", c.DataBatchShape)
	}
	et, err := mergeElementTypes(n, 0, 1)
	if err != nil {
		return err
	}
	if err := c.geometry().checkDelta(c.DataBatchShape, n.Input(0).Shape(), n.Input(1).Shape()); err != nil {
		return errors.WithMessage(err, "ConvolutionBackpropData")
	}
	n.SetOutputType(0, et, c.DataBatchShape)
	return nil
}

// CopyWithNewArgs implements graph.Op.
func (c *ConvolutionBackpropData) CopyWithNewArgs(args []graph.Output) (*graph.Node, error) {
	clone := *c
	return graph.NewNode(&clone, args...)
}

// Attributes implements graph.AttributesProvider.
func (c *ConvolutionBackpropData) Attributes() map[string]any {
	attrs := c.geometry().attributes("forward_")
	delete(attrs, "forward_pad_type")
	attrs["data_batch_shape"] = c.DataBatchShape.Dimensions
	return attrs
}

// ConvolutionBackpropFilters is the opset 0 gradient of a convolution with respect to its
// filters. Inputs are (data, delta), and the filters shape is an attribute.
type ConvolutionBackpropFilters struct {
	FiltersShape shapes.Shape
	geometryForward
}

// NewConvolutionBackpropFilters creates an opset 0 ConvolutionBackpropFilters.
// Nil dilations and data dilations default to ones.
func NewConvolutionBackpropFilters(data graph.Output, filtersShape shapes.Shape, delta graph.Output,
	stridesForward, dilationsForward shapes.Strides, paddingBelowForward, paddingAboveForward shapes.CoordinateDiff,
	dataDilationsForward shapes.Strides) (*graph.Node, error) {
	if dilationsForward == nil {
		dilationsForward = shapes.Ones(len(stridesForward))
	}
	if dataDilationsForward == nil {
		dataDilationsForward = shapes.Ones(len(stridesForward))
	}
	return graph.NewNode(&ConvolutionBackpropFilters{
		FiltersShape: filtersShape.Clone(),
		geometryForward: geometryForward{
			WindowMovementStridesForward: stridesForward,
			WindowDilationStridesForward: dilationsForward,
			PaddingBelowForward:          paddingBelowForward,
			PaddingAboveForward:          paddingAboveForward,
			DataDilationStridesForward:   dataDilationsForward,
		},
	}, data, delta)
}

// TypeInfo implements graph.Op.
func (c *ConvolutionBackpropFilters) TypeInfo() graph.TypeInfo {
	return graph.TypeInfo{Name: "ConvolutionBackpropFilters", Version: 0}
}

// ValidateAndInferTypes implements graph.Op.
func (c *ConvolutionBackpropFilters) ValidateAndInferTypes(n *graph.Node) error {
	if err := checkInputs(n, 2); err != nil {
		return err
	}
	if !c.FiltersShape.IsStatic() {
		return graph.InvalidArgumentf("ConvolutionBackpropFilters requires a static filters shape, got %s", c.FiltersShape)
	}
	et, err := mergeElementTypes(n, 0, 1)
	if err != nil {
		return err
	}
	if err := c.geometry().checkDelta(n.Input(0).Shape(), c.FiltersShape, n.Input(1).Shape()); err != nil {
		return errors.WithMessage(err, "ConvolutionBackpropFilters")
	}
	n.SetOutputType(0, et, c.FiltersShape)
	return nil
}

// CopyWithNewArgs implements graph.Op.
func (c *ConvolutionBackpropFilters) CopyWithNewArgs(args []graph.Output) (*graph.Node, error) {
	clone := *c
	return graph.NewNode(&clone, args...)
}

// Attributes implements graph.AttributesProvider.
func (c *ConvolutionBackpropFilters) Attributes() map[string]any {
	attrs := c.geometry().attributes("forward_")
	delete(attrs, "forward_pad_type")
	attrs["filters_shape"] = c.FiltersShape.Dimensions
	return attrs
}
