// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package ops

import (
	"fmt"
	"reflect"

	"github.com/gomlx/opsetgraph/pkg/core/element"
	"github.com/gomlx/opsetgraph/pkg/core/graph"
	"github.com/gomlx/opsetgraph/pkg/core/shapes"
	"github.com/gomlx/opsetgraph/pkg/support/xslices"
)

// Constant is a terminal op holding a value known at graph-construction time.
//
// Values are stored as the Go type matching the element type (float32 for F32, int64 for I64,
// float16.Float16 for F16, etc.). A single value with a non-scalar shape is a splat: every
// element has that value.
type Constant struct {
	ElementType element.Type
	Shape       shapes.Shape
	Values      []any
}

// NewConstant creates a Constant node. The shape must be static, and values must have either
// one element (splat) or one element per position of the shape.
func NewConstant(et element.Type, shape shapes.Shape, values []any) (*graph.Node, error) {
	return graph.NewNode(&Constant{ElementType: et, Shape: shape.Clone(), Values: values})
}

// NewSplatConstant creates a Constant with every element set to value, converted to et.
func NewSplatConstant(et element.Type, shape shapes.Shape, value float64) (*graph.Node, error) {
	converted, err := element.ConvertValue(et, value)
	if err != nil {
		return nil, graph.InvalidArgumentf("constant: %v", err)
	}
	return NewConstant(et, shape, []any{converted})
}

// NewScalarConstant creates a scalar Constant with value converted to et.
func NewScalarConstant(et element.Type, value float64) (*graph.Node, error) {
	return NewSplatConstant(et, shapes.Scalar(), value)
}

// NewInt64Constant creates a 1D I64 Constant with the given values, the usual form of shape and
// axes inputs.
func NewInt64Constant(values []int64) (*graph.Node, error) {
	return NewConstant(element.I64, shapes.Make(len(values)), xslices.Map(values, func(v int64) any { return v }))
}

// newIntsConstant is NewInt64Constant for a slice of ints.
func newIntsConstant(values []int) (*graph.Node, error) {
	return NewInt64Constant(xslices.Map(values, func(v int) int64 { return int64(v) }))
}

// TypeInfo implements graph.Op.
func (c *Constant) TypeInfo() graph.TypeInfo { return graph.TypeInfo{Name: "Constant", Version: 0} }

// ValidateAndInferTypes implements graph.Op.
func (c *Constant) ValidateAndInferTypes(n *graph.Node) error {
	if err := checkInputs(n, 0); err != nil {
		return err
	}
	if !c.ElementType.IsStatic() {
		return graph.InvalidArgumentf("Constant requires a static element type, got %s", c.ElementType)
	}
	if err := c.Shape.Validate(); err != nil {
		return graph.InvalidArgumentf("Constant shape %s: %v", c.Shape, err)
	}
	if !c.Shape.IsStatic() {
		return graph.InvalidArgumentf("Constant requires a static shape, got %s", c.Shape)
	}
	if len(c.Values) != 1 && len(c.Values) != c.Shape.Size() {
		return graph.InvalidArgumentf("Constant of shape %s requires 1 (splat) or %d values, got %d",
			c.Shape, c.Shape.Size(), len(c.Values))
	}
	sample, _ := element.ConvertValue(c.ElementType, 0)
	wantType := reflect.TypeOf(sample)
	for ii, v := range c.Values {
		if reflect.TypeOf(v) != wantType {
			return graph.InvalidArgumentf("Constant of %s: value #%d has Go type %T, wanted %s", c.ElementType, ii, v, wantType)
		}
	}
	n.SetOutputType(0, c.ElementType, c.Shape)
	return nil
}

// CopyWithNewArgs implements graph.Op.
func (c *Constant) CopyWithNewArgs(args []graph.Output) (*graph.Node, error) {
	return graph.NewNode(&Constant{ElementType: c.ElementType, Shape: c.Shape.Clone(), Values: c.Values}, args...)
}

// IsSplat returns whether the constant holds a single value for all its elements.
func (c *Constant) IsSplat() bool { return len(c.Values) == 1 }

// Int64s returns the values converted to int64, expanding splats. It fails for non-integer
// element types.
func (c *Constant) Int64s() ([]int64, error) {
	if !c.ElementType.IsInteger() {
		return nil, graph.InvalidArgumentf("Constant of %s can't be read as integers", c.ElementType)
	}
	out := make([]int64, c.Shape.Size())
	for ii := range out {
		v, ok := element.ToInt64(c.value(ii))
		if !ok {
			return nil, graph.InvalidArgumentf("Constant value %v doesn't fit an int64", c.value(ii))
		}
		out[ii] = v
	}
	return out, nil
}

// Float64s returns the values converted to float64, expanding splats.
func (c *Constant) Float64s() []float64 {
	out := make([]float64, c.Shape.Size())
	for ii := range out {
		out[ii], _ = element.ToFloat64(c.value(ii))
	}
	return out
}

func (c *Constant) value(i int) any {
	if c.IsSplat() {
		return c.Values[0]
	}
	return c.Values[i]
}

// maxPrintedValues limits the number of values exposed by Attributes.
const maxPrintedValues = 16

// Attributes implements graph.AttributesProvider.
func (c *Constant) Attributes() map[string]any {
	values := c.Values
	if len(values) > maxPrintedValues {
		values = values[:maxPrintedValues]
	}
	attrs := map[string]any{
		"element_type": c.ElementType.String(),
		"shape":        c.Shape.String(),
		"values":       xslices.Map(values, func(v any) string { return fmt.Sprint(v) }),
	}
	if len(c.Values) > maxPrintedValues {
		attrs["num_values"] = len(c.Values)
	}
	return attrs
}

// AsConstant returns the Constant op producing o, if o is produced by a Constant node.
func AsConstant(o graph.Output) (*Constant, bool) {
	if o.Node == nil {
		return nil, false
	}
	c, ok := o.Node.Op().(*Constant)
	return c, ok
}

// ConstantInts returns the values of a 1D (or scalar) integer Constant producing o, as ints.
// It returns false if o is not produced by such a Constant.
func ConstantInts(o graph.Output) ([]int, bool) {
	c, ok := AsConstant(o)
	if !ok || c.Shape.Rank() > 1 {
		return nil, false
	}
	values, err := c.Int64s()
	if err != nil {
		return nil, false
	}
	return xslices.Map(values, func(v int64) int { return int(v) }), true
}
