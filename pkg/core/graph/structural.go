// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package graph

import (
	"github.com/gomlx/opsetgraph/pkg/core/element"
	"github.com/gomlx/opsetgraph/pkg/core/shapes"
)

// Parameter is the op of a Function input. It has no inputs, and its single output has the
// declared element type and shape, which may be dynamic.
type Parameter struct {
	ElementType element.Type
	Shape       shapes.Shape
}

// NewParameter creates a named Parameter node.
func NewParameter(name string, et element.Type, shape shapes.Shape) (*Node, error) {
	n, err := NewNode(&Parameter{ElementType: et, Shape: shape.Clone()})
	if err != nil {
		return nil, err
	}
	if name != "" {
		n.SetName(name)
	}
	return n, nil
}

// TypeInfo implements Op.
func (p *Parameter) TypeInfo() TypeInfo { return TypeInfo{Name: "Parameter", Version: 0} }

// ValidateAndInferTypes implements Op.
func (p *Parameter) ValidateAndInferTypes(n *Node) error {
	if n.NumInputs() != 0 {
		return InvalidArgumentf("Parameter takes no inputs, got %d", n.NumInputs())
	}
	if p.ElementType == element.Undefined || !p.ElementType.IsValid() {
		return InvalidArgumentf("Parameter requires a defined element type, got %s", p.ElementType)
	}
	if err := p.Shape.Validate(); err != nil {
		return InvalidArgumentf("Parameter shape %s: %v", p.Shape, err)
	}
	n.SetOutputType(0, p.ElementType, p.Shape)
	return nil
}

// CopyWithNewArgs implements Op.
func (p *Parameter) CopyWithNewArgs(args []Output) (*Node, error) {
	return NewNode(&Parameter{ElementType: p.ElementType, Shape: p.Shape.Clone()}, args...)
}

// Attributes implements AttributesProvider.
func (p *Parameter) Attributes() map[string]any {
	return map[string]any{"element_type": p.ElementType.String(), "shape": p.Shape.String()}
}

// Result is the op that marks a Function output. It forwards its single input.
type Result struct{}

// NewResult creates a Result node for x.
func NewResult(x Output) (*Node, error) {
	return NewNode(&Result{}, x)
}

// TypeInfo implements Op.
func (Result) TypeInfo() TypeInfo { return TypeInfo{Name: "Result", Version: 0} }

// ValidateAndInferTypes implements Op.
func (Result) ValidateAndInferTypes(n *Node) error {
	if n.NumInputs() != 1 {
		return InvalidArgumentf("Result takes exactly one input, got %d", n.NumInputs())
	}
	n.SetOutputType(0, n.Input(0).ElementType(), n.Input(0).Shape())
	return nil
}

// CopyWithNewArgs implements Op.
func (Result) CopyWithNewArgs(args []Output) (*Node, error) {
	return NewNode(&Result{}, args...)
}

// IsParameter returns whether n is a Parameter node.
func IsParameter(n *Node) bool {
	_, ok := n.Op().(*Parameter)
	return ok
}

// IsResult returns whether n is a Result node.
func IsResult(n *Node) bool {
	_, ok := n.Op().(*Result)
	return ok
}
