// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package ops

import (
	"github.com/gomlx/opsetgraph/pkg/core/element"
	"github.com/gomlx/opsetgraph/pkg/core/graph"
)

// UnaryKind enumerates the elementwise unary ops.
type UnaryKind int

const (
	KindNegative UnaryKind = iota
	KindCeiling
	KindGelu
)

var unaryNames = []string{KindNegative: "Negative", KindCeiling: "Ceiling", KindGelu: "Gelu"}

// String returns the op name of the kind.
func (k UnaryKind) String() string {
	if k < 0 || int(k) >= len(unaryNames) {
		return "InvalidUnary"
	}
	return unaryNames[k]
}

// Unary is the op of the elementwise unary operations. They only exist in opset 0.
type Unary struct {
	Kind UnaryKind
}

// Negative creates a Negative node.
func Negative(x graph.Output) (*graph.Node, error) { return graph.NewNode(&Unary{Kind: KindNegative}, x) }

// Ceiling creates a Ceiling node.
func Ceiling(x graph.Output) (*graph.Node, error) { return graph.NewNode(&Unary{Kind: KindCeiling}, x) }

// Gelu creates a Gelu (Gaussian error linear unit) node.
func Gelu(x graph.Output) (*graph.Node, error) { return graph.NewNode(&Unary{Kind: KindGelu}, x) }

// TypeInfo implements graph.Op.
func (u *Unary) TypeInfo() graph.TypeInfo { return graph.TypeInfo{Name: u.Kind.String(), Version: 0} }

// ValidateAndInferTypes implements graph.Op.
func (u *Unary) ValidateAndInferTypes(n *graph.Node) error {
	if err := checkInputs(n, 1); err != nil {
		return err
	}
	x := n.Input(0)
	et := x.ElementType()
	if et == element.Boolean {
		return graph.InvalidArgumentf("%s is not defined for boolean operands", u.Kind)
	}
	if (u.Kind == KindCeiling || u.Kind == KindGelu) && et.IsStatic() && !et.IsReal() {
		return graph.InvalidArgumentf("%s requires a floating point operand, got %s", u.Kind, et)
	}
	n.SetOutputType(0, et, x.Shape())
	return nil
}

// CopyWithNewArgs implements graph.Op.
func (u *Unary) CopyWithNewArgs(args []graph.Output) (*graph.Node, error) {
	return graph.NewNode(&Unary{Kind: u.Kind}, args...)
}

// GenerateAdjoints implements graph.Differentiable.
func (u *Unary) GenerateAdjoints(n *graph.Node, adjoints graph.AdjointSink, deltas []graph.Output) error {
	x, delta := n.Input(0), deltas[0]
	return catch(func() {
		switch u.Kind {
		case KindNegative:
			addDelta(adjoints, x, mustOut(Negative(delta)))
		case KindCeiling:
			// Piecewise constant: zero gradient almost everywhere.
			addDelta(adjoints, x, mustOut(ZerosLike(x)))
		case KindGelu:
			addDelta(adjoints, x, mustOut(NewGeluBackprop(x, delta)))
		}
	})
}

// GeluBackprop computes the gradient of Gelu at x, multiplied by delta.
type GeluBackprop struct{}

// NewGeluBackprop creates a GeluBackprop node.
func NewGeluBackprop(x, delta graph.Output) (*graph.Node, error) {
	return graph.NewNode(&GeluBackprop{}, x, delta)
}

// TypeInfo implements graph.Op.
func (*GeluBackprop) TypeInfo() graph.TypeInfo { return graph.TypeInfo{Name: "GeluBackprop", Version: 0} }

// ValidateAndInferTypes implements graph.Op.
func (*GeluBackprop) ValidateAndInferTypes(n *graph.Node) error {
	if err := checkInputs(n, 2); err != nil {
		return err
	}
	et, err := mergeElementTypes(n, 0, 1)
	if err != nil {
		return err
	}
	if !n.Input(0).Shape().Compatible(n.Input(1).Shape()) {
		return graph.TypeInferenceErrorf("GeluBackprop: delta shape %s doesn't match argument shape %s",
			n.Input(1).Shape(), n.Input(0).Shape())
	}
	n.SetOutputType(0, et, n.Input(0).Shape())
	return nil
}

// CopyWithNewArgs implements graph.Op.
func (*GeluBackprop) CopyWithNewArgs(args []graph.Output) (*graph.Node, error) {
	return graph.NewNode(&GeluBackprop{}, args...)
}

// ConvertOp converts the element type of its operand.
type ConvertOp struct {
	Destination element.Type
}

// Convert creates a node converting x to the element type et.
func Convert(x graph.Output, et element.Type) (*graph.Node, error) {
	return graph.NewNode(&ConvertOp{Destination: et}, x)
}

// TypeInfo implements graph.Op.
func (*ConvertOp) TypeInfo() graph.TypeInfo { return graph.TypeInfo{Name: "Convert", Version: 0} }

// ValidateAndInferTypes implements graph.Op.
func (c *ConvertOp) ValidateAndInferTypes(n *graph.Node) error {
	if err := checkInputs(n, 1); err != nil {
		return err
	}
	if c.Destination == element.Undefined || !c.Destination.IsValid() {
		return graph.InvalidArgumentf("Convert requires a destination element type, got %s", c.Destination)
	}
	n.SetOutputType(0, c.Destination, n.Input(0).Shape())
	return nil
}

// CopyWithNewArgs implements graph.Op.
func (c *ConvertOp) CopyWithNewArgs(args []graph.Output) (*graph.Node, error) {
	return graph.NewNode(&ConvertOp{Destination: c.Destination}, args...)
}

// Attributes implements graph.AttributesProvider.
func (c *ConvertOp) Attributes() map[string]any {
	return map[string]any{"destination_type": c.Destination.String()}
}

// GenerateAdjoints implements graph.Differentiable.
func (c *ConvertOp) GenerateAdjoints(n *graph.Node, adjoints graph.AdjointSink, deltas []graph.Output) error {
	x := n.Input(0)
	if !x.ElementType().IsReal() {
		return graph.Unsupportedf("autodiff of Convert from non-floating point %s", x.ElementType())
	}
	return catch(func() {
		addDelta(adjoints, x, mustOut(Convert(deltas[0], x.ElementType())))
	})
}
