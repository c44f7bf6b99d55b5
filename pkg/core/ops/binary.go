// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package ops

import (
	"github.com/gomlx/opsetgraph/pkg/core/element"
	"github.com/gomlx/opsetgraph/pkg/core/graph"
	"github.com/gomlx/opsetgraph/pkg/core/shapes"
	"github.com/pkg/errors"
)

// AutoBroadcast selects the implicit broadcasting rule of elementwise binary ops.
type AutoBroadcast int

const (
	// BroadcastNone requires both operands to have the same shape.
	BroadcastNone AutoBroadcast = iota

	// BroadcastNumpy applies NumPy broadcasting rules.
	BroadcastNumpy
)

var autoBroadcastNames = []string{BroadcastNone: "none", BroadcastNumpy: "numpy"}

// String implements fmt.Stringer.
func (ab AutoBroadcast) String() string {
	if ab < 0 || int(ab) >= len(autoBroadcastNames) {
		return "invalid"
	}
	return autoBroadcastNames[ab]
}

// DefaultAutoBroadcast returns the default auto-broadcast rule of elementwise binary ops for the
// opset version: none in opset 0, numpy from opset 1.
func DefaultAutoBroadcast(version uint64) AutoBroadcast {
	if version == 0 {
		return BroadcastNone
	}
	return BroadcastNumpy
}

// BinaryKind enumerates the elementwise binary ops.
type BinaryKind int

const (
	KindAdd BinaryKind = iota
	KindSubtract
	KindMultiply
	KindDivide
	KindMaximum
	KindMinimum
	KindLess
	KindGreater
	KindEqual
)

var binaryNames = []string{
	KindAdd:      "Add",
	KindSubtract: "Subtract",
	KindMultiply: "Multiply",
	KindDivide:   "Divide",
	KindMaximum:  "Maximum",
	KindMinimum:  "Minimum",
	KindLess:     "Less",
	KindGreater:  "Greater",
	KindEqual:    "Equal",
}

// String returns the op name of the kind.
func (k BinaryKind) String() string {
	if k < 0 || int(k) >= len(binaryNames) {
		return "InvalidBinary"
	}
	return binaryNames[k]
}

// IsComparison returns whether the kind produces a boolean output.
func (k BinaryKind) IsComparison() bool {
	return k == KindLess || k == KindGreater || k == KindEqual
}

// BinaryKinds lists all elementwise binary kinds.
var BinaryKinds = []BinaryKind{KindAdd, KindSubtract, KindMultiply, KindDivide, KindMaximum, KindMinimum,
	KindLess, KindGreater, KindEqual}

// Binary is the op of all elementwise binary operations, in opset versions 0 and 1.
// The two versions differ only on their default AutoBroadcast.
type Binary struct {
	Kind          BinaryKind
	OpVersion     uint64
	AutoBroadcast AutoBroadcast
}

// NewBinary creates an elementwise binary node.
func NewBinary(kind BinaryKind, version uint64, x, y graph.Output, autoBroadcast AutoBroadcast) (*graph.Node, error) {
	return graph.NewNode(&Binary{Kind: kind, OpVersion: version, AutoBroadcast: autoBroadcast}, x, y)
}

// Add creates an opset 0 Add without broadcasting. The other shortcuts below do the same for
// their kind.
func Add(x, y graph.Output) (*graph.Node, error) { return NewBinary(KindAdd, 0, x, y, BroadcastNone) }

func Subtract(x, y graph.Output) (*graph.Node, error) {
	return NewBinary(KindSubtract, 0, x, y, BroadcastNone)
}

func Multiply(x, y graph.Output) (*graph.Node, error) {
	return NewBinary(KindMultiply, 0, x, y, BroadcastNone)
}

func Divide(x, y graph.Output) (*graph.Node, error) {
	return NewBinary(KindDivide, 0, x, y, BroadcastNone)
}

func Maximum(x, y graph.Output) (*graph.Node, error) {
	return NewBinary(KindMaximum, 0, x, y, BroadcastNone)
}

func Minimum(x, y graph.Output) (*graph.Node, error) {
	return NewBinary(KindMinimum, 0, x, y, BroadcastNone)
}

func Less(x, y graph.Output) (*graph.Node, error) { return NewBinary(KindLess, 0, x, y, BroadcastNone) }

func Greater(x, y graph.Output) (*graph.Node, error) {
	return NewBinary(KindGreater, 0, x, y, BroadcastNone)
}

func Equal(x, y graph.Output) (*graph.Node, error) { return NewBinary(KindEqual, 0, x, y, BroadcastNone) }

// TypeInfo implements graph.Op.
func (b *Binary) TypeInfo() graph.TypeInfo {
	return graph.TypeInfo{Name: b.Kind.String(), Version: b.OpVersion}
}

// ValidateAndInferTypes implements graph.Op.
func (b *Binary) ValidateAndInferTypes(n *graph.Node) error {
	if err := checkInputs(n, 2); err != nil {
		return err
	}
	et, err := mergeElementTypes(n, 0, 1)
	if err != nil {
		return err
	}
	if !b.Kind.IsComparison() && et == element.Boolean {
		return graph.InvalidArgumentf("%s: arithmetic is not defined for boolean operands", b.Kind)
	}
	shape, err := b.outputShape(n.Input(0).Shape(), n.Input(1).Shape())
	if err != nil {
		return err
	}
	if b.Kind.IsComparison() {
		et = element.Boolean
	}
	n.SetOutputType(0, et, shape)
	return nil
}

func (b *Binary) outputShape(x, y shapes.Shape) (shapes.Shape, error) {
	switch b.AutoBroadcast {
	case BroadcastNone:
		merged, ok := shapes.Merge(x, y)
		if !ok {
			return merged, graph.TypeInferenceErrorf("%s without broadcasting requires equal shapes, got %s and %s",
				b.Kind, x, y)
		}
		return merged, nil
	case BroadcastNumpy:
		shape, err := shapes.BroadcastNumpy(x, y)
		if err != nil {
			return shape, errors.Wrapf(graph.ErrTypeInference, "%s: %v", b.Kind, err)
		}
		return shape, nil
	default:
		return shapes.Shape{}, graph.InvalidArgumentf("%s: unknown auto-broadcast %d", b.Kind, b.AutoBroadcast)
	}
}

// CopyWithNewArgs implements graph.Op.
func (b *Binary) CopyWithNewArgs(args []graph.Output) (*graph.Node, error) {
	clone := *b
	return graph.NewNode(&clone, args...)
}

// Attributes implements graph.AttributesProvider.
func (b *Binary) Attributes() map[string]any {
	return map[string]any{"auto_broadcast": b.AutoBroadcast.String()}
}

// GenerateAdjoints implements graph.Differentiable. The closed-form derivatives assume no
// broadcasting: differentiating under auto-broadcasting fails with ErrUnsupportedConfiguration.
func (b *Binary) GenerateAdjoints(n *graph.Node, adjoints graph.AdjointSink, deltas []graph.Output) error {
	if b.Kind.IsComparison() {
		return graph.Unsupportedf("%s is not differentiable", b.Kind)
	}
	if b.AutoBroadcast != BroadcastNone {
		return graph.Unsupportedf("autodiff of %s not supported with auto broadcasting (%s)", n.TypeInfo(), b.AutoBroadcast)
	}
	x, y, delta := n.Input(0), n.Input(1), deltas[0]
	// Adjoint ops are built with the version of n.
	op := func(kind BinaryKind, lhs, rhs graph.Output) graph.Output {
		return mustOut(NewBinary(kind, b.OpVersion, lhs, rhs, BroadcastNone))
	}
	return catch(func() {
		switch b.Kind {
		case KindAdd:
			addDelta(adjoints, x, delta)
			addDelta(adjoints, y, delta)
		case KindSubtract:
			addDelta(adjoints, x, delta)
			addDelta(adjoints, y, mustOut(Negative(delta)))
		case KindMultiply:
			addDelta(adjoints, x, op(KindMultiply, delta, y))
			addDelta(adjoints, y, op(KindMultiply, x, delta))
		case KindDivide:
			// d(x/y)/dy = -(x/y)/y
			addDelta(adjoints, x, op(KindDivide, delta, y))
			addDelta(adjoints, y, op(KindDivide, op(KindMultiply, mustOut(Negative(delta)), n.Output(0)), y))
		case KindMaximum:
			addDelta(adjoints, x, op(KindMultiply, delta, mustOut(Convert(op(KindGreater, x, y), x.ElementType()))))
			addDelta(adjoints, y, op(KindMultiply, delta, mustOut(Convert(op(KindGreater, y, x), y.ElementType()))))
		case KindMinimum:
			addDelta(adjoints, x, op(KindMultiply, delta, mustOut(Convert(op(KindLess, x, y), x.ElementType()))))
			addDelta(adjoints, y, op(KindMultiply, delta, mustOut(Convert(op(KindLess, y, x), y.ElementType()))))
		}
	})
}
