// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package ops

import (
	"github.com/gomlx/opsetgraph/pkg/core/element"
	"github.com/gomlx/opsetgraph/pkg/core/graph"
)

var allReduceNames = []string{ReduceSumKind: "sum", ReduceMaxKind: "max", ReduceMinKind: "min", ReduceProductKind: "prod"}

// AllReduce reduces its operand across all replicas of a distributed computation. The output has
// the type and shape of the operand.
type AllReduce struct {
	ReduceType ReductionKind
}

// NewAllReduce creates an AllReduce node.
func NewAllReduce(x graph.Output, reduceType ReductionKind) (*graph.Node, error) {
	return graph.NewNode(&AllReduce{ReduceType: reduceType}, x)
}

// SetReduceType changes the reduction of the AllReduce node n, and revalidates it.
func SetReduceType(n *graph.Node, reduceType ReductionKind) error {
	if _, ok := n.Op().(*AllReduce); !ok {
		return graph.InvalidArgumentf("SetReduceType called on %s, not an AllReduce", n)
	}
	return n.SetOp(&AllReduce{ReduceType: reduceType})
}

// TypeInfo implements graph.Op.
func (a *AllReduce) TypeInfo() graph.TypeInfo { return graph.TypeInfo{Name: "AllReduce", Version: 0} }

// ValidateAndInferTypes implements graph.Op.
func (a *AllReduce) ValidateAndInferTypes(n *graph.Node) error {
	if err := checkInputs(n, 1); err != nil {
		return err
	}
	if a.ReduceType < 0 || int(a.ReduceType) >= len(allReduceNames) {
		return graph.InvalidArgumentf("AllReduce with invalid reduce type %d", a.ReduceType)
	}
	x := n.Input(0)
	if x.ElementType() == element.Boolean && (a.ReduceType == ReduceSumKind || a.ReduceType == ReduceProductKind) {
		return graph.InvalidArgumentf("AllReduce(%s) is not defined for boolean operands", allReduceNames[a.ReduceType])
	}
	n.SetOutputType(0, x.ElementType(), x.Shape())
	return nil
}

// CopyWithNewArgs implements graph.Op.
func (a *AllReduce) CopyWithNewArgs(args []graph.Output) (*graph.Node, error) {
	return graph.NewNode(&AllReduce{ReduceType: a.ReduceType}, args...)
}

// Attributes implements graph.AttributesProvider.
func (a *AllReduce) Attributes() map[string]any {
	name := "invalid"
	if a.ReduceType >= 0 && int(a.ReduceType) < len(allReduceNames) {
		name = allReduceNames[a.ReduceType]
	}
	return map[string]any{"reduce_type": name}
}

// GenerateAdjoints implements graph.Differentiable. Only the sum all-reduce is differentiable: the
// gradient is itself summed across replicas.
func (a *AllReduce) GenerateAdjoints(n *graph.Node, adjoints graph.AdjointSink, deltas []graph.Output) error {
	if a.ReduceType != ReduceSumKind {
		return graph.Unsupportedf("autodiff of AllReduce(%s)", allReduceNames[a.ReduceType])
	}
	return catch(func() {
		addDelta(adjoints, n.Input(0), mustOut(NewAllReduce(deltas[0], ReduceSumKind)))
	})
}
