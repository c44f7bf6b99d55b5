// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package graph

import "fmt"

// TypeInfo identifies an operator kind and the opset version it belongs to.
// It is the key used to match nodes in rewrite passes.
type TypeInfo struct {
	Name    string
	Version uint64
}

// String implements fmt.Stringer, e.g. "Convolution.v1".
func (ti TypeInfo) String() string {
	return fmt.Sprintf("%s.v%d", ti.Name, ti.Version)
}

// Op is the capability every operator kind implements. An Op value holds the operator's
// attributes and is treated as immutable: use Node.SetOp to change the attributes of a node.
type Op interface {
	// TypeInfo returns the operator kind and version.
	TypeInfo() TypeInfo

	// ValidateAndInferTypes checks the node's inputs against the operator's preconditions, and
	// sets the type of each of its outputs with Node.SetOutputType.
	//
	// It must only modify n's outputs, and must return the same result if called again with
	// unchanged inputs.
	ValidateAndInferTypes(n *Node) error

	// CopyWithNewArgs creates a new node with the same kind, version and attributes, but with the
	// given inputs.
	CopyWithNewArgs(args []Output) (*Node, error)
}

// Differentiable is implemented by ops that can generate their adjoints.
type Differentiable interface {
	// GenerateAdjoints is given the final delta for each of n's outputs, and should call
	// adjoints.AddDelta once for each input that receives a gradient contribution.
	GenerateAdjoints(n *Node, adjoints AdjointSink, deltas []Output) error
}

// AdjointSink receives the delta contributions generated by Differentiable ops.
type AdjointSink interface {
	// AddDelta accumulates delta into the running total for x.
	AddDelta(x Output, delta Output) error
}

// AttributesProvider is implemented by ops that expose their attributes to read-only consumers,
// like serializers.
type AttributesProvider interface {
	Attributes() map[string]any
}
