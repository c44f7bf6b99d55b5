// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package graph

import (
	"fmt"
	"slices"
	"strings"
	"sync/atomic"

	"github.com/dustin/go-humanize"
	"github.com/gomlx/exceptions"
	"github.com/gomlx/opsetgraph/pkg/core/element"
	"github.com/gomlx/opsetgraph/pkg/core/shapes"
	"github.com/gomlx/opsetgraph/pkg/support/xslices"
	"github.com/google/uuid"
	"github.com/pkg/errors"
	"k8s.io/klog/v2"
)

// NodeId is a process-unique identifier of a Node.
type NodeId uint64

var nodeIdCounter atomic.Uint64

// Output refers to one of the values produced by a node: it is the graph's edge representation.
// The producer node is referenced, not owned: an Output commonly feeds many consumers.
type Output struct {
	Node  *Node
	Index int
}

// ElementType of the value produced by the output.
func (o Output) ElementType() element.Type { return o.Node.OutputElementType(o.Index) }

// Shape of the value produced by the output.
func (o Output) Shape() shapes.Shape { return o.Node.OutputShape(o.Index) }

// String implements fmt.Stringer, e.g. "Add_7:0".
func (o Output) String() string {
	if o.Node == nil {
		return "<nil>"
	}
	return fmt.Sprintf("%s:%d", o.Node.Name(), o.Index)
}

// NodeVector is a list of outputs, typically the values produced by translating one foreign
// operator.
type NodeVector []Output

// Input refers to one input slot of a consumer node. It is the back-reference from a producer
// output to its consumers.
type Input struct {
	Node  *Node
	Index int
}

type outputSlot struct {
	elementType element.Type
	shape       shapes.Shape
	users       []Input
}

// Node is an operator instance in the graph.
//
// Nodes are created with NewNode, which runs type inference immediately: a node whose inference
// fails is never connected to its producers. A node's identity is its pointer (and Id): two
// structurally identical nodes are different vertices.
//
// Nodes are not safe for concurrent mutation. A finalized graph can be read concurrently.
type Node struct {
	id      NodeId
	name    string
	op      Op
	inputs  []Output
	outputs []outputSlot

	// owner is the id of the Function that claimed this node, if any.
	owner uuid.UUID

	// pending holds the output types set during inference, committed only on success.
	pending   []outputSlot
	inferring bool
}

// NewNode creates a node for op with the given inputs and runs its type inference.
//
// It returns an error if any input is invalid or if inference fails, in which case no node is
// connected to the graph.
func NewNode(op Op, args ...Output) (*Node, error) {
	if op == nil {
		return nil, InvalidArgumentf("NewNode: nil op")
	}
	for ii, arg := range args {
		if arg.Node == nil {
			return nil, InvalidArgumentf("%s: input #%d is nil", op.TypeInfo(), ii)
		}
		if arg.Index < 0 || arg.Index >= arg.Node.NumOutputs() {
			return nil, InvalidArgumentf("%s: input #%d refers to output %d of %s, which has %d outputs",
				op.TypeInfo(), ii, arg.Index, arg.Node.Name(), arg.Node.NumOutputs())
		}
	}
	n := &Node{
		id:     NodeId(nodeIdCounter.Add(1)),
		op:     op,
		inputs: slices.Clone(args),
	}
	if err := n.infer(op); err != nil {
		return nil, err
	}
	n.connect()
	if klog.V(2).Enabled() {
		klog.Infof("created %s", n)
	}
	return n, nil
}

// infer runs op's inference on n, and commits the output types only if it succeeds.
// On failure, the outputs are left untouched.
func (n *Node) infer(op Op) (err error) {
	n.pending = nil
	n.inferring = true
	caught := exceptions.TryCatch[error](func() { err = op.ValidateAndInferTypes(n) })
	n.inferring = false
	pending := n.pending
	n.pending = nil
	if caught != nil {
		err = caught
	}
	if err != nil {
		return errors.WithMessagef(err, "%s", op.TypeInfo())
	}
	if len(pending) == 0 {
		return TypeInferenceErrorf("%s: inference set no outputs", op.TypeInfo())
	}
	for ii, slot := range pending {
		if slot.elementType == element.Undefined {
			return TypeInferenceErrorf("%s: output #%d left with undefined element type", op.TypeInfo(), ii)
		}
	}
	if n.outputs == nil {
		n.outputs = pending
		return nil
	}

	// Re-validation: arity and static ranks must be preserved.
	if len(pending) != len(n.outputs) {
		return TypeInferenceErrorf("%s: number of outputs changed from %d to %d on re-validation of %s",
			op.TypeInfo(), len(n.outputs), len(pending), n.Name())
	}
	for ii, slot := range pending {
		oldRank, newRank := n.outputs[ii].shape.Rank(), slot.shape.Rank()
		if oldRank >= 0 && newRank >= 0 && oldRank != newRank {
			return TypeInferenceErrorf("%s: rank of output #%d of %s changed from %d to %d",
				op.TypeInfo(), ii, n.Name(), oldRank, newRank)
		}
	}
	for ii, slot := range pending {
		n.outputs[ii].elementType = slot.elementType
		n.outputs[ii].shape = slot.shape
	}
	return nil
}

// SetOutputType sets the element type and shape of output i. It must only be called from
// within Op.ValidateAndInferTypes.
func (n *Node) SetOutputType(i int, et element.Type, shape shapes.Shape) {
	if !n.inferring {
		exceptions.Panicf("SetOutputType(%d) called on %s outside of type inference", i, n.Name())
	}
	for len(n.pending) <= i {
		n.pending = append(n.pending, outputSlot{})
	}
	n.pending[i].elementType = et
	n.pending[i].shape = shape.Clone()
}

// connect registers n as a consumer of each of its inputs.
func (n *Node) connect() {
	for ii, in := range n.inputs {
		slot := &in.Node.outputs[in.Index]
		slot.users = append(slot.users, Input{Node: n, Index: ii})
	}
}

// disconnect removes n from the consumers of its inputs.
func (n *Node) disconnect() {
	for _, in := range n.inputs {
		slot := &in.Node.outputs[in.Index]
		slot.users = slices.DeleteFunc(slot.users, func(user Input) bool { return user.Node == n })
	}
}

// Validate re-runs the type inference of the node. It is idempotent for unchanged inputs.
//
// It fails if the inference fails or if it would change the rank of an output that was
// previously known.
func (n *Node) Validate() error {
	if klog.V(2).Enabled() {
		klog.Infof("validating %s", n.Name())
	}
	return n.infer(n.op)
}

// SetOp replaces the op (and hence the attributes) of the node, and re-runs inference.
// The new op must be of the same kind and version. If inference fails, the node is left unchanged.
func (n *Node) SetOp(op Op) error {
	if op == nil || op.TypeInfo() != n.op.TypeInfo() {
		return InvalidArgumentf("SetOp on %s: op kind can't change (use a replacement node instead)", n.Name())
	}
	previous := n.op
	n.op = op
	if err := n.infer(op); err != nil {
		n.op = previous
		return err
	}
	return nil
}

// Id returns the process-unique id of the node.
func (n *Node) Id() NodeId { return n.id }

// Name returns the friendly name of the node: the one set with SetName, or "<OpName>_<Id>".
func (n *Node) Name() string {
	if n.name != "" {
		return n.name
	}
	return fmt.Sprintf("%s_%d", n.op.TypeInfo().Name, n.id)
}

// SetName sets the friendly name of the node.
func (n *Node) SetName(name string) { n.name = name }

// Description returns the op name.
func (n *Node) Description() string { return n.op.TypeInfo().Name }

// Version returns the opset version of the op.
func (n *Node) Version() uint64 { return n.op.TypeInfo().Version }

// TypeInfo returns the kind and version of the op.
func (n *Node) TypeInfo() TypeInfo { return n.op.TypeInfo() }

// Op returns the op of the node. Use a type assertion to access the op attributes.
func (n *Node) Op() Op { return n.op }

// NumInputs returns the number of inputs.
func (n *Node) NumInputs() int { return len(n.inputs) }

// Input returns the i-th input.
func (n *Node) Input(i int) Output { return n.inputs[i] }

// Inputs returns a copy of the inputs.
func (n *Node) Inputs() []Output { return slices.Clone(n.inputs) }

// NumOutputs returns the number of outputs.
func (n *Node) NumOutputs() int { return len(n.outputs) }

// Output returns a reference to the i-th output.
func (n *Node) Output(i int) Output { return Output{Node: n, Index: i} }

// Outputs returns references to all outputs.
func (n *Node) Outputs() []Output {
	return xslices.Map(xslices.Iota(0, len(n.outputs)), n.Output)
}

// OutputElementType returns the element type of the i-th output.
func (n *Node) OutputElementType(i int) element.Type { return n.outputs[i].elementType }

// OutputShape returns the shape of the i-th output.
func (n *Node) OutputShape(i int) shapes.Shape { return n.outputs[i].shape.Clone() }

// Users returns the consumers of the i-th output.
func (n *Node) Users(i int) []Input { return slices.Clone(n.outputs[i].users) }

// NumUsers returns the number of consumer edges of all outputs of n.
func (n *Node) NumUsers() int {
	count := 0
	for _, slot := range n.outputs {
		count += len(slot.users)
	}
	return count
}

// Attributes returns the public attributes of the op, or nil if it doesn't expose any.
func (n *Node) Attributes() map[string]any {
	if provider, ok := n.op.(AttributesProvider); ok {
		return provider.Attributes()
	}
	return nil
}

// String implements fmt.Stringer, with the inputs and the output types.
func (n *Node) String() string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "%s = %s(", n.Name(), n.op.TypeInfo())
	sb.WriteString(strings.Join(xslices.Map(n.inputs, Output.String), ", "))
	sb.WriteString(") -> ")
	for ii, slot := range n.outputs {
		if ii > 0 {
			sb.WriteString(", ")
		}
		fmt.Fprintf(&sb, "%s%s", slot.elementType, slot.shape)
		if memory := slot.shape.Memory(slot.elementType); memory >= 0 {
			fmt.Fprintf(&sb, " (%s)", humanize.Bytes(uint64(memory)))
		}
	}
	return sb.String()
}
