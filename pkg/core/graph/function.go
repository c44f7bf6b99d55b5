// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package graph

import (
	"slices"
	"time"

	"github.com/gomlx/opsetgraph/pkg/support/sets"
	"github.com/gomlx/opsetgraph/pkg/support/xslices"
	"github.com/google/uuid"
	"github.com/pkg/errors"
	"k8s.io/klog/v2"
)

// Function is the root of a graph: an ordered list of Result nodes and an ordered list of
// Parameter nodes. The nodes reachable from the results (and the parameters) form its live
// subgraph.
//
// A node belongs to at most one Function: Validate claims every live node, and fails if a node is
// already claimed by another Function. Use Clone to process the same graph independently.
type Function struct {
	name       string
	id         uuid.UUID
	results    []*Node
	parameters []*Node
}

// NewFunction creates a Function with the given Result and Parameter nodes, and validates it.
func NewFunction(name string, results []*Node, parameters []*Node) (*Function, error) {
	for _, r := range results {
		if r == nil || !IsResult(r) {
			return nil, InvalidArgumentf("NewFunction(%q): results must be Result nodes, got %v", name, r)
		}
	}
	for _, p := range parameters {
		if p == nil || !IsParameter(p) {
			return nil, InvalidArgumentf("NewFunction(%q): parameters must be Parameter nodes, got %v", name, p)
		}
	}
	if len(sets.MakeWith(parameters...)) != len(parameters) {
		return nil, InvalidArgumentf("NewFunction(%q): parameter listed more than once", name)
	}
	f := &Function{
		name:       name,
		id:         uuid.New(),
		results:    slices.Clone(results),
		parameters: slices.Clone(parameters),
	}
	if err := f.Validate(); err != nil {
		f.release()
		return nil, err
	}
	return f, nil
}

// NewFunctionFromOutputs creates a Function wrapping each of the outputs in a Result node.
func NewFunctionFromOutputs(name string, outputs []Output, parameters []*Node) (*Function, error) {
	results := make([]*Node, 0, len(outputs))
	for _, output := range outputs {
		r, err := NewResult(output)
		if err != nil {
			return nil, errors.WithMessagef(err, "NewFunctionFromOutputs(%q)", name)
		}
		results = append(results, r)
	}
	return NewFunction(name, results, parameters)
}

// Name of the Function.
func (f *Function) Name() string { return f.name }

// Id returns the unique id of the Function.
func (f *Function) Id() uuid.UUID { return f.id }

// Results returns the Result nodes.
func (f *Function) Results() []*Node { return slices.Clone(f.results) }

// Parameters returns the Parameter nodes.
func (f *Function) Parameters() []*Node { return slices.Clone(f.parameters) }

// ResultOutputs returns the values returned by the Function, that is, the inputs of its Result
// nodes.
func (f *Function) ResultOutputs() []Output {
	return xslices.Map(f.results, func(r *Node) Output { return r.Input(0) })
}

// Nodes returns the live subgraph in topological order.
func (f *Function) Nodes() []*Node {
	roots := make([]*Node, 0, len(f.results)+len(f.parameters))
	roots = append(roots, f.results...)
	roots = append(roots, f.parameters...)
	return TopologicalSort(roots)
}

// Validate re-runs type inference on every live node in topological order, and claims
// newly reachable nodes (e.g. created by a rewrite) for this Function.
//
// It fails if a node belongs to another Function, or if a reachable Parameter is not listed
// among the Function parameters.
func (f *Function) Validate() error {
	start := time.Now()
	listed := sets.MakeWith(f.parameters...)
	nodes := f.Nodes()
	for _, n := range nodes {
		if n.owner != uuid.Nil && n.owner != f.id {
			return InvalidArgumentf("function %q: node %s belongs to another function (clone it first)", f.name, n.Name())
		}
		if IsParameter(n) && !listed.Has(n) {
			return InvalidArgumentf("function %q: reachable parameter %s is not listed in the function parameters",
				f.name, n.Name())
		}
	}
	for _, n := range nodes {
		n.owner = f.id
		if err := n.Validate(); err != nil {
			return errors.WithMessagef(err, "function %q: validating %s", f.name, n.Name())
		}
	}
	if klog.V(1).Enabled() {
		klog.Infof("function %q: validated %d nodes in %s", f.name, len(nodes), time.Since(start))
	}
	return nil
}

// release drops the claim on nodes that were claimed by f.
func (f *Function) release() {
	for _, n := range f.Nodes() {
		if n.owner == f.id {
			n.owner = uuid.Nil
		}
	}
}

// Release drops the Function's claim on its nodes, so they can be used in another Function.
// f must not be used afterwards.
func (f *Function) Release() {
	f.release()
	f.results = nil
	f.parameters = nil
}

// Clone returns a deep copy of the Function: new nodes, with the same ops and names, owned by the
// new Function.
func (f *Function) Clone() (*Function, error) {
	mapping, err := CloneSubgraph(append(f.Results(), f.parameters...))
	if err != nil {
		return nil, errors.WithMessagef(err, "cloning function %q", f.name)
	}
	remap := func(n *Node) *Node { return mapping[n] }
	return NewFunction(f.name, xslices.Map(f.results, remap), xslices.Map(f.parameters, remap))
}
