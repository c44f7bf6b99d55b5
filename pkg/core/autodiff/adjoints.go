// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package autodiff

import (
	"slices"
	"time"

	"github.com/gomlx/opsetgraph/pkg/core/element"
	"github.com/gomlx/opsetgraph/pkg/core/graph"
	"github.com/gomlx/opsetgraph/pkg/core/ops"
	"github.com/gomlx/opsetgraph/pkg/support/sets"
	"github.com/pkg/errors"
	"k8s.io/klog/v2"
)

// nodeState tracks the progress of a node during the reverse traversal.
type nodeState int

const (
	unvisited nodeState = iota

	// accumulating nodes have received at least one delta, and may still receive more.
	accumulating

	// finalized nodes have pushed their deltas to their inputs: no more contributions are accepted.
	finalized
)

// Adjoints holds the accumulated deltas (the gradient of the results with respect to each value)
// of the subgraph reachable from a set of results.
//
// It is built by New, which generates the adjoint subgraph: new nodes computing the deltas, built
// with the ops' GenerateAdjoints.
type Adjoints struct {
	deltas map[graph.Output]graph.Output
	states map[*graph.Node]nodeState
}

// Assert Adjoints is a graph.AdjointSink.
var _ graph.AdjointSink = (*Adjoints)(nil)

// New back-propagates the deltas of the results through the subgraph that computes them.
//
// deltas[i] is the delta for results[i], and must have the same shape. Each node is visited in
// reverse topological order, after all of its consumers (within the subgraph) contributed their
// deltas, which are summed with Add.
//
// Only nodes depending on some Parameter are differentiated. It fails with
// graph.ErrUnsupportedConfiguration if a node on such a path has no adjoint.
func New(results []graph.Output, deltas []graph.Output) (*Adjoints, error) {
	if len(results) != len(deltas) {
		return nil, graph.InvalidArgumentf("autodiff.New: %d results but %d deltas", len(results), len(deltas))
	}
	start := time.Now()
	a := &Adjoints{
		deltas: make(map[graph.Output]graph.Output),
		states: make(map[*graph.Node]nodeState),
	}
	for ii, result := range results {
		if !result.Shape().Compatible(deltas[ii].Shape()) {
			return nil, graph.TypeInferenceErrorf("autodiff.New: delta #%d shape %s doesn't match result %s shape %s",
				ii, deltas[ii].Shape(), result, result.Shape())
		}
		if err := a.AddDelta(result, deltas[ii]); err != nil {
			return nil, err
		}
	}

	sorted := graph.TopologicalSort(graph.OutputNodes(results))
	dependsOnParameter := sets.Make[*graph.Node]()
	for _, n := range sorted {
		if graph.IsParameter(n) || slices.ContainsFunc(n.Inputs(), func(in graph.Output) bool {
			return dependsOnParameter.Has(in.Node)
		}) {
			dependsOnParameter.Insert(n)
		}
	}

	var numDifferentiated int
	for _, n := range slices.Backward(sorted) {
		if a.states[n] == unvisited {
			// No path to the results.
			a.states[n] = finalized
			continue
		}
		nodeDeltas, err := a.finalize(n)
		if err != nil {
			return nil, err
		}
		if n.NumInputs() == 0 || !slices.ContainsFunc(n.Inputs(), func(in graph.Output) bool {
			return dependsOnParameter.Has(in.Node)
		}) {
			continue
		}
		if err := a.generate(n, nodeDeltas); err != nil {
			return nil, err
		}
		numDifferentiated++
	}
	if klog.V(1).Enabled() {
		klog.Infof("autodiff: differentiated %d of %d nodes in %s", numDifferentiated, len(sorted), time.Since(start))
	}
	return a, nil
}

// finalize closes the accumulation of n, and returns one delta per output, filling the outputs
// that received no delta with zeros.
func (a *Adjoints) finalize(n *graph.Node) ([]graph.Output, error) {
	a.states[n] = finalized
	nodeDeltas := make([]graph.Output, n.NumOutputs())
	for ii, output := range n.Outputs() {
		delta, found := a.deltas[output]
		if !found {
			zeros, err := ops.ZerosLike(output)
			if err != nil {
				return nil, errors.WithMessagef(err, "autodiff: zero delta for output #%d of %s", ii, n.Name())
			}
			delta = zeros.Output(0)
		}
		nodeDeltas[ii] = delta
	}
	return nodeDeltas, nil
}

func (a *Adjoints) generate(n *graph.Node, nodeDeltas []graph.Output) error {
	if graph.IsResult(n) {
		return a.AddDelta(n.Input(0), nodeDeltas[0])
	}
	differentiable, ok := n.Op().(graph.Differentiable)
	if !ok {
		return graph.Unsupportedf("autodiff: %s (%s) has no adjoint", n.Name(), n.TypeInfo())
	}
	if klog.V(2).Enabled() {
		klog.Infof("autodiff: generating adjoints of %s", n)
	}
	if err := differentiable.GenerateAdjoints(n, a, nodeDeltas); err != nil {
		return errors.WithMessagef(err, "autodiff: generating adjoints of %s", n.Name())
	}
	return nil
}

// AddDelta implements graph.AdjointSink: it adds delta to the accumulated delta of x.
//
// The delta must have the shape and element type of x. It fails with graph.ErrTypeInference if
// x's node was already finalized: all contributions to a node must happen before it is visited.
func (a *Adjoints) AddDelta(x, delta graph.Output) error {
	if x.Node == nil || delta.Node == nil {
		return graph.InvalidArgumentf("autodiff: AddDelta with nil output")
	}
	if a.states[x.Node] == finalized {
		return graph.TypeInferenceErrorf("autodiff: delta for %s added after its adjoints were generated", x)
	}
	if !x.Shape().Compatible(delta.Shape()) {
		return graph.TypeInferenceErrorf("autodiff: delta %s shape %s doesn't match %s shape %s",
			delta, delta.Shape(), x, x.Shape())
	}
	if _, ok := element.Merge(x.ElementType(), delta.ElementType()); !ok {
		return graph.TypeInferenceErrorf("autodiff: delta %s element type %s doesn't match %s element type %s",
			delta, delta.ElementType(), x, x.ElementType())
	}
	a.states[x.Node] = accumulating
	previous, found := a.deltas[x]
	if !found {
		a.deltas[x] = delta
		return nil
	}
	sum, err := ops.Add(previous, delta)
	if err != nil {
		return errors.WithMessagef(err, "autodiff: accumulating deltas of %s", x)
	}
	a.deltas[x] = sum.Output(0)
	return nil
}

// Backprop returns the accumulated delta of x: the gradient of the results (weighted by their
// deltas) with respect to x. If x doesn't affect the results it returns zeros, which requires x
// to have a static shape.
func (a *Adjoints) Backprop(x graph.Output) (graph.Output, error) {
	if delta, found := a.deltas[x]; found {
		return delta, nil
	}
	zeros, err := ops.ZerosLike(x)
	if err != nil {
		return graph.Output{}, errors.WithMessagef(err, "autodiff: no path from %s to the results", x)
	}
	return zeros.Output(0), nil
}
