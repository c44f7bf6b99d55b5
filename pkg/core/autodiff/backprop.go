// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package autodiff

import (
	"fmt"

	"github.com/gomlx/opsetgraph/pkg/core/graph"
	"github.com/gomlx/opsetgraph/pkg/core/ops"
	"github.com/gomlx/opsetgraph/pkg/support/xslices"
	"github.com/pkg/errors"
)

// Gradients returns the gradient of loss with respect to the (first) output of each of the wrt
// nodes. The delta of loss is seeded with ones, so loss needs a static shape: usually it is a
// scalar.
func Gradients(loss graph.Output, wrt []*graph.Node) ([]graph.Output, error) {
	seed, err := ops.OnesLike(loss)
	if err != nil {
		return nil, errors.WithMessage(err, "autodiff.Gradients: seeding the loss delta")
	}
	adjoints, err := New([]graph.Output{loss}, []graph.Output{seed.Output(0)})
	if err != nil {
		return nil, err
	}
	gradients := make([]graph.Output, 0, len(wrt))
	for _, n := range wrt {
		grad, err := adjoints.Backprop(n.Output(0))
		if err != nil {
			return nil, err
		}
		gradients = append(gradients, grad)
	}
	return gradients, nil
}

// DeltaParameterName returns the name of the Parameter holding the delta of the result #i in the
// Function created by BackpropFunction.
func DeltaParameterName(i int) string { return fmt.Sprintf("delta_%d", i) }

// BackpropFunction creates the backward Function of f: it takes the parameters of f followed by one
// delta Parameter per result of f (see DeltaParameterName), and returns the gradient with respect
// to each parameter of f, in order.
//
// f is not modified: the forward computation is cloned into the new Function.
func BackpropFunction(f *graph.Function) (*graph.Function, error) {
	forwardOutputs := f.ResultOutputs()
	parameters := f.Parameters()
	roots := append(graph.OutputNodes(forwardOutputs), parameters...)
	mapping, err := graph.CloneSubgraph(roots)
	if err != nil {
		return nil, errors.WithMessagef(err, "BackpropFunction(%q)", f.Name())
	}
	remap := func(o graph.Output) graph.Output { return graph.Output{Node: mapping[o.Node], Index: o.Index} }
	clonedOutputs := xslices.Map(forwardOutputs, remap)
	clonedParameters := xslices.Map(parameters, func(p *graph.Node) *graph.Node { return mapping[p] })

	deltaParameters := make([]*graph.Node, 0, len(clonedOutputs))
	for ii, output := range clonedOutputs {
		p, err := graph.NewParameter(DeltaParameterName(ii), output.ElementType(), output.Shape())
		if err != nil {
			return nil, errors.WithMessagef(err, "BackpropFunction(%q): delta parameter for result #%d", f.Name(), ii)
		}
		deltaParameters = append(deltaParameters, p)
	}
	adjoints, err := New(clonedOutputs, xslices.Map(deltaParameters, func(p *graph.Node) graph.Output { return p.Output(0) }))
	if err != nil {
		return nil, errors.WithMessagef(err, "BackpropFunction(%q)", f.Name())
	}

	gradients := make([]graph.Output, 0, len(clonedParameters))
	for _, p := range clonedParameters {
		grad, err := adjoints.Backprop(p.Output(0))
		if err != nil {
			return nil, errors.WithMessagef(err, "BackpropFunction(%q): gradient of %s", f.Name(), p.Name())
		}
		gradients = append(gradients, grad)
	}
	return graph.NewFunctionFromOutputs(f.Name()+"_backprop", gradients, append(clonedParameters, deltaParameters...))
}
