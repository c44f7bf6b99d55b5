// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package ops

import (
	"github.com/gomlx/exceptions"
	"github.com/gomlx/opsetgraph/pkg/core/element"
	"github.com/gomlx/opsetgraph/pkg/core/graph"
	"github.com/gomlx/opsetgraph/pkg/core/shapes"
)

// checkInputs returns an error if n doesn't have exactly count inputs.
func checkInputs(n *graph.Node, count int) error {
	if n.NumInputs() != count {
		return graph.InvalidArgumentf("%s takes %d inputs, got %d", n.Description(), count, n.NumInputs())
	}
	return nil
}

// catch runs fn, converting a panic with an error (raised by the must* helpers) to a returned error.
func catch(fn func()) error {
	return exceptions.TryCatch[error](fn)
}

// mustOut returns the first output of a newly created node, or panics with the error.
// It is used when building adjoint subgraphs, within catch.
func mustOut(n *graph.Node, err error) graph.Output {
	if err != nil {
		panic(err)
	}
	return n.Output(0)
}

// addDelta calls adjoints.AddDelta, panicking on error. It is used within catch.
func addDelta(adjoints graph.AdjointSink, x, delta graph.Output) {
	if err := adjoints.AddDelta(x, delta); err != nil {
		panic(err)
	}
}

// staticShape returns the shape of o, or an error naming what requires it if it is not static.
func staticShape(o graph.Output, what string) (shapes.Shape, error) {
	shape := o.Shape()
	if !shape.IsStatic() {
		return shape, graph.InvalidArgumentf("%s requires a static shape, got %s for %s", what, shape, o)
	}
	return shape, nil
}

// mergeElementTypes merges the element types of all inputs of n.
func mergeElementTypes(n *graph.Node, inputs ...int) (element.Type, error) {
	et := element.Dynamic
	for _, ii := range inputs {
		inputType := n.Input(ii).ElementType()
		merged, ok := element.Merge(et, inputType)
		if !ok {
			return element.Undefined, graph.TypeInferenceErrorf("%s: element type of input #%d (%s) doesn't match %s",
				n.Description(), ii, inputType, et)
		}
		et = merged
	}
	return et, nil
}

// ZerosLike returns a Constant of zeros with the element type and (static) shape of x.
func ZerosLike(x graph.Output) (*graph.Node, error) {
	return splatLike(x, 0)
}

// OnesLike returns a Constant of ones with the element type and (static) shape of x.
func OnesLike(x graph.Output) (*graph.Node, error) {
	return splatLike(x, 1)
}

func splatLike(x graph.Output, value float64) (*graph.Node, error) {
	shape, err := staticShape(x, "constant-like")
	if err != nil {
		return nil, err
	}
	return NewSplatConstant(x.ElementType(), shape, value)
}
