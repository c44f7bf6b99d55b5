// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

// Package opset implements the passes that migrate a Function between opset versions:
// UpgradePassName rewrites opset 0 nodes to their opset 1 equivalents, and DowngradePassName does
// the reverse.
//
// Both passes are registered in the pass registry.
package opset

import (
	"github.com/gomlx/exceptions"
	"github.com/gomlx/opsetgraph/pkg/core/graph"
	"github.com/gomlx/opsetgraph/pkg/core/ops"
	"github.com/gomlx/opsetgraph/pkg/core/pass"
	"github.com/gomlx/opsetgraph/pkg/core/shapes"
	"github.com/gomlx/opsetgraph/pkg/support/xslices"
)

const (
	UpgradePassName   = "opset1_upgrade"
	DowngradePassName = "opset0_downgrade"
)

func init() {
	pass.Register(UpgradePassName, func() pass.Pass { return NewUpgradePass() })
	pass.Register(DowngradePassName, func() pass.Pass { return NewDowngradePass() })
}

// NewUpgradePass returns the pass converting opset 0 nodes to opset 1.
func NewUpgradePass() *pass.RewritePass {
	return pass.NewRewritePass(UpgradePassName, upgradeRules())
}

// NewDowngradePass returns the pass converting opset 1 nodes to opset 0.
func NewDowngradePass() *pass.RewritePass {
	return pass.NewRewritePass(DowngradePassName, downgradeRules())
}

// rule converts a rewrite function that panics on errors (with mustNode, or panic(err)) into a
// pass.Rule returning them.
func rule(fn func(n *graph.Node) *graph.Node) pass.Rule {
	return func(n *graph.Node) (replacement *graph.Node, err error) {
		err = exceptions.TryCatch[error](func() { replacement = fn(n) })
		return
	}
}

func mustNode(n *graph.Node, err error) *graph.Node {
	if err != nil {
		panic(err)
	}
	return n
}

// intsInput creates a 1D i64 Constant with the values, used for shape and axes inputs.
func intsInput(values []int) graph.Output {
	return mustNode(ops.NewInt64Constant(xslices.Map(values, func(v int) int64 { return int64(v) }))).Output(0)
}

// unsupported panics with an error wrapping graph.ErrUnsupportedConfiguration.
func unsupported(format string, args ...any) {
	panic(graph.Unsupportedf(format, args...))
}

// staticOutputShape returns the output shape of n, or panics if it's not static.
func staticOutputShape(n *graph.Node, what string) shapes.Shape {
	shape := n.OutputShape(0)
	if !shape.IsStatic() {
		unsupported("%s of %s requires a static output shape, got %s", what, n.Name(), shape)
	}
	return shape
}

