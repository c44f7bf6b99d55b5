// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

// Package ops is the catalog of operators of the graph IR, in their opset 0 and opset 1 versions.
//
// Each op is a struct holding its attributes and implementing graph.Op: it validates its inputs
// and infers its output types, propagating dynamic dimensions (and dynamic rank) rather than
// guessing. Most ops also implement graph.AttributesProvider, and the differentiable ones
// graph.Differentiable.
//
// Ops that differ between opsets only by defaults (like the elementwise binary ops) share a struct
// with a version field. Ops whose attributes became inputs in opset 1 (Broadcast, Reshape, the
// reductions, the convolution backprop ops) have one struct per version, e.g. Reshape and
// ReshapeV1.
//
// Constructors are named NewX (or just X for the simplest ops, e.g. Add) and return the new
// node, or an error wrapping one of graph.ErrInvalidArgument, graph.ErrTypeInference or
// graph.ErrUnsupportedConfiguration.
package ops
