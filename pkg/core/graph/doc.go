// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

// Package graph implements the operator graph: Node, Output, the Op capability implemented by
// every operator kind, and Function, the root of a graph.
//
// Graphs are built bottom-up: each node is created with NewNode from its op (which holds the
// attributes) and its inputs, and its output types are inferred right away. Rewrites don't
// mutate nodes in place: they create replacement nodes and redirect consumers with ReplaceNode.
//
// The operator catalog lives in package ops; this package only defines the structural
// Parameter and Result ops.
//
// Errors are classified by three kinds, see ErrInvalidArgument, ErrUnsupportedConfiguration and
// ErrTypeInference.
package graph
