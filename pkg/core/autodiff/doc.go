// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

// Package autodiff builds the adjoint (reverse-mode gradient) subgraph of a computation.
//
// It walks the graph from the results back to the parameters, asking each op (graph.Differentiable)
// to turn the deltas of its outputs into deltas of its inputs. Deltas arriving at the same value
// from several consumers are summed.
//
// Gradients differentiates a single loss, and BackpropFunction turns a Function into its backward
// Function.
package autodiff
