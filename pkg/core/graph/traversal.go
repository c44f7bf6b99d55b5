// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package graph

import (
	"github.com/gomlx/opsetgraph/pkg/support/sets"
	"github.com/gomlx/opsetgraph/pkg/support/xslices"
	"github.com/pkg/errors"
)

// TopologicalSort returns all nodes reachable from roots (following inputs), each one listed
// after all of its input producers.
//
// The order is deterministic: a depth-first post-order visiting roots and inputs in order.
func TopologicalSort(roots []*Node) []*Node {
	type frame struct {
		node      *Node
		nextInput int
	}
	visited := sets.Make[*Node]()
	var sorted []*Node
	var stack []frame
	for _, root := range roots {
		if root == nil || visited.Has(root) {
			continue
		}
		visited.Insert(root)
		stack = append(stack, frame{node: root})
		for len(stack) > 0 {
			top := &stack[len(stack)-1]
			if top.nextInput < top.node.NumInputs() {
				input := top.node.Input(top.nextInput).Node
				top.nextInput++
				if !visited.Has(input) {
					visited.Insert(input)
					stack = append(stack, frame{node: input})
				}
				continue
			}
			var done frame
			done, stack = xslices.Pop(stack)
			sorted = append(sorted, done.node)
		}
	}
	return sorted
}

// OutputNodes returns the nodes of the given outputs, in order and without repetition.
func OutputNodes(outputs []Output) []*Node {
	seen := sets.Make[*Node](len(outputs))
	nodes := make([]*Node, 0, len(outputs))
	for _, output := range outputs {
		if !seen.Has(output.Node) {
			seen.Insert(output.Node)
			nodes = append(nodes, output.Node)
		}
	}
	return nodes
}

// CloneSubgraph copies every node reachable from roots with CopyWithNewArgs, wiring the copies to
// each other. It returns the mapping from original to copied nodes.
//
// Node names set with SetName are preserved. The copies don't belong to any Function.
func CloneSubgraph(roots []*Node) (map[*Node]*Node, error) {
	mapping := make(map[*Node]*Node)
	for _, original := range TopologicalSort(roots) {
		args := xslices.Map(original.inputs, func(in Output) Output {
			return Output{Node: mapping[in.Node], Index: in.Index}
		})
		clone, err := original.op.CopyWithNewArgs(args)
		if err != nil {
			return nil, errors.WithMessagef(err, "cloning %s", original.Name())
		}
		if clone.TypeInfo() != original.TypeInfo() {
			return nil, TypeInferenceErrorf("cloning %s: CopyWithNewArgs returned a %s", original.Name(), clone.TypeInfo())
		}
		clone.name = original.name
		mapping[original] = clone
	}
	return mapping, nil
}
