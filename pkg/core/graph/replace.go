// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package graph

import (
	"github.com/gomlx/opsetgraph/pkg/core/element"
	"github.com/pkg/errors"
	"k8s.io/klog/v2"
)

// ReplaceOutput redirects every consumer of oldOutput to newOutput.
//
// newOutput must be compatible with oldOutput: the same element type (or a dynamic one on either
// side) and a compatible shape. Consumers that are newOutput's own node are skipped, so a node
// inserted right after oldOutput can take it as input.
func ReplaceOutput(oldOutput, newOutput Output) error {
	if oldOutput.Node == nil || newOutput.Node == nil {
		return InvalidArgumentf("ReplaceOutput: nil output")
	}
	if oldOutput == newOutput {
		return nil
	}
	if !element.Compatible(oldOutput.ElementType(), newOutput.ElementType()) {
		return TypeInferenceErrorf("can't replace %s (%s) with %s (%s): element types differ",
			oldOutput, oldOutput.ElementType(), newOutput, newOutput.ElementType())
	}
	if !oldOutput.Shape().Compatible(newOutput.Shape()) {
		return TypeInferenceErrorf("can't replace %s %s with %s %s: shapes are incompatible",
			oldOutput, oldOutput.Shape(), newOutput, newOutput.Shape())
	}
	oldSlot := &oldOutput.Node.outputs[oldOutput.Index]
	newSlot := &newOutput.Node.outputs[newOutput.Index]
	var kept []Input
	for _, user := range oldSlot.users {
		if user.Node == newOutput.Node {
			kept = append(kept, user)
			continue
		}
		user.Node.inputs[user.Index] = newOutput
		newSlot.users = append(newSlot.users, user)
	}
	oldSlot.users = kept
	return nil
}

// ReplaceNode redirects every consumer of each of oldNode's outputs to the corresponding output
// of newNode, and detaches oldNode from its producers if nothing uses it anymore.
//
// Both nodes must have the same number of outputs, each pair compatible as in ReplaceOutput.
// Compatibility is checked for all outputs before any edge is changed.
func ReplaceNode(oldNode, newNode *Node) error {
	if oldNode == nil || newNode == nil {
		return InvalidArgumentf("ReplaceNode: nil node")
	}
	if oldNode == newNode {
		return nil
	}
	if oldNode.NumOutputs() != newNode.NumOutputs() {
		return TypeInferenceErrorf("can't replace %s (%d outputs) with %s (%d outputs)",
			oldNode.Name(), oldNode.NumOutputs(), newNode.Name(), newNode.NumOutputs())
	}
	for ii := range oldNode.NumOutputs() {
		oldOutput, newOutput := oldNode.Output(ii), newNode.Output(ii)
		if !element.Compatible(oldOutput.ElementType(), newOutput.ElementType()) ||
			!oldOutput.Shape().Compatible(newOutput.Shape()) {
			return TypeInferenceErrorf("can't replace %s with %s: output #%d changes from %s%s to %s%s",
				oldNode.Name(), newNode.Name(), ii, oldOutput.ElementType(), oldOutput.Shape(),
				newOutput.ElementType(), newOutput.Shape())
		}
	}
	for ii := range oldNode.NumOutputs() {
		if err := ReplaceOutput(oldNode.Output(ii), newNode.Output(ii)); err != nil {
			return errors.WithMessagef(err, "replacing %s with %s", oldNode.Name(), newNode.Name())
		}
	}
	if oldNode.NumUsers() == 0 {
		oldNode.disconnect()
	}
	if klog.V(2).Enabled() {
		klog.Infof("replaced %s with %s", oldNode.Name(), newNode)
	}
	return nil
}
