// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package onnx

import (
	"slices"

	"github.com/gomlx/exceptions"
	"github.com/gomlx/opsetgraph/pkg/core/graph"
	"github.com/gomlx/opsetgraph/pkg/support/xslices"
	"github.com/pkg/errors"
	"k8s.io/klog/v2"
)

// Translator converts one foreign operator to graph nodes, returning their outputs.
//
// Translators may panic with an error: Registry.Translate converts it back to a returned error.
type Translator func(node *Node) (graph.NodeVector, error)

type versionedTranslator struct {
	sinceVersion int
	translate    Translator
}

// Registry of translators, keyed by operator type and the opset version since which the
// translation applies.
type Registry struct {
	translators map[string][]versionedTranslator
}

// NewRegistry returns a Registry with all the translators of this package.
func NewRegistry() *Registry {
	r := &Registry{translators: make(map[string][]versionedTranslator)}
	r.registerActivations()
	r.registerMathOps()
	r.registerReductions()
	r.registerConvolution()
	return r
}

// Register a translator for opType, used for opset versions >= sinceVersion until the next
// registered version. It replaces a translator registered for the same (opType, sinceVersion).
func (r *Registry) Register(opType string, sinceVersion int, translate Translator) {
	versions := r.translators[opType]
	idx, found := slices.BinarySearchFunc(versions, sinceVersion, func(v versionedTranslator, since int) int {
		return v.sinceVersion - since
	})
	if found {
		versions[idx].translate = translate
		return
	}
	r.translators[opType] = slices.Insert(versions, idx, versionedTranslator{sinceVersion: sinceVersion, translate: translate})
}

// Lookup returns the translator of opType for the given opset version: the one with the highest
// since-version not above opsetVersion.
func (r *Registry) Lookup(opType string, opsetVersion int) (Translator, bool) {
	versions := r.translators[opType]
	for _, v := range slices.Backward(versions) {
		if v.sinceVersion <= opsetVersion {
			return v.translate, true
		}
	}
	return nil, false
}

// SupportedOps returns the sorted list of operator types with a translator.
func (r *Registry) SupportedOps() []string {
	return xslices.SortedKeys(r.translators)
}

// Translate node, for a model using the given version of the default ONNX opset.
//
// Unknown operators (or operators of a custom domain) fail with graph.ErrUnsupportedConfiguration.
// If the translation produces a single node, it is named after the foreign node.
func (r *Registry) Translate(node *Node, opsetVersion int) (outputs graph.NodeVector, err error) {
	if node.Domain != "" && node.Domain != "ai.onnx" {
		return nil, graph.Unsupportedf("%s: operators of domain %q are not supported", node, node.Domain)
	}
	translate, found := r.Lookup(node.OpType, opsetVersion)
	if !found {
		return nil, graph.Unsupportedf("%s: no translator for opset version %d", node, opsetVersion)
	}
	err = exceptions.TryCatch[error](func() {
		outputs, err = translate(node)
	})
	if err != nil {
		return nil, errors.WithMessagef(err, "translating %s", node)
	}
	if node.Name != "" && len(outputs) == 1 && !slices.Contains(node.Inputs, outputs[0]) {
		outputs[0].Node.SetName(node.Name)
	}
	if klog.V(2).Enabled() {
		klog.Infof("translated %s (opset %d) to %v", node, opsetVersion, outputs)
	}
	return outputs, nil
}
