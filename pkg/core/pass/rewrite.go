// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package pass

import (
	"cmp"
	"maps"
	"slices"
	"time"

	"github.com/gomlx/opsetgraph/pkg/core/graph"
	"github.com/pkg/errors"
	"k8s.io/klog/v2"
)

// Rule rewrites a node. It returns the replacement node, or nil (with no error) if the node
// should be left alone.
//
// The replacement must have the same number of outputs, with compatible types, as the node.
type Rule func(n *graph.Node) (*graph.Node, error)

// RewritePass replaces nodes using rules keyed by the node's TypeInfo, until no rule applies.
type RewritePass struct {
	name          string
	rules         map[graph.TypeInfo]Rule
	maxIterations int
}

// Assert RewritePass is a Pass.
var _ Pass = (*RewritePass)(nil)

// NewRewritePass creates a RewritePass with the given rules.
func NewRewritePass(name string, rules map[graph.TypeInfo]Rule) *RewritePass {
	return &RewritePass{name: name, rules: maps.Clone(rules), maxIterations: DefaultMaxIterations}
}

// WithMaxIterations returns a copy of the pass with a different bound on the number of sweeps.
func (p *RewritePass) WithMaxIterations(maxIterations int) *RewritePass {
	clone := *p
	clone.maxIterations = maxIterations
	return &clone
}

// Name implements Pass.
func (p *RewritePass) Name() string { return p.name }

// Rules returns the TypeInfo handled by the pass, sorted by name and version.
func (p *RewritePass) Rules() []graph.TypeInfo {
	keys := slices.Collect(maps.Keys(p.rules))
	slices.SortFunc(keys, func(a, b graph.TypeInfo) int {
		if c := cmp.Compare(a.Name, b.Name); c != 0 {
			return c
		}
		return cmp.Compare(a.Version, b.Version)
	})
	return keys
}

// Run implements Pass. It sweeps the Function nodes in topological order applying the rules, and
// repeats with a freshly sorted list of nodes, so nodes created by a rewrite are visited too,
// until a sweep makes no change.
func (p *RewritePass) Run(f *graph.Function) (changed bool, err error) {
	start := time.Now()
	var numRewrites int
	for iteration := 0; ; iteration++ {
		if iteration >= p.maxIterations {
			return changed, graph.Unsupportedf("pass %q didn't converge after %d iterations", p.name, p.maxIterations)
		}
		sweepRewrites := 0
		for _, n := range f.Nodes() {
			rule, found := p.rules[n.TypeInfo()]
			if !found {
				continue
			}
			replacement, err := rule(n)
			if err != nil {
				return changed, errors.WithMessagef(err, "pass %q: rewriting %s", p.name, n.Name())
			}
			if replacement == nil || replacement == n {
				continue
			}
			if err := graph.ReplaceNode(n, replacement); err != nil {
				return changed, errors.WithMessagef(err, "pass %q: replacing %s with %s", p.name, n.Name(), replacement.Name())
			}
			if klog.V(2).Enabled() {
				klog.Infof("pass %q: replaced %s with %s", p.name, n, replacement)
			}
			sweepRewrites++
		}
		if sweepRewrites == 0 {
			break
		}
		numRewrites += sweepRewrites
		changed = true
	}
	if klog.V(1).Enabled() {
		klog.Infof("pass %q on function %q: %d rewrites in %s", p.name, f.Name(), numRewrites, time.Since(start))
	}
	return changed, nil
}
