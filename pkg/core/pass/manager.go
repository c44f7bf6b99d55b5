// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package pass

import (
	"context"
	"time"

	"github.com/gomlx/opsetgraph/pkg/core/graph"
	"github.com/pkg/errors"
	"golang.org/x/sync/errgroup"
	"k8s.io/klog/v2"
)

// DefaultMaxIterations bounds the number of sweeps of a RewritePass until it reaches a fixpoint.
const DefaultMaxIterations = 100

// Manager runs a sequence of passes over Functions.
//
// Create it with NewManager, and configure it with the With* methods before running it.
type Manager struct {
	passes        []Pass
	validate      bool
	maxIterations int
}

// NewManager creates an empty Manager that validates the Function after each pass.
func NewManager() *Manager {
	return &Manager{validate: true, maxIterations: DefaultMaxIterations}
}

// WithValidation sets whether the Function is re-validated after each pass. Default is true.
func (m *Manager) WithValidation(validate bool) *Manager {
	m.validate = validate
	return m
}

// WithMaxIterations sets the maximum number of sweeps of the RewritePass instances registered
// afterwards. Default is DefaultMaxIterations.
func (m *Manager) WithMaxIterations(maxIterations int) *Manager {
	m.maxIterations = maxIterations
	return m
}

// Register appends the pass to the sequence run by the Manager.
func (m *Manager) Register(p Pass) *Manager {
	if rp, ok := p.(*RewritePass); ok {
		p = rp.WithMaxIterations(m.maxIterations)
	}
	m.passes = append(m.passes, p)
	return m
}

// RegisterByName appends the registered passes with the given names, in order.
func (m *Manager) RegisterByName(names ...string) error {
	for _, name := range names {
		p, err := New(name)
		if err != nil {
			return err
		}
		m.Register(p)
	}
	return nil
}

// Passes returns the names of the passes in the sequence.
func (m *Manager) Passes() []string {
	names := make([]string, len(m.passes))
	for ii, p := range m.passes {
		names[ii] = p.Name()
	}
	return names
}

// Run runs the passes in sequence over f, validating f after each one if configured to.
//
// The first error aborts the run: f may be partially transformed, and should be discarded.
func (m *Manager) Run(f *graph.Function) (changed bool, err error) {
	start := time.Now()
	for _, p := range m.passes {
		passStart := time.Now()
		passChanged, err := p.Run(f)
		if err != nil {
			return changed, errors.WithMessagef(err, "pass %q on function %q", p.Name(), f.Name())
		}
		changed = changed || passChanged
		if m.validate && passChanged {
			if err := f.Validate(); err != nil {
				return changed, errors.WithMessagef(err, "validating function %q after pass %q", f.Name(), p.Name())
			}
		}
		if klog.V(1).Enabled() {
			klog.Infof("pass %q on function %q: changed=%v, elapsed %s", p.Name(), f.Name(), passChanged, time.Since(passStart))
		}
	}
	if klog.V(1).Enabled() {
		klog.Infof("ran %d passes on function %q in %s", len(m.passes), f.Name(), time.Since(start))
	}
	return changed, nil
}

// RunAll runs the passes over each of the Functions, processing up to parallelism Functions
// concurrently (parallelism <= 0 means no limit). Each Function is owned by a single worker.
//
// It returns the first error, after which the remaining Functions are not started. It reports
// which Functions changed.
func (m *Manager) RunAll(ctx context.Context, fs []*graph.Function, parallelism int) ([]bool, error) {
	changed := make([]bool, len(fs))
	g, gCtx := errgroup.WithContext(ctx)
	if parallelism > 0 {
		g.SetLimit(parallelism)
	}
	for ii, f := range fs {
		g.Go(func() error {
			if err := gCtx.Err(); err != nil {
				return err
			}
			var err error
			changed[ii], err = m.Run(f)
			return err
		})
	}
	if err := g.Wait(); err != nil {
		return changed, err
	}
	return changed, nil
}
