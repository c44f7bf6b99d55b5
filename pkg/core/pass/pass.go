// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

// Package pass defines graph transformation passes over a graph.Function, a registry of named
// passes, and a Manager that runs sequences of passes.
package pass

import (
	"sync"

	"github.com/gomlx/exceptions"
	"github.com/gomlx/opsetgraph/pkg/core/graph"
	"github.com/gomlx/opsetgraph/pkg/support/xslices"
)

// Pass transforms a Function in place.
//
// A Pass may be run concurrently on different Functions, so it should not keep per-run state.
type Pass interface {
	// Name of the pass, as registered.
	Name() string

	// Run transforms f, and reports whether anything changed.
	// On error f may be partially transformed, and should be discarded.
	Run(f *graph.Function) (changed bool, err error)
}

// Factory creates a new instance of a Pass.
type Factory func() Pass

var (
	registryMu sync.Mutex
	registry   = make(map[string]Factory)
)

// Register a named pass factory. It's meant to be called during package initialization, and it
// panics if the name is already registered.
func Register(name string, factory Factory) {
	registryMu.Lock()
	defer registryMu.Unlock()
	if _, found := registry[name]; found {
		exceptions.Panicf("pass.Register(%q): pass already registered", name)
	}
	registry[name] = factory
}

// New creates a pass registered with the given name.
func New(name string) (Pass, error) {
	registryMu.Lock()
	factory, found := registry[name]
	registryMu.Unlock()
	if !found {
		return nil, graph.InvalidArgumentf("unknown pass %q, registered passes are %q", name, Names())
	}
	return factory(), nil
}

// Names returns the sorted names of the registered passes.
func Names() []string {
	registryMu.Lock()
	defer registryMu.Unlock()
	return xslices.SortedKeys(registry)
}

// ValidatePassName is the registered name of the validation pass.
const ValidatePassName = "validate"

// ValidatePass re-runs type inference on the whole Function, and never changes it.
type ValidatePass struct{}

// Name implements Pass.
func (ValidatePass) Name() string { return ValidatePassName }

// Run implements Pass.
func (ValidatePass) Run(f *graph.Function) (bool, error) {
	return false, f.Validate()
}

func init() {
	Register(ValidatePassName, func() Pass { return ValidatePass{} })
}
