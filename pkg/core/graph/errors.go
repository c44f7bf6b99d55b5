// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package graph

import "github.com/pkg/errors"

// Error kinds returned (wrapped) by graph construction, inference, rewrite passes and adjoint
// construction. Test for them with errors.Is.
var (
	// ErrInvalidArgument is returned when a node's inputs or attributes violate its preconditions:
	// bad rank, bad element type, out-of-range attribute.
	ErrInvalidArgument = errors.New("invalid argument")

	// ErrUnsupportedConfiguration is returned when a legal node requests a combination of features an
	// algorithm can't handle, e.g. differentiation under auto-broadcasting.
	ErrUnsupportedConfiguration = errors.New("unsupported configuration")

	// ErrTypeInference is returned when shape or type constraints can't be satisfied given otherwise
	// valid inputs.
	ErrTypeInference = errors.New("type inference failure")
)

// InvalidArgumentf returns an error wrapping ErrInvalidArgument with the formatted message.
func InvalidArgumentf(format string, args ...any) error {
	return errors.Wrapf(ErrInvalidArgument, format, args...)
}

// Unsupportedf returns an error wrapping ErrUnsupportedConfiguration with the formatted message.
func Unsupportedf(format string, args ...any) error {
	return errors.Wrapf(ErrUnsupportedConfiguration, format, args...)
}

// TypeInferenceErrorf returns an error wrapping ErrTypeInference with the formatted message.
func TypeInferenceErrorf(format string, args ...any) error {
	return errors.Wrapf(ErrTypeInference, format, args...)
}
