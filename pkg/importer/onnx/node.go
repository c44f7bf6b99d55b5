// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

// Package onnx translates ONNX operators into opset graph nodes.
//
// The importer is given each foreign operator as a Node, with its inputs already resolved to graph
// Outputs, and returns the graph.NodeVector produced by the translation, to be threaded into the
// translation of the following operators. Parsing of the ONNX protobuf is left to the caller.
//
// Example:
//
//	r := onnx.NewRegistry()
//	outputs, err := r.Translate(&onnx.Node{
//		Name:       "act",
//		OpType:     "LeakyRelu",
//		Inputs:     []graph.Output{x},
//		Attributes: onnx.Attributes{"alpha": 0.2},
//	}, 11)
package onnx

import (
	"fmt"

	"github.com/gomlx/opsetgraph/pkg/core/element"
	"github.com/gomlx/opsetgraph/pkg/core/graph"
	"github.com/pkg/errors"
)

// Node is one foreign operator to translate.
type Node struct {
	Name   string
	OpType string

	// Domain of the operator: "" and "ai.onnx" are the default domain.
	Domain string

	Inputs     []graph.Output
	Attributes Attributes
}

// String implements fmt.Stringer.
func (n *Node) String() string {
	if n.Name == "" {
		return n.OpType
	}
	return fmt.Sprintf("%s(%q)", n.OpType, n.Name)
}

// invalidArgumentf returns an error wrapping graph.ErrInvalidArgument, naming the node.
func (n *Node) invalidArgumentf(format string, args ...any) error {
	return errors.Wrapf(graph.ErrInvalidArgument, "%s: %s", n, fmt.Sprintf(format, args...))
}

// checkNumInputs returns an error if n doesn't have between minInputs and maxInputs inputs.
func (n *Node) checkNumInputs(minInputs, maxInputs int) error {
	if len(n.Inputs) < minInputs || len(n.Inputs) > maxInputs {
		if minInputs == maxInputs {
			return n.invalidArgumentf("takes %d inputs, got %d", minInputs, len(n.Inputs))
		}
		return n.invalidArgumentf("takes %d to %d inputs, got %d", minInputs, maxInputs, len(n.Inputs))
	}
	return nil
}

// Attributes of a Node, by name. Values can be any Go numeric type, strings, or slices of
// integers.
type Attributes map[string]any

// Float returns the named attribute as a float64, or defaultValue if it is not set.
func (a Attributes) Float(name string, defaultValue float64) (float64, error) {
	v, found := a[name]
	if !found {
		return defaultValue, nil
	}
	switch value := v.(type) {
	case float32:
		return float64(value), nil
	case float64:
		return value, nil
	case int:
		return float64(value), nil
	case int64:
		return float64(value), nil
	}
	return 0, errors.Wrapf(graph.ErrInvalidArgument, "attribute %q: expected a float, got %T", name, v)
}

// Int returns the named attribute as an int64, or defaultValue if it is not set.
func (a Attributes) Int(name string, defaultValue int64) (int64, error) {
	v, found := a[name]
	if !found {
		return defaultValue, nil
	}
	switch value := v.(type) {
	case int:
		return int64(value), nil
	case int32:
		return int64(value), nil
	case int64:
		return value, nil
	case bool:
		if value {
			return 1, nil
		}
		return 0, nil
	}
	return 0, errors.Wrapf(graph.ErrInvalidArgument, "attribute %q: expected an int, got %T", name, v)
}

// Ints returns the named attribute as a slice of ints, or defaultValue if it is not set.
func (a Attributes) Ints(name string, defaultValue []int) ([]int, error) {
	v, found := a[name]
	if !found {
		return defaultValue, nil
	}
	switch value := v.(type) {
	case []int:
		return value, nil
	case []int64:
		ints := make([]int, len(value))
		for ii, x := range value {
			ints[ii] = int(x)
		}
		return ints, nil
	case []int32:
		ints := make([]int, len(value))
		for ii, x := range value {
			ints[ii] = int(x)
		}
		return ints, nil
	}
	return nil, errors.Wrapf(graph.ErrInvalidArgument, "attribute %q: expected a list of ints, got %T", name, v)
}

// String returns the named attribute as a string, or defaultValue if it is not set.
func (a Attributes) String(name, defaultValue string) (string, error) {
	v, found := a[name]
	if !found {
		return defaultValue, nil
	}
	switch value := v.(type) {
	case string:
		return value, nil
	case []byte:
		return string(value), nil
	}
	return "", errors.Wrapf(graph.ErrInvalidArgument, "attribute %q: expected a string, got %T", name, v)
}

// ONNX TensorProto.DataType values.
const (
	TensorProtoUndefined = 0
	TensorProtoFloat     = 1
	TensorProtoUint8     = 2
	TensorProtoInt8      = 3
	TensorProtoUint16    = 4
	TensorProtoInt16     = 5
	TensorProtoInt32     = 6
	TensorProtoInt64     = 7
	TensorProtoString    = 8
	TensorProtoBool      = 9
	TensorProtoFloat16   = 10
	TensorProtoDouble    = 11
	TensorProtoUint32    = 12
	TensorProtoUint64    = 13
	TensorProtoBFloat16  = 16
)

var dataTypes = map[int64]element.Type{
	TensorProtoFloat:    element.F32,
	TensorProtoUint8:    element.U8,
	TensorProtoInt8:     element.I8,
	TensorProtoUint16:   element.U16,
	TensorProtoInt16:    element.I16,
	TensorProtoInt32:    element.I32,
	TensorProtoInt64:    element.I64,
	TensorProtoBool:     element.Boolean,
	TensorProtoFloat16:  element.F16,
	TensorProtoDouble:   element.F64,
	TensorProtoUint32:   element.U32,
	TensorProtoUint64:   element.U64,
	TensorProtoBFloat16: element.BF16,
}

// ElementType converts an ONNX TensorProto.DataType to an element.Type.
func ElementType(dataType int64) (element.Type, error) {
	et, found := dataTypes[dataType]
	if !found {
		return element.Undefined, errors.Wrapf(graph.ErrUnsupportedConfiguration, "ONNX data type %d", dataType)
	}
	return et, nil
}
