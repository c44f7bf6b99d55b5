// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

// Package serializer describes finalized Functions for consumers outside the core, as plain data
// structures or YAML.
//
// It only reads the graph: node types and attributes are read through the public graph.Node API.
package serializer

import (
	"fmt"
	"reflect"

	"github.com/dustin/go-humanize"
	"github.com/gomlx/gopjrt/dtypes"
	"github.com/gomlx/opsetgraph/pkg/core/element"
	"github.com/gomlx/opsetgraph/pkg/core/graph"
	"github.com/gomlx/opsetgraph/pkg/support/xslices"
	"github.com/pkg/errors"
	"gopkg.in/yaml.v3"
)

// FunctionDescription is the serializable description of a Function.
type FunctionDescription struct {
	Name       string            `yaml:"name"`
	Parameters []string          `yaml:"parameters"`
	Results    []string          `yaml:"results"`
	Nodes      []NodeDescription `yaml:"nodes"`
}

// NodeDescription describes one node. Inputs are referenced as "<node name>:<output index>".
type NodeDescription struct {
	Name       string              `yaml:"name"`
	Op         string              `yaml:"op"`
	Version    uint64              `yaml:"version"`
	Inputs     []string            `yaml:"inputs,omitempty"`
	Outputs    []OutputDescription `yaml:"outputs,omitempty"`
	Attributes map[string]any      `yaml:"attributes,omitempty"`
}

// OutputDescription describes the type of one node output.
type OutputDescription struct {
	ElementType string `yaml:"element_type"`

	// DType is the name of the backend dtype of the element type, if it has one.
	DType string `yaml:"dtype,omitempty"`

	Shape string `yaml:"shape"`

	// Size in memory, if the shape is static.
	Size string `yaml:"size,omitempty"`
}

// Describe returns the description of f, with the nodes in topological order.
//
// It fails if f doesn't validate: only finalized Functions can be serialized.
func Describe(f *graph.Function) (*FunctionDescription, error) {
	if err := f.Validate(); err != nil {
		return nil, errors.WithMessagef(err, "describing function %q", f.Name())
	}
	desc := &FunctionDescription{
		Name:       f.Name(),
		Parameters: xslices.Map(f.Parameters(), (*graph.Node).Name),
		Results:    xslices.Map(f.ResultOutputs(), outputRef),
	}
	for _, n := range f.Nodes() {
		if graph.IsResult(n) {
			continue
		}
		desc.Nodes = append(desc.Nodes, describeNode(n))
	}
	return desc, nil
}

func describeNode(n *graph.Node) NodeDescription {
	nodeDesc := NodeDescription{
		Name:    n.Name(),
		Op:      n.Description(),
		Version: n.Version(),
		Inputs:  xslices.Map(n.Inputs(), outputRef),
	}
	for _, o := range n.Outputs() {
		outDesc := OutputDescription{ElementType: o.ElementType().String(), Shape: o.Shape().String()}
		if dtype := o.ElementType().ToDType(); dtype != dtypes.InvalidDType {
			outDesc.DType = dtype.String()
		}
		if memory := o.Shape().Memory(o.ElementType()); memory >= 0 {
			outDesc.Size = humanize.Bytes(uint64(memory))
		}
		nodeDesc.Outputs = append(nodeDesc.Outputs, outDesc)
	}
	if attrs := n.Attributes(); len(attrs) > 0 {
		nodeDesc.Attributes = make(map[string]any, len(attrs))
		for key, value := range attrs {
			nodeDesc.Attributes[key] = attributeValue(value)
		}
	}
	return nodeDesc
}

func outputRef(o graph.Output) string {
	return fmt.Sprintf("%s:%d", o.Node.Name(), o.Index)
}

// attributeValue converts op attribute values to plain YAML values: slices are converted
// element-wise, other values implementing fmt.Stringer (enums, shapes) become strings.
func attributeValue(value any) any {
	if value == nil {
		return nil
	}
	v := reflect.ValueOf(value)
	if v.Kind() == reflect.Slice && v.Type().Elem().Kind() != reflect.Uint8 {
		values := make([]any, v.Len())
		for ii := range values {
			values[ii] = attributeValue(v.Index(ii).Interface())
		}
		return values
	}
	if stringer, ok := value.(fmt.Stringer); ok {
		return stringer.String()
	}
	return value
}

// Marshal returns the YAML description of f.
func Marshal(f *graph.Function) ([]byte, error) {
	desc, err := Describe(f)
	if err != nil {
		return nil, err
	}
	data, err := yaml.Marshal(desc)
	if err != nil {
		return nil, errors.Wrapf(err, "marshaling function %q", f.Name())
	}
	return data, nil
}

// Type returns the element type of the output. If DType is set, it must agree with ElementType.
func (o OutputDescription) Type() (element.Type, error) {
	et, err := element.FromName(o.ElementType)
	if err != nil {
		return element.Undefined, err
	}
	if o.DType == "" {
		return et, nil
	}
	dtype, err := dtypes.DTypeString(o.DType)
	if err != nil {
		return element.Undefined, errors.Wrapf(err, "unknown dtype %q", o.DType)
	}
	fromDType, err := element.FromDType(dtype)
	if err != nil {
		return element.Undefined, err
	}
	if fromDType != et {
		return element.Undefined, errors.Errorf("element type %s doesn't match dtype %s", et, dtype)
	}
	return et, nil
}

// Unmarshal parses a YAML description produced by Marshal. The element types of the outputs are
// checked.
func Unmarshal(data []byte) (*FunctionDescription, error) {
	desc := &FunctionDescription{}
	if err := yaml.Unmarshal(data, desc); err != nil {
		return nil, errors.Wrap(err, "parsing function description")
	}
	for _, n := range desc.Nodes {
		for ii, o := range n.Outputs {
			if _, err := o.Type(); err != nil {
				return nil, errors.WithMessagef(err, "node %q output #%d", n.Name, ii)
			}
		}
	}
	return desc, nil
}
