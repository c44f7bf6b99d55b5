// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

// opsetgraph builds one of the sample graphs, optionally derives its backprop Function, runs the
// requested passes over them and prints the result.
//
// Examples:
//
//	opsetgraph -sample=conv -passes=opset1_upgrade
//	opsetgraph -sample=conv_backprop_data -passes=opset0_downgrade -format=yaml
//	opsetgraph -sample=minimum -grad -passes=opset1_upgrade,opset0_downgrade
//	opsetgraph -sample=avg_pool -passes=opset1_upgrade -format=yaml -output=~/avg_pool.yaml
//	opsetgraph -list_passes
package main

import (
	"bytes"
	"context"
	"flag"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/dustin/go-humanize"
	"github.com/gomlx/opsetgraph/pkg/core/autodiff"
	"github.com/gomlx/opsetgraph/pkg/core/graph"
	_ "github.com/gomlx/opsetgraph/pkg/core/opset"
	"github.com/gomlx/opsetgraph/pkg/core/pass"
	"github.com/gomlx/opsetgraph/pkg/serializer"
	"github.com/gomlx/opsetgraph/pkg/support/fsutil"
	"github.com/gomlx/opsetgraph/pkg/support/xslices"
	"github.com/pkg/errors"
	"k8s.io/klog/v2"
)

var (
	flagSample = flag.String("sample", "conv",
		fmt.Sprintf("Sample graph to build, one of %q.", sampleNames()))
	flagPasses = xslices.Flag("passes", nil,
		"Comma-separated list of registered passes to run, in order. See -list_passes.",
		func(name string) (string, error) { return name, nil })
	flagGrad        = flag.Bool("grad", false, "Also build the backprop Function of the sample, and run the passes on it.")
	flagFormat      = flag.String("format", "table", "Output format: \"table\" or \"yaml\".")
	flagListPasses  = flag.Bool("list_passes", false, "List the registered passes and exit.")
	flagParallelism = flag.Int("parallelism", 0, "Maximum number of Functions processed concurrently, 0 for no limit.")
	flagValidate    = flag.Bool("validate", true, "Re-validate the Functions after each pass that changed them.")
	flagMaxIter     = flag.Int("max_iterations", pass.DefaultMaxIterations, "Maximum number of sweeps of a rewrite pass.")
	flagColor       = flag.Bool("color", true, "Use colors in table output, if the terminal supports them.")
	flagOutput      = flag.String("output", "", "Write the output to this file instead of stdout. \"~\" is expanded.")
	flagOverwrite   = flag.Bool("overwrite", false, "Overwrite the -output file if it exists.")
)

func main() {
	klog.InitFlags(nil)
	flag.Parse()
	configureColors(*flagColor)

	if *flagListPasses {
		fmt.Println(passesTable(pass.Names()))
		return
	}
	var out bytes.Buffer
	if err := run(context.Background(), &out); err != nil {
		klog.Errorf("%+v", err)
		os.Exit(1)
	}
	if *flagOutput == "" {
		_, _ = os.Stdout.Write(out.Bytes())
		return
	}
	path, err := fsutil.WriteFile(*flagOutput, out.Bytes(), *flagOverwrite)
	if err != nil {
		klog.Fatalf("%+v", err)
	}
	klog.Infof("wrote %s to %q", humanize.Bytes(uint64(out.Len())), path)
}

func run(ctx context.Context, w io.Writer) error {
	f, err := buildSample(*flagSample)
	if err != nil {
		return err
	}
	fs := []*graph.Function{f}
	if *flagGrad {
		backprop, err := autodiff.BackpropFunction(f)
		if err != nil {
			return errors.WithMessagef(err, "differentiating sample %q", *flagSample)
		}
		fs = append(fs, backprop)
	}

	manager := pass.NewManager().WithValidation(*flagValidate).WithMaxIterations(*flagMaxIter)
	if err := manager.RegisterByName(*flagPasses...); err != nil {
		return err
	}
	changed, err := manager.RunAll(ctx, fs, *flagParallelism)
	if err != nil {
		return err
	}
	klog.V(1).Infof("ran passes %q on %d functions", manager.Passes(), len(fs))

	switch strings.ToLower(*flagFormat) {
	case "table":
		for ii, f := range fs {
			if _, err := fmt.Fprintln(w, functionTables(f, changed[ii])); err != nil {
				return errors.Wrap(err, "writing output")
			}
		}
	case "yaml":
		for ii, f := range fs {
			data, err := serializer.Marshal(f)
			if err != nil {
				return err
			}
			if ii > 0 {
				data = append([]byte("---\n"), data...)
			}
			if _, err := w.Write(data); err != nil {
				return errors.Wrap(err, "writing output")
			}
		}
	default:
		return errors.Wrapf(graph.ErrInvalidArgument, "unknown -format=%q, valid values are \"table\" or \"yaml\"", *flagFormat)
	}
	return nil
}
