// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package main

import (
	"fmt"
	"os"
	"strings"

	"github.com/charmbracelet/lipgloss"
	lgtable "github.com/charmbracelet/lipgloss/table"
	"github.com/dustin/go-humanize"
	"github.com/gomlx/opsetgraph/pkg/core/graph"
	"github.com/gomlx/opsetgraph/pkg/support/xslices"
	"github.com/muesli/termenv"
)

var (
	headerRowStyle = lipgloss.NewStyle().Reverse(true).
			Padding(0, 2, 0, 2).Align(lipgloss.Center)

	oddRowStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("#FFF")).
			PaddingLeft(1).PaddingRight(1)
	evenRowStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("#999")).
			PaddingLeft(1).PaddingRight(1)

	titleStyle = lipgloss.NewStyle().Bold(true).Padding(1, 4, 1, 4)
)

// configureColors disables colors if requested or if stdout doesn't support them.
func configureColors(enabled bool) {
	output := termenv.NewOutput(os.Stdout)
	if !enabled || output.EnvColorProfile() == termenv.Ascii {
		lipgloss.SetColorProfile(termenv.Ascii)
	}
}

func newPlainTable(withHeader bool) *lgtable.Table {
	return lgtable.New().
		Border(lipgloss.NormalBorder()).
		BorderStyle(lipgloss.NewStyle().Foreground(lipgloss.Color("99"))).
		StyleFunc(func(row, col int) (s lipgloss.Style) {
			if withHeader && row == 1 {
				return headerRowStyle
			}
			if row%2 == 0 {
				s = oddRowStyle
			} else {
				s = evenRowStyle
			}
			if col == 0 {
				return s.Align(lipgloss.Right)
			}
			return s.Align(lipgloss.Left)
		})
}

// functionTables renders the summary and the nodes of f.
func functionTables(f *graph.Function, changed bool) string {
	var sb strings.Builder
	nodes := f.Nodes()
	sb.WriteString(titleStyle.Render(fmt.Sprintf("Function %q", f.Name())))
	sb.WriteString("\n")

	summary := newPlainTable(false)
	summary.Row("parameters", strings.Join(xslices.Map(f.Parameters(), (*graph.Node).Name), ", "))
	summary.Row("# nodes", humanize.Comma(int64(len(nodes))))
	summary.Row("changed by passes", fmt.Sprintf("%v", changed))
	var totalMemory int64
	for _, n := range nodes {
		for _, o := range n.Outputs() {
			if memory := o.Shape().Memory(o.ElementType()); memory > 0 && !graph.IsResult(n) {
				totalMemory += memory
			}
		}
	}
	summary.Row("outputs memory", humanize.Bytes(uint64(totalMemory)))
	sb.WriteString(summary.Render())
	sb.WriteString("\n")

	table := newPlainTable(true)
	table.Row("Name", "Op", "Version", "Inputs", "Outputs", "Attributes")
	for _, n := range nodes {
		outputs := xslices.Map(n.Outputs(), func(o graph.Output) string {
			return fmt.Sprintf("%s%s", o.ElementType(), o.Shape())
		})
		table.Row(n.Name(), n.Description(), fmt.Sprintf("%d", n.Version()),
			strings.Join(xslices.Map(n.Inputs(), graph.Output.String), "\n"),
			strings.Join(outputs, "\n"), attributesString(n.Attributes()))
	}
	sb.WriteString(table.Render())
	sb.WriteString("\n")
	return sb.String()
}

func attributesString(attrs map[string]any) string {
	lines := make([]string, 0, len(attrs))
	for _, key := range xslices.SortedKeys(attrs) {
		lines = append(lines, fmt.Sprintf("%s=%v", key, attrs[key]))
	}
	return strings.Join(lines, "\n")
}

// passesTable renders the registered passes.
func passesTable(names []string) string {
	table := newPlainTable(true)
	table.Row("#", "Pass")
	for ii, name := range names {
		table.Row(fmt.Sprintf("%d", ii), name)
	}
	return titleStyle.Render("Registered passes") + "\n" + table.Render()
}
