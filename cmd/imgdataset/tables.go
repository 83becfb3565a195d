// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package main

import (
	"fmt"
	"io"

	"github.com/charmbracelet/lipgloss"
	lgtable "github.com/charmbracelet/lipgloss/table"
	"github.com/dustin/go-humanize"
	"github.com/gomlx/imgdataset/pkg/recipe"
)

var (
	headerRowStyle = lipgloss.NewStyle().Reverse(true).
			Padding(0, 2, 0, 2).Align(lipgloss.Center)
	oddRowStyle = lipgloss.NewStyle().Faint(false).
			PaddingLeft(1).PaddingRight(1)
	evenRowStyle = lipgloss.NewStyle().Faint(true).
			PaddingLeft(1).PaddingRight(1)

	titleStyle = lipgloss.NewStyle().Bold(true).Padding(1, 4, 0, 4)
)

// newPlainTable returns a table with alternating row styles. The first column is right-aligned.
func newPlainTable() *lgtable.Table {
	return lgtable.New().
		Border(lipgloss.NormalBorder()).
		BorderStyle(lipgloss.NewStyle().Foreground(lipgloss.Color("99"))).
		StyleFunc(func(row, col int) (s lipgloss.Style) {
			if row == lgtable.HeaderRow {
				return headerRowStyle
			}
			switch {
			case row%2 == 0:
				// Even row style.
				s = oddRowStyle
			default:
				// Odd row style
				s = evenRowStyle
			}
			if col == 0 {
				s = s.Align(lipgloss.Right)
			} else {
				s = s.Align(lipgloss.Left)
			}
			return
		})
}

func printSummary(w io.Writer, title string, rows [][]string) {
	table := newPlainTable()
	for _, row := range rows {
		table.Row(row...)
	}
	_, _ = fmt.Fprintln(w, titleStyle.Render(title))
	_, _ = fmt.Fprintln(w, table.Render())
}

func printRecipeResults(w io.Writer, results []recipe.Result) {
	if len(results) == 0 {
		return
	}
	table := newPlainTable().Headers("#", "Step", "Source", "Target", "Files")
	for ii, result := range results {
		table.Row(fmt.Sprintf("%d", ii+1), result.Step.Op, result.Step.Source, result.Step.Target,
			humanize.Comma(int64(result.Processed)))
	}
	_, _ = fmt.Fprintln(w, titleStyle.Render("Recipe"))
	_, _ = fmt.Fprintln(w, table.Render())
}
