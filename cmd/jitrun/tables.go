// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package main

import (
	"fmt"
	"unicode/utf8"

	"github.com/charmbracelet/lipgloss"
	lgtable "github.com/charmbracelet/lipgloss/table"
	"github.com/dustin/go-humanize"
	"github.com/gomlx/jitrt/pkg/async"
	"github.com/gomlx/jitrt/pkg/core/tensors"
	"github.com/gomlx/jitrt/pkg/ir"
)

// maxValueWidth is the number of characters of a result value displayed.
const maxValueWidth = 60

var (
	headerRowStyle = lipgloss.NewStyle().Reverse(true).
			Padding(0, 2, 0, 2).Align(lipgloss.Center)
	oddRowStyle = lipgloss.NewStyle().Faint(false).
			PaddingLeft(1).PaddingRight(1)
	evenRowStyle = lipgloss.NewStyle().Faint(true).
			PaddingLeft(1).PaddingRight(1)
	errorStyle = lipgloss.NewStyle().
			Foreground(lipgloss.AdaptiveColor{Light: "9", Dark: "9"}).
			PaddingLeft(1).PaddingRight(1)

	titleStyle = lipgloss.NewStyle().Bold(true).Padding(1, 4, 1, 4)
)

func newPlainTable(withHeader bool) *lgtable.Table {
	return lgtable.New().
		Border(lipgloss.NormalBorder()).
		BorderStyle(lipgloss.NewStyle().Foreground(lipgloss.Color("99"))).
		StyleFunc(func(row, col int) (s lipgloss.Style) {
			if withHeader && row == lgtable.HeaderRow {
				return headerRowStyle
			}
			if row%2 == 0 {
				s = oddRowStyle
			} else {
				s = evenRowStyle
			}
			if col == 0 {
				s = s.Align(lipgloss.Right)
			}
			return
		})
}

func bytesOf(t *tensors.Dense) string {
	return humanize.Bytes(uint64(t.Size()) * uint64(t.DType().Size()))
}

// printResults prints one row per result of fn, which must all be resolved.
func printResults(fn *ir.Func, results []*async.Value) {
	fmt.Println(titleStyle.Render("Results"))
	table := newPlainTable(true)
	table.Headers("Result", "Type", "Bytes", "Value")
	var numErrors int
	for ii, result := range results {
		name := fmt.Sprintf("#%d", ii)
		value, err := result.Get()
		if err != nil {
			numErrors++
			table.Row(name, fn.Results[ii].String(), "-", errorStyle.Render(truncate(err.Error())))
			continue
		}
		switch v := value.(type) {
		case *tensors.Dense:
			table.Row(name, fn.Results[ii].String(), bytesOf(v), truncate(v.String()))
		case async.Chain:
			table.Row(name, fn.Results[ii].String(), "-", "ready")
		default:
			table.Row(name, fn.Results[ii].String(), "-", truncate(fmt.Sprintf("%v", v)))
		}
	}
	fmt.Println(table.Render())
	if numErrors > 0 {
		fmt.Println(errorStyle.Render(fmt.Sprintf("%d of %d results failed", numErrors, len(results))))
	}
}

// truncate s to at most maxValueWidth runes.
func truncate(s string) string {
	if utf8.RuneCountInString(s) <= maxValueWidth {
		return s
	}
	runes := []rune(s)
	return string(runes[:maxValueWidth-3]) + "..."
}
