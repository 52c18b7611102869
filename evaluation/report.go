// Copyright 2025-2026 The Avalanche-Go Authors. SPDX-License-Identifier: Apache-2.0

package evaluation

import (
	"fmt"
	"strings"

	"github.com/charmbracelet/lipgloss"
	lgtable "github.com/charmbracelet/lipgloss/table"
)

var (
	headerStyle = lipgloss.NewStyle().Bold(true).Padding(0, 1)
	cellStyle   = lipgloss.NewStyle().Align(lipgloss.Right).Padding(0, 1)
	labelStyle  = lipgloss.NewStyle().Padding(0, 1)
)

// Report renders the collector's accuracy matrix as a table: one row per
// evaluation pass, one column per experience, plus the per-pass average.
// Cells of experiences not yet trained when the pass ran are still filled;
// that is the point of the matrix: it shows both forgetting (below the
// diagonal) and forward transfer (above it).
func Report(c *Collector) string {
	numPasses := c.NumPasses()
	if numPasses == 0 {
		return "(no evaluation results)\n"
	}

	// Columns: union of all experiences ever evaluated.
	names := make(map[int]string)
	maxIdx := -1
	for p := range numPasses {
		results, _ := c.Pass(p)
		for _, r := range results {
			names[r.ExpIndex] = r.ExpName
			if r.ExpIndex > maxIdx {
				maxIdx = r.ExpIndex
			}
		}
	}

	headers := []string{"After training"}
	for idx := 0; idx <= maxIdx; idx++ {
		name := names[idx]
		if name == "" {
			name = fmt.Sprintf("exp %d", idx)
		}
		headers = append(headers, name)
	}
	headers = append(headers, "Avg")

	table := lgtable.New().
		Border(lipgloss.RoundedBorder()).
		StyleFunc(func(row, col int) lipgloss.Style {
			if row == lgtable.HeaderRow {
				return headerStyle
			}
			if col == 0 {
				return labelStyle
			}
			return cellStyle
		}).
		Headers(headers...)

	for p := range numPasses {
		_, trained := c.Pass(p)
		row := []string{fmt.Sprintf("%d experiences", trained)}
		for idx := 0; idx <= maxIdx; idx++ {
			if accuracy, ok := c.Accuracy(p, idx); ok {
				row = append(row, formatAccuracy(accuracy))
			} else {
				row = append(row, "-")
			}
		}
		row = append(row, formatAccuracy(c.AverageAccuracy(p)))
		table.Row(row...)
	}

	var sb strings.Builder
	sb.WriteString(table.String())
	sb.WriteString("\n")
	if numPasses > 1 {
		sb.WriteString(fmt.Sprintf("Average accuracy: %s, average forgetting: %s\n",
			formatAccuracy(c.AverageAccuracy(numPasses-1)),
			formatAccuracy(c.AverageForgetting())))
	} else {
		sb.WriteString(fmt.Sprintf("Average accuracy: %s\n",
			formatAccuracy(c.AverageAccuracy(numPasses-1))))
	}
	return sb.String()
}

func formatAccuracy(accuracy float64) string {
	return fmt.Sprintf("%.2f%%", 100*accuracy)
}
