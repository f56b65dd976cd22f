package ui

import (
	"strings"

	"github.com/charmbracelet/lipgloss"
)

// RenderTable lays out rows in left-aligned columns under a styled header.
// Cells may already contain styling; widths are measured without it.
func RenderTable(headers []string, rows [][]string) string {
	widths := make([]int, len(headers))
	for i, h := range headers {
		widths[i] = lipgloss.Width(h)
	}
	for _, row := range rows {
		for i := 0; i < len(row) && i < len(widths); i++ {
			if w := lipgloss.Width(row[i]); w > widths[i] {
				widths[i] = w
			}
		}
	}

	var sb strings.Builder
	line := func(cells []string, style *lipgloss.Style) {
		for i := range widths {
			cell := ""
			if i < len(cells) {
				cell = cells[i]
			}
			pad := widths[i] - lipgloss.Width(cell)
			if style != nil {
				cell = style.Render(cell)
			}
			sb.WriteString(cell)
			if i < len(widths)-1 {
				sb.WriteString(strings.Repeat(" ", pad+2))
			}
		}
		sb.WriteString("\n")
	}

	line(headers, &HeaderStyle)
	for _, row := range rows {
		line(row, nil)
	}
	return sb.String()
}
