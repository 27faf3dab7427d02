package reporting

import (
	"fmt"
	"io"
	"strings"

	"github.com/charmbracelet/lipgloss"
	"github.com/mattn/go-runewidth"
)

const maxCellWidth = 48

// Table renders aligned columns. Cells wider than maxCellWidth are truncated.
type Table struct {
	Title   string
	Headers []string
	Rows    [][]string
}

// Render writes the table to w using the capabilities of w for styling.
func (t Table) Render(w io.Writer) {
	styles := NewStyles(lipgloss.NewRenderer(w))

	widths := make([]int, len(t.Headers))
	for i, h := range t.Headers {
		widths[i] = runewidth.StringWidth(h)
	}
	for _, row := range t.Rows {
		for i := range widths {
			if i < len(row) {
				if cw := runewidth.StringWidth(truncate(row[i])); cw > widths[i] {
					widths[i] = cw
				}
			}
		}
	}

	if t.Title != "" {
		fmt.Fprintln(w, styles.Banner.Render(t.Title))
	}
	header := make([]string, len(t.Headers))
	for i, h := range t.Headers {
		// pad before styling so escape codes do not count towards the width
		header[i] = styles.Header.Render(runewidth.FillRight(h, widths[i]))
	}
	fmt.Fprintln(w, strings.TrimRight(strings.Join(header, "  "), " "))

	for _, row := range t.Rows {
		cells := make([]string, len(widths))
		for i := range widths {
			cell := ""
			if i < len(row) {
				cell = truncate(row[i])
			}
			cells[i] = runewidth.FillRight(cell, widths[i])
		}
		fmt.Fprintln(w, strings.TrimRight(strings.Join(cells, "  "), " "))
	}
}

func truncate(s string) string {
	return runewidth.Truncate(s, maxCellWidth, "…")
}
