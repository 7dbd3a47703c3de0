package main

import (
	"fmt"
	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/lipgloss/table"
	"github.com/janpfeifer/landmarks/internal/landmarks"
	"golang.org/x/term"
	"os"
	"path/filepath"
)

var (
	headerStyle    = lipgloss.NewStyle().Bold(true).Padding(0, 1)
	cellStyle      = lipgloss.NewStyle().Padding(0, 1)
	notVisibleCell = lipgloss.NewStyle().Padding(0, 1).Foreground(lipgloss.Color("8"))
)

// printPredictions prints a table with one row per image and one column per landmark.
func printPredictions(layout *landmarks.Layout, paths []string, predictions []*landmarks.Prediction, color bool) {
	headers := append([]string{"image"}, layout.Landmarks...)
	rows := make([][]string, len(predictions))
	for ii, prediction := range predictions {
		row := make([]string, 0, len(headers))
		row = append(row, filepath.Base(paths[ii]))
		for jj, visible := range prediction.Visible {
			if !visible {
				row = append(row, "-")
				continue
			}
			point := prediction.Coordinates[jj]
			row = append(row, fmt.Sprintf("%.3f,%.3f", point[0], point[1]))
		}
		rows[ii] = row
	}

	t := table.New().
		Border(lipgloss.RoundedBorder()).
		Headers(headers...).
		Rows(rows...)
	if color {
		t = t.StyleFunc(func(row, col int) lipgloss.Style {
			switch {
			case row == table.HeaderRow:
				return headerStyle
			case col > 0 && rows[row][col] == "-":
				return notVisibleCell
			}
			return cellStyle
		})
	}
	if width, _, err := term.GetSize(int(os.Stdout.Fd())); err == nil && width > 0 {
		t = t.Width(width)
	}
	fmt.Println(t.Render())
}
