package main

import (
	"fmt"
	"sort"
	"strings"

	"github.com/charmbracelet/lipgloss"

	"github.com/san-kum/pimd/internal/storage"
)

var (
	panel = lipgloss.NewStyle().
		Border(lipgloss.RoundedBorder()).
		BorderForeground(lipgloss.Color("#444466")).
		Padding(0, 2)

	titleStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("#00ffff"))

	labelStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#888899")).
			Width(18)

	valueStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#00ccff")).
			Bold(true)

	subtle = lipgloss.NewStyle().
		Foreground(lipgloss.Color("#666688"))

	doneStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("#00ff88"))

	stoppedStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("#ffaa00"))

	errorStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("#ff4444"))
)

func statusText(meta storage.RunMetadata) string {
	switch {
	case meta.Status == "failed":
		return errorStyle.Render("failed")
	case meta.Stopped:
		return stoppedStyle.Render("stopped")
	default:
		return doneStyle.Render(meta.Status)
	}
}

// renderSummary draws the end-of-run panel.
func renderSummary(meta storage.RunMetadata) string {
	var b strings.Builder
	row := func(label, value string) {
		b.WriteString(labelStyle.Render(label) + valueStyle.Render(value) + "\n")
	}

	b.WriteString(titleStyle.Render("pimd run "+meta.ID) + "\n\n")
	row("status", statusText(meta))
	row("config", meta.Config)
	row("provider", meta.Provider)
	row("beads", fmt.Sprintf("%d", meta.NBeads))
	row("seed", fmt.Sprintf("%d", meta.Seed))
	row("steps", fmt.Sprintf("%d -> %d of %d", meta.StartStep, meta.FinalStep, meta.StepsRequested))
	row("wall time", fmt.Sprintf("%.2fs", meta.WallTime))
	row("energy drift", fmt.Sprintf("%.3e", meta.EnergyDrift))

	names := make([]string, 0, len(meta.Metrics))
	for name := range meta.Metrics {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		row(name, fmt.Sprintf("%.6g", meta.Metrics[name]))
	}
	if meta.Error != "" {
		b.WriteString("\n" + errorStyle.Render(meta.Error) + "\n")
	}
	if len(meta.Files) > 0 {
		b.WriteString("\n" + subtle.Render(strings.Join(meta.Files, "\n")))
	}
	return panel.Render(strings.TrimRight(b.String(), "\n"))
}
