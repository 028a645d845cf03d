// Package style holds the lipgloss styles shared by the CLI and the live view.
package style

import (
	"fmt"
	"strings"

	"github.com/charmbracelet/lipgloss"
)

var (
	ColorRed    = lipgloss.Color("#FF5F5F")
	ColorGreen  = lipgloss.Color("#5FD75F")
	ColorYellow = lipgloss.Color("#FFD75F")
	ColorCyan   = lipgloss.Color("#5FD7FF")
	ColorGray   = lipgloss.Color("#808080")
	ColorWhite  = lipgloss.Color("#FFFFFF")
)

var (
	Title = lipgloss.NewStyle().
		Bold(true).
		Foreground(ColorCyan)

	Label = lipgloss.NewStyle().
		Foreground(ColorGray).
		Width(12)

	Value = lipgloss.NewStyle().
		Foreground(ColorWhite)

	OK = lipgloss.NewStyle().
		Foreground(ColorGreen).
		Bold(true)

	Warn = lipgloss.NewStyle().
		Foreground(ColorYellow).
		Bold(true)

	Error = lipgloss.NewStyle().
		Foreground(ColorRed).
		Bold(true)

	Dim = lipgloss.NewStyle().
		Foreground(ColorGray)

	Panel = lipgloss.NewStyle().
		Border(lipgloss.RoundedBorder()).
		BorderForeground(ColorGray).
		Padding(0, 1)
)

// KV renders one aligned "label value" row.
func KV(label string, value any) string {
	return Label.Render(label) + Value.Render(fmt.Sprint(value))
}

// Badge renders a short state marker coloured by severity.
func Badge(state string) string {
	switch strings.ToLower(state) {
	case "tracking", "running", "ok", "synced", "granted", "available":
		return OK.Render("● " + state)
	case "paused", "queued", "localonly", "skipped", "pending", "unknown":
		return Warn.Render("● " + state)
	case "failed", "denied", "error", "unavailable":
		return Error.Render("● " + state)
	default:
		return Dim.Render("○ " + state)
	}
}

// Check renders a doctor-style pass/fail line.
func Check(name string, ok bool, detail string) string {
	mark := OK.Render("✓")
	if !ok {
		mark = Error.Render("✗")
	}
	line := mark + " " + Value.Render(name)
	if detail != "" {
		line += " " + Dim.Render(detail)
	}
	return line
}
