package report

import (
	"io"

	"github.com/charmbracelet/lipgloss"
)

// Theme holds the console styles. Styles come from a renderer bound to the
// output writer, so plain writers get plain text.
type Theme struct {
	Suite   lipgloss.Style
	Passed  lipgloss.Style
	Failed  lipgloss.Style
	Skipped lipgloss.Style
	Step    lipgloss.Style
	Comment lipgloss.Style
	Muted   lipgloss.Style
	Banner  lipgloss.Style
}

func NewTheme(w io.Writer) Theme {
	r := lipgloss.NewRenderer(w)
	return Theme{
		Suite:   r.NewStyle().Foreground(lipgloss.Color("#7C3AED")).Bold(true),
		Passed:  r.NewStyle().Foreground(lipgloss.Color("#10B981")),
		Failed:  r.NewStyle().Foreground(lipgloss.Color("#EF4444")).Bold(true),
		Skipped: r.NewStyle().Foreground(lipgloss.Color("#F59E0B")),
		Step:    r.NewStyle().Foreground(lipgloss.Color("#9CA3AF")),
		Comment: r.NewStyle().Foreground(lipgloss.Color("#06B6D4")).Italic(true),
		Muted:   r.NewStyle().Foreground(lipgloss.Color("#6B7280")),
		Banner: r.NewStyle().
			Foreground(lipgloss.Color("#FFFFFF")).
			Bold(true).
			Padding(0, 1),
	}
}
