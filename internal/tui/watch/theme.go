// Package watch implements the live training monitor behind
// "qadoc training watch".
package watch

import (
	"github.com/charmbracelet/lipgloss"

	"github.com/dsj7419/qa-doc-convert/internal/training"
)

// Theme keeps every color of the monitor in one place.
type Theme struct {
	StatusOK      lipgloss.Style
	StatusRunning lipgloss.Style
	StatusFailed  lipgloss.Style
	StatusIdle    lipgloss.Style

	Border    lipgloss.Style
	Title     lipgloss.Style
	Dim       lipgloss.Style
	Highlight lipgloss.Style

	TickerActive   lipgloss.Style
	TickerInactive lipgloss.Style
}

func NewDefaultTheme() Theme {
	purple := lipgloss.Color("#874BFD")

	return Theme{
		StatusOK:      lipgloss.NewStyle().Foreground(lipgloss.Color("#00FF00")),
		StatusRunning: lipgloss.NewStyle().Foreground(lipgloss.Color("#FFFF00")),
		StatusFailed:  lipgloss.NewStyle().Foreground(lipgloss.Color("#FF0000")),
		StatusIdle:    lipgloss.NewStyle().Foreground(lipgloss.Color("#888888")),

		Border: lipgloss.NewStyle().
			Border(lipgloss.RoundedBorder()).
			BorderForeground(purple),
		Title: lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("#FAFAFA")).
			Padding(0, 1),
		Dim:       lipgloss.NewStyle().Foreground(lipgloss.Color("#888888")),
		Highlight: lipgloss.NewStyle().Foreground(lipgloss.Color("#E5C07B")),

		TickerActive:   lipgloss.NewStyle().Foreground(lipgloss.Color("#00FF00")),
		TickerInactive: lipgloss.NewStyle().Foreground(lipgloss.Color("#444444")),
	}
}

// PhaseStyle picks the color for a progress phase.
func (t Theme) PhaseStyle(p training.Phase) lipgloss.Style {
	switch p {
	case training.PhaseCompleted:
		return t.StatusOK
	case training.PhaseError, training.PhaseInterrupted:
		return t.StatusFailed
	case training.PhaseIdle, "":
		return t.StatusIdle
	default:
		return t.StatusRunning
	}
}

// RunStatusStyle picks the color for a recorded run status.
func (t Theme) RunStatusStyle(status string) lipgloss.Style {
	switch status {
	case "completed":
		return t.StatusOK
	case "running":
		return t.StatusRunning
	case "failed", "interrupted", "stopped", "completed_no_artifact_export":
		return t.StatusFailed
	default:
		return t.Dim
	}
}
