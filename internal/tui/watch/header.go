package watch

import (
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/lipgloss"

	"github.com/dsj7419/qa-doc-convert/internal/training"
)

func renderHeader(m Model, innerWidth int) string {
	theme := m.theme

	state := theme.StatusIdle.Render("IDLE")
	switch {
	case !m.connected:
		state = theme.StatusFailed.Render("CONNECTING")
	case m.status.IsTraining:
		state = theme.StatusRunning.Render("TRAINING")
	case m.status.RecoveryPending:
		state = theme.Highlight.Render("RECOVERY PENDING")
	}

	lastEvent := "never"
	if !m.activity.LastEvent().IsZero() {
		lastEvent = fmt.Sprintf("%s ago", time.Since(m.activity.LastEvent()).Round(time.Second))
	}

	titleText := fmt.Sprintf(" QADOC TRAINING %s", theme.Highlight.Render(m.ticker.Current()))
	clock := theme.Dim.Render(time.Now().Format("15:04:05"))
	pad := max(innerWidth-lipgloss.Width(titleText)-lipgloss.Width(clock)-4, 1)
	titleLine := titleText + strings.Repeat(" ", pad) + clock + " "

	needs := "up to date"
	if m.status.NeedsTraining {
		needs = "new examples since last training"
	}
	statsLine := fmt.Sprintf(" %s  %s  %s", state, theme.Dim.Render(m.client.BaseURL()), needs)
	activityLine := fmt.Sprintf(" Last event: %s %s", lastEvent, m.activity.Render(theme))

	return theme.Border.Width(innerWidth).Render(lipgloss.JoinVertical(lipgloss.Left,
		titleLine,
		statsLine,
		activityLine,
	))
}

func renderProgress(m Model, innerWidth int) string {
	theme := m.theme
	p := m.status.Progress

	phase := p.Phase
	if phase == "" {
		phase = training.PhaseIdle
	}
	lines := []string{
		theme.Title.Render("PROGRESS"),
		fmt.Sprintf(" %s  %s", theme.PhaseStyle(phase).Render(strings.ToUpper(string(phase))), p.Message),
	}
	if m.status.IsTraining || phase == training.PhaseCompleted {
		lines = append(lines, " "+m.bar.ViewAs(m.percent()))
	}
	if p.Step > 0 || p.Epoch > 0 {
		lines = append(lines, theme.Dim.Render(fmt.Sprintf(" step %d  epoch %.2f", p.Step, p.Epoch)))
	}
	if m.status.RunID != "" {
		lines = append(lines, theme.Dim.Render(" run "+m.status.RunID))
	}
	if m.status.RecoveryCheckpoint != "" {
		lines = append(lines, theme.Dim.Render(" recovery checkpoint "+m.status.RecoveryCheckpoint))
	}
	return theme.Border.Width(innerWidth).Render(lipgloss.JoinVertical(lipgloss.Left, lines...))
}
