package watch

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/charmbracelet/lipgloss"

	"github.com/dsj7419/qa-doc-convert/internal/events"
)

const eventsShown = 10

func renderEventStream(eventLog []events.Event, theme Theme, innerWidth int) string {
	if len(eventLog) == 0 {
		content := lipgloss.JoinVertical(lipgloss.Left,
			theme.Title.Render("EVENT STREAM"),
			theme.Dim.Render("  Waiting for events..."),
		)
		return theme.Border.Width(innerWidth).Render(content)
	}

	var lines []string
	for i, e := range eventLog {
		if i >= eventsShown {
			break
		}
		lines = append(lines, formatEvent(e, theme))
	}

	content := lipgloss.JoinVertical(lipgloss.Left,
		theme.Title.Render("EVENT STREAM"),
		lipgloss.NewStyle().Padding(0, 1).Render(strings.Join(lines, "\n")),
	)
	return theme.Border.Width(innerWidth).Render(content)
}

func formatEvent(e events.Event, theme Theme) string {
	ts := theme.Dim.Render(e.At.Local().Format("15:04:05"))

	data := map[string]any{}
	_ = json.Unmarshal(e.Data, &data)

	var typeStyle lipgloss.Style
	switch e.Type {
	case events.TypeFinished:
		status, _ := data["status"].(string)
		typeStyle = theme.RunStatusStyle(status)
	case events.TypeStarted, events.TypeStopRequested:
		typeStyle = theme.StatusRunning
	case events.TypeDatasetChanged:
		typeStyle = theme.Highlight
	default:
		typeStyle = theme.Dim
	}

	return fmt.Sprintf("%s %s %s", ts, typeStyle.Render(fmt.Sprintf("%-24s", e.Type)), describeEvent(data, e.Data))
}

// describeEvent picks the few fields worth a glance from an event payload.
func describeEvent(data map[string]any, raw json.RawMessage) string {
	var parts []string

	if runID, ok := data["run_id"].(string); ok && runID != "" {
		if len(runID) > 8 {
			runID = runID[:8]
		}
		parts = append(parts, fmt.Sprintf("[%s]", runID))
	}
	if status, ok := data["status"].(string); ok {
		parts = append(parts, status)
	}
	if msg, ok := data["message"].(string); ok && msg != "" {
		parts = append(parts, msg)
	}
	if total, ok := data["total_examples"].(float64); ok {
		parts = append(parts, fmt.Sprintf("%d examples", int(total)))
	}
	if errText, ok := data["error"].(string); ok {
		parts = append(parts, errText)
	}

	if len(parts) == 0 {
		s := string(raw)
		if len(s) > 60 {
			s = s[:60] + "..."
		}
		return s
	}
	return strings.Join(parts, " ")
}
