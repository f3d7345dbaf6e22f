package watch

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/charmbracelet/lipgloss"

	"github.com/mattjoyce/previewd/internal/events"
)

func renderEventStream(eventLog []events.Event, theme Theme, width int) string {
	innerWidth := width - 4

	if len(eventLog) == 0 {
		content := lipgloss.JoinVertical(lipgloss.Left,
			theme.Title.Render("EVENT STREAM"),
			theme.Dim.Render("  Waiting for events..."),
		)
		return theme.Border.Width(innerWidth).Render(content)
	}

	var lines []string
	for i, e := range eventLog {
		if i >= 10 {
			break
		}
		lines = append(lines, formatEvent(e, theme))
	}

	eventsText := lipgloss.NewStyle().Padding(0, 1).Render(strings.Join(lines, "\n"))
	content := lipgloss.JoinVertical(lipgloss.Left,
		theme.Title.Render("EVENT STREAM"),
		eventsText,
	)

	return theme.Border.Width(innerWidth).Render(content)
}

func formatEvent(e events.Event, theme Theme) string {
	ts := theme.Dim.Render(e.At.Format("15:04:05"))

	// Color the event type based on category
	var typeStyle lipgloss.Style
	switch e.Type {
	case events.TypeBuildSucceeded:
		typeStyle = theme.StatusOK
	case events.TypeBuildFailed:
		typeStyle = theme.StatusFailed
	case events.TypeBuildAccepted:
		typeStyle = theme.StatusRunning
	case events.TypeSweepCompleted:
		typeStyle = theme.Highlight
	default:
		typeStyle = theme.Dim
	}

	typeName := typeStyle.Render(fmt.Sprintf("%-16s", e.Type))
	desc := extractEventDesc(e)

	return fmt.Sprintf("%s %s %s", ts, typeName, desc)
}

func extractEventDesc(e events.Event) string {
	data := make(map[string]any)
	_ = json.Unmarshal(e.Data, &data)

	var parts []string

	if buildID, ok := data["build_id"].(string); ok {
		if len(buildID) > 8 {
			buildID = buildID[:8]
		}
		parts = append(parts, fmt.Sprintf("[%s]", buildID))
	}
	if projectType, ok := data["project_type"].(string); ok && projectType != "" {
		parts = append(parts, projectType)
	}
	if outputDir, ok := data["output_dir"].(string); ok && outputDir != "" {
		parts = append(parts, "→ "+outputDir)
	}
	if errorKind, ok := data["error_kind"].(string); ok && errorKind != "" {
		parts = append(parts, errorKind)
	}
	if deleted, ok := data["deleted"].(float64); ok {
		parts = append(parts, fmt.Sprintf("deleted=%d", int(deleted)))
	}

	if len(parts) == 0 {
		raw := string(e.Data)
		if len(raw) > 60 {
			raw = raw[:60] + "..."
		}
		return raw
	}

	return strings.Join(parts, " ")
}
