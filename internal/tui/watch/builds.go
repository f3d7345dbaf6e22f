package watch

import (
	"encoding/json"
	"fmt"
	"sort"
	"time"

	"github.com/charmbracelet/bubbles/table"
	"github.com/charmbracelet/lipgloss"

	"github.com/mattjoyce/previewd/internal/events"
)

// BuildState tracks a build discovered from the event stream.
type BuildState struct {
	ID          string
	ProjectType string
	OutputDir   string
	Status      string
	ErrorKind   string
	DurationMs  int64
	StartedAt   time.Time
	UpdatedAt   time.Time
}

// updateBuildState processes one event and updates build tracking.
func updateBuildState(builds map[string]*BuildState, e events.Event) {
	var payload events.BuildEvent
	if err := json.Unmarshal(e.Data, &payload); err != nil || payload.BuildID == "" {
		return
	}

	b, ok := builds[payload.BuildID]
	if !ok {
		b = &BuildState{ID: payload.BuildID, StartedAt: time.Now()}
		builds[payload.BuildID] = b
	}
	b.UpdatedAt = time.Now()

	switch e.Type {
	case events.TypeBuildAccepted:
		b.Status = "building"
	case events.TypeBuildSucceeded:
		b.Status = "succeeded"
		b.ProjectType = payload.ProjectType
		b.OutputDir = payload.OutputDir
		b.DurationMs = payload.DurationMs
	case events.TypeBuildFailed:
		b.Status = "failed"
		if payload.ProjectType != "" {
			b.ProjectType = payload.ProjectType
		}
		b.ErrorKind = payload.ErrorKind
	}
}

const maxListedBuilds = 10

func newBuildTable() table.Model {
	t := table.New(
		table.WithColumns([]table.Column{
			{Title: "ID", Width: 10},
			{Title: "Status", Width: 10},
			{Title: "Type", Width: 10},
			{Title: "Output", Width: 16},
			{Title: "Duration", Width: 10},
			{Title: "Error", Width: 18},
		}),
		table.WithFocused(true),
		table.WithHeight(maxListedBuilds),
	)

	s := table.DefaultStyles()
	s.Header = s.Header.
		BorderStyle(lipgloss.NormalBorder()).
		BorderForeground(lipgloss.Color("240")).
		BorderBottom(true).
		Bold(false)
	s.Selected = s.Selected.
		Foreground(lipgloss.Color("229")).
		Background(lipgloss.Color("57")).
		Bold(false)
	t.SetStyles(s)
	return t
}

// buildRows renders the tracked builds as table rows, newest first.
func buildRows(builds map[string]*BuildState) []table.Row {
	sorted := make([]*BuildState, 0, len(builds))
	for _, b := range builds {
		sorted = append(sorted, b)
	}
	sort.Slice(sorted, func(i, j int) bool {
		return sorted[i].UpdatedAt.After(sorted[j].UpdatedAt)
	})
	if len(sorted) > maxListedBuilds {
		sorted = sorted[:maxListedBuilds]
	}

	rows := make([]table.Row, 0, len(sorted))
	for _, b := range sorted {
		id := b.ID
		if len(id) > 8 {
			id = id[:8]
		}
		duration := ""
		if b.DurationMs > 0 {
			duration = fmt.Sprintf("%dms", b.DurationMs)
		}
		rows = append(rows, table.Row{id, b.Status, b.ProjectType, b.OutputDir, duration, b.ErrorKind})
	}
	return rows
}

func renderBuilds(t table.Model, theme Theme, width int) string {
	innerWidth := width - 4

	body := t.View()
	if len(t.Rows()) == 0 {
		body = theme.Dim.Render("  No builds yet")
	}

	content := lipgloss.JoinVertical(lipgloss.Left,
		theme.Title.Render("BUILDS"),
		body,
	)
	return theme.Border.Width(innerWidth).Render(content)
}
