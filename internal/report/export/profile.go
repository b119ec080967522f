package export

import (
	"fmt"
	"strings"

	"github.com/charmbracelet/lipgloss"
	"github.com/guptarohit/asciigraph"

	"provider-presence/internal/presence/domain/timeline"
)

var (
	titleStyle = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("#7D56F4"))
	labelStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("#888888"))
)

// RenderProfile plots total online hours per hour of day.
func RenderProfile(rows []timeline.BucketAggregate, width, height int) string {
	if len(rows) == 0 {
		return labelStyle.Render("No data available")
	}
	if width < 24 {
		width = 24
	}
	if height < 3 {
		height = 3
	}

	profile := timeline.HourlyProfile(rows)
	series := make([]float64, len(profile))
	for hour, seconds := range profile {
		series[hour] = seconds / timeline.BucketSeconds
	}
	return asciigraph.Plot(series,
		asciigraph.Height(height),
		asciigraph.Width(width),
		asciigraph.Caption("online hours by hour of day (00-23)"),
	)
}

// RenderSummary formats the run counters for terminal output.
func RenderSummary(summary timeline.Summary, droppedEvents int) string {
	var b strings.Builder
	b.WriteString(titleStyle.Render("Provider online seconds"))
	b.WriteString("\n")
	fmt.Fprintf(&b, "%s %d\n", labelStyle.Render("rows:"), summary.Rows)
	fmt.Fprintf(&b, "%s %s\n", labelStyle.Render("total seconds online:"), FormatSeconds(summary.TotalSecondsOnline))
	fmt.Fprintf(&b, "%s %d\n", labelStyle.Render("buckets with nonzero seconds:"), summary.OnlineBuckets)
	fmt.Fprintf(&b, "%s %d\n", labelStyle.Render("dropped events:"), droppedEvents)
	return b.String()
}
