package live

import (
	"maps"
	"slices"
	"strconv"
	"strings"
	"time"

	"github.com/charmbracelet/lipgloss"

	"evalstream/internal/progress"
	"evalstream/internal/session"
)

type verdict string

const (
	verdictCorrect   verdict = "correct"
	verdictIncorrect verdict = "incorrect"
	verdictSkipped   verdict = "skipped"
)

// verdictOf grades a sample for display.
func verdictOf(sample progress.Sample) verdict {
	switch {
	case sample.Skipped:
		return verdictSkipped
	case sample.IsCorrect:
		return verdictCorrect
	default:
		return verdictIncorrect
	}
}

// formatIndex formats a sample index.
func formatIndex(index int) string {
	return "#" + strconv.Itoa(index)
}

// formatText collapses whitespace and truncates text for a table cell.
func formatText(text string, limit int) string {
	normalized := strings.Join(strings.Fields(text), " ")
	if limit <= 3 || len(normalized) <= limit {
		return normalized
	}
	return normalized[:limit-3] + "..."
}

// formatVerdict renders a sample verdict with an optional note.
func formatVerdict(sample progress.Sample, noColor bool) string {
	v := verdictOf(sample)
	label := string(v)
	if !sample.IncludedInMetrics && v != verdictSkipped {
		label += " (excluded)"
	}
	if noColor {
		return label
	}
	return verdictStyle(v).Render(label)
}

// formatMetrics renders metrics sorted by name.
func formatMetrics(metrics map[string]float64) string {
	if len(metrics) == 0 {
		return ""
	}
	names := slices.Sorted(maps.Keys(metrics))
	parts := make([]string, 0, len(names))
	for _, name := range names {
		parts = append(parts, name+"="+formatFloat(metrics[name]))
	}
	return strings.Join(parts, "  ")
}

// formatFloat trims trailing zeros from a metric value.
func formatFloat(value float64) string {
	return strconv.FormatFloat(value, 'f', -1, 64)
}

// formatElapsed returns how long the session has been (or was) running.
func formatElapsed(state State, now time.Time) string {
	if state.StartedAt.IsZero() {
		return ""
	}
	end := now
	if !state.FinishedAt.IsZero() {
		end = state.FinishedAt
	}
	return end.Sub(state.StartedAt).Round(100 * time.Millisecond).String()
}

// formatCount renders completed/total, or just completed when total is unknown.
func formatCount(state State) string {
	if state.Total <= 0 {
		return strconv.Itoa(state.Completed) + " done"
	}
	return strconv.Itoa(state.Completed) + "/" + strconv.Itoa(state.Total)
}

// verdictStyle selects a style for a verdict.
func verdictStyle(v verdict) lipgloss.Style {
	color := lipgloss.Color("244")
	switch v {
	case verdictCorrect:
		color = lipgloss.Color("42")
	case verdictIncorrect:
		color = lipgloss.Color("220")
	case verdictSkipped:
		color = lipgloss.Color("246")
	}
	return lipgloss.NewStyle().Foreground(color)
}

// phaseColor selects a color for a session phase.
func phaseColor(phase session.Phase) lipgloss.Color {
	switch phase {
	case session.PhaseRunning:
		return lipgloss.Color("33")
	case session.PhaseCompleted:
		return lipgloss.Color("42")
	case session.PhaseCancelled:
		return lipgloss.Color("220")
	case session.PhaseFailed:
		return lipgloss.Color("196")
	default:
		return lipgloss.Color("244")
	}
}
