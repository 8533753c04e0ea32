package plain

import (
	"fmt"
	"io"
	"maps"
	"slices"
	"strconv"
	"strings"
	"time"

	"github.com/charmbracelet/glamour"

	"evalstream/internal/session"
)

// SummaryOptions controls how the final summary is rendered.
type SummaryOptions struct {
	// Styled renders the Markdown for a terminal; raw Markdown is written otherwise.
	Styled bool
	// Style names a glamour standard style; "dark" when empty.
	Style string
	// Width wraps rendered output; 80 when zero.
	Width int
}

// WriteSummary writes the end-of-session report.
func WriteSummary(w io.Writer, snap session.Snapshot, opts SummaryOptions) error {
	markdown := SummaryMarkdown(snap)
	if !opts.Styled {
		_, err := io.WriteString(w, markdown)
		return err
	}
	style := opts.Style
	if style == "" {
		style = "dark"
	}
	width := opts.Width
	if width <= 0 {
		width = 80
	}
	renderer, err := glamour.NewTermRenderer(
		glamour.WithStandardStyle(style),
		glamour.WithWordWrap(width),
	)
	if err != nil {
		return fmt.Errorf("create markdown renderer: %w", err)
	}
	rendered, err := renderer.Render(markdown)
	if err != nil {
		return fmt.Errorf("render summary: %w", err)
	}
	_, err = io.WriteString(w, rendered)
	return err
}

// SummaryMarkdown builds the Markdown report for a snapshot.
func SummaryMarkdown(snap session.Snapshot) string {
	var b strings.Builder
	fmt.Fprintf(&b, "# Evaluation %s\n\n", snap.Phase)

	b.WriteString("| Field | Value |\n|---|---|\n")
	row := func(name, value string) {
		if value != "" {
			fmt.Fprintf(&b, "| %s | %s |\n", name, escapeCell(value))
		}
	}
	row("Dataset", snap.Job.DatasetID)
	row("Model", snap.Job.ModelID)
	row("Prompts", countLabel(snap))
	if !snap.StartedAt.IsZero() && !snap.FinishedAt.IsZero() {
		row("Elapsed", elapsedLabel(snap))
	}
	if snap.FinalResult != nil {
		row("Job ID", snap.FinalResult.JobID)
		if snap.FinalResult.Correct > 0 {
			row("Correct", strconv.Itoa(snap.FinalResult.Correct))
		}
	}
	row("Request ID", snap.RequestID)
	if n := snap.Diagnostics.MalformedLines; n > 0 {
		row("Malformed lines", strconv.Itoa(n))
	}

	if len(snap.Metrics) > 0 {
		b.WriteString("\n## Metrics\n\n| Metric | Value |\n|---|---|\n")
		for _, name := range slices.Sorted(maps.Keys(snap.Metrics)) {
			fmt.Fprintf(&b, "| %s | %s |\n", escapeCell(name), formatFloat(snap.Metrics[name]))
		}
	}
	if snap.LastError != "" {
		fmt.Fprintf(&b, "\n## Last error\n\n%s\n", snap.LastError)
	}
	return b.String()
}

// countLabel renders completed/total, or just completed when total is unknown.
func countLabel(snap session.Snapshot) string {
	if snap.Total <= 0 {
		return strconv.Itoa(snap.Completed)
	}
	return strconv.Itoa(snap.Completed) + "/" + strconv.Itoa(snap.Total)
}

// elapsedLabel prefers the producer-reported elapsed time over wall time.
func elapsedLabel(snap session.Snapshot) string {
	if snap.ElapsedSeconds > 0 {
		return (time.Duration(snap.ElapsedSeconds * float64(time.Second))).Round(100 * time.Millisecond).String()
	}
	return snap.FinishedAt.Sub(snap.StartedAt).Round(100 * time.Millisecond).String()
}

// metricsLine renders metrics sorted by name.
func metricsLine(metrics map[string]float64) string {
	if len(metrics) == 0 {
		return ""
	}
	parts := make([]string, 0, len(metrics))
	for _, name := range slices.Sorted(maps.Keys(metrics)) {
		parts = append(parts, name+"="+formatFloat(metrics[name]))
	}
	return strings.Join(parts, " ")
}

func formatFloat(value float64) string {
	return strconv.FormatFloat(value, 'f', -1, 64)
}

func escapeCell(value string) string {
	return strings.ReplaceAll(strings.Join(strings.Fields(value), " "), "|", `\|`)
}
