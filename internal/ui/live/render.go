package live

import (
	"strconv"
	"time"

	"github.com/charmbracelet/bubbles/progress"
	"github.com/charmbracelet/lipgloss"
)

// renderHeader renders the session header line.
func renderHeader(state State, now time.Time, noColor bool) string {
	line := "Job " + state.Dataset + " / " + state.Model
	if state.Phase != "" {
		line += " | " + stylize(string(state.Phase), noColor, phaseColor(state.Phase))
	}
	if elapsed := formatElapsed(state, now); elapsed != "" {
		line += " | Elapsed: " + elapsed
	}
	return stylize(line, noColor, lipgloss.Color("33"))
}

// renderProgress renders the progress bar and counts.
func renderProgress(state State, bar progress.Model) string {
	line := bar.ViewAs(state.Fraction) + "  " + formatCount(state)
	counts := state.Counts
	line += "  Correct: " + strconv.Itoa(counts.Correct) +
		" Incorrect: " + strconv.Itoa(counts.Incorrect) +
		" Skipped: " + strconv.Itoa(counts.Skipped)
	if state.Malformed > 0 {
		line += " Malformed: " + strconv.Itoa(state.Malformed)
	}
	return line
}

// renderMetrics renders the running metrics line.
func renderMetrics(state State, noColor bool) string {
	metrics := formatMetrics(state.Metrics)
	if metrics == "" {
		return stylize("Metrics: n/a", noColor, lipgloss.Color("242"))
	}
	return stylize("Metrics: "+metrics, noColor, lipgloss.Color("242"))
}

// renderFooter renders the final result, last error, or last event.
func renderFooter(state State, noColor bool) string {
	switch {
	case state.Final != nil:
		line := "Final: " + formatMetrics(state.Final.Metrics)
		if state.Final.JobID != "" {
			line += " (job " + state.Final.JobID + ")"
		}
		return stylize(line, noColor, lipgloss.Color("42"))
	case state.LastError != "":
		return stylize("Last error: "+state.LastError, noColor, lipgloss.Color("196"))
	case state.LastEvent != "":
		return stylize("Last event: "+state.LastEvent, noColor, lipgloss.Color("244"))
	}
	return ""
}

// renderHelp renders the key hint line.
func renderHelp(state State, noColor bool) string {
	if state.Phase.Terminal() {
		return stylize("q: quit", noColor, lipgloss.Color("240"))
	}
	return stylize("q: cancel", noColor, lipgloss.Color("240"))
}

// stylize applies optional color styling.
func stylize(text string, noColor bool, color lipgloss.Color) string {
	if noColor {
		return text
	}
	return lipgloss.NewStyle().Foreground(color).Render(text)
}
