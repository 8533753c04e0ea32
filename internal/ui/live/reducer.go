package live

import (
	"fmt"

	"evalstream/internal/progress"
	"evalstream/internal/session"
)

// Reduce folds a session snapshot into the UI state.
func Reduce(state State, snap session.Snapshot) State {
	if snap.ID != state.SessionID {
		state = State{SessionID: snap.ID}
	}
	previous := state

	state.Dataset = snap.Job.DatasetID
	state.Model = snap.Job.ModelID
	state.Phase = snap.Phase
	state.StartedAt = snap.StartedAt
	state.FinishedAt = snap.FinishedAt
	state.Total = snap.Total
	state.Completed = snap.Completed
	state.Fraction = snap.Fraction()
	state.Metrics = snap.Metrics
	state.Samples = snap.RecentSamples
	state.Malformed = snap.Diagnostics.MalformedLines
	state.LastError = snap.LastError
	state.Final = snap.FinalResult
	state = countVerdicts(state, snap.RecentSamples)

	if message := formatLastEvent(previous, state); message != "" {
		state.LastEvent = message
	}
	return state
}

// countVerdicts tallies samples newer than the last counted index.
func countVerdicts(state State, samples []progress.Sample) State {
	for _, sample := range samples {
		if sample.Index <= state.LastSeen {
			continue
		}
		switch verdictOf(sample) {
		case verdictSkipped:
			state.Counts.Skipped++
		case verdictCorrect:
			state.Counts.Correct++
		default:
			state.Counts.Incorrect++
		}
		state.LastSeen = sample.Index
	}
	return state
}

// formatLastEvent describes what changed between two states, if anything notable.
func formatLastEvent(previous, next State) string {
	switch {
	case next.Phase != previous.Phase && next.Phase.Terminal():
		return "Session " + string(next.Phase)
	case next.LastError != "" && next.LastError != previous.LastError:
		return "Error: " + next.LastError
	case next.Malformed > previous.Malformed:
		return fmt.Sprintf("Skipped %d malformed line(s)", next.Malformed)
	case next.Phase != previous.Phase && next.Phase == session.PhaseRunning:
		return "Session started"
	}
	return ""
}
