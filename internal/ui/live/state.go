package live

import (
	"time"

	"evalstream/internal/evalevent"
	"evalstream/internal/progress"
	"evalstream/internal/session"
)

// VerdictCounts tallies graded samples seen during a session.
type VerdictCounts struct {
	Correct   int
	Incorrect int
	Skipped   int
}

// State captures the live UI state for one session.
type State struct {
	SessionID  string
	Dataset    string
	Model      string
	Phase      session.Phase
	StartedAt  time.Time
	FinishedAt time.Time
	Total      int
	Completed  int
	Fraction   float64
	Metrics    map[string]float64
	Samples    []progress.Sample
	Counts     VerdictCounts
	// LastSeen is the highest sample index already counted.
	LastSeen  int
	Malformed int
	LastError string
	Final     *evalevent.Summary
	LastEvent string
}
