package plain

import (
	"fmt"
	"io"
	"os"
	"sync"

	"evalstream/internal/session"
)

// Printer writes one line per notable snapshot change and implements session.Observer.
type Printer struct {
	mu   sync.Mutex
	w    io.Writer
	last session.Snapshot
	seen bool
}

// NewPrinter returns a printer writing to w (stdout when nil).
func NewPrinter(w io.Writer) *Printer {
	if w == nil {
		w = os.Stdout
	}
	return &Printer{w: w}
}

// OnSnapshot prints what changed since the previous snapshot.
func (p *Printer) OnSnapshot(snap session.Snapshot) {
	p.mu.Lock()
	defer p.mu.Unlock()
	prev := p.last
	if !p.seen || prev.ID != snap.ID {
		prev = session.Snapshot{}
	}
	p.seen = true
	p.last = snap

	for _, line := range changes(prev, snap) {
		fmt.Fprintln(p.w, line)
	}
}

// changes lists the lines describing the move from prev to next.
func changes(prev, next session.Snapshot) []string {
	var lines []string
	if next.Phase == session.PhaseRunning && prev.Phase != session.PhaseRunning {
		lines = append(lines, fmt.Sprintf("started %s / %s (session %s)", next.Job.DatasetID, next.Job.ModelID, next.ID))
	}
	if next.Diagnostics.MalformedLines > prev.Diagnostics.MalformedLines {
		lines = append(lines, fmt.Sprintf("skipped malformed line (%d total)", next.Diagnostics.MalformedLines))
	}
	if next.Completed != prev.Completed || next.Total != prev.Total {
		line := "progress " + countLabel(next)
		if metrics := metricsLine(next.Metrics); metrics != "" {
			line += " " + metrics
		}
		lines = append(lines, line)
	}
	if next.LastError != "" && next.LastError != prev.LastError {
		lines = append(lines, "error: "+next.LastError)
	}
	if next.Phase.Terminal() && next.Phase != prev.Phase {
		line := string(next.Phase)
		if !next.StartedAt.IsZero() && !next.FinishedAt.IsZero() {
			line += " after " + elapsedLabel(next)
		}
		lines = append(lines, line)
	}
	return lines
}
