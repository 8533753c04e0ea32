package session

import (
	"time"

	"evalstream/internal/evalclient"
	"evalstream/internal/progress"
)

// Phase is the lifecycle stage of a session.
type Phase string

const (
	// PhaseIdle means no session has started.
	PhaseIdle Phase = "idle"
	// PhaseRunning means the stream is being consumed.
	PhaseRunning Phase = "running"
	// PhaseCompleted means a summary was received.
	PhaseCompleted Phase = "completed"
	// PhaseCancelled means the user stopped the session.
	PhaseCancelled Phase = "cancelled"
	// PhaseFailed means the transport failed or the stream ended early.
	PhaseFailed Phase = "failed"
)

// Terminal reports whether no further transitions are possible.
func (p Phase) Terminal() bool {
	switch p {
	case PhaseCompleted, PhaseCancelled, PhaseFailed:
		return true
	default:
		return false
	}
}

// Snapshot is an immutable copy of a session's state.
type Snapshot struct {
	ID         string             `json:"id,omitempty"`
	Phase      Phase              `json:"phase"`
	Job        evalclient.JobSpec `json:"job"`
	RequestID  string             `json:"request_id,omitempty"`
	StartedAt  time.Time          `json:"started_at,omitzero"`
	FinishedAt time.Time          `json:"finished_at,omitzero"`
	Chunks     int                `json:"chunks"`
	Bytes      int                `json:"bytes"`
	progress.State
}

// Fraction reports completed/total clamped to [0,1]; zero when total is unknown.
func (s Snapshot) Fraction() float64 {
	if s.Total <= 0 {
		return 0
	}
	f := float64(s.Completed) / float64(s.Total)
	switch {
	case f < 0:
		return 0
	case f > 1:
		return 1
	default:
		return f
	}
}

// Observer receives a snapshot after every applied chunk and phase change.
// Implementations must not block.
type Observer interface {
	OnSnapshot(Snapshot)
}

// ObserverFunc adapts a function to Observer.
type ObserverFunc func(Snapshot)

// OnSnapshot implements Observer.
func (f ObserverFunc) OnSnapshot(s Snapshot) { f(s) }

// run is the mutable state of one session. The controller is its only mutator.
type run struct {
	id         string
	job        evalclient.JobSpec
	requestID  string
	phase      Phase
	startedAt  time.Time
	finishedAt time.Time
	agg        *progress.Aggregator
	chunks     int
	bytes      int
	cancel     func()
	done       chan struct{}
}

// snapshot copies the run into an immutable snapshot.
func (r *run) snapshot() Snapshot {
	return Snapshot{
		ID:         r.id,
		Phase:      r.phase,
		Job:        r.job,
		RequestID:  r.requestID,
		StartedAt:  r.startedAt,
		FinishedAt: r.finishedAt,
		Chunks:     r.chunks,
		Bytes:      r.bytes,
		State:      r.agg.State(),
	}
}
