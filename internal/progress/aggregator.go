package progress

import (
	"maps"

	"evalstream/internal/evalevent"
)

// Diagnostics counts conditions absorbed without failing the session.
type Diagnostics struct {
	MalformedLines int `json:"malformed_lines"`
	IgnoredInits   int `json:"ignored_inits"`
	ProducerErrors int `json:"producer_errors"`
	DroppedSamples int `json:"dropped_samples"`
}

// State is a copy of the aggregated progress fields.
type State struct {
	Total          int                `json:"total"`
	Completed      int                `json:"completed"`
	ElapsedSeconds float64            `json:"elapsed_seconds"`
	Metrics        map[string]float64 `json:"metrics"`
	RecentSamples  []Sample           `json:"recent_samples"`
	FinalResult    *evalevent.Summary `json:"final_result,omitempty"`
	LastError      string             `json:"last_error,omitempty"`
	Diagnostics    Diagnostics        `json:"diagnostics"`
}

// Aggregator folds evaluation events into progress state.
// It does not own phase transitions and is not safe for concurrent use.
type Aggregator struct {
	total       int
	totalSet    bool
	sawInit     bool
	completed   int
	elapsed     float64
	metrics     map[string]float64
	samples     *SampleLog
	finalResult *evalevent.Summary
	lastError   string
	diag        Diagnostics
}

// NewAggregator returns an empty aggregator with a sample ring of sampleCap entries.
func NewAggregator(sampleCap int) *Aggregator {
	return &Aggregator{
		metrics: make(map[string]float64),
		samples: NewSampleLog(sampleCap),
	}
}

// Apply dispatches an event to its handler.
func (a *Aggregator) Apply(evt evalevent.Event) {
	switch typed := evt.(type) {
	case evalevent.Init:
		a.ApplyInit(typed)
	case evalevent.Progress:
		a.ApplyProgress(typed)
	case evalevent.Summary:
		a.ApplySummary(typed)
	case evalevent.Error:
		a.ApplyError(typed)
	case evalevent.Malformed:
		a.ApplyMalformed(typed)
	}
}

// ApplyInit records the job size. Only the first init of a session counts.
func (a *Aggregator) ApplyInit(evt evalevent.Init) {
	if a.sawInit {
		a.diag.IgnoredInits++
		return
	}
	a.sawInit = true
	if !a.totalSet {
		a.total = evt.Total
		a.totalSet = true
	}
	a.completed = 0
	a.elapsed = 0
	a.metrics = make(map[string]float64)
}

// ApplyProgress records one evaluated prompt.
// Regressed indices are accepted as last write wins.
func (a *Aggregator) ApplyProgress(evt evalevent.Progress) {
	a.completed = evt.Index
	if evt.Total != nil && *evt.Total >= 0 {
		a.total = *evt.Total
		a.totalSet = true
	}
	if evt.ElapsedSeconds != nil {
		a.elapsed = *evt.ElapsedSeconds
	}
	maps.Copy(a.metrics, evt.RunningMetrics)
	a.samples.Push(SampleFromProgress(evt))
}

// ApplySummary stores the final result and reconciles counters to it.
func (a *Aggregator) ApplySummary(evt evalevent.Summary) {
	final := evt.Clone()
	a.finalResult = &final
	if evt.TotalPrompts > 0 {
		a.total = evt.TotalPrompts
		a.totalSet = true
		a.completed = evt.TotalPrompts
	}
	if evt.ElapsedSeconds > 0 {
		a.elapsed = evt.ElapsedSeconds
	}
	if len(evt.Metrics) > 0 {
		a.metrics = maps.Clone(evt.Metrics)
	}
}

// ApplyError records a producer error without touching progress data.
func (a *Aggregator) ApplyError(evt evalevent.Error) {
	a.lastError = evt.Message
	a.diag.ProducerErrors++
}

// ApplyMalformed counts an undecodable line.
func (a *Aggregator) ApplyMalformed(evalevent.Malformed) {
	a.diag.MalformedLines++
}

// SetLastError overrides the last error message.
func (a *Aggregator) SetLastError(message string) {
	a.lastError = message
}

// HasSummary reports whether a summary has been applied.
func (a *Aggregator) HasSummary() bool {
	return a.finalResult != nil
}

// State returns a deep copy of the aggregated fields.
func (a *Aggregator) State() State {
	state := State{
		Total:          a.total,
		Completed:      a.completed,
		ElapsedSeconds: a.elapsed,
		Metrics:        maps.Clone(a.metrics),
		RecentSamples:  a.samples.Entries(),
		LastError:      a.lastError,
		Diagnostics:    a.diag,
	}
	state.Diagnostics.DroppedSamples = a.samples.Dropped()
	if state.Metrics == nil {
		state.Metrics = map[string]float64{}
	}
	if a.finalResult != nil {
		final := a.finalResult.Clone()
		state.FinalResult = &final
	}
	return state
}
