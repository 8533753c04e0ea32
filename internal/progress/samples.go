package progress

import "evalstream/internal/evalevent"

// DefaultSampleCap bounds how many recent samples a session retains.
const DefaultSampleCap = 100

// Sample is one entry of the rolling per-prompt log.
type Sample struct {
	Index             int    `json:"index"`
	Prompt            string `json:"prompt"`
	ExpectedAnswer    string `json:"expected_answer"`
	ModelResponse     string `json:"model_response"`
	IsCorrect         bool   `json:"is_correct"`
	IncludedInMetrics bool   `json:"included_in_metrics"`
	Skipped           bool   `json:"skipped"`
	Note              string `json:"note,omitempty"`
}

// SampleFromProgress extracts the log entry carried by a progress event.
func SampleFromProgress(evt evalevent.Progress) Sample {
	return Sample{
		Index:             evt.Index,
		Prompt:            evt.Prompt,
		ExpectedAnswer:    evt.ExpectedAnswer,
		ModelResponse:     evt.ModelResponse,
		IsCorrect:         evt.IsCorrect,
		IncludedInMetrics: evt.IncludedInMetrics,
		Skipped:           evt.Skipped,
		Note:              evt.Note,
	}
}

// SampleLog is a fixed-capacity FIFO ring of samples.
// Pushing onto a full log evicts the oldest entry.
type SampleLog struct {
	buf     []Sample
	start   int
	size    int
	dropped int
}

// NewSampleLog creates a ring holding at most capacity entries.
// Capacity is limited to DefaultSampleCap.
func NewSampleLog(capacity int) *SampleLog {
	if capacity <= 0 || capacity > DefaultSampleCap {
		capacity = DefaultSampleCap
	}
	return &SampleLog{buf: make([]Sample, capacity)}
}

// Push appends a sample, evicting the oldest when full.
func (l *SampleLog) Push(s Sample) {
	if l.size < len(l.buf) {
		l.buf[(l.start+l.size)%len(l.buf)] = s
		l.size++
		return
	}
	l.buf[l.start] = s
	l.start = (l.start + 1) % len(l.buf)
	l.dropped++
}

// Entries returns the retained samples, oldest first.
func (l *SampleLog) Entries() []Sample {
	out := make([]Sample, l.size)
	for i := 0; i < l.size; i++ {
		out[i] = l.buf[(l.start+i)%len(l.buf)]
	}
	return out
}

// Len reports the number of retained samples.
func (l *SampleLog) Len() int { return l.size }

// Cap reports the ring capacity.
func (l *SampleLog) Cap() int { return len(l.buf) }

// Dropped reports how many samples were evicted.
func (l *SampleLog) Dropped() int { return l.dropped }
