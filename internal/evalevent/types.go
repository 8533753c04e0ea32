package evalevent

import "encoding/json"

// Kind identifies the type of an evaluation stream event.
type Kind string

const (
	// KindInit announces the job and its prompt count.
	KindInit Kind = "init"
	// KindProgress reports one evaluated sample.
	KindProgress Kind = "progress"
	// KindSummary carries the terminal job result.
	KindSummary Kind = "summary"
	// KindError reports a producer-side error.
	KindError Kind = "error"
	// KindMalformed marks a line that could not be decoded.
	KindMalformed Kind = "malformed"
)

// Event is one decoded line of the evaluation stream.
type Event interface {
	Kind() Kind
}

// Init starts a job.
type Init struct {
	Total int    `json:"total"`
	JobID string `json:"job_id,omitempty"`
}

// Progress reports the outcome of a single prompt.
type Progress struct {
	Index             int                `json:"index"`
	Total             *int               `json:"total,omitempty"`
	ElapsedSeconds    *float64           `json:"elapsed_seconds,omitempty"`
	RunningMetrics    map[string]float64 `json:"running_metrics,omitempty"`
	Prompt            string             `json:"prompt"`
	ExpectedAnswer    string             `json:"expected_answer"`
	ModelResponse     string             `json:"model_response"`
	IsCorrect         bool               `json:"is_correct"`
	IncludedInMetrics bool               `json:"included_in_metrics"`
	Skipped           bool               `json:"skipped"`
	Note              string             `json:"note,omitempty"`
}

// Summary is the terminal success payload of a job.
type Summary struct {
	JobID          string                     `json:"job_id,omitempty"`
	Metrics        map[string]float64         `json:"metrics"`
	TotalPrompts   int                        `json:"total_prompts"`
	ElapsedSeconds float64                    `json:"elapsed_seconds"`
	Dataset        string                     `json:"dataset,omitempty"`
	Model          string                     `json:"model,omitempty"`
	Correct        int                        `json:"correct,omitempty"`
	Extra          map[string]json.RawMessage `json:"-"`
}

// Error is a non-fatal producer error notice.
type Error struct {
	Message string `json:"message"`
}

// Malformed wraps a line that failed to decode.
type Malformed struct {
	RawLine string `json:"raw_line"`
	Reason  string `json:"reason"`
}

// Kind implements Event.
func (Init) Kind() Kind { return KindInit }

// Kind implements Event.
func (Progress) Kind() Kind { return KindProgress }

// Kind implements Event.
func (Summary) Kind() Kind { return KindSummary }

// Kind implements Event.
func (Error) Kind() Kind { return KindError }

// Kind implements Event.
func (Malformed) Kind() Kind { return KindMalformed }

// Clone returns a deep copy of the summary.
func (s Summary) Clone() Summary {
	out := s
	if s.Metrics != nil {
		out.Metrics = make(map[string]float64, len(s.Metrics))
		for k, v := range s.Metrics {
			out.Metrics[k] = v
		}
	}
	if s.Extra != nil {
		out.Extra = make(map[string]json.RawMessage, len(s.Extra))
		for k, v := range s.Extra {
			out.Extra[k] = append(json.RawMessage(nil), v...)
		}
	}
	return out
}

// MarshalJSON flattens Extra back into the object, mirroring the wire form.
func (s Summary) MarshalJSON() ([]byte, error) {
	type plain Summary
	base, err := json.Marshal(plain(s))
	if err != nil || len(s.Extra) == 0 {
		return base, err
	}
	merged := make(map[string]json.RawMessage, len(s.Extra)+8)
	for k, v := range s.Extra {
		merged[k] = v
	}
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(base, &fields); err != nil {
		return nil, err
	}
	for k, v := range fields {
		merged[k] = v
	}
	return json.Marshal(merged)
}
