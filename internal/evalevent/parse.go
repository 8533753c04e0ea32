package evalevent

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
)

// envelope holds the discriminator shared by every record.
type envelope struct {
	Type *string `json:"type"`
}

// errorRecord accepts the message keys producers are known to use.
type errorRecord struct {
	Message string `json:"message"`
	Error   string `json:"error"`
	Detail  string `json:"detail"`
}

// summaryKnownKeys lists the summary fields decoded into struct fields.
var summaryKnownKeys = map[string]struct{}{
	"type":            {},
	"job_id":          {},
	"metrics":         {},
	"total_prompts":   {},
	"elapsed_seconds": {},
	"dataset":         {},
	"model":           {},
	"correct":         {},
}

// Parse maps one line to exactly one event.
// Blank lines report ok=false. Undecodable lines become Malformed.
func Parse(line string) (Event, bool) {
	trimmed := strings.TrimSpace(line)
	if trimmed == "" {
		return nil, false
	}
	data := []byte(trimmed)
	if !json.Valid(data) {
		return malformed(line, "invalid json"), true
	}
	var env envelope
	if data[0] != '{' {
		return malformed(line, "expected a json object"), true
	}
	if err := json.Unmarshal(data, &env); err != nil {
		return malformed(line, fieldReason(err)), true
	}
	if env.Type == nil {
		return malformed(line, "missing type"), true
	}
	switch Kind(*env.Type) {
	case KindInit:
		var evt Init
		if err := json.Unmarshal(data, &evt); err != nil {
			return malformed(line, fieldReason(err)), true
		}
		if evt.Total < 0 {
			return malformed(line, "negative total"), true
		}
		return evt, true
	case KindProgress:
		var evt Progress
		if err := json.Unmarshal(data, &evt); err != nil {
			return malformed(line, fieldReason(err)), true
		}
		if evt.Index < 0 {
			return malformed(line, "negative index"), true
		}
		return evt, true
	case KindSummary:
		evt, err := parseSummary(data)
		if err != nil {
			return malformed(line, fieldReason(err)), true
		}
		return evt, true
	case KindError:
		var rec errorRecord
		if err := json.Unmarshal(data, &rec); err != nil {
			return malformed(line, fieldReason(err)), true
		}
		return Error{Message: firstNonEmpty(rec.Message, rec.Error, rec.Detail, "unknown error")}, true
	default:
		return malformed(line, fmt.Sprintf("unknown type %q", *env.Type)), true
	}
}

// parseSummary decodes the summary and keeps unknown terminal fields in Extra.
func parseSummary(data []byte) (Summary, error) {
	var evt Summary
	if err := json.Unmarshal(data, &evt); err != nil {
		return Summary{}, err
	}
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(data, &fields); err != nil {
		return Summary{}, err
	}
	for key, value := range fields {
		if _, known := summaryKnownKeys[key]; known {
			continue
		}
		if evt.Extra == nil {
			evt.Extra = make(map[string]json.RawMessage)
		}
		evt.Extra[key] = bytes.Clone(value)
	}
	return evt, nil
}

// fieldReason condenses a json error into a short diagnostic.
func fieldReason(err error) string {
	var typeErr *json.UnmarshalTypeError
	if errors.As(err, &typeErr) && typeErr.Field != "" {
		return fmt.Sprintf("field %s: expected %s, got %s", typeErr.Field, typeErr.Type, typeErr.Value)
	}
	return err.Error()
}

func malformed(line, reason string) Malformed {
	return Malformed{RawLine: line, Reason: reason}
}

func firstNonEmpty(values ...string) string {
	for _, value := range values {
		if strings.TrimSpace(value) != "" {
			return value
		}
	}
	return ""
}
