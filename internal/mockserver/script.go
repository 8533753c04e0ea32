package mockserver

import (
	"encoding/json"
	"fmt"
	"io"
	"math/rand/v2"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"evalstream/internal/evalevent"
	"evalstream/internal/ndjson"
)

// Script is an ordered list of wire lines, without terminators.
type Script struct {
	// Delay, when set, overrides the server's per-event delay.
	Delay time.Duration
	Lines []string
}

type scriptFile struct {
	Delay  time.Duration    `yaml:"delay"`
	Events []map[string]any `yaml:"events"`
}

// LoadScript reads a script file. Files ending in .ndjson or .jsonl are a
// captured stream replayed line for line; anything else is a YAML script.
func LoadScript(path string) (Script, error) {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".ndjson", ".jsonl":
		file, err := os.Open(path)
		if err != nil {
			return Script{}, fmt.Errorf("read script: %w", err)
		}
		defer file.Close()
		return ReadCapture(file)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return Script{}, fmt.Errorf("read script: %w", err)
	}
	return ParseScript(data)
}

// ReadCapture builds a script from a recorded NDJSON stream. Blank lines are dropped.
func ReadCapture(r io.Reader) (Script, error) {
	var script Script
	for line, err := range ndjson.Lines(r, 0) {
		if err != nil {
			return Script{}, fmt.Errorf("read capture: %w", err)
		}
		if strings.TrimSpace(line) == "" {
			continue
		}
		script.Lines = append(script.Lines, line)
	}
	if len(script.Lines) == 0 {
		return Script{}, fmt.Errorf("read capture: no events")
	}
	return script, nil
}

// ParseScript decodes a YAML script. Each event is a mapping with a type key,
// or a mapping with a single raw key whose string is sent verbatim.
func ParseScript(data []byte) (Script, error) {
	var file scriptFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return Script{}, fmt.Errorf("parse script: %w", err)
	}
	if len(file.Events) == 0 {
		return Script{}, fmt.Errorf("parse script: no events")
	}
	script := Script{Delay: file.Delay, Lines: make([]string, 0, len(file.Events))}
	for i, event := range file.Events {
		if raw, ok := event["raw"]; ok {
			text, ok := raw.(string)
			if !ok || len(event) != 1 {
				return Script{}, fmt.Errorf("parse script: events[%d]: raw must be the only key and a string", i)
			}
			script.Lines = append(script.Lines, text)
			continue
		}
		if _, ok := event["type"].(string); !ok {
			return Script{}, fmt.Errorf("parse script: events[%d]: type is required", i)
		}
		line, err := json.Marshal(event)
		if err != nil {
			return Script{}, fmt.Errorf("parse script: events[%d]: %w", i, err)
		}
		script.Lines = append(script.Lines, string(line))
	}
	return script, nil
}

// Generate builds a deterministic run of total prompts ending in a summary.
func Generate(total int, seed uint64) (Script, error) {
	if total < 0 {
		return Script{}, fmt.Errorf("generate: total must be >= 0")
	}
	rng := rand.New(rand.NewPCG(seed, seed^0x9e3779b97f4a7c15))
	jobID := "mock-" + strconv.FormatUint(seed, 10) + "-" + strconv.Itoa(total)

	events := make([]evalevent.Event, 0, total+2)
	events = append(events, evalevent.Init{Total: total, JobID: jobID})
	correct := 0
	elapsed := 0.0
	for i := 1; i <= total; i++ {
		a, b := rng.IntN(50), rng.IntN(50)
		answer := strconv.Itoa(a + b)
		response := answer
		isCorrect := rng.Float64() < 0.7
		if !isCorrect {
			response = strconv.Itoa(a + b + 1 + rng.IntN(5))
		} else {
			correct++
		}
		elapsed += 0.2 + rng.Float64()
		at := elapsed
		events = append(events, evalevent.Progress{
			Index:             i,
			ElapsedSeconds:    &at,
			RunningMetrics:    map[string]float64{"accuracy": accuracy(correct, i)},
			Prompt:            fmt.Sprintf("What is %d + %d?", a, b),
			ExpectedAnswer:    answer,
			ModelResponse:     response,
			IsCorrect:         isCorrect,
			IncludedInMetrics: true,
		})
	}
	events = append(events, evalevent.Summary{
		JobID:          jobID,
		Metrics:        map[string]float64{"accuracy": accuracy(correct, total)},
		TotalPrompts:   total,
		ElapsedSeconds: elapsed,
		Correct:        correct,
	})

	script := Script{Lines: make([]string, 0, len(events))}
	for _, evt := range events {
		line, err := evalevent.Encode(evt)
		if err != nil {
			return Script{}, err
		}
		script.Lines = append(script.Lines, string(line))
	}
	return script, nil
}

// accuracy returns a percentage rounded to one decimal.
func accuracy(correct, total int) float64 {
	if total == 0 {
		return 0
	}
	pct := float64(correct) * 100 / float64(total)
	return float64(int(pct*10+0.5)) / 10
}
