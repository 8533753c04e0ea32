package config

import (
	"fmt"
	"net/url"
	"strings"

	"evalstream/internal/logging"
	"evalstream/internal/progress"
)

// Issue captures a validation problem with a config field.
type Issue struct {
	Field   string
	Message string
}

// ValidationError aggregates config validation issues.
type ValidationError struct {
	Issues []Issue
}

// Error renders validation errors as a multi-line string.
func (err *ValidationError) Error() string {
	if err == nil || len(err.Issues) == 0 {
		return "config validation failed"
	}
	lines := make([]string, 0, len(err.Issues))
	for _, issue := range err.Issues {
		lines = append(lines, fmt.Sprintf("%s: %s", issue.Field, issue.Message))
	}
	return strings.Join(lines, "\n")
}

// Validate checks a normalized config for correctness.
func Validate(cfg *Config) error {
	var issues []Issue
	add := func(field, message string) {
		issues = append(issues, Issue{Field: field, Message: message})
	}

	if cfg.Endpoint.BaseURL == "" {
		add("endpoint.base_url", "is required")
	} else if u, err := url.Parse(cfg.Endpoint.BaseURL); err != nil {
		add("endpoint.base_url", fmt.Sprintf("invalid url: %v", err))
	} else if u.Scheme != "http" && u.Scheme != "https" {
		add("endpoint.base_url", fmt.Sprintf("unsupported scheme %q (expected http|https)", u.Scheme))
	} else if u.Host == "" {
		add("endpoint.base_url", "missing host")
	}
	if cfg.Endpoint.HeaderTimeout < 0 {
		add("endpoint.header_timeout", "must be >= 0")
	}
	if cfg.Endpoint.ConnectTimeout < 0 {
		add("endpoint.connect_timeout", "must be >= 0")
	}

	if cfg.Stream.ReadBuffer < 1 {
		add("stream.read_buffer", "must be > 0")
	}
	if cfg.Stream.SampleCap < 1 || cfg.Stream.SampleCap > progress.DefaultSampleCap {
		add("stream.sample_cap", fmt.Sprintf("must be between 1 and %d", progress.DefaultSampleCap))
	}

	switch cfg.UI.Mode {
	case "auto", "live", "plain":
	default:
		add("ui.mode", fmt.Sprintf("invalid value %q (expected auto|live|plain)", cfg.UI.Mode))
	}
	if _, err := logging.ParseLevel(cfg.Log.Level); err != nil {
		add("log.level", err.Error())
	}
	switch cfg.Log.Format {
	case "text", "json":
	default:
		add("log.format", fmt.Sprintf("invalid value %q (expected text|json)", cfg.Log.Format))
	}

	if cfg.Relay.Addr == "" {
		add("relay.addr", "is required")
	}
	if cfg.Relay.Throttle < 0 {
		add("relay.throttle", "must be >= 0")
	}
	if cfg.Mock.Addr == "" {
		add("mock.addr", "is required")
	}
	if cfg.Mock.MaxChunk < 1 {
		add("mock.max_chunk", "must be > 0")
	}
	if cfg.Mock.Delay < 0 {
		add("mock.delay", "must be >= 0")
	}
	if cfg.Mock.Prompts < 0 {
		add("mock.prompts", "must be >= 0")
	}

	if len(issues) > 0 {
		return &ValidationError{Issues: issues}
	}
	return nil
}
