package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func writeConfig(t *testing.T, dir, body string) string {
	t.Helper()
	path := filepath.Join(dir, ConfigFileName)
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

func TestLoadReadsFile(t *testing.T) {
	path := writeConfig(t, t.TempDir(), `
endpoint:
  base_url: "https://eval.example.com/"
  stream_path: "v2/stream"
  token: " abc "
  header_timeout: 5s
stream:
  read_buffer: 4096
ui:
  mode: PLAIN
log:
  level: debug
  format: json
relay:
  throttle: 250ms
`)
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Endpoint.BaseURL != "https://eval.example.com" {
		t.Fatalf("unexpected base url %q", cfg.Endpoint.BaseURL)
	}
	if cfg.Endpoint.StreamPath != "/v2/stream" {
		t.Fatalf("unexpected stream path %q", cfg.Endpoint.StreamPath)
	}
	if cfg.Endpoint.Token != "abc" {
		t.Fatalf("unexpected token %q", cfg.Endpoint.Token)
	}
	if cfg.Endpoint.HeaderTimeout != 5*time.Second {
		t.Fatalf("unexpected header timeout %v", cfg.Endpoint.HeaderTimeout)
	}
	if cfg.Endpoint.ConnectTimeout != 10*time.Second {
		t.Fatalf("expected default connect timeout, got %v", cfg.Endpoint.ConnectTimeout)
	}
	if cfg.Stream.ReadBuffer != 4096 {
		t.Fatalf("unexpected read buffer %d", cfg.Stream.ReadBuffer)
	}
	if cfg.UI.Mode != "plain" {
		t.Fatalf("unexpected ui mode %q", cfg.UI.Mode)
	}
	if cfg.Relay.Throttle != 250*time.Millisecond {
		t.Fatalf("unexpected throttle %v", cfg.Relay.Throttle)
	}
	if cfg.Source != path {
		t.Fatalf("unexpected source %q", cfg.Source)
	}
}

func TestLoadEnvOverridesFile(t *testing.T) {
	path := writeConfig(t, t.TempDir(), "endpoint:\n  token: from-file\n")
	t.Setenv("EVALSTREAM_ENDPOINT_TOKEN", "from-env")
	t.Setenv("EVALSTREAM_MOCK_MAX_CHUNK", "7")

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Endpoint.Token != "from-env" {
		t.Fatalf("expected env token, got %q", cfg.Endpoint.Token)
	}
	if cfg.Mock.MaxChunk != 7 {
		t.Fatalf("expected env max chunk, got %d", cfg.Mock.MaxChunk)
	}
}

func TestLoadWithoutFileUsesDefaults(t *testing.T) {
	t.Chdir(t.TempDir())

	cfg, err := Load("")
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	want := Defaults()
	if cfg.Endpoint != want.Endpoint {
		t.Fatalf("unexpected endpoint %+v", cfg.Endpoint)
	}
	if cfg.Source != "" {
		t.Fatalf("expected no source, got %q", cfg.Source)
	}
}

func TestLoadFindsFileInParent(t *testing.T) {
	root := t.TempDir()
	writeConfig(t, root, "ui:\n  mode: live\n")
	child := filepath.Join(root, "a", "b")
	if err := os.MkdirAll(child, 0o755); err != nil {
		t.Fatalf("mkdir: %v", err)
	}
	t.Chdir(child)

	cfg, err := Load("")
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.UI.Mode != "live" {
		t.Fatalf("expected live mode from parent config, got %q", cfg.UI.Mode)
	}
}

func TestLoadMissingExplicitPath(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "missing.yml"))
	if err == nil || !strings.Contains(err.Error(), "read config") {
		t.Fatalf("expected read error, got %v", err)
	}
}

func TestLoadRejectsInvalidValues(t *testing.T) {
	path := writeConfig(t, t.TempDir(), `
endpoint:
  base_url: "ftp://eval"
ui:
  mode: fancy
log:
  level: loud
`)
	_, err := Load(path)
	var validationErr *ValidationError
	if !errors.As(err, &validationErr) {
		t.Fatalf("expected ValidationError, got %v", err)
	}
	fields := map[string]bool{}
	for _, issue := range validationErr.Issues {
		fields[issue.Field] = true
	}
	for _, field := range []string{"endpoint.base_url", "ui.mode", "log.level"} {
		if !fields[field] {
			t.Fatalf("expected issue for %s, got %v", field, validationErr.Issues)
		}
	}
}

func TestSampleCapBounded(t *testing.T) {
	cases := []struct {
		value string
		valid bool
	}{
		{value: "1", valid: true},
		{value: "100", valid: true},
		{value: "101", valid: false},
		{value: "1000", valid: false},
		{value: "-5", valid: false},
	}
	for _, tc := range cases {
		t.Run(tc.value, func(t *testing.T) {
			t.Chdir(t.TempDir())
			t.Setenv("EVALSTREAM_STREAM_SAMPLE_CAP", tc.value)
			cfg, err := Load("")
			if tc.valid {
				if err != nil {
					t.Fatalf("expected sample_cap %s to load, got %v", tc.value, err)
				}
				if got := fmt.Sprint(cfg.Stream.SampleCap); got != tc.value {
					t.Fatalf("expected sample_cap %s, got %s", tc.value, got)
				}
				return
			}
			var validationErr *ValidationError
			if !errors.As(err, &validationErr) {
				t.Fatalf("expected ValidationError for %s, got %v", tc.value, err)
			}
			if len(validationErr.Issues) != 1 || validationErr.Issues[0].Field != "stream.sample_cap" {
				t.Fatalf("expected one stream.sample_cap issue, got %v", validationErr.Issues)
			}
		})
	}
}

func TestValidateDefaults(t *testing.T) {
	cfg := Defaults()
	Normalize(&cfg)
	if err := Validate(&cfg); err != nil {
		t.Fatalf("defaults should validate: %v", err)
	}
}

func TestNormalizeFillsZeroValues(t *testing.T) {
	cfg := Config{}
	Normalize(&cfg)
	if cfg.Stream.ReadBuffer == 0 || cfg.Stream.SampleCap == 0 {
		t.Fatalf("expected stream defaults, got %+v", cfg.Stream)
	}
	if cfg.UI.Mode != "auto" || cfg.Log.Format != "text" {
		t.Fatalf("unexpected defaults ui=%q log=%q", cfg.UI.Mode, cfg.Log.Format)
	}
	if cfg.Endpoint.StreamPath == "" {
		t.Fatalf("expected stream path default")
	}
}

func TestValidationErrorRendersIssues(t *testing.T) {
	err := &ValidationError{Issues: []Issue{{Field: "a", Message: "x"}, {Field: "b", Message: "y"}}}
	if err.Error() != "a: x\nb: y" {
		t.Fatalf("unexpected message %q", err.Error())
	}
	var empty *ValidationError
	if empty.Error() != "config validation failed" {
		t.Fatalf("unexpected empty message %q", empty.Error())
	}
}

func TestClientOptions(t *testing.T) {
	cfg := Defaults()
	cfg.Endpoint.Token = "tok"
	opts := cfg.ClientOptions("evalstream/dev")
	if opts.Token != "tok" || opts.UserAgent != "evalstream/dev" || opts.BaseURL != cfg.Endpoint.BaseURL {
		t.Fatalf("unexpected options %+v", opts)
	}
}
