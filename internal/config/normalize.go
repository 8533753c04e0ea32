package config

import (
	"strings"

	"evalstream/internal/evalclient"
	"evalstream/internal/ndjson"
	"evalstream/internal/progress"
)

// Normalize trims values and fills zero values that have a default.
func Normalize(cfg *Config) {
	cfg.Endpoint.BaseURL = strings.TrimRight(strings.TrimSpace(cfg.Endpoint.BaseURL), "/")
	cfg.Endpoint.StreamPath = strings.TrimSpace(cfg.Endpoint.StreamPath)
	if cfg.Endpoint.StreamPath == "" {
		cfg.Endpoint.StreamPath = evalclient.DefaultStreamPath
	}
	if !strings.HasPrefix(cfg.Endpoint.StreamPath, "/") {
		cfg.Endpoint.StreamPath = "/" + cfg.Endpoint.StreamPath
	}
	cfg.Endpoint.Token = strings.TrimSpace(cfg.Endpoint.Token)

	if cfg.Stream.ReadBuffer == 0 {
		cfg.Stream.ReadBuffer = ndjson.DefaultReadBuffer
	}
	if cfg.Stream.SampleCap == 0 {
		cfg.Stream.SampleCap = progress.DefaultSampleCap
	}

	cfg.UI.Mode = strings.ToLower(strings.TrimSpace(cfg.UI.Mode))
	if cfg.UI.Mode == "" {
		cfg.UI.Mode = "auto"
	}
	cfg.Log.Level = strings.ToLower(strings.TrimSpace(cfg.Log.Level))
	cfg.Log.Format = strings.ToLower(strings.TrimSpace(cfg.Log.Format))
	if cfg.Log.Format == "" {
		cfg.Log.Format = "text"
	}

	cfg.Relay.Addr = strings.TrimSpace(cfg.Relay.Addr)
	cfg.Mock.Addr = strings.TrimSpace(cfg.Mock.Addr)
	cfg.Mock.Script = strings.TrimSpace(cfg.Mock.Script)
}
