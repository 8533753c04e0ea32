package config

import (
	"time"

	"evalstream/internal/evalclient"
	"evalstream/internal/ndjson"
	"evalstream/internal/progress"
)

// Config is the full evalstream configuration.
type Config struct {
	Endpoint EndpointConfig `mapstructure:"endpoint" yaml:"endpoint"`
	Stream   StreamConfig   `mapstructure:"stream" yaml:"stream"`
	UI       UIConfig       `mapstructure:"ui" yaml:"ui"`
	Log      LogConfig      `mapstructure:"log" yaml:"log"`
	Relay    RelayConfig    `mapstructure:"relay" yaml:"relay"`
	Mock     MockConfig     `mapstructure:"mock" yaml:"mock"`

	// Source is the file the config was read from; empty when only defaults and env applied.
	Source string `mapstructure:"-" yaml:"-"`
}

// EndpointConfig locates the evaluation streaming endpoint.
type EndpointConfig struct {
	BaseURL        string        `mapstructure:"base_url" yaml:"base_url"`
	StreamPath     string        `mapstructure:"stream_path" yaml:"stream_path"`
	Token          string        `mapstructure:"token" yaml:"token"`
	HeaderTimeout  time.Duration `mapstructure:"header_timeout" yaml:"header_timeout"`
	ConnectTimeout time.Duration `mapstructure:"connect_timeout" yaml:"connect_timeout"`
}

// StreamConfig tunes how the response body is consumed.
type StreamConfig struct {
	ReadBuffer int `mapstructure:"read_buffer" yaml:"read_buffer"`
	SampleCap  int `mapstructure:"sample_cap" yaml:"sample_cap"`
}

// UIConfig selects the progress renderer.
type UIConfig struct {
	Mode    string `mapstructure:"mode" yaml:"mode"`
	NoColor bool   `mapstructure:"no_color" yaml:"no_color"`
}

// LogConfig configures the process logger.
type LogConfig struct {
	Level  string `mapstructure:"level" yaml:"level"`
	Format string `mapstructure:"format" yaml:"format"`
}

// RelayConfig configures the websocket bridge.
type RelayConfig struct {
	Addr     string        `mapstructure:"addr" yaml:"addr"`
	Throttle time.Duration `mapstructure:"throttle" yaml:"throttle"`
}

// MockConfig configures the scripted evaluation endpoint.
type MockConfig struct {
	Addr     string        `mapstructure:"addr" yaml:"addr"`
	Script   string        `mapstructure:"script" yaml:"script"`
	Token    string        `mapstructure:"token" yaml:"token"`
	MaxChunk int           `mapstructure:"max_chunk" yaml:"max_chunk"`
	Delay    time.Duration `mapstructure:"delay" yaml:"delay"`
	Prompts  int           `mapstructure:"prompts" yaml:"prompts"`
}

// Defaults returns the configuration used when nothing overrides a key.
func Defaults() Config {
	return Config{
		Endpoint: EndpointConfig{
			BaseURL:        "http://127.0.0.1:8089",
			StreamPath:     evalclient.DefaultStreamPath,
			HeaderTimeout:  60 * time.Second,
			ConnectTimeout: 10 * time.Second,
		},
		Stream: StreamConfig{
			ReadBuffer: ndjson.DefaultReadBuffer,
			SampleCap:  progress.DefaultSampleCap,
		},
		UI:    UIConfig{Mode: "auto"},
		Log:   LogConfig{Level: "info", Format: "text"},
		Relay: RelayConfig{Addr: "127.0.0.1:8090", Throttle: 100 * time.Millisecond},
		Mock: MockConfig{
			Addr:     "127.0.0.1:8089",
			MaxChunk: 64,
			Delay:    50 * time.Millisecond,
			Prompts:  20,
		},
	}
}

// ClientOptions maps the endpoint section onto transport options.
func (c Config) ClientOptions(userAgent string) evalclient.Options {
	return evalclient.Options{
		BaseURL:        c.Endpoint.BaseURL,
		StreamPath:     c.Endpoint.StreamPath,
		Token:          c.Endpoint.Token,
		HeaderTimeout:  c.Endpoint.HeaderTimeout,
		ConnectTimeout: c.Endpoint.ConnectTimeout,
		UserAgent:      userAgent,
	}
}
