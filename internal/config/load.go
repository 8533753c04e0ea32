package config

import (
	"errors"
	"fmt"
	"path/filepath"
	"strings"

	"github.com/spf13/viper"
)

// Load reads, normalizes, and validates the configuration.
// An empty path searches upward from the working directory; a missing file
// leaves defaults and EVALSTREAM_* environment overrides in effect.
func Load(path string) (Config, error) {
	v := newViper()
	source := strings.TrimSpace(path)
	if source == "" {
		found, err := FindConfigPath("")
		switch {
		case err == nil:
			source = found
		case errors.Is(err, ErrConfigNotFound):
		default:
			return Config{}, err
		}
	}
	if source != "" {
		abs, err := filepath.Abs(source)
		if err != nil {
			return Config{}, fmt.Errorf("resolve config path: %w", err)
		}
		source = abs
		v.SetConfigFile(source)
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("read config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("decode config: %w", err)
	}
	cfg.Source = source
	Normalize(&cfg)
	if err := Validate(&cfg); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// newViper builds an instance seeded with defaults and env bindings.
func newViper() *viper.Viper {
	v := viper.New()
	v.SetConfigType("yaml")
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	d := Defaults()
	v.SetDefault("endpoint.base_url", d.Endpoint.BaseURL)
	v.SetDefault("endpoint.stream_path", d.Endpoint.StreamPath)
	v.SetDefault("endpoint.token", d.Endpoint.Token)
	v.SetDefault("endpoint.header_timeout", d.Endpoint.HeaderTimeout)
	v.SetDefault("endpoint.connect_timeout", d.Endpoint.ConnectTimeout)
	v.SetDefault("stream.read_buffer", d.Stream.ReadBuffer)
	v.SetDefault("stream.sample_cap", d.Stream.SampleCap)
	v.SetDefault("ui.mode", d.UI.Mode)
	v.SetDefault("ui.no_color", d.UI.NoColor)
	v.SetDefault("log.level", d.Log.Level)
	v.SetDefault("log.format", d.Log.Format)
	v.SetDefault("relay.addr", d.Relay.Addr)
	v.SetDefault("relay.throttle", d.Relay.Throttle)
	v.SetDefault("mock.addr", d.Mock.Addr)
	v.SetDefault("mock.script", d.Mock.Script)
	v.SetDefault("mock.token", d.Mock.Token)
	v.SetDefault("mock.max_chunk", d.Mock.MaxChunk)
	v.SetDefault("mock.delay", d.Mock.Delay)
	v.SetDefault("mock.prompts", d.Mock.Prompts)
	return v
}
