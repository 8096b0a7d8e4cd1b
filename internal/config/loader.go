package config

import (
	"errors"
	"fmt"
	"io"
	"os"

	"gopkg.in/yaml.v3"
)

// Load reads the YAML configuration file at path and returns a validated
// [Config] with defaults applied. It is a convenience wrapper around
// [LoadFromReader].
func Load(path string) (*Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("config: open %q: %w", path, err)
	}
	defer f.Close()

	cfg, err := LoadFromReader(f)
	if err != nil {
		return nil, fmt.Errorf("config: parse %q: %w", path, err)
	}
	return cfg, nil
}

// LoadFromReader decodes a YAML config from r, applies defaults, and
// validates the result. Unknown YAML keys are rejected. Useful in tests
// where configs are constructed from string literals.
func LoadFromReader(r io.Reader) (*Config, error) {
	cfg := &Config{}
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil {
		return nil, fmt.Errorf("config: decode yaml: %w", err)
	}
	cfg.applyDefaults()
	if err := Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks that cfg contains a coherent set of values.
// It returns a joined error listing all validation failures found.
func Validate(cfg *Config) error {
	var errs []error

	if !cfg.Server.LogLevel.IsValid() {
		errs = append(errs, fmt.Errorf("server.log_level %q is invalid; valid values: debug, info, warn, error", cfg.Server.LogLevel))
	}

	if cfg.Session.Model == "" {
		errs = append(errs, errors.New("session.model is required"))
	}

	if cfg.Audio.InputRate <= 0 {
		errs = append(errs, fmt.Errorf("audio.input_rate %d must be positive", cfg.Audio.InputRate))
	}
	if cfg.Audio.OutputRate <= 0 {
		errs = append(errs, fmt.Errorf("audio.output_rate %d must be positive", cfg.Audio.OutputRate))
	}
	if cfg.Audio.FrameSamples <= 0 {
		errs = append(errs, fmt.Errorf("audio.frame_samples %d must be positive", cfg.Audio.FrameSamples))
	}

	switch {
	case cfg.Credentials.TokenURL == "" && cfg.Credentials.StaticToken == "":
		errs = append(errs, errors.New("credentials: one of token_url or static_token is required"))
	case cfg.Credentials.TokenURL != "" && cfg.Credentials.StaticToken != "":
		errs = append(errs, errors.New("credentials: token_url and static_token are mutually exclusive"))
	}

	if cfg.Reconnect.BaseDelay < 0 {
		errs = append(errs, fmt.Errorf("reconnect.base_delay %v must not be negative", cfg.Reconnect.BaseDelay))
	}
	if cfg.Reconnect.MaxAttempts < 0 {
		errs = append(errs, fmt.Errorf("reconnect.max_attempts %d must not be negative", cfg.Reconnect.MaxAttempts))
	}

	if cfg.Heartbeat.Interval < 0 {
		errs = append(errs, fmt.Errorf("heartbeat.interval %v must not be negative", cfg.Heartbeat.Interval))
	}
	if cfg.Heartbeat.Timeout < 0 {
		errs = append(errs, fmt.Errorf("heartbeat.timeout %v must not be negative", cfg.Heartbeat.Timeout))
	}
	if cfg.Heartbeat.Interval > 0 && cfg.Heartbeat.Timeout > 0 && cfg.Heartbeat.Timeout < cfg.Heartbeat.Interval {
		errs = append(errs, fmt.Errorf("heartbeat.timeout %v must not be shorter than heartbeat.interval %v", cfg.Heartbeat.Timeout, cfg.Heartbeat.Interval))
	}

	seen := make(map[string]bool, len(cfg.Tools))
	for i, srv := range cfg.Tools {
		if srv.Name == "" {
			errs = append(errs, fmt.Errorf("tools[%d]: name is required", i))
		} else if seen[srv.Name] {
			errs = append(errs, fmt.Errorf("tools[%d]: duplicate name %q", i, srv.Name))
		}
		seen[srv.Name] = true
		switch srv.Transport {
		case "stdio":
			if srv.Command == "" {
				errs = append(errs, fmt.Errorf("tools[%d]: stdio transport requires command", i))
			}
		case "streamable-http":
			if srv.URL == "" {
				errs = append(errs, fmt.Errorf("tools[%d]: streamable-http transport requires url", i))
			}
		default:
			errs = append(errs, fmt.Errorf("tools[%d]: transport %q is invalid; valid values: stdio, streamable-http", i, srv.Transport))
		}
	}

	return errors.Join(errs...)
}
