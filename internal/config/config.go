// Package config provides the configuration schema and loader for the Parley
// voice client.
package config

import "time"

// LogLevel controls log verbosity.
type LogLevel string

const (
	LogDebug LogLevel = "debug"
	LogInfo  LogLevel = "info"
	LogWarn  LogLevel = "warn"
	LogError LogLevel = "error"
)

// IsValid reports whether l is a recognised log level.
func (l LogLevel) IsValid() bool {
	switch l {
	case LogDebug, LogInfo, LogWarn, LogError:
		return true
	}
	return false
}

// Config is the root configuration structure for Parley.
// It is typically loaded from a YAML file using [Load] or [LoadFromReader].
type Config struct {
	Server      ServerConfig      `yaml:"server"`
	Session     SessionConfig     `yaml:"session"`
	Audio       AudioConfig       `yaml:"audio"`
	Credentials CredentialsConfig `yaml:"credentials"`
	Reconnect   ReconnectConfig   `yaml:"reconnect"`
	Heartbeat   HeartbeatConfig   `yaml:"heartbeat"`
	Tools       []ToolServer      `yaml:"tools"`
}

// ServerConfig holds logging and telemetry settings.
type ServerConfig struct {
	// LogLevel controls verbosity.
	LogLevel LogLevel `yaml:"log_level"`

	// MetricsAddr is the TCP address the /metrics endpoint listens on
	// (e.g., ":9090"). Empty disables the endpoint.
	MetricsAddr string `yaml:"metrics_addr"`
}

// SessionConfig describes the remote speech session.
type SessionConfig struct {
	// Model is the remote speech model identifier
	// (e.g., "gemini-2.0-flash-live-001").
	Model string `yaml:"model"`

	// Voice selects the synthesized voice (e.g., "Puck"). Empty uses the
	// service default.
	Voice string `yaml:"voice"`

	// Instructions is the system-level prompt for the session.
	Instructions string `yaml:"instructions"`

	// BaseURL overrides the service WebSocket endpoint. Leave empty for the
	// production endpoint.
	BaseURL string `yaml:"base_url"`

	// TriggerModelFirst makes the model speak first after setup instead of
	// waiting for the user.
	TriggerModelFirst *bool `yaml:"trigger_model_first"`
}

// AudioConfig holds sample rates and capture framing.
type AudioConfig struct {
	// InputRate is the microphone sample rate sent to the model in Hz.
	InputRate int `yaml:"input_rate"`

	// OutputRate is the model audio sample rate in Hz.
	OutputRate int `yaml:"output_rate"`

	// FrameSamples is the capture frame size in samples at InputRate.
	FrameSamples int `yaml:"frame_samples"`
}

// CredentialsConfig selects how ephemeral session tokens are obtained.
// Exactly one of TokenURL or StaticToken must be set.
type CredentialsConfig struct {
	// TokenURL is a token-issuing endpoint POSTed to before each dial.
	TokenURL string `yaml:"token_url"`

	// StaticToken is a fixed token for development setups.
	StaticToken string `yaml:"static_token"`
}

// ReconnectConfig bounds the automatic reconnect policy.
type ReconnectConfig struct {
	// BaseDelay is the backoff unit; attempt n waits n*BaseDelay.
	BaseDelay time.Duration `yaml:"base_delay"`

	// MaxAttempts bounds consecutive failed reconnects before giving up.
	MaxAttempts int `yaml:"max_attempts"`
}

// ToolServer describes one MCP tool server to connect at startup.
type ToolServer struct {
	// Name uniquely identifies this server.
	Name string `yaml:"name"`

	// Transport is "stdio" or "streamable-http".
	Transport string `yaml:"transport"`

	// Command is the executable launched for stdio transport.
	Command string `yaml:"command"`

	// URL is the endpoint for streamable-http transport.
	URL string `yaml:"url"`

	// Env holds extra environment variables for the stdio subprocess.
	Env map[string]string `yaml:"env"`
}

// HeartbeatConfig tunes dead-connection detection.
type HeartbeatConfig struct {
	// Interval is how often liveness is checked.
	Interval time.Duration `yaml:"interval"`

	// Timeout is the silence window after which a connection is declared dead.
	Timeout time.Duration `yaml:"timeout"`
}

// Default values applied by [LoadFromReader] for fields left unset.
const (
	DefaultInputRate    = 16000
	DefaultOutputRate   = 24000
	DefaultFrameSamples = 2048

	DefaultBaseDelay   = 2 * time.Second
	DefaultMaxAttempts = 5

	DefaultHeartbeatInterval = 30 * time.Second
	DefaultHeartbeatTimeout  = 120 * time.Second
)

// applyDefaults fills unset fields in place.
func (c *Config) applyDefaults() {
	if c.Server.LogLevel == "" {
		c.Server.LogLevel = LogInfo
	}
	if c.Audio.InputRate == 0 {
		c.Audio.InputRate = DefaultInputRate
	}
	if c.Audio.OutputRate == 0 {
		c.Audio.OutputRate = DefaultOutputRate
	}
	if c.Audio.FrameSamples == 0 {
		c.Audio.FrameSamples = DefaultFrameSamples
	}
	if c.Reconnect.BaseDelay == 0 {
		c.Reconnect.BaseDelay = DefaultBaseDelay
	}
	if c.Reconnect.MaxAttempts == 0 {
		c.Reconnect.MaxAttempts = DefaultMaxAttempts
	}
	if c.Heartbeat.Interval == 0 {
		c.Heartbeat.Interval = DefaultHeartbeatInterval
	}
	if c.Heartbeat.Timeout == 0 {
		c.Heartbeat.Timeout = DefaultHeartbeatTimeout
	}
	if c.Session.TriggerModelFirst == nil {
		v := true
		c.Session.TriggerModelFirst = &v
	}
}
