package config_test

import (
	"strings"
	"testing"
	"time"

	"github.com/parleyvoice/parley/internal/config"
)

const minimalYAML = `
session:
  model: gemini-2.0-flash-live-001
credentials:
  static_token: dev-token
`

func TestLoadFromReader_AppliesDefaults(t *testing.T) {
	t.Parallel()

	cfg, err := config.LoadFromReader(strings.NewReader(minimalYAML))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if cfg.Server.LogLevel != config.LogInfo {
		t.Errorf("log_level = %q, want info", cfg.Server.LogLevel)
	}
	if cfg.Audio.InputRate != 16000 {
		t.Errorf("input_rate = %d, want 16000", cfg.Audio.InputRate)
	}
	if cfg.Audio.OutputRate != 24000 {
		t.Errorf("output_rate = %d, want 24000", cfg.Audio.OutputRate)
	}
	if cfg.Audio.FrameSamples != 2048 {
		t.Errorf("frame_samples = %d, want 2048", cfg.Audio.FrameSamples)
	}
	if cfg.Reconnect.BaseDelay != 2*time.Second {
		t.Errorf("base_delay = %v, want 2s", cfg.Reconnect.BaseDelay)
	}
	if cfg.Reconnect.MaxAttempts != 5 {
		t.Errorf("max_attempts = %d, want 5", cfg.Reconnect.MaxAttempts)
	}
	if cfg.Heartbeat.Interval != 30*time.Second {
		t.Errorf("heartbeat.interval = %v, want 30s", cfg.Heartbeat.Interval)
	}
	if cfg.Heartbeat.Timeout != 120*time.Second {
		t.Errorf("heartbeat.timeout = %v, want 120s", cfg.Heartbeat.Timeout)
	}
	if cfg.Session.TriggerModelFirst == nil || !*cfg.Session.TriggerModelFirst {
		t.Error("trigger_model_first should default to true")
	}
}

func TestLoadFromReader_ExplicitValuesSurviveDefaults(t *testing.T) {
	t.Parallel()
	yaml := `
server:
  log_level: debug
  metrics_addr: ":9090"
session:
  model: gemini-2.0-flash-live-001
  voice: Puck
  trigger_model_first: false
audio:
  input_rate: 8000
  output_rate: 48000
  frame_samples: 1024
credentials:
  token_url: https://tokens.example.com/issue
reconnect:
  base_delay: 500ms
  max_attempts: 10
heartbeat:
  interval: 10s
  timeout: 45s
`
	cfg, err := config.LoadFromReader(strings.NewReader(yaml))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if cfg.Server.LogLevel != config.LogDebug {
		t.Errorf("log_level = %q, want debug", cfg.Server.LogLevel)
	}
	if cfg.Session.Voice != "Puck" {
		t.Errorf("voice = %q, want Puck", cfg.Session.Voice)
	}
	if cfg.Session.TriggerModelFirst == nil || *cfg.Session.TriggerModelFirst {
		t.Error("trigger_model_first = true, want explicit false preserved")
	}
	if cfg.Audio.InputRate != 8000 || cfg.Audio.OutputRate != 48000 || cfg.Audio.FrameSamples != 1024 {
		t.Errorf("audio = %+v, want explicit values preserved", cfg.Audio)
	}
	if cfg.Reconnect.BaseDelay != 500*time.Millisecond || cfg.Reconnect.MaxAttempts != 10 {
		t.Errorf("reconnect = %+v, want explicit values preserved", cfg.Reconnect)
	}
	if cfg.Heartbeat.Interval != 10*time.Second || cfg.Heartbeat.Timeout != 45*time.Second {
		t.Errorf("heartbeat = %+v, want explicit values preserved", cfg.Heartbeat)
	}
}

func TestValidate_MissingModel(t *testing.T) {
	t.Parallel()
	yaml := `
credentials:
  static_token: dev-token
`
	_, err := config.LoadFromReader(strings.NewReader(yaml))
	if err == nil {
		t.Fatal("expected error for missing session.model, got nil")
	}
	if !strings.Contains(err.Error(), "session.model") {
		t.Errorf("error should mention session.model, got: %v", err)
	}
}

func TestValidate_MissingCredentials(t *testing.T) {
	t.Parallel()
	yaml := `
session:
  model: gemini-2.0-flash-live-001
`
	_, err := config.LoadFromReader(strings.NewReader(yaml))
	if err == nil {
		t.Fatal("expected error for missing credentials, got nil")
	}
	if !strings.Contains(err.Error(), "token_url or static_token") {
		t.Errorf("error should mention credential options, got: %v", err)
	}
}

func TestValidate_MutuallyExclusiveCredentials(t *testing.T) {
	t.Parallel()
	yaml := `
session:
  model: gemini-2.0-flash-live-001
credentials:
  token_url: https://tokens.example.com/issue
  static_token: dev-token
`
	_, err := config.LoadFromReader(strings.NewReader(yaml))
	if err == nil {
		t.Fatal("expected error for both credential options set, got nil")
	}
	if !strings.Contains(err.Error(), "mutually exclusive") {
		t.Errorf("error should mention mutual exclusion, got: %v", err)
	}
}

func TestValidate_InvalidLogLevel(t *testing.T) {
	t.Parallel()
	yaml := `
server:
  log_level: verbose
session:
  model: gemini-2.0-flash-live-001
credentials:
  static_token: dev-token
`
	_, err := config.LoadFromReader(strings.NewReader(yaml))
	if err == nil {
		t.Fatal("expected error for invalid log level, got nil")
	}
	if !strings.Contains(err.Error(), "log_level") {
		t.Errorf("error should mention log_level, got: %v", err)
	}
}

func TestValidate_HeartbeatTimeoutShorterThanInterval(t *testing.T) {
	t.Parallel()
	yaml := `
session:
  model: gemini-2.0-flash-live-001
credentials:
  static_token: dev-token
heartbeat:
  interval: 30s
  timeout: 5s
`
	_, err := config.LoadFromReader(strings.NewReader(yaml))
	if err == nil {
		t.Fatal("expected error for timeout < interval, got nil")
	}
	if !strings.Contains(err.Error(), "heartbeat.timeout") {
		t.Errorf("error should mention heartbeat.timeout, got: %v", err)
	}
}

func TestValidate_ToolServers(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		tools   string
		wantErr string
	}{
		{
			name: "valid stdio",
			tools: `
tools:
  - name: files
    transport: stdio
    command: mcp-filesystem /tmp
`,
		},
		{
			name: "valid streamable-http",
			tools: `
tools:
  - name: search
    transport: streamable-http
    url: http://localhost:8931/mcp
`,
		},
		{
			name: "missing name",
			tools: `
tools:
  - transport: stdio
    command: mcp-filesystem
`,
			wantErr: "name is required",
		},
		{
			name: "duplicate name",
			tools: `
tools:
  - name: files
    transport: stdio
    command: a
  - name: files
    transport: stdio
    command: b
`,
			wantErr: "duplicate name",
		},
		{
			name: "stdio without command",
			tools: `
tools:
  - name: files
    transport: stdio
`,
			wantErr: "requires command",
		},
		{
			name: "http without url",
			tools: `
tools:
  - name: search
    transport: streamable-http
`,
			wantErr: "requires url",
		},
		{
			name: "unknown transport",
			tools: `
tools:
  - name: files
    transport: websocket
`,
			wantErr: "transport",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			yaml := `
session:
  model: gemini-2.0-flash-live-001
credentials:
  static_token: dev-token
` + tt.tools
			_, err := config.LoadFromReader(strings.NewReader(yaml))
			if tt.wantErr == "" {
				if err != nil {
					t.Fatalf("LoadFromReader() error = %v, want nil", err)
				}
				return
			}
			if err == nil {
				t.Fatalf("expected error containing %q, got nil", tt.wantErr)
			}
			if !strings.Contains(err.Error(), tt.wantErr) {
				t.Errorf("error should contain %q, got: %v", tt.wantErr, err)
			}
		})
	}
}

func TestValidate_CollectsAllErrors(t *testing.T) {
	t.Parallel()
	yaml := `
server:
  log_level: loud
audio:
  input_rate: -1
`
	_, err := config.LoadFromReader(strings.NewReader(yaml))
	if err == nil {
		t.Fatal("expected joined validation errors, got nil")
	}
	for _, want := range []string{"log_level", "session.model", "input_rate", "token_url"} {
		if !strings.Contains(err.Error(), want) {
			t.Errorf("joined error should mention %s, got: %v", want, err)
		}
	}
}
