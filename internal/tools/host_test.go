package tools

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/parleyvoice/parley/pkg/session"
)

// ── Test helpers ────────────────────────────────────────────────────────────

func echoTool() BuiltinTool {
	return BuiltinTool{
		Definition: session.ToolDefinition{
			Name:        "echo",
			Description: "Echoes the input back",
			Parameters: map[string]any{
				"type": "object",
				"properties": map[string]any{
					"message": map[string]any{"type": "string"},
				},
			},
		},
		Handler: func(_ context.Context, args map[string]any) (map[string]any, error) {
			return map[string]any{"output": args["message"]}, nil
		},
	}
}

func failTool() BuiltinTool {
	return BuiltinTool{
		Definition: session.ToolDefinition{Name: "fail", Description: "Always fails"},
		Handler: func(_ context.Context, _ map[string]any) (map[string]any, error) {
			return nil, errors.New("intentional failure")
		},
	}
}

func slowTool(delay time.Duration) BuiltinTool {
	return BuiltinTool{
		Definition: session.ToolDefinition{Name: "slow", Description: "Waits before answering"},
		Handler: func(ctx context.Context, _ map[string]any) (map[string]any, error) {
			select {
			case <-time.After(delay):
				return map[string]any{"output": "done"}, nil
			case <-ctx.Done():
				return nil, ctx.Err()
			}
		},
	}
}

// ── Builtin registration ────────────────────────────────────────────────────

func TestRegisterBuiltin(t *testing.T) {
	t.Parallel()

	h := New()
	defer h.Close()

	if err := h.RegisterBuiltin(echoTool()); err != nil {
		t.Fatalf("RegisterBuiltin() error = %v", err)
	}

	defs := h.Definitions()
	if len(defs) != 1 {
		t.Fatalf("Definitions() returned %d tools, want 1", len(defs))
	}
	if defs[0].Name != "echo" {
		t.Errorf("Definitions()[0].Name = %q, want %q", defs[0].Name, "echo")
	}
}

func TestRegisterBuiltinValidation(t *testing.T) {
	t.Parallel()

	h := New()
	defer h.Close()

	t.Run("empty name", func(t *testing.T) {
		err := h.RegisterBuiltin(BuiltinTool{
			Handler: func(_ context.Context, _ map[string]any) (map[string]any, error) {
				return nil, nil
			},
		})
		if err == nil {
			t.Fatal("RegisterBuiltin() error = nil, want non-nil for empty name")
		}
	})

	t.Run("nil handler", func(t *testing.T) {
		err := h.RegisterBuiltin(BuiltinTool{
			Definition: session.ToolDefinition{Name: "broken"},
		})
		if err == nil {
			t.Fatal("RegisterBuiltin() error = nil, want non-nil for nil handler")
		}
	})
}

func TestRegisterBuiltinReplacesExisting(t *testing.T) {
	t.Parallel()

	h := New()
	defer h.Close()

	if err := h.RegisterBuiltin(echoTool()); err != nil {
		t.Fatalf("RegisterBuiltin() error = %v", err)
	}

	replacement := echoTool()
	replacement.Handler = func(_ context.Context, _ map[string]any) (map[string]any, error) {
		return map[string]any{"output": "replaced"}, nil
	}
	if err := h.RegisterBuiltin(replacement); err != nil {
		t.Fatalf("RegisterBuiltin() error = %v", err)
	}

	result, err := h.Call(context.Background(), session.ToolCall{Name: "echo"})
	if err != nil {
		t.Fatalf("Call() error = %v", err)
	}
	if result["output"] != "replaced" {
		t.Errorf("Call() output = %v, want %q", result["output"], "replaced")
	}
}

// ── Server registration ─────────────────────────────────────────────────────

func TestRegisterServerValidation(t *testing.T) {
	t.Parallel()

	h := New()
	defer h.Close()

	ctx := context.Background()

	tests := []struct {
		name string
		cfg  ServerConfig
	}{
		{name: "empty name", cfg: ServerConfig{Transport: TransportStdio, Command: "true"}},
		{name: "unknown transport", cfg: ServerConfig{Name: "x", Transport: "carrier-pigeon"}},
		{name: "stdio without command", cfg: ServerConfig{Name: "x", Transport: TransportStdio}},
		{name: "http without url", cfg: ServerConfig{Name: "x", Transport: TransportStreamableHTTP}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if err := h.RegisterServer(ctx, tt.cfg); err == nil {
				t.Fatal("RegisterServer() error = nil, want non-nil")
			}
		})
	}
}

// ── Execution ───────────────────────────────────────────────────────────────

func TestCall(t *testing.T) {
	t.Parallel()

	h := New()
	defer h.Close()

	if err := h.RegisterBuiltin(echoTool()); err != nil {
		t.Fatalf("RegisterBuiltin() error = %v", err)
	}

	result, err := h.Call(context.Background(), session.ToolCall{
		Name: "echo",
		Args: map[string]any{"message": "hello"},
	})
	if err != nil {
		t.Fatalf("Call() error = %v", err)
	}
	if result["output"] != "hello" {
		t.Errorf("Call() output = %v, want %q", result["output"], "hello")
	}
}

func TestCallUnknownTool(t *testing.T) {
	t.Parallel()

	h := New()
	defer h.Close()

	_, err := h.Call(context.Background(), session.ToolCall{Name: "nonexistent"})
	if err == nil {
		t.Fatal("Call() error = nil, want non-nil for unknown tool")
	}
}

func TestCallPropagatesFailure(t *testing.T) {
	t.Parallel()

	h := New()
	defer h.Close()

	if err := h.RegisterBuiltin(failTool()); err != nil {
		t.Fatalf("RegisterBuiltin() error = %v", err)
	}

	_, err := h.Call(context.Background(), session.ToolCall{Name: "fail"})
	if err == nil {
		t.Fatal("Call() error = nil, want the handler's failure")
	}
}

func TestCallRespectsContextCancellation(t *testing.T) {
	t.Parallel()

	h := New()
	defer h.Close()

	if err := h.RegisterBuiltin(slowTool(5 * time.Second)); err != nil {
		t.Fatalf("RegisterBuiltin() error = %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	_, err := h.Call(ctx, session.ToolCall{Name: "slow"})
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("Call() error = %v, want context.DeadlineExceeded", err)
	}
}

// ── Catalogue ───────────────────────────────────────────────────────────────

func TestDefinitionsSortedByName(t *testing.T) {
	t.Parallel()

	h := New()
	defer h.Close()

	for _, tool := range []BuiltinTool{slowTool(time.Millisecond), echoTool(), failTool()} {
		if err := h.RegisterBuiltin(tool); err != nil {
			t.Fatalf("RegisterBuiltin(%q) error = %v", tool.Definition.Name, err)
		}
	}

	defs := h.Definitions()
	want := []string{"echo", "fail", "slow"}
	if len(defs) != len(want) {
		t.Fatalf("Definitions() returned %d tools, want %d", len(defs), len(want))
	}
	for i, name := range want {
		if defs[i].Name != name {
			t.Errorf("Definitions()[%d].Name = %q, want %q", i, defs[i].Name, name)
		}
	}
}

func TestCloseClearsCatalogue(t *testing.T) {
	t.Parallel()

	h := New()
	if err := h.RegisterBuiltin(echoTool()); err != nil {
		t.Fatalf("RegisterBuiltin() error = %v", err)
	}

	if err := h.Close(); err != nil {
		t.Fatalf("Close() error = %v", err)
	}
	if got := len(h.Definitions()); got != 0 {
		t.Errorf("Definitions() after Close returned %d tools, want 0", got)
	}
}
