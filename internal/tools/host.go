// Package tools exposes external capabilities to the remote speech model.
//
// A [Host] aggregates tools from Model Context Protocol (MCP) servers and
// in-process Go functions behind one catalogue. The session layer offers the
// catalogue to the model at setup; when the model invokes a tool, the
// supervisor routes the call back here via [Host.Call].
//
// The core has no knowledge of tool semantics — everything behind a tool
// name is opaque to it.
package tools

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/exec"
	"sort"
	"strings"
	"sync"

	mcpsdk "github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/parleyvoice/parley/pkg/session"
)

// Transport selects the connection mechanism for an MCP server.
type Transport string

const (
	// TransportStdio spawns a subprocess and communicates over stdin/stdout.
	TransportStdio Transport = "stdio"

	// TransportStreamableHTTP communicates via the MCP Streamable HTTP protocol.
	TransportStreamableHTTP Transport = "streamable-http"
)

// IsValid reports whether t is a recognised transport.
func (t Transport) IsValid() bool {
	return t == TransportStdio || t == TransportStreamableHTTP
}

// ServerConfig describes how to connect to a single MCP server.
type ServerConfig struct {
	// Name is a unique identifier for this server, used in logs and errors.
	Name string

	// Transport specifies the connection mechanism.
	Transport Transport

	// Command is the executable (with optional arguments) launched when
	// Transport is stdio. Ignored for streamable-http.
	Command string

	// URL is the endpoint address used when Transport is streamable-http.
	// Ignored for stdio.
	URL string

	// Env holds additional environment variables injected into the
	// subprocess for stdio transport. May be nil.
	Env map[string]string
}

// BuiltinTool is an in-process tool backed by a Go function.
type BuiltinTool struct {
	// Definition is offered to the model at session setup.
	Definition session.ToolDefinition

	// Handler executes the tool. Args arrive as decoded JSON.
	Handler func(ctx context.Context, args map[string]any) (map[string]any, error)
}

// toolEntry holds routing metadata for one registered tool.
type toolEntry struct {
	def        session.ToolDefinition
	serverName string

	// builtinFn is non-nil for in-process tools.
	builtinFn func(ctx context.Context, args map[string]any) (map[string]any, error)
}

// serverConn holds a live connection to an external MCP server.
type serverConn struct {
	session *mcpsdk.ClientSession
}

// Host aggregates tools from MCP servers and builtin functions. Safe for
// concurrent use. The zero value is not usable; create instances with [New].
type Host struct {
	mu      sync.RWMutex
	tools   map[string]toolEntry
	servers map[string]serverConn

	// client is reused across all server connections; the SDK allows one
	// Client to manage multiple sessions concurrently.
	client *mcpsdk.Client
}

// New creates and returns a ready-to-use Host.
func New() *Host {
	client := mcpsdk.NewClient(
		&mcpsdk.Implementation{Name: "parley", Version: "1.0.0"},
		nil,
	)
	return &Host{
		tools:   make(map[string]toolEntry),
		servers: make(map[string]serverConn),
		client:  client,
	}
}

// RegisterServer connects to the MCP server described by cfg and imports its
// tool catalogue. If a server with the same Name is already registered, the
// old connection is closed and replaced.
func (h *Host) RegisterServer(ctx context.Context, cfg ServerConfig) error {
	if cfg.Name == "" {
		return fmt.Errorf("tools: server config must have a non-empty name")
	}
	if !cfg.Transport.IsValid() {
		return fmt.Errorf("tools: unknown transport %q for server %q", cfg.Transport, cfg.Name)
	}

	var transport mcpsdk.Transport

	switch cfg.Transport {
	case TransportStdio:
		executable, args := splitCommand(cfg.Command)
		if executable == "" {
			return fmt.Errorf("tools: stdio server %q requires a non-empty Command", cfg.Name)
		}
		cmd := exec.CommandContext(ctx, executable, args...)
		if len(cfg.Env) > 0 {
			cmd.Env = os.Environ()
			for k, v := range cfg.Env {
				cmd.Env = append(cmd.Env, k+"="+v)
			}
		}
		transport = &mcpsdk.CommandTransport{Command: cmd}

	case TransportStreamableHTTP:
		if cfg.URL == "" {
			return fmt.Errorf("tools: streamable-http server %q requires a non-empty URL", cfg.Name)
		}
		transport = &mcpsdk.StreamableClientTransport{Endpoint: cfg.URL}
	}

	sess, err := h.client.Connect(ctx, transport, nil)
	if err != nil {
		return fmt.Errorf("tools: failed to connect to server %q: %w", cfg.Name, err)
	}

	var discovered []mcpsdk.Tool
	for tool, err := range sess.Tools(ctx, nil) {
		if err != nil {
			_ = sess.Close()
			return fmt.Errorf("tools: failed to list tools for server %q: %w", cfg.Name, err)
		}
		discovered = append(discovered, *tool)
	}

	h.mu.Lock()
	defer h.mu.Unlock()

	if old, ok := h.servers[cfg.Name]; ok {
		_ = old.session.Close()
		for name, t := range h.tools {
			if t.serverName == cfg.Name {
				delete(h.tools, name)
			}
		}
	}

	h.servers[cfg.Name] = serverConn{session: sess}

	for _, t := range discovered {
		h.tools[t.Name] = toolEntry{
			def: session.ToolDefinition{
				Name:        t.Name,
				Description: t.Description,
				Parameters:  schemaToMap(t.InputSchema),
			},
			serverName: cfg.Name,
		}
	}

	return nil
}

// RegisterBuiltin registers an in-process tool. Replaces any tool already
// registered under the same name.
func (h *Host) RegisterBuiltin(tool BuiltinTool) error {
	if tool.Definition.Name == "" {
		return fmt.Errorf("tools: builtin tool must have a non-empty name")
	}
	if tool.Handler == nil {
		return fmt.Errorf("tools: builtin tool %q must have a handler", tool.Definition.Name)
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	h.tools[tool.Definition.Name] = toolEntry{
		def:       tool.Definition,
		builtinFn: tool.Handler,
	}
	return nil
}

// Definitions returns the full tool catalogue sorted by name, ready to offer
// to the model at session setup.
func (h *Host) Definitions() []session.ToolDefinition {
	h.mu.RLock()
	defer h.mu.RUnlock()

	defs := make([]session.ToolDefinition, 0, len(h.tools))
	for _, e := range h.tools {
		defs = append(defs, e.def)
	}
	sort.Slice(defs, func(i, j int) bool { return defs[i].Name < defs[j].Name })
	return defs
}

// Call executes one tool invocation from the model. Its signature matches
// the supervisor's tool handler. A non-nil result with an "error" key means
// the tool itself failed; a Go error means the call could not be routed.
func (h *Host) Call(ctx context.Context, call session.ToolCall) (map[string]any, error) {
	h.mu.RLock()
	entry, ok := h.tools[call.Name]
	h.mu.RUnlock()

	if !ok {
		return nil, fmt.Errorf("tools: tool %q not found", call.Name)
	}

	if entry.builtinFn != nil {
		return entry.builtinFn(ctx, call.Args)
	}
	return h.callServer(ctx, entry, call.Args)
}

// callServer routes the call to the owning server session.
func (h *Host) callServer(ctx context.Context, entry toolEntry, args map[string]any) (map[string]any, error) {
	h.mu.RLock()
	conn, ok := h.servers[entry.serverName]
	h.mu.RUnlock()

	if !ok {
		return nil, fmt.Errorf("tools: server %q not found for tool %q", entry.serverName, entry.def.Name)
	}

	callResult, err := conn.session.CallTool(ctx, &mcpsdk.CallToolParams{
		Name:      entry.def.Name,
		Arguments: args,
	})
	if err != nil {
		return nil, fmt.Errorf("tools: call to tool %q failed: %w", entry.def.Name, err)
	}

	// Concatenate all text content from the result.
	var sb strings.Builder
	for _, c := range callResult.Content {
		if tc, ok := c.(*mcpsdk.TextContent); ok {
			sb.WriteString(tc.Text)
		}
	}

	if callResult.IsError {
		return map[string]any{"error": sb.String()}, nil
	}
	return map[string]any{"output": sb.String()}, nil
}

// Close shuts down all server connections. The Host is unusable afterwards.
func (h *Host) Close() error {
	h.mu.Lock()
	defer h.mu.Unlock()

	var firstErr error
	for name, conn := range h.servers {
		if err := conn.session.Close(); err != nil && firstErr == nil {
			firstErr = fmt.Errorf("tools: closing server %q: %w", name, err)
		}
		delete(h.servers, name)
	}
	h.tools = make(map[string]toolEntry)
	return firstErr
}

// splitCommand splits a command string into executable and arguments.
func splitCommand(command string) (string, []string) {
	fields := strings.Fields(command)
	if len(fields) == 0 {
		return "", nil
	}
	return fields[0], fields[1:]
}

// schemaToMap converts an SDK input schema to a plain map via a JSON
// round-trip. Falls back to a bare object schema when conversion fails.
func schemaToMap(schema any) map[string]any {
	if schema == nil {
		return map[string]any{"type": "object"}
	}
	data, err := json.Marshal(schema)
	if err != nil {
		return map[string]any{"type": "object"}
	}
	var m map[string]any
	if err := json.Unmarshal(data, &m); err != nil {
		return map[string]any{"type": "object"}
	}
	return m
}
