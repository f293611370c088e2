// Package legacy executes tool invocations on the pre-migration monolith.
//
// The monolith is reached over MCP (Model Context Protocol) using the
// official Go SDK, either by spawning it as a subprocess (stdio transport)
// or by calling its streamable-HTTP endpoint. From the router's point of
// view it is a black box: an invocation goes in, a reply comes out, and its
// internals are never inspected.
package legacy

import (
	"context"
	"fmt"
	"log/slog"
	"os/exec"
	"strings"

	mcpsdk "github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/avockley/parlance/internal/tool"
)

// Transport selects the connection mechanism to the legacy monolith.
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

// Config describes how to reach the legacy monolith.
type Config struct {
	// Transport selects stdio or streamable-http.
	Transport Transport

	// Command is the subprocess command line for stdio transport. It is
	// split on spaces into executable + args.
	Command string

	// URL is the endpoint address for streamable-http transport.
	URL string

	// Env holds additional environment variables for the subprocess.
	Env map[string]string
}

// Executor is a tool.Executor backed by a live MCP session to the legacy
// monolith.
//
// The zero value is not usable; create instances with [Connect].
type Executor struct {
	session *mcpsdk.ClientSession
	log     *slog.Logger
}

// Compile-time check: Executor must implement tool.Executor.
var _ tool.Executor = (*Executor)(nil)

// Connect establishes the MCP session described by cfg. The caller owns the
// returned Executor and must Close it when done.
func Connect(ctx context.Context, cfg Config, logger *slog.Logger) (*Executor, error) {
	if !cfg.Transport.IsValid() {
		return nil, fmt.Errorf("legacy: unknown transport %q", cfg.Transport)
	}
	if logger == nil {
		logger = slog.Default()
	}

	var transport mcpsdk.Transport
	switch cfg.Transport {
	case TransportStdio:
		executable, args := splitCommand(cfg.Command)
		if executable == "" {
			return nil, fmt.Errorf("legacy: stdio transport requires a non-empty Command")
		}
		cmd := exec.CommandContext(ctx, executable, args...)
		for k, v := range cfg.Env {
			cmd.Env = append(cmd.Env, k+"="+v)
		}
		transport = &mcpsdk.CommandTransport{Command: cmd}

	case TransportStreamableHTTP:
		if cfg.URL == "" {
			return nil, fmt.Errorf("legacy: streamable-http transport requires a non-empty URL")
		}
		transport = &mcpsdk.StreamableClientTransport{Endpoint: cfg.URL}
	}

	client := mcpsdk.NewClient(
		&mcpsdk.Implementation{Name: "parlance-router", Version: "1.0.0"},
		nil,
	)
	session, err := client.Connect(ctx, transport, nil)
	if err != nil {
		return nil, fmt.Errorf("legacy: connect: %w", err)
	}

	return &Executor{session: session, log: logger}, nil
}

// Execute calls the invocation's tool on the monolith and returns its
// reply. An application-level error reported by the monolith comes back as
// an Outcome with IsError set; a Go error is returned only on transport or
// protocol failure.
func (e *Executor) Execute(ctx context.Context, inv tool.Invocation) (*tool.Outcome, error) {
	callResult, err := e.session.CallTool(ctx, &mcpsdk.CallToolParams{
		Name:      inv.ToolName,
		Arguments: inv.Params,
	})
	if err != nil {
		return nil, fmt.Errorf("legacy: call tool %q: %w", inv.ToolName, err)
	}

	// Concatenate all text content from the result.
	var sb strings.Builder
	for _, c := range callResult.Content {
		if tc, ok := c.(*mcpsdk.TextContent); ok {
			sb.WriteString(tc.Text)
		}
	}

	if callResult.IsError {
		e.log.Warn("legacy: tool reported error",
			"tool", inv.ToolName, "request_id", inv.RequestID)
	}
	return &tool.Outcome{Content: sb.String(), IsError: callResult.IsError}, nil
}

// Tools lists the tool catalogue the monolith exposes, for registry
// construction at startup.
func (e *Executor) Tools(ctx context.Context) ([]string, error) {
	var names []string
	for t, err := range e.session.Tools(ctx, nil) {
		if err != nil {
			return nil, fmt.Errorf("legacy: list tools: %w", err)
		}
		names = append(names, t.Name)
	}
	return names, nil
}

// Ping verifies the monolith session is still responsive. Used by the
// readiness probe.
func (e *Executor) Ping(ctx context.Context) error {
	if err := e.session.Ping(ctx, nil); err != nil {
		return fmt.Errorf("legacy: ping: %w", err)
	}
	return nil
}

// Close shuts down the MCP session. The Executor must not be used after
// Close returns.
func (e *Executor) Close() error {
	if err := e.session.Close(); err != nil {
		return fmt.Errorf("legacy: close session: %w", err)
	}
	return nil
}

// splitCommand splits a command string into executable and arguments.
// e.g. "/bin/foo --bar baz" → ("/bin/foo", ["--bar", "baz"]).
func splitCommand(command string) (executable string, args []string) {
	parts := strings.Fields(command)
	if len(parts) == 0 {
		return "", nil
	}
	return parts[0], parts[1:]
}
