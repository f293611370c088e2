// Package mcpserver exposes the tool router over the Model Context Protocol.
//
// The router's HTTP API is meant for in-house callers; MCP is the surface an
// LLM host expects. This package registers every routed tool on an MCP server
// so that any MCP client (an agent runtime, an IDE, the voice frontend's own
// LLM loop) can list and call them. Routing, feature flags, and fallback all
// apply exactly as they do on the HTTP path — the MCP layer is a thin shim
// over [tool.Router.Execute].
package mcpserver

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"

	mcpsdk "github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/avockley/parlance/internal/tool"
)

// serverName identifies this server in the MCP handshake.
const serverName = "parlance"

// Server hosts the routed tool catalogue over MCP.
type Server struct {
	router *tool.Router
	log    *slog.Logger
	srv    *mcpsdk.Server
}

// New builds a Server exposing defs, executing every call through router.
func New(router *tool.Router, defs []tool.Definition, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	s := &Server{
		router: router,
		log:    logger,
	}
	s.srv = mcpsdk.NewServer(
		&mcpsdk.Implementation{Name: serverName, Version: "1.0.0"},
		&mcpsdk.ServerOptions{HasTools: true},
	)
	for _, def := range defs {
		schema := any(def.ParameterSchema)
		if def.ParameterSchema == nil {
			schema = objectSchema()
		}
		s.srv.AddTool(&mcpsdk.Tool{
			Name:        def.Name,
			Description: def.Description,
			InputSchema: schema,
		}, s.handler(def.Name))
	}
	return s
}

// handler adapts one routed tool to the MCP tool-call signature.
func (s *Server) handler(name string) mcpsdk.ToolHandler {
	return func(ctx context.Context, req *mcpsdk.CallToolRequest) (*mcpsdk.CallToolResult, error) {
		params, err := decodeArguments(req)
		if err != nil {
			return nil, fmt.Errorf("mcpserver: tool %q: %w", name, err)
		}

		inv := tool.NewInvocation(name, params)
		s.log.Debug("mcpserver: tool call",
			"tool", name, "request_id", inv.RequestID)

		res := s.router.Execute(ctx, inv)
		return &mcpsdk.CallToolResult{
			Content: []mcpsdk.Content{&mcpsdk.TextContent{Text: res.Content}},
			IsError: res.IsError,
		}, nil
	}
}

// HTTPHandler returns the streamable-HTTP endpoint for this server, suitable
// for mounting on the application mux.
func (s *Server) HTTPHandler() http.Handler {
	return mcpsdk.NewStreamableHTTPHandler(func(*http.Request) *mcpsdk.Server {
		return s.srv
	}, &mcpsdk.StreamableHTTPOptions{JSONResponse: true})
}

// Serve runs the server on the given transport until the session ends or
// ctx is cancelled. Pass [mcpsdk.StdioTransport] when the process is spawned
// directly by an MCP host instead of deployed as a network service.
func (s *Server) Serve(ctx context.Context, transport mcpsdk.Transport) error {
	if err := s.srv.Run(ctx, transport); err != nil {
		return fmt.Errorf("mcpserver: serve: %w", err)
	}
	return nil
}

// decodeArguments unpacks the call's argument object. A missing or empty
// argument payload yields an empty params map, not an error.
func decodeArguments(req *mcpsdk.CallToolRequest) (map[string]any, error) {
	raw := json.RawMessage(req.Params.Arguments)
	if len(raw) == 0 {
		return map[string]any{}, nil
	}
	var params map[string]any
	if err := json.Unmarshal(raw, &params); err != nil {
		return nil, fmt.Errorf("decode arguments: %w", err)
	}
	if params == nil {
		params = map[string]any{}
	}
	return params, nil
}

// objectSchema is the permissive input schema advertised for tools that do
// not declare a parameter schema. Params are forwarded opaquely either way;
// validation lives with the implementations behind the router.
func objectSchema() map[string]any {
	return map[string]any{
		"type":                 "object",
		"additionalProperties": true,
	}
}
