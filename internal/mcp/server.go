// Package mcp implements the Model Context Protocol transport: a JSON
// request/response endpoint and an SSE session channel with a sidecar POST
// endpoint, both dispatching into a tool registry.
package mcp

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"time"

	"github.com/mohammad-safakhou/sefaria-gateway/internal/metrics"
	"github.com/mohammad-safakhou/sefaria-gateway/internal/tools"
)

const protocolVersion = "2024-11-05"

// JSON-RPC error codes used by the transport.
const (
	codeParseError     = -32700
	codeMethodNotFound = -32601
	codeInvalidParams  = -32602
	codeToolError      = -32000
)

// Request is one JSON-RPC 2.0 request or notification.
type Request struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      any             `json:"id"`
	Method  string          `json:"method"`
	Params  json.RawMessage `json:"params,omitempty"`
}

// IsNotification reports whether the request carries no id.
func (r Request) IsNotification() bool { return r.ID == nil }

// Error is a JSON-RPC error object.
type Error struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

// Response is one JSON-RPC 2.0 response.
type Response struct {
	JSONRPC string `json:"jsonrpc"`
	ID      any    `json:"id"`
	Result  any    `json:"result,omitempty"`
	Error   *Error `json:"error,omitempty"`
}

func ok(id, result any) *Response {
	return &Response{JSONRPC: "2.0", ID: id, Result: result}
}

func fail(id any, code int, format string, args ...any) *Response {
	return &Response{JSONRPC: "2.0", ID: id, Error: &Error{Code: code, Message: fmt.Sprintf(format, args...)}}
}

// Server is one MCP server instance over a tool registry. Two instances
// share the process: the corpus server and the web server.
type Server struct {
	name     string
	version  string
	registry *tools.Registry
	metrics  *metrics.Metrics
	logger   *log.Logger
	sessions *sessionRegistry
}

// NewServer builds a Server named name over registry.
func NewServer(name, version string, registry *tools.Registry, m *metrics.Metrics, logger *log.Logger) *Server {
	if logger == nil {
		logger = log.New(log.Writer(), "[MCP] ", log.LstdFlags)
	}
	return &Server{
		name:     name,
		version:  version,
		registry: registry,
		metrics:  m,
		logger:   logger,
		sessions: newSessionRegistry(),
	}
}

// Name returns the server's instance name.
func (s *Server) Name() string { return s.name }

// SessionCount reports the number of open SSE sessions.
func (s *Server) SessionCount() int { return s.sessions.len() }

// Handle dispatches one request and returns its response, or nil for
// notifications.
func (s *Server) Handle(ctx context.Context, req Request) *Response {
	started := time.Now()
	defer func() {
		s.metrics.ObserveRequest(time.Since(started))
	}()

	if req.IsNotification() {
		return nil
	}

	switch req.Method {
	case "initialize":
		return ok(req.ID, map[string]any{
			"protocolVersion": protocolVersion,
			"capabilities":    map[string]any{"tools": map[string]any{}},
			"serverInfo":      map[string]any{"name": s.name, "version": s.version},
		})
	case "ping":
		return ok(req.ID, map[string]any{})
	case "tools/list":
		return ok(req.ID, map[string]any{"tools": s.toolDescriptors()})
	case "tools/call":
		return s.handleToolCall(ctx, req)
	default:
		s.logger.Printf("%s: method not found: %s", s.name, req.Method)
		return fail(req.ID, codeMethodNotFound, "method not found: %s", req.Method)
	}
}

func (s *Server) toolDescriptors() []map[string]any {
	list := s.registry.List()
	out := make([]map[string]any, 0, len(list))
	for _, t := range list {
		desc := map[string]any{
			"name":        t.Name,
			"description": t.Description,
			"inputSchema": t.InputSchema,
		}
		if t.OutputSchema != nil {
			desc["outputSchema"] = t.OutputSchema
		}
		out = append(out, desc)
	}
	return out
}

func (s *Server) handleToolCall(ctx context.Context, req Request) *Response {
	var params struct {
		Name      string         `json:"name"`
		Arguments map[string]any `json:"arguments"`
	}
	if len(req.Params) > 0 {
		if err := json.Unmarshal(req.Params, &params); err != nil {
			return fail(req.ID, codeInvalidParams, "invalid params: %v", err)
		}
	}
	if params.Name == "" {
		return fail(req.ID, codeInvalidParams, "missing tool name")
	}
	tool, found := s.registry.Get(params.Name)
	if !found {
		return fail(req.ID, codeMethodNotFound, "unknown tool: %s", params.Name)
	}
	if params.Arguments == nil {
		params.Arguments = map[string]any{}
	}

	started := time.Now()
	structured, err := tool.Handler(ctx, params.Arguments)
	s.metrics.ObserveToolCall(params.Name, time.Since(started))
	if err != nil {
		s.metrics.IncError()
		s.logger.Printf("%s: tools/call %s failed: %v", s.name, params.Name, err)
		return fail(req.ID, codeToolError, "%s: %v", params.Name, err)
	}

	text, merr := json.Marshal(structured)
	if merr != nil {
		s.metrics.IncError()
		return fail(req.ID, codeToolError, "%s: encode result: %v", params.Name, merr)
	}
	return ok(req.ID, map[string]any{
		"content":           []any{map[string]any{"type": "text", "text": string(text)}},
		"structuredContent": structured,
	})
}
