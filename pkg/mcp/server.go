// Copyright 2026 © The Conclave Authors
// SPDX-License-Identifier: Apache-2.0

// Package mcp exposes the council engine to a host agent over the Model
// Context Protocol, and connects sub-agents to external MCP tool servers.
package mcp

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/jllopis/conclave/pkg/core"
	"github.com/jllopis/conclave/pkg/council"
	"github.com/jllopis/conclave/pkg/dispatch"
	cerrors "github.com/jllopis/conclave/pkg/errors"
	"github.com/jllopis/conclave/pkg/skills"
	"github.com/jllopis/conclave/pkg/subagent"
	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"
)

// Version is reported to MCP peers.
const Version = "0.1.0"

// Tool names.
const (
	ToolQueryPersona   = "query_persona_with_provider"
	ToolCouncilQuery   = "council_query"
	ToolInvokeSubagent = "invoke_subagent"
	ToolListCouncils   = "list_councils"
	ToolGetCouncil     = "get_council"
	ToolListPersonas   = "list_personas"
)

const defaultSessionID = "mcp"

// Server wraps the mcp-go server with the council tools.
type Server struct {
	mcpServer *server.MCPServer
	engine    *council.Engine
	runtime   *subagent.Runtime
	resources *skills.ResourceTool
	tools     map[string][]string
	timeout   time.Duration
	sessionID string
	logger    *slog.Logger
}

// ServerOption customizes a Server.
type ServerOption func(*Server)

// WithDispatchTimeout sets the per-call timeout used when a request does
// not carry one.
func WithDispatchTimeout(d time.Duration) ServerOption {
	return func(s *Server) {
		if d > 0 {
			s.timeout = d
		}
	}
}

// WithSubagentRuntime enables invoke_subagent.
func WithSubagentRuntime(rt *subagent.Runtime) ServerOption {
	return func(s *Server) { s.runtime = rt }
}

// WithResourceTool enables the Tier-3 skill resource tool.
func WithResourceTool(rt *skills.ResourceTool) ServerOption {
	return func(s *Server) { s.resources = rt }
}

// WithSubagentTools sets the per-persona tool allow-list used when
// building sub-agents.
func WithSubagentTools(tools map[string][]string) ServerOption {
	return func(s *Server) { s.tools = tools }
}

// WithSessionID sets the session sub-agent specs are cached under.
func WithSessionID(id string) ServerOption {
	return func(s *Server) {
		if id != "" {
			s.sessionID = id
		}
	}
}

// WithServerLogger sets the logger.
func WithServerLogger(l *slog.Logger) ServerOption {
	return func(s *Server) {
		if l != nil {
			s.logger = l
		}
	}
}

// NewServer creates an MCP server exposing engine.
func NewServer(name string, engine *council.Engine, opts ...ServerOption) *Server {
	s := &Server{
		mcpServer: server.NewMCPServer(name, Version, server.WithToolCapabilities(false)),
		engine:    engine,
		timeout:   30 * time.Second,
		sessionID: defaultSessionID,
		logger:    slog.Default(),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.register()
	return s
}

// MCPServer returns the underlying mcp-go server.
func (s *Server) MCPServer() *server.MCPServer { return s.mcpServer }

// ServeStdio serves on stdin/stdout until the peer disconnects.
func (s *Server) ServeStdio() error {
	return server.ServeStdio(s.mcpServer)
}

func (s *Server) register() {
	s.mcpServer.AddTool(mcp.NewTool(ToolQueryPersona,
		mcp.WithDescription("Ask one persona a question through a specific model backend."),
		mcp.WithString("persona_name", mcp.Required(), mcp.Description("Persona name or id")),
		mcp.WithString("provider", mcp.Description("Backend id, e.g. anthropic, openai, google")),
		mcp.WithString("query", mcp.Required(), mcp.Description("The question for the persona")),
		mcp.WithNumber("max_tokens", mcp.Description("Maximum tokens in the reply")),
		mcp.WithNumber("temperature", mcp.Description("Sampling temperature")),
	), s.handleQueryPersona)

	s.mcpServer.AddTool(mcp.NewTool(ToolCouncilQuery,
		mcp.WithDescription("Ask several personas at once. Each request runs independently; failures are reported inline."),
		mcp.WithArray("requests", mcp.Required(),
			mcp.Description("List of {persona, backend, query} objects"),
			mcp.Items(map[string]any{
				"type": "object",
				"properties": map[string]any{
					"persona": map[string]any{"type": "string"},
					"backend": map[string]any{"type": "string"},
					"query":   map[string]any{"type": "string"},
				},
				"required": []string{"persona", "query"},
			}),
		),
		mcp.WithNumber("timeout_seconds", mcp.Description("Per-call timeout in seconds")),
	), s.handleCouncilQuery)

	s.mcpServer.AddTool(mcp.NewTool(ToolListPersonas,
		mcp.WithDescription("List the available personas."),
	), s.handleListPersonas)

	s.mcpServer.AddTool(mcp.NewTool(ToolListCouncils,
		mcp.WithDescription("List the available council directives."),
	), s.handleListCouncils)

	s.mcpServer.AddTool(mcp.NewTool(ToolGetCouncil,
		mcp.WithDescription("Return the instructions of a council directive."),
		mcp.WithString("name", mcp.Required(), mcp.Description("Council name")),
	), s.handleGetCouncil)

	if s.runtime != nil {
		s.mcpServer.AddTool(mcp.NewTool(ToolInvokeSubagent,
			mcp.WithDescription("Run a persona sub-agent on a task and return its answer."),
			mcp.WithString("name", mcp.Required(), mcp.Description("Sub-agent name (lowercase persona name)")),
			mcp.WithString("task", mcp.Required(), mcp.Description("Task for the sub-agent")),
		), s.handleInvokeSubagent)
	}

	if s.resources != nil {
		def := s.resources.ToolDefinition()
		s.mcpServer.AddTool(mcp.NewToolWithRawSchema(def.Function.Name, def.Function.Description, mustJSON(def.Function.Parameters)),
			s.handleSkillResource)
	}
}

func (s *Server) handleQueryPersona(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	args := request.GetArguments()
	req := dispatch.Request{
		Persona: request.GetString("persona_name", ""),
		Backend: request.GetString("provider", ""),
		Query:   request.GetString("query", ""),
	}
	if v, ok := number(args["max_tokens"]); ok {
		n := int(v)
		req.MaxTokens = &n
	}
	if v, ok := number(args["temperature"]); ok {
		req.Temperature = &v
	}
	if req.Persona == "" || req.Query == "" {
		return errorText(cerrors.InvalidInput("persona_name and query are required")), nil
	}
	res, err := s.engine.DispatchAll(s.sessionContext(ctx), []dispatch.Request{req}, s.timeout)
	if err != nil {
		return errorText(err), nil
	}
	return mcp.NewToolResultText(res[0].Render()), nil
}

func (s *Server) handleCouncilQuery(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	args := request.GetArguments()
	reqs, err := decodeRequests(args["requests"])
	if err != nil {
		return errorText(err), nil
	}
	timeout := s.timeout
	if v, ok := number(args["timeout_seconds"]); ok && v > 0 {
		timeout = time.Duration(v * float64(time.Second))
	}
	results, err := s.engine.DispatchAll(s.sessionContext(ctx), reqs, timeout)
	if err != nil {
		return errorText(err), nil
	}
	var b strings.Builder
	for i, r := range results {
		if i > 0 {
			b.WriteString("\n\n")
		}
		if r.Backend != "" {
			fmt.Fprintf(&b, "### %s (%s)\n\n%s", r.Persona, r.Backend, r.Render())
		} else {
			fmt.Fprintf(&b, "### %s\n\n%s", r.Persona, r.Render())
		}
	}
	return mcp.NewToolResultText(b.String()), nil
}

func (s *Server) handleListPersonas(ctx context.Context, _ mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	ps, err := s.engine.Personas(ctx)
	if err != nil {
		return errorText(err), nil
	}
	var b strings.Builder
	for _, p := range ps {
		fmt.Fprintf(&b, "- %s", p.Name)
		if p.Description != "" {
			fmt.Fprintf(&b, ": %s", p.Description)
		}
		if len(p.AllowedBackends) > 0 {
			fmt.Fprintf(&b, " [%s]", strings.Join(p.AllowedBackends, ", "))
		}
		b.WriteString("\n")
	}
	if b.Len() == 0 {
		return mcp.NewToolResultText("No personas configured."), nil
	}
	return mcp.NewToolResultText(strings.TrimRight(b.String(), "\n")), nil
}

func (s *Server) handleListCouncils(ctx context.Context, _ mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	ds, err := s.engine.Directives(ctx)
	if err != nil {
		return errorText(err), nil
	}
	if len(ds) == 0 {
		return mcp.NewToolResultText("No councils configured."), nil
	}
	lines := make([]string, 0, len(ds))
	for _, d := range ds {
		lines = append(lines, fmt.Sprintf("- %s: %s", d.Name, d.Summary()))
	}
	return mcp.NewToolResultText(strings.Join(lines, "\n")), nil
}

func (s *Server) handleGetCouncil(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	name, err := request.RequireString("name")
	if err != nil {
		return errorText(cerrors.InvalidInput("name is required")), nil
	}
	d, err := s.engine.Directive(ctx, name)
	if err != nil {
		return errorText(err), nil
	}
	return mcp.NewToolResultText(fmt.Sprintf("# %s\n\n%s", d.Name, d.Body)), nil
}

func (s *Server) handleInvokeSubagent(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	name := strings.ToLower(strings.TrimSpace(request.GetString("name", "")))
	task := request.GetString("task", "")
	ctx = s.sessionContext(ctx)
	sessionID, _ := core.SessionID(ctx)
	specs, err := s.engine.Subagents(ctx, sessionID, s.tools)
	if err != nil {
		return errorText(err), nil
	}
	s.runtime.Load(specs)
	out, err := s.runtime.Invoke(ctx, name, task)
	if err != nil {
		s.logger.WarnContext(ctx, "subagent invocation failed", "subagent", name, "error", err)
		return errorText(err), nil
	}
	return mcp.NewToolResultText(out), nil
}

func (s *Server) handleSkillResource(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	out, err := s.resources.Call(ctx, request.GetArguments())
	if err != nil {
		return errorText(err), nil
	}
	if text, ok := out.(string); ok {
		return mcp.NewToolResultText(text), nil
	}
	data, err := json.Marshal(out)
	if err != nil {
		return errorText(err), nil
	}
	return mcp.NewToolResultText(string(data)), nil
}

// sessionContext tags ctx with the server's session unless the caller
// already set one.
func (s *Server) sessionContext(ctx context.Context) context.Context {
	if _, ok := core.SessionID(ctx); ok {
		return ctx
	}
	return core.WithSessionID(ctx, s.sessionID)
}

// errorText renders err the way failed persona queries are rendered, so the
// host model sees a readable message instead of a broken call.
func errorText(err error) *mcp.CallToolResult {
	msg := err.Error()
	if ce := cerrors.AsConclaveError(err); ce != nil && ce.Code != cerrors.CodeInternal {
		msg = ce.Message
	}
	return mcp.NewToolResultText("[Error: " + msg + "]")
}

func decodeRequests(raw any) ([]dispatch.Request, error) {
	if raw == nil {
		return nil, cerrors.InvalidInput("requests is required")
	}
	data, err := json.Marshal(raw)
	if err != nil {
		return nil, cerrors.InvalidInput("requests must be a list of objects")
	}
	var reqs []dispatch.Request
	if err := json.Unmarshal(data, &reqs); err != nil {
		return nil, cerrors.InvalidInput("requests must be a list of objects")
	}
	return reqs, nil
}

func number(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case int:
		return float64(n), true
	case json.Number:
		f, err := n.Float64()
		return f, err == nil
	default:
		return 0, false
	}
}

func mustJSON(v any) json.RawMessage {
	data, err := json.Marshal(v)
	if err != nil {
		return json.RawMessage(`{"type":"object"}`)
	}
	return data
}
