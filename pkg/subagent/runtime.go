// Copyright 2026 © The Conclave Authors
// SPDX-License-Identifier: Apache-2.0

package subagent

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/jllopis/conclave/pkg/backend"
	"github.com/jllopis/conclave/pkg/core"
	cerrors "github.com/jllopis/conclave/pkg/errors"
	"github.com/jllopis/conclave/pkg/llm"
	"github.com/jllopis/conclave/pkg/persona"
	"github.com/jllopis/conclave/pkg/telemetry"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// DefaultMaxTurns bounds the tool-calling loop of one invocation.
const DefaultMaxTurns = 8

// Backends resolves backend ids to clients.
type Backends interface {
	Get(id string) (backend.Client, error)
}

// providerBacked is implemented by clients that expose a chat provider,
// which is required for tool calling.
type providerBacked interface {
	Provider() llm.Provider
	Model() string
}

// Runtime invokes sub-agent specs. Tools are exposed per spec through its
// allow-list; the output of an invocation is returned verbatim.
type Runtime struct {
	backends  Backends
	maxTurns  int
	maxTokens int
	logger    *slog.Logger
	tracer    trace.Tracer

	mu    sync.RWMutex
	specs map[string]Spec
	tools map[string]core.Tool
}

// RuntimeOption configures a Runtime.
type RuntimeOption func(*Runtime)

// WithMaxTurns bounds model round trips per invocation.
func WithMaxTurns(n int) RuntimeOption {
	return func(r *Runtime) {
		if n > 0 {
			r.maxTurns = n
		}
	}
}

// WithMaxTokens caps each completion. Zero leaves the provider default.
func WithMaxTokens(n int) RuntimeOption {
	return func(r *Runtime) { r.maxTokens = n }
}

// WithTools registers tools that specs may allow-list.
func WithTools(tools ...core.Tool) RuntimeOption {
	return func(r *Runtime) {
		for _, t := range tools {
			if t != nil {
				r.tools[t.Name()] = t
			}
		}
	}
}

func WithRuntimeLogger(l *slog.Logger) RuntimeOption {
	return func(r *Runtime) {
		if l != nil {
			r.logger = l
		}
	}
}

func WithRuntimeTracer(t trace.Tracer) RuntimeOption {
	return func(r *Runtime) {
		if t != nil {
			r.tracer = t
		}
	}
}

// NewRuntime creates a Runtime over the backend registry.
func NewRuntime(backends Backends, opts ...RuntimeOption) *Runtime {
	r := &Runtime{
		backends: backends,
		maxTurns: DefaultMaxTurns,
		logger:   slog.Default(),
		tracer:   otel.Tracer(telemetry.InstrumentationName),
		specs:    make(map[string]Spec),
		tools:    make(map[string]core.Tool),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Load replaces the invocable specs.
func (r *Runtime) Load(specs map[string]Spec) {
	next := make(map[string]Spec, len(specs))
	for k, s := range specs {
		next[persona.NormalizeName(k)] = s
	}
	r.mu.Lock()
	r.specs = next
	r.mu.Unlock()
}

// Names returns the invocable sub-agent names in order.
func (r *Runtime) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.specs))
	for k := range r.specs {
		names = append(names, k)
	}
	sort.Strings(names)
	return names
}

// ToolNames returns the registered tool names in order.
func (r *Runtime) ToolNames() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.tools))
	for k := range r.tools {
		names = append(names, k)
	}
	sort.Strings(names)
	return names
}

// Invoke runs the named sub-agent on task and returns its final answer.
func (r *Runtime) Invoke(ctx context.Context, name, task string) (string, error) {
	r.mu.RLock()
	spec, ok := r.specs[persona.NormalizeName(name)]
	r.mu.RUnlock()
	if !ok {
		return "", cerrors.NotFound("subagent", name)
	}
	if strings.TrimSpace(task) == "" {
		return "", cerrors.InvalidInput("task is empty").WithContext("subagent", spec.Name)
	}

	client, err := r.backends.Get(spec.Backend)
	if err != nil {
		return "", err
	}

	ctx, span := r.tracer.Start(ctx, "Subagent.Invoke", trace.WithAttributes(
		attribute.String(telemetry.AttrSubagentName, spec.Name),
		attribute.String(telemetry.AttrBackendID, spec.Backend),
	))
	defer span.End()

	pb, ok := client.(providerBacked)
	if !ok {
		// Without a chat provider there is no tool calling: one completion.
		out, err := client.Complete(ctx, backend.Request{SystemPrompt: spec.SystemPrompt, UserText: task, MaxTokens: r.maxTokens})
		if err != nil {
			span.SetStatus(codes.Error, err.Error())
			return "", wrapBackendError(err, spec)
		}
		return out.Text, nil
	}

	out, err := r.loop(ctx, spec, pb, task, span)
	if err != nil {
		span.SetStatus(codes.Error, err.Error())
		return "", err
	}
	span.SetStatus(codes.Ok, "")
	return out, nil
}

func (r *Runtime) loop(ctx context.Context, spec Spec, pb providerBacked, task string, span trace.Span) (string, error) {
	exposed := r.exposedTools(spec)
	defs := make([]llm.Tool, 0, len(exposed))
	for _, name := range sortedKeys(exposed) {
		defs = append(defs, exposed[name].ToolDefinition())
	}
	model := spec.Model
	if model == "" {
		model = pb.Model()
	}
	logger := r.logger.With(telemetry.AttrSubagentName, spec.Name)

	messages := llm.SystemAndUser(spec.SystemPrompt, task)
	for turn := 1; turn <= r.maxTurns; turn++ {
		span.SetAttributes(attribute.Int(telemetry.AttrSubagentTurn, turn))
		resp, err := pb.Provider().Chat(ctx, llm.ChatRequest{
			Model:     model,
			Messages:  messages,
			Tools:     defs,
			MaxTokens: r.maxTokens,
		})
		if err != nil {
			return "", wrapBackendError(err, spec)
		}
		span.SetAttributes(telemetry.LLMUsageAttributes(model, resp.Usage.PromptTokens, resp.Usage.CompletionTokens)...)
		if len(resp.ToolCalls) == 0 {
			return resp.Content, nil
		}

		messages = append(messages, llm.Message{Role: llm.RoleAssistant, Content: resp.Content, ToolCalls: resp.ToolCalls})
		for _, call := range resp.ToolCalls {
			content := r.callTool(ctx, logger, spec, exposed, call)
			messages = append(messages, llm.Message{Role: llm.RoleTool, Content: content, ToolCallID: call.ID})
		}
	}
	return "", cerrors.New(cerrors.CodeTimeout, "subagent exceeded max turns", nil).
		WithContext("subagent", spec.Name).
		WithContext("max_turns", r.maxTurns)
}

// callTool runs one tool call. Failures are returned to the model as text.
func (r *Runtime) callTool(ctx context.Context, logger *slog.Logger, spec Spec, exposed map[string]core.Tool, call llm.ToolCall) string {
	name := call.Function.Name
	tool, ok := exposed[name]
	if !ok {
		logger.Warn("subagent requested unavailable tool", telemetry.AttrToolName, name)
		return fmt.Sprintf("error: tool %q is not available", name)
	}

	var args any = call.Function.Arguments
	if raw := strings.TrimSpace(call.Function.Arguments); raw != "" {
		var parsed map[string]any
		if err := json.Unmarshal([]byte(raw), &parsed); err == nil {
			args = parsed
		}
	}

	start := time.Now()
	ctx, span := r.tracer.Start(ctx, "Subagent.Tool.Call")
	res, err := tool.Call(ctx, args)
	span.SetAttributes(telemetry.ToolCallAttributes(spec.Name, name, err == nil)...)
	span.End()
	if err != nil {
		logger.Warn("subagent tool failed",
			telemetry.AttrToolName, name,
			"error", err.Error(),
			"duration_ms", time.Since(start).Milliseconds())
		return "error: " + err.Error()
	}
	switch v := res.(type) {
	case string:
		return v
	case nil:
		return ""
	default:
		data, err := json.Marshal(v)
		if err != nil {
			return fmt.Sprint(v)
		}
		return string(data)
	}
}

func (r *Runtime) exposedTools(spec Spec) map[string]core.Tool {
	filter := NewToolFilter(WithAllowlist(spec.Tools))
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make(map[string]core.Tool)
	for name, t := range r.tools {
		if filter.IsAllowed(name) {
			out[name] = t
		}
	}
	return out
}

func sortedKeys(m map[string]core.Tool) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

func wrapBackendError(err error, spec Spec) error {
	if ce := cerrors.AsConclaveError(err); ce.Code != cerrors.CodeInternal {
		return ce
	}
	return cerrors.New(cerrors.CodeBackendError, "subagent backend call failed", err).
		WithContext("subagent", spec.Name).
		WithContext("backend", spec.Backend)
}
