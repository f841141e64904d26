// Copyright 2026 © The Conclave Authors
// SPDX-License-Identifier: Apache-2.0

// Package dispatch runs independent persona queries concurrently and joins
// them at a barrier. Every request yields exactly one result in input
// order; per-call failures are data, never returned errors.
package dispatch

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/jllopis/conclave/pkg/backend"
	"github.com/jllopis/conclave/pkg/compose"
	"github.com/jllopis/conclave/pkg/core"
	cerrors "github.com/jllopis/conclave/pkg/errors"
	"github.com/jllopis/conclave/pkg/persona"
	"github.com/jllopis/conclave/pkg/session"
	"github.com/jllopis/conclave/pkg/telemetry"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"
)

const (
	// DefaultMaxTokens caps completions when neither request nor persona does.
	DefaultMaxTokens = 300
	// DefaultTemperature is the fallback sampling temperature.
	DefaultTemperature = 0.7
	// DefaultBudget is the Tier-2 token budget for each composed prompt.
	DefaultBudget = 2000
)

// Composer renders a persona system prompt.
type Composer interface {
	Compose(ctx context.Context, p persona.Persona, conversationText string, alreadyInjected session.IDSet, budget int) (compose.Result, error)
}

// Backends resolves backend ids to clients.
type Backends interface {
	Get(id string) (backend.Client, error)
}

// Dispatcher fans persona queries out to their backends.
type Dispatcher struct {
	personas       persona.Registry
	composer       Composer
	backends       Backends
	budget         int
	maxConcurrency int
	maxTokens      int
	temperature    float64
	defaultBackend string
	logger         *slog.Logger
	tracer         trace.Tracer
	metrics        *telemetry.DispatchMetrics
	errMetrics     *telemetry.ErrorMetrics
}

// Option configures a Dispatcher.
type Option func(*Dispatcher)

// WithBudget sets the Tier-2 token budget used when composing each call.
func WithBudget(n int) Option {
	return func(d *Dispatcher) {
		if n >= 0 {
			d.budget = n
		}
	}
}

// WithMaxConcurrency bounds in-flight calls. Zero means unbounded.
func WithMaxConcurrency(n int) Option {
	return func(d *Dispatcher) {
		if n >= 0 {
			d.maxConcurrency = n
		}
	}
}

// WithDefaults sets the sampling parameters used when neither the request
// nor the persona sets them.
func WithDefaults(maxTokens int, temperature float64) Option {
	return func(d *Dispatcher) {
		if maxTokens > 0 {
			d.maxTokens = maxTokens
		}
		d.temperature = temperature
	}
}

// WithDefaultBackend sets the backend used when neither the request nor the
// persona names one.
func WithDefaultBackend(id string) Option {
	return func(d *Dispatcher) { d.defaultBackend = id }
}

// WithLogger sets the logger used for per-call records.
func WithLogger(l *slog.Logger) Option {
	return func(d *Dispatcher) {
		if l != nil {
			d.logger = l
		}
	}
}

// WithTracer sets the tracer that opens one span per call.
func WithTracer(t trace.Tracer) Option {
	return func(d *Dispatcher) {
		if t != nil {
			d.tracer = t
		}
	}
}

// WithMetrics records per-call counters and latency.
func WithMetrics(m *telemetry.DispatchMetrics) Option {
	return func(d *Dispatcher) { d.metrics = m }
}

// WithErrorMetrics records failed slots with their error code.
func WithErrorMetrics(m *telemetry.ErrorMetrics) Option {
	return func(d *Dispatcher) { d.errMetrics = m }
}

// New creates a Dispatcher.
func New(personas persona.Registry, composer Composer, backends Backends, opts ...Option) *Dispatcher {
	d := &Dispatcher{
		personas:    personas,
		composer:    composer,
		backends:    backends,
		budget:      DefaultBudget,
		maxTokens:   DefaultMaxTokens,
		temperature: DefaultTemperature,
		logger:      slog.Default(),
		tracer:      otel.Tracer(telemetry.InstrumentationName),
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// DispatchAll runs every request concurrently, each bounded by
// perCallTimeout, and returns one result per request in input order.
// Only an empty request list or a non-positive timeout is an error.
func (d *Dispatcher) DispatchAll(ctx context.Context, reqs []Request, perCallTimeout time.Duration) ([]Result, error) {
	if len(reqs) == 0 {
		return nil, cerrors.InvalidInput("dispatch request list is empty")
	}
	if perCallTimeout <= 0 {
		return nil, cerrors.InvalidInput("per-call timeout must be positive").
			WithContext("timeout", perCallTimeout.String())
	}

	ctx, turnID := core.EnsureTurnID(ctx)
	ctx, span := d.tracer.Start(ctx, "Dispatch.All", trace.WithAttributes(
		attribute.Int(telemetry.AttrDispatchCount, len(reqs)),
		attribute.String(telemetry.AttrTurnID, turnID),
	))
	defer span.End()

	results := make([]Result, len(reqs))
	var g errgroup.Group
	if d.maxConcurrency > 0 {
		g.SetLimit(d.maxConcurrency)
	}
	for i := range reqs {
		g.Go(func() error {
			results[i] = d.call(ctx, turnID, i, reqs[i], perCallTimeout)
			return nil
		})
	}
	_ = g.Wait()

	failed := 0
	for _, r := range results {
		if !r.OK() {
			failed++
		}
	}
	span.SetAttributes(attribute.Int("conclave.dispatch.failed", failed))
	return results, nil
}

// Dispatch runs a single request. It is DispatchAll for one slot.
func (d *Dispatcher) Dispatch(ctx context.Context, req Request, timeout time.Duration) (Result, error) {
	res, err := d.DispatchAll(ctx, []Request{req}, timeout)
	if err != nil {
		return Result{}, err
	}
	return res[0], nil
}

func (d *Dispatcher) call(parent context.Context, turnID string, index int, req Request, timeout time.Duration) Result {
	start := time.Now()
	res := Result{Persona: req.Persona}

	ctx, span := d.tracer.Start(parent, "Dispatch.Call",
		trace.WithAttributes(telemetry.DispatchAttributes(index, req.Persona, req.Backend)...))
	defer span.End()

	logger := d.logger.With(
		"call_id", uuid.NewString(),
		telemetry.AttrTurnID, turnID,
		telemetry.AttrDispatchIndex, index,
		telemetry.AttrPersonaName, req.Persona,
	)
	if sid, ok := core.SessionID(parent); ok {
		logger = logger.With(telemetry.AttrSessionID, sid)
	}

	text, backendID, fail := d.run(ctx, req, timeout, span)
	res.Backend = backendID
	res.Duration = time.Since(start)
	if fail != nil {
		res.Err = fail
		span.SetStatus(codes.Error, fail.Message)
		span.SetAttributes(
			attribute.String(telemetry.AttrDispatchFailure, string(fail.Kind)),
			attribute.String(telemetry.AttrErrorCode, string(fail.Code())),
		)
		logger.Warn("persona query failed",
			telemetry.AttrBackendID, backendID,
			"kind", string(fail.Kind),
			"error", fail.Message,
			"duration_ms", res.Duration.Milliseconds())
		d.errMetrics.RecordError(ctx, fail.AsError(), "dispatch")
		if backendID != "" {
			d.metrics.RecordCall(ctx, backendID, string(fail.Kind), res.Duration)
		}
		return res
	}

	res.Text = text
	span.SetStatus(codes.Ok, "")
	logger.Debug("persona query completed",
		telemetry.AttrBackendID, backendID,
		"duration_ms", res.Duration.Milliseconds())
	d.metrics.RecordCall(ctx, backendID, "", res.Duration)
	return res
}

func (d *Dispatcher) run(ctx context.Context, req Request, timeout time.Duration, span trace.Span) (string, string, *Failure) {
	if err := ctx.Err(); err != nil {
		return "", req.Backend, &Failure{Kind: KindCanceled, Message: "turn cancelled before the call started"}
	}

	p, err := d.personas.Get(ctx, req.Persona)
	if err != nil {
		if cerrors.IsCode(err, cerrors.CodeNotFound) {
			return "", req.Backend, &Failure{Kind: KindNotFound, Message: fmt.Sprintf("Persona '%s' not found", req.Persona)}
		}
		return "", req.Backend, &Failure{Kind: KindInternal, Message: fmt.Sprintf("resolve persona '%s': %v", req.Persona, err)}
	}
	span.SetAttributes(attribute.String(telemetry.AttrPersonaID, p.ID))

	backendID := d.resolveBackend(req, p)
	if backendID == "" {
		return "", "", &Failure{Kind: KindUnknownBackend, Message: fmt.Sprintf("no backend configured for persona '%s'", p.Name)}
	}
	span.SetAttributes(attribute.String(telemetry.AttrBackendID, backendID))
	if !p.AllowsBackend(backendID) {
		return "", backendID, &Failure{Kind: KindBackendNotAllowed, Message: fmt.Sprintf("Persona '%s' does not allow backend '%s'", p.Name, backendID)}
	}
	client, err := d.backends.Get(backendID)
	if err != nil {
		return "", backendID, &Failure{Kind: KindUnknownBackend, Message: fmt.Sprintf("Unknown backend '%s'", backendID)}
	}

	// Each call gets its own empty injected set so sibling calls and the
	// orchestrating persona never share disclosure state.
	composed, err := d.composer.Compose(ctx, p, req.Query, session.IDSet{}, d.budget)
	if err != nil {
		return "", backendID, &Failure{Kind: KindInternal, Message: fmt.Sprintf("compose prompt for '%s': %v", p.Name, err)}
	}

	maxTokens, temperature := d.sampling(req, p)
	span.SetAttributes(telemetry.SamplingAttributes(maxTokens, temperature)...)

	callCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	type outcome struct {
		c   *backend.Completion
		err error
	}
	done := make(chan outcome, 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				done <- outcome{err: fmt.Errorf("backend panic: %v", r)}
			}
		}()
		c, err := client.Complete(callCtx, backend.Request{
			SystemPrompt: composed.SystemPrompt,
			UserText:     req.Query,
			MaxTokens:    maxTokens,
			Temperature:  temperature,
		})
		done <- outcome{c, err}
	}()

	var out outcome
	select {
	case out = <-done:
	case <-callCtx.Done():
		out = outcome{err: callCtx.Err()}
	}

	if out.err != nil {
		switch {
		case ctx.Err() != nil:
			return "", backendID, &Failure{Kind: KindCanceled, Message: fmt.Sprintf("query to '%s' cancelled", p.Name)}
		case errors.Is(out.err, context.DeadlineExceeded) || callCtx.Err() != nil:
			return "", backendID, &Failure{Kind: KindTimeout, Message: fmt.Sprintf("Persona '%s' timed out after %s", p.Name, timeout)}
		default:
			return "", backendID, &Failure{Kind: KindBackendError, Message: fmt.Sprintf("Backend '%s' failed for persona '%s': %v", backendID, p.Name, out.err)}
		}
	}
	if out.c == nil {
		return "", backendID, &Failure{Kind: KindBackendError, Message: fmt.Sprintf("Backend '%s' returned no completion", backendID)}
	}
	span.SetAttributes(telemetry.LLMUsageAttributes(out.c.Model, out.c.Usage.PromptTokens, out.c.Usage.CompletionTokens)...)
	return out.c.Text, backendID, nil
}

func (d *Dispatcher) resolveBackend(req Request, p persona.Persona) string {
	switch {
	case req.Backend != "":
		return req.Backend
	case p.DefaultBackend != "":
		return p.DefaultBackend
	default:
		return d.defaultBackend
	}
}

// sampling resolves request override, then persona default, then the
// dispatcher default.
func (d *Dispatcher) sampling(req Request, p persona.Persona) (int, float64) {
	maxTokens := d.maxTokens
	if p.DefaultMaxTokens > 0 {
		maxTokens = p.DefaultMaxTokens
	}
	if req.MaxTokens != nil && *req.MaxTokens > 0 {
		maxTokens = *req.MaxTokens
	}
	temperature := d.temperature
	if p.DefaultTemperature > 0 {
		temperature = p.DefaultTemperature
	}
	if req.Temperature != nil {
		temperature = *req.Temperature
	}
	return maxTokens, temperature
}
