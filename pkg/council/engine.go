// Copyright 2026 © The Conclave Authors
// SPDX-License-Identifier: Apache-2.0

// Package council is the entry point the chat layer and the host runtime
// use: per-turn prompt composition, the fast dispatch path and the deep
// sub-agent path, plus council directive lookup.
package council

import (
	"context"
	"log/slog"
	"time"

	"github.com/jllopis/conclave/pkg/compose"
	"github.com/jllopis/conclave/pkg/dispatch"
	cerrors "github.com/jllopis/conclave/pkg/errors"
	"github.com/jllopis/conclave/pkg/persona"
	"github.com/jllopis/conclave/pkg/session"
	"github.com/jllopis/conclave/pkg/skills"
	"github.com/jllopis/conclave/pkg/subagent"
)

// Engine wires the orchestration components together. Every dependency is
// passed in; the engine holds no global state.
type Engine struct {
	personas   persona.Registry
	catalog    skills.Catalog
	sessions   session.Store
	composer   *compose.Composer
	dispatcher *dispatch.Dispatcher
	factory    *subagent.Factory
	cache      *subagent.Cache
	logger     *slog.Logger
}

// Deps lists the engine's collaborators. Dispatcher and Factory are built
// with defaults when nil.
type Deps struct {
	Personas   persona.Registry
	Catalog    skills.Catalog
	Sessions   session.Store
	Composer   *compose.Composer
	Dispatcher *dispatch.Dispatcher
	Factory    *subagent.Factory
	Logger     *slog.Logger
}

// New creates an Engine. Personas, Catalog and Dispatcher are required.
func New(d Deps) (*Engine, error) {
	if d.Personas == nil || d.Catalog == nil {
		return nil, cerrors.InvalidInput("persona registry and skill catalog are required")
	}
	if d.Sessions == nil {
		d.Sessions = session.NewMemoryStore()
	}
	if d.Logger == nil {
		d.Logger = slog.Default()
	}
	if d.Composer == nil {
		d.Composer = compose.New(d.Catalog, compose.WithLogger(d.Logger))
	}
	if d.Dispatcher == nil {
		return nil, cerrors.InvalidInput("dispatcher is required")
	}
	if d.Factory == nil {
		d.Factory = subagent.NewFactory(d.Composer, subagent.WithFactoryLogger(d.Logger))
	}
	return &Engine{
		personas:   d.Personas,
		catalog:    d.Catalog,
		sessions:   d.Sessions,
		composer:   d.Composer,
		dispatcher: d.Dispatcher,
		factory:    d.Factory,
		cache:      subagent.NewCache(d.Factory, d.Catalog),
		logger:     d.Logger,
	}, nil
}

// Personas returns the live personas in display order.
func (e *Engine) Personas(ctx context.Context) ([]persona.Persona, error) {
	return e.personas.All(ctx)
}

// Persona resolves one persona by id or name.
func (e *Engine) Persona(ctx context.Context, ref string) (persona.Persona, error) {
	return e.personas.Get(ctx, ref)
}

// ComposeSystemPrompt renders the turn prompt for personaRef and records the
// skills it disclosed in the session.
func (e *Engine) ComposeSystemPrompt(ctx context.Context, personaRef, conversationText, sessionID string, budget int) (compose.Result, error) {
	p, err := e.personas.Get(ctx, personaRef)
	if err != nil {
		return compose.Result{}, err
	}
	return e.composer.ComposeForSession(ctx, p, conversationText, sessionID, budget, e.sessions)
}

// DispatchAll runs the fast council path.
func (e *Engine) DispatchAll(ctx context.Context, reqs []dispatch.Request, timeout time.Duration) ([]dispatch.Result, error) {
	return e.dispatcher.DispatchAll(ctx, reqs, timeout)
}

// BuildSubagents builds specs for the referenced personas, or for every
// persona when refs is empty.
func (e *Engine) BuildSubagents(ctx context.Context, refs []string, tools map[string][]string) (map[string]subagent.Spec, error) {
	ps, err := e.resolve(ctx, refs)
	if err != nil {
		return nil, err
	}
	return e.factory.Build(ctx, ps, tools)
}

// Subagents returns the session's cached specs for every persona,
// rebuilding when personas, skills or tools changed.
func (e *Engine) Subagents(ctx context.Context, sessionID string, tools map[string][]string) (map[string]subagent.Spec, error) {
	ps, err := e.resolve(ctx, nil)
	if err != nil {
		return nil, err
	}
	return e.cache.Get(ctx, sessionID, ps, tools)
}

// InvalidateSubagents drops every cached spec, e.g. after a skill reload.
func (e *Engine) InvalidateSubagents() { e.cache.Invalidate() }

// EndSession discards the session's injection state and cached specs.
func (e *Engine) EndSession(ctx context.Context, sessionID string) error {
	e.cache.Drop(sessionID)
	return e.sessions.Discard(ctx, sessionID)
}

func (e *Engine) resolve(ctx context.Context, refs []string) ([]persona.Persona, error) {
	if len(refs) == 0 {
		all, err := e.personas.All(ctx)
		if err != nil {
			return nil, cerrors.New(cerrors.CodeStoreError, "list personas", err)
		}
		return all, nil
	}
	out := make([]persona.Persona, 0, len(refs))
	for _, ref := range refs {
		p, err := e.personas.Get(ctx, ref)
		if err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, nil
}
