// Copyright 2026 © The Conclave Authors
// SPDX-License-Identifier: Apache-2.0

// Package subagent turns personas into long-lived, tool-equipped agent
// specifications for the deep council path, caches them per session, and
// runs them through a bounded tool-calling loop.
package subagent

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"log/slog"
	"sort"
	"strings"

	"github.com/jllopis/conclave/pkg/compose"
	cerrors "github.com/jllopis/conclave/pkg/errors"
	"github.com/jllopis/conclave/pkg/persona"
)

const roleHeader = "## Subagent Role"

// Spec is a persona-derived agent specification a host runtime can invoke
// repeatedly within a session.
type Spec struct {
	Name         string   `json:"name"`
	Description  string   `json:"description"`
	SystemPrompt string   `json:"system_prompt"`
	Tools        []string `json:"tools,omitempty"`
	Backend      string   `json:"backend,omitempty"`
	Model        string   `json:"model,omitempty"`
	// Fingerprint identifies the rendered content of the spec.
	Fingerprint string `json:"fingerprint"`
}

// FullComposer renders a persona prompt with every visible skill.
type FullComposer interface {
	ComposeFull(ctx context.Context, p persona.Persona, budget int) (compose.Result, error)
}

// Factory builds sub-agent specs.
type Factory struct {
	composer FullComposer
	budget   int
	backend  string
	model    string
	logger   *slog.Logger
}

// FactoryOption configures a Factory.
type FactoryOption func(*Factory)

// WithBudget bounds the Tier-2 section of each sub-agent prompt. Zero or
// negative is unbounded.
func WithBudget(n int) FactoryOption {
	return func(f *Factory) { f.budget = n }
}

// WithBackend sets the backend and model used by personas that do not name
// a default backend.
func WithBackend(id, model string) FactoryOption {
	return func(f *Factory) {
		f.backend = id
		f.model = model
	}
}

func WithFactoryLogger(l *slog.Logger) FactoryOption {
	return func(f *Factory) {
		if l != nil {
			f.logger = l
		}
	}
}

// NewFactory creates a Factory.
func NewFactory(c FullComposer, opts ...FactoryOption) *Factory {
	f := &Factory{composer: c, logger: slog.Default()}
	for _, opt := range opts {
		opt(f)
	}
	return f
}

// Build renders one spec per persona keyed by lowercased name. Tool
// allow-lists are looked up by persona id and by lowercased name. Identical
// inputs yield byte-identical specs.
func (f *Factory) Build(ctx context.Context, personas []persona.Persona, toolsByPersona map[string][]string) (map[string]Spec, error) {
	if len(personas) == 0 {
		return nil, cerrors.InvalidInput("persona set is empty").
			WithContext("operation", "build_subagents")
	}

	specs := make(map[string]Spec, len(personas))
	for _, p := range personas {
		key := p.Key()
		if key == "" {
			return nil, cerrors.InvalidInput("persona name is empty").WithContext("persona_id", p.ID)
		}
		if _, dup := specs[key]; dup {
			return nil, cerrors.InvalidInput("duplicate persona name").WithContext("persona", p.Name)
		}

		res, err := f.composer.ComposeFull(ctx, p, f.budget)
		if err != nil {
			return nil, err
		}

		spec := Spec{
			Name:         key,
			Description:  description(p),
			SystemPrompt: res.SystemPrompt + "\n\n" + roleSection(p),
			Tools:        toolsFor(p, toolsByPersona),
			Backend:      f.backend,
			Model:        f.model,
		}
		if p.DefaultBackend != "" && !strings.EqualFold(p.DefaultBackend, f.backend) {
			spec.Backend = p.DefaultBackend
			spec.Model = ""
		}
		spec.Fingerprint = fingerprint(spec)
		specs[key] = spec

		f.logger.Debug("subagent built",
			"subagent", key,
			"skills", len(res.Added),
			"tools", len(spec.Tools),
			"tokens", res.UsedTokens)
	}
	return specs, nil
}

func description(p persona.Persona) string {
	if d := strings.TrimSpace(p.Description); d != "" {
		return d
	}
	return "Consult the " + p.Name + " persona."
}

func roleSection(p persona.Persona) string {
	return roleHeader + "\n\n" +
		"You are the " + p.Name + " member of a council convened by an orchestrating assistant. " +
		"Work the task you are given from your own perspective, using your tools when they help. " +
		"Reply with a self-contained answer; the orchestrator will combine it with the other members' answers."
}

func toolsFor(p persona.Persona, byPersona map[string][]string) []string {
	var tools []string
	if p.ID != "" {
		tools = append(tools, byPersona[p.ID]...)
	}
	tools = append(tools, byPersona[p.Key()]...)
	return sortedUnique(tools)
}

func sortedUnique(in []string) []string {
	seen := make(map[string]struct{}, len(in))
	out := make([]string, 0, len(in))
	for _, t := range in {
		t = strings.TrimSpace(t)
		if t == "" {
			continue
		}
		if _, ok := seen[t]; ok {
			continue
		}
		seen[t] = struct{}{}
		out = append(out, t)
	}
	sort.Strings(out)
	if len(out) == 0 {
		return nil
	}
	return out
}

func fingerprint(s Spec) string {
	h := sha256.New()
	for _, part := range []string{s.Name, s.Description, s.SystemPrompt, strings.Join(s.Tools, ","), s.Backend, s.Model} {
		h.Write([]byte(part))
		h.Write([]byte{0})
	}
	return hex.EncodeToString(h.Sum(nil))
}
