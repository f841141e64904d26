// Copyright 2026 © The Conclave Authors
// SPDX-License-Identifier: Apache-2.0

// Package compose renders the bounded system prompt for a persona using
// progressive skill disclosure.
//
// Tier 1 lists every visible skill on one line and is never budgeted.
// Tier 2 injects full bodies of matching skills while they fit the token
// budget; a body that does not fit is skipped whole. Tier 3 resources are
// never loaded here (see skills.ResourceTool).
package compose

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	cerrors "github.com/jllopis/conclave/pkg/errors"
	"github.com/jllopis/conclave/pkg/persona"
	"github.com/jllopis/conclave/pkg/session"
	"github.com/jllopis/conclave/pkg/skills"
	"github.com/jllopis/conclave/pkg/telemetry"
)

const (
	availableHeader = "## Available Skills"
	activeHeader    = "## Active Skills"
)

// Result is the outcome of a composition.
type Result struct {
	SystemPrompt string
	// Injected is the input set plus every skill added in this call.
	Injected   session.IDSet
	UsedTokens int
	// Added holds the ids whose bodies were injected, in prompt order.
	Added   []string
	Skipped []Skip
}

// Skip records a candidate left out because it did not fit.
type Skip struct {
	ID        string
	Name      string
	Cost      int
	Remaining int
}

// Composer builds persona system prompts. It is safe for concurrent use.
type Composer struct {
	catalog    skills.Catalog
	estimator  TokenEstimator
	logger     *slog.Logger
	basePrompt string
}

// Option configures a Composer.
type Option func(*Composer)

// WithEstimator sets the token estimator.
func WithEstimator(e TokenEstimator) Option {
	return func(c *Composer) {
		if e != nil {
			c.estimator = e
		}
	}
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(c *Composer) {
		if l != nil {
			c.logger = l
		}
	}
}

// WithBasePrompt sets text placed before the persona section.
func WithBasePrompt(p string) Option {
	return func(c *Composer) { c.basePrompt = strings.TrimSpace(p) }
}

// New creates a Composer reading skills from catalog.
func New(catalog skills.Catalog, opts ...Option) *Composer {
	c := &Composer{
		catalog:   catalog,
		estimator: CharEstimator{},
		logger:    slog.Default(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Compose renders the prompt for p given the recent conversation text and
// the skills already disclosed in the session. Output depends only on the
// arguments and the catalog content.
func (c *Composer) Compose(ctx context.Context, p persona.Persona, conversationText string, alreadyInjected session.IDSet, budget int) (Result, error) {
	if budget < 0 {
		return Result{}, cerrors.InvalidInput("token budget must not be negative")
	}
	visible, err := c.visible(ctx, p)
	if err != nil {
		return Result{}, err
	}
	candidates := skills.FindSkillsFor(visible, p, conversationText, alreadyInjected)
	return c.render(ctx, p, visible, candidates, alreadyInjected, budget), nil
}

// ComposeFull renders the prompt with every visible skill as a Tier-2
// candidate and no conversation gating. A budget <= 0 is unbounded.
func (c *Composer) ComposeFull(ctx context.Context, p persona.Persona, budget int) (Result, error) {
	visible, err := c.visible(ctx, p)
	if err != nil {
		return Result{}, err
	}
	if budget <= 0 {
		budget = -1
	}
	return c.render(ctx, p, visible, visible, session.IDSet{}, budget), nil
}

// ComposeForSession reads the session's injection state, composes, and
// records the newly injected skills.
func (c *Composer) ComposeForSession(ctx context.Context, p persona.Persona, conversationText, sessionID string, budget int, store session.Store) (Result, error) {
	if store == nil {
		return Result{}, cerrors.InvalidInput("session store is required")
	}
	injected, err := store.Injected(ctx, sessionID)
	if err != nil {
		return Result{}, err
	}
	res, err := c.Compose(ctx, p, conversationText, injected, budget)
	if err != nil {
		return Result{}, err
	}
	if len(res.Added) > 0 {
		if err := store.MarkInjected(ctx, sessionID, session.NewIDSet(res.Added...)); err != nil {
			return Result{}, err
		}
	}
	return res, nil
}

func (c *Composer) visible(ctx context.Context, p persona.Persona) ([]skills.Skill, error) {
	all, err := c.catalog.Skills(ctx, skills.ForPersona(p))
	if err != nil {
		return nil, cerrors.New(cerrors.CodeStoreError, "list skills", err).
			WithContext("persona", p.Name)
	}
	// Stores filter too, but scope is enforced here regardless.
	return skills.Visible(all, p), nil
}

// render assembles the prompt. A negative budget disables the Tier-2 limit.
func (c *Composer) render(ctx context.Context, p persona.Persona, visible, candidates []skills.Skill, already session.IDSet, budget int) Result {
	var sections []string
	if c.basePrompt != "" {
		sections = append(sections, c.basePrompt)
	}
	sections = append(sections, personaSection(p))
	if len(visible) > 0 {
		sections = append(sections, summarySection(visible))
	}

	res := Result{Injected: already}
	var active []string
	for _, s := range candidates {
		block := skillBlock(s)
		cost := c.estimator.Estimate("\n\n" + block)
		if len(active) == 0 {
			cost += c.estimator.Estimate(activeHeader)
		}
		if budget >= 0 && res.UsedTokens+cost > budget {
			skip := Skip{ID: s.ID, Name: s.Name, Cost: cost, Remaining: budget - res.UsedTokens}
			res.Skipped = append(res.Skipped, skip)
			c.logger.InfoContext(ctx, "skill skipped: over token budget",
				telemetry.AttrErrorCode, string(cerrors.CodeBudgetExceeded),
				telemetry.AttrPersonaName, p.Name,
				telemetry.AttrSkillID, s.ID,
				"cost", cost,
				"remaining", skip.Remaining,
			)
			continue
		}
		res.UsedTokens += cost
		active = append(active, block)
		res.Added = append(res.Added, s.ID)
	}
	if len(active) > 0 {
		sections = append(sections, activeHeader+"\n\n"+strings.Join(active, "\n\n"))
		res.Injected = already.With(res.Added...)
	}

	res.SystemPrompt = strings.Join(sections, "\n\n")
	return res
}

func personaSection(p persona.Persona) string {
	header := fmt.Sprintf("## Your Persona: %s", p.Name)
	if instr := strings.TrimSpace(p.Instructions); instr != "" {
		return header + "\n\n" + instr
	}
	return header
}

func summarySection(visible []skills.Skill) string {
	var b strings.Builder
	b.WriteString(availableHeader)
	b.WriteString("\n")
	for _, s := range visible {
		b.WriteString("\n- ")
		b.WriteString(s.Name)
		if sum := s.Summary(); sum != "" {
			b.WriteString(" — ")
			b.WriteString(sum)
		}
	}
	return b.String()
}

func skillBlock(s skills.Skill) string {
	return "### " + s.Name + "\n\n" + s.Body
}
