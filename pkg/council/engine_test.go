// Copyright 2026 © The Conclave Authors
// SPDX-License-Identifier: Apache-2.0

package council

import (
	"context"
	"testing"
	"time"

	"github.com/jllopis/conclave/pkg/backend"
	"github.com/jllopis/conclave/pkg/backend/backendtest"
	"github.com/jllopis/conclave/pkg/compose"
	"github.com/jllopis/conclave/pkg/dispatch"
	cerrors "github.com/jllopis/conclave/pkg/errors"
	"github.com/jllopis/conclave/pkg/persona"
	"github.com/jllopis/conclave/pkg/session"
	"github.com/jllopis/conclave/pkg/skills"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newEngine(t *testing.T) (*Engine, *skills.MemoryCatalog) {
	t.Helper()
	personas := persona.NewMemoryRegistry(
		persona.Persona{ID: "p-socratic", Name: "Socratic", Instructions: "Answer with questions.", DefaultBackend: "anthropic"},
		persona.Persona{ID: "p-skeptic", Name: "Skeptic", Instructions: "Doubt everything.", DefaultBackend: "openai", SortOrder: 1},
	)
	catalog := skills.NewMemoryCatalog(
		skills.Skill{ID: "socratic-questioning", Name: "Socratic Questioning", Description: "Probe assumptions", Body: "Ask one question at a time.", Scope: []string{"p-socratic"}},
		skills.Skill{ID: "empirical-validation", Name: "Empirical Validation", Description: "Ask for data", Trigger: "evidence", Body: "Demand sources."},
		skills.Skill{ID: "quick-council", Name: "Quick Council", Category: skills.CategoryCouncil, Trigger: "council", Body: "Use the fast path with Socratic and Skeptic."},
		skills.Skill{ID: "deep-council", Name: "Deep Council", Category: skills.CategoryCouncil, Trigger: "deliberate", Body: "Build sub-agents and let each research."},
	)
	backends := backend.NewRegistry()
	require.NoError(t, backends.Register("anthropic", backendtest.Static("why?")))
	require.NoError(t, backends.Register("openai", backendtest.Static("prove it")))

	composer := compose.New(catalog)
	e, err := New(Deps{
		Personas:   personas,
		Catalog:    catalog,
		Sessions:   session.NewMemoryStore(),
		Composer:   composer,
		Dispatcher: dispatch.New(personas, composer, backends),
	})
	require.NoError(t, err)
	return e, catalog
}

func TestNewRequiresDependencies(t *testing.T) {
	_, err := New(Deps{})
	assert.True(t, cerrors.IsCode(err, cerrors.CodeInvalidInput))

	_, err = New(Deps{Personas: persona.NewMemoryRegistry(), Catalog: skills.NewMemoryCatalog()})
	assert.True(t, cerrors.IsCode(err, cerrors.CodeInvalidInput))
}

func TestComposeSystemPromptDisclosesOncePerSession(t *testing.T) {
	e, _ := newEngine(t)
	ctx := context.Background()

	first, err := e.ComposeSystemPrompt(ctx, "Socratic", "what's the evidence for this?", "s1", 4000)
	require.NoError(t, err)
	assert.Contains(t, first.SystemPrompt, "Ask one question at a time.")
	assert.Contains(t, first.SystemPrompt, "Demand sources.")
	assert.Equal(t, 2, first.Injected.Len())

	second, err := e.ComposeSystemPrompt(ctx, "socratic", "what's the evidence for this?", "s1", 4000)
	require.NoError(t, err)
	assert.NotContains(t, second.SystemPrompt, "Ask one question at a time.")
	assert.NotContains(t, second.SystemPrompt, "Demand sources.")
	assert.Contains(t, second.SystemPrompt, "Empirical Validation")
	assert.Equal(t, 2, second.Injected.Len())

	require.NoError(t, e.EndSession(ctx, "s1"))
	third, err := e.ComposeSystemPrompt(ctx, "Socratic", "what's the evidence for this?", "s1", 4000)
	require.NoError(t, err)
	assert.Equal(t, first.SystemPrompt, third.SystemPrompt)

	_, err = e.ComposeSystemPrompt(ctx, "Nobody", "x", "s1", 4000)
	assert.True(t, cerrors.IsCode(err, cerrors.CodeNotFound))
}

func TestDispatchAllThroughEngine(t *testing.T) {
	e, _ := newEngine(t)
	results, err := e.DispatchAll(context.Background(), []dispatch.Request{
		{Persona: "Skeptic", Query: "is it true?"},
		{Persona: "Socratic", Query: "is it true?"},
	}, time.Second)
	require.NoError(t, err)
	require.Len(t, results, 2)
	assert.Equal(t, "prove it", results[0].Render())
	assert.Equal(t, "why?", results[1].Render())
}

func TestBuildSubagents(t *testing.T) {
	e, _ := newEngine(t)
	ctx := context.Background()

	all, err := e.BuildSubagents(ctx, nil, nil)
	require.NoError(t, err)
	assert.Len(t, all, 2)
	assert.Contains(t, all, "socratic")
	assert.Contains(t, all, "skeptic")

	one, err := e.BuildSubagents(ctx, []string{"Skeptic"}, map[string][]string{"skeptic": {"web_search"}})
	require.NoError(t, err)
	require.Len(t, one, 1)
	assert.Equal(t, []string{"web_search"}, one["skeptic"].Tools)
	assert.Equal(t, all["skeptic"].SystemPrompt, one["skeptic"].SystemPrompt)

	_, err = e.BuildSubagents(ctx, []string{"Nobody"}, nil)
	assert.True(t, cerrors.IsCode(err, cerrors.CodeNotFound))
}

func TestSubagentsAreCachedPerSession(t *testing.T) {
	e, catalog := newEngine(t)
	ctx := context.Background()

	first, err := e.Subagents(ctx, "s1", nil)
	require.NoError(t, err)
	again, err := e.Subagents(ctx, "s1", nil)
	require.NoError(t, err)
	assert.Equal(t, first, again)
	assert.Equal(t, 1, e.cache.Builds())

	catalog.Remove("empirical-validation")
	changed, err := e.Subagents(ctx, "s1", nil)
	require.NoError(t, err)
	assert.NotContains(t, changed["skeptic"].SystemPrompt, "Demand sources.")
	assert.Equal(t, 2, e.cache.Builds())

	require.NoError(t, e.EndSession(ctx, "s1"))
	_, err = e.Subagents(ctx, "s1", nil)
	require.NoError(t, err)
	assert.Equal(t, 3, e.cache.Builds())
}

func TestDirectives(t *testing.T) {
	e, _ := newEngine(t)
	ctx := context.Background()

	list, err := e.Directives(ctx)
	require.NoError(t, err)
	require.Len(t, list, 2)
	assert.Equal(t, "Deep Council", list[0].Name)
	assert.Equal(t, "Quick Council", list[1].Name)

	d, err := e.Directive(ctx, "quick council")
	require.NoError(t, err)
	assert.Equal(t, "Use the fast path with Socratic and Skeptic.", d.Body)

	_, err = e.Directive(ctx, "Empirical Validation")
	assert.True(t, cerrors.IsCode(err, cerrors.CodeInvalidInput))

	_, err = e.Directive(ctx, "Grand Council")
	assert.True(t, cerrors.IsCode(err, cerrors.CodeNotFound))
}

func TestCouncilDirectiveIsInjectedLikeAnySkill(t *testing.T) {
	e, _ := newEngine(t)
	res, err := e.ComposeSystemPrompt(context.Background(), "Socratic", "let's convene a council", "s9", 4000)
	require.NoError(t, err)
	assert.Contains(t, res.SystemPrompt, "Use the fast path with Socratic and Skeptic.")
	assert.NotContains(t, res.SystemPrompt, "Build sub-agents and let each research.")
}
