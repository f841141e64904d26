// Copyright 2026 © The Conclave Authors
// SPDX-License-Identifier: Apache-2.0

package subagent

import (
	"context"
	"strings"
	"testing"

	"github.com/jllopis/conclave/pkg/compose"
	cerrors "github.com/jllopis/conclave/pkg/errors"
	"github.com/jllopis/conclave/pkg/persona"
	"github.com/jllopis/conclave/pkg/skills"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func councilFixture() ([]persona.Persona, *skills.MemoryCatalog) {
	personas := []persona.Persona{
		{ID: "p-socratic", Name: "Socratic", Instructions: "Answer with questions."},
		{ID: "p-skeptic", Name: "Skeptic", Instructions: "Doubt everything.", DefaultBackend: "openai"},
	}
	catalog := skills.NewMemoryCatalog(
		skills.Skill{ID: "socratic-questioning", Name: "Socratic Questioning", Description: "Probe assumptions", Body: "Ask one question at a time.", Scope: []string{"p-socratic"}},
		skills.Skill{ID: "empirical-validation", Name: "Empirical Validation", Description: "Ask for data", Trigger: "evidence", Body: "Demand sources."},
	)
	return personas, catalog
}

func TestFactoryBuild(t *testing.T) {
	personas, catalog := councilFixture()
	f := NewFactory(compose.New(catalog), WithBackend("anthropic", "claude-sonnet-4-20250514"))

	specs, err := f.Build(context.Background(), personas, map[string][]string{
		"p-socratic": {"vault_search", "calendar"},
		"socratic":   {"vault_search"},
		"skeptic":    {"web_search"},
	})
	require.NoError(t, err)
	require.Len(t, specs, 2)

	soc := specs["socratic"]
	assert.Equal(t, "socratic", soc.Name)
	// Sub-agents carry every visible skill, trigger or not.
	assert.Contains(t, soc.SystemPrompt, "Ask one question at a time.")
	assert.Contains(t, soc.SystemPrompt, "Demand sources.")
	assert.True(t, strings.HasSuffix(strings.Split(soc.SystemPrompt, roleHeader)[0], "\n\n"))
	assert.Contains(t, soc.SystemPrompt, "You are the Socratic member")
	assert.Equal(t, []string{"calendar", "vault_search"}, soc.Tools)
	assert.Equal(t, "anthropic", soc.Backend)
	assert.Equal(t, "claude-sonnet-4-20250514", soc.Model)
	assert.NotEmpty(t, soc.Fingerprint)

	sk := specs["skeptic"]
	assert.NotContains(t, sk.SystemPrompt, "Ask one question at a time.")
	assert.Equal(t, []string{"web_search"}, sk.Tools)
	assert.Equal(t, "openai", sk.Backend)
	assert.Empty(t, sk.Model)
	assert.Equal(t, "Consult the Skeptic persona.", sk.Description)
}

func TestFactoryBuildIsDeterministic(t *testing.T) {
	personas, catalog := councilFixture()
	f := NewFactory(compose.New(catalog))
	tools := map[string][]string{"socratic": {"b", "a", "b"}}

	first, err := f.Build(context.Background(), personas, tools)
	require.NoError(t, err)
	second, err := f.Build(context.Background(), personas, tools)
	require.NoError(t, err)
	assert.Equal(t, first, second)
	assert.Equal(t, []string{"a", "b"}, first["socratic"].Tools)
}

func TestFactoryBuildInvalidInput(t *testing.T) {
	_, catalog := councilFixture()
	f := NewFactory(compose.New(catalog))

	_, err := f.Build(context.Background(), nil, nil)
	assert.True(t, cerrors.IsCode(err, cerrors.CodeInvalidInput))

	_, err = f.Build(context.Background(), []persona.Persona{
		{ID: "a", Name: "Socratic"},
		{ID: "b", Name: " socratic "},
	}, nil)
	assert.True(t, cerrors.IsCode(err, cerrors.CodeInvalidInput))
}

func TestCacheRebuildsOnlyOnChange(t *testing.T) {
	personas, catalog := councilFixture()
	cache := NewCache(NewFactory(compose.New(catalog)), catalog)
	ctx := context.Background()
	tools := map[string][]string{"socratic": {"vault_search"}}

	first, err := cache.Get(ctx, "s1", personas, tools)
	require.NoError(t, err)
	again, err := cache.Get(ctx, "s1", personas, tools)
	require.NoError(t, err)
	assert.Equal(t, first, again)
	assert.Equal(t, 1, cache.Builds())

	catalog.Put(skills.Skill{ID: "devils-advocate", Name: "Devil's Advocate", Body: "Argue the opposite."})
	updated, err := cache.Get(ctx, "s1", personas, tools)
	require.NoError(t, err)
	assert.Equal(t, 2, cache.Builds())
	assert.Contains(t, updated["skeptic"].SystemPrompt, "Argue the opposite.")

	_, err = cache.Get(ctx, "s1", personas, map[string][]string{"socratic": {"calendar"}})
	require.NoError(t, err)
	assert.Equal(t, 3, cache.Builds())

	_, err = cache.Get(ctx, "s2", personas, map[string][]string{"socratic": {"calendar"}})
	require.NoError(t, err)
	assert.Equal(t, 4, cache.Builds())

	cache.Drop("s1")
	_, err = cache.Get(ctx, "s1", personas, map[string][]string{"socratic": {"calendar"}})
	require.NoError(t, err)
	assert.Equal(t, 5, cache.Builds())

	cache.Invalidate()
	_, err = cache.Get(ctx, "s2", personas, map[string][]string{"socratic": {"calendar"}})
	require.NoError(t, err)
	assert.Equal(t, 6, cache.Builds())

	_, err = cache.Get(ctx, "", personas, nil)
	assert.True(t, cerrors.IsCode(err, cerrors.CodeInvalidInput))
}

func TestCacheReturnsCopies(t *testing.T) {
	personas, catalog := councilFixture()
	cache := NewCache(NewFactory(compose.New(catalog)), catalog)
	ctx := context.Background()
	tools := map[string][]string{"socratic": {"vault_search"}}

	first, err := cache.Get(ctx, "s1", personas, tools)
	require.NoError(t, err)
	delete(first, "skeptic")
	soc := first["socratic"]
	soc.Tools[0] = "rm_rf"
	soc.SystemPrompt = "hijacked"
	first["socratic"] = soc

	again, err := cache.Get(ctx, "s1", personas, tools)
	require.NoError(t, err)
	assert.Equal(t, 1, cache.Builds())
	assert.Contains(t, again, "skeptic")
	assert.Equal(t, []string{"vault_search"}, again["socratic"].Tools)
	assert.NotEqual(t, "hijacked", again["socratic"].SystemPrompt)
}
