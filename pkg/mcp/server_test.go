// Copyright 2026 © The Conclave Authors
// SPDX-License-Identifier: Apache-2.0

package mcp

import (
	"context"
	"testing"

	"github.com/jllopis/conclave/pkg/backend"
	"github.com/jllopis/conclave/pkg/backend/backendtest"
	"github.com/jllopis/conclave/pkg/compose"
	"github.com/jllopis/conclave/pkg/council"
	"github.com/jllopis/conclave/pkg/dispatch"
	"github.com/jllopis/conclave/pkg/persona"
	"github.com/jllopis/conclave/pkg/skills"
	"github.com/jllopis/conclave/pkg/subagent"
	"github.com/mark3labs/mcp-go/mcp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestServer(t *testing.T) *Server {
	t.Helper()
	personas := persona.NewMemoryRegistry(
		persona.Persona{ID: "p-socratic", Name: "Socratic", Description: "Asks questions", DefaultBackend: "anthropic"},
		persona.Persona{ID: "p-skeptic", Name: "Skeptic", DefaultBackend: "openai", AllowedBackends: []string{"openai"}, SortOrder: 1},
	)
	catalog := skills.NewMemoryCatalog(
		skills.Skill{ID: "quick-council", Name: "Quick Council", Category: skills.CategoryCouncil, WhenToUse: "Fast opinions", Body: "Ask Socratic and Skeptic."},
		skills.Skill{ID: "fallacies", Name: "Fallacies", Description: "Spot fallacies", Body: "Name the fallacy."},
	)
	backends := backend.NewRegistry()
	require.NoError(t, backends.Register("anthropic", backendtest.Static("why?")))
	require.NoError(t, backends.Register("openai", backendtest.Static("prove it")))

	composer := compose.New(catalog)
	engine, err := council.New(council.Deps{
		Personas:   personas,
		Catalog:    catalog,
		Composer:   composer,
		Dispatcher: dispatch.New(personas, composer, backends),
	})
	require.NoError(t, err)

	return NewServer("conclave-test", engine,
		WithSubagentRuntime(subagent.NewRuntime(backends)),
		WithResourceTool(skills.NewResourceTool(catalog)),
	)
}

func callRequest(name string, args map[string]any) mcp.CallToolRequest {
	req := mcp.CallToolRequest{}
	req.Params.Name = name
	req.Params.Arguments = args
	return req
}

func resultText(t *testing.T, res *mcp.CallToolResult) string {
	t.Helper()
	require.NotNil(t, res)
	return textContent(res.Content)
}

func TestQueryPersona(t *testing.T) {
	s := newTestServer(t)
	ctx := context.Background()

	res, err := s.handleQueryPersona(ctx, callRequest(ToolQueryPersona, map[string]any{
		"persona_name": "socratic",
		"query":        "is this true?",
		"max_tokens":   float64(50),
	}))
	require.NoError(t, err)
	assert.Equal(t, "why?", resultText(t, res))

	res, err = s.handleQueryPersona(ctx, callRequest(ToolQueryPersona, map[string]any{
		"persona_name": "Nobody",
		"query":        "hello",
	}))
	require.NoError(t, err)
	assert.Equal(t, "[Error: Persona 'Nobody' not found]", resultText(t, res))

	res, err = s.handleQueryPersona(ctx, callRequest(ToolQueryPersona, map[string]any{
		"persona_name": "Skeptic",
		"provider":     "anthropic",
		"query":        "hello",
	}))
	require.NoError(t, err)
	assert.Contains(t, resultText(t, res), "[Error: ")
}

func TestQueryPersonaRequiresArguments(t *testing.T) {
	s := newTestServer(t)
	res, err := s.handleQueryPersona(context.Background(), callRequest(ToolQueryPersona, map[string]any{}))
	require.NoError(t, err)
	assert.Equal(t, "[Error: persona_name and query are required]", resultText(t, res))
}

func TestCouncilQueryRendersEveryResult(t *testing.T) {
	s := newTestServer(t)
	res, err := s.handleCouncilQuery(context.Background(), callRequest(ToolCouncilQuery, map[string]any{
		"requests": []any{
			map[string]any{"persona": "Socratic", "query": "q"},
			map[string]any{"persona": "Nobody", "query": "q"},
			map[string]any{"persona": "Skeptic", "backend": "openai", "query": "q"},
		},
		"timeout_seconds": float64(5),
	}))
	require.NoError(t, err)
	text := resultText(t, res)
	assert.Contains(t, text, "### Socratic (anthropic)\n\nwhy?")
	assert.Contains(t, text, "### Nobody\n\n[Error: Persona 'Nobody' not found]")
	assert.Contains(t, text, "### Skeptic (openai)\n\nprove it")
}

func TestCouncilQueryEmptyRequests(t *testing.T) {
	s := newTestServer(t)
	res, err := s.handleCouncilQuery(context.Background(), callRequest(ToolCouncilQuery, map[string]any{
		"requests": []any{},
	}))
	require.NoError(t, err)
	assert.Contains(t, resultText(t, res), "[Error: ")

	res, err = s.handleCouncilQuery(context.Background(), callRequest(ToolCouncilQuery, map[string]any{
		"requests": "not a list",
	}))
	require.NoError(t, err)
	assert.Equal(t, "[Error: requests must be a list of objects]", resultText(t, res))
}

func TestListPersonas(t *testing.T) {
	s := newTestServer(t)
	res, err := s.handleListPersonas(context.Background(), callRequest(ToolListPersonas, nil))
	require.NoError(t, err)
	assert.Equal(t, "- Socratic: Asks questions\n- Skeptic [openai]", resultText(t, res))
}

func TestCouncils(t *testing.T) {
	s := newTestServer(t)
	ctx := context.Background()

	res, err := s.handleListCouncils(ctx, callRequest(ToolListCouncils, nil))
	require.NoError(t, err)
	assert.Equal(t, "- Quick Council: Fast opinions", resultText(t, res))

	res, err = s.handleGetCouncil(ctx, callRequest(ToolGetCouncil, map[string]any{"name": "quick council"}))
	require.NoError(t, err)
	assert.Equal(t, "# Quick Council\n\nAsk Socratic and Skeptic.", resultText(t, res))

	res, err = s.handleGetCouncil(ctx, callRequest(ToolGetCouncil, map[string]any{"name": "fallacies"}))
	require.NoError(t, err)
	assert.Contains(t, resultText(t, res), "[Error: ")

	res, err = s.handleGetCouncil(ctx, callRequest(ToolGetCouncil, map[string]any{}))
	require.NoError(t, err)
	assert.Equal(t, "[Error: name is required]", resultText(t, res))
}

func TestInvokeSubagent(t *testing.T) {
	s := newTestServer(t)
	ctx := context.Background()

	res, err := s.handleInvokeSubagent(ctx, callRequest(ToolInvokeSubagent, map[string]any{
		"name": "Skeptic",
		"task": "review the plan",
	}))
	require.NoError(t, err)
	assert.Equal(t, "prove it", resultText(t, res))

	res, err = s.handleInvokeSubagent(ctx, callRequest(ToolInvokeSubagent, map[string]any{
		"name": "nobody",
		"task": "review the plan",
	}))
	require.NoError(t, err)
	assert.Equal(t, "[Error: subagent not found: nobody]", resultText(t, res))
}

func TestSkillResource(t *testing.T) {
	s := newTestServer(t)
	res, err := s.handleSkillResource(context.Background(), callRequest(skills.ResourceToolName, map[string]any{
		"skill": "fallacies",
	}))
	require.NoError(t, err)
	assert.JSONEq(t, `{"name":"Fallacies","instructions":"Name the fallacy."}`, resultText(t, res))

	res, err = s.handleSkillResource(context.Background(), callRequest(skills.ResourceToolName, map[string]any{
		"skill": "missing",
	}))
	require.NoError(t, err)
	assert.Equal(t, "[Error: skill not found: missing]", resultText(t, res))
}
