// Copyright 2026 © The Conclave Authors
// SPDX-License-Identifier: Apache-2.0

package compose

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"testing"

	cerrors "github.com/jllopis/conclave/pkg/errors"
	"github.com/jllopis/conclave/pkg/persona"
	"github.com/jllopis/conclave/pkg/session"
	"github.com/jllopis/conclave/pkg/skills"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var (
	socratic = persona.Persona{ID: "p-soc", Name: "Socratic", Instructions: "Answer with questions."}
	stoic    = persona.Persona{ID: "p-sto", Name: "Stoic", Instructions: "Focus on what can be controlled."}

	questioning = skills.Skill{
		ID: "s-q", Name: "Socratic Questioning", WhenToUse: "Always, to probe assumptions",
		Scope: []string{"p-soc"}, Body: "QUESTIONING-BODY: ask one layered question at a time.",
	}
	empirical = skills.Skill{
		ID: "s-e", Name: "Empirical Validation", Description: "Ground claims in data",
		Trigger: "evidence", Body: "EMPIRICAL-BODY: ask what data supports the claim.",
	}
	stoicOnly = skills.Skill{
		ID: "s-s", Name: "Dichotomy of Control", Scope: []string{"p-sto"},
		Body: "STOIC-BODY: separate what is up to us.",
	}
)

func quietLogger() *slog.Logger { return slog.New(slog.NewTextHandler(io.Discard, nil)) }

func newComposer(ss ...skills.Skill) *Composer {
	return New(skills.NewMemoryCatalog(ss...), WithLogger(quietLogger()))
}

func TestComposeExampleScenario(t *testing.T) {
	ctx := context.Background()
	c := newComposer(questioning, empirical, stoicOnly)

	first, err := c.Compose(ctx, socratic, "what's the evidence for this?", session.IDSet{}, 4000)
	require.NoError(t, err)
	assert.Contains(t, first.SystemPrompt, "QUESTIONING-BODY")
	assert.Contains(t, first.SystemPrompt, "EMPIRICAL-BODY")
	assert.Equal(t, 2, first.Injected.Len())
	assert.Equal(t, []string{"s-q", "s-e"}, first.Added)

	second, err := c.Compose(ctx, socratic, "what's the evidence for this?", first.Injected, 4000)
	require.NoError(t, err)
	assert.NotContains(t, second.SystemPrompt, "QUESTIONING-BODY")
	assert.NotContains(t, second.SystemPrompt, "EMPIRICAL-BODY")
	assert.Contains(t, second.SystemPrompt, "- Socratic Questioning — Always, to probe assumptions")
	assert.Contains(t, second.SystemPrompt, "- Empirical Validation — Ground claims in data")
	assert.True(t, second.Injected.Equal(first.Injected))
	assert.Empty(t, second.Added)
	assert.Zero(t, second.UsedTokens)
}

func TestComposeLayout(t *testing.T) {
	c := New(skills.NewMemoryCatalog(questioning), WithBasePrompt("You are a helpful assistant."), WithLogger(quietLogger()))
	res, err := c.Compose(context.Background(), socratic, "hello", session.IDSet{}, 4000)
	require.NoError(t, err)

	want := strings.Join([]string{
		"You are a helpful assistant.",
		"## Your Persona: Socratic\n\nAnswer with questions.",
		"## Available Skills\n\n- Socratic Questioning — Always, to probe assumptions",
		"## Active Skills\n\n### Socratic Questioning\n\nQUESTIONING-BODY: ask one layered question at a time.",
	}, "\n\n")
	assert.Equal(t, want, res.SystemPrompt)
}

func TestComposeDeterministic(t *testing.T) {
	ctx := context.Background()
	var many []skills.Skill
	for i := 0; i < 20; i++ {
		many = append(many, skills.Skill{
			ID: fmt.Sprintf("s-%02d", i), Name: fmt.Sprintf("Skill %02d", 19-i),
			SortOrder: i % 3, Body: strings.Repeat("x", 40*i+1),
		})
	}
	c := newComposer(many...)

	first, err := c.Compose(ctx, socratic, "anything", session.NewIDSet("s-03"), 300)
	require.NoError(t, err)
	for i := 0; i < 10; i++ {
		again, err := c.Compose(ctx, socratic, "anything", session.NewIDSet("s-03"), 300)
		require.NoError(t, err)
		assert.Equal(t, first.SystemPrompt, again.SystemPrompt)
		assert.Equal(t, first.Added, again.Added)
		assert.Equal(t, first.UsedTokens, again.UsedTokens)
	}
}

func TestComposeScopeEnforcement(t *testing.T) {
	ctx := context.Background()
	c := newComposer(questioning, empirical, stoicOnly)
	texts := []string{"", "evidence", "Dichotomy of Control please", "STOIC-BODY"}

	for _, text := range texts {
		res, err := c.Compose(ctx, stoic, text, session.IDSet{}, 4000)
		require.NoError(t, err)
		assert.NotContains(t, res.SystemPrompt, "Socratic Questioning")
		assert.NotContains(t, res.SystemPrompt, "QUESTIONING-BODY")

		res, err = c.Compose(ctx, socratic, text, session.IDSet{}, 4000)
		require.NoError(t, err)
		assert.NotContains(t, res.SystemPrompt, "Dichotomy of Control")
		assert.NotContains(t, res.SystemPrompt, "STOIC-BODY")

		full, err := c.ComposeFull(ctx, socratic, 0)
		require.NoError(t, err)
		assert.NotContains(t, full.SystemPrompt, "STOIC-BODY")
	}
}

func TestComposeBudgetSkipsWholeAndContinues(t *testing.T) {
	big := skills.Skill{ID: "a-big", Name: "A Big", Body: strings.Repeat("B", 400)}
	small := skills.Skill{ID: "b-small", Name: "B Small", Body: "SMALL-BODY"}
	c := newComposer(big, small)

	res, err := c.Compose(context.Background(), socratic, "", session.IDSet{}, 20)
	require.NoError(t, err)
	assert.Equal(t, []string{"b-small"}, res.Added)
	require.Len(t, res.Skipped, 1)
	assert.Equal(t, "a-big", res.Skipped[0].ID)
	assert.NotContains(t, res.SystemPrompt, "BBBB")
	assert.Contains(t, res.SystemPrompt, "SMALL-BODY")
	assert.Contains(t, res.SystemPrompt, "- A Big", "Tier 1 is never budgeted")
	assert.False(t, res.Injected.Has("a-big"))
}

func TestComposeBudgetRespected(t *testing.T) {
	ctx := context.Background()
	var ss []skills.Skill
	for i := 0; i < 12; i++ {
		ss = append(ss, skills.Skill{
			ID: fmt.Sprintf("s-%02d", i), Name: fmt.Sprintf("Skill %02d", i),
			Body: fmt.Sprintf("BODY-%02d ", i) + strings.Repeat("y", (i*37)%150),
		})
	}
	c := newComposer(ss...)
	est := CharEstimator{}

	for _, budget := range []int{0, 1, 7, 25, 60, 130, 400, 10000} {
		res, err := c.Compose(ctx, socratic, "", session.IDSet{}, budget)
		require.NoError(t, err)
		assert.LessOrEqual(t, res.UsedTokens, budget)

		tier2 := ""
		if i := strings.Index(res.SystemPrompt, activeHeader); i >= 0 {
			tier2 = res.SystemPrompt[i:]
		}
		assert.LessOrEqual(t, est.Estimate(tier2), budget, "budget %d", budget)

		// Every body is either present whole or absent.
		for _, s := range ss {
			present := strings.Contains(res.SystemPrompt, s.Body)
			marker := strings.Contains(res.SystemPrompt, s.Body[:7])
			assert.Equal(t, present, marker, "partial body of %s at budget %d", s.ID, budget)
		}
	}
}

func TestComposeInjectsBodyVerbatim(t *testing.T) {
	body := "  VERBATIM-BODY\n\n- keep indentation\n  and trailing space "
	c := newComposer(skills.Skill{ID: "v", Name: "Verbatim", Trigger: "verbatim", Body: body})

	res, err := c.Compose(context.Background(), socratic, "say it verbatim", session.IDSet{}, 10000)
	require.NoError(t, err)
	assert.Contains(t, res.SystemPrompt, "### Verbatim\n\n"+body)
}

func TestComposeNegativeBudget(t *testing.T) {
	_, err := newComposer().Compose(context.Background(), socratic, "", session.IDSet{}, -1)
	assert.True(t, cerrors.IsCode(err, cerrors.CodeInvalidInput))
}

func TestComposeNoSkills(t *testing.T) {
	res, err := newComposer().Compose(context.Background(), socratic, "evidence", session.IDSet{}, 100)
	require.NoError(t, err)
	assert.Equal(t, "## Your Persona: Socratic\n\nAnswer with questions.", res.SystemPrompt)
	assert.Equal(t, 0, res.Injected.Len())
}

func TestComposeFullIgnoresTriggers(t *testing.T) {
	c := newComposer(questioning, empirical)
	res, err := c.ComposeFull(context.Background(), socratic, 0)
	require.NoError(t, err)
	assert.Contains(t, res.SystemPrompt, "EMPIRICAL-BODY")
	assert.Contains(t, res.SystemPrompt, "QUESTIONING-BODY")

	tight, err := c.ComposeFull(context.Background(), socratic, 5)
	require.NoError(t, err)
	assert.Empty(t, tight.Added)
}

func TestComposeForSession(t *testing.T) {
	ctx := context.Background()
	c := newComposer(questioning, empirical)
	store := session.NewMemoryStore()

	first, err := c.ComposeForSession(ctx, socratic, "evidence?", "sess-1", 4000, store)
	require.NoError(t, err)
	assert.Len(t, first.Added, 2)

	injected, err := store.Injected(ctx, "sess-1")
	require.NoError(t, err)
	assert.Equal(t, []string{"s-e", "s-q"}, injected.Slice())

	second, err := c.ComposeForSession(ctx, socratic, "evidence?", "sess-1", 4000, store)
	require.NoError(t, err)
	assert.Empty(t, second.Added)
	assert.NotContains(t, second.SystemPrompt, "EMPIRICAL-BODY")

	_, err = c.ComposeForSession(ctx, socratic, "x", "sess-1", 4000, nil)
	assert.True(t, cerrors.IsCode(err, cerrors.CodeInvalidInput))
}

type failingCatalog struct{}

func (failingCatalog) Skills(context.Context, skills.Filter) ([]skills.Skill, error) {
	return nil, errors.New("db down")
}

func (failingCatalog) Get(context.Context, string) (skills.Skill, error) {
	return skills.Skill{}, errors.New("db down")
}

func TestComposeCatalogFailure(t *testing.T) {
	_, err := New(failingCatalog{}).Compose(context.Background(), socratic, "", session.IDSet{}, 10)
	assert.True(t, cerrors.IsCode(err, cerrors.CodeStoreError))
}

func TestCustomEstimator(t *testing.T) {
	words := EstimatorFunc(func(s string) int { return len(strings.Fields(s)) })
	c := New(skills.NewMemoryCatalog(empirical), WithEstimator(words), WithLogger(quietLogger()))
	res, err := c.Compose(context.Background(), socratic, "evidence", session.IDSet{}, 100)
	require.NoError(t, err)
	// header words + block heading words + body words
	assert.Equal(t, 3+3+7, res.UsedTokens)
}
