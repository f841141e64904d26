// Copyright 2026 © The Conclave Authors
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"context"
	"io"
	"log/slog"
	"sort"

	"github.com/jllopis/conclave/pkg/backend"
	"github.com/jllopis/conclave/pkg/config"
	cerrors "github.com/jllopis/conclave/pkg/errors"
	"github.com/jllopis/conclave/pkg/llm"
	"github.com/jllopis/conclave/providers/anthropic"
	"github.com/jllopis/conclave/providers/gemini"
	"github.com/jllopis/conclave/providers/openai"
)

// newProvider builds the llm.Provider for one configured backend. The
// returned closer may be nil.
func newProvider(ctx context.Context, bc config.BackendConfig) (llm.Provider, io.Closer, error) {
	switch bc.Provider {
	case "anthropic":
		opts := []anthropic.Option{anthropic.WithModel(bc.Model)}
		if bc.APIKey != "" {
			opts = append(opts, anthropic.WithAPIKey(bc.APIKey))
		}
		if bc.BaseURL != "" {
			opts = append(opts, anthropic.WithBaseURL(bc.BaseURL))
		}
		return anthropic.New(opts...), nil, nil
	case "openai":
		opts := []openai.Option{openai.WithModel(bc.Model)}
		if bc.APIKey != "" {
			opts = append(opts, openai.WithAPIKey(bc.APIKey))
		}
		if bc.BaseURL != "" {
			opts = append(opts, openai.WithBaseURL(bc.BaseURL))
		}
		return openai.New(opts...), nil, nil
	case "gemini":
		var (
			p   *gemini.Provider
			err error
		)
		if bc.APIKey != "" {
			p, err = gemini.NewWithAPIKey(ctx, bc.APIKey, gemini.WithModel(bc.Model))
		} else {
			p, err = gemini.New(ctx, gemini.WithModel(bc.Model))
		}
		if err != nil {
			return nil, nil, err
		}
		return p, p, nil
	case "ollama":
		return llm.NewOllama(bc.BaseURL, llm.WithOllamaModel(bc.Model)), nil, nil
	default:
		return nil, nil, cerrors.InvalidInput("unknown backend provider").WithContext("provider", bc.Provider)
	}
}

// buildBackends registers every configured backend. A backend whose
// client cannot be created is skipped with a warning; requests naming it
// then fail as unknown backends.
func buildBackends(ctx context.Context, cfgs map[string]config.BackendConfig, logger *slog.Logger) (*backend.Registry, []io.Closer) {
	reg := backend.NewRegistry()
	var closers []io.Closer

	ids := make([]string, 0, len(cfgs))
	for id := range cfgs {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	for _, id := range ids {
		bc := cfgs[id]
		p, closer, err := newProvider(ctx, bc)
		if err != nil {
			logger.Warn("backend unavailable", "backend_id", id, "provider", bc.Provider, "error", err)
			continue
		}
		if closer != nil {
			closers = append(closers, closer)
		}
		if err := reg.Register(id, backend.NewProviderClient(p, bc.Model)); err != nil {
			logger.Warn("backend not registered", "backend_id", id, "error", err)
		}
	}
	return reg, closers
}
