// Copyright 2026 © The Conclave Authors
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"context"
	stderrors "errors"
	"io"
	"io/fs"
	"log/slog"
	"os"
	"sort"
	"time"

	"github.com/joho/godotenv"
	"github.com/jllopis/conclave/pkg/backend"
	"github.com/jllopis/conclave/pkg/compose"
	"github.com/jllopis/conclave/pkg/config"
	"github.com/jllopis/conclave/pkg/core"
	"github.com/jllopis/conclave/pkg/council"
	"github.com/jllopis/conclave/pkg/dispatch"
	cerrors "github.com/jllopis/conclave/pkg/errors"
	"github.com/jllopis/conclave/pkg/mcp"
	"github.com/jllopis/conclave/pkg/persona"
	"github.com/jllopis/conclave/pkg/session"
	"github.com/jllopis/conclave/pkg/skills"
	"github.com/jllopis/conclave/pkg/store/sqlite"
	"github.com/jllopis/conclave/pkg/subagent"
	"github.com/jllopis/conclave/pkg/telemetry"
)

// app holds everything a command needs. Build it with newApp and release
// it with Close.
type app struct {
	cfg      *config.Config
	logger   *slog.Logger
	engine   *council.Engine
	catalog  skills.Catalog
	backends *backend.Registry
	watcher  *skills.Watcher

	closers  []io.Closer
	shutdown telemetry.ShutdownFunc
}

func newApp(ctx context.Context, global *globalFlags, logOut io.Writer) (*app, error) {
	if global.EnvFile != "" {
		if err := godotenv.Load(global.EnvFile); err != nil && !stderrors.Is(err, fs.ErrNotExist) {
			return nil, NewConfigError(err, global.EnvFile)
		}
	}

	cfg, err := config.LoadWithOverrides(global.ConfigPath, global.Profile, global.Sets)
	if err != nil {
		return nil, NewConfigError(err, global.ConfigPath)
	}

	a := &app{cfg: cfg}
	a.logger = telemetry.ConfigureSlog(logOut, cfg.Log.Level, cfg.Log.Format)

	if cfg.Telemetry.Enabled {
		shutdown, err := telemetry.InitWithConfig("conclave", version, telemetry.Config{
			Exporter:           cfg.Telemetry.Exporter,
			OTLPEndpoint:       cfg.Telemetry.OTLPEndpoint,
			OTLPInsecure:       cfg.Telemetry.OTLPInsecure,
			OTLPTimeoutSeconds: cfg.Telemetry.OTLPTimeoutSeconds,
		})
		if err != nil {
			return nil, cerrors.New(cerrors.CodeInternal, "init telemetry", err)
		}
		a.shutdown = shutdown
	}

	if err := a.wire(ctx); err != nil {
		_ = a.Close(ctx)
		return nil, err
	}
	return a, nil
}

func (a *app) wire(ctx context.Context) error {
	cfg := a.cfg

	seed, err := loadPersonas(cfg.Store.PersonasFile)
	if err != nil {
		return err
	}

	var (
		personas   persona.Registry
		sessions   session.Store
		syncSkills func(context.Context, []skills.Skill) error
	)
	local := skills.NewMemoryCatalog()
	a.catalog = local

	switch cfg.Store.Driver {
	case "sqlite":
		st, err := sqlite.Open(cfg.Store.DSN)
		if err != nil {
			return err
		}
		a.closers = append(a.closers, st)
		for _, p := range seed {
			if _, err := st.Personas.Upsert(ctx, p); err != nil {
				return err
			}
		}
		personas, sessions, a.catalog = st.Personas, st.Sessions, st.Skills
		syncSkills = st.Skills.Sync
	default:
		personas = persona.NewMemoryRegistry(seed...)
		sessions = session.NewMemoryStore()
	}

	a.watcher = skills.NewWatcher(cfg.Skills.Dir, local, skills.WithWatcherLogger(a.logger))
	if syncSkills != nil {
		a.watcher.OnReload(func(loaded []skills.Skill) {
			if err := syncSkills(context.Background(), loaded); err != nil {
				a.logger.Error("skill sync failed", "error", err)
			}
		})
	}
	if info, err := os.Stat(cfg.Skills.Dir); err == nil && info.IsDir() {
		if err := a.watcher.Reload(); err != nil {
			return err
		}
	} else {
		a.logger.Debug("skills directory not found", "dir", cfg.Skills.Dir)
	}

	dispatchMetrics, err := telemetry.NewDispatchMetrics()
	if err != nil {
		return cerrors.New(cerrors.CodeInternal, "create dispatch metrics", err)
	}
	errMetrics, err := telemetry.NewErrorMetrics()
	if err != nil {
		return cerrors.New(cerrors.CodeInternal, "create error metrics", err)
	}

	var closers []io.Closer
	a.backends, closers = buildBackends(ctx, cfg.Backends, a.logger)
	a.closers = append(a.closers, closers...)

	composer := compose.New(a.catalog,
		compose.WithLogger(a.logger),
		compose.WithBasePrompt(cfg.Compose.BasePrompt),
	)
	dispatcher := dispatch.New(personas, composer, a.backends,
		dispatch.WithBudget(cfg.Compose.TokenBudget),
		dispatch.WithMaxConcurrency(cfg.Dispatch.MaxConcurrency),
		dispatch.WithDefaults(cfg.Dispatch.DefaultMaxTokens, cfg.Dispatch.DefaultTemperature),
		dispatch.WithDefaultBackend(cfg.Dispatch.DefaultBackend),
		dispatch.WithLogger(a.logger),
		dispatch.WithMetrics(dispatchMetrics),
		dispatch.WithErrorMetrics(errMetrics),
	)
	factory := subagent.NewFactory(composer,
		subagent.WithBudget(cfg.Subagent.TokenBudget),
		subagent.WithBackend(cfg.Subagent.Backend, cfg.Subagent.Model),
		subagent.WithFactoryLogger(a.logger),
	)

	a.engine, err = council.New(council.Deps{
		Personas:   personas,
		Catalog:    a.catalog,
		Sessions:   sessions,
		Composer:   composer,
		Dispatcher: dispatcher,
		Factory:    factory,
		Logger:     a.logger,
	})
	if err != nil {
		return err
	}

	a.watcher.OnReload(func([]skills.Skill) { a.engine.InvalidateSubagents() })
	return nil
}

// subagentRuntime starts the configured tool servers and returns a runtime
// exposing their tools plus the skill resource tool.
func (a *app) subagentRuntime(ctx context.Context) (*subagent.Runtime, error) {
	cfg := a.cfg.Subagent
	tools := []core.Tool{skills.NewResourceTool(a.catalog)}

	names := make([]string, 0, len(cfg.ToolServers))
	for name := range cfg.ToolServers {
		names = append(names, name)
	}
	sort.Strings(names)

	for _, name := range names {
		ts := cfg.ToolServers[name]
		var opts []mcp.ClientOption
		if ts.TimeoutSeconds > 0 {
			opts = append(opts, mcp.WithTimeout(time.Duration(ts.TimeoutSeconds)*time.Second))
		}
		if ts.Retries > 0 {
			opts = append(opts, mcp.WithRetry(ts.Retries, 0))
		}
		client, err := mcp.NewClientWithStdio(ctx, ts.Command, ts.Args, opts...)
		if err != nil {
			return nil, cerrors.AsConclaveError(err).WithContext("server", name)
		}
		a.closers = append(a.closers, client)
		serverTools, err := client.Tools(ctx)
		if err != nil {
			return nil, cerrors.AsConclaveError(err).WithContext("server", name)
		}
		a.logger.Info("tool server connected", "server", name, "tools", len(serverTools))
		tools = append(tools, serverTools...)
	}

	return subagent.NewRuntime(a.backends,
		subagent.WithMaxTurns(cfg.MaxTurns),
		subagent.WithMaxTokens(cfg.MaxTokens),
		subagent.WithTools(tools...),
		subagent.WithRuntimeLogger(a.logger),
	), nil
}

// Close releases stores, clients and telemetry.
func (a *app) Close(ctx context.Context) error {
	var errs []error
	for i := len(a.closers) - 1; i >= 0; i-- {
		errs = append(errs, a.closers[i].Close())
	}
	if a.shutdown != nil {
		errs = append(errs, a.shutdown(ctx))
	}
	return stderrors.Join(errs...)
}

func loadPersonas(path string) ([]persona.Persona, error) {
	if path == "" {
		return nil, nil
	}
	return persona.LoadFile(path)
}
