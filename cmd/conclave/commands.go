// Copyright 2026 © The Conclave Authors
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"context"
	"fmt"
	"io"
	"sort"
	"strings"
	"time"

	"github.com/jllopis/conclave/pkg/dispatch"
	"github.com/jllopis/conclave/pkg/mcp"
	"github.com/jllopis/conclave/pkg/skills"
	"github.com/spf13/cobra"
)

// withApp builds the app, runs fn and closes the app.
func withApp(cmd *cobra.Command, global *globalFlags, fn func(context.Context, *app) error) error {
	ctx := cmd.Context()
	a, err := newApp(ctx, global, cmd.ErrOrStderr())
	if err != nil {
		return err
	}
	defer func() {
		if err := a.Close(context.Background()); err != nil {
			a.logger.Warn("shutdown failed", "error", err)
		}
	}()
	if err := fn(ctx, a); err != nil {
		return WrapEngineError(err)
	}
	return nil
}

func newPersonasCmd(global *globalFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "personas",
		Short: "List personas",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withApp(cmd, global, func(ctx context.Context, a *app) error {
				ps, err := a.engine.Personas(ctx)
				if err != nil {
					return err
				}
				out := cmd.OutOrStdout()
				if global.JSON {
					return printJSON(out, ps)
				}
				tw := newTable(out, "NAME", "ID", "DEFAULT BACKEND", "ALLOWED BACKENDS")
				for _, p := range ps {
					tw.row(p.Name, p.ID, dash(p.DefaultBackend), dash(strings.Join(p.AllowedBackends, ",")))
				}
				return tw.flush()
			})
		},
	}
}

func newCouncilsCmd(global *globalFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "councils [name]",
		Short: "List council directives, or show one",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd, global, func(ctx context.Context, a *app) error {
				out := cmd.OutOrStdout()
				if len(args) == 1 {
					d, err := a.engine.Directive(ctx, args[0])
					if err != nil {
						return err
					}
					if global.JSON {
						return printJSON(out, d)
					}
					fmt.Fprintf(out, "# %s\n\n%s\n", d.Name, d.Body)
					return nil
				}
				ds, err := a.engine.Directives(ctx)
				if err != nil {
					return err
				}
				if global.JSON {
					return printJSON(out, ds)
				}
				tw := newTable(out, "NAME", "SUMMARY")
				for _, d := range ds {
					tw.row(d.Name, dash(d.Summary()))
				}
				return tw.flush()
			})
		},
	}
}

type backendRow struct {
	ID         string `json:"id"`
	Provider   string `json:"provider"`
	Model      string `json:"model"`
	Registered bool   `json:"registered"`
}

func newBackendsCmd(global *globalFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "backends",
		Short: "List configured model backends",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withApp(cmd, global, func(_ context.Context, a *app) error {
				registered := map[string]bool{}
				for _, id := range a.backends.IDs() {
					registered[id] = true
				}
				rows := make([]backendRow, 0, len(a.cfg.Backends))
				for id, bc := range a.cfg.Backends {
					rows = append(rows, backendRow{ID: id, Provider: bc.Provider, Model: bc.Model, Registered: registered[strings.ToLower(id)]})
				}
				sort.Slice(rows, func(i, j int) bool { return rows[i].ID < rows[j].ID })

				out := cmd.OutOrStdout()
				if global.JSON {
					return printJSON(out, rows)
				}
				tw := newTable(out, "ID", "PROVIDER", "MODEL", "STATUS")
				for _, r := range rows {
					status := "ready"
					if !r.Registered {
						status = "unavailable"
					}
					tw.row(r.ID, r.Provider, dash(r.Model), status)
				}
				return tw.flush()
			})
		},
	}
}

func newComposeCmd(global *globalFlags) *cobra.Command {
	var (
		personaRef string
		sessionID  string
		budget     int
	)
	cmd := &cobra.Command{
		Use:   "compose [conversation text]",
		Short: "Print the system prompt a persona would receive",
		RunE: func(cmd *cobra.Command, args []string) error {
			if personaRef == "" {
				return NewInvalidArgumentError("persona", "--persona is required")
			}
			return withApp(cmd, global, func(ctx context.Context, a *app) error {
				if !cmd.Flags().Changed("budget") {
					budget = a.cfg.Compose.TokenBudget
				}
				res, err := a.engine.ComposeSystemPrompt(ctx, personaRef, strings.Join(args, " "), sessionID, budget)
				if err != nil {
					return err
				}
				out := cmd.OutOrStdout()
				if global.JSON {
					return printJSON(out, map[string]any{
						"system_prompt": res.SystemPrompt,
						"injected":      res.Injected.Slice(),
						"added":         res.Added,
						"skipped":       res.Skipped,
						"used_tokens":   res.UsedTokens,
					})
				}
				fmt.Fprintln(out, res.SystemPrompt)
				return nil
			})
		},
	}
	cmd.Flags().StringVarP(&personaRef, "persona", "p", "", "persona name or id")
	cmd.Flags().StringVarP(&sessionID, "session", "s", "cli", "session id")
	cmd.Flags().IntVar(&budget, "budget", 0, "token budget for active skills (defaults to compose.token_budget)")
	return cmd
}

func newDispatchCmd(global *globalFlags) *cobra.Command {
	var (
		targets []string
		timeout time.Duration
	)
	cmd := &cobra.Command{
		Use:     "dispatch [query]",
		Short:   "Ask one or more personas the same question in parallel",
		Example: `  conclave dispatch -p Socratic@anthropic -p Skeptic "Is this plan sound?"`,
		Args:    cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			query := strings.Join(args, " ")
			reqs, err := parseTargets(targets, query)
			if err != nil {
				return err
			}
			return withApp(cmd, global, func(ctx context.Context, a *app) error {
				if timeout <= 0 {
					timeout = a.cfg.Dispatch.Timeout
				}
				results, err := a.engine.DispatchAll(ctx, reqs, timeout)
				if err != nil {
					return err
				}
				return writeResults(cmd.OutOrStdout(), results, global.JSON)
			})
		},
	}
	cmd.Flags().StringArrayVarP(&targets, "persona", "p", nil, "persona[@backend], repeatable")
	cmd.Flags().DurationVar(&timeout, "timeout", 0, "per-call timeout (defaults to dispatch.timeout)")
	return cmd
}

// parseTargets turns persona[@backend] flags into dispatch requests.
func parseTargets(targets []string, query string) ([]dispatch.Request, error) {
	if len(targets) == 0 {
		return nil, NewInvalidArgumentError("persona", "at least one --persona is required")
	}
	if strings.TrimSpace(query) == "" {
		return nil, NewInvalidArgumentError("query", "query is empty")
	}
	reqs := make([]dispatch.Request, 0, len(targets))
	for _, t := range targets {
		name, backendID, _ := strings.Cut(t, "@")
		name = strings.TrimSpace(name)
		if name == "" {
			return nil, NewInvalidArgumentError("persona", fmt.Sprintf("empty persona in %q", t))
		}
		reqs = append(reqs, dispatch.Request{Persona: name, Backend: strings.TrimSpace(backendID), Query: query})
	}
	return reqs, nil
}

type resultJSON struct {
	Persona    string `json:"persona"`
	Backend    string `json:"backend,omitempty"`
	Text       string `json:"text,omitempty"`
	Error      string `json:"error,omitempty"`
	Kind       string `json:"kind,omitempty"`
	DurationMS int64  `json:"duration_ms"`
}

func writeResults(w io.Writer, results []dispatch.Result, asJSON bool) error {
	if asJSON {
		rows := make([]resultJSON, 0, len(results))
		for _, r := range results {
			row := resultJSON{Persona: r.Persona, Backend: r.Backend, Text: r.Text, DurationMS: r.Duration.Milliseconds()}
			if r.Err != nil {
				row.Error, row.Kind = r.Err.Message, string(r.Err.Kind)
			}
			rows = append(rows, row)
		}
		return printJSON(w, rows)
	}
	for i, r := range results {
		if i > 0 {
			fmt.Fprintln(w)
		}
		if r.Backend != "" {
			fmt.Fprintf(w, "### %s (%s)\n\n%s\n", r.Persona, r.Backend, r.Render())
		} else {
			fmt.Fprintf(w, "### %s\n\n%s\n", r.Persona, r.Render())
		}
	}
	return nil
}

func newSubagentsCmd(global *globalFlags) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "subagents [persona...]",
		Short: "Build sub-agent specs for personas (all when none are named)",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd, global, func(ctx context.Context, a *app) error {
				specs, err := a.engine.BuildSubagents(ctx, args, a.cfg.Subagent.Tools)
				if err != nil {
					return err
				}
				out := cmd.OutOrStdout()
				if global.JSON {
					return printJSON(out, specs)
				}
				names := make([]string, 0, len(specs))
				for name := range specs {
					names = append(names, name)
				}
				sort.Strings(names)
				tw := newTable(out, "NAME", "BACKEND", "TOOLS", "FINGERPRINT")
				for _, name := range names {
					s := specs[name]
					tw.row(s.Name, dash(s.Backend), dash(strings.Join(s.Tools, ",")), shortFingerprint(s.Fingerprint))
				}
				return tw.flush()
			})
		},
	}
	cmd.AddCommand(newSubagentInvokeCmd(global))
	return cmd
}

func newSubagentInvokeCmd(global *globalFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "invoke <name> <task>",
		Short: "Run one persona sub-agent on a task",
		Args:  cobra.MinimumNArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd, global, func(ctx context.Context, a *app) error {
				rt, err := a.subagentRuntime(ctx)
				if err != nil {
					return err
				}
				specs, err := a.engine.Subagents(ctx, "cli", a.cfg.Subagent.Tools)
				if err != nil {
					return err
				}
				rt.Load(specs)
				answer, err := rt.Invoke(ctx, args[0], strings.Join(args[1:], " "))
				if err != nil {
					return err
				}
				fmt.Fprintln(cmd.OutOrStdout(), answer)
				return nil
			})
		},
	}
}

func newServeCmd(global *globalFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Serve the council tools over MCP on stdio",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withApp(cmd, global, func(ctx context.Context, a *app) error {
				rt, err := a.subagentRuntime(ctx)
				if err != nil {
					return err
				}
				if a.cfg.Skills.Watch {
					go func() {
						if err := a.watcher.Run(ctx); err != nil {
							a.logger.Error("skills watcher stopped", "error", err)
						}
					}()
				}
				srv := mcp.NewServer("conclave", a.engine,
					mcp.WithDispatchTimeout(a.cfg.Dispatch.Timeout),
					mcp.WithSubagentRuntime(rt),
					mcp.WithResourceTool(skills.NewResourceTool(a.catalog)),
					mcp.WithSubagentTools(a.cfg.Subagent.Tools),
					mcp.WithServerLogger(a.logger),
				)
				a.logger.Info("serving MCP on stdio", "version", version)
				return srv.ServeStdio()
			})
		},
	}
}
