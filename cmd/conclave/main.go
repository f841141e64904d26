// Copyright 2026 © The Conclave Authors
// SPDX-License-Identifier: Apache-2.0

// Package main implements the conclave CLI.
package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
)

var version = "dev"

type globalFlags struct {
	ConfigPath string
	Profile    string
	Sets       []string
	EnvFile    string
	JSON       bool
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	var global globalFlags
	root := newRootCmd(&global)
	if err := root.ExecuteContext(ctx); err != nil {
		printError(err, global.JSON)
		os.Exit(1)
	}
}

func newRootCmd(global *globalFlags) *cobra.Command {
	root := &cobra.Command{
		Use:           "conclave",
		Short:         "Consult a council of personas across model backends",
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	flags := root.PersistentFlags()
	flags.StringVarP(&global.ConfigPath, "config", "c", "", "path to config.yaml")
	flags.StringVar(&global.Profile, "profile", "", "config profile overlay (config.<profile>.yaml)")
	flags.StringArrayVar(&global.Sets, "set", nil, "override a config key (key=value), repeatable")
	flags.StringVar(&global.EnvFile, "env-file", ".env", "dotenv file loaded before the environment is read")
	flags.BoolVar(&global.JSON, "json", false, "print machine-readable output")

	root.AddCommand(
		newPersonasCmd(global),
		newCouncilsCmd(global),
		newBackendsCmd(global),
		newComposeCmd(global),
		newDispatchCmd(global),
		newSubagentsCmd(global),
		newServeCmd(global),
	)
	return root
}
