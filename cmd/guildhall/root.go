// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Guildhall Contributors

package main

import (
	"github.com/spf13/cobra"
)

// configFile is the --config path shared by subcommands.
var configFile string

// NewRootCmd creates the root command.
func NewRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "guildhall",
		Short: "Guildhall - chat platform authorization",
		Long: `Guildhall decides what members of a chat server may do: it resolves
capabilities from legacy roles, custom roles, and per-member overrides, and
answers moderation hierarchy questions.`,
		SilenceUsage: true,
	}

	cmd.PersistentFlags().StringVar(&configFile, "config", "", "config file path (YAML)")

	cmd.AddCommand(NewServeCmd())
	cmd.AddCommand(NewMigrateCmd())
	cmd.AddCommand(NewExplainCmd())

	return cmd
}
