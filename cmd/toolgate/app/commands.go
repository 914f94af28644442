// SPDX-FileCopyrightText: Copyright 2026 Toolgate Authors
// SPDX-License-Identifier: Apache-2.0

// Package app provides the command-line interface for the toolgate server.
package app

import (
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/toolgate/toolgate/pkg/logger"
	"github.com/toolgate/toolgate/pkg/versions"
)

var rootCmd = &cobra.Command{
	Use:               "toolgate",
	DisableAutoGenTag: true,
	Short:             "Tool gateway between agent callers and backend services",
	Long: `Toolgate sits between AI-agent callers and backend microservices.

It discovers callable operations from registered sources, curates them into
groups, resolves per-caller tool manifests from access policies, and proxies
executions with schema validation, credential exchange and per-source
circuit breaking.`,
	Run: func(cmd *cobra.Command, _ []string) {
		if err := cmd.Help(); err != nil {
			logger.Errorf("Error displaying help: %v", err)
		}
	},
	PersistentPreRun: func(_ *cobra.Command, _ []string) {
		logger.Initialize()
	},
}

// NewRootCmd creates the root command for the toolgate CLI.
func NewRootCmd() *cobra.Command {
	rootCmd.PersistentFlags().Bool("debug", false, "Enable debug logging")
	if err := viper.BindPFlag("debug", rootCmd.PersistentFlags().Lookup("debug")); err != nil {
		logger.Errorf("Error binding debug flag: %v", err)
	}

	rootCmd.PersistentFlags().StringP("config", "c", "", "Path to configuration file")
	if err := viper.BindPFlag("config", rootCmd.PersistentFlags().Lookup("config")); err != nil {
		logger.Errorf("Error binding config flag: %v", err)
	}

	rootCmd.AddCommand(newServeCmd())
	rootCmd.AddCommand(newVersionCmd())

	rootCmd.SilenceUsage = true
	return rootCmd
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Run: func(_ *cobra.Command, _ []string) {
			info := versions.GetVersionInfo()
			logger.Infof("toolgate version %s (commit %s, built %s)",
				info.Version, info.Commit, info.BuildDate)
		},
	}
}
