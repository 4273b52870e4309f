// Copyright (c) 2025-2026, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package main

import (
	"os"

	"github.com/spf13/cobra"
)

var configPath string

func main() {
	rootCmd := &cobra.Command{
		Use:   "fetcharr",
		Short: "Media acquisition and delivery orchestrator",
		Long: `fetcharr turns media requests into delivered library files: it searches
Torznab indexers, downloads through qBittorrent, re-encodes via an encoder
pool and delivers the results to your storage servers.`,
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(cmd)
		},
	}

	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "path to config file or directory")

	rootCmd.AddCommand(RunServeCommand())
	rootCmd.AddCommand(RunVersionCommand())
	rootCmd.AddCommand(RunUpdateCommand())
	rootCmd.AddCommand(RunDBCommand())
	rootCmd.AddCommand(RunTemplateCommand())
	rootCmd.AddCommand(RunServerCommand())

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
