// Copyright (c) 2025-2026, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package main

import (
	"github.com/spf13/cobra"

	"github.com/autobrr/fetcharr/internal/buildinfo"
	"github.com/autobrr/fetcharr/internal/update"
	"github.com/autobrr/fetcharr/pkg/version"
)

func RunVersionCommand() *cobra.Command {
	var checkLatest bool

	cmd := &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cmd.Println(buildinfo.String())

			if !checkLatest {
				return nil
			}

			checker := version.NewChecker("autobrr", "fetcharr", buildinfo.UserAgent)
			newAvailable, release, err := checker.CheckNewVersion(cmd.Context(), buildinfo.Version)
			if err != nil {
				return err
			}
			if newAvailable {
				cmd.Printf("New release available: %s\n%s\n", release.TagName, release.HTMLURL)
			} else {
				cmd.Println("Latest release is already installed.")
			}
			return nil
		},
	}

	cmd.Flags().BoolVar(&checkLatest, "check", false, "Check GitHub for a newer release")
	return cmd
}

func RunUpdateCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "update",
		Short: "Update fetcharr to the latest release",
		RunE: func(cmd *cobra.Command, _ []string) error {
			updater := update.NewUpdater(update.Config{
				Repository: "autobrr/fetcharr",
				Version:    buildinfo.Version,
			})

			updated, err := updater.Run(cmd.Context())
			if err != nil {
				return err
			}
			if !updated {
				cmd.Println("No update applied.")
			}
			return nil
		},
	}
}
