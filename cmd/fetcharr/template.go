// Copyright (c) 2025-2026, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package main

import (
	"fmt"
	"os"
	"strconv"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/autobrr/fetcharr/internal/config"
	"github.com/autobrr/fetcharr/internal/database"
	"github.com/autobrr/fetcharr/internal/models"
)

// templateDocument is the YAML shape used for template export and import.
type templateDocument struct {
	Name      string                  `yaml:"name"`
	MediaType models.MediaType        `yaml:"mediaType"`
	Steps     []models.StepDefinition `yaml:"steps"`
}

func RunTemplateCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "template",
		Short: "Pipeline template operations",
	}

	cmd.AddCommand(runTemplateExportCommand())
	cmd.AddCommand(runTemplateImportCommand())
	return cmd
}

func openStores(cmd *cobra.Command) (*database.DB, error) {
	appCfg, err := config.New(configPath)
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	return database.New(appCfg.GetDatabasePath())
}

func runTemplateExportCommand() *cobra.Command {
	var output string

	cmd := &cobra.Command{
		Use:   "export <id|name>",
		Short: "Export a pipeline template to YAML",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			db, err := openStores(cmd)
			if err != nil {
				return err
			}
			defer db.Close()

			store := models.NewPipelineTemplateStore(db)

			var template *models.PipelineTemplate
			if id, convErr := strconv.ParseInt(args[0], 10, 64); convErr == nil {
				template, err = store.Get(cmd.Context(), id)
			} else {
				template, err = store.GetByName(cmd.Context(), args[0])
			}
			if err != nil {
				return fmt.Errorf("template %q not found: %w", args[0], err)
			}

			doc := templateDocument{
				Name:      template.Name,
				MediaType: template.MediaType,
				Steps:     template.Steps,
			}
			data, err := yaml.Marshal(&doc)
			if err != nil {
				return err
			}

			if output == "" {
				cmd.Print(string(data))
				return nil
			}
			if err := os.WriteFile(output, data, 0o644); err != nil {
				return err
			}
			cmd.Printf("Template %q exported to %s\n", template.Name, output)
			return nil
		},
	}

	cmd.Flags().StringVarP(&output, "output", "o", "", "Destination file (default: stdout)")
	return cmd
}

func runTemplateImportCommand() *cobra.Command {
	var setDefault bool

	cmd := &cobra.Command{
		Use:   "import <file>",
		Short: "Import a pipeline template from YAML",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			data, err := os.ReadFile(args[0])
			if err != nil {
				return err
			}

			var doc templateDocument
			if err := yaml.Unmarshal(data, &doc); err != nil {
				return fmt.Errorf("invalid template file: %w", err)
			}

			db, err := openStores(cmd)
			if err != nil {
				return err
			}
			defer db.Close()

			store := models.NewPipelineTemplateStore(db)
			created, err := store.Create(cmd.Context(), &models.PipelineTemplate{
				Name:      doc.Name,
				MediaType: doc.MediaType,
				Steps:     doc.Steps,
			})
			if err != nil {
				return fmt.Errorf("failed to import template: %w", err)
			}

			if setDefault {
				if err := store.SetDefault(cmd.Context(), created.ID); err != nil {
					return fmt.Errorf("imported but failed to set as default: %w", err)
				}
			}

			cmd.Printf("Imported template %q (id %d)\n", created.Name, created.ID)
			return nil
		},
	}

	cmd.Flags().BoolVar(&setDefault, "set-default", false, "Make the imported template the default for its media type")
	return cmd
}
