// Copyright (c) 2025-2026, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package models

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/autobrr/fetcharr/internal/dbinterface"
)

// StepDefinition is one node of a pipeline template tree. Children run after
// the parent succeeds; siblings run concurrently.
type StepDefinition struct {
	Kind            string           `json:"kind" yaml:"kind"`
	Name            string           `json:"name,omitempty" yaml:"name,omitempty"`
	Config          map[string]any   `json:"config,omitempty" yaml:"config,omitempty"`
	Condition       string           `json:"condition,omitempty" yaml:"condition,omitempty"`
	Required        *bool            `json:"required,omitempty" yaml:"required,omitempty"`
	ContinueOnError bool             `json:"continueOnError,omitempty" yaml:"continueOnError,omitempty"`
	Retryable       bool             `json:"retryable,omitempty" yaml:"retryable,omitempty"`
	Timeout         time.Duration    `json:"timeout,omitempty" yaml:"timeout,omitempty"`
	Children        []StepDefinition `json:"children,omitempty" yaml:"children,omitempty"`
}

// IsRequired defaults to true when the template leaves it unset.
func (d *StepDefinition) IsRequired() bool {
	return d.Required == nil || *d.Required
}

// DisplayName returns the template-given name or falls back to the kind.
func (d *StepDefinition) DisplayName() string {
	if d.Name != "" {
		return d.Name
	}
	return d.Kind
}

// PipelineTemplate is a versioned, named step tree for a media type. Running
// executions snapshot the steps, so edits never affect in-flight work.
type PipelineTemplate struct {
	ID        int64            `json:"id"`
	Name      string           `json:"name"`
	MediaType MediaType        `json:"mediaType"`
	Version   int              `json:"version"`
	IsDefault bool             `json:"isDefault"`
	Steps     []StepDefinition `json:"steps"`
	CreatedAt time.Time        `json:"createdAt"`
	UpdatedAt time.Time        `json:"updatedAt"`
}

// PipelineTemplateStore handles database operations for pipeline templates.
type PipelineTemplateStore struct {
	db dbinterface.Querier
}

// NewPipelineTemplateStore creates a new PipelineTemplateStore.
func NewPipelineTemplateStore(db dbinterface.Querier) *PipelineTemplateStore {
	return &PipelineTemplateStore{db: db}
}

const templateColumns = `id, name, media_type, version, is_default, steps, created_at, updated_at`

// Create inserts a template at version 1.
func (s *PipelineTemplateStore) Create(ctx context.Context, t *PipelineTemplate) (*PipelineTemplate, error) {
	if t == nil {
		return nil, errors.New("template is nil")
	}
	if t.Name == "" {
		return nil, errors.New("template name is required")
	}
	if !t.MediaType.IsValid() {
		return nil, fmt.Errorf("invalid media type %q", t.MediaType)
	}
	if len(t.Steps) == 0 {
		return nil, errors.New("template needs at least one step")
	}

	stepsJSON, err := marshalJSONColumn(t.Steps, false)
	if err != nil {
		return nil, err
	}

	res, err := s.db.ExecContext(ctx, `
		INSERT INTO pipeline_templates (name, media_type, version, is_default, steps)
		VALUES (?, ?, 1, ?, ?)
	`, t.Name, t.MediaType, boolToInt(t.IsDefault), stepsJSON.String)
	if err != nil {
		return nil, fmt.Errorf("failed to insert pipeline template: %w", err)
	}

	id, err := res.LastInsertId()
	if err != nil {
		return nil, fmt.Errorf("failed to get last insert id: %w", err)
	}

	return s.Get(ctx, id)
}

// Get retrieves a template by ID.
func (s *PipelineTemplateStore) Get(ctx context.Context, id int64) (*PipelineTemplate, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT `+templateColumns+`
		FROM pipeline_templates
		WHERE id = ?
	`, id)

	return s.scanTemplate(row)
}

// GetDefault returns the default template for a media type.
func (s *PipelineTemplateStore) GetDefault(ctx context.Context, mediaType MediaType) (*PipelineTemplate, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT `+templateColumns+`
		FROM pipeline_templates
		WHERE media_type = ? AND is_default = 1
		ORDER BY id
		LIMIT 1
	`, mediaType)

	return s.scanTemplate(row)
}

// GetByName retrieves a template by its unique name.
func (s *PipelineTemplateStore) GetByName(ctx context.Context, name string) (*PipelineTemplate, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT `+templateColumns+`
		FROM pipeline_templates
		WHERE name = ?
	`, name)

	return s.scanTemplate(row)
}

// List returns all templates.
func (s *PipelineTemplateStore) List(ctx context.Context) ([]*PipelineTemplate, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+templateColumns+`
		FROM pipeline_templates
		ORDER BY media_type, name
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	return s.scanTemplates(rows)
}

// Update replaces the step tree and bumps the version. Running executions
// already hold their own snapshot and are unaffected.
func (s *PipelineTemplateStore) Update(ctx context.Context, id int64, name string, steps []StepDefinition) (*PipelineTemplate, error) {
	if name == "" {
		return nil, errors.New("template name is required")
	}
	if len(steps) == 0 {
		return nil, errors.New("template needs at least one step")
	}

	stepsJSON, err := marshalJSONColumn(steps, false)
	if err != nil {
		return nil, err
	}

	res, err := s.db.ExecContext(ctx, `
		UPDATE pipeline_templates SET name = ?, steps = ?, version = version + 1,
			updated_at = CURRENT_TIMESTAMP
		WHERE id = ?
	`, name, stepsJSON.String, id)
	if err != nil {
		return nil, err
	}
	rows, err := res.RowsAffected()
	if err != nil {
		return nil, err
	}
	if rows == 0 {
		return nil, sql.ErrNoRows
	}

	return s.Get(ctx, id)
}

// SetDefault makes the template the default for its media type, clearing the
// flag on its siblings.
func (s *PipelineTemplateStore) SetDefault(ctx context.Context, id int64) error {
	t, err := s.Get(ctx, id)
	if err != nil {
		return err
	}

	if _, err := s.db.ExecContext(ctx, `
		UPDATE pipeline_templates SET is_default = 0, updated_at = CURRENT_TIMESTAMP
		WHERE media_type = ? AND is_default = 1
	`, t.MediaType); err != nil {
		return err
	}

	_, err = s.db.ExecContext(ctx, `
		UPDATE pipeline_templates SET is_default = 1, updated_at = CURRENT_TIMESTAMP
		WHERE id = ?
	`, id)
	return err
}

// Delete removes a template. Defaults cannot be deleted.
func (s *PipelineTemplateStore) Delete(ctx context.Context, id int64) error {
	res, err := s.db.ExecContext(ctx, `
		DELETE FROM pipeline_templates WHERE id = ? AND is_default = 0
	`, id)
	if err != nil {
		return err
	}
	rows, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if rows == 0 {
		return sql.ErrNoRows
	}
	return nil
}

func (s *PipelineTemplateStore) scanTemplate(row scannable) (*PipelineTemplate, error) {
	var t PipelineTemplate
	var stepsJSON string

	err := row.Scan(&t.ID, &t.Name, &t.MediaType, &t.Version, &t.IsDefault,
		&stepsJSON, &t.CreatedAt, &t.UpdatedAt)
	if err != nil {
		return nil, err
	}

	if err := unmarshalJSONColumn(sql.NullString{String: stepsJSON, Valid: true}, &t.Steps); err != nil {
		return nil, err
	}

	return &t, nil
}

func (s *PipelineTemplateStore) scanTemplates(rows *sql.Rows) ([]*PipelineTemplate, error) {
	var templates []*PipelineTemplate

	for rows.Next() {
		t, err := s.scanTemplate(rows)
		if err != nil {
			return nil, err
		}
		templates = append(templates, t)
	}

	if err := rows.Err(); err != nil {
		return nil, err
	}

	return templates, nil
}
