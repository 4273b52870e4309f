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

// ExecutionStatus is the lifecycle of one pipeline run.
type ExecutionStatus string

const (
	ExecutionStatusRunning   ExecutionStatus = "running"
	ExecutionStatusPaused    ExecutionStatus = "paused"
	ExecutionStatusCompleted ExecutionStatus = "completed"
	ExecutionStatusFailed    ExecutionStatus = "failed"
	ExecutionStatusCancelled ExecutionStatus = "cancelled"
)

// IsTerminal reports whether the execution finished for good.
func (s ExecutionStatus) IsTerminal() bool {
	switch s {
	case ExecutionStatusCompleted, ExecutionStatusFailed, ExecutionStatusCancelled:
		return true
	}
	return false
}

// Execution is one run of a pipeline for a request. The steps column is a
// snapshot of the template tree taken at start, so later template edits never
// change in-flight runs. Episode branches are child executions pointing back
// at their parent.
type Execution struct {
	ID                int64            `json:"id"`
	RequestID         int64            `json:"requestId"`
	TemplateID        int64            `json:"templateId"`
	Steps             []StepDefinition `json:"steps"`
	Status            ExecutionStatus  `json:"status"`
	CurrentStep       string           `json:"currentStep,omitempty"`
	ParentExecutionID *int64           `json:"parentExecutionId,omitempty"`
	EpisodeItemID     *int64           `json:"episodeItemId,omitempty"`
	Context           StepContext      `json:"context,omitempty"`
	PauseReason       string           `json:"pauseReason,omitempty"`
	Error             string           `json:"error,omitempty"`
	StartedAt         time.Time        `json:"startedAt"`
	FinishedAt        *time.Time       `json:"finishedAt,omitempty"`
}

// ExecutionStore handles database operations for pipeline executions.
type ExecutionStore struct {
	db dbinterface.Querier
}

// NewExecutionStore creates a new ExecutionStore.
func NewExecutionStore(db dbinterface.Querier) *ExecutionStore {
	return &ExecutionStore{db: db}
}

const executionColumns = `id, request_id, template_id, steps, status, current_step,
	parent_execution_id, episode_item_id, context, pause_reason, error,
	started_at, finished_at`

// Create inserts a running execution with a snapshot of the template steps.
func (s *ExecutionStore) Create(ctx context.Context, e *Execution) (*Execution, error) {
	if e == nil {
		return nil, errors.New("execution is nil")
	}
	if e.RequestID == 0 {
		return nil, errors.New("request id is required")
	}
	if len(e.Steps) == 0 {
		return nil, errors.New("execution needs a step snapshot")
	}
	if e.Status == "" {
		e.Status = ExecutionStatusRunning
	}

	stepsJSON, err := marshalJSONColumn(e.Steps, false)
	if err != nil {
		return nil, err
	}
	contextJSON, err := marshalJSONColumn(e.Context, len(e.Context) == 0)
	if err != nil {
		return nil, err
	}

	res, err := s.db.ExecContext(ctx, `
		INSERT INTO executions (
			request_id, template_id, steps, status, current_step,
			parent_execution_id, episode_item_id, context, pause_reason, error
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`,
		e.RequestID, e.TemplateID, stepsJSON.String, e.Status, nullString(e.CurrentStep),
		nullInt64(e.ParentExecutionID), nullInt64(e.EpisodeItemID),
		contextJSON, nullString(e.PauseReason), nullString(e.Error),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to insert execution: %w", err)
	}

	id, err := res.LastInsertId()
	if err != nil {
		return nil, fmt.Errorf("failed to get last insert id: %w", err)
	}

	return s.Get(ctx, id)
}

// Get retrieves an execution by ID.
func (s *ExecutionStore) Get(ctx context.Context, id int64) (*Execution, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT `+executionColumns+`
		FROM executions
		WHERE id = ?
	`, id)

	return s.scanExecution(row)
}

// ListByRequest returns executions for a request, newest first.
func (s *ExecutionStore) ListByRequest(ctx context.Context, requestID int64) ([]*Execution, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+executionColumns+`
		FROM executions
		WHERE request_id = ?
		ORDER BY started_at DESC, id DESC
	`, requestID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	return s.scanExecutions(rows)
}

// GetLatestByRequest returns the most recent root execution for a request.
func (s *ExecutionStore) GetLatestByRequest(ctx context.Context, requestID int64) (*Execution, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT `+executionColumns+`
		FROM executions
		WHERE request_id = ? AND parent_execution_id IS NULL
		ORDER BY started_at DESC, id DESC
		LIMIT 1
	`, requestID)

	return s.scanExecution(row)
}

// ListUnfinished returns running and paused executions for resume at startup.
func (s *ExecutionStore) ListUnfinished(ctx context.Context) ([]*Execution, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+executionColumns+`
		FROM executions
		WHERE status IN (?, ?)
		ORDER BY started_at ASC, id ASC
	`, ExecutionStatusRunning, ExecutionStatusPaused)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	return s.scanExecutions(rows)
}

// SetCurrentStep records the step an execution is on.
func (s *ExecutionStore) SetCurrentStep(ctx context.Context, id int64, step string) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE executions SET current_step = ?
		WHERE id = ?
	`, nullString(step), id)
	return err
}

// SaveContext persists the merged step context, but only while the execution
// is still running or paused. Finished runs are immutable.
func (s *ExecutionStore) SaveContext(ctx context.Context, id int64, stepContext StepContext) error {
	contextJSON, err := marshalJSONColumn(stepContext, len(stepContext) == 0)
	if err != nil {
		return err
	}

	_, err = s.db.ExecContext(ctx, `
		UPDATE executions SET context = ?
		WHERE id = ? AND status IN (?, ?)
	`, contextJSON, id, ExecutionStatusRunning, ExecutionStatusPaused)
	return err
}

// Pause moves a running execution to paused with a reason. Returns false when
// the execution was not running.
func (s *ExecutionStore) Pause(ctx context.Context, id int64, reason string) (bool, error) {
	res, err := s.db.ExecContext(ctx, `
		UPDATE executions SET status = ?, pause_reason = ?
		WHERE id = ? AND status = ?
	`, ExecutionStatusPaused, nullString(reason), id, ExecutionStatusRunning)
	if err != nil {
		return false, err
	}
	rows, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return rows > 0, nil
}

// Resume moves a paused execution back to running. Returns false when the
// execution was not paused.
func (s *ExecutionStore) Resume(ctx context.Context, id int64) (bool, error) {
	res, err := s.db.ExecContext(ctx, `
		UPDATE executions SET status = ?, pause_reason = NULL
		WHERE id = ? AND status = ?
	`, ExecutionStatusRunning, id, ExecutionStatusPaused)
	if err != nil {
		return false, err
	}
	rows, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return rows > 0, nil
}

// Finish moves an execution to a terminal status, once. Later finish attempts
// are no-ops so concurrent branch completions cannot flap the status.
func (s *ExecutionStore) Finish(ctx context.Context, id int64, status ExecutionStatus, errorMsg string) (bool, error) {
	if !status.IsTerminal() {
		return false, fmt.Errorf("status %q is not terminal", status)
	}

	res, err := s.db.ExecContext(ctx, `
		UPDATE executions SET status = ?, error = ?, finished_at = CURRENT_TIMESTAMP
		WHERE id = ? AND status IN (?, ?)
	`, status, nullString(errorMsg), id, ExecutionStatusRunning, ExecutionStatusPaused)
	if err != nil {
		return false, err
	}
	rows, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return rows > 0, nil
}

// DeleteByRequest removes all executions of a request. Used by reprocess to
// start from a clean slate.
func (s *ExecutionStore) DeleteByRequest(ctx context.Context, requestID int64) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM executions WHERE request_id = ?`, requestID)
	return err
}

func (s *ExecutionStore) scanExecution(row scannable) (*Execution, error) {
	var e Execution
	var stepsJSON string
	var currentStep, contextJSON, pauseReason, errorMsg sql.NullString
	var parentID, episodeItemID sql.NullInt64
	var finishedAt sql.NullTime

	err := row.Scan(
		&e.ID, &e.RequestID, &e.TemplateID, &stepsJSON, &e.Status, &currentStep,
		&parentID, &episodeItemID, &contextJSON, &pauseReason, &errorMsg,
		&e.StartedAt, &finishedAt,
	)
	if err != nil {
		return nil, err
	}

	e.CurrentStep = currentStep.String
	e.PauseReason = pauseReason.String
	e.Error = errorMsg.String
	if parentID.Valid {
		e.ParentExecutionID = &parentID.Int64
	}
	if episodeItemID.Valid {
		e.EpisodeItemID = &episodeItemID.Int64
	}
	if finishedAt.Valid {
		e.FinishedAt = &finishedAt.Time
	}

	if err := unmarshalJSONColumn(sql.NullString{String: stepsJSON, Valid: true}, &e.Steps); err != nil {
		return nil, err
	}
	if err := unmarshalJSONColumn(contextJSON, &e.Context); err != nil {
		return nil, err
	}

	return &e, nil
}

func (s *ExecutionStore) scanExecutions(rows *sql.Rows) ([]*Execution, error) {
	var executions []*Execution

	for rows.Next() {
		e, err := s.scanExecution(rows)
		if err != nil {
			return nil, err
		}
		executions = append(executions, e)
	}

	if err := rows.Err(); err != nil {
		return nil, err
	}

	return executions, nil
}
