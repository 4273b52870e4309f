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

// AssignmentStatus is the encoder pool job lifecycle as we observe it.
type AssignmentStatus string

const (
	AssignmentStatusQueued    AssignmentStatus = "queued"
	AssignmentStatusEncoding  AssignmentStatus = "encoding"
	AssignmentStatusCompleted AssignmentStatus = "completed"
	AssignmentStatusFailed    AssignmentStatus = "failed"
	AssignmentStatusCancelled AssignmentStatus = "cancelled"
)

// IsTerminal reports whether the assignment needs no further polling.
func (s AssignmentStatus) IsTerminal() bool {
	switch s {
	case AssignmentStatusCompleted, AssignmentStatusFailed, AssignmentStatusCancelled:
		return true
	}
	return false
}

// EncoderAssignment tracks one encoder pool job. JobID carries the idempotency
// token ("encode:<itemId>") so a crashed submit never queues a duplicate.
type EncoderAssignment struct {
	ID             int64            `json:"id"`
	JobID          string           `json:"jobId"`
	RequestID      int64            `json:"requestId"`
	ItemID         int64            `json:"itemId"`
	ProfileID      int64            `json:"profileId"`
	SourcePath     string           `json:"sourcePath"`
	OutputPath     string           `json:"outputPath,omitempty"`
	Status         AssignmentStatus `json:"status"`
	Progress       float64          `json:"progress"`
	Reason         string           `json:"reason,omitempty"`
	LastProgressAt *time.Time       `json:"lastProgressAt,omitempty"`
	CreatedAt      time.Time        `json:"createdAt"`
	UpdatedAt      time.Time        `json:"updatedAt"`
}

// EncoderAssignmentStore handles database operations for encoder assignments.
type EncoderAssignmentStore struct {
	db dbinterface.Querier
}

// NewEncoderAssignmentStore creates a new EncoderAssignmentStore.
func NewEncoderAssignmentStore(db dbinterface.Querier) *EncoderAssignmentStore {
	return &EncoderAssignmentStore{db: db}
}

const assignmentColumns = `id, job_id, request_id, item_id, profile_id,
	source_path, output_path, status, progress, reason,
	last_progress_at, created_at, updated_at`

// CreateIfAbsent inserts an assignment unless one with the same job id already
// exists, and returns the stored row either way. This is the idempotent
// submit path.
func (s *EncoderAssignmentStore) CreateIfAbsent(ctx context.Context, a *EncoderAssignment) (*EncoderAssignment, error) {
	if a == nil {
		return nil, errors.New("assignment is nil")
	}
	if a.JobID == "" {
		return nil, errors.New("job id is required")
	}
	if a.RequestID == 0 || a.ItemID == 0 {
		return nil, errors.New("request id and item id are required")
	}
	if a.Status == "" {
		a.Status = AssignmentStatusQueued
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO encoder_assignments (
			job_id, request_id, item_id, profile_id, source_path, output_path, status, progress
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (job_id) DO NOTHING
	`,
		a.JobID, a.RequestID, a.ItemID, a.ProfileID,
		a.SourcePath, nullString(a.OutputPath), a.Status, a.Progress,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to insert encoder assignment: %w", err)
	}

	return s.GetByJobID(ctx, a.JobID)
}

// Get retrieves an assignment by ID.
func (s *EncoderAssignmentStore) Get(ctx context.Context, id int64) (*EncoderAssignment, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT `+assignmentColumns+`
		FROM encoder_assignments
		WHERE id = ?
	`, id)

	return s.scanAssignment(row)
}

// GetByJobID retrieves an assignment by its encoder pool job id.
func (s *EncoderAssignmentStore) GetByJobID(ctx context.Context, jobID string) (*EncoderAssignment, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT `+assignmentColumns+`
		FROM encoder_assignments
		WHERE job_id = ?
	`, jobID)

	return s.scanAssignment(row)
}

// ListByRequest returns a request's assignments, oldest first.
func (s *EncoderAssignmentStore) ListByRequest(ctx context.Context, requestID int64) ([]*EncoderAssignment, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+assignmentColumns+`
		FROM encoder_assignments
		WHERE request_id = ?
		ORDER BY created_at ASC, id ASC
	`, requestID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	return s.scanAssignments(rows)
}

// ListActive returns assignments still queued or encoding.
func (s *EncoderAssignmentStore) ListActive(ctx context.Context) ([]*EncoderAssignment, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+assignmentColumns+`
		FROM encoder_assignments
		WHERE status IN (?, ?)
		ORDER BY created_at ASC, id ASC
	`, AssignmentStatusQueued, AssignmentStatusEncoding)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	return s.scanAssignments(rows)
}

// ListStalled returns active assignments without progress since the cutoff.
func (s *EncoderAssignmentStore) ListStalled(ctx context.Context, cutoff time.Time) ([]*EncoderAssignment, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+assignmentColumns+`
		FROM encoder_assignments
		WHERE status IN (?, ?)
			AND COALESCE(last_progress_at, created_at) < ?
		ORDER BY created_at ASC, id ASC
	`, AssignmentStatusQueued, AssignmentStatusEncoding, cutoff.UTC())
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	return s.scanAssignments(rows)
}

// UpdateProgress writes pool-reported progress and advances last_progress_at
// only when the number moved.
func (s *EncoderAssignmentStore) UpdateProgress(ctx context.Context, id int64, progress float64, progressed bool) error {
	if progressed {
		_, err := s.db.ExecContext(ctx, `
			UPDATE encoder_assignments SET progress = ?, status = ?,
				last_progress_at = CURRENT_TIMESTAMP, updated_at = CURRENT_TIMESTAMP
			WHERE id = ?
		`, progress, AssignmentStatusEncoding, id)
		return err
	}
	_, err := s.db.ExecContext(ctx, `
		UPDATE encoder_assignments SET progress = ?, updated_at = CURRENT_TIMESTAMP
		WHERE id = ?
	`, progress, id)
	return err
}

// Finish moves an assignment to a terminal status with the pool's reason and
// the produced output path.
func (s *EncoderAssignmentStore) Finish(ctx context.Context, id int64, status AssignmentStatus, outputPath, reason string) error {
	if !status.IsTerminal() {
		return fmt.Errorf("status %q is not terminal", status)
	}

	_, err := s.db.ExecContext(ctx, `
		UPDATE encoder_assignments SET status = ?, output_path = ?, reason = ?,
			updated_at = CURRENT_TIMESTAMP
		WHERE id = ?
	`, status, nullString(outputPath), nullString(reason), id)
	return err
}

// CancelForRequest marks every active assignment of a request cancelled and
// returns the affected job ids so the caller can tell the pool.
func (s *EncoderAssignmentStore) CancelForRequest(ctx context.Context, requestID int64, reason string) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT job_id FROM encoder_assignments
		WHERE request_id = ? AND status IN (?, ?)
	`, requestID, AssignmentStatusQueued, AssignmentStatusEncoding)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var jobIDs []string
	for rows.Next() {
		var jobID string
		if err := rows.Scan(&jobID); err != nil {
			return nil, err
		}
		jobIDs = append(jobIDs, jobID)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	if len(jobIDs) == 0 {
		return nil, nil
	}

	_, err = s.db.ExecContext(ctx, `
		UPDATE encoder_assignments SET status = ?, reason = ?, updated_at = CURRENT_TIMESTAMP
		WHERE request_id = ? AND status IN (?, ?)
	`, AssignmentStatusCancelled, nullString(reason), requestID,
		AssignmentStatusQueued, AssignmentStatusEncoding)
	if err != nil {
		return nil, err
	}

	return jobIDs, nil
}

func (s *EncoderAssignmentStore) scanAssignment(row scannable) (*EncoderAssignment, error) {
	var a EncoderAssignment
	var outputPath, reason sql.NullString
	var lastProgressAt sql.NullTime

	err := row.Scan(
		&a.ID, &a.JobID, &a.RequestID, &a.ItemID, &a.ProfileID,
		&a.SourcePath, &outputPath, &a.Status, &a.Progress, &reason,
		&lastProgressAt, &a.CreatedAt, &a.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	a.OutputPath = outputPath.String
	a.Reason = reason.String
	if lastProgressAt.Valid {
		a.LastProgressAt = &lastProgressAt.Time
	}

	return &a, nil
}

func (s *EncoderAssignmentStore) scanAssignments(rows *sql.Rows) ([]*EncoderAssignment, error) {
	var assignments []*EncoderAssignment

	for rows.Next() {
		a, err := s.scanAssignment(rows)
		if err != nil {
			return nil, err
		}
		assignments = append(assignments, a)
	}

	if err := rows.Err(); err != nil {
		return nil, err
	}

	return assignments, nil
}
