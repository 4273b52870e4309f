// Copyright (c) 2025-2026, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package models

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/autobrr/fetcharr/internal/dbinterface"
)

// ItemKind distinguishes movie items from episode items.
type ItemKind string

const (
	ItemKindMovie   ItemKind = "movie"
	ItemKindEpisode ItemKind = "episode"
)

// ItemStatus is the durable per-item state machine position.
type ItemStatus string

const (
	ItemStatusPending            ItemStatus = "pending"
	ItemStatusSearching          ItemStatus = "searching"
	ItemStatusAwaiting           ItemStatus = "awaiting"
	ItemStatusQualityUnavailable ItemStatus = "quality_unavailable"
	ItemStatusDownloading        ItemStatus = "downloading"
	ItemStatusDownloaded         ItemStatus = "downloaded"
	ItemStatusEncoding           ItemStatus = "encoding"
	ItemStatusEncoded            ItemStatus = "encoded"
	ItemStatusDelivering         ItemStatus = "delivering"
	ItemStatusCompleted          ItemStatus = "completed"
	ItemStatusFailed             ItemStatus = "failed"
	ItemStatusCancelled          ItemStatus = "cancelled"
)

// terminalItemStatuses is the single source of truth for terminal item states.
// They are only re-entered via an explicit retry/reprocess reset.
var terminalItemStatuses = map[ItemStatus]struct{}{
	ItemStatusCompleted: {},
	ItemStatusFailed:    {},
	ItemStatusCancelled: {},
}

// activeItemStatuses are the in-flight stages considered by status aggregation.
var activeItemStatuses = map[ItemStatus]struct{}{
	ItemStatusPending:     {},
	ItemStatusSearching:   {},
	ItemStatusDownloading: {},
	ItemStatusDownloaded:  {},
	ItemStatusEncoding:    {},
	ItemStatusEncoded:     {},
	ItemStatusDelivering:  {},
}

// IsTerminal returns true if the status permits no further transitions.
func (s ItemStatus) IsTerminal() bool {
	_, ok := terminalItemStatuses[s]
	return ok
}

// IsActive returns true if the item is in an in-flight pipeline stage.
func (s ItemStatus) IsActive() bool {
	_, ok := activeItemStatuses[s]
	return ok
}

// StepContext is the opaque mapping steps accrete. It is the source of truth
// for resumable state and is owned exclusively by its ProcessingItem.
type StepContext map[string]any

// ProcessingItem is the pipeline's unit of work: one per movie, one per
// episode for TV.
type ProcessingItem struct {
	ID          int64       `json:"id"`
	RequestID   int64       `json:"requestId"`
	Kind        ItemKind    `json:"kind"`
	Season      *int        `json:"season,omitempty"`
	Episode     *int        `json:"episode,omitempty"`
	AirDate     *time.Time  `json:"airDate,omitempty"`
	Title       string      `json:"title,omitempty"`
	Status      ItemStatus  `json:"status"`
	CurrentStep string      `json:"currentStep,omitempty"`
	StepContext StepContext `json:"stepContext,omitempty"`
	Progress    float64     `json:"progress"`
	Attempts    int         `json:"attempts"`
	MaxAttempts int         `json:"maxAttempts"`
	LastError   string      `json:"lastError,omitempty"`
	NextRetryAt *time.Time  `json:"nextRetryAt,omitempty"`
	DownloadID  *int64      `json:"downloadId,omitempty"`
	EncodeJobID string      `json:"encodeJobId,omitempty"`
	CreatedAt   time.Time   `json:"createdAt"`
	UpdatedAt   time.Time   `json:"updatedAt"`
}

// ProcessingItemStore handles database operations for processing items.
type ProcessingItemStore struct {
	db dbinterface.Querier
}

// NewProcessingItemStore creates a new ProcessingItemStore.
func NewProcessingItemStore(db dbinterface.Querier) *ProcessingItemStore {
	return &ProcessingItemStore{db: db}
}

const itemColumns = `id, request_id, kind, season, episode, air_date, title,
	status, current_step, step_context, progress, attempts, max_attempts,
	last_error, next_retry_at, download_id, encode_job_id, created_at, updated_at`

// Create inserts a single processing item.
func (s *ProcessingItemStore) Create(ctx context.Context, item *ProcessingItem) (*ProcessingItem, error) {
	if item == nil {
		return nil, errors.New("processing item is nil")
	}
	if item.RequestID == 0 {
		return nil, errors.New("request id is required")
	}
	if item.Status == "" {
		item.Status = ItemStatusPending
	}
	if item.MaxAttempts == 0 {
		item.MaxAttempts = 3
	}

	contextJSON, err := marshalJSONColumn(item.StepContext, len(item.StepContext) == 0)
	if err != nil {
		return nil, err
	}

	res, err := s.db.ExecContext(ctx, `
		INSERT INTO processing_items (
			request_id, kind, season, episode, air_date, title,
			status, current_step, step_context, progress, attempts, max_attempts,
			last_error, next_retry_at, download_id, encode_job_id
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`,
		item.RequestID, item.Kind, nullIntFromInt(item.Season), nullIntFromInt(item.Episode),
		nullTime(item.AirDate), nullString(item.Title),
		item.Status, nullString(item.CurrentStep), contextJSON, item.Progress,
		item.Attempts, item.MaxAttempts,
		nullString(item.LastError), nullTime(item.NextRetryAt),
		nullInt64(item.DownloadID), nullString(item.EncodeJobID),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to insert processing item: %w", err)
	}

	id, err := res.LastInsertId()
	if err != nil {
		return nil, fmt.Errorf("failed to get last insert id: %w", err)
	}

	return s.Get(ctx, id)
}

// CreateBatch inserts several processing items in one statement.
func (s *ProcessingItemStore) CreateBatch(ctx context.Context, items []*ProcessingItem) error {
	if len(items) == 0 {
		return nil
	}

	query := dbinterface.BuildQueryWithPlaceholders(`
		INSERT INTO processing_items (
			request_id, kind, season, episode, air_date, title, status, max_attempts, progress
		) VALUES %s`, 9, len(items))

	args := make([]any, 0, len(items)*9)
	for _, item := range items {
		if item.RequestID == 0 {
			return errors.New("request id is required")
		}
		if item.Status == "" {
			item.Status = ItemStatusPending
		}
		if item.MaxAttempts == 0 {
			item.MaxAttempts = 3
		}
		args = append(args,
			item.RequestID, item.Kind, nullIntFromInt(item.Season), nullIntFromInt(item.Episode),
			nullTime(item.AirDate), nullString(item.Title), item.Status, item.MaxAttempts, item.Progress,
		)
	}

	_, err := s.db.ExecContext(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("failed to batch insert processing items: %w", err)
	}
	return nil
}

// Get retrieves a processing item by ID.
func (s *ProcessingItemStore) Get(ctx context.Context, id int64) (*ProcessingItem, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT `+itemColumns+`
		FROM processing_items
		WHERE id = ?
	`, id)

	return s.scanItem(row)
}

// ListByRequest returns all items belonging to a request, episodes in order.
func (s *ProcessingItemStore) ListByRequest(ctx context.Context, requestID int64) ([]*ProcessingItem, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+itemColumns+`
		FROM processing_items
		WHERE request_id = ?
		ORDER BY season, episode, id
	`, requestID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	return s.scanItems(rows)
}

// ListByDownload returns all items fed by the given download.
func (s *ProcessingItemStore) ListByDownload(ctx context.Context, downloadID int64) ([]*ProcessingItem, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+itemColumns+`
		FROM processing_items
		WHERE download_id = ?
		ORDER BY season, episode, id
	`, downloadID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	return s.scanItems(rows)
}

// ListRetryable returns awaiting/quality_unavailable items whose retry time
// has arrived.
func (s *ProcessingItemStore) ListRetryable(ctx context.Context, now time.Time) ([]*ProcessingItem, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+itemColumns+`
		FROM processing_items
		WHERE status IN (?, ?) AND (next_retry_at IS NULL OR next_retry_at <= ?)
		ORDER BY request_id, id
	`, ItemStatusAwaiting, ItemStatusQualityUnavailable, now.UTC())
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	return s.scanItems(rows)
}

// TransitionStatus sets status only when the current status is one of from.
// Returns false when the conditional write matched no row, which means a
// concurrent writer got there first.
func (s *ProcessingItemStore) TransitionStatus(ctx context.Context, id int64, from []ItemStatus, to ItemStatus) (bool, error) {
	if len(from) == 0 {
		return false, errors.New("transition requires at least one source status")
	}

	placeholders := strings.TrimSuffix(strings.Repeat("?, ", len(from)), ", ")
	args := []any{to, id}
	for _, f := range from {
		args = append(args, f)
	}

	res, err := s.db.ExecContext(ctx, `
		UPDATE processing_items SET status = ?, updated_at = CURRENT_TIMESTAMP
		WHERE id = ? AND status IN (`+placeholders+`)
	`, args...)
	if err != nil {
		return false, err
	}
	rows, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return rows > 0, nil
}

// SetStatus updates status plus the optional error message. Terminal states
// must be left via an explicit reset, so the write is conditional on the
// current status not being terminal.
func (s *ProcessingItemStore) SetStatus(ctx context.Context, id int64, status ItemStatus, errorMsg string) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE processing_items SET status = ?, last_error = ?, updated_at = CURRENT_TIMESTAMP
		WHERE id = ? AND status NOT IN (?, ?, ?)
	`, status, nullString(errorMsg), id, ItemStatusCompleted, ItemStatusFailed, ItemStatusCancelled)
	return err
}

// ResetToPending re-arms an item from any state. Used by retry, reprocess and
// accept-lower-quality commands.
func (s *ProcessingItemStore) ResetToPending(ctx context.Context, id int64) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE processing_items SET
			status = ?, progress = 0, last_error = NULL, next_retry_at = NULL,
			updated_at = CURRENT_TIMESTAMP
		WHERE id = ?
	`, ItemStatusPending, id)
	return err
}

// SetStepContext persists the accreted step context for an item.
func (s *ProcessingItemStore) SetStepContext(ctx context.Context, id int64, stepContext StepContext) error {
	contextJSON, err := marshalJSONColumn(stepContext, len(stepContext) == 0)
	if err != nil {
		return err
	}

	_, err = s.db.ExecContext(ctx, `
		UPDATE processing_items SET step_context = ?, updated_at = CURRENT_TIMESTAMP
		WHERE id = ?
	`, contextJSON, id)
	return err
}

// ClearStepContext removes accreted state during an explicit reset.
func (s *ProcessingItemStore) ClearStepContext(ctx context.Context, id int64) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE processing_items SET step_context = NULL, updated_at = CURRENT_TIMESTAMP
		WHERE id = ?
	`, id)
	return err
}

// SetProgress updates the displayed progress for an item.
func (s *ProcessingItemStore) SetProgress(ctx context.Context, id int64, progress float64) error {
	if progress < 0 {
		progress = 0
	}
	if progress > 100 {
		progress = 100
	}
	_, err := s.db.ExecContext(ctx, `
		UPDATE processing_items SET progress = ?, updated_at = CURRENT_TIMESTAMP
		WHERE id = ?
	`, progress, id)
	return err
}

// SetCurrentStep records which step owns the item right now.
func (s *ProcessingItemStore) SetCurrentStep(ctx context.Context, id int64, step string) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE processing_items SET current_step = ?, updated_at = CURRENT_TIMESTAMP
		WHERE id = ?
	`, nullString(step), id)
	return err
}

// SetDownloadID links (or unlinks, with nil) an item to a download.
func (s *ProcessingItemStore) SetDownloadID(ctx context.Context, id int64, downloadID *int64) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE processing_items SET download_id = ?, updated_at = CURRENT_TIMESTAMP
		WHERE id = ?
	`, nullInt64(downloadID), id)
	return err
}

// SetEncodeJobID links an item to its encoder pool job.
func (s *ProcessingItemStore) SetEncodeJobID(ctx context.Context, id int64, jobID string) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE processing_items SET encode_job_id = ?, updated_at = CURRENT_TIMESTAMP
		WHERE id = ?
	`, nullString(jobID), id)
	return err
}

// SetNextRetryAt schedules when the retry sweep may re-arm the item.
func (s *ProcessingItemStore) SetNextRetryAt(ctx context.Context, id int64, at *time.Time) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE processing_items SET next_retry_at = ?, updated_at = CURRENT_TIMESTAMP
		WHERE id = ?
	`, nullTime(at), id)
	return err
}

// IncrementAttempts bumps the attempt counter and records the error.
func (s *ProcessingItemStore) IncrementAttempts(ctx context.Context, id int64, errorMsg string) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE processing_items SET attempts = attempts + 1, last_error = ?, updated_at = CURRENT_TIMESTAMP
		WHERE id = ?
	`, nullString(errorMsg), id)
	return err
}

// ClearErrors wipes lastError on every item of a request. Called when an
// execution starts so stale errors do not linger in the UI.
func (s *ProcessingItemStore) ClearErrors(ctx context.Context, requestID int64) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE processing_items SET last_error = NULL, updated_at = CURRENT_TIMESTAMP
		WHERE request_id = ?
	`, requestID)
	return err
}

// CancelNonTerminal transitions every non-terminal item of a request to
// cancelled. Returns the number of items affected.
func (s *ProcessingItemStore) CancelNonTerminal(ctx context.Context, requestID int64, reason string) (int64, error) {
	res, err := s.db.ExecContext(ctx, `
		UPDATE processing_items SET status = ?, last_error = ?, updated_at = CURRENT_TIMESTAMP
		WHERE request_id = ? AND status NOT IN (?, ?, ?)
	`, ItemStatusCancelled, nullString(reason), requestID,
		ItemStatusCompleted, ItemStatusFailed, ItemStatusCancelled)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

func (s *ProcessingItemStore) scanItem(row scannable) (*ProcessingItem, error) {
	var item ProcessingItem
	var season, episode, downloadID sql.NullInt64
	var airDate, nextRetryAt sql.NullTime
	var title, currentStep, contextJSON, lastError, encodeJobID sql.NullString

	err := row.Scan(
		&item.ID, &item.RequestID, &item.Kind, &season, &episode, &airDate, &title,
		&item.Status, &currentStep, &contextJSON, &item.Progress,
		&item.Attempts, &item.MaxAttempts,
		&lastError, &nextRetryAt, &downloadID, &encodeJobID,
		&item.CreatedAt, &item.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	if season.Valid {
		v := int(season.Int64)
		item.Season = &v
	}
	if episode.Valid {
		v := int(episode.Int64)
		item.Episode = &v
	}
	if airDate.Valid {
		item.AirDate = &airDate.Time
	}
	if nextRetryAt.Valid {
		item.NextRetryAt = &nextRetryAt.Time
	}
	if downloadID.Valid {
		item.DownloadID = &downloadID.Int64
	}
	item.Title = title.String
	item.CurrentStep = currentStep.String
	item.LastError = lastError.String
	item.EncodeJobID = encodeJobID.String

	if err := unmarshalJSONColumn(contextJSON, &item.StepContext); err != nil {
		return nil, err
	}

	return &item, nil
}

func (s *ProcessingItemStore) scanItems(rows *sql.Rows) ([]*ProcessingItem, error) {
	var items []*ProcessingItem

	for rows.Next() {
		item, err := s.scanItem(rows)
		if err != nil {
			return nil, err
		}
		items = append(items, item)
	}

	if err := rows.Err(); err != nil {
		return nil, err
	}

	return items, nil
}
