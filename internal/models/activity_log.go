// Copyright (c) 2025-2026, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package models

import (
	"context"
	"database/sql"
	"time"

	"github.com/autobrr/fetcharr/internal/dbinterface"
)

// Activity event names. Kept as plain strings in the table so new events need
// no migration.
const (
	EventRequestCreated    = "request.created"
	EventRequestCancelled  = "request.cancelled"
	EventRequestRetried    = "request.retried"
	EventRequestCompleted  = "request.completed"
	EventReleaseSelected   = "release.selected"
	EventReleaseApproved   = "release.approved"
	EventQualityShortfall  = "release.quality_shortfall"
	EventDownloadStarted   = "download.started"
	EventDownloadCompleted = "download.completed"
	EventDownloadStalled   = "download.stalled"
	EventDownloadSwitched  = "download.switched"
	EventEncodeStarted     = "encode.started"
	EventEncodeCompleted   = "encode.completed"
	EventEncodeFailed      = "encode.failed"
	EventRemuxFailed       = "encode.remux_failed"
	EventDeliveryStarted   = "delivery.started"
	EventDeliveryCompleted = "delivery.completed"
	EventItemFailed        = "item.failed"
	EventItemStuck         = "item.stuck"
	EventEpisodeDiscovered = "episode.discovered"
)

// ActivityLog is one append-only feed entry for a request's timeline.
type ActivityLog struct {
	ID        int64          `json:"id"`
	RequestID int64          `json:"requestId"`
	Event     string         `json:"event"`
	Message   string         `json:"message"`
	Details   map[string]any `json:"details,omitempty"`
	CreatedAt time.Time      `json:"createdAt"`
}

// ActivityLogStore handles database operations for the activity feed.
type ActivityLogStore struct {
	db dbinterface.Querier
}

// NewActivityLogStore creates a new ActivityLogStore.
func NewActivityLogStore(db dbinterface.Querier) *ActivityLogStore {
	return &ActivityLogStore{db: db}
}

// Append records one feed entry. Details may be nil.
func (s *ActivityLogStore) Append(ctx context.Context, requestID int64, event, message string, details map[string]any) error {
	detailsJSON, err := marshalJSONColumn(details, len(details) == 0)
	if err != nil {
		return err
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO activity_logs (request_id, event, message, details)
		VALUES (?, ?, ?, ?)
	`, requestID, event, message, detailsJSON)
	return err
}

// ListByRequest returns a request's feed, newest first.
func (s *ActivityLogStore) ListByRequest(ctx context.Context, requestID int64, limit int) ([]*ActivityLog, error) {
	if limit <= 0 {
		limit = 100
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT id, request_id, event, message, details, created_at
		FROM activity_logs
		WHERE request_id = ?
		ORDER BY created_at DESC, id DESC
		LIMIT ?
	`, requestID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	return s.scanLogs(rows)
}

// ListRecent returns the global feed across requests, newest first.
func (s *ActivityLogStore) ListRecent(ctx context.Context, limit int) ([]*ActivityLog, error) {
	if limit <= 0 {
		limit = 100
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT id, request_id, event, message, details, created_at
		FROM activity_logs
		ORDER BY created_at DESC, id DESC
		LIMIT ?
	`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	return s.scanLogs(rows)
}

// Prune removes feed entries older than the cutoff. Returns rows removed.
func (s *ActivityLogStore) Prune(ctx context.Context, cutoff time.Time) (int64, error) {
	res, err := s.db.ExecContext(ctx, `
		DELETE FROM activity_logs WHERE created_at < ?
	`, cutoff.UTC())
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

func (s *ActivityLogStore) scanLogs(rows *sql.Rows) ([]*ActivityLog, error) {
	var logs []*ActivityLog

	for rows.Next() {
		var l ActivityLog
		var detailsJSON sql.NullString

		if err := rows.Scan(&l.ID, &l.RequestID, &l.Event, &l.Message, &detailsJSON, &l.CreatedAt); err != nil {
			return nil, err
		}
		if err := unmarshalJSONColumn(detailsJSON, &l.Details); err != nil {
			return nil, err
		}
		logs = append(logs, &l)
	}

	if err := rows.Err(); err != nil {
		return nil, err
	}

	return logs, nil
}
