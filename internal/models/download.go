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

// DownloadStatus mirrors the torrent client lifecycle plus our own
// post-download phases.
type DownloadStatus string

const (
	DownloadStatusPending     DownloadStatus = "pending"
	DownloadStatusDownloading DownloadStatus = "downloading"
	DownloadStatusCompleted   DownloadStatus = "completed"
	DownloadStatusImporting   DownloadStatus = "importing"
	DownloadStatusProcessed   DownloadStatus = "processed"
	DownloadStatusFailed      DownloadStatus = "failed"
	DownloadStatusCancelled   DownloadStatus = "cancelled"
)

// IsTerminal reports whether the download needs no further reconciliation.
func (s DownloadStatus) IsTerminal() bool {
	switch s {
	case DownloadStatusProcessed, DownloadStatusFailed, DownloadStatusCancelled:
		return true
	}
	return false
}

// Download tracks one torrent from grab to import. The torrent hash is the
// stable key for reconciliation against the client; alternatives hold the
// fallback releases to try if this one stalls out.
type Download struct {
	ID             int64          `json:"id"`
	RequestID      int64          `json:"requestId"`
	TorrentHash    string         `json:"torrentHash"`
	Name           string         `json:"name"`
	SavePath       string         `json:"savePath,omitempty"`
	ContentPath    string         `json:"contentPath,omitempty"`
	Status         DownloadStatus `json:"status"`
	Progress       float64        `json:"progress"`
	Seeds          int            `json:"seeds"`
	Peers          int            `json:"peers"`
	Size           int64          `json:"size"`
	Speed          int64          `json:"speed"`
	Alternatives   []Release      `json:"alternatives,omitempty"`
	Error          string         `json:"error,omitempty"`
	LastProgressAt *time.Time     `json:"lastProgressAt,omitempty"`
	CreatedAt      time.Time      `json:"createdAt"`
	UpdatedAt      time.Time      `json:"updatedAt"`
}

// DownloadStore handles database operations for downloads.
type DownloadStore struct {
	db dbinterface.Querier
}

// NewDownloadStore creates a new DownloadStore.
func NewDownloadStore(db dbinterface.Querier) *DownloadStore {
	return &DownloadStore{db: db}
}

const downloadColumns = `id, request_id, torrent_hash, name, save_path, content_path,
	status, progress, seeds, peers, size, speed, alternatives, error,
	last_progress_at, created_at, updated_at`

// Create inserts a download record. The unique torrent_hash constraint makes
// re-grabbing the same torrent a conflict the caller can treat as idempotent
// via GetByHash.
func (s *DownloadStore) Create(ctx context.Context, d *Download) (*Download, error) {
	if d == nil {
		return nil, errors.New("download is nil")
	}
	if d.RequestID == 0 {
		return nil, errors.New("request id is required")
	}
	if d.TorrentHash == "" {
		return nil, errors.New("torrent hash is required")
	}
	if d.Status == "" {
		d.Status = DownloadStatusPending
	}

	alternativesJSON, err := marshalJSONColumn(d.Alternatives, len(d.Alternatives) == 0)
	if err != nil {
		return nil, err
	}

	res, err := s.db.ExecContext(ctx, `
		INSERT INTO downloads (
			request_id, torrent_hash, name, save_path, content_path,
			status, progress, seeds, peers, size, speed, alternatives, error
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`,
		d.RequestID, d.TorrentHash, d.Name, nullString(d.SavePath), nullString(d.ContentPath),
		d.Status, d.Progress, d.Seeds, d.Peers, d.Size, d.Speed,
		alternativesJSON, nullString(d.Error),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to insert download: %w", err)
	}

	id, err := res.LastInsertId()
	if err != nil {
		return nil, fmt.Errorf("failed to get last insert id: %w", err)
	}

	return s.Get(ctx, id)
}

// Get retrieves a download by ID.
func (s *DownloadStore) Get(ctx context.Context, id int64) (*Download, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT `+downloadColumns+`
		FROM downloads
		WHERE id = ?
	`, id)

	return s.scanDownload(row)
}

// GetByHash retrieves a download by its torrent hash.
func (s *DownloadStore) GetByHash(ctx context.Context, hash string) (*Download, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT `+downloadColumns+`
		FROM downloads
		WHERE torrent_hash = ?
	`, hash)

	return s.scanDownload(row)
}

// ListByRequest returns all downloads of a request, newest first.
func (s *DownloadStore) ListByRequest(ctx context.Context, requestID int64) ([]*Download, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+downloadColumns+`
		FROM downloads
		WHERE request_id = ?
		ORDER BY created_at DESC
	`, requestID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	return s.scanDownloads(rows)
}

// ListActive returns downloads the reconciler still needs to poll.
func (s *DownloadStore) ListActive(ctx context.Context) ([]*Download, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+downloadColumns+`
		FROM downloads
		WHERE status IN (?, ?, ?, ?)
		ORDER BY created_at ASC
	`, DownloadStatusPending, DownloadStatusDownloading, DownloadStatusCompleted, DownloadStatusImporting)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	return s.scanDownloads(rows)
}

// UpdateTransferState writes the client-reported transfer metrics. The
// last_progress_at timestamp only advances when progressed is true so the
// stall window measures real forward movement.
func (s *DownloadStore) UpdateTransferState(ctx context.Context, id int64, progress float64, seeds, peers int, speed int64, progressed bool) error {
	if progressed {
		_, err := s.db.ExecContext(ctx, `
			UPDATE downloads SET progress = ?, seeds = ?, peers = ?, speed = ?,
				last_progress_at = CURRENT_TIMESTAMP, updated_at = CURRENT_TIMESTAMP
			WHERE id = ?
		`, progress, seeds, peers, speed, id)
		return err
	}
	_, err := s.db.ExecContext(ctx, `
		UPDATE downloads SET progress = ?, seeds = ?, peers = ?, speed = ?,
			updated_at = CURRENT_TIMESTAMP
		WHERE id = ?
	`, progress, seeds, peers, speed, id)
	return err
}

// SetStatus updates the download lifecycle status and error text.
func (s *DownloadStore) SetStatus(ctx context.Context, id int64, status DownloadStatus, errorMsg string) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE downloads SET status = ?, error = ?, updated_at = CURRENT_TIMESTAMP
		WHERE id = ?
	`, status, nullString(errorMsg), id)
	return err
}

// TransitionStatus sets status only when the current status matches from.
// Returns false when another writer already moved the download on.
func (s *DownloadStore) TransitionStatus(ctx context.Context, id int64, from, to DownloadStatus) (bool, error) {
	res, err := s.db.ExecContext(ctx, `
		UPDATE downloads SET status = ?, updated_at = CURRENT_TIMESTAMP
		WHERE id = ? AND status = ?
	`, to, id, from)
	if err != nil {
		return false, err
	}
	rows, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return rows > 0, nil
}

// SetPaths records where the client put the payload once it is known.
func (s *DownloadStore) SetPaths(ctx context.Context, id int64, savePath, contentPath string) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE downloads SET save_path = ?, content_path = ?, updated_at = CURRENT_TIMESTAMP
		WHERE id = ?
	`, nullString(savePath), nullString(contentPath), id)
	return err
}

// SetSize records the total payload size reported by the client.
func (s *DownloadStore) SetSize(ctx context.Context, id int64, size int64) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE downloads SET size = ?, updated_at = CURRENT_TIMESTAMP
		WHERE id = ?
	`, size, id)
	return err
}

// SetAlternatives replaces the fallback release list; pass nil to clear.
func (s *DownloadStore) SetAlternatives(ctx context.Context, id int64, alternatives []Release) error {
	alternativesJSON, err := marshalJSONColumn(alternatives, len(alternatives) == 0)
	if err != nil {
		return err
	}

	_, err = s.db.ExecContext(ctx, `
		UPDATE downloads SET alternatives = ?, updated_at = CURRENT_TIMESTAMP
		WHERE id = ?
	`, alternativesJSON, id)
	return err
}

// Delete removes a download record.
func (s *DownloadStore) Delete(ctx context.Context, id int64) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM downloads WHERE id = ?`, id)
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

func (s *DownloadStore) scanDownload(row scannable) (*Download, error) {
	var d Download
	var savePath, contentPath, alternativesJSON, errorMsg sql.NullString
	var lastProgressAt sql.NullTime

	err := row.Scan(
		&d.ID, &d.RequestID, &d.TorrentHash, &d.Name, &savePath, &contentPath,
		&d.Status, &d.Progress, &d.Seeds, &d.Peers, &d.Size, &d.Speed,
		&alternativesJSON, &errorMsg,
		&lastProgressAt, &d.CreatedAt, &d.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	d.SavePath = savePath.String
	d.ContentPath = contentPath.String
	d.Error = errorMsg.String
	if lastProgressAt.Valid {
		d.LastProgressAt = &lastProgressAt.Time
	}

	if err := unmarshalJSONColumn(alternativesJSON, &d.Alternatives); err != nil {
		return nil, err
	}

	return &d, nil
}

func (s *DownloadStore) scanDownloads(rows *sql.Rows) ([]*Download, error) {
	var downloads []*Download

	for rows.Next() {
		d, err := s.scanDownload(rows)
		if err != nil {
			return nil, err
		}
		downloads = append(downloads, d)
	}

	if err := rows.Err(); err != nil {
		return nil, err
	}

	return downloads, nil
}
