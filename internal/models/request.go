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
	"github.com/autobrr/fetcharr/internal/domain"
)

// Request is the top-level user intent: one movie or one set of TV episodes.
// Status and progress are derived from child ProcessingItems and never stored
// here.
type Request struct {
	ID                 int64             `json:"id"`
	MediaType          MediaType         `json:"mediaType"`
	TmdbID             int64             `json:"tmdbId"`
	Title              string            `json:"title"`
	Year               int               `json:"year"`
	RequestedSeasons   []int             `json:"requestedSeasons,omitempty"`
	RequestedEpisodes  []int             `json:"requestedEpisodes,omitempty"`
	Targets            []Target          `json:"targets"`
	SelectedRelease    *Release          `json:"selectedRelease,omitempty"`
	AvailableReleases  []Release         `json:"availableReleases,omitempty"`
	RequiredResolution domain.Resolution `json:"requiredResolution"`
	Subscribed         bool              `json:"subscribed"`
	CancelRequested    bool              `json:"cancelRequested"`
	CreatedAt          time.Time         `json:"createdAt"`
	UpdatedAt          time.Time         `json:"updatedAt"`
	CompletedAt        *time.Time        `json:"completedAt,omitempty"`
}

// RequestStore handles database operations for requests.
type RequestStore struct {
	db dbinterface.Querier
}

// NewRequestStore creates a new RequestStore.
func NewRequestStore(db dbinterface.Querier) *RequestStore {
	return &RequestStore{db: db}
}

const requestColumns = `id, media_type, tmdb_id, title, year,
	requested_seasons, requested_episodes, targets,
	selected_release, available_releases, required_resolution,
	subscribed, cancel_requested, created_at, updated_at, completed_at`

// Create inserts a new request record.
func (s *RequestStore) Create(ctx context.Context, r *Request) (*Request, error) {
	if r == nil {
		return nil, errors.New("request is nil")
	}
	if !r.MediaType.IsValid() {
		return nil, fmt.Errorf("invalid media type %q", r.MediaType)
	}
	if r.TmdbID == 0 {
		return nil, errors.New("tmdb id is required")
	}
	if r.Title == "" {
		return nil, errors.New("title is required")
	}
	if len(r.Targets) == 0 {
		return nil, errors.New("at least one target is required")
	}

	seasonsJSON, err := marshalJSONColumn(r.RequestedSeasons, len(r.RequestedSeasons) == 0)
	if err != nil {
		return nil, err
	}
	episodesJSON, err := marshalJSONColumn(r.RequestedEpisodes, len(r.RequestedEpisodes) == 0)
	if err != nil {
		return nil, err
	}
	targetsJSON, err := marshalJSONColumn(r.Targets, false)
	if err != nil {
		return nil, err
	}
	selectedJSON, err := marshalJSONColumn(r.SelectedRelease, r.SelectedRelease == nil)
	if err != nil {
		return nil, err
	}
	availableJSON, err := marshalJSONColumn(r.AvailableReleases, len(r.AvailableReleases) == 0)
	if err != nil {
		return nil, err
	}

	res, err := s.db.ExecContext(ctx, `
		INSERT INTO requests (
			media_type, tmdb_id, title, year,
			requested_seasons, requested_episodes, targets,
			selected_release, available_releases, required_resolution, subscribed
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`,
		r.MediaType, r.TmdbID, r.Title, r.Year,
		seasonsJSON, episodesJSON, targetsJSON.String,
		selectedJSON, availableJSON, string(r.RequiredResolution), boolToInt(r.Subscribed),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to insert request: %w", err)
	}

	id, err := res.LastInsertId()
	if err != nil {
		return nil, fmt.Errorf("failed to get last insert id: %w", err)
	}

	return s.Get(ctx, id)
}

// Get retrieves a request by ID.
func (s *RequestStore) Get(ctx context.Context, id int64) (*Request, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT `+requestColumns+`
		FROM requests
		WHERE id = ?
	`, id)

	return s.scanRequest(row)
}

// List returns requests sorted by creation time descending.
func (s *RequestStore) List(ctx context.Context, limit, offset int) ([]*Request, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+requestColumns+`
		FROM requests
		ORDER BY created_at DESC
		LIMIT ? OFFSET ?
	`, limit, offset)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	return s.scanRequests(rows)
}

// ListSubscribedTV returns TV requests that monitor for new episodes.
func (s *RequestStore) ListSubscribedTV(ctx context.Context) ([]*Request, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+requestColumns+`
		FROM requests
		WHERE media_type = ? AND subscribed = 1
		ORDER BY created_at DESC
	`, MediaTypeTV)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	return s.scanRequests(rows)
}

// ListStale returns requests not updated since the cutoff. Used by the stuck
// detector together with the items' live statuses.
func (s *RequestStore) ListStale(ctx context.Context, cutoff time.Time) ([]*Request, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+requestColumns+`
		FROM requests
		WHERE updated_at < ?
		ORDER BY updated_at ASC
	`, cutoff.UTC())
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	return s.scanRequests(rows)
}

// SetSelectedRelease pins a release on the request; pass nil to clear.
func (s *RequestStore) SetSelectedRelease(ctx context.Context, id int64, release *Release) error {
	selectedJSON, err := marshalJSONColumn(release, release == nil)
	if err != nil {
		return err
	}

	_, err = s.db.ExecContext(ctx, `
		UPDATE requests SET selected_release = ?, updated_at = CURRENT_TIMESTAMP
		WHERE id = ?
	`, selectedJSON, id)
	return err
}

// SetAvailableReleases stores below-quality candidates; pass nil to clear.
func (s *RequestStore) SetAvailableReleases(ctx context.Context, id int64, releases []Release) error {
	availableJSON, err := marshalJSONColumn(releases, len(releases) == 0)
	if err != nil {
		return err
	}

	_, err = s.db.ExecContext(ctx, `
		UPDATE requests SET available_releases = ?, updated_at = CURRENT_TIMESTAMP
		WHERE id = ?
	`, availableJSON, id)
	return err
}

// SetCancelRequested flips the logical cancel flag steps poll between I/O calls.
func (s *RequestStore) SetCancelRequested(ctx context.Context, id int64, cancelled bool) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE requests SET cancel_requested = ?, updated_at = CURRENT_TIMESTAMP
		WHERE id = ?
	`, boolToInt(cancelled), id)
	return err
}

// SetCompletedAt records the completion timestamp; pass nil to clear on retry.
func (s *RequestStore) SetCompletedAt(ctx context.Context, id int64, completedAt *time.Time) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE requests SET completed_at = ?, updated_at = CURRENT_TIMESTAMP
		WHERE id = ?
	`, nullTime(completedAt), id)
	return err
}

// Touch bumps updated_at so the stuck detector sees forward progress.
func (s *RequestStore) Touch(ctx context.Context, id int64) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE requests SET updated_at = CURRENT_TIMESTAMP WHERE id = ?
	`, id)
	return err
}

// Delete removes a request. Items, downloads, executions and activity logs
// cascade via foreign keys.
func (s *RequestStore) Delete(ctx context.Context, id int64) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM requests WHERE id = ?`, id)
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

func (s *RequestStore) scanRequest(row scannable) (*Request, error) {
	var r Request
	var seasonsJSON, episodesJSON, selectedJSON, availableJSON sql.NullString
	var targetsJSON, requiredResolution string
	var completedAt sql.NullTime

	err := row.Scan(
		&r.ID, &r.MediaType, &r.TmdbID, &r.Title, &r.Year,
		&seasonsJSON, &episodesJSON, &targetsJSON,
		&selectedJSON, &availableJSON, &requiredResolution,
		&r.Subscribed, &r.CancelRequested, &r.CreatedAt, &r.UpdatedAt, &completedAt,
	)
	if err != nil {
		return nil, err
	}

	r.RequiredResolution = domain.Resolution(requiredResolution)
	if completedAt.Valid {
		r.CompletedAt = &completedAt.Time
	}

	if err := unmarshalJSONColumn(seasonsJSON, &r.RequestedSeasons); err != nil {
		return nil, err
	}
	if err := unmarshalJSONColumn(episodesJSON, &r.RequestedEpisodes); err != nil {
		return nil, err
	}
	if err := unmarshalJSONColumn(sql.NullString{String: targetsJSON, Valid: true}, &r.Targets); err != nil {
		return nil, err
	}
	if err := unmarshalJSONColumn(selectedJSON, &r.SelectedRelease); err != nil {
		return nil, err
	}
	if err := unmarshalJSONColumn(availableJSON, &r.AvailableReleases); err != nil {
		return nil, err
	}

	return &r, nil
}

func (s *RequestStore) scanRequests(rows *sql.Rows) ([]*Request, error) {
	var requests []*Request

	for rows.Next() {
		r, err := s.scanRequest(rows)
		if err != nil {
			return nil, err
		}
		requests = append(requests, r)
	}

	if err := rows.Err(); err != nil {
		return nil, err
	}

	return requests, nil
}
