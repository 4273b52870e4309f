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

// LibraryEntry records that a title is already present on a storage server.
// Movie entries use the title-level table; TV presence is tracked per episode
// in episode_library_items.
type LibraryEntry struct {
	TmdbID        int64     `json:"tmdbId"`
	MediaType     MediaType `json:"mediaType"`
	ServerID      int64     `json:"serverId"`
	DeliveredPath string    `json:"deliveredPath,omitempty"`
	UpdatedAt     time.Time `json:"updatedAt"`
}

// EpisodeLibraryItem records one episode present on a storage server.
type EpisodeLibraryItem struct {
	TmdbID    int64     `json:"tmdbId"`
	Season    int       `json:"season"`
	Episode   int       `json:"episode"`
	ServerID  int64     `json:"serverId"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// LibraryCacheStore handles database operations for the library presence cache.
type LibraryCacheStore struct {
	db dbinterface.Querier
}

// NewLibraryCacheStore creates a new LibraryCacheStore.
func NewLibraryCacheStore(db dbinterface.Querier) *LibraryCacheStore {
	return &LibraryCacheStore{db: db}
}

// Upsert records (or refreshes) title-level presence on a server.
func (s *LibraryCacheStore) Upsert(ctx context.Context, e *LibraryEntry) error {
	if e == nil {
		return errors.New("library entry is nil")
	}
	if !e.MediaType.IsValid() {
		return errors.New("invalid media type")
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO library_cache (tmdb_id, media_type, server_id, delivered_path, updated_at)
		VALUES (?, ?, ?, ?, CURRENT_TIMESTAMP)
		ON CONFLICT (tmdb_id, media_type, server_id) DO UPDATE SET
			delivered_path = excluded.delivered_path,
			updated_at = CURRENT_TIMESTAMP
	`, e.TmdbID, e.MediaType, e.ServerID, nullString(e.DeliveredPath))
	return err
}

// Has reports whether the title is present on the given server.
func (s *LibraryCacheStore) Has(ctx context.Context, tmdbID int64, mediaType MediaType, serverID int64) (bool, error) {
	var one int
	err := s.db.QueryRowContext(ctx, `
		SELECT 1 FROM library_cache
		WHERE tmdb_id = ? AND media_type = ? AND server_id = ?
	`, tmdbID, mediaType, serverID).Scan(&one)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

// ListByServer returns all cached titles for a server.
func (s *LibraryCacheStore) ListByServer(ctx context.Context, serverID int64) ([]*LibraryEntry, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT tmdb_id, media_type, server_id, delivered_path, updated_at
		FROM library_cache
		WHERE server_id = ?
		ORDER BY tmdb_id
	`, serverID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var entries []*LibraryEntry
	for rows.Next() {
		var e LibraryEntry
		var deliveredPath sql.NullString
		if err := rows.Scan(&e.TmdbID, &e.MediaType, &e.ServerID, &deliveredPath, &e.UpdatedAt); err != nil {
			return nil, err
		}
		e.DeliveredPath = deliveredPath.String
		entries = append(entries, &e)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return entries, nil
}

// Delete removes title-level presence, e.g. after a manual library prune.
func (s *LibraryCacheStore) Delete(ctx context.Context, tmdbID int64, mediaType MediaType, serverID int64) error {
	_, err := s.db.ExecContext(ctx, `
		DELETE FROM library_cache
		WHERE tmdb_id = ? AND media_type = ? AND server_id = ?
	`, tmdbID, mediaType, serverID)
	return err
}

// UpsertEpisode records one episode as present on a server.
func (s *LibraryCacheStore) UpsertEpisode(ctx context.Context, tmdbID int64, season, episode int, serverID int64) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO episode_library_items (tmdb_id, season, episode, server_id, updated_at)
		VALUES (?, ?, ?, ?, CURRENT_TIMESTAMP)
		ON CONFLICT (tmdb_id, season, episode, server_id) DO UPDATE SET
			updated_at = CURRENT_TIMESTAMP
	`, tmdbID, season, episode, serverID)
	return err
}

// HasEpisode reports whether the episode is present on the given server.
func (s *LibraryCacheStore) HasEpisode(ctx context.Context, tmdbID int64, season, episode int, serverID int64) (bool, error) {
	var one int
	err := s.db.QueryRowContext(ctx, `
		SELECT 1 FROM episode_library_items
		WHERE tmdb_id = ? AND season = ? AND episode = ? AND server_id = ?
	`, tmdbID, season, episode, serverID).Scan(&one)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

// ListEpisodes returns the episodes of a show present on a server, keyed
// "S<season>E<episode>" for quick membership checks.
func (s *LibraryCacheStore) ListEpisodes(ctx context.Context, tmdbID, serverID int64) (map[string]struct{}, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT season, episode FROM episode_library_items
		WHERE tmdb_id = ? AND server_id = ?
	`, tmdbID, serverID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	present := make(map[string]struct{})
	for rows.Next() {
		var season, episode int
		if err := rows.Scan(&season, &episode); err != nil {
			return nil, err
		}
		present[EpisodeKey(season, episode)] = struct{}{}
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return present, nil
}

// EpisodeKey builds the canonical map key for an episode.
func EpisodeKey(season, episode int) string {
	return fmt.Sprintf("S%02dE%02d", season, episode)
}
