// Copyright (c) 2025-2026, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package models

import (
	"database/sql"
	"testing"

	"github.com/stretchr/testify/require"
	_ "modernc.org/sqlite"
)

// modelSchema mirrors the initial migration closely enough for store tests.
const modelSchema = `
	CREATE TABLE requests (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		media_type TEXT NOT NULL,
		tmdb_id INTEGER NOT NULL,
		title TEXT NOT NULL,
		year INTEGER NOT NULL DEFAULT 0,
		requested_seasons TEXT,
		requested_episodes TEXT,
		targets TEXT NOT NULL,
		selected_release TEXT,
		available_releases TEXT,
		required_resolution TEXT NOT NULL DEFAULT '1080p',
		subscribed INTEGER NOT NULL DEFAULT 0,
		cancel_requested INTEGER NOT NULL DEFAULT 0,
		created_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP,
		updated_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP,
		completed_at TIMESTAMP
	);

	CREATE TABLE processing_items (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		request_id INTEGER NOT NULL REFERENCES requests (id) ON DELETE CASCADE,
		kind TEXT NOT NULL,
		season INTEGER,
		episode INTEGER,
		air_date TIMESTAMP,
		title TEXT,
		status TEXT NOT NULL DEFAULT 'pending',
		current_step TEXT,
		step_context TEXT,
		progress REAL NOT NULL DEFAULT 0,
		attempts INTEGER NOT NULL DEFAULT 0,
		max_attempts INTEGER NOT NULL DEFAULT 3,
		last_error TEXT,
		next_retry_at TIMESTAMP,
		download_id INTEGER,
		encode_job_id TEXT,
		created_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP,
		updated_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP
	);

	CREATE TABLE downloads (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		request_id INTEGER NOT NULL REFERENCES requests (id) ON DELETE CASCADE,
		torrent_hash TEXT NOT NULL UNIQUE,
		name TEXT NOT NULL,
		save_path TEXT,
		content_path TEXT,
		status TEXT NOT NULL DEFAULT 'pending',
		progress REAL NOT NULL DEFAULT 0,
		seeds INTEGER NOT NULL DEFAULT 0,
		peers INTEGER NOT NULL DEFAULT 0,
		size INTEGER NOT NULL DEFAULT 0,
		speed INTEGER NOT NULL DEFAULT 0,
		alternatives TEXT,
		error TEXT,
		last_progress_at TIMESTAMP,
		created_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP,
		updated_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP
	);

	CREATE TABLE pipeline_templates (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		name TEXT NOT NULL UNIQUE,
		media_type TEXT NOT NULL,
		version INTEGER NOT NULL DEFAULT 1,
		is_default INTEGER NOT NULL DEFAULT 0,
		steps TEXT NOT NULL,
		created_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP,
		updated_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP
	);

	CREATE TABLE executions (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		request_id INTEGER NOT NULL REFERENCES requests (id) ON DELETE CASCADE,
		template_id INTEGER NOT NULL DEFAULT 0,
		steps TEXT NOT NULL,
		status TEXT NOT NULL DEFAULT 'running',
		current_step TEXT,
		parent_execution_id INTEGER,
		episode_item_id INTEGER,
		context TEXT,
		pause_reason TEXT,
		error TEXT,
		started_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP,
		finished_at TIMESTAMP
	);

	CREATE TABLE storage_servers (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		name TEXT NOT NULL UNIQUE,
		protocol TEXT NOT NULL,
		host TEXT,
		port INTEGER NOT NULL DEFAULT 0,
		username TEXT,
		password TEXT,
		share TEXT,
		movie_root TEXT,
		tv_root TEXT,
		max_resolution TEXT NOT NULL DEFAULT '2160p',
		default_profile_id INTEGER,
		media_server_url TEXT,
		media_server_token TEXT,
		created_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP,
		updated_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP
	);

	CREATE TABLE encoding_profiles (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		name TEXT NOT NULL UNIQUE,
		container TEXT NOT NULL,
		video_codec TEXT NOT NULL,
		audio_languages TEXT,
		subtitle_languages TEXT,
		is_system_default INTEGER NOT NULL DEFAULT 0,
		created_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP,
		updated_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP
	);

	CREATE TABLE activity_logs (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		request_id INTEGER NOT NULL REFERENCES requests (id) ON DELETE CASCADE,
		event TEXT NOT NULL,
		message TEXT NOT NULL,
		details TEXT,
		created_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP
	);

	CREATE TABLE encoder_assignments (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		job_id TEXT NOT NULL UNIQUE,
		request_id INTEGER NOT NULL REFERENCES requests (id) ON DELETE CASCADE,
		item_id INTEGER NOT NULL,
		profile_id INTEGER NOT NULL DEFAULT 0,
		source_path TEXT NOT NULL,
		output_path TEXT,
		status TEXT NOT NULL DEFAULT 'queued',
		progress REAL NOT NULL DEFAULT 0,
		reason TEXT,
		last_progress_at TIMESTAMP,
		created_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP,
		updated_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP
	);

	CREATE TABLE library_cache (
		tmdb_id INTEGER NOT NULL,
		media_type TEXT NOT NULL,
		server_id INTEGER NOT NULL,
		delivered_path TEXT,
		updated_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP,
		PRIMARY KEY (tmdb_id, media_type, server_id)
	);

	CREATE TABLE episode_library_items (
		tmdb_id INTEGER NOT NULL,
		season INTEGER NOT NULL,
		episode INTEGER NOT NULL,
		server_id INTEGER NOT NULL,
		updated_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP,
		PRIMARY KEY (tmdb_id, season, episode, server_id)
	);
`

// setupModelDB opens an in-memory database with the model schema applied.
func setupModelDB(t *testing.T) *mockQuerier {
	t.Helper()

	sqlDB, err := sql.Open("sqlite", ":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { _ = sqlDB.Close() })

	_, err = sqlDB.ExecContext(t.Context(), modelSchema)
	require.NoError(t, err)

	return newMockQuerier(sqlDB)
}

// seedRequest inserts a minimal movie request for stores that hang off one.
func seedRequest(t *testing.T, db *mockQuerier) *Request {
	t.Helper()

	store := NewRequestStore(db)
	r, err := store.Create(t.Context(), &Request{
		MediaType:          MediaTypeMovie,
		TmdbID:             603,
		Title:              "The Matrix",
		Year:               1999,
		Targets:            []Target{{ServerID: 1}},
		RequiredResolution: "1080p",
	})
	require.NoError(t, err)
	return r
}
