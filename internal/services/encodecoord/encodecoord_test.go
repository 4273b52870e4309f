// Copyright (c) 2025-2026, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package encodecoord

import (
	"context"
	"database/sql"
	"path/filepath"
	"strconv"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	_ "modernc.org/sqlite"

	"github.com/autobrr/fetcharr/internal/domain"
	"github.com/autobrr/fetcharr/internal/encoder"
	"github.com/autobrr/fetcharr/internal/models"
)

const coordSchema = `
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
		request_id INTEGER NOT NULL,
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

	CREATE TABLE encoder_assignments (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		job_id TEXT NOT NULL UNIQUE,
		request_id INTEGER NOT NULL,
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

	CREATE TABLE activity_logs (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		request_id INTEGER NOT NULL,
		event TEXT NOT NULL,
		message TEXT NOT NULL,
		details TEXT,
		created_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP
	);
`

type coordEnv struct {
	profiles    *models.EncodingProfileStore
	servers     *models.StorageServerStore
	assignments *models.EncoderAssignmentStore
	items       *models.ProcessingItemStore
	activity    *models.ActivityLogStore
}

func setupCoordEnv(t *testing.T) *coordEnv {
	t.Helper()

	db, err := sql.Open("sqlite", ":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })

	_, err = db.ExecContext(t.Context(), coordSchema)
	require.NoError(t, err)

	return &coordEnv{
		profiles:    models.NewEncodingProfileStore(db),
		servers:     models.NewStorageServerStore(db),
		assignments: models.NewEncoderAssignmentStore(db),
		items:       models.NewProcessingItemStore(db),
		activity:    models.NewActivityLogStore(db),
	}
}

// scriptedPool replays a fixed sequence of job statuses.
type scriptedPool struct {
	mu        sync.Mutex
	statuses  []encoder.JobStatus
	submits   []encoder.Job
	remuxes   []encoder.RemuxJob
	remuxPath string
	remuxErr  error
}

func (p *scriptedPool) HasEncoders(context.Context) (bool, error) { return true, nil }

func (p *scriptedPool) Submit(_ context.Context, job encoder.Job) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.submits = append(p.submits, job)
	return nil
}

func (p *scriptedPool) Status(context.Context, string) (*encoder.JobStatus, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if len(p.statuses) == 0 {
		return &encoder.JobStatus{State: encoder.JobStateQueued}, nil
	}
	next := p.statuses[0]
	if len(p.statuses) > 1 {
		p.statuses = p.statuses[1:]
	}
	return &next, nil
}

func (p *scriptedPool) Remux(_ context.Context, job encoder.RemuxJob) (string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.remuxes = append(p.remuxes, job)
	if p.remuxErr != nil {
		return "", p.remuxErr
	}
	if p.remuxPath != "" {
		return p.remuxPath, nil
	}
	return job.SourcePath, nil
}

func (p *scriptedPool) Cancel(context.Context, string, string) error { return nil }

func (env *coordEnv) coordinator(pool encoder.Pool) *Coordinator {
	return New(env.profiles, env.servers, env.assignments, env.items, env.activity, pool, time.Millisecond)
}

func (env *coordEnv) seedProfile(t *testing.T, name string, systemDefault bool) *models.EncodingProfile {
	t.Helper()
	p, err := env.profiles.Create(t.Context(), &models.EncodingProfile{
		Name:           name,
		Container:      "mkv",
		VideoCodec:     "hevc",
		AudioLanguages: []string{"eng"},
	})
	require.NoError(t, err)
	if systemDefault {
		require.NoError(t, env.profiles.SetSystemDefault(t.Context(), p.ID))
		p.IsSystemDefault = true
	}
	return p
}

func (env *coordEnv) seedServer(t *testing.T, name string, defaultProfileID *int64) *models.StorageServer {
	t.Helper()
	s, err := env.servers.Create(t.Context(), &models.StorageServer{
		Name:             name,
		Protocol:         models.ProtocolLocal,
		MovieRoot:        "/library/movies",
		TVRoot:           "/library/tv",
		MaxResolution:    domain.Resolution2160p,
		DefaultProfileID: defaultProfileID,
	})
	require.NoError(t, err)
	return s
}

func TestPlanResolutionOrder(t *testing.T) {
	env := setupCoordEnv(t)

	system := env.seedProfile(t, "system", true)
	serverDefault := env.seedProfile(t, "server-default", false)
	override := env.seedProfile(t, "override", false)

	bare := env.seedServer(t, "bare", nil)
	withDefault := env.seedServer(t, "with-default", &serverDefault.ID)

	c := env.coordinator(&scriptedPool{})
	// Bare server falls through to the system default, the second server
	// carries its own default, and the last target overrides explicitly.
	groups, err := c.Plan(t.Context(), []models.Target{
		{ServerID: bare.ID},
		{ServerID: withDefault.ID},
		{ServerID: withDefault.ID, ProfileID: &override.ID},
	})
	require.NoError(t, err)
	require.Len(t, groups, 3)

	assert.Equal(t, system.ID, groups[0].Profile.ID)
	assert.True(t, groups[0].Primary)
	assert.Equal(t, serverDefault.ID, groups[1].Profile.ID)
	assert.Equal(t, override.ID, groups[2].Profile.ID)
}

func TestPlanGroupsSharedProfiles(t *testing.T) {
	env := setupCoordEnv(t)

	env.seedProfile(t, "system", true)
	a := env.seedServer(t, "a", nil)
	b := env.seedServer(t, "b", nil)

	c := env.coordinator(&scriptedPool{})
	groups, err := c.Plan(t.Context(), []models.Target{{ServerID: a.ID}, {ServerID: b.ID}})
	require.NoError(t, err)
	require.Len(t, groups, 1)
	assert.ElementsMatch(t, []int64{a.ID, b.ID}, groups[0].ServerIDs)
}

func TestPlanNoProfileAnywhere(t *testing.T) {
	env := setupCoordEnv(t)
	server := env.seedServer(t, "bare", nil)

	c := env.coordinator(&scriptedPool{})
	_, err := c.Plan(t.Context(), []models.Target{{ServerID: server.ID}})
	assert.True(t, domain.IsMisconfigured(err))
}

func TestJobIDAndOutputPathDeterminism(t *testing.T) {
	assert.Equal(t, "encode:7", JobID(7, 3, true))
	assert.Equal(t, "encode:7:3", JobID(7, 3, false))

	first := OutputPath("/downloads/rel/movie.mkv", 7, 3, "mkv")
	second := OutputPath("/downloads/rel/movie.mkv", 7, 3, "mkv")
	other := OutputPath("/downloads/rel/movie.mkv", 7, 4, "mkv")

	assert.Equal(t, first, second)
	assert.NotEqual(t, first, other)
	assert.Equal(t, "/downloads/rel", filepath.Dir(first))
}

func TestEncodeRunsToCompletion(t *testing.T) {
	env := setupCoordEnv(t)
	profile := env.seedProfile(t, "system", true)

	item, err := env.items.Create(t.Context(), &models.ProcessingItem{
		RequestID: 1, Kind: models.ItemKindMovie,
	})
	require.NoError(t, err)

	pool := &scriptedPool{
		statuses: []encoder.JobStatus{
			{State: encoder.JobStateEncoding, Progress: 40},
			{State: encoder.JobStateCompleted, Progress: 100, OutputPath: "/downloads/rel/out.mkv"},
		},
		remuxPath: "/downloads/rel/out.clean.mkv",
	}

	c := env.coordinator(pool)
	var progress []float64
	output, err := c.Encode(t.Context(), 1, item, "/downloads/rel/movie.mkv",
		Group{Profile: profile, ServerIDs: []int64{1}, Primary: true},
		func(p float64) { progress = append(progress, p) })
	require.NoError(t, err)

	assert.Equal(t, "/downloads/rel/out.clean.mkv", output)
	assert.Contains(t, progress, 40.0)

	require.Len(t, pool.submits, 1)
	assert.Equal(t, "encode:"+itoa(item.ID), pool.submits[0].ID)
	assert.Equal(t, "mkv", pool.submits[0].Container)

	// Track rules apply in the cleanup pass over the finished encode.
	require.Len(t, pool.remuxes, 1)
	assert.Equal(t, "/downloads/rel/out.mkv", pool.remuxes[0].SourcePath)
	assert.Equal(t, []string{"eng"}, pool.remuxes[0].AudioLanguages)

	assignment, err := env.assignments.GetByJobID(t.Context(), pool.submits[0].ID)
	require.NoError(t, err)
	assert.Equal(t, models.AssignmentStatusCompleted, assignment.Status)
	assert.Equal(t, "/downloads/rel/out.clean.mkv", assignment.OutputPath)

	got, err := env.items.Get(t.Context(), item.ID)
	require.NoError(t, err)
	assert.Equal(t, pool.submits[0].ID, got.EncodeJobID)
}

func TestEncodeRemuxFailureKeepsFullEncode(t *testing.T) {
	env := setupCoordEnv(t)
	profile := env.seedProfile(t, "system", true)

	item, err := env.items.Create(t.Context(), &models.ProcessingItem{
		RequestID: 1, Kind: models.ItemKindMovie,
	})
	require.NoError(t, err)

	pool := &scriptedPool{
		statuses: []encoder.JobStatus{
			{State: encoder.JobStateCompleted, Progress: 100, OutputPath: "/downloads/rel/out.mkv"},
		},
		remuxErr: domain.E(domain.KindExternal, "remux worker crashed"),
	}

	c := env.coordinator(pool)
	output, err := c.Encode(t.Context(), 1, item, "/downloads/rel/movie.mkv",
		Group{Profile: profile, Primary: true}, nil)
	require.NoError(t, err)

	assert.Equal(t, "/downloads/rel/out.mkv", output, "full encode survives a failed track cleanup")
	require.Len(t, pool.remuxes, 1)

	assignment, err := env.assignments.GetByJobID(t.Context(), JobID(item.ID, profile.ID, true))
	require.NoError(t, err)
	assert.Equal(t, models.AssignmentStatusCompleted, assignment.Status)
	assert.Equal(t, "/downloads/rel/out.mkv", assignment.OutputPath)

	logs, err := env.activity.ListByRequest(t.Context(), 1, 50)
	require.NoError(t, err)
	var warned bool
	for _, entry := range logs {
		if entry.Event == models.EventRemuxFailed {
			warned = true
		}
	}
	assert.True(t, warned, "a skipped track cleanup shows up in the activity feed")
}

func TestEncodeNoTrackRulesSkipsRemux(t *testing.T) {
	env := setupCoordEnv(t)

	profile, err := env.profiles.Create(t.Context(), &models.EncodingProfile{
		Name: "keep-everything", Container: "mkv", VideoCodec: "hevc",
	})
	require.NoError(t, err)

	item, err := env.items.Create(t.Context(), &models.ProcessingItem{
		RequestID: 1, Kind: models.ItemKindMovie,
	})
	require.NoError(t, err)

	pool := &scriptedPool{statuses: []encoder.JobStatus{
		{State: encoder.JobStateCompleted, Progress: 100, OutputPath: "/downloads/rel/out.mkv"},
	}}

	c := env.coordinator(pool)
	output, err := c.Encode(t.Context(), 1, item, "/downloads/rel/movie.mkv",
		Group{Profile: profile, Primary: true}, nil)
	require.NoError(t, err)

	assert.Equal(t, "/downloads/rel/out.mkv", output)
	assert.Empty(t, pool.remuxes, "a profile without track rules needs no cleanup pass")
}

func TestEncodeIdempotentSkip(t *testing.T) {
	env := setupCoordEnv(t)
	profile := env.seedProfile(t, "system", true)

	item, err := env.items.Create(t.Context(), &models.ProcessingItem{
		RequestID: 1, Kind: models.ItemKindMovie,
	})
	require.NoError(t, err)

	jobID := JobID(item.ID, profile.ID, true)
	assignment, err := env.assignments.CreateIfAbsent(t.Context(), &models.EncoderAssignment{
		JobID: jobID, RequestID: 1, ItemID: item.ID, ProfileID: profile.ID,
		SourcePath: "/downloads/rel/movie.mkv",
	})
	require.NoError(t, err)
	require.NoError(t, env.assignments.Finish(t.Context(), assignment.ID, models.AssignmentStatusCompleted, "/downloads/rel/out.mkv", ""))

	pool := &scriptedPool{}
	c := env.coordinator(pool)
	output, err := c.Encode(t.Context(), 1, item, "/downloads/rel/movie.mkv",
		Group{Profile: profile, Primary: true}, nil)
	require.NoError(t, err)

	assert.Equal(t, "/downloads/rel/out.mkv", output)
	assert.Empty(t, pool.submits, "a finished assignment must not resubmit")
}

func TestEncodeFailure(t *testing.T) {
	env := setupCoordEnv(t)
	profile := env.seedProfile(t, "system", true)

	item, err := env.items.Create(t.Context(), &models.ProcessingItem{
		RequestID: 1, Kind: models.ItemKindMovie,
	})
	require.NoError(t, err)

	pool := &scriptedPool{statuses: []encoder.JobStatus{
		{State: encoder.JobStateFailed, Error: "source unreadable"},
	}}

	c := env.coordinator(pool)
	_, err = c.Encode(t.Context(), 1, item, "/downloads/rel/movie.mkv",
		Group{Profile: profile, Primary: true}, nil)
	require.Error(t, err)
	assert.True(t, domain.IsExternal(err))

	assignment, err := env.assignments.GetByJobID(t.Context(), JobID(item.ID, profile.ID, true))
	require.NoError(t, err)
	assert.Equal(t, models.AssignmentStatusFailed, assignment.Status)
	assert.Equal(t, "source unreadable", assignment.Reason)
}

func itoa(v int64) string {
	return strconv.FormatInt(v, 10)
}
