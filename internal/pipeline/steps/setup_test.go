// Copyright (c) 2025-2026, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package steps

import (
	"context"
	"database/sql"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	_ "modernc.org/sqlite"

	"github.com/autobrr/fetcharr/internal/domain"
	"github.com/autobrr/fetcharr/internal/encoder"
	"github.com/autobrr/fetcharr/internal/indexer"
	"github.com/autobrr/fetcharr/internal/models"
	"github.com/autobrr/fetcharr/internal/pipeline"
	"github.com/autobrr/fetcharr/internal/quality"
	"github.com/autobrr/fetcharr/internal/services/delivery"
	"github.com/autobrr/fetcharr/internal/services/encodecoord"
	"github.com/autobrr/fetcharr/internal/services/filemapper"
	"github.com/autobrr/fetcharr/internal/services/reconciler"
	"github.com/autobrr/fetcharr/internal/services/selector"
	"github.com/autobrr/fetcharr/internal/torrents"
	"github.com/autobrr/fetcharr/internal/transport"
)

const stepsSchema = `
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

	CREATE TABLE downloads (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		request_id INTEGER NOT NULL,
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

	CREATE TABLE executions (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		request_id INTEGER NOT NULL,
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

type stepsEnv struct {
	requests    *models.RequestStore
	items       *models.ProcessingItemStore
	downloads   *models.DownloadStore
	executions  *models.ExecutionStore
	profiles    *models.EncodingProfileStore
	servers     *models.StorageServerStore
	assignments *models.EncoderAssignmentStore
	activity    *models.ActivityLogStore
	libcache    *models.LibraryCacheStore

	indexer  *fakeIndexer
	torrents *fakeTorrents
	pool     *fakePool
	scanner  *recordingScanner
	runner   *recordingRunner

	deps Deps
}

func setupStepsEnv(t *testing.T) *stepsEnv {
	t.Helper()

	db, err := sql.Open("sqlite", ":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })

	_, err = db.ExecContext(t.Context(), stepsSchema)
	require.NoError(t, err)

	env := &stepsEnv{
		requests:    models.NewRequestStore(db),
		items:       models.NewProcessingItemStore(db),
		downloads:   models.NewDownloadStore(db),
		executions:  models.NewExecutionStore(db),
		profiles:    models.NewEncodingProfileStore(db),
		servers:     models.NewStorageServerStore(db),
		assignments: models.NewEncoderAssignmentStore(db),
		activity:    models.NewActivityLogStore(db),
		libcache:    models.NewLibraryCacheStore(db),

		indexer:  &fakeIndexer{},
		torrents: newFakeTorrents(),
		pool:     &fakePool{encoders: true},
		scanner:  &recordingScanner{},
		runner:   &recordingRunner{},
	}

	engine := quality.NewEngine()
	env.deps = Deps{
		Requests:   env.requests,
		Items:      env.items,
		Downloads:  env.downloads,
		Executions: env.executions,
		Activity:   env.activity,

		Selector: selector.New(engine, env.indexer),
		Reconciler: reconciler.New(env.downloads, env.items, env.activity, engine,
			env.torrents, env.indexer, reconciler.Config{
				PollInterval: time.Millisecond,
				StallWindow:  time.Hour,
			}),
		Mapper:   filemapper.New(env.items, engine, env.torrents),
		Encoder:  encodecoord.New(env.profiles, env.servers, env.assignments, env.items, env.activity, env.pool, time.Millisecond),
		Delivery: delivery.New(env.servers, env.libcache, env.activity, transport.NewRegistry(), env.scanner, 0),
		Pool:     env.pool,
		Runner:   env.runner,
	}

	return env
}

func (env *stepsEnv) seedMovie(t *testing.T, targets ...models.Target) (*models.Request, *models.ProcessingItem) {
	t.Helper()
	if len(targets) == 0 {
		targets = []models.Target{{ServerID: 1}}
	}
	request, err := env.requests.Create(t.Context(), &models.Request{
		MediaType:          models.MediaTypeMovie,
		TmdbID:             603,
		Title:              "The Matrix",
		Year:               1999,
		Targets:            targets,
		RequiredResolution: domain.Resolution1080p,
	})
	require.NoError(t, err)

	item, err := env.items.Create(t.Context(), &models.ProcessingItem{
		RequestID: request.ID,
		Kind:      models.ItemKindMovie,
	})
	require.NoError(t, err)
	return request, item
}

func (env *stepsEnv) seedShow(t *testing.T, episodes ...int) (*models.Request, []*models.ProcessingItem) {
	t.Helper()
	request, err := env.requests.Create(t.Context(), &models.Request{
		MediaType:          models.MediaTypeTV,
		TmdbID:             1396,
		Title:              "Breaking Bad",
		Year:               2008,
		RequestedSeasons:   []int{1},
		Targets:            []models.Target{{ServerID: 1}},
		RequiredResolution: domain.Resolution1080p,
	})
	require.NoError(t, err)

	season := 1
	items := make([]*models.ProcessingItem, 0, len(episodes))
	for _, episode := range episodes {
		item, err := env.items.Create(t.Context(), &models.ProcessingItem{
			RequestID: request.ID,
			Kind:      models.ItemKindEpisode,
			Season:    &season,
			Episode:   &episode,
		})
		require.NoError(t, err)
		items = append(items, item)
	}
	return request, items
}

// branchContext is the context a step sees mid-branch.
func branchContext(request *models.Request, itemID int64) models.StepContext {
	sc := pipeline.InitialContext(request)
	sc[pipeline.KeyProcessingItemID] = itemID
	return sc
}

func release(title string, size int64) models.Release {
	return models.Release{
		Title:       title,
		Indexer:     "test",
		Size:        size,
		Seeders:     50,
		DownloadURL: "magnet:?xt=urn:btih:AAAABBBBCCCCDDDDEEEEFFFF0000111122223333&dn=" + title,
	}
}

// sinkRecorder captures step progress reports.
type sinkRecorder struct {
	mu     sync.Mutex
	values []float64
}

func (s *sinkRecorder) Progress(percent float64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.values = append(s.values, percent)
}

// fakeIndexer replays scripted search results.
type fakeIndexer struct {
	result *indexer.SearchResult
	err    error
}

func (f *fakeIndexer) SearchMovie(context.Context, string, int) (*indexer.SearchResult, error) {
	return f.respond()
}

func (f *fakeIndexer) SearchSeason(context.Context, string, int) (*indexer.SearchResult, error) {
	return f.respond()
}

func (f *fakeIndexer) SearchEpisode(context.Context, string, int, int) (*indexer.SearchResult, error) {
	return f.respond()
}

func (f *fakeIndexer) Download(_ context.Context, downloadURL string) ([]byte, error) {
	return []byte(downloadURL), nil
}

func (f *fakeIndexer) respond() (*indexer.SearchResult, error) {
	if f.err != nil {
		return nil, f.err
	}
	if f.result == nil {
		return &indexer.SearchResult{IndexersQueried: 1}, nil
	}
	return f.result, nil
}

// fakeTorrents is a map-backed torrent client.
type fakeTorrents struct {
	mu       sync.Mutex
	torrents map[string]torrents.Torrent
	files    map[string][]torrents.File
}

func newFakeTorrents() *fakeTorrents {
	return &fakeTorrents{
		torrents: make(map[string]torrents.Torrent),
		files:    make(map[string][]torrents.File),
	}
}

func (f *fakeTorrents) put(t torrents.Torrent) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.torrents[t.Hash] = t
}

func (f *fakeTorrents) Health(context.Context) error { return nil }

func (f *fakeTorrents) List(context.Context) ([]torrents.Torrent, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]torrents.Torrent, 0, len(f.torrents))
	for _, t := range f.torrents {
		out = append(out, t)
	}
	return out, nil
}

func (f *fakeTorrents) Get(_ context.Context, hash string) (*torrents.Torrent, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	t, ok := f.torrents[hash]
	if !ok {
		return nil, nil
	}
	return &t, nil
}

func (f *fakeTorrents) AddPayload(_ context.Context, payload []byte) (string, error) {
	hash := strings.Repeat("d", 40)
	f.put(torrents.Torrent{Hash: hash, Name: string(payload), DlSpeed: 1 << 20})
	return hash, nil
}

func (f *fakeTorrents) AddMagnet(_ context.Context, magnet string) (string, error) {
	hash, ok := torrents.ParseMagnetHash(magnet)
	if !ok {
		return "", errors.New("bad magnet link")
	}
	f.put(torrents.Torrent{Hash: hash, Name: magnet, DlSpeed: 1 << 20})
	return hash, nil
}

func (f *fakeTorrents) Delete(_ context.Context, hash string, _ bool) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.torrents, hash)
	return nil
}

func (f *fakeTorrents) Files(_ context.Context, hash string) ([]torrents.File, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.files[hash], nil
}

// fakePool replays scripted encoder job statuses.
type fakePool struct {
	mu       sync.Mutex
	encoders bool
	statuses []encoder.JobStatus
	submits  []encoder.Job
	cancels  []string
}

func (p *fakePool) HasEncoders(context.Context) (bool, error) { return p.encoders, nil }

func (p *fakePool) Submit(_ context.Context, job encoder.Job) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.submits = append(p.submits, job)
	return nil
}

func (p *fakePool) Status(context.Context, string) (*encoder.JobStatus, error) {
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

func (p *fakePool) Remux(_ context.Context, job encoder.RemuxJob) (string, error) {
	return job.SourcePath, nil
}

func (p *fakePool) Cancel(_ context.Context, jobID, _ string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.cancels = append(p.cancels, jobID)
	return nil
}

// recordingScanner records library scan calls.
type recordingScanner struct {
	mu    sync.Mutex
	paths []string
}

func (s *recordingScanner) Scan(_ context.Context, _ *models.StorageServer, deliveredPath string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.paths = append(s.paths, deliveredPath)
	return nil
}

// recordingRunner captures the branches a Branch step fans out.
type recordingRunner struct {
	mu       sync.Mutex
	parent   *models.Execution
	branches []pipeline.EpisodeBranch
	err      error
}

func (r *recordingRunner) RunEpisodeBranches(_ context.Context, parent *models.Execution, branches []pipeline.EpisodeBranch) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.parent = parent
	r.branches = branches
	return r.err
}
