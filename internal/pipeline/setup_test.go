// Copyright (c) 2025-2026, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package pipeline

import (
	"context"
	"database/sql"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"
	_ "modernc.org/sqlite"

	"github.com/autobrr/fetcharr/internal/models"
)

// pipelineSchema is the slice of the initial migration the executor touches.
const pipelineSchema = `
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

	CREATE TABLE activity_logs (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		request_id INTEGER NOT NULL REFERENCES requests (id) ON DELETE CASCADE,
		event TEXT NOT NULL,
		message TEXT NOT NULL,
		details TEXT,
		created_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP
	);
`

// testEnv bundles the stores an executor test needs.
type testEnv struct {
	db          *sql.DB
	requests    *models.RequestStore
	items       *models.ProcessingItemStore
	executions  *models.ExecutionStore
	templates   *models.PipelineTemplateStore
	assignments *models.EncoderAssignmentStore
	activity    *models.ActivityLogStore
}

func setupEnv(t *testing.T) *testEnv {
	t.Helper()

	db, err := sql.Open("sqlite", ":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })

	_, err = db.ExecContext(t.Context(), pipelineSchema)
	require.NoError(t, err)

	return &testEnv{
		db:          db,
		requests:    models.NewRequestStore(db),
		items:       models.NewProcessingItemStore(db),
		executions:  models.NewExecutionStore(db),
		templates:   models.NewPipelineTemplateStore(db),
		assignments: models.NewEncoderAssignmentStore(db),
		activity:    models.NewActivityLogStore(db),
	}
}

// newExecutor builds an executor with a synchronous spawn so tests observe
// the settled state as soon as Start returns.
func (env *testEnv) newExecutor(registry *Registry) *Executor {
	return NewExecutor(ExecutorConfig{
		Requests:    env.requests,
		Items:       env.items,
		Executions:  env.executions,
		Templates:   env.templates,
		Assignments: env.assignments,
		Activity:    env.activity,
		Registry:    registry,
		Spawn:       func(fn func()) { fn() },
	})
}

func (env *testEnv) seedMovieRequest(t *testing.T) (*models.Request, *models.ProcessingItem) {
	t.Helper()

	r, err := env.requests.Create(t.Context(), &models.Request{
		MediaType:          models.MediaTypeMovie,
		TmdbID:             603,
		Title:              "The Matrix",
		Year:               1999,
		Targets:            []models.Target{{ServerID: 1}},
		RequiredResolution: "1080p",
	})
	require.NoError(t, err)

	item, err := env.items.Create(t.Context(), &models.ProcessingItem{
		RequestID: r.ID,
		Kind:      models.ItemKindMovie,
		Title:     r.Title,
	})
	require.NoError(t, err)

	return r, item
}

func (env *testEnv) seedTemplate(t *testing.T, mediaType models.MediaType, steps []models.StepDefinition) *models.PipelineTemplate {
	t.Helper()

	template, err := env.templates.Create(t.Context(), &models.PipelineTemplate{
		Name:      "test-" + string(mediaType),
		MediaType: mediaType,
		Steps:     steps,
	})
	require.NoError(t, err)
	require.NoError(t, env.templates.SetDefault(t.Context(), template.ID))
	return template
}

// stubStep is a scriptable step for executor tests.
type stubStep struct {
	kind    string
	execute func(ctx context.Context, sc models.StepContext, def models.StepDefinition, sink ProgressSink) Output

	mu    sync.Mutex
	calls int
}

func (s *stubStep) Kind() string { return s.kind }

func (s *stubStep) ValidateConfig(map[string]any) error { return nil }

func (s *stubStep) Execute(ctx context.Context, sc models.StepContext, def models.StepDefinition, sink ProgressSink) Output {
	s.mu.Lock()
	s.calls++
	s.mu.Unlock()

	if s.execute == nil {
		return Succeed(nil)
	}
	return s.execute(ctx, sc, def, sink)
}

func (s *stubStep) callCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls
}

// registryOf registers the given stubs.
func registryOf(steps ...*stubStep) *Registry {
	r := NewRegistry()
	for _, s := range steps {
		r.Register(s)
	}
	return r
}

// chain nests kinds into a single-child template tree.
func chain(kinds ...string) []models.StepDefinition {
	if len(kinds) == 0 {
		return nil
	}
	return []models.StepDefinition{{
		Kind:     kinds[0],
		Children: chain(kinds[1:]...),
	}}
}
