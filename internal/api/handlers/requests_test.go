// Copyright (c) 2025-2026, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package handlers

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/autobrr/fetcharr/internal/database"
	"github.com/autobrr/fetcharr/internal/metadata"
	"github.com/autobrr/fetcharr/internal/models"
	"github.com/autobrr/fetcharr/internal/services/requests"
)

type stubMetadata struct {
	movie *metadata.Movie
}

func (s *stubMetadata) GetMovie(ctx context.Context, tmdbID int64) (*metadata.Movie, error) {
	return s.movie, nil
}
func (s *stubMetadata) GetShow(ctx context.Context, tmdbID int64) (*metadata.Show, error) {
	return nil, nil
}
func (s *stubMetadata) GetSeason(ctx context.Context, tmdbID int64, season int) (*metadata.Season, error) {
	return nil, nil
}

type stubPipeline struct {
	mu        sync.Mutex
	started   []int64
	cancelled []int64
}

func (s *stubPipeline) Start(ctx context.Context, requestID int64, templateID *int64) (*models.Execution, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.started = append(s.started, requestID)
	return &models.Execution{ID: int64(len(s.started)), RequestID: requestID}, nil
}

func (s *stubPipeline) Cancel(ctx context.Context, requestID int64, reason string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.cancelled = append(s.cancelled, requestID)
	return nil
}

func setupRequestsHandler(t *testing.T) (*RequestsHandler, *database.DB, *stubPipeline) {
	t.Helper()

	db := setupTestDB(t)
	pipe := &stubPipeline{}
	svc := requests.NewService(
		models.NewRequestStore(db),
		models.NewProcessingItemStore(db),
		models.NewStorageServerStore(db),
		models.NewLibraryCacheStore(db),
		models.NewActivityLogStore(db),
		&stubMetadata{movie: &metadata.Movie{TmdbID: 603, Title: "The Matrix", Year: 1999}},
		pipe,
	)
	return NewRequestsHandler(svc), db, pipe
}

func seedTestServer(t *testing.T, db *database.DB) *models.StorageServer {
	t.Helper()

	srv, err := models.NewStorageServerStore(db).Create(t.Context(), &models.StorageServer{
		Name:          "main",
		Protocol:      models.ProtocolLocal,
		MovieRoot:     t.TempDir(),
		TVRoot:        t.TempDir(),
		MaxResolution: "1080p",
	})
	require.NoError(t, err)
	return srv
}

func TestRequestsHandlerCreateMovie(t *testing.T) {
	t.Parallel()

	handler, db, pipe := setupRequestsHandler(t)
	srv := seedTestServer(t, db)
	router := newTestRouter(handler.Routes)

	body := strings.NewReader(fmt.Sprintf(`{"tmdbId": 603, "targets": [{"serverId": %d}]}`, srv.ID))
	resp := httptest.NewRecorder()
	router.ServeHTTP(resp, httptest.NewRequest(http.MethodPost, "/api/requests/movie", body))
	require.Equal(t, http.StatusCreated, resp.Code)

	var created models.Request
	require.NoError(t, json.Unmarshal(resp.Body.Bytes(), &created))
	assert.Equal(t, "The Matrix", created.Title)
	assert.Equal(t, 1999, created.Year)
	assert.Equal(t, []int64{created.ID}, pipe.started)
}

func TestRequestsHandlerCreateMovieUnknownServer(t *testing.T) {
	t.Parallel()

	handler, _, pipe := setupRequestsHandler(t)
	router := newTestRouter(handler.Routes)

	body := strings.NewReader(`{"tmdbId": 603, "targets": [{"serverId": 42}]}`)
	resp := httptest.NewRecorder()
	router.ServeHTTP(resp, httptest.NewRequest(http.MethodPost, "/api/requests/movie", body))
	assert.Equal(t, http.StatusNotFound, resp.Code)
	assert.Empty(t, pipe.started)
}

func TestRequestsHandlerGetAndList(t *testing.T) {
	t.Parallel()

	handler, db, _ := setupRequestsHandler(t)
	srv := seedTestServer(t, db)
	router := newTestRouter(handler.Routes)

	body := strings.NewReader(fmt.Sprintf(`{"tmdbId": 603, "targets": [{"serverId": %d}]}`, srv.ID))
	resp := httptest.NewRecorder()
	router.ServeHTTP(resp, httptest.NewRequest(http.MethodPost, "/api/requests/movie", body))
	require.Equal(t, http.StatusCreated, resp.Code)

	var created models.Request
	require.NoError(t, json.Unmarshal(resp.Body.Bytes(), &created))

	resp = httptest.NewRecorder()
	router.ServeHTTP(resp, httptest.NewRequest(http.MethodGet, fmt.Sprintf("/api/requests/%d", created.ID), nil))
	require.Equal(t, http.StatusOK, resp.Code)

	var detail requests.Detail
	require.NoError(t, json.Unmarshal(resp.Body.Bytes(), &detail))
	assert.Equal(t, "The Matrix", detail.Title)
	assert.Equal(t, 1, detail.Summary.Total)

	resp = httptest.NewRecorder()
	router.ServeHTTP(resp, httptest.NewRequest(http.MethodGet, "/api/requests?search=matrix", nil))
	require.Equal(t, http.StatusOK, resp.Code)
	var listed []*requests.Detail
	require.NoError(t, json.Unmarshal(resp.Body.Bytes(), &listed))
	assert.Len(t, listed, 1)

	resp = httptest.NewRecorder()
	router.ServeHTTP(resp, httptest.NewRequest(http.MethodGet, "/api/requests?search=nomatch", nil))
	require.Equal(t, http.StatusOK, resp.Code)
	require.NoError(t, json.Unmarshal(resp.Body.Bytes(), &listed))
	assert.Empty(t, listed)
}

func TestRequestsHandlerCancel(t *testing.T) {
	t.Parallel()

	handler, db, pipe := setupRequestsHandler(t)
	srv := seedTestServer(t, db)
	router := newTestRouter(handler.Routes)

	body := strings.NewReader(fmt.Sprintf(`{"tmdbId": 603, "targets": [{"serverId": %d}]}`, srv.ID))
	resp := httptest.NewRecorder()
	router.ServeHTTP(resp, httptest.NewRequest(http.MethodPost, "/api/requests/movie", body))
	require.Equal(t, http.StatusCreated, resp.Code)

	var created models.Request
	require.NoError(t, json.Unmarshal(resp.Body.Bytes(), &created))

	resp = httptest.NewRecorder()
	router.ServeHTTP(resp, httptest.NewRequest(http.MethodPost, fmt.Sprintf("/api/requests/%d/cancel", created.ID), nil))
	require.Equal(t, http.StatusNoContent, resp.Code)
	assert.Equal(t, []int64{created.ID}, pipe.cancelled)
}

func TestRequestsHandlerEpisodesRejectsMovie(t *testing.T) {
	t.Parallel()

	handler, db, _ := setupRequestsHandler(t)
	srv := seedTestServer(t, db)
	router := newTestRouter(handler.Routes)

	body := strings.NewReader(fmt.Sprintf(`{"tmdbId": 603, "targets": [{"serverId": %d}]}`, srv.ID))
	resp := httptest.NewRecorder()
	router.ServeHTTP(resp, httptest.NewRequest(http.MethodPost, "/api/requests/movie", body))
	require.Equal(t, http.StatusCreated, resp.Code)

	var created models.Request
	require.NoError(t, json.Unmarshal(resp.Body.Bytes(), &created))

	resp = httptest.NewRecorder()
	router.ServeHTTP(resp, httptest.NewRequest(http.MethodGet, fmt.Sprintf("/api/requests/%d/episodes", created.ID), nil))
	assert.Equal(t, http.StatusConflict, resp.Code)
}
