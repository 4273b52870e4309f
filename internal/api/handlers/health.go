// Copyright (c) 2025-2026, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package handlers

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog/log"

	"github.com/autobrr/fetcharr/internal/dbinterface"
	"github.com/autobrr/fetcharr/internal/torrents"
)

// HealthHandler exposes liveness and readiness probes.
type HealthHandler struct {
	db       dbinterface.Querier
	torrents torrents.Client
}

func NewHealthHandler(db dbinterface.Querier, torrentClient torrents.Client) *HealthHandler {
	return &HealthHandler{db: db, torrents: torrentClient}
}

func (h *HealthHandler) Routes(r chi.Router) {
	r.Route("/health", func(r chi.Router) {
		r.Get("/liveness", h.Liveness)
		r.Get("/readiness", h.Readiness)
	})
}

// Liveness handles GET /api/health/liveness
func (h *HealthHandler) Liveness(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("OK"))
}

// Readiness handles GET /api/health/readiness. The database must be
// reachable; the torrent client is reported but not required, fetcharr can
// serve reads while the downloader is down.
func (h *HealthHandler) Readiness(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	checks := map[string]string{
		"database": "ok",
	}
	healthy := true

	var one int
	if err := h.db.QueryRowContext(ctx, "SELECT 1").Scan(&one); err != nil {
		log.Error().Err(err).Msg("health: database not reachable")
		checks["database"] = "unreachable"
		healthy = false
	}

	if h.torrents != nil {
		checks["torrentClient"] = "ok"
		if err := h.torrents.Health(ctx); err != nil {
			log.Warn().Err(err).Msg("health: torrent client not reachable")
			checks["torrentClient"] = "unreachable"
		}
	}

	status := http.StatusOK
	if !healthy {
		status = http.StatusServiceUnavailable
	}
	RespondJSON(w, status, checks)
}
