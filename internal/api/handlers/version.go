// Copyright (c) 2025-2026, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package handlers

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/autobrr/fetcharr/internal/buildinfo"
)

// VersionHandler reports build information.
type VersionHandler struct{}

func NewVersionHandler() *VersionHandler {
	return &VersionHandler{}
}

func (h *VersionHandler) Routes(r chi.Router) {
	r.Get("/version", h.Get)
}

// Get handles GET /api/version
func (h *VersionHandler) Get(w http.ResponseWriter, r *http.Request) {
	RespondJSON(w, http.StatusOK, buildinfo.Get())
}
