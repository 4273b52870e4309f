// Copyright (c) 2025-2026, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package handlers

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/autobrr/fetcharr/internal/services/requests"
	"github.com/autobrr/fetcharr/internal/services/status"
)

// RequestsHandler exposes the request command facade 1:1 over HTTP.
type RequestsHandler struct {
	svc *requests.Service
}

// NewRequestsHandler returns a ready-to-use handler.
func NewRequestsHandler(svc *requests.Service) *RequestsHandler {
	return &RequestsHandler{svc: svc}
}

// Routes mounts the handler under /requests.
func (h *RequestsHandler) Routes(r chi.Router) {
	r.Route("/requests", func(r chi.Router) {
		r.Get("/", h.List)
		r.Post("/movie", h.CreateMovie)
		r.Post("/tv", h.CreateTV)

		r.Route("/{requestID}", func(r chi.Router) {
			r.Get("/", h.Get)
			r.Delete("/", h.Delete)
			r.Post("/cancel", h.Cancel)
			r.Post("/retry", h.Retry)
			r.Post("/reprocess", h.Reprocess)
			r.Post("/accept-lower-quality", h.AcceptLowerQuality)
			r.Post("/refresh-quality-search", h.RefreshQualitySearch)
			r.Get("/episodes", h.EpisodeStatuses)
			r.Get("/alternatives", h.Alternatives)
			r.Get("/activity", h.Activity)
		})
	})
}

// CreateMovie handles POST /api/requests/movie
func (h *RequestsHandler) CreateMovie(w http.ResponseWriter, r *http.Request) {
	var in requests.CreateMovieInput
	if !DecodeJSON(w, r, &in) {
		return
	}

	request, err := h.svc.CreateMovie(r.Context(), in)
	if err != nil {
		RespondServiceError(w, err, "Failed to create movie request")
		return
	}
	RespondJSON(w, http.StatusCreated, request)
}

// CreateTV handles POST /api/requests/tv
func (h *RequestsHandler) CreateTV(w http.ResponseWriter, r *http.Request) {
	var in requests.CreateTVInput
	if !DecodeJSON(w, r, &in) {
		return
	}

	request, err := h.svc.CreateTV(r.Context(), in)
	if err != nil {
		RespondServiceError(w, err, "Failed to create tv request")
		return
	}
	RespondJSON(w, http.StatusCreated, request)
}

// List handles GET /api/requests
func (h *RequestsHandler) List(w http.ResponseWriter, r *http.Request) {
	in := requests.ListInput{
		Limit:  ParseLimit(r, 50, 100),
		Status: status.RequestStatus(r.URL.Query().Get("status")),
		Search: r.URL.Query().Get("search"),
	}

	details, err := h.svc.List(r.Context(), in)
	if err != nil {
		RespondServiceError(w, err, "Failed to list requests")
		return
	}
	if details == nil {
		details = []*requests.Detail{}
	}
	RespondJSON(w, http.StatusOK, details)
}

// Get handles GET /api/requests/{requestID}
func (h *RequestsHandler) Get(w http.ResponseWriter, r *http.Request) {
	id, ok := ParseID(w, r, "requestID", "request ID")
	if !ok {
		return
	}

	detail, err := h.svc.Get(r.Context(), id)
	if err != nil {
		RespondServiceError(w, err, "Failed to get request")
		return
	}
	RespondJSON(w, http.StatusOK, detail)
}

// Cancel handles POST /api/requests/{requestID}/cancel
func (h *RequestsHandler) Cancel(w http.ResponseWriter, r *http.Request) {
	id, ok := ParseID(w, r, "requestID", "request ID")
	if !ok {
		return
	}

	if err := h.svc.Cancel(r.Context(), id); err != nil {
		RespondServiceError(w, err, "Failed to cancel request")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// Retry handles POST /api/requests/{requestID}/retry
func (h *RequestsHandler) Retry(w http.ResponseWriter, r *http.Request) {
	id, ok := ParseID(w, r, "requestID", "request ID")
	if !ok {
		return
	}

	if err := h.svc.Retry(r.Context(), id); err != nil {
		RespondServiceError(w, err, "Failed to retry request")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// Reprocess handles POST /api/requests/{requestID}/reprocess
func (h *RequestsHandler) Reprocess(w http.ResponseWriter, r *http.Request) {
	id, ok := ParseID(w, r, "requestID", "request ID")
	if !ok {
		return
	}

	if err := h.svc.Reprocess(r.Context(), id); err != nil {
		RespondServiceError(w, err, "Failed to reprocess request")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// Delete handles DELETE /api/requests/{requestID}
func (h *RequestsHandler) Delete(w http.ResponseWriter, r *http.Request) {
	id, ok := ParseID(w, r, "requestID", "request ID")
	if !ok {
		return
	}

	if err := h.svc.Delete(r.Context(), id); err != nil {
		RespondServiceError(w, err, "Failed to delete request")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

type acceptLowerQualityPayload struct {
	ReleaseIndex int `json:"releaseIndex"`
}

// AcceptLowerQuality handles POST /api/requests/{requestID}/accept-lower-quality
func (h *RequestsHandler) AcceptLowerQuality(w http.ResponseWriter, r *http.Request) {
	id, ok := ParseID(w, r, "requestID", "request ID")
	if !ok {
		return
	}
	var payload acceptLowerQualityPayload
	if !DecodeJSON(w, r, &payload) {
		return
	}

	if err := h.svc.AcceptLowerQuality(r.Context(), id, payload.ReleaseIndex); err != nil {
		RespondServiceError(w, err, "Failed to accept lower quality release")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// RefreshQualitySearch handles POST /api/requests/{requestID}/refresh-quality-search
func (h *RequestsHandler) RefreshQualitySearch(w http.ResponseWriter, r *http.Request) {
	id, ok := ParseID(w, r, "requestID", "request ID")
	if !ok {
		return
	}

	if err := h.svc.RefreshQualitySearch(r.Context(), id); err != nil {
		RespondServiceError(w, err, "Failed to refresh quality search")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// EpisodeStatuses handles GET /api/requests/{requestID}/episodes
func (h *RequestsHandler) EpisodeStatuses(w http.ResponseWriter, r *http.Request) {
	id, ok := ParseID(w, r, "requestID", "request ID")
	if !ok {
		return
	}

	seasons, err := h.svc.GetEpisodeStatuses(r.Context(), id)
	if err != nil {
		RespondServiceError(w, err, "Failed to get episode statuses")
		return
	}
	RespondJSON(w, http.StatusOK, seasons)
}

// Alternatives handles GET /api/requests/{requestID}/alternatives
func (h *RequestsHandler) Alternatives(w http.ResponseWriter, r *http.Request) {
	id, ok := ParseID(w, r, "requestID", "request ID")
	if !ok {
		return
	}

	releases, err := h.svc.GetAlternatives(r.Context(), id)
	if err != nil {
		RespondServiceError(w, err, "Failed to get alternatives")
		return
	}
	RespondJSON(w, http.StatusOK, releases)
}

// Activity handles GET /api/requests/{requestID}/activity
func (h *RequestsHandler) Activity(w http.ResponseWriter, r *http.Request) {
	id, ok := ParseID(w, r, "requestID", "request ID")
	if !ok {
		return
	}

	logs, err := h.svc.Activity(r.Context(), id, ParseLimit(r, 50, 100))
	if err != nil {
		RespondServiceError(w, err, "Failed to get activity")
		return
	}
	RespondJSON(w, http.StatusOK, logs)
}
