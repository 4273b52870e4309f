// Copyright (c) 2025-2026, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package handlers

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/autobrr/fetcharr/internal/models"
)

// ProfilesHandler manages encoding profile CRUD.
type ProfilesHandler struct {
	store *models.EncodingProfileStore
}

func NewProfilesHandler(store *models.EncodingProfileStore) *ProfilesHandler {
	return &ProfilesHandler{store: store}
}

func (h *ProfilesHandler) Routes(r chi.Router) {
	r.Route("/profiles", func(r chi.Router) {
		r.Get("/", h.List)
		r.Post("/", h.Create)
		r.Route("/{profileID}", func(r chi.Router) {
			r.Get("/", h.Get)
			r.Put("/", h.Update)
			r.Delete("/", h.Delete)
			r.Post("/set-default", h.SetDefault)
		})
	})
}

type profilePayload struct {
	Name              string   `json:"name"`
	Container         string   `json:"container"`
	VideoCodec        string   `json:"videoCodec"`
	AudioLanguages    []string `json:"audioLanguages"`
	SubtitleLanguages []string `json:"subtitleLanguages"`
}

func (p *profilePayload) validate() string {
	if p.Name == "" {
		return "Profile name is required"
	}
	if p.Container == "" {
		return "Container is required"
	}
	if p.VideoCodec == "" {
		return "Video codec is required"
	}
	return ""
}

// List handles GET /api/profiles
func (h *ProfilesHandler) List(w http.ResponseWriter, r *http.Request) {
	profiles, err := h.store.List(r.Context())
	if err != nil {
		RespondServiceError(w, err, "Failed to list profiles")
		return
	}
	if profiles == nil {
		profiles = []*models.EncodingProfile{}
	}
	RespondJSON(w, http.StatusOK, profiles)
}

// Create handles POST /api/profiles
func (h *ProfilesHandler) Create(w http.ResponseWriter, r *http.Request) {
	var payload profilePayload
	if !DecodeJSON(w, r, &payload) {
		return
	}
	if msg := payload.validate(); msg != "" {
		RespondError(w, http.StatusBadRequest, msg)
		return
	}

	created, err := h.store.Create(r.Context(), &models.EncodingProfile{
		Name:              payload.Name,
		Container:         payload.Container,
		VideoCodec:        payload.VideoCodec,
		AudioLanguages:    payload.AudioLanguages,
		SubtitleLanguages: payload.SubtitleLanguages,
	})
	if err != nil {
		RespondServiceError(w, err, "Failed to create profile")
		return
	}
	RespondJSON(w, http.StatusCreated, created)
}

// Get handles GET /api/profiles/{profileID}
func (h *ProfilesHandler) Get(w http.ResponseWriter, r *http.Request) {
	id, ok := ParseID(w, r, "profileID", "profile ID")
	if !ok {
		return
	}

	profile, err := h.store.Get(r.Context(), id)
	if err != nil {
		RespondServiceError(w, err, "Failed to get profile")
		return
	}
	RespondJSON(w, http.StatusOK, profile)
}

// Update handles PUT /api/profiles/{profileID}
func (h *ProfilesHandler) Update(w http.ResponseWriter, r *http.Request) {
	id, ok := ParseID(w, r, "profileID", "profile ID")
	if !ok {
		return
	}
	var payload profilePayload
	if !DecodeJSON(w, r, &payload) {
		return
	}
	if msg := payload.validate(); msg != "" {
		RespondError(w, http.StatusBadRequest, msg)
		return
	}

	profile, err := h.store.Get(r.Context(), id)
	if err != nil {
		RespondServiceError(w, err, "Failed to get profile")
		return
	}
	profile.Name = payload.Name
	profile.Container = payload.Container
	profile.VideoCodec = payload.VideoCodec
	profile.AudioLanguages = payload.AudioLanguages
	profile.SubtitleLanguages = payload.SubtitleLanguages

	updated, err := h.store.Update(r.Context(), profile)
	if err != nil {
		RespondServiceError(w, err, "Failed to update profile")
		return
	}
	RespondJSON(w, http.StatusOK, updated)
}

// SetDefault handles POST /api/profiles/{profileID}/set-default
func (h *ProfilesHandler) SetDefault(w http.ResponseWriter, r *http.Request) {
	id, ok := ParseID(w, r, "profileID", "profile ID")
	if !ok {
		return
	}

	if err := h.store.SetSystemDefault(r.Context(), id); err != nil {
		RespondServiceError(w, err, "Failed to set default profile")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// Delete handles DELETE /api/profiles/{profileID}
func (h *ProfilesHandler) Delete(w http.ResponseWriter, r *http.Request) {
	id, ok := ParseID(w, r, "profileID", "profile ID")
	if !ok {
		return
	}

	if err := h.store.Delete(r.Context(), id); err != nil {
		RespondServiceError(w, err, "Failed to delete profile")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
