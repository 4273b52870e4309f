// Copyright (c) 2025-2026, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package handlers

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/autobrr/fetcharr/internal/models"
)

// TemplatesHandler manages pipeline template CRUD.
type TemplatesHandler struct {
	store *models.PipelineTemplateStore
}

func NewTemplatesHandler(store *models.PipelineTemplateStore) *TemplatesHandler {
	return &TemplatesHandler{store: store}
}

func (h *TemplatesHandler) Routes(r chi.Router) {
	r.Route("/templates", func(r chi.Router) {
		r.Get("/", h.List)
		r.Post("/", h.Create)
		r.Route("/{templateID}", func(r chi.Router) {
			r.Get("/", h.Get)
			r.Put("/", h.Update)
			r.Delete("/", h.Delete)
			r.Post("/set-default", h.SetDefault)
		})
	})
}

type createTemplatePayload struct {
	Name      string                  `json:"name"`
	MediaType models.MediaType        `json:"mediaType"`
	IsDefault bool                    `json:"isDefault"`
	Steps     []models.StepDefinition `json:"steps"`
}

type updateTemplatePayload struct {
	Name  string                  `json:"name"`
	Steps []models.StepDefinition `json:"steps"`
}

// List handles GET /api/templates
func (h *TemplatesHandler) List(w http.ResponseWriter, r *http.Request) {
	templates, err := h.store.List(r.Context())
	if err != nil {
		RespondServiceError(w, err, "Failed to list templates")
		return
	}
	if templates == nil {
		templates = []*models.PipelineTemplate{}
	}
	RespondJSON(w, http.StatusOK, templates)
}

// Create handles POST /api/templates
func (h *TemplatesHandler) Create(w http.ResponseWriter, r *http.Request) {
	var payload createTemplatePayload
	if !DecodeJSON(w, r, &payload) {
		return
	}
	if payload.Name == "" || !payload.MediaType.IsValid() || len(payload.Steps) == 0 {
		RespondError(w, http.StatusBadRequest, "Template needs a name, a valid media type and at least one step")
		return
	}

	created, err := h.store.Create(r.Context(), &models.PipelineTemplate{
		Name:      payload.Name,
		MediaType: payload.MediaType,
		IsDefault: payload.IsDefault,
		Steps:     payload.Steps,
	})
	if err != nil {
		RespondServiceError(w, err, "Failed to create template")
		return
	}
	RespondJSON(w, http.StatusCreated, created)
}

// Get handles GET /api/templates/{templateID}
func (h *TemplatesHandler) Get(w http.ResponseWriter, r *http.Request) {
	id, ok := ParseID(w, r, "templateID", "template ID")
	if !ok {
		return
	}

	template, err := h.store.Get(r.Context(), id)
	if err != nil {
		RespondServiceError(w, err, "Failed to get template")
		return
	}
	RespondJSON(w, http.StatusOK, template)
}

// Update handles PUT /api/templates/{templateID}. Updating bumps the
// template version; running executions keep their snapshot.
func (h *TemplatesHandler) Update(w http.ResponseWriter, r *http.Request) {
	id, ok := ParseID(w, r, "templateID", "template ID")
	if !ok {
		return
	}
	var payload updateTemplatePayload
	if !DecodeJSON(w, r, &payload) {
		return
	}
	if payload.Name == "" || len(payload.Steps) == 0 {
		RespondError(w, http.StatusBadRequest, "Template needs a name and at least one step")
		return
	}

	updated, err := h.store.Update(r.Context(), id, payload.Name, payload.Steps)
	if err != nil {
		RespondServiceError(w, err, "Failed to update template")
		return
	}
	RespondJSON(w, http.StatusOK, updated)
}

// SetDefault handles POST /api/templates/{templateID}/set-default
func (h *TemplatesHandler) SetDefault(w http.ResponseWriter, r *http.Request) {
	id, ok := ParseID(w, r, "templateID", "template ID")
	if !ok {
		return
	}

	if err := h.store.SetDefault(r.Context(), id); err != nil {
		RespondServiceError(w, err, "Failed to set default template")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// Delete handles DELETE /api/templates/{templateID}
func (h *TemplatesHandler) Delete(w http.ResponseWriter, r *http.Request) {
	id, ok := ParseID(w, r, "templateID", "template ID")
	if !ok {
		return
	}

	if err := h.store.Delete(r.Context(), id); err != nil {
		RespondServiceError(w, err, "Failed to delete template")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
