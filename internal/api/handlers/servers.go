// Copyright (c) 2025-2026, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package handlers

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/autobrr/fetcharr/internal/domain"
	"github.com/autobrr/fetcharr/internal/models"
)

// ServersHandler manages storage server CRUD.
type ServersHandler struct {
	store *models.StorageServerStore
}

func NewServersHandler(store *models.StorageServerStore) *ServersHandler {
	return &ServersHandler{store: store}
}

func (h *ServersHandler) Routes(r chi.Router) {
	r.Route("/servers", func(r chi.Router) {
		r.Get("/", h.List)
		r.Post("/", h.Create)
		r.Route("/{serverID}", func(r chi.Router) {
			r.Get("/", h.Get)
			r.Put("/", h.Update)
			r.Delete("/", h.Delete)
		})
	})
}

type serverPayload struct {
	Name             string                   `json:"name"`
	Protocol         models.TransportProtocol `json:"protocol"`
	Host             string                   `json:"host"`
	Port             int                      `json:"port"`
	Username         string                   `json:"username"`
	Password         string                   `json:"password"`
	Share            string                   `json:"share"`
	MovieRoot        string                   `json:"movieRoot"`
	TVRoot           string                   `json:"tvRoot"`
	MaxResolution    domain.Resolution        `json:"maxResolution"`
	DefaultProfileID *int64                   `json:"defaultProfileId"`
	MediaServerURL   string                   `json:"mediaServerUrl"`
	MediaServerToken string                   `json:"mediaServerToken"`
}

func (p *serverPayload) validate() string {
	if p.Name == "" {
		return "Server name is required"
	}
	if !p.Protocol.IsValid() {
		return "Unknown transport protocol"
	}
	if p.MovieRoot == "" && p.TVRoot == "" {
		return "At least one library root is required"
	}
	if p.Protocol != models.ProtocolLocal && p.Host == "" {
		return "Host is required for remote protocols"
	}
	return ""
}

func (p *serverPayload) apply(srv *models.StorageServer) {
	srv.Name = p.Name
	srv.Protocol = p.Protocol
	srv.Host = p.Host
	srv.Port = p.Port
	srv.Username = p.Username
	srv.Password = p.Password
	srv.Share = p.Share
	srv.MovieRoot = p.MovieRoot
	srv.TVRoot = p.TVRoot
	srv.MaxResolution = p.MaxResolution
	srv.DefaultProfileID = p.DefaultProfileID
	srv.MediaServerURL = p.MediaServerURL
	srv.MediaServerToken = p.MediaServerToken
}

// List handles GET /api/servers
func (h *ServersHandler) List(w http.ResponseWriter, r *http.Request) {
	servers, err := h.store.List(r.Context())
	if err != nil {
		RespondServiceError(w, err, "Failed to list servers")
		return
	}
	if servers == nil {
		servers = []*models.StorageServer{}
	}
	RespondJSON(w, http.StatusOK, servers)
}

// Create handles POST /api/servers
func (h *ServersHandler) Create(w http.ResponseWriter, r *http.Request) {
	var payload serverPayload
	if !DecodeJSON(w, r, &payload) {
		return
	}
	if msg := payload.validate(); msg != "" {
		RespondError(w, http.StatusBadRequest, msg)
		return
	}

	srv := &models.StorageServer{}
	payload.apply(srv)

	created, err := h.store.Create(r.Context(), srv)
	if err != nil {
		RespondServiceError(w, err, "Failed to create server")
		return
	}
	RespondJSON(w, http.StatusCreated, created)
}

// Get handles GET /api/servers/{serverID}
func (h *ServersHandler) Get(w http.ResponseWriter, r *http.Request) {
	id, ok := ParseID(w, r, "serverID", "server ID")
	if !ok {
		return
	}

	srv, err := h.store.Get(r.Context(), id)
	if err != nil {
		RespondServiceError(w, err, "Failed to get server")
		return
	}
	RespondJSON(w, http.StatusOK, srv)
}

// Update handles PUT /api/servers/{serverID}
func (h *ServersHandler) Update(w http.ResponseWriter, r *http.Request) {
	id, ok := ParseID(w, r, "serverID", "server ID")
	if !ok {
		return
	}
	var payload serverPayload
	if !DecodeJSON(w, r, &payload) {
		return
	}
	if msg := payload.validate(); msg != "" {
		RespondError(w, http.StatusBadRequest, msg)
		return
	}

	srv, err := h.store.Get(r.Context(), id)
	if err != nil {
		RespondServiceError(w, err, "Failed to get server")
		return
	}
	payload.apply(srv)

	updated, err := h.store.Update(r.Context(), srv)
	if err != nil {
		RespondServiceError(w, err, "Failed to update server")
		return
	}
	RespondJSON(w, http.StatusOK, updated)
}

// Delete handles DELETE /api/servers/{serverID}
func (h *ServersHandler) Delete(w http.ResponseWriter, r *http.Request) {
	id, ok := ParseID(w, r, "serverID", "server ID")
	if !ok {
		return
	}

	if err := h.store.Delete(r.Context(), id); err != nil {
		RespondServiceError(w, err, "Failed to delete server")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
