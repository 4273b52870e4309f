// Copyright (c) 2025-2026, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package handlers

import (
	"database/sql"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog/log"

	"github.com/autobrr/fetcharr/internal/domain"
)

// ErrorResponse represents an API error response
type ErrorResponse struct {
	Error string `json:"error"`
}

// RespondJSON sends a JSON response
func RespondJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)

	if data != nil {
		if err := json.NewEncoder(w).Encode(data); err != nil {
			log.Error().Err(err).Msg("Failed to encode JSON response")
		}
	}
}

// RespondError sends an error response
func RespondError(w http.ResponseWriter, status int, message string) {
	RespondJSON(w, status, ErrorResponse{
		Error: message,
	})
}

// DecodeJSON decodes the request body into the provided struct.
// Returns false if decoding fails (error already sent to client).
func DecodeJSON[T any](w http.ResponseWriter, r *http.Request, dest *T) bool {
	if err := json.NewDecoder(r.Body).Decode(dest); err != nil {
		RespondError(w, http.StatusBadRequest, "Invalid request body")
		return false
	}
	return true
}

// ParseID extracts and validates a positive int64 URL parameter.
// Returns the value and true on success, or 0 and false if invalid (error
// already sent). The displayName is used in error messages.
func ParseID(w http.ResponseWriter, r *http.Request, paramName, displayName string) (int64, bool) {
	value, err := strconv.ParseInt(chi.URLParam(r, paramName), 10, 64)
	if err != nil || value <= 0 {
		RespondError(w, http.StatusBadRequest, "Invalid "+displayName)
		return 0, false
	}
	return value, true
}

// ParseLimit reads the limit query parameter, clamped to maxLimit.
func ParseLimit(r *http.Request, defaultLimit, maxLimit int) int {
	limit := defaultLimit
	if v := r.URL.Query().Get("limit"); v != "" {
		if parsed, err := strconv.Atoi(v); err == nil && parsed > 0 {
			limit = parsed
		}
	}
	if limit > maxLimit {
		limit = maxLimit
	}
	return limit
}

// RespondServiceError maps domain error kinds onto HTTP statuses. Unknown
// errors become a 500 with the fallback message; the real error is logged,
// not leaked.
func RespondServiceError(w http.ResponseWriter, err error, fallbackMessage string) {
	switch {
	case domain.IsNotFound(err) || errors.Is(err, sql.ErrNoRows):
		RespondError(w, http.StatusNotFound, err.Error())
	case domain.IsPrecondition(err):
		RespondError(w, http.StatusConflict, err.Error())
	case domain.IsMisconfigured(err):
		RespondError(w, http.StatusUnprocessableEntity, err.Error())
	case domain.IsExternal(err):
		RespondError(w, http.StatusBadGateway, err.Error())
	default:
		log.Error().Err(err).Msg(fallbackMessage)
		RespondError(w, http.StatusInternalServerError, fallbackMessage)
	}
}
