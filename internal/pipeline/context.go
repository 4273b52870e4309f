// Copyright (c) 2025-2026, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package pipeline

import (
	"encoding/json"

	"github.com/autobrr/fetcharr/internal/models"
)

// Core context keys. These identify the work and are set once when an
// execution starts; steps may read them but never overwrite them.
const (
	KeyRequestID        = "requestId"
	KeyMediaType        = "mediaType"
	KeyTmdbID           = "tmdbId"
	KeyTitle            = "title"
	KeyYear             = "year"
	KeyTargets          = "targets"
	KeyProcessingItemID = "processingItemId"
	KeyExecutionID      = "executionId"
)

var coreKeys = map[string]struct{}{
	KeyRequestID:        {},
	KeyMediaType:        {},
	KeyTmdbID:           {},
	KeyTitle:            {},
	KeyYear:             {},
	KeyTargets:          {},
	KeyProcessingItemID: {},
	KeyExecutionID:      {},
}

// InitialContext builds the starting context for a request's execution.
func InitialContext(r *models.Request) models.StepContext {
	return models.StepContext{
		KeyRequestID: r.ID,
		KeyMediaType: string(r.MediaType),
		KeyTmdbID:    r.TmdbID,
		KeyTitle:     r.Title,
		KeyYear:      r.Year,
		KeyTargets:   r.Targets,
	}
}

// CloneContext copies a context so concurrent siblings never share a map.
func CloneContext(sc models.StepContext) models.StepContext {
	clone := make(models.StepContext, len(sc))
	for k, v := range sc {
		clone[k] = v
	}
	return clone
}

// MergeData applies step output onto a context, stripping core keys so no
// step can move an execution onto different work.
func MergeData(sc, data models.StepContext) models.StepContext {
	for k, v := range data {
		if _, core := coreKeys[k]; core {
			continue
		}
		sc[k] = v
	}
	return sc
}

// MergeBranches joins sibling results last-writer-wins for non-core keys,
// then re-asserts the core fields from the parent context.
func MergeBranches(parent models.StepContext, branches []models.StepContext) models.StepContext {
	merged := CloneContext(parent)
	for _, branch := range branches {
		merged = MergeData(merged, branch)
	}
	for k := range coreKeys {
		if v, ok := parent[k]; ok {
			merged[k] = v
		}
	}
	return merged
}

// ContextInt64 reads an integer context value, tolerating the float64 that
// JSON round-trips produce.
func ContextInt64(sc models.StepContext, key string) (int64, bool) {
	switch v := sc[key].(type) {
	case int64:
		return v, true
	case int:
		return int64(v), true
	case float64:
		return int64(v), true
	case json.Number:
		if n, err := v.Int64(); err == nil {
			return n, true
		}
	}
	return 0, false
}

// ContextString reads a string context value.
func ContextString(sc models.StepContext, key string) (string, bool) {
	s, ok := sc[key].(string)
	return s, ok
}

// RequestIDFrom returns the owning request id.
func RequestIDFrom(sc models.StepContext) (int64, bool) {
	return ContextInt64(sc, KeyRequestID)
}

// ItemIDFrom returns the processing item the branch currently works on.
// Movie pipelines set it at start; TV branches set it per episode.
func ItemIDFrom(sc models.StepContext) (int64, bool) {
	return ContextInt64(sc, KeyProcessingItemID)
}

// ExecutionIDFrom returns the execution a context belongs to.
func ExecutionIDFrom(sc models.StepContext) (int64, bool) {
	return ContextInt64(sc, KeyExecutionID)
}

// MediaTypeFrom returns the request's media type.
func MediaTypeFrom(sc models.StepContext) models.MediaType {
	s, _ := ContextString(sc, KeyMediaType)
	return models.MediaType(s)
}

// TargetsFrom decodes the request targets out of the context, whichever shape
// they are in after JSON persistence.
func TargetsFrom(sc models.StepContext) []models.Target {
	raw, ok := sc[KeyTargets]
	if !ok {
		return nil
	}
	if targets, ok := raw.([]models.Target); ok {
		return targets
	}

	// Persisted contexts come back as []any of map[string]any.
	payload, err := json.Marshal(raw)
	if err != nil {
		return nil
	}
	var targets []models.Target
	if err := json.Unmarshal(payload, &targets); err != nil {
		return nil
	}
	return targets
}
