// Copyright (c) 2025-2026, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

// Package steps implements the built-in pipeline step kinds. Each step is a
// thin adapter between the executor's context model and one service: the
// selector, the download reconciler, the file mapper, the encode coordinator
// and the delivery coordinator.
package steps

import (
	"context"
	"encoding/json"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/autobrr/fetcharr/internal/domain"
	"github.com/autobrr/fetcharr/internal/encoder"
	"github.com/autobrr/fetcharr/internal/models"
	"github.com/autobrr/fetcharr/internal/pipeline"
	"github.com/autobrr/fetcharr/internal/services/delivery"
	"github.com/autobrr/fetcharr/internal/services/encodecoord"
	"github.com/autobrr/fetcharr/internal/services/filemapper"
	"github.com/autobrr/fetcharr/internal/services/reconciler"
	"github.com/autobrr/fetcharr/internal/services/selector"
)

// Context keys the steps write. Everything here survives JSON persistence, so
// readers must tolerate the decoded shapes (float64 numbers, []any slices).
const (
	KeyRelease      = "search.release"
	KeyAlternatives = "search.alternatives"
	KeySeason       = "search.season"
	KeyEpisode      = "search.episode"
	KeySeasonPack   = "search.seasonPack"
	KeyItemIDs      = "search.itemIds"

	KeyDownloadID   = "download.id"
	KeyDownloadHash = "download.hash"
	KeyDownloadDone = "download.complete"
	KeySourceFile   = "download.sourceFilePath"

	// KeyMappedFiles is a map of item id (as a string, JSON objects cannot
	// key on numbers) to mapped source file path.
	KeyMappedFiles = "mapfiles.paths"

	KeyEncodeOutputs = "encode.outputs"
	KeyEncodeOutput  = "encode.outputPath"
)

// BranchRunner is the slice of the executor the Branch step needs. An
// interface keeps the steps package from importing the executor's innards
// beyond the types it already shares.
type BranchRunner interface {
	RunEpisodeBranches(ctx context.Context, parent *models.Execution, branches []pipeline.EpisodeBranch) error
}

// Deps wires the stores and services into the step implementations. One Deps
// value backs every registered step.
type Deps struct {
	Requests   *models.RequestStore
	Items      *models.ProcessingItemStore
	Downloads  *models.DownloadStore
	Executions *models.ExecutionStore
	Activity   *models.ActivityLogStore

	Selector   *selector.Selector
	Reconciler *reconciler.Reconciler
	Mapper     *filemapper.Mapper
	Encoder    *encodecoord.Coordinator
	Delivery   *delivery.Coordinator
	Pool       encoder.Pool
	Runner     BranchRunner
}

// NewDefaultRegistry registers every built-in step kind.
func NewDefaultRegistry(deps Deps) *pipeline.Registry {
	r := pipeline.NewRegistry()
	r.Register(&SearchStep{deps: deps})
	r.Register(&ApprovalStep{deps: deps})
	r.Register(&DownloadStartStep{deps: deps})
	r.Register(&DownloadMonitorStep{deps: deps})
	r.Register(&MapFilesStep{deps: deps})
	r.Register(&BranchStep{deps: deps})
	r.Register(&EncodeStep{deps: deps})
	r.Register(&DeliverStep{deps: deps})
	return r
}

// loadRequest resolves the request the context belongs to.
func (d *Deps) loadRequest(ctx context.Context, sc models.StepContext) (*models.Request, error) {
	requestID, ok := pipeline.RequestIDFrom(sc)
	if !ok {
		return nil, domain.E(domain.KindPrecondition, "context carries no request id")
	}
	return d.Requests.Get(ctx, requestID)
}

// loadItem resolves the processing item the branch currently works on.
func (d *Deps) loadItem(ctx context.Context, sc models.StepContext) (*models.ProcessingItem, error) {
	itemID, ok := pipeline.ItemIDFrom(sc)
	if !ok {
		return nil, domain.E(domain.KindPrecondition, "context carries no processing item id")
	}
	return d.Items.Get(ctx, itemID)
}

// park puts items into a wait state and schedules the retry sweep to re-arm
// them, backing off with the item's attempt count.
func (d *Deps) park(ctx context.Context, itemIDs []int64, status models.ItemStatus, reason string) {
	for _, itemID := range itemIDs {
		attempts := 0
		if item, err := d.Items.Get(ctx, itemID); err == nil {
			attempts = item.Attempts
		}
		retryAt := time.Now().Add(pipeline.RetryBackoff(attempts))

		if err := d.Items.SetStatus(ctx, itemID, status, reason); err != nil {
			log.Warn().Err(err).Int64("itemId", itemID).Msg("steps: failed to park item")
		}
		if err := d.Items.SetNextRetryAt(ctx, itemID, &retryAt); err != nil {
			log.Warn().Err(err).Int64("itemId", itemID).Msg("steps: failed to schedule retry")
		}
	}
}

func (d *Deps) setItemStatuses(ctx context.Context, itemIDs []int64, status models.ItemStatus) {
	for _, itemID := range itemIDs {
		if err := d.Items.SetStatus(ctx, itemID, status, ""); err != nil {
			log.Warn().Err(err).Int64("itemId", itemID).Msg("steps: failed to set item status")
		}
	}
}

func (d *Deps) appendActivity(ctx context.Context, requestID int64, event, message string, details map[string]any) {
	if err := d.Activity.Append(ctx, requestID, event, message, details); err != nil {
		log.Warn().Err(err).Int64("requestId", requestID).Str("event", event).
			Msg("steps: failed to append activity")
	}
}

// decodeContextValue re-marshals a persisted context value into a typed
// destination. Contexts that round-tripped through the database come back as
// generic JSON shapes, so a direct type assertion is not enough.
func decodeContextValue(sc models.StepContext, key string, out any) bool {
	raw, ok := sc[key]
	if !ok || raw == nil {
		return false
	}

	payload, err := json.Marshal(raw)
	if err != nil {
		return false
	}
	return json.Unmarshal(payload, out) == nil
}

func releaseFrom(sc models.StepContext, key string) (*models.Release, bool) {
	var release models.Release
	if !decodeContextValue(sc, key, &release) || release.Title == "" {
		return nil, false
	}
	return &release, true
}

func releasesFrom(sc models.StepContext, key string) []models.Release {
	var releases []models.Release
	decodeContextValue(sc, key, &releases)
	return releases
}

func int64sFrom(sc models.StepContext, key string) []int64 {
	var ids []int64
	decodeContextValue(sc, key, &ids)
	return ids
}

func stringMapFrom(sc models.StepContext, key string) map[string]string {
	var m map[string]string
	decodeContextValue(sc, key, &m)
	return m
}

func boolFrom(sc models.StepContext, key string) bool {
	b, _ := sc[key].(bool)
	return b
}
