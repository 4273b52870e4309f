// Copyright (c) 2025-2026, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

// Package scheduler runs the periodic sweeps that keep the pipeline honest:
// re-arming parked items, reaping stuck executions, rotating quiet downloads
// and discovering newly aired episodes for subscribed shows.
package scheduler

import (
	"context"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/autobrr/fetcharr/internal/metadata"
	"github.com/autobrr/fetcharr/internal/models"
	"github.com/autobrr/fetcharr/internal/services/reconciler"
)

const stuckReason = "no progress for over 1 hour"

// Config sets the sweep cadences.
type Config struct {
	// RetryInterval is the cadence of the awaiting/quality_unavailable
	// retry sweep.
	RetryInterval time.Duration

	// StuckInterval is the cadence of the stuck-execution detector;
	// StuckThreshold is how long an execution may go without any sign of
	// progress before it is failed.
	StuckInterval  time.Duration
	StuckThreshold time.Duration

	// HealthInterval is the cadence of the download health sweep.
	HealthInterval time.Duration

	// EpisodeInterval is the cadence of the new-episode check for
	// subscribed TV requests.
	EpisodeInterval time.Duration
}

// DefaultConfig returns production cadences.
func DefaultConfig() Config {
	return Config{
		RetryInterval:   30 * time.Minute,
		StuckInterval:   15 * time.Minute,
		StuckThreshold:  time.Hour,
		HealthInterval:  5 * time.Minute,
		EpisodeInterval: 6 * time.Hour,
	}
}

// Starter re-arms a request's pipeline. The executor implements it and
// deduplicates starts against live executions, so sweeps can call it blindly.
type Starter interface {
	Start(ctx context.Context, requestID int64, templateID *int64) (*models.Execution, error)
}

// Service owns the periodic sweeps.
type Service struct {
	cfg         Config
	requests    *models.RequestStore
	items       *models.ProcessingItemStore
	downloads   *models.DownloadStore
	executions  *models.ExecutionStore
	assignments *models.EncoderAssignmentStore
	activity    *models.ActivityLogStore
	metadata    metadata.Provider
	reconciler  *reconciler.Reconciler
	starter     Starter

	// now and spawn are injectable for tests.
	now   func() time.Time
	spawn func(func())
}

// NewService creates the scheduler. Zero cadences fall back to defaults.
func NewService(cfg Config, requests *models.RequestStore, items *models.ProcessingItemStore, downloads *models.DownloadStore, executions *models.ExecutionStore, assignments *models.EncoderAssignmentStore, activity *models.ActivityLogStore, provider metadata.Provider, rec *reconciler.Reconciler, starter Starter) *Service {
	def := DefaultConfig()
	if cfg.RetryInterval <= 0 {
		cfg.RetryInterval = def.RetryInterval
	}
	if cfg.StuckInterval <= 0 {
		cfg.StuckInterval = def.StuckInterval
	}
	if cfg.StuckThreshold <= 0 {
		cfg.StuckThreshold = def.StuckThreshold
	}
	if cfg.HealthInterval <= 0 {
		cfg.HealthInterval = def.HealthInterval
	}
	if cfg.EpisodeInterval <= 0 {
		cfg.EpisodeInterval = def.EpisodeInterval
	}

	return &Service{
		cfg:         cfg,
		requests:    requests,
		items:       items,
		downloads:   downloads,
		executions:  executions,
		assignments: assignments,
		activity:    activity,
		metadata:    provider,
		reconciler:  rec,
		starter:     starter,
		now:         time.Now,
		spawn:       func(fn func()) { go fn() },
	}
}

// Start launches all sweep loops. They stop when ctx is cancelled.
func (s *Service) Start(ctx context.Context) {
	s.spawn(func() { s.loop(ctx, s.cfg.RetryInterval, s.RetryAwaiting) })
	s.spawn(func() { s.loop(ctx, s.cfg.StuckInterval, s.DetectStuck) })
	s.spawn(func() { s.loop(ctx, s.cfg.HealthInterval, s.CheckDownloadHealth) })
	s.spawn(func() { s.loop(ctx, s.cfg.EpisodeInterval, s.DiscoverEpisodes) })
}

func (s *Service) loop(ctx context.Context, interval time.Duration, sweep func(context.Context)) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			sweep(ctx)
		}
	}
}

// RetryAwaiting re-arms items whose retry time has arrived and restarts their
// request's pipeline.
func (s *Service) RetryAwaiting(ctx context.Context) {
	due, err := s.items.ListRetryable(ctx, s.now())
	if err != nil {
		log.Error().Err(err).Msg("scheduler: failed to list retryable items")
		return
	}
	if len(due) == 0 {
		return
	}

	var requestIDs []int64
	seen := make(map[int64]struct{})
	for _, item := range due {
		if err := s.items.ResetToPending(ctx, item.ID); err != nil {
			log.Warn().Err(err).Int64("itemId", item.ID).Msg("scheduler: failed to re-arm item")
			continue
		}
		if _, ok := seen[item.RequestID]; !ok {
			seen[item.RequestID] = struct{}{}
			requestIDs = append(requestIDs, item.RequestID)
		}
	}

	for _, requestID := range requestIDs {
		if _, err := s.starter.Start(ctx, requestID, nil); err != nil {
			log.Warn().Err(err).Int64("requestId", requestID).
				Msg("scheduler: failed to restart pipeline for retried items")
		}
	}

	log.Info().Int("items", len(due)).Int("requests", len(requestIDs)).
		Msg("scheduler: re-armed waiting items")
}

// DetectStuck fails running executions that show no progress: either an
// encoder assignment gone quiet or a request untouched for the whole stuck
// window while its items sit in an active stage.
func (s *Service) DetectStuck(ctx context.Context) {
	executions, err := s.executions.ListUnfinished(ctx)
	if err != nil {
		log.Error().Err(err).Msg("scheduler: failed to list executions")
		return
	}

	cutoff := s.now().Add(-s.cfg.StuckThreshold)

	stalledRequests := make(map[int64]struct{})
	stalled, err := s.assignments.ListStalled(ctx, cutoff)
	if err != nil {
		log.Error().Err(err).Msg("scheduler: failed to list stalled assignments")
	} else {
		for _, a := range stalled {
			stalledRequests[a.RequestID] = struct{}{}
		}
	}

	for _, exec := range executions {
		if exec.Status != models.ExecutionStatusRunning {
			continue
		}

		stuck := false
		if _, ok := stalledRequests[exec.RequestID]; ok {
			stuck = true
		} else if s.requestStale(ctx, exec.RequestID, cutoff) {
			stuck = true
		}
		if !stuck {
			continue
		}

		if ok, err := s.executions.Finish(ctx, exec.ID, models.ExecutionStatusFailed, stuckReason); err != nil || !ok {
			continue
		}

		items, err := s.items.ListByRequest(ctx, exec.RequestID)
		if err != nil {
			log.Warn().Err(err).Int64("requestId", exec.RequestID).Msg("scheduler: failed to list items of stuck request")
			continue
		}
		for _, item := range items {
			if item.Status.IsTerminal() {
				continue
			}
			if err := s.items.SetStatus(ctx, item.ID, models.ItemStatusFailed, stuckReason); err != nil {
				log.Warn().Err(err).Int64("itemId", item.ID).Msg("scheduler: failed to fail stuck item")
			}
		}

		if err := s.activity.Append(ctx, exec.RequestID, models.EventItemStuck, "Pipeline reaped after no progress", map[string]any{
			"executionId": exec.ID,
		}); err != nil {
			log.Warn().Err(err).Int64("requestId", exec.RequestID).Msg("scheduler: failed to log stuck reap")
		}

		log.Warn().Int64("executionId", exec.ID).Int64("requestId", exec.RequestID).
			Msg("scheduler: reaped stuck execution")
	}
}

func (s *Service) requestStale(ctx context.Context, requestID int64, cutoff time.Time) bool {
	request, err := s.requests.Get(ctx, requestID)
	if err != nil {
		return false
	}
	if !request.UpdatedAt.Before(cutoff) {
		return false
	}

	items, err := s.items.ListByRequest(ctx, requestID)
	if err != nil {
		return false
	}
	for _, item := range items {
		if item.Status.IsActive() {
			return true
		}
	}
	return false
}

// CheckDownloadHealth rotates active downloads that went quiet outside any
// Monitor loop, e.g. after a restart left nobody watching them.
func (s *Service) CheckDownloadHealth(ctx context.Context) {
	active, err := s.downloads.ListActive(ctx)
	if err != nil {
		log.Error().Err(err).Msg("scheduler: failed to list active downloads")
		return
	}

	for _, download := range active {
		if !s.reconciler.Stalled(download) {
			continue
		}

		request, err := s.requests.Get(ctx, download.RequestID)
		if err != nil {
			log.Warn().Err(err).Int64("downloadId", download.ID).Msg("scheduler: failed to load request of stalled download")
			continue
		}
		items, err := s.items.ListByDownload(ctx, download.ID)
		if err != nil {
			log.Warn().Err(err).Int64("downloadId", download.ID).Msg("scheduler: failed to list items of stalled download")
			continue
		}
		itemIDs := make([]int64, 0, len(items))
		for _, item := range items {
			itemIDs = append(itemIDs, item.ID)
		}

		if _, err := s.reconciler.Rotate(ctx, request, download, itemIDs, "no progress within stall window"); err != nil {
			// Exhaustion already re-armed the items for a fresh search.
			log.Warn().Err(err).Int64("downloadId", download.ID).Msg("scheduler: download rotation gave up")
		}
	}
}

// DiscoverEpisodes refreshes episode metadata for subscribed TV requests,
// wakes awaiting episodes whose air date has passed and creates items for
// episodes published since the request was made.
func (s *Service) DiscoverEpisodes(ctx context.Context) {
	subscribed, err := s.requests.ListSubscribedTV(ctx)
	if err != nil {
		log.Error().Err(err).Msg("scheduler: failed to list subscribed requests")
		return
	}

	for _, request := range subscribed {
		if s.refreshEpisodes(ctx, request) {
			if _, err := s.starter.Start(ctx, request.ID, nil); err != nil {
				log.Warn().Err(err).Int64("requestId", request.ID).
					Msg("scheduler: failed to restart pipeline for discovered episodes")
			}
		}
	}
}

// refreshEpisodes reports whether any item became ready for a new pipeline
// round.
func (s *Service) refreshEpisodes(ctx context.Context, request *models.Request) bool {
	items, err := s.items.ListByRequest(ctx, request.ID)
	if err != nil {
		log.Warn().Err(err).Int64("requestId", request.ID).Msg("scheduler: failed to list items")
		return false
	}

	type slot struct{ season, episode int }
	existing := make(map[slot]*models.ProcessingItem, len(items))
	seasons := make(map[int]struct{})
	for _, item := range items {
		if item.Season == nil || item.Episode == nil {
			continue
		}
		existing[slot{*item.Season, *item.Episode}] = item
		seasons[*item.Season] = struct{}{}
	}
	for _, season := range request.RequestedSeasons {
		seasons[season] = struct{}{}
	}

	now := s.now()
	var woke bool
	for seasonNumber := range seasons {
		season, err := s.metadata.GetSeason(ctx, request.TmdbID, seasonNumber)
		if err != nil {
			log.Warn().Err(err).Int64("requestId", request.ID).Int("season", seasonNumber).
				Msg("scheduler: failed to refresh season metadata")
			continue
		}

		for i := range season.Episodes {
			episode := &season.Episodes[i]

			item, known := existing[slot{episode.Season, episode.Episode}]
			if known {
				if item.Status == models.ItemStatusAwaiting && episode.Aired(now) {
					if err := s.items.ResetToPending(ctx, item.ID); err != nil {
						log.Warn().Err(err).Int64("itemId", item.ID).Msg("scheduler: failed to wake aired episode")
						continue
					}
					woke = true
				}
				continue
			}

			status := models.ItemStatusAwaiting
			if episode.Aired(now) {
				status = models.ItemStatusPending
				woke = true
			}
			seasonNum, episodeNum := episode.Season, episode.Episode
			if _, err := s.items.Create(ctx, &models.ProcessingItem{
				RequestID: request.ID,
				Kind:      models.ItemKindEpisode,
				Season:    &seasonNum,
				Episode:   &episodeNum,
				AirDate:   episode.AirDate,
				Title:     episode.Title,
				Status:    status,
			}); err != nil {
				log.Warn().Err(err).Int64("requestId", request.ID).
					Int("season", seasonNum).Int("episode", episodeNum).
					Msg("scheduler: failed to create discovered episode")
				continue
			}

			if err := s.activity.Append(ctx, request.ID, models.EventEpisodeDiscovered, "New episode discovered", map[string]any{
				"season":  seasonNum,
				"episode": episodeNum,
				"title":   episode.Title,
			}); err != nil {
				log.Warn().Err(err).Int64("requestId", request.ID).Msg("scheduler: failed to log discovery")
			}
		}
	}

	return woke
}
