// Copyright (c) 2025-2026, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

// Package requests is the command facade in front of the pipeline. Every
// user-visible operation (create, cancel, retry, accept lower quality, ...)
// lives here; the API handlers stay thin and transport-bound.
package requests

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"sort"
	"time"

	"github.com/lithammer/fuzzysearch/fuzzy"
	"github.com/rs/zerolog/log"

	"github.com/autobrr/fetcharr/internal/domain"
	"github.com/autobrr/fetcharr/internal/metadata"
	"github.com/autobrr/fetcharr/internal/models"
	"github.com/autobrr/fetcharr/internal/pipeline/steps"
	"github.com/autobrr/fetcharr/internal/quality"
	"github.com/autobrr/fetcharr/internal/services/status"
)

// maxListLimit caps the page size of the list command.
const maxListLimit = 100

// Pipeline is the slice of the executor the facade drives.
type Pipeline interface {
	Start(ctx context.Context, requestID int64, templateID *int64) (*models.Execution, error)
	Cancel(ctx context.Context, requestID int64, reason string) error
}

// Service implements the command facade.
type Service struct {
	requests *models.RequestStore
	items    *models.ProcessingItemStore
	servers  *models.StorageServerStore
	libcache *models.LibraryCacheStore
	activity *models.ActivityLogStore
	metadata metadata.Provider
	pipeline Pipeline
}

// NewService wires the facade.
func NewService(requests *models.RequestStore, items *models.ProcessingItemStore, servers *models.StorageServerStore, libcache *models.LibraryCacheStore, activity *models.ActivityLogStore, provider metadata.Provider, pipeline Pipeline) *Service {
	return &Service{
		requests: requests,
		items:    items,
		servers:  servers,
		libcache: libcache,
		activity: activity,
		metadata: provider,
		pipeline: pipeline,
	}
}

// CreateMovieInput describes a movie request.
type CreateMovieInput struct {
	TmdbID          int64           `json:"tmdbId"`
	Title           string          `json:"title"`
	Year            int             `json:"year"`
	Targets         []models.Target `json:"targets"`
	SelectedRelease *models.Release `json:"selectedRelease,omitempty"`
	TemplateID      *int64          `json:"templateId,omitempty"`
}

// CreateTVInput describes a TV request. Episodes narrows the expansion and
// only makes sense with exactly one season.
type CreateTVInput struct {
	TmdbID          int64           `json:"tmdbId"`
	Title           string          `json:"title"`
	Year            int             `json:"year"`
	Targets         []models.Target `json:"targets"`
	Seasons         []int           `json:"seasons,omitempty"`
	Episodes        []int           `json:"episodes,omitempty"`
	SelectedRelease *models.Release `json:"selectedRelease,omitempty"`
	TemplateID      *int64          `json:"templateId,omitempty"`
	Subscribe       bool            `json:"subscribe"`
}

// Detail is a request together with its aggregated live status.
type Detail struct {
	*models.Request
	Summary status.Summary `json:"summary"`
}

// EpisodeStatus is the live view of one episode item.
type EpisodeStatus struct {
	ItemID    int64             `json:"itemId"`
	Episode   int               `json:"episode"`
	Title     string            `json:"title,omitempty"`
	AirDate   *time.Time        `json:"airDate,omitempty"`
	Status    models.ItemStatus `json:"status"`
	Progress  float64           `json:"progress"`
	LastError string            `json:"lastError,omitempty"`
}

// SeasonStatuses groups episode statuses under their season.
type SeasonStatuses struct {
	Season   int             `json:"season"`
	Episodes []EpisodeStatus `json:"episodes"`
}

// resolveTargets validates the target servers exist and derives the quality
// floor from their capabilities.
func (s *Service) resolveTargets(ctx context.Context, targets []models.Target) (domain.Resolution, error) {
	if len(targets) == 0 {
		return "", domain.E(domain.KindPrecondition, "at least one target server is required")
	}

	servers := make([]*models.StorageServer, 0, len(targets))
	for _, target := range targets {
		server, err := s.servers.Get(ctx, target.ServerID)
		if err != nil {
			if errors.Is(err, sql.ErrNoRows) {
				return "", domain.Ef(domain.KindNotFound, "storage server %d not found", target.ServerID)
			}
			return "", err
		}
		servers = append(servers, server)
	}

	return quality.RequiredResolution(servers), nil
}

// CreateMovie creates a movie request with a single processing item and kicks
// off its pipeline.
func (s *Service) CreateMovie(ctx context.Context, in CreateMovieInput) (*models.Request, error) {
	required, err := s.resolveTargets(ctx, in.Targets)
	if err != nil {
		return nil, err
	}

	title, year := in.Title, in.Year
	if movie, err := s.metadata.GetMovie(ctx, in.TmdbID); err == nil && movie != nil {
		if title == "" {
			title = movie.Title
		}
		if year == 0 {
			year = movie.Year
		}
	}

	request, err := s.requests.Create(ctx, &models.Request{
		MediaType:          models.MediaTypeMovie,
		TmdbID:             in.TmdbID,
		Title:              title,
		Year:               year,
		Targets:            in.Targets,
		SelectedRelease:    in.SelectedRelease,
		RequiredResolution: required,
	})
	if err != nil {
		return nil, err
	}

	if _, err := s.items.Create(ctx, &models.ProcessingItem{
		RequestID: request.ID,
		Kind:      models.ItemKindMovie,
		Title:     title,
		Status:    models.ItemStatusPending,
	}); err != nil {
		return nil, err
	}

	s.logActivity(ctx, request.ID, models.EventRequestCreated, "Request created", map[string]any{
		"title": title,
		"year":  year,
	})
	s.startPipeline(ctx, request.ID, in.TemplateID)

	return request, nil
}

// CreateTV expands a TV request into one processing item per episode.
// Episodes already present on every target server are created completed so
// progress accounting counts them as done without re-acquiring them.
func (s *Service) CreateTV(ctx context.Context, in CreateTVInput) (*models.Request, error) {
	required, err := s.resolveTargets(ctx, in.Targets)
	if err != nil {
		return nil, err
	}
	if len(in.Episodes) > 0 && len(in.Seasons) != 1 {
		return nil, domain.E(domain.KindPrecondition, "an episode list requires exactly one season")
	}

	show, err := s.metadata.GetShow(ctx, in.TmdbID)
	if err != nil {
		return nil, domain.Wrap(domain.KindExternal, "failed to look up show", err)
	}

	title, year := in.Title, in.Year
	if title == "" {
		title = show.Title
	}
	if year == 0 {
		year = show.Year
	}

	seasons := in.Seasons
	if len(seasons) == 0 {
		for _, summary := range show.Seasons {
			if summary.Number > 0 {
				seasons = append(seasons, summary.Number)
			}
		}
	}
	if len(seasons) == 0 {
		return nil, domain.E(domain.KindPrecondition, "show has no seasons to request")
	}

	wantEpisode := func(int) bool { return true }
	if len(in.Episodes) > 0 {
		wanted := make(map[int]struct{}, len(in.Episodes))
		for _, e := range in.Episodes {
			wanted[e] = struct{}{}
		}
		wantEpisode = func(e int) bool { _, ok := wanted[e]; return ok }
	}

	request, err := s.requests.Create(ctx, &models.Request{
		MediaType:          models.MediaTypeTV,
		TmdbID:             in.TmdbID,
		Title:              title,
		Year:               year,
		RequestedSeasons:   seasons,
		RequestedEpisodes:  in.Episodes,
		Targets:            in.Targets,
		SelectedRelease:    in.SelectedRelease,
		RequiredResolution: required,
		Subscribed:         in.Subscribe,
	})
	if err != nil {
		return nil, err
	}

	now := time.Now()
	var batch []*models.ProcessingItem
	for _, seasonNumber := range seasons {
		season, err := s.metadata.GetSeason(ctx, in.TmdbID, seasonNumber)
		if err != nil {
			return nil, domain.Wrap(domain.KindExternal, fmt.Sprintf("failed to look up season %d", seasonNumber), err)
		}

		for i := range season.Episodes {
			episode := &season.Episodes[i]
			if !wantEpisode(episode.Episode) {
				continue
			}

			itemStatus := models.ItemStatusAwaiting
			switch {
			case s.inLibraryEverywhere(ctx, in.TmdbID, episode.Season, episode.Episode, in.Targets):
				itemStatus = models.ItemStatusCompleted
			case episode.Aired(now):
				itemStatus = models.ItemStatusPending
			}

			seasonNum, episodeNum := episode.Season, episode.Episode
			item := &models.ProcessingItem{
				RequestID: request.ID,
				Kind:      models.ItemKindEpisode,
				Season:    &seasonNum,
				Episode:   &episodeNum,
				AirDate:   episode.AirDate,
				Title:     episode.Title,
				Status:    itemStatus,
			}
			if itemStatus == models.ItemStatusCompleted {
				item.Progress = 100
			}
			batch = append(batch, item)
		}
	}
	if len(batch) == 0 {
		return nil, domain.E(domain.KindPrecondition, "no episodes matched the request")
	}
	if err := s.items.CreateBatch(ctx, batch); err != nil {
		return nil, err
	}

	s.logActivity(ctx, request.ID, models.EventRequestCreated, "Request created", map[string]any{
		"title":    title,
		"seasons":  seasons,
		"episodes": len(batch),
	})
	s.startPipeline(ctx, request.ID, in.TemplateID)

	return request, nil
}

// inLibraryEverywhere reports whether the episode already exists on every
// target server.
func (s *Service) inLibraryEverywhere(ctx context.Context, tmdbID int64, season, episode int, targets []models.Target) bool {
	for _, target := range targets {
		has, err := s.libcache.HasEpisode(ctx, tmdbID, season, episode, target.ServerID)
		if err != nil || !has {
			return false
		}
	}
	return true
}

// ListInput filters the list command.
type ListInput struct {
	Limit  int
	Offset int
	Status status.RequestStatus
	Search string
}

// List returns requests newest first, each with its aggregated status.
// A status filter and a fuzzy title search are applied after aggregation.
func (s *Service) List(ctx context.Context, in ListInput) ([]*Detail, error) {
	limit := in.Limit
	if limit <= 0 || limit > maxListLimit {
		limit = maxListLimit
	}
	if in.Offset < 0 {
		in.Offset = 0
	}

	requests, err := s.requests.List(ctx, limit, in.Offset)
	if err != nil {
		return nil, err
	}

	details := make([]*Detail, 0, len(requests))
	for _, request := range requests {
		if in.Search != "" && !fuzzy.MatchNormalizedFold(in.Search, request.Title) {
			continue
		}

		detail, err := s.detail(ctx, request)
		if err != nil {
			return nil, err
		}
		if in.Status != "" && detail.Summary.Status != in.Status {
			continue
		}
		details = append(details, detail)
	}

	return details, nil
}

// Get returns one request with its aggregated status.
func (s *Service) Get(ctx context.Context, id int64) (*Detail, error) {
	request, err := s.get(ctx, id)
	if err != nil {
		return nil, err
	}
	return s.detail(ctx, request)
}

func (s *Service) get(ctx context.Context, id int64) (*models.Request, error) {
	request, err := s.requests.Get(ctx, id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, domain.Ef(domain.KindNotFound, "request %d not found", id)
		}
		return nil, err
	}
	return request, nil
}

func (s *Service) detail(ctx context.Context, request *models.Request) (*Detail, error) {
	items, err := s.items.ListByRequest(ctx, request.ID)
	if err != nil {
		return nil, err
	}
	return &Detail{Request: request, Summary: status.Aggregate(items)}, nil
}

// Cancel stops a request: flag first so steps bail between I/O calls, then
// cascade through executions, items and encoder assignments.
func (s *Service) Cancel(ctx context.Context, id int64) error {
	if _, err := s.get(ctx, id); err != nil {
		return err
	}
	if err := s.requests.SetCancelRequested(ctx, id, true); err != nil {
		return err
	}
	return s.pipeline.Cancel(ctx, id, "cancelled by user")
}

// Retry resets every non-completed item to pending and restarts the pipeline.
// Accreted step context survives the reset, so finished stages are skipped.
func (s *Service) Retry(ctx context.Context, id int64) error {
	request, err := s.get(ctx, id)
	if err != nil {
		return err
	}

	items, err := s.items.ListByRequest(ctx, id)
	if err != nil {
		return err
	}
	var reset int
	for _, item := range items {
		if item.Status == models.ItemStatusCompleted {
			continue
		}
		if err := s.items.ResetToPending(ctx, item.ID); err != nil {
			return err
		}
		reset++
	}
	if reset == 0 {
		return domain.E(domain.KindPrecondition, "nothing to retry, all items are completed")
	}

	if request.CancelRequested {
		if err := s.requests.SetCancelRequested(ctx, id, false); err != nil {
			return err
		}
	}
	if request.CompletedAt != nil {
		if err := s.requests.SetCompletedAt(ctx, id, nil); err != nil {
			return err
		}
	}

	s.logActivity(ctx, id, models.EventRequestRetried, "Request retried", map[string]any{
		"items": reset,
	})

	if _, err := s.pipeline.Start(ctx, id, nil); err != nil {
		return err
	}
	return nil
}

// Delete cancels whatever is still running and removes the request. Items,
// downloads, executions and activity cascade in the store.
func (s *Service) Delete(ctx context.Context, id int64) error {
	if _, err := s.get(ctx, id); err != nil {
		return err
	}
	if err := s.pipeline.Cancel(ctx, id, "request deleted"); err != nil {
		log.Warn().Err(err).Int64("requestId", id).Msg("requests: failed to cancel before delete")
	}
	return s.requests.Delete(ctx, id)
}

// AcceptLowerQuality pins one of the stored below-quality releases and
// re-enters the pipeline with it.
func (s *Service) AcceptLowerQuality(ctx context.Context, id int64, releaseIndex int) error {
	request, err := s.get(ctx, id)
	if err != nil {
		return err
	}
	if releaseIndex < 0 || releaseIndex >= len(request.AvailableReleases) {
		return domain.Ef(domain.KindPrecondition, "release index %d out of range, %d available", releaseIndex, len(request.AvailableReleases))
	}

	items, err := s.items.ListByRequest(ctx, id)
	if err != nil {
		return err
	}
	var waiting []*models.ProcessingItem
	for _, item := range items {
		if item.Status == models.ItemStatusQualityUnavailable {
			waiting = append(waiting, item)
		}
	}
	if len(waiting) == 0 {
		return domain.E(domain.KindPrecondition, "request is not waiting on a quality decision")
	}

	release := request.AvailableReleases[releaseIndex]
	if err := s.requests.SetSelectedRelease(ctx, id, &release); err != nil {
		return err
	}
	if err := s.requests.SetAvailableReleases(ctx, id, nil); err != nil {
		return err
	}
	for _, item := range waiting {
		if err := s.items.ResetToPending(ctx, item.ID); err != nil {
			return err
		}
	}

	s.logActivity(ctx, id, models.EventReleaseApproved, "Lower quality release accepted", map[string]any{
		"title":      release.Title,
		"resolution": release.Resolution,
	})

	if _, err := s.pipeline.Start(ctx, id, nil); err != nil {
		return err
	}
	return nil
}

// RefreshQualitySearch drops the stored below-quality candidates and any
// pinned release, then searches again from scratch.
func (s *Service) RefreshQualitySearch(ctx context.Context, id int64) error {
	if _, err := s.get(ctx, id); err != nil {
		return err
	}
	if err := s.requests.SetAvailableReleases(ctx, id, nil); err != nil {
		return err
	}
	if err := s.requests.SetSelectedRelease(ctx, id, nil); err != nil {
		return err
	}

	items, err := s.items.ListByRequest(ctx, id)
	if err != nil {
		return err
	}
	for _, item := range items {
		if item.Status != models.ItemStatusAwaiting && item.Status != models.ItemStatusQualityUnavailable {
			continue
		}
		if err := s.items.ResetToPending(ctx, item.ID); err != nil {
			return err
		}
	}

	if _, err := s.pipeline.Start(ctx, id, nil); err != nil {
		return err
	}
	return nil
}

// Reprocess re-runs encode and delivery for items whose source file still
// exists on disk; items without one start over from search.
func (s *Service) Reprocess(ctx context.Context, id int64) error {
	if _, err := s.get(ctx, id); err != nil {
		return err
	}

	items, err := s.items.ListByRequest(ctx, id)
	if err != nil {
		return err
	}
	if len(items) == 0 {
		return domain.E(domain.KindPrecondition, "request has no items to reprocess")
	}

	for _, item := range items {
		if sourcePath, ok := item.StepContext[steps.KeySourceFile].(string); ok && fileExists(sourcePath) {
			// Drop the encode and delivery results but keep the source, so
			// the pipeline skips straight back to the encode step.
			trimmed := models.StepContext{}
			for key, value := range item.StepContext {
				switch key {
				case steps.KeyEncodeOutputs, steps.KeyEncodeOutput:
				default:
					trimmed[key] = value
				}
			}
			if err := s.items.SetStepContext(ctx, item.ID, trimmed); err != nil {
				return err
			}
		} else if err := s.items.ClearStepContext(ctx, item.ID); err != nil {
			return err
		}
		if err := s.items.ResetToPending(ctx, item.ID); err != nil {
			return err
		}
	}

	s.logActivity(ctx, id, models.EventRequestRetried, "Request reprocessed", map[string]any{
		"items": len(items),
	})

	if _, err := s.pipeline.Start(ctx, id, nil); err != nil {
		return err
	}
	return nil
}

// GetEpisodeStatuses returns the per-season live view of a TV request.
func (s *Service) GetEpisodeStatuses(ctx context.Context, id int64) ([]SeasonStatuses, error) {
	request, err := s.get(ctx, id)
	if err != nil {
		return nil, err
	}
	if request.MediaType != models.MediaTypeTV {
		return nil, domain.E(domain.KindPrecondition, "episode statuses only exist for tv requests")
	}

	items, err := s.items.ListByRequest(ctx, id)
	if err != nil {
		return nil, err
	}

	grouped := make(map[int][]EpisodeStatus)
	for _, item := range items {
		if item.Season == nil || item.Episode == nil {
			continue
		}
		grouped[*item.Season] = append(grouped[*item.Season], EpisodeStatus{
			ItemID:    item.ID,
			Episode:   *item.Episode,
			Title:     item.Title,
			AirDate:   item.AirDate,
			Status:    item.Status,
			Progress:  item.Progress,
			LastError: item.LastError,
		})
	}

	seasons := make([]SeasonStatuses, 0, len(grouped))
	for season, episodes := range grouped {
		sort.Slice(episodes, func(i, j int) bool { return episodes[i].Episode < episodes[j].Episode })
		seasons = append(seasons, SeasonStatuses{Season: season, Episodes: episodes})
	}
	sort.Slice(seasons, func(i, j int) bool { return seasons[i].Season < seasons[j].Season })

	return seasons, nil
}

// GetAlternatives returns the stored below-quality releases, best first.
func (s *Service) GetAlternatives(ctx context.Context, id int64) ([]models.Release, error) {
	request, err := s.get(ctx, id)
	if err != nil {
		return nil, err
	}
	return request.AvailableReleases, nil
}

// Activity returns the request's event feed, newest first.
func (s *Service) Activity(ctx context.Context, id int64, limit int) ([]*models.ActivityLog, error) {
	if _, err := s.get(ctx, id); err != nil {
		return nil, err
	}
	if limit <= 0 || limit > maxListLimit {
		limit = maxListLimit
	}
	return s.activity.ListByRequest(ctx, id, limit)
}

func (s *Service) startPipeline(ctx context.Context, requestID int64, templateID *int64) {
	if _, err := s.pipeline.Start(ctx, requestID, templateID); err != nil {
		log.Error().Err(err).Int64("requestId", requestID).Msg("requests: failed to start pipeline")
	}
}

func (s *Service) logActivity(ctx context.Context, requestID int64, event, message string, details map[string]any) {
	if err := s.activity.Append(ctx, requestID, event, message, details); err != nil {
		log.Warn().Err(err).Int64("requestId", requestID).Msg("requests: failed to append activity")
	}
}

func fileExists(path string) bool {
	info, err := os.Stat(path)
	return err == nil && !info.IsDir()
}
