// Copyright (c) 2025-2026, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package steps

import (
	"context"
	"errors"

	"github.com/autobrr/fetcharr/internal/domain"
	"github.com/autobrr/fetcharr/internal/models"
	"github.com/autobrr/fetcharr/internal/pipeline"
	"github.com/autobrr/fetcharr/internal/services/reconciler"
)

// DownloadStartStep hands the selected release to the reconciler, which either
// attaches to a torrent the client already has or submits a fresh grab.
type DownloadStartStep struct {
	deps Deps
}

func (s *DownloadStartStep) Kind() string { return "DownloadStart" }

func (s *DownloadStartStep) ValidateConfig(config map[string]any) error { return nil }

func (s *DownloadStartStep) Execute(ctx context.Context, sc models.StepContext, def models.StepDefinition, sink pipeline.ProgressSink) pipeline.Output {
	if _, started := pipeline.ContextInt64(sc, KeyDownloadID); started {
		return pipeline.Skip()
	}

	request, err := s.deps.loadRequest(ctx, sc)
	if err != nil {
		return pipeline.Fail(err)
	}

	release, ok := releaseFrom(sc, KeyRelease)
	if !ok {
		return pipeline.Fail(domain.E(domain.KindPrecondition, "no release selected"))
	}

	itemIDs := scopeItemIDs(sc)
	if len(itemIDs) == 0 {
		return pipeline.Fail(domain.E(domain.KindPrecondition, "no items to attach the download to"))
	}

	s.deps.setItemStatuses(ctx, itemIDs, models.ItemStatusDownloading)

	match := matchSpecFrom(sc)
	result, err := s.deps.Reconciler.Acquire(ctx, request, itemIDs, *release, releasesFrom(sc, KeyAlternatives), match)
	if err != nil {
		return pipeline.Fail(err)
	}

	return pipeline.Succeed(models.StepContext{
		KeyDownloadID:   result.Download.ID,
		KeyDownloadHash: result.Download.TorrentHash,
		KeyDownloadDone: result.AlreadyComplete,
	})
}

// DownloadMonitorStep watches the transfer until it finishes, rotating through
// alternative releases on stall or failure via the reconciler.
type DownloadMonitorStep struct {
	deps Deps
}

func (s *DownloadMonitorStep) Kind() string { return "DownloadMonitor" }

func (s *DownloadMonitorStep) ValidateConfig(config map[string]any) error { return nil }

func (s *DownloadMonitorStep) Execute(ctx context.Context, sc models.StepContext, def models.StepDefinition, sink pipeline.ProgressSink) pipeline.Output {
	if boolFrom(sc, KeyDownloadDone) {
		return pipeline.Skip()
	}

	downloadID, ok := pipeline.ContextInt64(sc, KeyDownloadID)
	if !ok {
		return pipeline.Fail(domain.E(domain.KindPrecondition, "no download to monitor"))
	}

	request, err := s.deps.loadRequest(ctx, sc)
	if err != nil {
		return pipeline.Fail(err)
	}
	download, err := s.deps.Downloads.Get(ctx, downloadID)
	if err != nil {
		return pipeline.Fail(err)
	}

	itemIDs := scopeItemIDs(sc)

	if download.Status == models.DownloadStatusCompleted {
		return pipeline.Succeed(models.StepContext{KeyDownloadDone: true})
	}

	completed, err := s.deps.Reconciler.Monitor(ctx, request, download, itemIDs)
	if err != nil {
		if errors.Is(err, context.Canceled) {
			return pipeline.Fail(err)
		}
		if domain.IsExternal(err) {
			// Alternatives exhausted: the reconciler already re-armed the
			// items, so hold them in awaiting until the next search round.
			s.deps.park(ctx, itemIDs, models.ItemStatusAwaiting, err.Error())
			return pipeline.RetryLater("download exhausted all alternatives")
		}
		return pipeline.Fail(err)
	}

	return pipeline.Succeed(models.StepContext{
		KeyDownloadID:   completed.ID,
		KeyDownloadHash: completed.TorrentHash,
		KeyDownloadDone: true,
	})
}

// scopeItemIDs returns the items the download feeds: the search scope when one
// was recorded, otherwise the branch's own item.
func scopeItemIDs(sc models.StepContext) []int64 {
	if ids := int64sFrom(sc, KeyItemIDs); len(ids) > 0 {
		return ids
	}
	if itemID, ok := pipeline.ItemIDFrom(sc); ok {
		return []int64{itemID}
	}
	return nil
}

func matchSpecFrom(sc models.StepContext) reconciler.MatchSpec {
	var match reconciler.MatchSpec
	if season, ok := pipeline.ContextInt64(sc, KeySeason); ok {
		match.Season = int(season)
	}
	if episode, ok := pipeline.ContextInt64(sc, KeyEpisode); ok {
		match.Episode = int(episode)
	}
	match.SeasonPack = boolFrom(sc, KeySeasonPack)
	return match
}
