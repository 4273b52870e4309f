// Copyright (c) 2025-2026, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package steps

import (
	"context"
	"strconv"

	"github.com/autobrr/fetcharr/internal/domain"
	"github.com/autobrr/fetcharr/internal/models"
	"github.com/autobrr/fetcharr/internal/pipeline"
	"github.com/autobrr/fetcharr/internal/services/selector"
)

// SearchStep queries the indexers and pins the release the rest of the branch
// works with. For TV it searches one season at a time: a season pack when
// several episodes still need a source, a single-episode search when only one
// does.
type SearchStep struct {
	deps Deps
}

func (s *SearchStep) Kind() string { return "Search" }

func (s *SearchStep) ValidateConfig(config map[string]any) error { return nil }

func (s *SearchStep) Execute(ctx context.Context, sc models.StepContext, def models.StepDefinition, sink pipeline.ProgressSink) pipeline.Output {
	if _, found := releaseFrom(sc, KeyRelease); found {
		return pipeline.Skip()
	}

	request, err := s.deps.loadRequest(ctx, sc)
	if err != nil {
		return pipeline.Fail(err)
	}

	scope, err := s.scope(ctx, request, sc)
	if err != nil {
		return pipeline.Fail(err)
	}
	if len(scope.itemIDs) == 0 {
		// Every item already has a source or is past searching.
		return pipeline.Skip()
	}

	s.deps.setItemStatuses(ctx, scope.itemIDs, models.ItemStatusSearching)
	sink.Progress(50)

	result, err := scope.search(ctx, s.deps.Selector, request)
	if err != nil {
		if domain.IsMisconfigured(err) {
			return pipeline.Fail(err)
		}
		// Indexers down is transient; wait it out.
		s.deps.park(ctx, scope.itemIDs, models.ItemStatusAwaiting, "indexer search failed: "+err.Error())
		return pipeline.RetryLater("indexer search failed")
	}

	switch result.State {
	case selector.StateFound:
		s.deps.appendActivity(ctx, request.ID, models.EventReleaseSelected, "Release selected", map[string]any{
			"release":      result.Primary.Title,
			"indexer":      result.Primary.Indexer,
			"alternatives": len(result.Alternatives),
		})

		data := models.StepContext{
			KeyRelease:      result.Primary,
			KeyAlternatives: result.Alternatives,
			KeyItemIDs:      scope.itemIDs,
			KeySeasonPack:   scope.seasonPack,
		}
		if scope.season > 0 {
			data[KeySeason] = scope.season
		}
		if scope.episode > 0 {
			data[KeyEpisode] = scope.episode
		}
		return pipeline.Succeed(data)

	case selector.StateQualityShortfall:
		if err := s.deps.Requests.SetAvailableReleases(ctx, request.ID, result.BelowQuality); err != nil {
			return pipeline.Fail(err)
		}
		s.deps.appendActivity(ctx, request.ID, models.EventQualityShortfall, "No release meets the required quality", map[string]any{
			"required":   string(request.RequiredResolution),
			"candidates": len(result.BelowQuality),
		})
		s.deps.park(ctx, scope.itemIDs, models.ItemStatusQualityUnavailable, "no release meets required quality")
		return pipeline.RetryLater("no release meets required quality")

	default:
		s.deps.park(ctx, scope.itemIDs, models.ItemStatusAwaiting, "no releases found")
		return pipeline.RetryLater("no releases found")
	}
}

// searchScope is the slice of the request one search round covers.
type searchScope struct {
	itemIDs    []int64
	season     int
	episode    int
	seasonPack bool
}

func (sc *searchScope) search(ctx context.Context, sel *selector.Selector, request *models.Request) (*selector.Result, error) {
	switch {
	case request.MediaType == models.MediaTypeMovie:
		return sel.SelectMovie(ctx, request)
	case sc.seasonPack:
		return sel.SelectSeasonPack(ctx, request, sc.season)
	default:
		return sel.SelectEpisode(ctx, request, sc.season, sc.episode)
	}
}

// scope picks what to search for. Movies search for their single item; TV
// searches the first season that still has sourceless items.
func (s *SearchStep) scope(ctx context.Context, request *models.Request, sc models.StepContext) (*searchScope, error) {
	if request.MediaType == models.MediaTypeMovie {
		itemID, ok := pipeline.ItemIDFrom(sc)
		if !ok {
			return nil, domain.E(domain.KindPrecondition, "movie context carries no processing item id")
		}
		return &searchScope{itemIDs: []int64{itemID}}, nil
	}

	items, err := s.deps.Items.ListByRequest(ctx, request.ID)
	if err != nil {
		return nil, err
	}

	bySeason := make(map[int][]*models.ProcessingItem)
	var seasons []int
	for _, item := range items {
		if !needsSource(item) {
			continue
		}
		season := *item.Season
		if _, seen := bySeason[season]; !seen {
			seasons = append(seasons, season)
		}
		bySeason[season] = append(bySeason[season], item)
	}
	if len(seasons) == 0 {
		return &searchScope{}, nil
	}

	season := seasons[0]
	pending := bySeason[season]

	scope := &searchScope{season: season}
	for _, item := range pending {
		scope.itemIDs = append(scope.itemIDs, item.ID)
	}
	if len(pending) == 1 && pending[0].Episode != nil {
		scope.episode = *pending[0].Episode
	} else {
		scope.seasonPack = true
	}
	return scope, nil
}

// needsSource reports whether an episode item still has to be fed by a
// download.
func needsSource(item *models.ProcessingItem) bool {
	if item.Kind != models.ItemKindEpisode || item.Season == nil {
		return false
	}
	if item.Status != models.ItemStatusPending && item.Status != models.ItemStatusSearching {
		return false
	}
	if item.DownloadID != nil {
		return false
	}
	if _, mapped := item.StepContext[KeySourceFile].(string); mapped {
		return false
	}
	return true
}

func itemKey(itemID int64) string {
	return strconv.FormatInt(itemID, 10)
}
