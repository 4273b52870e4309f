// Copyright (c) 2025-2026, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

// Package selector picks the release a request should download. It queries
// the indexers, runs the candidates through the quality engine and returns a
// primary release plus ordered fallbacks for the reconciler to rotate
// through.
package selector

import (
	"context"

	"github.com/rs/zerolog/log"

	"github.com/autobrr/fetcharr/internal/indexer"
	"github.com/autobrr/fetcharr/internal/models"
	"github.com/autobrr/fetcharr/internal/quality"
)

// maxCandidates caps how many releases a selection carries: one primary plus
// alternatives, and likewise how many below-quality candidates are offered
// for manual approval.
const maxCandidates = 5

// State describes how a selection round ended.
type State int

const (
	// StateFound means a matching release was selected.
	StateFound State = iota
	// StateQualityShortfall means releases exist but none meet the required
	// resolution; BelowQuality carries the best of them.
	StateQualityShortfall
	// StateNoReleases means nothing usable matched at all.
	StateNoReleases
)

// Result is one selection round's outcome.
type Result struct {
	State        State
	Primary      models.Release
	Alternatives []models.Release
	BelowQuality []models.Release

	IndexersQueried int
	IndexersFailed  int
}

// Selector queries indexers and ranks what comes back.
type Selector struct {
	engine  *quality.Engine
	indexer indexer.Client
}

// New creates a selector.
func New(engine *quality.Engine, client indexer.Client) *Selector {
	return &Selector{
		engine:  engine,
		indexer: client,
	}
}

// SelectMovie picks a release for a movie request. A pre-selected release on
// the request (operator approval) bypasses the indexer round-trip entirely.
func (s *Selector) SelectMovie(ctx context.Context, request *models.Request) (*Result, error) {
	if request.SelectedRelease != nil {
		return &Result{State: StateFound, Primary: *request.SelectedRelease}, nil
	}

	searched, err := s.indexer.SearchMovie(ctx, request.Title, request.Year)
	if err != nil {
		return nil, err
	}

	return s.rank(request, searched, func(models.Release) bool { return true }), nil
}

// SelectSeasonPack picks a full-season release for a TV request. Only
// releases that parse as the whole requested season qualify.
func (s *Selector) SelectSeasonPack(ctx context.Context, request *models.Request, season int) (*Result, error) {
	if request.SelectedRelease != nil {
		return &Result{State: StateFound, Primary: *request.SelectedRelease}, nil
	}

	searched, err := s.indexer.SearchSeason(ctx, request.Title, season)
	if err != nil {
		return nil, err
	}

	return s.rank(request, searched, func(r models.Release) bool {
		return s.engine.IsSeasonPack(r.Title, season)
	}), nil
}

// SelectEpisode picks a single-episode release.
func (s *Selector) SelectEpisode(ctx context.Context, request *models.Request, season, episode int) (*Result, error) {
	searched, err := s.indexer.SearchEpisode(ctx, request.Title, season, episode)
	if err != nil {
		return nil, err
	}

	return s.rank(request, searched, func(r models.Release) bool {
		return s.engine.MatchesEpisode(r.Title, season, episode)
	}), nil
}

// rank filters candidates through the quality engine and slices the outcome
// into a Result. TV requests skip the year check, movie requests use it.
func (s *Selector) rank(request *models.Request, searched *indexer.SearchResult, accept func(models.Release) bool) *Result {
	result := &Result{
		IndexersQueried: searched.IndexersQueried,
		IndexersFailed:  searched.IndexersFailed,
	}

	candidates := make([]models.Release, 0, len(searched.Releases))
	for _, release := range searched.Releases {
		if accept(release) {
			candidates = append(candidates, release)
		}
	}

	year := request.Year
	if request.MediaType == models.MediaTypeTV {
		// Episode releases rarely carry the series premiere year.
		year = 0
	}

	ranked := s.engine.Evaluate(request.Title, year, request.RequiredResolution, candidates)

	switch {
	case len(ranked.Matching) > 0:
		result.State = StateFound
		result.Primary = ranked.Matching[0]
		if len(ranked.Matching) > 1 {
			alternatives := ranked.Matching[1:]
			if len(alternatives) > maxCandidates-1 {
				alternatives = alternatives[:maxCandidates-1]
			}
			result.Alternatives = alternatives
		}

	case len(ranked.BelowQuality) > 0:
		result.State = StateQualityShortfall
		below := ranked.BelowQuality
		if len(below) > maxCandidates {
			below = below[:maxCandidates]
		}
		result.BelowQuality = below

	default:
		result.State = StateNoReleases
	}

	log.Debug().
		Int64("requestId", request.ID).
		Str("title", request.Title).
		Int("candidates", len(candidates)).
		Int("matching", len(ranked.Matching)).
		Int("belowQuality", len(ranked.BelowQuality)).
		Int("rejected", len(ranked.Rejected)).
		Int("indexersFailed", searched.IndexersFailed).
		Msg("selector: ranked releases")

	return result
}
