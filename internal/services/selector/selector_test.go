// Copyright (c) 2025-2026, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package selector

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/autobrr/fetcharr/internal/domain"
	"github.com/autobrr/fetcharr/internal/indexer"
	"github.com/autobrr/fetcharr/internal/models"
	"github.com/autobrr/fetcharr/internal/quality"
)

// fakeIndexer serves canned releases and records the queries it saw.
type fakeIndexer struct {
	releases []models.Release
	failed   int
	err      error

	movieQueries   []string
	seasonQueries  []int
	episodeQueries [][2]int
}

func (f *fakeIndexer) SearchMovie(_ context.Context, title string, _ int) (*indexer.SearchResult, error) {
	f.movieQueries = append(f.movieQueries, title)
	if f.err != nil {
		return nil, f.err
	}
	return &indexer.SearchResult{Releases: f.releases, IndexersQueried: 2, IndexersFailed: f.failed}, nil
}

func (f *fakeIndexer) SearchSeason(_ context.Context, _ string, season int) (*indexer.SearchResult, error) {
	f.seasonQueries = append(f.seasonQueries, season)
	if f.err != nil {
		return nil, f.err
	}
	return &indexer.SearchResult{Releases: f.releases, IndexersQueried: 2, IndexersFailed: f.failed}, nil
}

func (f *fakeIndexer) SearchEpisode(_ context.Context, _ string, season, episode int) (*indexer.SearchResult, error) {
	f.episodeQueries = append(f.episodeQueries, [2]int{season, episode})
	if f.err != nil {
		return nil, f.err
	}
	return &indexer.SearchResult{Releases: f.releases, IndexersQueried: 2, IndexersFailed: f.failed}, nil
}

func (f *fakeIndexer) Download(context.Context, string) ([]byte, error) {
	return nil, nil
}

func movieRequest(resolution domain.Resolution) *models.Request {
	return &models.Request{
		ID:                 1,
		MediaType:          models.MediaTypeMovie,
		Title:              "The Matrix",
		Year:               1999,
		RequiredResolution: resolution,
	}
}

func release(title string, seeders int) models.Release {
	return models.Release{Title: title, Seeders: seeders, DownloadURL: "http://indexer/" + title}
}

func TestSelectMoviePicksPrimaryAndAlternatives(t *testing.T) {
	fake := &fakeIndexer{releases: []models.Release{
		release("The.Matrix.1999.1080p.BluRay.x264-GROUP", 50),
		release("The.Matrix.1999.1080p.WEB-DL.x264-GROUP", 80),
		release("The.Matrix.1999.720p.BluRay.x264-GROUP", 200),
	}}
	s := New(quality.NewEngine(), fake)

	result, err := s.SelectMovie(t.Context(), movieRequest(domain.Resolution1080p))
	require.NoError(t, err)

	assert.Equal(t, StateFound, result.State)
	assert.Contains(t, result.Primary.Title, "BluRay")
	assert.Contains(t, result.Primary.Title, "1080p")
	assert.Len(t, result.Alternatives, 1)
	assert.Equal(t, 2, result.IndexersQueried)
}

func TestSelectMovieQualityShortfall(t *testing.T) {
	fake := &fakeIndexer{releases: []models.Release{
		release("The.Matrix.1999.720p.BluRay.x264-GROUP", 200),
		release("The.Matrix.1999.480p.DVDRip.XviD-GROUP", 90),
	}}
	s := New(quality.NewEngine(), fake)

	result, err := s.SelectMovie(t.Context(), movieRequest(domain.Resolution1080p))
	require.NoError(t, err)

	assert.Equal(t, StateQualityShortfall, result.State)
	require.Len(t, result.BelowQuality, 2)
	assert.Contains(t, result.BelowQuality[0].Title, "720p")
}

func TestSelectMovieNoReleases(t *testing.T) {
	fake := &fakeIndexer{releases: []models.Release{
		// Wrong title entirely.
		release("Some.Other.Film.1999.1080p.BluRay.x264-GROUP", 50),
	}}
	s := New(quality.NewEngine(), fake)

	result, err := s.SelectMovie(t.Context(), movieRequest(domain.Resolution1080p))
	require.NoError(t, err)
	assert.Equal(t, StateNoReleases, result.State)
}

func TestSelectMovieSelectedReleaseBypassesIndexers(t *testing.T) {
	fake := &fakeIndexer{}
	s := New(quality.NewEngine(), fake)

	request := movieRequest(domain.Resolution1080p)
	request.SelectedRelease = &models.Release{Title: "The.Matrix.1999.720p.BluRay.x264-GROUP"}

	result, err := s.SelectMovie(t.Context(), request)
	require.NoError(t, err)

	assert.Equal(t, StateFound, result.State)
	assert.Equal(t, request.SelectedRelease.Title, result.Primary.Title)
	assert.Empty(t, fake.movieQueries, "approved release must not trigger a search")
}

func TestSelectSeasonPackFiltersSingles(t *testing.T) {
	fake := &fakeIndexer{releases: []models.Release{
		release("Breaking.Bad.S01.1080p.BluRay.x264-GROUP", 120),
		release("Breaking.Bad.S01E01.1080p.BluRay.x264-GROUP", 300),
	}}
	s := New(quality.NewEngine(), fake)

	request := &models.Request{
		ID:                 2,
		MediaType:          models.MediaTypeTV,
		Title:              "Breaking Bad",
		Year:               2008,
		RequiredResolution: domain.Resolution1080p,
	}

	result, err := s.SelectSeasonPack(t.Context(), request, 1)
	require.NoError(t, err)

	assert.Equal(t, StateFound, result.State)
	assert.Contains(t, result.Primary.Title, "S01.")
	assert.Empty(t, result.Alternatives, "single episodes are not season pack alternatives")
	assert.Equal(t, []int{1}, fake.seasonQueries)
}

func TestSelectEpisodeMatchesExactEpisode(t *testing.T) {
	fake := &fakeIndexer{releases: []models.Release{
		release("Breaking.Bad.S01E02.1080p.WEB-DL.x264-GROUP", 80),
		release("Breaking.Bad.S01E03.1080p.WEB-DL.x264-GROUP", 90),
	}}
	s := New(quality.NewEngine(), fake)

	request := &models.Request{
		ID:                 3,
		MediaType:          models.MediaTypeTV,
		Title:              "Breaking Bad",
		RequiredResolution: domain.Resolution1080p,
	}

	result, err := s.SelectEpisode(t.Context(), request, 1, 2)
	require.NoError(t, err)

	assert.Equal(t, StateFound, result.State)
	assert.Contains(t, result.Primary.Title, "S01E02")
	assert.Equal(t, [][2]int{{1, 2}}, fake.episodeQueries)
}

func TestSelectMovieCapsCandidateLists(t *testing.T) {
	var releases []models.Release
	for _, group := range []string{"A", "B", "C", "D", "E", "F", "G", "H"} {
		releases = append(releases, release("The.Matrix.1999.1080p.BluRay.x264-"+group, 50))
	}
	fake := &fakeIndexer{releases: releases}
	s := New(quality.NewEngine(), fake)

	result, err := s.SelectMovie(t.Context(), movieRequest(domain.Resolution1080p))
	require.NoError(t, err)

	assert.Equal(t, StateFound, result.State)
	assert.Len(t, result.Alternatives, maxCandidates-1)
}

func TestSelectMoviePropagatesIndexerError(t *testing.T) {
	fake := &fakeIndexer{err: domain.E(domain.KindExternal, "all indexers failed")}
	s := New(quality.NewEngine(), fake)

	_, err := s.SelectMovie(t.Context(), movieRequest(domain.Resolution1080p))
	assert.True(t, domain.IsExternal(err))
}
