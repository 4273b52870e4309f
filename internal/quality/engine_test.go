// Copyright (c) 2025-2026, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package quality

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/autobrr/fetcharr/internal/domain"
	"github.com/autobrr/fetcharr/internal/models"
)

func TestMatchesTitle(t *testing.T) {
	e := NewEngine()

	tests := []struct {
		name        string
		requestName string
		releaseName string
		want        bool
	}{
		{
			name:        "exact match",
			requestName: "The Matrix",
			releaseName: "The.Matrix.1999.1080p.BluRay.x264-GROUP",
			want:        true,
		},
		{
			name:        "punctuation and case differences",
			requestName: "WALL·E",
			releaseName: "WALL-E.2008.1080p.BluRay.x264-GROUP",
			want:        true,
		},
		{
			name:        "ampersand vs and",
			requestName: "Law & Order",
			releaseName: "Law.and.Order.S01E01.1080p.WEB-DL.H264-GROUP",
			want:        true,
		},
		{
			name:        "sequel is not the requested title",
			requestName: "Alien",
			releaseName: "Aliens.1986.1080p.BluRay.x264-GROUP",
			want:        false,
		},
		{
			name:        "superset title rejected",
			requestName: "The Office",
			releaseName: "The.Office.US.S01E01.720p.WEB-DL.x264-GROUP",
			want:        false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, e.MatchesTitle(tt.requestName, tt.releaseName))
		})
	}
}

func TestSeasonPackDetection(t *testing.T) {
	e := NewEngine()

	assert.True(t, e.IsSeasonPack("Severance.S02.1080p.WEB-DL.H264-GROUP", 2))
	assert.False(t, e.IsSeasonPack("Severance.S02E03.1080p.WEB-DL.H264-GROUP", 2), "single episode is not a pack")
	assert.False(t, e.IsSeasonPack("Severance.S01.1080p.WEB-DL.H264-GROUP", 2), "wrong season")

	assert.True(t, e.MatchesEpisode("Severance.S02E03.1080p.WEB-DL.H264-GROUP", 2, 3))
	assert.False(t, e.MatchesEpisode("Severance.S02E04.1080p.WEB-DL.H264-GROUP", 2, 3))
}

func TestEvaluateBuckets(t *testing.T) {
	e := NewEngine()

	releases := []models.Release{
		{Title: "The.Matrix.1999.2160p.BluRay.REMUX.HEVC-GROUP", Seeders: 12, Size: 60 << 30},
		{Title: "The.Matrix.1999.1080p.BluRay.x264-GROUP", Seeders: 40, Size: 12 << 30},
		{Title: "The.Matrix.1999.720p.WEB-DL.x264-GROUP", Seeders: 25, Size: 4 << 30},
		{Title: "The.Matrix.Reloaded.2003.1080p.BluRay.x264-GROUP", Seeders: 30},
		{Title: "The.Matrix.1999.1080p.WEB-DL.x264-GROUP", Seeders: 0},
	}

	ranked := e.Evaluate("The Matrix", 1999, domain.Resolution1080p, releases)

	require.Len(t, ranked.Matching, 2)
	require.Len(t, ranked.BelowQuality, 1)
	require.Len(t, ranked.Rejected, 2)

	// 2160p remux outranks the 1080p bluray despite fewer seeders.
	assert.Contains(t, ranked.Matching[0].Title, "2160p")
	assert.Contains(t, ranked.BelowQuality[0].Title, "720p")
	assert.Positive(t, ranked.Matching[0].Score)
}

func TestEvaluateRejectsJunkAndDeadSwarms(t *testing.T) {
	e := NewEngine()

	releases := []models.Release{
		{Title: "The.Matrix.1999.1080p.CAM.x264-GROUP", Source: "CAM", Seeders: 100},
		{Title: "The.Matrix.1999.1080p.BluRay.x264-GROUP", Seeders: 0},
	}

	ranked := e.Evaluate("The Matrix", 1999, domain.Resolution1080p, releases)

	assert.Empty(t, ranked.Matching)
	assert.Empty(t, ranked.BelowQuality)
	assert.Len(t, ranked.Rejected, 2)
}

func TestEvaluateFillsParsedAttributes(t *testing.T) {
	e := NewEngine()

	ranked := e.Evaluate("The Matrix", 1999, domain.Resolution720p, []models.Release{
		{Title: "The.Matrix.1999.1080p.BluRay.x264-GROUP", Seeders: 5},
	})

	require.Len(t, ranked.Matching, 1)
	got := ranked.Matching[0]
	assert.Equal(t, domain.Resolution1080p, got.Resolution)
	assert.NotEmpty(t, got.Source)
	assert.NotEmpty(t, got.Codec)
}

func TestSortReleasesTieBreaks(t *testing.T) {
	now := time.Now()
	releases := []models.Release{
		{Title: "a", Score: 100, Seeders: 5, PublishDate: now.Add(-time.Hour)},
		{Title: "b", Score: 100, Seeders: 5, PublishDate: now},
		{Title: "c", Score: 100, Seeders: 9, PublishDate: now.Add(-2 * time.Hour)},
	}

	sortReleases(releases)

	assert.Equal(t, "c", releases[0].Title, "more seeders wins the tie")
	assert.Equal(t, "b", releases[1].Title, "newer release wins the second tie")
}

func TestRequiredResolution(t *testing.T) {
	servers := []*models.StorageServer{
		{MaxResolution: domain.Resolution1080p},
		{MaxResolution: domain.Resolution2160p},
		{MaxResolution: domain.Resolution720p},
	}
	assert.Equal(t, domain.Resolution2160p, RequiredResolution(servers))

	assert.Equal(t, domain.Resolution1080p, RequiredResolution(nil), "defaults to 1080p with no targets")
}
