// Copyright (c) 2025-2026, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package quality

import (
	"sort"
	"strings"
	"time"

	"github.com/autobrr/autobrr/pkg/ttlcache"
	"github.com/moistari/rls"

	"github.com/autobrr/fetcharr/internal/domain"
	"github.com/autobrr/fetcharr/internal/models"
	"github.com/autobrr/fetcharr/pkg/stringutils"
)

// Engine parses, filters and ranks release candidates. Parsing goes through
// rls with a short-lived cache because the same release names come back from
// several indexers within one search.
type Engine struct {
	cache *ttlcache.Cache[string, rls.Release]
}

// NewEngine creates a ready-to-use quality engine.
func NewEngine() *Engine {
	return &Engine{
		cache: ttlcache.New(ttlcache.Options[string, rls.Release]{}.
			SetDefaultTTL(5 * time.Minute)),
	}
}

// Parse parses a release name using rls, with caching.
func (e *Engine) Parse(name string) rls.Release {
	if cached, found := e.cache.Get(name); found {
		return cached
	}

	release := rls.ParseString(name)
	e.cache.Set(name, release, ttlcache.DefaultTTL)

	return release
}

// MatchesTitle reports whether a release name is for the requested title.
// Matching is strict equality on normalized titles; substring matching is how
// "Alien" ends up grabbing "Aliens".
func (e *Engine) MatchesTitle(requestTitle, releaseName string) bool {
	parsed := e.Parse(releaseName)
	return stringutils.NormalizeTitle(parsed.Title) == stringutils.NormalizeTitle(requestTitle)
}

// MatchesYear reports whether the parsed year matches the requested one.
// Releases without a year in the name pass, since TV names usually omit it.
func (e *Engine) MatchesYear(releaseName string, year int) bool {
	if year == 0 {
		return true
	}
	parsed := e.Parse(releaseName)
	if parsed.Year == 0 {
		return true
	}
	// Off-by-one is common between regional release dates.
	return parsed.Year >= year-1 && parsed.Year <= year+1
}

// IsSeasonPack reports whether the release is a full-season pack for the
// given season. A parsed episode number means it is a single episode, not a
// pack, regardless of how the indexer categorized it.
func (e *Engine) IsSeasonPack(releaseName string, season int) bool {
	parsed := e.Parse(releaseName)
	return parsed.Series == season && parsed.Episode == 0
}

// MatchesEpisode reports whether the release is the given single episode.
func (e *Engine) MatchesEpisode(releaseName string, season, episode int) bool {
	parsed := e.Parse(releaseName)
	return parsed.Series == season && parsed.Episode == episode
}

// Ranked buckets the evaluated candidates. Matching and BelowQuality are
// sorted best-first; Rejected keeps input order and exists for logging.
type Ranked struct {
	Matching     []models.Release
	BelowQuality []models.Release
	Rejected     []models.Release
}

// Evaluate scores every candidate against the request and splits them into
// matching, below-quality and rejected buckets. Candidates that do not match
// the title, or that score negative (junk sources, dead swarms), are rejected
// outright; candidates below the required resolution are kept separately so
// the caller can offer them as a lower-quality fallback.
func (e *Engine) Evaluate(requestTitle string, year int, required domain.Resolution, releases []models.Release) Ranked {
	var ranked Ranked

	for _, release := range releases {
		parsed := e.Parse(release.Title)

		if !e.MatchesTitle(requestTitle, release.Title) || !e.MatchesYear(release.Title, year) {
			ranked.Rejected = append(ranked.Rejected, release)
			continue
		}

		e.fillFromParsed(&release, parsed)
		release.Score = e.score(release)

		if release.Score < 0 {
			ranked.Rejected = append(ranked.Rejected, release)
			continue
		}

		if release.Resolution.Meets(required) {
			ranked.Matching = append(ranked.Matching, release)
		} else {
			ranked.BelowQuality = append(ranked.BelowQuality, release)
		}
	}

	sortReleases(ranked.Matching)
	sortReleases(ranked.BelowQuality)

	return ranked
}

// fillFromParsed backfills attributes the indexer did not report from the
// parsed release name.
func (e *Engine) fillFromParsed(release *models.Release, parsed rls.Release) {
	if !release.Resolution.IsValid() {
		if res, ok := domain.ParseResolution(parsed.Resolution); ok {
			release.Resolution = res
		}
	}
	if release.Source == "" {
		release.Source = parsed.Source
	}
	if release.Codec == "" && len(parsed.Codec) > 0 {
		release.Codec = parsed.Codec[0]
	}
	if release.Season == 0 {
		release.Season = parsed.Series
	}
	if release.Episode == 0 {
		release.Episode = parsed.Episode
	}
}

// score computes the ranking score. Resolution dominates, then source tier,
// then codec tier, then a capped seeder bonus. Junk sources and dead swarms
// push the score negative.
func (e *Engine) score(release models.Release) int {
	score := release.Resolution.Rank() * 1000
	score += sourceTier(release.Source) * 100
	score += codecTier(release.Codec) * 10

	seeders := release.Seeders
	if seeders > 9 {
		seeders = 9
	}
	score += seeders

	if isJunkSource(release.Source) {
		score -= 10000
	}
	if release.Seeders == 0 {
		score -= 5000
	}

	return score
}

// sortReleases orders best-first: score, then seeders, then publish date.
func sortReleases(releases []models.Release) {
	sort.SliceStable(releases, func(i, j int) bool {
		if releases[i].Score != releases[j].Score {
			return releases[i].Score > releases[j].Score
		}
		if releases[i].Seeders != releases[j].Seeders {
			return releases[i].Seeders > releases[j].Seeders
		}
		return releases[i].PublishDate.After(releases[j].PublishDate)
	})
}

func sourceTier(source string) int {
	switch normalizeToken(source) {
	case "remux":
		return 6
	case "bluray", "bdrip", "brrip", "bd":
		return 5
	case "webdl", "web":
		return 4
	case "webrip":
		return 3
	case "hdtv", "tv":
		return 2
	case "dvd", "dvdrip":
		return 1
	}
	return 0
}

func codecTier(codec string) int {
	switch normalizeToken(codec) {
	case "av1":
		return 4
	case "hevc", "h265", "x265":
		return 3
	case "avc", "h264", "x264":
		return 2
	case "xvid", "divx", "mpeg2":
		return 1
	}
	return 0
}

// isJunkSource flags cam and screener rips that are never worth grabbing.
func isJunkSource(source string) bool {
	switch normalizeToken(source) {
	case "cam", "camrip", "ts", "telesync", "tc", "telecine", "scr", "screener", "workprint":
		return true
	}
	return false
}

func normalizeToken(s string) string {
	s = strings.ToLower(s)
	s = strings.ReplaceAll(s, "-", "")
	s = strings.ReplaceAll(s, ".", "")
	s = strings.ReplaceAll(s, " ", "")
	return s
}

// RequiredResolution derives the resolution a request must be sourced at: the
// highest cap among its target servers, so one download can serve them all.
func RequiredResolution(servers []*models.StorageServer) domain.Resolution {
	resolutions := make([]domain.Resolution, 0, len(servers))
	for _, server := range servers {
		resolutions = append(resolutions, server.MaxResolution)
	}
	if best := domain.MaxResolution(resolutions); best.IsValid() {
		return best
	}
	return domain.Resolution1080p
}
