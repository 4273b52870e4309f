// Copyright (c) 2025-2026, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package metadata

import (
	"context"
	"time"
)

// Movie is the metadata needed to search for and name a movie.
type Movie struct {
	TmdbID   int64  `json:"tmdbId"`
	Title    string `json:"title"`
	Year     int    `json:"year"`
	Runtime  int    `json:"runtime,omitempty"`
	Overview string `json:"overview,omitempty"`
}

// SeasonSummary is the per-season entry on a show record.
type SeasonSummary struct {
	Number       int `json:"number"`
	EpisodeCount int `json:"episodeCount"`
}

// Show is the metadata needed to expand a TV request into episodes.
type Show struct {
	TmdbID  int64           `json:"tmdbId"`
	Title   string          `json:"title"`
	Year    int             `json:"year"`
	Status  string          `json:"status,omitempty"`
	Seasons []SeasonSummary `json:"seasons"`
}

// Ended reports whether the show is finished airing. Subscribed requests on
// ended shows stop polling for new episodes.
func (s *Show) Ended() bool {
	return s.Status == "Ended" || s.Status == "Canceled"
}

// Episode is one episode of a season.
type Episode struct {
	Season  int        `json:"season"`
	Episode int        `json:"episode"`
	Title   string     `json:"title,omitempty"`
	AirDate *time.Time `json:"airDate,omitempty"`
}

// Aired reports whether the episode has aired as of now. Episodes without an
// air date are treated as unaired.
func (e *Episode) Aired(now time.Time) bool {
	return e.AirDate != nil && !e.AirDate.After(now)
}

// Season is one season with its full episode list.
type Season struct {
	Number   int       `json:"number"`
	Episodes []Episode `json:"episodes"`
}

// Provider looks up title metadata by TMDB id.
type Provider interface {
	GetMovie(ctx context.Context, tmdbID int64) (*Movie, error)
	GetShow(ctx context.Context, tmdbID int64) (*Show, error)
	GetSeason(ctx context.Context, tmdbID int64, season int) (*Season, error)
}
