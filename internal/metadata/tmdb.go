// Copyright (c) 2025-2026, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package metadata

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/autobrr/autobrr/pkg/ttlcache"
	"github.com/avast/retry-go"
	"github.com/rs/zerolog/log"

	"github.com/autobrr/fetcharr/internal/domain"
)

const (
	// maxResponseSize limits metadata response bodies (1MB)
	maxResponseSize = 1 << 20

	defaultTimeout = 30 * time.Second
	cacheTTL       = 30 * time.Minute
)

// TMDBClient implements Provider against a TMDB-compatible HTTP API. Lookups
// are cached briefly because expanding one TV request hits the same show and
// season records several times.
type TMDBClient struct {
	httpClient *http.Client
	baseURL    string
	apiKey     string

	movieCache  *ttlcache.Cache[int64, *Movie]
	showCache   *ttlcache.Cache[int64, *Show]
	seasonCache *ttlcache.Cache[string, *Season]
}

// NewTMDBClient creates a metadata client for the given API base URL.
func NewTMDBClient(baseURL, apiKey string) *TMDBClient {
	return &TMDBClient{
		httpClient: &http.Client{Timeout: defaultTimeout},
		baseURL:    baseURL,
		apiKey:     apiKey,
		movieCache: ttlcache.New(ttlcache.Options[int64, *Movie]{}.
			SetDefaultTTL(cacheTTL)),
		showCache: ttlcache.New(ttlcache.Options[int64, *Show]{}.
			SetDefaultTTL(cacheTTL)),
		seasonCache: ttlcache.New(ttlcache.Options[string, *Season]{}.
			SetDefaultTTL(cacheTTL)),
	}
}

type tmdbMovie struct {
	ID          int64  `json:"id"`
	Title       string `json:"title"`
	ReleaseDate string `json:"release_date"`
	Runtime     int    `json:"runtime"`
	Overview    string `json:"overview"`
}

type tmdbShow struct {
	ID           int64  `json:"id"`
	Name         string `json:"name"`
	FirstAirDate string `json:"first_air_date"`
	Status       string `json:"status"`
	Seasons      []struct {
		SeasonNumber int `json:"season_number"`
		EpisodeCount int `json:"episode_count"`
	} `json:"seasons"`
}

type tmdbSeason struct {
	SeasonNumber int `json:"season_number"`
	Episodes     []struct {
		SeasonNumber  int    `json:"season_number"`
		EpisodeNumber int    `json:"episode_number"`
		Name          string `json:"name"`
		AirDate       string `json:"air_date"`
	} `json:"episodes"`
}

// GetMovie fetches a movie record by TMDB id.
func (c *TMDBClient) GetMovie(ctx context.Context, tmdbID int64) (*Movie, error) {
	if cached, found := c.movieCache.Get(tmdbID); found {
		return cached, nil
	}

	var raw tmdbMovie
	if err := c.get(ctx, fmt.Sprintf("/movie/%d", tmdbID), &raw); err != nil {
		return nil, err
	}

	movie := &Movie{
		TmdbID:   raw.ID,
		Title:    raw.Title,
		Year:     yearOf(raw.ReleaseDate),
		Runtime:  raw.Runtime,
		Overview: raw.Overview,
	}
	c.movieCache.Set(tmdbID, movie, ttlcache.DefaultTTL)

	return movie, nil
}

// GetShow fetches a show record by TMDB id.
func (c *TMDBClient) GetShow(ctx context.Context, tmdbID int64) (*Show, error) {
	if cached, found := c.showCache.Get(tmdbID); found {
		return cached, nil
	}

	var raw tmdbShow
	if err := c.get(ctx, fmt.Sprintf("/tv/%d", tmdbID), &raw); err != nil {
		return nil, err
	}

	show := &Show{
		TmdbID: raw.ID,
		Title:  raw.Name,
		Year:   yearOf(raw.FirstAirDate),
		Status: raw.Status,
	}
	for _, s := range raw.Seasons {
		// Season 0 holds specials, which requests never target.
		if s.SeasonNumber == 0 {
			continue
		}
		show.Seasons = append(show.Seasons, SeasonSummary{
			Number:       s.SeasonNumber,
			EpisodeCount: s.EpisodeCount,
		})
	}
	c.showCache.Set(tmdbID, show, ttlcache.DefaultTTL)

	return show, nil
}

// GetSeason fetches one season's episode list.
func (c *TMDBClient) GetSeason(ctx context.Context, tmdbID int64, season int) (*Season, error) {
	cacheKey := fmt.Sprintf("%d:%d", tmdbID, season)
	if cached, found := c.seasonCache.Get(cacheKey); found {
		return cached, nil
	}

	var raw tmdbSeason
	if err := c.get(ctx, fmt.Sprintf("/tv/%d/season/%d", tmdbID, season), &raw); err != nil {
		return nil, err
	}

	result := &Season{Number: raw.SeasonNumber}
	for _, ep := range raw.Episodes {
		episode := Episode{
			Season:  raw.SeasonNumber,
			Episode: ep.EpisodeNumber,
			Title:   ep.Name,
		}
		if ep.AirDate != "" {
			if t, err := time.Parse("2006-01-02", ep.AirDate); err == nil {
				episode.AirDate = &t
			}
		}
		result.Episodes = append(result.Episodes, episode)
	}
	c.seasonCache.Set(cacheKey, result, ttlcache.DefaultTTL)

	return result, nil
}

// get performs one API call with retries on transient failures.
func (c *TMDBClient) get(ctx context.Context, path string, out any) error {
	u, err := url.Parse(c.baseURL + path)
	if err != nil {
		return domain.Wrap(domain.KindMisconfiguration, "invalid metadata URL", err)
	}
	q := u.Query()
	q.Set("api_key", c.apiKey)
	u.RawQuery = q.Encode()

	return retry.Do(
		func() error {
			return c.doRequest(ctx, u.String(), out)
		},
		retry.Attempts(3),
		retry.Delay(time.Second),
		retry.DelayType(retry.BackOffDelay),
		retry.LastErrorOnly(true),
		retry.RetryIf(func(err error) bool {
			// Only transient upstream failures are worth retrying.
			return domain.KindOf(err) == domain.KindExternal
		}),
	)
}

func (c *TMDBClient) doRequest(ctx context.Context, requestURL string, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, requestURL, nil)
	if err != nil {
		return fmt.Errorf("failed to create metadata request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return domain.Wrap(domain.KindExternal, "metadata provider unreachable", err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusNotFound:
		return domain.E(domain.KindNotFound, "title not found at metadata provider")
	case resp.StatusCode == http.StatusUnauthorized:
		return domain.E(domain.KindMisconfiguration, "metadata provider rejected the API key")
	case resp.StatusCode >= 500:
		return domain.Ef(domain.KindExternal, "metadata provider returned status %d", resp.StatusCode)
	case resp.StatusCode != http.StatusOK:
		return fmt.Errorf("metadata provider returned unexpected status %d", resp.StatusCode)
	}

	body := io.LimitReader(resp.Body, maxResponseSize)
	if err := json.NewDecoder(body).Decode(out); err != nil {
		log.Debug().Err(err).Str("url", requestURL).Msg("metadata: failed to decode response")
		return fmt.Errorf("failed to decode metadata response: %w", err)
	}

	return nil
}

func yearOf(date string) int {
	t, err := time.Parse("2006-01-02", date)
	if err != nil {
		return 0
	}
	return t.Year()
}
