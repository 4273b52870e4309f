// Copyright (c) 2025-2026, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package indexer

import (
	"context"
	"encoding/xml"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/avast/retry-go"
	"golang.org/x/time/rate"

	"github.com/autobrr/fetcharr/internal/domain"
	"github.com/autobrr/fetcharr/internal/models"
)

const (
	// maxFeedSize limits Torznab feed bodies (10MB)
	maxFeedSize = 10 << 20

	// maxTorrentSize limits .torrent payloads (10MB)
	maxTorrentSize = 10 << 20

	searchTimeout = 60 * time.Second

	defaultRequestsPerMinute = 30
)

// torznabIndexer is one Torznab endpoint with its own rate budget.
type torznabIndexer struct {
	name       string
	baseURL    string
	apiKey     string
	httpClient *http.Client
	limiter    *rate.Limiter
}

func newTorznabIndexer(cfg domain.IndexerConfig, httpClient *http.Client) *torznabIndexer {
	rpm := cfg.RequestsPerMinute
	if rpm <= 0 {
		rpm = defaultRequestsPerMinute
	}

	return &torznabIndexer{
		name:       cfg.Name,
		baseURL:    cfg.URL,
		apiKey:     cfg.APIKey,
		httpClient: httpClient,
		limiter:    rate.NewLimiter(rate.Every(time.Minute/time.Duration(rpm)), rpm),
	}
}

type torznabFeed struct {
	XMLName xml.Name `xml:"rss"`
	Channel struct {
		Items []torznabItem `xml:"item"`
	} `xml:"channel"`
}

type torznabItem struct {
	Title    string        `xml:"title"`
	Link     string        `xml:"link"`
	Comments string        `xml:"comments"`
	Size     int64         `xml:"size"`
	PubDate  string        `xml:"pubDate"`
	Attrs    []torznabAttr `xml:"attr"`
}

type torznabAttr struct {
	Name  string `xml:"name,attr"`
	Value string `xml:"value,attr"`
}

func (i torznabItem) intAttr(name string) int {
	for _, a := range i.Attrs {
		if a.Name == name {
			if v, err := strconv.Atoi(a.Value); err == nil {
				return v
			}
		}
	}
	return 0
}

func (ix *torznabIndexer) searchMovie(ctx context.Context, query string) ([]models.Release, error) {
	params := url.Values{}
	params.Set("t", "movie")
	params.Set("q", query)
	return ix.search(ctx, params)
}

// searchTV searches for a season pack when episode is 0, a single episode
// otherwise.
func (ix *torznabIndexer) searchTV(ctx context.Context, title string, season, episode int) ([]models.Release, error) {
	params := url.Values{}
	params.Set("t", "tvsearch")
	params.Set("q", title)
	params.Set("season", strconv.Itoa(season))
	if episode > 0 {
		params.Set("ep", strconv.Itoa(episode))
	}
	return ix.search(ctx, params)
}

func (ix *torznabIndexer) search(ctx context.Context, params url.Values) ([]models.Release, error) {
	if err := ix.limiter.Wait(ctx); err != nil {
		return nil, err
	}

	params.Set("apikey", ix.apiKey)
	requestURL := fmt.Sprintf("%s/api?%s", ix.baseURL, params.Encode())

	var feed torznabFeed
	err := retry.Do(
		func() error {
			return ix.fetchFeed(ctx, requestURL, &feed)
		},
		retry.Attempts(2),
		retry.Delay(2*time.Second),
		retry.DelayType(retry.FixedDelay),
		retry.LastErrorOnly(true),
		retry.RetryIf(func(err error) bool {
			return domain.KindOf(err) == domain.KindExternal && ctx.Err() == nil
		}),
	)
	if err != nil {
		return nil, err
	}

	releases := make([]models.Release, 0, len(feed.Channel.Items))
	for _, item := range feed.Channel.Items {
		if item.Title == "" || item.Link == "" {
			continue
		}

		release := models.Release{
			Title:       item.Title,
			Indexer:     ix.name,
			Size:        item.Size,
			Seeders:     item.intAttr("seeders"),
			Leechers:    item.intAttr("leechers"),
			DownloadURL: item.Link,
			InfoURL:     item.Comments,
			Season:      item.intAttr("season"),
			Episode:     item.intAttr("episode"),
		}
		if t, err := time.Parse(time.RFC1123Z, item.PubDate); err == nil {
			release.PublishDate = t
		}
		releases = append(releases, release)
	}

	return releases, nil
}

func (ix *torznabIndexer) fetchFeed(ctx context.Context, requestURL string, feed *torznabFeed) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, requestURL, nil)
	if err != nil {
		return fmt.Errorf("failed to create search request: %w", err)
	}

	resp, err := ix.httpClient.Do(req)
	if err != nil {
		return domain.Wrap(domain.KindExternal, "indexer unreachable", err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusUnauthorized, resp.StatusCode == http.StatusForbidden:
		return domain.Ef(domain.KindMisconfiguration, "indexer %s rejected the API key", ix.name)
	case resp.StatusCode >= 500:
		return domain.Ef(domain.KindExternal, "indexer %s returned status %d", ix.name, resp.StatusCode)
	case resp.StatusCode != http.StatusOK:
		return fmt.Errorf("indexer %s returned unexpected status %d", ix.name, resp.StatusCode)
	}

	body := io.LimitReader(resp.Body, maxFeedSize)
	*feed = torznabFeed{}
	if err := xml.NewDecoder(body).Decode(feed); err != nil {
		return fmt.Errorf("failed to decode torznab feed from %s: %w", ix.name, err)
	}

	return nil
}

// download fetches a .torrent payload from an indexer download link.
func (ix *torznabIndexer) download(ctx context.Context, downloadURL string) ([]byte, error) {
	if err := ix.limiter.Wait(ctx); err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, downloadURL, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create download request: %w", err)
	}

	resp, err := ix.httpClient.Do(req)
	if err != nil {
		return nil, domain.Wrap(domain.KindExternal, "torrent download failed", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, domain.Ef(domain.KindExternal, "torrent download returned status %d", resp.StatusCode)
	}

	payload, err := io.ReadAll(io.LimitReader(resp.Body, maxTorrentSize))
	if err != nil {
		return nil, fmt.Errorf("failed to read torrent payload: %w", err)
	}

	return payload, nil
}
