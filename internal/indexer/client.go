// Copyright (c) 2025-2026, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package indexer

import (
	"context"
	"fmt"
	"net/http"
	"sync"

	"github.com/rs/zerolog/log"
	"golang.org/x/net/proxy"
	"golang.org/x/sync/errgroup"

	"github.com/autobrr/fetcharr/internal/domain"
	"github.com/autobrr/fetcharr/internal/models"
)

// SearchResult carries the merged candidates plus fan-out accounting. A
// search that reached no indexer at all is an error, not an empty result; the
// queried/failed split lets callers distinguish "nothing out there" from
// "half the indexers were down".
type SearchResult struct {
	Releases        []models.Release
	IndexersQueried int
	IndexersFailed  int
}

// Client searches configured indexers for release candidates.
type Client interface {
	SearchMovie(ctx context.Context, title string, year int) (*SearchResult, error)
	SearchSeason(ctx context.Context, title string, season int) (*SearchResult, error)
	SearchEpisode(ctx context.Context, title string, season, episode int) (*SearchResult, error)

	// Download fetches a .torrent payload from an indexer download link.
	Download(ctx context.Context, downloadURL string) ([]byte, error)
}

// MultiClient fans a search out over every configured Torznab endpoint
// concurrently and merges the results.
type MultiClient struct {
	indexers []*torznabIndexer
}

// NewMultiClient builds a client for the configured indexers. When proxyAddr
// is set, all indexer traffic is routed through that SOCKS5 proxy.
func NewMultiClient(configs []domain.IndexerConfig, proxyAddr string) (*MultiClient, error) {
	httpClient, err := newHTTPClient(proxyAddr)
	if err != nil {
		return nil, err
	}

	mc := &MultiClient{}
	for _, cfg := range configs {
		if cfg.URL == "" {
			return nil, domain.Ef(domain.KindMisconfiguration, "indexer %q has no URL", cfg.Name)
		}
		mc.indexers = append(mc.indexers, newTorznabIndexer(cfg, httpClient))
	}

	return mc, nil
}

func newHTTPClient(proxyAddr string) (*http.Client, error) {
	client := &http.Client{Timeout: searchTimeout}
	if proxyAddr == "" {
		return client, nil
	}

	dialer, err := proxy.SOCKS5("tcp", proxyAddr, nil, proxy.Direct)
	if err != nil {
		return nil, domain.Wrap(domain.KindMisconfiguration, "invalid indexer proxy", err)
	}
	contextDialer, ok := dialer.(proxy.ContextDialer)
	if !ok {
		return nil, domain.E(domain.KindMisconfiguration, "indexer proxy dialer does not support context")
	}

	client.Transport = &http.Transport{DialContext: contextDialer.DialContext}
	return client, nil
}

// SearchMovie queries all indexers for a movie.
func (mc *MultiClient) SearchMovie(ctx context.Context, title string, year int) (*SearchResult, error) {
	query := title
	if year > 0 {
		query = fmt.Sprintf("%s %d", title, year)
	}
	return mc.search(ctx, func(ix *torznabIndexer) ([]models.Release, error) {
		return ix.searchMovie(ctx, query)
	})
}

// SearchSeason queries all indexers for a full-season pack.
func (mc *MultiClient) SearchSeason(ctx context.Context, title string, season int) (*SearchResult, error) {
	return mc.search(ctx, func(ix *torznabIndexer) ([]models.Release, error) {
		return ix.searchTV(ctx, title, season, 0)
	})
}

// SearchEpisode queries all indexers for a single episode.
func (mc *MultiClient) SearchEpisode(ctx context.Context, title string, season, episode int) (*SearchResult, error) {
	return mc.search(ctx, func(ix *torznabIndexer) ([]models.Release, error) {
		return ix.searchTV(ctx, title, season, episode)
	})
}

// Download fetches a .torrent payload, trying indexers until one recognizes
// the link host. Links are indexer-specific, so the first client whose fetch
// succeeds wins.
func (mc *MultiClient) Download(ctx context.Context, downloadURL string) ([]byte, error) {
	if len(mc.indexers) == 0 {
		return nil, domain.E(domain.KindMisconfiguration, "no indexers configured")
	}

	var lastErr error
	for _, ix := range mc.indexers {
		payload, err := ix.download(ctx, downloadURL)
		if err == nil {
			return payload, nil
		}
		lastErr = err
	}
	return nil, lastErr
}

func (mc *MultiClient) search(ctx context.Context, fn func(*torznabIndexer) ([]models.Release, error)) (*SearchResult, error) {
	if len(mc.indexers) == 0 {
		return nil, domain.E(domain.KindMisconfiguration, "no indexers configured")
	}

	var (
		mu     sync.Mutex
		result = &SearchResult{IndexersQueried: len(mc.indexers)}
	)

	g, ctx := errgroup.WithContext(ctx)
	for _, ix := range mc.indexers {
		g.Go(func() error {
			releases, err := fn(ix)
			if err != nil {
				if ctx.Err() != nil {
					return ctx.Err()
				}
				log.Warn().Err(err).Str("indexer", ix.name).Msg("indexer: search failed")
				mu.Lock()
				result.IndexersFailed++
				mu.Unlock()
				return nil
			}

			mu.Lock()
			result.Releases = append(result.Releases, releases...)
			mu.Unlock()
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return nil, err
	}

	if result.IndexersFailed == result.IndexersQueried {
		return nil, domain.E(domain.KindExternal, "all indexers failed")
	}

	return result, nil
}
