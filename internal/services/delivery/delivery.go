// Copyright (c) 2025-2026, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

// Package delivery ships encoded output to the target storage servers,
// builds the library-layout remote paths, updates the library cache and
// kicks off media server scans.
package delivery

import (
	"context"
	"fmt"
	"path"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"

	"github.com/autobrr/fetcharr/internal/domain"
	"github.com/autobrr/fetcharr/internal/library"
	"github.com/autobrr/fetcharr/internal/models"
	"github.com/autobrr/fetcharr/internal/transport"
)

const defaultConcurrency = 3

// Spec describes one item's delivery round.
type Spec struct {
	Request   *models.Request
	Item      *models.ProcessingItem
	LocalPath string

	// Quality/Codec/Container form the filename suffix.
	Quality   string
	Codec     string
	Container string

	ServerIDs []int64

	// Progress, when set, receives 0-100 transfer progress across the whole
	// round (mean of per-server fractions).
	Progress func(percent float64)
}

// ServerResult is the per-server outcome of a delivery round.
type ServerResult struct {
	ServerID   int64
	ServerName string
	RemotePath string
	Bytes      int64
	Duration   time.Duration
	Err        error
}

// Coordinator fans a delivery out across target servers.
type Coordinator struct {
	servers     *models.StorageServerStore
	libcache    *models.LibraryCacheStore
	activity    *models.ActivityLogStore
	registry    *transport.Registry
	scanner     library.Scanner
	concurrency int
}

// New creates a coordinator. concurrency ≤ 0 uses the default.
func New(servers *models.StorageServerStore, libcache *models.LibraryCacheStore, activity *models.ActivityLogStore, registry *transport.Registry, scanner library.Scanner, concurrency int) *Coordinator {
	if concurrency <= 0 {
		concurrency = defaultConcurrency
	}
	return &Coordinator{
		servers:     servers,
		libcache:    libcache,
		activity:    activity,
		registry:    registry,
		scanner:     scanner,
		concurrency: concurrency,
	}
}

// Deliver pushes the encoded file to every target server in parallel. It
// returns per-server results; the error is non-nil only when every server
// failed, so one reachable server is enough to count the item as delivered.
func (c *Coordinator) Deliver(ctx context.Context, spec Spec) ([]ServerResult, error) {
	if len(spec.ServerIDs) == 0 {
		return nil, domain.E(domain.KindPrecondition, "delivery has no target servers")
	}

	if err := c.activity.Append(ctx, spec.Request.ID, models.EventDeliveryStarted, "Delivery started", map[string]any{
		"servers": len(spec.ServerIDs),
	}); err != nil {
		log.Warn().Err(err).Int64("requestId", spec.Request.ID).Msg("delivery: failed to log start")
	}

	results := make([]ServerResult, len(spec.ServerIDs))
	tracker := newProgressTracker(len(spec.ServerIDs), spec.Progress)

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(c.concurrency)
	for i, serverID := range spec.ServerIDs {
		g.Go(func() error {
			results[i] = c.deliverTo(gctx, spec, serverID, tracker.slot(i))
			return nil
		})
	}
	_ = g.Wait()

	var succeeded int
	for _, r := range results {
		if r.Err == nil {
			succeeded++
		}
	}

	if succeeded == 0 {
		return results, domain.Ef(domain.KindExternal, "delivery failed on all %d servers", len(spec.ServerIDs))
	}

	if err := c.activity.Append(ctx, spec.Request.ID, models.EventDeliveryCompleted, "Delivery completed", map[string]any{
		"succeeded": succeeded,
		"failed":    len(results) - succeeded,
	}); err != nil {
		log.Warn().Err(err).Int64("requestId", spec.Request.ID).Msg("delivery: failed to log completion")
	}

	return results, nil
}

func (c *Coordinator) deliverTo(ctx context.Context, spec Spec, serverID int64, progress transport.ProgressFunc) ServerResult {
	result := ServerResult{ServerID: serverID}

	server, err := c.servers.Get(ctx, serverID)
	if err != nil {
		result.Err = fmt.Errorf("failed to load server %d: %w", serverID, err)
		return result
	}
	result.ServerName = server.Name

	t, err := c.registry.For(server.Protocol)
	if err != nil {
		result.Err = err
		return result
	}

	remotePath := path.Join(server.RootFor(spec.Request.MediaType), RemoteRelPath(spec))
	result.RemotePath = remotePath

	transferred, err := t.Deliver(ctx, server, spec.LocalPath, remotePath, progress)
	if err != nil {
		log.Error().Err(err).
			Str("server", server.Name).
			Str("remotePath", remotePath).
			Msg("delivery: transfer failed")
		result.Err = err
		return result
	}
	result.Bytes = transferred.BytesTransferred
	result.Duration = transferred.Duration

	if err := c.recordDelivered(ctx, spec, server, remotePath); err != nil {
		log.Warn().Err(err).Str("server", server.Name).Msg("delivery: failed to update library cache")
	}

	if err := c.scanner.Scan(ctx, server, remotePath); err != nil {
		// The file landed; a failed scan only delays visibility.
		log.Warn().Err(err).Str("server", server.Name).Msg("delivery: library scan failed")
	}

	log.Info().
		Str("server", server.Name).
		Str("remotePath", remotePath).
		Int64("bytes", result.Bytes).
		Msg("delivery: transfer completed")

	return result
}

func (c *Coordinator) recordDelivered(ctx context.Context, spec Spec, server *models.StorageServer, remotePath string) error {
	if err := c.libcache.Upsert(ctx, &models.LibraryEntry{
		TmdbID:        spec.Request.TmdbID,
		MediaType:     spec.Request.MediaType,
		ServerID:      server.ID,
		DeliveredPath: remotePath,
	}); err != nil {
		return err
	}

	if spec.Item.Kind == models.ItemKindEpisode && spec.Item.Season != nil && spec.Item.Episode != nil {
		return c.libcache.UpsertEpisode(ctx, spec.Request.TmdbID, *spec.Item.Season, *spec.Item.Episode, server.ID)
	}
	return nil
}

// RemoteRelPath builds the library-relative path for a delivery:
//
//	Title (Year)/Title (Year) 1080p.hevc.mkv
//	Series/Season 01/Series - S01E05 - Episode Title 1080p.hevc.mkv
func RemoteRelPath(spec Spec) string {
	suffix := fmt.Sprintf("%s.%s.%s", spec.Quality, spec.Codec, spec.Container)
	title := sanitize(spec.Request.Title)

	if spec.Request.MediaType == models.MediaTypeMovie {
		dir := fmt.Sprintf("%s (%d)", title, spec.Request.Year)
		return path.Join(dir, fmt.Sprintf("%s (%d) %s", title, spec.Request.Year, suffix))
	}

	season, episode := 0, 0
	if spec.Item.Season != nil {
		season = *spec.Item.Season
	}
	if spec.Item.Episode != nil {
		episode = *spec.Item.Episode
	}

	name := fmt.Sprintf("%s - S%02dE%02d", title, season, episode)
	if spec.Item.Title != "" {
		name += " - " + sanitize(spec.Item.Title)
	}
	return path.Join(title, fmt.Sprintf("Season %02d", season), fmt.Sprintf("%s %s", name, suffix))
}

// progressTracker folds per-server transfer fractions into one 0-100 figure.
type progressTracker struct {
	mu        sync.Mutex
	fractions []float64
	report    func(percent float64)
}

func newProgressTracker(n int, report func(percent float64)) *progressTracker {
	return &progressTracker{
		fractions: make([]float64, n),
		report:    report,
	}
}

func (p *progressTracker) slot(i int) transport.ProgressFunc {
	if p.report == nil {
		return nil
	}
	return func(sent, total int64) {
		if total <= 0 {
			return
		}
		p.mu.Lock()
		p.fractions[i] = float64(sent) / float64(total)
		var sum float64
		for _, f := range p.fractions {
			sum += f
		}
		percent := 100 * sum / float64(len(p.fractions))
		p.mu.Unlock()
		p.report(percent)
	}
}

// pathReplacer strips characters that break paths on common filesystems.
var pathReplacer = strings.NewReplacer(
	"/", "-",
	"\\", "-",
	":", "",
	"*", "",
	"?", "",
	"\"", "",
	"<", "",
	">", "",
	"|", "",
)

func sanitize(s string) string {
	return strings.TrimSpace(pathReplacer.Replace(s))
}
