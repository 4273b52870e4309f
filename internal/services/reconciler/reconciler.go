// Copyright (c) 2025-2026, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

// Package reconciler keeps Download rows and the torrent client in sync. It
// is the single writer of Download.status: it attaches requests to torrents
// the client already has, submits new grabs, watches transfer progress and
// rotates to alternative releases when a torrent stalls out.
package reconciler

import (
	"context"
	"strings"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/autobrr/fetcharr/internal/domain"
	"github.com/autobrr/fetcharr/internal/indexer"
	"github.com/autobrr/fetcharr/internal/models"
	"github.com/autobrr/fetcharr/internal/quality"
	"github.com/autobrr/fetcharr/internal/torrents"
)

// Config tunes polling and stall detection.
type Config struct {
	// PollInterval is the cadence of transfer-state polls.
	PollInterval time.Duration

	// StallWindow is how long a torrent may go without progress before it is
	// considered stalled.
	StallWindow time.Duration

	// SpeedFloor in bytes/s; transfers below it do not count as progress.
	SpeedFloor int64

	// MovieTimeout / TVTimeout bound the total download time before the
	// reconciler gives up on the torrent and rotates.
	MovieTimeout time.Duration
	TVTimeout    time.Duration
}

// DefaultConfig returns production settings.
func DefaultConfig() Config {
	return Config{
		PollInterval: 5 * time.Second,
		StallWindow:  30 * time.Minute,
		SpeedFloor:   1024,
		MovieTimeout: 24 * time.Hour,
		TVTimeout:    48 * time.Hour,
	}
}

// MatchSpec narrows torrent matching for TV work: a season pack must parse
// as the whole season, a single episode must parse as exactly that episode.
// The zero value matches movies.
type MatchSpec struct {
	Season     int
	Episode    int
	SeasonPack bool
}

// AcquireResult reports how a request got its Download.
type AcquireResult struct {
	Download *models.Download

	// AlreadyComplete is set when an existing torrent already finished, so
	// the caller can skip monitoring and go straight to file mapping.
	AlreadyComplete bool

	// Attached is set when an existing client torrent was reused instead of
	// submitting a new grab.
	Attached bool
}

// Reconciler owns the download lifecycle.
type Reconciler struct {
	downloads *models.DownloadStore
	items     *models.ProcessingItemStore
	activity  *models.ActivityLogStore
	engine    *quality.Engine
	torrents  torrents.Client
	indexer   indexer.Client
	cfg       Config

	// now is injectable for stall tests.
	now func() time.Time
}

// New creates a reconciler.
func New(downloads *models.DownloadStore, items *models.ProcessingItemStore, activity *models.ActivityLogStore, engine *quality.Engine, torrentClient torrents.Client, indexerClient indexer.Client, cfg Config) *Reconciler {
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = DefaultConfig().PollInterval
	}
	if cfg.StallWindow <= 0 {
		cfg.StallWindow = DefaultConfig().StallWindow
	}
	if cfg.MovieTimeout <= 0 {
		cfg.MovieTimeout = DefaultConfig().MovieTimeout
	}
	if cfg.TVTimeout <= 0 {
		cfg.TVTimeout = DefaultConfig().TVTimeout
	}

	return &Reconciler{
		downloads: downloads,
		items:     items,
		activity:  activity,
		engine:    engine,
		torrents:  torrentClient,
		indexer:   indexerClient,
		cfg:       cfg,
		now:       time.Now,
	}
}

// Acquire gets a Download going for a request: reuse a matching torrent the
// client already has, otherwise grab the primary release. Alternatives ride
// along on the Download row for later rotation.
func (r *Reconciler) Acquire(ctx context.Context, request *models.Request, itemIDs []int64, primary models.Release, alternatives []models.Release, match MatchSpec) (*AcquireResult, error) {
	existing, err := r.matchExisting(ctx, request, match)
	if err != nil {
		log.Warn().Err(err).Int64("requestId", request.ID).
			Msg("reconciler: failed to scan existing torrents, submitting fresh")
	}
	if existing != nil {
		download, err := r.attach(ctx, request, existing, alternatives)
		if err != nil {
			return nil, err
		}
		if err := r.attachItems(ctx, itemIDs, download.ID); err != nil {
			return nil, err
		}

		log.Info().
			Int64("requestId", request.ID).
			Str("hash", existing.Hash).
			Str("name", existing.Name).
			Bool("complete", existing.Done).
			Msg("reconciler: attached to existing torrent")

		return &AcquireResult{
			Download:        download,
			AlreadyComplete: existing.Done,
			Attached:        true,
		}, nil
	}

	download, err := r.submit(ctx, request, primary, alternatives)
	if err != nil {
		return nil, err
	}
	if err := r.attachItems(ctx, itemIDs, download.ID); err != nil {
		return nil, err
	}

	if err := r.activity.Append(ctx, request.ID, models.EventDownloadStarted, "Download started", map[string]any{
		"release": primary.Title,
		"indexer": primary.Indexer,
	}); err != nil {
		log.Warn().Err(err).Int64("requestId", request.ID).Msg("reconciler: failed to log download start")
	}

	return &AcquireResult{Download: download}, nil
}

// matchExisting scans the client's torrents for one that already covers this
// request at acceptable quality.
func (r *Reconciler) matchExisting(ctx context.Context, request *models.Request, match MatchSpec) (*torrents.Torrent, error) {
	list, err := r.torrents.List(ctx)
	if err != nil {
		return nil, err
	}

	for i := range list {
		t := &list[i]
		if t.Errored {
			continue
		}
		if !r.engine.MatchesTitle(request.Title, t.Name) {
			continue
		}
		if match.SeasonPack {
			if !r.engine.IsSeasonPack(t.Name, match.Season) {
				continue
			}
		} else if match.Season > 0 {
			if !r.engine.MatchesEpisode(t.Name, match.Season, match.Episode) {
				continue
			}
		}

		parsed := r.engine.Parse(t.Name)
		resolution, ok := domain.ParseResolution(parsed.Resolution)
		if !ok || !resolution.Meets(request.RequiredResolution) {
			continue
		}

		return t, nil
	}
	return nil, nil
}

// attach records an existing client torrent as this request's Download,
// reusing the row if the hash was seen before.
func (r *Reconciler) attach(ctx context.Context, request *models.Request, t *torrents.Torrent, alternatives []models.Release) (*models.Download, error) {
	if existing, err := r.downloads.GetByHash(ctx, t.Hash); err == nil {
		return existing, nil
	}

	status := models.DownloadStatusDownloading
	if t.Done {
		status = models.DownloadStatusCompleted
	}

	return r.downloads.Create(ctx, &models.Download{
		RequestID:    request.ID,
		TorrentHash:  t.Hash,
		Name:         t.Name,
		SavePath:     t.SavePath,
		ContentPath:  t.ContentPath,
		Status:       status,
		Progress:     t.Progress * 100,
		Size:         t.Size,
		Alternatives: alternatives,
	})
}

// submit grabs a release and creates its Download row.
func (r *Reconciler) submit(ctx context.Context, request *models.Request, release models.Release, alternatives []models.Release) (*models.Download, error) {
	hash, err := r.addToClient(ctx, release)
	if err != nil {
		return nil, err
	}

	if existing, err := r.downloads.GetByHash(ctx, hash); err == nil {
		// The client deduplicated the add; reuse the row.
		return existing, nil
	}

	return r.downloads.Create(ctx, &models.Download{
		RequestID:    request.ID,
		TorrentHash:  hash,
		Name:         release.Title,
		Status:       models.DownloadStatusDownloading,
		Size:         release.Size,
		Alternatives: alternatives,
	})
}

func (r *Reconciler) addToClient(ctx context.Context, release models.Release) (string, error) {
	if strings.HasPrefix(release.DownloadURL, "magnet:") {
		return r.torrents.AddMagnet(ctx, release.DownloadURL)
	}

	payload, err := r.indexer.Download(ctx, release.DownloadURL)
	if err != nil {
		return "", err
	}
	return r.torrents.AddPayload(ctx, payload)
}

func (r *Reconciler) attachItems(ctx context.Context, itemIDs []int64, downloadID int64) error {
	for _, itemID := range itemIDs {
		if err := r.items.SetDownloadID(ctx, itemID, &downloadID); err != nil {
			return err
		}
	}
	return nil
}

// Monitor polls the torrent until it completes, rotating through alternative
// releases on stall or failure. It returns the completed Download, which may
// differ from the one passed in after a rotation.
func (r *Reconciler) Monitor(ctx context.Context, request *models.Request, download *models.Download, itemIDs []int64) (*models.Download, error) {
	deadline := download.CreatedAt.Add(r.timeoutFor(request.MediaType))

	ticker := time.NewTicker(r.cfg.PollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-ticker.C:
		}

		t, err := r.torrents.Get(ctx, download.TorrentHash)
		if err != nil {
			log.Warn().Err(err).Str("hash", download.TorrentHash).
				Msg("reconciler: poll failed")
			continue
		}
		if t == nil {
			// Torrent vanished from the client.
			rotated, rerr := r.rotate(ctx, request, download, itemIDs, "torrent removed from client")
			if rerr != nil {
				return nil, rerr
			}
			download = rotated
			deadline = download.CreatedAt.Add(r.timeoutFor(request.MediaType))
			continue
		}

		progressed := t.DlSpeed > r.cfg.SpeedFloor || t.Done
		if err := r.downloads.UpdateTransferState(ctx, download.ID, t.Progress*100, t.Seeds, t.Peers, t.DlSpeed, progressed); err != nil {
			log.Warn().Err(err).Int64("downloadId", download.ID).
				Msg("reconciler: failed to persist transfer state")
		}
		for _, itemID := range itemIDs {
			if err := r.items.SetProgress(ctx, itemID, t.Progress*100); err != nil {
				log.Debug().Err(err).Int64("itemId", itemID).Msg("reconciler: failed to set item progress")
			}
		}

		switch {
		case t.Done:
			if err := r.downloads.SetPaths(ctx, download.ID, t.SavePath, t.ContentPath); err != nil {
				return nil, err
			}
			if err := r.downloads.SetStatus(ctx, download.ID, models.DownloadStatusCompleted, ""); err != nil {
				return nil, err
			}
			if err := r.activity.Append(ctx, request.ID, models.EventDownloadCompleted, "Download completed", map[string]any{
				"name": t.Name,
			}); err != nil {
				log.Warn().Err(err).Int64("requestId", request.ID).Msg("reconciler: failed to log completion")
			}
			return r.downloads.Get(ctx, download.ID)

		case t.Errored:
			rotated, rerr := r.rotate(ctx, request, download, itemIDs, "torrent errored in client")
			if rerr != nil {
				return nil, rerr
			}
			download = rotated
			deadline = download.CreatedAt.Add(r.timeoutFor(request.MediaType))

		case r.now().After(deadline):
			rotated, rerr := r.rotate(ctx, request, download, itemIDs, "download timed out")
			if rerr != nil {
				return nil, rerr
			}
			download = rotated
			deadline = download.CreatedAt.Add(r.timeoutFor(request.MediaType))

		default:
			stalled, err := r.isStalled(ctx, download.ID)
			if err != nil {
				log.Warn().Err(err).Int64("downloadId", download.ID).Msg("reconciler: stall check failed")
				continue
			}
			if stalled {
				rotated, rerr := r.rotate(ctx, request, download, itemIDs, "no progress within stall window")
				if rerr != nil {
					return nil, rerr
				}
				download = rotated
				deadline = download.CreatedAt.Add(r.timeoutFor(request.MediaType))
			}
		}
	}
}

// isStalled re-reads the row so stall state survives process restarts.
func (r *Reconciler) isStalled(ctx context.Context, downloadID int64) (bool, error) {
	download, err := r.downloads.Get(ctx, downloadID)
	if err != nil {
		return false, err
	}
	if download.LastProgressAt == nil {
		return r.now().Sub(download.CreatedAt) > r.cfg.StallWindow, nil
	}
	return r.now().Sub(*download.LastProgressAt) > r.cfg.StallWindow, nil
}

// Stalled reports whether an active download has gone quiet; the download
// health sweep uses it without entering a Monitor loop.
func (r *Reconciler) Stalled(download *models.Download) bool {
	if download.Status != models.DownloadStatusDownloading && download.Status != models.DownloadStatusPending {
		return false
	}
	anchor := download.CreatedAt
	if download.LastProgressAt != nil {
		anchor = *download.LastProgressAt
	}
	return r.now().Sub(anchor) > r.cfg.StallWindow
}

// Rotate gives up on the current torrent and moves to the next alternative.
// With nothing left to try, the Download fails and the items are re-armed so
// a later search round starts over. The health sweep calls it directly for
// downloads nobody is monitoring.
func (r *Reconciler) Rotate(ctx context.Context, request *models.Request, download *models.Download, itemIDs []int64, reason string) (*models.Download, error) {
	return r.rotate(ctx, request, download, itemIDs, reason)
}

func (r *Reconciler) rotate(ctx context.Context, request *models.Request, download *models.Download, itemIDs []int64, reason string) (*models.Download, error) {
	log.Warn().
		Int64("downloadId", download.ID).
		Str("hash", download.TorrentHash).
		Str("reason", reason).
		Msg("reconciler: rotating download")

	if err := r.torrents.Delete(ctx, download.TorrentHash, true); err != nil {
		log.Warn().Err(err).Str("hash", download.TorrentHash).
			Msg("reconciler: failed to delete stalled torrent")
	}

	if err := r.activity.Append(ctx, request.ID, models.EventDownloadStalled, "Download stalled", map[string]any{
		"name":   download.Name,
		"reason": reason,
	}); err != nil {
		log.Warn().Err(err).Int64("requestId", request.ID).Msg("reconciler: failed to log stall")
	}

	remaining := download.Alternatives
	if len(remaining) == 0 {
		return nil, r.exhaust(ctx, download, itemIDs, reason)
	}

	next, rest := remaining[0], remaining[1:]
	if err := r.downloads.SetStatus(ctx, download.ID, models.DownloadStatusFailed, reason); err != nil {
		return nil, err
	}

	replacement, err := r.submit(ctx, request, next, rest)
	if err != nil {
		// The alternative would not grab either; burn it and fail over to
		// whatever is left on the dead row.
		download.Alternatives = rest
		log.Warn().Err(err).Str("release", next.Title).Msg("reconciler: alternative grab failed")
		return r.rotate(ctx, request, download, itemIDs, "alternative grab failed")
	}

	if err := r.attachItems(ctx, itemIDs, replacement.ID); err != nil {
		return nil, err
	}

	if err := r.activity.Append(ctx, request.ID, models.EventDownloadSwitched, "Switched to alternative release", map[string]any{
		"release": next.Title,
	}); err != nil {
		log.Warn().Err(err).Int64("requestId", request.ID).Msg("reconciler: failed to log switch")
	}

	return replacement, nil
}

// exhaust fails the download for good and re-arms the items for a fresh
// search round.
func (r *Reconciler) exhaust(ctx context.Context, download *models.Download, itemIDs []int64, reason string) error {
	if err := r.downloads.SetStatus(ctx, download.ID, models.DownloadStatusFailed, reason); err != nil {
		return err
	}
	for _, itemID := range itemIDs {
		if err := r.items.SetDownloadID(ctx, itemID, nil); err != nil {
			log.Warn().Err(err).Int64("itemId", itemID).Msg("reconciler: failed to detach item")
		}
		if err := r.items.ResetToPending(ctx, itemID); err != nil {
			log.Warn().Err(err).Int64("itemId", itemID).Msg("reconciler: failed to re-arm item")
		}
	}
	return domain.Ef(domain.KindExternal, "download failed: %s, no alternatives left", reason)
}

func (r *Reconciler) timeoutFor(mediaType models.MediaType) time.Duration {
	if mediaType == models.MediaTypeTV {
		return r.cfg.TVTimeout
	}
	return r.cfg.MovieTimeout
}
