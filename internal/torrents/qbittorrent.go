// Copyright (c) 2025-2026, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package torrents

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	qbt "github.com/autobrr/go-qbittorrent"
	"github.com/hashicorp/go-version"
	"github.com/rs/zerolog/log"
	"golang.org/x/sync/singleflight"

	"github.com/autobrr/fetcharr/internal/domain"
)

// completedStates are qBittorrent states that mean the payload is fully on
// disk, regardless of seeding activity.
var completedStates = map[qbt.TorrentState]struct{}{
	qbt.TorrentStateUploading:  {},
	qbt.TorrentStateStalledUp:  {},
	qbt.TorrentStatePausedUp:   {},
	qbt.TorrentStateStoppedUp:  {},
	qbt.TorrentStateQueuedUp:   {},
	qbt.TorrentStateForcedUp:   {},
	qbt.TorrentStateCheckingUp: {},
}

var erroredStates = map[qbt.TorrentState]struct{}{
	qbt.TorrentStateError:        {},
	qbt.TorrentStateMissingFiles: {},
}

// QbitClient implements Client against a qBittorrent WebUI. All managed
// torrents live in one category so the rest of the client stays untouched.
type QbitClient struct {
	client   *qbt.Client
	category string

	// categoryOnce dedupes concurrent category creation.
	categoryOnce  singleflight.Group
	categoryReady bool
	mu            sync.Mutex

	supportsSubcategories bool
}

// NewQbitClient connects and authenticates against the WebUI.
func NewQbitClient(ctx context.Context, host, username, password, category string) (*QbitClient, error) {
	if category == "" {
		category = "fetcharr"
	}

	qbtClient := qbt.NewClient(qbt.Config{
		Host:     host,
		Username: username,
		Password: password,
		Timeout:  30,
	})

	loginCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()

	if err := qbtClient.LoginCtx(loginCtx); err != nil {
		return nil, domain.Wrap(domain.KindExternal, "failed to connect to qBittorrent", err)
	}

	c := &QbitClient{
		client:   qbtClient,
		category: category,
	}

	webAPIVersion, err := qbtClient.GetWebAPIVersionCtx(loginCtx)
	if err != nil {
		webAPIVersion = ""
	}
	if webAPIVersion != "" {
		if v, err := version.NewVersion(webAPIVersion); err == nil {
			minVersion := version.Must(version.NewVersion("2.9.3"))
			c.supportsSubcategories = v.GreaterThanOrEqual(minVersion)
		}
	}

	log.Debug().
		Str("webApiVersion", webAPIVersion).
		Str("category", category).
		Msg("torrents: connected to qBittorrent")

	return c, nil
}

// Health verifies connectivity, re-authenticating once on failure.
func (c *QbitClient) Health(ctx context.Context) error {
	if _, err := c.client.GetWebAPIVersionCtx(ctx); err != nil {
		if loginErr := c.client.LoginCtx(ctx); loginErr != nil {
			return domain.Wrap(domain.KindExternal, "qBittorrent login failed", loginErr)
		}
		if _, err = c.client.GetWebAPIVersionCtx(ctx); err != nil {
			return domain.Wrap(domain.KindExternal, "qBittorrent unreachable", err)
		}
	}
	return nil
}

// List returns all torrents in the managed category.
func (c *QbitClient) List(ctx context.Context) ([]Torrent, error) {
	raw, err := c.client.GetTorrentsCtx(ctx, qbt.TorrentFilterOptions{
		Category: c.category,
	})
	if err != nil {
		return nil, domain.Wrap(domain.KindExternal, "failed to list torrents", err)
	}

	torrents := make([]Torrent, 0, len(raw))
	for _, t := range raw {
		torrents = append(torrents, fromQbt(t))
	}
	return torrents, nil
}

// Get returns one torrent, or nil when the hash is unknown.
func (c *QbitClient) Get(ctx context.Context, hash string) (*Torrent, error) {
	raw, err := c.client.GetTorrentsCtx(ctx, qbt.TorrentFilterOptions{
		Hashes: []string{hash},
	})
	if err != nil {
		return nil, domain.Wrap(domain.KindExternal, "failed to get torrent", err)
	}
	if len(raw) == 0 {
		return nil, nil
	}

	t := fromQbt(raw[0])
	return &t, nil
}

// AddPayload adds a torrent from its .torrent payload and returns the
// info-hash parsed from the payload itself, so the caller has the hash even
// when qBittorrent deduplicates the add.
func (c *QbitClient) AddPayload(ctx context.Context, payload []byte) (string, error) {
	meta, err := ParseTorrent(payload)
	if err != nil {
		return "", err
	}

	if err := c.ensureCategory(ctx); err != nil {
		return "", err
	}

	options := map[string]string{
		"category": c.category,
	}
	if err := c.client.AddTorrentFromMemoryCtx(ctx, payload, options); err != nil {
		return "", domain.Wrap(domain.KindExternal, "failed to add torrent", err)
	}

	return meta.Hash, nil
}

// AddMagnet adds a torrent from a magnet link.
func (c *QbitClient) AddMagnet(ctx context.Context, magnet string) (string, error) {
	hash, ok := ParseMagnetHash(magnet)
	if !ok {
		return "", domain.E(domain.KindPrecondition, "magnet link has no info-hash")
	}

	if err := c.ensureCategory(ctx); err != nil {
		return "", err
	}

	options := map[string]string{
		"category": c.category,
	}
	if err := c.client.AddTorrentFromUrlCtx(ctx, magnet, options); err != nil {
		return "", domain.Wrap(domain.KindExternal, "failed to add magnet", err)
	}

	return hash, nil
}

// Delete removes a torrent, optionally with its downloaded data.
func (c *QbitClient) Delete(ctx context.Context, hash string, deleteFiles bool) error {
	if err := c.client.DeleteTorrentsCtx(ctx, []string{hash}, deleteFiles); err != nil {
		return domain.Wrap(domain.KindExternal, "failed to delete torrent", err)
	}
	return nil
}

// Files lists the files of a torrent.
func (c *QbitClient) Files(ctx context.Context, hash string) ([]File, error) {
	raw, err := c.client.GetFilesInformationCtx(ctx, hash)
	if err != nil {
		return nil, domain.Wrap(domain.KindExternal, "failed to list torrent files", err)
	}
	if raw == nil {
		return nil, nil
	}

	files := make([]File, 0, len(*raw))
	for _, f := range *raw {
		files = append(files, File{Path: f.Name, Size: f.Size})
	}
	return files, nil
}

// ensureCategory creates the managed category once per process lifetime.
// Concurrent adds collapse into a single creation call.
func (c *QbitClient) ensureCategory(ctx context.Context) error {
	c.mu.Lock()
	ready := c.categoryReady
	c.mu.Unlock()
	if ready {
		return nil
	}

	_, err, _ := c.categoryOnce.Do(c.category, func() (any, error) {
		err := c.client.CreateCategoryCtx(ctx, c.category, "")
		if err != nil && strings.Contains(err.Error(), "conflict") {
			// Already exists.
			err = nil
		}
		if err != nil {
			return nil, fmt.Errorf("failed to create category %q: %w", c.category, err)
		}
		c.mu.Lock()
		c.categoryReady = true
		c.mu.Unlock()
		return nil, nil
	})
	return err
}

func fromQbt(t qbt.Torrent) Torrent {
	_, done := completedStates[t.State]
	_, errored := erroredStates[t.State]

	return Torrent{
		Hash:        t.Hash,
		Name:        t.Name,
		SavePath:    t.SavePath,
		ContentPath: t.ContentPath,
		Progress:    t.Progress,
		Size:        t.Size,
		DlSpeed:     t.DlSpeed,
		Seeds:       int(t.NumSeeds),
		Peers:       int(t.NumLeechs),
		State:       string(t.State),
		Done:        done || t.Progress >= 1.0,
		Errored:     errored,
	}
}
