// Copyright (c) 2025-2026, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package torrents

import (
	"context"
	"net/url"
	"path"
	"strings"
)

// Torrent is the client-neutral view of one torrent in the download client.
type Torrent struct {
	Hash        string
	Name        string
	SavePath    string
	ContentPath string
	Progress    float64
	Size        int64
	DlSpeed     int64
	Seeds       int
	Peers       int
	State       string
	Done        bool
	Errored     bool
}

// File is one file inside a torrent, path relative to the save path.
type File struct {
	Path string
	Size int64
}

// Client talks to the download client.
type Client interface {
	// Health verifies connectivity, re-authenticating if needed.
	Health(ctx context.Context) error

	// List returns all torrents in the managed category.
	List(ctx context.Context) ([]Torrent, error)

	// Get returns one torrent, or nil when the hash is unknown.
	Get(ctx context.Context, hash string) (*Torrent, error)

	// AddPayload adds a torrent from its .torrent payload and returns the
	// info-hash. Adding a hash that already exists is not an error.
	AddPayload(ctx context.Context, payload []byte) (string, error)

	// AddMagnet adds a torrent from a magnet link and returns the info-hash.
	AddMagnet(ctx context.Context, magnet string) (string, error)

	// Delete removes a torrent, optionally with its downloaded data.
	Delete(ctx context.Context, hash string, deleteFiles bool) error

	// Files lists the files of a torrent.
	Files(ctx context.Context, hash string) ([]File, error)
}

// videoExtensions are the containers the pipeline can work with.
var videoExtensions = map[string]struct{}{
	".mkv":  {},
	".mp4":  {},
	".avi":  {},
	".mov":  {},
	".wmv":  {},
	".flv":  {},
	".webm": {},
	".m4v":  {},
}

// IsVideoFile reports whether the path has a recognized video extension.
func IsVideoFile(filePath string) bool {
	ext := strings.ToLower(path.Ext(filePath))
	_, ok := videoExtensions[ext]
	return ok
}

// LargestVideoFile returns the biggest video file in the list, which for
// movie torrents is the main feature.
func LargestVideoFile(files []File) (File, bool) {
	var largest File
	var found bool
	for _, f := range files {
		if !IsVideoFile(f.Path) {
			continue
		}
		if !found || f.Size > largest.Size {
			largest = f
			found = true
		}
	}
	return largest, found
}

// ParseMagnetHash extracts the lowercased info-hash from a magnet link.
func ParseMagnetHash(magnet string) (string, bool) {
	u, err := url.Parse(magnet)
	if err != nil || u.Scheme != "magnet" {
		return "", false
	}
	for _, xt := range u.Query()["xt"] {
		if h, ok := strings.CutPrefix(xt, "urn:btih:"); ok && h != "" {
			return strings.ToLower(h), true
		}
	}
	return "", false
}
