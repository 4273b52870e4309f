// Copyright (c) 2025-2026, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

// Package filemapper resolves which file inside a finished download belongs
// to which processing item: the main feature for movies, one file per
// episode for TV. Scene releases wrapped in RAR archives are unpacked first.
package filemapper

import (
	"context"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"

	"github.com/mholt/archives"
	"github.com/rs/zerolog/log"

	"github.com/autobrr/fetcharr/internal/domain"
	"github.com/autobrr/fetcharr/internal/models"
	"github.com/autobrr/fetcharr/internal/quality"
	"github.com/autobrr/fetcharr/internal/torrents"
)

// minVideoSize filters out samples and extras masquerading as video files.
const minVideoSize = 100 << 20

// UnmatchedEpisodeError is the message recorded on items no file maps to.
const UnmatchedEpisodeError = "Could not match file to episode"

var (
	// rarPart matches numbered archive volumes; extraction starts at part 1.
	rarPart = regexp.MustCompile(`(?i)\.part(\d+)\.rar$`)

	// multiEpisode matches ranges like S01E01E02 or S01E01-E03, which cannot
	// be attributed to a single episode item.
	multiEpisode = regexp.MustCompile(`(?i)e\d{1,3}[\s._-]*e\d{1,3}`)

	sampleName = regexp.MustCompile(`(?i)(^|[\s._-])sample([\s._-]|$)`)
)

// Candidate is one usable video file in a download.
type Candidate struct {
	Path string
	Size int64
}

// Mapper maps downloaded files onto processing items.
type Mapper struct {
	items    *models.ProcessingItemStore
	engine   *quality.Engine
	torrents torrents.Client
}

// New creates a mapper.
func New(items *models.ProcessingItemStore, engine *quality.Engine, torrentClient torrents.Client) *Mapper {
	return &Mapper{
		items:    items,
		engine:   engine,
		torrents: torrentClient,
	}
}

// MapMovie returns the main feature's path for a movie download.
func (m *Mapper) MapMovie(ctx context.Context, download *models.Download) (string, error) {
	candidates, err := m.candidates(ctx, download)
	if err != nil {
		return "", err
	}
	if len(candidates) == 0 {
		return "", domain.E(domain.KindPrecondition, "no video files in download")
	}

	best := candidates[0]
	for _, c := range candidates[1:] {
		if c.Size > best.Size {
			best = c
		}
	}

	log.Debug().
		Int64("downloadId", download.ID).
		Str("path", best.Path).
		Int64("size", best.Size).
		Msg("filemapper: selected main feature")

	return best.Path, nil
}

// MapEpisodes attributes files to episode items by parsed season/episode.
// Items that already map cleanly are skipped; items no file matches are
// marked failed. The returned map holds itemID → source path for the items
// that matched this round.
func (m *Mapper) MapEpisodes(ctx context.Context, download *models.Download, items []*models.ProcessingItem) (map[int64]string, error) {
	candidates, err := m.candidates(ctx, download)
	if err != nil {
		return nil, err
	}

	type parsedFile struct {
		Candidate
		season  int
		episode int
	}

	var files []parsedFile
	for _, c := range candidates {
		name := filepath.Base(c.Path)
		if multiEpisode.MatchString(name) {
			log.Debug().Str("file", name).Msg("filemapper: skipping multi-episode file")
			continue
		}
		parsed := m.engine.Parse(name)
		if parsed.Series == 0 || parsed.Episode == 0 {
			continue
		}
		files = append(files, parsedFile{Candidate: c, season: parsed.Series, episode: parsed.Episode})
	}

	mapped := make(map[int64]string)
	for _, item := range items {
		if item.Status.IsTerminal() || item.Season == nil || item.Episode == nil {
			continue
		}
		if existing, ok := item.StepContext["download.sourceFilePath"].(string); ok && existing != "" {
			// Already mapped on a previous run.
			continue
		}

		var found *parsedFile
		for i := range files {
			if files[i].season == *item.Season && files[i].episode == *item.Episode {
				found = &files[i]
				break
			}
		}

		if found == nil {
			if err := m.items.SetStatus(ctx, item.ID, models.ItemStatusFailed, UnmatchedEpisodeError); err != nil {
				log.Warn().Err(err).Int64("itemId", item.ID).Msg("filemapper: failed to mark unmatched item")
			}
			continue
		}
		mapped[item.ID] = found.Path
	}

	return mapped, nil
}

// candidates enumerates usable video files, unpacking RAR archives first.
// The torrent manifest is authoritative when available; otherwise the
// content path is scanned.
func (m *Mapper) candidates(ctx context.Context, download *models.Download) ([]Candidate, error) {
	all, err := m.enumerate(ctx, download)
	if err != nil {
		return nil, err
	}

	if rar := findFirstRar(all); rar != "" {
		if err := m.extractRar(ctx, rar, filepath.Dir(rar)); err != nil {
			// The main feature may still sit next to the archive.
			log.Warn().Err(err).Str("archive", rar).Msg("filemapper: rar extraction failed, continuing")
		}
		// Re-scan to pick up whatever was unpacked.
		if rescanned, err := scanDir(download.ContentPath); err == nil && len(rescanned) > 0 {
			all = rescanned
		}
	}

	var usable []Candidate
	for _, c := range all {
		if !torrents.IsVideoFile(c.Path) {
			continue
		}
		if isSample(c.Path) || c.Size < minVideoSize {
			continue
		}
		usable = append(usable, c)
	}
	return usable, nil
}

func (m *Mapper) enumerate(ctx context.Context, download *models.Download) ([]Candidate, error) {
	if download.TorrentHash != "" {
		files, err := m.torrents.Files(ctx, download.TorrentHash)
		if err == nil && len(files) > 0 {
			out := make([]Candidate, 0, len(files))
			for _, f := range files {
				out = append(out, Candidate{
					Path: filepath.Join(download.SavePath, f.Path),
					Size: f.Size,
				})
			}
			return out, nil
		}
		if err != nil {
			log.Warn().Err(err).Str("hash", download.TorrentHash).
				Msg("filemapper: torrent manifest unavailable, scanning disk")
		}
	}

	return scanDir(download.ContentPath)
}

func scanDir(root string) ([]Candidate, error) {
	info, err := os.Stat(root)
	if err != nil {
		return nil, domain.Wrap(domain.KindPrecondition, "download content missing", err)
	}

	if !info.IsDir() {
		return []Candidate{{Path: root, Size: info.Size()}}, nil
	}

	var out []Candidate
	err = filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil || d.IsDir() {
			return err
		}
		fi, err := d.Info()
		if err != nil {
			return nil
		}
		out = append(out, Candidate{Path: path, Size: fi.Size()})
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// findFirstRar returns the archive volume to start extraction from, if the
// download is RAR-packed. Multi-part archives start at part 1; a lone .rar
// is its own starting point.
func findFirstRar(candidates []Candidate) string {
	var plain string
	for _, c := range candidates {
		base := filepath.Base(c.Path)
		if m := rarPart.FindStringSubmatch(base); m != nil {
			if n, err := strconv.Atoi(m[1]); err == nil && n == 1 {
				return c.Path
			}
			continue
		}
		if plain == "" && strings.EqualFold(filepath.Ext(base), ".rar") {
			plain = c.Path
		}
	}
	return plain
}

// extractRar unpacks an archive into destDir, preserving relative paths.
func (m *Mapper) extractRar(ctx context.Context, archivePath, destDir string) error {
	f, err := os.Open(archivePath)
	if err != nil {
		return err
	}
	defer f.Close()

	format, reader, err := archives.Identify(ctx, archivePath, f)
	if err != nil {
		return err
	}

	extractor, ok := format.(archives.Extractor)
	if !ok {
		return domain.Ef(domain.KindPrecondition, "%s is not an extractable archive", filepath.Base(archivePath))
	}

	return extractor.Extract(ctx, reader, func(ctx context.Context, file archives.FileInfo) error {
		if file.IsDir() {
			return nil
		}

		target := filepath.Join(destDir, filepath.Clean(file.NameInArchive))
		if !strings.HasPrefix(target, filepath.Clean(destDir)+string(os.PathSeparator)) {
			return domain.Ef(domain.KindPrecondition, "archive entry escapes destination: %s", file.NameInArchive)
		}
		if err := os.MkdirAll(filepath.Dir(target), 0o755); err != nil {
			return err
		}

		src, err := file.Open()
		if err != nil {
			return err
		}
		defer src.Close()

		dst, err := os.Create(target)
		if err != nil {
			return err
		}
		defer dst.Close()

		_, err = io.Copy(dst, src)
		return err
	})
}

// isSample reports whether a path points at a sample file rather than real
// content.
func isSample(path string) bool {
	for _, segment := range strings.Split(filepath.ToSlash(path), "/") {
		if strings.EqualFold(segment, "sample") || strings.EqualFold(segment, "samples") {
			return true
		}
	}

	base := filepath.Base(path)
	name := strings.TrimSuffix(base, filepath.Ext(base))
	return sampleName.MatchString(name)
}
