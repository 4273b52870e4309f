// Copyright (c) 2025-2026, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package steps

import (
	"context"

	"github.com/autobrr/fetcharr/internal/domain"
	"github.com/autobrr/fetcharr/internal/models"
	"github.com/autobrr/fetcharr/internal/pipeline"
)

// MapFilesStep turns a completed download into per-item source file paths.
// Movies get the single best file on the branch context; TV gets a map the
// Branch step later splits into per-episode branches.
type MapFilesStep struct {
	deps Deps
}

func (s *MapFilesStep) Kind() string { return "MapFiles" }

func (s *MapFilesStep) ValidateConfig(config map[string]any) error { return nil }

func (s *MapFilesStep) Execute(ctx context.Context, sc models.StepContext, def models.StepDefinition, sink pipeline.ProgressSink) pipeline.Output {
	downloadID, ok := pipeline.ContextInt64(sc, KeyDownloadID)
	if !ok {
		return pipeline.Fail(domain.E(domain.KindPrecondition, "no download to map files from"))
	}
	download, err := s.deps.Downloads.Get(ctx, downloadID)
	if err != nil {
		return pipeline.Fail(err)
	}

	if pipeline.MediaTypeFrom(sc) == models.MediaTypeMovie {
		return s.mapMovie(ctx, sc, download, sink)
	}
	return s.mapEpisodes(ctx, sc, download)
}

func (s *MapFilesStep) mapMovie(ctx context.Context, sc models.StepContext, download *models.Download, sink pipeline.ProgressSink) pipeline.Output {
	if _, mapped := sc[KeySourceFile].(string); mapped {
		return pipeline.Skip()
	}

	itemID, ok := pipeline.ItemIDFrom(sc)
	if !ok {
		return pipeline.Fail(domain.E(domain.KindPrecondition, "movie context carries no processing item id"))
	}

	sourcePath, err := s.deps.Mapper.MapMovie(ctx, download)
	if err != nil {
		return pipeline.Fail(err)
	}

	if err := s.deps.Items.SetStatus(ctx, itemID, models.ItemStatusDownloaded, ""); err != nil {
		return pipeline.Fail(err)
	}
	sink.Progress(100)

	return pipeline.Succeed(models.StepContext{KeySourceFile: sourcePath})
}

func (s *MapFilesStep) mapEpisodes(ctx context.Context, sc models.StepContext, download *models.Download) pipeline.Output {
	items, err := s.deps.Items.ListByDownload(ctx, download.ID)
	if err != nil {
		return pipeline.Fail(err)
	}

	mapped, err := s.deps.Mapper.MapEpisodes(ctx, download, items)
	if err != nil {
		return pipeline.Fail(err)
	}
	if len(mapped) == 0 {
		return pipeline.Fail(domain.E(domain.KindExternal, "no episode could be matched to a file"))
	}

	paths := make(map[string]string, len(mapped))
	for itemID, sourcePath := range mapped {
		if err := s.deps.Items.SetStatus(ctx, itemID, models.ItemStatusDownloaded, ""); err != nil {
			return pipeline.Fail(err)
		}
		paths[itemKey(itemID)] = sourcePath
	}

	return pipeline.Succeed(models.StepContext{KeyMappedFiles: paths})
}
