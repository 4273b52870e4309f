// Copyright (c) 2025-2026, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package steps

import (
	"context"

	"github.com/autobrr/fetcharr/internal/domain"
	"github.com/autobrr/fetcharr/internal/models"
	"github.com/autobrr/fetcharr/internal/pipeline"
)

// BranchStep fans a TV request out into per-episode child executions. Its
// children in the template are the branch template: each mapped episode gets
// its own execution running that subtree against its own item and source
// file. The step itself stops the parent branch once all children settle.
type BranchStep struct {
	deps Deps
}

func (s *BranchStep) Kind() string { return "Branch" }

func (s *BranchStep) ValidateConfig(config map[string]any) error { return nil }

func (s *BranchStep) Execute(ctx context.Context, sc models.StepContext, def models.StepDefinition, sink pipeline.ProgressSink) pipeline.Output {
	if pipeline.MediaTypeFrom(sc) == models.MediaTypeMovie {
		return pipeline.Skip()
	}
	if len(def.Children) == 0 {
		return pipeline.Fail(domain.E(domain.KindPrecondition, "branch step has no branch template"))
	}

	executionID, ok := pipeline.ExecutionIDFrom(sc)
	if !ok {
		return pipeline.Fail(domain.E(domain.KindPrecondition, "context carries no execution id"))
	}
	parent, err := s.deps.Executions.Get(ctx, executionID)
	if err != nil {
		return pipeline.Fail(err)
	}

	requestID, ok := pipeline.RequestIDFrom(sc)
	if !ok {
		return pipeline.Fail(domain.E(domain.KindPrecondition, "context carries no request id"))
	}
	items, err := s.deps.Items.ListByRequest(ctx, requestID)
	if err != nil {
		return pipeline.Fail(err)
	}

	mapped := stringMapFrom(sc, KeyMappedFiles)

	var branches []pipeline.EpisodeBranch
	for _, item := range items {
		if item.Kind != models.ItemKindEpisode || item.Status.IsTerminal() {
			continue
		}
		sourcePath := mapped[itemKey(item.ID)]
		if sourcePath == "" {
			// Resumed runs find earlier mappings on the item itself.
			sourcePath, _ = item.StepContext[KeySourceFile].(string)
		}
		if sourcePath == "" {
			continue
		}

		branchCtx := pipeline.CloneContext(sc)
		delete(branchCtx, KeyMappedFiles)
		branchCtx[KeySourceFile] = sourcePath

		branches = append(branches, pipeline.EpisodeBranch{
			Item:    item,
			Steps:   def.Children,
			Context: branchCtx,
		})
	}

	if len(branches) == 0 {
		return pipeline.Fail(domain.E(domain.KindPrecondition, "no mapped episodes to branch on"))
	}

	if err := s.deps.Runner.RunEpisodeBranches(ctx, parent, branches); err != nil {
		return pipeline.Fail(err)
	}

	// Children ran as episode executions; do not run them again here.
	return pipeline.SucceedStop(nil)
}
