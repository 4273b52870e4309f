// Copyright (c) 2025-2026, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package steps

import (
	"context"
	"fmt"

	"github.com/autobrr/fetcharr/internal/models"
	"github.com/autobrr/fetcharr/internal/pipeline"
)

// ApprovalStep parks the execution until an operator pins a release on the
// request. Templates place it before DownloadStart when grabs need a human in
// the loop; once the request carries a selected release the step passes
// through, which also makes resumption after approval idempotent.
type ApprovalStep struct {
	deps Deps
}

func (s *ApprovalStep) Kind() string { return "Approval" }

func (s *ApprovalStep) ValidateConfig(config map[string]any) error {
	if raw, ok := config["message"]; ok {
		if _, isString := raw.(string); !isString {
			return fmt.Errorf("message must be a string, got %T", raw)
		}
	}
	return nil
}

func (s *ApprovalStep) Execute(ctx context.Context, sc models.StepContext, def models.StepDefinition, sink pipeline.ProgressSink) pipeline.Output {
	request, err := s.deps.loadRequest(ctx, sc)
	if err != nil {
		return pipeline.Fail(err)
	}

	if request.SelectedRelease != nil {
		return pipeline.Skip()
	}

	reason := "waiting for operator approval"
	if msg, ok := def.Config["message"].(string); ok && msg != "" {
		reason = msg
	}
	return pipeline.Pause(reason)
}
