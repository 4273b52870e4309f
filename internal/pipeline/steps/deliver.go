// Copyright (c) 2025-2026, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package steps

import (
	"context"

	"github.com/autobrr/fetcharr/internal/domain"
	"github.com/autobrr/fetcharr/internal/models"
	"github.com/autobrr/fetcharr/internal/pipeline"
	"github.com/autobrr/fetcharr/internal/services/delivery"
)

// DeliverStep ships every encoded output to the servers of its profile group.
// One landed copy anywhere completes the item; when every server fails the
// item drops back to encoded so a retry skips the encode.
type DeliverStep struct {
	deps Deps
}

func (s *DeliverStep) Kind() string { return "Deliver" }

func (s *DeliverStep) ValidateConfig(config map[string]any) error { return nil }

func (s *DeliverStep) Execute(ctx context.Context, sc models.StepContext, def models.StepDefinition, sink pipeline.ProgressSink) pipeline.Output {
	item, err := s.deps.loadItem(ctx, sc)
	if err != nil {
		return pipeline.Fail(err)
	}
	if item.Status == models.ItemStatusCompleted {
		return pipeline.Skip()
	}

	outputs := encodeOutputsFrom(sc)
	if len(outputs) == 0 {
		return pipeline.Fail(domain.E(domain.KindPrecondition, "nothing encoded to deliver"))
	}

	request, err := s.deps.loadRequest(ctx, sc)
	if err != nil {
		return pipeline.Fail(err)
	}

	if err := s.deps.Items.SetStatus(ctx, item.ID, models.ItemStatusDelivering, ""); err != nil {
		return pipeline.Fail(err)
	}

	var delivered int
	var lastErr error
	for _, output := range outputs {
		results, err := s.deps.Delivery.Deliver(ctx, delivery.Spec{
			Request:   request,
			Item:      item,
			LocalPath: output.OutputPath,
			Quality:   string(request.RequiredResolution),
			Codec:     output.Codec,
			Container: output.Container,
			ServerIDs: output.ServerIDs,
			Progress: sink.Progress,
		})
		if err != nil {
			lastErr = err
			continue
		}
		for _, r := range results {
			if r.Err == nil {
				delivered++
			}
		}
	}

	if delivered == 0 {
		// Keep the encode so a retry goes straight back to delivery.
		if err := s.deps.Items.SetStatus(ctx, item.ID, models.ItemStatusEncoded, lastErr.Error()); err != nil {
			return pipeline.Fail(err)
		}
		return pipeline.Fail(lastErr)
	}

	if err := s.deps.Items.SetStatus(ctx, item.ID, models.ItemStatusCompleted, ""); err != nil {
		return pipeline.Fail(err)
	}
	if err := s.deps.Items.SetProgress(ctx, item.ID, 100); err != nil {
		return pipeline.Fail(err)
	}

	return pipeline.Succeed(models.StepContext{"delivery.servers": delivered})
}
