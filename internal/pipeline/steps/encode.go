// Copyright (c) 2025-2026, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package steps

import (
	"context"

	"github.com/autobrr/fetcharr/internal/domain"
	"github.com/autobrr/fetcharr/internal/models"
	"github.com/autobrr/fetcharr/internal/pipeline"
)

// encodeOutput records one profile group's finished encode for the Deliver
// step. Persisted in the step context, so it must survive JSON round-trips.
type encodeOutput struct {
	ProfileID  int64   `json:"profileId"`
	ServerIDs  []int64 `json:"serverIds"`
	OutputPath string  `json:"outputPath"`
	Container  string  `json:"container"`
	Codec      string  `json:"codec"`
}

// EncodeStep plans the profile groups for the item's targets and runs one
// encoder pool job per group, mirroring pool progress onto the item.
type EncodeStep struct {
	deps Deps
}

func (s *EncodeStep) Kind() string { return "Encode" }

func (s *EncodeStep) ValidateConfig(config map[string]any) error { return nil }

func (s *EncodeStep) Execute(ctx context.Context, sc models.StepContext, def models.StepDefinition, sink pipeline.ProgressSink) pipeline.Output {
	item, err := s.deps.loadItem(ctx, sc)
	if err != nil {
		return pipeline.Fail(err)
	}

	switch item.Status {
	case models.ItemStatusEncoded, models.ItemStatusDelivering, models.ItemStatusCompleted:
		return pipeline.Skip()
	}
	if outputs := encodeOutputsFrom(sc); len(outputs) > 0 {
		return pipeline.Skip()
	}

	sourcePath, _ := sc[KeySourceFile].(string)
	if sourcePath == "" {
		return pipeline.Fail(domain.E(domain.KindPrecondition, "no source file to encode"))
	}

	available, err := s.deps.Pool.HasEncoders(ctx)
	if err != nil {
		return pipeline.Fail(err)
	}
	if !available {
		s.deps.park(ctx, []int64{item.ID}, models.ItemStatusAwaiting, "no encoders available")
		return pipeline.RetryLater("no encoders available")
	}

	request, err := s.deps.loadRequest(ctx, sc)
	if err != nil {
		return pipeline.Fail(err)
	}

	groups, err := s.deps.Encoder.Plan(ctx, request.Targets)
	if err != nil {
		return pipeline.Fail(err)
	}

	if err := s.deps.Items.SetStatus(ctx, item.ID, models.ItemStatusEncoding, ""); err != nil {
		return pipeline.Fail(err)
	}

	outputs := make([]encodeOutput, 0, len(groups))
	for _, group := range groups {
		outputPath, err := s.deps.Encoder.Encode(ctx, request.ID, item, sourcePath, group, sink.Progress)
		if err != nil {
			return pipeline.Fail(err)
		}
		outputs = append(outputs, encodeOutput{
			ProfileID:  group.Profile.ID,
			ServerIDs:  group.ServerIDs,
			OutputPath: outputPath,
			Container:  group.Profile.Container,
			Codec:      group.Profile.VideoCodec,
		})
	}

	if err := s.deps.Items.SetStatus(ctx, item.ID, models.ItemStatusEncoded, ""); err != nil {
		return pipeline.Fail(err)
	}
	sink.Progress(100)

	return pipeline.Succeed(models.StepContext{
		KeyEncodeOutputs: outputs,
		KeyEncodeOutput:  outputs[0].OutputPath,
	})
}

func encodeOutputsFrom(sc models.StepContext) []encodeOutput {
	var outputs []encodeOutput
	decodeContextValue(sc, KeyEncodeOutputs, &outputs)
	return outputs
}
