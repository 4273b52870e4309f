// Copyright (c) 2025-2026, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

// Package encodecoord drives the encoder pool for a request: it resolves
// which encoding profile each target server gets, deduplicates targets that
// share a profile into one encode, submits jobs idempotently and mirrors
// pool progress back onto the processing item.
package encodecoord

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"path/filepath"
	"time"

	"github.com/cespare/xxhash/v2"
	"github.com/rs/zerolog/log"

	"github.com/autobrr/fetcharr/internal/domain"
	"github.com/autobrr/fetcharr/internal/encoder"
	"github.com/autobrr/fetcharr/internal/models"
)

// defaultPollInterval is how often pool job status is mirrored to the item.
const defaultPollInterval = 2 * time.Second

// Group is one encode covering every target server that shares a profile.
type Group struct {
	Profile   *models.EncodingProfile
	ServerIDs []int64

	// Primary marks the first group; it owns the bare idempotency token.
	Primary bool
}

// Coordinator resolves profiles and shepherds encoder pool jobs.
type Coordinator struct {
	profiles     *models.EncodingProfileStore
	servers      *models.StorageServerStore
	assignments  *models.EncoderAssignmentStore
	items        *models.ProcessingItemStore
	activity     *models.ActivityLogStore
	pool         encoder.Pool
	pollInterval time.Duration
}

// New creates a coordinator. pollInterval ≤ 0 uses the default.
func New(profiles *models.EncodingProfileStore, servers *models.StorageServerStore, assignments *models.EncoderAssignmentStore, items *models.ProcessingItemStore, activity *models.ActivityLogStore, pool encoder.Pool, pollInterval time.Duration) *Coordinator {
	if pollInterval <= 0 {
		pollInterval = defaultPollInterval
	}
	return &Coordinator{
		profiles:     profiles,
		servers:      servers,
		assignments:  assignments,
		items:        items,
		activity:     activity,
		pool:         pool,
		pollInterval: pollInterval,
	}
}

// Plan resolves the effective profile per target and groups targets that
// share one. Resolution order: target override, then server default, then
// system default; a target with none of the three fails the plan.
func (c *Coordinator) Plan(ctx context.Context, targets []models.Target) ([]Group, error) {
	if len(targets) == 0 {
		return nil, domain.E(domain.KindPrecondition, "request has no target servers")
	}

	groups := make(map[int64]*Group)
	var order []int64

	for _, target := range targets {
		profile, err := c.resolveProfile(ctx, target)
		if err != nil {
			return nil, err
		}

		g, ok := groups[profile.ID]
		if !ok {
			g = &Group{Profile: profile}
			groups[profile.ID] = g
			order = append(order, profile.ID)
		}
		g.ServerIDs = append(g.ServerIDs, target.ServerID)
	}

	out := make([]Group, 0, len(order))
	for i, profileID := range order {
		g := groups[profileID]
		g.Primary = i == 0
		out = append(out, *g)
	}
	return out, nil
}

func (c *Coordinator) resolveProfile(ctx context.Context, target models.Target) (*models.EncodingProfile, error) {
	if target.ProfileID != nil {
		profile, err := c.profiles.Get(ctx, *target.ProfileID)
		if errors.Is(err, sql.ErrNoRows) {
			return nil, domain.Ef(domain.KindMisconfiguration, "encoding profile %d not found", *target.ProfileID)
		}
		return profile, err
	}

	server, err := c.servers.Get(ctx, target.ServerID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, domain.Ef(domain.KindMisconfiguration, "storage server %d not found", target.ServerID)
		}
		return nil, err
	}
	if server.DefaultProfileID != nil {
		profile, err := c.profiles.Get(ctx, *server.DefaultProfileID)
		if errors.Is(err, sql.ErrNoRows) {
			return nil, domain.Ef(domain.KindMisconfiguration, "encoding profile %d not found", *server.DefaultProfileID)
		}
		return profile, err
	}

	profile, err := c.profiles.GetSystemDefault(ctx)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, domain.Ef(domain.KindMisconfiguration, "no encoding profile for server %q and no system default", server.Name)
	}
	return profile, err
}

// JobID builds the idempotency token for an item/profile pair. The primary
// group keeps the bare token so the item's encode_job_id stays stable.
func JobID(itemID int64, profileID int64, primary bool) string {
	if primary {
		return fmt.Sprintf("encode:%d", itemID)
	}
	return fmt.Sprintf("encode:%d:%d", itemID, profileID)
}

// OutputPath derives a deterministic output location next to the source, so
// a re-run of the same item/profile overwrites rather than accumulates.
func OutputPath(sourcePath string, itemID, profileID int64, container string) string {
	sum := xxhash.Sum64String(fmt.Sprintf("item:%d:profile:%d", itemID, profileID))
	name := fmt.Sprintf("fetcharr-%016x.%s", sum, container)
	return filepath.Join(filepath.Dir(sourcePath), name)
}

// Encode runs one profile group's encode to completion, reporting progress
// through sink. Already-completed assignments short-circuit without touching
// the pool again.
func (c *Coordinator) Encode(ctx context.Context, requestID int64, item *models.ProcessingItem, sourcePath string, group Group, sink func(float64)) (string, error) {
	jobID := JobID(item.ID, group.Profile.ID, group.Primary)
	outputPath := OutputPath(sourcePath, item.ID, group.Profile.ID, group.Profile.Container)

	assignment, err := c.assignments.CreateIfAbsent(ctx, &models.EncoderAssignment{
		JobID:      jobID,
		RequestID:  requestID,
		ItemID:     item.ID,
		ProfileID:  group.Profile.ID,
		SourcePath: sourcePath,
	})
	if err != nil {
		return "", err
	}

	switch assignment.Status {
	case models.AssignmentStatusCompleted:
		if assignment.OutputPath != "" {
			return assignment.OutputPath, nil
		}
	case models.AssignmentStatusCancelled:
		return "", domain.E(domain.KindCancelled, "encode was cancelled")
	}

	if group.Primary {
		if err := c.items.SetEncodeJobID(ctx, item.ID, jobID); err != nil {
			log.Warn().Err(err).Int64("itemId", item.ID).Msg("encodecoord: failed to record job id")
		}
	}

	job := encoder.Job{
		ID:         jobID,
		SourcePath: sourcePath,
		OutputPath: outputPath,
		Container:  group.Profile.Container,
		VideoCodec: group.Profile.VideoCodec,
	}
	if err := c.pool.Submit(ctx, job); err != nil {
		return "", err
	}

	if err := c.activity.Append(ctx, requestID, models.EventEncodeStarted, "Encode started", map[string]any{
		"profile": group.Profile.Name,
		"jobId":   jobID,
	}); err != nil {
		log.Warn().Err(err).Int64("requestId", requestID).Msg("encodecoord: failed to log encode start")
	}

	encodedPath, err := c.await(ctx, requestID, assignment.ID, jobID, sink)
	if err != nil {
		return "", err
	}

	finalPath := c.remux(ctx, requestID, jobID, encodedPath, group.Profile)

	if err := c.assignments.Finish(ctx, assignment.ID, models.AssignmentStatusCompleted, finalPath, ""); err != nil {
		return "", err
	}
	if err := c.activity.Append(ctx, requestID, models.EventEncodeCompleted, "Encode completed", map[string]any{
		"jobId":  jobID,
		"output": finalPath,
	}); err != nil {
		log.Warn().Err(err).Int64("requestId", requestID).Msg("encodecoord: failed to log completion")
	}
	return finalPath, nil
}

// remux strips the audio and subtitle tracks the profile does not keep from
// a finished encode. A failed remux is not fatal: the full encode is still
// deliverable, so it wins with a warning.
func (c *Coordinator) remux(ctx context.Context, requestID int64, jobID, encodedPath string, profile *models.EncodingProfile) string {
	if len(profile.AudioLanguages) == 0 && len(profile.SubtitleLanguages) == 0 {
		return encodedPath
	}

	cleaned, err := c.pool.Remux(ctx, encoder.RemuxJob{
		JobID:             jobID,
		SourcePath:        encodedPath,
		Container:         profile.Container,
		AudioLanguages:    profile.AudioLanguages,
		SubtitleLanguages: profile.SubtitleLanguages,
	})
	if err != nil {
		log.Warn().Err(err).Str("jobId", jobID).
			Msg("encodecoord: track cleanup failed, keeping the full encode")
		if aerr := c.activity.Append(ctx, requestID, models.EventRemuxFailed, "Track cleanup failed, delivering the full encode", map[string]any{
			"jobId": jobID,
			"error": err.Error(),
		}); aerr != nil {
			log.Warn().Err(aerr).Int64("requestId", requestID).Msg("encodecoord: failed to log remux failure")
		}
		return encodedPath
	}
	return cleaned
}

// await polls the pool until the job settles, mirroring progress onto the
// assignment row.
func (c *Coordinator) await(ctx context.Context, requestID, assignmentID int64, jobID string, sink func(float64)) (string, error) {
	ticker := time.NewTicker(c.pollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return "", ctx.Err()
		case <-ticker.C:
		}

		status, err := c.pool.Status(ctx, jobID)
		if err != nil {
			if domain.IsNotFound(err) {
				if ferr := c.assignments.Finish(ctx, assignmentID, models.AssignmentStatusFailed, "", "job vanished from pool"); ferr != nil {
					log.Warn().Err(ferr).Str("jobId", jobID).Msg("encodecoord: failed to settle assignment")
				}
				return "", domain.E(domain.KindExternal, "encoder pool lost the job")
			}
			log.Warn().Err(err).Str("jobId", jobID).Msg("encodecoord: status poll failed")
			continue
		}

		if err := c.assignments.UpdateProgress(ctx, assignmentID, status.Progress, status.State == encoder.JobStateEncoding); err != nil {
			log.Warn().Err(err).Str("jobId", jobID).Msg("encodecoord: failed to persist progress")
		}
		if sink != nil {
			sink(status.Progress)
		}

		switch status.State {
		case encoder.JobStateCompleted:
			// Settled by the caller once track cleanup has run, so the
			// assignment records the path that actually gets delivered.
			return status.OutputPath, nil

		case encoder.JobStateFailed:
			if err := c.assignments.Finish(ctx, assignmentID, models.AssignmentStatusFailed, "", status.Error); err != nil {
				log.Warn().Err(err).Str("jobId", jobID).Msg("encodecoord: failed to settle assignment")
			}
			if err := c.activity.Append(ctx, requestID, models.EventEncodeFailed, "Encode failed", map[string]any{
				"jobId": jobID,
				"error": status.Error,
			}); err != nil {
				log.Warn().Err(err).Int64("requestId", requestID).Msg("encodecoord: failed to log failure")
			}
			return "", domain.Ef(domain.KindExternal, "encode failed: %s", status.Error)

		case encoder.JobStateCancelled:
			if err := c.assignments.Finish(ctx, assignmentID, models.AssignmentStatusCancelled, "", "cancelled by pool"); err != nil {
				log.Warn().Err(err).Str("jobId", jobID).Msg("encodecoord: failed to settle assignment")
			}
			return "", domain.E(domain.KindCancelled, "encode was cancelled")
		}
	}
}
