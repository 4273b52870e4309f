// Copyright (c) 2025-2026, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package encoder

import (
	"context"
)

// JobState is the encoder pool's view of a job.
type JobState string

const (
	JobStateQueued    JobState = "queued"
	JobStateEncoding  JobState = "encoding"
	JobStateCompleted JobState = "completed"
	JobStateFailed    JobState = "failed"
	JobStateCancelled JobState = "cancelled"
)

// IsTerminal reports whether the job needs no further polling.
func (s JobState) IsTerminal() bool {
	switch s {
	case JobStateCompleted, JobStateFailed, JobStateCancelled:
		return true
	}
	return false
}

// Job is a re-encode request for the pool. ID doubles as the idempotency
// token: submitting the same ID twice must not queue a second job.
type Job struct {
	ID         string `json:"id"`
	SourcePath string `json:"sourcePath"`
	OutputPath string `json:"outputPath"`
	Container  string `json:"container"`
	VideoCodec string `json:"videoCodec"`
}

// RemuxJob asks a worker to rewrite a finished encode keeping only the
// listed audio and subtitle languages. Empty lists keep every track of that
// type.
type RemuxJob struct {
	JobID             string   `json:"jobId"`
	SourcePath        string   `json:"sourcePath"`
	Container         string   `json:"container"`
	AudioLanguages    []string `json:"audioLanguages,omitempty"`
	SubtitleLanguages []string `json:"subtitleLanguages,omitempty"`
}

// JobStatus is one poll result.
type JobStatus struct {
	ID         string   `json:"id"`
	State      JobState `json:"state"`
	Progress   float64  `json:"progress"`
	OutputPath string   `json:"outputPath,omitempty"`
	Error      string   `json:"error,omitempty"`
}

// Pool talks to the encoder pool coordinator.
type Pool interface {
	// HasEncoders reports whether any eligible worker is registered. A pool
	// with no workers is an operator problem, not a retry case.
	HasEncoders(ctx context.Context) (bool, error)

	// Submit queues a job. Submitting an already-known job ID is a no-op.
	Submit(ctx context.Context, job Job) error

	// Status returns the current state of a job.
	Status(ctx context.Context, jobID string) (*JobStatus, error)

	// Remux rewrites a finished encode with unwanted tracks dropped and
	// returns the resulting path. Synchronous: remuxing is stream-copy work,
	// not a transcode.
	Remux(ctx context.Context, job RemuxJob) (string, error)

	// Cancel asks the pool to stop a job. Cancelling a finished or unknown
	// job is not an error.
	Cancel(ctx context.Context, jobID, reason string) error
}
