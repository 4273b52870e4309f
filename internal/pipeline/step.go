// Copyright (c) 2025-2026, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package pipeline

import (
	"context"

	"github.com/autobrr/fetcharr/internal/models"
)

// Outcome tags a step's result.
type Outcome int

const (
	// OutcomeSuccess merges the step's data and continues with children.
	OutcomeSuccess Outcome = iota
	// OutcomeSkip continues with children on an unchanged context.
	OutcomeSkip
	// OutcomePause parks the execution until an operator resumes it.
	OutcomePause
	// OutcomeRetryLater ends the execution; the retry sweep re-arms the
	// items later. The step has already set the item status it wants.
	OutcomeRetryLater
	// OutcomeFailure stops the branch unless the step is optional or marked
	// continue-on-error.
	OutcomeFailure
)

// Output is what a step hands back to the executor.
type Output struct {
	Outcome Outcome

	// Data is merged into the branch context on success, core keys stripped.
	Data models.StepContext

	// StopBranch ends the branch after a success without running children.
	StopBranch bool

	// Reason explains a pause or retry-later.
	Reason string

	// Err carries the failure cause.
	Err error
}

// Succeed continues into children with merged data.
func Succeed(data models.StepContext) Output {
	return Output{Outcome: OutcomeSuccess, Data: data}
}

// SucceedStop ends the branch successfully without running children.
func SucceedStop(data models.StepContext) Output {
	return Output{Outcome: OutcomeSuccess, Data: data, StopBranch: true}
}

// Skip continues into children with an unchanged context.
func Skip() Output {
	return Output{Outcome: OutcomeSkip}
}

// Pause parks the execution.
func Pause(reason string) Output {
	return Output{Outcome: OutcomePause, Reason: reason}
}

// RetryLater ends the execution cleanly; the scheduler re-arms later.
func RetryLater(reason string) Output {
	return Output{Outcome: OutcomeRetryLater, Reason: reason}
}

// Fail stops the branch with an error.
func Fail(err error) Output {
	return Output{Outcome: OutcomeFailure, Err: err}
}

// ProgressSink lets long-running steps report item-level progress without
// knowing about the store. Percent is the step's own 0-100 completion; the
// status aggregator places it inside the stage's band.
type ProgressSink interface {
	Progress(percent float64)
}

// Step is one executable pipeline stage. Implementations must be idempotent:
// when their effect is already present in the context they return Skip so a
// resumed execution passes through cleanly.
type Step interface {
	// Kind is the template identifier, e.g. "Search".
	Kind() string

	// ValidateConfig rejects malformed template config before anything runs.
	ValidateConfig(config map[string]any) error

	// Execute runs the step against the branch context.
	Execute(ctx context.Context, sc models.StepContext, def models.StepDefinition, sink ProgressSink) Output
}
