// Copyright (c) 2025-2026, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package pipeline

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/singleflight"

	"github.com/autobrr/fetcharr/internal/domain"
	"github.com/autobrr/fetcharr/internal/encoder"
	"github.com/autobrr/fetcharr/internal/models"
)

// Sentinel errors steering tree execution. They never escape the executor.
var (
	errPaused     = errors.New("execution paused")
	errRetryLater = errors.New("execution parked for retry")
	errHalted     = errors.New("execution no longer running")
)

// ExecutorConfig wires the executor's collaborators.
type ExecutorConfig struct {
	Requests    *models.RequestStore
	Items       *models.ProcessingItemStore
	Executions  *models.ExecutionStore
	Templates   *models.PipelineTemplateStore
	Assignments *models.EncoderAssignmentStore
	Activity    *models.ActivityLogStore
	Registry    *Registry
	Pool        encoder.Pool

	// Spawn runs the tree walker; tests inject a synchronous version.
	Spawn func(func())
}

// Executor drives pipeline executions: it snapshots the template, walks the
// step tree, persists contexts and settles the execution status. All step
// side effects go through the registered Step implementations.
type Executor struct {
	requests    *models.RequestStore
	items       *models.ProcessingItemStore
	executions  *models.ExecutionStore
	templates   *models.PipelineTemplateStore
	assignments *models.EncoderAssignmentStore
	activity    *models.ActivityLogStore
	registry    *Registry
	pool        encoder.Pool
	spawn       func(func())

	// startGroup collapses concurrent starts for the same request.
	startGroup singleflight.Group
}

// NewExecutor creates an executor from its wiring.
func NewExecutor(cfg ExecutorConfig) *Executor {
	spawn := cfg.Spawn
	if spawn == nil {
		spawn = func(fn func()) { go fn() }
	}

	return &Executor{
		requests:    cfg.Requests,
		items:       cfg.Items,
		executions:  cfg.Executions,
		templates:   cfg.Templates,
		assignments: cfg.Assignments,
		activity:    cfg.Activity,
		registry:    cfg.Registry,
		pool:        cfg.Pool,
		spawn:       spawn,
	}
}

// Start begins (or dedupes into) an execution for a request. The template
// defaults to the media type's default template. The returned execution is
// already running; the tree walk happens on a spawned goroutine.
func (e *Executor) Start(ctx context.Context, requestID int64, templateID *int64) (*models.Execution, error) {
	v, err, _ := e.startGroup.Do(fmt.Sprintf("start:%d", requestID), func() (any, error) {
		return e.start(ctx, requestID, templateID)
	})
	if err != nil {
		return nil, err
	}
	return v.(*models.Execution), nil
}

func (e *Executor) start(ctx context.Context, requestID int64, templateID *int64) (*models.Execution, error) {
	request, err := e.requests.Get(ctx, requestID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, domain.Ef(domain.KindNotFound, "request %d not found", requestID)
		}
		return nil, err
	}

	// An execution already in flight wins; starting twice is a no-op.
	if latest, err := e.executions.GetLatestByRequest(ctx, requestID); err == nil && !latest.Status.IsTerminal() {
		return latest, nil
	}

	template, err := e.loadTemplate(ctx, request.MediaType, templateID)
	if err != nil {
		return nil, err
	}
	if err := e.registry.ValidateTemplate(template.Steps); err != nil {
		return nil, domain.Wrap(domain.KindMisconfiguration, "template validation failed", err)
	}

	// Clean stale state from previous runs.
	if err := e.executions.DeleteByRequest(ctx, requestID); err != nil {
		return nil, fmt.Errorf("failed to clear previous executions: %w", err)
	}
	if err := e.items.ClearErrors(ctx, requestID); err != nil {
		return nil, fmt.Errorf("failed to clear item errors: %w", err)
	}
	if err := e.cancelAssignments(ctx, requestID, "superseded by new pipeline run"); err != nil {
		log.Warn().Err(err).Int64("requestId", requestID).
			Msg("pipeline: failed to cancel stale encoder assignments")
	}

	initial := InitialContext(request)
	if request.MediaType == models.MediaTypeMovie {
		// Movies have exactly one item; it owns the whole branch.
		items, err := e.items.ListByRequest(ctx, requestID)
		if err != nil {
			return nil, err
		}
		for _, item := range items {
			if item.Kind == models.ItemKindMovie && !item.Status.IsTerminal() {
				// Carry over accreted state so a restarted pipeline picks up
				// where the item left off instead of re-doing finished stages.
				if len(item.StepContext) > 0 {
					initial = MergeBranches(initial, []models.StepContext{item.StepContext})
				}
				initial[KeyProcessingItemID] = item.ID
				break
			}
		}
	}

	exec, err := e.executions.Create(ctx, &models.Execution{
		RequestID:  requestID,
		TemplateID: template.ID,
		Steps:      template.Steps,
		Status:     models.ExecutionStatusRunning,
		Context:    initial,
	})
	if err != nil {
		return nil, err
	}

	log.Info().
		Int64("requestId", requestID).
		Int64("executionId", exec.ID).
		Str("template", template.Name).
		Msg("pipeline: execution started")

	e.spawn(func() { e.run(context.Background(), exec) })

	return exec, nil
}

func (e *Executor) loadTemplate(ctx context.Context, mediaType models.MediaType, templateID *int64) (*models.PipelineTemplate, error) {
	if templateID != nil {
		template, err := e.templates.Get(ctx, *templateID)
		if errors.Is(err, sql.ErrNoRows) {
			return nil, domain.Ef(domain.KindNotFound, "template %d not found", *templateID)
		}
		return template, err
	}

	template, err := e.templates.GetDefault(ctx, mediaType)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, domain.Ef(domain.KindMisconfiguration, "no default pipeline template for %s", mediaType)
	}
	return template, err
}

// ResumeUnfinished re-arms executions left running or paused by a previous
// process, reloading branch state from the items' step contexts.
func (e *Executor) ResumeUnfinished(ctx context.Context) error {
	unfinished, err := e.executions.ListUnfinished(ctx)
	if err != nil {
		return err
	}

	for _, exec := range unfinished {
		// Branch children are resumed through their parent.
		if exec.ParentExecutionID != nil {
			continue
		}
		if exec.Status != models.ExecutionStatusRunning {
			continue
		}

		log.Info().
			Int64("executionId", exec.ID).
			Int64("requestId", exec.RequestID).
			Msg("pipeline: resuming execution after restart")

		resumed, err := e.withItemContext(ctx, exec)
		if err != nil {
			log.Error().Err(err).Int64("executionId", exec.ID).
				Msg("pipeline: failed to rebuild context, marking failed")
			_, _ = e.executions.Finish(ctx, exec.ID, models.ExecutionStatusFailed, "context lost across restart")
			continue
		}
		e.spawn(func() { e.run(context.Background(), resumed) })
	}
	return nil
}

// Resume continues a paused execution, typically after an operator approval.
func (e *Executor) Resume(ctx context.Context, executionID int64) error {
	resumed, err := e.executions.Resume(ctx, executionID)
	if err != nil {
		return err
	}
	if !resumed {
		return domain.E(domain.KindPrecondition, "execution is not paused")
	}

	exec, err := e.executions.Get(ctx, executionID)
	if err != nil {
		return err
	}

	withCtx, err := e.withItemContext(ctx, exec)
	if err != nil {
		return err
	}

	log.Info().Int64("executionId", executionID).Msg("pipeline: execution resumed")
	e.spawn(func() { e.run(context.Background(), withCtx) })
	return nil
}

// withItemContext rebuilds the working context for a resumed execution from
// the owning item's persisted step context. The item copy is authoritative;
// the execution row only holds the initial snapshot plus periodic merges.
func (e *Executor) withItemContext(ctx context.Context, exec *models.Execution) (*models.Execution, error) {
	base := exec.Context
	if base == nil {
		base = models.StepContext{}
	}

	itemID, ok := ItemIDFrom(base)
	if !ok && exec.EpisodeItemID != nil {
		itemID, ok = *exec.EpisodeItemID, true
	}
	if ok {
		item, err := e.items.Get(ctx, itemID)
		if err != nil {
			return nil, err
		}
		if len(item.StepContext) > 0 {
			exec.Context = MergeBranches(base, []models.StepContext{item.StepContext})
		}
	}
	return exec, nil
}

// Cancel settles every execution of a request as cancelled and cascades to
// items and encoder assignments.
func (e *Executor) Cancel(ctx context.Context, requestID int64, reason string) error {
	execs, err := e.executions.ListByRequest(ctx, requestID)
	if err != nil {
		return err
	}
	for _, exec := range execs {
		if exec.Status.IsTerminal() {
			continue
		}
		if _, err := e.executions.Finish(ctx, exec.ID, models.ExecutionStatusCancelled, reason); err != nil {
			return err
		}
	}

	if _, err := e.items.CancelNonTerminal(ctx, requestID, reason); err != nil {
		return err
	}

	if err := e.cancelAssignments(ctx, requestID, reason); err != nil {
		return err
	}

	if err := e.activity.Append(ctx, requestID, models.EventRequestCancelled, "Request cancelled", map[string]any{
		"reason": reason,
	}); err != nil {
		log.Warn().Err(err).Int64("requestId", requestID).Msg("pipeline: failed to log cancellation")
	}
	return nil
}

// cancelAssignments cancels active encoder assignments and tells the pool.
func (e *Executor) cancelAssignments(ctx context.Context, requestID int64, reason string) error {
	jobIDs, err := e.assignments.CancelForRequest(ctx, requestID, reason)
	if err != nil {
		return err
	}
	if e.pool == nil {
		return nil
	}
	for _, jobID := range jobIDs {
		if err := e.pool.Cancel(ctx, jobID, reason); err != nil {
			log.Warn().Err(err).Str("jobId", jobID).Msg("pipeline: failed to cancel pool job")
		}
	}
	return nil
}

// run walks the tree and settles the execution.
func (e *Executor) run(ctx context.Context, exec *models.Execution) {
	if exec.Context == nil {
		exec.Context = models.StepContext{}
	}
	exec.Context[KeyExecutionID] = exec.ID

	finalCtx, err := e.executeSiblings(ctx, exec, exec.Steps, exec.Context)

	switch {
	case err == nil:
		_ = e.executions.SaveContext(ctx, exec.ID, finalCtx)
		if _, ferr := e.executions.Finish(ctx, exec.ID, models.ExecutionStatusCompleted, ""); ferr != nil {
			log.Error().Err(ferr).Int64("executionId", exec.ID).Msg("pipeline: failed to complete execution")
		}
		log.Info().Int64("executionId", exec.ID).Int64("requestId", exec.RequestID).
			Msg("pipeline: execution completed")

	case errors.Is(err, errPaused):
		// Already paused by the step that asked for it.
		log.Info().Int64("executionId", exec.ID).Msg("pipeline: execution paused")

	case errors.Is(err, errRetryLater):
		// Nothing left to do now; the items carry awaiting statuses and the
		// retry sweep will start a fresh execution.
		_ = e.executions.SaveContext(ctx, exec.ID, finalCtx)
		if _, ferr := e.executions.Finish(ctx, exec.ID, models.ExecutionStatusCompleted, ""); ferr != nil {
			log.Error().Err(ferr).Int64("executionId", exec.ID).Msg("pipeline: failed to settle execution")
		}
		log.Info().Int64("executionId", exec.ID).Msg("pipeline: execution parked for retry")

	case errors.Is(err, errHalted):
		// Someone else settled the execution (cancel, pause) mid-walk.
		log.Debug().Int64("executionId", exec.ID).Msg("pipeline: execution halted externally")

	case errors.Is(err, context.Canceled) || domain.IsCancelledError(err):
		if _, ferr := e.executions.Finish(ctx, exec.ID, models.ExecutionStatusCancelled, ""); ferr != nil {
			log.Error().Err(ferr).Int64("executionId", exec.ID).Msg("pipeline: failed to cancel execution")
		}

	default:
		if _, ferr := e.executions.Finish(ctx, exec.ID, models.ExecutionStatusFailed, err.Error()); ferr != nil {
			log.Error().Err(ferr).Int64("executionId", exec.ID).Msg("pipeline: failed to fail execution")
		}
		if aerr := e.activity.Append(ctx, exec.RequestID, models.EventItemFailed, "Pipeline failed", map[string]any{
			"error": err.Error(),
		}); aerr != nil {
			log.Warn().Err(aerr).Int64("requestId", exec.RequestID).Msg("pipeline: failed to log failure")
		}
		log.Error().Err(err).Int64("executionId", exec.ID).Int64("requestId", exec.RequestID).
			Msg("pipeline: execution failed")
	}
}

// executeSiblings runs sibling steps concurrently, merges their contexts
// last-writer-wins and persists the merge to the execution row.
func (e *Executor) executeSiblings(ctx context.Context, exec *models.Execution, defs []models.StepDefinition, parentCtx models.StepContext) (models.StepContext, error) {
	if len(defs) == 0 {
		return parentCtx, nil
	}

	// The common case is a single child; skip the goroutine machinery.
	if len(defs) == 1 {
		return e.runStep(ctx, exec, defs[0], CloneContext(parentCtx))
	}

	results := make([]models.StepContext, len(defs))
	g, gctx := errgroup.WithContext(ctx)
	for i := range defs {
		g.Go(func() error {
			branchCtx, err := e.runStep(gctx, exec, defs[i], CloneContext(parentCtx))
			results[i] = branchCtx
			return err
		})
	}
	err := g.Wait()

	var branches []models.StepContext
	for _, r := range results {
		if r != nil {
			branches = append(branches, r)
		}
	}
	merged := MergeBranches(parentCtx, branches)

	// Persist the join. Conditional on the execution still being live, so a
	// finished run stays immutable.
	if serr := e.executions.SaveContext(ctx, exec.ID, merged); serr != nil {
		log.Warn().Err(serr).Int64("executionId", exec.ID).Msg("pipeline: failed to save merged context")
	}

	return merged, err
}

// runStep executes one step and, on success or skip, its children.
func (e *Executor) runStep(ctx context.Context, exec *models.Execution, def models.StepDefinition, branchCtx models.StepContext) (models.StepContext, error) {
	// Re-read the execution so a cancel or pause from outside stops the
	// walk before the next side effect.
	fresh, err := e.executions.Get(ctx, exec.ID)
	if err != nil {
		return branchCtx, err
	}
	if fresh.Status != models.ExecutionStatusRunning {
		return branchCtx, errHalted
	}

	ok, err := EvaluateCondition(def.Condition, branchCtx)
	if err != nil {
		return branchCtx, fmt.Errorf("step %q: %w", def.DisplayName(), err)
	}
	if !ok {
		log.Debug().Int64("executionId", exec.ID).Str("step", def.DisplayName()).
			Msg("pipeline: condition false, skipping subtree")
		return branchCtx, nil
	}

	step, found := e.registry.Get(def.Kind)
	if !found {
		return branchCtx, domain.Ef(domain.KindMisconfiguration, "unknown step kind %q", def.Kind)
	}

	if err := e.executions.SetCurrentStep(ctx, exec.ID, def.DisplayName()); err != nil {
		log.Warn().Err(err).Int64("executionId", exec.ID).Msg("pipeline: failed to record current step")
	}

	itemID, hasItem := ItemIDFrom(branchCtx)
	if hasItem {
		if err := e.items.SetCurrentStep(ctx, itemID, def.DisplayName()); err != nil {
			log.Warn().Err(err).Int64("itemId", itemID).Msg("pipeline: failed to record item step")
		}
	}

	stepCtx := ctx
	if def.Timeout > 0 {
		var cancel context.CancelFunc
		stepCtx, cancel = context.WithTimeout(ctx, def.Timeout)
		defer cancel()
	}

	var sink ProgressSink
	if hasItem {
		sink = &itemProgressSink{ctx: ctx, items: e.items, itemID: itemID}
	} else {
		sink = noopSink{}
	}

	out := step.Execute(stepCtx, branchCtx, def, sink)

	switch out.Outcome {
	case OutcomeSuccess:
		merged := MergeData(branchCtx, out.Data)
		if id, ok := ItemIDFrom(merged); ok {
			if err := e.items.SetStepContext(ctx, id, merged); err != nil {
				log.Warn().Err(err).Int64("itemId", id).Msg("pipeline: failed to persist step context")
			}
		}
		if out.StopBranch {
			return merged, nil
		}
		return e.executeSiblings(ctx, exec, def.Children, merged)

	case OutcomeSkip:
		return e.executeSiblings(ctx, exec, def.Children, branchCtx)

	case OutcomePause:
		paused, perr := e.executions.Pause(ctx, exec.ID, out.Reason)
		if perr != nil {
			return branchCtx, perr
		}
		if paused {
			log.Info().Int64("executionId", exec.ID).Str("step", def.DisplayName()).
				Str("reason", out.Reason).Msg("pipeline: step paused execution")
		}
		return branchCtx, errPaused

	case OutcomeRetryLater:
		log.Info().Int64("executionId", exec.ID).Str("step", def.DisplayName()).
			Str("reason", out.Reason).Msg("pipeline: step asked to retry later")
		return branchCtx, errRetryLater

	case OutcomeFailure:
		return e.handleFailure(ctx, exec, def, branchCtx, out.Err)

	default:
		return branchCtx, fmt.Errorf("step %q returned unknown outcome %d", def.DisplayName(), out.Outcome)
	}
}

func (e *Executor) handleFailure(ctx context.Context, exec *models.Execution, def models.StepDefinition, branchCtx models.StepContext, stepErr error) (models.StepContext, error) {
	if stepErr == nil {
		stepErr = fmt.Errorf("step %q failed", def.DisplayName())
	}

	// Cancellation settles the branch without counting as an error.
	cancelled := domain.IsCancelledError(stepErr)

	if itemID, ok := ItemIDFrom(branchCtx); ok && !cancelled {
		if err := e.items.IncrementAttempts(ctx, itemID, stepErr.Error()); err != nil {
			log.Warn().Err(err).Int64("itemId", itemID).Msg("pipeline: failed to record attempt")
		}
	}

	if def.ContinueOnError {
		log.Warn().Err(stepErr).Int64("executionId", exec.ID).Str("step", def.DisplayName()).
			Msg("pipeline: step failed, continuing per template")
		return e.executeSiblings(ctx, exec, def.Children, branchCtx)
	}

	if !def.IsRequired() {
		log.Warn().Err(stepErr).Int64("executionId", exec.ID).Str("step", def.DisplayName()).
			Msg("pipeline: optional step failed, ending branch")
		return branchCtx, nil
	}

	if itemID, ok := ItemIDFrom(branchCtx); ok {
		settled := models.ItemStatusFailed
		if cancelled {
			settled = models.ItemStatusCancelled
		}
		if err := e.items.SetStatus(ctx, itemID, settled, stepErr.Error()); err != nil {
			log.Warn().Err(err).Int64("itemId", itemID).Msg("pipeline: failed to settle item")
		}
	}

	return branchCtx, fmt.Errorf("step %q: %w", def.DisplayName(), stepErr)
}

// EpisodeBranch is one per-episode sub-execution requested by a Branch step.
type EpisodeBranch struct {
	Item    *models.ProcessingItem
	Steps   []models.StepDefinition
	Context models.StepContext
}

// RunEpisodeBranches creates one child execution per episode and runs them
// concurrently to completion. Per-episode failures settle on the episode's
// item and child execution; they do not abort sibling episodes.
func (e *Executor) RunEpisodeBranches(ctx context.Context, parent *models.Execution, branches []EpisodeBranch) error {
	g, gctx := errgroup.WithContext(ctx)

	for _, branch := range branches {
		g.Go(func() error {
			itemID := branch.Item.ID
			branchCtx := CloneContext(branch.Context)
			branchCtx[KeyProcessingItemID] = itemID

			child, err := e.executions.Create(gctx, &models.Execution{
				RequestID:         parent.RequestID,
				TemplateID:        parent.TemplateID,
				Steps:             branch.Steps,
				Status:            models.ExecutionStatusRunning,
				ParentExecutionID: &parent.ID,
				EpisodeItemID:     &itemID,
				Context:           branchCtx,
			})
			if err != nil {
				return fmt.Errorf("failed to create episode execution: %w", err)
			}

			// Child runs synchronously inside the branch goroutine; the
			// parent's Branch step joins on all of them.
			e.run(gctx, child)
			return nil
		})
	}

	return g.Wait()
}

// itemProgressSink stores the step's own 0-100 percent on the item. The
// status aggregator bands it into the request-level bar; steps never band.
type itemProgressSink struct {
	ctx    context.Context
	items  *models.ProcessingItemStore
	itemID int64
}

func (s *itemProgressSink) Progress(percent float64) {
	if err := s.items.SetProgress(s.ctx, s.itemID, percent); err != nil {
		log.Debug().Err(err).Int64("itemId", s.itemID).Msg("pipeline: failed to write progress")
	}
}

type noopSink struct{}

func (noopSink) Progress(float64) {}

// RetryBackoff returns when an awaiting item should be retried next, growing
// with the attempt count but capped at a day.
func RetryBackoff(attempts int) time.Duration {
	backoff := 30 * time.Minute * time.Duration(1<<min(attempts, 5))
	if backoff > 24*time.Hour {
		backoff = 24 * time.Hour
	}
	return backoff
}
