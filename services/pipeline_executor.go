package services

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/sahilchouksey/mediavault-api/model"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

// ExecutorConfig tunes retry backoff and per-handler deadlines.
type ExecutorConfig struct {
	BackoffBase    time.Duration
	BackoffCap     time.Duration
	HandlerTimeout time.Duration
}

// PipelineExecutor claims jobs, runs their handlers and applies the
// completion, retry and failure transitions. All state changes to job rows
// after enqueue go through this type.
type PipelineExecutor struct {
	db       *gorm.DB
	registry *JobRegistry
	streams  *StreamManager
	cfg      ExecutorConfig
}

// NewPipelineExecutor creates a new pipeline executor
func NewPipelineExecutor(db *gorm.DB, registry *JobRegistry, streams *StreamManager, cfg ExecutorConfig) *PipelineExecutor {
	if cfg.BackoffBase <= 0 {
		cfg.BackoffBase = 5 * time.Second
	}
	if cfg.BackoffCap <= 0 {
		cfg.BackoffCap = 5 * time.Minute
	}
	if cfg.HandlerTimeout <= 0 {
		cfg.HandlerTimeout = 10 * time.Minute
	}
	return &PipelineExecutor{
		db:       db,
		registry: registry,
		streams:  streams,
		cfg:      cfg,
	}
}

// ErrJobNotClaimable is returned when a claim races with another worker or
// the job is not in a claimable state.
var ErrJobNotClaimable = errors.New("job is not claimable")

// ClaimJob transitions a pending, due job to processing. The update is
// conditional on the current status so two workers racing for the same row
// cannot both win; the loser sees zero rows affected. The attempt counter
// is incremented here, at claim time, so it always equals the number of
// times a handler was actually started. A job whose budget is already
// spent is never claimable, so the count can never pass max_attempts.
func (e *PipelineExecutor) ClaimJob(ctx context.Context, jobID uint) (*model.Job, error) {
	now := time.Now()

	result := e.db.WithContext(ctx).Model(&model.Job{}).
		Where("id = ? AND status = ? AND run_after <= ? AND attempt_count < max_attempts",
			jobID, model.JobStatusPending, now).
		Updates(map[string]interface{}{
			"status":           model.JobStatusProcessing,
			"started_at":       now,
			"attempt_count":    gorm.Expr("attempt_count + 1"),
			"progress_percent": 0,
			"progress_message": "",
			"error_message":    "",
		})
	if result.Error != nil {
		return nil, fmt.Errorf("failed to claim job %d: %w", jobID, result.Error)
	}
	if result.RowsAffected == 0 {
		return nil, ErrJobNotClaimable
	}

	var job model.Job
	if err := e.db.WithContext(ctx).First(&job, jobID).Error; err != nil {
		return nil, fmt.Errorf("failed to load claimed job %d: %w", jobID, err)
	}
	return &job, nil
}

// RunJob executes a claimed job to a terminal or rescheduled state. The
// handler runs under the configured timeout; its outcome decides whether
// the job completes, goes back to pending with backoff, or fails for good.
func (e *PipelineExecutor) RunJob(ctx context.Context, job *model.Job) error {
	handler, err := e.registry.Resolve(job.Type)
	if err != nil {
		return e.failJob(ctx, job, err)
	}

	e.onStageStart(ctx, job)

	report := func(percent int, message string) {
		if percent < 0 {
			percent = 0
		}
		if percent > 100 {
			percent = 100
		}
		e.db.Model(&model.Job{}).Where("id = ?", job.ID).Updates(map[string]interface{}{
			"progress_percent": percent,
			"progress_message": message,
		})
		e.streams.Publish(job.ContentID, StreamEvent{
			Type:    StreamEventProgress,
			Stage:   string(job.Type),
			Percent: percent,
			Message: message,
		})
	}

	handlerCtx, cancel := context.WithTimeout(ctx, e.cfg.HandlerTimeout)
	defer cancel()

	result, handlerErr := runHandlerSafely(handlerCtx, handler, job, report)
	if handlerErr != nil {
		return e.handleFailure(ctx, job, handlerErr)
	}
	return e.completeJob(ctx, job, result)
}

// runHandlerSafely converts a handler panic into an ordinary error so one
// bad job cannot take the worker down.
func runHandlerSafely(ctx context.Context, handler JobHandlerFunc, job *model.Job, report ProgressFunc) (result map[string]interface{}, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = NewFatalError(fmt.Errorf("handler panic: %v", r))
		}
	}()
	return handler(ctx, job, report)
}

// completeJob marks the job done and moves the content status forward.
func (e *PipelineExecutor) completeJob(ctx context.Context, job *model.Job, result map[string]interface{}) error {
	now := time.Now()

	updates := map[string]interface{}{
		"status":           model.JobStatusCompleted,
		"completed_at":     now,
		"progress_percent": 100,
	}
	if result != nil {
		updates["result"] = datatypes.JSONMap(result)
	}
	if err := e.db.WithContext(ctx).Model(&model.Job{}).Where("id = ?", job.ID).Updates(updates).Error; err != nil {
		return fmt.Errorf("failed to complete job %d: %w", job.ID, err)
	}
	job.Status = model.JobStatusCompleted
	job.CompletedAt = &now

	log.Printf("Executor: job %d (%s) completed for content %d (attempt %d/%d)",
		job.ID, job.Type, job.ContentID, job.AttemptCount, job.MaxAttempts)

	e.logActivity(ctx, job, "job_completed", "")
	e.onStageDone(ctx, job)
	return nil
}

// handleFailure decides between rescheduling with backoff and failing for
// good. Fatal errors and an exhausted attempt budget both end the job.
func (e *PipelineExecutor) handleFailure(ctx context.Context, job *model.Job, handlerErr error) error {
	errType, retriable := ClassifyJobError(handlerErr)

	if retriable && job.AttemptCount < job.MaxAttempts {
		delay := BackoffDelay(job.AttemptCount, e.cfg.BackoffBase, e.cfg.BackoffCap)
		runAfter := time.Now().Add(delay)

		err := e.db.WithContext(ctx).Model(&model.Job{}).Where("id = ?", job.ID).Updates(map[string]interface{}{
			"status":        model.JobStatusPending,
			"run_after":     runAfter,
			"started_at":    nil,
			"error_message": handlerErr.Error(),
		}).Error
		if err != nil {
			return fmt.Errorf("failed to reschedule job %d: %w", job.ID, err)
		}

		log.Printf("Executor: job %d (%s) failed with %s error, retry %d/%d in %s: %v",
			job.ID, job.Type, errType, job.AttemptCount, job.MaxAttempts, delay, handlerErr)
		e.streams.Publish(job.ContentID, StreamEvent{
			Type:    StreamEventLog,
			Stage:   string(job.Type),
			Message: fmt.Sprintf("attempt %d failed, retrying in %s", job.AttemptCount, delay.Round(time.Second)),
		})
		job.Status = model.JobStatusPending
		return nil
	}

	return e.failJob(ctx, job, handlerErr)
}

// failJob marks the job permanently failed, cascades the failure to later
// pipeline stages of the same run and surfaces the error on the content.
func (e *PipelineExecutor) failJob(ctx context.Context, job *model.Job, handlerErr error) error {
	now := time.Now()

	err := e.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Model(&model.Job{}).Where("id = ?", job.ID).Updates(map[string]interface{}{
			"status":        model.JobStatusFailed,
			"completed_at":  now,
			"error_message": handlerErr.Error(),
		}).Error; err != nil {
			return fmt.Errorf("failed to fail job %d: %w", job.ID, err)
		}

		// Later stages of the run can never become runnable; fail them too so
		// they don't sit pending forever.
		if IsPipelineStage(job.Type) && job.RunID != "" {
			if err := tx.Model(&model.Job{}).
				Where("run_id = ? AND stage_index > ? AND status = ?", job.RunID, job.StageIndex, model.JobStatusPending).
				Updates(map[string]interface{}{
					"status":        model.JobStatusFailed,
					"completed_at":  now,
					"error_message": fmt.Sprintf("upstream stage %s failed", job.Type),
				}).Error; err != nil {
				return fmt.Errorf("failed to cascade failure of run %s: %w", job.RunID, err)
			}
		}
		return nil
	})
	if err != nil {
		return err
	}
	job.Status = model.JobStatusFailed
	job.CompletedAt = &now

	log.Printf("Executor: job %d (%s) failed permanently for content %d after %d attempts: %v",
		job.ID, job.Type, job.ContentID, job.AttemptCount, handlerErr)
	e.logActivity(ctx, job, "job_failed", handlerErr.Error())

	if IsPipelineStage(job.Type) && job.ContentID != 0 {
		e.db.WithContext(ctx).Model(&model.Content{}).Where("id = ?", job.ContentID).Updates(map[string]interface{}{
			"status":        model.ContentStatusError,
			"error_message": handlerErr.Error(),
		})
		e.streams.Finish(job.ContentID, StreamEvent{
			Type:    StreamEventError,
			Stage:   string(job.Type),
			Message: handlerErr.Error(),
		})
	}
	return nil
}

// onStageStart moves the content status and announces the stage.
func (e *PipelineExecutor) onStageStart(ctx context.Context, job *model.Job) {
	if job.ContentID == 0 {
		return
	}
	if status, ok := StatusForStageStart(job.Type); ok {
		e.db.WithContext(ctx).Model(&model.Content{}).Where("id = ?", job.ContentID).Update("status", status)
	}
	e.streams.Publish(job.ContentID, StreamEvent{
		Type:    StreamEventLog,
		Stage:   string(job.Type),
		Message: fmt.Sprintf("starting %s (stage %d of %d)", job.Type, job.StageIndex+1, job.StageTotal),
	})
}

// onStageDone advances the content status; the last pipeline stage marks the
// content completed and ends the event stream.
func (e *PipelineExecutor) onStageDone(ctx context.Context, job *model.Job) {
	if job.ContentID == 0 || !IsPipelineStage(job.Type) {
		return
	}

	if job.StageIndex == job.StageTotal-1 {
		e.db.WithContext(ctx).Model(&model.Content{}).Where("id = ?", job.ContentID).Updates(map[string]interface{}{
			"status":        model.ContentStatusCompleted,
			"error_message": "",
		})
		e.streams.Finish(job.ContentID, StreamEvent{
			Type:    StreamEventComplete,
			Stage:   string(job.Type),
			Message: "processing complete",
		})
		return
	}

	if status, ok := StatusForStageDone(job.Type); ok {
		e.db.WithContext(ctx).Model(&model.Content{}).Where("id = ?", job.ContentID).Update("status", status)
	}
	e.streams.Publish(job.ContentID, StreamEvent{
		Type:    StreamEventLog,
		Stage:   string(job.Type),
		Message: fmt.Sprintf("%s finished", job.Type),
	})
}

// RunPipeline executes the stages of a run in order until the run finishes,
// a stage is rescheduled for retry, or a stage fails. Rescheduled stages are
// resumed later by the due-job poller, so returning early is normal.
func (e *PipelineExecutor) RunPipeline(ctx context.Context, runID string) error {
	for {
		job, err := e.nextRunnableStage(ctx, runID)
		if err != nil {
			return err
		}
		if job == nil {
			return nil
		}

		claimed, err := e.ClaimJob(ctx, job.ID)
		if err != nil {
			if errors.Is(err, ErrJobNotClaimable) {
				// Not due yet, or another worker got there first.
				return nil
			}
			return err
		}

		if err := e.RunJob(ctx, claimed); err != nil {
			return err
		}
		if claimed.Status != model.JobStatusCompleted {
			return nil
		}
	}
}

// nextRunnableStage finds the lowest pending stage of a run whose
// predecessor (if any) has completed. Returns nil when the run has nothing
// left to do right now.
func (e *PipelineExecutor) nextRunnableStage(ctx context.Context, runID string) (*model.Job, error) {
	var job model.Job
	err := e.db.WithContext(ctx).
		Where("run_id = ? AND status = ?", runID, model.JobStatusPending).
		Order("stage_index asc").
		First(&job).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to find next stage of run %s: %w", runID, err)
	}

	if job.StageIndex > 0 {
		var done int64
		err := e.db.WithContext(ctx).Model(&model.Job{}).
			Where("run_id = ? AND stage_index = ? AND status = ?", runID, job.StageIndex-1, model.JobStatusCompleted).
			Count(&done).Error
		if err != nil {
			return nil, fmt.Errorf("failed to check predecessor of run %s stage %d: %w", runID, job.StageIndex, err)
		}
		if done == 0 {
			return nil, nil
		}
	}
	return &job, nil
}

// RunPipelineDetached runs a pipeline on a background goroutine, detached
// from the request that triggered it. Used right after enqueue so the first
// stage starts without waiting for the poller tick.
func (e *PipelineExecutor) RunPipelineDetached(runID string) {
	go func() {
		defer func() {
			if r := recover(); r != nil {
				log.Printf("Executor: recovered panic in detached run %s: %v", runID, r)
			}
		}()
		if err := e.RunPipeline(context.Background(), runID); err != nil {
			log.Printf("Executor: detached run %s stopped with error: %v", runID, err)
		}
	}()
}

// ExecuteDue claims and runs every due pending job whose predecessor stage
// has completed. Called from the cron poller; each claimed stage continues
// its run inline so a resumed retry carries the rest of the pipeline with it.
func (e *PipelineExecutor) ExecuteDue(ctx context.Context, limit int) (int, error) {
	if limit <= 0 {
		limit = 20
	}

	var due []model.Job
	err := e.db.WithContext(ctx).
		Where("status = ? AND run_after <= ?", model.JobStatusPending, time.Now()).
		Order("run_after asc").
		Limit(limit).
		Find(&due).Error
	if err != nil {
		return 0, fmt.Errorf("failed to list due jobs: %w", err)
	}

	ran := 0
	for i := range due {
		job := &due[i]

		if IsPipelineStage(job.Type) && job.StageIndex > 0 {
			var done int64
			err := e.db.WithContext(ctx).Model(&model.Job{}).
				Where("run_id = ? AND stage_index = ? AND status = ?", job.RunID, job.StageIndex-1, model.JobStatusCompleted).
				Count(&done).Error
			if err != nil || done == 0 {
				continue
			}
		}

		claimed, err := e.ClaimJob(ctx, job.ID)
		if err != nil {
			if errors.Is(err, ErrJobNotClaimable) {
				continue
			}
			return ran, err
		}

		if err := e.RunJob(ctx, claimed); err != nil {
			log.Printf("Executor: due job %d (%s) errored: %v", claimed.ID, claimed.Type, err)
			continue
		}
		ran++

		if claimed.Status == model.JobStatusCompleted && IsPipelineStage(claimed.Type) {
			if err := e.RunPipeline(ctx, claimed.RunID); err != nil {
				log.Printf("Executor: resuming run %s failed: %v", claimed.RunID, err)
			}
		}
	}
	return ran, nil
}

// ReclaimStale handles jobs stuck in processing because a crashed worker
// never finished them. The attempt already counted at claim time stays
// counted: a job with budget left goes back to pending for the poller,
// one whose budget is spent is failed outright so the counter can never
// pass max_attempts through the reclaim path.
func (e *PipelineExecutor) ReclaimStale(ctx context.Context, olderThan time.Duration) (int64, error) {
	cutoff := time.Now().Add(-olderThan)

	exhausted := e.db.WithContext(ctx).Model(&model.Job{}).
		Where("status = ? AND started_at < ? AND attempt_count >= max_attempts", model.JobStatusProcessing, cutoff).
		Updates(map[string]interface{}{
			"status":        model.JobStatusFailed,
			"completed_at":  time.Now(),
			"error_message": "worker lost on final attempt",
		})
	if exhausted.Error != nil {
		return 0, fmt.Errorf("failed to fail exhausted stale jobs: %w", exhausted.Error)
	}
	if exhausted.RowsAffected > 0 {
		log.Printf("Executor: failed %d stale jobs with no attempts left", exhausted.RowsAffected)
	}

	result := e.db.WithContext(ctx).Model(&model.Job{}).
		Where("status = ? AND started_at < ?", model.JobStatusProcessing, cutoff).
		Updates(map[string]interface{}{
			"status":     model.JobStatusPending,
			"run_after":  time.Now(),
			"started_at": nil,
		})
	if result.Error != nil {
		return 0, fmt.Errorf("failed to reclaim stale jobs: %w", result.Error)
	}
	if result.RowsAffected > 0 {
		log.Printf("Executor: reclaimed %d stale processing jobs", result.RowsAffected)
	}
	return result.RowsAffected, nil
}

// logActivity records a best-effort audit row; failures are logged, never
// propagated.
func (e *PipelineExecutor) logActivity(ctx context.Context, job *model.Job, action, detail string) {
	entry := &model.ActivityLog{
		UserID:    job.UserID,
		ContentID: job.ContentID,
		JobID:     job.ID,
		Action:    action,
		Detail:    detail,
	}
	if err := e.db.WithContext(ctx).Create(entry).Error; err != nil {
		log.Printf("Executor: failed to write activity log for job %d: %v", job.ID, err)
	}
}
