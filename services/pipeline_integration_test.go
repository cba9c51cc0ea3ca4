package services

import (
	"context"
	"errors"
	"fmt"
	"os"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/sahilchouksey/mediavault-api/model"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// These tests exercise the claim/retry/cascade semantics against a real
// Postgres. Set RUN_INTEGRATION_TESTS=true and TEST_DATABASE_DSN to run them.
func openTestDB(t *testing.T) *gorm.DB {
	t.Helper()

	if os.Getenv("RUN_INTEGRATION_TESTS") != "true" {
		t.Skip("Skipping integration test. Set RUN_INTEGRATION_TESTS=true to run.")
	}
	dsn := os.Getenv("TEST_DATABASE_DSN")
	if dsn == "" {
		t.Skip("TEST_DATABASE_DSN not set")
	}

	db, err := gorm.Open(postgres.Open(dsn), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		t.Fatalf("failed to connect to test database: %v", err)
	}
	if err := db.AutoMigrate(&model.Connector{}, &model.Content{}, &model.Job{}, &model.ActivityLog{}); err != nil {
		t.Fatalf("failed to migrate: %v", err)
	}

	t.Cleanup(func() {
		db.Exec("DELETE FROM jobs")
		db.Exec("DELETE FROM contents")
		db.Exec("DELETE FROM activity_logs")
	})
	return db
}

func testContent(t *testing.T, db *gorm.DB, fileType model.FileType) *model.Content {
	t.Helper()
	content := &model.Content{
		UserID:   1,
		Title:    fmt.Sprintf("integration-%d", time.Now().UnixNano()),
		Type:     model.ContentTypeRecording,
		FileType: fileType,
		Status:   model.ContentStatusUploaded,
	}
	if fileType == model.FileTypePDF || fileType == model.FileTypeDOCX {
		content.Type = model.ContentTypeDocument
	}
	if err := db.Create(content).Error; err != nil {
		t.Fatalf("failed to create content: %v", err)
	}
	return content
}

func TestClaimJobIsExclusive(t *testing.T) {
	db := openTestDB(t)
	ctx := context.Background()

	streams := NewStreamManager()
	registry := NewJobRegistry()
	executor := NewPipelineExecutor(db, registry, streams, ExecutorConfig{})

	job := &model.Job{
		Type:        model.JobTypeTranscribe,
		Status:      model.JobStatusPending,
		UserID:      1,
		MaxAttempts: 3,
		RunAfter:    time.Now().Add(-time.Second),
		DedupeKey:   fmt.Sprintf("claim-test-%d", time.Now().UnixNano()),
	}
	if err := db.Create(job).Error; err != nil {
		t.Fatalf("failed to create job: %v", err)
	}

	const claimers = 10
	var won int32
	var wg sync.WaitGroup
	for i := 0; i < claimers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := executor.ClaimJob(ctx, job.ID); err == nil {
				atomic.AddInt32(&won, 1)
			} else if !errors.Is(err, ErrJobNotClaimable) {
				t.Errorf("unexpected claim error: %v", err)
			}
		}()
	}
	wg.Wait()

	if won != 1 {
		t.Fatalf("%d claimers succeeded, want exactly 1", won)
	}

	var claimed model.Job
	db.First(&claimed, job.ID)
	if claimed.Status != model.JobStatusProcessing {
		t.Errorf("status = %s, want processing", claimed.Status)
	}
	if claimed.AttemptCount != 1 {
		t.Errorf("attempt_count = %d, want 1", claimed.AttemptCount)
	}
}

func TestClaimJobRespectsRunAfter(t *testing.T) {
	db := openTestDB(t)
	ctx := context.Background()

	executor := NewPipelineExecutor(db, NewJobRegistry(), NewStreamManager(), ExecutorConfig{})

	job := &model.Job{
		Type:        model.JobTypeTranscribe,
		Status:      model.JobStatusPending,
		UserID:      1,
		MaxAttempts: 3,
		RunAfter:    time.Now().Add(time.Hour),
		DedupeKey:   fmt.Sprintf("runafter-test-%d", time.Now().UnixNano()),
	}
	if err := db.Create(job).Error; err != nil {
		t.Fatalf("failed to create job: %v", err)
	}

	if _, err := executor.ClaimJob(ctx, job.ID); !errors.Is(err, ErrJobNotClaimable) {
		t.Errorf("claim of a backed-off job returned %v, want ErrJobNotClaimable", err)
	}
}

func TestEnqueuePipelineDedupes(t *testing.T) {
	db := openTestDB(t)
	ctx := context.Background()

	pipeline := NewPipelineService(db, NewStreamManager(), 0)
	content := testContent(t, db, model.FileTypeMP3)

	first, err := pipeline.EnqueuePipeline(ctx, content)
	if err != nil {
		t.Fatalf("first enqueue failed: %v", err)
	}
	if len(first.Jobs) != 3 {
		t.Fatalf("first enqueue created %d jobs, want 3", len(first.Jobs))
	}

	second, err := pipeline.EnqueuePipeline(ctx, content)
	if err != nil {
		t.Fatalf("second enqueue failed: %v", err)
	}
	if len(second.Jobs) != 0 {
		t.Errorf("second enqueue created %d jobs, want 0 (all deduped)", len(second.Jobs))
	}
	if len(second.Skipped) != 3 {
		t.Errorf("second enqueue skipped %d stages, want 3", len(second.Skipped))
	}
}

func TestRetriableFailureReschedulesWithBackoff(t *testing.T) {
	db := openTestDB(t)
	ctx := context.Background()

	streams := NewStreamManager()
	registry := NewJobRegistry()
	registry.Register(model.JobTypeProcessTextNote, func(ctx context.Context, job *model.Job, report ProgressFunc) (map[string]interface{}, error) {
		return nil, errors.New("connection refused")
	})
	executor := NewPipelineExecutor(db, registry, streams, ExecutorConfig{
		BackoffBase: 10 * time.Second,
		BackoffCap:  time.Minute,
	})

	job := &model.Job{
		Type:        model.JobTypeProcessTextNote,
		Status:      model.JobStatusPending,
		UserID:      1,
		MaxAttempts: 3,
		RunAfter:    time.Now().Add(-time.Second),
		DedupeKey:   fmt.Sprintf("retry-test-%d", time.Now().UnixNano()),
	}
	if err := db.Create(job).Error; err != nil {
		t.Fatalf("failed to create job: %v", err)
	}

	claimed, err := executor.ClaimJob(ctx, job.ID)
	if err != nil {
		t.Fatalf("claim failed: %v", err)
	}
	if err := executor.RunJob(ctx, claimed); err != nil {
		t.Fatalf("RunJob returned %v", err)
	}

	var after model.Job
	db.First(&after, job.ID)
	if after.Status != model.JobStatusPending {
		t.Fatalf("status = %s, want pending (rescheduled)", after.Status)
	}
	if after.AttemptCount != 1 {
		t.Errorf("attempt_count = %d, want 1", after.AttemptCount)
	}
	if !after.RunAfter.After(time.Now().Add(5 * time.Second)) {
		t.Errorf("run_after = %s, want a future backoff window", after.RunAfter)
	}
	if after.ErrorMessage == "" {
		t.Error("error_message should record the failure")
	}
	if after.StartedAt != nil {
		t.Error("started_at should be cleared while the job waits for its retry")
	}
}

func TestRetriableFailureOnLastAttemptFails(t *testing.T) {
	db := openTestDB(t)
	ctx := context.Background()

	registry := NewJobRegistry()
	registry.Register(model.JobTypeProcessTextNote, func(ctx context.Context, job *model.Job, report ProgressFunc) (map[string]interface{}, error) {
		return nil, errors.New("connection refused")
	})
	executor := NewPipelineExecutor(db, registry, NewStreamManager(), ExecutorConfig{})

	// Two attempts already burned; the claim spends the last one.
	job := &model.Job{
		Type:         model.JobTypeProcessTextNote,
		Status:       model.JobStatusPending,
		UserID:       1,
		AttemptCount: 2,
		MaxAttempts:  3,
		RunAfter:     time.Now().Add(-time.Second),
		DedupeKey:    fmt.Sprintf("exhaust-test-%d", time.Now().UnixNano()),
	}
	if err := db.Create(job).Error; err != nil {
		t.Fatalf("failed to create job: %v", err)
	}

	claimed, err := executor.ClaimJob(ctx, job.ID)
	if err != nil {
		t.Fatalf("claim failed: %v", err)
	}
	if err := executor.RunJob(ctx, claimed); err != nil {
		t.Fatalf("RunJob returned %v", err)
	}

	var after model.Job
	db.First(&after, job.ID)
	if after.Status != model.JobStatusFailed {
		t.Fatalf("status = %s, want failed (budget spent)", after.Status)
	}
	if after.AttemptCount != after.MaxAttempts {
		t.Errorf("attempt_count = %d, want %d", after.AttemptCount, after.MaxAttempts)
	}

	// With nothing left to spend, the row is no longer claimable even if
	// something puts it back in pending.
	db.Model(&model.Job{}).Where("id = ?", job.ID).Updates(map[string]interface{}{
		"status":    model.JobStatusPending,
		"run_after": time.Now().Add(-time.Second),
	})
	if _, err := executor.ClaimJob(ctx, job.ID); !errors.Is(err, ErrJobNotClaimable) {
		t.Errorf("claim of an exhausted job returned %v, want ErrJobNotClaimable", err)
	}
	db.First(&after, job.ID)
	if after.AttemptCount > after.MaxAttempts {
		t.Errorf("attempt_count = %d exceeds max_attempts = %d", after.AttemptCount, after.MaxAttempts)
	}
}

func TestFatalFailureCascades(t *testing.T) {
	db := openTestDB(t)
	ctx := context.Background()

	streams := NewStreamManager()
	registry := NewJobRegistry()
	registry.Register(model.JobTypeTranscribe, func(ctx context.Context, job *model.Job, report ProgressFunc) (map[string]interface{}, error) {
		return nil, NewFatalError(errors.New("unsupported codec"))
	})
	executor := NewPipelineExecutor(db, registry, streams, ExecutorConfig{})
	pipeline := NewPipelineService(db, streams, 0)

	content := testContent(t, db, model.FileTypeMP3)
	result, err := pipeline.EnqueuePipeline(ctx, content)
	if err != nil {
		t.Fatalf("enqueue failed: %v", err)
	}

	first := result.Jobs[0]
	claimed, err := executor.ClaimJob(ctx, first.ID)
	if err != nil {
		t.Fatalf("claim failed: %v", err)
	}
	if err := executor.RunJob(ctx, claimed); err != nil {
		t.Fatalf("RunJob returned %v", err)
	}

	var failed model.Job
	db.First(&failed, first.ID)
	if failed.Status != model.JobStatusFailed {
		t.Fatalf("first stage status = %s, want failed", failed.Status)
	}

	// The rest of the run must be cascade-failed, not left pending forever.
	var downstream []model.Job
	db.Where("run_id = ? AND id <> ?", first.RunID, first.ID).Find(&downstream)
	if len(downstream) == 0 {
		t.Fatal("expected downstream stages in the run")
	}
	for _, j := range downstream {
		if j.Status != model.JobStatusFailed {
			t.Errorf("downstream stage %s status = %s, want failed", j.Type, j.Status)
		}
	}

	var c model.Content
	db.First(&c, content.ID)
	if c.Status != model.ContentStatusError {
		t.Errorf("content status = %s, want error", c.Status)
	}
}

func TestReprocessFromStageCreatesOnlyTailJobs(t *testing.T) {
	db := openTestDB(t)
	ctx := context.Background()

	pipeline := NewPipelineService(db, NewStreamManager(), 0)
	content := testContent(t, db, model.FileTypeMP3)
	content.Status = model.ContentStatusCompleted
	db.Save(content)

	result, err := pipeline.EnqueueReprocess(ctx, content, model.JobTypeGenerateEmbeddings)
	if err != nil {
		t.Fatalf("scoped reprocess failed: %v", err)
	}
	if len(result.Jobs) != 1 {
		t.Fatalf("scoped reprocess created %d jobs, want 1", len(result.Jobs))
	}
	if result.Jobs[0].Type != model.JobTypeGenerateEmbeddings {
		t.Errorf("job type = %s, want generate_embeddings", result.Jobs[0].Type)
	}
	if result.Jobs[0].DedupeKey == model.NaturalDedupeKey(model.JobTypeGenerateEmbeddings, content.ID) {
		t.Error("reprocess job must carry a fresh dedupe key, not the natural one")
	}

	// A stage outside the plan is rejected.
	if _, err := pipeline.EnqueueReprocess(ctx, content, model.JobTypeExtractTextPDF); err == nil {
		t.Error("reprocess from a stage outside the plan should fail")
	}

	// Two back-to-back reprocess requests both insert (fresh tokens).
	second, err := pipeline.EnqueueReprocess(ctx, content, model.JobTypeGenerateEmbeddings)
	if err != nil {
		t.Fatalf("second scoped reprocess failed: %v", err)
	}
	if len(second.Jobs) != 1 {
		t.Errorf("second scoped reprocess created %d jobs, want 1", len(second.Jobs))
	}
}

func TestReclaimStale(t *testing.T) {
	db := openTestDB(t)
	ctx := context.Background()

	executor := NewPipelineExecutor(db, NewJobRegistry(), NewStreamManager(), ExecutorConfig{})

	old := time.Now().Add(-2 * time.Hour)
	job := &model.Job{
		Type:        model.JobTypeTranscribe,
		Status:      model.JobStatusProcessing,
		UserID:      1,
		MaxAttempts: 3,
		StartedAt:   &old,
		DedupeKey:   fmt.Sprintf("stale-test-%d", time.Now().UnixNano()),
	}
	if err := db.Create(job).Error; err != nil {
		t.Fatalf("failed to create job: %v", err)
	}

	n, err := executor.ReclaimStale(ctx, 30*time.Minute)
	if err != nil {
		t.Fatalf("ReclaimStale failed: %v", err)
	}
	if n != 1 {
		t.Errorf("reclaimed %d jobs, want 1", n)
	}

	var after model.Job
	db.First(&after, job.ID)
	if after.Status != model.JobStatusPending {
		t.Errorf("status = %s, want pending", after.Status)
	}
	if after.StartedAt != nil {
		t.Errorf("started_at should be cleared on reclaim, got %v", after.StartedAt)
	}
}

func TestReclaimStaleFailsExhaustedJobs(t *testing.T) {
	db := openTestDB(t)
	ctx := context.Background()

	executor := NewPipelineExecutor(db, NewJobRegistry(), NewStreamManager(), ExecutorConfig{})

	// A worker died mid-handler on the final attempt. Requeueing it would
	// let the claim push attempt_count past the budget, so it must fail.
	old := time.Now().Add(-2 * time.Hour)
	job := &model.Job{
		Type:         model.JobTypeTranscribe,
		Status:       model.JobStatusProcessing,
		UserID:       1,
		AttemptCount: 3,
		MaxAttempts:  3,
		StartedAt:    &old,
		DedupeKey:    fmt.Sprintf("stale-exhausted-%d", time.Now().UnixNano()),
	}
	if err := db.Create(job).Error; err != nil {
		t.Fatalf("failed to create job: %v", err)
	}

	n, err := executor.ReclaimStale(ctx, 30*time.Minute)
	if err != nil {
		t.Fatalf("ReclaimStale failed: %v", err)
	}
	if n != 0 {
		t.Errorf("requeued %d jobs, want 0", n)
	}

	var after model.Job
	db.First(&after, job.ID)
	if after.Status != model.JobStatusFailed {
		t.Errorf("status = %s, want failed", after.Status)
	}
	if after.AttemptCount != 3 {
		t.Errorf("attempt_count = %d, want 3 (unchanged)", after.AttemptCount)
	}
	if after.ErrorMessage == "" {
		t.Error("error_message should say why the job was failed")
	}
}

func TestRetryJobRejectsExhaustedJobs(t *testing.T) {
	db := openTestDB(t)
	ctx := context.Background()

	executor := NewPipelineExecutor(db, NewJobRegistry(), NewStreamManager(), ExecutorConfig{})
	jobs := NewJobService(db, NewJobRegistry(), NewStreamManager(), executor)

	done := time.Now()
	exhausted := &model.Job{
		Type:         model.JobTypeTranscribe,
		Status:       model.JobStatusFailed,
		UserID:       1,
		AttemptCount: 3,
		MaxAttempts:  3,
		CompletedAt:  &done,
		ErrorMessage: "connection refused",
		DedupeKey:    fmt.Sprintf("retry-exhausted-%d", time.Now().UnixNano()),
	}
	if err := db.Create(exhausted).Error; err != nil {
		t.Fatalf("failed to create job: %v", err)
	}

	if _, err := jobs.RetryJob(ctx, exhausted.ID); err == nil {
		t.Fatal("retry of an exhausted job should be rejected")
	}
	var after model.Job
	db.First(&after, exhausted.ID)
	if after.Status != model.JobStatusFailed {
		t.Errorf("status = %s, want failed (retry rejected)", after.Status)
	}

	// A fatal failure on the first attempt still has budget and may be
	// retried; the count is kept, not reset.
	fatal := &model.Job{
		Type:         model.JobTypeTranscribe,
		Status:       model.JobStatusFailed,
		UserID:       1,
		AttemptCount: 1,
		MaxAttempts:  3,
		CompletedAt:  &done,
		ErrorMessage: "unsupported codec",
		DedupeKey:    fmt.Sprintf("retry-fatal-%d", time.Now().UnixNano()),
	}
	if err := db.Create(fatal).Error; err != nil {
		t.Fatalf("failed to create job: %v", err)
	}

	retried, err := jobs.RetryJob(ctx, fatal.ID)
	if err != nil {
		t.Fatalf("retry of a failed job with budget left failed: %v", err)
	}
	if retried.Status != model.JobStatusPending {
		t.Errorf("status = %s, want pending", retried.Status)
	}
	if retried.AttemptCount != 1 {
		t.Errorf("attempt_count = %d, want 1 (not reset)", retried.AttemptCount)
	}
}
