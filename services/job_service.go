package services

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/sahilchouksey/mediavault-api/model"
	queryHelper "github.com/sahilchouksey/mediavault-api/utils/query"
	"gorm.io/gorm"
)

// JobService is the read/admin surface over the jobs table: listing,
// metrics and manual retries. It never executes jobs itself.
type JobService struct {
	db       *gorm.DB
	registry *JobRegistry
	streams  *StreamManager
	executor *PipelineExecutor
}

// NewJobService creates a new job service
func NewJobService(db *gorm.DB, registry *JobRegistry, streams *StreamManager, executor *PipelineExecutor) *JobService {
	return &JobService{
		db:       db,
		registry: registry,
		streams:  streams,
		executor: executor,
	}
}

// JobFilter narrows ListJobs results. Zero values mean "any".
type JobFilter struct {
	Status    model.JobStatus
	Type      model.JobType
	ContentID uint
	UserID    uint
}

// ListJobs returns a page of jobs matching the filter, newest first.
func (s *JobService) ListJobs(ctx context.Context, filter JobFilter, page queryHelper.Pagination) ([]model.Job, int64, error) {
	query := s.db.WithContext(ctx).Model(&model.Job{})

	if filter.Status != "" {
		query = query.Where("status = ?", filter.Status)
	}
	if filter.Type != "" {
		query = query.Where("type = ?", filter.Type)
	}
	if filter.ContentID != 0 {
		query = query.Where("content_id = ?", filter.ContentID)
	}
	if filter.UserID != 0 {
		query = query.Where("user_id = ?", filter.UserID)
	}

	var total int64
	if err := query.Count(&total).Error; err != nil {
		return nil, 0, fmt.Errorf("failed to count jobs: %w", err)
	}

	var jobs []model.Job
	err := query.Order("created_at desc").
		Offset(page.Offset()).
		Limit(page.Limit).
		Find(&jobs).Error
	if err != nil {
		return nil, 0, fmt.Errorf("failed to list jobs: %w", err)
	}
	return jobs, total, nil
}

// GetJob loads a single job by ID.
func (s *JobService) GetJob(ctx context.Context, jobID uint) (*model.Job, error) {
	var job model.Job
	if err := s.db.WithContext(ctx).First(&job, jobID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, fmt.Errorf("job %d not found", jobID)
		}
		return nil, fmt.Errorf("failed to load job %d: %w", jobID, err)
	}
	return &job, nil
}

// TypeMetric aggregates completed-job timing per job type.
type TypeMetric struct {
	Type         model.JobType `json:"type"`
	Completed    int64         `json:"completed"`
	Failed       int64         `json:"failed"`
	AvgDurationS float64       `json:"avg_duration_seconds"`
}

// JobMetrics is the payload of the observability endpoint.
type JobMetrics struct {
	StatusCounts    map[string]int64 `json:"status_counts"`
	TypeMetrics     []TypeMetric     `json:"type_metrics"`
	OldestPendingS  float64          `json:"oldest_pending_age_seconds"`
	ActiveStreams   int              `json:"active_streams"`
	RegisteredTypes []model.JobType  `json:"registered_types"`
}

// Metrics computes queue depth by status, per-type completion timing and the
// age of the oldest pending job.
func (s *JobService) Metrics(ctx context.Context) (*JobMetrics, error) {
	metrics := &JobMetrics{
		StatusCounts:    make(map[string]int64),
		ActiveStreams:   s.streams.ActiveStreams(),
		RegisteredTypes: s.registry.RegisteredTypes(),
	}

	var statusRows []struct {
		Status string
		Count  int64
	}
	err := s.db.WithContext(ctx).Model(&model.Job{}).
		Select("status, count(*) as count").
		Group("status").
		Scan(&statusRows).Error
	if err != nil {
		return nil, fmt.Errorf("failed to count jobs by status: %w", err)
	}
	for _, row := range statusRows {
		metrics.StatusCounts[row.Status] = row.Count
	}

	var typeRows []struct {
		Type      string
		Completed int64
		Failed    int64
		AvgSec    float64
	}
	err = s.db.WithContext(ctx).Model(&model.Job{}).
		Select(`type,
			count(*) filter (where status = 'completed') as completed,
			count(*) filter (where status = 'failed') as failed,
			coalesce(avg(extract(epoch from (completed_at - started_at))) filter (where status = 'completed'), 0) as avg_sec`).
		Group("type").
		Order("type").
		Scan(&typeRows).Error
	if err != nil {
		return nil, fmt.Errorf("failed to aggregate jobs by type: %w", err)
	}
	for _, row := range typeRows {
		metrics.TypeMetrics = append(metrics.TypeMetrics, TypeMetric{
			Type:         model.JobType(row.Type),
			Completed:    row.Completed,
			Failed:       row.Failed,
			AvgDurationS: row.AvgSec,
		})
	}

	var oldest model.Job
	err = s.db.WithContext(ctx).
		Where("status = ?", model.JobStatusPending).
		Order("created_at asc").
		First(&oldest).Error
	if err == nil {
		metrics.OldestPendingS = time.Since(oldest.CreatedAt).Seconds()
	} else if !errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, fmt.Errorf("failed to find oldest pending job: %w", err)
	}

	return metrics, nil
}

// RetryJob puts a permanently failed job back in the queue. Only jobs with
// attempts left can be retried; the count is never reset, so a job that
// already burned its budget stays failed. Stages of the same run that were
// failed only because this one failed are re-opened too, so the pipeline
// can finish once the retried stage succeeds.
func (s *JobService) RetryJob(ctx context.Context, jobID uint) (*model.Job, error) {
	var job model.Job
	if err := s.db.WithContext(ctx).First(&job, jobID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, fmt.Errorf("job %d not found", jobID)
		}
		return nil, fmt.Errorf("failed to load job %d: %w", jobID, err)
	}
	if job.Status != model.JobStatusFailed {
		return nil, fmt.Errorf("job %d is %s, only failed jobs can be retried", jobID, job.Status)
	}
	if job.AttemptsExhausted() {
		return nil, fmt.Errorf("job %d already used all %d attempts", jobID, job.MaxAttempts)
	}

	now := time.Now()
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Model(&model.Job{}).Where("id = ?", job.ID).Updates(map[string]interface{}{
			"status":        model.JobStatusPending,
			"run_after":     now,
			"completed_at":  nil,
			"error_message": "",
		}).Error; err != nil {
			return fmt.Errorf("failed to retry job %d: %w", job.ID, err)
		}

		if IsPipelineStage(job.Type) && job.RunID != "" {
			if err := tx.Model(&model.Job{}).
				Where("run_id = ? AND stage_index > ? AND status = ? AND error_message LIKE ?",
					job.RunID, job.StageIndex, model.JobStatusFailed, "upstream stage %").
				Updates(map[string]interface{}{
					"status":        model.JobStatusPending,
					"run_after":     now,
					"completed_at":  nil,
					"error_message": "",
				}).Error; err != nil {
				return fmt.Errorf("failed to re-open downstream stages of run %s: %w", job.RunID, err)
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	if IsPipelineStage(job.Type) && job.ContentID != 0 {
		s.db.WithContext(ctx).Model(&model.Content{}).Where("id = ?", job.ContentID).Updates(map[string]interface{}{
			"status":        model.ContentStatusUploaded,
			"error_message": "",
		})
	}

	log.Printf("Jobs: job %d (%s) manually retried", job.ID, job.Type)
	s.executor.RunPipelineDetached(job.RunID)

	return s.GetJob(ctx, jobID)
}
