package cron

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/sahilchouksey/mediavault-api/model"
)

// ProcessDueJobs claims and runs pending jobs whose run_after has passed.
// This is the resume path for retries, pipeline stages deferred behind a
// prerequisite, and anything enqueued while no inline worker was attached.
// It runs every few seconds so it skips the per-run cron log rows.
func (m *CronManager) ProcessDueJobs() {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Minute)
	defer cancel()

	ran, err := m.executor.ExecuteDue(ctx, 20)
	if err != nil {
		log.Printf("[CRON] Due-job poll failed: %v", err)
		return
	}
	if ran > 0 {
		log.Printf("[CRON] Due-job poll ran %d jobs", ran)
	}
}

// staleProcessingAge is how long a job may sit in processing before it is
// assumed orphaned by a crashed worker.
const staleProcessingAge = 30 * time.Minute

// ReclaimStaleJobs returns orphaned processing jobs to the queue.
func (m *CronManager) ReclaimStaleJobs() {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
	defer cancel()

	jobName := "reclaim_stale_jobs"

	reclaimed, err := m.executor.ReclaimStale(ctx, staleProcessingAge)
	if err != nil {
		m.logJobError(jobName, err)
		return
	}
	m.logJobComplete(jobName, fmt.Sprintf("Reclaimed %d stale jobs", reclaimed))
}

// SyncConnectors enqueues a sync job for every registered connector. The
// actual provider fetch runs through the job pipeline so it gets retries
// and backoff like everything else.
func (m *CronManager) SyncConnectors() {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Minute)
	defer cancel()

	jobName := "sync_connectors"

	var connectors []model.Connector
	if err := m.db.WithContext(ctx).Find(&connectors).Error; err != nil {
		m.logJobError(jobName, fmt.Errorf("failed to list connectors: %w", err))
		return
	}
	if len(connectors) == 0 {
		m.logJobComplete(jobName, "No connectors registered")
		return
	}

	enqueued := 0
	skipped := 0
	for _, connector := range connectors {
		payload := map[string]interface{}{"connector_id": connector.ID}
		_, err := m.pipeline.EnqueueStandalone(ctx, model.JobTypeSyncConnector, connector.UserID, 0, payload)
		if err != nil {
			// Usually an outstanding sync for the same connector.
			skipped++
			continue
		}
		enqueued++
	}
	m.logJobComplete(jobName, fmt.Sprintf("Enqueued %d syncs, skipped %d", enqueued, skipped))
}

const (
	// terminalJobRetention is how long completed/failed jobs stay queryable.
	terminalJobRetention = 30 * 24 * time.Hour
	// cronLogRetention bounds the cron_job_logs table.
	cronLogRetention = 7 * 24 * time.Hour
	// abandonedUploadAge is how long a content may sit in uploading before
	// the row is considered dead.
	abandonedUploadAge = 24 * time.Hour
)

// CleanupOldData enforces retention: old terminal jobs, old cron logs,
// old activity logs and uploads that never finished.
func (m *CronManager) CleanupOldData() {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Minute)
	defer cancel()

	jobName := "cleanup_old_data"
	now := time.Now()

	jobs := m.db.WithContext(ctx).
		Where("status IN ? AND completed_at < ?",
			[]model.JobStatus{model.JobStatusCompleted, model.JobStatusFailed},
			now.Add(-terminalJobRetention)).
		Delete(&model.Job{})
	if jobs.Error != nil {
		m.logJobError(jobName, fmt.Errorf("failed to delete old jobs: %w", jobs.Error))
		return
	}

	cronLogs := m.db.WithContext(ctx).
		Where("started_at < ?", now.Add(-cronLogRetention)).
		Delete(&model.CronJobLog{})
	if cronLogs.Error != nil {
		m.logJobError(jobName, fmt.Errorf("failed to delete old cron logs: %w", cronLogs.Error))
		return
	}

	activityLogs := m.db.WithContext(ctx).
		Where("created_at < ?", now.Add(-terminalJobRetention)).
		Delete(&model.ActivityLog{})
	if activityLogs.Error != nil {
		m.logJobError(jobName, fmt.Errorf("failed to delete old activity logs: %w", activityLogs.Error))
		return
	}

	uploads := m.db.WithContext(ctx).
		Where("status = ? AND created_at < ?", model.ContentStatusUploading, now.Add(-abandonedUploadAge)).
		Delete(&model.Content{})
	if uploads.Error != nil {
		m.logJobError(jobName, fmt.Errorf("failed to delete abandoned uploads: %w", uploads.Error))
		return
	}

	m.logJobComplete(jobName, fmt.Sprintf(
		"Deleted %d jobs, %d cron logs, %d activity logs, %d abandoned uploads",
		jobs.RowsAffected, cronLogs.RowsAffected, activityLogs.RowsAffected, uploads.RowsAffected))
}
