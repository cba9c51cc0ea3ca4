package cron

import (
	"log"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/sahilchouksey/mediavault-api/model"
	"github.com/sahilchouksey/mediavault-api/services"
	"gorm.io/gorm"
)

// CronManager owns the background schedules: the due-job poller that drives
// retries and deferred pipeline stages, stale-job reclamation, connector
// syncs and data retention.
type CronManager struct {
	cron     *cron.Cron
	db       *gorm.DB
	executor *services.PipelineExecutor
	pipeline *services.PipelineService
}

// NewCronManager creates a new cron manager
func NewCronManager(db *gorm.DB, executor *services.PipelineExecutor, pipeline *services.PipelineService) *CronManager {
	// Seconds precision: the due-job poller runs sub-minute.
	c := cron.New(cron.WithSeconds())

	return &CronManager{
		cron:     c,
		db:       db,
		executor: executor,
		pipeline: pipeline,
	}
}

// Start registers and starts all scheduled jobs
func (m *CronManager) Start() error {
	log.Println("Starting cron jobs...")

	if err := m.registerJobs(); err != nil {
		return err
	}
	m.cron.Start()

	log.Println("Cron jobs started successfully")
	return nil
}

// Stop stops the scheduler and waits for running jobs to finish
func (m *CronManager) Stop() {
	log.Println("Stopping cron jobs...")
	ctx := m.cron.Stop()
	<-ctx.Done()
	log.Println("Cron jobs stopped")
}

// registerJobs registers all cron jobs with their schedules
func (m *CronManager) registerJobs() error {
	// Every 15 seconds: claim and run due jobs (retry backoffs, deferred
	// stages, jobs enqueued while no worker was attached).
	_, err := m.cron.AddFunc("*/15 * * * * *", func() {
		m.ProcessDueJobs()
	})
	if err != nil {
		return err
	}

	// Every 5 minutes: return jobs stuck in processing to the queue.
	_, err = m.cron.AddFunc("0 */5 * * * *", func() {
		m.logJobStart("reclaim_stale_jobs")
		m.ReclaimStaleJobs()
	})
	if err != nil {
		return err
	}

	// Every hour: sync all registered connectors.
	_, err = m.cron.AddFunc("0 0 * * * *", func() {
		m.logJobStart("sync_connectors")
		m.SyncConnectors()
	})
	if err != nil {
		return err
	}

	// Daily at 3 AM: drop old terminal jobs, logs and stale uploads.
	_, err = m.cron.AddFunc("0 0 3 * * *", func() {
		m.logJobStart("cleanup_old_data")
		m.CleanupOldData()
	})
	if err != nil {
		return err
	}

	log.Println("All cron jobs registered successfully")
	return nil
}

// logJobStart logs the start of a cron job
func (m *CronManager) logJobStart(jobName string) {
	log.Printf("[CRON] Starting job: %s at %s", jobName, time.Now().Format(time.RFC3339))

	cronLog := model.CronJobLog{
		JobName:   jobName,
		Status:    "running",
		StartedAt: time.Now(),
	}
	m.db.Create(&cronLog)
}

// logJobComplete logs successful completion of a cron job
func (m *CronManager) logJobComplete(jobName string, message string) {
	log.Printf("[CRON] Completed job: %s - %s", jobName, message)

	m.db.Model(&model.CronJobLog{}).
		Where("job_name = ? AND status = ?", jobName, "running").
		Order("started_at DESC").
		Limit(1).
		Updates(map[string]interface{}{
			"status":       "completed",
			"completed_at": time.Now(),
			"message":      message,
		})
}

// logJobError logs a cron job error
func (m *CronManager) logJobError(jobName string, err error) {
	log.Printf("[CRON] Error in job: %s - %v", jobName, err)

	m.db.Model(&model.CronJobLog{}).
		Where("job_name = ? AND status = ?", jobName, "running").
		Order("started_at DESC").
		Limit(1).
		Updates(map[string]interface{}{
			"status":       "failed",
			"completed_at": time.Now(),
			"error_msg":    err.Error(),
		})
}
