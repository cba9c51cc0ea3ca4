package model

import (
	"fmt"
	"time"

	"gorm.io/datatypes"
)

// JobType identifies the handler that processes a job. The set is closed:
// adding a type requires registering a handler for it (see services.JobRegistry).
type JobType string

const (
	JobTypeExtractAudio       JobType = "extract_audio"
	JobTypeTranscribe         JobType = "transcribe"
	JobTypeExtractTextPDF     JobType = "extract_text_pdf"
	JobTypeExtractTextDOCX    JobType = "extract_text_docx"
	JobTypeProcessTextNote    JobType = "process_text_note"
	JobTypeDocGenerate        JobType = "doc_generate"
	JobTypeGenerateEmbeddings JobType = "generate_embeddings"
	JobTypeExtractFrames      JobType = "extract_frames"
	JobTypeSyncConnector      JobType = "sync_connector"
	JobTypeProcessImportedDoc JobType = "process_imported_doc"
	JobTypeProcessWebhook     JobType = "process_webhook"
	JobTypeExportUserData     JobType = "export_user_data"
)

// JobStatus represents the lifecycle state of a job
type JobStatus string

const (
	JobStatusPending    JobStatus = "pending"
	JobStatusProcessing JobStatus = "processing"
	JobStatusCompleted  JobStatus = "completed"
	JobStatusFailed     JobStatus = "failed"
)

// DefaultMaxAttempts is the retry budget for newly enqueued jobs
const DefaultMaxAttempts = 3

// Job is one unit of pipeline work. Rows are created by the enqueuer and
// mutated only through the executor's claim/complete/fail transitions, so
// status only ever moves pending -> processing -> {completed, failed}, with
// failed -> pending reserved for the retry path while attempts remain.
type Job struct {
	ID        uint      `gorm:"primaryKey" json:"id"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`

	Type   JobType   `gorm:"type:varchar(30);not null;index" json:"type"`
	Status JobStatus `gorm:"type:varchar(15);default:'pending';index" json:"status"`

	// RunID groups the jobs of one pipeline run; StageIndex/StageTotal record
	// the job's position in that run's plan. Standalone jobs (sync_connector,
	// process_webhook, export_user_data, extract_frames) have a run of one.
	RunID      string `gorm:"type:varchar(40);index" json:"run_id"`
	StageIndex int    `gorm:"default:0" json:"stage_index"`
	StageTotal int    `gorm:"default:1" json:"stage_total"`

	// ContentID is zero for jobs not tied to a content item (e.g. exports).
	ContentID uint `gorm:"index" json:"content_id,omitempty"`
	UserID    uint `gorm:"index;not null" json:"user_id"`

	// Payload is interpreted only by the handler registered for Type.
	Payload datatypes.JSONMap `gorm:"type:jsonb" json:"payload,omitempty"`

	AttemptCount int `gorm:"default:0" json:"attempt_count"`
	MaxAttempts  int `gorm:"default:3" json:"max_attempts"`

	// DedupeKey prevents a second outstanding job of the same stage for the
	// same content. Reprocess mints a fresh key so the insert always succeeds.
	DedupeKey string `gorm:"type:varchar(120);index" json:"dedupe_key"`

	// RunAfter is the earliest time the job may be claimed (retry backoff).
	RunAfter time.Time `gorm:"index" json:"run_after"`

	StartedAt   *time.Time `json:"started_at,omitempty"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`

	ProgressPercent int               `gorm:"default:0" json:"progress_percent"`
	ProgressMessage string            `gorm:"type:text" json:"progress_message,omitempty"`
	Result          datatypes.JSONMap `gorm:"type:jsonb" json:"result,omitempty"`
	ErrorMessage    string            `gorm:"type:text" json:"error_message,omitempty"`

	Content *Content `gorm:"foreignKey:ContentID;constraint:OnDelete:CASCADE" json:"-"`
}

// TableName specifies the table name for Job
func (Job) TableName() string {
	return "jobs"
}

// IsTerminal reports whether the job can no longer change state
func (j *Job) IsTerminal() bool {
	return j.Status == JobStatusCompleted || j.Status == JobStatusFailed
}

// AttemptsExhausted reports whether the retry budget is spent
func (j *Job) AttemptsExhausted() bool {
	return j.AttemptCount >= j.MaxAttempts
}

// Duration returns the wall time of the last attempt, zero if not finished
func (j *Job) Duration() time.Duration {
	if j.StartedAt == nil || j.CompletedAt == nil {
		return 0
	}
	return j.CompletedAt.Sub(*j.StartedAt)
}

// NaturalDedupeKey is the dedupe key for a stage enqueued as part of the
// initial pipeline: at most one non-terminal job per (type, content) pair.
func NaturalDedupeKey(jobType JobType, contentID uint) string {
	return fmt.Sprintf("%s:content:%d", jobType, contentID)
}

// ReprocessDedupeKey appends a unique token so a forced reprocess bypasses
// the outstanding-job check even when a terminal job holds the natural key.
func ReprocessDedupeKey(jobType JobType, contentID uint, token string) string {
	return fmt.Sprintf("%s:content:%d:reprocess:%s", jobType, contentID, token)
}
