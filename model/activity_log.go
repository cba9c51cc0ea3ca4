package model

import "time"

// ActivityLog is a best-effort audit trail of pipeline events. Writes are
// fire-and-forget: a failed insert is logged and never fails the owning job.
type ActivityLog struct {
	ID        uint      `gorm:"primaryKey" json:"id"`
	CreatedAt time.Time `json:"created_at"`

	UserID    uint   `gorm:"index" json:"user_id"`
	ContentID uint   `gorm:"index" json:"content_id,omitempty"`
	JobID     uint   `gorm:"index" json:"job_id,omitempty"`
	Action    string `gorm:"type:varchar(60);not null" json:"action"` // e.g. "pipeline_started", "stage_failed"
	Detail    string `gorm:"type:text" json:"detail,omitempty"`
}

// TableName specifies the table name for ActivityLog
func (ActivityLog) TableName() string {
	return "activity_logs"
}
