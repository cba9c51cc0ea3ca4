package model

import (
	"time"

	"gorm.io/gorm"
)

// ContentType represents the kind of content a user submitted
type ContentType string

const (
	ContentTypeRecording ContentType = "recording" // video or audio capture
	ContentTypeDocument  ContentType = "document"  // uploaded PDF/DOCX
	ContentTypeNote      ContentType = "note"      // plain text note
	ContentTypeImport    ContentType = "import"    // connector-imported article
)

// FileType represents the stored file format
type FileType string

const (
	FileTypeMP4  FileType = "mp4"
	FileTypeMOV  FileType = "mov"
	FileTypeMP3  FileType = "mp3"
	FileTypeWAV  FileType = "wav"
	FileTypePDF  FileType = "pdf"
	FileTypeDOCX FileType = "docx"
	FileTypeTXT  FileType = "txt"
	FileTypeMD   FileType = "md"
	FileTypeHTML FileType = "html"
)

// ContentStatus is the coarse user-facing processing state. The pipeline
// executor updates it as a side effect of stage transitions.
type ContentStatus string

const (
	ContentStatusUploading     ContentStatus = "uploading"
	ContentStatusUploaded      ContentStatus = "uploaded"
	ContentStatusTranscribing  ContentStatus = "transcribing"
	ContentStatusTranscribed   ContentStatus = "transcribed"
	ContentStatusDocGenerating ContentStatus = "doc_generating"
	ContentStatusCompleted     ContentStatus = "completed"
	ContentStatusError         ContentStatus = "error"
)

// Content represents a user-submitted media item or document
type Content struct {
	ID        uint           `gorm:"primaryKey" json:"id"`
	CreatedAt time.Time      `json:"created_at"`
	UpdatedAt time.Time      `json:"updated_at"`
	DeletedAt gorm.DeletedAt `gorm:"index" json:"deleted_at,omitempty"`

	UserID   uint        `gorm:"index;not null" json:"user_id"`
	Title    string      `gorm:"type:varchar(255);not null" json:"title"`
	Type     ContentType `gorm:"type:varchar(20);not null" json:"type"`
	FileType FileType    `gorm:"type:varchar(10);not null" json:"file_type"`

	// SpacesKey/SpacesURL locate the raw upload in object storage. Notes keep
	// their text inline in Body instead.
	SpacesKey string `gorm:"type:varchar(500)" json:"spaces_key,omitempty"`
	SpacesURL string `gorm:"type:text" json:"spaces_url,omitempty"`
	Body      string `gorm:"type:text" json:"body,omitempty"`

	Status       ContentStatus `gorm:"type:varchar(20);default:'uploading';index" json:"status"`
	ErrorMessage string        `gorm:"type:text" json:"error_message,omitempty"`

	FileSize        int64 `gorm:"default:0" json:"file_size"`
	DurationSeconds int   `gorm:"default:0" json:"duration_seconds"` // recordings only
	PageCount       int   `gorm:"default:0" json:"page_count"`       // documents only

	// ConnectorID is set for connector-imported content
	ConnectorID *uint `gorm:"index" json:"connector_id,omitempty"`

	Jobs      []Job      `gorm:"foreignKey:ContentID;constraint:OnDelete:CASCADE" json:"jobs,omitempty"`
	Connector *Connector `gorm:"foreignKey:ConnectorID;constraint:OnDelete:SET NULL" json:"connector,omitempty"`
}

// TableName specifies the table name for Content
func (Content) TableName() string {
	return "contents"
}

// IsProcessable reports whether the content is in a state where a pipeline
// run may be started for it
func (c *Content) IsProcessable() bool {
	return c.Status != ContentStatusUploading
}
