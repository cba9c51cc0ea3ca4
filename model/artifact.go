package model

import (
	"time"

	"gorm.io/datatypes"
)

// Transcript holds the text produced by the transcribe (or text extraction)
// stage. One row per content; re-running the stage overwrites it.
type Transcript struct {
	ID        uint      `gorm:"primaryKey" json:"id"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`

	ContentID uint   `gorm:"uniqueIndex;not null" json:"content_id"`
	Text      string `gorm:"type:text;not null" json:"text"`
	Language  string `gorm:"type:varchar(10)" json:"language,omitempty"`

	// Segments carries timed segments for recordings: [{start, end, text}]
	Segments datatypes.JSON `gorm:"type:jsonb" json:"segments,omitempty"`

	Provider string `gorm:"type:varchar(40)" json:"provider,omitempty"`

	Content Content `gorm:"foreignKey:ContentID;constraint:OnDelete:CASCADE" json:"-"`
}

// TableName specifies the table name for Transcript
func (Transcript) TableName() string {
	return "transcripts"
}

// GeneratedDoc is the AI-generated structured document (summary, outline,
// action items) built from a content's transcript.
type GeneratedDoc struct {
	ID        uint      `gorm:"primaryKey" json:"id"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`

	ContentID uint   `gorm:"uniqueIndex;not null" json:"content_id"`
	Title     string `gorm:"type:varchar(255)" json:"title"`
	Markdown  string `gorm:"type:text;not null" json:"markdown"`
	Model     string `gorm:"type:varchar(60)" json:"model,omitempty"`

	Content Content `gorm:"foreignKey:ContentID;constraint:OnDelete:CASCADE" json:"-"`
}

// TableName specifies the table name for GeneratedDoc
func (GeneratedDoc) TableName() string {
	return "generated_docs"
}

// Embedding is one embedded chunk of a content's text. Rows are replaced
// wholesale when the generate_embeddings stage re-runs.
type Embedding struct {
	ID        uint      `gorm:"primaryKey" json:"id"`
	CreatedAt time.Time `json:"created_at"`

	ContentID  uint           `gorm:"index;not null" json:"content_id"`
	ChunkIndex int            `gorm:"not null" json:"chunk_index"`
	ChunkText  string         `gorm:"type:text;not null" json:"chunk_text"`
	Vector     datatypes.JSON `gorm:"type:jsonb;not null" json:"-"`
	Model      string         `gorm:"type:varchar(60)" json:"model,omitempty"`

	Content Content `gorm:"foreignKey:ContentID;constraint:OnDelete:CASCADE" json:"-"`
}

// TableName specifies the table name for Embedding
func (Embedding) TableName() string {
	return "embeddings"
}

// FrameSet records the extracted preview frames for a video recording.
// Frame extraction is a partial-batch operation: individual frames may fail
// without failing the owning job, so both counts are kept.
type FrameSet struct {
	ID        uint      `gorm:"primaryKey" json:"id"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`

	ContentID   uint           `gorm:"uniqueIndex;not null" json:"content_id"`
	FrameKeys   datatypes.JSON `gorm:"type:jsonb" json:"frame_keys,omitempty"` // Spaces keys, in order
	FrameCount  int            `gorm:"default:0" json:"frame_count"`
	FailedCount int            `gorm:"default:0" json:"failed_count"`

	Content Content `gorm:"foreignKey:ContentID;constraint:OnDelete:CASCADE" json:"-"`
}

// TableName specifies the table name for FrameSet
func (FrameSet) TableName() string {
	return "frame_sets"
}
