package services

import (
	"context"
	"errors"
	"fmt"
	"log"
	"mime/multipart"
	"time"

	"github.com/sahilchouksey/mediavault-api/model"
	"github.com/sahilchouksey/mediavault-api/services/digitalocean"
	"github.com/sahilchouksey/mediavault-api/utils/cache"
	queryHelper "github.com/sahilchouksey/mediavault-api/utils/query"
	"gorm.io/gorm"
)

// ContentService handles the content lifecycle: upload, listing, deletion
// and kicking off processing runs.
type ContentService struct {
	db       *gorm.DB
	spaces   *digitalocean.SpacesClient
	cache    *cache.RedisCache
	pipeline *PipelineService
	executor *PipelineExecutor
}

// NewContentService creates a new content service
func NewContentService(db *gorm.DB, spaces *digitalocean.SpacesClient, redisCache *cache.RedisCache, pipeline *PipelineService, executor *PipelineExecutor) *ContentService {
	return &ContentService{
		db:       db,
		spaces:   spaces,
		cache:    redisCache,
		pipeline: pipeline,
		executor: executor,
	}
}

// maxUploadSize bounds a single uploaded file.
const maxUploadSize = 2 << 30 // 2 GiB

// fileTypeForContentType validates that the uploaded format matches the
// declared content type.
func fileTypeAllowed(contentType model.ContentType, fileType model.FileType) bool {
	switch contentType {
	case model.ContentTypeRecording:
		switch fileType {
		case model.FileTypeMP4, model.FileTypeMOV, model.FileTypeMP3, model.FileTypeWAV:
			return true
		}
	case model.ContentTypeDocument:
		switch fileType {
		case model.FileTypePDF, model.FileTypeDOCX:
			return true
		}
	case model.ContentTypeNote:
		switch fileType {
		case model.FileTypeTXT, model.FileTypeMD:
			return true
		}
	case model.ContentTypeImport:
		switch fileType {
		case model.FileTypeHTML, model.FileTypeMD, model.FileTypeTXT:
			return true
		}
	}
	return false
}

// CreateUpload stores an uploaded file in Spaces, creates the content row
// and starts its pipeline on a detached worker.
func (s *ContentService) CreateUpload(ctx context.Context, userID uint, title string, contentType model.ContentType, fileType model.FileType, file multipart.File, header *multipart.FileHeader) (*model.Content, string, error) {
	if !fileTypeAllowed(contentType, fileType) {
		return nil, "", fmt.Errorf("file type %s is not valid for %s content", fileType, contentType)
	}
	if header.Size > maxUploadSize {
		return nil, "", fmt.Errorf("file exceeds the %d byte upload limit", maxUploadSize)
	}

	content := &model.Content{
		UserID:   userID,
		Title:    title,
		Type:     contentType,
		FileType: fileType,
		Status:   model.ContentStatusUploading,
		FileSize: header.Size,
	}
	if err := s.db.WithContext(ctx).Create(content).Error; err != nil {
		return nil, "", fmt.Errorf("failed to create content: %w", err)
	}

	key := digitalocean.GenerateKey(fmt.Sprintf("uploads/%d/%d", userID, content.ID), header.Filename)
	url, err := s.spaces.UploadFile(ctx, key, file, digitalocean.GetContentType(header.Filename))
	if err != nil {
		// Leave the row in uploading/error state so the client sees what happened.
		s.db.WithContext(ctx).Model(content).Updates(map[string]interface{}{
			"status":        model.ContentStatusError,
			"error_message": err.Error(),
		})
		return nil, "", fmt.Errorf("failed to store upload: %w", err)
	}

	err = s.db.WithContext(ctx).Model(content).Updates(map[string]interface{}{
		"spaces_key": key,
		"spaces_url": url,
		"status":     model.ContentStatusUploaded,
	}).Error
	if err != nil {
		return nil, "", fmt.Errorf("failed to finalize upload: %w", err)
	}
	content.SpacesKey = key
	content.SpacesURL = url
	content.Status = model.ContentStatusUploaded

	result, err := s.pipeline.EnqueuePipeline(ctx, content)
	if err != nil {
		return nil, "", err
	}
	if result.RunID != "" {
		s.executor.RunPipelineDetached(result.RunID)
	}

	log.Printf("Content: user %d uploaded content %d (%s/%s, %d bytes)", userID, content.ID, contentType, fileType, header.Size)
	return content, result.RunID, nil
}

// CreateNote creates a text note with an inline body and starts processing.
func (s *ContentService) CreateNote(ctx context.Context, userID uint, title string, fileType model.FileType, body string) (*model.Content, string, error) {
	if fileType != model.FileTypeTXT && fileType != model.FileTypeMD {
		return nil, "", fmt.Errorf("notes must be txt or md, got %s", fileType)
	}
	if body == "" {
		return nil, "", fmt.Errorf("note body is empty")
	}

	content := &model.Content{
		UserID:   userID,
		Title:    title,
		Type:     model.ContentTypeNote,
		FileType: fileType,
		Body:     body,
		Status:   model.ContentStatusUploaded,
		FileSize: int64(len(body)),
	}
	if err := s.db.WithContext(ctx).Create(content).Error; err != nil {
		return nil, "", fmt.Errorf("failed to create note: %w", err)
	}

	result, err := s.pipeline.EnqueuePipeline(ctx, content)
	if err != nil {
		return nil, "", err
	}
	if result.RunID != "" {
		s.executor.RunPipelineDetached(result.RunID)
	}
	return content, result.RunID, nil
}

// ContentFilter narrows List results.
type ContentFilter struct {
	Type   model.ContentType
	Status model.ContentStatus
}

// List returns a page of the user's contents, newest first.
func (s *ContentService) List(ctx context.Context, userID uint, filter ContentFilter, page queryHelper.Pagination) ([]model.Content, int64, error) {
	query := s.db.WithContext(ctx).Model(&model.Content{}).Where("user_id = ?", userID)
	if filter.Type != "" {
		query = query.Where("type = ?", filter.Type)
	}
	if filter.Status != "" {
		query = query.Where("status = ?", filter.Status)
	}

	var total int64
	if err := query.Count(&total).Error; err != nil {
		return nil, 0, fmt.Errorf("failed to count contents: %w", err)
	}

	var contents []model.Content
	err := query.Order("created_at desc").
		Offset(page.Offset()).
		Limit(page.Limit).
		Find(&contents).Error
	if err != nil {
		return nil, 0, fmt.Errorf("failed to list contents: %w", err)
	}
	return contents, total, nil
}

// Get loads one content scoped to its owner.
func (s *ContentService) Get(ctx context.Context, userID, contentID uint) (*model.Content, error) {
	var content model.Content
	err := s.db.WithContext(ctx).Where("id = ? AND user_id = ?", contentID, userID).First(&content).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, fmt.Errorf("content %d not found", contentID)
		}
		return nil, fmt.Errorf("failed to load content %d: %w", contentID, err)
	}
	return &content, nil
}

// ContentDetail bundles a content with its derived artifacts.
type ContentDetail struct {
	Content    *model.Content      `json:"content"`
	Transcript *model.Transcript   `json:"transcript,omitempty"`
	Doc        *model.GeneratedDoc `json:"generated_doc,omitempty"`
	FrameSet   *model.FrameSet     `json:"frame_set,omitempty"`
	Jobs       []model.Job         `json:"jobs"`
}

// GetDetail loads a content with its transcript, generated doc, frames and
// job history.
func (s *ContentService) GetDetail(ctx context.Context, userID, contentID uint) (*ContentDetail, error) {
	content, err := s.Get(ctx, userID, contentID)
	if err != nil {
		return nil, err
	}

	detail := &ContentDetail{Content: content}

	var transcript model.Transcript
	if err := s.db.WithContext(ctx).Where("content_id = ?", contentID).First(&transcript).Error; err == nil {
		detail.Transcript = &transcript
	}
	var doc model.GeneratedDoc
	if err := s.db.WithContext(ctx).Where("content_id = ?", contentID).First(&doc).Error; err == nil {
		detail.Doc = &doc
	}
	var frames model.FrameSet
	if err := s.db.WithContext(ctx).Where("content_id = ?", contentID).First(&frames).Error; err == nil {
		detail.FrameSet = &frames
	}
	if err := s.db.WithContext(ctx).Where("content_id = ?", contentID).Order("created_at asc").Find(&detail.Jobs).Error; err != nil {
		return nil, fmt.Errorf("failed to load jobs for content %d: %w", contentID, err)
	}

	return detail, nil
}

// StatusSnapshot is the cheap polling view of a content's progress, cached
// briefly in Redis because status pages hammer it.
type StatusSnapshot struct {
	ContentID uint                `json:"content_id"`
	Status    model.ContentStatus `json:"status"`
	Error     string              `json:"error,omitempty"`
	Jobs      []JobProgress       `json:"jobs"`
	FetchedAt time.Time           `json:"fetched_at"`
}

// JobProgress is one job's progress line in a snapshot.
type JobProgress struct {
	ID       uint            `json:"id"`
	Type     model.JobType   `json:"type"`
	Status   model.JobStatus `json:"status"`
	Percent  int             `json:"percent"`
	Message  string          `json:"message,omitempty"`
	Attempts int             `json:"attempts"`
}

const snapshotTTL = 2 * time.Second

// Snapshot returns the content's processing state, served from cache when a
// fresh copy exists.
func (s *ContentService) Snapshot(ctx context.Context, userID, contentID uint) (*StatusSnapshot, error) {
	cacheKey := fmt.Sprintf("content:%d:snapshot", contentID)

	if s.cache != nil {
		var cached StatusSnapshot
		if err := s.cache.GetJSON(ctx, cacheKey, &cached); err == nil {
			return &cached, nil
		}
	}

	content, err := s.Get(ctx, userID, contentID)
	if err != nil {
		return nil, err
	}

	var jobs []model.Job
	if err := s.db.WithContext(ctx).Where("content_id = ?", contentID).Order("created_at asc").Find(&jobs).Error; err != nil {
		return nil, fmt.Errorf("failed to load jobs for content %d: %w", contentID, err)
	}

	snapshot := &StatusSnapshot{
		ContentID: content.ID,
		Status:    content.Status,
		Error:     content.ErrorMessage,
		FetchedAt: time.Now(),
	}
	for _, j := range jobs {
		snapshot.Jobs = append(snapshot.Jobs, JobProgress{
			ID:       j.ID,
			Type:     j.Type,
			Status:   j.Status,
			Percent:  j.ProgressPercent,
			Message:  j.ProgressMessage,
			Attempts: j.AttemptCount,
		})
	}

	if s.cache != nil {
		if err := s.cache.SetJSON(ctx, cacheKey, snapshot, snapshotTTL); err != nil {
			log.Printf("Content: failed to cache snapshot for content %d: %v", contentID, err)
		}
	}
	return snapshot, nil
}

// Delete removes a content, its derived objects in Spaces and, via cascade,
// its jobs and artifacts.
func (s *ContentService) Delete(ctx context.Context, userID, contentID uint) error {
	content, err := s.Get(ctx, userID, contentID)
	if err != nil {
		return err
	}

	if content.SpacesKey != "" {
		if err := s.spaces.DeleteFile(ctx, content.SpacesKey); err != nil {
			log.Printf("Content: failed to delete original object for content %d: %v", contentID, err)
		}
	}
	if err := s.spaces.DeletePrefix(ctx, fmt.Sprintf("derived/%d/", contentID)); err != nil {
		log.Printf("Content: failed to delete derived objects for content %d: %v", contentID, err)
	}

	if err := s.db.WithContext(ctx).Select("Jobs").Delete(content).Error; err != nil {
		return fmt.Errorf("failed to delete content %d: %w", contentID, err)
	}
	log.Printf("Content: user %d deleted content %d", userID, contentID)
	return nil
}

// Reprocess discards the affected derived artifacts and re-runs the pipeline
// from the given stage (ReprocessAll or empty for the whole plan).
func (s *ContentService) Reprocess(ctx context.Context, userID, contentID uint, fromStage model.JobType) (*model.Content, string, error) {
	content, err := s.Get(ctx, userID, contentID)
	if err != nil {
		return nil, "", err
	}

	result, err := s.pipeline.EnqueueReprocess(ctx, content, fromStage)
	if err != nil {
		return nil, "", err
	}
	s.executor.RunPipelineDetached(result.RunID)

	return content, result.RunID, nil
}
