package services

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/google/uuid"
	"github.com/sahilchouksey/mediavault-api/model"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

// PipelineService plans and enqueues pipeline runs. Execution is handled by
// PipelineExecutor; this service only creates job rows and keeps the content
// status in step with what it enqueued.
type PipelineService struct {
	db          *gorm.DB
	streams     *StreamManager
	maxAttempts int
}

// NewPipelineService creates a new pipeline service. maxAttempts is the
// retry budget stamped on every job it enqueues; values below 1 fall back
// to the default.
func NewPipelineService(db *gorm.DB, streams *StreamManager, maxAttempts int) *PipelineService {
	if maxAttempts < 1 {
		maxAttempts = model.DefaultMaxAttempts
	}
	return &PipelineService{
		db:          db,
		streams:     streams,
		maxAttempts: maxAttempts,
	}
}

// ReprocessAll asks EnqueueReprocess to restart the complete plan.
const ReprocessAll model.JobType = "all"

// EnqueueResult describes what EnqueuePipeline created.
type EnqueueResult struct {
	RunID   string       `json:"run_id,omitempty"`
	Jobs    []*model.Job `json:"jobs"`
	Skipped []string     `json:"skipped,omitempty"` // dedupe keys already outstanding
}

// EnqueuePipeline plans the stage chain for a content item and inserts one
// pending job per stage, all sharing a fresh run ID. Stages whose natural
// dedupe key already has a non-terminal job are skipped rather than
// duplicated. An empty plan is not an error: the content is simply marked
// completed with nothing to do.
func (s *PipelineService) EnqueuePipeline(ctx context.Context, content *model.Content) (*EnqueueResult, error) {
	if content == nil {
		return nil, fmt.Errorf("enqueue pipeline: content is nil")
	}
	if !content.IsProcessable() {
		return nil, fmt.Errorf("content %d is still uploading", content.ID)
	}

	plan := PlanStages(content.Type, content.FileType)
	if len(plan) == 0 {
		// Nothing to run for this type/format combination.
		if err := s.db.WithContext(ctx).Model(&model.Content{}).
			Where("id = ?", content.ID).
			Update("status", model.ContentStatusCompleted).Error; err != nil {
			return nil, fmt.Errorf("failed to mark content %d completed: %w", content.ID, err)
		}
		log.Printf("Pipeline: content %d (%s/%s) has no stages, marked completed", content.ID, content.Type, content.FileType)
		return &EnqueueResult{Jobs: []*model.Job{}}, nil
	}

	result := &EnqueueResult{RunID: uuid.New().String()}
	now := time.Now()

	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		for i, stage := range plan {
			key := model.NaturalDedupeKey(stage, content.ID)
			outstanding, err := outstandingJobExists(tx, key)
			if err != nil {
				return err
			}
			if outstanding {
				result.Skipped = append(result.Skipped, key)
				continue
			}

			job := &model.Job{
				Type:        stage,
				Status:      model.JobStatusPending,
				RunID:       result.RunID,
				StageIndex:  i,
				StageTotal:  len(plan),
				ContentID:   content.ID,
				UserID:      content.UserID,
				MaxAttempts: s.maxAttempts,
				DedupeKey:   key,
				RunAfter:    now,
			}
			if err := tx.Create(job).Error; err != nil {
				return fmt.Errorf("failed to enqueue %s for content %d: %w", stage, content.ID, err)
			}
			result.Jobs = append(result.Jobs, job)
		}

		// Video recordings also get a frame extraction job outside the chain;
		// it runs whenever the poller picks it up.
		if content.Type == model.ContentTypeRecording && IsVideoFileType(content.FileType) {
			key := model.NaturalDedupeKey(model.JobTypeExtractFrames, content.ID)
			outstanding, err := outstandingJobExists(tx, key)
			if err != nil {
				return err
			}
			if !outstanding {
				job := &model.Job{
					Type:        model.JobTypeExtractFrames,
					Status:      model.JobStatusPending,
					RunID:       uuid.New().String(),
					StageIndex:  0,
					StageTotal:  1,
					ContentID:   content.ID,
					UserID:      content.UserID,
					MaxAttempts: s.maxAttempts,
					DedupeKey:   key,
					RunAfter:    now,
				}
				if err := tx.Create(job).Error; err != nil {
					return fmt.Errorf("failed to enqueue extract_frames for content %d: %w", content.ID, err)
				}
				result.Jobs = append(result.Jobs, job)
			} else {
				result.Skipped = append(result.Skipped, key)
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	log.Printf("Pipeline: enqueued run %s for content %d (%d jobs, %d skipped)",
		result.RunID, content.ID, len(result.Jobs), len(result.Skipped))
	return result, nil
}

// EnqueueReprocess enqueues a forced re-run. Jobs are keyed with a unique
// reprocess token so terminal jobs from earlier runs never block the insert.
// fromStage scopes the run: an empty value or ReprocessAll restarts the whole
// plan, a stage name restarts from that stage onward, keeping earlier stages'
// artifacts in place.
func (s *PipelineService) EnqueueReprocess(ctx context.Context, content *model.Content, fromStage model.JobType) (*EnqueueResult, error) {
	if content == nil {
		return nil, fmt.Errorf("enqueue reprocess: content is nil")
	}
	if !content.IsProcessable() {
		return nil, fmt.Errorf("content %d is still uploading", content.ID)
	}

	plan := PlanStages(content.Type, content.FileType)
	if len(plan) == 0 {
		return nil, fmt.Errorf("content %d (%s/%s) has no processing pipeline", content.ID, content.Type, content.FileType)
	}

	fromIndex := 0
	if fromStage != "" && fromStage != ReprocessAll {
		fromIndex = StageIndexOf(plan, fromStage)
		if fromIndex == -1 {
			return nil, fmt.Errorf("stage %s is not part of the pipeline for content %d", fromStage, content.ID)
		}
	}
	stages := plan[fromIndex:]

	result := &EnqueueResult{RunID: uuid.New().String()}
	token := uuid.New().String()
	now := time.Now()

	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		// Clear the derived artifacts the restarted stages will regenerate,
		// so stale output cannot leak into the new run. Earlier stages'
		// artifacts stay: their jobs are not re-run.
		for _, stage := range stages {
			if err := deleteStageArtifacts(tx, stage, content.ID); err != nil {
				return err
			}
		}

		if err := tx.Model(&model.Content{}).Where("id = ?", content.ID).Updates(map[string]interface{}{
			"status":        statusBeforeStage(plan, fromIndex),
			"error_message": "",
		}).Error; err != nil {
			return fmt.Errorf("failed to reset content %d status: %w", content.ID, err)
		}

		for i, stage := range stages {
			job := &model.Job{
				Type:        stage,
				Status:      model.JobStatusPending,
				RunID:       result.RunID,
				StageIndex:  i,
				StageTotal:  len(stages),
				ContentID:   content.ID,
				UserID:      content.UserID,
				MaxAttempts: s.maxAttempts,
				DedupeKey:   model.ReprocessDedupeKey(stage, content.ID, token),
				RunAfter:    now,
			}
			if err := tx.Create(job).Error; err != nil {
				return fmt.Errorf("failed to enqueue %s reprocess for content %d: %w", stage, content.ID, err)
			}
			result.Jobs = append(result.Jobs, job)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	log.Printf("Pipeline: enqueued reprocess run %s for content %d (%d jobs, from stage %s)",
		result.RunID, content.ID, len(result.Jobs), stages[0])
	return result, nil
}

// deleteStageArtifacts removes the derived row a stage writes, if any.
func deleteStageArtifacts(tx *gorm.DB, stage model.JobType, contentID uint) error {
	var target interface{}
	switch stage {
	case model.JobTypeTranscribe,
		model.JobTypeExtractTextPDF,
		model.JobTypeExtractTextDOCX,
		model.JobTypeProcessTextNote,
		model.JobTypeProcessImportedDoc:
		target = &model.Transcript{}
	case model.JobTypeDocGenerate:
		target = &model.GeneratedDoc{}
	case model.JobTypeGenerateEmbeddings:
		target = &model.Embedding{}
	default:
		return nil
	}
	if err := tx.Where("content_id = ?", contentID).Delete(target).Error; err != nil {
		return fmt.Errorf("failed to clear %s artifacts for content %d: %w", stage, contentID, err)
	}
	return nil
}

// statusBeforeStage is the content status appropriate for re-running the
// pipeline from the given stage: the done-status of the nearest earlier
// status-bearing stage, or uploaded for a full restart.
func statusBeforeStage(plan []model.JobType, fromIndex int) model.ContentStatus {
	for i := fromIndex - 1; i >= 0; i-- {
		if status, ok := StatusForStageDone(plan[i]); ok {
			return status
		}
	}
	return model.ContentStatusUploaded
}

// EnqueueStandalone inserts a single pending job with no stage chain. Used
// for connector syncs, webhook processing and data exports. contentID may be
// zero for jobs not tied to a content item.
func (s *PipelineService) EnqueueStandalone(ctx context.Context, jobType model.JobType, userID, contentID uint, payload map[string]interface{}) (*model.Job, error) {
	key := fmt.Sprintf("%s:user:%d:%s", jobType, userID, uuid.New().String())
	if contentID != 0 {
		key = model.NaturalDedupeKey(jobType, contentID)
		outstanding, err := outstandingJobExists(s.db.WithContext(ctx), key)
		if err != nil {
			return nil, err
		}
		if outstanding {
			return nil, fmt.Errorf("a %s job is already outstanding for content %d", jobType, contentID)
		}
	}

	job := &model.Job{
		Type:        jobType,
		Status:      model.JobStatusPending,
		RunID:       uuid.New().String(),
		StageIndex:  0,
		StageTotal:  1,
		ContentID:   contentID,
		UserID:      userID,
		Payload:     datatypes.JSONMap(payload),
		MaxAttempts: s.maxAttempts,
		DedupeKey:   key,
		RunAfter:    time.Now(),
	}
	if err := s.db.WithContext(ctx).Create(job).Error; err != nil {
		return nil, fmt.Errorf("failed to enqueue %s job: %w", jobType, err)
	}

	log.Printf("Pipeline: enqueued standalone %s job %d for user %d", jobType, job.ID, userID)
	return job, nil
}

// outstandingJobExists reports whether a non-terminal job already holds the
// given dedupe key.
func outstandingJobExists(tx *gorm.DB, dedupeKey string) (bool, error) {
	var count int64
	err := tx.Model(&model.Job{}).
		Where("dedupe_key = ? AND status IN ?", dedupeKey, []model.JobStatus{model.JobStatusPending, model.JobStatusProcessing}).
		Count(&count).Error
	if err != nil {
		return false, fmt.Errorf("failed to check outstanding jobs for key %s: %w", dedupeKey, err)
	}
	return count > 0, nil
}
