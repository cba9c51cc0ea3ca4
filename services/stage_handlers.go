package services

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/sahilchouksey/mediavault-api/model"
	"github.com/sahilchouksey/mediavault-api/services/digitalocean"
	"gorm.io/datatypes"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// StageHandlers implements every pipeline stage and standalone job. One
// instance is built at startup and registered into the job registry.
type StageHandlers struct {
	db        *gorm.DB
	spaces    *digitalocean.SpacesClient
	inference *digitalocean.Client
	media     *MediaExtractor
	text      *TextExtractor
	pipeline  *PipelineService
	connector *ConnectorService
}

// NewStageHandlers creates the handler set
func NewStageHandlers(db *gorm.DB, spaces *digitalocean.SpacesClient, inference *digitalocean.Client, pipeline *PipelineService, connector *ConnectorService) *StageHandlers {
	return &StageHandlers{
		db:        db,
		spaces:    spaces,
		inference: inference,
		media:     NewMediaExtractor(),
		text:      NewTextExtractor(),
		pipeline:  pipeline,
		connector: connector,
	}
}

// RegisterAll binds every handler to its job type.
func (h *StageHandlers) RegisterAll(registry *JobRegistry) {
	registry.Register(model.JobTypeExtractAudio, h.HandleExtractAudio)
	registry.Register(model.JobTypeTranscribe, h.HandleTranscribe)
	registry.Register(model.JobTypeExtractTextPDF, h.HandleExtractTextPDF)
	registry.Register(model.JobTypeExtractTextDOCX, h.HandleExtractTextDOCX)
	registry.Register(model.JobTypeProcessTextNote, h.HandleProcessTextNote)
	registry.Register(model.JobTypeProcessImportedDoc, h.HandleProcessImportedDoc)
	registry.Register(model.JobTypeDocGenerate, h.HandleDocGenerate)
	registry.Register(model.JobTypeGenerateEmbeddings, h.HandleGenerateEmbeddings)
	registry.Register(model.JobTypeExtractFrames, h.HandleExtractFrames)
	registry.Register(model.JobTypeSyncConnector, h.HandleSyncConnector)
	registry.Register(model.JobTypeProcessWebhook, h.HandleProcessWebhook)
	registry.Register(model.JobTypeExportUserData, h.HandleExportUserData)
}

// derivedAudioKey is where extract_audio parks the stripped audio track.
func derivedAudioKey(contentID uint) string {
	return fmt.Sprintf("derived/%d/audio.mp3", contentID)
}

func derivedFrameKey(contentID uint, frameName string) string {
	return fmt.Sprintf("derived/%d/frames/%s", contentID, frameName)
}

// loadContent fetches the job's content row. A missing content is fatal:
// the row was deleted while the job sat in the queue.
func (h *StageHandlers) loadContent(ctx context.Context, job *model.Job) (*model.Content, error) {
	if job.ContentID == 0 {
		return nil, NewFatalError(fmt.Errorf("job %d has no content", job.ID))
	}
	var content model.Content
	if err := h.db.WithContext(ctx).First(&content, job.ContentID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, NewFatalError(fmt.Errorf("content %d no longer exists", job.ContentID))
		}
		return nil, fmt.Errorf("failed to load content %d: %w", job.ContentID, err)
	}
	return &content, nil
}

// HandleExtractAudio strips the audio track from a video recording and
// uploads it next to the original. Re-running simply overwrites the object.
func (h *StageHandlers) HandleExtractAudio(ctx context.Context, job *model.Job, report ProgressFunc) (map[string]interface{}, error) {
	content, err := h.loadContent(ctx, job)
	if err != nil {
		return nil, err
	}
	if content.SpacesKey == "" {
		return nil, NewFatalError(fmt.Errorf("content %d has no stored file", content.ID))
	}

	workdir, err := TempWorkdir(job.ID)
	if err != nil {
		return nil, err
	}
	defer os.RemoveAll(workdir)

	localVideo := filepath.Join(workdir, "input"+filepath.Ext(content.SpacesKey))
	report(5, "downloading video")
	if err := h.spaces.DownloadToFile(ctx, content.SpacesKey, localVideo); err != nil {
		return nil, err
	}

	localAudio := filepath.Join(workdir, "audio.mp3")
	duration, err := h.media.ExtractAudio(ctx, localVideo, localAudio, func(percent int, message string) {
		// Reserve the tail of the bar for the upload.
		report(5+percent*85/100, message)
	})
	if err != nil {
		return nil, err
	}

	report(92, "uploading audio track")
	audioKey := derivedAudioKey(content.ID)
	if _, err := h.spaces.UploadLocalFile(ctx, audioKey, localAudio, "audio/mpeg"); err != nil {
		return nil, err
	}

	if duration > 0 {
		h.db.WithContext(ctx).Model(&model.Content{}).Where("id = ?", content.ID).
			Update("duration_seconds", int(duration))
	}

	return map[string]interface{}{
		"audio_key":        audioKey,
		"duration_seconds": duration,
	}, nil
}

// HandleTranscribe sends the content's audio to the transcription API and
// stores the transcript. If a transcript already exists (a previous attempt
// finished the work but crashed before the job transition), it is reused.
func (h *StageHandlers) HandleTranscribe(ctx context.Context, job *model.Job, report ProgressFunc) (map[string]interface{}, error) {
	content, err := h.loadContent(ctx, job)
	if err != nil {
		return nil, err
	}

	var existing model.Transcript
	err = h.db.WithContext(ctx).Where("content_id = ?", content.ID).First(&existing).Error
	if err == nil && existing.Text != "" {
		log.Printf("Stage: content %d already has a transcript, reusing", content.ID)
		return map[string]interface{}{
			"transcript_id": existing.ID,
			"chars":         len(existing.Text),
			"reused":        true,
		}, nil
	}
	if err != nil && !errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, fmt.Errorf("failed to check existing transcript: %w", err)
	}

	audioKey := content.SpacesKey
	filename := filepath.Base(content.SpacesKey)
	if IsVideoFileType(content.FileType) {
		audioKey = derivedAudioKey(content.ID)
		filename = "audio.mp3"
	}
	if audioKey == "" {
		return nil, NewFatalError(fmt.Errorf("content %d has no audio source", content.ID))
	}

	report(10, "downloading audio")
	audio, err := h.spaces.DownloadFile(ctx, audioKey)
	if err != nil {
		return nil, err
	}

	report(30, "transcribing audio")
	result, err := h.inference.TranscribeAudio(ctx, filename, bytes.NewReader(audio))
	if err != nil {
		return nil, err
	}

	report(85, "saving transcript")
	segments, err := json.Marshal(result.Segments)
	if err != nil {
		return nil, fmt.Errorf("failed to encode transcript segments: %w", err)
	}

	transcript := model.Transcript{
		ContentID: content.ID,
		Text:      result.Text,
		Language:  result.Language,
		Segments:  datatypes.JSON(segments),
		Provider:  digitalocean.DefaultWhisperModel,
	}
	err = h.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "content_id"}},
		DoUpdates: clause.AssignmentColumns([]string{"text", "language", "segments", "provider", "updated_at"}),
	}).Create(&transcript).Error
	if err != nil {
		return nil, fmt.Errorf("failed to save transcript: %w", err)
	}

	if content.DurationSeconds == 0 && result.Duration > 0 {
		h.db.WithContext(ctx).Model(&model.Content{}).Where("id = ?", content.ID).
			Update("duration_seconds", int(result.Duration))
	}

	return map[string]interface{}{
		"transcript_id": transcript.ID,
		"chars":         len(result.Text),
		"language":      result.Language,
	}, nil
}

// saveExtractedText stores document text as the content's transcript row.
func (h *StageHandlers) saveExtractedText(ctx context.Context, contentID uint, text, provider string) (*model.Transcript, error) {
	transcript := model.Transcript{
		ContentID: contentID,
		Text:      text,
		Provider:  provider,
	}
	err := h.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "content_id"}},
		DoUpdates: clause.AssignmentColumns([]string{"text", "provider", "updated_at"}),
	}).Create(&transcript).Error
	if err != nil {
		return nil, fmt.Errorf("failed to save extracted text: %w", err)
	}
	return &transcript, nil
}

// HandleExtractTextPDF pulls the text out of an uploaded PDF.
func (h *StageHandlers) HandleExtractTextPDF(ctx context.Context, job *model.Job, report ProgressFunc) (map[string]interface{}, error) {
	content, err := h.loadContent(ctx, job)
	if err != nil {
		return nil, err
	}
	if content.SpacesKey == "" {
		return nil, NewFatalError(fmt.Errorf("content %d has no stored file", content.ID))
	}

	report(10, "downloading document")
	raw, err := h.spaces.DownloadFile(ctx, content.SpacesKey)
	if err != nil {
		return nil, err
	}

	report(40, "extracting text")
	text, pages, err := h.text.ExtractPDF(raw)
	if err != nil {
		// A PDF that cannot be parsed will not parse better on retry.
		return nil, NewFatalError(err)
	}

	report(85, "saving text")
	transcript, err := h.saveExtractedText(ctx, content.ID, text, "pdf-extract")
	if err != nil {
		return nil, err
	}
	h.db.WithContext(ctx).Model(&model.Content{}).Where("id = ?", content.ID).
		Update("page_count", pages)

	return map[string]interface{}{
		"transcript_id": transcript.ID,
		"chars":         len(text),
		"pages":         pages,
	}, nil
}

// HandleExtractTextDOCX pulls the paragraph text out of an uploaded DOCX.
func (h *StageHandlers) HandleExtractTextDOCX(ctx context.Context, job *model.Job, report ProgressFunc) (map[string]interface{}, error) {
	content, err := h.loadContent(ctx, job)
	if err != nil {
		return nil, err
	}
	if content.SpacesKey == "" {
		return nil, NewFatalError(fmt.Errorf("content %d has no stored file", content.ID))
	}

	report(10, "downloading document")
	raw, err := h.spaces.DownloadFile(ctx, content.SpacesKey)
	if err != nil {
		return nil, err
	}

	report(40, "extracting text")
	text, err := h.text.ExtractDOCX(raw)
	if err != nil {
		return nil, NewFatalError(err)
	}

	report(85, "saving text")
	transcript, err := h.saveExtractedText(ctx, content.ID, text, "docx-extract")
	if err != nil {
		return nil, err
	}

	return map[string]interface{}{
		"transcript_id": transcript.ID,
		"chars":         len(text),
	}, nil
}

// HandleProcessTextNote normalizes a plain text note into the transcript
// row the downstream stages read from. Notes keep their text inline in the
// content body; file-backed notes are fetched from Spaces.
func (h *StageHandlers) HandleProcessTextNote(ctx context.Context, job *model.Job, report ProgressFunc) (map[string]interface{}, error) {
	content, err := h.loadContent(ctx, job)
	if err != nil {
		return nil, err
	}

	text := strings.TrimSpace(content.Body)
	if text == "" && content.SpacesKey != "" {
		report(20, "downloading note")
		raw, err := h.spaces.DownloadFile(ctx, content.SpacesKey)
		if err != nil {
			return nil, err
		}
		text = strings.TrimSpace(string(raw))
	}
	if text == "" {
		return nil, NewFatalError(fmt.Errorf("content %d has no note text", content.ID))
	}

	report(70, "saving text")
	transcript, err := h.saveExtractedText(ctx, content.ID, text, "note")
	if err != nil {
		return nil, err
	}

	return map[string]interface{}{
		"transcript_id": transcript.ID,
		"chars":         len(text),
	}, nil
}

// HandleProcessImportedDoc cleans up a connector-imported article. HTML
// imports are stripped to visible text; markdown and plain text pass through.
func (h *StageHandlers) HandleProcessImportedDoc(ctx context.Context, job *model.Job, report ProgressFunc) (map[string]interface{}, error) {
	content, err := h.loadContent(ctx, job)
	if err != nil {
		return nil, err
	}

	raw := content.Body
	if raw == "" && content.SpacesKey != "" {
		report(20, "downloading import")
		data, err := h.spaces.DownloadFile(ctx, content.SpacesKey)
		if err != nil {
			return nil, err
		}
		raw = string(data)
	}
	if strings.TrimSpace(raw) == "" {
		return nil, NewFatalError(fmt.Errorf("content %d has no imported body", content.ID))
	}

	text := raw
	if content.FileType == model.FileTypeHTML {
		report(50, "stripping markup")
		text, err = h.text.ExtractHTML([]byte(raw))
		if err != nil {
			return nil, NewFatalError(err)
		}
	}

	report(80, "saving text")
	transcript, err := h.saveExtractedText(ctx, content.ID, text, "import")
	if err != nil {
		return nil, err
	}

	return map[string]interface{}{
		"transcript_id": transcript.ID,
		"chars":         len(text),
	}, nil
}

// docGenerateSystemPrompt frames the structured-document generation call.
const docGenerateSystemPrompt = `You are a precise note-taking assistant. Given a raw transcript, produce a well-structured markdown document with:
- a one-paragraph summary
- an outline of the main topics with key points under each
- an "Action Items" section listing concrete follow-ups, or "None" if there are none
Use only information present in the transcript. Do not invent details.`

// HandleDocGenerate builds the structured markdown document from the
// content's transcript. A missing transcript is fatal: this stage only runs
// after a transcription stage reported success, so its absence means the
// data was removed out from under the pipeline.
func (h *StageHandlers) HandleDocGenerate(ctx context.Context, job *model.Job, report ProgressFunc) (map[string]interface{}, error) {
	content, err := h.loadContent(ctx, job)
	if err != nil {
		return nil, err
	}

	var transcript model.Transcript
	err = h.db.WithContext(ctx).Where("content_id = ?", content.ID).First(&transcript).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, NewFatalError(fmt.Errorf("content %d has no transcript to generate from", content.ID))
		}
		return nil, fmt.Errorf("failed to load transcript for content %d: %w", content.ID, err)
	}
	if strings.TrimSpace(transcript.Text) == "" {
		return nil, NewFatalError(fmt.Errorf("content %d transcript is empty", content.ID))
	}

	report(20, "generating document")
	prompt := fmt.Sprintf("Title: %s\n\nTranscript:\n%s", content.Title, transcript.Text)
	markdown, err := h.inference.SimpleCompletion(ctx, docGenerateSystemPrompt, prompt,
		digitalocean.WithMaxTokens(8192))
	if err != nil {
		return nil, err
	}
	if strings.TrimSpace(markdown) == "" {
		return nil, fmt.Errorf("document generation returned empty output")
	}

	report(85, "saving document")
	doc := model.GeneratedDoc{
		ContentID: content.ID,
		Title:     content.Title,
		Markdown:  markdown,
		Model:     digitalocean.DefaultChatModel,
	}
	err = h.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "content_id"}},
		DoUpdates: clause.AssignmentColumns([]string{"title", "markdown", "model", "updated_at"}),
	}).Create(&doc).Error
	if err != nil {
		return nil, fmt.Errorf("failed to save generated doc: %w", err)
	}

	return map[string]interface{}{
		"doc_id": doc.ID,
		"chars":  len(markdown),
		"model":  doc.Model,
	}, nil
}

// embeddingBatchSize bounds how many chunks go to the API per call.
const embeddingBatchSize = 16

// HandleGenerateEmbeddings chunks the content's canonical text and stores
// one vector per chunk. Existing embeddings are replaced wholesale so a
// re-run never leaves a mix of old and new vectors.
func (h *StageHandlers) HandleGenerateEmbeddings(ctx context.Context, job *model.Job, report ProgressFunc) (map[string]interface{}, error) {
	content, err := h.loadContent(ctx, job)
	if err != nil {
		return nil, err
	}

	var transcript model.Transcript
	err = h.db.WithContext(ctx).Where("content_id = ?", content.ID).First(&transcript).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, NewFatalError(fmt.Errorf("content %d has no text to embed", content.ID))
		}
		return nil, fmt.Errorf("failed to load transcript for content %d: %w", content.ID, err)
	}

	chunks := ChunkText(transcript.Text, 2000)
	if len(chunks) == 0 {
		return nil, NewFatalError(fmt.Errorf("content %d text produced no chunks", content.ID))
	}

	// Embed all batches first so a provider failure leaves the old vectors
	// untouched.
	vectors := make([][]float64, 0, len(chunks))
	for start := 0; start < len(chunks); start += embeddingBatchSize {
		end := start + embeddingBatchSize
		if end > len(chunks) {
			end = len(chunks)
		}
		report(10+start*70/len(chunks), fmt.Sprintf("embedding chunks %d-%d of %d", start+1, end, len(chunks)))

		batch, err := h.inference.Embeddings(ctx, chunks[start:end])
		if err != nil {
			return nil, err
		}
		vectors = append(vectors, batch...)
	}

	report(85, "saving embeddings")
	err = h.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("content_id = ?", content.ID).Delete(&model.Embedding{}).Error; err != nil {
			return fmt.Errorf("failed to clear old embeddings: %w", err)
		}
		for i, chunk := range chunks {
			encoded, err := json.Marshal(vectors[i])
			if err != nil {
				return fmt.Errorf("failed to encode vector %d: %w", i, err)
			}
			row := model.Embedding{
				ContentID:  content.ID,
				ChunkIndex: i,
				ChunkText:  chunk,
				Vector:     datatypes.JSON(encoded),
				Model:      digitalocean.DefaultEmbeddingModel,
			}
			if err := tx.Create(&row).Error; err != nil {
				return fmt.Errorf("failed to save embedding %d: %w", i, err)
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	return map[string]interface{}{
		"chunks": len(chunks),
		"model":  digitalocean.DefaultEmbeddingModel,
	}, nil
}

// frameIntervalSeconds is how far apart preview frames are sampled.
const frameIntervalSeconds = 30

// HandleExtractFrames samples preview frames from a video. Frame uploads
// are a partial batch: a failed frame is counted and skipped, and the job
// succeeds as long as at least one frame made it up.
func (h *StageHandlers) HandleExtractFrames(ctx context.Context, job *model.Job, report ProgressFunc) (map[string]interface{}, error) {
	content, err := h.loadContent(ctx, job)
	if err != nil {
		return nil, err
	}
	if !IsVideoFileType(content.FileType) {
		return nil, NewFatalError(fmt.Errorf("content %d is not a video", content.ID))
	}
	if content.SpacesKey == "" {
		return nil, NewFatalError(fmt.Errorf("content %d has no stored file", content.ID))
	}

	workdir, err := TempWorkdir(job.ID)
	if err != nil {
		return nil, err
	}
	defer os.RemoveAll(workdir)

	localVideo := filepath.Join(workdir, "input"+filepath.Ext(content.SpacesKey))
	report(5, "downloading video")
	if err := h.spaces.DownloadToFile(ctx, content.SpacesKey, localVideo); err != nil {
		return nil, err
	}

	framesDir := filepath.Join(workdir, "frames")
	if err := os.MkdirAll(framesDir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create frames dir: %w", err)
	}

	framePaths, err := h.media.ExtractFrames(ctx, localVideo, framesDir, frameIntervalSeconds, func(percent int, message string) {
		report(5+percent*55/100, message)
	})
	if err != nil {
		return nil, err
	}

	var frameKeys []string
	failed := 0
	for i, path := range framePaths {
		report(60+i*35/len(framePaths), fmt.Sprintf("uploading frame %d of %d", i+1, len(framePaths)))
		key := derivedFrameKey(content.ID, filepath.Base(path))
		if _, err := h.spaces.UploadLocalFile(ctx, key, path, "image/jpeg"); err != nil {
			log.Printf("Stage: frame upload failed for content %d (%s): %v", content.ID, key, err)
			failed++
			continue
		}
		frameKeys = append(frameKeys, key)
	}
	if len(frameKeys) == 0 {
		return nil, fmt.Errorf("all %d frame uploads failed", len(framePaths))
	}

	encoded, err := json.Marshal(frameKeys)
	if err != nil {
		return nil, fmt.Errorf("failed to encode frame keys: %w", err)
	}
	frameSet := model.FrameSet{
		ContentID:   content.ID,
		FrameKeys:   datatypes.JSON(encoded),
		FrameCount:  len(frameKeys),
		FailedCount: failed,
	}
	err = h.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "content_id"}},
		DoUpdates: clause.AssignmentColumns([]string{"frame_keys", "frame_count", "failed_count", "updated_at"}),
	}).Create(&frameSet).Error
	if err != nil {
		return nil, fmt.Errorf("failed to save frame set: %w", err)
	}

	return map[string]interface{}{
		"frame_count":  len(frameKeys),
		"failed_count": failed,
	}, nil
}

// HandleSyncConnector pulls new items from an external source and enqueues a
// pipeline run for each imported content.
func (h *StageHandlers) HandleSyncConnector(ctx context.Context, job *model.Job, report ProgressFunc) (map[string]interface{}, error) {
	connectorID, ok := payloadUint(job.Payload, "connector_id")
	if !ok {
		return nil, NewFatalError(fmt.Errorf("sync job %d has no connector_id", job.ID))
	}
	return h.connector.Sync(ctx, connectorID, report)
}

// HandleProcessWebhook turns a pushed webhook payload into imported content.
func (h *StageHandlers) HandleProcessWebhook(ctx context.Context, job *model.Job, report ProgressFunc) (map[string]interface{}, error) {
	connectorID, ok := payloadUint(job.Payload, "connector_id")
	if !ok {
		return nil, NewFatalError(fmt.Errorf("webhook job %d has no connector_id", job.ID))
	}
	return h.connector.ProcessWebhook(ctx, connectorID, job.Payload, report)
}

// exportURLTTL is how long a data-export download link stays valid.
const exportURLTTL = 24 * time.Hour

// exportBundle is the shape of the JSON written to Spaces.
type exportBundle struct {
	UserID      uint                 `json:"user_id"`
	GeneratedAt time.Time            `json:"generated_at"`
	Contents    []model.Content      `json:"contents"`
	Transcripts []model.Transcript   `json:"transcripts"`
	Docs        []model.GeneratedDoc `json:"generated_docs"`
}

// HandleExportUserData bundles everything a user owns into a JSON file in
// Spaces and returns a presigned download link in the job result.
func (h *StageHandlers) HandleExportUserData(ctx context.Context, job *model.Job, report ProgressFunc) (map[string]interface{}, error) {
	bundle := exportBundle{
		UserID:      job.UserID,
		GeneratedAt: time.Now(),
	}

	report(10, "collecting contents")
	if err := h.db.WithContext(ctx).Where("user_id = ?", job.UserID).Find(&bundle.Contents).Error; err != nil {
		return nil, fmt.Errorf("failed to collect contents: %w", err)
	}

	contentIDs := make([]uint, 0, len(bundle.Contents))
	for _, c := range bundle.Contents {
		contentIDs = append(contentIDs, c.ID)
	}

	if len(contentIDs) > 0 {
		report(40, "collecting transcripts")
		if err := h.db.WithContext(ctx).Where("content_id IN ?", contentIDs).Find(&bundle.Transcripts).Error; err != nil {
			return nil, fmt.Errorf("failed to collect transcripts: %w", err)
		}
		if err := h.db.WithContext(ctx).Where("content_id IN ?", contentIDs).Find(&bundle.Docs).Error; err != nil {
			return nil, fmt.Errorf("failed to collect generated docs: %w", err)
		}
	}

	report(70, "uploading export")
	encoded, err := json.MarshalIndent(bundle, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("failed to encode export: %w", err)
	}

	key := fmt.Sprintf("exports/%d/%d.json", job.UserID, time.Now().Unix())
	if _, err := h.spaces.UploadBytes(ctx, key, encoded, "application/json"); err != nil {
		return nil, err
	}

	url, err := h.spaces.GetPresignedURL(key, exportURLTTL)
	if err != nil {
		return nil, err
	}

	return map[string]interface{}{
		"export_key":   key,
		"download_url": url,
		"contents":     len(bundle.Contents),
		"expires_at":   time.Now().Add(exportURLTTL),
	}, nil
}

// payloadUint reads a numeric payload field. JSON round-tripping turns
// numbers into float64, so both forms are accepted.
func payloadUint(payload datatypes.JSONMap, key string) (uint, bool) {
	if payload == nil {
		return 0, false
	}
	switch v := payload[key].(type) {
	case float64:
		if v < 0 {
			return 0, false
		}
		return uint(v), true
	case int:
		if v < 0 {
			return 0, false
		}
		return uint(v), true
	case uint:
		return v, true
	}
	return 0, false
}
