package services

import (
	"testing"

	"github.com/sahilchouksey/mediavault-api/model"
)

func TestPlanStages(t *testing.T) {
	tests := []struct {
		name        string
		contentType model.ContentType
		fileType    model.FileType
		want        []model.JobType
	}{
		{
			name:        "video recording",
			contentType: model.ContentTypeRecording,
			fileType:    model.FileTypeMP4,
			want: []model.JobType{
				model.JobTypeExtractAudio,
				model.JobTypeTranscribe,
				model.JobTypeDocGenerate,
				model.JobTypeGenerateEmbeddings,
			},
		},
		{
			name:        "mov recording",
			contentType: model.ContentTypeRecording,
			fileType:    model.FileTypeMOV,
			want: []model.JobType{
				model.JobTypeExtractAudio,
				model.JobTypeTranscribe,
				model.JobTypeDocGenerate,
				model.JobTypeGenerateEmbeddings,
			},
		},
		{
			name:        "audio recording skips extraction",
			contentType: model.ContentTypeRecording,
			fileType:    model.FileTypeMP3,
			want: []model.JobType{
				model.JobTypeTranscribe,
				model.JobTypeDocGenerate,
				model.JobTypeGenerateEmbeddings,
			},
		},
		{
			name:        "pdf document",
			contentType: model.ContentTypeDocument,
			fileType:    model.FileTypePDF,
			want: []model.JobType{
				model.JobTypeExtractTextPDF,
				model.JobTypeGenerateEmbeddings,
			},
		},
		{
			name:        "docx document",
			contentType: model.ContentTypeDocument,
			fileType:    model.FileTypeDOCX,
			want: []model.JobType{
				model.JobTypeExtractTextDOCX,
				model.JobTypeGenerateEmbeddings,
			},
		},
		{
			name:        "markdown note",
			contentType: model.ContentTypeNote,
			fileType:    model.FileTypeMD,
			want: []model.JobType{
				model.JobTypeProcessTextNote,
				model.JobTypeGenerateEmbeddings,
			},
		},
		{
			name:        "imported html article",
			contentType: model.ContentTypeImport,
			fileType:    model.FileTypeHTML,
			want: []model.JobType{
				model.JobTypeProcessImportedDoc,
				model.JobTypeGenerateEmbeddings,
			},
		},
		{
			name:        "unknown combination yields empty plan",
			contentType: model.ContentTypeDocument,
			fileType:    model.FileTypeMP4,
			want:        nil,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := PlanStages(tt.contentType, tt.fileType)
			if len(got) != len(tt.want) {
				t.Fatalf("PlanStages(%s, %s) = %v, want %v", tt.contentType, tt.fileType, got, tt.want)
			}
			for i := range got {
				if got[i] != tt.want[i] {
					t.Errorf("stage %d = %s, want %s", i, got[i], tt.want[i])
				}
			}
		})
	}
}

func TestPlanStagesAlwaysEndsWithEmbeddings(t *testing.T) {
	combos := []struct {
		contentType model.ContentType
		fileType    model.FileType
	}{
		{model.ContentTypeRecording, model.FileTypeMP4},
		{model.ContentTypeRecording, model.FileTypeWAV},
		{model.ContentTypeDocument, model.FileTypePDF},
		{model.ContentTypeDocument, model.FileTypeDOCX},
		{model.ContentTypeNote, model.FileTypeTXT},
		{model.ContentTypeImport, model.FileTypeMD},
	}
	for _, combo := range combos {
		plan := PlanStages(combo.contentType, combo.fileType)
		if len(plan) == 0 {
			t.Fatalf("expected a plan for %s/%s", combo.contentType, combo.fileType)
		}
		if plan[len(plan)-1] != model.JobTypeGenerateEmbeddings {
			t.Errorf("plan for %s/%s ends with %s, want generate_embeddings",
				combo.contentType, combo.fileType, plan[len(plan)-1])
		}
	}
}

func TestIsPipelineStage(t *testing.T) {
	standalone := []model.JobType{
		model.JobTypeExtractFrames,
		model.JobTypeSyncConnector,
		model.JobTypeProcessWebhook,
		model.JobTypeExportUserData,
	}
	for _, jt := range standalone {
		if IsPipelineStage(jt) {
			t.Errorf("%s should not be a pipeline stage", jt)
		}
	}

	chained := []model.JobType{
		model.JobTypeExtractAudio,
		model.JobTypeTranscribe,
		model.JobTypeDocGenerate,
		model.JobTypeGenerateEmbeddings,
		model.JobTypeProcessImportedDoc,
	}
	for _, jt := range chained {
		if !IsPipelineStage(jt) {
			t.Errorf("%s should be a pipeline stage", jt)
		}
	}
}

func TestStageIndexOf(t *testing.T) {
	plan := PlanStages(model.ContentTypeRecording, model.FileTypeMP4)

	if idx := StageIndexOf(plan, model.JobTypeTranscribe); idx != 1 {
		t.Errorf("StageIndexOf(transcribe) = %d, want 1", idx)
	}
	if idx := StageIndexOf(plan, model.JobTypeExtractFrames); idx != -1 {
		t.Errorf("StageIndexOf(extract_frames) = %d, want -1", idx)
	}
}

func TestStatusForStage(t *testing.T) {
	if status, ok := StatusForStageStart(model.JobTypeTranscribe); !ok || status != model.ContentStatusTranscribing {
		t.Errorf("StatusForStageStart(transcribe) = %s/%v, want transcribing/true", status, ok)
	}
	if status, ok := StatusForStageStart(model.JobTypeDocGenerate); !ok || status != model.ContentStatusDocGenerating {
		t.Errorf("StatusForStageStart(doc_generate) = %s/%v, want doc_generating/true", status, ok)
	}
	if _, ok := StatusForStageStart(model.JobTypeGenerateEmbeddings); ok {
		t.Error("generate_embeddings should not change the content status on start")
	}
	if _, ok := StatusForStageStart(model.JobTypeExtractFrames); ok {
		t.Error("extract_frames should never drive the content status")
	}

	if status, ok := StatusForStageDone(model.JobTypeExtractTextPDF); !ok || status != model.ContentStatusTranscribed {
		t.Errorf("StatusForStageDone(extract_text_pdf) = %s/%v, want transcribed/true", status, ok)
	}
	if _, ok := StatusForStageDone(model.JobTypeExtractAudio); ok {
		t.Error("extract_audio completion should not change the content status")
	}
}

func TestStatusBeforeStage(t *testing.T) {
	plan := PlanStages(model.ContentTypeRecording, model.FileTypeMP4)

	if got := statusBeforeStage(plan, 0); got != model.ContentStatusUploaded {
		t.Errorf("full restart status = %s, want uploaded", got)
	}
	// Restarting doc_generate: transcription already exists.
	if got := statusBeforeStage(plan, StageIndexOf(plan, model.JobTypeDocGenerate)); got != model.ContentStatusTranscribed {
		t.Errorf("doc_generate restart status = %s, want transcribed", got)
	}
	if got := statusBeforeStage(plan, StageIndexOf(plan, model.JobTypeGenerateEmbeddings)); got != model.ContentStatusTranscribed {
		t.Errorf("embeddings restart status = %s, want transcribed", got)
	}
}

func TestIsVideoFileType(t *testing.T) {
	if !IsVideoFileType(model.FileTypeMP4) || !IsVideoFileType(model.FileTypeMOV) {
		t.Error("mp4 and mov are video file types")
	}
	if IsVideoFileType(model.FileTypeMP3) || IsVideoFileType(model.FileTypePDF) {
		t.Error("mp3 and pdf are not video file types")
	}
}
