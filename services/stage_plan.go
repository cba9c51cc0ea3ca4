package services

import (
	"github.com/sahilchouksey/mediavault-api/model"
)

// PlanStages maps a content's type and file format to the ordered list of
// pipeline stages it must pass through. It is a pure function and total over
// all inputs: unrecognized combinations yield an empty plan, which callers
// treat as "ready with no further processing".
func PlanStages(contentType model.ContentType, fileType model.FileType) []model.JobType {
	switch contentType {
	case model.ContentTypeRecording:
		switch fileType {
		case model.FileTypeMP4, model.FileTypeMOV:
			return []model.JobType{
				model.JobTypeExtractAudio,
				model.JobTypeTranscribe,
				model.JobTypeDocGenerate,
				model.JobTypeGenerateEmbeddings,
			}
		case model.FileTypeMP3, model.FileTypeWAV:
			return []model.JobType{
				model.JobTypeTranscribe,
				model.JobTypeDocGenerate,
				model.JobTypeGenerateEmbeddings,
			}
		}
	case model.ContentTypeDocument:
		switch fileType {
		case model.FileTypePDF:
			return []model.JobType{
				model.JobTypeExtractTextPDF,
				model.JobTypeGenerateEmbeddings,
			}
		case model.FileTypeDOCX:
			return []model.JobType{
				model.JobTypeExtractTextDOCX,
				model.JobTypeGenerateEmbeddings,
			}
		}
	case model.ContentTypeNote:
		switch fileType {
		case model.FileTypeTXT, model.FileTypeMD:
			return []model.JobType{
				model.JobTypeProcessTextNote,
				model.JobTypeGenerateEmbeddings,
			}
		}
	case model.ContentTypeImport:
		switch fileType {
		case model.FileTypeHTML, model.FileTypeMD, model.FileTypeTXT:
			return []model.JobType{
				model.JobTypeProcessImportedDoc,
				model.JobTypeGenerateEmbeddings,
			}
		}
	}

	return nil
}

// IsVideoFileType reports whether frames can be extracted from the file.
// Video recordings additionally get a standalone extract_frames job outside
// the ordered chain; it is picked up by the background poller.
func IsVideoFileType(fileType model.FileType) bool {
	return fileType == model.FileTypeMP4 || fileType == model.FileTypeMOV
}

// IsPipelineStage reports whether a job type belongs to an ordered content
// pipeline. Standalone jobs (frame extraction, connector syncs, webhooks,
// exports) run outside any chain and never drive the content status.
func IsPipelineStage(jobType model.JobType) bool {
	switch jobType {
	case model.JobTypeExtractAudio,
		model.JobTypeTranscribe,
		model.JobTypeExtractTextPDF,
		model.JobTypeExtractTextDOCX,
		model.JobTypeProcessTextNote,
		model.JobTypeProcessImportedDoc,
		model.JobTypeDocGenerate,
		model.JobTypeGenerateEmbeddings:
		return true
	}
	return false
}

// StageIndexOf returns the position of a stage within a plan, -1 if absent
func StageIndexOf(plan []model.JobType, stage model.JobType) int {
	for i, t := range plan {
		if t == stage {
			return i
		}
	}
	return -1
}

// StatusForStageStart returns the coarse content status to show while the
// given stage is running. The second return is false when the stage does not
// change the user-facing status.
func StatusForStageStart(jobType model.JobType) (model.ContentStatus, bool) {
	switch jobType {
	case model.JobTypeExtractAudio,
		model.JobTypeTranscribe,
		model.JobTypeExtractTextPDF,
		model.JobTypeExtractTextDOCX,
		model.JobTypeProcessTextNote,
		model.JobTypeProcessImportedDoc:
		return model.ContentStatusTranscribing, true
	case model.JobTypeDocGenerate:
		return model.ContentStatusDocGenerating, true
	}
	return "", false
}

// StatusForStageDone returns the coarse content status once the given stage
// has completed. Intermediate stages that don't change the user-facing
// status return false; pipeline completion is handled separately.
func StatusForStageDone(jobType model.JobType) (model.ContentStatus, bool) {
	switch jobType {
	case model.JobTypeTranscribe,
		model.JobTypeExtractTextPDF,
		model.JobTypeExtractTextDOCX,
		model.JobTypeProcessTextNote,
		model.JobTypeProcessImportedDoc:
		return model.ContentStatusTranscribed, true
	}
	return "", false
}
