package content

import (
	"mime/multipart"
	"strconv"

	"github.com/gofiber/fiber/v2"
	"github.com/sahilchouksey/mediavault-api/model"
	"github.com/sahilchouksey/mediavault-api/services"
	"github.com/sahilchouksey/mediavault-api/utils/middleware"
	queryHelper "github.com/sahilchouksey/mediavault-api/utils/query"
	"github.com/sahilchouksey/mediavault-api/utils/response"
	"github.com/sahilchouksey/mediavault-api/utils/validation"
)

// ContentHandler exposes the content lifecycle over HTTP
type ContentHandler struct {
	contentService *services.ContentService
	streams        *services.StreamManager
	validator      *validation.Validator
}

// NewContentHandler creates a new content handler
func NewContentHandler(contentService *services.ContentService, streams *services.StreamManager) *ContentHandler {
	return &ContentHandler{
		contentService: contentService,
		streams:        streams,
		validator:      validation.NewValidator(),
	}
}

// CreateNoteRequest is the JSON body for inline note creation
type CreateNoteRequest struct {
	Title    string `json:"title" validate:"required,min=1,max=255"`
	FileType string `json:"file_type" validate:"required,oneof=txt md"`
	Body     string `json:"body" validate:"required,min=1"`
}

// Create handles POST /api/v1/contents
// Multipart requests carry a file upload; JSON requests create a note.
func (h *ContentHandler) Create(c *fiber.Ctx) error {
	userID := middleware.UserID(c)
	if userID == 0 {
		return response.Unauthorized(c, "User not authenticated")
	}

	if file, err := c.FormFile("file"); err == nil {
		return h.createUpload(c, userID, file)
	}

	var req CreateNoteRequest
	if err := c.BodyParser(&req); err != nil {
		return response.BadRequest(c, "Invalid request body")
	}
	req.Title = validation.SanitizeString(req.Title)
	if err := h.validator.ValidateStruct(req); err != nil {
		return response.ValidationError(c, err)
	}

	content, runID, err := h.contentService.CreateNote(c.Context(), userID, req.Title, model.FileType(req.FileType), req.Body)
	if err != nil {
		return response.BadRequest(c, err.Error())
	}

	return response.Accepted(c, "Note created, processing started", fiber.Map{
		"content": content,
		"run_id":  runID,
	})
}

func (h *ContentHandler) createUpload(c *fiber.Ctx, userID uint, header *multipart.FileHeader) error {
	title := validation.SanitizeString(c.FormValue("title"))
	if title == "" {
		title = header.Filename
	}

	contentType := model.ContentType(c.FormValue("type"))
	fileType := model.FileType(c.FormValue("file_type"))
	if contentType == "" || fileType == "" {
		return response.BadRequest(c, "type and file_type form fields are required")
	}

	file, err := header.Open()
	if err != nil {
		return response.InternalServerError(c, "Failed to open uploaded file")
	}
	defer file.Close()

	content, runID, err := h.contentService.CreateUpload(c.Context(), userID, title, contentType, fileType, file, header)
	if err != nil {
		return response.BadRequest(c, err.Error())
	}

	return response.Accepted(c, "Upload stored, processing started", fiber.Map{
		"content": content,
		"run_id":  runID,
	})
}

// List handles GET /api/v1/contents
func (h *ContentHandler) List(c *fiber.Ctx) error {
	userID := middleware.UserID(c)
	if userID == 0 {
		return response.Unauthorized(c, "User not authenticated")
	}

	filter := services.ContentFilter{
		Type:   model.ContentType(c.Query("type")),
		Status: model.ContentStatus(c.Query("status")),
	}
	page := queryHelper.ParsePagination(c)

	contents, total, err := h.contentService.List(c.Context(), userID, filter, page)
	if err != nil {
		return response.InternalServerError(c, err.Error())
	}

	return response.Paginated(c, contents, response.CalculatePagination(page.Page, page.Limit, total))
}

// Get handles GET /api/v1/contents/:id
func (h *ContentHandler) Get(c *fiber.Ctx) error {
	userID := middleware.UserID(c)
	if userID == 0 {
		return response.Unauthorized(c, "User not authenticated")
	}
	contentID, err := parseID(c)
	if err != nil {
		return response.BadRequest(c, "Invalid content ID")
	}

	detail, err := h.contentService.GetDetail(c.Context(), userID, contentID)
	if err != nil {
		return response.NotFound(c, err.Error())
	}
	return response.Success(c, detail)
}

// Status handles GET /api/v1/contents/:id/status
// A cheap polling endpoint for clients that don't hold an event stream open.
func (h *ContentHandler) Status(c *fiber.Ctx) error {
	userID := middleware.UserID(c)
	if userID == 0 {
		return response.Unauthorized(c, "User not authenticated")
	}
	contentID, err := parseID(c)
	if err != nil {
		return response.BadRequest(c, "Invalid content ID")
	}

	snapshot, err := h.contentService.Snapshot(c.Context(), userID, contentID)
	if err != nil {
		return response.NotFound(c, err.Error())
	}
	return response.Success(c, snapshot)
}

// Delete handles DELETE /api/v1/contents/:id
func (h *ContentHandler) Delete(c *fiber.Ctx) error {
	userID := middleware.UserID(c)
	if userID == 0 {
		return response.Unauthorized(c, "User not authenticated")
	}
	contentID, err := parseID(c)
	if err != nil {
		return response.BadRequest(c, "Invalid content ID")
	}

	if err := h.contentService.Delete(c.Context(), userID, contentID); err != nil {
		return response.NotFound(c, err.Error())
	}
	return response.SuccessWithMessage(c, "Content deleted", fiber.Map{"id": contentID})
}

// ReprocessRequest scopes a reprocess run. from_stage defaults to "all".
type ReprocessRequest struct {
	FromStage string `json:"from_stage"`
}

// Reprocess handles POST /api/v1/contents/:id/reprocess
// Discards the affected derived artifacts and re-runs the pipeline, either
// in full or from a named stage onward.
func (h *ContentHandler) Reprocess(c *fiber.Ctx) error {
	userID := middleware.UserID(c)
	if userID == 0 {
		return response.Unauthorized(c, "User not authenticated")
	}
	contentID, err := parseID(c)
	if err != nil {
		return response.BadRequest(c, "Invalid content ID")
	}

	var req ReprocessRequest
	if len(c.Body()) > 0 {
		if err := c.BodyParser(&req); err != nil {
			return response.BadRequest(c, "Invalid request body")
		}
	}
	fromStage := services.ReprocessAll
	if req.FromStage != "" {
		fromStage = model.JobType(req.FromStage)
	}

	content, runID, err := h.contentService.Reprocess(c.Context(), userID, contentID, fromStage)
	if err != nil {
		return response.BadRequest(c, err.Error())
	}

	return response.Accepted(c, "Reprocessing started", fiber.Map{
		"content": content,
		"run_id":  runID,
	})
}

func parseID(c *fiber.Ctx) (uint, error) {
	id, err := strconv.ParseUint(c.Params("id"), 10, 32)
	if err != nil {
		return 0, err
	}
	return uint(id), nil
}
