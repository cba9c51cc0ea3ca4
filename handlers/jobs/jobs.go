package jobs

import (
	"strconv"

	"github.com/gofiber/fiber/v2"
	"github.com/sahilchouksey/mediavault-api/model"
	"github.com/sahilchouksey/mediavault-api/services"
	"github.com/sahilchouksey/mediavault-api/utils/middleware"
	queryHelper "github.com/sahilchouksey/mediavault-api/utils/query"
	"github.com/sahilchouksey/mediavault-api/utils/response"
)

// JobHandler exposes the job observability and admin surface
type JobHandler struct {
	jobService      *services.JobService
	pipelineService *services.PipelineService
}

// NewJobHandler creates a new job handler
func NewJobHandler(jobService *services.JobService, pipelineService *services.PipelineService) *JobHandler {
	return &JobHandler{
		jobService:      jobService,
		pipelineService: pipelineService,
	}
}

// List handles GET /api/v1/jobs
// Users see their own jobs; admins can pass user_id=0 to see everything.
func (h *JobHandler) List(c *fiber.Ctx) error {
	claims, ok := middleware.GetClaims(c)
	if !ok {
		return response.Unauthorized(c, "User not authenticated")
	}

	filter := services.JobFilter{
		Status: model.JobStatus(c.Query("status")),
		Type:   model.JobType(c.Query("type")),
		UserID: claims.UserID,
	}
	if contentID, err := strconv.ParseUint(c.Query("content_id"), 10, 32); err == nil {
		filter.ContentID = uint(contentID)
	}
	if claims.Role == "admin" && c.Query("user_id") == "0" {
		filter.UserID = 0
	}

	page := queryHelper.ParsePagination(c)
	jobs, total, err := h.jobService.ListJobs(c.Context(), filter, page)
	if err != nil {
		return response.InternalServerError(c, err.Error())
	}

	return response.Paginated(c, jobs, response.CalculatePagination(page.Page, page.Limit, total))
}

// Get handles GET /api/v1/jobs/:id
func (h *JobHandler) Get(c *fiber.Ctx) error {
	claims, ok := middleware.GetClaims(c)
	if !ok {
		return response.Unauthorized(c, "User not authenticated")
	}
	jobID, err := strconv.ParseUint(c.Params("id"), 10, 32)
	if err != nil {
		return response.BadRequest(c, "Invalid job ID")
	}

	job, err := h.jobService.GetJob(c.Context(), uint(jobID))
	if err != nil {
		return response.NotFound(c, err.Error())
	}
	if job.UserID != claims.UserID && claims.Role != "admin" {
		return response.Forbidden(c, "Access denied")
	}
	return response.Success(c, job)
}

// Metrics handles GET /api/v1/jobs/metrics (admin only, enforced in router)
func (h *JobHandler) Metrics(c *fiber.Ctx) error {
	metrics, err := h.jobService.Metrics(c.Context())
	if err != nil {
		return response.InternalServerError(c, err.Error())
	}
	return response.Success(c, metrics)
}

// Retry handles POST /api/v1/jobs/:id/retry
// Requeues a failed job that still has attempts left.
func (h *JobHandler) Retry(c *fiber.Ctx) error {
	claims, ok := middleware.GetClaims(c)
	if !ok {
		return response.Unauthorized(c, "User not authenticated")
	}
	jobID, err := strconv.ParseUint(c.Params("id"), 10, 32)
	if err != nil {
		return response.BadRequest(c, "Invalid job ID")
	}

	job, err := h.jobService.GetJob(c.Context(), uint(jobID))
	if err != nil {
		return response.NotFound(c, err.Error())
	}
	if job.UserID != claims.UserID && claims.Role != "admin" {
		return response.Forbidden(c, "Access denied")
	}

	retried, err := h.jobService.RetryJob(c.Context(), uint(jobID))
	if err != nil {
		return response.BadRequest(c, err.Error())
	}
	return response.Accepted(c, "Job requeued", retried)
}

// RequestExport handles POST /api/v1/exports
// Enqueues a background export of everything the user owns; the job result
// carries the presigned download link.
func (h *JobHandler) RequestExport(c *fiber.Ctx) error {
	userID := middleware.UserID(c)
	if userID == 0 {
		return response.Unauthorized(c, "User not authenticated")
	}

	job, err := h.pipelineService.EnqueueStandalone(c.Context(), model.JobTypeExportUserData, userID, 0, nil)
	if err != nil {
		return response.InternalServerError(c, err.Error())
	}

	return response.Accepted(c, "Export started, poll the job for the download link", fiber.Map{
		"job_id": job.ID,
	})
}
