package connector

import (
	"strconv"

	"github.com/gofiber/fiber/v2"
	"github.com/sahilchouksey/mediavault-api/model"
	"github.com/sahilchouksey/mediavault-api/services"
	"github.com/sahilchouksey/mediavault-api/utils/middleware"
	"github.com/sahilchouksey/mediavault-api/utils/response"
	"github.com/sahilchouksey/mediavault-api/utils/validation"
)

// ConnectorHandler exposes external-source management over HTTP
type ConnectorHandler struct {
	connectorService *services.ConnectorService
	pipelineService  *services.PipelineService
	validator        *validation.Validator
}

// NewConnectorHandler creates a new connector handler
func NewConnectorHandler(connectorService *services.ConnectorService, pipelineService *services.PipelineService) *ConnectorHandler {
	return &ConnectorHandler{
		connectorService: connectorService,
		pipelineService:  pipelineService,
		validator:        validation.NewValidator(),
	}
}

// CreateConnectorRequest is the JSON body for connector registration
type CreateConnectorRequest struct {
	Provider    string `json:"provider" validate:"required,oneof=notion readwise pocket rss"`
	Label       string `json:"label" validate:"max=120"`
	Token       string `json:"token,omitempty"`
	ConsumerKey string `json:"consumer_key,omitempty"`
	AccessToken string `json:"access_token,omitempty"`
	FeedURL     string `json:"feed_url,omitempty" validate:"omitempty,url"`
}

// Create handles POST /api/v1/connectors
func (h *ConnectorHandler) Create(c *fiber.Ctx) error {
	userID := middleware.UserID(c)
	if userID == 0 {
		return response.Unauthorized(c, "User not authenticated")
	}

	var req CreateConnectorRequest
	if err := c.BodyParser(&req); err != nil {
		return response.BadRequest(c, "Invalid request body")
	}
	if err := h.validator.ValidateStruct(req); err != nil {
		return response.ValidationError(c, err)
	}

	connector, err := h.connectorService.CreateConnector(c.Context(), userID,
		model.ConnectorProvider(req.Provider),
		validation.SanitizeString(req.Label),
		services.ConnectorCredentials{
			Token:       req.Token,
			ConsumerKey: req.ConsumerKey,
			AccessToken: req.AccessToken,
			FeedURL:     req.FeedURL,
		})
	if err != nil {
		return response.BadRequest(c, err.Error())
	}
	return response.Created(c, connector)
}

// List handles GET /api/v1/connectors
func (h *ConnectorHandler) List(c *fiber.Ctx) error {
	userID := middleware.UserID(c)
	if userID == 0 {
		return response.Unauthorized(c, "User not authenticated")
	}

	connectors, err := h.connectorService.ListConnectors(c.Context(), userID)
	if err != nil {
		return response.InternalServerError(c, err.Error())
	}
	return response.Success(c, connectors)
}

// Delete handles DELETE /api/v1/connectors/:id
func (h *ConnectorHandler) Delete(c *fiber.Ctx) error {
	userID := middleware.UserID(c)
	if userID == 0 {
		return response.Unauthorized(c, "User not authenticated")
	}
	connectorID, err := parseID(c)
	if err != nil {
		return response.BadRequest(c, "Invalid connector ID")
	}

	if err := h.connectorService.DeleteConnector(c.Context(), userID, connectorID); err != nil {
		return response.NotFound(c, err.Error())
	}
	return response.SuccessWithMessage(c, "Connector deleted", fiber.Map{"id": connectorID})
}

// Sync handles POST /api/v1/connectors/:id/sync
// Enqueues an on-demand sync instead of waiting for the hourly schedule.
func (h *ConnectorHandler) Sync(c *fiber.Ctx) error {
	userID := middleware.UserID(c)
	if userID == 0 {
		return response.Unauthorized(c, "User not authenticated")
	}
	connectorID, err := parseID(c)
	if err != nil {
		return response.BadRequest(c, "Invalid connector ID")
	}

	if _, err := h.connectorService.GetConnector(c.Context(), userID, connectorID); err != nil {
		return response.NotFound(c, err.Error())
	}

	job, err := h.pipelineService.EnqueueStandalone(c.Context(), model.JobTypeSyncConnector, userID, 0,
		map[string]interface{}{"connector_id": connectorID})
	if err != nil {
		return response.InternalServerError(c, err.Error())
	}
	return response.Accepted(c, "Sync started", fiber.Map{"job_id": job.ID})
}

// WebhookRequest is the JSON body providers push document events with
type WebhookRequest struct {
	Title  string `json:"title" validate:"max=255"`
	Body   string `json:"body" validate:"required,min=1"`
	Format string `json:"format" validate:"omitempty,oneof=html md txt"`
	URL    string `json:"url" validate:"omitempty,url"`
}

// Webhook handles POST /api/v1/connectors/:id/webhook
// Accepts a pushed document and processes it through the job pipeline so
// the provider gets an immediate 202 regardless of processing time.
func (h *ConnectorHandler) Webhook(c *fiber.Ctx) error {
	userID := middleware.UserID(c)
	if userID == 0 {
		return response.Unauthorized(c, "User not authenticated")
	}
	connectorID, err := parseID(c)
	if err != nil {
		return response.BadRequest(c, "Invalid connector ID")
	}

	connector, err := h.connectorService.GetConnector(c.Context(), userID, connectorID)
	if err != nil {
		return response.NotFound(c, err.Error())
	}

	var req WebhookRequest
	if err := c.BodyParser(&req); err != nil {
		return response.BadRequest(c, "Invalid request body")
	}
	if err := h.validator.ValidateStruct(req); err != nil {
		return response.ValidationError(c, err)
	}

	job, err := h.pipelineService.EnqueueStandalone(c.Context(), model.JobTypeProcessWebhook, connector.UserID, 0,
		map[string]interface{}{
			"connector_id": connectorID,
			"title":        validation.SanitizeString(req.Title),
			"body":         req.Body,
			"format":       req.Format,
			"url":          req.URL,
		})
	if err != nil {
		return response.InternalServerError(c, err.Error())
	}
	return response.Accepted(c, "Webhook accepted", fiber.Map{"job_id": job.ID})
}

func parseID(c *fiber.Ctx) (uint, error) {
	id, err := strconv.ParseUint(c.Params("id"), 10, 32)
	if err != nil {
		return 0, err
	}
	return uint(id), nil
}
