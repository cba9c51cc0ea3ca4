package router

import (
	"log"
	"os"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/sahilchouksey/mediavault-api/config"
	"github.com/sahilchouksey/mediavault-api/database"
	"github.com/sahilchouksey/mediavault-api/handlers"
	connector_handlers "github.com/sahilchouksey/mediavault-api/handlers/connector"
	content_handlers "github.com/sahilchouksey/mediavault-api/handlers/content"
	job_handlers "github.com/sahilchouksey/mediavault-api/handlers/jobs"
	"github.com/sahilchouksey/mediavault-api/services"
	"github.com/sahilchouksey/mediavault-api/services/digitalocean"
	"github.com/sahilchouksey/mediavault-api/utils/auth"
	"github.com/sahilchouksey/mediavault-api/utils/cache"
	"github.com/sahilchouksey/mediavault-api/utils/middleware"
	"gorm.io/gorm"
)

// SetupRoutes wires every service and handler and registers the HTTP routes.
// It returns the executor and pipeline service so the cron manager can share
// them with the HTTP path.
func SetupRoutes(app *fiber.App, store database.Storage) (*services.PipelineExecutor, *services.PipelineService) {
	getEnv, err := config.Get()
	if err != nil {
		log.Fatal("Failed to read environment configuration:", err)
	}

	if getEnv.JWT_SECRET == "" {
		log.Fatal("JWT_SECRET environment variable is not set")
	}

	jwtIssuer := getEnv.JWT_ISSUER
	if jwtIssuer == "" {
		jwtIssuer = "mediavault-identity"
	}

	jwtManager := auth.NewJWTManager(auth.JWTConfig{
		Secret: getEnv.JWT_SECRET,
		Issuer: jwtIssuer,
	})
	authMiddleware := middleware.NewAuthMiddleware(jwtManager)

	// Get DB instance (type assert from interface)
	db, ok := store.GetDB().(*gorm.DB)
	if !ok {
		log.Fatal("Failed to get GORM DB instance")
	}

	// Redis cache for content status snapshots. Optional: the content
	// service falls back to hitting Postgres when nil.
	redisURL := getEnv.REDIS_URL
	if redisURL == "" {
		redisURL = "redis://localhost:6379/0"
	}
	redisCache, err := cache.NewRedisCache(redisURL)
	if err != nil {
		log.Printf("Warning: Failed to connect to Redis: %v. Status snapshot caching disabled.", err)
	}

	// DigitalOcean clients: Spaces for objects, serverless inference for
	// transcription, doc generation and embeddings.
	spacesClient, err := digitalocean.NewSpacesClientFromEnv()
	if err != nil {
		log.Fatal("Failed to initialize Spaces client:", err)
	}
	inferenceClient := digitalocean.NewClient(digitalocean.Config{
		APIKey: getEnv.DO_INFERENCE_API_KEY,
	})

	if getEnv.CONNECTOR_SECRET == "" {
		log.Fatal("CONNECTOR_SECRET environment variable is not set")
	}

	// Pipeline core. Construction order matters: handlers register against
	// the registry before the executor runs anything.
	streams := services.NewStreamManager()
	registry := services.NewJobRegistry()
	pipelineService := services.NewPipelineService(db, streams, getEnv.PIPELINE_MAX_ATTEMPTS)
	executor := services.NewPipelineExecutor(db, registry, streams, services.ExecutorConfig{
		BackoffBase:    getEnv.PIPELINE_BACKOFF_BASE,
		BackoffCap:     getEnv.PIPELINE_BACKOFF_CAP,
		HandlerTimeout: getEnv.PIPELINE_HANDLER_TIMEOUT,
	})
	connectorService := services.NewConnectorService(db, pipelineService, getEnv.CONNECTOR_SECRET)

	stageHandlers := services.NewStageHandlers(db, spacesClient, inferenceClient, pipelineService, connectorService)
	stageHandlers.RegisterAll(registry)

	contentService := services.NewContentService(db, spacesClient, redisCache, pipelineService, executor)
	jobService := services.NewJobService(db, registry, streams, executor)

	contentHandler := content_handlers.NewContentHandler(contentService, streams)
	jobHandler := job_handlers.NewJobHandler(jobService, pipelineService)
	connectorHandler := connector_handlers.NewConnectorHandler(connectorService, pipelineService)

	// Apply security middleware
	allowedOrigins := os.Getenv("ALLOWED_ORIGINS")
	if allowedOrigins == "" {
		allowedOrigins = "http://localhost:3000,http://localhost:3001"
	}
	middleware.SetupSecurity(app, middleware.SecurityConfig{
		AllowedOrigins:    allowedOrigins,
		RateLimitRequests: 100,
		RateLimitWindow:   time.Minute,
	})

	app.Get("/health", func(c *fiber.Ctx) error { return handlers.HandleCheckHealth(c, store) })

	api := app.Group("/api/v1")

	// ==================== Content ====================

	contents := api.Group("/contents", authMiddleware.Required())
	contents.Post("/", contentHandler.Create)              // Upload media/document or create a note
	contents.Get("/", contentHandler.List)                 // List own content
	contents.Get("/:id", contentHandler.Get)               // Content detail with artifacts and jobs
	contents.Get("/:id/status", contentHandler.Status)     // Cached processing snapshot
	contents.Get("/:id/stream", contentHandler.Stream)     // SSE progress stream
	contents.Post("/:id/reprocess", contentHandler.Reprocess)
	contents.Delete("/:id", contentHandler.Delete)

	// ==================== Jobs ====================

	jobs := api.Group("/jobs", authMiddleware.Required())
	jobs.Get("/", jobHandler.List)                                           // Own jobs (admin: all)
	jobs.Get("/metrics", authMiddleware.RequireAdmin(), jobHandler.Metrics)  // Admin: queue metrics
	jobs.Get("/:id", jobHandler.Get)
	jobs.Post("/:id/retry", jobHandler.Retry) // Re-run a failed job

	api.Post("/exports", authMiddleware.Required(), jobHandler.RequestExport) // Async user data export

	// ==================== Connectors ====================

	connectors := api.Group("/connectors", authMiddleware.Required())
	connectors.Post("/", connectorHandler.Create)
	connectors.Get("/", connectorHandler.List)
	connectors.Delete("/:id", connectorHandler.Delete)
	connectors.Post("/:id/sync", connectorHandler.Sync) // On-demand sync

	// Webhook ingestion (token-authenticated like everything else; external
	// services push through a relay that holds a user token)
	connectors.Post("/:id/webhook", connectorHandler.Webhook)

	return executor, pipelineService
}
