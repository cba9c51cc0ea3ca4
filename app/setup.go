package app

import (
	"fmt"
	"os"

	"github.com/sahilchouksey/mediavault-api/api"
	"github.com/sahilchouksey/mediavault-api/config"
	"github.com/sahilchouksey/mediavault-api/database"
	"github.com/sahilchouksey/mediavault-api/router"
	"github.com/sahilchouksey/mediavault-api/services/cron"
	"gorm.io/gorm"
)

func SetupAndRunServer() error {

	// Load ENV
	if err := config.LoadENV(); err != nil {
		return err
	}

	getEnv, err := config.Get()
	if err != nil {
		return err
	}

	// Initialize GORM database connection
	store, err := database.StartGORM()
	if err != nil {
		print("Check whether the Postgres is running or not\n")
		print("If not running, run the following command:\n")
		print("  make docker-up   (for Docker setup)\n")
		print("  make db-up       (for local PostgreSQL)\n")
		return err
	}
	defer store.Close()

	// Run migrations
	if err := store.Init(); err != nil {
		return err
	}

	server := api.NewAPIServer(fmt.Sprintf(":%d", getEnv.PORT), store)
	app := server.GetEngine()

	// Setup routes and build the pipeline services. The executor and
	// pipeline service are shared with the cron manager below so the
	// poller and the HTTP path run the same code.
	executor, pipelineService := router.SetupRoutes(app, store)

	// Background scheduler: due-job poller, stale reclaim, connector
	// syncs and retention cleanup. Disable with CRON_ENABLED=false.
	if os.Getenv("CRON_ENABLED") != "false" {
		db, ok := store.GetDB().(*gorm.DB)
		if !ok {
			return fmt.Errorf("failed to get GORM DB instance for cron manager")
		}
		cronManager := cron.NewCronManager(db, executor, pipelineService)
		if err := cronManager.Start(); err != nil {
			return err
		}
		defer cronManager.Stop()
	}

	// Get the PORT & Start the Server
	return server.Run()
}
