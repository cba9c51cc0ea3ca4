package main

import (
	"fmt"
	"log"
	"strings"

	"github.com/joho/godotenv"
	"github.com/sahilchouksey/mediavault-api/database"
	"github.com/sahilchouksey/mediavault-api/model"
	"gorm.io/gorm"
)

func main() {
	// Load environment variables
	if err := godotenv.Load(); err != nil {
		log.Println("Warning: .env file not found, using system environment variables")
	}

	// Initialize database connection using GORM
	store, err := database.StartGORM()
	if err != nil {
		log.Fatalf("Failed to connect to database: %v", err)
	}
	defer store.Close()

	if err := store.Init(); err != nil {
		log.Fatalf("Failed to run migrations: %v", err)
	}

	gormDB := store.GetDB().(*gorm.DB)

	separator := strings.Repeat("=", 60)
	fmt.Println(separator)
	fmt.Println("MediaVault - Database Seeding")
	fmt.Println(separator)
	fmt.Println()

	if err := seedDemoContent(gormDB); err != nil {
		log.Fatalf("Seeding failed: %v", err)
	}

	fmt.Println()
	fmt.Println(separator)
	fmt.Println("Seeding completed successfully!")
	fmt.Println(separator)
}

// seedDemoContent creates a few completed content rows so a fresh install
// has something to show. Idempotent: re-runs skip existing titles.
func seedDemoContent(db *gorm.DB) error {
	demos := []model.Content{
		{
			UserID:   1,
			Title:    "Welcome note",
			Type:     model.ContentTypeNote,
			FileType: model.FileTypeMD,
			Body:     "# Welcome to MediaVault\n\nUpload a recording or document to see the processing pipeline in action.",
			Status:   model.ContentStatusCompleted,
		},
		{
			UserID:   1,
			Title:    "Getting started",
			Type:     model.ContentTypeNote,
			FileType: model.FileTypeTXT,
			Body:     "Recordings are transcribed, summarized into documents and embedded for search.",
			Status:   model.ContentStatusCompleted,
		},
	}

	for _, demo := range demos {
		var count int64
		if err := db.Model(&model.Content{}).
			Where("user_id = ? AND title = ?", demo.UserID, demo.Title).
			Count(&count).Error; err != nil {
			return err
		}
		if count > 0 {
			fmt.Printf("  - %q already exists, skipping\n", demo.Title)
			continue
		}
		if err := db.Create(&demo).Error; err != nil {
			return fmt.Errorf("failed to create %q: %w", demo.Title, err)
		}
		fmt.Printf("  - created %q\n", demo.Title)
	}
	return nil
}
