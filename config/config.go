package config

import (
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

// This function will Load the ENVIORNMENT VARIABLES from .env if GO_ENV variable is not set
func LoadENV() error {
	goEnv := os.Getenv("GO_ENV")

	if goEnv == "" || goEnv == "development" {
		err := godotenv.Load()
		if err != nil {
			return err
		}
	}

	return nil
}

type EnviornmentVariable struct {
	// All variables
	GO_ENV       string
	DB_USER_NAME string
	DB_PASSWORD  string
	DB_NAME      string
	DB_HOST      string
	DB_PORT      string
	DB_SSL_MODE  string
	PORT         int
	// JWT Configuration (tokens are issued by the identity service; we only verify)
	JWT_SECRET string
	JWT_ISSUER string
	// Redis Configuration
	REDIS_URL      string
	REDIS_PASSWORD string
	REDIS_DB       string
	// DigitalOcean Configuration
	DIGITALOCEAN_TOKEN   string
	DO_SPACES_BUCKET     string
	DO_SPACES_REGION     string
	DO_SPACES_ENDPOINT   string
	DO_INFERENCE_API_KEY string
	// Connector credential encryption
	CONNECTOR_SECRET string
	// Pipeline tuning
	PIPELINE_MAX_ATTEMPTS    int
	PIPELINE_BACKOFF_BASE    time.Duration
	PIPELINE_BACKOFF_CAP     time.Duration
	PIPELINE_HANDLER_TIMEOUT time.Duration
}

func Get() (*EnviornmentVariable, error) {

	port, err := strconv.Atoi(os.Getenv("PORT"))
	if err != nil {
		port = 8080
	}

	// Database defaults
	dbHost := os.Getenv("DB_HOST")
	if dbHost == "" {
		dbHost = "localhost"
	}

	dbPort := os.Getenv("DB_PORT")
	if dbPort == "" {
		dbPort = "5432"
	}

	maxAttempts, err := strconv.Atoi(os.Getenv("PIPELINE_MAX_ATTEMPTS"))
	if err != nil || maxAttempts < 1 {
		maxAttempts = 3
	}

	envVariables := &EnviornmentVariable{
		GO_ENV:       os.Getenv("GO_ENV"),
		DB_USER_NAME: os.Getenv("DB_USER_NAME"),
		DB_PASSWORD:  os.Getenv("DB_PASSWORD"),
		DB_NAME:      os.Getenv("DB_NAME"),
		DB_HOST:      dbHost,
		DB_PORT:      dbPort,
		DB_SSL_MODE:  os.Getenv("DB_SSL_MODE"),
		PORT:         port,
		// JWT
		JWT_SECRET: os.Getenv("JWT_SECRET"),
		JWT_ISSUER: os.Getenv("JWT_ISSUER"),
		// Redis
		REDIS_URL:      os.Getenv("REDIS_URL"),
		REDIS_PASSWORD: os.Getenv("REDIS_PASSWORD"),
		REDIS_DB:       os.Getenv("REDIS_DB"),
		// DigitalOcean
		DIGITALOCEAN_TOKEN:   os.Getenv("DIGITALOCEAN_TOKEN"),
		DO_SPACES_BUCKET:     os.Getenv("DO_SPACES_BUCKET"),
		DO_SPACES_REGION:     os.Getenv("DO_SPACES_REGION"),
		DO_SPACES_ENDPOINT:   os.Getenv("DO_SPACES_ENDPOINT"),
		DO_INFERENCE_API_KEY: os.Getenv("DO_INFERENCE_API_KEY"),
		// Connector credential encryption
		CONNECTOR_SECRET: os.Getenv("CONNECTOR_SECRET"),
		// Pipeline
		PIPELINE_MAX_ATTEMPTS:    maxAttempts,
		PIPELINE_BACKOFF_BASE:    durationFromEnv("PIPELINE_BACKOFF_BASE", 5*time.Second),
		PIPELINE_BACKOFF_CAP:     durationFromEnv("PIPELINE_BACKOFF_CAP", 5*time.Minute),
		PIPELINE_HANDLER_TIMEOUT: durationFromEnv("PIPELINE_HANDLER_TIMEOUT", 10*time.Minute),
	}

	return envVariables, nil
}

// durationFromEnv parses a duration env var, falling back to def
func durationFromEnv(key string, def time.Duration) time.Duration {
	raw := os.Getenv(key)
	if raw == "" {
		return def
	}
	d, err := time.ParseDuration(raw)
	if err != nil || d <= 0 {
		return def
	}
	return d
}
