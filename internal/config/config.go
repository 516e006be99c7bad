// Package config loads runtime settings from the environment, with .env
// support for local development.
package config

import (
	"fmt"
	"os"
	"strconv"

	"github.com/joho/godotenv"
)

// Config holds every setting the ingestion commands read from the
// environment.
type Config struct {
	// NotionToken authorizes CMS page access. Required only for Notion
	// ingestion.
	NotionToken string
	// OpenAIKey authorizes embedding calls. Required whenever documents
	// are actually embedded.
	OpenAIKey string

	DatabasePath string
	Port         string
	Concurrency  int
	MaxPages     int
}

// Load reads configuration from the environment. A .env file in the working
// directory is applied first when present; real environment variables win.
func Load() (*Config, error) {
	_ = godotenv.Load()

	cfg := &Config{
		NotionToken:  os.Getenv("NOTION_TOKEN"),
		OpenAIKey:    os.Getenv("OPENAI_API_KEY"),
		DatabasePath: getEnv("SITEINGEST_DB", "siteingest.db"),
		Port:         getEnv("PORT", "8080"),
		Concurrency:  getEnvInt("INGEST_CONCURRENCY", 3),
		MaxPages:     getEnvInt("NOTION_MAX_PAGES", 100),
	}
	if cfg.Concurrency < 1 {
		return nil, fmt.Errorf("INGEST_CONCURRENCY must be at least 1")
	}
	return cfg, nil
}

// RequireNotion fails when the Notion integration token is missing.
func (c *Config) RequireNotion() error {
	if c.NotionToken == "" {
		return fmt.Errorf("NOTION_TOKEN environment variable is required for Notion ingestion")
	}
	return nil
}

func getEnv(key, defaultValue string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return defaultValue
}
