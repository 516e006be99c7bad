package config

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_Defaults(t *testing.T) {
	t.Setenv("NOTION_TOKEN", "")
	t.Setenv("OPENAI_API_KEY", "")
	t.Setenv("SITEINGEST_DB", "")
	t.Setenv("PORT", "")
	t.Setenv("INGEST_CONCURRENCY", "")
	t.Setenv("NOTION_MAX_PAGES", "")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, "siteingest.db", cfg.DatabasePath)
	assert.Equal(t, "8080", cfg.Port)
	assert.Equal(t, 3, cfg.Concurrency)
	assert.Equal(t, 100, cfg.MaxPages)
	assert.Error(t, cfg.RequireNotion())
}

func TestLoad_EnvironmentOverrides(t *testing.T) {
	t.Setenv("NOTION_TOKEN", "secret_tok")
	t.Setenv("SITEINGEST_DB", "/tmp/content.db")
	t.Setenv("INGEST_CONCURRENCY", "8")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, "secret_tok", cfg.NotionToken)
	assert.Equal(t, "/tmp/content.db", cfg.DatabasePath)
	assert.Equal(t, 8, cfg.Concurrency)
	assert.NoError(t, cfg.RequireNotion())
}

func TestLoad_RejectsBadConcurrency(t *testing.T) {
	t.Setenv("INGEST_CONCURRENCY", "0")

	_, err := Load()
	require.Error(t, err)
}

func TestLoad_IgnoresMalformedInt(t *testing.T) {
	t.Setenv("INGEST_CONCURRENCY", "three")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, 3, cfg.Concurrency)
}
