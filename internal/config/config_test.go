package config_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fairyhunter13/curriculum-catalog/internal/config"
)

func TestLoad_Defaults(t *testing.T) {
	cfg, err := config.Load()
	require.NoError(t, err)
	assert.Equal(t, 8080, cfg.Port)
	assert.Equal(t, "text-embedding-3-small", cfg.EmbeddingsModel)
	assert.Equal(t, 5*time.Second, cfg.EmbedTimeout)
	assert.InDelta(t, 0.3, cfg.SearchMinScore, 1e-9)
	assert.Equal(t, 10, cfg.SearchDefaultLimit)
	assert.Equal(t, 100, cfg.HistoryMaxLimit)
}

func TestLoad_EnvOverrides(t *testing.T) {
	t.Setenv("APP_ENV", "prod")
	t.Setenv("PORT", "9900")
	t.Setenv("EMBED_TIMEOUT", "2s")
	t.Setenv("REDIS_URL", "redis://localhost:6379/0")
	cfg, err := config.Load()
	require.NoError(t, err)
	assert.Equal(t, 9900, cfg.Port)
	assert.Equal(t, 2*time.Second, cfg.EmbedTimeout)
	assert.True(t, cfg.IsProd())
	assert.False(t, cfg.IsDev())
	assert.True(t, cfg.RedisEnabled())
}

func TestConfig_EmbeddingEnabled(t *testing.T) {
	cfg := config.Config{}
	assert.False(t, cfg.EmbeddingEnabled())
	cfg.OpenAIAPIKey = "sk-test"
	cfg.EmbeddingsModel = "text-embedding-3-small"
	assert.True(t, cfg.EmbeddingEnabled())
}
