package bootstrap

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"stockqa/internal/ai"
	"stockqa/internal/ai/onnx"
	"stockqa/internal/config"
	"stockqa/internal/platform/database"
	"stockqa/internal/vectorstore/memory"
	"stockqa/internal/vectorstore/sqlstore"
)

func TestNewEmbedder_SelectsBackend(t *testing.T) {
	cfg := &config.Config{}

	cfg.Embedding.Backend = "openai"
	e, err := newEmbedder(cfg)
	require.NoError(t, err)
	assert.IsType(t, &ai.APIEmbedder{}, e)

	cfg.Embedding.Backend = "ollama"
	e, err = newEmbedder(cfg)
	require.NoError(t, err)
	assert.IsType(t, &ai.OllamaClient{}, e)

	cfg.Embedding.Backend = "onnx"
	e, err = newEmbedder(cfg)
	require.NoError(t, err)
	assert.IsType(t, &onnx.Embedder{}, e)

	cfg.Embedding.Backend = "word2vec"
	_, err = newEmbedder(cfg)
	assert.Error(t, err)
}

func TestNewGenerator_SelectsBackend(t *testing.T) {
	cfg := &config.Config{}

	cfg.LLM.Backend = "openai"
	g, err := newGenerator(cfg)
	require.NoError(t, err)
	assert.IsType(t, &ai.ChatGenerator{}, g)

	cfg.LLM.Backend = "ollama"
	g, err = newGenerator(cfg)
	require.NoError(t, err)
	assert.IsType(t, &ai.OllamaClient{}, g)

	cfg.LLM.Backend = "gemini"
	_, err = newGenerator(cfg)
	assert.Error(t, err)
}

func TestLLMClientTimeoutOutlastsGenerationDeadline(t *testing.T) {
	cfg := &config.Config{}
	cfg.LLM.TimeoutSeconds = 30

	assert.Greater(t, llmClientTimeout(cfg), cfg.LLMTimeout())
}

func TestNewStore_SelectsBackend(t *testing.T) {
	ctx := context.Background()
	db, err := database.New(ctx, database.DriverSQLite, ":memory:")
	require.NoError(t, err)
	t.Cleanup(func() {
		if sqlDB, err := db.DB(); err == nil {
			_ = sqlDB.Close()
		}
	})
	cfg := &config.Config{}

	cfg.Index.Backend = "memory"
	s, err := newStore(ctx, cfg, db)
	require.NoError(t, err)
	assert.IsType(t, &memory.Storage{}, s)

	cfg.Index.Backend = "sql"
	cfg.Index.AutoMigrate = true
	s, err = newStore(ctx, cfg, db)
	require.NoError(t, err)
	assert.IsType(t, &sqlstore.Storage{}, s)
	n, err := s.Count(ctx)
	require.NoError(t, err)
	assert.Zero(t, n)

	cfg.Index.Backend = "faiss"
	_, err = newStore(ctx, cfg, db)
	assert.Error(t, err)
}
