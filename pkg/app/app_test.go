package app_test

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xhad/gamescout/internal/models"
	"github.com/xhad/gamescout/pkg/app"
	"github.com/xhad/gamescout/pkg/config"
	"github.com/xhad/gamescout/pkg/llm"
)

func testConfig(t *testing.T) *config.Config {
	t.Helper()
	root := t.TempDir()

	cfg := config.Default()
	cfg.Embedding.Provider = "hash"
	cfg.Embedding.Dimension = 64
	cfg.Store.Driver = "sqlite"
	cfg.Store.Path = filepath.Join(root, "data")
	cfg.Index.SnapshotDir = filepath.Join(root, "snapshots")
	cfg.Corpus.Dir = filepath.Join(root, "knowledge_base")

	require.NoError(t, os.MkdirAll(cfg.Corpus.Dir, 0755))
	files := map[string]string{
		"grymforge.md": "# Grymforge\n\nDuergar guard the Adamantine Forge deep in the Underdark.",
		"grove.md":     "# Emerald Grove\n\nDruids and tieflings argue over the ritual in the grove.",
	}
	for name, content := range files {
		require.NoError(t, os.WriteFile(filepath.Join(cfg.Corpus.Dir, name), []byte(content), 0644))
	}
	return cfg
}

func newApp(t *testing.T, cfg *config.Config) *app.App {
	t.Helper()
	a, err := app.New(context.Background(), cfg, nil)
	require.NoError(t, err)
	t.Cleanup(func() { a.Close() })
	return a
}

func TestNewLogger(t *testing.T) {
	var buf bytes.Buffer

	logger := app.NewLogger(config.LogConfig{Level: "warn", Format: "json"}, &buf, false)
	logger.Info("hidden")
	logger.Warn("shown", "k", "v")
	assert.NotContains(t, buf.String(), "hidden")
	assert.Contains(t, buf.String(), `"msg":"shown"`)

	buf.Reset()
	logger = app.NewLogger(config.LogConfig{Level: "error"}, &buf, true)
	logger.Debug("verbose wins")
	assert.Contains(t, buf.String(), "msg=\"verbose wins\"")
}

func TestApp_StartBuildsThenRestoresSnapshot(t *testing.T) {
	cfg := testConfig(t)
	ctx := context.Background()

	first := newApp(t, cfg)
	g, err := first.Start(ctx)
	require.NoError(t, err)
	assert.Equal(t, uint64(1), g.Number())
	assert.Equal(t, 2, g.Documents())

	snapshots, err := filepath.Glob(filepath.Join(cfg.Index.SnapshotDir, "*.gob"))
	require.NoError(t, err)
	assert.Len(t, snapshots, 1)
	require.NoError(t, first.Close())

	second := newApp(t, cfg)
	restored, err := second.Start(ctx)
	require.NoError(t, err)
	assert.Equal(t, uint64(1), restored.Number())
	assert.Equal(t, g.Chunks(), restored.Chunks())

	h := second.Assistant.Health()
	assert.Equal(t, string(models.StatusOK), h.Status)
	assert.Equal(t, "hash/64", h.Model)
}

func TestApp_RebuildAndOptimize(t *testing.T) {
	a := newApp(t, testConfig(t))
	ctx := context.Background()

	g, err := a.Optimize(ctx)
	require.NoError(t, err)
	assert.Equal(t, uint64(2), g.Number())
	assert.True(t, g.VectorIndex().Optimized())

	g, err = a.Rebuild(ctx)
	require.NoError(t, err)
	assert.Equal(t, uint64(3), g.Number())
}

func TestApp_DocumentsFallBackToStore(t *testing.T) {
	cfg := testConfig(t)
	ctx := context.Background()

	a := newApp(t, cfg)
	_, err := a.Rebuild(ctx)
	require.NoError(t, err)

	require.NoError(t, os.RemoveAll(cfg.Corpus.Dir))
	docs, err := a.Documents(ctx)
	require.NoError(t, err)
	require.Len(t, docs, 2)
	assert.Equal(t, "grove", docs[0].ID)

	cfg.Store.Driver = "none"
	bare := newApp(t, cfg)
	_, err = bare.Documents(ctx)
	assert.ErrorIs(t, err, os.ErrNotExist)
}

func TestApp_SmokeAgainstActiveGeneration(t *testing.T) {
	a := newApp(t, testConfig(t))
	ctx := context.Background()
	_, err := a.Start(ctx)
	require.NoError(t, err)

	reports, err := a.Assistant.Smoke(ctx, []string{"adamantine forge"})
	require.NoError(t, err)
	require.Len(t, reports, 1)
	require.NotEmpty(t, reports[0].Hits)
	assert.Equal(t, "grymforge", reports[0].Hits[0].Chunk.DocumentID)
}

func TestConstructors(t *testing.T) {
	t.Run("unknown providers", func(t *testing.T) {
		_, err := app.NewEmbedder(config.EmbeddingConfig{Provider: "carrier-pigeon"})
		assert.Error(t, err)
		_, err = app.NewGenerator(config.LLMConfig{Provider: "carrier-pigeon"})
		assert.Error(t, err)
		_, err = app.NewTokenizer(config.AssemblerConfig{Tokenizer: "bytes"})
		assert.Error(t, err)
		_, err = app.NewStore(context.Background(), config.StoreConfig{Driver: "mongo"})
		assert.Error(t, err)
	})

	t.Run("ollama generator is rate limited", func(t *testing.T) {
		gen, err := app.NewGenerator(config.LLMConfig{Provider: "ollama", Model: "mistral", BaseURL: "http://localhost:11434", RateLimit: 2})
		require.NoError(t, err)
		assert.IsType(t, &llm.RateLimitedGenerator{}, gen)
	})

	t.Run("none store", func(t *testing.T) {
		s, err := app.NewStore(context.Background(), config.StoreConfig{Driver: "none"})
		require.NoError(t, err)
		assert.Nil(t, s)
	})

	t.Run("word tokenizer by default", func(t *testing.T) {
		tok, err := app.NewTokenizer(config.AssemblerConfig{})
		require.NoError(t, err)
		assert.Equal(t, 3, tok.Count("three little words"))
	})
}
