package app

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"

	"github.com/xhad/gamescout/internal/models"
	"github.com/xhad/gamescout/internal/types"
	"github.com/xhad/gamescout/pkg/assembler"
	"github.com/xhad/gamescout/pkg/assistant"
	"github.com/xhad/gamescout/pkg/cache"
	"github.com/xhad/gamescout/pkg/config"
	"github.com/xhad/gamescout/pkg/corpus"
	"github.com/xhad/gamescout/pkg/index"
	"github.com/xhad/gamescout/pkg/llm"
	"github.com/xhad/gamescout/pkg/manager"
	"github.com/xhad/gamescout/pkg/processor"
	"github.com/xhad/gamescout/pkg/retriever"
	"github.com/xhad/gamescout/pkg/store"
)

// App is the fully wired assistant built from one Config.
type App struct {
	Config    *config.Config
	Logger    *slog.Logger
	Store     types.ChunkStore
	Embedder  types.Embedder
	Manager   *manager.Manager
	Retriever *retriever.Retriever
	Assistant *assistant.Assistant
	Corpus    *corpus.Loader
	Cache     *cache.QueryCache
}

// NewLogger builds the process logger. verbose forces debug level.
func NewLogger(cfg config.LogConfig, w io.Writer, verbose bool) *slog.Logger {
	level := slog.LevelInfo
	switch strings.ToLower(cfg.Level) {
	case "debug":
		level = slog.LevelDebug
	case "warn", "warning":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	}
	if verbose {
		level = slog.LevelDebug
	}

	opts := &slog.HandlerOptions{Level: level}
	if strings.EqualFold(cfg.Format, "json") {
		return slog.New(slog.NewJSONHandler(w, opts))
	}
	return slog.New(slog.NewTextHandler(w, opts))
}

func New(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*App, error) {
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}

	proc, err := processor.NewWithConfig(processor.ProcessorConfig{
		ChunkSize:       cfg.Processor.ChunkSize,
		ChunkOverlap:    cfg.Processor.ChunkOverlap,
		MinChunkTokens:  cfg.Processor.MinChunkTokens,
		CustomStopwords: cfg.Processor.CustomStopwords,
	})
	if err != nil {
		return nil, fmt.Errorf("processor: %w", err)
	}

	embedder, err := NewEmbedder(cfg.Embedding)
	if err != nil {
		return nil, err
	}
	generator, err := NewGenerator(cfg.LLM)
	if err != nil {
		return nil, err
	}
	tokenizer, err := NewTokenizer(cfg.Assembler)
	if err != nil {
		return nil, err
	}
	metric, err := index.ParseMetric(cfg.Index.Metric)
	if err != nil {
		return nil, err
	}

	chunkStore, err := NewStore(ctx, cfg.Store)
	if err != nil {
		return nil, err
	}

	mgr, err := manager.NewWithConfig(manager.ManagerConfig{
		Processor:           proc,
		Embedder:            embedder,
		Store:               chunkStore,
		Metric:              metric,
		BM25K1:              cfg.Index.BM25K1,
		BM25B:               cfg.Index.BM25B,
		LexicalOnlyFallback: cfg.Index.LexicalOnlyFallback,
		Logger:              logger.With("component", "manager"),
	})
	if err != nil {
		closeStore(chunkStore)
		return nil, err
	}

	rconf := retriever.RetrieverConfig{
		KDense:        cfg.Retriever.KDense,
		KLexical:      cfg.Retriever.KLexical,
		KFinal:        cfg.Retriever.KFinal,
		DenseWeight:   cfg.Retriever.DenseWeight,
		LexicalWeight: cfg.Retriever.LexicalWeight,
		RegionFilter:  cfg.Retriever.RegionFilter,
		EmbedTimeout:  cfg.Embedding.QueryTimeout,
		Logger:        logger.With("component", "retriever"),
	}
	if cfg.Retriever.Rerank {
		rconf.Reranker = retriever.NewDiversityReranker(cfg.Retriever.DiversityFactor)
	}
	// only query embeddings are memoized
	ret := retriever.NewWithConfig(rconf, llm.NewCachedEmbedder(embedder, cfg.Embedding.CacheSize, cfg.Embedding.CacheTTL))

	asm, err := assembler.NewWithConfig(assembler.AssemblerConfig{
		TokenBudget: cfg.Assembler.TokenBudget,
		Tokenizer:   tokenizer,
	})
	if err != nil {
		closeStore(chunkStore)
		return nil, err
	}

	qc := cache.NewQueryCache(cache.QueryCacheConfig{
		Capacity: cfg.Cache.Capacity,
		TTL:      cfg.Cache.TTL,
		Shards:   cfg.Cache.Shards,
	})

	asst, err := assistant.NewWithConfig(assistant.AssistantConfig{
		Temperature:     cfg.LLM.SamplingTemperature(),
		MaxTokens:       cfg.LLM.MaxTokens,
		GenerateTimeout: cfg.LLM.Timeout,
		Logger:          logger.With("component", "assistant"),
	}, assistant.Deps{
		Manager:   mgr,
		Retriever: ret,
		Assembler: asm,
		Generator: generator,
		Cache:     qc,
	})
	if err != nil {
		closeStore(chunkStore)
		return nil, err
	}

	return &App{
		Config:    cfg,
		Logger:    logger,
		Store:     chunkStore,
		Embedder:  embedder,
		Manager:   mgr,
		Retriever: ret,
		Assistant: asst,
		Corpus: corpus.NewLoader(corpus.LoaderConfig{
			Dir:     cfg.Corpus.Dir,
			Regions: cfg.Scraper.Regions,
			Logger:  logger.With("component", "corpus"),
		}),
		Cache: qc,
	}, nil
}

func NewEmbedder(cfg config.EmbeddingConfig) (types.Embedder, error) {
	switch cfg.Provider {
	case "ollama":
		e, err := llm.NewEmbedderWithConfig(llm.EmbedderConfig{
			Model:     cfg.Model,
			BaseURL:   cfg.BaseURL,
			Dimension: cfg.Dimension,
			BatchSize: cfg.BatchSize,
		})
		if err != nil {
			return nil, err
		}
		return e, nil
	case "openai":
		e, err := llm.NewOpenAIEmbedder(llm.OpenAIConfig{
			APIKey:    cfg.APIKey,
			BaseURL:   cfg.BaseURL,
			Model:     cfg.Model,
			Dimension: cfg.Dimension,
			BatchSize: cfg.BatchSize,
		})
		if err != nil {
			return nil, err
		}
		return e, nil
	case "hash":
		return llm.NewHashEmbedder(cfg.Dimension), nil
	}
	return nil, fmt.Errorf("unknown embedding provider: %s", cfg.Provider)
}

func NewGenerator(cfg config.LLMConfig) (types.Generator, error) {
	var gen types.Generator
	switch cfg.Provider {
	case "ollama":
		ce, err := llm.NewWithConfig(llm.ChatConfig{Model: cfg.Model, BaseURL: cfg.BaseURL})
		if err != nil {
			return nil, err
		}
		gen = ce
	case "openai":
		og, err := llm.NewOpenAIGenerator(llm.OpenAIConfig{APIKey: cfg.APIKey, BaseURL: cfg.BaseURL, Model: cfg.Model})
		if err != nil {
			return nil, err
		}
		gen = og
	default:
		return nil, fmt.Errorf("unknown llm provider: %s", cfg.Provider)
	}
	if cfg.RateLimit > 0 {
		gen = llm.NewRateLimitedGenerator(gen, cfg.RateLimit)
	}
	return gen, nil
}

func NewTokenizer(cfg config.AssemblerConfig) (types.Tokenizer, error) {
	switch cfg.Tokenizer {
	case "words", "":
		return llm.WordTokenizer{}, nil
	case "tiktoken":
		t, err := llm.NewTiktokenTokenizer(cfg.Encoding)
		if err != nil {
			return nil, err
		}
		return t, nil
	}
	return nil, fmt.Errorf("unknown tokenizer: %s", cfg.Tokenizer)
}

// NewStore opens the configured ChunkStore. The "none" driver returns nil:
// every build then embeds from scratch.
func NewStore(ctx context.Context, cfg config.StoreConfig) (types.ChunkStore, error) {
	switch cfg.Driver {
	case "sqlite":
		s, err := store.NewSQLiteStore(cfg.Path)
		if err != nil {
			return nil, err
		}
		return s, nil
	case "postgres":
		s, err := store.NewPostgresStore(ctx, store.PostgresConfig{ConnString: cfg.URL, TableName: cfg.TableName})
		if err != nil {
			return nil, err
		}
		return s, nil
	case "none":
		return nil, nil
	}
	return nil, fmt.Errorf("unknown store driver: %s", cfg.Driver)
}

// Documents returns the corpus directory contents, or the documents saved by
// earlier builds when the directory does not exist.
func (a *App) Documents(ctx context.Context) ([]models.Document, error) {
	docs, err := a.Corpus.Load(ctx)
	if err == nil {
		return docs, nil
	}
	if !errors.Is(err, os.ErrNotExist) || a.Store == nil {
		return nil, err
	}
	a.Logger.Warn("corpus directory missing, using stored documents", "dir", a.Config.Corpus.Dir)
	return a.Store.LoadDocuments(ctx)
}

// Rebuild indexes the current documents, promotes the result and snapshots
// it. A failed snapshot is logged; the new generation still serves.
func (a *App) Rebuild(ctx context.Context) (*manager.Generation, error) {
	docs, err := a.Documents(ctx)
	if err != nil {
		return nil, err
	}
	g, err := a.Manager.Rebuild(ctx, docs)
	if err != nil {
		return nil, err
	}
	a.snapshot()
	return g, nil
}

// Optimize promotes an optimized copy of the active generation and
// snapshots it.
func (a *App) Optimize(ctx context.Context) (*manager.Generation, error) {
	if a.Manager.Active() == nil {
		if _, err := a.Start(ctx); err != nil {
			return nil, err
		}
	}
	g, err := a.Manager.Optimize(ctx)
	if err != nil {
		return nil, err
	}
	a.snapshot()
	return g, nil
}

// Start activates a generation: the latest snapshot when one matches the
// configured embedder, otherwise a fresh build.
func (a *App) Start(ctx context.Context) (*manager.Generation, error) {
	g, err := a.Manager.LoadLatest(a.Config.Index.SnapshotDir)
	if err == nil {
		return g, nil
	}
	if errors.Is(err, models.ErrNoActiveGeneration) {
		a.Logger.Info("no snapshot found, building index")
	} else {
		a.Logger.Warn("snapshot unusable, rebuilding", "error", err)
	}
	return a.Rebuild(ctx)
}

func (a *App) snapshot() {
	if path, err := a.Manager.SaveSnapshot(a.Config.Index.SnapshotDir); err != nil {
		a.Logger.Warn("failed to save snapshot", "error", err)
	} else {
		a.Logger.Debug("snapshot written", "path", path)
	}
}

func (a *App) Close() error {
	if a.Cache != nil {
		a.Cache.Close()
	}
	return closeStore(a.Store)
}

func closeStore(s types.ChunkStore) error {
	if s == nil {
		return nil
	}
	return s.Close()
}
