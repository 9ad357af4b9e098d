package assistant

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/xhad/gamescout/internal/models"
	"github.com/xhad/gamescout/internal/types"
	"github.com/xhad/gamescout/pkg/assembler"
	"github.com/xhad/gamescout/pkg/cache"
	"github.com/xhad/gamescout/pkg/llm"
	"github.com/xhad/gamescout/pkg/manager"
	"github.com/xhad/gamescout/pkg/retriever"
	"golang.org/x/sync/singleflight"
)

type AssistantConfig struct {
	Temperature     float64
	MaxTokens       int
	GenerateTimeout time.Duration
	Logger          *slog.Logger
	Now             func() time.Time
}

// Deps are the components an Assistant drives. Cache may be nil.
type Deps struct {
	Manager   *manager.Manager
	Retriever *retriever.Retriever
	Assembler *assembler.Assembler
	Generator types.Generator
	Cache     *cache.QueryCache
}

// Assistant answers game-state queries: it retrieves from the active index
// generation, assembles a prompt and asks the generator for advice.
type Assistant struct {
	config AssistantConfig
	deps   Deps
	group  singleflight.Group
	tips   *llm.RecentTips
	log    *slog.Logger
}

func NewWithConfig(config AssistantConfig, deps Deps) (*Assistant, error) {
	if deps.Manager == nil || deps.Retriever == nil || deps.Assembler == nil || deps.Generator == nil {
		return nil, fmt.Errorf("assistant: manager, retriever, assembler and generator are required")
	}
	if config.GenerateTimeout == 0 {
		config.GenerateTimeout = 30 * time.Second
	}
	if config.Now == nil {
		config.Now = time.Now
	}
	logger := config.Logger
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return &Assistant{config: config, deps: deps, tips: llm.NewRecentTips(0), log: logger}, nil
}

// Ask always returns a Response. Failures are reported with status
// unavailable and a reason; they are never cached. Answers built while the
// query was degraded are returned but not cached either.
func (a *Assistant) Ask(ctx context.Context, q models.Query) models.Response {
	resp := models.Response{
		ID:        uuid.NewString(),
		CreatedAt: a.config.Now().UTC(),
	}

	lease, err := a.deps.Manager.Acquire()
	if err != nil {
		return a.unavailable(resp, err)
	}
	gen := lease.Generation()
	resp.Generation = gen.Number()

	fp := cache.Fingerprint(q, gen.Number())
	if entry, ok := a.lookup(fp); ok {
		lease.Release()
		return a.fill(resp, entry, true)
	}

	// identical concurrent queries against the same generation share one
	// retrieval and one generator call. The shared call outlives any single
	// caller, so it runs detached from ctx and each caller waits on its own.
	ch := a.group.DoChan(fp, func() (interface{}, error) {
		entry, err := a.answer(context.WithoutCancel(ctx), gen, q)
		if err != nil {
			return nil, err
		}
		if len(entry.Result.Degraded) == 0 {
			a.store(fp, entry)
		}
		return entry, nil
	})

	select {
	case <-ctx.Done():
		// keep the generation pinned until the shared call is done with it
		go func() {
			<-ch
			lease.Release()
		}()
		return a.unavailable(resp, ctx.Err())
	case res := <-ch:
		lease.Release()
		if res.Err != nil {
			return a.unavailable(resp, res.Err)
		}
		if res.Shared {
			a.log.Debug("shared in-flight answer", "fingerprint", fp[:12])
		}
		return a.fill(resp, res.Val.(cache.Entry), false)
	}
}

func (a *Assistant) answer(ctx context.Context, gen *manager.Generation, q models.Query) (cache.Entry, error) {
	result := a.deps.Retriever.Search(ctx, gen, q)

	assembled, err := a.deps.Assembler.Assemble(result, q)
	if err != nil {
		return cache.Entry{}, err
	}
	if assembled.Dropped > 0 {
		a.log.Debug("passages dropped for token budget", "dropped", assembled.Dropped, "tokens", assembled.Tokens)
	}
	result.Hits = assembled.Included

	genCtx, cancel := context.WithTimeout(ctx, a.config.GenerateTimeout)
	defer cancel()

	start := time.Now()
	text, err := a.deps.Generator.Generate(genCtx, assembled.Prompt, types.GenerateOptions{
		Temperature: a.config.Temperature,
		MaxTokens:   a.config.MaxTokens,
	})
	if err != nil {
		if !errors.Is(err, models.ErrGenerationUnavailable) {
			err = fmt.Errorf("%w: %v", models.ErrGenerationUnavailable, err)
		}
		return cache.Entry{}, err
	}

	a.log.Info("answered query",
		"generation", gen.Number(),
		"mode", result.Mode,
		"passages", len(assembled.Included),
		"tokens", assembled.Tokens,
		"duration", time.Since(start))

	return cache.Entry{
		Result:    result,
		Prompt:    assembled.Prompt,
		Answer:    text,
		Advice:    llm.ParseAdvice(text),
		CreatedAt: a.config.Now().UTC(),
	}, nil
}

func (a *Assistant) lookup(fp string) (cache.Entry, bool) {
	if a.deps.Cache == nil {
		return cache.Entry{}, false
	}
	entry, ok, err := a.deps.Cache.Get(fp)
	if err != nil {
		a.log.Debug("cache lookup failed", "error", err)
		return cache.Entry{}, false
	}
	return entry, ok
}

func (a *Assistant) store(fp string, entry cache.Entry) {
	if a.deps.Cache == nil {
		return
	}
	if err := a.deps.Cache.Put(fp, entry); err != nil {
		a.log.Debug("cache store failed", "error", err)
	}
}

func (a *Assistant) fill(resp models.Response, entry cache.Entry, hit bool) models.Response {
	resp.Status = models.StatusOK
	resp.Answer = entry.Answer
	resp.Advice = a.tips.Filter(entry.Advice)
	resp.Mode = entry.Result.Mode
	resp.Degraded = entry.Result.Degraded
	resp.CacheHit = hit
	for _, h := range entry.Result.Hits {
		resp.Sources = append(resp.Sources, h.ChunkID)
	}
	switch {
	case len(entry.Result.Hits) == 0:
		resp.Reason = "no passages retrieved"
		if len(resp.Degraded) > 0 {
			resp.Reason += ": " + strings.Join(resp.Degraded, "; ")
		}
	case len(resp.Degraded) > 0:
		resp.Reason = "degraded retrieval: " + strings.Join(resp.Degraded, "; ")
	}
	return resp
}

func (a *Assistant) unavailable(resp models.Response, err error) models.Response {
	a.log.Warn("query unavailable", "generation", resp.Generation, "error", err)
	resp.Status = models.StatusUnavailable
	resp.Reason = err.Error()
	return resp
}

// Smoke runs the retrieval half of each query against the active generation
// without calling the generator.
func (a *Assistant) Smoke(ctx context.Context, queries []string) ([]retriever.SmokeReport, error) {
	lease, err := a.deps.Manager.Acquire()
	if err != nil {
		return nil, err
	}
	defer lease.Release()
	return a.deps.Retriever.Smoke(ctx, lease.Generation(), queries), nil
}

// Health describes the generation currently serving queries.
type Health struct {
	Status       string    `json:"status"`
	Generation   uint64    `json:"generation"`
	Documents    int       `json:"documents"`
	Chunks       int       `json:"chunks"`
	Model        string    `json:"model,omitempty"`
	LexicalOnly  bool      `json:"lexical_only"`
	Optimized    bool      `json:"optimized"`
	BuiltAt      time.Time `json:"built_at"`
	CacheEntries int       `json:"cache_entries"`
}

func (a *Assistant) Health() Health {
	h := Health{Status: string(models.StatusUnavailable)}
	if a.deps.Cache != nil {
		h.CacheEntries = a.deps.Cache.Len()
	}
	lease, err := a.deps.Manager.Acquire()
	if err != nil {
		return h
	}
	defer lease.Release()

	g := lease.Generation()
	h.Status = string(models.StatusOK)
	h.Generation = g.Number()
	h.Documents = g.Documents()
	h.Chunks = g.Chunks()
	h.Model = g.ModelID()
	h.LexicalOnly = g.LexicalOnly()
	h.Optimized = g.VectorIndex() != nil && g.VectorIndex().Optimized()
	h.BuiltAt = g.BuiltAt()
	return h
}
