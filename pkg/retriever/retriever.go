package retriever

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"sort"
	"strings"
	"time"

	"github.com/xhad/gamescout/internal/models"
	"github.com/xhad/gamescout/internal/types"
	"github.com/xhad/gamescout/pkg/index"
	"golang.org/x/sync/errgroup"
)

// Snapshot is the read-only view of one index generation a query runs
// against. Either index may be nil when the generation was built without it.
type Snapshot interface {
	Number() uint64
	VectorIndex() *index.VectorIndex
	LexicalIndex() *index.LexicalIndex
	Chunk(id string) (models.Chunk, bool)
}

// Reranker reorders merged hits. Implementations must keep the result
// deterministic.
type Reranker interface {
	Rerank(q models.Query, hits []models.Hit) []models.Hit
}

type RetrieverConfig struct {
	KDense        int
	KLexical      int
	KFinal        int
	DenseWeight   float64
	LexicalWeight float64
	RegionFilter  bool
	EmbedTimeout  time.Duration
	Reranker      Reranker
	Logger        *slog.Logger
}

type Retriever struct {
	config   RetrieverConfig
	embedder types.Embedder
	log      *slog.Logger
}

// NewWithConfig creates a Retriever. embedder may be nil, in which case every
// query runs lexical-only.
func NewWithConfig(config RetrieverConfig, embedder types.Embedder) *Retriever {
	if config.KDense == 0 {
		config.KDense = 20
	}
	if config.KLexical == 0 {
		config.KLexical = 20
	}
	if config.KFinal == 0 {
		config.KFinal = 5
	}
	if config.DenseWeight <= 0 && config.LexicalWeight <= 0 {
		config.DenseWeight, config.LexicalWeight = 0.5, 0.5
	}
	if config.EmbedTimeout == 0 {
		config.EmbedTimeout = 2 * time.Second
	}
	sum := config.DenseWeight + config.LexicalWeight
	config.DenseWeight /= sum
	config.LexicalWeight /= sum

	logger := config.Logger
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}

	return &Retriever{config: config, embedder: embedder, log: logger}
}

// Search runs dense and lexical retrieval concurrently against snap and
// merges the two lists. It never fails: unavailable paths are reported in
// RetrievalResult.Degraded and the mode reflects which lists took part.
// Degraded only ever names failures of this query.
func (r *Retriever) Search(ctx context.Context, snap Snapshot, q models.Query) models.RetrievalResult {
	result := models.RetrievalResult{Mode: models.ModeNone}
	if snap == nil {
		result.Degraded = append(result.Degraded, "no active index generation")
		return result
	}
	result.Generation = snap.Number()
	text := q.SearchText()

	var (
		dense, lexical       []index.Result
		denseErr, lexErr     error
		denseRan, lexicalRan bool
	)

	// a generation built without embeddings is lexical-only; that is not a
	// degradation
	var g errgroup.Group
	if vi := snap.VectorIndex(); vi != nil && vi.Size() > 0 {
		g.Go(func() error {
			dense, denseErr = r.searchDense(ctx, vi, text)
			denseRan = denseErr == nil
			return nil
		})
	}
	g.Go(func() error {
		lexical, lexErr = r.searchLexical(snap, text)
		lexicalRan = lexErr == nil
		return nil
	})
	_ = g.Wait()

	if denseErr != nil {
		result.Degraded = append(result.Degraded, "dense: "+denseErr.Error())
		r.log.Warn("dense retrieval unavailable", "generation", result.Generation, "error", denseErr)
	}
	if lexErr != nil {
		result.Degraded = append(result.Degraded, "lexical: "+lexErr.Error())
		r.log.Warn("lexical retrieval unavailable", "generation", result.Generation, "error", lexErr)
	}

	switch {
	case denseRan && lexicalRan:
		result.Mode = models.ModeHybrid
	case denseRan:
		result.Mode = models.ModeDense
	case lexicalRan:
		result.Mode = models.ModeLexical
	}

	hits := Merge(dense, lexical, r.config.DenseWeight, r.config.LexicalWeight)
	hits = r.attachChunks(snap, hits)
	if r.config.Reranker != nil {
		hits = r.config.Reranker.Rerank(q, hits)
	}
	if r.config.RegionFilter {
		hits = FilterRegion(hits, q.State.Region)
	}
	if len(hits) > r.config.KFinal {
		hits = hits[:r.config.KFinal]
	}
	result.Hits = hits

	r.log.Debug("retrieval complete",
		"generation", result.Generation,
		"mode", result.Mode,
		"dense", len(dense),
		"lexical", len(lexical),
		"hits", len(hits))
	return result
}

func (r *Retriever) searchDense(ctx context.Context, vi *index.VectorIndex, text string) ([]index.Result, error) {
	if r.embedder == nil {
		return nil, models.ErrEmbeddingUnavailable
	}

	embedCtx, cancel := context.WithTimeout(ctx, r.config.EmbedTimeout)
	defer cancel()

	vec, err := r.embedder.Embed(embedCtx, text)
	if err != nil {
		return nil, err
	}
	return vi.Search(vec, r.config.KDense)
}

func (r *Retriever) searchLexical(snap Snapshot, text string) ([]index.Result, error) {
	li := snap.LexicalIndex()
	if li == nil {
		return nil, fmt.Errorf("no lexical index")
	}
	return li.Search(text, r.config.KLexical), nil
}

func (r *Retriever) attachChunks(snap Snapshot, hits []models.Hit) []models.Hit {
	out := hits[:0]
	for _, h := range hits {
		c, ok := snap.Chunk(h.ChunkID)
		if !ok {
			continue
		}
		h.Chunk = c
		out = append(out, h)
	}
	return out
}

// Merge combines dense and lexical results by chunk id. Each list is scaled
// by its best score (negative scores count as zero). A chunk found by both
// scores denseWeight*d + lexicalWeight*l; weights are expected to sum to 1.
// A chunk found by one list keeps that list's scaled score.
func Merge(dense, lexical []index.Result, denseWeight, lexicalWeight float64) []models.Hit {
	byID := make(map[string]*models.Hit, len(dense)+len(lexical))
	var order []string

	dn := normalize(dense)
	for i, res := range dense {
		byID[res.ID] = &models.Hit{ChunkID: res.ID, Score: dn[i], Source: models.SourceDense}
		order = append(order, res.ID)
	}

	ln := normalize(lexical)
	for i, res := range lexical {
		if h, ok := byID[res.ID]; ok {
			h.Score = denseWeight*h.Score + lexicalWeight*ln[i]
			h.Source = models.SourceBoth
			continue
		}
		byID[res.ID] = &models.Hit{ChunkID: res.ID, Score: ln[i], Source: models.SourceLexical}
		order = append(order, res.ID)
	}

	hits := make([]models.Hit, 0, len(order))
	for _, id := range order {
		hits = append(hits, *byID[id])
	}
	SortHits(hits)
	return hits
}

func normalize(results []index.Result) []float64 {
	out := make([]float64, len(results))
	var best float64
	for _, r := range results {
		if r.Score > best {
			best = r.Score
		}
	}
	if best <= 0 {
		return out
	}
	for i, r := range results {
		if r.Score > 0 {
			out[i] = r.Score / best
		}
	}
	return out
}

// SortHits orders by descending score, then hits found by both lists, then
// ascending chunk id.
func SortHits(hits []models.Hit) {
	sort.SliceStable(hits, func(i, j int) bool {
		a, b := hits[i], hits[j]
		if a.Score != b.Score {
			return a.Score > b.Score
		}
		if (a.Source == models.SourceBoth) != (b.Source == models.SourceBoth) {
			return a.Source == models.SourceBoth
		}
		return a.ChunkID < b.ChunkID
	})
}

// FilterRegion drops chunks tagged with a region other than region. Untagged
// chunks always pass, and an empty region disables the filter.
func FilterRegion(hits []models.Hit, region string) []models.Hit {
	region = strings.TrimSpace(region)
	if region == "" {
		return hits
	}
	out := hits[:0]
	for _, h := range hits {
		if h.Chunk.Region == "" || strings.EqualFold(h.Chunk.Region, region) {
			out = append(out, h)
		}
	}
	return out
}
