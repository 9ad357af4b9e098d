package retriever_test

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xhad/gamescout/internal/models"
	"github.com/xhad/gamescout/pkg/index"
	"github.com/xhad/gamescout/pkg/llm"
	"github.com/xhad/gamescout/pkg/processor"
	"github.com/xhad/gamescout/pkg/retriever"
)

type snapshot struct {
	number  uint64
	vector  *index.VectorIndex
	lexical *index.LexicalIndex
	chunks  map[string]models.Chunk
}

func (s *snapshot) Number() uint64                    { return s.number }
func (s *snapshot) VectorIndex() *index.VectorIndex   { return s.vector }
func (s *snapshot) LexicalIndex() *index.LexicalIndex { return s.lexical }
func (s *snapshot) Chunk(id string) (models.Chunk, bool) {
	c, ok := s.chunks[id]
	return c, ok
}

func newLexical() *index.LexicalIndex {
	stop := processor.NewStopwords(nil)
	return index.NewLexicalIndex(index.LexicalConfig{
		Analyzer: func(text string) []string { return processor.Tokenize(text, stop) },
	})
}

// buildSnapshot indexes chunks in both indexes with the given embedder.
func buildSnapshot(t *testing.T, embedder *llm.HashEmbedder, chunks []models.Chunk) *snapshot {
	t.Helper()
	s := &snapshot{
		number:  1,
		vector:  index.NewVectorIndex(index.MetricCosine, embedder.Dimension()),
		lexical: newLexical(),
		chunks:  make(map[string]models.Chunk),
	}
	for _, c := range chunks {
		v, err := embedder.Embed(context.Background(), c.Text)
		require.NoError(t, err)
		require.NoError(t, s.vector.Add(c.ID, v))
		require.NoError(t, s.lexical.Add(c.ID, c.Title+" "+c.Text))
		s.chunks[c.ID] = c
	}
	return s
}

var corpus = []models.Chunk{
	{ID: "grymforge#000000", DocumentID: "grymforge", Title: "Grymforge", Region: "Underdark", Text: "A fire giant once worked the Adamantine Forge below Grymforge."},
	{ID: "giants#000000", DocumentID: "giants", Title: "Giants", Text: "Fire giant foes resist fire damage, so bring cold spells."},
	{ID: "wyrm#000000", DocumentID: "wyrm", Title: "Wyrm's Rock", Region: "Baldur's Gate", Text: "Gortash holds the fire giant prisoner near Wyrm's Rock."},
	{ID: "grove#000000", DocumentID: "grove", Title: "Emerald Grove", Region: "Emerald Grove", Text: "Druids and tieflings argue over the ritual in the grove."},
	{ID: "grove#000040", DocumentID: "grove", Title: "Emerald Grove", Region: "Emerald Grove", Text: "Kagha leads the druids and Zevlor protects the tieflings."},
}

type failingEmbedder struct{ *llm.HashEmbedder }

func (failingEmbedder) Embed(context.Context, string) ([]float32, error) {
	return nil, fmt.Errorf("%w: model not loaded", models.ErrEmbeddingUnavailable)
}

type slowEmbedder struct{ *llm.HashEmbedder }

func (s slowEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	select {
	case <-time.After(5 * time.Second):
		return s.HashEmbedder.Embed(ctx, text)
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func TestRetriever_EmptyVectorIndexIsLexicalOnly(t *testing.T) {
	embedder := llm.NewHashEmbedder(64)
	snap := buildSnapshot(t, embedder, corpus)
	snap.vector = index.NewVectorIndex(index.MetricCosine, 64)

	r := retriever.NewWithConfig(retriever.RetrieverConfig{KFinal: 10}, embedder)
	res := r.Search(context.Background(), snap, models.Query{Text: "fire giant"})

	assert.Equal(t, models.ModeLexical, res.Mode)
	assert.Empty(t, res.Degraded)
	require.Len(t, res.Hits, 3)
	var got []string
	for _, h := range res.Hits {
		assert.Equal(t, models.SourceLexical, h.Source)
		got = append(got, h.ChunkID)
	}
	assert.ElementsMatch(t, []string{"grymforge#000000", "giants#000000", "wyrm#000000"}, got)
}

func TestRetriever_EmbedderFailureDegrades(t *testing.T) {
	embedder := llm.NewHashEmbedder(64)
	snap := buildSnapshot(t, embedder, corpus)

	r := retriever.NewWithConfig(retriever.RetrieverConfig{KFinal: 10}, failingEmbedder{embedder})
	res := r.Search(context.Background(), snap, models.Query{Text: "fire giant"})

	assert.Equal(t, models.ModeLexical, res.Mode)
	assert.Len(t, res.Hits, 3)
	require.NotEmpty(t, res.Degraded)
	assert.Contains(t, res.Degraded[0], "embedding unavailable")
}

func TestRetriever_EmbedTimeoutDegrades(t *testing.T) {
	embedder := llm.NewHashEmbedder(64)
	snap := buildSnapshot(t, embedder, corpus)

	r := retriever.NewWithConfig(retriever.RetrieverConfig{
		KFinal:       10,
		EmbedTimeout: 20 * time.Millisecond,
	}, slowEmbedder{embedder})

	start := time.Now()
	res := r.Search(context.Background(), snap, models.Query{Text: "druids tieflings"})

	assert.Less(t, time.Since(start), 2*time.Second)
	assert.Equal(t, models.ModeLexical, res.Mode)
	assert.NotEmpty(t, res.Hits)
}

func TestRetriever_Hybrid(t *testing.T) {
	embedder := llm.NewHashEmbedder(256)
	snap := buildSnapshot(t, embedder, corpus)

	r := retriever.NewWithConfig(retriever.RetrieverConfig{KFinal: 3}, embedder)
	res := r.Search(context.Background(), snap, models.Query{Text: "fire giant"})

	assert.Equal(t, models.ModeHybrid, res.Mode)
	assert.Equal(t, uint64(1), res.Generation)
	require.Len(t, res.Hits, 3)
	assert.Equal(t, models.SourceBoth, res.Hits[0].Source)
	for _, h := range res.Hits {
		assert.NotEmpty(t, h.Chunk.Text)
	}
	for i := 1; i < len(res.Hits); i++ {
		assert.GreaterOrEqual(t, res.Hits[i-1].Score, res.Hits[i].Score)
	}
}

func TestRetriever_DenseOnlyAndNothing(t *testing.T) {
	embedder := llm.NewHashEmbedder(64)
	snap := buildSnapshot(t, embedder, corpus)
	snap.lexical = nil

	r := retriever.NewWithConfig(retriever.RetrieverConfig{}, embedder)
	res := r.Search(context.Background(), snap, models.Query{Text: "druids"})
	assert.Equal(t, models.ModeDense, res.Mode)
	for _, h := range res.Hits {
		assert.Equal(t, models.SourceDense, h.Source)
	}

	snap.vector = nil
	res = r.Search(context.Background(), snap, models.Query{Text: "druids"})
	assert.Equal(t, models.ModeNone, res.Mode)
	assert.Empty(t, res.Hits)
	require.Len(t, res.Degraded, 1)
	assert.Contains(t, res.Degraded[0], "lexical")

	res = r.Search(context.Background(), nil, models.Query{Text: "druids"})
	assert.Equal(t, models.ModeNone, res.Mode)
	assert.Empty(t, res.Hits)
}

func TestRetriever_RegionFilter(t *testing.T) {
	embedder := llm.NewHashEmbedder(64)
	snap := buildSnapshot(t, embedder, corpus)

	r := retriever.NewWithConfig(retriever.RetrieverConfig{KFinal: 10, RegionFilter: true}, embedder)
	res := r.Search(context.Background(), snap, models.Query{
		Text:  "fire giant",
		State: models.GameState{Region: "underdark"},
	})

	for _, h := range res.Hits {
		assert.Contains(t, []string{"", "Underdark"}, h.Chunk.Region)
	}
	assert.NotEmpty(t, res.Hits)
}

func TestMerge_BothRanksAboveSingleOnEqualScores(t *testing.T) {
	dense := []index.Result{{ID: "a", Score: 0.8}, {ID: "z", Score: 0.8}}
	lexical := []index.Result{{ID: "b", Score: 4}, {ID: "z", Score: 4}}

	hits := retriever.Merge(dense, lexical, 0.5, 0.5)
	require.Len(t, hits, 3)
	assert.Equal(t, "z", hits[0].ChunkID)
	assert.Equal(t, models.SourceBoth, hits[0].Source)
	assert.Equal(t, "a", hits[1].ChunkID)
	assert.Equal(t, models.SourceDense, hits[1].Source)
	assert.Equal(t, "b", hits[2].ChunkID)
	assert.Equal(t, models.SourceLexical, hits[2].Source)
}

func TestMerge_WeightedScores(t *testing.T) {
	dense := []index.Result{{ID: "a", Score: 0.9}, {ID: "b", Score: 0.45}, {ID: "c", Score: -0.2}}
	lexical := []index.Result{{ID: "b", Score: 10}, {ID: "d", Score: 5}}

	hits := retriever.Merge(dense, lexical, 0.25, 0.75)
	scores := map[string]float64{}
	for _, h := range hits {
		scores[h.ChunkID] = h.Score
	}

	assert.InDelta(t, 1.0, scores["a"], 1e-9)
	assert.InDelta(t, 0.25*0.5+0.75*1.0, scores["b"], 1e-9)
	assert.InDelta(t, 0.0, scores["c"], 1e-9)
	assert.InDelta(t, 0.5, scores["d"], 1e-9)
	assert.Equal(t, []string{"a", "b", "d", "c"}, []string{hits[0].ChunkID, hits[1].ChunkID, hits[2].ChunkID, hits[3].ChunkID})
}

func TestFilterRegion(t *testing.T) {
	hits := []models.Hit{
		{ChunkID: "a", Chunk: models.Chunk{Region: "Underdark"}},
		{ChunkID: "b", Chunk: models.Chunk{}},
		{ChunkID: "c", Chunk: models.Chunk{Region: "Emerald Grove"}},
	}
	assert.Len(t, retriever.FilterRegion(append([]models.Hit(nil), hits...), ""), 3)

	filtered := retriever.FilterRegion(append([]models.Hit(nil), hits...), "emerald grove")
	require.Len(t, filtered, 2)
	assert.Equal(t, "b", filtered[0].ChunkID)
	assert.Equal(t, "c", filtered[1].ChunkID)
}

func TestDiversityReranker(t *testing.T) {
	hits := []models.Hit{
		{ChunkID: "grove#000000", Score: 1.0, Source: models.SourceLexical, Chunk: models.Chunk{DocumentID: "grove", Title: "Druid Circle"}},
		{ChunkID: "grove#000040", Score: 0.95, Source: models.SourceLexical, Chunk: models.Chunk{DocumentID: "grove", Title: "Druid Circle"}},
		{ChunkID: "halsin#000000", Score: 0.7, Source: models.SourceLexical, Chunk: models.Chunk{DocumentID: "halsin", Title: "Halsin"}},
	}

	out := retriever.NewDiversityReranker(0.5).Rerank(models.Query{Text: "Where is Halsin?"}, hits)
	require.Len(t, out, 3)
	assert.Equal(t, "halsin#000000", out[0].ChunkID)
	assert.Equal(t, "grove#000000", out[1].ChunkID)
	assert.Equal(t, "grove#000040", out[2].ChunkID)
}

func TestRetriever_Smoke(t *testing.T) {
	embedder := llm.NewHashEmbedder(64)
	snap := buildSnapshot(t, embedder, corpus)
	r := retriever.NewWithConfig(retriever.RetrieverConfig{}, embedder)

	reports := r.Smoke(context.Background(), snap, []string{"fire giant", "druids"})
	require.Len(t, reports, 2)
	assert.Equal(t, "fire giant", reports[0].Query)
	assert.Equal(t, models.ModeHybrid, reports[1].Mode)
	assert.NotEmpty(t, reports[1].Hits)
}
