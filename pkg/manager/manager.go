package manager

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/xhad/gamescout/internal/models"
	"github.com/xhad/gamescout/internal/types"
	"github.com/xhad/gamescout/pkg/index"
	"github.com/xhad/gamescout/pkg/processor"
)

type ManagerConfig struct {
	Processor           *processor.Processor
	Embedder            types.Embedder
	Store               types.ChunkStore
	Metric              index.Metric
	BM25K1              float64
	BM25B               float64
	LexicalOnlyFallback bool
	Logger              *slog.Logger

	// OnDiscard is called once per generation when its last lease is
	// released after it was replaced.
	OnDiscard func(g *Generation)
}

// Manager owns index generations. Readers acquire the active generation
// without locking; builds serialize on buildMu.
type Manager struct {
	config ManagerConfig
	log    *slog.Logger

	active  atomic.Pointer[Generation]
	next    atomic.Uint64
	buildMu sync.Mutex
}

func NewWithConfig(config ManagerConfig) (*Manager, error) {
	if config.Processor == nil {
		return nil, fmt.Errorf("processor is required")
	}
	if config.Metric == "" {
		config.Metric = index.MetricCosine
	}
	logger := config.Logger
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return &Manager{config: config, log: logger}, nil
}

// Active returns the active generation without pinning it, or nil.
func (m *Manager) Active() *Generation {
	return m.active.Load()
}

// Acquire pins the active generation. The caller must Release the lease.
func (m *Manager) Acquire() (*Lease, error) {
	for {
		g := m.active.Load()
		if g == nil {
			return nil, models.ErrNoActiveGeneration
		}
		g.refs.Add(1)
		if m.active.Load() == g {
			return &Lease{gen: g, m: m}, nil
		}
		// swapped out between load and increment; retry on the new one
		m.release(g)
	}
}

func (m *Manager) release(g *Generation) {
	if g.refs.Add(-1) == 0 && g.State() == StateRetiring {
		m.discard(g)
	}
}

func (m *Manager) discard(g *Generation) {
	if !g.transition(StateRetiring, StateDiscarded) {
		return
	}
	m.log.Info("generation discarded", "generation", g.number)
	if m.config.OnDiscard != nil {
		m.config.OnDiscard(g)
	}
}

// Promote makes a Ready generation active. The previous generation retires
// and is discarded once no lease holds it.
func (m *Manager) Promote(g *Generation) error {
	if g == nil {
		return fmt.Errorf("promote: nil generation")
	}
	if !g.transition(StateReady, StateActive) {
		return fmt.Errorf("promote generation %d: state is %s, want %s", g.number, g.State(), StateReady)
	}

	old := m.active.Swap(g)
	m.log.Info("generation promoted",
		"generation", g.number,
		"chunks", len(g.chunks),
		"lexical_only", g.LexicalOnly())

	if old != nil {
		old.transition(StateActive, StateRetiring)
		if old.refs.Load() == 0 {
			m.discard(old)
		}
	}
	return nil
}

// Build indexes docs into a new Ready generation. It is not visible to
// readers until promoted. On failure the active generation is untouched.
func (m *Manager) Build(ctx context.Context, docs []models.Document) (*Generation, error) {
	m.buildMu.Lock()
	defer m.buildMu.Unlock()
	return m.build(ctx, docs)
}

// Rebuild builds and promotes a generation from docs.
func (m *Manager) Rebuild(ctx context.Context, docs []models.Document) (*Generation, error) {
	m.buildMu.Lock()
	defer m.buildMu.Unlock()

	g, err := m.build(ctx, docs)
	if err != nil {
		return nil, err
	}
	if err := m.Promote(g); err != nil {
		return nil, err
	}
	return g, nil
}

func (m *Manager) build(ctx context.Context, docs []models.Document) (*Generation, error) {
	start := time.Now()
	g := &Generation{
		number:  m.next.Add(1),
		chunks:  make(map[string]models.Chunk),
		builtAt: start.UTC(),
	}
	g.state.Store(int32(StateBuilding))

	docs = dedupe(docs)
	chunks, errs := m.config.Processor.Process(docs)
	for _, err := range errs {
		m.log.Warn("document skipped", "generation", g.number, "error", err)
	}
	if len(chunks) == 0 {
		return nil, &models.BuildValidationError{Generation: g.number, Reasons: []string{"no chunks produced"}}
	}
	docs = chunkedDocuments(docs, chunks)
	g.docs = len(docs)

	vectors, err := m.embedChunks(ctx, chunks)
	switch {
	case err == nil:
	case m.config.LexicalOnlyFallback && errors.Is(err, models.ErrEmbeddingUnavailable):
		m.log.Warn("building lexical-only generation", "generation", g.number, "error", err)
		vectors = nil
	default:
		return nil, fmt.Errorf("build generation %d: %w", g.number, err)
	}

	if vectors != nil {
		g.modelID = m.config.Embedder.ModelID()
		g.dim = m.config.Embedder.Dimension()
		if reasons := validateVectors(chunks, vectors, g.dim); len(reasons) > 0 {
			return nil, &models.BuildValidationError{Generation: g.number, Reasons: reasons}
		}
		g.vector = index.NewVectorIndex(m.config.Metric, g.dim)
	}

	g.lexical = m.newLexical()
	for _, c := range chunks {
		if err := g.lexical.Add(c.ID, indexText(c)); err != nil {
			return nil, &models.BuildValidationError{Generation: g.number, Reasons: []string{err.Error()}}
		}
		if g.vector != nil {
			if err := g.vector.Add(c.ID, vectors[c.Fingerprint]); err != nil {
				return nil, &models.BuildValidationError{Generation: g.number, Reasons: []string{err.Error()}}
			}
		}
		g.chunks[c.ID] = c
	}

	if m.config.Store != nil {
		if err := m.config.Store.SaveDocuments(ctx, docs); err != nil {
			m.log.Warn("failed to persist documents", "generation", g.number, "error", err)
		}
	}

	g.state.Store(int32(StateReady))
	m.log.Info("generation built",
		"generation", g.number,
		"documents", g.docs,
		"chunks", len(g.chunks),
		"model", g.modelID,
		"duration", time.Since(start))
	return g, nil
}

// embedChunks returns vectors keyed by chunk fingerprint. Vectors already in
// the store for the current model are reused; only the rest are embedded.
func (m *Manager) embedChunks(ctx context.Context, chunks []models.Chunk) (map[string][]float32, error) {
	if m.config.Embedder == nil {
		return nil, fmt.Errorf("%w: no embedder configured", models.ErrEmbeddingUnavailable)
	}
	modelID := m.config.Embedder.ModelID()

	var fps []string
	text := make(map[string]string)
	for _, c := range chunks {
		if _, ok := text[c.Fingerprint]; !ok {
			text[c.Fingerprint] = c.Text
			fps = append(fps, c.Fingerprint)
		}
	}

	vectors := make(map[string][]float32, len(fps))
	if m.config.Store != nil {
		stored, err := m.config.Store.LoadEmbeddings(ctx, modelID, fps)
		if err != nil {
			m.log.Warn("failed to load stored embeddings", "model", modelID, "error", err)
		}
		for fp, v := range stored {
			vectors[fp] = v
		}
	}

	var missing []string
	for _, fp := range fps {
		if _, ok := vectors[fp]; !ok {
			missing = append(missing, fp)
		}
	}
	m.log.Debug("embedding chunks", "model", modelID, "reused", len(vectors), "missing", len(missing))
	if len(missing) == 0 {
		return vectors, nil
	}

	texts := make([]string, len(missing))
	for i, fp := range missing {
		texts[i] = text[fp]
	}
	embedded, err := m.config.Embedder.EmbedBatch(ctx, texts)
	if err != nil {
		return nil, err
	}
	if len(embedded) != len(missing) {
		return nil, fmt.Errorf("%w: got %d embeddings for %d chunks", models.ErrEmbeddingUnavailable, len(embedded), len(missing))
	}

	fresh := make(map[string][]float32, len(missing))
	for i, fp := range missing {
		vectors[fp] = embedded[i]
		fresh[fp] = embedded[i]
	}
	if m.config.Store != nil {
		if err := m.config.Store.SaveEmbeddings(ctx, modelID, fresh); err != nil {
			m.log.Warn("failed to persist embeddings", "model", modelID, "error", err)
		}
	}
	return vectors, nil
}

func validateVectors(chunks []models.Chunk, vectors map[string][]float32, dim int) []string {
	var reasons []string
	for _, c := range chunks {
		v, ok := vectors[c.Fingerprint]
		switch {
		case !ok:
			reasons = append(reasons, fmt.Sprintf("chunk %s has no embedding", c.ID))
		case len(v) != dim:
			reasons = append(reasons, fmt.Sprintf("chunk %s has dimension %d, want %d", c.ID, len(v), dim))
		}
	}
	return reasons
}

// Optimize promotes a copy of the active generation whose vector index is
// packed for faster search. Results are unchanged.
func (m *Manager) Optimize(ctx context.Context) (*Generation, error) {
	m.buildMu.Lock()
	defer m.buildMu.Unlock()

	lease, err := m.Acquire()
	if err != nil {
		return nil, err
	}
	src := lease.Generation()
	defer lease.Release()

	if err := ctx.Err(); err != nil {
		return nil, err
	}

	g := &Generation{
		number:  m.next.Add(1),
		modelID: src.modelID,
		dim:     src.dim,
		lexical: src.lexical,
		chunks:  src.chunks,
		docs:    src.docs,
		builtAt: time.Now().UTC(),
	}
	if src.vector != nil {
		g.vector = src.vector.Clone()
		g.vector.Optimize()
	}
	g.state.Store(int32(StateReady))

	if err := m.Promote(g); err != nil {
		return nil, err
	}
	m.log.Info("generation optimized", "from", src.number, "to", g.number)
	return g, nil
}

func (m *Manager) newLexical() *index.LexicalIndex {
	return index.NewLexicalIndex(index.LexicalConfig{
		K1:       m.config.BM25K1,
		B:        m.config.BM25B,
		Analyzer: m.config.Processor.Terms,
	})
}

// indexText is what the lexical index sees for a chunk. Titles carry most of
// the entity names players search for.
func indexText(c models.Chunk) string {
	if c.Title == "" {
		return c.Text
	}
	return c.Title + " " + c.Text
}

// dedupe keeps the last copy of each document id, ordered by id.
func dedupe(docs []models.Document) []models.Document {
	byID := make(map[string]models.Document, len(docs))
	var invalid []models.Document
	for _, d := range docs {
		if d.ID == "" {
			invalid = append(invalid, d)
			continue
		}
		byID[d.ID] = d
	}
	out := make([]models.Document, 0, len(byID)+len(invalid))
	for _, d := range byID {
		out = append(out, d)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return append(out, invalid...)
}

// chunkedDocuments keeps the documents that produced at least one chunk.
func chunkedDocuments(docs []models.Document, chunks []models.Chunk) []models.Document {
	ids := make(map[string]struct{}, len(docs))
	for _, c := range chunks {
		ids[c.DocumentID] = struct{}{}
	}
	out := make([]models.Document, 0, len(ids))
	for _, d := range docs {
		if _, ok := ids[d.ID]; ok && d.ID != "" {
			out = append(out, d)
		}
	}
	return out
}
