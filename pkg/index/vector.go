package index

import (
	"bytes"
	"encoding/gob"
	"fmt"
	"math"
)

type Metric string

const (
	MetricCosine Metric = "cosine"
	MetricDot    Metric = "dot"
)

func ParseMetric(s string) (Metric, error) {
	switch Metric(s) {
	case MetricCosine, "":
		return MetricCosine, nil
	case MetricDot:
		return MetricDot, nil
	}
	return "", fmt.Errorf("unknown similarity metric %q", s)
}

// VectorIndex is an exact nearest-neighbour index. Add must not run
// concurrently with Search; an index is filled once and then only read.
type VectorIndex struct {
	metric  Metric
	dim     int
	ids     []string
	vectors [][]float32
	pos     map[string]int

	// set by Optimize
	slab  []float32
	norms []float64
}

func NewVectorIndex(metric Metric, dim int) *VectorIndex {
	if metric == "" {
		metric = MetricCosine
	}
	return &VectorIndex{
		metric: metric,
		dim:    dim,
		pos:    make(map[string]int),
	}
}

func (vi *VectorIndex) Metric() Metric { return vi.metric }
func (vi *VectorIndex) Dimension() int { return vi.dim }
func (vi *VectorIndex) Size() int      { return len(vi.ids) }
func (vi *VectorIndex) Optimized() bool {
	return vi.slab != nil
}

// Add stores a copy of vec under id, replacing any earlier vector with the
// same id.
func (vi *VectorIndex) Add(id string, vec []float32) error {
	if id == "" {
		return fmt.Errorf("vector index: empty id")
	}
	if vi.dim == 0 {
		vi.dim = len(vec)
	}
	if len(vec) != vi.dim || vi.dim == 0 {
		return fmt.Errorf("vector index: %s has dimension %d, want %d", id, len(vec), vi.dim)
	}

	v := make([]float32, len(vec))
	copy(v, vec)

	if i, ok := vi.pos[id]; ok {
		vi.vectors[i] = v
	} else {
		vi.pos[id] = len(vi.ids)
		vi.ids = append(vi.ids, id)
		vi.vectors = append(vi.vectors, v)
	}
	vi.slab, vi.norms = nil, nil
	return nil
}

// Vector returns the stored vector for id. The slice must not be modified.
func (vi *VectorIndex) Vector(id string) ([]float32, bool) {
	i, ok := vi.pos[id]
	if !ok {
		return nil, false
	}
	return vi.vectors[i], true
}

func (vi *VectorIndex) IDs() []string {
	out := make([]string, len(vi.ids))
	copy(out, vi.ids)
	return out
}

// Search returns at most k entries by descending similarity, ties broken by
// ascending id.
func (vi *VectorIndex) Search(query []float32, k int) ([]Result, error) {
	if k <= 0 || len(vi.ids) == 0 {
		return nil, nil
	}
	if len(query) != vi.dim {
		return nil, fmt.Errorf("vector index: query dimension %d, want %d", len(query), vi.dim)
	}

	qnorm := 1.0
	if vi.metric == MetricCosine {
		qnorm = norm(query)
	}

	top := newTopK(min(k, len(vi.ids)))
	for i, id := range vi.ids {
		var v []float32
		var vnorm float64
		if vi.slab != nil {
			v = vi.slab[i*vi.dim : (i+1)*vi.dim]
			vnorm = vi.norms[i]
		} else {
			v = vi.vectors[i]
			if vi.metric == MetricCosine {
				vnorm = norm(v)
			}
		}
		top.offer(Result{ID: id, Score: vi.score(query, qnorm, v, vnorm)})
	}
	return top.results(), nil
}

func (vi *VectorIndex) score(q []float32, qnorm float64, v []float32, vnorm float64) float64 {
	d := dot(q, v)
	if vi.metric == MetricDot {
		return d
	}
	if qnorm == 0 || vnorm == 0 {
		return 0
	}
	return d / (qnorm * vnorm)
}

// Optimize packs all vectors into one contiguous slab and caches their norms.
// Scores are computed with the same arithmetic, so results do not change.
func (vi *VectorIndex) Optimize() {
	slab := make([]float32, 0, len(vi.ids)*vi.dim)
	norms := make([]float64, len(vi.ids))
	for i, v := range vi.vectors {
		slab = append(slab, v...)
		if vi.metric == MetricCosine {
			norms[i] = norm(v)
		}
	}
	vi.slab, vi.norms = slab, norms
}

// Clone returns an independent copy holding the same vectors.
func (vi *VectorIndex) Clone() *VectorIndex {
	c := NewVectorIndex(vi.metric, vi.dim)
	for i, id := range vi.ids {
		_ = c.Add(id, vi.vectors[i])
	}
	return c
}

type vectorSnapshot struct {
	Metric  Metric
	Dim     int
	IDs     []string
	Vectors [][]float32
}

func (vi *VectorIndex) MarshalBinary() ([]byte, error) {
	var buf bytes.Buffer
	err := gob.NewEncoder(&buf).Encode(vectorSnapshot{
		Metric:  vi.metric,
		Dim:     vi.dim,
		IDs:     vi.ids,
		Vectors: vi.vectors,
	})
	if err != nil {
		return nil, fmt.Errorf("encoding vector index: %w", err)
	}
	return buf.Bytes(), nil
}

func (vi *VectorIndex) UnmarshalBinary(data []byte) error {
	var snap vectorSnapshot
	if err := gob.NewDecoder(bytes.NewReader(data)).Decode(&snap); err != nil {
		return fmt.Errorf("decoding vector index: %w", err)
	}
	if len(snap.IDs) != len(snap.Vectors) {
		return fmt.Errorf("decoding vector index: %d ids for %d vectors", len(snap.IDs), len(snap.Vectors))
	}

	*vi = *NewVectorIndex(snap.Metric, snap.Dim)
	for i, id := range snap.IDs {
		if err := vi.Add(id, snap.Vectors[i]); err != nil {
			return err
		}
	}
	return nil
}

func dot(a, b []float32) float64 {
	var sum float64
	for i := range a {
		sum += float64(a[i]) * float64(b[i])
	}
	return sum
}

func norm(v []float32) float64 {
	return math.Sqrt(dot(v, v))
}
