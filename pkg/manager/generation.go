package manager

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/xhad/gamescout/internal/models"
	"github.com/xhad/gamescout/pkg/index"
)

type State int32

const (
	StateBuilding State = iota
	StateReady
	StateActive
	StateRetiring
	StateDiscarded
)

func (s State) String() string {
	switch s {
	case StateBuilding:
		return "building"
	case StateReady:
		return "ready"
	case StateActive:
		return "active"
	case StateRetiring:
		return "retiring"
	case StateDiscarded:
		return "discarded"
	}
	return "unknown"
}

// Generation is one immutable build of the indexes. Queries hold it through
// a Lease; it is discarded once it has been replaced and the last lease is
// released.
type Generation struct {
	number  uint64
	modelID string
	dim     int
	vector  *index.VectorIndex
	lexical *index.LexicalIndex
	chunks  map[string]models.Chunk
	docs    int
	builtAt time.Time

	state atomic.Int32
	refs  atomic.Int64
}

func (g *Generation) Number() uint64                    { return g.number }
func (g *Generation) ModelID() string                   { return g.modelID }
func (g *Generation) Dimension() int                    { return g.dim }
func (g *Generation) VectorIndex() *index.VectorIndex   { return g.vector }
func (g *Generation) LexicalIndex() *index.LexicalIndex { return g.lexical }
func (g *Generation) Documents() int                    { return g.docs }
func (g *Generation) Chunks() int                       { return len(g.chunks) }
func (g *Generation) BuiltAt() time.Time                { return g.builtAt }
func (g *Generation) State() State                      { return State(g.state.Load()) }
func (g *Generation) Refs() int64                       { return g.refs.Load() }

func (g *Generation) Chunk(id string) (models.Chunk, bool) {
	c, ok := g.chunks[id]
	return c, ok
}

// LexicalOnly reports whether the generation was built without embeddings.
func (g *Generation) LexicalOnly() bool {
	return g.vector == nil || g.vector.Size() == 0
}

func (g *Generation) transition(from, to State) bool {
	return g.state.CompareAndSwap(int32(from), int32(to))
}

// Lease pins a generation for the duration of one query.
type Lease struct {
	gen  *Generation
	m    *Manager
	once sync.Once
}

func (l *Lease) Generation() *Generation { return l.gen }

// Release drops the reference. Calling it more than once is a no-op.
func (l *Lease) Release() {
	l.once.Do(func() { l.m.release(l.gen) })
}
