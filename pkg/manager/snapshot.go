package manager

import (
	"encoding/gob"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"time"

	"github.com/xhad/gamescout/internal/models"
	"github.com/xhad/gamescout/pkg/index"
)

const snapshotPattern = "generation-%d.gob"

type snapshotFile struct {
	Number  uint64
	ModelID string
	Dim     int
	Docs    int
	BuiltAt time.Time
	Vector  []byte
	Chunks  []models.Chunk
}

// SaveSnapshot writes the active generation to dir and returns the file
// path. The file appears atomically.
func (m *Manager) SaveSnapshot(dir string) (string, error) {
	lease, err := m.Acquire()
	if err != nil {
		return "", err
	}
	defer lease.Release()
	g := lease.Generation()

	snap := snapshotFile{
		Number:  g.number,
		ModelID: g.modelID,
		Dim:     g.dim,
		Docs:    g.docs,
		BuiltAt: g.builtAt,
		Chunks:  make([]models.Chunk, 0, len(g.chunks)),
	}
	if g.vector != nil {
		if snap.Vector, err = g.vector.MarshalBinary(); err != nil {
			return "", err
		}
	}
	for _, c := range g.chunks {
		snap.Chunks = append(snap.Chunks, c)
	}
	sort.Slice(snap.Chunks, func(i, j int) bool { return snap.Chunks[i].ID < snap.Chunks[j].ID })

	if err := os.MkdirAll(dir, 0755); err != nil {
		return "", fmt.Errorf("creating snapshot directory: %w", err)
	}
	tmp, err := os.CreateTemp(dir, "generation-*.tmp")
	if err != nil {
		return "", fmt.Errorf("creating snapshot file: %w", err)
	}
	defer os.Remove(tmp.Name())

	if err := gob.NewEncoder(tmp).Encode(snap); err != nil {
		tmp.Close()
		return "", fmt.Errorf("encoding snapshot: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return "", fmt.Errorf("syncing snapshot: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return "", fmt.Errorf("closing snapshot: %w", err)
	}

	path := filepath.Join(dir, fmt.Sprintf(snapshotPattern, g.number))
	if err := os.Rename(tmp.Name(), path); err != nil {
		return "", fmt.Errorf("renaming snapshot: %w", err)
	}
	m.log.Info("snapshot saved", "generation", g.number, "path", path)
	m.pruneSnapshots(dir, g.number)
	return path, nil
}

// LoadLatest restores the highest-numbered snapshot in dir and promotes it.
// Generations built afterwards are numbered above it.
func (m *Manager) LoadLatest(dir string) (*Generation, error) {
	path, number, err := latestSnapshot(dir)
	if err != nil {
		return nil, err
	}

	m.buildMu.Lock()
	defer m.buildMu.Unlock()

	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("opening snapshot: %w", err)
	}
	defer f.Close()

	var snap snapshotFile
	if err := gob.NewDecoder(f).Decode(&snap); err != nil {
		return nil, fmt.Errorf("decoding snapshot %s: %w", path, err)
	}
	if snap.Number != number {
		return nil, fmt.Errorf("snapshot %s holds generation %d", path, snap.Number)
	}

	g := &Generation{
		number:  snap.Number,
		modelID: snap.ModelID,
		dim:     snap.Dim,
		docs:    snap.Docs,
		builtAt: snap.BuiltAt,
		chunks:  make(map[string]models.Chunk, len(snap.Chunks)),
		lexical: m.newLexical(),
	}
	g.state.Store(int32(StateBuilding))

	if len(snap.Vector) > 0 {
		if m.config.Embedder == nil || m.config.Embedder.ModelID() != snap.ModelID {
			return nil, &models.BuildValidationError{
				Generation: snap.Number,
				Reasons:    []string{fmt.Sprintf("snapshot embedded with %q, current embedder differs", snap.ModelID)},
			}
		}
		g.vector = &index.VectorIndex{}
		if err := g.vector.UnmarshalBinary(snap.Vector); err != nil {
			return nil, err
		}
	}
	for _, c := range snap.Chunks {
		if err := g.lexical.Add(c.ID, indexText(c)); err != nil {
			return nil, fmt.Errorf("restoring snapshot %s: %w", path, err)
		}
		g.chunks[c.ID] = c
	}

	for {
		cur := m.next.Load()
		if cur >= number || m.next.CompareAndSwap(cur, number) {
			break
		}
	}

	g.state.Store(int32(StateReady))
	if err := m.Promote(g); err != nil {
		return nil, err
	}
	m.log.Info("snapshot loaded", "generation", g.number, "path", path, "chunks", len(g.chunks))
	return g, nil
}

// snapshots maps each snapshot file in dir to its generation number.
func snapshots(dir string) (map[string]uint64, error) {
	matches, err := filepath.Glob(filepath.Join(dir, "generation-*.gob"))
	if err != nil {
		return nil, err
	}
	out := make(map[string]uint64, len(matches))
	for _, path := range matches {
		var n uint64
		if _, err := fmt.Sscanf(filepath.Base(path), snapshotPattern, &n); err != nil {
			continue
		}
		out[path] = n
	}
	return out, nil
}

func latestSnapshot(dir string) (string, uint64, error) {
	all, err := snapshots(dir)
	if err != nil {
		return "", 0, err
	}
	var best string
	var bestN uint64
	for path, n := range all {
		if best == "" || n > bestN {
			best, bestN = path, n
		}
	}
	if best == "" {
		return "", 0, fmt.Errorf("%w: no snapshot in %s", models.ErrNoActiveGeneration, dir)
	}
	return best, bestN, nil
}

// pruneSnapshots removes snapshots older than keep. Failures are logged; the
// newest snapshot is already in place.
func (m *Manager) pruneSnapshots(dir string, keep uint64) {
	all, err := snapshots(dir)
	if err != nil {
		m.log.Warn("failed to list snapshots", "dir", dir, "error", err)
		return
	}
	for path, n := range all {
		if n >= keep {
			continue
		}
		if err := os.Remove(path); err != nil {
			m.log.Warn("failed to remove old snapshot", "path", path, "error", err)
			continue
		}
		m.log.Debug("removed old snapshot", "generation", n, "path", path)
	}
}
