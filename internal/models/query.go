package models

import (
	"strings"
	"time"
)

// GameState is the structured state extracted from the running game.
type GameState struct {
	Region           string   `json:"region,omitempty"`
	CharacterClass   string   `json:"character_class,omitempty"`
	Keywords         []string `json:"keywords,omitempty"`
	PointsOfInterest []string `json:"points_of_interest,omitempty"`
	Quests           []string `json:"quests,omitempty"`
}

type Query struct {
	Text  string    `json:"text"`
	State GameState `json:"state"`
}

// SearchText is the text handed to the embedder and the lexical index. When
// the free text is empty it is built from the state fields.
func (q Query) SearchText() string {
	if t := strings.TrimSpace(q.Text); t != "" {
		return t
	}
	var parts []string
	if q.State.Region != "" {
		parts = append(parts, q.State.Region)
	}
	if q.State.CharacterClass != "" {
		parts = append(parts, q.State.CharacterClass)
	}
	parts = append(parts, q.State.Keywords...)
	parts = append(parts, q.State.PointsOfInterest...)
	parts = append(parts, q.State.Quests...)
	return strings.Join(parts, " ")
}

type Source string

const (
	SourceDense   Source = "dense"
	SourceLexical Source = "lexical"
	SourceBoth    Source = "both"
)

type Mode string

const (
	ModeHybrid  Mode = "hybrid"
	ModeDense   Mode = "dense_only"
	ModeLexical Mode = "lexical_only"
	ModeNone    Mode = "none"
)

type Hit struct {
	ChunkID string  `json:"chunk_id"`
	Score   float64 `json:"score"`
	Source  Source  `json:"source"`
	Chunk   Chunk   `json:"-"`
}

type RetrievalResult struct {
	Generation uint64   `json:"generation"`
	Mode       Mode     `json:"mode"`
	Hits       []Hit    `json:"hits"`
	Degraded   []string `json:"degraded,omitempty"`
}

type Status string

const (
	StatusOK          Status = "ok"
	StatusUnavailable Status = "unavailable"
)

// Response is what every Ask returns, including failures.
type Response struct {
	ID         string    `json:"id"`
	Status     Status    `json:"status"`
	Reason     string    `json:"reason,omitempty"`
	Answer     string    `json:"answer,omitempty"`
	Advice     []string  `json:"advice,omitempty"`
	Generation uint64    `json:"generation"`
	Mode       Mode      `json:"mode,omitempty"`
	Sources    []string  `json:"sources,omitempty"`
	Degraded   []string  `json:"degraded,omitempty"`
	CacheHit   bool      `json:"cache_hit"`
	CreatedAt  time.Time `json:"created_at"`
}
