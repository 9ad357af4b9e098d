package retriever

import (
	"strings"

	"github.com/xhad/gamescout/internal/models"
)

// DiversityReranker favours the best chunk of each document so one long
// page does not fill every slot. Chunks whose title matches the query and
// chunks found by both lists get an extra boost.
type DiversityReranker struct {
	DiversityFactor float64
	TitleBoost      float64
	BothBoost       float64
}

func NewDiversityReranker(diversityFactor float64) *DiversityReranker {
	return &DiversityReranker{
		DiversityFactor: diversityFactor,
		TitleBoost:      1.5,
		BothBoost:       1.2,
	}
}

func (d *DiversityReranker) Rerank(q models.Query, hits []models.Hit) []models.Hit {
	query := strings.ToLower(q.SearchText())
	seen := make(map[string]bool)

	out := make([]models.Hit, len(hits))
	for i, h := range hits {
		if !seen[h.Chunk.DocumentID] {
			seen[h.Chunk.DocumentID] = true
			h.Score *= 1 + d.DiversityFactor
		}
		if title := strings.ToLower(strings.TrimSpace(h.Chunk.Title)); title != "" && query != "" &&
			(strings.Contains(query, title) || strings.Contains(title, query)) {
			h.Score *= d.TitleBoost
		}
		if h.Source == models.SourceBoth {
			h.Score *= d.BothBoost
		}
		out[i] = h
	}
	SortHits(out)
	return out
}
