package retriever

import (
	"context"

	"github.com/xhad/gamescout/internal/models"
)

type SmokeReport struct {
	Query    string
	Mode     models.Mode
	Hits     []models.Hit
	Degraded []string
}

// Smoke runs each query through Search without touching caches or the
// generator.
func (r *Retriever) Smoke(ctx context.Context, snap Snapshot, queries []string) []SmokeReport {
	reports := make([]SmokeReport, 0, len(queries))
	for _, text := range queries {
		res := r.Search(ctx, snap, models.Query{Text: text})
		reports = append(reports, SmokeReport{
			Query:    text,
			Mode:     res.Mode,
			Hits:     res.Hits,
			Degraded: res.Degraded,
		})
	}
	return reports
}
