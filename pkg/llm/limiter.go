package llm

import (
	"context"
	"fmt"

	"github.com/xhad/gamescout/internal/models"
	"github.com/xhad/gamescout/internal/types"
	"golang.org/x/time/rate"
)

// RateLimitedGenerator spaces out calls to a model server. A caller whose
// context ends while waiting gets ErrGenerationUnavailable.
type RateLimitedGenerator struct {
	inner   types.Generator
	limiter *rate.Limiter
}

func NewRateLimitedGenerator(inner types.Generator, perSecond float64) *RateLimitedGenerator {
	return &RateLimitedGenerator{
		inner:   inner,
		limiter: rate.NewLimiter(rate.Limit(perSecond), 1),
	}
}

func (g *RateLimitedGenerator) Generate(ctx context.Context, prompt string, opts types.GenerateOptions) (string, error) {
	if err := g.limiter.Wait(ctx); err != nil {
		return "", fmt.Errorf("%w: %v", models.ErrGenerationUnavailable, err)
	}
	return g.inner.Generate(ctx, prompt, opts)
}
