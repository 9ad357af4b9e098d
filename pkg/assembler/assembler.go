package assembler

import (
	"fmt"
	"strings"

	"github.com/xhad/gamescout/internal/models"
	"github.com/xhad/gamescout/internal/types"
)

// EmptyMarker is rendered for any state field with no value.
const EmptyMarker = "(none)"

type AssemblerConfig struct {
	TokenBudget int
	Tokenizer   types.Tokenizer
}

// Context is an assembled prompt and the chunks that made it in.
type Context struct {
	Prompt   string
	Tokens   int
	Included []models.Hit
	Dropped  int
}

type Assembler struct {
	config AssemblerConfig
}

func NewWithConfig(config AssemblerConfig) (*Assembler, error) {
	if config.TokenBudget <= 0 {
		return nil, fmt.Errorf("token budget must be positive")
	}
	if config.Tokenizer == nil {
		return nil, fmt.Errorf("tokenizer is required")
	}
	return &Assembler{config: config}, nil
}

// Assemble renders the game state into its fixed slots, then appends
// retrieved passages in rank order. A passage goes in whole or not at all,
// and assembly stops at the first one that would push the prompt past the
// budget.
func (a *Assembler) Assemble(result models.RetrievalResult, q models.Query) (Context, error) {
	header := renderHeader(q)
	if n := a.count(header + renderFooter(q, 0)); n > a.config.TokenBudget {
		return Context{}, fmt.Errorf("%w: %d tokens before any passage, budget %d", models.ErrBudgetExceeded, n, a.config.TokenBudget)
	}

	var passages []string
	var included []models.Hit
	for i, hit := range result.Hits {
		candidate := append(passages, renderPassage(len(passages)+1, hit))
		if a.count(compose(header, candidate, q)) > a.config.TokenBudget {
			return a.finish(header, passages, included, q, len(result.Hits)-i), nil
		}
		passages = candidate
		included = append(included, hit)
	}
	return a.finish(header, passages, included, q, 0), nil
}

func (a *Assembler) finish(header string, passages []string, included []models.Hit, q models.Query, dropped int) Context {
	prompt := compose(header, passages, q)
	return Context{
		Prompt:   prompt,
		Tokens:   a.count(prompt),
		Included: included,
		Dropped:  dropped,
	}
}

func (a *Assembler) count(text string) int {
	return a.config.Tokenizer.Count(text)
}

func compose(header string, passages []string, q models.Query) string {
	var b strings.Builder
	b.WriteString(header)
	for _, p := range passages {
		b.WriteString(p)
	}
	b.WriteString(renderFooter(q, len(passages)))
	return b.String()
}

func renderHeader(q models.Query) string {
	var b strings.Builder
	b.WriteString("Current game state:\n")
	fmt.Fprintf(&b, "Region: %s\n", value(q.State.Region))
	fmt.Fprintf(&b, "Class: %s\n", value(q.State.CharacterClass))
	fmt.Fprintf(&b, "Keywords: %s\n", list(q.State.Keywords))
	fmt.Fprintf(&b, "Points of interest: %s\n", list(q.State.PointsOfInterest))
	fmt.Fprintf(&b, "Quests: %s\n", list(q.State.Quests))
	b.WriteString("\nKnowledge base:\n")
	return b.String()
}

func renderPassage(n int, hit models.Hit) string {
	title := hit.Chunk.Title
	if title == "" {
		title = hit.Chunk.DocumentID
	}
	return fmt.Sprintf("[%d] %s\n%s\n\n", n, title, hit.Chunk.Text)
}

func renderFooter(q models.Query, passages int) string {
	var b strings.Builder
	if passages == 0 {
		fmt.Fprintf(&b, "%s\n\n", EmptyMarker)
	}
	fmt.Fprintf(&b, "Question: %s\n", value(q.Text))
	b.WriteString("Give short, specific advice for the current situation.")
	return b.String()
}

func value(s string) string {
	if s = strings.TrimSpace(s); s == "" {
		return EmptyMarker
	}
	return s
}

func list(items []string) string {
	var kept []string
	for _, it := range items {
		if it = strings.TrimSpace(it); it != "" {
			kept = append(kept, it)
		}
	}
	if len(kept) == 0 {
		return EmptyMarker
	}
	return strings.Join(kept, ", ")
}
