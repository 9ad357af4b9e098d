package assembler_test

import (
	"fmt"
	"math/rand"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xhad/gamescout/internal/models"
	"github.com/xhad/gamescout/pkg/assembler"
	"github.com/xhad/gamescout/pkg/llm"
)

func hit(id, title string, words int) models.Hit {
	w := make([]string, words)
	for i := range w {
		w[i] = fmt.Sprintf("%s%d", id, i)
	}
	return models.Hit{
		ChunkID: id,
		Chunk:   models.Chunk{ID: id, Title: title, Text: strings.Join(w, " ")},
	}
}

func newAssembler(t *testing.T, budget int) *assembler.Assembler {
	t.Helper()
	a, err := assembler.NewWithConfig(assembler.AssemblerConfig{
		TokenBudget: budget,
		Tokenizer:   llm.WordTokenizer{},
	})
	require.NoError(t, err)
	return a
}

func TestAssemble_EmptyFieldsRenderMarker(t *testing.T) {
	a := newAssembler(t, 500)

	ctx, err := a.Assemble(models.RetrievalResult{}, models.Query{})
	require.NoError(t, err)

	for _, slot := range []string{"Region: (none)", "Class: (none)", "Keywords: (none)", "Points of interest: (none)", "Quests: (none)", "Question: (none)"} {
		assert.Contains(t, ctx.Prompt, slot)
	}
	assert.Empty(t, ctx.Included)
}

func TestAssemble_SlotOrderIsFixed(t *testing.T) {
	a := newAssembler(t, 500)
	q := models.Query{
		Text: "Where do I go next?",
		State: models.GameState{
			Region:           "Emerald Grove",
			CharacterClass:   "Paladin",
			Keywords:         []string{"tiefling", "druid"},
			PointsOfInterest: []string{"Sacred Pool"},
			Quests:           []string{"Save the Refugees", "Find Halsin"},
		},
	}

	ctx, err := a.Assemble(models.RetrievalResult{Hits: []models.Hit{hit("grove", "Emerald Grove", 10)}}, q)
	require.NoError(t, err)

	order := []string{
		"Region: Emerald Grove",
		"Class: Paladin",
		"Keywords: tiefling, druid",
		"Points of interest: Sacred Pool",
		"Quests: Save the Refugees, Find Halsin",
		"[1] Emerald Grove",
		"Question: Where do I go next?",
	}
	last := -1
	for _, s := range order {
		idx := strings.Index(ctx.Prompt, s)
		require.GreaterOrEqual(t, idx, 0, s)
		assert.Greater(t, idx, last, s)
		last = idx
	}
}

func TestAssemble_WholeChunksInRankOrder(t *testing.T) {
	a := newAssembler(t, 120)
	result := models.RetrievalResult{Hits: []models.Hit{
		hit("a", "A", 30),
		hit("b", "B", 30),
		hit("c", "C", 60),
		hit("d", "D", 5),
	}}

	ctx, err := a.Assemble(result, models.Query{Text: "question"})
	require.NoError(t, err)

	require.Len(t, ctx.Included, 2)
	assert.Equal(t, "a", ctx.Included[0].ChunkID)
	assert.Equal(t, "b", ctx.Included[1].ChunkID)
	assert.Equal(t, 2, ctx.Dropped)
	assert.Contains(t, ctx.Prompt, result.Hits[1].Chunk.Text)
	assert.NotContains(t, ctx.Prompt, "c0")
	assert.NotContains(t, ctx.Prompt, "d0", "assembly stops at the first chunk that does not fit")
	assert.LessOrEqual(t, ctx.Tokens, 120)
}

func TestAssemble_NeverExceedsBudget(t *testing.T) {
	rng := rand.New(rand.NewSource(7))
	tok := llm.WordTokenizer{}

	for trial := 0; trial < 50; trial++ {
		budget := 40 + rng.Intn(400)
		a := newAssembler(t, budget)

		var hits []models.Hit
		for i := 0; i < rng.Intn(30); i++ {
			hits = append(hits, hit(fmt.Sprintf("h%d_", i), "T", 1+rng.Intn(80)))
		}

		ctx, err := a.Assemble(models.RetrievalResult{Hits: hits}, models.Query{Text: "how to beat the fire giant"})
		require.NoError(t, err)
		assert.LessOrEqual(t, tok.Count(ctx.Prompt), budget)
		assert.Equal(t, tok.Count(ctx.Prompt), ctx.Tokens)
		assert.Equal(t, len(hits), len(ctx.Included)+ctx.Dropped)
	}
}

func TestAssemble_HeaderOverBudget(t *testing.T) {
	a := newAssembler(t, 5)
	_, err := a.Assemble(models.RetrievalResult{}, models.Query{Text: "anything"})
	assert.ErrorIs(t, err, models.ErrBudgetExceeded)
}

func TestAssemble_Deterministic(t *testing.T) {
	a := newAssembler(t, 300)
	result := models.RetrievalResult{Hits: []models.Hit{hit("a", "A", 20), hit("b", "", 20)}}
	q := models.Query{Text: "q", State: models.GameState{Region: "Underdark"}}

	first, err := a.Assemble(result, q)
	require.NoError(t, err)
	second, err := a.Assemble(result, q)
	require.NoError(t, err)
	assert.Equal(t, first.Prompt, second.Prompt)
	assert.Contains(t, first.Prompt, "[2] \n")
}

func TestNewWithConfig_Validation(t *testing.T) {
	_, err := assembler.NewWithConfig(assembler.AssemblerConfig{TokenBudget: 0, Tokenizer: llm.WordTokenizer{}})
	assert.Error(t, err)
	_, err = assembler.NewWithConfig(assembler.AssemblerConfig{TokenBudget: 10})
	assert.Error(t, err)
}
