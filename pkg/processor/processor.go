package processor

import (
	"fmt"
	"strings"

	"github.com/xhad/gamescout/internal/models"
)

type ProcessorConfig struct {
	ChunkSize       int
	ChunkOverlap    int
	MinChunkTokens  int
	CustomStopwords []string
}

// Processor splits documents into overlapping windows of whitespace tokens.
type Processor struct {
	config    ProcessorConfig
	stopwords map[string]struct{}
}

func NewWithConfig(config ProcessorConfig) (*Processor, error) {
	if config.ChunkSize == 0 {
		config.ChunkSize = 512
	}
	if config.ChunkOverlap == 0 {
		config.ChunkOverlap = 128
	}
	if config.MinChunkTokens == 0 {
		config.MinChunkTokens = 32
	}
	if config.ChunkOverlap < 0 || config.ChunkOverlap >= config.ChunkSize {
		return nil, fmt.Errorf("chunk overlap %d must be in [0, %d)", config.ChunkOverlap, config.ChunkSize)
	}
	if config.MinChunkTokens > config.ChunkSize {
		config.MinChunkTokens = config.ChunkSize
	}

	return &Processor{
		config:    config,
		stopwords: NewStopwords(config.CustomStopwords),
	}, nil
}

func (p *Processor) Config() ProcessorConfig {
	return p.config
}

// Process chunks every document. A document that fails is reported in the
// returned error slice and does not stop the rest of the batch.
func (p *Processor) Process(docs []models.Document) ([]models.Chunk, []error) {
	var chunks []models.Chunk
	var errs []error

	for _, doc := range docs {
		docChunks, err := p.Chunk(doc)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		chunks = append(chunks, docChunks...)
	}

	return chunks, errs
}

// Chunk windows the normalized document text. Windows advance by
// ChunkSize-ChunkOverlap tokens; the last window ends at the final token and
// is pulled back to MinChunkTokens when the tail would be shorter.
func (p *Processor) Chunk(doc models.Document) ([]models.Chunk, error) {
	if strings.TrimSpace(doc.ID) == "" {
		return nil, fmt.Errorf("%w: missing id", models.ErrInvalidDocument)
	}

	tokens := strings.Fields(Normalize(doc.Content))
	if len(tokens) == 0 {
		return nil, fmt.Errorf("%w: %s has no text", models.ErrInvalidDocument, doc.ID)
	}

	size := p.config.ChunkSize
	stride := size - p.config.ChunkOverlap
	n := len(tokens)

	var starts []int
	for start := 0; ; start += stride {
		if start+size >= n {
			if len(starts) > 0 && n-start < p.config.MinChunkTokens {
				start = n - p.config.MinChunkTokens
			}
			starts = append(starts, start)
			break
		}
		starts = append(starts, start)
	}

	chunks := make([]models.Chunk, 0, len(starts))
	prevEnd := 0
	for i, start := range starts {
		end := start + size
		if end > n {
			end = n
		}
		text := strings.Join(tokens[start:end], " ")

		chunk := models.Chunk{
			ID:          models.ChunkID(doc.ID, start),
			DocumentID:  doc.ID,
			Title:       doc.Title,
			URL:         doc.URL,
			Region:      doc.Region,
			Text:        text,
			Offset:      start,
			Tokens:      end - start,
			Fingerprint: models.Fingerprint(text),
		}
		if i > 0 {
			chunk.OverlapPrev = prevEnd - start
			chunks[i-1].OverlapNext = chunk.OverlapPrev
		}
		chunks = append(chunks, chunk)
		prevEnd = end
	}

	return chunks, nil
}

// Normalize replaces invalid UTF-8 and collapses all whitespace runs to a
// single space.
func Normalize(text string) string {
	text = strings.ToValidUTF8(text, "")
	return strings.Join(strings.Fields(text), " ")
}

// Reassemble joins chunks of one document back into its normalized text,
// dropping each chunk's leading overlap.
func Reassemble(chunks []models.Chunk) string {
	var words []string
	for _, c := range chunks {
		w := strings.Fields(c.Text)
		words = append(words, w[c.OverlapPrev:]...)
	}
	return strings.Join(words, " ")
}
