package models

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"time"
)

type Document struct {
	ID         string                 `json:"id"`
	URL        string                 `json:"url,omitempty"`
	Title      string                 `json:"title"`
	Content    string                 `json:"content"`
	Region     string                 `json:"region,omitempty"`
	Tags       []string               `json:"tags,omitempty"`
	Metadata   map[string]interface{} `json:"metadata,omitempty"`
	IngestedAt time.Time              `json:"ingested_at,omitempty"`
}

// Chunk is a contiguous token window of one document. Offset is the index of
// the chunk's first token in the normalized document text.
type Chunk struct {
	ID          string
	DocumentID  string
	Title       string
	URL         string
	Region      string
	Text        string
	Offset      int
	Tokens      int
	OverlapPrev int
	OverlapNext int
	Fingerprint string
}

// ChunkID formats the stable identifier of the chunk starting at offset.
func ChunkID(docID string, offset int) string {
	return fmt.Sprintf("%s#%06d", docID, offset)
}

// Fingerprint hashes chunk text. Stores key embeddings by fingerprint and
// model id together.
func Fingerprint(text string) string {
	sum := sha256.Sum256([]byte(text))
	return hex.EncodeToString(sum[:])
}
