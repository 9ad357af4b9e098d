package store

import (
	"context"
	"encoding/json"
	"fmt"
	"time"
	"unicode/utf8"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/pgvector/pgvector-go"
	"github.com/xhad/gamescout/internal/models"
)

type PostgresConfig struct {
	ConnString string
	TableName  string
}

// PostgresStore keeps documents and embeddings in Postgres, with vectors in
// pgvector columns so the same rows can be queried from SQL.
type PostgresStore struct {
	config PostgresConfig
	pool   *pgxpool.Pool
}

func NewPostgresStore(ctx context.Context, config PostgresConfig) (*PostgresStore, error) {
	if config.TableName == "" {
		config.TableName = "chunk_embeddings"
	}

	pool, err := pgxpool.New(ctx, config.ConnString)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	ps := &PostgresStore{config: config, pool: pool}
	if err := ps.initialize(ctx); err != nil {
		pool.Close()
		return nil, err
	}
	return ps, nil
}

func (ps *PostgresStore) initialize(ctx context.Context) error {
	// Enable pgvector extension
	if _, err := ps.pool.Exec(ctx, "CREATE EXTENSION IF NOT EXISTS vector"); err != nil {
		return fmt.Errorf("failed to create vector extension: %w", err)
	}

	_, err := ps.pool.Exec(ctx, `
		CREATE TABLE IF NOT EXISTS documents (
			id TEXT PRIMARY KEY,
			url TEXT,
			title TEXT,
			content TEXT NOT NULL,
			region TEXT,
			tags JSONB,
			metadata JSONB,
			ingested_at TIMESTAMPTZ
		)`)
	if err != nil {
		return fmt.Errorf("failed to create documents table: %w", err)
	}

	// dimension is left open: one table holds vectors from several models
	_, err = ps.pool.Exec(ctx, fmt.Sprintf(`
		CREATE TABLE IF NOT EXISTS %s (
			model TEXT NOT NULL,
			fingerprint TEXT NOT NULL,
			embedding vector NOT NULL,
			PRIMARY KEY (model, fingerprint)
		)`, pgx.Identifier{ps.config.TableName}.Sanitize()))
	if err != nil {
		return fmt.Errorf("failed to create embeddings table: %w", err)
	}
	return nil
}

func (ps *PostgresStore) SaveDocuments(ctx context.Context, docs []models.Document) error {
	tx, err := ps.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	for _, doc := range docs {
		tags, err := json.Marshal(doc.Tags)
		if err != nil {
			return fmt.Errorf("failed to marshal tags for %s: %w", doc.ID, err)
		}
		meta, err := json.Marshal(doc.Metadata)
		if err != nil {
			return fmt.Errorf("failed to marshal metadata for %s: %w", doc.ID, err)
		}
		ingested := doc.IngestedAt
		if ingested.IsZero() {
			ingested = time.Now().UTC()
		}

		_, err = tx.Exec(ctx, `
			INSERT INTO documents (id, url, title, content, region, tags, metadata, ingested_at)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
			ON CONFLICT (id) DO UPDATE SET
				url = EXCLUDED.url,
				title = EXCLUDED.title,
				content = EXCLUDED.content,
				region = EXCLUDED.region,
				tags = EXCLUDED.tags,
				metadata = EXCLUDED.metadata,
				ingested_at = EXCLUDED.ingested_at`,
			doc.ID, doc.URL, sanitizeUTF8(doc.Title), sanitizeUTF8(doc.Content),
			doc.Region, tags, meta, ingested)
		if err != nil {
			return fmt.Errorf("failed to insert document %s: %w", doc.ID, err)
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

func (ps *PostgresStore) LoadDocuments(ctx context.Context) ([]models.Document, error) {
	rows, err := ps.pool.Query(ctx, `
		SELECT id, COALESCE(url, ''), COALESCE(title, ''), content, COALESCE(region, ''), tags, metadata, ingested_at
		FROM documents ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("failed to query documents: %w", err)
	}
	defer rows.Close()

	var docs []models.Document
	for rows.Next() {
		var doc models.Document
		var tags, meta []byte
		var ingested *time.Time
		if err := rows.Scan(&doc.ID, &doc.URL, &doc.Title, &doc.Content, &doc.Region, &tags, &meta, &ingested); err != nil {
			return nil, fmt.Errorf("failed to scan row: %w", err)
		}
		if len(tags) > 0 {
			if err := json.Unmarshal(tags, &doc.Tags); err != nil {
				return nil, fmt.Errorf("failed to decode tags for %s: %w", doc.ID, err)
			}
		}
		if len(meta) > 0 {
			if err := json.Unmarshal(meta, &doc.Metadata); err != nil {
				return nil, fmt.Errorf("failed to decode metadata for %s: %w", doc.ID, err)
			}
		}
		if ingested != nil {
			doc.IngestedAt = *ingested
		}
		docs = append(docs, doc)
	}
	return docs, rows.Err()
}

func (ps *PostgresStore) SaveEmbeddings(ctx context.Context, modelID string, vectors map[string][]float32) error {
	if len(vectors) == 0 {
		return nil
	}

	stmt := fmt.Sprintf(`
		INSERT INTO %s (model, fingerprint, embedding) VALUES ($1, $2, $3)
		ON CONFLICT (model, fingerprint) DO UPDATE SET embedding = EXCLUDED.embedding`,
		pgx.Identifier{ps.config.TableName}.Sanitize())

	batch := &pgx.Batch{}
	for fp, v := range vectors {
		batch.Queue(stmt, modelID, fp, pgvector.NewVector(v))
	}
	if err := ps.pool.SendBatch(ctx, batch).Close(); err != nil {
		return fmt.Errorf("failed to store embeddings: %w", err)
	}
	return nil
}

func (ps *PostgresStore) LoadEmbeddings(ctx context.Context, modelID string, fingerprints []string) (map[string][]float32, error) {
	out := make(map[string][]float32)
	if len(fingerprints) == 0 {
		return out, nil
	}

	rows, err := ps.pool.Query(ctx, fmt.Sprintf(
		`SELECT fingerprint, embedding FROM %s WHERE model = $1 AND fingerprint = ANY($2)`,
		pgx.Identifier{ps.config.TableName}.Sanitize()), modelID, fingerprints)
	if err != nil {
		return nil, fmt.Errorf("failed to query embeddings: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var fp string
		var v pgvector.Vector
		if err := rows.Scan(&fp, &v); err != nil {
			return nil, fmt.Errorf("failed to scan row: %w", err)
		}
		out[fp] = v.Slice()
	}
	return out, rows.Err()
}

func (ps *PostgresStore) Close() error {
	if ps.pool != nil {
		ps.pool.Close()
	}
	return nil
}

// sanitizeUTF8 drops invalid bytes, which Postgres rejects in TEXT columns.
func sanitizeUTF8(s string) string {
	if utf8.ValidString(s) {
		return s
	}
	v := make([]rune, 0, len(s))
	for i, r := range s {
		if r == utf8.RuneError {
			_, size := utf8.DecodeRuneInString(s[i:])
			if size == 1 {
				continue
			}
		}
		v = append(v, r)
	}
	return string(v)
}
