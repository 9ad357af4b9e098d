package store

import (
	"context"
	"database/sql"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "modernc.org/sqlite" // SQLite driver

	"github.com/xhad/gamescout/internal/models"
)

const sqliteSchema = `
CREATE TABLE IF NOT EXISTS documents (
	id          TEXT PRIMARY KEY,
	url         TEXT,
	title       TEXT,
	content     TEXT NOT NULL,
	region      TEXT,
	tags        TEXT,
	metadata    TEXT,
	ingested_at DATETIME
);
CREATE TABLE IF NOT EXISTS embeddings (
	model       TEXT NOT NULL,
	fingerprint TEXT NOT NULL,
	vector      BLOB NOT NULL,
	PRIMARY KEY (model, fingerprint)
);`

// SQLiteStore keeps documents and embeddings in a local database file.
type SQLiteStore struct {
	db   *sql.DB
	path string
}

func NewSQLiteStore(dataDir string) (*SQLiteStore, error) {
	if err := os.MkdirAll(dataDir, 0700); err != nil {
		return nil, fmt.Errorf("creating data directory: %w", err)
	}
	dbPath := filepath.Join(dataDir, "gamescout.db")

	// WAL lets queries read while a rebuild writes
	db, err := sql.Open("sqlite", dbPath+"?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)")
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}
	if _, err := db.Exec(sqliteSchema); err != nil {
		db.Close()
		return nil, fmt.Errorf("creating schema: %w", err)
	}

	return &SQLiteStore{db: db, path: dbPath}, nil
}

func (s *SQLiteStore) Path() string { return s.path }

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

func (s *SQLiteStore) SaveDocuments(ctx context.Context, docs []models.Document) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("beginning transaction: %w", err)
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO documents (id, url, title, content, region, tags, metadata, ingested_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			url = excluded.url,
			title = excluded.title,
			content = excluded.content,
			region = excluded.region,
			tags = excluded.tags,
			metadata = excluded.metadata,
			ingested_at = excluded.ingested_at`)
	if err != nil {
		return fmt.Errorf("preparing statement: %w", err)
	}
	defer stmt.Close()

	for _, doc := range docs {
		tags, err := json.Marshal(doc.Tags)
		if err != nil {
			return fmt.Errorf("marshaling tags for %s: %w", doc.ID, err)
		}
		meta, err := json.Marshal(doc.Metadata)
		if err != nil {
			return fmt.Errorf("marshaling metadata for %s: %w", doc.ID, err)
		}
		ingested := doc.IngestedAt
		if ingested.IsZero() {
			ingested = time.Now().UTC()
		}
		if _, err := stmt.ExecContext(ctx, doc.ID, doc.URL, doc.Title, doc.Content,
			doc.Region, string(tags), string(meta), ingested); err != nil {
			return fmt.Errorf("saving document %s: %w", doc.ID, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("committing transaction: %w", err)
	}
	return nil
}

func (s *SQLiteStore) LoadDocuments(ctx context.Context) ([]models.Document, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, url, title, content, region, tags, metadata, ingested_at
		FROM documents ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("querying documents: %w", err)
	}
	defer rows.Close()

	var docs []models.Document
	for rows.Next() {
		var doc models.Document
		var url, title, region, tags, meta sql.NullString
		var ingested sql.NullTime
		if err := rows.Scan(&doc.ID, &url, &title, &doc.Content, &region, &tags, &meta, &ingested); err != nil {
			return nil, fmt.Errorf("scanning document: %w", err)
		}
		doc.URL, doc.Title, doc.Region = url.String, title.String, region.String
		if tags.Valid && tags.String != "" && tags.String != "null" {
			if err := json.Unmarshal([]byte(tags.String), &doc.Tags); err != nil {
				return nil, fmt.Errorf("decoding tags for %s: %w", doc.ID, err)
			}
		}
		if meta.Valid && meta.String != "" && meta.String != "null" {
			if err := json.Unmarshal([]byte(meta.String), &doc.Metadata); err != nil {
				return nil, fmt.Errorf("decoding metadata for %s: %w", doc.ID, err)
			}
		}
		if ingested.Valid {
			doc.IngestedAt = ingested.Time
		}
		docs = append(docs, doc)
	}
	return docs, rows.Err()
}

func (s *SQLiteStore) SaveEmbeddings(ctx context.Context, modelID string, vectors map[string][]float32) error {
	if len(vectors) == 0 {
		return nil
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("beginning transaction: %w", err)
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO embeddings (model, fingerprint, vector) VALUES (?, ?, ?)
		ON CONFLICT(model, fingerprint) DO UPDATE SET vector = excluded.vector`)
	if err != nil {
		return fmt.Errorf("preparing statement: %w", err)
	}
	defer stmt.Close()

	for fp, v := range vectors {
		if _, err := stmt.ExecContext(ctx, modelID, fp, float32SliceToBytes(v)); err != nil {
			return fmt.Errorf("saving embedding: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("committing transaction: %w", err)
	}
	return nil
}

// sqlite caps bound parameters per statement, so lookups go in pages
const lookupPage = 500

func (s *SQLiteStore) LoadEmbeddings(ctx context.Context, modelID string, fingerprints []string) (map[string][]float32, error) {
	out := make(map[string][]float32)
	for start := 0; start < len(fingerprints); start += lookupPage {
		end := start + lookupPage
		if end > len(fingerprints) {
			end = len(fingerprints)
		}
		page := fingerprints[start:end]

		args := make([]any, 0, len(page)+1)
		args = append(args, modelID)
		for _, fp := range page {
			args = append(args, fp)
		}
		query := fmt.Sprintf(`SELECT fingerprint, vector FROM embeddings WHERE model = ? AND fingerprint IN (%s)`,
			strings.TrimSuffix(strings.Repeat("?,", len(page)), ","))

		rows, err := s.db.QueryContext(ctx, query, args...)
		if err != nil {
			return nil, fmt.Errorf("querying embeddings: %w", err)
		}
		for rows.Next() {
			var fp string
			var blob []byte
			if err := rows.Scan(&fp, &blob); err != nil {
				rows.Close()
				return nil, fmt.Errorf("scanning embedding: %w", err)
			}
			out[fp] = bytesToFloat32Slice(blob)
		}
		if err := rows.Err(); err != nil {
			rows.Close()
			return nil, err
		}
		rows.Close()
	}
	return out, nil
}

// float32SliceToBytes converts a []float32 to a byte slice for storage.
func float32SliceToBytes(floats []float32) []byte {
	buf := make([]byte, len(floats)*4)
	for i, f := range floats {
		binary.LittleEndian.PutUint32(buf[i*4:], math.Float32bits(f))
	}
	return buf
}

// bytesToFloat32Slice converts a byte slice back to []float32.
func bytesToFloat32Slice(data []byte) []float32 {
	floats := make([]float32, len(data)/4)
	for i := range floats {
		floats[i] = math.Float32frombits(binary.LittleEndian.Uint32(data[i*4:]))
	}
	return floats
}
