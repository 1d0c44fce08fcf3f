package retrieval

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/pgvector/pgvector-go"
)

// Compile-time check that PGVectorStore implements VectorStore.
var _ VectorStore = (*PGVectorStore)(nil)

// PGVectorStore keeps profile indexes in Postgres with the pgvector
// extension and lets the server rank by cosine distance (<=>).
type PGVectorStore struct {
	pool *pgxpool.Pool
}

const pgSchema = `
CREATE EXTENSION IF NOT EXISTS vector;

CREATE TABLE IF NOT EXISTS profile_vectors (
	id         TEXT PRIMARY KEY,
	index_name TEXT NOT NULL,
	position   INT NOT NULL,
	content    TEXT NOT NULL,
	metadata   JSONB NOT NULL DEFAULT '{}'::jsonb,
	embedding  vector NOT NULL,
	created_at TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE INDEX IF NOT EXISTS idx_profile_vectors_index ON profile_vectors(index_name, position);
`

// NewPGVectorStore connects to Postgres and ensures the vector table exists.
func NewPGVectorStore(ctx context.Context, dsn string) (*PGVectorStore, error) {
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("connecting to postgres: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("pinging postgres: %w", err)
	}
	if _, err := pool.Exec(ctx, pgSchema); err != nil {
		pool.Close()
		return nil, fmt.Errorf("creating vector schema: %w", err)
	}
	return &PGVectorStore{pool: pool}, nil
}

// Close releases the connection pool.
func (p *PGVectorStore) Close() {
	p.pool.Close()
}

func (p *PGVectorStore) Insert(ctx context.Context, index string, records []Record) error {
	tx, err := p.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("beginning insert transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	var next int
	if err := tx.QueryRow(ctx,
		`SELECT COALESCE(MAX(position), 0) FROM profile_vectors WHERE index_name = $1`, index,
	).Scan(&next); err != nil {
		return fmt.Errorf("reading index position: %w", err)
	}

	batch := &pgx.Batch{}
	for _, r := range records {
		pos := r.Position
		if pos == 0 {
			next++
			pos = next
		}
		meta, err := encodeMetadata(r.Metadata)
		if err != nil {
			return fmt.Errorf("encoding metadata for %s: %w", r.ID, err)
		}
		createdAt := r.CreatedAt
		if createdAt.IsZero() {
			createdAt = time.Now().UTC()
		}
		batch.Queue(`
			INSERT INTO profile_vectors (id, index_name, position, content, metadata, embedding, created_at)
			VALUES ($1, $2, $3, $4, $5::jsonb, $6, $7)`,
			r.ID, index, pos, r.Content, meta, pgvector.NewVector(r.Embedding), createdAt)
	}
	if err := tx.SendBatch(ctx, batch).Close(); err != nil {
		return fmt.Errorf("inserting records: %w", err)
	}
	return tx.Commit(ctx)
}

func (p *PGVectorStore) Search(ctx context.Context, index string, vector []float32, topK int) ([]ScoredRecord, error) {
	if topK <= 0 || len(vector) == 0 {
		return nil, nil
	}

	rows, err := p.pool.Query(ctx, `
		SELECT id, position, content, metadata::text, embedding, created_at,
		       (embedding <=> $2) AS distance
		FROM profile_vectors
		WHERE index_name = $1
		ORDER BY embedding <=> $2, position
		LIMIT $3`,
		index, pgvector.NewVector(vector), topK)
	if err != nil {
		return nil, fmt.Errorf("searching %s: %w", index, err)
	}
	defer rows.Close()

	var results []ScoredRecord
	for rows.Next() {
		var sr ScoredRecord
		var meta string
		var emb pgvector.Vector
		var distance float64
		if err := rows.Scan(&sr.ID, &sr.Position, &sr.Content, &meta, &emb, &sr.CreatedAt, &distance); err != nil {
			return nil, fmt.Errorf("scanning search row: %w", err)
		}
		sr.Embedding = emb.Slice()
		sr.Score = float32(distance)
		if err := json.Unmarshal([]byte(meta), &sr.Metadata); err != nil {
			return nil, fmt.Errorf("decoding metadata for %s: %w", sr.ID, err)
		}
		results = append(results, sr)
	}
	return results, rows.Err()
}

func (p *PGVectorStore) Count(ctx context.Context, index string) (int, error) {
	var n int
	err := p.pool.QueryRow(ctx, `SELECT COUNT(*) FROM profile_vectors WHERE index_name = $1`, index).Scan(&n)
	return n, err
}

func (p *PGVectorStore) DropIndex(ctx context.Context, index string) error {
	if _, err := p.pool.Exec(ctx, `DELETE FROM profile_vectors WHERE index_name = $1`, index); err != nil {
		return fmt.Errorf("dropping index %s: %w", index, err)
	}
	return nil
}

func (p *PGVectorStore) ExportAll(ctx context.Context, index string) ([]Record, error) {
	rows, err := p.pool.Query(ctx, `
		SELECT id, position, content, metadata::text, embedding, created_at
		FROM profile_vectors WHERE index_name = $1 ORDER BY position`, index)
	if err != nil {
		return nil, fmt.Errorf("exporting %s: %w", index, err)
	}
	defer rows.Close()

	var records []Record
	for rows.Next() {
		var r Record
		var meta string
		var emb pgvector.Vector
		if err := rows.Scan(&r.ID, &r.Position, &r.Content, &meta, &emb, &r.CreatedAt); err != nil {
			return nil, fmt.Errorf("scanning export row: %w", err)
		}
		r.Embedding = emb.Slice()
		if r.Metadata, err = decodeMetadata(meta); err != nil {
			return nil, fmt.Errorf("decoding metadata for %s: %w", r.ID, err)
		}
		records = append(records, r)
	}
	return records, rows.Err()
}
