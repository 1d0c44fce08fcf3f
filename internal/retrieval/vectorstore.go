package retrieval

import (
	"context"
	"time"
)

// VectorStore stores embedded chunks in named indexes and answers
// nearest-neighbour queries against one index at a time.
//
// Scores returned by Search are cosine distances (1 - cosine similarity):
// lower is closer. Results are ordered by ascending distance, ties broken by
// insertion position.
type VectorStore interface {
	// Insert appends records to the named index.
	Insert(ctx context.Context, index string, records []Record) error

	// Search returns the topK records of index closest to vector.
	Search(ctx context.Context, index string, vector []float32, topK int) ([]ScoredRecord, error)

	// Count returns the number of records in the named index.
	Count(ctx context.Context, index string) (int, error)

	// DropIndex removes every record of the named index. Idempotent.
	DropIndex(ctx context.Context, index string) error

	// ExportAll returns all records of the named index in insertion order.
	// Used to copy an index between backends.
	ExportAll(ctx context.Context, index string) ([]Record, error)
}

// Record is one embedded chunk.
type Record struct {
	ID        string
	Position  int
	Content   string
	Metadata  map[string]string
	Embedding []float32
	CreatedAt time.Time
}

// ScoredRecord is a Record with its cosine distance to the query.
type ScoredRecord struct {
	Record
	Score float32
}
