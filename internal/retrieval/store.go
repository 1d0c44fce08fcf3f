package retrieval

import (
	"container/heap"
	"context"
	"database/sql"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"math"
	"sort"
	"strings"
	"time"
)

// Compile-time check that SQLiteStore implements VectorStore.
var _ VectorStore = (*SQLiteStore)(nil)

// SQLiteStore provides vector storage and brute-force cosine search backed
// by the vectors table of the application database. Profile indexes hold a
// few dozen chunks each, so a full scan per query is cheap.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLiteStore wraps an existing *sql.DB for vector operations.
// The vectors table must already exist (created via migrations).
func NewSQLiteStore(db *sql.DB) *SQLiteStore {
	return &SQLiteStore{db: db}
}

// Insert appends records to index. Positions continue from the current
// end of the index when a record's Position is zero.
func (s *SQLiteStore) Insert(ctx context.Context, index string, records []Record) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("beginning insert transaction: %w", err)
	}
	defer tx.Rollback()

	var next int
	if err := tx.QueryRowContext(ctx,
		`SELECT COALESCE(MAX(position), 0) FROM vectors WHERE index_name = ?`, index,
	).Scan(&next); err != nil {
		return fmt.Errorf("reading index position: %w", err)
	}

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO vectors (id, index_name, position, content, metadata, embedding, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return fmt.Errorf("preparing insert statement: %w", err)
	}
	defer stmt.Close()

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
		if _, err := stmt.ExecContext(ctx, r.ID, index, pos, r.Content, meta,
			encodeFloat32s(r.Embedding), createdAt.UTC().Format(time.RFC3339)); err != nil {
			return fmt.Errorf("inserting record %s: %w", r.ID, err)
		}
	}

	return tx.Commit()
}

// idScore holds only the ID and distance during the scan phase of Search.
// Full record details are fetched only for the top-K winners.
type idScore struct {
	ID       string
	Position int
	Score    float32
}

// Search performs brute-force cosine search over one index and returns the
// topK records with the smallest cosine distance.
func (s *SQLiteStore) Search(ctx context.Context, index string, vector []float32, topK int) ([]ScoredRecord, error) {
	if topK <= 0 {
		return nil, nil
	}
	queryNorm := norm(vector)
	if queryNorm == 0 {
		return nil, nil
	}

	// Phase 1: scan only id + embedding to find top-K candidates.
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, position, embedding FROM vectors WHERE index_name = ?`, index)
	if err != nil {
		return nil, fmt.Errorf("querying vectors: %w", err)
	}
	defer rows.Close()

	h := &idScoreHeap{}
	heap.Init(h)

	// Reusable buffer for decoding embeddings to avoid per-row allocations.
	var buf []float32

	for rows.Next() {
		var id string
		var pos int
		var blob []byte
		if err := rows.Scan(&id, &pos, &blob); err != nil {
			return nil, fmt.Errorf("scanning row: %w", err)
		}

		buf, err = decodeFloat32sInto(buf, blob)
		if err != nil {
			return nil, fmt.Errorf("decoding embedding for %s: %w", id, err)
		}

		item := idScore{ID: id, Position: pos, Score: 1 - cosine(vector, buf, queryNorm)}
		if h.Len() < topK {
			heap.Push(h, item)
		} else if closer(item, (*h)[0]) {
			(*h)[0] = item
			heap.Fix(h, 0)
		}
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating rows: %w", err)
	}

	if h.Len() == 0 {
		return nil, nil
	}

	// Phase 2: fetch full records only for the top-K IDs.
	top := make([]idScore, h.Len())
	for i := len(top) - 1; i >= 0; i-- {
		top[i] = heap.Pop(h).(idScore)
	}

	queryArgs := make([]any, 0, len(top)+1)
	queryArgs = append(queryArgs, index)
	scores := make(map[string]float32, len(top))
	for _, it := range top {
		queryArgs = append(queryArgs, it.ID)
		scores[it.ID] = it.Score
	}
	fullQuery := `SELECT id, position, content, metadata, embedding, created_at
		FROM vectors WHERE index_name = ? AND id IN (?` + strings.Repeat(",?", len(top)-1) + `)`

	fullRows, err := s.db.QueryContext(ctx, fullQuery, queryArgs...)
	if err != nil {
		return nil, fmt.Errorf("fetching top-K records: %w", err)
	}
	defer fullRows.Close()

	var results []ScoredRecord
	for fullRows.Next() {
		r, err := scanRecord(fullRows)
		if err != nil {
			return nil, err
		}
		results = append(results, ScoredRecord{Record: r, Score: scores[r.ID]})
	}
	if err := fullRows.Err(); err != nil {
		return nil, fmt.Errorf("iterating full records: %w", err)
	}

	// IN query doesn't preserve order.
	sortByDistance(results)
	return results, nil
}

// closer reports whether a ranks ahead of b: smaller distance, then earlier position.
func closer(a, b idScore) bool {
	if a.Score != b.Score {
		return a.Score < b.Score
	}
	return a.Position < b.Position
}

func sortByDistance(results []ScoredRecord) {
	sort.SliceStable(results, func(i, j int) bool {
		if results[i].Score != results[j].Score {
			return results[i].Score < results[j].Score
		}
		return results[i].Position < results[j].Position
	})
}

// Count returns the number of records in index.
func (s *SQLiteStore) Count(ctx context.Context, index string) (int, error) {
	var count int
	err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM vectors WHERE index_name = ?`, index).Scan(&count)
	return count, err
}

// DropIndex deletes every record of index.
func (s *SQLiteStore) DropIndex(ctx context.Context, index string) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM vectors WHERE index_name = ?`, index); err != nil {
		return fmt.Errorf("dropping index %s: %w", index, err)
	}
	return nil
}

// ExportAll returns all records of index in insertion order.
func (s *SQLiteStore) ExportAll(ctx context.Context, index string) ([]Record, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, position, content, metadata, embedding, created_at
		FROM vectors WHERE index_name = ? ORDER BY position ASC`, index)
	if err != nil {
		return nil, fmt.Errorf("querying all vectors: %w", err)
	}
	defer rows.Close()

	var records []Record
	for rows.Next() {
		r, err := scanRecord(rows)
		if err != nil {
			return nil, err
		}
		records = append(records, r)
	}
	return records, rows.Err()
}

func scanRecord(rows *sql.Rows) (Record, error) {
	var r Record
	var meta string
	var blob []byte
	var createdAt string
	if err := rows.Scan(&r.ID, &r.Position, &r.Content, &meta, &blob, &createdAt); err != nil {
		return Record{}, fmt.Errorf("scanning record: %w", err)
	}
	embedding, err := decodeFloat32s(blob)
	if err != nil {
		return Record{}, fmt.Errorf("decoding embedding for %s: %w", r.ID, err)
	}
	r.Embedding = embedding
	if r.Metadata, err = decodeMetadata(meta); err != nil {
		return Record{}, fmt.Errorf("decoding metadata for %s: %w", r.ID, err)
	}
	if r.CreatedAt, err = time.Parse(time.RFC3339, createdAt); err != nil {
		return Record{}, fmt.Errorf("parsing created_at for %s: %w", r.ID, err)
	}
	return r, nil
}

func encodeMetadata(m map[string]string) (string, error) {
	if len(m) == 0 {
		return "{}", nil
	}
	b, err := json.Marshal(m)
	return string(b), err
}

func decodeMetadata(s string) (map[string]string, error) {
	m := map[string]string{}
	if s == "" {
		return m, nil
	}
	err := json.Unmarshal([]byte(s), &m)
	return m, err
}

// encodeFloat32s serializes a float32 slice to little-endian bytes.
func encodeFloat32s(v []float32) []byte {
	buf := make([]byte, len(v)*4)
	for i, f := range v {
		binary.LittleEndian.PutUint32(buf[i*4:], math.Float32bits(f))
	}
	return buf
}

// decodeFloat32s deserializes little-endian bytes into a new float32 slice.
// Returns an error if the byte slice length is not a multiple of 4 (indicates data corruption).
func decodeFloat32s(b []byte) ([]float32, error) {
	return decodeFloat32sInto(nil, b)
}

// decodeFloat32sInto decodes little-endian bytes into the provided buffer,
// reusing it to avoid per-row allocations during search scans.
func decodeFloat32sInto(buf []float32, b []byte) ([]float32, error) {
	if len(b)%4 != 0 {
		return nil, fmt.Errorf("byte slice length %d is not a multiple of 4", len(b))
	}
	n := len(b) / 4
	if cap(buf) < n {
		buf = make([]float32, n)
	} else {
		buf = buf[:n]
	}
	for i := range buf {
		buf[i] = math.Float32frombits(binary.LittleEndian.Uint32(b[i*4:]))
	}
	return buf, nil
}

// norm returns the L2 norm of a vector.
func norm(v []float32) float32 {
	var sum float64
	for _, f := range v {
		sum += float64(f) * float64(f)
	}
	return float32(math.Sqrt(sum))
}

// cosine computes dot(a,b) / (aNorm * bNorm). aNorm is the precomputed L2
// norm of a. Mismatched or zero vectors score 0.
func cosine(a, b []float32, aNorm float32) float32 {
	if len(a) != len(b) {
		return 0
	}
	var dot float64
	var bNormSq float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		bNormSq += float64(b[i]) * float64(b[i])
	}
	bNorm := math.Sqrt(bNormSq)
	if bNorm == 0 {
		return 0
	}
	return float32(dot / (float64(aNorm) * bNorm))
}

// idScoreHeap keeps the current worst candidate at the root so it can be
// replaced when a closer one is scanned.
type idScoreHeap []idScore

func (h idScoreHeap) Len() int           { return len(h) }
func (h idScoreHeap) Less(i, j int) bool { return closer(h[j], h[i]) }
func (h idScoreHeap) Swap(i, j int)      { h[i], h[j] = h[j], h[i] }
func (h *idScoreHeap) Push(x any)        { *h = append(*h, x.(idScore)) }
func (h *idScoreHeap) Pop() any {
	old := *h
	n := len(old)
	item := old[n-1]
	*h = old[:n-1]
	return item
}
