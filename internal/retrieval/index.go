package retrieval

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/kalambet/applyd/internal/chunker"
)

// Searcher is the read side of an embedding index as the strategies see it.
type Searcher interface {
	SimilaritySearch(ctx context.Context, query string, k int) ([]ScoredChunk, error)
}

// ScoredChunk is a search hit. Score is a cosine distance: lower is closer.
type ScoredChunk struct {
	Content  string
	Metadata map[string]string
	Score    float32
}

// IndexName returns the storage name of one of a person's indexes,
// e.g. index_3_rag1.
func IndexName(profileIndex int, tag string) string {
	return fmt.Sprintf("index_%d_%s", profileIndex, tag)
}

// Tag returns the index tag used by a retrieval strategy.
func Tag(ragType int) (string, error) {
	switch ragType {
	case RAGDirect:
		return "rag1", nil
	case RAGSkillBackReference:
		return "rag2", nil
	default:
		return "", fmt.Errorf("%w: %d", ErrUnknownStrategy, ragType)
	}
}

// Index is one named embedding index.
type Index struct {
	name     string
	embedder *Embedder
	store    VectorStore
}

// NewIndex binds a named index to an embedder and a store.
func NewIndex(name string, embedder *Embedder, store VectorStore) *Index {
	return &Index{name: name, embedder: embedder, store: store}
}

// Name returns the index's storage name.
func (ix *Index) Name() string { return ix.name }

// SimilaritySearch embeds query and returns up to k nearest chunks in
// ascending distance order.
func (ix *Index) SimilaritySearch(ctx context.Context, query string, k int) ([]ScoredChunk, error) {
	vec, err := ix.embedder.Embed(ctx, query)
	if err != nil {
		return nil, err
	}
	hits, err := ix.store.Search(ctx, ix.name, vec, k)
	if err != nil {
		return nil, fmt.Errorf("searching %s: %w", ix.name, err)
	}
	out := make([]ScoredChunk, len(hits))
	for i, h := range hits {
		out[i] = ScoredChunk{Content: h.Content, Metadata: h.Metadata, Score: h.Score}
	}
	return out, nil
}

// Add embeds and appends chunks to the index in order.
func (ix *Index) Add(ctx context.Context, chunks []chunker.Chunk) error {
	if len(chunks) == 0 {
		return nil
	}
	texts := make([]string, len(chunks))
	for i, c := range chunks {
		texts[i] = c.Content
	}
	vecs, err := ix.embedder.EmbedBatch(ctx, texts)
	if err != nil {
		return err
	}

	now := time.Now().UTC()
	records := make([]Record, len(chunks))
	for i, c := range chunks {
		records[i] = Record{
			ID:        uuid.New().String(),
			Content:   c.Content,
			Metadata:  c.Metadata,
			Embedding: vecs[i],
			CreatedAt: now,
		}
	}
	if err := ix.store.Insert(ctx, ix.name, records); err != nil {
		return fmt.Errorf("adding to %s: %w", ix.name, err)
	}
	return nil
}

// Count returns the number of chunks in the index.
func (ix *Index) Count(ctx context.Context) (int, error) {
	return ix.store.Count(ctx, ix.name)
}
