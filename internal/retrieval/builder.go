package retrieval

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/kalambet/applyd/internal/chunker"
	"github.com/kalambet/applyd/internal/profile"
)

// Builder constructs a person's two indexes from their profile record.
// It is the only writer of index contents.
type Builder struct {
	embedder *Embedder
	store    VectorStore
}

// NewBuilder creates a Builder writing to store.
func NewBuilder(embedder *Embedder, store VectorStore) *Builder {
	return &Builder{embedder: embedder, store: store}
}

// BuildResult reports how many chunks went into each index.
type BuildResult struct {
	Narrative int
	Skills    int
}

// Build drops and rebuilds the narrative (rag1) and skill (rag2) indexes
// for profileIndex.
func (b *Builder) Build(ctx context.Context, profileIndex int, rec profile.Record) (BuildResult, error) {
	narrative := chunker.Narrative(rec)
	skills := chunker.Skills(rec)

	if err := b.rebuild(ctx, IndexName(profileIndex, "rag1"), narrative); err != nil {
		return BuildResult{}, err
	}
	if err := b.rebuild(ctx, IndexName(profileIndex, "rag2"), skills); err != nil {
		return BuildResult{}, err
	}

	slog.Info("profile indexes built", "profile_index", profileIndex,
		"narrative_chunks", len(narrative), "skill_chunks", len(skills))
	return BuildResult{Narrative: len(narrative), Skills: len(skills)}, nil
}

func (b *Builder) rebuild(ctx context.Context, name string, chunks []chunker.Chunk) error {
	if err := b.store.DropIndex(ctx, name); err != nil {
		return err
	}
	if err := NewIndex(name, b.embedder, b.store).Add(ctx, chunks); err != nil {
		return fmt.Errorf("building %s: %w", name, err)
	}
	return nil
}

// Open returns the index searched by ragType for profileIndex.
func (b *Builder) Open(profileIndex, ragType int) (*Index, error) {
	tag, err := Tag(ragType)
	if err != nil {
		return nil, err
	}
	return NewIndex(IndexName(profileIndex, tag), b.embedder, b.store), nil
}

// Copy replays every record of index from src into dst, replacing dst's
// copy. Used to migrate indexes between backends.
func Copy(ctx context.Context, src, dst VectorStore, index string) (int, error) {
	records, err := src.ExportAll(ctx, index)
	if err != nil {
		return 0, err
	}
	if err := dst.DropIndex(ctx, index); err != nil {
		return 0, err
	}
	if len(records) == 0 {
		return 0, nil
	}
	if err := dst.Insert(ctx, index, records); err != nil {
		return 0, fmt.Errorf("copying %s: %w", index, err)
	}
	return len(records), nil
}
