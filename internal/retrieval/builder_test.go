package retrieval

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"
)

// keywordEngine embeds text onto fixed axes so searches are predictable.
func keywordEngine() *mockEngine {
	axes := []string{"Go", "Python", "German"}
	return &mockEngine{
		embedFn: func(_ context.Context, _ string, text string) ([]float32, error) {
			v := make([]float32, len(axes)+1)
			v[len(axes)] = 0.01
			for i, a := range axes {
				if strings.Contains(text, a) {
					v[i] = 1
				}
			}
			return v, nil
		},
	}
}

func TestBuilder_BuildsBothIndexes(t *testing.T) {
	store := openTestStore(t)
	b := NewBuilder(NewEmbedder(keywordEngine(), "all-minilm"), store)
	ctx := context.Background()

	res, err := b.Build(ctx, 4, testRecord())
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	// Education, experience, language; projects stay out of the narrative.
	if diff := cmp.Diff(BuildResult{Narrative: 3, Skills: 4}, res); diff != "" {
		t.Errorf("result mismatch (-want +got):\n%s", diff)
	}

	skills, err := store.ExportAll(ctx, "index_4_rag2")
	if err != nil {
		t.Fatalf("ExportAll: %v", err)
	}
	var got []string
	for _, r := range skills {
		got = append(got, r.Content)
	}
	if diff := cmp.Diff([]string{"Python", "C", "Go", "German"}, got); diff != "" {
		t.Errorf("skill index mismatch (-want +got):\n%s", diff)
	}
}

func TestBuilder_RebuildReplaces(t *testing.T) {
	store := openTestStore(t)
	b := NewBuilder(NewEmbedder(keywordEngine(), "all-minilm"), store)
	ctx := context.Background()

	for i := 0; i < 2; i++ {
		if _, err := b.Build(ctx, 1, testRecord()); err != nil {
			t.Fatalf("Build #%d: %v", i, err)
		}
	}
	n, err := store.Count(ctx, "index_1_rag1")
	if err != nil {
		t.Fatalf("Count: %v", err)
	}
	if n != 3 {
		t.Errorf("Count = %d after rebuild, want 3", n)
	}
}

func TestBuilder_EmbedErrorFails(t *testing.T) {
	eng := &mockEngine{embedFn: func(context.Context, string, string) ([]float32, error) {
		return nil, errors.New("model not loaded")
	}}
	b := NewBuilder(NewEmbedder(eng, "all-minilm"), openTestStore(t))

	if _, err := b.Build(context.Background(), 1, testRecord()); err == nil {
		t.Fatal("expected error, got nil")
	}
}

func TestIndex_SimilaritySearchEndToEnd(t *testing.T) {
	store := openTestStore(t)
	emb := NewEmbedder(keywordEngine(), "all-minilm")
	b := NewBuilder(emb, store)
	ctx := context.Background()

	if _, err := b.Build(ctx, 2, testRecord()); err != nil {
		t.Fatalf("Build: %v", err)
	}
	ix, err := b.Open(2, RAGSkillBackReference)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	if ix.Name() != "index_2_rag2" {
		t.Errorf("Name = %q", ix.Name())
	}

	hits, err := ix.SimilaritySearch(ctx, "Looking for a Go developer", 1)
	if err != nil {
		t.Fatalf("SimilaritySearch: %v", err)
	}
	if len(hits) != 1 || hits[0].Content != "Go" {
		t.Fatalf("hits = %+v, want Go", hits)
	}

	got, err := SkillBackReference{K: 1}.Retrieve(ctx, ix, testRecord(), "Looking for a Go developer")
	if err != nil {
		t.Fatalf("Retrieve: %v", err)
	}
	if !strings.Contains(got, "[Projects]") {
		t.Errorf("context missing project: %q", got)
	}
}

func TestOpen_UnknownRagType(t *testing.T) {
	b := NewBuilder(NewEmbedder(keywordEngine(), "all-minilm"), openTestStore(t))
	if _, err := b.Open(1, 9); !errors.Is(err, ErrUnknownStrategy) {
		t.Errorf("err = %v, want ErrUnknownStrategy", err)
	}
}

func TestCopy_BetweenStores(t *testing.T) {
	src := openTestStore(t)
	dst := openTestStore(t)
	ctx := context.Background()
	b := NewBuilder(NewEmbedder(keywordEngine(), "all-minilm"), src)
	if _, err := b.Build(ctx, 5, testRecord()); err != nil {
		t.Fatalf("Build: %v", err)
	}

	n, err := Copy(ctx, src, dst, "index_5_rag2")
	if err != nil {
		t.Fatalf("Copy: %v", err)
	}
	if n != 4 {
		t.Errorf("copied %d, want 4", n)
	}
	want, _ := src.ExportAll(ctx, "index_5_rag2")
	got, _ := dst.ExportAll(ctx, "index_5_rag2")
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("copy mismatch (-want +got):\n%s", diff)
	}
}
