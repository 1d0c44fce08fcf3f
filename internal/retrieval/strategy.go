package retrieval

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/kalambet/applyd/internal/chunker"
	"github.com/kalambet/applyd/internal/profile"
)

// Separator joins the pieces of a retrieved context.
const Separator = "\n\n---\n\n"

// Retrieval strategy identifiers, as configured by retrieval.rag_type.
const (
	RAGDirect             = 1
	RAGSkillBackReference = 2
)

// ErrUnknownStrategy is returned for a rag type other than 1 or 2.
var ErrUnknownStrategy = errors.New("unknown retrieval strategy")

// Strategy turns a query into a context string for prompt assembly.
type Strategy interface {
	Retrieve(ctx context.Context, idx Searcher, rec profile.Record, query string) (string, error)
}

// ForType returns the strategy for ragType.
func ForType(ragType, k int, threshold float32) (Strategy, error) {
	switch ragType {
	case RAGDirect:
		return Direct{K: k, Threshold: threshold}, nil
	case RAGSkillBackReference:
		return SkillBackReference{K: k}, nil
	default:
		return nil, fmt.Errorf("%w: %d", ErrUnknownStrategy, ragType)
	}
}

// Direct returns the narrative chunks within Threshold of the query.
type Direct struct {
	K         int
	Threshold float32
}

func (d Direct) Retrieve(ctx context.Context, idx Searcher, _ profile.Record, query string) (string, error) {
	hits, err := idx.SimilaritySearch(ctx, query, d.K)
	if err != nil {
		return "", fmt.Errorf("direct retrieval: %w", err)
	}

	var kept []string
	for _, h := range hits {
		if h.Score <= d.Threshold {
			kept = append(kept, h.Content)
		}
	}
	slog.Debug("direct retrieval", "hits", len(hits), "kept", len(kept))
	return strings.Join(kept, Separator), nil
}

// SkillBackReference searches the skill index and expands every matched
// skill into the full profile records that list it. Hits are not filtered
// by distance.
type SkillBackReference struct {
	K int
}

func (s SkillBackReference) Retrieve(ctx context.Context, idx Searcher, rec profile.Record, query string) (string, error) {
	hits, err := idx.SimilaritySearch(ctx, query, s.K)
	if err != nil {
		return "", fmt.Errorf("skill retrieval: %w", err)
	}

	var pieces []string
	seen := make(map[string]struct{})
	for _, h := range hits {
		skill := strings.TrimSpace(h.Content)
		for _, spec := range chunker.Categories {
			for _, e := range chunker.Entries(rec, spec.Category) {
				if !matchesSkill(e, skill) {
					continue
				}
				if _, dup := seen[e.Text]; dup {
					continue
				}
				seen[e.Text] = struct{}{}
				pieces = append(pieces, e.Text)
			}
		}
	}
	slog.Debug("skill retrieval", "hits", len(hits), "records", len(pieces))
	return strings.Join(pieces, Separator), nil
}

func matchesSkill(e chunker.Entry, skill string) bool {
	if e.Category == chunker.Language {
		return strings.TrimSpace(e.Key) == skill
	}
	for _, s := range e.Skills {
		if strings.TrimSpace(s) == skill {
			return true
		}
	}
	return false
}
