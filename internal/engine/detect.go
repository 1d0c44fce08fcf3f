package engine

import (
	"context"
	"fmt"
)

// DetectConfig holds parameters for backend selection.
type DetectConfig struct {
	Backend       string // "ollama" (default) or "genai"
	OllamaBaseURL string
	GenAIAPIKey   string
	GenAIBaseURL  string
}

// Detect returns the Engine for the configured backend. Any backend other
// than genai resolves to Ollama, which also serves embeddings when
// generation goes through OpenRouter.
func Detect(ctx context.Context, cfg DetectConfig) (Engine, error) {
	switch cfg.Backend {
	case "genai":
		e, err := NewGenAIEngine(ctx, cfg.GenAIAPIKey, cfg.GenAIBaseURL)
		if err != nil {
			return nil, fmt.Errorf("detecting engine: %w", err)
		}
		return e, nil
	default:
		return NewOllamaEngine(cfg.OllamaBaseURL), nil
	}
}
