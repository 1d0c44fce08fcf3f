package engine

import (
	"context"
	"testing"
)

func TestDetect_ReturnsOllama(t *testing.T) {
	for _, backend := range []string{"", "ollama", "openrouter"} {
		e, err := Detect(context.Background(), DetectConfig{Backend: backend, OllamaBaseURL: "http://localhost:11434"})
		if err != nil {
			t.Fatalf("Detect(%q): %v", backend, err)
		}
		if _, ok := e.(*OllamaEngine); !ok {
			t.Errorf("Detect(%q) returned %T, want *OllamaEngine", backend, e)
		}
	}
}

func TestDetect_GenAIRequiresKey(t *testing.T) {
	if _, err := Detect(context.Background(), DetectConfig{Backend: "genai"}); err == nil {
		t.Fatal("expected error for genai without api key")
	}
}

func TestDetect_GenAI(t *testing.T) {
	e, err := Detect(context.Background(), DetectConfig{Backend: "genai", GenAIAPIKey: "test-key"})
	if err != nil {
		t.Fatalf("Detect: %v", err)
	}
	if _, ok := e.(*GenAIEngine); !ok {
		t.Errorf("Detect returned %T, want *GenAIEngine", e)
	}
}
