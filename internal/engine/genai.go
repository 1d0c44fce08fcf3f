package engine

import (
	"context"
	"fmt"
	"strings"

	"google.golang.org/genai"
)

// GenAIEngine serves generation and embeddings from the Gemini API.
// Models are hosted, so readiness and pull calls are trivially satisfied.
type GenAIEngine struct {
	client *genai.Client
}

// NewGenAIEngine creates a Gemini API client. baseURL overrides the API
// endpoint and may be empty.
func NewGenAIEngine(ctx context.Context, apiKey, baseURL string) (*GenAIEngine, error) {
	if apiKey == "" {
		return nil, fmt.Errorf("genai api key is required")
	}
	cfg := &genai.ClientConfig{
		APIKey:  apiKey,
		Backend: genai.BackendGeminiAPI,
	}
	if baseURL != "" {
		cfg.HTTPOptions = genai.HTTPOptions{BaseURL: baseURL}
	}
	client, err := genai.NewClient(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("creating genai client: %w", err)
	}
	return &GenAIEngine{client: client}, nil
}

func (e *GenAIEngine) Generate(ctx context.Context, model, prompt string, opts GenerateOptions) (string, error) {
	cfg := &genai.GenerateContentConfig{}
	if opts.MaxTokens > 0 {
		cfg.MaxOutputTokens = int32(opts.MaxTokens)
	}
	if len(opts.Stop) > 0 {
		cfg.StopSequences = opts.Stop
	}

	resp, err := e.client.Models.GenerateContent(ctx, model, genai.Text(prompt), cfg)
	if err != nil {
		return "", fmt.Errorf("genai generate: %w", err)
	}
	return resp.Text(), nil
}

func (e *GenAIEngine) Embed(ctx context.Context, model string, text string) ([]float32, error) {
	contents := []*genai.Content{genai.NewContentFromText(text, genai.RoleUser)}
	resp, err := e.client.Models.EmbedContent(ctx, model, contents, nil)
	if err != nil {
		return nil, fmt.Errorf("genai embed: %w", err)
	}
	if len(resp.Embeddings) == 0 {
		return nil, fmt.Errorf("genai embed: no embeddings returned")
	}
	return resp.Embeddings[0].Values, nil
}

func (e *GenAIEngine) IsRunning(_ context.Context) bool {
	return e.client != nil
}

func (e *GenAIEngine) ListModels(ctx context.Context) ([]string, error) {
	page, err := e.client.Models.List(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("listing genai models: %w", err)
	}
	names := make([]string, 0, len(page.Items))
	for _, m := range page.Items {
		names = append(names, strings.TrimPrefix(m.Name, "models/"))
	}
	return names, nil
}

func (e *GenAIEngine) HasModel(_ context.Context, _ string) bool {
	return true
}

func (e *GenAIEngine) PullModel(_ context.Context, _ string, _ func(PullProgress)) error {
	return nil
}
