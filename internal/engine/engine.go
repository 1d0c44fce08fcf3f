package engine

import "context"

// Engine abstracts an inference backend (Ollama or the Gemini API).
// Consumers such as the classification gate, reply generation and
// embedding use this interface instead of depending on a concrete client.
type Engine interface {
	// Generate completes a single prompt with the given model.
	Generate(ctx context.Context, model, prompt string, opts GenerateOptions) (string, error)

	// Embed returns the embedding vector for the given text using the specified model.
	Embed(ctx context.Context, model string, text string) ([]float32, error)

	// IsRunning reports whether the inference backend is reachable.
	IsRunning(ctx context.Context) bool

	// ListModels returns the names of all available models.
	ListModels(ctx context.Context) ([]string, error)

	// HasModel reports whether the given model name is available.
	HasModel(ctx context.Context, name string) bool

	// PullModel downloads a model. The optional callback receives progress updates.
	PullModel(ctx context.Context, name string, onProgress func(PullProgress)) error
}

// Generator completes prompts against a fixed model. The OpenRouter client
// satisfies it directly; an Engine satisfies it through Bind.
type Generator interface {
	Generate(ctx context.Context, prompt string, opts GenerateOptions) (string, error)
}

// GenerateOptions bounds a single completion.
type GenerateOptions struct {
	// MaxTokens caps the completion length. Zero leaves the backend default.
	MaxTokens int
	// Stop lists sequences that end the completion early.
	Stop []string
}

type boundGenerator struct {
	eng   Engine
	model string
}

// Bind returns a Generator that sends every prompt to model on eng.
func Bind(eng Engine, model string) Generator {
	return &boundGenerator{eng: eng, model: model}
}

func (g *boundGenerator) Generate(ctx context.Context, prompt string, opts GenerateOptions) (string, error) {
	return g.eng.Generate(ctx, g.model, prompt, opts)
}
