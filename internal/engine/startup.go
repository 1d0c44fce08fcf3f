package engine

import (
	"context"
	"fmt"
	"io"
	"time"
)

// EnsureReady checks that the Engine is reachable and required models are
// available. Missing models are pulled automatically with progress output
// written to w. The generation model is then warmed with a one-token prompt
// so the first reply does not pay the cold-load penalty; a failed warm-up is
// reported but not fatal.
func EnsureReady(ctx context.Context, e Engine, genModel, embedModel string, w io.Writer) error {
	if !e.IsRunning(ctx) {
		return fmt.Errorf("inference engine is not running; start it with: ollama serve")
	}

	models := make([]string, 0, 2)
	if genModel != "" {
		models = append(models, genModel)
	}
	if embedModel != "" && embedModel != genModel {
		models = append(models, embedModel)
	}

	for _, model := range models {
		if e.HasModel(ctx, model) {
			fmt.Fprintf(w, "model %s: ready\n", model)
			continue
		}

		fmt.Fprintf(w, "model %s: pulling...\n", model)
		err := e.PullModel(ctx, model, func(p PullProgress) {
			if p.Total > 0 {
				pct := float64(p.Completed) / float64(p.Total) * 100
				fmt.Fprintf(w, "  %s %.0f%%\n", p.Status, pct)
			} else {
				fmt.Fprintf(w, "  %s\n", p.Status)
			}
		})
		if err != nil {
			return fmt.Errorf("pulling model %s: %w", model, err)
		}
		fmt.Fprintf(w, "model %s: ready\n", model)
	}

	if genModel == "" {
		return nil
	}
	warmCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()
	if _, err := e.Generate(warmCtx, genModel, "ping", GenerateOptions{MaxTokens: 1}); err != nil {
		fmt.Fprintf(w, "model %s: warm-up failed (non-fatal): %v\n", genModel, err)
	} else {
		fmt.Fprintf(w, "model %s: warm\n", genModel)
	}
	return nil
}
