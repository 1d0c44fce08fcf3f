package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"

	"github.com/kalambet/applyd/internal/config"
	"github.com/kalambet/applyd/internal/engine"
	"github.com/kalambet/applyd/internal/ingest"
	"github.com/kalambet/applyd/internal/intent"
	"github.com/kalambet/applyd/internal/pipeline"
	"github.com/kalambet/applyd/internal/profile"
	"github.com/kalambet/applyd/internal/proxy"
	"github.com/kalambet/applyd/internal/retrieval"
	"github.com/kalambet/applyd/internal/storage"
)

// classifierMaxTokens bounds the YES/NO answer.
const classifierMaxTokens = 8

// app is the wired dependency graph shared by every command that touches
// profiles or indexes.
type app struct {
	cfg       config.Config
	store     *storage.Store
	profiles  *profile.Manager
	vectors   retrieval.VectorStore
	builder   *retrieval.Builder
	onboarder *ingest.Onboarder
	factory   *pipeline.Factory

	closers []func()
}

// modelPlan names the models each backend uses for generation,
// classification and embeddings. warm is pulled and warmed on startup.
type modelPlan struct {
	generate string
	classify string
	embed    string
	warm     string
}

func planModels(cfg config.Config) modelPlan {
	switch cfg.Generation.Backend {
	case config.BackendGenAI:
		return modelPlan{generate: cfg.GenAI.Model, classify: cfg.GenAI.Model, embed: cfg.GenAI.EmbedModel, warm: cfg.GenAI.Model}
	case config.BackendOpenRouter:
		// Generation is remote; Ollama only embeds.
		return modelPlan{generate: cfg.Proxy.DefaultModel, classify: cfg.Proxy.DefaultModel, embed: cfg.Ollama.EmbedModel}
	default:
		return modelPlan{generate: cfg.Ollama.DeepModel, classify: cfg.Ollama.FastModel, embed: cfg.Ollama.EmbedModel, warm: cfg.Ollama.DeepModel}
	}
}

// generators returns the reply generator and the classifier's generator.
func generators(cfg config.Config, eng engine.Engine, plan modelPlan) (engine.Generator, engine.Generator) {
	if cfg.Generation.Backend == config.BackendOpenRouter {
		client := proxy.NewClient(cfg.Proxy.OpenRouterAPIKey, plan.generate)
		return client, client
	}
	return engine.Bind(eng, plan.generate), engine.Bind(eng, plan.classify)
}

func openApp(ctx context.Context, cfg config.Config, progress io.Writer) (*app, error) {
	eng, err := engine.Detect(ctx, engine.DetectConfig{
		Backend:       cfg.Generation.Backend,
		OllamaBaseURL: cfg.Ollama.BaseURL,
		GenAIAPIKey:   cfg.GenAI.APIKey,
	})
	if err != nil {
		return nil, fmt.Errorf("detecting inference engine: %w", err)
	}
	plan := planModels(cfg)
	if err := engine.EnsureReady(ctx, eng, plan.warm, plan.embed, progress); err != nil {
		return nil, err
	}

	a := &app{cfg: cfg}
	a.store, err = storage.Open(cfg.Storage.DataDir)
	if err != nil {
		return nil, fmt.Errorf("opening storage: %w", err)
	}
	a.closers = append(a.closers, func() {
		if err := a.store.Close(); err != nil {
			slog.Warn("closing storage", "error", err)
		}
	})

	if err := a.openVectors(ctx); err != nil {
		a.Close()
		return nil, err
	}

	a.profiles = profile.NewManager(a.store)
	a.builder = retrieval.NewBuilder(retrieval.NewEmbedder(eng, plan.embed), a.vectors)
	a.onboarder = ingest.NewOnboarder(a.store, a.profiles, a.builder)

	gen, classifyGen := generators(cfg, eng, plan)
	a.factory = pipeline.NewFactory(
		a.profiles,
		openIndex(a.builder),
		intent.NewClassifier(classifyGen, classifierMaxTokens),
		gen,
		a.store,
		pipeline.Options{
			TopK:       cfg.Retrieval.TopK,
			Threshold:  float32(cfg.Retrieval.Threshold),
			WindowSize: cfg.Conversation.WindowSize,
			MaxTokens:  cfg.Generation.MaxTokens,
		},
	)

	slog.Info("applyd ready",
		"generation", cfg.Generation.Backend,
		"model", plan.generate,
		"embed_model", plan.embed,
		"index_backend", cfg.Index.Backend,
		"data_dir", cfg.Storage.DataDir,
	)
	return a, nil
}

func (a *app) openVectors(ctx context.Context) error {
	switch a.cfg.Index.Backend {
	case config.IndexPGVector:
		pg, err := retrieval.NewPGVectorStore(ctx, a.cfg.Index.PostgresDSN)
		if err != nil {
			return err
		}
		a.vectors = pg
		a.closers = append(a.closers, pg.Close)
	default:
		a.vectors = retrieval.NewSQLiteStore(a.store.DB())
	}
	return nil
}

// openIndex adapts Builder.Open to pipeline.IndexOpener without wrapping a
// nil *Index in a non-nil interface.
func openIndex(b *retrieval.Builder) pipeline.IndexOpener {
	return func(profileIndex, ragType int) (retrieval.Searcher, error) {
		ix, err := b.Open(profileIndex, ragType)
		if err != nil {
			return nil, err
		}
		return ix, nil
	}
}

// Close releases resources in reverse order of acquisition.
func (a *app) Close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		a.closers[i]()
	}
}
