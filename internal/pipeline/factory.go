package pipeline

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/kalambet/applyd/internal/composer"
	"github.com/kalambet/applyd/internal/conversation"
	"github.com/kalambet/applyd/internal/engine"
	"github.com/kalambet/applyd/internal/mail"
	"github.com/kalambet/applyd/internal/profile"
	"github.com/kalambet/applyd/internal/retrieval"
)

// ProfileSource loads profile records by index. Implemented by profile.Manager.
type ProfileSource interface {
	Get(idx int) (profile.Record, error)
}

// IndexOpener returns the searchable index for a profile and rag type.
type IndexOpener func(profileIndex, ragType int) (retrieval.Searcher, error)

// Options holds the tunables shared by sessions and responders.
type Options struct {
	TopK       int
	Threshold  float32
	WindowSize int
	MaxTokens  int
}

// Factory builds sessions and responders for a (profile, rag type) pair.
type Factory struct {
	profiles ProfileSource
	open     IndexOpener
	gate     Gate
	gen      engine.Generator
	recorder TurnRecorder
	opts     Options
}

// NewFactory creates a Factory. recorder may be nil.
func NewFactory(profiles ProfileSource, open IndexOpener, gate Gate, gen engine.Generator, recorder TurnRecorder, opts Options) *Factory {
	return &Factory{
		profiles: profiles,
		open:     open,
		gate:     gate,
		gen:      gen,
		recorder: recorder,
		opts:     opts,
	}
}

// Grounding resolves the strategy, index and record for a profile.
func (f *Factory) Grounding(profileIndex, ragType int) (Grounding, error) {
	strategy, err := retrieval.ForType(ragType, f.opts.TopK, f.opts.Threshold)
	if err != nil {
		return Grounding{}, err
	}
	rec, err := f.profiles.Get(profileIndex)
	if err != nil {
		return Grounding{}, err
	}
	idx, err := f.open(profileIndex, ragType)
	if err != nil {
		return Grounding{}, fmt.Errorf("opening index for profile %d: %w", profileIndex, err)
	}
	return Grounding{
		ProfileIndex: profileIndex,
		RAGType:      ragType,
		Record:       rec,
		Strategy:     strategy,
		Index:        idx,
	}, nil
}

// Session starts a new chat session with an empty window.
func (f *Factory) Session(profileIndex, ragType int) (*Session, error) {
	g, err := f.Grounding(profileIndex, ragType)
	if err != nil {
		return nil, err
	}
	return &Session{
		ID:        uuid.New().String(),
		grounding: g,
		gate:      f.gate,
		gen:       f.gen,
		maxTokens: f.opts.MaxTokens,
		recorder:  f.recorder,
		window:    conversation.New(f.opts.WindowSize),
	}, nil
}

// Responder builds a mailbox responder answering as profileIndex.
func (f *Factory) Responder(profileIndex, ragType int, mailbox mail.Gateway, maxResults int) (*Responder, error) {
	g, err := f.Grounding(profileIndex, ragType)
	if err != nil {
		return nil, err
	}
	return &Responder{
		grounding:  g,
		gate:       f.gate,
		gen:        f.gen,
		maxTokens:  f.opts.MaxTokens,
		mailbox:    mailbox,
		maxResults: maxResults,
		recorder:   f.recorder,
	}, nil
}

// Classify runs the gate on a single message.
func (f *Factory) Classify(ctx context.Context, message string) (bool, error) {
	return f.gate.IsGroundingEvent(ctx, message)
}

// Retrieve returns the context the strategy retrieves for query.
func (f *Factory) Retrieve(ctx context.Context, profileIndex, ragType int, query string) (string, error) {
	g, err := f.Grounding(profileIndex, ragType)
	if err != nil {
		return "", err
	}
	return g.Strategy.Retrieve(ctx, g.Index, g.Record, query)
}

// Draft produces a one-shot grounded reply to message, bypassing the gate
// and any conversation window.
func (f *Factory) Draft(ctx context.Context, profileIndex, ragType int, message string, ch composer.Channel) (TurnResult, error) {
	g, err := f.Grounding(profileIndex, ragType)
	if err != nil {
		return TurnResult{}, err
	}
	retrieved, prompt, err := g.Ground(ctx, message, ch)
	if err != nil {
		return TurnResult{}, err
	}
	reply, err := f.gen.Generate(ctx, prompt, engine.GenerateOptions{MaxTokens: f.opts.MaxTokens})
	if err != nil {
		return TurnResult{}, fmt.Errorf("generating reply: %w", err)
	}
	saveTurn(f.recorder, storageTurn(g, "draft", ch, true, message, prompt, reply))
	return TurnResult{Prompt: prompt, Reply: reply, Gated: true, Context: retrieved}, nil
}
