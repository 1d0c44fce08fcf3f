// Package pipeline runs conversation turns and mailbox sweeps: it gates
// each message, grounds job descriptions in retrieved profile context and
// continues everything else from the conversation window.
package pipeline

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/kalambet/applyd/internal/composer"
	"github.com/kalambet/applyd/internal/conversation"
	"github.com/kalambet/applyd/internal/engine"
	"github.com/kalambet/applyd/internal/profile"
	"github.com/kalambet/applyd/internal/retrieval"
	"github.com/kalambet/applyd/internal/storage"
)

// Gate decides whether a message is a grounding event.
type Gate interface {
	IsGroundingEvent(ctx context.Context, message string) (bool, error)
}

// TurnRecorder persists the audit row of a completed turn.
type TurnRecorder interface {
	SaveTurn(t storage.Turn) error
}

// TurnResult is the outcome of one conversation turn.
type TurnResult struct {
	Prompt  string
	Reply   string
	Gated   bool
	Context string
}

// Grounding is everything needed to answer a message from one person's
// profile with one retrieval strategy.
type Grounding struct {
	ProfileIndex int
	RAGType      int
	Record       profile.Record
	Strategy     retrieval.Strategy
	Index        retrieval.Searcher
}

// Ground retrieves context for message and assembles the prompt for ch.
func (g Grounding) Ground(ctx context.Context, message string, ch composer.Channel) (retrieved, prompt string, err error) {
	retrieved, err = g.Strategy.Retrieve(ctx, g.Index, g.Record, message)
	if err != nil {
		return "", "", err
	}
	prompt, err = composer.Assemble(g.Record.Persona(), retrieved, message, ch)
	if err != nil {
		return "", "", err
	}
	return retrieved, prompt, nil
}

// Session is one chat conversation bound to a profile and strategy. Turns
// are serialized.
type Session struct {
	ID string

	grounding Grounding
	gate      Gate
	gen       engine.Generator
	maxTokens int
	recorder  TurnRecorder

	mu     sync.Mutex
	window *conversation.Window
}

// Turn handles one incoming chat message.
func (s *Session) Turn(ctx context.Context, message string) (TurnResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	gated, err := s.gate.IsGroundingEvent(ctx, message)
	if err != nil {
		return TurnResult{}, err
	}

	res := TurnResult{Gated: gated}
	if gated {
		res.Context, res.Prompt, err = s.grounding.Ground(ctx, message, composer.ChannelChat)
		if err != nil {
			return TurnResult{}, err
		}
		s.window.Clear()
	} else {
		res.Prompt = s.window.RenderContinuation(message)
	}

	slog.Debug("generating reply", "session", s.ID, "gated", gated,
		"prompt_tokens", composer.CountTokens(res.Prompt))

	res.Reply, err = s.gen.Generate(ctx, res.Prompt, engine.GenerateOptions{MaxTokens: s.maxTokens})
	if err != nil {
		return TurnResult{}, fmt.Errorf("generating reply: %w", err)
	}

	s.window.Append(res.Prompt)
	s.window.Append(res.Reply)

	s.record(message, composer.ChannelChat, res)
	return res, nil
}

// Reset clears the conversation window.
func (s *Session) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.window.Clear()
}

// WindowLen returns the number of entries in the conversation window.
func (s *Session) WindowLen() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.window.Len()
}

// ProfileIndex returns the profile the session answers as.
func (s *Session) ProfileIndex() int { return s.grounding.ProfileIndex }

func (s *Session) record(message string, ch composer.Channel, res TurnResult) {
	saveTurn(s.recorder, storageTurn(s.grounding, s.ID, ch, res.Gated, message, res.Prompt, res.Reply))
}

func storageTurn(g Grounding, sessionID string, ch composer.Channel, gated bool, message, prompt, reply string) storage.Turn {
	return storage.Turn{
		SessionID:    sessionID,
		ProfileIndex: g.ProfileIndex,
		RAGType:      g.RAGType,
		Channel:      string(ch),
		Gated:        gated,
		Message:      message,
		Prompt:       prompt,
		Reply:        reply,
	}
}

// saveTurn writes an audit row. Failures are logged, never returned.
func saveTurn(rec TurnRecorder, t storage.Turn) {
	if rec == nil {
		return
	}
	t.ID = uuid.New().String()
	t.CreatedAt = time.Now().UTC()
	if err := rec.SaveTurn(t); err != nil {
		slog.Warn("failed to record turn", "session", t.SessionID, "error", err)
	}
}
