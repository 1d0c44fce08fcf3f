// Package intent decides whether an incoming message carries a job
// description and should reset the conversation onto freshly retrieved
// profile context.
package intent

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/kalambet/applyd/internal/engine"
)

// Verdict is the parsed classifier answer.
type Verdict int

const (
	// VerdictUncertain covers any answer other than exactly YES or NO.
	VerdictUncertain Verdict = iota
	// VerdictGrounding means the message is a job description.
	VerdictGrounding
	// VerdictContinuation means the message continues the conversation.
	VerdictContinuation
)

func (v Verdict) String() string {
	switch v {
	case VerdictGrounding:
		return "grounding"
	case VerdictContinuation:
		return "continuation"
	default:
		return "uncertain"
	}
}

// Classifier asks a generator whether a message is a job description. It
// is stateless and never sees conversation history.
type Classifier struct {
	gen       engine.Generator
	maxTokens int
}

// NewClassifier creates a Classifier. maxTokens bounds the answer length;
// zero leaves the backend default.
func NewClassifier(gen engine.Generator, maxTokens int) *Classifier {
	return &Classifier{gen: gen, maxTokens: maxTokens}
}

// Classify returns the verdict for message. Generator errors are returned
// unchanged in meaning.
func (c *Classifier) Classify(ctx context.Context, message string) (Verdict, error) {
	raw, err := c.gen.Generate(ctx, BuildPrompt(message), engine.GenerateOptions{MaxTokens: c.maxTokens})
	if err != nil {
		return VerdictUncertain, fmt.Errorf("classifying message: %w", err)
	}
	return ParseVerdict(raw), nil
}

// ParseVerdict maps a raw classifier answer to a Verdict. Only an exact
// YES or NO, after trimming whitespace, is recognised.
func ParseVerdict(raw string) Verdict {
	switch strings.TrimSpace(raw) {
	case "YES":
		return VerdictGrounding
	case "NO":
		return VerdictContinuation
	default:
		return VerdictUncertain
	}
}

// IsGroundingEvent reports whether message is a job description. An
// uncertain answer counts as false.
func (c *Classifier) IsGroundingEvent(ctx context.Context, message string) (bool, error) {
	v, err := c.Classify(ctx, message)
	if err != nil {
		return false, err
	}
	if v == VerdictUncertain {
		slog.Warn("classifier answer not recognised, treating as continuation")
	}
	slog.Debug("message classified", "verdict", v.String())
	return v == VerdictGrounding, nil
}
