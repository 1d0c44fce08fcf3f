package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/kalambet/applyd/internal/composer"
	"github.com/kalambet/applyd/internal/engine"
	"github.com/kalambet/applyd/internal/mail"
)

// MailSummary counts what one sweep of the inbox did.
type MailSummary struct {
	Seen    int
	Replied int
	Skipped int
	Failed  int
}

// Responder answers unread job-description mail. Each message is handled
// on its own; there is no conversation window.
type Responder struct {
	grounding  Grounding
	gate       Gate
	gen        engine.Generator
	maxTokens  int
	mailbox    mail.Gateway
	maxResults int
	recorder   TurnRecorder

	// answered holds messages whose reply was sent but which could not be
	// marked read. They are never answered twice.
	answered map[string]struct{}
}

// ProcessUnread replies to every unread message the gate accepts and leaves
// the rest unread. A failure on one message is counted in Failed and does
// not stop the sweep; the per-message errors are returned joined.
func (r *Responder) ProcessUnread(ctx context.Context) (MailSummary, error) {
	var sum MailSummary

	msgs, err := r.mailbox.ListUnread(ctx, r.maxResults)
	if err != nil {
		return sum, err
	}

	var errs []error
	for _, m := range msgs {
		if err := ctx.Err(); err != nil {
			return sum, err
		}
		sum.Seen++

		if _, ok := r.answered[m.ID]; ok {
			r.retryMarkRead(ctx, m.ID)
			sum.Skipped++
			continue
		}

		replied, err := r.respond(ctx, m)
		switch {
		case err != nil:
			slog.Warn("failed to answer mail", "message_id", m.ID, "from", m.From, "error", err)
			sum.Failed++
			errs = append(errs, err)
		case replied:
			sum.Replied++
		default:
			sum.Skipped++
		}
	}
	return sum, errors.Join(errs...)
}

// respond handles one message and reports whether a reply was sent.
func (r *Responder) respond(ctx context.Context, m mail.Message) (bool, error) {
	gated, err := r.gate.IsGroundingEvent(ctx, m.Body)
	if err != nil {
		return false, fmt.Errorf("classifying message %s: %w", m.ID, err)
	}
	if !gated {
		slog.Debug("skipping non job-description mail", "message_id", m.ID, "from", m.From)
		return false, nil
	}
	if m.From == "" {
		return false, fmt.Errorf("message %s: %w", m.ID, mail.ErrNoSender)
	}

	retrieved, prompt, err := r.grounding.Ground(ctx, m.Body, composer.ChannelEmail)
	if err != nil {
		return false, fmt.Errorf("grounding message %s: %w", m.ID, err)
	}
	reply, err := r.gen.Generate(ctx, prompt, engine.GenerateOptions{MaxTokens: r.maxTokens})
	if err != nil {
		return false, fmt.Errorf("generating reply to %s: %w", m.ID, err)
	}

	sentID, err := r.mailbox.SendReply(ctx, m.ID, reply)
	if err != nil && sentID == "" {
		return false, err
	}
	if err != nil {
		slog.Warn("reply sent but message left unread", "message_id", m.ID, "sent_id", sentID, "error", err)
		if r.answered == nil {
			r.answered = make(map[string]struct{})
		}
		r.answered[m.ID] = struct{}{}
	}

	slog.Info("replied to job-description mail", "message_id", m.ID,
		"from", m.From, "context_bytes", len(retrieved))
	saveTurn(r.recorder, storageTurn(r.grounding, "mail:"+m.ThreadID, composer.ChannelEmail, true, m.Body, prompt, reply))
	return true, nil
}

func (r *Responder) retryMarkRead(ctx context.Context, id string) {
	if err := r.mailbox.MarkRead(ctx, id); err != nil {
		slog.Warn("still unable to mark answered mail read", "message_id", id, "error", err)
		return
	}
	delete(r.answered, id)
}
