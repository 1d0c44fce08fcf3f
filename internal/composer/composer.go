// Package composer assembles the final generation prompt from a persona,
// retrieved profile context and the incoming message.
package composer

import (
	"errors"
	"fmt"
	"strings"

	"github.com/kalambet/applyd/internal/profile"
)

// Channel selects the reply template.
type Channel string

const (
	ChannelChat  Channel = "chat"
	ChannelEmail Channel = "email"
)

// ErrUnknownChannel is returned for a channel other than chat or email.
var ErrUnknownChannel = errors.New("unknown channel")

// ParseChannel converts a channel name to a Channel.
func ParseChannel(s string) (Channel, error) {
	switch c := Channel(strings.ToLower(strings.TrimSpace(s))); c {
	case ChannelChat, ChannelEmail:
		return c, nil
	default:
		return "", fmt.Errorf("%w: %q", ErrUnknownChannel, s)
	}
}

// Assemble renders the reply prompt for ch. Empty persona fields render as
// "Unknown"; an empty context still yields a complete prompt.
func Assemble(persona profile.Persona, context, message string, ch Channel) (string, error) {
	var tmpl string
	switch ch {
	case ChannelChat:
		tmpl = chatTemplate
	case ChannelEmail:
		tmpl = emailTemplate
	default:
		return "", fmt.Errorf("%w: %q", ErrUnknownChannel, string(ch))
	}

	r := strings.NewReplacer(
		"{name}", orUnknown(persona.Name),
		"{address}", orUnknown(persona.Address),
		"{about}", orUnknown(persona.About),
		"{context}", context,
		"{message}", message,
	)
	return r.Replace(tmpl), nil
}

func orUnknown(s string) string {
	if s == "" {
		return profile.Unknown
	}
	return s
}
