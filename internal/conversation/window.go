// Package conversation holds the bounded reply history used to continue a
// conversation between grounding events.
package conversation

import "strings"

// DefaultTurns is the number of prompt/reply pairs kept by default.
const DefaultTurns = 3

// Delimiter separates entries in a continuation prompt.
const Delimiter = "\n\n__________\n\n"

const continuationPreamble = "Continue this conversation (each individual reply is separated by __________) " +
	"(First prompt is by user, then the next is LLM, then user, and then LLM and so on):\n\n'''"

// Window is a FIFO of alternating prompt and reply entries holding at most
// 2n entries. It is not safe for concurrent use; a session owns one.
type Window struct {
	entries []string
	max     int
}

// New creates a Window that remembers the last n turns. n <= 0 selects
// DefaultTurns.
func New(n int) *Window {
	if n <= 0 {
		n = DefaultTurns
	}
	return &Window{max: 2 * n}
}

// Append adds an entry, evicting the oldest ones beyond capacity.
func (w *Window) Append(entry string) {
	w.entries = append(w.entries, entry)
	if over := len(w.entries) - w.max; over > 0 {
		w.entries = append(w.entries[:0:0], w.entries[over:]...)
	}
}

// Clear drops every entry.
func (w *Window) Clear() {
	w.entries = nil
}

// Len returns the number of entries held.
func (w *Window) Len() int { return len(w.entries) }

// Cap returns the maximum number of entries held.
func (w *Window) Cap() int { return w.max }

// Entries returns a copy of the entries, oldest first.
func (w *Window) Entries() []string {
	out := make([]string, len(w.entries))
	copy(out, w.entries)
	return out
}

// RenderContinuation builds the prompt that asks the model to continue the
// windowed conversation with message as the next user turn.
func (w *Window) RenderContinuation(message string) string {
	var sb strings.Builder
	sb.WriteString(continuationPreamble)
	for _, e := range w.entries {
		sb.WriteString(e)
		sb.WriteString(Delimiter)
	}
	sb.WriteString(message)
	sb.WriteString("\n\n'''")
	return sb.String()
}
