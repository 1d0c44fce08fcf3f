// Package mail reads unread mail and sends threaded replies through the
// Gmail REST API.
package mail

import (
	"context"
	"errors"
)

// ErrNoSender is returned when a message to reply to has no From header.
var ErrNoSender = errors.New("message has no sender")

// Message is an unread inbox message reduced to what the responder needs.
type Message struct {
	ID       string
	ThreadID string
	From     string
	Subject  string
	Body     string
}

// Gateway is the mailbox the responder works against.
type Gateway interface {
	// ListUnread returns up to max unread inbox messages with their text bodies.
	ListUnread(ctx context.Context, max int) ([]Message, error)

	// SendReply replies in-thread to messageID and marks it read. It returns
	// the ID of the sent message. A non-empty ID with an error means the
	// reply went out but messageID is still unread.
	SendReply(ctx context.Context, messageID, body string) (string, error)

	// MarkRead removes the unread label from messageID.
	MarkRead(ctx context.Context, messageID string) error

	// Address returns the authenticated mailbox address.
	Address(ctx context.Context) (string, error)
}
