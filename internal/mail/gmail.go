package mail

import (
	"context"
	"encoding/base64"
	"fmt"
	"log/slog"
	"net/http"
	"strings"

	"google.golang.org/api/gmail/v1"
	"google.golang.org/api/option"
)

const (
	me          = "me"
	unreadLabel = "UNREAD"
	noSubject   = "No Subject"
)

// Compile-time check that GmailGateway implements Gateway.
var _ Gateway = (*GmailGateway)(nil)

// GmailGateway implements Gateway over gmail/v1.
type GmailGateway struct {
	svc *gmail.Service
}

// NewGmailGateway builds a gateway that authenticates with client, which is
// usually an oauth2 client from Authorize. A non-empty endpoint overrides
// the API base URL.
func NewGmailGateway(ctx context.Context, client *http.Client, endpoint string) (*GmailGateway, error) {
	opts := []option.ClientOption{option.WithHTTPClient(client)}
	if endpoint != "" {
		opts = append(opts, option.WithEndpoint(endpoint))
	}
	svc, err := gmail.NewService(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("creating gmail service: %w", err)
	}
	return &GmailGateway{svc: svc}, nil
}

func (g *GmailGateway) ListUnread(ctx context.Context, max int) ([]Message, error) {
	call := g.svc.Users.Messages.List(me).LabelIds(unreadLabel).Context(ctx)
	if max > 0 {
		call = call.MaxResults(int64(max))
	}
	list, err := call.Do()
	if err != nil {
		return nil, fmt.Errorf("listing unread messages: %w", err)
	}

	out := make([]Message, 0, len(list.Messages))
	for _, ref := range list.Messages {
		m, err := g.svc.Users.Messages.Get(me, ref.Id).Format("full").Context(ctx).Do()
		if err != nil {
			return nil, fmt.Errorf("fetching message %s: %w", ref.Id, err)
		}
		msg := Message{ID: m.Id, ThreadID: m.ThreadId}
		if m.Payload != nil {
			msg.From = header(m.Payload, "From")
			msg.Subject = header(m.Payload, "Subject")
			msg.Body = extractBody(m.Payload)
		}
		out = append(out, msg)
	}
	return out, nil
}

func (g *GmailGateway) SendReply(ctx context.Context, messageID, body string) (string, error) {
	orig, err := g.svc.Users.Messages.Get(me, messageID).Format("metadata").
		MetadataHeaders("From", "Subject", "Message-ID").Context(ctx).Do()
	if err != nil {
		return "", fmt.Errorf("fetching message %s: %w", messageID, err)
	}
	if orig.Payload == nil {
		return "", fmt.Errorf("message %s: %w", messageID, ErrNoSender)
	}
	from := header(orig.Payload, "From")
	if from == "" {
		return "", fmt.Errorf("message %s: %w", messageID, ErrNoSender)
	}
	subject := header(orig.Payload, "Subject")
	if subject == "" {
		subject = noSubject
	}

	raw := buildReply(from, subject, header(orig.Payload, "Message-ID"), body)
	sent, err := g.svc.Users.Messages.Send(me, &gmail.Message{
		Raw:      base64.URLEncoding.EncodeToString(raw),
		ThreadId: orig.ThreadId,
	}).Context(ctx).Do()
	if err != nil {
		return "", fmt.Errorf("sending reply to %s: %w", messageID, err)
	}
	slog.Info("reply sent", "to", from, "message_id", sent.Id, "thread_id", orig.ThreadId)

	if err := g.MarkRead(ctx, messageID); err != nil {
		return sent.Id, err
	}
	return sent.Id, nil
}

func (g *GmailGateway) MarkRead(ctx context.Context, messageID string) error {
	_, err := g.svc.Users.Messages.Modify(me, messageID, &gmail.ModifyMessageRequest{
		RemoveLabelIds: []string{unreadLabel},
	}).Context(ctx).Do()
	if err != nil {
		return fmt.Errorf("marking %s read: %w", messageID, err)
	}
	return nil
}

func (g *GmailGateway) Address(ctx context.Context) (string, error) {
	p, err := g.svc.Users.GetProfile(me).Context(ctx).Do()
	if err != nil {
		return "", fmt.Errorf("fetching gmail profile: %w", err)
	}
	return p.EmailAddress, nil
}

func header(p *gmail.MessagePart, name string) string {
	for _, h := range p.Headers {
		if strings.EqualFold(h.Name, name) {
			return h.Value
		}
	}
	return ""
}

// buildReply renders a plain-text RFC 5322 reply.
func buildReply(to, subject, inReplyTo, body string) []byte {
	var sb strings.Builder
	fmt.Fprintf(&sb, "To: %s\r\n", to)
	fmt.Fprintf(&sb, "Subject: Re: %s\r\n", subject)
	if inReplyTo != "" {
		fmt.Fprintf(&sb, "In-Reply-To: %s\r\n", inReplyTo)
		fmt.Fprintf(&sb, "References: %s\r\n", inReplyTo)
	}
	sb.WriteString("MIME-Version: 1.0\r\n")
	sb.WriteString("Content-Type: text/plain; charset=\"utf-8\"\r\n")
	sb.WriteString("\r\n")
	sb.WriteString(body)
	return []byte(sb.String())
}
