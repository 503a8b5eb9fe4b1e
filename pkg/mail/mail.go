package mail

import (
	"context"
	"strings"
)

// Message is an outbound email. Text is derived from HTML when empty.
type Message struct {
	To      string
	Subject string
	HTML    string
	Text    string
}

// Sender delivers messages.
type Sender interface {
	Send(ctx context.Context, msg Message) error
}

// NopSender accepts and drops every message. It backs deployments without
// SMTP settings.
type NopSender struct{}

func (NopSender) Send(context.Context, Message) error { return nil }

func normalizeAddress(addr string) string {
	return strings.TrimSpace(addr)
}
