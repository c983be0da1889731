package ingest

import (
	"context"
	"fmt"
	"time"
)

// Conversation implements engine/moderation.Conversation over the personal
// chat with the configured moderator handle: SendMessage reuses Sender,
// GetResponse blocks on an inbox the listener feeds replies into.
type Conversation struct {
	sender      *Sender
	destination string
	inbox       chan string
}

// NewConversation builds a Conversation posting to destination (a personal
// @handle) through sender.
func NewConversation(sender *Sender, destination string) *Conversation {
	return &Conversation{sender: sender, destination: destination, inbox: make(chan string, 8)}
}

func (c *Conversation) SendMessage(ctx context.Context, text string) error {
	return c.sender.Send(ctx, c.destination, text)
}

func (c *Conversation) GetResponse(ctx context.Context, timeout time.Duration) (string, error) {
	select {
	case reply := <-c.inbox:
		return reply, nil
	case <-time.After(timeout):
		return "", fmt.Errorf("ingest: no moderation reply within %s", timeout)
	case <-ctx.Done():
		return "", ctx.Err()
	}
}

// Deliver feeds one inbound personal-chat message to a pending
// GetResponse call. Called by the listener's own message-routing path
// when a message's sender handle matches this Conversation's destination.
func (c *Conversation) Deliver(text string) {
	select {
	case c.inbox <- text:
	default:
	}
}
