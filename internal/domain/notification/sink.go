package notification

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"

	"github.com/mwork/ledger-api/internal/pkg/chatbot"
	"github.com/mwork/ledger-api/internal/pkg/events"
)

// Sink is an external delivery channel for committed notifications.
type Sink interface {
	Name() string
	Deliver(ctx context.Context, n *Notification) error
}

// Publisher is the event bus seen by BusSink.
type Publisher interface {
	Publish(ctx context.Context, subject string, v any) error
}

// BusSink hands notifications to the worker relay over the event bus.
type BusSink struct {
	pub Publisher
}

func NewBusSink(pub Publisher) *BusSink {
	return &BusSink{pub: pub}
}

func (s *BusSink) Name() string { return "bus" }

func (s *BusSink) Deliver(ctx context.Context, n *Notification) error {
	return s.pub.Publish(ctx, events.SubjectNotification, toEvent(n))
}

// ChatLookup resolves the chat linked to an account.
type ChatLookup interface {
	GetChatID(ctx context.Context, accountID uuid.UUID) (string, error)
}

// ChatSink sends notifications straight to the chat-bot provider. Accounts
// without a linked chat are skipped.
type ChatSink struct {
	chats    ChatLookup
	provider chatbot.Provider
}

func NewChatSink(chats ChatLookup, provider chatbot.Provider) *ChatSink {
	return &ChatSink{chats: chats, provider: provider}
}

func (s *ChatSink) Name() string { return "chatbot" }

func (s *ChatSink) Deliver(ctx context.Context, n *Notification) error {
	chatID, err := s.chats.GetChatID(ctx, n.UserID)
	if errors.Is(err, ErrNoChannel) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("lookup chat: %w", err)
	}
	return s.provider.SendMessage(ctx, chatID, FormatMessage(n.Title, n.Body))
}

// FormatMessage renders a notification as chat text.
func FormatMessage(title, body string) string {
	if body == "" {
		return title
	}
	return title + "\n" + body
}

func toEvent(n *Notification) events.Notification {
	return events.Notification{
		ID:        n.ID.String(),
		AccountID: n.UserID.String(),
		Type:      string(n.Type),
		Title:     n.Title,
		Body:      n.Body,
		Data:      n.GetData(),
		CreatedAt: n.CreatedAt,
	}
}
