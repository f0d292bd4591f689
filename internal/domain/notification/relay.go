package notification

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/mwork/ledger-api/internal/pkg/chatbot"
	"github.com/mwork/ledger-api/internal/pkg/events"
	"github.com/mwork/ledger-api/internal/pkg/metrics"
)

// Relay delivers bus notifications to the chat-bot provider. It runs in
// the worker behind a NATS queue subscription.
type Relay struct {
	chats    ChatLookup
	provider chatbot.Provider
	metrics  *metrics.Metrics
}

func NewRelay(chats ChatLookup, provider chatbot.Provider, m *metrics.Metrics) *Relay {
	return &Relay{chats: chats, provider: provider, metrics: m}
}

// Handle processes one events.Notification payload. Malformed payloads and
// accounts without a chat are dropped; send errors are returned for logging.
func (r *Relay) Handle(ctx context.Context, data []byte) error {
	var ev events.Notification
	if err := json.Unmarshal(data, &ev); err != nil {
		log.Warn().Err(err).Msg("Dropping malformed notification event")
		return nil
	}
	accountID, err := uuid.Parse(ev.AccountID)
	if err != nil {
		log.Warn().Str("account_id", ev.AccountID).Msg("Dropping notification with invalid account id")
		return nil
	}

	chatID, err := r.chats.GetChatID(ctx, accountID)
	if errors.Is(err, ErrNoChannel) {
		return nil
	}
	if err != nil {
		r.metrics.NotificationFailure("relay")
		return fmt.Errorf("lookup chat: %w", err)
	}

	if err := r.provider.SendMessage(ctx, chatID, FormatMessage(ev.Title, ev.Body)); err != nil {
		r.metrics.NotificationFailure("relay")
		return fmt.Errorf("send notification %s: %w", ev.ID, err)
	}
	log.Debug().Str("notification_id", ev.ID).Str("account_id", ev.AccountID).Msg("Notification relayed")
	return nil
}

// Alerter sends operator alerts to a fixed chat. Without a chat id alerts
// are only logged.
type Alerter struct {
	chatID   string
	provider chatbot.Provider
}

func NewAlerter(provider chatbot.Provider, chatID string) *Alerter {
	return &Alerter{chatID: chatID, provider: provider}
}

func (a *Alerter) Alert(ctx context.Context, text string) {
	log.Warn().Str("alert", text).Msg("Operator alert")
	if a == nil || a.chatID == "" {
		return
	}
	if err := a.provider.SendMessage(ctx, a.chatID, "[ledger alert] "+text); err != nil {
		log.Error().Err(err).Msg("Failed to send operator alert")
	}
}
