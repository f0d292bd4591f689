package notification

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// Type represents notification type
type Type string

const (
	TypeWelcome          Type = "welcome"
	TypeCreditGranted    Type = "credit_granted"
	TypeLowBalance       Type = "low_balance"
	TypePremiumActivated Type = "premium_activated"
	TypePremiumEnded     Type = "premium_ended"
)

// Notification represents an inbox entry of an account
type Notification struct {
	ID        uuid.UUID       `db:"id" json:"id"`
	UserID    uuid.UUID       `db:"user_id" json:"user_id"`
	Type      Type            `db:"type" json:"type"`
	Title     string          `db:"title" json:"title"`
	Body      string          `db:"body" json:"body"`
	Data      json.RawMessage `db:"data" json:"data,omitempty"`
	IsRead    bool            `db:"is_read" json:"is_read"`
	ReadAt    *time.Time      `db:"read_at" json:"read_at,omitempty"`
	CreatedAt time.Time       `db:"created_at" json:"created_at"`
}

// SetData encodes data to JSON
func (n *Notification) SetData(data map[string]string) {
	if len(data) > 0 {
		n.Data, _ = json.Marshal(data)
	}
}

// GetData decodes data from JSON
func (n *Notification) GetData() map[string]string {
	out := map[string]string{}
	if len(n.Data) > 0 {
		_ = json.Unmarshal(n.Data, &out)
	}
	return out
}

// Channel links an account to a chat-bot chat.
type Channel struct {
	AccountID uuid.UUID `db:"account_id" json:"account_id"`
	ChatID    string    `db:"chat_id" json:"chat_id"`
	CreatedAt time.Time `db:"created_at" json:"created_at"`
}
