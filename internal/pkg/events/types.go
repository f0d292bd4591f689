package events

import "time"

// EntryCreated is published after a ledger entry commits.
type EntryCreated struct {
	EntryID       string    `json:"entry_id"`
	AccountID     string    `json:"account_id"`
	Kind          string    `json:"kind"`
	Amount        int64     `json:"amount"`
	BalanceAfter  int64     `json:"balance_after"`
	PremiumBypass bool      `json:"premium_bypass,omitempty"`
	SourceEventID string    `json:"source_event_id,omitempty"`
	CreatedAt     time.Time `json:"created_at"`
}

// PremiumChanged is published when a provider event flips premium status.
type PremiumChanged struct {
	AccountID    string     `json:"account_id"`
	IsPremium    bool       `json:"is_premium"`
	PremiumUntil *time.Time `json:"premium_until,omitempty"`
	EventID      string     `json:"event_id"`
}

// Notification is the relay payload consumed by the worker.
type Notification struct {
	ID        string            `json:"id"`
	AccountID string            `json:"account_id"`
	Type      string            `json:"type"`
	Title     string            `json:"title"`
	Body      string            `json:"body"`
	Data      map[string]string `json:"data,omitempty"`
	CreatedAt time.Time         `json:"created_at"`
}
