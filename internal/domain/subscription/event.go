package subscription

import (
	"strings"
	"time"

	"github.com/google/uuid"
)

// EventType is the provider-neutral kind of a lifecycle event.
type EventType string

const (
	EventCheckoutCompleted    EventType = "checkout_completed"
	EventSubscriptionUpdated  EventType = "subscription_updated"
	EventSubscriptionCanceled EventType = "subscription_canceled"
	EventUnknown              EventType = "unknown"
)

// AccountRef holds every identifier an event may carry. Resolution tries
// them in field order.
type AccountRef struct {
	AccountID      uuid.UUID
	CustomerID     string
	SubscriptionID string
}

// ProviderEvent is one payment-provider callback after verification.
type ProviderEvent struct {
	ID         string
	Type       EventType
	Ref        AccountRef
	Status     Status
	PeriodEnd  *time.Time
	PriceID    string
	OccurredAt time.Time
}

func (e *ProviderEvent) activates() bool {
	switch e.Type {
	case EventCheckoutCompleted:
		return true
	case EventSubscriptionUpdated:
		return e.Status == StatusActive
	}
	return false
}

// MapProviderStatus normalizes a provider status string. Unknown values
// report ok=false.
func MapProviderStatus(s string) (Status, bool) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "active", "trialing":
		return StatusActive, true
	case "past_due", "unpaid", "incomplete":
		return StatusPastDue, true
	case "canceled", "cancelled", "incomplete_expired":
		return StatusCanceled, true
	}
	return "", false
}
