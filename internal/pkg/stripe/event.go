package stripe

import (
	"encoding/json"
	"strconv"
	"strings"
	"time"
)

// Kinds of events the ledger reacts to.
const (
	KindCheckoutCompleted    = "checkout_completed"
	KindSubscriptionUpdated  = "subscription_updated"
	KindSubscriptionCanceled = "subscription_canceled"
)

// Event is a decoded, provider-neutral subscription event.
type Event struct {
	ID             string
	StripeType     string
	Kind           string
	AccountID      string // from metadata or client_reference_id
	CustomerID     string
	SubscriptionID string
	Status         string // raw Stripe subscription status
	PeriodEnd      *time.Time
	PriceID        string
	OccurredAt     time.Time
}

type envelope struct {
	ID      string `json:"id"`
	Type    string `json:"type"`
	Created int64  `json:"created"`
	Data    struct {
		Object json.RawMessage `json:"object"`
	} `json:"data"`
}

type checkoutSession struct {
	ID                string         `json:"id"`
	Customer          expandableID   `json:"customer"`
	Subscription      expandableID   `json:"subscription"`
	ClientReferenceID string         `json:"client_reference_id"`
	Metadata          map[string]any `json:"metadata"`
}

type subscriptionObject struct {
	ID               string         `json:"id"`
	Customer         expandableID   `json:"customer"`
	Status           string         `json:"status"`
	CurrentPeriodEnd int64          `json:"current_period_end"`
	Metadata         map[string]any `json:"metadata"`
	Items            struct {
		Data []struct {
			CurrentPeriodEnd int64 `json:"current_period_end"`
			Price            struct {
				ID string `json:"id"`
			} `json:"price"`
		} `json:"data"`
	} `json:"items"`
}

// expandableID is a reference Stripe sends either as an id string or, when
// expanded, as the full object. Null decodes to "".
type expandableID string

func (e *expandableID) UnmarshalJSON(data []byte) error {
	if string(data) == "null" {
		*e = ""
		return nil
	}
	if len(data) > 0 && data[0] == '{' {
		var obj struct {
			ID string `json:"id"`
		}
		if err := json.Unmarshal(data, &obj); err != nil {
			return err
		}
		*e = expandableID(obj.ID)
		return nil
	}
	var id string
	if err := json.Unmarshal(data, &id); err != nil {
		return err
	}
	*e = expandableID(id)
	return nil
}

// Parse decodes a verified payload. Event types the ledger does not handle
// yield ErrEventIgnored together with the envelope id and type.
func Parse(payload []byte) (*Event, error) {
	var env envelope
	if err := json.Unmarshal(payload, &env); err != nil {
		return nil, ErrInvalidPayload
	}
	if strings.TrimSpace(env.ID) == "" || len(env.Data.Object) == 0 {
		return nil, ErrInvalidPayload
	}

	ev := &Event{
		ID:         env.ID,
		StripeType: env.Type,
		OccurredAt: unixOrNow(env.Created),
	}

	switch env.Type {
	case "checkout.session.completed":
		var cs checkoutSession
		if err := json.Unmarshal(env.Data.Object, &cs); err != nil {
			return nil, ErrInvalidPayload
		}
		ev.Kind = KindCheckoutCompleted
		ev.AccountID = readMetadataValue(cs.Metadata, "account_id")
		if ev.AccountID == "" {
			ev.AccountID = strings.TrimSpace(cs.ClientReferenceID)
		}
		ev.CustomerID = string(cs.Customer)
		ev.SubscriptionID = string(cs.Subscription)
		ev.Status = "active"
		ev.PriceID = readMetadataValue(cs.Metadata, "price_id")
		return ev, nil

	case "customer.subscription.created", "customer.subscription.updated", "customer.subscription.deleted":
		var sub subscriptionObject
		if err := json.Unmarshal(env.Data.Object, &sub); err != nil {
			return nil, ErrInvalidPayload
		}
		ev.Kind = KindSubscriptionUpdated
		if env.Type == "customer.subscription.deleted" {
			ev.Kind = KindSubscriptionCanceled
		}
		ev.AccountID = readMetadataValue(sub.Metadata, "account_id")
		ev.CustomerID = string(sub.Customer)
		ev.SubscriptionID = sub.ID
		ev.Status = sub.Status

		periodEnd := sub.CurrentPeriodEnd
		if len(sub.Items.Data) > 0 {
			item := sub.Items.Data[0]
			ev.PriceID = item.Price.ID
			if periodEnd == 0 {
				periodEnd = item.CurrentPeriodEnd
			}
		}
		if periodEnd > 0 {
			t := time.Unix(periodEnd, 0).UTC()
			ev.PeriodEnd = &t
		}
		return ev, nil

	default:
		return ev, ErrEventIgnored
	}
}

func unixOrNow(sec int64) time.Time {
	if sec == 0 {
		return time.Now().UTC()
	}
	return time.Unix(sec, 0).UTC()
}

func readMetadataValue(metadata map[string]any, key string) string {
	value, ok := metadata[key]
	if !ok {
		return ""
	}
	switch cast := value.(type) {
	case string:
		return strings.TrimSpace(cast)
	case float64:
		return strconv.FormatInt(int64(cast), 10)
	case json.Number:
		return cast.String()
	}
	return ""
}
