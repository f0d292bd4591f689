package subscription

import (
	"time"

	"github.com/google/uuid"
)

// Status is the normalized provider subscription status.
type Status string

const (
	StatusActive   Status = "active"
	StatusPastDue  Status = "past_due"
	StatusCanceled Status = "canceled"
)

// Plan defines the monthly credit allotment of a provider price.
type Plan struct {
	ID              string  `db:"id" json:"id"`
	Name            string  `db:"name" json:"name"`
	ProviderPriceID *string `db:"provider_price_id" json:"provider_price_id,omitempty"`
	MonthlyCredits  int64   `db:"monthly_credits" json:"monthly_credits"`
	IsDefault       bool    `db:"is_default" json:"is_default"`
}

// Record is the per-account subscription row. Only the synchronizer writes
// it; is_premium and premium_until on the balance are its projection.
type Record struct {
	AccountID              uuid.UUID  `db:"account_id" json:"account_id"`
	ProviderSubscriptionID *string    `db:"provider_subscription_id" json:"provider_subscription_id,omitempty"`
	ProviderCustomerID     *string    `db:"provider_customer_id" json:"provider_customer_id,omitempty"`
	PlanID                 string     `db:"plan_id" json:"plan_id"`
	Status                 Status     `db:"status" json:"status"`
	CurrentPeriodEnd       *time.Time `db:"current_period_end" json:"current_period_end,omitempty"`
	CreatedAt              time.Time  `db:"created_at" json:"created_at"`
	UpdatedAt              time.Time  `db:"updated_at" json:"updated_at"`
}

// IsActive reports whether the record grants premium at now.
func (r *Record) IsActive(now time.Time) bool {
	if r.Status != StatusActive {
		return false
	}
	return r.CurrentPeriodEnd == nil || r.CurrentPeriodEnd.After(now)
}

// Outcome describes what ApplyProviderEvent did.
type Outcome struct {
	EventID      string
	AccountID    uuid.UUID
	Duplicate    bool
	Ignored      bool
	Premium      bool
	PremiumUntil *time.Time
	Granted      int64
	EntryID      *uuid.UUID
	BalanceAfter int64
}
