package subscription

import (
	"time"

	"github.com/google/uuid"
)

// Change is the state one event moves an account to.
type Change struct {
	Record       Record
	Premium      bool
	PremiumUntil *time.Time
	Grant        int64
	Description  string
	ResetUsage   bool
}

const (
	DescriptionActivation = "premium activation"
	DescriptionRenewal    = "subscription renewal"
)

// planChange decides the projection of ev onto the account.
//
// Credits are granted once per billing period:
//   - checkout_completed grants unless the record is still active;
//   - subscription_updated grants when no record exists, when the period end
//     moves past the stored one, or when an inactive record without a period
//     end is reactivated. A record written by a checkout without a period end
//     only gets its period end filled in.
//
// Deactivating events never advance the stored period end.
func planChange(ev *ProviderEvent, accountID uuid.UUID, existing *Record, plan *Plan, now time.Time) Change {
	rec := Record{AccountID: accountID}
	if existing != nil {
		rec = *existing
	}
	rec.AccountID = accountID
	rec.PlanID = plan.ID
	if ev.Ref.SubscriptionID != "" {
		id := ev.Ref.SubscriptionID
		rec.ProviderSubscriptionID = &id
	}
	if ev.Ref.CustomerID != "" {
		id := ev.Ref.CustomerID
		rec.ProviderCustomerID = &id
	}
	switch {
	case ev.PeriodEnd != nil:
		end := ev.PeriodEnd.UTC()
		rec.CurrentPeriodEnd = &end
	case ev.Type == EventCheckoutCompleted && (existing == nil || !existing.IsActive(now)):
		rec.CurrentPeriodEnd = nil
	}

	if !ev.activates() {
		// The stored period end marks the last paid period. A failed renewal
		// reports the unpaid period's end, which must stay grantable once paid.
		rec.CurrentPeriodEnd = nil
		if existing != nil {
			rec.CurrentPeriodEnd = existing.CurrentPeriodEnd
		}
		rec.Status = StatusCanceled
		if ev.Type == EventSubscriptionUpdated && ev.Status != "" {
			rec.Status = ev.Status
		}
		return Change{Record: rec}
	}

	rec.Status = StatusActive
	ch := Change{Record: rec, Premium: true}

	until := now.UTC().AddDate(0, 1, 0)
	if rec.CurrentPeriodEnd != nil && rec.CurrentPeriodEnd.After(now) {
		until = *rec.CurrentPeriodEnd
	}
	ch.PremiumUntil = &until

	if grantsCredits(ev, existing, now) {
		ch.Grant = plan.MonthlyCredits
		ch.ResetUsage = true
		ch.Description = DescriptionRenewal
		if ev.Type == EventCheckoutCompleted {
			ch.Description = DescriptionActivation
		}
	}
	return ch
}

func grantsCredits(ev *ProviderEvent, existing *Record, now time.Time) bool {
	if existing == nil {
		return true
	}
	if ev.Type == EventCheckoutCompleted {
		return !existing.IsActive(now)
	}
	if existing.CurrentPeriodEnd == nil {
		return existing.Status != StatusActive
	}
	return ev.PeriodEnd != nil && ev.PeriodEnd.After(*existing.CurrentPeriodEnd)
}
