package subscription

import (
	"time"
)

// SubscriptionResponse represents the caller's subscription in API
type SubscriptionResponse struct {
	PlanID           string     `json:"plan_id"`
	Status           Status     `json:"status"`
	Active           bool       `json:"active"`
	CurrentPeriodEnd *time.Time `json:"current_period_end,omitempty"`
	DaysRemaining    int        `json:"days_remaining"` // -1 when the period end is unknown
}

// SubscriptionResponseFromEntity converts a record to response
func SubscriptionResponseFromEntity(r *Record, now time.Time) *SubscriptionResponse {
	resp := &SubscriptionResponse{
		PlanID:           r.PlanID,
		Status:           r.Status,
		Active:           r.IsActive(now),
		CurrentPeriodEnd: r.CurrentPeriodEnd,
		DaysRemaining:    -1,
	}
	if r.CurrentPeriodEnd != nil {
		remaining := r.CurrentPeriodEnd.Sub(now)
		if remaining < 0 {
			remaining = 0
		}
		resp.DaysRemaining = int(remaining.Hours() / 24)
	}
	return resp
}

// PlanResponse represents plan in API
type PlanResponse struct {
	ID             string `json:"id"`
	Name           string `json:"name"`
	MonthlyCredits int64  `json:"monthly_credits"`
}

func PlanResponsesFromEntities(plans []Plan) []PlanResponse {
	out := make([]PlanResponse, 0, len(plans))
	for _, p := range plans {
		out = append(out, PlanResponse{ID: p.ID, Name: p.Name, MonthlyCredits: p.MonthlyCredits})
	}
	return out
}
