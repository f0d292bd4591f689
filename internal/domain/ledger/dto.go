package ledger

import (
	"time"

	"github.com/google/uuid"
)

type DebitRequest struct {
	Amount      int64  `json:"amount" validate:"gt=0,lte=1000000"`
	Description string `json:"description" validate:"max=500"`
}

type CreditRequest struct {
	Amount        int64  `json:"amount" validate:"gt=0,lte=1000000"`
	Description   string `json:"description" validate:"max=500"`
	Kind          string `json:"kind,omitempty" validate:"credit_kind"`
	SourceEventID string `json:"source_event_id,omitempty" validate:"source_event_id"`
}

type BalanceResponse struct {
	AccountID         uuid.UUID  `json:"account_id"`
	CreditsRemaining  int64      `json:"credits_remaining"`
	IsPremium         bool       `json:"is_premium"`
	PremiumUntil      *time.Time `json:"premium_until,omitempty"`
	LastFreeGrantDate string     `json:"last_free_grant_date,omitempty"`
	MonthlyUsage      int64      `json:"monthly_usage"`
	TotalUsed         int64      `json:"total_used"`
}

func BalanceResponseFromEntity(b *Balance) *BalanceResponse {
	resp := &BalanceResponse{
		AccountID:        b.AccountID,
		CreditsRemaining: b.CreditsRemaining,
		IsPremium:        b.IsPremium,
		PremiumUntil:     b.PremiumUntil,
		MonthlyUsage:     b.MonthlyUsage,
		TotalUsed:        b.TotalUsed,
	}
	if b.LastFreeGrantDate != nil {
		resp.LastFreeGrantDate = b.LastFreeGrantDate.Format("2006-01-02")
	}
	return resp
}

type DebitResponse struct {
	Applied      bool       `json:"applied"`
	BalanceAfter int64      `json:"balance_after"`
	EntryID      *uuid.UUID `json:"entry_id,omitempty"`
}

type CreditResponse struct {
	EntryID      *uuid.UUID `json:"entry_id,omitempty"`
	BalanceAfter *int64     `json:"balance_after,omitempty"`
	Duplicate    bool       `json:"duplicate"`
}

type EntitlementResponse struct {
	Allowed bool  `json:"allowed"`
	Amount  int64 `json:"amount"`
}

type EntryResponse struct {
	EntryID       uuid.UUID `json:"entry_id"`
	Kind          Kind      `json:"kind"`
	Amount        int64     `json:"amount"`
	Description   string    `json:"description"`
	SourceEventID *string   `json:"source_event_id,omitempty"`
	CreatedAt     time.Time `json:"created_at"`
}

func EntryResponsesFromEntities(entries []Entry) []EntryResponse {
	out := make([]EntryResponse, 0, len(entries))
	for _, e := range entries {
		out = append(out, EntryResponse{
			EntryID:       e.ID,
			Kind:          e.Kind,
			Amount:        e.Amount,
			Description:   e.Description,
			SourceEventID: e.SourceEventID,
			CreatedAt:     e.CreatedAt,
		})
	}
	return out
}
