package ledger

import (
	"time"

	"github.com/google/uuid"
)

type Kind string

const (
	KindDebit  Kind = "debit"
	KindCredit Kind = "credit"
	KindRefund Kind = "refund"
)

func (k Kind) Valid() bool {
	switch k {
	case KindDebit, KindCredit, KindRefund:
		return true
	}
	return false
}

// Descriptions written by the ledger itself.
const (
	DescriptionWelcome   = "welcome bonus"
	DescriptionDailyFree = "daily free credit"
)

// Balance is the per-account balance row. Accounts are owned by the external
// auth system; the ledger only keys rows by their id.
type Balance struct {
	AccountID         uuid.UUID  `db:"account_id" json:"account_id"`
	CreditsRemaining  int64      `db:"credits_remaining" json:"credits_remaining"`
	IsPremium         bool       `db:"is_premium" json:"is_premium"`
	PremiumUntil      *time.Time `db:"premium_until" json:"premium_until,omitempty"`
	LastFreeGrantDate *time.Time `db:"last_free_grant_date" json:"last_free_grant_date,omitempty"`
	MonthlyUsage      int64      `db:"monthly_usage" json:"monthly_usage"`
	TotalUsed         int64      `db:"total_used" json:"total_used"`
	CreatedAt         time.Time  `db:"created_at" json:"created_at"`
	UpdatedAt         time.Time  `db:"updated_at" json:"updated_at"`
}

// Entry is an immutable ledger line. Amount is always positive; Kind gives
// the direction.
type Entry struct {
	ID            uuid.UUID `db:"entry_id" json:"entry_id"`
	Seq           int64     `db:"seq" json:"-"`
	AccountID     uuid.UUID `db:"account_id" json:"account_id"`
	Kind          Kind      `db:"kind" json:"kind"`
	Amount        int64     `db:"amount" json:"amount"`
	Description   string    `db:"description" json:"description"`
	SourceEventID *string   `db:"source_event_id" json:"source_event_id,omitempty"`
	PremiumBypass bool      `db:"premium_bypass" json:"premium_bypass"`
	CreatedAt     time.Time `db:"created_at" json:"created_at"`
}

// Signed returns the entry's effect on credits_remaining before any clamp.
func (e Entry) Signed() int64 {
	if e.Kind == KindDebit {
		return -e.Amount
	}
	return e.Amount
}

type CreditParams struct {
	AccountID     uuid.UUID
	Amount        int64
	Kind          Kind // credit or refund; empty means credit
	Description   string
	SourceEventID string
}

func (p *CreditParams) normalize() error {
	if p.Amount <= 0 {
		return ErrInvalidAmount
	}
	if p.Kind == "" {
		p.Kind = KindCredit
	}
	if p.Kind != KindCredit && p.Kind != KindRefund {
		return ErrInvalidKind
	}
	return nil
}

type DebitResult struct {
	Applied       bool
	BalanceAfter  int64
	PremiumBypass bool
	Entry         *Entry
}

type GrantResult struct {
	Granted      bool
	BalanceAfter int64
	Entry        *Entry
}

// ReconcileReport compares credits_remaining with a replay of the entries.
type ReconcileReport struct {
	AccountID        uuid.UUID `json:"account_id"`
	CreditsRemaining int64     `json:"credits_remaining"`
	Replayed         int64     `json:"replayed"`
	PlainSum         int64     `json:"plain_sum"`
	Entries          int       `json:"entries"`
	Consistent       bool      `json:"consistent"`
}

// Replay folds entries in application order. Debits applied through the
// premium path floor at zero, exactly as the store applied them; plain is
// the unclamped credits minus debits.
func Replay(entries []Entry) (replayed, plain int64) {
	for _, e := range entries {
		plain += e.Signed()
		replayed += e.Signed()
		if e.Kind == KindDebit && e.PremiumBypass && replayed < 0 {
			replayed = 0
		}
	}
	return replayed, plain
}
