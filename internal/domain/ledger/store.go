package ledger

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// Store is the persistence contract of the ledger. Every method that changes
// credits_remaining writes exactly one entry in the same transaction.
type Store interface {
	GetBalance(ctx context.Context, accountID uuid.UUID) (*Balance, error)
	// GetOrCreate returns the balance, creating it with the welcome bonus if
	// absent. The welcome entry is returned only to the creating caller.
	GetOrCreate(ctx context.Context, accountID uuid.UUID, welcome int64) (*Balance, *Entry, error)
	Debit(ctx context.Context, accountID uuid.UUID, amount int64, description string) (*DebitResult, error)
	Credit(ctx context.Context, p CreditParams) (*Entry, int64, error)
	// GrantDaily credits amount when the account is at zero, not premium and
	// not yet granted on day. A nil entry means no grant happened.
	GrantDaily(ctx context.Context, accountID uuid.UUID, amount int64, day time.Time) (*Entry, int64, error)
	ListEntries(ctx context.Context, accountID uuid.UUID, limit int) ([]Entry, error)
	ListEntriesBetween(ctx context.Context, from, to time.Time) ([]Entry, error)
	// Snapshot returns the balance with all of its entries in application
	// order, read consistently.
	Snapshot(ctx context.Context, accountID uuid.UUID) (*Balance, []Entry, error)
	ListAccountIDs(ctx context.Context, after uuid.UUID, limit int) ([]uuid.UUID, error)
	ExpireLapsedPremium(ctx context.Context, cutoff time.Time) ([]uuid.UUID, error)
}
