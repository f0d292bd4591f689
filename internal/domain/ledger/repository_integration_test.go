package ledger

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mwork/ledger-api/internal/pkg/database/dbtest"
)

/* =========================
   Postgres: concurrent debits
   ========================= */

func TestRepositoryConcurrentDebits(t *testing.T) {
	db := dbtest.Open(t)
	repo := NewRepository(db)
	ctx := context.Background()
	accountID := uuid.New()

	_, welcome, err := repo.GetOrCreate(ctx, accountID, 5)
	require.NoError(t, err)
	require.NotNil(t, welcome)

	var (
		wg      sync.WaitGroup
		mu      sync.Mutex
		applied int
	)
	for i := 0; i < 15; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			res, err := repo.Debit(ctx, accountID, 1, "concurrent")
			if err != nil {
				t.Errorf("debit: %v", err)
				return
			}
			if res.Applied {
				mu.Lock()
				applied++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, 5, applied)
	b, entries, err := repo.Snapshot(ctx, accountID)
	require.NoError(t, err)
	assert.Equal(t, int64(0), b.CreditsRemaining)
	assert.Len(t, entries, 6)
	replayed, _ := Replay(entries)
	assert.Equal(t, b.CreditsRemaining, replayed)
}

/* =========================
   Postgres: welcome bonus written once
   ========================= */

func TestRepositoryGetOrCreateWelcomeOnce(t *testing.T) {
	db := dbtest.Open(t)
	repo := NewRepository(db)
	ctx := context.Background()
	accountID := uuid.New()

	var (
		wg       sync.WaitGroup
		mu       sync.Mutex
		welcomes int
	)
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, entry, err := repo.GetOrCreate(ctx, accountID, 10)
			if err != nil {
				t.Errorf("get or create: %v", err)
				return
			}
			if entry != nil {
				mu.Lock()
				welcomes++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, 1, welcomes)
	entries, err := repo.ListEntries(ctx, accountID, 10)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, DescriptionWelcome, entries[0].Description)
}

/* =========================
   Postgres: premium clamp, grants, idempotent credit
   ========================= */

func TestRepositoryPremiumClampAndGrant(t *testing.T) {
	db := dbtest.Open(t)
	repo := NewRepository(db)
	ctx := context.Background()
	accountID := uuid.New()

	_, _, err := repo.GetOrCreate(ctx, accountID, 0)
	require.NoError(t, err)

	day := time.Date(2026, 3, 10, 0, 0, 0, 0, time.UTC)
	entry, after, err := repo.GrantDaily(ctx, accountID, 1, day)
	require.NoError(t, err)
	require.NotNil(t, entry)
	assert.Equal(t, int64(1), after)

	entry, _, err = repo.GrantDaily(ctx, accountID, 1, day)
	require.NoError(t, err)
	assert.Nil(t, entry)

	_, err = db.ExecContext(ctx, `UPDATE balances SET is_premium = TRUE WHERE account_id = $1`, accountID)
	require.NoError(t, err)

	res, err := repo.Debit(ctx, accountID, 4, "premium search")
	require.NoError(t, err)
	assert.True(t, res.Applied)
	assert.True(t, res.PremiumBypass)
	assert.Equal(t, int64(0), res.BalanceAfter)
}

func TestRepositoryCreditDuplicateSourceEvent(t *testing.T) {
	db := dbtest.Open(t)
	repo := NewRepository(db)
	ctx := context.Background()
	accountID := uuid.New()

	_, _, err := repo.GetOrCreate(ctx, accountID, 0)
	require.NoError(t, err)

	p := CreditParams{AccountID: accountID, Amount: 3, Kind: KindRefund, SourceEventID: "search:dup-1"}
	_, after, err := repo.Credit(ctx, p)
	require.NoError(t, err)
	assert.Equal(t, int64(3), after)

	_, _, err = repo.Credit(ctx, p)
	assert.ErrorIs(t, err, ErrDuplicateSourceEvent)

	b, err := repo.GetBalance(ctx, accountID)
	require.NoError(t, err)
	assert.Equal(t, int64(3), b.CreditsRemaining)
}

/* =========================
   Postgres: balance never negative
   ========================= */

func TestRepositoryRejectsNegativeBalance(t *testing.T) {
	db := dbtest.Open(t)
	repo := NewRepository(db)
	ctx := context.Background()
	accountID := uuid.New()

	_, _, err := repo.GetOrCreate(ctx, accountID, 3)
	require.NoError(t, err)

	tx, err := db.BeginTxx(ctx, nil)
	require.NoError(t, err)
	_, err = tx.ExecContext(ctx, `
		UPDATE balances SET credits_remaining = credits_remaining - 10 WHERE account_id = $1
	`, accountID)
	require.Error(t, err)
	assert.ErrorIs(t, classify(err, "raw decrement"), ErrNegativeBalance)
	require.NoError(t, tx.Rollback())

	b, err := repo.GetBalance(ctx, accountID)
	require.NoError(t, err)
	assert.Equal(t, int64(3), b.CreditsRemaining)
}
