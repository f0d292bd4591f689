package ledger

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mwork/ledger-api/internal/pkg/clock"
	"github.com/mwork/ledger-api/internal/pkg/events"
)

func newTestService(t *testing.T) (*Service, *memStore, *clock.FakeClock) {
	t.Helper()
	store := newMemStore()
	fc := clock.NewFakeClock(time.Date(2026, 3, 10, 9, 0, 0, 0, time.UTC))
	store.now = fc.Now
	svc := NewService(store, Options{
		WelcomeBonus:        10,
		DailyGrant:          1,
		LowBalanceThreshold: 2,
		Location:            time.UTC,
	})
	svc.SetClock(fc)
	return svc, store, fc
}

/* =========================
   Test 1: Concurrent debits never overdraw
   ========================= */

func TestConcurrentDebitsSucceedExactlyBalanceTimes(t *testing.T) {
	svc, store, _ := newTestService(t)
	ctx := context.Background()
	accountID := uuid.New()
	store.setBalance(accountID, 5, false)

	const goroutines = 20
	var (
		wg      sync.WaitGroup
		mu      sync.Mutex
		applied int
	)

	for i := 0; i < goroutines; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			res, err := svc.TryDebit(ctx, accountID, 1, fmt.Sprintf("query %d", i))
			if err != nil {
				t.Errorf("unexpected error: %v", err)
				return
			}
			if res.Applied {
				mu.Lock()
				applied++
				mu.Unlock()
			}
			if res.BalanceAfter < 0 {
				t.Errorf("negative balance %d", res.BalanceAfter)
			}
		}(i)
	}
	wg.Wait()

	assert.Equal(t, 5, applied)
	b, err := store.GetBalance(ctx, accountID)
	require.NoError(t, err)
	assert.Equal(t, int64(0), b.CreditsRemaining)
	assert.Equal(t, int64(5), b.TotalUsed)
}

/* =========================
   Test 2: Insufficient balance is an outcome
   ========================= */

func TestDebitInsufficientLeavesBalance(t *testing.T) {
	svc, store, _ := newTestService(t)
	ctx := context.Background()
	accountID := uuid.New()
	store.setBalance(accountID, 3, false)

	res, err := svc.TryDebit(ctx, accountID, 10, "query")
	require.NoError(t, err)
	assert.False(t, res.Applied)
	assert.Equal(t, int64(3), res.BalanceAfter)
	assert.Nil(t, res.Entry)

	entries, err := svc.ListEntries(ctx, accountID, 0)
	require.NoError(t, err)
	assert.Empty(t, entries)
}

/* =========================
   Test 3: Premium bypass clamps at zero
   ========================= */

func TestPremiumDebitClampsAtZero(t *testing.T) {
	svc, store, _ := newTestService(t)
	ctx := context.Background()
	accountID := uuid.New()
	store.setBalance(accountID, 0, true)

	res, err := svc.TryDebit(ctx, accountID, 5, "query")
	require.NoError(t, err)
	assert.True(t, res.Applied)
	assert.True(t, res.PremiumBypass)
	assert.Equal(t, int64(0), res.BalanceAfter)
	require.NotNil(t, res.Entry)
	assert.Equal(t, int64(5), res.Entry.Amount)

	rep, err := svc.Reconcile(ctx, accountID)
	require.NoError(t, err)
	assert.True(t, rep.Consistent)
	assert.Equal(t, int64(-5), rep.PlainSum)
}

/* =========================
   Test 4: Welcome bonus on first read
   ========================= */

func TestNewAccountGetsWelcomeBonusOnce(t *testing.T) {
	svc, _, _ := newTestService(t)
	notifier := &recordingNotifier{}
	publisher := &recordingPublisher{}
	svc.SetNotifier(notifier)
	svc.SetPublisher(publisher)
	ctx := context.Background()
	accountID := uuid.New()

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := svc.GetBalance(ctx, accountID)
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	b, err := svc.GetBalance(ctx, accountID)
	require.NoError(t, err)
	assert.Equal(t, int64(10), b.CreditsRemaining)

	entries, err := svc.ListEntries(ctx, accountID, 0)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, KindCredit, entries[0].Kind)
	assert.Equal(t, DescriptionWelcome, entries[0].Description)
	assert.Equal(t, 1, notifier.welcomes)
	assert.Equal(t, []string{events.SubjectEntryCreated}, publisher.subjects)
}

/* =========================
   Test 5: Daily grant once per calendar day
   ========================= */

func TestDailyGrantOncePerDay(t *testing.T) {
	svc, store, fc := newTestService(t)
	ctx := context.Background()
	accountID := uuid.New()
	store.setBalance(accountID, 0, false)

	first, err := svc.MaybeGrantFreeCredit(ctx, accountID)
	require.NoError(t, err)
	assert.True(t, first.Granted)
	assert.Equal(t, int64(1), first.BalanceAfter)

	res, err := svc.TryDebit(ctx, accountID, 1, "query")
	require.NoError(t, err)
	require.True(t, res.Applied)

	fc.Advance(2 * time.Hour)
	second, err := svc.MaybeGrantFreeCredit(ctx, accountID)
	require.NoError(t, err)
	assert.False(t, second.Granted)

	fc.Advance(24 * time.Hour)
	b, err := svc.GetBalance(ctx, accountID)
	require.NoError(t, err)
	assert.Equal(t, int64(1), b.CreditsRemaining)
}

func TestConcurrentGrantsSameDayGrantOnce(t *testing.T) {
	svc, store, _ := newTestService(t)
	ctx := context.Background()
	accountID := uuid.New()
	store.setBalance(accountID, 0, false)

	var (
		wg      sync.WaitGroup
		mu      sync.Mutex
		granted int
	)
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			res, err := svc.MaybeGrantFreeCredit(ctx, accountID)
			if err != nil {
				t.Errorf("unexpected error: %v", err)
				return
			}
			if res.Granted {
				mu.Lock()
				granted++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, 1, granted)
}

func TestGrantSkippedForPremiumAndPositiveBalance(t *testing.T) {
	svc, store, _ := newTestService(t)
	ctx := context.Background()

	premium := uuid.New()
	store.setBalance(premium, 0, true)
	res, err := svc.MaybeGrantFreeCredit(ctx, premium)
	require.NoError(t, err)
	assert.False(t, res.Granted)

	funded := uuid.New()
	store.setBalance(funded, 2, false)
	res, err = svc.MaybeGrantFreeCredit(ctx, funded)
	require.NoError(t, err)
	assert.False(t, res.Granted)
}

func TestGrantUsesLedgerTimezone(t *testing.T) {
	store := newMemStore()
	almaty := time.FixedZone("UTC+5", 5*60*60)
	fc := clock.NewFakeClock(time.Date(2026, 3, 10, 18, 0, 0, 0, time.UTC))
	svc := NewService(store, Options{DailyGrant: 1, Location: almaty})
	svc.SetClock(fc)
	ctx := context.Background()
	accountID := uuid.New()
	store.setBalance(accountID, 0, false)

	res, err := svc.MaybeGrantFreeCredit(ctx, accountID)
	require.NoError(t, err)
	require.True(t, res.Granted)
	_, err = svc.TryDebit(ctx, accountID, 1, "query")
	require.NoError(t, err)

	// 20:00 UTC is already the next day at UTC+5.
	fc.Advance(2 * time.Hour)
	res, err = svc.MaybeGrantFreeCredit(ctx, accountID)
	require.NoError(t, err)
	assert.True(t, res.Granted)
}

/* =========================
   Test 6: Entitlement gate
   ========================= */

func TestCanAfford(t *testing.T) {
	svc, store, _ := newTestService(t)
	ctx := context.Background()

	poor := uuid.New()
	store.setBalance(poor, 3, false)
	ok, err := svc.CanAfford(ctx, poor, 5)
	require.NoError(t, err)
	assert.False(t, ok)
	ok, err = svc.CanAfford(ctx, poor, 3)
	require.NoError(t, err)
	assert.True(t, ok)

	premium := uuid.New()
	store.setBalance(premium, 0, true)
	ok, err = svc.CanAfford(ctx, premium, 1000)
	require.NoError(t, err)
	assert.True(t, ok)

	_, err = svc.CanAfford(ctx, poor, 0)
	assert.ErrorIs(t, err, ErrInvalidAmount)
}

func TestCanAffordGrantsDueCreditFirst(t *testing.T) {
	svc, store, _ := newTestService(t)
	ctx := context.Background()
	accountID := uuid.New()
	store.setBalance(accountID, 0, false)

	ok, err := svc.CanAfford(ctx, accountID, 1)
	require.NoError(t, err)
	assert.True(t, ok)
}

/* =========================
   Test 7: Credits and idempotency
   ========================= */

func TestCreditWithSourceEventAppliesOnce(t *testing.T) {
	svc, store, _ := newTestService(t)
	ctx := context.Background()
	accountID := uuid.New()
	store.setBalance(accountID, 0, false)

	p := CreditParams{AccountID: accountID, Amount: 7, Kind: KindRefund, Description: "refund failed query", SourceEventID: "search:req-1"}
	entry, after, err := svc.Credit(ctx, p)
	require.NoError(t, err)
	assert.Equal(t, KindRefund, entry.Kind)
	assert.Equal(t, int64(7), after)

	_, _, err = svc.Credit(ctx, p)
	assert.ErrorIs(t, err, ErrDuplicateSourceEvent)

	b, err := store.GetBalance(ctx, accountID)
	require.NoError(t, err)
	assert.Equal(t, int64(7), b.CreditsRemaining)
}

func TestCreditRejectsBadInput(t *testing.T) {
	svc, _, _ := newTestService(t)
	ctx := context.Background()

	_, _, err := svc.Credit(ctx, CreditParams{AccountID: uuid.New(), Amount: 0})
	assert.ErrorIs(t, err, ErrInvalidAmount)

	_, _, err = svc.Credit(ctx, CreditParams{AccountID: uuid.New(), Amount: 1, Kind: KindDebit})
	assert.ErrorIs(t, err, ErrInvalidKind)
}

/* =========================
   Test 8: Low-balance notification on crossing
   ========================= */

func TestLowBalanceNotifiedOnlyWhenCrossing(t *testing.T) {
	svc, store, _ := newTestService(t)
	notifier := &recordingNotifier{}
	svc.SetNotifier(notifier)
	ctx := context.Background()
	accountID := uuid.New()
	store.setBalance(accountID, 4, false)

	_, err := svc.TryDebit(ctx, accountID, 1, "q") // 3
	require.NoError(t, err)
	_, err = svc.TryDebit(ctx, accountID, 1, "q") // 2, crosses
	require.NoError(t, err)
	_, err = svc.TryDebit(ctx, accountID, 1, "q") // 1, already below
	require.NoError(t, err)

	assert.Equal(t, []int64{2}, notifier.lowBalance)
}

/* =========================
   Test 9: Store failures propagate
   ========================= */

func TestDebitStoreFailurePropagates(t *testing.T) {
	svc, store, _ := newTestService(t)
	ctx := context.Background()
	accountID := uuid.New()
	store.setBalance(accountID, 10, false)
	store.failDebit = fmt.Errorf("%w: connection reset", ErrInternal)

	res, err := svc.TryDebit(ctx, accountID, 1, "query")
	assert.Nil(t, res)
	assert.True(t, errors.Is(err, ErrInternal))
}

/* =========================
   Test 10: Reconciliation
   ========================= */

func TestReconcileDetectsUnpairedChange(t *testing.T) {
	svc, store, _ := newTestService(t)
	ctx := context.Background()
	accountID := uuid.New()

	_, err := svc.GetBalance(ctx, accountID)
	require.NoError(t, err)
	_, err = svc.TryDebit(ctx, accountID, 4, "query")
	require.NoError(t, err)

	rep, err := svc.Reconcile(ctx, accountID)
	require.NoError(t, err)
	assert.True(t, rep.Consistent)
	assert.Equal(t, int64(6), rep.Replayed)
	assert.Equal(t, 2, rep.Entries)

	store.corrupt(accountID, 3)
	rep, err = svc.Reconcile(ctx, accountID)
	require.NoError(t, err)
	assert.False(t, rep.Consistent)

	checked, mismatched, err := svc.ReconcileAll(ctx, nil)
	require.NoError(t, err)
	assert.Equal(t, 1, checked)
	assert.Equal(t, 1, mismatched)
}

func TestReplayFloorsOnlyPremiumDebits(t *testing.T) {
	entries := []Entry{
		{Kind: KindCredit, Amount: 2},
		{Kind: KindDebit, Amount: 5, PremiumBypass: true},
		{Kind: KindCredit, Amount: 3},
		{Kind: KindDebit, Amount: 1},
		{Kind: KindRefund, Amount: 1},
	}
	replayed, plain := Replay(entries)
	assert.Equal(t, int64(3), replayed)
	assert.Equal(t, int64(0), plain)
}

/* =========================
   Test 11: Premium expiry sweep
   ========================= */

func TestExpireLapsedPremium(t *testing.T) {
	svc, store, fc := newTestService(t)
	ctx := context.Background()
	accountID := uuid.New()
	store.setBalance(accountID, 0, true)
	until := fc.Now().Add(-96 * time.Hour)
	store.balances[accountID].PremiumUntil = &until

	ids, err := svc.ExpireLapsedPremium(ctx, 72*time.Hour)
	require.NoError(t, err)
	assert.Equal(t, []uuid.UUID{accountID}, ids)

	b, err := store.GetBalance(ctx, accountID)
	require.NoError(t, err)
	assert.False(t, b.IsPremium)
	assert.Nil(t, b.PremiumUntil)
}
