package subscription

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/mwork/ledger-api/internal/domain/ledger"
)

const applyTimeout = 5 * time.Second

const recordColumns = `account_id, provider_subscription_id, provider_customer_id, plan_id, status,
	current_period_end, created_at, updated_at`

// Decide computes the change for a resolved account inside the apply
// transaction.
type Decide func(accountID uuid.UUID, existing *Record, plan *Plan) Change

// Repository defines subscription data access
type Repository interface {
	// Apply resolves the account, records the event marker and writes the
	// decided change, all in one transaction.
	Apply(ctx context.Context, ev *ProviderEvent, decide Decide) (*Outcome, error)
	GetByAccountID(ctx context.Context, accountID uuid.UUID) (*Record, error)
	ListPlans(ctx context.Context) ([]Plan, error)
}

type repository struct {
	db *sqlx.DB
}

// NewRepository creates subscription repository
func NewRepository(db *sqlx.DB) Repository {
	return &repository{db: db}
}

func (r *repository) Apply(ctx context.Context, ev *ProviderEvent, decide Decide) (*Outcome, error) {
	ctx, cancel := context.WithTimeout(ctx, applyTimeout)
	defer cancel()

	tx, err := r.db.BeginTxx(ctx, &sql.TxOptions{Isolation: sql.LevelReadCommitted})
	if err != nil {
		return nil, fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	accountID, err := resolveAccount(ctx, tx, ev.Ref)
	if err != nil {
		return nil, err
	}
	out := &Outcome{EventID: ev.ID, AccountID: accountID}

	res, err := tx.ExecContext(ctx, `
		INSERT INTO provider_events (event_id, event_type, account_id)
		VALUES ($1, $2, $3)
		ON CONFLICT (event_id) DO NOTHING
	`, ev.ID, string(ev.Type), accountID)
	if err != nil {
		return nil, fmt.Errorf("insert event marker: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		out.Duplicate = true
		return out, nil
	}

	existing, err := getRecordTx(ctx, tx, accountID)
	if err != nil {
		return nil, err
	}
	plan, err := planForPrice(ctx, tx, ev.PriceID)
	if err != nil {
		return nil, err
	}

	ch := decide(accountID, existing, plan)

	_, err = tx.ExecContext(ctx, `
		INSERT INTO subscriptions (account_id, provider_subscription_id, provider_customer_id, plan_id, status, current_period_end)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (account_id) DO UPDATE SET
			provider_subscription_id = EXCLUDED.provider_subscription_id,
			provider_customer_id = EXCLUDED.provider_customer_id,
			plan_id = EXCLUDED.plan_id,
			status = EXCLUDED.status,
			current_period_end = EXCLUDED.current_period_end,
			updated_at = NOW()
	`, accountID, ch.Record.ProviderSubscriptionID, ch.Record.ProviderCustomerID,
		ch.Record.PlanID, string(ch.Record.Status), ch.Record.CurrentPeriodEnd)
	if err != nil {
		return nil, fmt.Errorf("upsert subscription: %w", err)
	}

	err = tx.GetContext(ctx, &out.BalanceAfter, `
		UPDATE balances SET
			is_premium = $2,
			premium_until = $3,
			monthly_usage = CASE WHEN $4 THEN 0 ELSE monthly_usage END,
			updated_at = NOW()
		WHERE account_id = $1
		RETURNING credits_remaining
	`, accountID, ch.Premium, ch.PremiumUntil, ch.ResetUsage)
	if err != nil {
		return nil, fmt.Errorf("project premium: %w", err)
	}
	out.Premium = ch.Premium
	out.PremiumUntil = ch.PremiumUntil

	if ch.Grant > 0 {
		entry, after, err := ledger.CreditTx(ctx, tx, ledger.CreditParams{
			AccountID:     accountID,
			Amount:        ch.Grant,
			Kind:          ledger.KindCredit,
			Description:   ch.Description,
			SourceEventID: ev.ID,
		})
		if errors.Is(err, ledger.ErrDuplicateSourceEvent) {
			return &Outcome{EventID: ev.ID, AccountID: accountID, Duplicate: true}, nil
		}
		if err != nil {
			return nil, err
		}
		out.Granted = entry.Amount
		out.EntryID = &entry.ID
		out.BalanceAfter = after
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit provider event: %w", err)
	}
	return out, nil
}

// resolveAccount locks the balance row of the account the event refers to.
func resolveAccount(ctx context.Context, tx *sqlx.Tx, ref AccountRef) (uuid.UUID, error) {
	candidate := ref.AccountID
	if candidate == uuid.Nil && ref.CustomerID != "" {
		id, err := lookupRecord(ctx, tx, "provider_customer_id", ref.CustomerID)
		if err != nil {
			return uuid.Nil, err
		}
		candidate = id
	}
	if candidate == uuid.Nil && ref.SubscriptionID != "" {
		id, err := lookupRecord(ctx, tx, "provider_subscription_id", ref.SubscriptionID)
		if err != nil {
			return uuid.Nil, err
		}
		candidate = id
	}
	if candidate == uuid.Nil {
		return uuid.Nil, ErrUnresolvableAccount
	}

	var locked uuid.UUID
	err := tx.GetContext(ctx, &locked, `SELECT account_id FROM balances WHERE account_id = $1 FOR UPDATE`, candidate)
	if errors.Is(err, sql.ErrNoRows) {
		return uuid.Nil, ErrUnresolvableAccount
	}
	if err != nil {
		return uuid.Nil, fmt.Errorf("lock balance: %w", err)
	}
	return locked, nil
}

// lookupRecord finds an account by a provider id column; uuid.Nil when none.
func lookupRecord(ctx context.Context, tx *sqlx.Tx, column, value string) (uuid.UUID, error) {
	var id uuid.UUID
	err := tx.GetContext(ctx, &id,
		`SELECT account_id FROM subscriptions WHERE `+column+` = $1 ORDER BY updated_at DESC LIMIT 1`, value)
	if errors.Is(err, sql.ErrNoRows) {
		return uuid.Nil, nil
	}
	if err != nil {
		return uuid.Nil, fmt.Errorf("lookup by %s: %w", column, err)
	}
	return id, nil
}

func getRecordTx(ctx context.Context, tx *sqlx.Tx, accountID uuid.UUID) (*Record, error) {
	var rec Record
	err := tx.GetContext(ctx, &rec, `SELECT `+recordColumns+` FROM subscriptions WHERE account_id = $1 FOR UPDATE`, accountID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get subscription: %w", err)
	}
	return &rec, nil
}

// planForPrice returns the plan mapped to priceID, or the default plan.
func planForPrice(ctx context.Context, tx *sqlx.Tx, priceID string) (*Plan, error) {
	var plan Plan
	err := tx.GetContext(ctx, &plan, `
		SELECT id, name, provider_price_id, monthly_credits, is_default
		FROM plans
		WHERE ($1 <> '' AND provider_price_id = $1) OR is_default
		ORDER BY is_default
		LIMIT 1
	`, priceID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrPlanNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get plan: %w", err)
	}
	return &plan, nil
}

func (r *repository) GetByAccountID(ctx context.Context, accountID uuid.UUID) (*Record, error) {
	var rec Record
	err := r.db.GetContext(ctx, &rec, `SELECT `+recordColumns+` FROM subscriptions WHERE account_id = $1`, accountID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrSubscriptionNotFound
	}
	if err != nil {
		return nil, err
	}
	return &rec, nil
}

func (r *repository) ListPlans(ctx context.Context) ([]Plan, error) {
	plans := []Plan{}
	err := r.db.SelectContext(ctx, &plans, `
		SELECT id, name, provider_price_id, monthly_credits, is_default
		FROM plans
		ORDER BY is_default DESC, id
	`)
	return plans, err
}
