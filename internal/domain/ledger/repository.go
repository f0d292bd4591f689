package ledger

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/mwork/ledger-api/internal/pkg/database"
)

const queryTimeout = 3 * time.Second

const (
	balanceColumns = `account_id, credits_remaining, is_premium, premium_until, last_free_grant_date,
		monthly_usage, total_used, created_at, updated_at`
	entryColumns = `entry_id, seq, account_id, kind, amount, description, source_event_id, premium_bypass, created_at`
)

// Repository is the Postgres Store.
type Repository struct {
	db *sqlx.DB
}

func NewRepository(db *sqlx.DB) *Repository {
	return &Repository{db: db}
}

func (r *Repository) beginTx(ctx context.Context) (*sqlx.Tx, error) {
	tx, err := r.db.BeginTxx(ctx, &sql.TxOptions{Isolation: sql.LevelReadCommitted})
	if err != nil {
		return nil, fmt.Errorf("%w: begin tx: %w", ErrInternal, err)
	}
	return tx, nil
}

func (r *Repository) GetBalance(ctx context.Context, accountID uuid.UUID) (*Balance, error) {
	ctx, cancel := context.WithTimeout(ctx, queryTimeout)
	defer cancel()

	var b Balance
	err := r.db.GetContext(ctx, &b, `SELECT `+balanceColumns+` FROM balances WHERE account_id = $1`, accountID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrBalanceNotFound
	}
	if err != nil {
		return nil, classify(err, "get balance")
	}
	return &b, nil
}

func (r *Repository) GetOrCreate(ctx context.Context, accountID uuid.UUID, welcome int64) (*Balance, *Entry, error) {
	b, err := r.GetBalance(ctx, accountID)
	if err == nil {
		return b, nil, nil
	}
	if !errors.Is(err, ErrBalanceNotFound) {
		return nil, nil, err
	}

	ctx, cancel := context.WithTimeout(ctx, queryTimeout)
	defer cancel()

	tx, err := r.beginTx(ctx)
	if err != nil {
		return nil, nil, err
	}
	defer tx.Rollback()

	entry, err := EnsureBalanceTx(ctx, tx, accountID, welcome)
	if err != nil {
		return nil, nil, err
	}

	var created Balance
	if err := tx.GetContext(ctx, &created, `SELECT `+balanceColumns+` FROM balances WHERE account_id = $1`, accountID); err != nil {
		return nil, nil, classify(err, "read created balance")
	}
	if err := tx.Commit(); err != nil {
		return nil, nil, classify(err, "commit create balance")
	}
	return &created, entry, nil
}

// EnsureBalanceTx inserts the balance row if missing. Only the inserting
// transaction writes the welcome entry, so racing callers create exactly one
// row and one entry. The entry is nil when the row already existed.
func EnsureBalanceTx(ctx context.Context, tx *sqlx.Tx, accountID uuid.UUID, welcome int64) (*Entry, error) {
	if welcome < 0 {
		welcome = 0
	}
	res, err := tx.ExecContext(ctx, `
		INSERT INTO balances (account_id, credits_remaining)
		VALUES ($1, $2)
		ON CONFLICT (account_id) DO NOTHING
	`, accountID, welcome)
	if err != nil {
		return nil, classify(err, "insert balance")
	}
	n, err := res.RowsAffected()
	if err != nil {
		return nil, classify(err, "rows affected")
	}
	if n == 0 || welcome == 0 {
		return nil, nil
	}

	entry := &Entry{
		AccountID:   accountID,
		Kind:        KindCredit,
		Amount:      welcome,
		Description: DescriptionWelcome,
	}
	if err := AppendEntryTx(ctx, tx, entry); err != nil {
		return nil, err
	}
	return entry, nil
}

// AppendEntryTx inserts e inside tx. Callers must pair it with the balance
// update it describes. A repeated non-empty source event id yields
// ErrDuplicateSourceEvent.
func AppendEntryTx(ctx context.Context, tx *sqlx.Tx, e *Entry) error {
	if e.Amount <= 0 {
		return ErrInvalidAmount
	}
	if !e.Kind.Valid() {
		return ErrInvalidKind
	}
	if e.ID == uuid.Nil {
		e.ID = uuid.New()
	}
	if e.SourceEventID != nil && *e.SourceEventID == "" {
		e.SourceEventID = nil
	}

	err := tx.QueryRowxContext(ctx, `
		INSERT INTO ledger_entries (entry_id, account_id, kind, amount, description, source_event_id, premium_bypass)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (source_event_id) DO NOTHING
		RETURNING seq, created_at
	`, e.ID, e.AccountID, string(e.Kind), e.Amount, e.Description, e.SourceEventID, e.PremiumBypass).
		Scan(&e.Seq, &e.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return ErrDuplicateSourceEvent
	}
	if err != nil {
		return classify(err, "insert entry")
	}
	return nil
}

// CreditTx adds p.Amount to the balance and appends the matching entry. The
// balance row must exist. On ErrDuplicateSourceEvent the caller must roll
// back tx.
func CreditTx(ctx context.Context, tx *sqlx.Tx, p CreditParams) (*Entry, int64, error) {
	if err := p.normalize(); err != nil {
		return nil, 0, err
	}

	var after int64
	err := tx.GetContext(ctx, &after, `
		UPDATE balances
		SET credits_remaining = credits_remaining + $2, updated_at = NOW()
		WHERE account_id = $1
		RETURNING credits_remaining
	`, p.AccountID, p.Amount)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, 0, ErrBalanceNotFound
	}
	if err != nil {
		return nil, 0, classify(err, "credit balance")
	}

	entry := &Entry{
		AccountID:   p.AccountID,
		Kind:        p.Kind,
		Amount:      p.Amount,
		Description: p.Description,
	}
	if p.SourceEventID != "" {
		src := p.SourceEventID
		entry.SourceEventID = &src
	}
	if err := AppendEntryTx(ctx, tx, entry); err != nil {
		return nil, 0, err
	}
	return entry, after, nil
}

func (r *Repository) Credit(ctx context.Context, p CreditParams) (*Entry, int64, error) {
	ctx, cancel := context.WithTimeout(ctx, queryTimeout)
	defer cancel()

	tx, err := r.beginTx(ctx)
	if err != nil {
		return nil, 0, err
	}
	defer tx.Rollback()

	entry, after, err := CreditTx(ctx, tx, p)
	if err != nil {
		return nil, 0, err
	}
	if err := tx.Commit(); err != nil {
		return nil, 0, classify(err, "commit credit")
	}
	return entry, after, nil
}

// Debit is a single conditional update: it applies only when the balance
// covers amount or the account is premium, in which case the balance floors
// at zero. No balance value is read before the write.
func (r *Repository) Debit(ctx context.Context, accountID uuid.UUID, amount int64, description string) (*DebitResult, error) {
	if amount <= 0 {
		return nil, ErrInvalidAmount
	}

	ctx, cancel := context.WithTimeout(ctx, queryTimeout)
	defer cancel()

	tx, err := r.beginTx(ctx)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback()

	var row struct {
		After   int64 `db:"credits_remaining"`
		Premium bool  `db:"is_premium"`
	}
	err = tx.GetContext(ctx, &row, `
		UPDATE balances
		SET credits_remaining = CASE
		        WHEN is_premium THEN GREATEST(credits_remaining - $2, 0)
		        ELSE credits_remaining - $2
		    END,
		    monthly_usage = monthly_usage + $2,
		    total_used = total_used + $2,
		    updated_at = NOW()
		WHERE account_id = $1 AND (is_premium OR credits_remaining >= $2)
		RETURNING credits_remaining, is_premium
	`, accountID, amount)
	if errors.Is(err, sql.ErrNoRows) {
		_ = tx.Rollback()
		var current int64
		err := r.db.GetContext(ctx, &current, `SELECT credits_remaining FROM balances WHERE account_id = $1`, accountID)
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrBalanceNotFound
		}
		if err != nil {
			return nil, classify(err, "read balance after refused debit")
		}
		return &DebitResult{Applied: false, BalanceAfter: current}, nil
	}
	if err != nil {
		return nil, classify(err, "debit balance")
	}

	entry := &Entry{
		AccountID:     accountID,
		Kind:          KindDebit,
		Amount:        amount,
		Description:   description,
		PremiumBypass: row.Premium,
	}
	if err := AppendEntryTx(ctx, tx, entry); err != nil {
		return nil, err
	}
	if err := tx.Commit(); err != nil {
		return nil, classify(err, "commit debit")
	}

	return &DebitResult{
		Applied:       true,
		BalanceAfter:  row.After,
		PremiumBypass: row.Premium,
		Entry:         entry,
	}, nil
}

func (r *Repository) GrantDaily(ctx context.Context, accountID uuid.UUID, amount int64, day time.Time) (*Entry, int64, error) {
	if amount <= 0 {
		return nil, 0, ErrInvalidAmount
	}

	ctx, cancel := context.WithTimeout(ctx, queryTimeout)
	defer cancel()

	tx, err := r.beginTx(ctx)
	if err != nil {
		return nil, 0, err
	}
	defer tx.Rollback()

	var after int64
	err = tx.GetContext(ctx, &after, `
		UPDATE balances
		SET credits_remaining = credits_remaining + $2,
		    last_free_grant_date = $3::date,
		    updated_at = NOW()
		WHERE account_id = $1
		  AND credits_remaining = 0
		  AND NOT is_premium
		  AND (last_free_grant_date IS NULL OR last_free_grant_date < $3::date)
		RETURNING credits_remaining
	`, accountID, amount, day.Format("2006-01-02"))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, 0, nil
	}
	if err != nil {
		return nil, 0, classify(err, "grant daily credit")
	}

	entry := &Entry{
		AccountID:   accountID,
		Kind:        KindCredit,
		Amount:      amount,
		Description: DescriptionDailyFree,
	}
	if err := AppendEntryTx(ctx, tx, entry); err != nil {
		return nil, 0, err
	}
	if err := tx.Commit(); err != nil {
		return nil, 0, classify(err, "commit daily grant")
	}
	return entry, after, nil
}

func (r *Repository) ListEntries(ctx context.Context, accountID uuid.UUID, limit int) ([]Entry, error) {
	ctx, cancel := context.WithTimeout(ctx, queryTimeout)
	defer cancel()

	entries := []Entry{}
	err := r.db.SelectContext(ctx, &entries, `
		SELECT `+entryColumns+`
		FROM ledger_entries
		WHERE account_id = $1
		ORDER BY seq DESC
		LIMIT $2
	`, accountID, limit)
	if err != nil {
		return nil, classify(err, "list entries")
	}
	return entries, nil
}

// ListEntriesBetween returns entries with created_at in [from, to) in
// application order. Used for statement exports, so no query timeout.
func (r *Repository) ListEntriesBetween(ctx context.Context, from, to time.Time) ([]Entry, error) {
	entries := []Entry{}
	err := r.db.SelectContext(ctx, &entries, `
		SELECT `+entryColumns+`
		FROM ledger_entries
		WHERE created_at >= $1 AND created_at < $2
		ORDER BY seq
	`, from, to)
	if err != nil {
		return nil, classify(err, "list entries between")
	}
	return entries, nil
}

func (r *Repository) Snapshot(ctx context.Context, accountID uuid.UUID) (*Balance, []Entry, error) {
	tx, err := r.db.BeginTxx(ctx, &sql.TxOptions{Isolation: sql.LevelRepeatableRead, ReadOnly: true})
	if err != nil {
		return nil, nil, fmt.Errorf("%w: begin snapshot: %w", ErrInternal, err)
	}
	defer tx.Rollback()

	var b Balance
	err = tx.GetContext(ctx, &b, `SELECT `+balanceColumns+` FROM balances WHERE account_id = $1`, accountID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil, ErrBalanceNotFound
	}
	if err != nil {
		return nil, nil, classify(err, "snapshot balance")
	}

	entries := []Entry{}
	if err := tx.SelectContext(ctx, &entries, `
		SELECT `+entryColumns+`
		FROM ledger_entries
		WHERE account_id = $1
		ORDER BY seq
	`, accountID); err != nil {
		return nil, nil, classify(err, "snapshot entries")
	}
	return &b, entries, nil
}

func (r *Repository) ListAccountIDs(ctx context.Context, after uuid.UUID, limit int) ([]uuid.UUID, error) {
	ctx, cancel := context.WithTimeout(ctx, queryTimeout)
	defer cancel()

	ids := []uuid.UUID{}
	err := r.db.SelectContext(ctx, &ids, `
		SELECT account_id FROM balances
		WHERE account_id > $1
		ORDER BY account_id
		LIMIT $2
	`, after, limit)
	if err != nil {
		return nil, classify(err, "list accounts")
	}
	return ids, nil
}

// ExpireLapsedPremium clears premium for rows whose premium_until passed
// before cutoff. Credits are untouched, so no entry is written.
func (r *Repository) ExpireLapsedPremium(ctx context.Context, cutoff time.Time) ([]uuid.UUID, error) {
	ctx, cancel := context.WithTimeout(ctx, 10*queryTimeout)
	defer cancel()

	ids := []uuid.UUID{}
	err := r.db.SelectContext(ctx, &ids, `
		UPDATE balances
		SET is_premium = FALSE, premium_until = NULL, updated_at = NOW()
		WHERE is_premium AND premium_until IS NOT NULL AND premium_until < $1
		RETURNING account_id
	`, cutoff)
	if err != nil {
		return nil, classify(err, "expire premium")
	}
	return ids, nil
}

func classify(err error, op string) error {
	switch {
	case database.HasCode(err, database.CodeCheckViolation) &&
		database.ConstraintName(err) == "balances_credits_non_negative":
		return fmt.Errorf("%w: %s", ErrNegativeBalance, op)
	case database.HasCode(err, database.CodeUniqueViolation) &&
		database.ConstraintName(err) == "ledger_entries_source_event_unique":
		return ErrDuplicateSourceEvent
	}
	return fmt.Errorf("%w: %s: %w", ErrInternal, op, err)
}
