package payment

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"
)

// processingLease is how long a claimed row stays invisible before another
// worker may pick it up again.
const processingLease = 5 * time.Minute

// RetryQueue stores webhooks that must be applied again later.
type RetryQueue interface {
	Enqueue(ctx context.Context, eventID, provider string, payload json.RawMessage, lastErr string) error
	ClaimDue(ctx context.Context, now time.Time, limit int) ([]*Retry, error)
	Reschedule(ctx context.Context, eventID string, attempts int, next time.Time, lastErr string) error
	MarkDone(ctx context.Context, eventID string, attempts int) error
	MarkDead(ctx context.Context, eventID string, attempts int, lastErr string) error
	Get(ctx context.Context, eventID string) (*Retry, error)
}

type repository struct {
	db *sqlx.DB
}

// NewRepository creates the Postgres retry queue.
func NewRepository(db *sqlx.DB) RetryQueue {
	return &repository{db: db}
}

// Enqueue adds a payload due immediately. Re-enqueueing a pending or
// processing event keeps the existing row and its attempt count; a dead row is
// revived with a fresh attempt budget.
func (r *repository) Enqueue(ctx context.Context, eventID, provider string, payload json.RawMessage, lastErr string) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO webhook_retries (event_id, provider, payload, last_error)
		VALUES ($1, $2, $3, NULLIF($4, ''))
		ON CONFLICT (event_id) DO UPDATE
		SET status = 'pending', attempts = 0, payload = EXCLUDED.payload,
		    next_attempt_at = NOW(), last_error = EXCLUDED.last_error, updated_at = NOW()
		WHERE webhook_retries.status = 'dead'
	`, eventID, provider, []byte(payload), lastErr)
	if err != nil {
		return fmt.Errorf("enqueue webhook %s: %w", eventID, err)
	}
	return nil
}

// ClaimDue moves up to limit due rows to processing and returns them.
// Concurrent workers never claim the same row; rows stuck in processing
// past the lease are claimed again.
func (r *repository) ClaimDue(ctx context.Context, now time.Time, limit int) ([]*Retry, error) {
	items := []*Retry{}
	err := r.db.SelectContext(ctx, &items, `
		UPDATE webhook_retries SET status = 'processing', updated_at = $1
		WHERE event_id IN (
			SELECT event_id FROM webhook_retries
			WHERE (status = 'pending' AND next_attempt_at <= $1)
			   OR (status = 'processing' AND updated_at < $2)
			ORDER BY next_attempt_at
			LIMIT $3
			FOR UPDATE SKIP LOCKED
		)
		RETURNING event_id, provider, payload, attempts, status, next_attempt_at, last_error, created_at, updated_at
	`, now, now.Add(-processingLease), limit)
	if err != nil {
		return nil, fmt.Errorf("claim webhook retries: %w", err)
	}
	return items, nil
}

func (r *repository) Reschedule(ctx context.Context, eventID string, attempts int, next time.Time, lastErr string) error {
	return r.finish(ctx, `
		UPDATE webhook_retries
		SET status = 'pending', attempts = $2, next_attempt_at = $3, last_error = $4, updated_at = NOW()
		WHERE event_id = $1
	`, eventID, attempts, next, lastErr)
}

func (r *repository) MarkDone(ctx context.Context, eventID string, attempts int) error {
	return r.finish(ctx, `
		UPDATE webhook_retries SET status = 'done', attempts = $2, last_error = NULL, updated_at = NOW()
		WHERE event_id = $1
	`, eventID, attempts)
}

func (r *repository) MarkDead(ctx context.Context, eventID string, attempts int, lastErr string) error {
	return r.finish(ctx, `
		UPDATE webhook_retries SET status = 'dead', attempts = $2, last_error = $3, updated_at = NOW()
		WHERE event_id = $1
	`, eventID, attempts, lastErr)
}

func (r *repository) Get(ctx context.Context, eventID string) (*Retry, error) {
	var item Retry
	err := r.db.GetContext(ctx, &item, `
		SELECT event_id, provider, payload, attempts, status, next_attempt_at, last_error, created_at, updated_at
		FROM webhook_retries WHERE event_id = $1
	`, eventID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrRetryNotFound
	}
	if err != nil {
		return nil, err
	}
	return &item, nil
}

func (r *repository) finish(ctx context.Context, query, eventID string, args ...any) error {
	res, err := r.db.ExecContext(ctx, query, append([]any{eventID}, args...)...)
	if err != nil {
		return fmt.Errorf("update webhook retry %s: %w", eventID, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrRetryNotFound
	}
	return nil
}
