package notification

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
)

// Repository defines notification data access
type Repository interface {
	Create(ctx context.Context, n *Notification) error
	ListByUser(ctx context.Context, userID uuid.UUID, limit, offset int) ([]*Notification, error)
	CountUnreadByUser(ctx context.Context, userID uuid.UUID) (int, error)
	MarkAsRead(ctx context.Context, userID, id uuid.UUID) error
	MarkAllAsRead(ctx context.Context, userID uuid.UUID) (int64, error)
	DeleteOlderThan(ctx context.Context, readCutoff, unreadCutoff time.Time) (int64, error)

	GetChatID(ctx context.Context, accountID uuid.UUID) (string, error)
	SetChannel(ctx context.Context, accountID uuid.UUID, chatID string) error
	DeleteChannel(ctx context.Context, accountID uuid.UUID) error
}

type repository struct {
	db *sqlx.DB
}

// NewRepository creates notification repository
func NewRepository(db *sqlx.DB) Repository {
	return &repository{db: db}
}

func (r *repository) Create(ctx context.Context, n *Notification) error {
	query := `
		INSERT INTO notifications (id, user_id, type, title, body, data, is_read, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
	`
	var data interface{}
	if len(n.Data) > 0 {
		data = []byte(n.Data)
	}
	_, err := r.db.ExecContext(ctx, query,
		n.ID,
		n.UserID,
		string(n.Type),
		n.Title,
		n.Body,
		data,
		n.IsRead,
		n.CreatedAt,
	)
	return err
}

func (r *repository) ListByUser(ctx context.Context, userID uuid.UUID, limit, offset int) ([]*Notification, error) {
	query := `
		SELECT id, user_id, type, title, body, COALESCE(data, '{}'::jsonb) AS data, is_read, read_at, created_at
		FROM notifications
		WHERE user_id = $1
		ORDER BY created_at DESC
		LIMIT $2 OFFSET $3
	`
	notifications := []*Notification{}
	err := r.db.SelectContext(ctx, &notifications, query, userID, limit, offset)
	return notifications, err
}

func (r *repository) CountUnreadByUser(ctx context.Context, userID uuid.UUID) (int, error) {
	var count int
	err := r.db.GetContext(ctx, &count, `SELECT COUNT(*) FROM notifications WHERE user_id = $1 AND NOT is_read`, userID)
	return count, err
}

// MarkAsRead only touches notifications owned by userID.
func (r *repository) MarkAsRead(ctx context.Context, userID, id uuid.UUID) error {
	res, err := r.db.ExecContext(ctx, `
		UPDATE notifications SET is_read = true, read_at = COALESCE(read_at, NOW())
		WHERE id = $1 AND user_id = $2
	`, id, userID)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotificationNotFound
	}
	return nil
}

func (r *repository) MarkAllAsRead(ctx context.Context, userID uuid.UUID) (int64, error) {
	res, err := r.db.ExecContext(ctx, `
		UPDATE notifications SET is_read = true, read_at = NOW()
		WHERE user_id = $1 AND NOT is_read
	`, userID)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

// DeleteOlderThan removes read notifications created before readCutoff and
// any notification created before unreadCutoff.
func (r *repository) DeleteOlderThan(ctx context.Context, readCutoff, unreadCutoff time.Time) (int64, error) {
	res, err := r.db.ExecContext(ctx, `
		DELETE FROM notifications
		WHERE (is_read AND created_at < $1) OR created_at < $2
	`, readCutoff, unreadCutoff)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

func (r *repository) GetChatID(ctx context.Context, accountID uuid.UUID) (string, error) {
	var chatID string
	err := r.db.GetContext(ctx, &chatID, `SELECT chat_id FROM notification_channels WHERE account_id = $1`, accountID)
	if errors.Is(err, sql.ErrNoRows) {
		return "", ErrNoChannel
	}
	return chatID, err
}

func (r *repository) SetChannel(ctx context.Context, accountID uuid.UUID, chatID string) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO notification_channels (account_id, chat_id)
		VALUES ($1, $2)
		ON CONFLICT (account_id) DO UPDATE SET chat_id = EXCLUDED.chat_id
	`, accountID, chatID)
	return err
}

func (r *repository) DeleteChannel(ctx context.Context, accountID uuid.UUID) error {
	_, err := r.db.ExecContext(ctx, `DELETE FROM notification_channels WHERE account_id = $1`, accountID)
	return err
}
