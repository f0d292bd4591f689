package notification

import (
	"context"
	"fmt"
	"strconv"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/mwork/ledger-api/internal/pkg/metrics"
)

const dispatchTimeout = 10 * time.Second

// RealtimePublisher pushes JSON payloads to a user's live connections.
type RealtimePublisher interface {
	SendToUserJSON(userID uuid.UUID, payload any) error
}

// Service handles notification logic. The Notify* methods satisfy the
// ledger and subscription notifier interfaces: they return immediately and
// deliver in the background; failures are logged and counted.
type Service struct {
	repo     Repository
	realtime RealtimePublisher
	sinks    []Sink
	metrics  *metrics.Metrics
	wg       sync.WaitGroup
}

// NewService creates notification service
func NewService(repo Repository, realtime RealtimePublisher, sinks ...Sink) *Service {
	return &Service{repo: repo, realtime: realtime, sinks: sinks}
}

func (s *Service) SetMetrics(m *metrics.Metrics) { s.metrics = m }

// Wait blocks until background deliveries started so far have finished.
func (s *Service) Wait() {
	s.wg.Wait()
}

// Create stores a notification and pushes it to live connections.
func (s *Service) Create(ctx context.Context, userID uuid.UUID, notifType Type, title, body string, data map[string]string) (*Notification, error) {
	n := &Notification{
		ID:        uuid.New(),
		UserID:    userID,
		Type:      notifType,
		Title:     title,
		Body:      body,
		CreatedAt: time.Now().UTC(),
	}
	n.SetData(data)

	if err := s.repo.Create(ctx, n); err != nil {
		return nil, err
	}

	if s.realtime != nil {
		unread, err := s.repo.CountUnreadByUser(ctx, userID)
		if err != nil {
			log.Warn().Err(err).Str("user_id", userID.String()).Msg("Failed to count unread notifications")
		}
		payload := map[string]interface{}{
			"type": "notification:new",
			"data": map[string]interface{}{
				"notification": NotificationResponseFromEntity(n),
				"unread_count": unread,
			},
		}
		if err := s.realtime.SendToUserJSON(userID, payload); err != nil {
			s.metrics.NotificationFailure("realtime")
			log.Warn().Err(err).Str("user_id", userID.String()).Msg("Failed to push notification")
		}
	}
	return n, nil
}

// List returns notifications for user
func (s *Service) List(ctx context.Context, userID uuid.UUID, limit, offset int) ([]*Notification, error) {
	return s.repo.ListByUser(ctx, userID, limit, offset)
}

// GetUnreadCount returns unread count
func (s *Service) GetUnreadCount(ctx context.Context, userID uuid.UUID) (int, error) {
	return s.repo.CountUnreadByUser(ctx, userID)
}

// MarkAsRead marks single notification of userID as read
func (s *Service) MarkAsRead(ctx context.Context, userID, id uuid.UUID) error {
	return s.repo.MarkAsRead(ctx, userID, id)
}

// MarkAllAsRead marks all notifications as read
func (s *Service) MarkAllAsRead(ctx context.Context, userID uuid.UUID) (int64, error) {
	return s.repo.MarkAllAsRead(ctx, userID)
}

func (s *Service) LinkChannel(ctx context.Context, accountID uuid.UUID, chatID string) error {
	return s.repo.SetChannel(ctx, accountID, chatID)
}

func (s *Service) UnlinkChannel(ctx context.Context, accountID uuid.UUID) error {
	return s.repo.DeleteChannel(ctx, accountID)
}

// --- Notifier implementations ---

func (s *Service) NotifyWelcome(ctx context.Context, accountID uuid.UUID, credits int64) {
	s.dispatch(ctx, accountID, TypeWelcome,
		"Welcome!",
		fmt.Sprintf("You have %d free credits to get started.", credits),
		map[string]string{"credits": strconv.FormatInt(credits, 10)},
	)
}

func (s *Service) NotifyCreditGranted(ctx context.Context, accountID uuid.UUID, credits, balance int64, reason string) {
	s.dispatch(ctx, accountID, TypeCreditGranted,
		fmt.Sprintf("+%d credits", credits),
		fmt.Sprintf("%s. Balance: %d.", reason, balance),
		map[string]string{
			"credits": strconv.FormatInt(credits, 10),
			"balance": strconv.FormatInt(balance, 10),
			"reason":  reason,
		},
	)
}

func (s *Service) NotifyLowBalance(ctx context.Context, accountID uuid.UUID, balance int64) {
	s.dispatch(ctx, accountID, TypeLowBalance,
		"Running low on credits",
		fmt.Sprintf("Only %d credits left.", balance),
		map[string]string{"balance": strconv.FormatInt(balance, 10)},
	)
}

func (s *Service) NotifyPremiumActivated(ctx context.Context, accountID uuid.UUID, until *time.Time, credits int64) {
	body := "Premium is active."
	data := map[string]string{"credits": strconv.FormatInt(credits, 10)}
	if until != nil {
		body = "Premium is active until " + until.UTC().Format("2006-01-02") + "."
		data["premium_until"] = until.UTC().Format(time.RFC3339)
	}
	if credits > 0 {
		body += fmt.Sprintf(" %d credits added.", credits)
	}
	s.dispatch(ctx, accountID, TypePremiumActivated, "Premium activated", body, data)
}

func (s *Service) NotifyPremiumEnded(ctx context.Context, accountID uuid.UUID, status string) {
	body := "Your premium subscription has ended."
	if status == "past_due" {
		body = "Your last payment failed, premium is paused until it succeeds."
	}
	s.dispatch(ctx, accountID, TypePremiumEnded, "Premium ended", body, map[string]string{"status": status})
}

// dispatch runs delivery on a context detached from the caller's
// cancellation.
func (s *Service) dispatch(ctx context.Context, accountID uuid.UUID, notifType Type, title, body string, data map[string]string) {
	ctx = context.WithoutCancel(ctx)
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		ctx, cancel := context.WithTimeout(ctx, dispatchTimeout)
		defer cancel()

		n, err := s.Create(ctx, accountID, notifType, title, body, data)
		if err != nil {
			s.metrics.NotificationFailure("inbox")
			log.Error().Err(err).Str("account_id", accountID.String()).Str("type", string(notifType)).Msg("Failed to store notification")
			n = &Notification{ID: uuid.New(), UserID: accountID, Type: notifType, Title: title, Body: body, CreatedAt: time.Now().UTC()}
			n.SetData(data)
		}

		for _, sink := range s.sinks {
			if err := sink.Deliver(ctx, n); err != nil {
				s.metrics.NotificationFailure(sink.Name())
				log.Warn().Err(err).
					Str("account_id", accountID.String()).
					Str("sink", sink.Name()).
					Str("type", string(notifType)).
					Msg("Notification delivery failed")
			}
		}
	}()
}
