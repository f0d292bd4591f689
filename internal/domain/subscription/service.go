package subscription

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/mwork/ledger-api/internal/domain/ledger"
	"github.com/mwork/ledger-api/internal/pkg/clock"
	"github.com/mwork/ledger-api/internal/pkg/events"
	"github.com/mwork/ledger-api/internal/pkg/metrics"
)

// Metric outcomes of ApplyProviderEvent.
const (
	OutcomeApplied      = "applied"
	OutcomeDuplicate    = "duplicate"
	OutcomeIgnored      = "ignored"
	OutcomeUnresolvable = "unresolvable"
	OutcomeError        = "error"
)

// Notifier receives premium lifecycle notifications after commit.
type Notifier interface {
	NotifyPremiumActivated(ctx context.Context, accountID uuid.UUID, until *time.Time, credits int64)
	NotifyPremiumEnded(ctx context.Context, accountID uuid.UUID, status string)
}

type Service struct {
	repo      Repository
	clock     clock.Clock
	notifier  Notifier
	publisher ledger.Publisher
	metrics   *metrics.Metrics
}

func NewService(repo Repository) *Service {
	return &Service{repo: repo, clock: clock.Real()}
}

func (s *Service) SetNotifier(n Notifier) { s.notifier = n }
func (s *Service) SetPublisher(p ledger.Publisher) { s.publisher = p }
func (s *Service) SetClock(c clock.Clock) { s.clock = c }
func (s *Service) SetMetrics(m *metrics.Metrics) { s.metrics = m }

// ApplyProviderEvent projects a provider lifecycle event onto the account.
// Replaying an event id is a successful no-op (Outcome.Duplicate). Unknown
// event types return ErrEventIgnored; ErrUnresolvableAccount means the event
// should be retried later.
func (s *Service) ApplyProviderEvent(ctx context.Context, ev *ProviderEvent) (*Outcome, error) {
	if err := validateEvent(ev); err != nil {
		if errors.Is(err, ErrEventIgnored) {
			s.metrics.ProviderEvent(string(ev.Type), OutcomeIgnored)
			log.Info().Str("event_id", ev.ID).Str("type", string(ev.Type)).Msg("Provider event ignored")
		}
		return nil, err
	}

	now := s.clock.Now()
	out, err := s.repo.Apply(ctx, ev, func(accountID uuid.UUID, existing *Record, plan *Plan) Change {
		return planChange(ev, accountID, existing, plan, now)
	})
	switch {
	case errors.Is(err, ErrUnresolvableAccount):
		s.metrics.ProviderEvent(string(ev.Type), OutcomeUnresolvable)
		log.Warn().
			Str("event_id", ev.ID).
			Str("type", string(ev.Type)).
			Str("customer_id", ev.Ref.CustomerID).
			Msg("Provider event account not resolvable")
		return nil, err
	case err != nil:
		s.metrics.ProviderEvent(string(ev.Type), OutcomeError)
		log.Error().Err(err).Str("event_id", ev.ID).Msg("Failed to apply provider event")
		return nil, err
	}

	if out.Duplicate {
		s.metrics.ProviderEvent(string(ev.Type), OutcomeDuplicate)
		log.Info().Str("event_id", ev.ID).Str("account_id", out.AccountID.String()).Msg("Provider event already applied")
		return out, nil
	}

	s.metrics.ProviderEvent(string(ev.Type), OutcomeApplied)
	if out.Granted > 0 {
		s.metrics.Credit(string(ledger.KindCredit), out.Granted)
	}
	log.Info().
		Str("event_id", ev.ID).
		Str("type", string(ev.Type)).
		Str("account_id", out.AccountID.String()).
		Bool("premium", out.Premium).
		Int64("granted", out.Granted).
		Msg("Provider event applied")

	s.publish(ctx, out)
	if s.notifier != nil {
		if out.Premium {
			s.notifier.NotifyPremiumActivated(ctx, out.AccountID, out.PremiumUntil, out.Granted)
		} else {
			s.notifier.NotifyPremiumEnded(ctx, out.AccountID, string(statusAfter(ev)))
		}
	}
	return out, nil
}

// Get returns the account's subscription record.
func (s *Service) Get(ctx context.Context, accountID uuid.UUID) (*Record, error) {
	return s.repo.GetByAccountID(ctx, accountID)
}

func (s *Service) ListPlans(ctx context.Context) ([]Plan, error) {
	return s.repo.ListPlans(ctx)
}

func validateEvent(ev *ProviderEvent) error {
	if ev == nil || ev.ID == "" {
		return fmt.Errorf("%w: missing event id", ErrInvalidEvent)
	}
	switch ev.Type {
	case EventCheckoutCompleted, EventSubscriptionCanceled:
	case EventSubscriptionUpdated:
		if ev.Status == "" {
			return fmt.Errorf("%w: subscription_updated without status", ErrInvalidEvent)
		}
	default:
		return ErrEventIgnored
	}
	return nil
}

func statusAfter(ev *ProviderEvent) Status {
	if ev.Type == EventSubscriptionUpdated && ev.Status != "" {
		return ev.Status
	}
	if ev.activates() {
		return StatusActive
	}
	return StatusCanceled
}

func (s *Service) publish(ctx context.Context, out *Outcome) {
	if s.publisher == nil {
		return
	}
	err := s.publisher.Publish(ctx, events.SubjectPremiumChanged, events.PremiumChanged{
		AccountID:    out.AccountID.String(),
		IsPremium:    out.Premium,
		PremiumUntil: out.PremiumUntil,
		EventID:      out.EventID,
	})
	if err != nil {
		log.Warn().Err(err).Str("event_id", out.EventID).Msg("Failed to publish premium change")
	}
	if out.EntryID == nil {
		return
	}
	err = s.publisher.Publish(ctx, events.SubjectEntryCreated, events.EntryCreated{
		EntryID:       out.EntryID.String(),
		AccountID:     out.AccountID.String(),
		Kind:          string(ledger.KindCredit),
		Amount:        out.Granted,
		BalanceAfter:  out.BalanceAfter,
		SourceEventID: out.EventID,
		CreatedAt:     s.clock.Now(),
	})
	if err != nil {
		log.Warn().Err(err).Str("event_id", out.EventID).Msg("Failed to publish ledger entry event")
	}
}
