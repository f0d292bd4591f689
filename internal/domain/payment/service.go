package payment

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/mwork/ledger-api/internal/domain/subscription"
	"github.com/mwork/ledger-api/internal/pkg/metrics"
	"github.com/mwork/ledger-api/internal/pkg/stripe"
)

const providerStripe = "stripe"

// Applier projects provider events onto accounts.
type Applier interface {
	ApplyProviderEvent(ctx context.Context, ev *subscription.ProviderEvent) (*subscription.Outcome, error)
}

// Service turns verified provider payloads into subscription changes and
// parks the ones whose account is not known yet.
type Service struct {
	applier Applier
	queue   RetryQueue
	waker   *Waker
	metrics *metrics.Metrics
}

// NewService creates payment service
func NewService(applier Applier, queue RetryQueue) *Service {
	return &Service{applier: applier, queue: queue}
}

func (s *Service) SetWaker(w *Waker)             { s.waker = w }
func (s *Service) SetMetrics(m *metrics.Metrics) { s.metrics = m }

// HandleStripe applies a payload whose signature was already verified.
// Unresolvable accounts are queued; an error wrapping ErrQueueUnavailable
// means the provider must redeliver.
func (s *Service) HandleStripe(ctx context.Context, payload []byte) (*WebhookResponse, error) {
	result, eventID, err := s.apply(ctx, payload)
	if errors.Is(err, subscription.ErrUnresolvableAccount) {
		if qerr := s.queue.Enqueue(ctx, eventID, providerStripe, json.RawMessage(payload), err.Error()); qerr != nil {
			log.Error().Err(qerr).Str("event_id", eventID).Msg("Failed to queue webhook for retry")
			return nil, fmt.Errorf("%w: %w", ErrQueueUnavailable, qerr)
		}
		s.metrics.WebhookRetry(metrics.RetryQueued)
		log.Info().Str("event_id", eventID).Msg("Webhook queued for retry")
		s.waker.Wake(ctx)
		return &WebhookResponse{EventID: eventID, Status: ResultQueued}, nil
	}
	if err != nil {
		return nil, err
	}
	return &WebhookResponse{EventID: eventID, Status: result}, nil
}

// apply parses and applies one Stripe payload. It is shared by the webhook
// endpoint and the retry worker.
func (s *Service) apply(ctx context.Context, payload []byte) (Result, string, error) {
	ev, err := stripe.Parse(payload)
	if errors.Is(err, stripe.ErrEventIgnored) {
		log.Debug().Str("event_id", ev.ID).Str("stripe_type", ev.StripeType).Msg("Stripe event type ignored")
		return ResultIgnored, ev.ID, nil
	}
	if err != nil {
		return "", "", fmt.Errorf("%w: %w", ErrInvalidPayload, err)
	}

	pe, ok := toProviderEvent(ev)
	if !ok {
		log.Warn().Str("event_id", ev.ID).Str("status", ev.Status).Msg("Stripe event with unknown status ignored")
		return ResultIgnored, ev.ID, nil
	}

	out, err := s.applier.ApplyProviderEvent(ctx, pe)
	switch {
	case errors.Is(err, subscription.ErrEventIgnored), errors.Is(err, subscription.ErrInvalidEvent):
		log.Warn().Err(err).Str("event_id", ev.ID).Msg("Stripe event not applicable")
		return ResultIgnored, ev.ID, nil
	case err != nil:
		return "", ev.ID, err
	case out.Duplicate:
		return ResultDuplicate, ev.ID, nil
	}
	return ResultApplied, ev.ID, nil
}

func toProviderEvent(ev *stripe.Event) (*subscription.ProviderEvent, bool) {
	pe := &subscription.ProviderEvent{
		ID: ev.ID,
		Ref: subscription.AccountRef{
			CustomerID:     ev.CustomerID,
			SubscriptionID: ev.SubscriptionID,
		},
		PeriodEnd:  ev.PeriodEnd,
		PriceID:    ev.PriceID,
		OccurredAt: ev.OccurredAt,
	}
	if id, err := uuid.Parse(ev.AccountID); err == nil {
		pe.Ref.AccountID = id
	}

	switch ev.Kind {
	case stripe.KindCheckoutCompleted:
		pe.Type = subscription.EventCheckoutCompleted
		pe.Status = subscription.StatusActive
	case stripe.KindSubscriptionUpdated:
		status, ok := subscription.MapProviderStatus(ev.Status)
		if !ok {
			return nil, false
		}
		pe.Type = subscription.EventSubscriptionUpdated
		pe.Status = status
	case stripe.KindSubscriptionCanceled:
		pe.Type = subscription.EventSubscriptionCanceled
		pe.Status = subscription.StatusCanceled
	default:
		return nil, false
	}
	return pe, true
}
