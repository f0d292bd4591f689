package payment

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/sethvargo/go-retry"

	"github.com/mwork/ledger-api/internal/pkg/clock"
	"github.com/mwork/ledger-api/internal/pkg/metrics"
)

// Alerter reaches the operator.
type Alerter interface {
	Alert(ctx context.Context, text string)
}

type WorkerConfig struct {
	Base        time.Duration
	Cap         time.Duration
	MaxAttempts int
	Poll        time.Duration
	Batch       int
}

// Worker drains the retry queue.
type Worker struct {
	svc     *Service
	queue   RetryQueue
	alerter Alerter
	cfg     WorkerConfig
	clock   clock.Clock
	metrics *metrics.Metrics
	wake    <-chan struct{}
}

func NewWorker(svc *Service, queue RetryQueue, alerter Alerter, cfg WorkerConfig) *Worker {
	if cfg.Base <= 0 {
		cfg.Base = 30 * time.Second
	}
	if cfg.Cap < cfg.Base {
		cfg.Cap = cfg.Base
	}
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = 12
	}
	if cfg.Poll <= 0 {
		cfg.Poll = 5 * time.Second
	}
	if cfg.Batch <= 0 {
		cfg.Batch = 20
	}
	return &Worker{svc: svc, queue: queue, alerter: alerter, cfg: cfg, clock: clock.Real()}
}

func (w *Worker) SetClock(c clock.Clock)        { w.clock = c }
func (w *Worker) SetMetrics(m *metrics.Metrics) { w.metrics = m }
func (w *Worker) SetWake(ch <-chan struct{})    { w.wake = ch }

// Run polls the queue until ctx is done.
func (w *Worker) Run(ctx context.Context) error {
	ticker := time.NewTicker(w.cfg.Poll)
	defer ticker.Stop()

	log.Info().Dur("poll", w.cfg.Poll).Int("max_attempts", w.cfg.MaxAttempts).Msg("Webhook retry worker started")
	for {
		if _, err := w.RunOnce(ctx); err != nil {
			log.Error().Err(err).Msg("Webhook retry pass failed")
		}
		select {
		case <-ctx.Done():
			log.Info().Msg("Webhook retry worker stopped")
			return nil
		case <-ticker.C:
		case <-w.wake:
		}
	}
}

// RunOnce claims one batch of due retries and processes it.
func (w *Worker) RunOnce(ctx context.Context) (int, error) {
	items, err := w.queue.ClaimDue(ctx, w.clock.Now(), w.cfg.Batch)
	if err != nil {
		return 0, err
	}
	for _, item := range items {
		w.process(ctx, item)
	}
	return len(items), nil
}

func (w *Worker) process(ctx context.Context, item *Retry) {
	attempts := item.Attempts + 1
	logger := log.With().Str("event_id", item.EventID).Int("attempt", attempts).Logger()

	result, _, err := w.svc.apply(ctx, item.Payload)
	if err == nil {
		if err := w.queue.MarkDone(ctx, item.EventID, attempts); err != nil {
			logger.Error().Err(err).Msg("Failed to mark webhook retry done")
			return
		}
		w.metrics.WebhookRetry(metrics.RetryApplied)
		logger.Info().Str("result", string(result)).Msg("Queued webhook applied")
		return
	}

	if errors.Is(err, ErrInvalidPayload) || attempts >= w.cfg.MaxAttempts {
		w.dead(ctx, item, attempts, err)
		return
	}

	next := w.clock.Now().Add(Backoff(w.cfg.Base, w.cfg.Cap, attempts))
	if rerr := w.queue.Reschedule(ctx, item.EventID, attempts, next, err.Error()); rerr != nil {
		logger.Error().Err(rerr).Msg("Failed to reschedule webhook retry")
		return
	}
	w.metrics.WebhookRetry(metrics.RetryRescheduled)
	logger.Warn().Err(err).Time("next_attempt_at", next).Msg("Webhook retry rescheduled")
}

func (w *Worker) dead(ctx context.Context, item *Retry, attempts int, cause error) {
	if err := w.queue.MarkDead(ctx, item.EventID, attempts, cause.Error()); err != nil {
		log.Error().Err(err).Str("event_id", item.EventID).Msg("Failed to mark webhook retry dead")
		return
	}
	w.metrics.WebhookRetry(metrics.RetryDead)
	if w.alerter != nil {
		w.alerter.Alert(ctx, fmt.Sprintf("webhook %s gave up after %d attempts: %v", item.EventID, attempts, cause))
	}
}

// Backoff returns the delay before the given attempt (1-based): base
// doubling per attempt, capped.
func Backoff(base, ceiling time.Duration, attempt int) time.Duration {
	b := retry.WithCappedDuration(ceiling, retry.NewExponential(base))
	d := base
	for i := 0; i < attempt; i++ {
		d, _ = b.Next()
	}
	return d
}
