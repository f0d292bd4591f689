package ledger

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/mwork/ledger-api/internal/pkg/clock"
	"github.com/mwork/ledger-api/internal/pkg/events"
	"github.com/mwork/ledger-api/internal/pkg/metrics"
)

const (
	DefaultEntriesLimit = 20
	MaxEntriesLimit     = 200
)

// Notifier receives fire-and-forget ledger notifications. Implementations
// must not block on delivery.
type Notifier interface {
	NotifyWelcome(ctx context.Context, accountID uuid.UUID, credits int64)
	NotifyCreditGranted(ctx context.Context, accountID uuid.UUID, credits, balance int64, reason string)
	NotifyLowBalance(ctx context.Context, accountID uuid.UUID, balance int64)
}

// Publisher emits committed ledger events.
type Publisher interface {
	Publish(ctx context.Context, subject string, v any) error
}

type Options struct {
	WelcomeBonus        int64
	DailyGrant          int64
	LowBalanceThreshold int64
	Location            *time.Location
}

type Service struct {
	store     Store
	opts      Options
	clock     clock.Clock
	notifier  Notifier
	publisher Publisher
	metrics   *metrics.Metrics
}

func NewService(store Store, opts Options) *Service {
	if opts.Location == nil {
		opts.Location = time.UTC
	}
	if opts.WelcomeBonus < 0 {
		opts.WelcomeBonus = 0
	}
	return &Service{store: store, opts: opts, clock: clock.Real()}
}

func (s *Service) SetNotifier(n Notifier) { s.notifier = n }
func (s *Service) SetPublisher(p Publisher) { s.publisher = p }
func (s *Service) SetClock(c clock.Clock) { s.clock = c }
func (s *Service) SetMetrics(m *metrics.Metrics) { s.metrics = m }

// GetBalance returns the balance, creating it with the welcome bonus on first
// use and applying a due daily grant.
func (s *Service) GetBalance(ctx context.Context, accountID uuid.UUID) (*Balance, error) {
	b, err := s.ensure(ctx, accountID)
	if err != nil {
		return nil, err
	}
	if s.grantDue(b) {
		res, err := s.grant(ctx, accountID)
		if err != nil {
			return nil, err
		}
		if res.Granted {
			return s.store.GetBalance(ctx, accountID)
		}
	}
	return b, nil
}

// TryDebit charges amount. Applied=false means the balance did not cover it;
// that is an outcome, not an error. Any error means the caller must not
// proceed with the costed work.
func (s *Service) TryDebit(ctx context.Context, accountID uuid.UUID, amount int64, description string) (*DebitResult, error) {
	if amount <= 0 {
		return nil, ErrInvalidAmount
	}
	if _, err := s.ensure(ctx, accountID); err != nil {
		s.metrics.Debit(metrics.DebitError, amount)
		return nil, err
	}

	res, err := s.store.Debit(ctx, accountID, amount, description)
	if err != nil {
		s.metrics.Debit(metrics.DebitError, amount)
		log.Error().Err(err).Str("account_id", accountID.String()).Int64("amount", amount).Msg("Debit failed")
		return nil, err
	}

	if !res.Applied {
		s.metrics.Debit(metrics.DebitInsufficient, amount)
		log.Info().
			Str("account_id", accountID.String()).
			Int64("amount", amount).
			Int64("balance", res.BalanceAfter).
			Msg("Debit refused: insufficient balance")
		return res, nil
	}

	s.metrics.Debit(metrics.DebitApplied, amount)
	log.Info().
		Str("account_id", accountID.String()).
		Int64("amount", amount).
		Int64("balance_after", res.BalanceAfter).
		Bool("premium_bypass", res.PremiumBypass).
		Msg("Debit applied")

	s.publishEntry(ctx, res.Entry, res.BalanceAfter)

	before := res.BalanceAfter + amount
	if !res.PremiumBypass && s.notifier != nil &&
		before > s.opts.LowBalanceThreshold && res.BalanceAfter <= s.opts.LowBalanceThreshold {
		s.notifier.NotifyLowBalance(ctx, accountID, res.BalanceAfter)
	}
	return res, nil
}

// CanAfford is advisory: callers must still debit and handle Applied=false.
func (s *Service) CanAfford(ctx context.Context, accountID uuid.UUID, amount int64) (bool, error) {
	if amount <= 0 {
		return false, ErrInvalidAmount
	}
	b, err := s.GetBalance(ctx, accountID)
	if err != nil {
		return false, err
	}
	return b.IsPremium || b.CreditsRemaining >= amount, nil
}

// MaybeGrantFreeCredit applies the daily free credit at most once per
// calendar day in the configured zone, only to non-premium accounts at zero.
func (s *Service) MaybeGrantFreeCredit(ctx context.Context, accountID uuid.UUID) (*GrantResult, error) {
	if _, err := s.ensure(ctx, accountID); err != nil {
		return nil, err
	}
	return s.grant(ctx, accountID)
}

// Credit adds credits or a refund. A repeated SourceEventID returns
// ErrDuplicateSourceEvent with the balance untouched.
func (s *Service) Credit(ctx context.Context, p CreditParams) (*Entry, int64, error) {
	if err := p.normalize(); err != nil {
		return nil, 0, err
	}
	if _, err := s.ensure(ctx, p.AccountID); err != nil {
		return nil, 0, err
	}

	entry, after, err := s.store.Credit(ctx, p)
	if errors.Is(err, ErrDuplicateSourceEvent) {
		log.Info().
			Str("account_id", p.AccountID.String()).
			Str("source_event_id", p.SourceEventID).
			Msg("Credit already applied")
		return nil, 0, err
	}
	if err != nil {
		return nil, 0, err
	}

	s.metrics.Credit(string(entry.Kind), entry.Amount)
	log.Info().
		Str("account_id", p.AccountID.String()).
		Str("kind", string(entry.Kind)).
		Int64("amount", entry.Amount).
		Int64("balance_after", after).
		Msg("Credit applied")

	s.publishEntry(ctx, entry, after)
	if s.notifier != nil {
		s.notifier.NotifyCreditGranted(ctx, p.AccountID, entry.Amount, after, entry.Description)
	}
	return entry, after, nil
}

func (s *Service) ListEntries(ctx context.Context, accountID uuid.UUID, limit int) ([]Entry, error) {
	if limit <= 0 {
		limit = DefaultEntriesLimit
	}
	if limit > MaxEntriesLimit {
		limit = MaxEntriesLimit
	}
	return s.store.ListEntries(ctx, accountID, limit)
}

// Reconcile replays the account's entries against credits_remaining.
func (s *Service) Reconcile(ctx context.Context, accountID uuid.UUID) (*ReconcileReport, error) {
	b, entries, err := s.store.Snapshot(ctx, accountID)
	if err != nil {
		return nil, err
	}
	replayed, plain := Replay(entries)
	return &ReconcileReport{
		AccountID:        accountID,
		CreditsRemaining: b.CreditsRemaining,
		Replayed:         replayed,
		PlainSum:         plain,
		Entries:          len(entries),
		Consistent:       replayed == b.CreditsRemaining,
	}, nil
}

// ReconcileAll walks every balance and calls report for each one.
func (s *Service) ReconcileAll(ctx context.Context, report func(*ReconcileReport)) (checked, mismatched int, err error) {
	const page = 500
	after := uuid.Nil
	for {
		ids, err := s.store.ListAccountIDs(ctx, after, page)
		if err != nil {
			return checked, mismatched, err
		}
		for _, id := range ids {
			rep, err := s.Reconcile(ctx, id)
			if err != nil {
				return checked, mismatched, err
			}
			checked++
			if !rep.Consistent {
				mismatched++
			}
			if report != nil {
				report(rep)
			}
		}
		if len(ids) < page {
			return checked, mismatched, nil
		}
		after = ids[len(ids)-1]
	}
}

// ExpireLapsedPremium clears premium on accounts whose premium_until is more
// than grace in the past.
func (s *Service) ExpireLapsedPremium(ctx context.Context, grace time.Duration) ([]uuid.UUID, error) {
	ids, err := s.store.ExpireLapsedPremium(ctx, s.clock.Now().Add(-grace))
	if err != nil {
		return nil, err
	}
	for _, id := range ids {
		log.Info().Str("account_id", id.String()).Msg("Premium expired")
	}
	return ids, nil
}

func (s *Service) ensure(ctx context.Context, accountID uuid.UUID) (*Balance, error) {
	if accountID == uuid.Nil {
		return nil, ErrBalanceNotFound
	}
	b, welcome, err := s.store.GetOrCreate(ctx, accountID, s.opts.WelcomeBonus)
	if err != nil {
		return nil, err
	}
	if welcome != nil {
		s.metrics.Credit(string(welcome.Kind), welcome.Amount)
		log.Info().
			Str("account_id", accountID.String()).
			Int64("amount", welcome.Amount).
			Msg("Balance created with welcome bonus")
		s.publishEntry(ctx, welcome, b.CreditsRemaining)
		if s.notifier != nil {
			s.notifier.NotifyWelcome(ctx, accountID, welcome.Amount)
		}
	}
	return b, nil
}

func (s *Service) today() time.Time {
	return clock.Day(s.clock.Now(), s.opts.Location)
}

// grantDue is a cheap pre-check; the store's conditional update decides.
func (s *Service) grantDue(b *Balance) bool {
	if s.opts.DailyGrant <= 0 || b.IsPremium || b.CreditsRemaining != 0 {
		return false
	}
	if b.LastFreeGrantDate == nil {
		return true
	}
	return b.LastFreeGrantDate.Format("2006-01-02") < s.today().Format("2006-01-02")
}

func (s *Service) grant(ctx context.Context, accountID uuid.UUID) (*GrantResult, error) {
	if s.opts.DailyGrant <= 0 {
		return &GrantResult{}, nil
	}
	entry, after, err := s.store.GrantDaily(ctx, accountID, s.opts.DailyGrant, s.today())
	if err != nil {
		return nil, err
	}
	if entry == nil {
		return &GrantResult{}, nil
	}

	s.metrics.Grant()
	s.metrics.Credit(string(entry.Kind), entry.Amount)
	log.Info().
		Str("account_id", accountID.String()).
		Int64("amount", entry.Amount).
		Msg("Daily free credit granted")

	s.publishEntry(ctx, entry, after)
	if s.notifier != nil {
		s.notifier.NotifyCreditGranted(ctx, accountID, entry.Amount, after, entry.Description)
	}
	return &GrantResult{Granted: true, BalanceAfter: after, Entry: entry}, nil
}

func (s *Service) publishEntry(ctx context.Context, e *Entry, balanceAfter int64) {
	if s.publisher == nil || e == nil {
		return
	}
	ev := events.EntryCreated{
		EntryID:       e.ID.String(),
		AccountID:     e.AccountID.String(),
		Kind:          string(e.Kind),
		Amount:        e.Amount,
		BalanceAfter:  balanceAfter,
		PremiumBypass: e.PremiumBypass,
		CreatedAt:     e.CreatedAt,
	}
	if e.SourceEventID != nil {
		ev.SourceEventID = *e.SourceEventID
	}
	if err := s.publisher.Publish(ctx, events.SubjectEntryCreated, ev); err != nil {
		log.Warn().Err(err).Str("entry_id", ev.EntryID).Msg("Failed to publish ledger entry event")
	}
}
