package ledger

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
)

// memStore mirrors the Postgres conditional updates under one mutex so the
// service can be exercised concurrently without a database.
type memStore struct {
	mu       sync.Mutex
	balances map[uuid.UUID]*Balance
	entries  []Entry
	sources  map[string]bool
	seq      int64
	now      func() time.Time

	failDebit error
}

func newMemStore() *memStore {
	return &memStore{
		balances: map[uuid.UUID]*Balance{},
		sources:  map[string]bool{},
		now:      time.Now,
	}
}

func (m *memStore) appendLocked(e *Entry) error {
	if e.SourceEventID != nil {
		if m.sources[*e.SourceEventID] {
			return ErrDuplicateSourceEvent
		}
		m.sources[*e.SourceEventID] = true
	}
	m.seq++
	e.ID = uuid.New()
	e.Seq = m.seq
	e.CreatedAt = m.now()
	m.entries = append(m.entries, *e)
	return nil
}

func (m *memStore) GetBalance(_ context.Context, id uuid.UUID) (*Balance, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	b, ok := m.balances[id]
	if !ok {
		return nil, ErrBalanceNotFound
	}
	cp := *b
	return &cp, nil
}

func (m *memStore) GetOrCreate(_ context.Context, id uuid.UUID, welcome int64) (*Balance, *Entry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if b, ok := m.balances[id]; ok {
		cp := *b
		return &cp, nil, nil
	}
	b := &Balance{AccountID: id, CreditsRemaining: welcome, CreatedAt: m.now(), UpdatedAt: m.now()}
	m.balances[id] = b
	var entry *Entry
	if welcome > 0 {
		entry = &Entry{AccountID: id, Kind: KindCredit, Amount: welcome, Description: DescriptionWelcome}
		_ = m.appendLocked(entry)
	}
	cp := *b
	return &cp, entry, nil
}

func (m *memStore) Debit(_ context.Context, id uuid.UUID, amount int64, description string) (*DebitResult, error) {
	if amount <= 0 {
		return nil, ErrInvalidAmount
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failDebit != nil {
		return nil, m.failDebit
	}
	b, ok := m.balances[id]
	if !ok {
		return nil, ErrBalanceNotFound
	}
	if !b.IsPremium && b.CreditsRemaining < amount {
		return &DebitResult{Applied: false, BalanceAfter: b.CreditsRemaining}, nil
	}
	b.CreditsRemaining -= amount
	if b.CreditsRemaining < 0 {
		b.CreditsRemaining = 0
	}
	b.MonthlyUsage += amount
	b.TotalUsed += amount
	entry := &Entry{AccountID: id, Kind: KindDebit, Amount: amount, Description: description, PremiumBypass: b.IsPremium}
	_ = m.appendLocked(entry)
	return &DebitResult{Applied: true, BalanceAfter: b.CreditsRemaining, PremiumBypass: b.IsPremium, Entry: entry}, nil
}

func (m *memStore) Credit(_ context.Context, p CreditParams) (*Entry, int64, error) {
	if err := p.normalize(); err != nil {
		return nil, 0, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	b, ok := m.balances[p.AccountID]
	if !ok {
		return nil, 0, ErrBalanceNotFound
	}
	entry := &Entry{AccountID: p.AccountID, Kind: p.Kind, Amount: p.Amount, Description: p.Description}
	if p.SourceEventID != "" {
		src := p.SourceEventID
		entry.SourceEventID = &src
	}
	if err := m.appendLocked(entry); err != nil {
		return nil, 0, err
	}
	b.CreditsRemaining += p.Amount
	return entry, b.CreditsRemaining, nil
}

func (m *memStore) GrantDaily(_ context.Context, id uuid.UUID, amount int64, day time.Time) (*Entry, int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	b, ok := m.balances[id]
	if !ok || b.CreditsRemaining != 0 || b.IsPremium {
		return nil, 0, nil
	}
	if b.LastFreeGrantDate != nil && !b.LastFreeGrantDate.Before(day) {
		return nil, 0, nil
	}
	d := day
	b.LastFreeGrantDate = &d
	b.CreditsRemaining += amount
	entry := &Entry{AccountID: id, Kind: KindCredit, Amount: amount, Description: DescriptionDailyFree}
	_ = m.appendLocked(entry)
	return entry, b.CreditsRemaining, nil
}

func (m *memStore) ListEntries(_ context.Context, id uuid.UUID, limit int) ([]Entry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := []Entry{}
	for i := len(m.entries) - 1; i >= 0 && len(out) < limit; i-- {
		if m.entries[i].AccountID == id {
			out = append(out, m.entries[i])
		}
	}
	return out, nil
}

func (m *memStore) ListEntriesBetween(_ context.Context, from, to time.Time) ([]Entry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := []Entry{}
	for _, e := range m.entries {
		if !e.CreatedAt.Before(from) && e.CreatedAt.Before(to) {
			out = append(out, e)
		}
	}
	return out, nil
}

func (m *memStore) Snapshot(_ context.Context, id uuid.UUID) (*Balance, []Entry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	b, ok := m.balances[id]
	if !ok {
		return nil, nil, ErrBalanceNotFound
	}
	cp := *b
	out := []Entry{}
	for _, e := range m.entries {
		if e.AccountID == id {
			out = append(out, e)
		}
	}
	return &cp, out, nil
}

func (m *memStore) ListAccountIDs(_ context.Context, after uuid.UUID, limit int) ([]uuid.UUID, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	ids := []uuid.UUID{}
	for id := range m.balances {
		if id.String() > after.String() {
			ids = append(ids, id)
		}
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i].String() < ids[j].String() })
	if len(ids) > limit {
		ids = ids[:limit]
	}
	return ids, nil
}

func (m *memStore) ExpireLapsedPremium(_ context.Context, cutoff time.Time) ([]uuid.UUID, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	ids := []uuid.UUID{}
	for id, b := range m.balances {
		if b.IsPremium && b.PremiumUntil != nil && b.PremiumUntil.Before(cutoff) {
			b.IsPremium = false
			b.PremiumUntil = nil
			ids = append(ids, id)
		}
	}
	return ids, nil
}

// setBalance overwrites fields of an existing row for test setup.
func (m *memStore) setBalance(id uuid.UUID, credits int64, premium bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	b, ok := m.balances[id]
	if !ok {
		b = &Balance{AccountID: id}
		m.balances[id] = b
	}
	b.CreditsRemaining = credits
	b.IsPremium = premium
}

// corrupt changes credits_remaining without an entry.
func (m *memStore) corrupt(id uuid.UUID, delta int64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.balances[id].CreditsRemaining += delta
}

type recordingNotifier struct {
	mu         sync.Mutex
	welcomes   int
	grants     []int64
	lowBalance []int64
}

func (n *recordingNotifier) NotifyWelcome(context.Context, uuid.UUID, int64) {
	n.mu.Lock()
	n.welcomes++
	n.mu.Unlock()
}

func (n *recordingNotifier) NotifyCreditGranted(_ context.Context, _ uuid.UUID, credits, _ int64, _ string) {
	n.mu.Lock()
	n.grants = append(n.grants, credits)
	n.mu.Unlock()
}

func (n *recordingNotifier) NotifyLowBalance(_ context.Context, _ uuid.UUID, balance int64) {
	n.mu.Lock()
	n.lowBalance = append(n.lowBalance, balance)
	n.mu.Unlock()
}

type recordingPublisher struct {
	mu       sync.Mutex
	subjects []string
}

func (p *recordingPublisher) Publish(_ context.Context, subject string, _ any) error {
	p.mu.Lock()
	p.subjects = append(p.subjects, subject)
	p.mu.Unlock()
	return nil
}
