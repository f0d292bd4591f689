package main

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mwork/ledger-api/internal/pkg/lock"
)

type expirerStub struct {
	ids   []uuid.UUID
	grace time.Duration
}

func (e *expirerStub) ExpireLapsedPremium(_ context.Context, grace time.Duration) ([]uuid.UUID, error) {
	e.grace = grace
	ids := e.ids
	e.ids = nil
	return ids, nil
}

type enderStub struct {
	mu    sync.Mutex
	ended map[uuid.UUID]string
}

func (n *enderStub) NotifyPremiumEnded(_ context.Context, accountID uuid.UUID, status string) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.ended[accountID] = status
}

func TestPremiumExpirySweepsOnStart(t *testing.T) {
	lapsed := uuid.New()
	expirer := &expirerStub{ids: []uuid.UUID{lapsed}}
	ender := &enderStub{ended: map[uuid.UUID]string{}}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- runPremiumExpiry(ctx, lock.NewLocker(nil), expirer, ender, 72*time.Hour) }()

	require.Eventually(t, func() bool {
		ender.mu.Lock()
		defer ender.mu.Unlock()
		return len(ender.ended) == 1
	}, time.Second, 5*time.Millisecond)
	cancel()
	require.NoError(t, <-done)

	assert.Equal(t, "expired", ender.ended[lapsed])
	assert.Equal(t, 72*time.Hour, expirer.grace)
}
