package notification

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mwork/ledger-api/internal/pkg/database/dbtest"
)

func TestRepositoryIntegration(t *testing.T) {
	db := dbtest.Open(t)
	repo := NewRepository(db)
	ctx := context.Background()
	accountID := uuid.New()
	now := time.Now().UTC()

	fresh := &Notification{ID: uuid.New(), UserID: accountID, Type: TypeWelcome, Title: "Welcome!", CreatedAt: now}
	old := &Notification{ID: uuid.New(), UserID: accountID, Type: TypeLowBalance, Title: "Low", CreatedAt: now.AddDate(0, 0, -40)}
	old.SetData(map[string]string{"balance": "1"})
	require.NoError(t, repo.Create(ctx, fresh))
	require.NoError(t, repo.Create(ctx, old))

	list, err := repo.ListByUser(ctx, accountID, 10, 0)
	require.NoError(t, err)
	require.Len(t, list, 2)
	assert.Equal(t, fresh.ID, list[0].ID)
	assert.Empty(t, list[0].GetData())
	assert.Equal(t, "1", list[1].GetData()["balance"])

	assert.ErrorIs(t, repo.MarkAsRead(ctx, uuid.New(), fresh.ID), ErrNotificationNotFound)
	require.NoError(t, repo.MarkAsRead(ctx, accountID, old.ID))
	unread, err := repo.CountUnreadByUser(ctx, accountID)
	require.NoError(t, err)
	assert.Equal(t, 1, unread)

	// the old one is read and past the 30 day read cutoff
	deleted, err := repo.DeleteOlderThan(ctx, now.AddDate(0, 0, -30), now.AddDate(0, 0, -60))
	require.NoError(t, err)
	assert.Equal(t, int64(1), deleted)

	_, err = repo.GetChatID(ctx, accountID)
	assert.ErrorIs(t, err, ErrNoChannel)
	require.NoError(t, repo.SetChannel(ctx, accountID, "100"))
	require.NoError(t, repo.SetChannel(ctx, accountID, "200"))
	chatID, err := repo.GetChatID(ctx, accountID)
	require.NoError(t, err)
	assert.Equal(t, "200", chatID)
	require.NoError(t, repo.DeleteChannel(ctx, accountID))
	_, err = repo.GetChatID(ctx, accountID)
	assert.ErrorIs(t, err, ErrNoChannel)
}
