package ledger

import (
	"bytes"
	"context"
	"encoding/csv"
	"errors"
	"io"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type memObjects struct {
	objects map[string][]byte
	types   map[string]string
	err     error
}

func (m *memObjects) Put(_ context.Context, key string, body io.Reader, contentType string) error {
	if m.err != nil {
		return m.err
	}
	b, err := io.ReadAll(body)
	if err != nil {
		return err
	}
	if m.objects == nil {
		m.objects = map[string][]byte{}
		m.types = map[string]string{}
	}
	m.objects[key] = b
	m.types[key] = contentType
	return nil
}

func TestWriteStatementCSV(t *testing.T) {
	src := "stripe:evt_1"
	entries := []Entry{
		{ID: uuid.New(), Seq: 1, AccountID: uuid.New(), Kind: KindCredit, Amount: 500, Description: "premium renewal, March", SourceEventID: &src, CreatedAt: time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)},
		{ID: uuid.New(), Seq: 2, AccountID: uuid.New(), Kind: KindDebit, Amount: 3, Description: "search", PremiumBypass: true, CreatedAt: time.Date(2026, 3, 2, 10, 0, 0, 0, time.UTC)},
	}

	var buf bytes.Buffer
	require.NoError(t, WriteStatementCSV(&buf, entries))

	rows, err := csv.NewReader(&buf).ReadAll()
	require.NoError(t, err)
	require.Len(t, rows, 3)
	assert.Equal(t, statementHeader, rows[0])
	assert.Equal(t, "premium renewal, March", rows[1][6])
	assert.Equal(t, "stripe:evt_1", rows[1][7])
	assert.Equal(t, "-3", rows[2][5])
	assert.Equal(t, "true", rows[2][8])
	assert.Equal(t, "2026-03-02T10:00:00Z", rows[2][9])
}

func TestExportMonthSelectsCalendarMonth(t *testing.T) {
	svc, store, fc := newTestService(t)
	ctx := context.Background()
	accountID := uuid.New()
	store.setBalance(accountID, 10, false)

	fc.Set(time.Date(2026, 2, 28, 23, 0, 0, 0, time.UTC))
	_, err := svc.TryDebit(ctx, accountID, 1, "february")
	require.NoError(t, err)
	fc.Set(time.Date(2026, 3, 15, 12, 0, 0, 0, time.UTC))
	_, err = svc.TryDebit(ctx, accountID, 2, "march")
	require.NoError(t, err)
	fc.Set(time.Date(2026, 4, 1, 0, 0, 0, 0, time.UTC))
	_, err = svc.TryDebit(ctx, accountID, 3, "april")
	require.NoError(t, err)

	objects := &memObjects{}
	key, n, err := svc.ExportMonth(ctx, objects, time.Date(2026, 3, 20, 0, 0, 0, 0, time.UTC))
	require.NoError(t, err)
	assert.Equal(t, "statements/2026-03/ledger-entries.csv", key)
	assert.Equal(t, 1, n)
	assert.Equal(t, "text/csv", objects.types[key])

	rows, err := csv.NewReader(bytes.NewReader(objects.objects[key])).ReadAll()
	require.NoError(t, err)
	require.Len(t, rows, 2)
	assert.Equal(t, "march", rows[1][6])
}

func TestExportMonthPropagatesStorageError(t *testing.T) {
	svc, _, _ := newTestService(t)
	objects := &memObjects{err: errors.New("bucket unavailable")}

	_, _, err := svc.ExportMonth(context.Background(), objects, time.Now())
	assert.EqualError(t, err, "bucket unavailable")
}
