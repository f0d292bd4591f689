package metrics

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDebitCountsOutcomesAndCredits(t *testing.T) {
	m := New(Config{ServiceName: "ledger-test", Environment: "test"})

	m.Debit(DebitApplied, 3)
	m.Debit(DebitApplied, 2)
	m.Debit(DebitInsufficient, 4)

	assert.Equal(t, 2.0, testutil.ToFloat64(m.debits.WithLabelValues(DebitApplied)))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.debits.WithLabelValues(DebitInsufficient)))
	assert.Equal(t, 5.0, testutil.ToFloat64(m.debitedCredits))
}

func TestProviderEventLabels(t *testing.T) {
	m := New(Config{})
	m.ProviderEvent("checkout_completed", "applied")
	m.ProviderEvent("checkout_completed", "duplicate")
	m.ProviderEvent("checkout_completed", "duplicate")

	assert.Equal(t, 2.0, testutil.ToFloat64(m.providerEvents.WithLabelValues("checkout_completed", "duplicate")))
}

func TestNilMetricsIsNoop(t *testing.T) {
	var m *Metrics
	assert.NotPanics(t, func() {
		m.Debit(DebitApplied, 1)
		m.Credit("credit", 1)
		m.Grant()
		m.NotificationFailure("inbox")
		m.ObserveHTTP(http.MethodGet, "/health", 200, time.Millisecond)
	})
}

func TestHandlerExposesCollectors(t *testing.T) {
	m := New(Config{})
	m.Grant()

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "ledger_daily_grants_total")
}
