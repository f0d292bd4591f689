package ledger

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"

	"github.com/mwork/ledger-api/internal/middleware"
	"github.com/mwork/ledger-api/internal/pkg/jwt"
	"github.com/mwork/ledger-api/internal/pkg/servicekey"
)

const testServiceKey = "lsk_test_key"

type envelope struct {
	Success bool            `json:"success"`
	Data    json.RawMessage `json:"data"`
	Error   *struct {
		Code    string `json:"code"`
		Message string `json:"message"`
	} `json:"error"`
}

func newTestRouter(t *testing.T) (http.Handler, *memStore, *jwt.Service) {
	t.Helper()
	svc, store, _ := newTestService(t)

	hash, err := bcrypt.GenerateFromPassword([]byte(testServiceKey), bcrypt.MinCost)
	require.NoError(t, err)
	verifier, err := servicekey.NewVerifier([]string{string(hash)})
	require.NoError(t, err)
	jwtSvc := jwt.NewService("test-secret", time.Hour)

	h := NewHandler(svc)
	r := chi.NewRouter()
	r.With(middleware.ServiceAuth(verifier)).Mount("/internal/v1/accounts", h.InternalRoutes())
	r.Mount("/api/v1/ledger", h.Routes(middleware.Auth(jwtSvc)))
	return r, store, jwtSvc
}

func doRequest(t *testing.T, h http.Handler, method, path, body string, header http.Header) (*httptest.ResponseRecorder, envelope) {
	t.Helper()
	var req *http.Request
	if body != "" {
		req = httptest.NewRequest(method, path, strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
	} else {
		req = httptest.NewRequest(method, path, nil)
	}
	for k, v := range header {
		req.Header[k] = v
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	var env envelope
	if rec.Body.Len() > 0 {
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &env))
	}
	return rec, env
}

func serviceHeader() http.Header {
	return http.Header{middleware.ServiceKeyHeader: []string{testServiceKey}}
}

func TestInternalRoutesRequireServiceKey(t *testing.T) {
	router, _, _ := newTestRouter(t)
	path := "/internal/v1/accounts/" + uuid.NewString() + "/balance"

	rec, _ := doRequest(t, router, http.MethodGet, path, "", nil)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	rec, _ = doRequest(t, router, http.MethodGet, path, "", http.Header{middleware.ServiceKeyHeader: []string{"lsk_wrong"}})
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	rec, env := doRequest(t, router, http.MethodGet, path, "", serviceHeader())
	require.Equal(t, http.StatusOK, rec.Code)
	var b BalanceResponse
	require.NoError(t, json.Unmarshal(env.Data, &b))
	assert.Equal(t, int64(10), b.CreditsRemaining)
}

func TestDebitEndpoint(t *testing.T) {
	router, store, _ := newTestRouter(t)
	accountID := uuid.New()
	store.setBalance(accountID, 3, false)
	path := "/internal/v1/accounts/" + accountID.String() + "/debit"

	rec, env := doRequest(t, router, http.MethodPost, path, `{"amount":2,"description":"search"}`, serviceHeader())
	require.Equal(t, http.StatusOK, rec.Code)
	var res DebitResponse
	require.NoError(t, json.Unmarshal(env.Data, &res))
	assert.True(t, res.Applied)
	assert.Equal(t, int64(1), res.BalanceAfter)
	assert.NotNil(t, res.EntryID)

	rec, env = doRequest(t, router, http.MethodPost, path, `{"amount":5}`, serviceHeader())
	require.Equal(t, http.StatusOK, rec.Code)
	res = DebitResponse{}
	require.NoError(t, json.Unmarshal(env.Data, &res))
	assert.False(t, res.Applied)
	assert.Equal(t, int64(1), res.BalanceAfter)
	assert.Nil(t, res.EntryID)
}

func TestDebitEndpointRejectsBadInput(t *testing.T) {
	router, _, _ := newTestRouter(t)
	path := "/internal/v1/accounts/" + uuid.NewString() + "/debit"

	tests := []struct {
		name   string
		body   string
		status int
	}{
		{"zero amount", `{"amount":0}`, http.StatusUnprocessableEntity},
		{"negative amount", `{"amount":-3}`, http.StatusUnprocessableEntity},
		{"unknown field", `{"amount":1,"account":"x"}`, http.StatusBadRequest},
		{"not json", `amount=1`, http.StatusBadRequest},
		{"too large", `{"amount":1,"description":"` + strings.Repeat("a", maxRequestBody) + `"}`, http.StatusRequestEntityTooLarge},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec, env := doRequest(t, router, http.MethodPost, path, tt.body, serviceHeader())
			assert.Equal(t, tt.status, rec.Code)
			assert.False(t, env.Success)
		})
	}

	rec, _ := doRequest(t, router, http.MethodPost, "/internal/v1/accounts/not-a-uuid/debit", `{"amount":1}`, serviceHeader())
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestCreditEndpointIsIdempotent(t *testing.T) {
	router, store, _ := newTestRouter(t)
	accountID := uuid.New()
	store.setBalance(accountID, 0, false)
	path := "/internal/v1/accounts/" + accountID.String() + "/credit"
	body := `{"amount":4,"kind":"refund","description":"failed search","source_event_id":"search:abc-1"}`

	rec, env := doRequest(t, router, http.MethodPost, path, body, serviceHeader())
	require.Equal(t, http.StatusCreated, rec.Code)
	var first CreditResponse
	require.NoError(t, json.Unmarshal(env.Data, &first))
	require.NotNil(t, first.BalanceAfter)
	assert.Equal(t, int64(4), *first.BalanceAfter)
	assert.False(t, first.Duplicate)

	rec, env = doRequest(t, router, http.MethodPost, path, body, serviceHeader())
	require.Equal(t, http.StatusOK, rec.Code)
	var second CreditResponse
	require.NoError(t, json.Unmarshal(env.Data, &second))
	assert.True(t, second.Duplicate)

	b, err := store.GetBalance(t.Context(), accountID)
	require.NoError(t, err)
	assert.Equal(t, int64(4), b.CreditsRemaining)
}

func TestEntitlementEndpoint(t *testing.T) {
	router, store, _ := newTestRouter(t)
	accountID := uuid.New()
	store.setBalance(accountID, 2, false)
	base := "/internal/v1/accounts/" + accountID.String() + "/entitlement"

	rec, env := doRequest(t, router, http.MethodGet, base+"?amount=5", "", serviceHeader())
	require.Equal(t, http.StatusOK, rec.Code)
	var res EntitlementResponse
	require.NoError(t, json.Unmarshal(env.Data, &res))
	assert.False(t, res.Allowed)
	assert.Equal(t, int64(5), res.Amount)

	rec, env = doRequest(t, router, http.MethodGet, base, "", serviceHeader())
	require.Equal(t, http.StatusOK, rec.Code)
	res = EntitlementResponse{}
	require.NoError(t, json.Unmarshal(env.Data, &res))
	assert.True(t, res.Allowed)
	assert.Equal(t, int64(1), res.Amount)

	rec, _ = doRequest(t, router, http.MethodGet, base+"?amount=zero", "", serviceHeader())
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestUserRoutesUseTokenAccount(t *testing.T) {
	router, store, jwtSvc := newTestRouter(t)
	accountID := uuid.New()
	store.setBalance(accountID, 6, true)

	rec, _ := doRequest(t, router, http.MethodGet, "/api/v1/ledger/balance", "", nil)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	token, err := jwtSvc.GenerateAccessToken(accountID, "user")
	require.NoError(t, err)
	auth := http.Header{"Authorization": []string{"Bearer " + token}}

	rec, env := doRequest(t, router, http.MethodGet, "/api/v1/ledger/balance", "", auth)
	require.Equal(t, http.StatusOK, rec.Code)
	var b BalanceResponse
	require.NoError(t, json.Unmarshal(env.Data, &b))
	assert.Equal(t, accountID, b.AccountID)
	assert.True(t, b.IsPremium)

	rec, env = doRequest(t, router, http.MethodGet, "/api/v1/ledger/entries?limit=5", "", auth)
	require.Equal(t, http.StatusOK, rec.Code)
	var entries []EntryResponse
	require.NoError(t, json.Unmarshal(env.Data, &entries))
	assert.Empty(t, entries)

	rec, _ = doRequest(t, router, http.MethodGet, "/api/v1/ledger/entries?limit=-1", "", auth)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestReconcileEndpoint(t *testing.T) {
	router, store, _ := newTestRouter(t)
	accountID := uuid.New()
	path := "/internal/v1/accounts/" + accountID.String()

	rec, _ := doRequest(t, router, http.MethodGet, path+"/balance", "", serviceHeader())
	require.Equal(t, http.StatusOK, rec.Code)
	store.corrupt(accountID, 1)

	rec, env := doRequest(t, router, http.MethodGet, path+"/reconcile", "", serviceHeader())
	require.Equal(t, http.StatusOK, rec.Code)
	var rep ReconcileReport
	require.NoError(t, json.Unmarshal(env.Data, &rep))
	assert.False(t, rep.Consistent)
	assert.Equal(t, int64(11), rep.CreditsRemaining)
	assert.Equal(t, int64(10), rep.Replayed)
}
