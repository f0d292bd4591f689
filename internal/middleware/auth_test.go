package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"

	"github.com/mwork/ledger-api/internal/pkg/jwt"
	"github.com/mwork/ledger-api/internal/pkg/servicekey"
)

func TestAuthMiddlewareAllowsValidAccessToken(t *testing.T) {
	jwtSvc := jwt.NewService("secret", time.Minute)
	accountID := uuid.New()
	token, err := jwtSvc.GenerateAccessToken(accountID, "user")
	if err != nil {
		t.Fatalf("token gen failed: %v", err)
	}

	var seen uuid.UUID
	var role string
	protected := Auth(jwtSvc)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen = GetUserID(r.Context())
		role = GetRole(r.Context())
		w.WriteHeader(http.StatusOK)
	}))

	req := httptest.NewRequest(http.MethodGet, "/api/v1/ledger/balance", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	w := httptest.NewRecorder()
	protected.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
	if seen != accountID {
		t.Fatalf("expected account %s in context, got %s", accountID, seen)
	}
	if role != "user" {
		t.Fatalf("expected role user, got %q", role)
	}
}

func TestAuthMiddlewareRejectsMissingOrMalformedHeader(t *testing.T) {
	jwtSvc := jwt.NewService("secret", time.Minute)
	protected := Auth(jwtSvc)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Fatal("handler must not run")
	}))

	for _, header := range []string{"", "Token abc", "Bearer", "Bearer not-a-jwt"} {
		req := httptest.NewRequest(http.MethodGet, "/api/v1/ledger/balance", nil)
		if header != "" {
			req.Header.Set("Authorization", header)
		}
		w := httptest.NewRecorder()
		protected.ServeHTTP(w, req)
		if w.Code != http.StatusUnauthorized {
			t.Fatalf("header %q: expected 401, got %d", header, w.Code)
		}
	}
}

func TestServiceAuthChecksKey(t *testing.T) {
	hash, err := bcrypt.GenerateFromPassword([]byte("search-svc"), bcrypt.MinCost)
	if err != nil {
		t.Fatal(err)
	}
	verifier, err := servicekey.NewVerifier([]string{string(hash)})
	if err != nil {
		t.Fatal(err)
	}

	protected := ServiceAuth(verifier)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !IsService(r.Context()) {
			t.Fatal("expected service context")
		}
		w.WriteHeader(http.StatusNoContent)
	}))

	cases := map[string]int{"search-svc": http.StatusNoContent, "wrong": http.StatusUnauthorized, "": http.StatusUnauthorized}
	for key, want := range cases {
		req := httptest.NewRequest(http.MethodPost, "/internal/v1/accounts/x/debit", nil)
		req.Header.Set(ServiceKeyHeader, key)
		w := httptest.NewRecorder()
		protected.ServeHTTP(w, req)
		if w.Code != want {
			t.Fatalf("key %q: expected %d, got %d", key, want, w.Code)
		}
	}
}
