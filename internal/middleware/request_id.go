package middleware

import (
	"context"
	"net/http"

	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/google/uuid"

	"github.com/mwork/ledger-api/internal/pkg/logger"
)

const RequestIDHeader = "X-Request-ID"

// RequestID propagates or assigns X-Request-ID, stores it where chi's
// GetReqID finds it and scopes the request logger with it.
func RequestID(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requestID := r.Header.Get(RequestIDHeader)
		if requestID == "" || len(requestID) > 128 {
			requestID = uuid.NewString()
		}
		w.Header().Set(RequestIDHeader, requestID)

		ctx := context.WithValue(r.Context(), chimw.RequestIDKey, requestID)
		ctx = logger.With(ctx, "request_id", requestID)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}
