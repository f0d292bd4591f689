package middleware

import (
	"net/http"
	"runtime/debug"

	"github.com/mwork/ledger-api/internal/pkg/logger"
	"github.com/mwork/ledger-api/internal/pkg/response"
)

// Recover turns a handler panic into a 500 and logs the stack.
func Recover(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			if rec := recover(); rec != nil {
				if rec == http.ErrAbortHandler {
					panic(rec)
				}
				logger.FromContext(r.Context()).Error().
					Interface("panic", rec).
					Bytes("stack", debug.Stack()).
					Str("method", r.Method).
					Str("path", r.URL.Path).
					Msg("Panic recovered")
				response.InternalError(w)
			}
		}()

		next.ServeHTTP(w, r)
	})
}
