package middleware

import (
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/mwork/ledger-api/internal/pkg/logger"
	"github.com/mwork/ledger-api/internal/pkg/response"
)

// RateLimit caps requests per authenticated account (or client address) in
// fixed windows counted in Redis. Without Redis, or when Redis fails, the
// request is let through.
func RateLimit(rdb *redis.Client, limit int, window time.Duration) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		if rdb == nil || limit <= 0 || window < time.Second {
			return next
		}
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			subject := r.RemoteAddr
			if id := GetUserID(r.Context()); id != uuid.Nil {
				subject = id.String()
			}
			bucket := time.Now().Unix() / int64(window.Seconds())
			key := fmt.Sprintf("ratelimit:ledger:%s:%d", subject, bucket)

			pipe := rdb.TxPipeline()
			incr := pipe.Incr(r.Context(), key)
			pipe.Expire(r.Context(), key, window)
			if _, err := pipe.Exec(r.Context()); err != nil {
				logger.FromContext(r.Context()).Warn().Err(err).Msg("Rate limit check failed")
				next.ServeHTTP(w, r)
				return
			}

			if incr.Val() > int64(limit) {
				w.Header().Set("Retry-After", strconv.Itoa(int(window.Seconds())))
				response.TooManyRequests(w)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
