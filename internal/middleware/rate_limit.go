package middleware

import (
	"fmt"
	"net"
	"net/http"
	"strconv"
	"time"

	"review-service/internal/tenant"
	"review-service/pkg/response"
	"review-service/pkg/xerrors"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

const rateLimitWindow = time.Minute

// windowCounter increments the counter and gives it an expiry whenever it has
// none, atomically, so a counter can never outlive its window.
// It returns {count, remaining ttl in ms}.
var windowCounter = redis.NewScript(`
local count = redis.call('INCR', KEYS[1])
if redis.call('PTTL', KEYS[1]) < 0 then
	redis.call('PEXPIRE', KEYS[1], ARGV[1])
end
return {count, redis.call('PTTL', KEYS[1])}
`)

// RateLimitKey is the redis counter for one (tenant, client IP) pair.
func RateLimitKey(tenantKey, ip string) string {
	return fmt.Sprintf("review:ratelimit:%q:%s", tenantKey, ip)
}

// SubmitRateLimit caps submissions per tenant and client IP over a one minute window.
// A nil client or a non-positive limit disables it; redis errors let the request through.
func SubmitRateLimit(rdb redis.UniversalClient, limit int64, logger *zap.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		if rdb == nil || limit <= 0 {
			return next
		}
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx := r.Context()
			tenantKey := tenant.FromContext(ctx)
			ip := clientIP(r)
			key := RateLimitKey(tenantKey, ip)

			res, err := windowCounter.Run(ctx, rdb, []string{key}, rateLimitWindow.Milliseconds()).Int64Slice()
			if err != nil || len(res) != 2 {
				logger.Error("redis error during rate limiting", zap.Error(err))
				next.ServeHTTP(w, r)
				return
			}
			count, ttl := res[0], time.Duration(res[1])*time.Millisecond

			if count > limit {
				if ttl <= 0 {
					ttl = rateLimitWindow
				}

				logger.Warn("submission rate limit exceeded",
					zap.String("tenant", tenantKey),
					zap.String("ip", ip),
					zap.Int64("limit", limit),
					zap.Int64("count", count))

				w.Header().Set("X-RateLimit-Limit", strconv.FormatInt(limit, 10))
				w.Header().Set("X-RateLimit-Remaining", "0")
				w.Header().Set("Retry-After", strconv.Itoa(int((ttl+time.Second-1)/time.Second)))
				response.Error(w, r, http.StatusTooManyRequests, xerrors.Code(xerrors.ErrRateLimited), "rate limit exceeded")
				return
			}

			w.Header().Set("X-RateLimit-Limit", strconv.FormatInt(limit, 10))
			w.Header().Set("X-RateLimit-Remaining", strconv.FormatInt(limit-count, 10))

			next.ServeHTTP(w, r)
		})
	}
}

// clientIP strips the port from RemoteAddr, which chi's RealIP has already rewritten.
func clientIP(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
