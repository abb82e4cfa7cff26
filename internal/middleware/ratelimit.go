package middleware

import (
	"net/http"

	"vidgen/internal/ratelimit"
)

// RateLimit rejects requests once the caller's token bucket is drained.
// Buckets are keyed by user id when the identity middleware resolved one,
// falling back to the client IP for anonymous traffic.
func RateLimit(limiter *ratelimit.Limiter) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			key := UserIDFromContext(r.Context())
			if key == "" {
				key = ClientIP(r)
			}
			if !limiter.TryConsume(key, 1) {
				w.Header().Set("Retry-After", "60")
				w.WriteHeader(http.StatusTooManyRequests)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
