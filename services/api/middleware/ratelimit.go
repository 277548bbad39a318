package middleware

import (
	"encoding/json"
	"log/slog"
	"net/http"

	redisstore "github.com/sol-namoo/monthlyGrow-sub000/internal/redis"
	"github.com/sol-namoo/monthlyGrow-sub000/pkg/telemetry"
)

// OwnerHeader carries the acting owner's id on every request.
const OwnerHeader = "X-Owner-ID"

// OwnerID extracts the acting owner from the request, preferring the
// header over the owner_id query parameter.
func OwnerID(r *http.Request) string {
	if id := r.Header.Get(OwnerHeader); id != "" {
		return id
	}
	return r.URL.Query().Get("owner_id")
}

// RateLimit throttles mutating requests per owner with a sliding window.
// Reads pass through untouched; an anonymous mutation (no owner id) is
// not throttled here, it fails validation in the handler instead. When
// the limiter itself errors the request is let through: availability over
// strict throttling.
func RateLimit(limiter redisstore.RateLimiter, logger *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if r.Method == http.MethodGet || r.Method == http.MethodHead {
				next.ServeHTTP(w, r)
				return
			}
			ownerID := OwnerID(r)
			if ownerID == "" {
				next.ServeHTTP(w, r)
				return
			}

			allowed, err := limiter.Allow(r.Context(), ownerID)
			if err != nil {
				logger.Error("rate limiter unavailable, allowing request",
					slog.String("owner_id", ownerID),
					slog.String("error", err.Error()),
				)
				next.ServeHTTP(w, r)
				return
			}
			if !allowed {
				telemetry.APIRateLimitedTotal.Inc()
				w.Header().Set("Content-Type", "application/json")
				w.WriteHeader(http.StatusTooManyRequests)
				_ = json.NewEncoder(w).Encode(map[string]string{"error": "rate limit exceeded"})
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
