package router

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"

	"swiftpay/internal/cache"
	"swiftpay/internal/metrics"

	"go.uber.org/zap"
)

type Limiter interface {
	Allow(ctx context.Context, key string, limit int, window time.Duration) (*cache.RateLimitResult, error)
}

// RateLimiter caps requests per API key, or per client IP for keyless
// callers, within a fixed window. It fails open when the limiter errors.
func RateLimiter(limiter Limiter, limit int, window time.Duration, scope string, logger *zap.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			key := cache.RateLimitKey(scope, clientID(r))

			res, err := limiter.Allow(r.Context(), key, limit, window)
			if err != nil {
				if !errors.Is(err, cache.ErrDisabled) {
					logger.Warn("rate limiter unavailable, allowing request", zap.String("scope", scope), zap.Error(err))
				}
				next.ServeHTTP(w, r)
				return
			}

			w.Header().Set("X-RateLimit-Limit", strconv.Itoa(limit))
			w.Header().Set("X-RateLimit-Remaining", strconv.FormatInt(res.Remaining, 10))
			w.Header().Set("X-RateLimit-Reset", strconv.Itoa(int(res.ResetIn.Seconds())))

			if !res.Allowed {
				metrics.RateLimitExceeded.WithLabelValues(scope).Inc()
				w.Header().Set("Retry-After", strconv.Itoa(int(res.ResetIn.Seconds())))
				w.Header().Set("Content-Type", "application/json")
				w.WriteHeader(http.StatusTooManyRequests)
				_, _ = w.Write([]byte(`{"success":false,"message":"Too many requests. Try again in ` + res.ResetIn.String() + `"}`))
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}

// clientID prefers the API key (hashed, never stored raw) and falls back to the remote IP.
func clientID(r *http.Request) string {
	key := r.Header.Get("X-API-Key")
	if key == "" {
		if auth := r.Header.Get("Authorization"); strings.HasPrefix(auth, "Bearer ") {
			key = strings.TrimPrefix(auth, "Bearer ")
		}
	}
	if key != "" {
		sum := sha256.Sum256([]byte(key))
		return "key:" + hex.EncodeToString(sum[:8])
	}

	ip := r.RemoteAddr
	if host, _, err := net.SplitHostPort(ip); err == nil {
		ip = host
	}
	return "ip:" + ip
}
