package api

import (
	"crypto/subtle"
	"fmt"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/fitmirror/tryon-app/internal/metrics"
	"github.com/fitmirror/tryon-app/internal/ratelimit"
)

// IdentifierFunc derives the rate-limit identifier from a request.
type IdentifierFunc func(r *http.Request) string

// ByClientIP identifies requests by client address. The first entry of
// X-Forwarded-For wins when the service sits behind a load balancer.
func ByClientIP(r *http.Request) string {
	if fwd := r.Header.Get("X-Forwarded-For"); fwd != "" {
		if idx := strings.IndexByte(fwd, ','); idx >= 0 {
			return strings.TrimSpace(fwd[:idx])
		}
		return strings.TrimSpace(fwd)
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

// BySessionID identifies requests by the {id} path parameter, falling
// back to client IP when absent.
func BySessionID(r *http.Request) string {
	if id := chi.URLParam(r, "id"); id != "" {
		return id
	}
	return ByClientIP(r)
}

// RateLimit enforces a tier on the wrapped routes. Every response,
// allowed or not, carries the X-RateLimit headers; rejections get a 429
// with the reset time.
func RateLimit(limiter *ratelimit.Limiter, tier ratelimit.Tier, identify IdentifierFunc) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			result := limiter.Check(r.Context(), identify(r), tier)

			w.Header().Set("X-RateLimit-Limit", fmt.Sprintf("%d", result.Limit))
			w.Header().Set("X-RateLimit-Remaining", fmt.Sprintf("%d", result.Remaining))
			w.Header().Set("X-RateLimit-Reset", fmt.Sprintf("%d", result.ResetAt.Unix()))

			if !result.Allowed {
				metrics.RateLimitChecks.WithLabelValues(tier.Name, "rejected").Inc()
				w.Header().Set("Retry-After", fmt.Sprintf("%d", retryAfterSeconds(result)))
				writeError(w, r, http.StatusTooManyRequests, CodeRateLimited,
					"rate limit exceeded", map[string]any{
						"limit":   result.Limit,
						"resetAt": result.ResetAt,
					})
				return
			}

			metrics.RateLimitChecks.WithLabelValues(tier.Name, "allowed").Inc()
			next.ServeHTTP(w, r)
		})
	}
}

func retryAfterSeconds(result ratelimit.Result) int64 {
	secs := int64(time.Until(result.ResetAt).Seconds())
	if secs < 1 {
		secs = 1
	}
	return secs
}

// BearerAuth guards the cron endpoints with a static token. An empty
// configured secret disables the endpoints entirely.
func BearerAuth(secret string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if secret == "" {
				writeError(w, r, http.StatusUnauthorized, CodeUnauthorized,
					"cron endpoints are not configured", nil)
				return
			}

			token, ok := strings.CutPrefix(r.Header.Get("Authorization"), "Bearer ")
			if !ok || subtle.ConstantTimeCompare([]byte(token), []byte(secret)) != 1 {
				writeError(w, r, http.StatusUnauthorized, CodeUnauthorized,
					"invalid or missing bearer token", nil)
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}
