package middleware

import (
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/mindsignal/pairing/internal/audit"
	apperrors "github.com/mindsignal/pairing/internal/errors"
	"github.com/mindsignal/pairing/internal/metrics"
	"github.com/mindsignal/pairing/internal/service"
)

type IPRateLimitMiddleware struct {
	limiter *service.RateLimiter
	metrics *metrics.Metrics
	limit   int
	window  time.Duration
	scope   string
}

// NewIPRateLimitMiddleware limits each client address to limit requests per window.
// scope keeps separate endpoints in separate windows.
func NewIPRateLimitMiddleware(limiter *service.RateLimiter, m *metrics.Metrics, limit int, window time.Duration, scope string) *IPRateLimitMiddleware {
	return &IPRateLimitMiddleware{
		limiter: limiter,
		metrics: m,
		limit:   limit,
		window:  window,
		scope:   scope,
	}
}

func (m *IPRateLimitMiddleware) Handler(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ip := audit.ClientIP(r)

		key := fmt.Sprintf("ip:%s:%s", m.scope, ip)
		decision := m.limiter.CheckLimit(r.Context(), key, m.limit, m.window)

		w.Header().Set("X-RateLimit-Limit", strconv.Itoa(m.limit))
		w.Header().Set("X-RateLimit-Remaining", strconv.Itoa(decision.Remaining))
		w.Header().Set("X-RateLimit-Reset", strconv.FormatInt(decision.ResetAt.Unix(), 10))

		if !decision.Allowed {
			m.metrics.RecordRateLimitHit(m.scope)
			audit.LogFromRequest(r, audit.Event{
				Type:    audit.EventRateLimitExceed,
				Details: map[string]any{"scope": m.scope},
			})

			secondsLeft := int(time.Until(decision.ResetAt).Seconds()) + 1
			w.Header().Set("Retry-After", strconv.Itoa(secondsLeft))
			writeFail(w, http.StatusTooManyRequests, apperrors.ErrCodeRateLimitExceeded, "Too many requests. Please try again later.")
			return
		}

		next.ServeHTTP(w, r)
	})
}
