package api

import (
	"context"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/dunamismax/kronos/internal/ratelimit"
)

type RateLimiter interface {
	Allow(ctx context.Context, subject string) (ratelimit.Decision, error)
}

func (s *Server) withRateLimit(next http.Handler) http.Handler {
	if s.rateLimiter == nil {
		return next
	}

	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !shouldRateLimit(r) {
			next.ServeHTTP(w, r)
			return
		}

		subject := s.rateLimitSubject(r)
		decision, err := s.rateLimiter.Allow(r.Context(), subject)
		if err != nil {
			// Fail open when the limiter is unreachable.
			s.logger.Warn().Err(err).Str("subject", subject).Msg("rate limiter check failed")
			next.ServeHTTP(w, r)
			return
		}

		w.Header().Set("X-RateLimit-Remaining", strconv.FormatInt(decision.Remaining, 10))
		if !decision.Allowed {
			s.metrics.rejected.WithLabelValues(routeLabel(r.URL.Path)).Inc()
			writeRateLimited(w, decision.RetryAfter)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// rateLimitSubject buckets requests per user and per route.
func (s *Server) rateLimitSubject(r *http.Request) string {
	user := strings.TrimSpace(r.Header.Get(s.rateLimitUserIDHeader))
	if user == "" {
		user = "anonymous"
	}
	return user + ":" + routeLabel(r.URL.Path)
}

func writeRateLimited(w http.ResponseWriter, retryAfter time.Duration) {
	seconds := max(int(retryAfter.Round(time.Second).Seconds()), 1)
	w.Header().Set("Retry-After", strconv.Itoa(seconds))
	writeError(w, http.StatusTooManyRequests, "rate limit exceeded")
}

// shouldRateLimit selects the mutating job routes.
func shouldRateLimit(r *http.Request) bool {
	switch r.Method {
	case http.MethodGet, http.MethodHead, http.MethodOptions:
		return false
	}
	return strings.HasPrefix(r.URL.Path, "/v1/jobs")
}
