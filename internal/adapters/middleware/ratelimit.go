package middleware

import (
	"context"
	"math"
	"net/http"
	"sync"
	"time"

	"gitlab.com/timkado/api/storefront-edge/internal/domain"
	"gitlab.com/timkado/api/storefront-edge/pkg/safego"
)

const userAgentKeyLength = 50

type rateWindow struct {
	count   int
	resetAt time.Time
}

// RateDecision is the outcome of one rate limit check.
type RateDecision struct {
	Allowed    bool
	Limit      int
	Remaining  int
	ResetAt    time.Time
	RetryAfter time.Duration
}

// RateLimiter is a fixed-window counter per client key.
type RateLimiter struct {
	mu      sync.Mutex
	windows map[string]*rateWindow
	now     func() time.Time
}

func NewRateLimiter() *RateLimiter {
	return &RateLimiter{windows: make(map[string]*rateWindow), now: time.Now}
}

// RateKey identifies a client by IP and the first 50 bytes of its user agent.
func RateKey(ip string, r *http.Request) string {
	ua := r.UserAgent()
	if len(ua) > userAgentKeyLength {
		ua = ua[:userAgentKeyLength]
	}
	return ip + "|" + ua
}

// Allow counts one request for key. The first request of a window opens it
// with a count of one; once count reaches limit the request is refused until
// the window ends.
func (l *RateLimiter) Allow(key string, limit int, window time.Duration) RateDecision {
	now := l.now()
	l.mu.Lock()
	defer l.mu.Unlock()

	w, ok := l.windows[key]
	if !ok || !now.Before(w.resetAt) {
		w = &rateWindow{count: 1, resetAt: now.Add(window)}
		l.windows[key] = w
		return RateDecision{Allowed: true, Limit: limit, Remaining: limit - 1, ResetAt: w.resetAt}
	}
	if w.count >= limit {
		return RateDecision{Limit: limit, ResetAt: w.resetAt, RetryAfter: w.resetAt.Sub(now)}
	}
	w.count++
	return RateDecision{Allowed: true, Limit: limit, Remaining: limit - w.count, ResetAt: w.resetAt}
}

// Sweep drops windows that have ended and returns how many were removed.
func (l *RateLimiter) Sweep() int {
	now := l.now()
	l.mu.Lock()
	defer l.mu.Unlock()
	removed := 0
	for k, w := range l.windows {
		if !now.Before(w.resetAt) {
			delete(l.windows, k)
			removed++
		}
	}
	return removed
}

func (l *RateLimiter) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.windows)
}

// StartJanitor sweeps ended windows every interval until ctx is done.
func (l *RateLimiter) StartJanitor(ctx context.Context, logger domain.Logger, interval time.Duration) {
	safego.Every(ctx, logger, "RateLimitJanitor", interval, func() {
		if n := l.Sweep(); n > 0 {
			logger.Debug(ctx, "Rate limit windows swept", "removed", n)
		}
	})
}

// retryAfterSeconds rounds d up to whole seconds, at least one.
func retryAfterSeconds(d time.Duration) int {
	s := int(math.Ceil(d.Seconds()))
	if s < 1 {
		return 1
	}
	return s
}
