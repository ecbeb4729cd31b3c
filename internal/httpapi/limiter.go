package httpapi

import (
	"errors"
	"net/http"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// accountLimiter keeps one token bucket per account so a busy shop cannot
// starve the others.
type accountLimiter struct {
	mu        sync.Mutex
	limit     rate.Limit
	burst     int
	entryTTL  time.Duration
	lastSweep time.Time
	entries   map[string]*limiterEntry
}

type limiterEntry struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

const (
	defaultRateLimitRPS   = 20
	defaultRateLimitBurst = 40
)

func newAccountLimiter(rps float64, burst int) *accountLimiter {
	if rps <= 0 {
		rps = defaultRateLimitRPS
	}
	if burst < 1 {
		burst = defaultRateLimitBurst
	}
	return &accountLimiter{
		limit:     rate.Limit(rps),
		burst:     burst,
		entryTTL:  10 * time.Minute,
		lastSweep: time.Now(),
		entries:   make(map[string]*limiterEntry),
	}
}

func (l *accountLimiter) Allow(accountID string) bool {
	now := time.Now()

	l.mu.Lock()
	defer l.mu.Unlock()

	if now.Sub(l.lastSweep) > l.entryTTL {
		cutoff := now.Add(-l.entryTTL)
		for id, entry := range l.entries {
			if entry.lastSeen.Before(cutoff) {
				delete(l.entries, id)
			}
		}
		l.lastSweep = now
	}

	entry, ok := l.entries[accountID]
	if !ok {
		entry = &limiterEntry{limiter: rate.NewLimiter(l.limit, l.burst)}
		l.entries[accountID] = entry
	}
	entry.lastSeen = now
	return entry.limiter.AllowN(now, 1)
}

func (a *API) rateLimit(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		principal, _ := principalFrom(r.Context())
		if !a.limiter.Allow(principal.AccountID) {
			w.Header().Set("Retry-After", "1")
			a.writeError(w, r, http.StatusTooManyRequests, errors.New("rate limit exceeded"))
			return
		}
		next.ServeHTTP(w, r)
	})
}
