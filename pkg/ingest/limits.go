package ingest

import (
	"errors"
	"sync"
	"time"

	"github.com/coder/quartz"
	"golang.org/x/time/rate"

	"github.com/nicktill/tinytrack/pkg/config"
)

var (
	// ErrRateLimited is returned when a session sends faster than its limiter allows
	ErrRateLimited = errors.New("too many events for this session, slow down")

	// ErrStorageFull is returned when the data directory has reached its configured limit
	ErrStorageFull = errors.New("storage limit reached, no new events accepted")
)

type sessionLimiter struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// SessionLimiter hands out one token bucket per session. Buckets idle for
// longer than idleAfter are dropped so the map tracks live sessions only.
type SessionLimiter struct {
	mu        sync.Mutex
	limit     rate.Limit
	burst     int
	idleAfter time.Duration
	clock     quartz.Clock
	sessions  map[string]*sessionLimiter
	lastSweep time.Time
}

// NewSessionLimiter allows perSecond events per session with the given burst.
func NewSessionLimiter(perSecond float64, burst int, clock quartz.Clock) *SessionLimiter {
	if clock == nil {
		clock = quartz.NewReal()
	}
	if burst <= 0 {
		burst = 1
	}
	return &SessionLimiter{
		limit:     rate.Limit(perSecond),
		burst:     burst,
		idleAfter: config.LimiterIdleAfter,
		clock:     clock,
		sessions:  make(map[string]*sessionLimiter),
		lastSweep: clock.Now(),
	}
}

// Allow reports whether key may send one more event now.
func (l *SessionLimiter) Allow(key string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.clock.Now()
	l.sweepLocked(now)

	s, ok := l.sessions[key]
	if !ok {
		s = &sessionLimiter{limiter: rate.NewLimiter(l.limit, l.burst)}
		l.sessions[key] = s
	}
	s.lastSeen = now
	return s.limiter.AllowN(now, 1)
}

// Len returns the number of sessions currently tracked.
func (l *SessionLimiter) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.sessions)
}

// MUST be called with lock held
func (l *SessionLimiter) sweepLocked(now time.Time) {
	if now.Sub(l.lastSweep) < l.idleAfter {
		return
	}
	l.lastSweep = now
	cutoff := now.Add(-l.idleAfter)
	for key, s := range l.sessions {
		if s.lastSeen.Before(cutoff) {
			delete(l.sessions, key)
		}
	}
}
