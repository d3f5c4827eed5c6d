package auth

import (
	"context"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// RateLimiter decides whether an authenticated caller may proceed.
type RateLimiter interface {
	Allow(ctx context.Context, identity *Identity) error
}

// TierConfig holds the limit of one service tier.
type TierConfig struct {
	RequestsPerMinute int
}

const defaultTier = "default"

// InProcessLimiter keeps a token bucket per subject and tier. Each bucket
// holds a minute's worth of requests and refills continuously. Buckets idle
// for a minute are full again and get dropped.
type InProcessLimiter struct {
	tiers      map[string]TierConfig
	defaultRPM int
	now        func() time.Time

	mu       sync.Mutex
	buckets  map[string]*bucket
	prunedAt time.Time
}

type bucket struct {
	lim  *rate.Limiter
	seen time.Time
}

// NewInProcessLimiter creates a limiter. Tiers missing from tiers use
// defaultRPM; a limit of zero or less means unlimited.
func NewInProcessLimiter(tiers map[string]TierConfig, defaultRPM int) *InProcessLimiter {
	return &InProcessLimiter{
		tiers:      tiers,
		defaultRPM: defaultRPM,
		now:        time.Now,
		buckets:    make(map[string]*bucket),
	}
}

func (l *InProcessLimiter) limitFor(tier string) int {
	if tc, ok := l.tiers[tier]; ok {
		return tc.RequestsPerMinute
	}
	return l.defaultRPM
}

// Allow takes one token from the caller's bucket or returns
// ErrTooManyRequests.
func (l *InProcessLimiter) Allow(_ context.Context, identity *Identity) error {
	tier := identity.ServiceTier
	if tier == "" {
		tier = defaultTier
	}
	rpm := l.limitFor(tier)
	if rpm <= 0 {
		return nil
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	l.pruneLocked(now)

	key := identity.Subject + "\x00" + tier
	b, ok := l.buckets[key]
	if !ok {
		b = &bucket{lim: rate.NewLimiter(rate.Every(time.Minute/time.Duration(rpm)), rpm)}
		l.buckets[key] = b
	}
	b.seen = now
	if !b.lim.AllowN(now, 1) {
		return ErrTooManyRequests
	}
	return nil
}

func (l *InProcessLimiter) pruneLocked(now time.Time) {
	if now.Sub(l.prunedAt) < time.Minute {
		return
	}
	for key, b := range l.buckets {
		if now.Sub(b.seen) >= time.Minute {
			delete(l.buckets, key)
		}
	}
	l.prunedAt = now
}

// Len returns the number of live buckets.
func (l *InProcessLimiter) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.buckets)
}
