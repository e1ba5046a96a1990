package security

import (
	"errors"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// ErrRateLimited is returned when a scope has no tokens left.
var ErrRateLimited = errors.New("rate limit exceeded")

// Well-known scope prefixes. A full scope is "<prefix>:<id>", except
// ScopeGlobal which has no id.
const (
	ScopeGlobal     = "global"
	scopeCapability = "capability"
	scopeServer     = "server"
)

// CapabilityScope returns the bucket scope for a capability name.
func CapabilityScope(name string) string { return scopeCapability + ":" + name }

// ServerScope returns the bucket scope for an external server id.
func ServerScope(id string) string { return scopeServer + ":" + id }

// Limit describes a token bucket: Rate tokens are added every Period,
// up to Capacity. A Rate <= 0 disables limiting for the scope.
type Limit struct {
	Rate     int
	Period   time.Duration
	Capacity int
}

// PerMinute returns a limit of n tokens per minute with a burst of n.
func PerMinute(n int) Limit {
	return Limit{Rate: n, Period: time.Minute, Capacity: n}
}

// Unlimited reports whether the limit disables accounting.
func (l Limit) Unlimited() bool {
	return l.Rate <= 0
}

func (l Limit) every() rate.Limit {
	return rate.Limit(float64(l.Rate) / l.Period.Seconds())
}

func (l Limit) normalized() Limit {
	if l.Period <= 0 {
		l.Period = time.Minute
	}
	if l.Capacity <= 0 {
		l.Capacity = l.Rate
	}
	return l
}

// RateLimitConfig holds the static limits configured at start-up.
// Capability and server limits come from their own records at call time.
type RateLimitConfig struct {
	GlobalPerMinute int `yaml:"global_per_minute"`

	// IdleTTL is how long an untouched bucket is kept before pruning.
	IdleTTL time.Duration `yaml:"idle_ttl"`
}

func rateLimitConfigDefaults() RateLimitConfig {
	return RateLimitConfig{
		GlobalPerMinute: 0, // 0 = unlimited
		IdleTTL:         time.Hour,
	}
}

// RateLimiter is a set of independent token buckets keyed by scope.
// TryAcquire never blocks; a single mutex makes each check-and-take step
// atomic across scopes.
type RateLimiter struct {
	mu      sync.Mutex
	buckets map[string]*bucket
	global  Limit
	idleTTL time.Duration
	now     func() time.Time
}

type bucket struct {
	limit    Limit
	lim      *rate.Limiter
	lastUsed time.Time
}

// NewRateLimiter creates a limiter. Zero-value fields in cfg get defaults.
func NewRateLimiter(cfg RateLimitConfig) *RateLimiter {
	defaults := rateLimitConfigDefaults()
	if cfg.IdleTTL <= 0 {
		cfg.IdleTTL = defaults.IdleTTL
	}
	return &RateLimiter{
		buckets: make(map[string]*bucket),
		global:  PerMinute(cfg.GlobalPerMinute),
		idleTTL: cfg.IdleTTL,
		now:     time.Now,
	}
}

// GlobalLimit returns the configured global limit.
func (rl *RateLimiter) GlobalLimit() Limit {
	rl.mu.Lock()
	defer rl.mu.Unlock()
	return rl.global
}

// SetGlobalPerMinute replaces the global limit. The global bucket keeps its
// balance and is reconfigured on its next acquire.
func (rl *RateLimiter) SetGlobalPerMinute(n int) {
	rl.mu.Lock()
	defer rl.mu.Unlock()
	rl.global = PerMinute(n)
}

// ScopedLimit pairs a bucket scope with the limit applied to it.
type ScopedLimit struct {
	Scope string
	Limit Limit
}

// TryAcquire takes one token from scope, creating the bucket full on first
// use. If the stored bucket was created with a different limit, it is
// reconfigured in place and keeps its current token count (capped).
func (rl *RateLimiter) TryAcquire(scope string, limit Limit) bool {
	_, ok := rl.TryAcquireAll([]ScopedLimit{{Scope: scope, Limit: limit}})
	return ok
}

// TryAcquireAll takes one token from every scope, or from none of them.
// All buckets are refilled and checked under one lock before any is
// charged. When a scope is empty it is returned and no balance changes.
func (rl *RateLimiter) TryAcquireAll(scopes []ScopedLimit) (string, bool) {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	now := rl.now()
	charged := make([]*rate.Limiter, 0, len(scopes))
	for _, sl := range scopes {
		if sl.Limit.Unlimited() {
			continue
		}
		b := rl.bucketLocked(sl.Scope, sl.Limit.normalized(), now)
		if b.lim.TokensAt(now) < 1 {
			return sl.Scope, false
		}
		charged = append(charged, b.lim)
	}
	for _, lim := range charged {
		lim.AllowN(now, 1)
	}
	return "", true
}

// bucketLocked returns the bucket for scope, reconfiguring it when limit
// changed. rl.mu must be held.
func (rl *RateLimiter) bucketLocked(scope string, limit Limit, now time.Time) *bucket {
	b, ok := rl.buckets[scope]
	if !ok {
		b = &bucket{limit: limit, lim: rate.NewLimiter(limit.every(), limit.Capacity)}
		rl.buckets[scope] = b
	} else if b.limit != limit {
		b.lim.SetLimitAt(now, limit.every())
		b.lim.SetBurstAt(now, limit.Capacity)
		b.limit = limit
	}
	b.lastUsed = now
	return b
}

// Allow is the error-returning form of TryAcquire.
func (rl *RateLimiter) Allow(scope string, limit Limit) error {
	if !rl.TryAcquire(scope, limit) {
		return ErrRateLimited
	}
	return nil
}

// Tokens reports the tokens currently available in scope after refill.
// Unknown scopes report -1.
func (rl *RateLimiter) Tokens(scope string) float64 {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	b, ok := rl.buckets[scope]
	if !ok {
		return -1
	}
	return b.lim.TokensAt(rl.now())
}

// Prune drops buckets that have not been used for the idle TTL and returns
// how many were removed. A pruned bucket is recreated full on next use, which
// is equivalent to a bucket that refilled while idle.
func (rl *RateLimiter) Prune() int {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	cutoff := rl.now().Add(-rl.idleTTL)
	removed := 0
	for scope, b := range rl.buckets {
		if b.lastUsed.Before(cutoff) {
			delete(rl.buckets, scope)
			removed++
		}
	}
	return removed
}
