package middleware

import (
	"context"
	"fmt"
	"sync"
	"time"
)

// ══════════════════════════════════════════════════════════════════════════════
// RATE LIMITER MIDDLEWARE
// Per-actor token bucket. Repeat offenders get a temporary ban.
// ══════════════════════════════════════════════════════════════════════════════

// RateLimitConfig holds configuration for the rate limiter.
type RateLimitConfig struct {
	// RequestsPerMinute is the refill rate of every bucket.
	RequestsPerMinute int

	// BurstSize is the bucket capacity.
	BurstSize int

	// CleanupInterval is how often idle buckets and expired bans are dropped.
	CleanupInterval time.Duration

	// BanDuration is how long a temporary ban lasts.
	BanDuration time.Duration

	// BanThreshold is the number of violations within five minutes that
	// triggers a ban. Zero disables bans.
	BanThreshold int

	// WhitelistedUsers are exempt from rate limiting.
	WhitelistedUsers []string

	// OnRateLimited builds the message sent to a limited user.
	OnRateLimited func(actorID string, retryAfter time.Duration) string

	// Now is the time source. Defaults to time.Now.
	Now func() time.Time
}

// DefaultRateLimitConfig returns sensible defaults for rate limiting.
func DefaultRateLimitConfig() RateLimitConfig {
	return RateLimitConfig{
		RequestsPerMinute: 20,
		BurstSize:         5,
		CleanupInterval:   5 * time.Minute,
		BanDuration:       10 * time.Minute,
		BanThreshold:      3,
		OnRateLimited:     defaultRateLimitedMessage,
	}
}

func defaultRateLimitedMessage(_ string, retryAfter time.Duration) string {
	seconds := int(retryAfter.Seconds())
	if seconds < 1 {
		seconds = 1
	}
	if seconds < 60 {
		return fmt.Sprintf("⏳ Demasiadas solicitudes. Espera %d segundos e inténtalo de nuevo.", seconds)
	}
	return fmt.Sprintf("⏳ Demasiadas solicitudes. Espera %d minutos e inténtalo de nuevo.", seconds/60)
}

// RateLimiter implements per-actor rate limiting using token buckets.
type RateLimiter struct {
	config    RateLimitConfig
	whitelist map[string]bool
	buckets   sync.Map // map[string]*tokenBucket
	bans      sync.Map // map[string]*banEntry

	stopCh   chan struct{}
	stopOnce sync.Once
}

type tokenBucket struct {
	mu           sync.Mutex
	tokens       float64
	lastRefill   time.Time
	refillRate   float64 // tokens per second
	maxTokens    float64
	violations   int
	lastViolated time.Time
}

type banEntry struct {
	expiresAt time.Time
}

// NewRateLimiter creates a rate limiter and starts its cleanup loop.
// Call Stop to end the loop.
func NewRateLimiter(config RateLimitConfig) *RateLimiter {
	if config.RequestsPerMinute <= 0 {
		config.RequestsPerMinute = 20
	}
	if config.BurstSize <= 0 {
		config.BurstSize = 5
	}
	if config.CleanupInterval <= 0 {
		config.CleanupInterval = 5 * time.Minute
	}
	if config.OnRateLimited == nil {
		config.OnRateLimited = defaultRateLimitedMessage
	}
	if config.Now == nil {
		config.Now = time.Now
	}

	rl := &RateLimiter{
		config:    config,
		whitelist: make(map[string]bool, len(config.WhitelistedUsers)),
		stopCh:    make(chan struct{}),
	}
	for _, id := range config.WhitelistedUsers {
		rl.whitelist[id] = true
	}

	go rl.cleanupLoop()
	return rl
}

// RateLimitResult represents the result of a rate limit check.
type RateLimitResult struct {
	Allowed bool

	// RetryAfter is how long the actor should wait.
	RetryAfter time.Duration

	IsBanned bool

	// ResponseMessage is the message to send when not allowed.
	ResponseMessage string

	RemainingTokens int
}

// Check consumes a token for actorID.
func (rl *RateLimiter) Check(_ context.Context, actorID string) *RateLimitResult {
	if rl.whitelist[actorID] {
		return &RateLimitResult{Allowed: true, RemainingTokens: rl.config.BurstSize}
	}

	now := rl.config.Now()
	if ban := rl.getBan(actorID, now); ban != nil {
		wait := ban.expiresAt.Sub(now)
		return &RateLimitResult{
			IsBanned:        true,
			RetryAfter:      wait,
			ResponseMessage: rl.config.OnRateLimited(actorID, wait),
		}
	}

	bucket := rl.getBucket(actorID, now)
	allowed, retryAfter, remaining := bucket.consume(now)
	if !allowed {
		if violations := bucket.recordViolation(now); rl.config.BanThreshold > 0 && violations >= rl.config.BanThreshold {
			rl.bans.Store(actorID, &banEntry{expiresAt: now.Add(rl.config.BanDuration)})
		}
		return &RateLimitResult{
			RetryAfter:      retryAfter,
			ResponseMessage: rl.config.OnRateLimited(actorID, retryAfter),
		}
	}

	return &RateLimitResult{Allowed: true, RemainingTokens: remaining}
}

func (rl *RateLimiter) getBucket(actorID string, now time.Time) *tokenBucket {
	if val, ok := rl.buckets.Load(actorID); ok {
		return val.(*tokenBucket)
	}

	bucket := &tokenBucket{
		tokens:     float64(rl.config.BurstSize),
		lastRefill: now,
		refillRate: float64(rl.config.RequestsPerMinute) / 60.0,
		maxTokens:  float64(rl.config.BurstSize),
	}
	actual, _ := rl.buckets.LoadOrStore(actorID, bucket)
	return actual.(*tokenBucket)
}

// consume returns (allowed, retryAfter, remainingTokens).
func (b *tokenBucket) consume(now time.Time) (bool, time.Duration, int) {
	b.mu.Lock()
	defer b.mu.Unlock()

	elapsed := now.Sub(b.lastRefill).Seconds()
	if elapsed > 0 {
		b.tokens += elapsed * b.refillRate
		if b.tokens > b.maxTokens {
			b.tokens = b.maxTokens
		}
		b.lastRefill = now
	}

	if b.tokens >= 1.0 {
		b.tokens--
		return true, 0, int(b.tokens)
	}

	deficit := 1.0 - b.tokens
	retryAfter := time.Duration(deficit / b.refillRate * float64(time.Second))
	return false, retryAfter, 0
}

func (b *tokenBucket) recordViolation(now time.Time) int {
	b.mu.Lock()
	defer b.mu.Unlock()

	if now.Sub(b.lastViolated) > 5*time.Minute {
		b.violations = 0
	}
	b.violations++
	b.lastViolated = now
	return b.violations
}

func (rl *RateLimiter) getBan(actorID string, now time.Time) *banEntry {
	val, ok := rl.bans.Load(actorID)
	if !ok {
		return nil
	}
	ban := val.(*banEntry)
	if now.After(ban.expiresAt) {
		rl.bans.Delete(actorID)
		return nil
	}
	return ban
}

// Reset clears the bucket and ban of an actor.
func (rl *RateLimiter) Reset(actorID string) {
	rl.buckets.Delete(actorID)
	rl.bans.Delete(actorID)
}

// Stop ends the cleanup loop. It is safe to call more than once.
func (rl *RateLimiter) Stop() {
	rl.stopOnce.Do(func() { close(rl.stopCh) })
}

func (rl *RateLimiter) cleanupLoop() {
	ticker := time.NewTicker(rl.config.CleanupInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			rl.cleanup(rl.config.Now())
		case <-rl.stopCh:
			return
		}
	}
}

// cleanup removes idle buckets and expired bans.
func (rl *RateLimiter) cleanup(now time.Time) {
	const inactiveThreshold = 10 * time.Minute

	rl.buckets.Range(func(key, value interface{}) bool {
		bucket := value.(*tokenBucket)
		bucket.mu.Lock()
		inactive := now.Sub(bucket.lastRefill) > inactiveThreshold
		bucket.mu.Unlock()

		if inactive {
			rl.buckets.Delete(key)
		}
		return true
	})

	rl.bans.Range(func(key, value interface{}) bool {
		if now.After(value.(*banEntry).expiresAt) {
			rl.bans.Delete(key)
		}
		return true
	})
}
