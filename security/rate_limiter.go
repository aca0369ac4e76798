package security

import (
	"context"
	"sync"
	"time"

	"github.com/malwarebo/pulse/models"
	"golang.org/x/time/rate"
)

const limiterIdleSweep = 5 * time.Minute

type RateLimitConfig struct {
	RequestsPerSecond float64
	Burst             int
}

// RateLimiter keeps one token bucket per key. Buckets that have refilled
// completely are dropped on the periodic sweep.
type RateLimiter struct {
	limiters map[string]*rate.Limiter
	mu       sync.Mutex
	cleanup  *time.Timer
	interval time.Duration
	closed   bool
}

func CreateRateLimiter() *RateLimiter {
	return createRateLimiter(limiterIdleSweep)
}

func createRateLimiter(interval time.Duration) *RateLimiter {
	rl := &RateLimiter{
		limiters: make(map[string]*rate.Limiter),
		interval: interval,
	}
	rl.startCleanup()
	return rl
}

func (rl *RateLimiter) limiter(key string, config RateLimitConfig) *rate.Limiter {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	limiter, exists := rl.limiters[key]
	if !exists {
		limiter = rate.NewLimiter(rate.Limit(config.RequestsPerSecond), config.Burst)
		rl.limiters[key] = limiter
	}
	return limiter
}

func (rl *RateLimiter) Allow(key string, config RateLimitConfig) bool {
	return rl.limiter(key, config).Allow()
}

func (rl *RateLimiter) Wait(ctx context.Context, key string, config RateLimitConfig) error {
	return rl.limiter(key, config).Wait(ctx)
}

// Tracked reports how many buckets are currently held.
func (rl *RateLimiter) Tracked() int {
	rl.mu.Lock()
	defer rl.mu.Unlock()
	return len(rl.limiters)
}

func (rl *RateLimiter) sweep(now time.Time) {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	for key, limiter := range rl.limiters {
		if limiter.TokensAt(now) >= float64(limiter.Burst()) {
			delete(rl.limiters, key)
		}
	}
}

// startCleanup arms the next sweep. The timer is only re-armed while the
// limiter is open, so a sweep already running when Close is called ends
// the cycle.
func (rl *RateLimiter) startCleanup() {
	rl.mu.Lock()
	defer rl.mu.Unlock()
	if rl.closed {
		return
	}
	rl.cleanup = time.AfterFunc(rl.interval, func() {
		rl.sweep(time.Now())
		rl.startCleanup()
	})
}

func (rl *RateLimiter) Close() {
	rl.mu.Lock()
	defer rl.mu.Unlock()
	rl.closed = true
	if rl.cleanup != nil {
		rl.cleanup.Stop()
	}
}

// TieredRateLimiter applies a per-tenant bucket sized by subscription tier.
// Buckets are keyed by tenant and tier, so a plan change starts the tenant
// on a bucket of the new size.
type TieredRateLimiter struct {
	tiers    map[models.Tier]RateLimitConfig
	fallback RateLimitConfig
	rl       *RateLimiter
}

func CreateTieredRateLimiter(fallback RateLimitConfig, tiers map[models.Tier]RateLimitConfig) *TieredRateLimiter {
	if tiers == nil {
		tiers = map[models.Tier]RateLimitConfig{}
	}
	return &TieredRateLimiter{
		tiers:    tiers,
		fallback: fallback,
		rl:       CreateRateLimiter(),
	}
}

// CreateDefaultTieredRateLimiter scales the base rate up for paid tiers.
func CreateDefaultTieredRateLimiter(rps float64, burst int) *TieredRateLimiter {
	base := RateLimitConfig{RequestsPerSecond: rps, Burst: burst}
	return CreateTieredRateLimiter(base, map[models.Tier]RateLimitConfig{
		models.TierPro:        {RequestsPerSecond: rps * 2, Burst: burst * 2},
		models.TierEnterprise: {RequestsPerSecond: rps * 5, Burst: burst * 5},
	})
}

func (trl *TieredRateLimiter) configFor(tier models.Tier) RateLimitConfig {
	if config, exists := trl.tiers[tier]; exists {
		return config
	}
	return trl.fallback
}

func (trl *TieredRateLimiter) Allow(key string, tier models.Tier) bool {
	return trl.rl.Allow(bucketKey(key, tier), trl.configFor(tier))
}

func (trl *TieredRateLimiter) Wait(ctx context.Context, key string, tier models.Tier) error {
	return trl.rl.Wait(ctx, bucketKey(key, tier), trl.configFor(tier))
}

func bucketKey(key string, tier models.Tier) string {
	return key + ":" + string(tier)
}

func (trl *TieredRateLimiter) Close() {
	trl.rl.Close()
}
