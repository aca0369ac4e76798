package security

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/malwarebo/pulse/models"
)

func TestRateLimiter_Allow(t *testing.T) {
	limiter := CreateRateLimiter()
	defer limiter.Close()

	t.Run("Allow within limit", func(t *testing.T) {
		config := RateLimitConfig{RequestsPerSecond: 10, Burst: 10}
		for i := 0; i < 10; i++ {
			if !limiter.Allow("tenant-a", config) {
				t.Errorf("Request %d should be allowed", i+1)
			}
		}
	})

	t.Run("Block after limit", func(t *testing.T) {
		config := RateLimitConfig{RequestsPerSecond: 1, Burst: 5}
		for i := 0; i < 5; i++ {
			limiter.Allow("tenant-b", config)
		}
		if limiter.Allow("tenant-b", config) {
			t.Error("Request should be blocked after limit")
		}
	})
}

func TestRateLimiter_Refill(t *testing.T) {
	limiter := CreateRateLimiter()
	defer limiter.Close()
	config := RateLimitConfig{RequestsPerSecond: 10, Burst: 2}

	limiter.Allow("tenant-refill", config)
	limiter.Allow("tenant-refill", config)

	if limiter.Allow("tenant-refill", config) {
		t.Error("Request should be blocked")
	}

	time.Sleep(150 * time.Millisecond)

	if !limiter.Allow("tenant-refill", config) {
		t.Error("Request should be allowed after refill")
	}
}

func TestRateLimiter_SweepDropsIdleBuckets(t *testing.T) {
	limiter := CreateRateLimiter()
	defer limiter.Close()
	config := RateLimitConfig{RequestsPerSecond: 1, Burst: 3}

	limiter.Allow("busy", config)
	limiter.Allow("busy", config)
	if limiter.Tracked() != 1 {
		t.Fatalf("Tracked() = %d, want 1", limiter.Tracked())
	}

	limiter.sweep(time.Now())
	if limiter.Tracked() != 1 {
		t.Errorf("Tracked() = %d after sweep, want the drained bucket kept", limiter.Tracked())
	}

	limiter.sweep(time.Now().Add(time.Minute))
	if limiter.Tracked() != 0 {
		t.Errorf("Tracked() = %d after refill, want 0", limiter.Tracked())
	}
}

func TestRateLimiter_PeriodicSweep(t *testing.T) {
	limiter := createRateLimiter(10 * time.Millisecond)
	defer limiter.Close()

	limiter.Allow("idle", RateLimitConfig{RequestsPerSecond: 1000, Burst: 1})

	deadline := time.Now().Add(2 * time.Second)
	for limiter.Tracked() != 0 {
		if time.Now().After(deadline) {
			t.Fatal("idle bucket was never swept")
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func TestRateLimiter_CloseStopsSweeping(t *testing.T) {
	limiter := createRateLimiter(20 * time.Millisecond)
	limiter.Close()
	limiter.Close()

	limiter.Allow("idle", RateLimitConfig{RequestsPerSecond: 1000, Burst: 1})
	time.Sleep(100 * time.Millisecond)

	if limiter.Tracked() != 1 {
		t.Errorf("Tracked() = %d after Close, want the bucket left alone", limiter.Tracked())
	}
}

func TestTieredRateLimiter_TierLimits(t *testing.T) {
	limiter := CreateDefaultTieredRateLimiter(1, 2)
	defer limiter.Close()

	tests := []struct {
		tier  models.Tier
		burst int
	}{
		{models.TierFree, 2},
		{models.TierStarter, 2},
		{models.TierPro, 4},
		{models.TierEnterprise, 10},
		{"unknown", 2},
	}

	for _, tt := range tests {
		t.Run(string(tt.tier), func(t *testing.T) {
			key := "tenant-" + string(tt.tier)
			for i := 0; i < tt.burst; i++ {
				if !limiter.Allow(key, tt.tier) {
					t.Fatalf("request %d should be allowed in burst", i+1)
				}
			}
			if limiter.Allow(key, tt.tier) {
				t.Error("request should be blocked after the tier burst")
			}
		})
	}
}

func TestTieredRateLimiter_TierChangeGetsNewBucket(t *testing.T) {
	limiter := CreateDefaultTieredRateLimiter(0.001, 2)
	defer limiter.Close()

	for i := 0; i < 2; i++ {
		limiter.Allow("tenant-upgrade", models.TierFree)
	}
	if limiter.Allow("tenant-upgrade", models.TierFree) {
		t.Fatal("free bucket should be exhausted")
	}

	for i := 0; i < 4; i++ {
		if !limiter.Allow("tenant-upgrade", models.TierPro) {
			t.Fatalf("request %d after upgrading to pro should be allowed", i+1)
		}
	}
	if limiter.Allow("tenant-upgrade", models.TierPro) {
		t.Error("request should be blocked after the pro burst")
	}
}

func TestTieredRateLimiter_Wait(t *testing.T) {
	limiter := CreateTieredRateLimiter(RateLimitConfig{RequestsPerSecond: 0.001, Burst: 1}, nil)
	defer limiter.Close()

	if err := limiter.Wait(context.Background(), "tenant", models.TierFree); err != nil {
		t.Fatalf("first Wait() error = %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	if err := limiter.Wait(ctx, "tenant", models.TierFree); err == nil {
		t.Error("Wait() should fail when the next token is beyond the deadline")
	}
}

func TestRateLimiter_ConcurrentAccess(t *testing.T) {
	limiter := CreateRateLimiter()
	defer limiter.Close()
	config := RateLimitConfig{RequestsPerSecond: 1, Burst: 20}

	var (
		wg      sync.WaitGroup
		mu      sync.Mutex
		allowed int
	)
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if limiter.Allow("concurrent-key", config) {
				mu.Lock()
				allowed++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	if allowed != 20 {
		t.Errorf("allowed = %d, want exactly the burst of 20", allowed)
	}
}
