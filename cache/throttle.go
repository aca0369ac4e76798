package cache

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// SetNXer is the single redis command the throttle needs.
type SetNXer interface {
	SetNX(ctx context.Context, key string, value interface{}, expiration time.Duration) *redis.BoolCmd
}

// RefreshThrottle limits forced refreshes to one per cooldown for each
// tenant and insight type. A nil throttle allows everything.
type RefreshThrottle struct {
	client   SetNXer
	cooldown time.Duration
	prefix   string
}

func CreateRefreshThrottle(client SetNXer, cooldown time.Duration) *RefreshThrottle {
	if client == nil || cooldown <= 0 {
		return nil
	}
	return &RefreshThrottle{
		client:   client,
		cooldown: cooldown,
		prefix:   "pulse:refresh",
	}
}

// Allow claims the cooldown slot for the key. It reports false while an
// earlier claim is still live.
func (t *RefreshThrottle) Allow(ctx context.Context, tenantID, insightType string) (bool, error) {
	if t == nil {
		return true, nil
	}
	key := fmt.Sprintf("%s:%s:%s", t.prefix, tenantID, insightType)
	ok, err := t.client.SetNX(ctx, key, time.Now().UTC().Unix(), t.cooldown).Result()
	if err != nil {
		return false, fmt.Errorf("refresh throttle: %w", err)
	}
	return ok, nil
}

func (t *RefreshThrottle) Cooldown() time.Duration {
	if t == nil {
		return 0
	}
	return t.cooldown
}
