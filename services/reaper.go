package services

import (
	"context"
	"time"

	"github.com/malwarebo/pulse/stores"
	"github.com/malwarebo/pulse/utils"
)

const DefaultReaperInterval = time.Hour

type EntryReaper interface {
	Reap(ctx context.Context, retention time.Duration) (int64, error)
}

// Reaper deletes cache entries older than the retention window. Expiry is
// enforced on read, so the reaper only keeps the table small.
type Reaper struct {
	store     EntryReaper
	interval  time.Duration
	retention time.Duration
	logger    *utils.Logger
}

func CreateReaper(store EntryReaper, interval, retention time.Duration) *Reaper {
	if interval <= 0 {
		interval = DefaultReaperInterval
	}
	if retention <= 0 {
		retention = stores.DefaultRetention
	}
	return &Reaper{
		store:     store,
		interval:  interval,
		retention: retention,
		logger:    utils.CreateLogger("reaper"),
	}
}

// RunOnce performs a single sweep.
func (r *Reaper) RunOnce(ctx context.Context) (int64, error) {
	deleted, err := r.store.Reap(ctx, r.retention)
	if err != nil {
		r.logger.Error(ctx, "Cache reap failed", map[string]interface{}{
			"error": err.Error(),
		})
		return 0, err
	}
	r.logger.Info(ctx, "Cache reap completed", map[string]interface{}{
		"deleted":   deleted,
		"retention": r.retention.String(),
	})
	return deleted, nil
}

// Run sweeps immediately and then on every interval until ctx is done.
func (r *Reaper) Run(ctx context.Context) {
	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	_, _ = r.RunOnce(ctx)
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			_, _ = r.RunOnce(ctx)
		}
	}
}
