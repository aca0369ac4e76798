package stores

import (
	"context"
	"errors"
	"time"

	"github.com/malwarebo/pulse/models"
	"github.com/malwarebo/pulse/utils"
	"gorm.io/datatypes"
	"gorm.io/gorm"
	"gorm.io/plugin/dbresolver"
)

const (
	DefaultLockTTL   = 5 * time.Minute
	DefaultRetention = 7 * 24 * time.Hour

	lockExpiredMessage = "generation lock expired before the attempt completed"
)

// InsightCacheStore persists insight cache entries. Every operation reads
// the primary; storage is the only synchronization point between callers.
type InsightCacheStore struct {
	BaseStore
	clock   utils.Clock
	lockTTL time.Duration
}

func CreateInsightCacheStore(db *gorm.DB, clock utils.Clock, lockTTL time.Duration) *InsightCacheStore {
	if clock == nil {
		clock = utils.SystemClock
	}
	if lockTTL <= 0 {
		lockTTL = DefaultLockTTL
	}
	return &InsightCacheStore{
		BaseStore: BaseStore{db: db},
		clock:     clock,
		lockTTL:   lockTTL,
	}
}

func (s *InsightCacheStore) LockTTL() time.Duration {
	return s.lockTTL
}

func (s *InsightCacheStore) primary(ctx context.Context) *gorm.DB {
	return s.GetDB(ctx).Clauses(dbresolver.Write)
}

func (s *InsightCacheStore) keyScope(ctx context.Context, tenantID string, insightType models.InsightType) *gorm.DB {
	return s.primary(ctx).
		Model(&models.CacheEntry{}).
		Where("tenant_id = ? AND insight_type = ?", tenantID, insightType)
}

// ReadValid returns the servable entry for the key, or nil. A valid row
// whose expires_at has passed is treated as absent.
func (s *InsightCacheStore) ReadValid(ctx context.Context, tenantID string, insightType models.InsightType) (*models.CacheEntry, error) {
	var entry models.CacheEntry
	err := s.keyScope(ctx, tenantID, insightType).
		Where("status = ? AND expires_at > ?", models.CacheStatusValid, s.clock.Now()).
		Order("generated_at DESC").
		Limit(1).
		Find(&entry).Error
	if err != nil {
		return nil, err
	}
	if entry.ID == "" {
		return nil, nil
	}
	return &entry, nil
}

// WriteValid records payload as the key's valid entry. The previous valid
// entry becomes stale in the same transaction. lockID names the generating
// row the caller acquired for this attempt; if it is still generating it is
// promoted in place. Otherwise, or when lockID is empty, a new row is
// inserted and any other caller's lock is left alone.
func (s *InsightCacheStore) WriteValid(ctx context.Context, tenantID string, insightType models.InsightType, lockID string, payload []byte) (*models.CacheEntry, error) {
	now := s.clock.Now()
	expiresAt := now.Add(insightType.TTL())

	var out *models.CacheEntry
	err := s.WithTransaction(ctx, func(txCtx context.Context) error {
		err := s.keyScope(txCtx, tenantID, insightType).
			Where("status = ?", models.CacheStatusValid).
			Updates(map[string]interface{}{
				"status":     models.CacheStatusStale,
				"updated_at": now,
			}).Error
		if err != nil {
			return err
		}

		if lockID != "" {
			result := s.keyScope(txCtx, tenantID, insightType).
				Where("id = ? AND status = ?", lockID, models.CacheStatusGenerating).
				Updates(map[string]interface{}{
					"status":        models.CacheStatusValid,
					"payload":       datatypes.JSON(payload),
					"generated_at":  now,
					"expires_at":    expiresAt,
					"error_message": "",
					"updated_at":    now,
				})
			if result.Error != nil {
				return result.Error
			}
			if result.RowsAffected > 0 {
				var promoted models.CacheEntry
				if err := s.primary(txCtx).First(&promoted, "id = ?", lockID).Error; err != nil {
					return err
				}
				out = &promoted
				return nil
			}
		}

		entry := &models.CacheEntry{
			TenantID:    tenantID,
			InsightType: insightType,
			Status:      models.CacheStatusValid,
			Payload:     datatypes.JSON(payload),
			GeneratedAt: &now,
			ExpiresAt:   expiresAt,
			CreatedAt:   now,
			UpdatedAt:   now,
		}
		if err := s.primary(txCtx).Create(entry).Error; err != nil {
			return err
		}
		out = entry
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// AcquireGeneratingLock inserts a generating row for the key. It fails with
// utils.ErrLockContention when a live lock exists or a concurrent insert
// wins the partial unique index. Expired locks are closed out as errors
// first so the new row can take their place.
func (s *InsightCacheStore) AcquireGeneratingLock(ctx context.Context, tenantID string, insightType models.InsightType) (*models.CacheEntry, error) {
	now := s.clock.Now()

	var out *models.CacheEntry
	err := s.WithTransaction(ctx, func(txCtx context.Context) error {
		var live int64
		err := s.keyScope(txCtx, tenantID, insightType).
			Where("status = ? AND expires_at > ?", models.CacheStatusGenerating, now).
			Count(&live).Error
		if err != nil {
			return err
		}
		if live > 0 {
			return utils.ErrLockContention
		}

		err = s.keyScope(txCtx, tenantID, insightType).
			Where("status = ? AND expires_at <= ?", models.CacheStatusGenerating, now).
			Updates(map[string]interface{}{
				"status":        models.CacheStatusError,
				"error_message": lockExpiredMessage,
				"updated_at":    now,
			}).Error
		if err != nil {
			return err
		}

		entry := &models.CacheEntry{
			TenantID:    tenantID,
			InsightType: insightType,
			Status:      models.CacheStatusGenerating,
			ExpiresAt:   now.Add(s.lockTTL),
			CreatedAt:   now,
			UpdatedAt:   now,
		}
		if err := s.primary(txCtx).Create(entry).Error; err != nil {
			if errors.Is(err, gorm.ErrDuplicatedKey) {
				return utils.ErrLockContention
			}
			return err
		}
		out = entry
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// ResolveLock closes the caller's lock. A nil outcome is a no-op because
// WriteValid already promoted the lock; a failure moves the lock to error
// with the outcome as its message. A lock that is no longer generating was
// taken over by a later attempt and is left as it is.
func (s *InsightCacheStore) ResolveLock(ctx context.Context, tenantID string, insightType models.InsightType, lockID string, outcome error) error {
	if outcome == nil || lockID == "" {
		return nil
	}
	message := outcome.Error()
	if message == "" {
		message = "generation failed"
	}

	return s.keyScope(ctx, tenantID, insightType).
		Where("id = ? AND status = ?", lockID, models.CacheStatusGenerating).
		Updates(map[string]interface{}{
			"status":        models.CacheStatusError,
			"error_message": message,
			"updated_at":    s.clock.Now(),
		}).Error
}

func (s *InsightCacheStore) IsLocked(ctx context.Context, tenantID string, insightType models.InsightType) (bool, error) {
	var live int64
	err := s.keyScope(ctx, tenantID, insightType).
		Where("status = ? AND expires_at > ?", models.CacheStatusGenerating, s.clock.Now()).
		Count(&live).Error
	if err != nil {
		return false, err
	}
	return live > 0, nil
}

// Reap deletes entries created before now-retention. Rows that are still
// live, an unexpired valid entry or an unexpired lock, are kept whatever
// their age; everything else past the window goes regardless of status.
func (s *InsightCacheStore) Reap(ctx context.Context, retention time.Duration) (int64, error) {
	if retention <= 0 {
		retention = DefaultRetention
	}
	now := s.clock.Now()
	result := s.primary(ctx).
		Where("created_at < ?", now.Add(-retention)).
		Where("status IN ? OR expires_at <= ?", []models.CacheStatus{models.CacheStatusStale, models.CacheStatusError}, now).
		Delete(&models.CacheEntry{})
	return result.RowsAffected, result.Error
}

// History lists the key's entries newest first.
func (s *InsightCacheStore) History(ctx context.Context, tenantID string, insightType models.InsightType, limit int) ([]*models.CacheEntry, error) {
	var entries []*models.CacheEntry
	query := s.keyScope(ctx, tenantID, insightType).Order("created_at DESC")
	if limit > 0 {
		query = query.Limit(limit)
	}
	if err := query.Find(&entries).Error; err != nil {
		return nil, err
	}
	return entries, nil
}
