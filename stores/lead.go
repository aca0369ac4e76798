package stores

import (
	"context"
	"time"

	"github.com/malwarebo/pulse/models"
	"gorm.io/gorm"
)

// LeadStore is the read side of tenant lead data. Reads are routed to a
// replica when dbresolver is configured.
type LeadStore struct {
	BaseStore
}

func CreateLeadStore(db *gorm.DB) *LeadStore {
	return &LeadStore{BaseStore: BaseStore{db: db}}
}

// Recent returns the tenant's newest leads, newest first. Ties on
// created_at are broken by id so truncation is deterministic.
func (s *LeadStore) Recent(ctx context.Context, tenantID string, limit int) ([]*models.Lead, error) {
	var leads []*models.Lead
	query := s.GetDB(ctx).
		Where("tenant_id = ?", tenantID).
		Order("created_at DESC").
		Order("id ASC")
	if limit > 0 {
		query = query.Limit(limit)
	}
	if err := query.Find(&leads).Error; err != nil {
		return nil, err
	}
	return leads, nil
}

// Aggregates computes workspace counters over all of the tenant's leads.
func (s *LeadStore) Aggregates(ctx context.Context, tenantID string, since time.Time) (*models.LeadAggregates, error) {
	agg := &models.LeadAggregates{}

	if err := s.GetDB(ctx).Model(&models.Lead{}).
		Where("tenant_id = ?", tenantID).
		Count(&agg.Total).Error; err != nil {
		return nil, err
	}
	if agg.Total == 0 {
		return agg, nil
	}

	if err := s.GetDB(ctx).Model(&models.Lead{}).
		Where("tenant_id = ? AND created_at >= ?", tenantID, since).
		Count(&agg.CreatedLast7Days).Error; err != nil {
		return nil, err
	}

	var avg struct {
		Average *float64
	}
	if err := s.GetDB(ctx).Model(&models.Lead{}).
		Select("AVG(opportunity_value) AS average").
		Where("tenant_id = ? AND opportunity_value IS NOT NULL", tenantID).
		Scan(&avg).Error; err != nil {
		return nil, err
	}
	agg.AverageValue = avg.Average

	var sources []struct {
		Source string
		Total  int64
	}
	if err := s.GetDB(ctx).Model(&models.Lead{}).
		Select("source, COUNT(*) AS total").
		Where("tenant_id = ? AND source IS NOT NULL AND source <> ''", tenantID).
		Group("source").
		Order("total DESC").
		Order("source ASC").
		Limit(1).
		Scan(&sources).Error; err != nil {
		return nil, err
	}
	if len(sources) > 0 {
		top := sources[0].Source
		agg.TopSource = &top
	}

	return agg, nil
}
