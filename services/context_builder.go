package services

import (
	"context"
	"math"
	"time"

	"github.com/malwarebo/pulse/models"
	"github.com/malwarebo/pulse/utils"
)

const (
	DefaultMaxLeads = 100
	statsWindow     = 7 * 24 * time.Hour
)

// LeadReader is the read-only view of tenant leads the builder needs.
type LeadReader interface {
	Recent(ctx context.Context, tenantID string, limit int) ([]*models.Lead, error)
	Aggregates(ctx context.Context, tenantID string, since time.Time) (*models.LeadAggregates, error)
}

// ContextBuilder turns a tenant's leads into the bounded snapshot list and
// workspace stats handed to inference. It has no side effects.
type ContextBuilder struct {
	leads    LeadReader
	clock    utils.Clock
	maxLeads int
}

func CreateContextBuilder(leads LeadReader, clock utils.Clock, maxLeads int) *ContextBuilder {
	if clock == nil {
		clock = utils.SystemClock
	}
	if maxLeads <= 0 {
		maxLeads = DefaultMaxLeads
	}
	return &ContextBuilder{leads: leads, clock: clock, maxLeads: maxLeads}
}

// Build returns the newest leads (at most maxLeads) and stats over every
// lead of the tenant. An empty workspace is not an error.
func (b *ContextBuilder) Build(ctx context.Context, tenantID string) ([]models.LeadSnapshot, models.WorkspaceStats, error) {
	now := b.clock.Now()

	leads, err := b.leads.Recent(ctx, tenantID, b.maxLeads)
	if err != nil {
		return nil, models.WorkspaceStats{}, utils.WrapAPIError(err, utils.ErrDataUnavailable)
	}

	agg, err := b.leads.Aggregates(ctx, tenantID, now.Add(-statsWindow))
	if err != nil {
		return nil, models.WorkspaceStats{}, utils.WrapAPIError(err, utils.ErrDataUnavailable)
	}

	snapshots := make([]models.LeadSnapshot, 0, len(leads))
	for _, lead := range leads {
		snapshots = append(snapshots, snapshotOf(lead, now))
	}

	stats := models.WorkspaceStats{
		TotalLeads:       agg.Total,
		LeadsLast7Days:   agg.CreatedLast7Days,
		AverageLeadValue: agg.AverageValue,
		TopSource:        agg.TopSource,
	}
	return snapshots, stats, nil
}

func snapshotOf(lead *models.Lead, now time.Time) models.LeadSnapshot {
	snap := models.LeadSnapshot{
		ID:                lead.ID,
		Name:              lead.Name,
		Email:             lead.Email,
		Phone:             lead.Phone,
		Source:            lead.Source,
		Stage:             lead.Stage,
		Status:            lead.Status,
		ContactAttempts:   lead.ContactAttempts,
		LastContactResult: lead.LastContactResult,
		DaysSinceCreated:  wholeDaysBetween(lead.CreatedAt, now),
		OpportunityValue:  lead.OpportunityValue,
		HasFollowUp:       lead.FollowUpAt != nil,
	}
	if lead.LastContactAt != nil {
		days := wholeDaysBetween(*lead.LastContactAt, now)
		snap.DaysSinceLastContact = &days
	}
	if lead.FollowUpAt != nil {
		snap.IsOverdue = lead.FollowUpAt.Before(now)
	}
	return snap
}

func wholeDaysBetween(from, to time.Time) int {
	return int(math.Floor(to.Sub(from).Hours() / 24))
}
