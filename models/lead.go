package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// Lead is a tenant's operational contact record. This service only reads
// leads; capture happens elsewhere.
type Lead struct {
	ID                string     `json:"id" gorm:"primaryKey;size:36"`
	TenantID          string     `json:"tenant_id" gorm:"size:36;not null;index:idx_leads_tenant_created,priority:1"`
	Name              string     `json:"name" gorm:"not null"`
	Email             string     `json:"email"`
	Phone             string     `json:"phone"`
	Source            string     `json:"source" gorm:"size:64"`
	Stage             string     `json:"stage" gorm:"size:64"`
	Status            string     `json:"status" gorm:"size:32"`
	ContactAttempts   int        `json:"contact_attempts" gorm:"default:0"`
	LastContactResult string     `json:"last_contact_result" gorm:"size:64"`
	LastContactAt     *time.Time `json:"last_contact_at"`
	FollowUpAt        *time.Time `json:"follow_up_at"`
	OpportunityValue  *float64   `json:"opportunity_value"`
	CreatedAt         time.Time  `json:"created_at" gorm:"index:idx_leads_tenant_created,priority:2,sort:desc"`
	UpdatedAt         time.Time  `json:"updated_at"`
}

func (Lead) TableName() string { return "leads" }

func (l *Lead) BeforeCreate(tx *gorm.DB) error {
	if l.ID == "" {
		l.ID = uuid.NewString()
	}
	return nil
}

// LeadAggregates are the raw workspace counters read from storage before
// they are shaped into WorkspaceStats.
type LeadAggregates struct {
	Total            int64
	CreatedLast7Days int64
	AverageValue     *float64
	TopSource        *string
}
