package models

import (
	"errors"
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

type InsightType string

const (
	InsightTypeLeadPriority   InsightType = "lead_priority"
	InsightTypePipelineHealth InsightType = "pipeline_health"
	InsightTypePerformance    InsightType = "performance"
)

// insightTTLs is the single place an insight type is declared. A type
// without an entry here does not exist.
var insightTTLs = map[InsightType]time.Duration{
	InsightTypeLeadPriority:   time.Hour,
	InsightTypePipelineHealth: 6 * time.Hour,
	InsightTypePerformance:    24 * time.Hour,
}

var ErrUnknownInsightType = errors.New("unknown insight type")

func ParseInsightType(s string) (InsightType, error) {
	t := InsightType(s)
	if _, ok := insightTTLs[t]; !ok {
		return "", ErrUnknownInsightType
	}
	return t, nil
}

func (t InsightType) Valid() bool {
	_, ok := insightTTLs[t]
	return ok
}

// TTL is how long a generated entry of this type stays servable.
func (t InsightType) TTL() time.Duration {
	return insightTTLs[t]
}

// MaxTTL is the longest TTL of any insight type. A retention window shorter
// than this would let the reaper delete entries that are still servable.
func MaxTTL() time.Duration {
	var longest time.Duration
	for _, ttl := range insightTTLs {
		if ttl > longest {
			longest = ttl
		}
	}
	return longest
}

func (t InsightType) String() string {
	return string(t)
}

type CacheStatus string

const (
	CacheStatusValid      CacheStatus = "valid"
	CacheStatusStale      CacheStatus = "stale"
	CacheStatusGenerating CacheStatus = "generating"
	CacheStatusError      CacheStatus = "error"
)

// CacheEntry is one generation attempt for a (tenant, insight type) key.
// Rows are append-only: a new attempt always creates a new row.
type CacheEntry struct {
	ID           string         `json:"id" gorm:"primaryKey;size:36"`
	TenantID     string         `json:"tenant_id" gorm:"size:36;not null;index:idx_insight_cache_key,priority:1"`
	InsightType  InsightType    `json:"insight_type" gorm:"size:32;not null;index:idx_insight_cache_key,priority:2"`
	Status       CacheStatus    `json:"status" gorm:"size:16;not null;index:idx_insight_cache_key,priority:3"`
	Payload      datatypes.JSON `json:"payload,omitempty"`
	GeneratedAt  *time.Time     `json:"generated_at,omitempty"`
	ExpiresAt    time.Time      `json:"expires_at" gorm:"not null"`
	ErrorMessage string         `json:"error_message,omitempty" gorm:"type:text"`
	CreatedAt    time.Time      `json:"created_at" gorm:"index"`
	UpdatedAt    time.Time      `json:"updated_at"`
}

func (CacheEntry) TableName() string { return "insight_cache_entries" }

func (e *CacheEntry) BeforeCreate(tx *gorm.DB) error {
	if e.ID == "" {
		e.ID = uuid.NewString()
	}
	return nil
}
