package models

import "time"

type ServedFrom string

const (
	ServedFromCache ServedFrom = "cache"
	ServedFromFresh ServedFrom = "fresh"
)

type GetInsightOptions struct {
	ForceRefresh bool
	// Locale selects the instruction language for a fresh generation. It is
	// not part of the cache key.
	Locale string
}

// InsightResult is what a caller gets back from the coordinator. Exactly
// one of Result, Generating or Error is meaningful.
type InsightResult struct {
	Result      *PriorityResult `json:"result,omitempty"`
	ServedFrom  ServedFrom      `json:"served_from,omitempty"`
	Generating  bool            `json:"generating"`
	Error       string          `json:"error,omitempty"`
	GeneratedAt *time.Time      `json:"generated_at,omitempty"`
	ExpiresAt   *time.Time      `json:"expires_at,omitempty"`
}

type InsightHistoryResponse struct {
	TenantID    string        `json:"tenant_id"`
	InsightType InsightType   `json:"insight_type"`
	Entries     []*CacheEntry `json:"entries"`
}
