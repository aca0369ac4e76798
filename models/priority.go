package models

import "time"

const (
	MaxPriorityLeads = 10
	MaxWarningLeads  = 5
)

type UrgencyTier string

const (
	UrgencyCritical UrgencyTier = "critical"
	UrgencyHigh     UrgencyTier = "high"
	UrgencyMedium   UrgencyTier = "medium"
	UrgencyLow      UrgencyTier = "low"
)

type PriorityLead struct {
	LeadID            string      `json:"lead_id" validate:"required"`
	Rank              int         `json:"rank" validate:"min=1,max=10"`
	Urgency           UrgencyTier `json:"urgency" validate:"oneof=critical high medium low"`
	Reason            string      `json:"reason" validate:"required"`
	RecommendedAction string      `json:"recommended_action" validate:"required"`
	EstimatedValue    *float64    `json:"estimated_value,omitempty" validate:"omitempty,gte=0"`
}

type WarningLead struct {
	LeadID       string `json:"lead_id" validate:"required"`
	Warning      string `json:"warning" validate:"required"`
	DaysInactive *int   `json:"days_inactive,omitempty" validate:"omitempty,gte=0"`
}

// PriorityAssessment is the shape the reasoning provider must return for
// a lead_priority request.
type PriorityAssessment struct {
	PriorityLeads []PriorityLead `json:"priority_leads" validate:"required,max=10,dive"`
	WarningLeads  []WarningLead  `json:"warning_leads" validate:"required,max=5,dive"`
	Summary       string         `json:"summary" validate:"required"`
}

// PriorityResult is the cached payload of a lead_priority insight.
type PriorityResult struct {
	PriorityLeads  []PriorityLead `json:"priority_leads"`
	WarningLeads   []WarningLead  `json:"warning_leads"`
	Summary        string         `json:"summary"`
	GeneratedAt    time.Time      `json:"generated_at"`
	InputLeadCount int            `json:"input_lead_count"`
}

const EmptyWorkspaceSummary = "No leads to analyze yet. Add leads to this workspace to get a prioritized list."

// EmptyPriorityResult is the cacheable outcome for a workspace with no leads.
func EmptyPriorityResult(now time.Time) *PriorityResult {
	return &PriorityResult{
		PriorityLeads:  []PriorityLead{},
		WarningLeads:   []WarningLead{},
		Summary:        EmptyWorkspaceSummary,
		GeneratedAt:    now,
		InputLeadCount: 0,
	}
}
