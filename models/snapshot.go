package models

// LeadSnapshot is the per-lead extract handed to inference. It is built
// fresh for every generation attempt and never persisted.
type LeadSnapshot struct {
	ID                   string   `json:"id"`
	Name                 string   `json:"name"`
	Email                string   `json:"email,omitempty"`
	Phone                string   `json:"phone,omitempty"`
	Source               string   `json:"source,omitempty"`
	Stage                string   `json:"stage,omitempty"`
	Status               string   `json:"status,omitempty"`
	ContactAttempts      int      `json:"contact_attempts"`
	LastContactResult    string   `json:"last_contact_result,omitempty"`
	DaysSinceCreated     int      `json:"days_since_created"`
	DaysSinceLastContact *int     `json:"days_since_last_contact"`
	OpportunityValue     *float64 `json:"opportunity_value"`
	HasFollowUp          bool     `json:"has_follow_up"`
	IsOverdue            bool     `json:"is_overdue"`
}

type WorkspaceStats struct {
	TotalLeads       int64    `json:"total_leads"`
	LeadsLast7Days   int64    `json:"leads_last_7_days"`
	AverageLeadValue *float64 `json:"average_lead_value"`
	TopSource        *string  `json:"top_source"`
}
