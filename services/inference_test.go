package services

import (
	"context"
	"encoding/json"
	"errors"
	"strconv"
	"strings"
	"testing"

	"github.com/malwarebo/pulse/models"
	"github.com/malwarebo/pulse/providers"
	"github.com/malwarebo/pulse/testutil"
	"github.com/malwarebo/pulse/utils"
	"golang.org/x/text/language"
)

func staticResponse(body string) providers.InferenceProvider {
	return providers.ProviderFunc(func(ctx context.Context, req providers.InferenceRequest) (json.RawMessage, error) {
		return json.RawMessage(body), nil
	})
}

func sampleSnapshots() []models.LeadSnapshot {
	return []models.LeadSnapshot{
		{ID: "lead-a", Name: "Ana"},
		{ID: "lead-b", Name: "Ben"},
	}
}

func TestPriorityInference_Generate(t *testing.T) {
	var captured providers.InferenceRequest
	provider := providers.ProviderFunc(func(ctx context.Context, req providers.InferenceRequest) (json.RawMessage, error) {
		captured = req
		return json.RawMessage(`{
			"priority_leads": [
				{"lead_id": "lead-b", "rank": 2, "urgency": "medium", "reason": "Quiet for a week", "recommended_action": "Send a check-in", "estimated_value": null},
				{"lead_id": "lead-a", "rank": 1, "urgency": "critical", "reason": "Follow-up overdue", "recommended_action": "Call today", "estimated_value": 1200}
			],
			"warning_leads": [
				{"lead_id": "lead-b", "warning": "Going cold", "days_inactive": 9}
			],
			"summary": "Two leads need attention."
		}`), nil
	})

	clock := testutil.NewFakeClock(testutil.BaseTime)
	inference := CreatePriorityInference(provider, clock)

	result, err := inference.Generate(context.Background(), sampleSnapshots(), models.WorkspaceStats{TotalLeads: 2}, "es-MX")
	if err != nil {
		t.Fatalf("Generate() error = %v", err)
	}

	if len(result.PriorityLeads) != 2 || result.PriorityLeads[0].LeadID != "lead-a" {
		t.Errorf("PriorityLeads = %+v, want lead-a ranked first", result.PriorityLeads)
	}
	if result.PriorityLeads[0].EstimatedValue == nil || *result.PriorityLeads[0].EstimatedValue != 1200 {
		t.Errorf("EstimatedValue = %v, want 1200", result.PriorityLeads[0].EstimatedValue)
	}
	if len(result.WarningLeads) != 1 || *result.WarningLeads[0].DaysInactive != 9 {
		t.Errorf("WarningLeads = %+v", result.WarningLeads)
	}
	if !result.GeneratedAt.Equal(testutil.BaseTime) {
		t.Errorf("GeneratedAt = %v, want %v", result.GeneratedAt, testutil.BaseTime)
	}
	if result.InputLeadCount != 2 {
		t.Errorf("InputLeadCount = %d, want 2", result.InputLeadCount)
	}

	if !strings.Contains(captured.Instructions, "Spanish") {
		t.Errorf("Instructions do not name the locale language: %q", captured.Instructions)
	}
	if captured.SchemaName != "lead_priority" || captured.Schema == nil {
		t.Errorf("request schema = %q %v", captured.SchemaName, captured.Schema)
	}

	var doc inferenceContext
	if err := json.Unmarshal([]byte(captured.Context), &doc); err != nil {
		t.Fatalf("Context is not JSON: %v", err)
	}
	if len(doc.Leads) != 2 || doc.Stats.TotalLeads != 2 {
		t.Errorf("Context = %+v", doc)
	}
}

func TestPriorityInference_RejectsMalformedResponses(t *testing.T) {
	tests := []struct {
		name string
		body string
	}{
		{
			name: "not json",
			body: `the top lead is Ana`,
		},
		{
			name: "wrong shape",
			body: `{"priority_leads": "lead-a", "warning_leads": [], "summary": "x"}`,
		},
		{
			name: "unknown field",
			body: `{"priority_leads": [], "warning_leads": [], "summary": "x", "confidence": 0.9}`,
		},
		{
			name: "missing lists",
			body: `{"summary": "x"}`,
		},
		{
			name: "blank summary",
			body: `{"priority_leads": [], "warning_leads": [], "summary": "  "}`,
		},
		{
			name: "bad urgency",
			body: `{"priority_leads": [{"lead_id": "lead-a", "rank": 1, "urgency": "asap", "reason": "r", "recommended_action": "a"}], "warning_leads": [], "summary": "x"}`,
		},
		{
			name: "rank out of range",
			body: `{"priority_leads": [{"lead_id": "lead-a", "rank": 11, "urgency": "low", "reason": "r", "recommended_action": "a"}], "warning_leads": [], "summary": "x"}`,
		},
		{
			name: "duplicate rank",
			body: `{"priority_leads": [
				{"lead_id": "lead-a", "rank": 1, "urgency": "low", "reason": "r", "recommended_action": "a"},
				{"lead_id": "lead-b", "rank": 1, "urgency": "low", "reason": "r", "recommended_action": "a"}
			], "warning_leads": [], "summary": "x"}`,
		},
		{
			name: "unknown lead",
			body: `{"priority_leads": [{"lead_id": "lead-z", "rank": 1, "urgency": "low", "reason": "r", "recommended_action": "a"}], "warning_leads": [], "summary": "x"}`,
		},
		{
			name: "unknown warning lead",
			body: `{"priority_leads": [], "warning_leads": [{"lead_id": "lead-z", "warning": "w"}], "summary": "x"}`,
		},
		{
			name: "trailing data",
			body: `{"priority_leads": [], "warning_leads": [], "summary": "x"} {}`,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			inference := CreatePriorityInference(staticResponse(tt.body), testutil.NewFakeClock(testutil.BaseTime))

			_, err := inference.Generate(context.Background(), sampleSnapshots(), models.WorkspaceStats{}, "")
			if !errors.Is(err, utils.ErrSchemaValidation) {
				t.Errorf("Generate() error = %v, want ErrSchemaValidation", err)
			}
		})
	}
}

func TestPriorityInference_TooManyPriorityLeads(t *testing.T) {
	snapshots := make([]models.LeadSnapshot, 0, 11)
	items := make([]string, 0, 11)
	for i := 1; i <= 11; i++ {
		id := "lead-" + string(rune('a'+i))
		snapshots = append(snapshots, models.LeadSnapshot{ID: id})
		rank := i
		if rank > 10 {
			rank = 10
		}
		items = append(items, `{"lead_id": "`+id+`", "rank": `+strconv.Itoa(rank)+`, "urgency": "low", "reason": "r", "recommended_action": "a"}`)
	}
	body := `{"priority_leads": [` + strings.Join(items, ",") + `], "warning_leads": [], "summary": "x"}`

	inference := CreatePriorityInference(staticResponse(body), testutil.NewFakeClock(testutil.BaseTime))
	if _, err := inference.Generate(context.Background(), snapshots, models.WorkspaceStats{}, ""); !errors.Is(err, utils.ErrSchemaValidation) {
		t.Errorf("Generate() error = %v, want ErrSchemaValidation", err)
	}
}

func TestPriorityInference_ProviderError(t *testing.T) {
	cause := errors.New("503 from upstream")
	provider := providers.ProviderFunc(func(ctx context.Context, req providers.InferenceRequest) (json.RawMessage, error) {
		return nil, cause
	})
	inference := CreatePriorityInference(provider, nil)

	_, err := inference.Generate(context.Background(), sampleSnapshots(), models.WorkspaceStats{}, "en")
	if !errors.Is(err, utils.ErrProvider) || !errors.Is(err, cause) {
		t.Errorf("Generate() error = %v, want ErrProvider wrapping the cause", err)
	}
	if errors.Is(err, utils.ErrSchemaValidation) {
		t.Error("provider failure reported as schema validation")
	}
}

func TestLanguageFor(t *testing.T) {
	tests := []struct {
		locale string
		want   language.Tag
	}{
		{"", language.English},
		{"en-US", language.English},
		{"es", language.Spanish},
		{"es-MX", language.Spanish},
		{"pt-BR", language.Portuguese},
		{"fr-CA", language.French},
		{"de", language.German},
		{"ja-JP", language.English},
		{"not a locale!", language.English},
	}

	for _, tt := range tests {
		t.Run(tt.locale, func(t *testing.T) {
			if got := LanguageFor(tt.locale); got != tt.want {
				t.Errorf("LanguageFor(%q) = %s, want %s", tt.locale, got, tt.want)
			}
		})
	}
}
