package services

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"sort"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/malwarebo/pulse/models"
	"github.com/malwarebo/pulse/providers"
	"github.com/malwarebo/pulse/utils"
	"golang.org/x/text/language"
	"golang.org/x/text/language/display"
)

const priorityInstructions = `You are a sales operations analyst reviewing a workspace's lead pipeline.
You receive a JSON document with workspace statistics and the most recent leads.
Rank up to %d leads the team should contact next, most urgent first, using ranks 1 to %d without repeats.
Flag up to %d leads that are at risk of going cold.
Only reference lead ids that appear in the document. Do not invent leads or values.
Weigh overdue follow-ups, time since last contact, opportunity value and pipeline stage.
Write every reason, recommended action, warning and the summary in %s.`

var supportedLanguages = []language.Tag{
	language.English,
	language.Spanish,
	language.Portuguese,
	language.French,
	language.German,
}

var languageMatcher = language.NewMatcher(supportedLanguages)

// LanguageFor picks the instruction language for a locale string. Anything
// unparseable or unsupported falls back to English.
func LanguageFor(locale string) language.Tag {
	locale = strings.TrimSpace(locale)
	if locale == "" {
		return language.English
	}
	tag, err := language.Parse(locale)
	if err != nil {
		return language.English
	}
	_, index, confidence := languageMatcher.Match(tag)
	if confidence == language.No {
		return language.English
	}
	return supportedLanguages[index]
}

// PriorityInference produces lead_priority results from a provider. It owns
// prompt formatting and the validation boundary: anything the provider
// returns that does not decode into a well-formed assessment is rejected.
type PriorityInference struct {
	provider providers.InferenceProvider
	clock    utils.Clock
	validate *validator.Validate
}

func CreatePriorityInference(provider providers.InferenceProvider, clock utils.Clock) *PriorityInference {
	if clock == nil {
		clock = utils.SystemClock
	}
	return &PriorityInference{
		provider: provider,
		clock:    clock,
		validate: validator.New(validator.WithRequiredStructEnabled()),
	}
}

type inferenceContext struct {
	Stats models.WorkspaceStats `json:"stats"`
	Leads []models.LeadSnapshot `json:"leads"`
}

func (p *PriorityInference) Generate(ctx context.Context, snapshots []models.LeadSnapshot, stats models.WorkspaceStats, locale string) (*models.PriorityResult, error) {
	document, err := json.Marshal(inferenceContext{Stats: stats, Leads: snapshots})
	if err != nil {
		return nil, fmt.Errorf("failed to encode inference context: %w", err)
	}

	raw, err := p.provider.Infer(ctx, providers.InferenceRequest{
		Instructions: BuildPriorityInstructions(LanguageFor(locale)),
		Context:      string(document),
		SchemaName:   string(models.InsightTypeLeadPriority),
		Schema:       priorityAssessmentSchema,
	})
	if err != nil {
		if errors.Is(err, utils.ErrProvider) {
			return nil, err
		}
		return nil, utils.WrapAPIError(err, utils.ErrProvider)
	}

	assessment, err := p.decode(raw, snapshots)
	if err != nil {
		return nil, utils.WrapAPIError(err, utils.ErrSchemaValidation)
	}

	sort.SliceStable(assessment.PriorityLeads, func(i, j int) bool {
		return assessment.PriorityLeads[i].Rank < assessment.PriorityLeads[j].Rank
	})

	return &models.PriorityResult{
		PriorityLeads:  assessment.PriorityLeads,
		WarningLeads:   assessment.WarningLeads,
		Summary:        strings.TrimSpace(assessment.Summary),
		GeneratedAt:    p.clock.Now(),
		InputLeadCount: len(snapshots),
	}, nil
}

func (p *PriorityInference) decode(raw json.RawMessage, snapshots []models.LeadSnapshot) (*models.PriorityAssessment, error) {
	decoder := json.NewDecoder(bytes.NewReader(raw))
	decoder.DisallowUnknownFields()

	var assessment models.PriorityAssessment
	if err := decoder.Decode(&assessment); err != nil {
		return nil, fmt.Errorf("malformed response: %w", err)
	}
	if _, err := decoder.Token(); !errors.Is(err, io.EOF) {
		return nil, errors.New("malformed response: trailing data after document")
	}

	if err := p.validate.Struct(&assessment); err != nil {
		return nil, err
	}
	if strings.TrimSpace(assessment.Summary) == "" {
		return nil, errors.New("summary is blank")
	}

	known := make(map[string]struct{}, len(snapshots))
	for _, snap := range snapshots {
		known[snap.ID] = struct{}{}
	}

	ranks := make(map[int]struct{}, len(assessment.PriorityLeads))
	for _, lead := range assessment.PriorityLeads {
		if _, dup := ranks[lead.Rank]; dup {
			return nil, fmt.Errorf("rank %d is used more than once", lead.Rank)
		}
		ranks[lead.Rank] = struct{}{}
		if _, ok := known[lead.LeadID]; !ok {
			return nil, fmt.Errorf("priority lead %q is not in the workspace context", lead.LeadID)
		}
	}
	for _, lead := range assessment.WarningLeads {
		if _, ok := known[lead.LeadID]; !ok {
			return nil, fmt.Errorf("warning lead %q is not in the workspace context", lead.LeadID)
		}
	}

	return &assessment, nil
}

// BuildPriorityInstructions renders the system prompt for the given
// language.
func BuildPriorityInstructions(lang language.Tag) string {
	return fmt.Sprintf(priorityInstructions,
		models.MaxPriorityLeads, models.MaxPriorityLeads,
		models.MaxWarningLeads,
		display.English.Tags().Name(lang))
}

var priorityAssessmentSchema = map[string]interface{}{
	"type":                 "object",
	"additionalProperties": false,
	"required":             []string{"priority_leads", "warning_leads", "summary"},
	"properties": map[string]interface{}{
		"priority_leads": map[string]interface{}{
			"type":     "array",
			"maxItems": models.MaxPriorityLeads,
			"items": map[string]interface{}{
				"type":                 "object",
				"additionalProperties": false,
				"required":             []string{"lead_id", "rank", "urgency", "reason", "recommended_action", "estimated_value"},
				"properties": map[string]interface{}{
					"lead_id":            map[string]interface{}{"type": "string"},
					"rank":               map[string]interface{}{"type": "integer", "minimum": 1, "maximum": models.MaxPriorityLeads},
					"urgency":            map[string]interface{}{"type": "string", "enum": []string{"critical", "high", "medium", "low"}},
					"reason":             map[string]interface{}{"type": "string"},
					"recommended_action": map[string]interface{}{"type": "string"},
					"estimated_value":    map[string]interface{}{"type": []string{"number", "null"}},
				},
			},
		},
		"warning_leads": map[string]interface{}{
			"type":     "array",
			"maxItems": models.MaxWarningLeads,
			"items": map[string]interface{}{
				"type":                 "object",
				"additionalProperties": false,
				"required":             []string{"lead_id", "warning", "days_inactive"},
				"properties": map[string]interface{}{
					"lead_id":       map[string]interface{}{"type": "string"},
					"warning":       map[string]interface{}{"type": "string"},
					"days_inactive": map[string]interface{}{"type": []string{"integer", "null"}},
				},
			},
		},
		"summary": map[string]interface{}{"type": "string"},
	},
}
