package providers

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
)

const (
	DefaultOpenAIModel   = "gpt-4o-mini"
	defaultOpenAITimeout = 60 * time.Second
)

type OpenAIConfig struct {
	APIKey      string
	Model       string
	BaseURL     string
	Timeout     time.Duration
	MaxRetries  int
	Temperature float64
}

// OpenAIProvider calls chat completions with a strict json_schema response
// format so the returned content is a single JSON document.
type OpenAIProvider struct {
	client      openai.Client
	model       string
	temperature float64
}

func CreateOpenAIProvider(cfg OpenAIConfig) (*OpenAIProvider, error) {
	if strings.TrimSpace(cfg.APIKey) == "" {
		return nil, errors.New("openai api key is required")
	}
	if cfg.Model == "" {
		cfg.Model = DefaultOpenAIModel
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = defaultOpenAITimeout
	}

	opts := []option.RequestOption{
		option.WithAPIKey(cfg.APIKey),
		option.WithRequestTimeout(cfg.Timeout),
		option.WithMaxRetries(cfg.MaxRetries),
	}
	if cfg.BaseURL != "" {
		opts = append(opts, option.WithBaseURL(cfg.BaseURL))
	}

	return &OpenAIProvider{
		client:      openai.NewClient(opts...),
		model:       cfg.Model,
		temperature: cfg.Temperature,
	}, nil
}

func (p *OpenAIProvider) Name() string {
	return "openai"
}

func (p *OpenAIProvider) Infer(ctx context.Context, req InferenceRequest) (json.RawMessage, error) {
	params := openai.ChatCompletionNewParams{
		Model: openai.ChatModel(p.model),
		Messages: []openai.ChatCompletionMessageParamUnion{
			openai.SystemMessage(req.Instructions),
			openai.UserMessage(req.Context),
		},
		Temperature: openai.Float(p.temperature),
	}
	if req.Schema != nil {
		params.ResponseFormat = openai.ChatCompletionNewParamsResponseFormatUnion{
			OfJSONSchema: &openai.ResponseFormatJSONSchemaParam{
				JSONSchema: openai.ResponseFormatJSONSchemaJSONSchemaParam{
					Name:   req.SchemaName,
					Schema: req.Schema,
					Strict: openai.Bool(true),
				},
			},
		}
	}

	completion, err := p.client.Chat.Completions.New(ctx, params)
	if err != nil {
		var apiErr *openai.Error
		if errors.As(err, &apiErr) {
			return nil, fmt.Errorf("openai returned status %d: %w", apiErr.StatusCode, err)
		}
		return nil, fmt.Errorf("openai request failed: %w", err)
	}
	if len(completion.Choices) == 0 {
		return nil, errors.New("openai returned no choices")
	}

	message := completion.Choices[0].Message
	if message.Refusal != "" {
		return nil, fmt.Errorf("openai refused the request: %s", message.Refusal)
	}
	content := strings.TrimSpace(message.Content)
	if content == "" {
		return nil, errors.New("openai returned an empty message")
	}
	return json.RawMessage(content), nil
}
