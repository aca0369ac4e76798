package providers

import (
	"context"
	"encoding/json"
)

// StaticProvider answers every request with the same document. It backs
// local development when no API key is configured.
type StaticProvider struct {
	response json.RawMessage
}

const notConfiguredResponse = `{"priority_leads":[],"warning_leads":[],"summary":"Lead prioritization is not configured for this environment."}`

func CreateStaticProvider(response json.RawMessage) *StaticProvider {
	if len(response) == 0 {
		response = json.RawMessage(notConfiguredResponse)
	}
	return &StaticProvider{response: response}
}

func (p *StaticProvider) Name() string {
	return "static"
}

func (p *StaticProvider) Infer(ctx context.Context, req InferenceRequest) (json.RawMessage, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	out := make(json.RawMessage, len(p.response))
	copy(out, p.response)
	return out, nil
}

// ProviderFunc adapts a function to InferenceProvider.
type ProviderFunc func(ctx context.Context, req InferenceRequest) (json.RawMessage, error)

func (f ProviderFunc) Name() string {
	return "func"
}

func (f ProviderFunc) Infer(ctx context.Context, req InferenceRequest) (json.RawMessage, error) {
	return f(ctx, req)
}
