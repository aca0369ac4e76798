package providers

import (
	"context"
	"encoding/json"
)

// InferenceProvider is the boundary to an external reasoning service. A
// provider returns the raw structured document; decoding and validation
// belong to the caller.
type InferenceProvider interface {
	Name() string
	Infer(ctx context.Context, req InferenceRequest) (json.RawMessage, error)
}

type InferenceRequest struct {
	// Instructions is the localized system prompt.
	Instructions string
	// Context is the serialized workspace document the instructions refer to.
	Context string
	// SchemaName and Schema describe the JSON document the provider must
	// return. Providers that support structured output pass them through.
	SchemaName string
	Schema     map[string]interface{}
}
