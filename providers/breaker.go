package providers

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/malwarebo/pulse/resilience"
	"github.com/malwarebo/pulse/utils"
)

type BreakerConfig struct {
	MaxFailures int
	Cooldown    time.Duration
	Clock       utils.Clock
}

// CircuitBreakerProvider stops calling a failing provider for a cooldown
// and fails fast with utils.ErrProvider instead.
type CircuitBreakerProvider struct {
	next    InferenceProvider
	breaker *resilience.CircuitBreaker
}

func CreateCircuitBreakerProvider(next InferenceProvider, cfg BreakerConfig) *CircuitBreakerProvider {
	logger := utils.CreateLogger("providers")
	breaker := resilience.CreateCircuitBreaker(resilience.CircuitBreakerConfig{
		Name:        next.Name(),
		MaxFailures: cfg.MaxFailures,
		Cooldown:    cfg.Cooldown,
		Clock:       cfg.Clock,
		OnStateChange: func(name string, from, to resilience.CircuitState) {
			logger.Warn(context.Background(), "Provider circuit changed state", map[string]interface{}{
				"provider": name,
				"from":     from.String(),
				"to":       to.String(),
			})
		},
	})
	return &CircuitBreakerProvider{next: next, breaker: breaker}
}

func (p *CircuitBreakerProvider) Name() string {
	return p.next.Name()
}

func (p *CircuitBreakerProvider) State() resilience.CircuitState {
	return p.breaker.State()
}

func (p *CircuitBreakerProvider) Infer(ctx context.Context, req InferenceRequest) (json.RawMessage, error) {
	var out json.RawMessage
	err := p.breaker.Execute(ctx, func(ctx context.Context) error {
		raw, err := p.next.Infer(ctx, req)
		if err != nil {
			return err
		}
		out = raw
		return nil
	})
	if errors.Is(err, resilience.ErrCircuitOpen) {
		return nil, utils.WrapAPIError(err, utils.ErrProvider)
	}
	if err != nil {
		return nil, err
	}
	return out, nil
}
