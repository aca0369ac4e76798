package resilience

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/malwarebo/pulse/utils"
)

var ErrCircuitOpen = errors.New("circuit breaker is open")

type CircuitState int

const (
	CircuitClosed CircuitState = iota
	CircuitOpen
	CircuitHalfOpen
)

// CircuitBreaker counts consecutive failures of a guarded call. Once the
// count reaches MaxFailures calls fail fast with ErrCircuitOpen until
// Cooldown has passed, after which a limited number of trial calls decide
// whether the circuit closes again.
type CircuitBreaker struct {
	name        string
	maxFailures int
	cooldown    time.Duration
	trials      int
	clock       utils.Clock

	mu          sync.Mutex
	state       CircuitState
	failures    int
	inFlight    int
	successes   int
	lastFailure time.Time

	onStateChange func(name string, from, to CircuitState)
}

type CircuitBreakerConfig struct {
	Name          string
	MaxFailures   int
	Cooldown      time.Duration
	HalfOpenMax   int
	Clock         utils.Clock
	OnStateChange func(name string, from, to CircuitState)
}

func CreateCircuitBreaker(cfg CircuitBreakerConfig) *CircuitBreaker {
	if cfg.MaxFailures <= 0 {
		cfg.MaxFailures = 5
	}
	if cfg.Cooldown <= 0 {
		cfg.Cooldown = 30 * time.Second
	}
	if cfg.HalfOpenMax <= 0 {
		cfg.HalfOpenMax = 1
	}
	if cfg.Clock == nil {
		cfg.Clock = utils.SystemClock
	}

	return &CircuitBreaker{
		name:          cfg.Name,
		maxFailures:   cfg.MaxFailures,
		cooldown:      cfg.Cooldown,
		trials:        cfg.HalfOpenMax,
		clock:         cfg.Clock,
		state:         CircuitClosed,
		onStateChange: cfg.OnStateChange,
	}
}

// Execute runs fn on the caller's goroutine when the circuit allows it.
// Cancellation is left to fn, which receives ctx.
func (cb *CircuitBreaker) Execute(ctx context.Context, fn func(context.Context) error) error {
	if !cb.allowRequest() {
		return ErrCircuitOpen
	}
	err := fn(ctx)
	cb.recordResult(err)
	return err
}

func (cb *CircuitBreaker) allowRequest() bool {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	switch cb.state {
	case CircuitClosed:
		return true
	case CircuitOpen:
		if cb.clock.Now().Sub(cb.lastFailure) < cb.cooldown {
			return false
		}
		cb.transitionTo(CircuitHalfOpen)
		fallthrough
	case CircuitHalfOpen:
		if cb.inFlight >= cb.trials {
			return false
		}
		cb.inFlight++
		return true
	}
	return false
}

func (cb *CircuitBreaker) recordResult(err error) {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	if cb.state == CircuitHalfOpen && cb.inFlight > 0 {
		cb.inFlight--
	}

	if err != nil {
		cb.failures++
		cb.lastFailure = cb.clock.Now()

		switch cb.state {
		case CircuitClosed:
			if cb.failures >= cb.maxFailures {
				cb.transitionTo(CircuitOpen)
			}
		case CircuitHalfOpen:
			cb.transitionTo(CircuitOpen)
		}
		return
	}

	switch cb.state {
	case CircuitClosed:
		cb.failures = 0
	case CircuitHalfOpen:
		cb.successes++
		if cb.successes >= cb.trials {
			cb.transitionTo(CircuitClosed)
		}
	}
}

func (cb *CircuitBreaker) transitionTo(newState CircuitState) {
	if cb.state == newState {
		return
	}

	oldState := cb.state
	cb.state = newState
	cb.failures = 0
	cb.successes = 0
	cb.inFlight = 0

	if cb.onStateChange != nil {
		cb.onStateChange(cb.name, oldState, newState)
	}
}

func (cb *CircuitBreaker) State() CircuitState {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	return cb.state
}

func (cb *CircuitBreaker) Reset() {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	cb.state = CircuitClosed
	cb.failures = 0
	cb.successes = 0
	cb.inFlight = 0
}

func (s CircuitState) String() string {
	switch s {
	case CircuitClosed:
		return "closed"
	case CircuitOpen:
		return "open"
	case CircuitHalfOpen:
		return "half-open"
	default:
		return "unknown"
	}
}
