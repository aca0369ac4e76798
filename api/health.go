package api

import (
	"context"
	"net/http"
	"runtime"
	"time"

	"github.com/malwarebo/pulse/utils"
)

type HealthResponse struct {
	Status    string            `json:"status"`
	Timestamp time.Time         `json:"timestamp"`
	Uptime    string            `json:"uptime"`
	Checks    map[string]string `json:"checks,omitempty"`
}

type MetricsResponse struct {
	GoRoutines int               `json:"goroutines"`
	Memory     Memory            `json:"memory"`
	Uptime     string            `json:"uptime"`
	Providers  map[string]string `json:"providers,omitempty"`
}

type Memory struct {
	Alloc      uint64 `json:"alloc"`
	TotalAlloc uint64 `json:"total_alloc"`
	Sys        uint64 `json:"sys"`
	NumGC      uint32 `json:"num_gc"`
}

// Pinger is satisfied by *sql.DB. Wrap other checks in PingFunc.
type Pinger interface {
	PingContext(ctx context.Context) error
}

type PingFunc func(ctx context.Context) error

func (f PingFunc) PingContext(ctx context.Context) error { return f(ctx) }

type HealthHandler struct {
	checks    map[string]Pinger
	providers map[string]func() string
	started   time.Time
}

func CreateHealthHandler() *HealthHandler {
	return &HealthHandler{
		checks:    make(map[string]Pinger),
		providers: make(map[string]func() string),
		started:   time.Now(),
	}
}

// AddCheck registers a dependency that must answer for /ready to pass.
func (h *HealthHandler) AddCheck(name string, p Pinger) {
	h.checks[name] = p
}

// AddProvider exposes a provider's circuit state on /metrics.
func (h *HealthHandler) AddProvider(name string, state func() string) {
	h.providers[name] = state
}

func (h *HealthHandler) HealthCheck(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, HealthResponse{
		Status:    "healthy",
		Timestamp: time.Now().UTC(),
		Uptime:    time.Since(h.started).String(),
	})
}

func (h *HealthHandler) ReadinessCheck(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()

	resp := HealthResponse{
		Status:    "ready",
		Timestamp: time.Now().UTC(),
		Uptime:    time.Since(h.started).String(),
		Checks:    make(map[string]string, len(h.checks)),
	}
	status := http.StatusOK
	for name, check := range h.checks {
		if err := check.PingContext(ctx); err != nil {
			utils.LogError(ctx, err, "Readiness check failed", map[string]interface{}{
				"check": name,
			})
			resp.Checks[name] = "unavailable"
			resp.Status = "unavailable"
			status = http.StatusServiceUnavailable
			continue
		}
		resp.Checks[name] = "ok"
	}

	writeJSON(w, status, resp)
}

func (h *HealthHandler) Metrics(w http.ResponseWriter, r *http.Request) {
	var m runtime.MemStats
	runtime.ReadMemStats(&m)

	resp := MetricsResponse{
		GoRoutines: runtime.NumGoroutine(),
		Memory: Memory{
			Alloc:      m.Alloc,
			TotalAlloc: m.TotalAlloc,
			Sys:        m.Sys,
			NumGC:      m.NumGC,
		},
		Uptime: time.Since(h.started).String(),
	}
	if len(h.providers) > 0 {
		resp.Providers = make(map[string]string, len(h.providers))
		for name, state := range h.providers {
			resp.Providers[name] = state()
		}
	}

	writeJSON(w, http.StatusOK, resp)
}
