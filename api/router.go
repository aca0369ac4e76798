package api

import (
	"net/http"

	"github.com/gorilla/mux"
	"github.com/malwarebo/pulse/middleware"
)

type RouterConfig struct {
	Insights       *InsightHandler
	Health         *HealthHandler
	Tenants        *middleware.TenantMiddleware
	AllowedOrigins []string
}

// CreateRouter mounts everything under /api/v1. Health endpoints are
// public; insight endpoints need a tenant whose tier includes insights.
func CreateRouter(cfg RouterConfig) *mux.Router {
	router := mux.NewRouter()

	router.Use(middleware.RecoveryMiddleware)
	router.Use(middleware.CorrelationMiddleware)
	router.Use(middleware.LoggingMiddleware)
	router.Use(middleware.CreateCORSMiddleware(cfg.AllowedOrigins))

	apiRouter := router.PathPrefix("/api/v1").Subrouter()
	apiRouter.HandleFunc("/health", cfg.Health.HealthCheck).Methods(http.MethodGet)
	apiRouter.HandleFunc("/ready", cfg.Health.ReadinessCheck).Methods(http.MethodGet)
	apiRouter.HandleFunc("/metrics", cfg.Health.Metrics).Methods(http.MethodGet)

	insightRouter := apiRouter.PathPrefix("/insights").Subrouter()
	insightRouter.Use(cfg.Tenants.TenantContextMiddleware)
	insightRouter.Use(cfg.Tenants.RateLimitMiddleware)
	insightRouter.Use(middleware.InsightsAccessMiddleware)
	insightRouter.HandleFunc("/{type}", cfg.Insights.HandleGetInsight).Methods(http.MethodGet, http.MethodOptions)
	insightRouter.HandleFunc("/{type}/history", cfg.Insights.HandleHistory).Methods(http.MethodGet, http.MethodOptions)

	return router
}
