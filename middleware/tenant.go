package middleware

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"github.com/malwarebo/pulse/models"
	"github.com/malwarebo/pulse/security"
	"github.com/malwarebo/pulse/utils"
)

type tenantKey struct{}

// TenantAuthenticator resolves an API key to an active tenant.
type TenantAuthenticator interface {
	Authenticate(ctx context.Context, apiKey string) (*models.Tenant, error)
}

type TenantMiddleware struct {
	tenants TenantAuthenticator
	limiter *security.TieredRateLimiter
}

// CreateTenantMiddleware builds the tenant guard. A nil limiter disables
// per-tenant rate limiting.
func CreateTenantMiddleware(tenants TenantAuthenticator, limiter *security.TieredRateLimiter) *TenantMiddleware {
	return &TenantMiddleware{
		tenants: tenants,
		limiter: limiter,
	}
}

func (tm *TenantMiddleware) TenantContextMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodOptions {
			next.ServeHTTP(w, r)
			return
		}

		apiKey := extractAPIKey(r)
		if apiKey == "" {
			writeErrorResponse(w, r, utils.NewAPIErrorWithDetails(http.StatusUnauthorized, utils.ErrUnauthorized.Message, "API key required"))
			return
		}

		tenant, err := tm.tenants.Authenticate(r.Context(), apiKey)
		if err != nil {
			var apiErr *utils.APIError
			if !errors.As(err, &apiErr) {
				apiErr = utils.ErrInternalServer
			}
			if apiErr.Code >= http.StatusInternalServerError {
				utils.LogError(r.Context(), err, "Tenant lookup failed", nil)
			}
			writeErrorResponse(w, r, apiErr)
			return
		}

		ctx := context.WithValue(r.Context(), tenantKey{}, tenant)
		ctx = utils.WithTenantID(ctx, tenant.ID)

		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// RateLimitMiddleware applies the tenant's tier bucket. Requests without a
// resolved tenant pass through untouched.
func (tm *TenantMiddleware) RateLimitMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		tenant, ok := TenantFromContext(r.Context())
		if tm.limiter == nil || !ok {
			next.ServeHTTP(w, r)
			return
		}

		if !tm.limiter.Allow(tenant.ID, tenant.Tier) {
			w.Header().Set("Retry-After", "1")
			writeErrorResponse(w, r, utils.ErrTooManyRequests)
			return
		}

		next.ServeHTTP(w, r)
	})
}

// InsightsAccessMiddleware rejects tenants whose tier does not include
// insights.
func InsightsAccessMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		tenant, ok := TenantFromContext(r.Context())
		if !ok {
			writeErrorResponse(w, r, utils.ErrUnauthorized)
			return
		}
		if !models.CanAccessInsights(tenant.Tier) {
			writeErrorResponse(w, r, utils.ErrTierNotAllowed)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func TenantFromContext(ctx context.Context) (*models.Tenant, bool) {
	tenant, ok := ctx.Value(tenantKey{}).(*models.Tenant)
	return tenant, ok && tenant != nil
}

// WithTenant is used by handlers under test to skip authentication.
func WithTenant(ctx context.Context, tenant *models.Tenant) context.Context {
	ctx = context.WithValue(ctx, tenantKey{}, tenant)
	return utils.WithTenantID(ctx, tenant.ID)
}

func extractAPIKey(r *http.Request) string {
	if apiKey := strings.TrimSpace(r.Header.Get("X-API-Key")); apiKey != "" {
		return apiKey
	}

	authHeader := r.Header.Get("Authorization")
	if strings.HasPrefix(authHeader, "Bearer ") {
		return strings.TrimSpace(strings.TrimPrefix(authHeader, "Bearer "))
	}

	return ""
}
