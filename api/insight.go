package api

import (
	"context"
	"net/http"
	"strings"

	"github.com/gorilla/mux"
	"github.com/malwarebo/pulse/middleware"
	"github.com/malwarebo/pulse/models"
	"github.com/malwarebo/pulse/utils"
)

type InsightGetter interface {
	Supports(insightType models.InsightType) bool
	GetInsight(ctx context.Context, tenantID string, insightType models.InsightType, opts models.GetInsightOptions) (*models.InsightResult, error)
}

type InsightHistoryReader interface {
	History(ctx context.Context, tenantID string, insightType models.InsightType, limit int) ([]*models.CacheEntry, error)
}

type RefreshThrottle interface {
	Allow(ctx context.Context, tenantID, insightType string) (bool, error)
}

type InsightHandler struct {
	insights      InsightGetter
	history       InsightHistoryReader
	throttle      RefreshThrottle
	defaultLocale string
	logger        *utils.Logger
}

// CreateInsightHandler wires the insight endpoints. throttle may be nil.
func CreateInsightHandler(insights InsightGetter, history InsightHistoryReader, throttle RefreshThrottle, defaultLocale string) *InsightHandler {
	return &InsightHandler{
		insights:      insights,
		history:       history,
		throttle:      throttle,
		defaultLocale: defaultLocale,
		logger:        utils.CreateLogger("api"),
	}
}

func (h *InsightHandler) parseType(r *http.Request) (models.InsightType, error) {
	insightType, err := models.ParseInsightType(mux.Vars(r)["type"])
	if err != nil {
		return "", utils.WrapAPIError(err, utils.ErrUnsupportedInsightType)
	}
	return insightType, nil
}

func (h *InsightHandler) HandleGetInsight(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	tenant, ok := middleware.TenantFromContext(ctx)
	if !ok {
		writeError(w, r, utils.ErrUnauthorized)
		return
	}

	insightType, err := h.parseType(r)
	if err != nil {
		writeError(w, r, err)
		return
	}
	if !h.insights.Supports(insightType) {
		writeError(w, r, utils.ErrUnsupportedInsightType)
		return
	}

	refresh, err := middleware.ParseBoolParam(r, "refresh")
	if err != nil {
		writeError(w, r, err)
		return
	}

	if refresh && h.throttle != nil {
		allowed, err := h.throttle.Allow(ctx, tenant.ID, insightType.String())
		switch {
		case err != nil:
			h.logger.Warn(ctx, "Refresh throttle unavailable, allowing request", map[string]interface{}{
				"error": err.Error(),
			})
		case !allowed:
			writeError(w, r, utils.ErrRefreshThrottled)
			return
		}
	}

	result, err := h.insights.GetInsight(ctx, tenant.ID, insightType, models.GetInsightOptions{
		ForceRefresh: refresh,
		Locale:       h.localeFor(r, tenant),
	})
	if err != nil {
		writeError(w, r, err)
		return
	}

	switch {
	case result.Generating:
		writeJSON(w, http.StatusAccepted, result)
	case result.Error != "":
		writeJSON(w, http.StatusBadGateway, result)
	default:
		writeJSON(w, http.StatusOK, result)
	}
}

func (h *InsightHandler) HandleHistory(w http.ResponseWriter, r *http.Request) {
	tenant, ok := middleware.TenantFromContext(r.Context())
	if !ok {
		writeError(w, r, utils.ErrUnauthorized)
		return
	}

	insightType, err := h.parseType(r)
	if err != nil {
		writeError(w, r, err)
		return
	}

	limit, err := middleware.ParseIntParam(r, "limit", defaultPageLimit)
	if err != nil {
		writeError(w, r, err)
		return
	}

	entries, err := h.history.History(r.Context(), tenant.ID, insightType, clampLimit(limit))
	if err != nil {
		writeError(w, r, utils.WrapAPIError(err, utils.ErrDatabaseQuery))
		return
	}
	if entries == nil {
		entries = []*models.CacheEntry{}
	}

	writeJSON(w, http.StatusOK, models.InsightHistoryResponse{
		TenantID:    tenant.ID,
		InsightType: insightType,
		Entries:     entries,
	})
}

// localeFor prefers the query, then the tenant's setting, then the
// server default.
func (h *InsightHandler) localeFor(r *http.Request, tenant *models.Tenant) string {
	if locale := strings.TrimSpace(r.URL.Query().Get("locale")); locale != "" {
		return locale
	}
	if tenant.Locale != "" {
		return tenant.Locale
	}
	return h.defaultLocale
}
