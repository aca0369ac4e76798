package api

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/malwarebo/pulse/utils"
)

const (
	defaultPageLimit = 20
	maxPageLimit     = 100
)

type ErrorResponse struct {
	Error     string `json:"error"`
	Details   string `json:"details,omitempty"`
	RequestID string `json:"request_id,omitempty"`
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		http.Error(w, "Failed to encode response", http.StatusInternalServerError)
		return
	}
}

// writeError maps err onto its APIError status. Server-side failures are
// logged and their cause is kept out of the body.
func writeError(w http.ResponseWriter, r *http.Request, err error) {
	status := utils.GetHTTPStatusFromError(err)
	resp := ErrorResponse{
		Error:     http.StatusText(status),
		RequestID: utils.GetCorrelationID(r.Context()),
	}

	var apiErr *utils.APIError
	if errors.As(err, &apiErr) {
		resp.Error = apiErr.Message
		resp.Details = apiErr.Details
	}

	if status >= http.StatusInternalServerError {
		utils.LogError(r.Context(), err, "Request failed", map[string]interface{}{
			"path":   r.URL.Path,
			"status": status,
		})
	}

	writeJSON(w, status, resp)
}

func clampLimit(limit int) int {
	if limit <= 0 {
		return defaultPageLimit
	}
	if limit > maxPageLimit {
		return maxPageLimit
	}
	return limit
}
