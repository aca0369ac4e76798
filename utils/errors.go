package utils

import (
	"context"
	"errors"
	"fmt"
	"net/http"
)

type APIError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
	Details string `json:"details,omitempty"`
}

func (e *APIError) Error() string {
	return e.Message
}

func NewAPIError(code int, message string) *APIError {
	return &APIError{
		Code:    code,
		Message: message,
	}
}

func NewAPIErrorWithDetails(code int, message, details string) *APIError {
	return &APIError{
		Code:    code,
		Message: message,
		Details: details,
	}
}

var (
	ErrInvalidRequest  = NewAPIError(http.StatusBadRequest, "Invalid request")
	ErrUnauthorized    = NewAPIError(http.StatusUnauthorized, "Unauthorized")
	ErrNotFound        = NewAPIError(http.StatusNotFound, "Resource not found")
	ErrTooManyRequests = NewAPIError(http.StatusTooManyRequests, "Too many requests")
	ErrInternalServer  = NewAPIError(http.StatusInternalServerError, "Internal server error")
)

// Generation failures. These end an attempt and are recorded on the cache
// entry; none of them is retried internally.
var (
	ErrDataUnavailable  = NewAPIError(http.StatusServiceUnavailable, "Workspace data unavailable")
	ErrSchemaValidation = NewAPIError(http.StatusBadGateway, "Insight response failed schema validation")
	ErrProvider         = NewAPIError(http.StatusBadGateway, "Insight provider error")
)

// ErrLockContention means another attempt holds the generating lock. It is
// control flow, never a failure.
var ErrLockContention = NewAPIError(http.StatusAccepted, "Insight generation already in progress")

var (
	ErrUnsupportedInsightType = NewAPIError(http.StatusBadRequest, "Unsupported insight type")
	ErrTierNotAllowed         = NewAPIError(http.StatusForbidden, "Insights are not available on this plan")
	ErrRefreshThrottled       = NewAPIError(http.StatusTooManyRequests, "Insight refresh requested too recently")
	ErrTenantNotFound         = NewAPIError(http.StatusUnauthorized, "Invalid API key")
	ErrTenantInactive         = NewAPIError(http.StatusForbidden, "Tenant is inactive")
)

var ErrDatabaseQuery = NewAPIError(http.StatusInternalServerError, "Database query failed")

func WrapError(err error, message string) error {
	return fmt.Errorf("%s: %w", message, err)
}

// WrapAPIError keeps both the API error and the cause in the chain so
// callers can match either with errors.Is.
func WrapAPIError(err error, apiErr *APIError) error {
	if err == nil {
		return apiErr
	}
	return fmt.Errorf("%w: %w", apiErr, err)
}

func GetHTTPStatusFromError(err error) int {
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		return apiErr.Code
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return http.StatusGatewayTimeout
	}
	return http.StatusInternalServerError
}

func LogError(ctx context.Context, err error, message string, fields map[string]interface{}) {
	if fields == nil {
		fields = make(map[string]interface{})
	}

	fields["error"] = err.Error()

	Error(ctx, message, fields)
}
