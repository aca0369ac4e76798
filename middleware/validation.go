package middleware

import (
	"net/http"
	"strconv"
	"strings"

	"github.com/malwarebo/pulse/utils"
)

// ParseIntParam reads an integer query parameter, falling back to
// defaultValue when it is absent.
func ParseIntParam(r *http.Request, param string, defaultValue int) (int, error) {
	value := strings.TrimSpace(r.URL.Query().Get(param))
	if value == "" {
		return defaultValue, nil
	}

	parsed, err := strconv.Atoi(value)
	if err != nil {
		return 0, utils.NewAPIErrorWithDetails(http.StatusBadRequest, utils.ErrInvalidRequest.Message, param+" must be an integer")
	}
	return parsed, nil
}

// ParseBoolParam accepts the strconv.ParseBool spellings. An absent
// parameter is false.
func ParseBoolParam(r *http.Request, param string) (bool, error) {
	value := strings.TrimSpace(r.URL.Query().Get(param))
	if value == "" {
		return false, nil
	}

	parsed, err := strconv.ParseBool(value)
	if err != nil {
		return false, utils.NewAPIErrorWithDetails(http.StatusBadRequest, utils.ErrInvalidRequest.Message, param+" must be a boolean")
	}
	return parsed, nil
}
