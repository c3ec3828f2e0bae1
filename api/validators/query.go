package validators

import (
	"net/http"
	"strconv"
	"strings"

	pkgerrors "github.com/digimarket/marketcore/pkg/errors"
)

const maxCursorLength = 512

// ParseQueryInt reads an optional integer query parameter bounded by [min, max].
func ParseQueryInt(r *http.Request, key string, defaultVal, min, max int) (int, error) {
	raw := strings.TrimSpace(r.URL.Query().Get(key))
	if raw == "" {
		return defaultVal, nil
	}
	value, err := strconv.Atoi(raw)
	if err != nil {
		return 0, pkgerrors.Validation("query parameter must be numeric", map[string]any{"field": key})
	}
	if value < min || value > max {
		return 0, pkgerrors.Validation("query parameter out of range", map[string]any{"field": key, "min": min, "max": max})
	}
	return value, nil
}

// ParseQueryBool reads an optional boolean query parameter.
func ParseQueryBool(r *http.Request, key string, defaultVal bool) (bool, error) {
	raw := strings.TrimSpace(r.URL.Query().Get(key))
	if raw == "" {
		return defaultVal, nil
	}
	value, err := strconv.ParseBool(raw)
	if err != nil {
		return false, pkgerrors.Validation("query parameter must be a boolean", map[string]any{"field": key})
	}
	return value, nil
}

// ParseCursor returns the opaque pagination cursor, rejecting oversized values before
// they reach the decoder.
func ParseCursor(r *http.Request) (string, error) {
	cursor := strings.TrimSpace(r.URL.Query().Get("cursor"))
	if len(cursor) > maxCursorLength {
		return "", pkgerrors.Validation("cursor is too long", map[string]any{"field": "cursor", "max": maxCursorLength})
	}
	return cursor, nil
}
