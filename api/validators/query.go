package validators

import (
	"net/http"
	"strconv"
	"strings"

	pkgerrors "github.com/angelmondragon/cartreserve-backend/pkg/errors"
)

// queryValue parses the trimmed query parameter key with parse. Absent or blank values
// yield fallback; unparsable ones a VALIDATION error naming the expected kind.
func queryValue[T any](r *http.Request, key string, fallback T, kind string, parse func(string) (T, error)) (T, error) {
	raw := strings.TrimSpace(r.URL.Query().Get(key))
	if raw == "" {
		return fallback, nil
	}
	v, err := parse(raw)
	if err != nil {
		var zero T
		return zero, pkgerrors.New(pkgerrors.CodeValidation, "query parameter must be "+kind).
			WithDetails(map[string]any{"field": key})
	}
	return v, nil
}

// ParseQueryInt reads an integer in [min, max], defaulting to defaultVal when absent.
func ParseQueryInt(r *http.Request, key string, defaultVal, min, max int) (int, error) {
	v, err := queryValue(r, key, defaultVal, "numeric", strconv.Atoi)
	if err != nil {
		return 0, err
	}
	if v < min || v > max {
		return 0, pkgerrors.New(pkgerrors.CodeValidation, "query parameter out of range").
			WithDetails(map[string]any{"field": key, "min": min, "max": max})
	}
	return v, nil
}

// ParseQueryBool accepts the strconv.ParseBool spellings.
func ParseQueryBool(r *http.Request, key string, defaultVal bool) (bool, error) {
	return queryValue(r, key, defaultVal, "a boolean", strconv.ParseBool)
}
