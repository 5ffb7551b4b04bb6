package enums

import (
	"fmt"
	"slices"
)

// member reports whether v is one of the declared values.
func member[T ~string](values []T, v T) bool {
	return slices.Contains(values, v)
}

// parse matches raw exactly against values; stored enums are case sensitive.
func parse[T ~string](kind string, values []T, raw string) (T, error) {
	if v := T(raw); member(values, v) {
		return v, nil
	}
	var zero T
	return zero, fmt.Errorf("invalid %s %q", kind, raw)
}
