package env

import "os"

// First returns the first non-empty value among keys, or fallback. Callers list the
// namespaced key before any legacy alias.
func First(fallback string, keys ...string) string {
	for _, key := range keys {
		if v, ok := os.LookupEnv(key); ok && v != "" {
			return v
		}
	}
	return fallback
}
