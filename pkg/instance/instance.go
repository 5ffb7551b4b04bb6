package instance

import "os"

// ID names the running process in logs and lock owners. Platform dyno names win over the
// explicit CARTRESERVE_INSTANCE_ID, then the hostname.
func ID() string {
	for _, key := range []string{"DYNO", "CARTRESERVE_INSTANCE_ID"} {
		if id := os.Getenv(key); id != "" {
			return id
		}
	}
	if host, err := os.Hostname(); err == nil && host != "" {
		return host
	}
	return "local"
}
