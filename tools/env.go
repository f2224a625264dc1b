package tools

import "os"

// GetenvDefault reads an environment variable, falling back to def when it
// is unset or empty.
func GetenvDefault(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}
