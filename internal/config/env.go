package config

import (
	"os"
	"path/filepath"
	"strconv"
	"time"
)

// envSearchDepth bounds how far findEnvFile climbs from the working directory
const envSearchDepth = 5

// findEnvFile returns the nearest .env in the working directory or one of its
// parents, so gmaint behaves the same when started from a plan subdirectory
func findEnvFile() (string, bool) {
	dir, err := os.Getwd()
	if err != nil {
		return "", false
	}
	for i := 0; i < envSearchDepth; i++ {
		candidate := filepath.Join(dir, ".env")
		if info, err := os.Stat(candidate); err == nil && !info.IsDir() {
			return candidate, true
		}
		parent := filepath.Dir(dir)
		if parent == dir {
			break
		}
		dir = parent
	}
	return "", false
}

// GetString returns the variable, or def when it is unset or empty
func GetString(key, def string) string {
	if val, ok := os.LookupEnv(key); ok && val != "" {
		return val
	}
	return def
}

// GetInt returns the variable parsed as an int, or def
func GetInt(key string, def int) int {
	n, err := strconv.Atoi(os.Getenv(key))
	if err != nil {
		return def
	}
	return n
}

// GetBool returns the variable parsed as a bool, or def
func GetBool(key string, def bool) bool {
	b, err := strconv.ParseBool(os.Getenv(key))
	if err != nil {
		return def
	}
	return b
}

// GetDuration returns the variable as a duration, or def. Bare integers are
// seconds, matching the pipeline's timeout variables.
func GetDuration(key string, def time.Duration) time.Duration {
	val := os.Getenv(key)
	if d, err := time.ParseDuration(val); err == nil {
		return d
	}
	if secs, err := strconv.Atoi(val); err == nil {
		return time.Duration(secs) * time.Second
	}
	return def
}
