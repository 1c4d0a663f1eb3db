// Package envutil reads process environment variables with defaults,
// logging each lookup at Debug level the way the rest of this codebase
// logs configuration decisions made at startup.
package envutil

import (
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/flowforge/pipeline-worker/internal/pkg/logger"
)

func GetString(key, defaultVal string, log *logger.Logger) string {
	if log != nil {
		log = log.With("env_var", key)
	}
	val, ok := os.LookupEnv(key)
	if !ok {
		if log != nil {
			log.Debug("environment variable not found, using default", "default", defaultVal)
		}
		return defaultVal
	}
	if log != nil {
		log.Debug("environment variable found", "value", val)
	}
	return val
}

func GetInt(key string, defaultVal int, log *logger.Logger) int {
	if log != nil {
		log = log.With("env_var", key)
	}
	valStr, ok := os.LookupEnv(key)
	if !ok {
		if log != nil {
			log.Debug("environment variable not found, using default", "default", defaultVal)
		}
		return defaultVal
	}
	i, err := strconv.Atoi(valStr)
	if err != nil {
		if log != nil {
			log.Debug("environment variable could not be parsed as int, using default", "provided", valStr, "default", defaultVal, "error", err)
		}
		return defaultVal
	}
	if log != nil {
		log.Debug("environment variable found", "value", i)
	}
	return i
}

// GetDuration parses a Go duration string (e.g. "30s", "90m"). Bare
// integers are interpreted as seconds for convenience.
func GetDuration(key string, defaultVal time.Duration, log *logger.Logger) time.Duration {
	if log != nil {
		log = log.With("env_var", key)
	}
	valStr, ok := os.LookupEnv(key)
	if !ok {
		if log != nil {
			log.Debug("environment variable not found, using default", "default", defaultVal)
		}
		return defaultVal
	}
	valStr = strings.TrimSpace(valStr)
	if d, err := time.ParseDuration(valStr); err == nil {
		if log != nil {
			log.Debug("environment variable found", "value", d)
		}
		return d
	}
	if secs, err := strconv.Atoi(valStr); err == nil {
		d := time.Duration(secs) * time.Second
		if log != nil {
			log.Debug("environment variable found (bare seconds)", "value", d)
		}
		return d
	}
	if log != nil {
		log.Debug("environment variable could not be parsed as a duration, using default", "provided", valStr, "default", defaultVal)
	}
	return defaultVal
}

func GetBool(key string, defaultVal bool, log *logger.Logger) bool {
	if log != nil {
		log = log.With("env_var", key)
	}
	val, ok := os.LookupEnv(key)
	if !ok {
		return defaultVal
	}
	val = strings.TrimSpace(strings.ToLower(val))
	switch val {
	case "1", "true", "yes", "on":
		return true
	case "0", "false", "no", "off":
		return false
	default:
		if log != nil {
			log.Debug("environment variable could not be parsed as bool, using default", "provided", val, "default", defaultVal)
		}
		return defaultVal
	}
}
