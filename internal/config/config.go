// Package config loads this worker's entire runtime configuration
// from environment variables, once, at process startup. There is no
// YAML or file-based config layer: every tunable spec'd for this
// worker is env-var driven, in the style of the teacher repo's
// internal/app/config.go + internal/utils/env.go.
package config

import (
	"fmt"
	"net/url"
	"os"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/flowforge/pipeline-worker/internal/pkg/envutil"
	"github.com/flowforge/pipeline-worker/internal/pkg/logger"
)

// Config is the fully resolved, validated set of tunables a worker
// process needs for its entire lifetime. Every field is populated by
// Load from the environment.
type Config struct {
	ProjectID   string
	ProjectName string
	ModeFilter  string // empty means "no filter"

	PollInterval      time.Duration
	ExternalAPIBaseURL string
	InternalAPIBaseURL string
	ExternalSecret     string
	InternalSecret     string
	ExternalAPITimeout time.Duration
	PipelineTimeout    time.Duration
	MaxJobRuntime      time.Duration
	RecoveryInterval   time.Duration
	MaxConcurrentJobs  int

	// Postgres connection parameters, assembled into a single DSN by DSN().
	PostgresHost     string
	PostgresPort     string
	PostgresUser     string
	PostgresPassword string
	PostgresName     string

	// LogMode selects the zap preset: "prod"/"production" for JSON
	// output at Info level, anything else for human-readable Debug
	// output. See internal/pkg/logger.New.
	LogMode string

	// MetricsAddr is the listen address for the Prometheus /metrics
	// endpoint, e.g. ":9090". Empty disables the metrics server.
	MetricsAddr string

	// Env is "production", "staging", "development", etc. In
	// production ("production" or "prod") the two base URLs are
	// required, and plain-HTTP non-localhost base URLs warn instead of
	// silently passing.
	Env string

	// InstanceIndex and PID feed WorkerID formatting; PID is always
	// this process's own pid, InstanceIndex comes from an optional
	// env var for cases where a supervisor starts several instances
	// of the same project per host.
	InstanceIndex int
	PID           int

	// RunNonce is a short process-lifetime-unique suffix folded into
	// WorkerID. PIDs get reused across container restarts (often PID 1
	// in a fresh container), so PID+InstanceIndex alone can collide
	// between a crashed worker and its replacement before the crashed
	// one's claimed rows are recovered.
	RunNonce string
}

// Load reads and validates configuration from the environment. A
// missing required value is a fatal startup error per spec — the
// caller is expected to log and os.Exit(1) on a non-nil error.
func Load(log *logger.Logger) (*Config, error) {
	cfg := &Config{
		ProjectID:   envutil.GetString("PROJECT_ID", "", log),
		ProjectName: envutil.GetString("PROJECT_NAME", "", log),
		ModeFilter:  envutil.GetString("MODE_FILTER", "", log),

		PollInterval:       envutil.GetDuration("POLL_INTERVAL", 10*time.Second, log),
		ExternalAPIBaseURL: envutil.GetString("EXTERNAL_API_BASE_URL", "", log),
		InternalAPIBaseURL: envutil.GetString("INTERNAL_API_BASE_URL", "", log),
		ExternalSecret:     envutil.GetString("EXTERNAL_SECRET", "", log),
		InternalSecret:     envutil.GetString("INTERNAL_SECRET", "", log),
		ExternalAPITimeout: envutil.GetDuration("EXTERNAL_API_TIMEOUT", 30*time.Second, log),
		PipelineTimeout:    envutil.GetDuration("PIPELINE_TIMEOUT", 90*time.Minute, log),
		MaxJobRuntime:      envutil.GetDuration("MAX_JOB_RUNTIME", 90*time.Minute, log),
		RecoveryInterval:   envutil.GetDuration("RECOVERY_INTERVAL", time.Hour, log),
		MaxConcurrentJobs:  envutil.GetInt("MAX_CONCURRENT_JOBS", 1, log),

		PostgresHost:     envutil.GetString("POSTGRES_HOST", "localhost", log),
		PostgresPort:     envutil.GetString("POSTGRES_PORT", "5432", log),
		PostgresUser:     envutil.GetString("POSTGRES_USER", "postgres", log),
		PostgresPassword: envutil.GetString("POSTGRES_PASSWORD", "", log),
		PostgresName:     envutil.GetString("POSTGRES_NAME", "pipeline_worker", log),

		LogMode:     envutil.GetString("LOG_MODE", "development", log),
		MetricsAddr: envutil.GetString("METRICS_ADDR", ":9090", log),
		Env:         envutil.GetString("ENV", "development", log),

		InstanceIndex: envutil.GetInt("INSTANCE_INDEX", 0, log),
		PID:           os.Getpid(),
		RunNonce:      uuid.NewString()[:8],
	}

	cfg.MaxConcurrentJobs = clamp(cfg.MaxConcurrentJobs, 1, 100)

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) validate() error {
	var missing []string
	if c.ProjectID == "" {
		missing = append(missing, "PROJECT_ID")
	}
	if c.ProjectName == "" {
		missing = append(missing, "PROJECT_NAME")
	}
	if c.ExternalSecret == "" {
		missing = append(missing, "EXTERNAL_SECRET")
	}
	if c.InternalSecret == "" {
		missing = append(missing, "INTERNAL_SECRET")
	}
	if strings.EqualFold(c.Env, "production") || strings.EqualFold(c.Env, "prod") {
		if c.ExternalAPIBaseURL == "" {
			missing = append(missing, "EXTERNAL_API_BASE_URL")
		}
		if c.InternalAPIBaseURL == "" {
			missing = append(missing, "INTERNAL_API_BASE_URL")
		}
	}
	if len(missing) > 0 {
		return fmt.Errorf("missing required configuration: %s", strings.Join(missing, ", "))
	}
	return nil
}

// WarnInsecureURLs logs (does not reject) any base URL that is plain
// HTTP with a non-localhost host, when Env is production.
func (c *Config) WarnInsecureURLs(log *logger.Logger) {
	if !strings.EqualFold(c.Env, "production") && !strings.EqualFold(c.Env, "prod") {
		return
	}
	warnIfInsecure(log, "EXTERNAL_API_BASE_URL", c.ExternalAPIBaseURL)
	warnIfInsecure(log, "INTERNAL_API_BASE_URL", c.InternalAPIBaseURL)
}

func warnIfInsecure(log *logger.Logger, name, raw string) {
	if raw == "" {
		return
	}
	u, err := url.Parse(raw)
	if err != nil {
		return
	}
	host := u.Hostname()
	if u.Scheme == "http" && host != "localhost" && host != "127.0.0.1" {
		log.Warn("insecure plain-HTTP base URL configured for a non-local host", "setting", name, "url", raw)
	}
}

// DSN assembles the Postgres connection string from the individual
// POSTGRES_* settings.
func (c *Config) DSN() string {
	return fmt.Sprintf(
		"postgres://%s:%s@%s:%s/%s?sslmode=disable",
		c.PostgresUser, c.PostgresPassword, c.PostgresHost, c.PostgresPort, c.PostgresName,
	)
}

// WorkerID formats this process's unique worker identifier:
// worker-<sanitized-project-name>-<instance-index>-<process-id>-<run-nonce>.
func (c *Config) WorkerID() string {
	sanitized := sanitizeProjectName(c.ProjectName)
	return fmt.Sprintf("worker-%s-%d-%d-%s", sanitized, c.InstanceIndex, c.PID, c.RunNonce)
}

func sanitizeProjectName(name string) string {
	name = strings.ToLower(strings.TrimSpace(name))
	var b strings.Builder
	for _, r := range name {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9':
			b.WriteRune(r)
		case r == '-' || r == '_' || r == ' ':
			b.WriteByte('-')
		}
	}
	out := b.String()
	for strings.Contains(out, "--") {
		out = strings.ReplaceAll(out, "--", "-")
	}
	return strings.Trim(out, "-")
}

func clamp(v, min, max int) int {
	if v < min {
		return min
	}
	if v > max {
		return max
	}
	return v
}
