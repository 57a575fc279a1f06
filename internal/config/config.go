package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"
)

// Config captures runtime configuration sourced from environment variables.
type Config struct {
	Environment string
	HTTPPort    string
	Debug       bool
	LogDir      string

	DatabaseDriver string
	DatabaseDSN    string

	// PolicyFile optionally points at a YAML document replacing the built-in
	// rate-limit policies and anomaly patterns.
	PolicyFile string

	StoreTimeout      time.Duration
	AttemptRetention  time.Duration
	IncidentMaxAge    time.Duration
	SuspicionLookback time.Duration
	DetectorQueue     int
	DetectorWorkers   int
	SweepSchedule     string

	OperatorSecret string

	Kafka  KafkaConfig
	Notify NotifyConfig

	Policies Policies
	Patterns Patterns
}

// KafkaConfig describes the optional activity stream subscription.
type KafkaConfig struct {
	Brokers []string
	Topic   string
	GroupID string
}

// Enabled reports whether enough settings are present to start a reader.
func (k KafkaConfig) Enabled() bool {
	return len(k.Brokers) > 0 && k.Topic != ""
}

// NotifyConfig lists shoutrrr service URLs that receive incident alerts.
type NotifyConfig struct {
	URLs        []string
	MinSeverity string
}

// Load reads env vars and falls back to defaults so the server can boot with zero configuration.
func Load() (Config, error) {
	cfg := Config{
		Environment:       getEnv("GUARD_ENV", "development"),
		HTTPPort:          getEnv("GUARD_HTTP_PORT", "8080"),
		Debug:             getEnvBool("GUARD_DEBUG", false),
		LogDir:            getEnv("GUARD_LOG_DIR", filepath.Join("data", "logs")),
		DatabaseDriver:    strings.ToLower(getEnv("GUARD_DB_DRIVER", "sqlite")),
		DatabaseDSN:       getEnv("GUARD_DB_DSN", filepath.Join("data", "guard.db")),
		PolicyFile:        getEnv("GUARD_POLICY_FILE", ""),
		StoreTimeout:      getEnvDuration("GUARD_STORE_TIMEOUT", 2*time.Second),
		AttemptRetention:  getEnvDuration("GUARD_ATTEMPT_RETENTION", 24*time.Hour),
		IncidentMaxAge:    getEnvDuration("GUARD_INCIDENT_MAX_AGE", 72*time.Hour),
		SuspicionLookback: getEnvDuration("GUARD_SUSPICION_LOOKBACK", time.Hour),
		DetectorQueue:     getEnvInt("GUARD_DETECTOR_QUEUE", 1024),
		DetectorWorkers:   getEnvInt("GUARD_DETECTOR_WORKERS", 4),
		SweepSchedule:     getEnv("GUARD_SWEEP_SCHEDULE", ""),
		OperatorSecret:    getEnv("GUARD_OPERATOR_SECRET", ""),
		Kafka: KafkaConfig{
			Brokers: splitList(getEnv("GUARD_KAFKA_BROKERS", "")),
			Topic:   getEnv("GUARD_KAFKA_TOPIC", ""),
			GroupID: getEnv("GUARD_KAFKA_GROUP", "buildrs-guard"),
		},
		Notify: NotifyConfig{
			URLs:        splitList(getEnv("GUARD_NOTIFY_URLS", "")),
			MinSeverity: getEnv("GUARD_NOTIFY_MIN_SEVERITY", "high"),
		},
		Policies: DefaultPolicies(),
		Patterns: DefaultPatterns(),
	}

	if cfg.DatabaseDriver == "sqlite" && !strings.HasPrefix(cfg.DatabaseDSN, "file:") {
		if err := os.MkdirAll(filepath.Dir(cfg.DatabaseDSN), 0o755); err != nil {
			return Config{}, fmt.Errorf("ensure data directory: %w", err)
		}
	}

	if cfg.PolicyFile != "" {
		policies, patterns, err := LoadPolicyFile(cfg.PolicyFile)
		if err != nil {
			return Config{}, fmt.Errorf("load policy file: %w", err)
		}
		if len(policies.List()) > 0 {
			cfg.Policies = policies
		}
		if len(patterns.List()) > 0 {
			cfg.Patterns = patterns
		}
	}

	return cfg, nil
}

func getEnv(key, fallback string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}

	return fallback
}

func getEnvBool(key string, fallback bool) bool {
	val := os.Getenv(key)
	if val == "" {
		return fallback
	}
	parsed, err := strconv.ParseBool(val)
	if err != nil {
		return fallback
	}
	return parsed
}

func getEnvInt(key string, fallback int) int {
	val := os.Getenv(key)
	if val == "" {
		return fallback
	}
	parsed, err := strconv.Atoi(val)
	if err != nil || parsed <= 0 {
		return fallback
	}
	return parsed
}

func getEnvDuration(key string, fallback time.Duration) time.Duration {
	val := os.Getenv(key)
	if val == "" {
		return fallback
	}
	parsed, err := time.ParseDuration(val)
	if err != nil || parsed <= 0 {
		return fallback
	}
	return parsed
}

func splitList(raw string) []string {
	if strings.TrimSpace(raw) == "" {
		return nil
	}
	parts := strings.Split(raw, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}
