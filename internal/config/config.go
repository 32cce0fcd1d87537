// Package config loads process configuration from the environment.
// A .env file in the working directory is read first when present.
package config

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"

	"github.com/resulta/resulta-proxy/pkg/logging"
)

// Backend defaults.
const (
	DefaultRegularBackendURL = "https://multi-result-beu-regular.vercel.app/api/regular/result"
	DefaultLEBackendURL      = "https://multi-result-beu-le.vercel.app/api/le/result"
	DefaultExamListURL       = "https://beu-bih.ac.in/backend/v1/result/sem-get"
	DefaultUserAgent         = "resulta-proxy/1.0"
)

// Exam list TTL bounds.
const (
	MinExamListCacheTTL = time.Hour
	MaxExamListCacheTTL = 30 * 24 * time.Hour
)

// Config holds all process configuration.
type Config struct {
	// Server
	Port            string
	LogLevel        string
	LogPretty       bool
	ShutdownTimeout time.Duration

	// Cache store. Empty RedisURL selects the in-memory store.
	RedisURL string

	// Upstreams
	RegularBackendURL string
	LEBackendURL      string
	ExamListURL       string
	UserAgent         string
	UpstreamTimeout   time.Duration

	// Batching
	BatchStep        int
	FetchConcurrency int

	// Caching
	BatchCacheTTL    time.Duration
	ExamListCacheTTL time.Duration

	// PurgeSecret guards PURGE on the exam list. Empty disables purging.
	PurgeSecret string

	BackgroundTaskTimeout time.Duration
}

// Load reads configuration from the environment and validates it.
func Load() (*Config, error) {
	_ = godotenv.Load()

	cfg := &Config{
		Port:            getEnv("PORT", "8080"),
		LogLevel:        getEnv("LOG_LEVEL", "info"),
		LogPretty:       getBoolEnv("LOG_PRETTY", false),
		ShutdownTimeout: getDurationEnv("SHUTDOWN_TIMEOUT", 30*time.Second),

		RedisURL: getEnv("REDIS_URL", ""),

		RegularBackendURL: getEnv("REGULAR_BACKEND_URL", DefaultRegularBackendURL),
		LEBackendURL:      getEnv("LE_BACKEND_URL", DefaultLEBackendURL),
		ExamListURL:       getEnv("EXAM_LIST_URL", DefaultExamListURL),
		UserAgent:         getEnv("USER_AGENT", DefaultUserAgent),
		UpstreamTimeout:   getDurationEnv("UPSTREAM_TIMEOUT", 35*time.Second),

		BatchStep:        getIntEnv("BATCH_STEP", 5),
		FetchConcurrency: getIntEnv("FETCH_CONCURRENCY", 1),

		BatchCacheTTL:    getDurationEnv("BATCH_CACHE_TTL", 96*time.Hour),
		ExamListCacheTTL: getDurationEnv("EXAM_LIST_CACHE_TTL", time.Hour),

		PurgeSecret: os.Getenv("PURGE_SECRET"),

		BackgroundTaskTimeout: getDurationEnv("BACKGROUND_TASK_TIMEOUT", 10*time.Second),
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}
	return cfg, nil
}

// Validate reports every invalid setting at once.
func (c *Config) Validate() error {
	var errs []error

	if c.Port == "" {
		errs = append(errs, errors.New("PORT is required"))
	}
	if !logging.ValidLevel(c.LogLevel) {
		errs = append(errs, fmt.Errorf("LOG_LEVEL must be debug, info, warn or error, got %q", c.LogLevel))
	}
	for name, raw := range map[string]string{
		"REGULAR_BACKEND_URL": c.RegularBackendURL,
		"LE_BACKEND_URL":      c.LEBackendURL,
		"EXAM_LIST_URL":       c.ExamListURL,
	} {
		if err := validateURL(raw); err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", name, err))
		}
	}
	if c.UserAgent == "" {
		errs = append(errs, errors.New("USER_AGENT is required"))
	}
	if c.UpstreamTimeout <= 0 {
		errs = append(errs, fmt.Errorf("UPSTREAM_TIMEOUT must be positive, got %v", c.UpstreamTimeout))
	}
	if c.BatchStep < 1 {
		errs = append(errs, fmt.Errorf("BATCH_STEP must be >= 1, got %d", c.BatchStep))
	}
	if c.FetchConcurrency < 1 {
		errs = append(errs, fmt.Errorf("FETCH_CONCURRENCY must be >= 1, got %d", c.FetchConcurrency))
	}
	if c.BatchCacheTTL <= 0 {
		errs = append(errs, fmt.Errorf("BATCH_CACHE_TTL must be positive, got %v", c.BatchCacheTTL))
	}
	if c.ExamListCacheTTL < MinExamListCacheTTL || c.ExamListCacheTTL > MaxExamListCacheTTL {
		errs = append(errs, fmt.Errorf("EXAM_LIST_CACHE_TTL must be between %v and %v, got %v",
			MinExamListCacheTTL, MaxExamListCacheTTL, c.ExamListCacheTTL))
	}
	if c.ShutdownTimeout <= 0 {
		errs = append(errs, fmt.Errorf("SHUTDOWN_TIMEOUT must be positive, got %v", c.ShutdownTimeout))
	}
	if c.BackgroundTaskTimeout <= 0 {
		errs = append(errs, fmt.Errorf("BACKGROUND_TASK_TIMEOUT must be positive, got %v", c.BackgroundTaskTimeout))
	}

	return errors.Join(errs...)
}

func validateURL(raw string) error {
	u, err := url.Parse(raw)
	if err != nil {
		return err
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return fmt.Errorf("scheme must be http or https, got %q", u.Scheme)
	}
	if u.Host == "" {
		return errors.New("host is required")
	}
	return nil
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getIntEnv(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intValue, err := strconv.Atoi(value); err == nil {
			return intValue
		}
	}
	return defaultValue
}

func getBoolEnv(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if b, err := strconv.ParseBool(strings.TrimSpace(value)); err == nil {
			return b
		}
	}
	return defaultValue
}

func getDurationEnv(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if duration, err := time.ParseDuration(value); err == nil {
			return duration
		}
	}
	return defaultValue
}
