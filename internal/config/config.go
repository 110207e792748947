package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/prudhvinik1/offlinesync/internal/conflict"
	"github.com/prudhvinik1/offlinesync/internal/retry"
)

// Store backends selectable with STORE_BACKEND.
const (
	BackendMemory   = "memory"
	BackendBadger   = "badger"
	BackendSQLite   = "sqlite"
	BackendRedis    = "redis"
	BackendPostgres = "postgres"
)

type Config struct {
	ServerPort string

	StoreBackend string
	BadgerPath   string
	SQLitePath   string
	DatabaseURL  string
	RedisURL     string
	QueueKey     string

	RemoteAPIURL      string
	RemoteTimeout     time.Duration
	HealthURL         string
	ProbeInterval     time.Duration
	ReconnectDebounce time.Duration

	JWTSecret  string
	JWTExpiry  time.Duration
	JWTSubject string

	AdminKeyHash string

	MaxRetries        int
	Backoff           []time.Duration
	ConflictStrategy  string
	FailFastPermanent bool

	LogLevel  string
	LogFormat string
}

func LoadConfig() (*Config, error) {
	remoteTimeout, err := time.ParseDuration(getEnv("REMOTE_TIMEOUT", "15s"))
	if err != nil {
		return nil, errors.New("invalid REMOTE_TIMEOUT format")
	}
	probeInterval, err := time.ParseDuration(getEnv("PROBE_INTERVAL", "10s"))
	if err != nil {
		return nil, errors.New("invalid PROBE_INTERVAL format")
	}
	debounce, err := time.ParseDuration(getEnv("RECONNECT_DEBOUNCE", "2s"))
	if err != nil {
		return nil, errors.New("invalid RECONNECT_DEBOUNCE format")
	}
	expiry, err := time.ParseDuration(getEnv("JWT_EXPIRY", "5m"))
	if err != nil {
		return nil, errors.New("invalid JWT_EXPIRY format")
	}
	maxRetries, err := strconv.Atoi(getEnv("MAX_RETRIES", strconv.Itoa(retry.DefaultMaxRetries)))
	if err != nil || maxRetries < 1 {
		return nil, errors.New("MAX_RETRIES must be a positive integer")
	}
	backoff, err := retry.ParseBackoff(getEnv("BACKOFF_SCHEDULE", "1s,5s,15s,60s,300s"))
	if err != nil {
		return nil, fmt.Errorf("invalid BACKOFF_SCHEDULE: %w", err)
	}
	failFast, err := strconv.ParseBool(getEnv("FAIL_FAST_PERMANENT", "false"))
	if err != nil {
		return nil, errors.New("invalid FAIL_FAST_PERMANENT value")
	}

	cfg := &Config{
		ServerPort:        getEnv("SERVER_PORT", "8080"),
		StoreBackend:      strings.ToLower(getEnv("STORE_BACKEND", BackendBadger)),
		BadgerPath:        getEnv("BADGER_PATH", "./data/queue"),
		SQLitePath:        getEnv("SQLITE_PATH", "./data/queue.db"),
		DatabaseURL:       os.Getenv("DATABASE_URL"),
		RedisURL:          os.Getenv("REDIS_URL"),
		QueueKey:          getEnv("QUEUE_KEY", "sync_queue"),
		RemoteAPIURL:      strings.TrimRight(os.Getenv("REMOTE_API_URL"), "/"),
		RemoteTimeout:     remoteTimeout,
		HealthURL:         os.Getenv("HEALTH_URL"),
		ProbeInterval:     probeInterval,
		ReconnectDebounce: debounce,
		JWTSecret:         os.Getenv("JWT_SECRET"),
		JWTExpiry:         expiry,
		JWTSubject:        getEnv("JWT_SUBJECT", "offlinesync"),
		AdminKeyHash:      os.Getenv("ADMIN_KEY_HASH"),
		MaxRetries:        maxRetries,
		Backoff:           backoff,
		ConflictStrategy:  getEnv("CONFLICT_STRATEGY", "newest-wins"),
		FailFastPermanent: failFast,
		LogLevel:          getEnv("LOG_LEVEL", "info"),
		LogFormat:         getEnv("LOG_FORMAT", "json"),
	}

	// Validate required fields
	if cfg.RemoteAPIURL == "" {
		return nil, errors.New("REMOTE_API_URL is required")
	}
	if cfg.JWTSecret == "" {
		return nil, errors.New("JWT_SECRET is required")
	}
	if cfg.HealthURL == "" {
		cfg.HealthURL = cfg.RemoteAPIURL + "/health"
	}
	if cfg.ProbeInterval <= 0 {
		return nil, errors.New("PROBE_INTERVAL must be positive")
	}
	if _, err := conflict.ByName(cfg.ConflictStrategy); err != nil {
		return nil, fmt.Errorf("invalid CONFLICT_STRATEGY: %w", err)
	}

	switch cfg.StoreBackend {
	case BackendMemory, BackendBadger, BackendSQLite:
	case BackendRedis:
		if cfg.RedisURL == "" {
			return nil, errors.New("REDIS_URL is required for the redis store")
		}
	case BackendPostgres:
		if cfg.DatabaseURL == "" {
			return nil, errors.New("DATABASE_URL is required for the postgres store")
		}
	default:
		return nil, fmt.Errorf("unknown STORE_BACKEND %q", cfg.StoreBackend)
	}

	return cfg, nil
}

// RetryPolicy builds the retry policy from MAX_RETRIES and BACKOFF_SCHEDULE.
func (c *Config) RetryPolicy() retry.Policy {
	return retry.Policy{Backoff: c.Backoff, MaxRetries: c.MaxRetries}
}

// Helper: get env with default value
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}
