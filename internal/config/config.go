package config

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"

	"storefront/internal/logging"
)

const (
	StorageMemory   = "memory"
	StoragePostgres = "postgres"
)

// Config параметры процесса, читаются из окружения один раз при старте
type Config struct {
	HTTPAddr           string
	Storage            string
	DatabaseURL        string
	DBMaxConns         int32
	Migrations         bool
	RedisAddr          string
	IdempotencyTTL     time.Duration
	PaymentFailureRate float64
	ShutdownTimeout    time.Duration
	LogLevel           slog.Level
	SeedCatalog        bool
}

func Load() (Config, error) {
	var errs []error
	cfg := Config{
		HTTPAddr:    getEnv("HTTP_ADDR", ":9091"),
		Storage:     strings.ToLower(getEnv("STORAGE", StorageMemory)),
		DatabaseURL: getEnv("DATABASE_URL", ""),
		RedisAddr:   getEnv("REDIS_ADDR", ""),
	}

	maxConns, err := strconv.ParseInt(getEnv("DB_MAX_CONNS", "10"), 10, 32)
	if err != nil || maxConns <= 0 {
		errs = append(errs, fmt.Errorf("DB_MAX_CONNS must be a positive integer"))
	}
	cfg.DBMaxConns = int32(maxConns)

	if cfg.Migrations, err = strconv.ParseBool(getEnv("MIGRATIONS", "true")); err != nil {
		errs = append(errs, fmt.Errorf("MIGRATIONS: %w", err))
	}
	if cfg.SeedCatalog, err = strconv.ParseBool(getEnv("SEED_CATALOG", "false")); err != nil {
		errs = append(errs, fmt.Errorf("SEED_CATALOG: %w", err))
	}
	if cfg.IdempotencyTTL, err = time.ParseDuration(getEnv("IDEMPOTENCY_TTL", "24h")); err != nil || cfg.IdempotencyTTL <= 0 {
		errs = append(errs, fmt.Errorf("IDEMPOTENCY_TTL must be a positive duration"))
	}
	if cfg.ShutdownTimeout, err = time.ParseDuration(getEnv("SHUTDOWN_TIMEOUT", "5s")); err != nil || cfg.ShutdownTimeout <= 0 {
		errs = append(errs, fmt.Errorf("SHUTDOWN_TIMEOUT must be a positive duration"))
	}
	cfg.PaymentFailureRate, err = strconv.ParseFloat(getEnv("PAYMENT_FAILURE_RATE", "0"), 64)
	if err != nil || cfg.PaymentFailureRate < 0 || cfg.PaymentFailureRate > 1 {
		errs = append(errs, fmt.Errorf("PAYMENT_FAILURE_RATE must be a number in [0, 1]"))
	}
	if cfg.LogLevel, err = logging.ParseLevel(getEnv("LOG_LEVEL", "info")); err != nil {
		errs = append(errs, fmt.Errorf("LOG_LEVEL: %w", err))
	}

	switch cfg.Storage {
	case StorageMemory:
	case StoragePostgres:
		if cfg.DatabaseURL == "" {
			errs = append(errs, errors.New("DATABASE_URL is required for postgres storage"))
		}
	default:
		errs = append(errs, fmt.Errorf("STORAGE must be %q or %q, got %q", StorageMemory, StoragePostgres, cfg.Storage))
	}

	if len(errs) > 0 {
		return Config{}, fmt.Errorf("invalid config: %w", errors.Join(errs...))
	}
	return cfg, nil
}

func getEnv(key, defaultValue string) string {
	if value := strings.TrimSpace(os.Getenv(key)); value != "" {
		return value
	}
	return defaultValue
}
