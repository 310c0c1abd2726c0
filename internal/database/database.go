// Package database provides PostgreSQL connection management for the
// reference server's endpoint registry.
package database

import (
	"context"
	"fmt"
	"net/url"
	"os"
	"strconv"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
)

// Config holds database connection configuration.
type Config struct {
	Host            string
	Port            int
	User            string
	Password        string
	Database        string
	SSLMode         string
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
	ConnectTimeout  time.Duration
}

// ConfigFromEnv creates a Config from the DB_* environment variables.
// Malformed numbers fall back to their defaults.
func ConfigFromEnv() Config {
	return Config{
		Host:            getEnvOrDefault("DB_HOST", "localhost"),
		Port:            intFromEnv("DB_PORT", 5432),
		User:            getEnvOrDefault("DB_USER", "notifysync"),
		Password:        getEnvOrDefault("DB_PASSWORD", "localdev"),
		Database:        getEnvOrDefault("DB_NAME", "notifysync"),
		SSLMode:         getEnvOrDefault("DB_SSL_MODE", "disable"),
		MaxOpenConns:    intFromEnv("DB_MAX_OPEN_CONNS", 10),
		MaxIdleConns:    intFromEnv("DB_MAX_IDLE_CONNS", 2),
		ConnMaxLifetime: durationFromEnv("DB_CONN_MAX_LIFETIME", 5*time.Minute),
		ConnectTimeout:  durationFromEnv("DB_CONNECT_TIMEOUT", 10*time.Second),
	}
}

// ConnectionString returns the PostgreSQL connection URL. Credentials are escaped.
func (c Config) ConnectionString() string {
	u := url.URL{
		Scheme:   "postgres",
		User:     url.UserPassword(c.User, c.Password),
		Host:     fmt.Sprintf("%s:%d", c.Host, c.Port),
		Path:     "/" + c.Database,
		RawQuery: url.Values{"sslmode": []string{c.SSLMode}}.Encode(),
	}
	return u.String()
}

// Connect creates a connection pool and verifies it with a ping.
func Connect(ctx context.Context, cfg Config) (*pgxpool.Pool, error) {
	poolConfig, err := pgxpool.ParseConfig(cfg.ConnectionString())
	if err != nil {
		return nil, fmt.Errorf("parse connection string: %w", err)
	}

	poolConfig.MaxConns = int32(cfg.MaxOpenConns) //nolint:gosec // small configured value
	poolConfig.MinConns = int32(cfg.MaxIdleConns) //nolint:gosec // small configured value
	poolConfig.MaxConnLifetime = cfg.ConnMaxLifetime
	if cfg.ConnectTimeout > 0 {
		poolConfig.ConnConfig.ConnectTimeout = cfg.ConnectTimeout
	}

	pool, err := pgxpool.NewWithConfig(ctx, poolConfig)
	if err != nil {
		return nil, fmt.Errorf("create connection pool: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	return pool, nil
}

// Pinger is satisfied by *pgxpool.Pool.
type Pinger interface {
	Ping(ctx context.Context) error
}

// ReadinessCheck returns a check suitable for the ops readiness endpoint.
func ReadinessCheck(p Pinger) func(ctx context.Context) error {
	return func(ctx context.Context) error {
		if err := p.Ping(ctx); err != nil {
			return fmt.Errorf("database unreachable: %w", err)
		}
		return nil
	}
}

func intFromEnv(key string, def int) int {
	v, err := strconv.Atoi(os.Getenv(key))
	if err != nil {
		return def
	}
	return v
}

func durationFromEnv(key string, def time.Duration) time.Duration {
	v, err := time.ParseDuration(os.Getenv(key))
	if err != nil {
		return def
	}
	return v
}

func getEnvOrDefault(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}
