// Package config loads process configuration for the notifysync commands from
// environment variables, optionally seeded from a .env file.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"

	"github.com/notifysync/notifysync/internal/inbox"
)

// Config is the full process configuration.
type Config struct {
	Env       string
	Client    ClientConfig
	Server    ServerConfig
	Telemetry TelemetryConfig
}

// ClientConfig configures a notifysync client process such as notifyctl.
type ClientConfig struct {
	BaseURL     string
	UserID      string
	BearerToken string

	// StorePath is the SQLite file holding the persisted registration.
	StorePath string

	// DeviceToken and Platform describe the device notifyctl pretends to be.
	DeviceToken string
	Platform    string
	Sandbox     bool

	PageSize          int
	PollInterval      time.Duration
	AutoRegisterDelay time.Duration
	RequestTimeout    time.Duration
	SyncBadge         bool
}

// ServerConfig configures the reference API server.
type ServerConfig struct {
	Port          string
	JWTSigningKey string
	JWTIssuer     string
	JWTAudience   string
	RequireTLS    bool

	// DatabaseEnabled selects the Postgres endpoint registry. It is true when
	// DB_HOST is set; connection details come from database.ConfigFromEnv.
	DatabaseEnabled bool

	// SeedUserID receives SeedCount demo notifications at startup.
	SeedUserID string
	SeedCount  int
}

// TelemetryConfig configures OpenTelemetry export.
type TelemetryConfig struct {
	Enabled      bool
	OTLPEndpoint string
}

// DefaultSigningKey is used when JWT_SIGNING_KEY is unset. It is only fit for
// local development.
const DefaultSigningKey = "local-dev-signing-key-change-in-production"

// Load reads the given .env files (".env" when none are given) into the
// environment without overriding variables that are already set, then calls
// FromEnv. Missing files are ignored.
func Load(files ...string) (Config, error) {
	if len(files) == 0 {
		files = []string{".env"}
	}
	for _, f := range files {
		if err := godotenv.Load(f); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return Config{}, fmt.Errorf("loading %s: %w", f, err)
		}
	}
	return FromEnv()
}

// FromEnv builds a Config from environment variables. Malformed numbers,
// durations and booleans are reported together.
func FromEnv() (Config, error) {
	p := &parser{}

	cfg := Config{
		Env: getEnvOrDefault("APP_ENV", "development"),
		Client: ClientConfig{
			BaseURL:           getEnvOrDefault("NOTIFYSYNC_BASE_URL", "http://localhost:8080/v1"),
			UserID:            os.Getenv("NOTIFYSYNC_USER_ID"),
			BearerToken:       os.Getenv("NOTIFYSYNC_BEARER_TOKEN"),
			StorePath:         getEnvOrDefault("NOTIFYSYNC_STORE_PATH", "notifysync.db"),
			DeviceToken:       os.Getenv("NOTIFYSYNC_DEVICE_TOKEN"),
			Platform:          getEnvOrDefault("NOTIFYSYNC_PLATFORM", "ios"),
			Sandbox:           p.bool("NOTIFYSYNC_SANDBOX", false),
			PageSize:          p.int("NOTIFYSYNC_PAGE_SIZE", 20),
			PollInterval:      p.duration("NOTIFYSYNC_POLL_INTERVAL", 30*time.Second),
			AutoRegisterDelay: p.duration("NOTIFYSYNC_AUTO_REGISTER_DELAY", 2*time.Second),
			RequestTimeout:    p.duration("NOTIFYSYNC_REQUEST_TIMEOUT", 10*time.Second),
			SyncBadge:         p.bool("NOTIFYSYNC_SYNC_BADGE", true),
		},
		Server: ServerConfig{
			Port:            getEnvOrDefault("APP_PORT", "8080"),
			JWTSigningKey:   getEnvOrDefault("JWT_SIGNING_KEY", DefaultSigningKey),
			JWTIssuer:       getEnvOrDefault("JWT_ISSUER", "https://api.notifysync.dev"),
			JWTAudience:     getEnvOrDefault("JWT_AUDIENCE", "notifysync-api"),
			RequireTLS:      p.bool("REQUIRE_TLS", false),
			DatabaseEnabled: os.Getenv("DB_HOST") != "",
			SeedUserID:      os.Getenv("SEED_USER_ID"),
			SeedCount:       p.int("SEED_COUNT", 25),
		},
		Telemetry: TelemetryConfig{
			Enabled:      p.bool("OTEL_ENABLED", false),
			OTLPEndpoint: getEnvOrDefault("OTEL_EXPORTER_OTLP_ENDPOINT", "localhost:4317"),
		},
	}

	switch {
	case cfg.Client.PageSize <= 0:
		p.errs = append(p.errs, fmt.Errorf("NOTIFYSYNC_PAGE_SIZE: must be positive, got %d", cfg.Client.PageSize))
	case cfg.Client.PageSize > inbox.MaxLimit:
		// The backend never returns more than inbox.MaxLimit records per page.
		p.errs = append(p.errs, fmt.Errorf("NOTIFYSYNC_PAGE_SIZE: must be at most %d, got %d", inbox.MaxLimit, cfg.Client.PageSize))
	}

	return cfg, errors.Join(p.errs...)
}

// parser collects conversion errors so all bad variables are reported at once.
type parser struct {
	errs []error
}

func (p *parser) int(key string, def int) int {
	raw := os.Getenv(key)
	if raw == "" {
		return def
	}
	v, err := strconv.Atoi(raw)
	if err != nil {
		p.errs = append(p.errs, fmt.Errorf("%s: %w", key, err))
		return def
	}
	return v
}

func (p *parser) duration(key string, def time.Duration) time.Duration {
	raw := os.Getenv(key)
	if raw == "" {
		return def
	}
	v, err := time.ParseDuration(raw)
	if err != nil {
		p.errs = append(p.errs, fmt.Errorf("%s: %w", key, err))
		return def
	}
	return v
}

func (p *parser) bool(key string, def bool) bool {
	raw := os.Getenv(key)
	if raw == "" {
		return def
	}
	v, err := strconv.ParseBool(raw)
	if err != nil {
		p.errs = append(p.errs, fmt.Errorf("%s: %w", key, err))
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
