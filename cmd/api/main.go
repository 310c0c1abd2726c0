// Package main provides the entrypoint for the notifysync reference API server.
package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"

	"github.com/notifysync/notifysync/internal/api"
	"github.com/notifysync/notifysync/internal/api/handler"
	"github.com/notifysync/notifysync/internal/api/middleware"
	"github.com/notifysync/notifysync/internal/auth"
	"github.com/notifysync/notifysync/internal/config"
	"github.com/notifysync/notifysync/internal/database"
	"github.com/notifysync/notifysync/internal/device"
	"github.com/notifysync/notifysync/internal/inbox"
	"github.com/notifysync/notifysync/internal/telemetry"
)

// Version and BuildTime are set at compile time via ldflags.
var (
	Version   = "dev"
	BuildTime = "unknown"
)

func main() {
	const serviceName = "notifysync-api"

	log := zerolog.New(os.Stdout).
		With().
		Timestamp().
		Str("service", serviceName).
		Str("version", Version).
		Logger()

	log.Info().
		Str("build_time", BuildTime).
		Msg("starting notifysync API")

	cfg, err := config.Load()
	if err != nil {
		log.Fatal().Err(err).Msg("invalid configuration")
	}

	ctx := context.Background()

	tp, err := telemetry.Init(ctx, telemetry.Config{
		ServiceName:    serviceName,
		ServiceVersion: Version,
		Environment:    cfg.Env,
		OTLPEndpoint:   cfg.Telemetry.OTLPEndpoint,
		Enabled:        cfg.Telemetry.Enabled,
	})
	if err != nil {
		log.Fatal().Err(err).Msg("failed to initialize telemetry")
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if shutdownErr := tp.Shutdown(shutdownCtx); shutdownErr != nil {
			log.Error().Err(shutdownErr).Msg("failed to shutdown telemetry")
		}
	}()

	if tp.Enabled() {
		log.Info().
			Str("otlp_endpoint", cfg.Telemetry.OTLPEndpoint).
			Msg("OpenTelemetry initialized")
	}

	metrics, err := middleware.NewMetrics(tp.Meter)
	if err != nil {
		log.Error().Err(err).Msg("failed to initialize metrics")
		os.Exit(1) //nolint:gocritic // intentional exit, telemetry cleanup is best-effort
	}

	checks := map[string]handler.ReadinessCheck{}

	// Endpoint registry: Postgres when configured, memory otherwise.
	var endpoints device.Repository
	if cfg.Server.DatabaseEnabled {
		dbConfig := database.ConfigFromEnv()
		pool, err := database.Connect(ctx, dbConfig)
		if err != nil {
			log.Fatal().Err(err).Msg("failed to connect to database")
		}
		defer pool.Close()

		repo := device.NewPostgresRepository(pool)
		if err := repo.Migrate(ctx); err != nil {
			log.Fatal().Err(err).Msg("failed to migrate endpoint registry")
		}
		endpoints = repo
		checks["database"] = database.ReadinessCheck(pool)

		log.Info().
			Str("host", dbConfig.Host).
			Int("port", dbConfig.Port).
			Str("database", dbConfig.Database).
			Msg("database connected")
	} else {
		endpoints = device.NewInMemoryRepository()
		log.Warn().Msg("DB_HOST not set - endpoint registry is in memory")
	}

	if cfg.Server.JWTSigningKey == config.DefaultSigningKey {
		log.Warn().Msg("using default JWT signing key - not secure for production")
	}
	tokens := auth.NewTokens(auth.TokenConfig{
		SigningKey: cfg.Server.JWTSigningKey,
		Issuer:     cfg.Server.JWTIssuer,
		Audience:   cfg.Server.JWTAudience,
	})

	deviceService := device.NewService(endpoints, log)
	inboxService := inbox.NewService(inbox.NewInMemoryRepository(), log)

	if cfg.Server.SeedUserID != "" {
		seedDemoUser(ctx, log, cfg.Server, inboxService, tokens)
	}

	router := api.NewRouter(api.RouterConfig{
		Version:         Version,
		BuildTime:       BuildTime,
		Logger:          log,
		ServiceName:     serviceName,
		Metrics:         metrics,
		RequireTLS:      cfg.Server.RequireTLS,
		Tokens:          tokens,
		Devices:         deviceService,
		Inbox:           inboxService,
		ReadinessChecks: checks,
	})

	server := &http.Server{
		Addr:         ":" + cfg.Server.Port,
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		log.Info().
			Str("addr", server.Addr).
			Msg("server listening")

		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal().Err(err).Msg("server error")
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info().Msg("shutting down server")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("server forced to shutdown")
		os.Exit(1)
	}

	log.Info().Msg("server stopped")
}

// seedDemoUser fills the demo user's inbox and logs a token for them so a
// local client can connect straight away.
func seedDemoUser(ctx context.Context, log zerolog.Logger, cfg config.ServerConfig, inboxService *inbox.Service, tokens *auth.Tokens) {
	if err := inboxService.Seed(ctx, cfg.SeedUserID, cfg.SeedCount); err != nil {
		log.Fatal().Err(err).Msg("failed to seed notifications")
	}

	token, expiresAt, err := tokens.Issue(cfg.SeedUserID)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to issue seed token")
	}

	log.Info().
		Str("user_id", cfg.SeedUserID).
		Int("notifications", cfg.SeedCount).
		Str("token", token).
		Time("expires_at", expiresAt).
		Msg("seeded demo inbox")
}
