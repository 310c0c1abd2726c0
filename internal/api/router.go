// Package api provides the reference HTTP backend for notifysync clients.
package api

import (
	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/rs/zerolog"

	"github.com/notifysync/notifysync/internal/api/handler"
	"github.com/notifysync/notifysync/internal/api/middleware"
	"github.com/notifysync/notifysync/internal/device"
	"github.com/notifysync/notifysync/internal/inbox"
)

// RouterConfig holds configuration for the router.
type RouterConfig struct {
	Version     string
	BuildTime   string
	Logger      zerolog.Logger
	ServiceName string
	Metrics     *middleware.Metrics
	RequireTLS  bool

	Tokens  middleware.TokenValidator
	Devices *device.Service
	Inbox   *inbox.Service

	// ReadinessChecks are run by GET /v1/ops/ready.
	ReadinessChecks map[string]handler.ReadinessCheck
}

// NewRouter creates a new chi router with all API routes configured.
func NewRouter(cfg RouterConfig) *chi.Mux {
	r := chi.NewRouter()

	serviceName := cfg.ServiceName
	if serviceName == "" {
		serviceName = "notifysync-api"
	}

	// Global middleware - order matters
	r.Use(middleware.RequestID)            // Generate/propagate request ID first
	r.Use(middleware.Tracing(serviceName)) // Distributed tracing
	if cfg.Metrics != nil {
		r.Use(cfg.Metrics.Middleware()) // HTTP metrics
	}
	r.Use(middleware.Logger(cfg.Logger))         // Structured logging
	r.Use(middleware.Recovery(cfg.Logger))       // Panic recovery
	r.Use(chimiddleware.RealIP)                  // Real IP extraction
	r.Use(middleware.SecurityHeaders)            // Security headers (HSTS, CSP, etc.)
	r.Use(middleware.RequireTLS(cfg.RequireTLS)) // TLS enforcement behind a proxy
	r.Use(middleware.ContentTypeJSON)            // JSON content type

	opsHandler := handler.NewOpsHandler(cfg.Version, cfg.BuildTime, cfg.ReadinessChecks)
	pushHandler := handler.NewPushHandler(cfg.Devices, cfg.Logger)
	notificationsHandler := handler.NewNotificationsHandler(cfg.Inbox, cfg.Logger)

	authMiddleware := middleware.Auth(cfg.Tokens)

	r.Route("/v1", func(r chi.Router) {
		// Ops endpoints (public)
		r.Route("/ops", func(r chi.Router) {
			r.Get("/health", opsHandler.HealthCheck)
			r.Get("/ready", opsHandler.ReadinessCheck)
		})

		// Push endpoint registry (authenticated)
		r.Route("/push", func(r chi.Router) {
			r.Use(authMiddleware)
			r.Use(middleware.RateLimitByUser(middleware.RegistrationBudget))
			r.Use(middleware.RequireJSON)
			r.Post("/register-device", pushHandler.RegisterDevice)
			r.Post("/unregister-device", pushHandler.UnregisterDevice)
		})

		// Inbox (authenticated)
		r.Route("/notifications", func(r chi.Router) {
			r.Use(authMiddleware)
			r.Use(middleware.RateLimitByUser(middleware.InboxBudget))
			r.Use(middleware.RequireJSON)
			r.Get("/", notificationsHandler.List)
			r.Post("/", notificationsHandler.Publish)
			r.Delete("/", notificationsHandler.DeleteAll)
			r.Get("/unread-count", notificationsHandler.UnreadCount)
			r.Post("/read-all", notificationsHandler.MarkAllAsRead)
			r.Get("/preferences", notificationsHandler.GetPreferences)
			r.Post("/preferences", notificationsHandler.UpdatePreferences)
			r.Post("/{id}/read", notificationsHandler.MarkAsRead)
			r.Delete("/{id}", notificationsHandler.Delete)
		})
	})

	return r
}
