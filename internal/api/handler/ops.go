// Package handler provides HTTP handlers for the notifications API.
package handler

import (
	"context"
	"net/http"
	"time"

	"github.com/notifysync/notifysync/internal/api/models"
	"github.com/notifysync/notifysync/internal/api/response"
)

// ReadinessCheck reports whether a dependency can serve traffic.
type ReadinessCheck func(ctx context.Context) error

// OpsHandler handles operational endpoints.
type OpsHandler struct {
	version   string
	buildTime string
	checks    map[string]ReadinessCheck
}

// NewOpsHandler creates a new OpsHandler. checks are run by the readiness
// endpoint, keyed by subsystem name.
func NewOpsHandler(version, buildTime string, checks map[string]ReadinessCheck) *OpsHandler {
	return &OpsHandler{
		version:   version,
		buildTime: buildTime,
		checks:    checks,
	}
}

// HealthCheck handles GET /v1/ops/health. It only proves the process serves
// requests.
func (h *OpsHandler) HealthCheck(w http.ResponseWriter, r *http.Request) {
	response.JSON(w, r, http.StatusOK, h.report(models.HealthStatusOK, nil))
}

// ReadinessCheck handles GET /v1/ops/ready. Any failing check turns the
// response into a 503.
func (h *OpsHandler) ReadinessCheck(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()

	status := models.HealthStatusOK
	results := make(map[string]string, len(h.checks))
	for name, check := range h.checks {
		if err := check(ctx); err != nil {
			status = models.HealthStatusFail
			results[name] = err.Error()
			continue
		}
		results[name] = "ok"
	}

	code := http.StatusOK
	if status != models.HealthStatusOK {
		code = http.StatusServiceUnavailable
	}
	response.JSON(w, r, code, h.report(status, results))
}

func (h *OpsHandler) report(status models.HealthStatus, checks map[string]string) models.Health {
	return models.Health{
		Status:    status,
		Time:      time.Now().UTC().Truncate(time.Second),
		Version:   h.version,
		BuildTime: h.buildTime,
		Checks:    checks,
	}
}
