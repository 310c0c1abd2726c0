// Package models holds the wire types of the notifications API.
package models

import "time"

// HealthStatus is the overall state reported by the ops endpoints.
type HealthStatus string

const (
	HealthStatusOK   HealthStatus = "OK"
	HealthStatusFail HealthStatus = "FAIL"
)

// Health is the body of GET /v1/ops/health and GET /v1/ops/ready.
type Health struct {
	Status    HealthStatus `json:"status"`
	Time      time.Time    `json:"time"`
	Version   string       `json:"version,omitempty"`
	BuildTime string       `json:"build_time,omitempty"`

	// Checks maps each readiness check to "ok" or its failure message.
	Checks map[string]string `json:"checks,omitempty"`
}
