package models_test

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/notifysync/notifysync/internal/api/models"
)

func TestNewProblem(t *testing.T) {
	tests := []struct {
		status    int
		wantType  string
		wantTitle string
	}{
		{http.StatusUnauthorized, models.ProblemTypeUnauthorized, "Unauthorized"},
		{http.StatusForbidden, models.ProblemTypeForbidden, "Forbidden"},
		{http.StatusNotFound, models.ProblemTypeNotFound, "Not Found"},
		{http.StatusUnsupportedMediaType, models.ProblemTypeUnsupportedMedia, "Unsupported Media Type"},
		{http.StatusTooManyRequests, models.ProblemTypeTooManyRequests, "Too Many Requests"},
		{http.StatusInternalServerError, models.ProblemTypeInternal, "Internal Server Error"},
		{http.StatusServiceUnavailable, models.ProblemTypeUnavailable, "Service Unavailable"},
		{http.StatusTeapot, "about:blank", "I'm a teapot"},
	}

	for _, tt := range tests {
		t.Run(tt.wantTitle, func(t *testing.T) {
			p := models.NewProblem(tt.status, "req_123", "something specific")

			assert.Equal(t, tt.wantType, p.Type)
			assert.Equal(t, tt.wantTitle, p.Title)
			assert.Equal(t, tt.status, p.Status)
			assert.Equal(t, "something specific", p.Detail)
			assert.Equal(t, "req_123", p.TraceID)
			assert.Empty(t, p.Instance)
			assert.Nil(t, p.Errors)
		})
	}
}

func TestNewValidationProblem(t *testing.T) {
	p := models.NewValidationProblem("req_test123", "invalid input", []models.FieldError{
		{Field: "platform", Message: "must be one of ios, ios_sandbox, android", Code: "INVALID"},
		{Field: "device_token", Message: "required", Code: "REQUIRED"},
	})

	assert.Equal(t, models.ProblemTypeValidation, p.Type)
	assert.Equal(t, "Validation error", p.Title)
	assert.Equal(t, http.StatusBadRequest, p.Status)
	require.Len(t, p.Errors, 2)
	assert.Equal(t, "device_token", p.Errors[1].Field)
}

func TestProblem_Write(t *testing.T) {
	p := models.NewValidationProblem("req_write", "device_token is required", []models.FieldError{
		{Field: "device_token", Message: "required", Code: "REQUIRED"},
	})
	p.Instance = "/v1/push/register-device"

	w := httptest.NewRecorder()
	p.Write(w)

	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Equal(t, "application/problem+json", w.Header().Get("Content-Type"))
	assert.Equal(t, "req_write", w.Header().Get("X-Request-Id"))

	var body map[string]any
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	assert.Equal(t, models.ProblemTypeValidation, body["type"])
	assert.Equal(t, "device_token is required", body["detail"])
	assert.Equal(t, "/v1/push/register-device", body["instance"])
	assert.Equal(t, "req_write", body["traceId"])
	assert.Len(t, body["errors"], 1)
}

func TestProblem_WriteOmitsEmptyFields(t *testing.T) {
	w := httptest.NewRecorder()
	models.NewProblem(http.StatusNotFound, "", "").Write(w)

	assert.Empty(t, w.Header().Get("X-Request-Id"))

	var body map[string]any
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	assert.NotContains(t, body, "detail")
	assert.NotContains(t, body, "instance")
	assert.NotContains(t, body, "errors")
}
