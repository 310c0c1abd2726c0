package response_test

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/notifysync/notifysync/internal/api/middleware"
	"github.com/notifysync/notifysync/internal/api/models"
	"github.com/notifysync/notifysync/internal/api/response"
)

// serve runs fn behind the RequestID middleware with a fixed inbound id.
func serve(t *testing.T, path string, fn http.HandlerFunc) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodGet, path, http.NoBody)
	req.Header.Set(middleware.RequestIDHeader, "req-fixed-1")
	rec := httptest.NewRecorder()
	middleware.RequestID(fn).ServeHTTP(rec, req)
	return rec
}

func TestJSON(t *testing.T) {
	rec := serve(t, "/v1/notifications/unread-count", func(w http.ResponseWriter, r *http.Request) {
		response.JSON(w, r, http.StatusOK, models.UnreadCountResponse{UnreadCount: 4})
	})

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))
	assert.Equal(t, "req-fixed-1", rec.Header().Get(middleware.RequestIDHeader))
	assert.JSONEq(t, `{"unread_count":4}`, rec.Body.String())
}

func TestJSON_NilBodyAndNoRequestID(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/", http.NoBody)
	rec := httptest.NewRecorder()

	response.JSON(rec, req, http.StatusAccepted, nil)

	assert.Equal(t, http.StatusAccepted, rec.Code)
	assert.Empty(t, rec.Body.String())
	assert.Empty(t, rec.Header().Get(middleware.RequestIDHeader))
}

func TestNoContent(t *testing.T) {
	rec := serve(t, "/", func(w http.ResponseWriter, r *http.Request) {
		response.NoContent(w, r)
	})

	assert.Equal(t, http.StatusNoContent, rec.Code)
	assert.Equal(t, "req-fixed-1", rec.Header().Get(middleware.RequestIDHeader))
	assert.Empty(t, rec.Body.String())
}

func TestProblem(t *testing.T) {
	tests := []struct {
		status   int
		wantType string
	}{
		{http.StatusNotFound, models.ProblemTypeNotFound},
		{http.StatusForbidden, models.ProblemTypeForbidden},
		{http.StatusInternalServerError, models.ProblemTypeInternal},
		{http.StatusServiceUnavailable, models.ProblemTypeUnavailable},
	}

	for _, tt := range tests {
		t.Run(http.StatusText(tt.status), func(t *testing.T) {
			rec := serve(t, "/v1/notifications/ntf_1/read", func(w http.ResponseWriter, r *http.Request) {
				response.Problem(w, r, tt.status, "detail for client")
			})

			assert.Equal(t, tt.status, rec.Code)
			assert.Equal(t, "application/problem+json", rec.Header().Get("Content-Type"))

			var p models.Problem
			require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &p))
			assert.Equal(t, tt.wantType, p.Type)
			assert.Equal(t, tt.status, p.Status)
			assert.Equal(t, "detail for client", p.Detail)
			assert.Equal(t, "/v1/notifications/ntf_1/read", p.Instance)
			assert.Equal(t, "req-fixed-1", p.TraceID)
		})
	}
}

func TestBadRequest(t *testing.T) {
	rec := serve(t, "/v1/notifications", func(w http.ResponseWriter, r *http.Request) {
		response.BadRequest(w, r, "invalid query parameters", []models.FieldError{
			{Field: "limit", Message: "must be between 1 and 100", Code: "OUT_OF_RANGE"},
		})
	})

	assert.Equal(t, http.StatusBadRequest, rec.Code)

	var p models.Problem
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &p))
	assert.Equal(t, models.ProblemTypeValidation, p.Type)
	assert.Equal(t, "/v1/notifications", p.Instance)
	require.Len(t, p.Errors, 1)
	assert.Equal(t, "limit", p.Errors[0].Field)
}
