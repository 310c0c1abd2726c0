// Package response writes API responses tagged with the request id.
package response

import (
	"encoding/json"
	"net/http"

	"github.com/notifysync/notifysync/internal/api/middleware"
	"github.com/notifysync/notifysync/internal/api/models"
)

func tag(w http.ResponseWriter, r *http.Request) {
	if id := middleware.GetRequestID(r.Context()); id != "" {
		w.Header().Set(middleware.RequestIDHeader, id)
	}
}

// JSON writes v as the response body. A nil v writes headers only.
func JSON(w http.ResponseWriter, r *http.Request, status int, v any) {
	tag(w, r)
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if v != nil {
		_ = json.NewEncoder(w).Encode(v) //nolint:errcheck // client went away
	}
}

// NoContent writes a 204.
func NoContent(w http.ResponseWriter, r *http.Request) {
	tag(w, r)
	w.WriteHeader(http.StatusNoContent)
}

// Problem writes the problem for status. detail is shown to API clients.
func Problem(w http.ResponseWriter, r *http.Request, status int, detail string) {
	middleware.WriteProblem(w, r, status, detail)
}

// BadRequest writes a 400 validation problem. fields may be nil.
func BadRequest(w http.ResponseWriter, r *http.Request, detail string, fields []models.FieldError) {
	p := models.NewValidationProblem(middleware.GetRequestID(r.Context()), detail, fields)
	p.Instance = r.URL.Path
	p.Write(w)
}
