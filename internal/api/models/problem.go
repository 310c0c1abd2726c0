package models

import (
	"encoding/json"
	"net/http"
)

// Problem is an RFC 7807 problem details body. Clients surface Detail to
// users, so it must never carry internal error text.
type Problem struct {
	Type     string       `json:"type"`
	Title    string       `json:"title"`
	Status   int          `json:"status"`
	Detail   string       `json:"detail,omitempty"`
	Instance string       `json:"instance,omitempty"`
	TraceID  string       `json:"traceId"`
	Errors   []FieldError `json:"errors,omitempty"`
}

// FieldError names one invalid request field.
type FieldError struct {
	Field   string `json:"field"`
	Message string `json:"message"`
	Code    string `json:"code,omitempty"`
}

const problemBaseURI = "https://api.notifysync.dev/problems/"

// Problem types produced by the API.
const (
	ProblemTypeValidation       = problemBaseURI + "validation-error"
	ProblemTypeUnauthorized     = problemBaseURI + "unauthorized"
	ProblemTypeForbidden        = problemBaseURI + "forbidden"
	ProblemTypeNotFound         = problemBaseURI + "not-found"
	ProblemTypeUnsupportedMedia = problemBaseURI + "unsupported-media-type"
	ProblemTypeTooManyRequests  = problemBaseURI + "too-many-requests"
	ProblemTypeInternal         = problemBaseURI + "internal-error"
	ProblemTypeUnavailable      = problemBaseURI + "service-unavailable"
)

var problemTypes = map[int]string{
	http.StatusBadRequest:           ProblemTypeValidation,
	http.StatusUnauthorized:         ProblemTypeUnauthorized,
	http.StatusForbidden:            ProblemTypeForbidden,
	http.StatusNotFound:             ProblemTypeNotFound,
	http.StatusUnsupportedMediaType: ProblemTypeUnsupportedMedia,
	http.StatusTooManyRequests:      ProblemTypeTooManyRequests,
	http.StatusInternalServerError:  ProblemTypeInternal,
	http.StatusServiceUnavailable:   ProblemTypeUnavailable,
}

// NewProblem builds the problem for an HTTP status. The title is the standard
// status text; statuses without a registered type get "about:blank".
func NewProblem(status int, traceID, detail string) *Problem {
	problemType, ok := problemTypes[status]
	if !ok {
		problemType = "about:blank"
	}
	return &Problem{
		Type:    problemType,
		Title:   http.StatusText(status),
		Status:  status,
		Detail:  detail,
		TraceID: traceID,
	}
}

// NewValidationProblem builds a 400 problem listing the offending fields.
func NewValidationProblem(traceID, detail string, fields []FieldError) *Problem {
	p := NewProblem(http.StatusBadRequest, traceID, detail)
	p.Title = "Validation error"
	p.Errors = fields
	return p
}

// Write sends the problem with its status code.
func (p *Problem) Write(w http.ResponseWriter) {
	w.Header().Set("Content-Type", "application/problem+json")
	if p.TraceID != "" {
		w.Header().Set("X-Request-Id", p.TraceID)
	}
	w.WriteHeader(p.Status)
	_ = json.NewEncoder(w).Encode(p) //nolint:errcheck // client went away
}
