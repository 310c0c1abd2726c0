package middleware

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
)

// capture wraps w so the status and body size can be read once the handler
// returns.
func capture(w http.ResponseWriter, r *http.Request) chimiddleware.WrapResponseWriter {
	return chimiddleware.NewWrapResponseWriter(w, r.ProtoMajor)
}

// statusOf reports 200 for handlers that never wrote anything.
func statusOf(ww chimiddleware.WrapResponseWriter) int {
	if status := ww.Status(); status != 0 {
		return status
	}
	return http.StatusOK
}

// routePattern returns the matched chi route, or "unmatched" outside a router.
// Telemetry is labelled by pattern so notification ids stay out of label sets.
func routePattern(r *http.Request) string {
	if pattern, ok := matchedRoute(r); ok {
		return pattern
	}
	return "unmatched"
}

func matchedRoute(r *http.Request) (string, bool) {
	rctx := chi.RouteContext(r.Context())
	if rctx == nil {
		return "", false
	}
	pattern := rctx.RoutePattern()
	return pattern, pattern != ""
}
