package middleware

import (
	"net/http"
	"time"

	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel/trace"
)

// Logger writes one access log line per request: error for 5xx, warn for 4xx
// and info otherwise.
func Logger(log zerolog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			ww := capture(w, r)

			next.ServeHTTP(ww, r)

			status := statusOf(ww)
			var event *zerolog.Event
			switch {
			case status >= http.StatusInternalServerError:
				event = log.Error()
			case status >= http.StatusBadRequest:
				event = log.Warn()
			default:
				event = log.Info()
			}

			if sc := trace.SpanContextFromContext(r.Context()); sc.IsValid() {
				event = event.
					Str("trace_id", sc.TraceID().String()).
					Str("span_id", sc.SpanID().String())
			}

			event.
				Str("request_id", GetRequestID(r.Context())).
				Str("method", r.Method).
				Str("route", routePattern(r)).
				Str("path", r.URL.Path).
				Int("status", status).
				Int("bytes", ww.BytesWritten()).
				Dur("duration", time.Since(start)).
				Str("user_agent", r.UserAgent()).
				Msg("request completed")
		})
	}
}
