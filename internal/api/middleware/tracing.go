package middleware

import (
	"net/http"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/trace"
)

// Tracing starts a server span per request, continuing any W3C trace context
// the caller sent. Spans are named "METHOD /route/{param}" once chi has routed
// the request and just "METHOD" otherwise.
func Tracing(serviceName string) func(http.Handler) http.Handler {
	tracer := otel.Tracer(serviceName)

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx := otel.GetTextMapPropagator().Extract(r.Context(), propagation.HeaderCarrier(r.Header))
			ctx, span := tracer.Start(ctx, r.Method,
				trace.WithSpanKind(trace.SpanKindServer),
				trace.WithAttributes(
					attribute.String("http.request.method", r.Method),
					attribute.String("url.path", r.URL.Path),
					attribute.String("url.scheme", requestScheme(r)),
					attribute.String("user_agent.original", r.UserAgent()),
				),
			)
			defer span.End()

			if id := GetRequestID(ctx); id != "" {
				span.SetAttributes(attribute.String("request.id", id))
			}

			ww := capture(w, r)
			next.ServeHTTP(ww, r.WithContext(ctx))

			status := statusOf(ww)
			span.SetAttributes(
				attribute.Int("http.response.status_code", status),
				attribute.Int("http.response.body.size", ww.BytesWritten()),
			)
			if pattern, ok := matchedRoute(r); ok {
				span.SetName(r.Method + " " + pattern)
				span.SetAttributes(attribute.String("http.route", pattern))
			}
			if status >= http.StatusInternalServerError {
				span.SetStatus(codes.Error, http.StatusText(status))
			}
		})
	}
}

func requestScheme(r *http.Request) string {
	switch {
	case r.TLS != nil:
		return "https"
	case r.Header.Get("X-Forwarded-Proto") != "":
		return r.Header.Get("X-Forwarded-Proto")
	default:
		return "http"
	}
}
