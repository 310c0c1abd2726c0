package middleware

import (
	"errors"
	"net/http"
	"strconv"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// Metrics records the HTTP server instruments.
type Metrics struct {
	duration metric.Float64Histogram
	size     metric.Int64Histogram
	inFlight metric.Int64UpDownCounter
}

// NewMetrics creates the instruments on meter, or on the global meter
// provider when meter is nil.
func NewMetrics(meter metric.Meter) (*Metrics, error) {
	if meter == nil {
		meter = otel.Meter("github.com/notifysync/notifysync/internal/api")
	}

	duration, durErr := meter.Float64Histogram("http.server.request.duration",
		metric.WithDescription("Duration of HTTP server requests"),
		metric.WithUnit("s"))
	size, sizeErr := meter.Int64Histogram("http.server.response.body.size",
		metric.WithDescription("Size of HTTP server response bodies"),
		metric.WithUnit("By"))
	inFlight, flightErr := meter.Int64UpDownCounter("http.server.active_requests",
		metric.WithDescription("Requests currently being served"),
		metric.WithUnit("{request}"))
	if err := errors.Join(durErr, sizeErr, flightErr); err != nil {
		return nil, err
	}

	return &Metrics{duration: duration, size: size, inFlight: inFlight}, nil
}

// Middleware records every request. Attributes use the route pattern rather
// than the path.
func (m *Metrics) Middleware() func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx := r.Context()
			start := time.Now()

			active := metric.WithAttributes(attribute.String("http.request.method", r.Method))
			m.inFlight.Add(ctx, 1, active)
			defer m.inFlight.Add(ctx, -1, active)

			ww := capture(w, r)
			next.ServeHTTP(ww, r)

			status := statusOf(ww)
			attrs := []attribute.KeyValue{
				attribute.String("http.request.method", r.Method),
				attribute.String("http.route", routePattern(r)),
				attribute.Int("http.response.status_code", status),
			}
			if status >= http.StatusInternalServerError {
				attrs = append(attrs, attribute.String("error.type", strconv.Itoa(status)))
			}

			set := metric.WithAttributes(attrs...)
			m.duration.Record(ctx, time.Since(start).Seconds(), set)
			m.size.Record(ctx, int64(ww.BytesWritten()), set)
		})
	}
}
