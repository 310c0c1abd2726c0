package middleware

import (
	"errors"
	"net/http"
	"runtime/debug"

	"github.com/rs/zerolog"
)

// Recovery turns a handler panic into a 500 problem response. http.ErrAbortHandler
// is re-raised so net/http can abort the connection as intended.
func Recovery(log zerolog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			defer func() {
				rec := recover()
				if rec == nil {
					return
				}
				if err, ok := rec.(error); ok && errors.Is(err, http.ErrAbortHandler) {
					panic(rec)
				}

				requestID := GetRequestID(r.Context())
				log.Error().
					Str("request_id", requestID).
					Str("method", r.Method).
					Str("route", routePattern(r)).
					Interface("panic", rec).
					Bytes("stack", debug.Stack()).
					Msg("panic recovered")

				WriteProblem(w, r, http.StatusInternalServerError, "an unexpected error occurred")
			}()

			next.ServeHTTP(w, r)
		})
	}
}
