package middleware

import (
	"math"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/httprate"
)

// Budget is a number of requests allowed per window.
type Budget struct {
	Requests int
	Window   time.Duration
}

var (
	// RegistrationBudget covers device registration. A device registers on
	// launch and on token rotation, so bursts beyond this are abuse.
	RegistrationBudget = Budget{Requests: 20, Window: time.Minute}

	// InboxBudget covers feed and preference calls. Clients poll the unread
	// count every 30 seconds.
	InboxBudget = Budget{Requests: 120, Window: time.Minute}
)

// RateLimitByIP limits requests per client address.
func RateLimitByIP(b Budget) func(http.Handler) http.Handler {
	return rateLimit(b, httprate.KeyByRealIP)
}

// RateLimitByUser limits requests per authenticated user, falling back to the
// client address for anonymous requests. It must run after Auth.
func RateLimitByUser(b Budget) func(http.Handler) http.Handler {
	return rateLimit(b, func(r *http.Request) (string, error) {
		if userID := GetUserID(r.Context()); userID != "" {
			return "user:" + userID, nil
		}
		return httprate.KeyByRealIP(r)
	})
}

func rateLimit(b Budget, key httprate.KeyFunc) func(http.Handler) http.Handler {
	retryAfter := strconv.Itoa(int(math.Ceil(b.Window.Seconds())))
	return httprate.Limit(b.Requests, b.Window,
		httprate.WithKeyFuncs(key),
		httprate.WithLimitHandler(func(w http.ResponseWriter, r *http.Request) {
			// httprate does not expose when the window resets.
			w.Header().Set("Retry-After", retryAfter)
			WriteProblem(w, r, http.StatusTooManyRequests, "rate limit exceeded, retry later")
		}),
	)
}
