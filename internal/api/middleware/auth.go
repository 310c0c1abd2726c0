package middleware

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"github.com/notifysync/notifysync/internal/auth"
)

// UserIDHeader optionally names the acting user. When present it must match
// the token subject.
const UserIDHeader = "X-User-Id"

type userIDKey struct{}

// TokenValidator verifies bearer tokens. *auth.Tokens implements it.
type TokenValidator interface {
	Verify(token string) (*auth.Claims, error)
}

// Auth requires a valid bearer token and stores its subject as the user id.
func Auth(tokens TokenValidator) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			raw, detail := bearerToken(r.Header.Get("Authorization"))
			if detail != "" {
				writeUnauthorized(w, r, detail)
				return
			}

			claims, err := tokens.Verify(raw)
			switch {
			case errors.Is(err, auth.ErrTokenExpired):
				writeUnauthorized(w, r, "access token has expired")
				return
			case err != nil:
				writeUnauthorized(w, r, "invalid access token")
				return
			}

			if claimed := r.Header.Get(UserIDHeader); claimed != "" && claimed != claims.Subject {
				WriteProblem(w, r, http.StatusForbidden, "user id does not match token")
				return
			}

			next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), userIDKey{}, claims.Subject)))
		})
	}
}

// bearerToken extracts the token from an Authorization header. The scheme is
// matched case-insensitively. A non-empty detail explains a rejection.
func bearerToken(header string) (token, detail string) {
	if header == "" {
		return "", "missing authorization header"
	}
	scheme, token, ok := strings.Cut(header, " ")
	if !ok || !strings.EqualFold(scheme, "Bearer") {
		return "", "invalid authorization header format"
	}
	if token = strings.TrimSpace(token); token == "" {
		return "", "missing bearer token"
	}
	return token, ""
}

func writeUnauthorized(w http.ResponseWriter, r *http.Request, detail string) {
	w.Header().Set("WWW-Authenticate", `Bearer realm="notifysync"`)
	WriteProblem(w, r, http.StatusUnauthorized, detail)
}

// GetUserID returns the authenticated user id, or "" outside Auth.
func GetUserID(ctx context.Context) string {
	id, _ := ctx.Value(userIDKey{}).(string)
	return id
}
