package handler

import (
	"encoding/json"
	"net/http"

	"github.com/notifysync/notifysync/internal/api/middleware"
	"github.com/notifysync/notifysync/internal/api/response"
)

// maxBodyBytes bounds every JSON request body.
const maxBodyBytes = 64 << 10

// caller returns the authenticated user id. Every route served by this
// package sits behind middleware.Auth, so it is never empty.
func caller(r *http.Request) string {
	return middleware.GetUserID(r.Context())
}

// decodeJSON reads the request body into v. On failure it writes a 400
// problem and returns false.
func decodeJSON(w http.ResponseWriter, r *http.Request, v any) bool {
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes)).Decode(v); err != nil {
		response.BadRequest(w, r, "invalid JSON body", nil)
		return false
	}
	return true
}
