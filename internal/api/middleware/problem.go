package middleware

import (
	"net/http"

	"github.com/notifysync/notifysync/internal/api/models"
)

// WriteProblem writes the problem for status, tagged with the request id and path.
func WriteProblem(w http.ResponseWriter, r *http.Request, status int, detail string) {
	p := models.NewProblem(status, GetRequestID(r.Context()), detail)
	p.Instance = r.URL.Path
	p.Write(w)
}
