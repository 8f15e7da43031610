// Package admin guards internal routes with a shared bearer token.
package admin

import (
	"crypto/subtle"
	"net/http"
	"strings"

	"github.com/Adoubf/cloud-mail/internal/transport/httpapi"
)

// New rejects requests whose Authorization header does not carry token. An empty
// token rejects everything, so admin routes stay closed until one is configured.
func New(token string) func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			got, ok := strings.CutPrefix(r.Header.Get("Authorization"), "Bearer ")
			if token == "" || !ok || subtle.ConstantTimeCompare([]byte(got), []byte(token)) != 1 {
				httpapi.WriteError(w, r, httpapi.ErrUnauthorized)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
