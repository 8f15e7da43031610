// Package owner resolves the acting user of a request. Authentication happens
// upstream; this only reads the identity it leaves behind in the user_id cookie.
package owner

import (
	"context"
	"net/http"
	"strconv"

	"github.com/Adoubf/cloud-mail/internal/transport/httpapi"
)

const CookieName = "user_id"

type userIDKeyType struct{}

var userIDKey = userIDKeyType{}

func WithUser(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		c, err := r.Cookie(CookieName)
		if err != nil || c.Value == "" {
			httpapi.WriteError(w, r, httpapi.ErrMissingUser)
			return
		}

		uid, err := strconv.ParseInt(c.Value, 10, 64)
		if err != nil || uid <= 0 {
			httpapi.WriteError(w, r, httpapi.ErrInvalidUser)
			return
		}

		next.ServeHTTP(w, r.WithContext(WithUserID(r.Context(), uid)))
	})
}

func WithUserID(ctx context.Context, id int64) context.Context {
	return context.WithValue(ctx, userIDKey, id)
}

// UserID returns the id stored by WithUser, or 0.
func UserID(r *http.Request) int64 {
	id, _ := r.Context().Value(userIDKey).(int64)
	return id
}
