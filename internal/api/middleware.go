// Package api implements the notes REST API using chi.
package api

import (
	"crypto/subtle"
	"net/http"
	"strings"
)

// accessTokenParam carries the token for GET /events, since EventSource
// cannot send an Authorization header.
const accessTokenParam = "access_token"

// TokenAuth rejects requests that do not present token, either as
// "Authorization: Bearer <token>" or, on the event stream only, as the
// access_token query parameter.
func TokenAuth(token string) func(http.Handler) http.Handler {
	want := []byte(token)
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			got := presentedToken(r)
			if got == "" || subtle.ConstantTimeCompare([]byte(got), want) != 1 {
				w.Header().Set("WWW-Authenticate", `Bearer realm="gitnote"`)
				writeJSON(w, http.StatusUnauthorized, errorBody("unauthorized"))
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

func presentedToken(r *http.Request) string {
	if scheme, cred, ok := strings.Cut(r.Header.Get("Authorization"), " "); ok && strings.EqualFold(scheme, "Bearer") {
		return strings.TrimSpace(cred)
	}
	if r.Method == http.MethodGet && strings.HasSuffix(r.URL.Path, "/events") {
		return r.URL.Query().Get(accessTokenParam)
	}
	return ""
}
