package api

import (
	"crypto/subtle"
	"net/http"
	"strings"
)

// TokenCookie carries the access token for browser sessions.
const TokenCookie = "chatlens_token"

// BearerAuthMiddleware requires the access token as "Authorization: Bearer
// <token>", the TokenCookie cookie, or a token query parameter. A valid query
// token is stored in the cookie so the viewer's links and script keep working.
// An empty token disables the check.
func BearerAuthMiddleware(token string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		if token == "" {
			return next
		}
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if bearer, ok := strings.CutPrefix(r.Header.Get("Authorization"), "Bearer "); ok && tokenEqual(bearer, token) {
				next.ServeHTTP(w, r)
				return
			}
			if c, err := r.Cookie(TokenCookie); err == nil && tokenEqual(c.Value, token) {
				next.ServeHTTP(w, r)
				return
			}
			if q := r.URL.Query().Get("token"); q != "" && tokenEqual(q, token) {
				http.SetCookie(w, &http.Cookie{
					Name:     TokenCookie,
					Value:    q,
					Path:     "/",
					HttpOnly: true,
					Secure:   r.TLS != nil,
					SameSite: http.SameSiteStrictMode,
				})
				next.ServeHTTP(w, r)
				return
			}
			writeError(w, http.StatusUnauthorized, "unauthorized")
		})
	}
}

func tokenEqual(got, want string) bool {
	return subtle.ConstantTimeCompare([]byte(got), []byte(want)) == 1
}
