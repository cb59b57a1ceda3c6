package middleware

import (
	"crypto/subtle"
	"net/http"

	"loadplane/internal/auth"
	"loadplane/internal/logger"
)

// RequireInternalAuth guards the routes called by schedule rules, the workflow
// backend and provisioning. Callers present the shared secret as a bearer
// token; an empty secret rejects every call.
func RequireInternalAuth(secret string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			token, ok := auth.BearerToken(r.Header.Get("Authorization"))
			if !ok {
				writeError(w, http.StatusUnauthorized, "UNAUTHORIZED", "Missing or malformed authorization header")
				return
			}
			if secret == "" || subtle.ConstantTimeCompare([]byte(token), []byte(secret)) != 1 {
				logger.FromContext(r.Context()).Warn("rejected internal call", "path", r.URL.Path)
				writeError(w, http.StatusUnauthorized, "UNAUTHORIZED", "Invalid internal secret")
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
