package middleware

import (
	"crypto/subtle"
	"net/http"
	"strings"
)

// RequireSecret guards operational endpoints (cron trigger, scrape control)
// with a shared bearer token. An empty configured secret disables the
// endpoints entirely rather than leaving them open.
func RequireSecret(secret string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if secret == "" {
				http.Error(w, "Endpoint disabled", http.StatusForbidden)
				return
			}
			token := bearerToken(r)
			if subtle.ConstantTimeCompare([]byte(token), []byte(secret)) != 1 {
				http.Error(w, "Unauthorized", http.StatusUnauthorized)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

func bearerToken(r *http.Request) string {
	h := r.Header.Get("Authorization")
	const prefix = "Bearer "
	if strings.HasPrefix(h, prefix) {
		return h[len(prefix):]
	}
	// Cron services that cannot set headers may pass the token as a query
	// parameter instead.
	return r.URL.Query().Get("token")
}
