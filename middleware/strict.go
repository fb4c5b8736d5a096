package middleware

import (
	"net/http"
)

// RequireVerifiedEmail must run inside [RequireAccess]. It rejects tokens
// issued before the account's email was verified with 403.
func RequireVerifiedEmail(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		info, ok := AccessFromContext(r.Context())
		if !ok {
			http.Error(w, "unauthorized", http.StatusUnauthorized)
			return
		}
		if !info.EmailVerified {
			http.Error(w, "email not verified", http.StatusForbidden)
			return
		}
		next.ServeHTTP(w, r)
	})
}
