package middleware

import (
	"context"
	"net"
	"net/http"
	"strings"

	"github.com/MrEthical07/authcore"
)

type accessContextKey struct{}

// AccessFromContext returns the verified access token details stored by
// [RequireAccess].
func AccessFromContext(ctx context.Context) (*authcore.AccessInfo, bool) {
	info, ok := ctx.Value(accessContextKey{}).(*authcore.AccessInfo)
	return info, ok
}

// RequireAccess rejects requests without a valid bearer access token and
// stores the verified details in the request context.
func RequireAccess(engine *authcore.Engine) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if engine == nil {
				http.Error(w, "unauthorized", http.StatusUnauthorized)
				return
			}

			token, ok := BearerToken(r.Header.Get("Authorization"))
			if !ok {
				http.Error(w, "unauthorized", http.StatusUnauthorized)
				return
			}

			info, err := engine.VerifyAccess(r.Context(), token)
			if err != nil {
				http.Error(w, "unauthorized", http.StatusUnauthorized)
				return
			}

			ctx := context.WithValue(r.Context(), accessContextKey{}, info)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// TrackActivity marks the caller's session active. It must run after
// [RequireAccess]; requests without verified access details pass through.
// Touch failures never fail the request.
func TrackActivity(engine *authcore.Engine) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if info, ok := AccessFromContext(r.Context()); ok && info.SessionID != "" {
				_ = engine.TouchSession(r.Context(), info.UserID, info.SessionID)
			}
			next.ServeHTTP(w, r)
		})
	}
}

// ClientContext copies the caller's address and user agent into the
// request context, where the engine picks them up for sessions and audit
// events. Forwarding headers are not trusted.
func ClientContext(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctx := authcore.WithClientIP(r.Context(), remoteIP(r.RemoteAddr))
		ctx = authcore.WithUserAgent(ctx, r.UserAgent())
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// BearerToken extracts the token from an Authorization header value.
func BearerToken(value string) (string, bool) {
	const bearer = "Bearer "
	if len(value) < len(bearer) || !strings.EqualFold(value[:len(bearer)], bearer) {
		return "", false
	}

	token := strings.TrimSpace(value[len(bearer):])
	if token == "" {
		return "", false
	}

	return token, true
}

func remoteIP(addr string) string {
	host, _, err := net.SplitHostPort(addr)
	if err != nil {
		return addr
	}
	return host
}
