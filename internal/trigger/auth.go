package trigger

import (
	"crypto/subtle"
	"net/http"
	"strings"

	"digestfanout/pkg/logx"
)

func bearerAuth(token string, log logx.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			got, ok := strings.CutPrefix(r.Header.Get("Authorization"), "Bearer ")
			if !ok || !constantTimeEqual(strings.TrimSpace(got), token) {
				log.Warn("unauthorized trigger request", logx.String("path", r.URL.Path), logx.String("remote", r.RemoteAddr))
				writeJSON(w, http.StatusUnauthorized, map[string]any{"ok": false, "error": "unauthorized"})
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

func constantTimeEqual(a, b string) bool {
	return subtle.ConstantTimeCompare([]byte(a), []byte(b)) == 1
}
