// Package authmw provides HTTP middleware for shared-token authentication.
package authmw

import (
	"crypto/subtle"
	"net/http"
	"strings"

	"github.com/linnemanlabs/go-core/log"
)

const bearerScheme = "Bearer"

// Token returns middleware that admits a request only when its Authorization
// header carries the expected token, either as "Bearer <token>" or as the bare
// token. Comparison is constant-time.
func Token(token string, logger log.Logger) func(http.Handler) http.Handler {
	if logger == nil {
		logger = log.Nop()
	}
	expected := []byte(token)
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			got, ok := extract(r.Header.Get("Authorization"))
			if !ok {
				logger.Warn(r.Context(), "request rejected", "reason", "missing authorization header", "path", r.URL.Path)
				writeUnauthorized(w, "missing authorization header")
				return
			}

			if subtle.ConstantTimeCompare([]byte(got), expected) != 1 {
				logger.Warn(r.Context(), "request rejected", "reason", "invalid token", "path", r.URL.Path)
				writeUnauthorized(w, "invalid token")
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}

func extract(header string) (string, bool) {
	header = strings.TrimSpace(header)
	if header == "" {
		return "", false
	}
	if rest, ok := strings.CutPrefix(header, bearerScheme); ok && (rest == "" || rest[0] == ' ') {
		header = strings.TrimSpace(rest)
	}
	return header, header != ""
}

func writeUnauthorized(w http.ResponseWriter, msg string) {
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("WWW-Authenticate", "Bearer")
	w.WriteHeader(http.StatusUnauthorized)
	_, _ = w.Write([]byte(`{"error":"` + msg + `"}`))
}
