package middleware

import (
	"crypto/subtle"
	"encoding/json"
	"net/http"
	"strings"

	"github.com/watchearn/backend/internal/logging"
)

// AdminAuth guards internal routes with a static bearer token. An empty token
// disables the internal surface entirely.
func AdminAuth(token string) func(http.Handler) http.Handler {
	token = strings.TrimSpace(token)
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if token == "" {
				writeError(w, http.StatusServiceUnavailable, "internal api disabled", "internal_disabled")
				return
			}
			presented := parseBearerToken(r.Header.Get("Authorization"))
			if presented == "" || subtle.ConstantTimeCompare([]byte(presented), []byte(token)) != 1 {
				logging.FromContext(r.Context()).Warn("rejected internal request")
				writeError(w, http.StatusUnauthorized, "authentication required", "unauthenticated")
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

func parseBearerToken(header string) string {
	header = strings.TrimSpace(header)
	if len(header) < 7 || !strings.EqualFold(header[:7], "bearer ") {
		return ""
	}
	return strings.TrimSpace(header[7:])
}

func writeError(w http.ResponseWriter, status int, message, code string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]string{"error": message, "code": code})
}
