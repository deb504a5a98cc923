package middleware

import (
	"net/http"
	"strings"

	"github.com/watchearn/backend/internal/logging"
)

// UserIDHeader is set by the upstream identity layer after authentication.
const UserIDHeader = "X-User-ID"

// Identity moves the authenticated user id from the trusted proxy header onto
// the request context. Requests without one are rejected.
func Identity(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		userID := strings.TrimSpace(r.Header.Get(UserIDHeader))
		if userID == "" {
			writeError(w, http.StatusUnauthorized, "authenticated user required", "unauthenticated")
			return
		}

		next.ServeHTTP(w, r.WithContext(logging.WithUserID(r.Context(), userID)))
	})
}
