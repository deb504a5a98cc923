package handlers

import (
	"net"
	"net/http"

	"github.com/watchearn/backend/internal/logging"
)

// RateLimiter is the minimal interface required to guard sensitive endpoints.
type RateLimiter interface {
	Allow(key string) bool
}

// allowRequest buckets callers per user and endpoint. Unidentified callers
// share a bucket per remote address.
func allowRequest(limiter RateLimiter, r *http.Request, scope string) bool {
	if limiter == nil {
		return true
	}
	caller := logging.UserIDFromContext(r.Context())
	if caller == "" {
		host, _, err := net.SplitHostPort(r.RemoteAddr)
		if err != nil {
			host = r.RemoteAddr
		}
		caller = "addr:" + host
	}
	return limiter.Allow(scope + "/" + caller)
}
