package api

import (
	"log"
	"net"
	"net/http"

	"github.com/google/uuid"

	"github.com/sadlab/sadserver/internal/ratelimit"
	"github.com/sadlab/sadserver/pkg/models"
)

// RateLimitMiddleware enforces per-client rate limits on mutating sandbox
// endpoints. Status polling (GET) passes through.
func RateLimitMiddleware(limiter *ratelimit.Limiter) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if r.Method == http.MethodGet || r.Method == http.MethodOptions {
				next.ServeHTTP(w, r)
				return
			}

			if !limiter.Allow(clientAddr(r)) {
				writeJSON(w, http.StatusTooManyRequests, models.ErrorResponse{
					Error: "リクエストが多すぎます。しばらく待ってから再試行してください",
				})
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}

// RequestIDMiddleware tags each request with an id, echoed in the
// X-Request-ID header and usable to correlate log lines.
func RequestIDMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		reqID := r.Header.Get("X-Request-ID")
		if reqID == "" {
			reqID = uuid.New().String()
		}
		w.Header().Set("X-Request-ID", reqID)

		if r.URL.Path != "/healthz" && r.URL.Path != "/metrics" {
			short := reqID
			if len(short) > 8 {
				short = short[:8]
			}
			log.Printf("%s %s [%s]", r.Method, r.URL.Path, short)
		}
		next.ServeHTTP(w, r)
	})
}

// clientAddr returns the client host without the ephemeral port.
func clientAddr(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
