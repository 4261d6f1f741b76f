package api

import (
	"net/http"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/sadlab/sadserver/internal/ratelimit"
	"github.com/sadlab/sadserver/internal/terminal"
)

// SetupRoutes configures all HTTP routes
func (h *Handler) SetupRoutes(bridge *terminal.Bridge, rateLimiter *ratelimit.Limiter) *mux.Router {
	r := mux.NewRouter()

	// Sandbox lifecycle endpoints. Mutations are rate limited (each start
	// is a container launch on the shared host); the status GET is not,
	// since clients poll it during background setup.
	sad := r.PathPrefix("/sad").Subrouter()
	sad.Use(RateLimitMiddleware(rateLimiter))
	sad.HandleFunc("/start-sad", h.StartSad).Methods("POST")
	sad.HandleFunc("/stop-sad", h.StopSad).Methods("POST")
	sad.HandleFunc("/start-rizin-webui", h.StartWebUI).Methods("POST")
	sad.HandleFunc("/instances/{id}", h.GetInstance).Methods("GET")

	// Terminal channel, one connection per instance
	r.HandleFunc("/ws/{id}", func(w http.ResponseWriter, req *http.Request) {
		bridge.HandleTerminal(w, req, mux.Vars(req)["id"])
	}).Methods("GET")

	r.HandleFunc("/healthz", h.Health).Methods("GET")
	r.Handle("/metrics", promhttp.Handler()).Methods("GET")

	r.Use(corsMiddleware)
	r.Use(RequestIDMiddleware)

	return r
}

// corsMiddleware adds CORS headers
func corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")

		if r.Method == "OPTIONS" {
			w.WriteHeader(http.StatusOK)
			return
		}

		next.ServeHTTP(w, r)
	})
}
