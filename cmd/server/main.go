package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/sadlab/sadserver/internal/api"
	"github.com/sadlab/sadserver/internal/catalog"
	"github.com/sadlab/sadserver/internal/ratelimit"
	"github.com/sadlab/sadserver/internal/registry"
	"github.com/sadlab/sadserver/internal/sandbox"
	"github.com/sadlab/sadserver/internal/terminal"
	"github.com/sadlab/sadserver/internal/webui"
)

func main() {
	// Load .env file
	if err := godotenv.Load(); err != nil {
		log.Println("No .env file found, using system environment variables")
	}

	log.Println("Starting sadserver...")

	addr := envOr("SADSRV_ADDR", ":3000")
	scenarioPath := envOr("SADSRV_SCENARIOS", "./configs/scenarios.yaml")
	ttl := envDuration("SADSRV_TTL", 30*time.Minute)
	maxInstances := envInt("SADSRV_MAX_INSTANCES", 20)

	// Scenario catalog (fail-soft: an empty catalog keeps the service up)
	cat := catalog.Load(scenarioPath)

	// Docker runtime
	runtime, err := sandbox.NewRuntime()
	if err != nil {
		log.Fatalf("Failed to create container runtime: %v", err)
	}
	defer runtime.Close()
	log.Println("✓ Container runtime initialized")

	// Pre-pull scenario images so the first start of a lab session is fast
	pullCtx, cancel := context.WithTimeout(context.Background(), 5*time.Minute)
	defer cancel()
	for _, id := range cat.IDs() {
		sc, _ := cat.Get(id)
		if err := runtime.EnsureImage(pullCtx, sc.Image); err != nil {
			log.Printf("⚠️ Could not pull image %s for scenario %s: %v", sc.Image, id, err)
		}
	}

	// Session registry, owned here and injected everywhere
	reg := registry.New()

	provisioner := sandbox.NewProvisioner(runtime, cat, reg, ttl, int64(maxInstances))
	log.Printf("✓ Provisioner initialized (ttl %s, max %d instances)", ttl, maxInstances)

	bridge := terminal.NewBridge(runtime, reg)
	log.Println("✓ Terminal bridge initialized")

	launcher := webui.NewLauncher(runtime, reg, cat)
	log.Println("✓ Web UI launcher initialized")

	rateLimiter := ratelimit.NewLimiter(30, 5)
	log.Println("✓ Rate limiter initialized (30 req/min per client)")

	handler := api.NewHandler(provisioner, launcher)
	router := handler.SetupRoutes(bridge, rateLimiter)
	log.Println("✓ HTTP routes configured")

	// No read/write timeouts: terminal websocket connections are long-lived.
	srv := &http.Server{
		Addr:        addr,
		Handler:     router,
		IdleTimeout: 60 * time.Second,
	}

	go func() {
		log.Printf("🚀 Server starting on %s", addr)
		log.Printf("📦 Scenarios: %v", cat.IDs())
		log.Printf("⏱️  Instance lifetime: %s", ttl)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("Server error: %v", err)
		}
	}()

	// Wait for interrupt signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, os.Interrupt, syscall.SIGTERM)
	<-quit

	log.Println("⏳ Shutting down gracefully...")

	shutdownCtx, cancelShutdown := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancelShutdown()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Fatalf("Server forced to shutdown: %v", err)
	}

	// Reclaim every live sandbox before exit
	for _, inst := range reg.All() {
		if err := provisioner.Stop(shutdownCtx, inst.ID); err != nil {
			log.Printf("⚠️ Failed to stop %s on shutdown: %v", inst.ID, err)
		}
	}

	log.Println("✅ Server stopped cleanly")
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func envDuration(key string, fallback time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		log.Printf("⚠️ Invalid %s=%q, using %s", key, v, fallback)
		return fallback
	}
	return d
}

func envInt(key string, fallback int) int {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		log.Printf("⚠️ Invalid %s=%q, using %d", key, v, fallback)
		return fallback
	}
	return n
}
