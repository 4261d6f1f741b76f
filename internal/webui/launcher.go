package webui

import (
	"context"
	"fmt"
	"log"
	"net"
	"strings"
	"time"

	"github.com/sadlab/sadserver/internal/catalog"
	"github.com/sadlab/sadserver/internal/metrics"
	"github.com/sadlab/sadserver/internal/registry"
	"github.com/sadlab/sadserver/pkg/models"
)

// containerPort is the fixed port the web UI binds inside the container;
// the host side is the instance's published ephemeral port.
const containerPort = 9090

const logPath = "/tmp/sadserver-webui.log"

// candidateBinaries is probed in order; rizin first, radare2 as the
// known-compatible fallback.
var candidateBinaries = []string{"rizin", "r2"}

// Execer runs commands inside a container.
type Execer interface {
	Exec(ctx context.Context, containerID string, cmd []string) (stdout, stderr string, exitCode int, err error)
	ExecDetached(ctx context.Context, containerID string, cmd []string) error
}

// Launcher starts the binary-analysis web UI inside an already-provisioned
// instance. Every sub-step that can fail yields a structured outcome rather
// than an unhandled error: a training user acting on this endpoint should
// always get actionable feedback.
type Launcher struct {
	execer   Execer
	registry *registry.Registry
	catalog  *catalog.Catalog

	// Polling knobs, injectable for tests. The defaults ride out a
	// background setup that is still producing the target file.
	PollInterval time.Duration
	MaxAttempts  int
	SettleDelay  time.Duration
}

// NewLauncher creates a launcher with the default polling budget
// (5s x 36 attempts, about three minutes).
func NewLauncher(execer Execer, reg *registry.Registry, cat *catalog.Catalog) *Launcher {
	return &Launcher{
		execer:       execer,
		registry:     reg,
		catalog:      cat,
		PollInterval: 5 * time.Second,
		MaxAttempts:  36,
		SettleDelay:  2 * time.Second,
	}
}

// Launch probes for the analysis binary and the target file, starts the web
// UI detached, confirms it is actually running, and computes the reachable
// URL from the request's originating host.
func (l *Launcher) Launch(ctx context.Context, instanceID, filePath, reqHost string) (*models.WebUIResponse, error) {
	if !models.ValidInstanceID(instanceID) {
		return nil, models.ErrInvalidInstanceID
	}
	inst, ok := l.registry.Get(instanceID)
	if !ok {
		return nil, models.ErrInstanceNotFound
	}
	if inst.WebUIPort == 0 {
		return nil, fmt.Errorf("scenario %s does not publish a web UI port", inst.ScenarioID)
	}

	if filePath == "" {
		if sc, ok := l.catalog.Get(inst.ScenarioID); ok {
			filePath = sc.TargetPath
		}
	}
	if filePath == "" {
		return nil, fmt.Errorf("no target file given and scenario %s has no default", inst.ScenarioID)
	}

	bin, err := l.probeBinary(ctx, inst.ContainerID)
	if err != nil {
		metrics.WebUILaunches.WithLabelValues("error").Inc()
		return nil, err
	}

	if err := l.waitForTarget(ctx, inst.ContainerID, filePath); err != nil {
		metrics.WebUILaunches.WithLabelValues("target_not_ready").Inc()
		return nil, err
	}

	launch := fmt.Sprintf("nohup %s -e http.bind=0.0.0.0 -e http.port=%d -c=H %s > %s 2>&1 &",
		bin, containerPort, shQuote(filePath), logPath)
	if err := l.execer.ExecDetached(ctx, inst.ContainerID, []string{"sh", "-c", launch}); err != nil {
		metrics.WebUILaunches.WithLabelValues("error").Inc()
		return nil, fmt.Errorf("launch %s: %w", bin, err)
	}

	// The launch command returning says nothing: the tool can exit
	// immediately on a bad target. Settle, then re-probe the process table.
	time.Sleep(l.SettleDelay)
	running := l.confirmRunning(ctx, inst.ContainerID, bin)

	resp := &models.WebUIResponse{
		Success:    true,
		InstanceID: instanceID,
		WebUIPort:  inst.WebUIPort,
		WebUIURL:   l.reachableURL(reqHost, inst.WebUIPort),
		IsRunning:  running,
	}

	if running {
		metrics.WebUILaunches.WithLabelValues("running").Inc()
		log.Printf("✅ Web UI running for %s on port %d", instanceID, inst.WebUIPort)
		return resp, nil
	}

	metrics.WebUILaunches.WithLabelValues("uncertain").Inc()
	resp.Log = l.logTail(ctx, inst.ContainerID)
	resp.Suggestion = fmt.Sprintf("start it manually from the terminal: %s -c=H %s", bin, filePath)
	log.Printf("⚠️ Web UI launch for %s could not be confirmed", instanceID)
	return resp, nil
}

// probeBinary returns the first candidate binary present in the container.
func (l *Launcher) probeBinary(ctx context.Context, containerID string) (string, error) {
	for _, bin := range candidateBinaries {
		_, _, code, err := l.execer.Exec(ctx, containerID, []string{"sh", "-c", "command -v " + bin})
		if err == nil && code == 0 {
			return bin, nil
		}
	}
	return "", fmt.Errorf("no analysis binary found (tried %s)", strings.Join(candidateBinaries, ", "))
}

// waitForTarget polls for the target file with a fixed interval and a fixed
// attempt budget; background setup may still be producing it.
func (l *Launcher) waitForTarget(ctx context.Context, containerID, filePath string) error {
	for attempt := 1; attempt <= l.MaxAttempts; attempt++ {
		_, _, code, err := l.execer.Exec(ctx, containerID, []string{"test", "-f", filePath})
		if err == nil && code == 0 {
			return nil
		}
		if attempt == l.MaxAttempts {
			break
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(l.PollInterval):
		}
	}
	return fmt.Errorf("%w: %s did not appear after %d attempts", models.ErrTargetNotReady, filePath, l.MaxAttempts)
}

func (l *Launcher) confirmRunning(ctx context.Context, containerID, bin string) bool {
	_, _, code, err := l.execer.Exec(ctx, containerID, []string{"sh", "-c", "pgrep -f " + bin + " >/dev/null"})
	return err == nil && code == 0
}

func (l *Launcher) logTail(ctx context.Context, containerID string) string {
	out, _, _, err := l.execer.Exec(ctx, containerID, []string{"sh", "-c", "tail -n 20 " + logPath})
	if err != nil {
		return ""
	}
	return out
}

// reachableURL combines the request's originating host with the published
// port. The tool itself only knows "localhost"; the caller's Host header is
// what is actually reachable from outside.
func (l *Launcher) reachableURL(reqHost string, port int) string {
	host := reqHost
	if h, _, err := net.SplitHostPort(reqHost); err == nil {
		host = h
	}
	if host == "" {
		host = "localhost"
	}
	return fmt.Sprintf("http://%s:%d/", host, port)
}

// shQuote single-quotes s for safe interpolation into an sh -c string.
func shQuote(s string) string {
	return "'" + strings.ReplaceAll(s, "'", `'\''`) + "'"
}
