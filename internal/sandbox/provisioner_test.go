package sandbox

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/sadlab/sadserver/internal/catalog"
	"github.com/sadlab/sadserver/internal/registry"
	"github.com/sadlab/sadserver/pkg/models"
)

// fakeRuntime stands in for the Docker daemon. It records every call so
// tests can assert that invalid requests never reach the container layer.
type fakeRuntime struct {
	mu        sync.Mutex
	launches  []LaunchOptions
	stops     []string
	execs     [][]string
	launchErr error
	execExit  int
	execErr   error
}

func (f *fakeRuntime) Launch(ctx context.Context, opts LaunchOptions) (*LaunchResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.launchErr != nil {
		return nil, f.launchErr
	}
	f.launches = append(f.launches, opts)
	res := &LaunchResult{ContainerID: "ctr-" + opts.InstanceID}
	if opts.PublishPort {
		res.HostPort = 32768 + len(f.launches)
	}
	return res, nil
}

func (f *fakeRuntime) Stop(ctx context.Context, containerID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.stops = append(f.stops, containerID)
	return nil
}

func (f *fakeRuntime) Exec(ctx context.Context, containerID string, cmd []string) (string, string, int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.execs = append(f.execs, cmd)
	return "", "exec stderr", f.execExit, f.execErr
}

func (f *fakeRuntime) ExecDetached(ctx context.Context, containerID string, cmd []string) error {
	return nil
}

func (f *fakeRuntime) CopyFiles(ctx context.Context, containerID string, files []models.ScenarioFile) error {
	return nil
}

func (f *fakeRuntime) EnsureImage(ctx context.Context, ref string) error { return nil }

func (f *fakeRuntime) stopCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.stops)
}

func testCatalog(t *testing.T) *catalog.Catalog {
	t.Helper()
	path := filepath.Join(t.TempDir(), "scenarios.yaml")
	content := `
scenarios:
  easy1:
    image: ubuntu:22.04
    memory: 256m
  fragile:
    memory: 256m
    packages: [gdb]
  fragile-best-effort:
    memory: 256m
    packages: [gdb]
    best_effort: true
  reversing:
    memory: 1g
    packages: [rizin]
    publish_port: true
    setup_mode: background
`
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("writing catalog: %v", err)
	}
	return catalog.Load(path)
}

func newProvisioner(t *testing.T, rt ContainerRuntime, ttl time.Duration, max int64) (*Provisioner, *registry.Registry) {
	t.Helper()
	reg := registry.New()
	return NewProvisioner(rt, testCatalog(t), reg, ttl, max), reg
}

func TestStartHappyPath(t *testing.T) {
	rt := &fakeRuntime{}
	p, reg := newProvisioner(t, rt, time.Hour, 10)

	inst, setupInProgress, err := p.Start(context.Background(), "easy1")
	if err != nil {
		t.Fatalf("Start: %v", err)
	}
	if !models.ValidInstanceID(inst.ID) {
		t.Errorf("instance id %q fails format check", inst.ID)
	}
	if inst.WSPath != "/ws/"+inst.ID {
		t.Errorf("WSPath = %q, want /ws/%s", inst.WSPath, inst.ID)
	}
	if setupInProgress {
		t.Error("setupInProgress = true for a sync scenario with no setup")
	}
	if inst.WebUIPort != 0 {
		t.Errorf("WebUIPort = %d, want 0 for unpublished scenario", inst.WebUIPort)
	}

	snap, ok := reg.Snapshot(inst.ID)
	if !ok {
		t.Fatal("instance not in registry after Start")
	}
	if snap.State != models.StateReady {
		t.Errorf("State = %q, want READY", snap.State)
	}
	if snap.SetupStatus != models.SetupDone {
		t.Errorf("SetupStatus = %q, want done", snap.SetupStatus)
	}
}

func TestStartUnknownScenario(t *testing.T) {
	rt := &fakeRuntime{}
	p, _ := newProvisioner(t, rt, time.Hour, 10)

	_, _, err := p.Start(context.Background(), "does-not-exist")
	if !errors.Is(err, models.ErrUnknownScenario) {
		t.Fatalf("err = %v, want ErrUnknownScenario", err)
	}
	if len(rt.launches) != 0 {
		t.Error("unknown scenario reached the container runtime")
	}
}

func TestStartProvisionFailure(t *testing.T) {
	rt := &fakeRuntime{launchErr: errors.New("daemon unreachable")}
	p, reg := newProvisioner(t, rt, time.Hour, 10)

	_, _, err := p.Start(context.Background(), "easy1")
	var pe *models.ProvisionError
	if !errors.As(err, &pe) {
		t.Fatalf("err = %v, want *ProvisionError", err)
	}
	if reg.Len() != 0 {
		t.Error("failed start left a registry entry behind")
	}

	// the freed slot must be reusable
	rt.launchErr = nil
	if _, _, err := p.Start(context.Background(), "easy1"); err != nil {
		t.Fatalf("Start after failed start: %v", err)
	}
}

func TestSetupFailureFatal(t *testing.T) {
	rt := &fakeRuntime{execExit: 1}
	p, reg := newProvisioner(t, rt, time.Hour, 10)

	_, _, err := p.Start(context.Background(), "fragile")
	var se *models.SetupError
	if !errors.As(err, &se) {
		t.Fatalf("err = %v, want *SetupError", err)
	}
	if !strings.Contains(se.Detail, "exec stderr") {
		t.Errorf("SetupError detail %q missing captured stderr", se.Detail)
	}
	if reg.Len() != 0 {
		t.Error("fatal setup failure left the instance registered")
	}
	if rt.stopCount() != 1 {
		t.Errorf("stop calls = %d, want 1 (torn down after setup failure)", rt.stopCount())
	}
}

func TestSetupFailureBestEffort(t *testing.T) {
	rt := &fakeRuntime{execExit: 1}
	p, reg := newProvisioner(t, rt, time.Hour, 10)

	inst, _, err := p.Start(context.Background(), "fragile-best-effort")
	if err != nil {
		t.Fatalf("best-effort Start: %v", err)
	}

	snap, ok := reg.Snapshot(inst.ID)
	if !ok {
		t.Fatal("best-effort instance not registered")
	}
	if snap.State != models.StateReady {
		t.Errorf("State = %q, want READY (shell still usable)", snap.State)
	}
	if snap.SetupStatus != models.SetupFailed {
		t.Errorf("SetupStatus = %q, want failed", snap.SetupStatus)
	}
}

func TestBackgroundSetup(t *testing.T) {
	rt := &fakeRuntime{}
	p, reg := newProvisioner(t, rt, time.Hour, 10)

	inst, setupInProgress, err := p.Start(context.Background(), "reversing")
	if err != nil {
		t.Fatalf("Start: %v", err)
	}
	if !setupInProgress {
		t.Error("setupInProgress = false for a background scenario")
	}
	if inst.WebUIPort == 0 {
		t.Error("WebUIPort = 0 for a port-publishing scenario")
	}

	deadline := time.After(2 * time.Second)
	for {
		snap, ok := reg.Snapshot(inst.ID)
		if !ok {
			t.Fatal("instance vanished during background setup")
		}
		if snap.SetupStatus == models.SetupDone {
			break
		}
		select {
		case <-deadline:
			t.Fatalf("SetupStatus = %q, never reached done", snap.SetupStatus)
		case <-time.After(10 * time.Millisecond):
		}
	}
}

func TestStopIdempotent(t *testing.T) {
	rt := &fakeRuntime{}
	p, reg := newProvisioner(t, rt, time.Hour, 10)

	inst, _, err := p.Start(context.Background(), "easy1")
	if err != nil {
		t.Fatalf("Start: %v", err)
	}

	if err := p.Stop(context.Background(), inst.ID); err != nil {
		t.Fatalf("first Stop: %v", err)
	}
	if reg.Len() != 0 {
		t.Error("instance still registered after Stop")
	}
	if rt.stopCount() != 1 {
		t.Errorf("stop calls = %d, want 1", rt.stopCount())
	}

	// "already stopped" is success, and no second terminate is attempted
	if err := p.Stop(context.Background(), inst.ID); err != nil {
		t.Fatalf("second Stop: %v", err)
	}
	if rt.stopCount() != 1 {
		t.Errorf("stop calls after double stop = %d, want 1", rt.stopCount())
	}
}

func TestStopInvalidID(t *testing.T) {
	rt := &fakeRuntime{}
	p, _ := newProvisioner(t, rt, time.Hour, 10)

	err := p.Stop(context.Background(), "not-a-real-id")
	if !errors.Is(err, models.ErrInvalidInstanceID) {
		t.Fatalf("err = %v, want ErrInvalidInstanceID", err)
	}
	if rt.stopCount() != 0 {
		t.Error("invalid id reached the container runtime")
	}
}

func TestExpiryTearsDown(t *testing.T) {
	rt := &fakeRuntime{}
	p, reg := newProvisioner(t, rt, 30*time.Millisecond, 10)

	inst, _, err := p.Start(context.Background(), "easy1")
	if err != nil {
		t.Fatalf("Start: %v", err)
	}

	deadline := time.After(2 * time.Second)
	for rt.stopCount() != 1 {
		select {
		case <-deadline:
			t.Fatal("instance never expired")
		case <-time.After(10 * time.Millisecond):
		}
	}
	if reg.Len() != 0 {
		t.Error("registry entry survived expiry")
	}

	// a later explicit stop of the expired instance is still success
	if err := p.Stop(context.Background(), inst.ID); err != nil {
		t.Fatalf("Stop after expiry: %v", err)
	}
}

func TestCapacityLimit(t *testing.T) {
	rt := &fakeRuntime{}
	p, _ := newProvisioner(t, rt, time.Hour, 1)

	inst, _, err := p.Start(context.Background(), "easy1")
	if err != nil {
		t.Fatalf("Start: %v", err)
	}

	if _, _, err := p.Start(context.Background(), "easy1"); !errors.Is(err, models.ErrCapacityExceeded) {
		t.Fatalf("err = %v, want ErrCapacityExceeded", err)
	}

	if err := p.Stop(context.Background(), inst.ID); err != nil {
		t.Fatalf("Stop: %v", err)
	}
	if _, _, err := p.Start(context.Background(), "easy1"); err != nil {
		t.Fatalf("Start after freeing capacity: %v", err)
	}
}
