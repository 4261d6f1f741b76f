package sandbox

import (
	"context"
	"fmt"
	"log"
	"strings"
	"time"

	"golang.org/x/sync/semaphore"

	"github.com/sadlab/sadserver/internal/catalog"
	"github.com/sadlab/sadserver/internal/metrics"
	"github.com/sadlab/sadserver/internal/registry"
	"github.com/sadlab/sadserver/pkg/models"
)

// ContainerRuntime is the slice of the Docker runtime the provisioner and
// its collaborators need. Tests substitute a fake so no daemon is required.
type ContainerRuntime interface {
	Launch(ctx context.Context, opts LaunchOptions) (*LaunchResult, error)
	Stop(ctx context.Context, containerID string) error
	Exec(ctx context.Context, containerID string, cmd []string) (stdout, stderr string, exitCode int, err error)
	ExecDetached(ctx context.Context, containerID string, cmd []string) error
	CopyFiles(ctx context.Context, containerID string, files []models.ScenarioFile) error
	EnsureImage(ctx context.Context, ref string) error
}

// backgroundSetupTimeout bounds a fire-and-forget setup run. The instance
// expiry is the real backstop; this just keeps a wedged apt from holding a
// goroutine past any plausible use.
const backgroundSetupTimeout = 10 * time.Minute

// Provisioner creates and destroys sandbox instances. It owns the per-start
// sequence launch → register → setup → ready and the teardown path shared by
// explicit stops and expiry timers.
type Provisioner struct {
	runtime  ContainerRuntime
	catalog  *catalog.Catalog
	registry *registry.Registry
	ttl      time.Duration
	slots    *semaphore.Weighted
}

// NewProvisioner wires a provisioner. ttl is the instance lifetime enforced
// by the expiry timer; maxInstances caps live instances host-wide.
func NewProvisioner(rt ContainerRuntime, cat *catalog.Catalog, reg *registry.Registry, ttl time.Duration, maxInstances int64) *Provisioner {
	return &Provisioner{
		runtime:  rt,
		catalog:  cat,
		registry: reg,
		ttl:      ttl,
		slots:    semaphore.NewWeighted(maxInstances),
	}
}

// Start provisions one sandbox instance for a scenario. setupInProgress is
// true when the scenario's setup runs in the background and may still be
// materializing files after this returns.
func (p *Provisioner) Start(ctx context.Context, scenarioID string) (inst *models.Instance, setupInProgress bool, err error) {
	sc, ok := p.catalog.Get(scenarioID)
	if !ok {
		return nil, false, models.ErrUnknownScenario
	}

	if !p.slots.TryAcquire(1) {
		return nil, false, models.ErrCapacityExceeded
	}

	id := models.NewInstanceID()
	log.Printf("🚀 Starting %s (scenario %s)", id, scenarioID)

	launch, err := p.runtime.Launch(ctx, LaunchOptions{
		InstanceID:  id,
		Image:       sc.Image,
		CPUs:        sc.CPUs,
		MemoryBytes: sc.MemoryBytes,
		PublishPort: sc.PublishPort,
	})
	if err != nil {
		p.slots.Release(1)
		return nil, false, &models.ProvisionError{InstanceID: id, Detail: err.Error(), Err: err}
	}

	now := time.Now()
	inst = &models.Instance{
		ID:          id,
		ScenarioID:  scenarioID,
		State:       models.StateStarting,
		SetupStatus: models.SetupPending,
		CreatedAt:   now,
		ExpiresAt:   now.Add(p.ttl),
		WSPath:      models.WSPathFor(id),
		WebUIPort:   launch.HostPort,
		ContainerID: launch.ContainerID,
	}
	p.registry.Register(inst)
	metrics.InstancesStarted.WithLabelValues(scenarioID).Inc()
	metrics.InstancesActive.Inc()

	if sc.SetupMode == models.SetupBackground {
		go p.runBackgroundSetup(id, launch.ContainerID, sc)
		setupInProgress = true
	} else {
		if err := p.runSetup(ctx, id, launch.ContainerID, sc); err != nil {
			metrics.SetupFailures.WithLabelValues(scenarioID).Inc()
			if !sc.BestEffort {
				p.teardown(ctx, id)
				return nil, false, err
			}
			// best-effort: the student still gets a shell
			log.Printf("⚠️ Setup for %s failed, continuing (best-effort): %v", id, err)
			p.registry.UpdateSetup(id, models.SetupFailed)
		} else {
			p.registry.UpdateSetup(id, models.SetupDone)
		}
	}

	p.registry.UpdateState(id, models.StateReady)
	p.registry.ScheduleExpiry(id, p.ttl, p.expire)

	log.Printf("✅ %s ready (expires %s)", id, inst.ExpiresAt.Format(time.RFC3339))
	return inst, setupInProgress, nil
}

// runBackgroundSetup drives setup for slow scenarios off the request path,
// recording the outcome on the instance so clients can poll it.
func (p *Provisioner) runBackgroundSetup(id, containerID string, sc models.Scenario) {
	ctx, cancel := context.WithTimeout(context.Background(), backgroundSetupTimeout)
	defer cancel()

	if err := p.runSetup(ctx, id, containerID, sc); err != nil {
		metrics.SetupFailures.WithLabelValues(sc.ID).Inc()
		log.Printf("⚠️ Background setup for %s failed: %v", id, err)
		p.registry.UpdateSetup(id, models.SetupFailed)
		return
	}
	p.registry.UpdateSetup(id, models.SetupDone)
	log.Printf("✓ Background setup for %s done", id)
}

// runSetup executes the scenario's setup procedure as one linear sequence:
// materialize files, install packages, run post-install commands. Each step
// failure carries the step name and captured stderr.
func (p *Provisioner) runSetup(ctx context.Context, id, containerID string, sc models.Scenario) error {
	if len(sc.Files) > 0 {
		if err := p.runtime.CopyFiles(ctx, containerID, sc.Files); err != nil {
			return &models.SetupError{InstanceID: id, Step: "files", Detail: err.Error(), Err: err}
		}
	}

	if len(sc.Packages) > 0 {
		install := fmt.Sprintf(
			"export DEBIAN_FRONTEND=noninteractive && apt-get update -qq && apt-get install -y -qq %s",
			strings.Join(sc.Packages, " "),
		)
		if err := p.execStep(ctx, id, containerID, "packages", install); err != nil {
			return err
		}
	}

	for i, cmd := range sc.Setup {
		step := fmt.Sprintf("setup[%d]", i)
		if err := p.execStep(ctx, id, containerID, step, cmd); err != nil {
			return err
		}
	}

	return nil
}

func (p *Provisioner) execStep(ctx context.Context, id, containerID, step, cmd string) error {
	_, stderr, code, err := p.runtime.Exec(ctx, containerID, []string{"sh", "-c", cmd})
	if err != nil {
		return &models.SetupError{InstanceID: id, Step: step, Detail: err.Error(), Err: err}
	}
	if code != 0 {
		return &models.SetupError{
			InstanceID: id,
			Step:       step,
			Detail:     fmt.Sprintf("exit %d: %s", code, tail(stderr, 500)),
		}
	}
	return nil
}

// Stop tears down an instance. Stopping an instance that is already gone is
// success, not an error: an explicit stop and a fired expiry timer may race.
func (p *Provisioner) Stop(ctx context.Context, id string) error {
	if !models.ValidInstanceID(id) {
		return models.ErrInvalidInstanceID
	}
	p.teardown(ctx, id)
	return nil
}

// Get returns a read-only snapshot of an instance.
func (p *Provisioner) Get(id string) (models.Instance, error) {
	if !models.ValidInstanceID(id) {
		return models.Instance{}, models.ErrInvalidInstanceID
	}
	snap, ok := p.registry.Snapshot(id)
	if !ok {
		return models.Instance{}, models.ErrInstanceNotFound
	}
	return snap, nil
}

// expire is the expiry-timer callback.
func (p *Provisioner) expire(id string) {
	log.Printf("🕒 Expiry for %s", id)
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	p.teardown(ctx, id)
}

// teardown is the single removal path shared by explicit stops, expiry
// timers, and failed starts. Past the first successful registry removal
// every later caller no-ops, so racing teardowns are safe.
func (p *Provisioner) teardown(ctx context.Context, id string) {
	inst, ok := p.registry.Get(id)
	if !ok {
		return
	}
	p.registry.UpdateState(id, models.StateStopping)
	if !p.registry.Remove(id) {
		return // lost the race to another teardown
	}

	if err := p.runtime.Stop(ctx, inst.ContainerID); err != nil {
		log.Printf("⚠️ Failed to stop container for %s: %v", id, err)
	}
	p.slots.Release(1)
	metrics.InstancesActive.Dec()
	log.Printf("🛑 %s stopped", id)
}

// tail returns at most n trailing bytes of s.
func tail(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[len(s)-n:]
}
