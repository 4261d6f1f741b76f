package registry

import (
	"sync"
	"time"

	"github.com/sadlab/sadserver/pkg/models"
)

// Registry is the in-memory map from instance ids to live sandbox instances.
// It is the single source of truth for "is this instance usable": an entry
// exists exactly while the underlying container is believed to be running.
//
// The registry is constructed once in main and injected into every component
// that needs it, so there is no hidden package-level state.
type Registry struct {
	mu      sync.RWMutex
	entries map[string]*entry
}

type entry struct {
	instance *models.Instance
	timer    *time.Timer
}

// New creates an empty registry.
func New() *Registry {
	return &Registry{entries: make(map[string]*entry)}
}

// Register stores an instance. The caller must have generated the id via
// models.NewInstanceID, so collisions are not expected; a duplicate id
// replaces the prior entry.
func (r *Registry) Register(inst *models.Instance) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.entries[inst.ID] = &entry{instance: inst}
}

// Get returns the instance for an id, or false if it is not registered.
func (r *Registry) Get(id string) (*models.Instance, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.entries[id]
	if !ok {
		return nil, false
	}
	return e.instance, true
}

// Remove deletes an instance and cancels its expiry timer. It reports
// whether the entry existed: an explicit stop and a firing expiry timer may
// race on the same id, and the loser must observe false and no-op.
func (r *Registry) Remove(id string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.entries[id]
	if !ok {
		return false
	}
	if e.timer != nil {
		e.timer.Stop()
	}
	delete(r.entries, id)
	return true
}

// ScheduleExpiry arms the instance's single expiry timer. Firing calls
// teardown with the id; teardown goes through the same removal path as an
// explicit stop, so a stale timer against an already-removed instance is
// harmless. Re-scheduling replaces the previous timer.
func (r *Registry) ScheduleExpiry(id string, ttl time.Duration, teardown func(string)) {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.entries[id]
	if !ok {
		return
	}
	if e.timer != nil {
		e.timer.Stop()
	}
	e.timer = time.AfterFunc(ttl, func() { teardown(id) })
}

// UpdateState changes an instance's lifecycle state under the registry lock.
// Mutable instance fields are only ever written through the registry, so
// readers using Snapshot observe consistent values.
func (r *Registry) UpdateState(id string, state models.InstanceState) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if e, ok := r.entries[id]; ok {
		e.instance.State = state
	}
}

// UpdateSetup changes an instance's setup status under the registry lock.
func (r *Registry) UpdateSetup(id string, status models.SetupStatus) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if e, ok := r.entries[id]; ok {
		e.instance.SetupStatus = status
	}
}

// Snapshot returns a copy of the instance for read-only use (JSON responses).
func (r *Registry) Snapshot(id string) (models.Instance, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.entries[id]
	if !ok {
		return models.Instance{}, false
	}
	return *e.instance, true
}

// Len returns the number of live instances.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.entries)
}

// All returns a snapshot of the live instances.
func (r *Registry) All() []*models.Instance {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]*models.Instance, 0, len(r.entries))
	for _, e := range r.entries {
		out = append(out, e.instance)
	}
	return out
}
