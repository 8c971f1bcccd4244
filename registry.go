package session

import "sync"

// runner is a background worker with idempotent start/stop.
type runner interface {
	Start()
	Stop()
	Running() bool
}

// runnerRegistry maps logical names to owned worker handles, each with an
// explicit teardown. It replaces ambient singletons: the state machine owns
// one registry and starts or stops everything through it.
type runnerRegistry struct {
	mu      sync.Mutex
	order   []string
	entries map[string]registryEntry
}

type registryEntry struct {
	runner   runner
	teardown func()
}

func newRunnerRegistry() *runnerRegistry {
	return &runnerRegistry{entries: make(map[string]registryEntry)}
}

// register adds a named worker. Re-registering a name replaces the previous
// entry after tearing it down.
func (r *runnerRegistry) register(name string, rn runner, teardown func()) {
	r.mu.Lock()
	prev, existed := r.entries[name]
	r.entries[name] = registryEntry{runner: rn, teardown: teardown}
	if !existed {
		r.order = append(r.order, name)
	}
	r.mu.Unlock()

	if existed {
		if prev.teardown != nil {
			prev.teardown()
		} else if prev.runner != nil {
			prev.runner.Stop()
		}
	}
}

// startAll starts every worker in registration order. Starting an already
// running worker is a no-op.
func (r *runnerRegistry) startAll() {
	for _, e := range r.snapshot(false) {
		e.runner.Start()
	}
}

// stopAll tears every worker down in reverse registration order. Stopping is
// idempotent.
func (r *runnerRegistry) stopAll() {
	for _, e := range r.snapshot(true) {
		if e.teardown != nil {
			e.teardown()
		} else {
			e.runner.Stop()
		}
	}
}

// running reports whether the named worker exists and is active.
func (r *runnerRegistry) running(name string) bool {
	r.mu.Lock()
	e, ok := r.entries[name]
	r.mu.Unlock()
	return ok && e.runner.Running()
}

func (r *runnerRegistry) snapshot(reverse bool) []registryEntry {
	r.mu.Lock()
	defer r.mu.Unlock()

	out := make([]registryEntry, 0, len(r.order))
	if reverse {
		for i := len(r.order) - 1; i >= 0; i-- {
			out = append(out, r.entries[r.order[i]])
		}
		return out
	}
	for _, name := range r.order {
		out = append(out, r.entries[name])
	}
	return out
}
