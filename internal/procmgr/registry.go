//go:build linux

package procmgr

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"

	"go.uber.org/zap"

	"github.com/edirooss/persistd/internal/config"
	"github.com/edirooss/persistd/internal/protocol"
)

// ErrProcessAlreadyExists is returned by Start when name is already
// registered.
var ErrProcessAlreadyExists = errors.New("process already exists")

// ErrProcessNotFound is returned whenever an operation targets an unknown
// name.
var ErrProcessNotFound = errors.New("process not found")

// Registry serializes all mutating operations on the name -> Handle map
// through a single mutex: one authoritative map, no slot limits.
type Registry struct {
	log    *zap.Logger
	layout *config.Layout

	mu      sync.Mutex
	handles map[string]*Handle
}

// New constructs an empty registry rooted at layout.
func New(log *zap.Logger, layout *config.Layout) *Registry {
	return &Registry{
		log:     log.Named("registry"),
		layout:  layout,
		handles: make(map[string]*Handle),
	}
}

// Spec returns a snapshot clone of name's stored spec.
func (r *Registry) Spec(name string) (protocol.ProcessSpec, error) {
	r.mu.Lock()
	h, ok := r.handles[name]
	r.mu.Unlock()
	if !ok {
		return protocol.ProcessSpec{}, ErrProcessNotFound
	}
	return h.Spec(), nil
}

// WithHandles runs f under the registry lock. f must not block — no I/O,
// no waiting on channels.
func (r *Registry) WithHandles(f func(map[string]*Handle)) {
	r.mu.Lock()
	defer r.mu.Unlock()
	f(r.handles)
}

// List returns every entry's metrics, sorted by name ascending. Stopped
// entries report pid=nil, usage=0 without touching the metrics prober.
func (r *Registry) List() []protocol.ProcessMetrics {
	r.mu.Lock()
	handles := make([]*Handle, 0, len(r.handles))
	for _, h := range r.handles {
		handles = append(handles, h)
	}
	r.mu.Unlock()

	sort.Slice(handles, func(i, j int) bool { return handles[i].Name() < handles[j].Name() })

	out := make([]protocol.ProcessMetrics, len(handles))
	pids := make([]int, len(handles))
	for i, h := range handles {
		view := h.View()
		out[i] = protocol.ProcessMetrics{ProcessView: view}
		if view.Pid != nil {
			pids[i] = *view.Pid
		} else {
			pids[i] = -1
		}
	}

	samples := sampleCPU(pids)
	for i := range out {
		if out[i].ProcessView.Status != protocol.StatusRunning {
			continue
		}
		out[i].CPUPercent = samples[i].cpuPercent
		out[i].RSSBytes = samples[i].rssBytes
		if !samples[i].alive {
			out[i].ProcessView.Status = protocol.StatusStopped
			out[i].ProcessView.Pid = nil
		}
	}

	return out
}

// Start registers a new handle for spec and, if its desired status is
// Running, spawns the child and installs the matched-pid exit watcher.
func (r *Registry) Start(spec protocol.ProcessSpec) (protocol.ProcessView, error) {
	if err := r.layout.EnsureHome(); err != nil {
		return protocol.ProcessView{}, err
	}
	if err := r.layout.EnsureSubdirs(); err != nil {
		return protocol.ProcessView{}, err
	}

	spec.PidPath = r.layout.PidPath(spec.Name)
	spec.StdoutPath = r.layout.StdoutLogPath(spec.Name)
	spec.StderrPath = r.layout.StderrLogPath(spec.Name)

	if err := ensureRegularFile(spec.PidPath); err != nil {
		return protocol.ProcessView{}, err
	}
	if err := ensureRegularFile(spec.StdoutPath); err != nil {
		return protocol.ProcessView{}, err
	}
	if err := ensureRegularFile(spec.StderrPath); err != nil {
		return protocol.ProcessView{}, err
	}
	if p, err := filepath.Abs(spec.PidPath); err == nil {
		spec.PidPath = p
	}
	if p, err := filepath.Abs(spec.StdoutPath); err == nil {
		spec.StdoutPath = p
	}
	if p, err := filepath.Abs(spec.StderrPath); err == nil {
		spec.StderrPath = p
	}

	r.mu.Lock()
	if _, exists := r.handles[spec.Name]; exists {
		r.mu.Unlock()
		return protocol.ProcessView{}, ErrProcessAlreadyExists
	}
	h := newHandle(r.log, spec)
	r.handles[spec.Name] = h
	r.mu.Unlock()

	if spec.Status == protocol.StatusRunning {
		if err := h.Start(); err != nil {
			return h.View(), err
		}
		r.installWatcher(h)
	}

	return h.View(), nil
}

// installWatcher spawns a goroutine that awaits the handle's current child
// exit and clears its inner state under the lock, but only if the pid it
// observed still matches — this is what keeps a racing restart's new
// child from being clobbered by the old watcher.
func (r *Registry) installWatcher(h *Handle) {
	ch, pid, ok := h.endedSignal()
	if !ok {
		return
	}
	go func() {
		<-ch
		h.clearInnerIfMatches(pid)
	}()
}

// Stop stops name's child, if any. No-op if already stopped. Idempotent.
func (r *Registry) Stop(name string) error {
	r.mu.Lock()
	h, ok := r.handles[name]
	r.mu.Unlock()
	if !ok {
		return ErrProcessNotFound
	}
	return h.Stop()
}

// Restart stops and restarts name's child, optionally replacing the stored
// spec's env with newEnv first (nil keeps the stored env).
func (r *Registry) Restart(name string, newEnv []protocol.EnvPair) (protocol.ProcessView, error) {
	r.mu.Lock()
	h, ok := r.handles[name]
	r.mu.Unlock()
	if !ok {
		return protocol.ProcessView{}, ErrProcessNotFound
	}

	var newSpec *protocol.ProcessSpec
	if newEnv != nil {
		s := h.Spec()
		s.Env = newEnv
		newSpec = &s
	}

	if err := h.Restart(newSpec); err != nil {
		return h.View(), err
	}
	r.installWatcher(h)
	return h.View(), nil
}

// Delete removes name from the registry, then stops its child.
func (r *Registry) Delete(name string) error {
	r.mu.Lock()
	h, ok := r.handles[name]
	if ok {
		delete(r.handles, name)
	}
	r.mu.Unlock()

	if !ok {
		return ErrProcessNotFound
	}
	return h.Stop()
}

// Dump returns specs (optionally filtered by name) with live status
// filled in.
func (r *Registry) Dump(filters []string) []protocol.ProcessSpec {
	r.mu.Lock()
	handles := r.selectLocked(filters)
	r.mu.Unlock()

	sort.Slice(handles, func(i, j int) bool { return handles[i].Name() < handles[j].Name() })

	out := make([]protocol.ProcessSpec, len(handles))
	for i, h := range handles {
		spec := h.Spec()
		spec.Status = h.Status()
		out[i] = spec
	}
	return out
}

// selectLocked returns the handles matching filters (nil meaning all).
// Caller must hold r.mu.
func (r *Registry) selectLocked(filters []string) []*Handle {
	if filters == nil {
		out := make([]*Handle, 0, len(r.handles))
		for _, h := range r.handles {
			out = append(out, h)
		}
		return out
	}
	out := make([]*Handle, 0, len(filters))
	for _, name := range filters {
		if h, ok := r.handles[name]; ok {
			out = append(out, h)
		}
	}
	return out
}

// Get returns the live handle for name, if registered.
func (r *Registry) Get(name string) (*Handle, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	h, ok := r.handles[name]
	return h, ok
}

// Names returns every registered name (unsorted).
func (r *Registry) Names() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]string, 0, len(r.handles))
	for n := range r.handles {
		out = append(out, n)
	}
	return out
}

func ensureRegularFile(path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("create parent dir for %s: %w", path, err)
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND, 0o644)
	if err != nil {
		return fmt.Errorf("create %s: %w", path, err)
	}
	return f.Close()
}
