//go:build linux

// Package procmgr spawns and supervises named child processes, broadcasts
// their output to log subscribers, and persists the set of managed specs
// to disk.
package procmgr

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"os/exec"
	"sync"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/edirooss/persistd/internal/config"
	"github.com/edirooss/persistd/internal/lineframe"
	"github.com/edirooss/persistd/internal/protocol"
)

// shutdownGrace bounds how long stop() waits for SIGTERM to take effect,
// delivered to the whole process group, before escalating to SIGKILL.
const shutdownGrace = 3 * time.Second

// inner is the live-child half of a handle, present iff a child is
// currently running for this name.
type inner struct {
	pid   int
	cmd   *exec.Cmd
	ended chan struct{}
}

// Handle owns one named child: its spec, its live inner state if running,
// and the two broadcast endpoints log subscribers attach to. Its lifecycle
// (Setpgid/Pdeathsig, SIGTERM-then-grace-then-SIGKILL, one-shot done
// channel) keeps every child in its own process group so a single stop
// reaches any grandchildren it spawned too.
type Handle struct {
	log *zap.Logger

	mu   sync.Mutex
	spec protocol.ProcessSpec
	in   *inner

	stdoutBC *broadcast
	stderrBC *broadcast
}

// newHandle constructs a handle around spec without touching the OS: it
// only creates the two broadcast endpoints.
func newHandle(log *zap.Logger, spec protocol.ProcessSpec) *Handle {
	return &Handle{
		log:      log.Named("handle").With(zap.String("name", spec.Name)),
		spec:     spec,
		stdoutBC: newBroadcast(),
		stderrBC: newBroadcast(),
	}
}

// Name returns the handle's process name.
func (h *Handle) Name() string {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.spec.Name
}

// Spec returns a snapshot clone of the stored spec.
func (h *Handle) Spec() protocol.ProcessSpec {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.spec
}

// Status reports Running iff a live child is attached.
func (h *Handle) Status() protocol.Status {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.in != nil {
		return protocol.StatusRunning
	}
	return protocol.StatusStopped
}

// Pid returns the live OS pid, or nil if not running.
func (h *Handle) Pid() *int {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.in == nil {
		return nil
	}
	pid := h.in.pid
	return &pid
}

// View projects the handle's current spec and status into the wire shape.
func (h *Handle) View() protocol.ProcessView {
	h.mu.Lock()
	defer h.mu.Unlock()

	status := protocol.StatusStopped
	var pid *int
	if h.in != nil {
		status = protocol.StatusRunning
		p := h.in.pid
		pid = &p
	}

	return protocol.ProcessView{
		Name:       h.spec.Name,
		Cmd:        h.spec.Cmd,
		Cwd:        h.spec.Cwd,
		Env:        h.spec.Env,
		PidPath:    h.spec.PidPath,
		StdoutPath: h.spec.StdoutPath,
		StderrPath: h.spec.StderrPath,
		CreatedAt:  h.spec.CreatedAt,
		Status:     status,
		Pid:        pid,
	}
}

// StdoutStream subscribes to the live stdout broadcast endpoint.
func (h *Handle) StdoutStream() (<-chan string, func()) { return h.stdoutBC.subscribe() }

// StderrStream subscribes to the live stderr broadcast endpoint.
func (h *Handle) StderrStream() (<-chan string, func()) { return h.stderrBC.subscribe() }

// Start spawns the child described by the stored spec. Panics if cmd is
// empty — that is an internal precondition violation; external callers
// must reject empty commands earlier, at the protocol boundary, via
// protocol.ProcessSpec.Validate, long before a handle is ever constructed.
func (h *Handle) Start() error {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.in != nil {
		return nil // already running; start is idempotent at this layer
	}
	if len(h.spec.Cmd) == 0 {
		panic("procmgr: Start called with empty cmd")
	}

	stdoutFile, err := os.OpenFile(h.spec.StdoutPath, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("open stdout log: %w", err)
	}
	stderrFile, err := os.OpenFile(h.spec.StderrPath, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		stdoutFile.Close()
		return fmt.Errorf("open stderr log: %w", err)
	}

	cmd := exec.Command(h.spec.Cmd[0], h.spec.Cmd[1:]...)
	cmd.Dir = h.spec.Cwd
	cmd.Env = envToStrings(h.spec.Env)
	cmd.Stdin = nil
	cmd.SysProcAttr = &syscall.SysProcAttr{
		Setpgid:   true,
		Pdeathsig: syscall.SIGKILL,
	}

	stdout, err := cmd.StdoutPipe()
	if err != nil {
		stdoutFile.Close()
		stderrFile.Close()
		return fmt.Errorf("stdout pipe: %w", err)
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		stdout.Close()
		stdoutFile.Close()
		stderrFile.Close()
		return fmt.Errorf("stderr pipe: %w", err)
	}

	if err := cmd.Start(); err != nil {
		stdoutFile.Close()
		stderrFile.Close()
		return fmt.Errorf("start: %w", err)
	}

	pid := cmd.Process.Pid
	if err := config.WritePidFile(h.spec.PidPath, pid); err != nil {
		h.log.Error("write pid file failed; child left running", zap.Error(err), zap.Int("pid", pid))
	}

	ended := make(chan struct{})
	h.in = &inner{pid: pid, cmd: cmd, ended: ended}

	h.log.Info("process started", zap.Int("pid", pid))

	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		forwardStream(stdout, stdoutFile, h.stdoutBC)
	}()
	go func() {
		defer wg.Done()
		forwardStream(stderr, stderrFile, h.stderrBC)
	}()

	go func() {
		// Both pipes must be fully drained before Wait, per os/exec's
		// contract for cmd.StdoutPipe/StderrPipe.
		wg.Wait()
		_ = cmd.Wait()
		stdoutFile.Close()
		stderrFile.Close()
		h.log.Info("process exited", zap.Int("pid", pid))
		close(ended)
	}()

	return nil
}

// forwardStream reads one child stream through the line decoder, appends
// each record to the on-disk log, and publishes it on the broadcast
// endpoint. Each publish is best-effort; a closed channel or a lagged
// subscriber must never stop the on-disk write. Ending this run's
// generation on return leaves the broadcast endpoint itself alive so a
// later restart's forwardStream keeps delivering live output through the
// same endpoint.
func forwardStream(r io.ReadCloser, logFile *os.File, bc *broadcast) {
	defer r.Close()
	defer bc.endGeneration()

	dec := lineframe.New()
	buf := bufio.NewReaderSize(r, 64*1024)
	chunk := make([]byte, 64*1024)

	flush := func(lines []string) {
		for _, line := range lines {
			fmt.Fprintln(logFile, line)
			bc.publish(line)
		}
	}

	for {
		n, err := buf.Read(chunk)
		if n > 0 {
			lines, decErr := dec.Feed(chunk[:n])
			flush(lines)
			if decErr != nil {
				return
			}
		}
		if err != nil {
			flush(dec.End())
			return
		}
	}
}

// Stop takes the live inner state (so Status reports Stopped from here on),
// delivers SIGTERM to the child's process group and waits for it to exit,
// escalating to SIGKILL after shutdownGrace. No-op if not running.
// Idempotent and safe to call from multiple goroutines.
func (h *Handle) Stop() error {
	h.mu.Lock()
	in := h.in
	h.in = nil
	h.mu.Unlock()

	if in == nil {
		return nil
	}

	if err := syscall.Kill(-in.pid, syscall.SIGTERM); err != nil {
		h.log.Warn("SIGTERM failed", zap.Error(err), zap.Int("pid", in.pid))
	}

	timer := time.NewTimer(shutdownGrace)
	defer timer.Stop()

	select {
	case <-in.ended:
	case <-timer.C:
		h.log.Warn("grace expired; sending SIGKILL", zap.Int("pid", in.pid))
		if err := syscall.Kill(-in.pid, syscall.SIGKILL); err != nil {
			h.log.Error("SIGKILL failed", zap.Error(err), zap.Int("pid", in.pid))
		}
		<-in.ended
	}

	return nil
}

// Restart stops the current child (if any), optionally replaces the
// stored spec, then starts a fresh child.
func (h *Handle) Restart(newSpec *protocol.ProcessSpec) error {
	if err := h.Stop(); err != nil {
		return err
	}

	h.mu.Lock()
	if newSpec != nil {
		h.spec = *newSpec
	}
	h.in = nil
	h.mu.Unlock()

	return h.Start()
}

// clearInnerIfMatches clears the live inner state iff its pid still
// matches observedPid: a restart racing the old child's exit must not
// have its new inner wiped out by the old watcher.
func (h *Handle) clearInnerIfMatches(observedPid int) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.in != nil && h.in.pid == observedPid {
		h.in = nil
	}
}

// endedSignal returns the current inner's exit signal and pid, or ok=false if
// not running. Used by the registry to install the matched-pid watcher
// without holding the handle's lock across the wait.
func (h *Handle) endedSignal() (ch <-chan struct{}, pid int, ok bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.in == nil {
		return nil, 0, false
	}
	return h.in.ended, h.in.pid, true
}

func envToStrings(pairs []protocol.EnvPair) []string {
	out := make([]string, len(pairs))
	for i, p := range pairs {
		out[i] = p.Key + "=" + p.Value
	}
	return out
}
