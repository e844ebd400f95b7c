//go:build linux

package procmgr

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/edirooss/persistd/internal/protocol"
)

func newTestSpec(t *testing.T, name string, cmd []string) protocol.ProcessSpec {
	t.Helper()
	dir := t.TempDir()
	return protocol.ProcessSpec{
		Name:       name,
		Cmd:        cmd,
		Cwd:        dir,
		Env:        []protocol.EnvPair{{Key: "FOO", Value: "bar"}},
		PidPath:    filepath.Join(dir, name+".pid"),
		StdoutPath: filepath.Join(dir, name+"-out.log"),
		StderrPath: filepath.Join(dir, name+"-err.log"),
		Status:     protocol.StatusRunning,
	}
}

func TestHandle_StartWritesPidFileAndReportsRunning(t *testing.T) {
	spec := newTestSpec(t, "sleeper", []string{"/bin/sleep", "2"})
	h := newHandle(zap.NewNop(), spec)

	require.NoError(t, h.Start())
	defer h.Stop()

	require.Equal(t, protocol.StatusRunning, h.Status())
	pid := h.Pid()
	require.NotNil(t, pid)
	require.Greater(t, *pid, 0)

	b, err := os.ReadFile(spec.PidPath)
	require.NoError(t, err)
	require.NotEmpty(t, b)
}

func TestHandle_StopTerminatesChildAndStatusBecomesStopped(t *testing.T) {
	spec := newTestSpec(t, "sleeper2", []string{"/bin/sleep", "30"})
	h := newHandle(zap.NewNop(), spec)
	require.NoError(t, h.Start())

	require.NoError(t, h.Stop())
	require.Equal(t, protocol.StatusStopped, h.Status())
	require.Nil(t, h.Pid())
}

func TestHandle_StopIsIdempotent(t *testing.T) {
	spec := newTestSpec(t, "sleeper3", []string{"/bin/sleep", "30"})
	h := newHandle(zap.NewNop(), spec)
	require.NoError(t, h.Start())

	require.NoError(t, h.Stop())
	require.NoError(t, h.Stop())
}

func TestHandle_OutputIsForwardedToLogFileAndBroadcast(t *testing.T) {
	spec := newTestSpec(t, "echoer", []string{"/bin/sh", "-c", "echo one; echo two"})
	h := newHandle(zap.NewNop(), spec)

	ch, cancel := h.StdoutStream()
	defer cancel()

	require.NoError(t, h.Start())

	seen := map[string]bool{}
	timeout := time.After(3 * time.Second)
	for len(seen) < 2 {
		select {
		case msg := <-ch:
			seen[msg] = true
		case <-timeout:
			t.Fatal("timed out waiting for broadcast output")
		}
	}
	require.True(t, seen["one"])
	require.True(t, seen["two"])

	// Give the forwarder a moment to flush to disk after EOF.
	deadline := time.Now().Add(2 * time.Second)
	var b []byte
	for time.Now().Before(deadline) {
		b, _ = os.ReadFile(spec.StdoutPath)
		if len(b) > 0 {
			break
		}
		time.Sleep(20 * time.Millisecond)
	}
	require.Equal(t, "one\ntwo\n", string(b))
}

func TestHandle_RestartRotatesPid(t *testing.T) {
	spec := newTestSpec(t, "restarter", []string{"/bin/sleep", "30"})
	h := newHandle(zap.NewNop(), spec)
	require.NoError(t, h.Start())
	oldPid := *h.Pid()

	require.NoError(t, h.Restart(nil))
	newPid := *h.Pid()
	defer h.Stop()

	require.NotEqual(t, oldPid, newPid)
}

func TestHandle_BroadcastSurvivesRestart(t *testing.T) {
	spec := newTestSpec(t, "restart-echoer", []string{"/bin/sh", "-c", "echo before-restart; sleep 30"})
	h := newHandle(zap.NewNop(), spec)

	ch, cancel := h.StdoutStream()
	defer cancel()

	require.NoError(t, h.Start())

	waitFor := func(want string) {
		t.Helper()
		timeout := time.After(3 * time.Second)
		for {
			select {
			case msg := <-ch:
				if msg == want {
					return
				}
			case <-timeout:
				t.Fatalf("timed out waiting for %q", want)
			}
		}
	}
	waitFor("before-restart")

	newSpec := spec
	newSpec.Cmd = []string{"/bin/sh", "-c", "while :; do echo after-restart; sleep 0.1; done"}
	require.NoError(t, h.Restart(&newSpec))
	defer h.Stop()

	// The subscription taken out before the restart ended with the first
	// run; the endpoint itself survives, so a fresh subscription on the
	// same handle receives output from the new generation's child.
	_, ok := <-ch
	require.False(t, ok)

	ch2, cancel2 := h.StdoutStream()
	defer cancel2()
	ch = ch2
	waitFor("after-restart")
}

func TestHandle_NewSubscriberAfterRestartReceivesLiveOutput(t *testing.T) {
	spec := newTestSpec(t, "restart-late-sub", []string{"/bin/sh", "-c", "sleep 30"})
	h := newHandle(zap.NewNop(), spec)
	require.NoError(t, h.Start())

	newSpec := spec
	newSpec.Cmd = []string{"/bin/sh", "-c", "echo hello-again; sleep 30"}
	require.NoError(t, h.Restart(&newSpec))
	defer h.Stop()

	ch, cancel := h.StdoutStream()
	defer cancel()

	select {
	case msg := <-ch:
		require.Equal(t, "hello-again", msg)
	case <-time.After(3 * time.Second):
		t.Fatal("timed out waiting for post-restart subscriber to receive output")
	}
}

func TestHandle_StartPanicsOnEmptyCmd(t *testing.T) {
	spec := newTestSpec(t, "empty", nil)
	spec.Cmd = nil
	h := newHandle(zap.NewNop(), spec)

	require.Panics(t, func() { h.Start() })
}
