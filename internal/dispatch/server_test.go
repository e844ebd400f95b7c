//go:build linux

package dispatch

import (
	"net"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/edirooss/persistd/internal/client"
	"github.com/edirooss/persistd/internal/config"
	"github.com/edirooss/persistd/internal/procmgr"
	"github.com/edirooss/persistd/internal/protocol"
)

func startTestServer(t *testing.T) (*client.Client, func()) {
	t.Helper()

	layout := config.LayoutFor(t.TempDir())
	reg := procmgr.New(zap.NewNop(), layout)
	srv := New(zap.NewNop(), reg)

	sockPath := filepath.Join(t.TempDir(), "test.sock")
	ln, err := net.Listen("unix", sockPath)
	require.NoError(t, err)

	go srv.Serve(ln)

	var cli *client.Client
	require.Eventually(t, func() bool {
		c, dialErr := client.Dial(sockPath)
		if dialErr != nil {
			return false
		}
		cli = c
		return true
	}, 2*time.Second, 10*time.Millisecond)

	return cli, func() {
		cli.Close()
		ln.Close()
	}
}

func TestServer_StartThenList(t *testing.T) {
	cli, cleanup := startTestServer(t)
	defer cleanup()

	view, err := cli.Start(protocol.StartRequest{
		Name:   "s",
		Cmd:    []string{"/bin/sleep", "30"},
		Cwd:    "/tmp",
		Env:    []protocol.EnvPair{},
		Status: protocol.StatusRunning,
	})
	require.NoError(t, err)
	require.Equal(t, protocol.StatusRunning, view.Status)
	require.NotNil(t, view.Pid)

	defer cli.Stop(nil)

	list, err := cli.List()
	require.NoError(t, err)
	require.Len(t, list, 1)
	require.Equal(t, "s", list[0].Name)
	require.Equal(t, protocol.StatusRunning, list[0].Status)
}

func TestServer_StopMissingReportsPerItemError(t *testing.T) {
	cli, cleanup := startTestServer(t)
	defer cleanup()

	filters := []string{"nope"}
	results, err := cli.Stop(&filters)
	require.NoError(t, err)
	require.Equal(t, []protocol.ItemResult{{Name: "nope", Error: "process not found"}}, results)
}

func TestServer_DuplicateStartReturnsError(t *testing.T) {
	cli, cleanup := startTestServer(t)
	defer cleanup()

	req := protocol.StartRequest{
		Name:   "dup",
		Cmd:    []string{"/bin/sleep", "30"},
		Cwd:    "/tmp",
		Env:    []protocol.EnvPair{},
		Status: protocol.StatusRunning,
	}
	_, err := cli.Start(req)
	require.NoError(t, err)
	defer cli.Stop(nil)

	_, err = cli.Start(req)
	require.ErrorContains(t, err, "process already exists")
}

func TestServer_VersionRequest(t *testing.T) {
	cli, cleanup := startTestServer(t)
	defer cleanup()

	v, err := cli.Version()
	require.NoError(t, err)
	require.Equal(t, DaemonVersion, v.DaemonVersion)
	require.Equal(t, ProtocolVersion, v.ProtocolVersion)
}

func TestServer_RestartRotatesPid(t *testing.T) {
	cli, cleanup := startTestServer(t)
	defer cleanup()

	view, err := cli.Start(protocol.StartRequest{
		Name:   "r",
		Cmd:    []string{"/bin/sleep", "30"},
		Cwd:    "/tmp",
		Env:    []protocol.EnvPair{},
		Status: protocol.StatusRunning,
	})
	require.NoError(t, err)
	oldPid := *view.Pid
	defer cli.Stop(nil)

	results, err := cli.Restart(protocol.RestartRequest{})
	require.NoError(t, err)
	require.Len(t, results, 1)
	require.NotNil(t, results[0].View)
	require.NotEqual(t, oldPid, *results[0].View.Pid)
}

func TestServer_DumpAndRestoreRoundTrip(t *testing.T) {
	cli, cleanup := startTestServer(t)
	defer cleanup()

	_, err := cli.Start(protocol.StartRequest{
		Name:   "d",
		Cmd:    []string{"/bin/sleep", "30"},
		Cwd:    "/tmp",
		Env:    []protocol.EnvPair{{Key: "K", Value: "V"}},
		Status: protocol.StatusRunning,
	})
	require.NoError(t, err)
	defer cli.Stop(nil)

	specs, err := cli.Dump(nil)
	require.NoError(t, err)
	require.Len(t, specs, 1)
	require.Equal(t, "d", specs[0].Name)
	require.Equal(t, []protocol.EnvPair{{Key: "K", Value: "V"}}, specs[0].Env)

	deleted, err := cli.Delete(nil)
	require.NoError(t, err)
	require.Len(t, deleted, 1)

	restored, err := cli.Restore(specs)
	require.NoError(t, err)
	require.Len(t, restored, 1)
	require.Empty(t, restored[0].Error)
	require.NotNil(t, restored[0].View)
	require.Equal(t, "d", restored[0].View.Name)
	require.Equal(t, specs[0].Cmd, restored[0].View.Cmd)
	require.Equal(t, specs[0].Env, restored[0].View.Env)
	require.Equal(t, protocol.StatusRunning, restored[0].View.Status)
}
