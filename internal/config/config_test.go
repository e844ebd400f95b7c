package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestResolveHome_PrefersPersistdHomeEnv(t *testing.T) {
	t.Setenv("PERSISTD_HOME", "/tmp/explicit-home")
	t.Setenv("XDG_DATA_HOME", "/tmp/xdg")

	home, err := ResolveHome()
	require.NoError(t, err)
	require.Equal(t, "/tmp/explicit-home", home)
}

func TestResolveHome_FallsBackToXDG(t *testing.T) {
	t.Setenv("PERSISTD_HOME", "")
	t.Setenv("XDG_DATA_HOME", "/tmp/xdg")

	home, err := ResolveHome()
	require.NoError(t, err)
	require.Equal(t, filepath.Join("/tmp/xdg", "persistd"), home)
}

func TestResolveHome_FallsBackToHOME(t *testing.T) {
	t.Setenv("PERSISTD_HOME", "")
	t.Setenv("XDG_DATA_HOME", "")
	t.Setenv("HOME", "/tmp/someone")

	home, err := ResolveHome()
	require.NoError(t, err)
	require.Equal(t, filepath.Join("/tmp/someone", ".local", "share", "persistd"), home)
}

func TestLayoutFor_DerivesFixedPaths(t *testing.T) {
	l := LayoutFor("/tmp/home")
	require.Equal(t, "/tmp/home/daemon.sock", l.SocketFile)
	require.Equal(t, "/tmp/home/daemon.pid", l.PidFile)
	require.Equal(t, "/tmp/home/pids", l.PidsDir)
	require.Equal(t, "/tmp/home/logs", l.LogsDir)
}

func TestLayout_PerNamePaths(t *testing.T) {
	l := LayoutFor("/tmp/home")
	require.Equal(t, filepath.Join("/tmp/home", "pids", "web.pid"), l.PidPath("web"))
	require.Equal(t, filepath.Join("/tmp/home", "logs", "web-out.log"), l.StdoutLogPath("web"))
	require.Equal(t, filepath.Join("/tmp/home", "logs", "web-err.log"), l.StderrLogPath("web"))
}

func TestEnsureHomeAndSubdirs(t *testing.T) {
	dir := t.TempDir()
	home := filepath.Join(dir, "nested", "persistd")
	l := LayoutFor(home)

	require.NoError(t, l.EnsureHome())
	require.DirExists(t, home)

	require.NoError(t, l.EnsureSubdirs())
	require.DirExists(t, l.PidsDir)
	require.DirExists(t, l.LogsDir)
}

func TestRemoveStaleSocket_MissingIsNotError(t *testing.T) {
	l := LayoutFor(t.TempDir())
	require.NoError(t, l.RemoveStaleSocket())
}

func TestRemoveStaleSocket_RemovesExisting(t *testing.T) {
	dir := t.TempDir()
	l := LayoutFor(dir)
	require.NoError(t, os.WriteFile(l.SocketFile, []byte("x"), 0o644))

	require.NoError(t, l.RemoveStaleSocket())
	_, err := os.Stat(l.SocketFile)
	require.True(t, os.IsNotExist(err))
}

func TestWritePidFile_NoTrailingNewline(t *testing.T) {
	path := filepath.Join(t.TempDir(), "x.pid")
	require.NoError(t, WritePidFile(path, 4242))

	b, err := os.ReadFile(path)
	require.NoError(t, err)
	require.Equal(t, "4242", string(b))
}
