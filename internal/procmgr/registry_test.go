//go:build linux

package procmgr

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/edirooss/persistd/internal/config"
	"github.com/edirooss/persistd/internal/protocol"
)

func newTestRegistry(t *testing.T) *Registry {
	t.Helper()
	layout := config.LayoutFor(t.TempDir())
	return New(zap.NewNop(), layout)
}

func runningSpec(name string, cmd []string) protocol.ProcessSpec {
	return protocol.ProcessSpec{
		Name:   name,
		Cmd:    cmd,
		Cwd:    "/tmp",
		Env:    []protocol.EnvPair{},
		Status: protocol.StatusRunning,
	}
}

func TestRegistry_StartThenList(t *testing.T) {
	r := newTestRegistry(t)

	view, err := r.Start(runningSpec("s", []string{"/bin/sleep", "30"}))
	require.NoError(t, err)
	require.Equal(t, protocol.StatusRunning, view.Status)
	defer r.Stop("s")

	list := r.List()
	require.Len(t, list, 1)
	require.Equal(t, "s", list[0].Name)
	require.Equal(t, protocol.StatusRunning, list[0].Status)
	require.NotNil(t, list[0].Pid)
}

func TestRegistry_DuplicateStartFails(t *testing.T) {
	r := newTestRegistry(t)

	_, err := r.Start(runningSpec("dup", []string{"/bin/sleep", "30"}))
	require.NoError(t, err)
	defer r.Stop("dup")

	_, err = r.Start(runningSpec("dup", []string{"/bin/sleep", "30"}))
	require.ErrorIs(t, err, ErrProcessAlreadyExists)
}

func TestRegistry_StopMissingReturnsNotFound(t *testing.T) {
	r := newTestRegistry(t)
	err := r.Stop("nope")
	require.ErrorIs(t, err, ErrProcessNotFound)
}

func TestRegistry_DeleteRemovesFromRegistryAndStopsChild(t *testing.T) {
	r := newTestRegistry(t)
	_, err := r.Start(runningSpec("gone", []string{"/bin/sleep", "30"}))
	require.NoError(t, err)

	require.NoError(t, r.Delete("gone"))

	_, ok := r.Get("gone")
	require.False(t, ok)

	err = r.Stop("gone")
	require.ErrorIs(t, err, ErrProcessNotFound)
}

func TestRegistry_DumpReflectsLiveStatus(t *testing.T) {
	r := newTestRegistry(t)
	_, err := r.Start(runningSpec("dumped", []string{"/bin/sleep", "30"}))
	require.NoError(t, err)
	defer r.Stop("dumped")

	specs := r.Dump(nil)
	require.Len(t, specs, 1)
	require.Equal(t, protocol.StatusRunning, specs[0].Status)
}

func TestRegistry_DumpWithFilters(t *testing.T) {
	r := newTestRegistry(t)
	_, err := r.Start(runningSpec("a", []string{"/bin/sleep", "30"}))
	require.NoError(t, err)
	defer r.Stop("a")
	_, err = r.Start(runningSpec("b", []string{"/bin/sleep", "30"}))
	require.NoError(t, err)
	defer r.Stop("b")

	specs := r.Dump([]string{"b"})
	require.Len(t, specs, 1)
	require.Equal(t, "b", specs[0].Name)
}

func TestRegistry_RestoreReportsPerItemOutcome(t *testing.T) {
	r := newTestRegistry(t)

	good := runningSpec("ok", []string{"/bin/sleep", "30"})
	dup := good // same name: second Start must fail without aborting the batch

	results := r.Restore([]protocol.ProcessSpec{good, dup})
	require.Len(t, results, 2)
	require.NoError(t, results[0].Err)
	require.ErrorIs(t, results[1].Err, ErrProcessAlreadyExists)
	defer r.Stop("ok")
}

func TestRegistry_PruneRemovesOrphanFiles(t *testing.T) {
	r := newTestRegistry(t)
	layout := r.layout
	require.NoError(t, layout.EnsureSubdirs())

	orphan := filepath.Join(layout.PidsDir, "orphan.pid")
	require.NoError(t, os.WriteFile(orphan, []byte("1"), 0o644))

	_, err := r.Start(runningSpec("kept", []string{"/bin/sleep", "30"}))
	require.NoError(t, err)
	defer r.Stop("kept")

	result, err := r.Prune(true)
	require.NoError(t, err)
	require.Contains(t, result.Removed, orphan)

	_, statErr := os.Stat(orphan)
	require.True(t, os.IsNotExist(statErr))

	_, statErr = os.Stat(layout.PidPath("kept"))
	require.NoError(t, statErr)
}

func TestRegistry_PruneStoppedFalseExcludesStoppedFiles(t *testing.T) {
	r := newTestRegistry(t)
	require.NoError(t, r.layout.EnsureSubdirs())

	_, err := r.Start(runningSpec("running", []string{"/bin/sleep", "30"}))
	require.NoError(t, err)
	defer r.Stop("running")

	stoppedSpec := runningSpec("stopped", []string{"/bin/sleep", "30"})
	stoppedSpec.Status = protocol.StatusStopped
	_, err = r.Start(stoppedSpec)
	require.NoError(t, err)

	result, err := r.Prune(false)
	require.NoError(t, err)
	require.Contains(t, result.Removed, r.layout.PidPath("stopped"))
	require.NotContains(t, result.Removed, r.layout.PidPath("running"))
}

func TestRegistry_LogsHistoryWithoutStream(t *testing.T) {
	r := newTestRegistry(t)
	require.NoError(t, r.layout.EnsureSubdirs())

	spec := runningSpec("histproc", []string{"/bin/true"})
	spec.Status = protocol.StatusStopped
	spec.StdoutPath = filepath.Join(r.layout.LogsDir, "histproc-out.log")
	spec.StderrPath = filepath.Join(r.layout.LogsDir, "histproc-err.log")
	require.NoError(t, os.WriteFile(spec.StdoutPath, []byte("a\nb\nc\n"), 0o644))
	require.NoError(t, os.WriteFile(spec.StderrPath, []byte(""), 0o644))

	_, err := r.Start(spec)
	require.NoError(t, err)

	source := protocol.SourceStdout
	sess := r.Logs([]string{"histproc"}, &source, 2, false)

	var got []protocol.LogEntry
	for e := range sess.Entries {
		got = append(got, e)
	}
	require.Equal(t, []protocol.LogEntry{
		{Name: "histproc", Source: protocol.SourceStdout, Msg: "b"},
		{Name: "histproc", Source: protocol.SourceStdout, Msg: "c"},
	}, got)
}
