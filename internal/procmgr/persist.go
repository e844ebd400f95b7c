//go:build linux

package procmgr

import (
	"context"
	"os"
	"path/filepath"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/edirooss/persistd/internal/protocol"
)

// RestoreResult is one spec's outcome within a batch Restore, reported per
// item inside the success response rather than as a top-level error.
type RestoreResult struct {
	Name string
	View protocol.ProcessView
	Err  error
}

// Restore ensures each spec's pid/log files exist, then starts it,
// reporting each outcome individually so one failure never aborts the
// batch.
func (r *Registry) Restore(specs []protocol.ProcessSpec) []RestoreResult {
	out := make([]RestoreResult, len(specs))
	for i, spec := range specs {
		view, err := r.Start(spec)
		out[i] = RestoreResult{Name: spec.Name, View: view, Err: err}
	}
	return out
}

// PruneResult is the set of files removed by a Prune call.
type PruneResult struct {
	Removed []string
}

// Prune walks pids/ and logs/ and unlinks any regular file not referenced
// by a live registry entry. When includeStopped is false, Stopped
// entries' files are *not* protected — they are prune candidates too.
func (r *Registry) Prune(includeStopped bool) (PruneResult, error) {
	expected := make(map[string]struct{})

	r.mu.Lock()
	for _, h := range r.handles {
		if !includeStopped && h.Status() == protocol.StatusStopped {
			continue
		}
		spec := h.Spec()
		for _, p := range []string{spec.PidPath, spec.StdoutPath, spec.StderrPath} {
			if p == "" {
				continue
			}
			if abs, err := filepath.Abs(p); err == nil {
				expected[abs] = struct{}{}
			} else {
				expected[p] = struct{}{}
			}
		}
	}
	r.mu.Unlock()

	// pids/ and logs/ are walked concurrently — independent directories,
	// each result set merged under a mutex — bounding the prune walk's
	// wall-clock to the slower of the two rather than their sum.
	var (
		mu      sync.Mutex
		removed []string
	)
	g, _ := errgroup.WithContext(context.Background())
	for _, dir := range []string{r.layout.PidsDir, r.layout.LogsDir} {
		dir := dir
		g.Go(func() error {
			entries, err := os.ReadDir(dir)
			if err != nil {
				if os.IsNotExist(err) {
					return nil
				}
				return err
			}
			for _, e := range entries {
				if e.IsDir() {
					continue
				}
				path := filepath.Join(dir, e.Name())
				abs, err := filepath.Abs(path)
				if err != nil {
					abs = path
				}
				mu.Lock()
				_, keep := expected[abs]
				mu.Unlock()
				if keep {
					continue
				}
				if err := os.Remove(path); err == nil {
					mu.Lock()
					removed = append(removed, abs)
					mu.Unlock()
				}
			}
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return PruneResult{Removed: removed}, err
	}
	return PruneResult{Removed: removed}, nil
}
