//go:build linux

package procmgr

import (
	"context"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"
)

// WatchLayout runs a best-effort fsnotify watch over the pids/ and logs/
// directories, logging every file removal it observes there (an operator
// manually deleting a log file, and equally prune's own unlinks) until ctx
// is cancelled. This is purely
// informational: prune's own directory walk is the authority on what gets
// deleted, never this watcher.
func (r *Registry) WatchLayout(ctx context.Context) error {
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	defer w.Close()

	for _, dir := range []string{r.layout.PidsDir, r.layout.LogsDir} {
		if err := w.Add(dir); err != nil {
			r.log.Warn("fsnotify: failed to watch directory", zap.String("dir", dir), zap.Error(err))
		}
	}

	for {
		select {
		case <-ctx.Done():
			return nil
		case ev, ok := <-w.Events:
			if !ok {
				return nil
			}
			if ev.Has(fsnotify.Remove) {
				r.log.Info("external file removal observed", zap.String("path", ev.Name))
			}
		case err, ok := <-w.Errors:
			if !ok {
				return nil
			}
			r.log.Warn("fsnotify error", zap.Error(err))
		}
	}
}
