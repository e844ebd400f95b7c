// Package config resolves the daemon's home directory and the filesystem
// layout beneath it.
package config

import (
	"errors"
	"fmt"
	"os"
	"os/user"
	"path/filepath"
)

// ErrHomeDirNotFound is returned when no home directory can be resolved
// from the environment.
var ErrHomeDirNotFound = errors.New("persistd: home directory not found")

// Layout is the resolved set of paths the daemon reads and writes under
// its home directory.
type Layout struct {
	Home       string // <home>
	SocketFile string // <home>/daemon.sock
	PidFile    string // <home>/daemon.pid
	PidsDir    string // <home>/pids
	LogsDir    string // <home>/logs
}

// ResolveHome finds the daemon's home directory.
//
// Order: $PERSISTD_HOME, else $XDG_DATA_HOME/persistd, else
// $HOME/.local/share/persistd, falling back to the current OS user's home
// directory when $HOME is unset. Returns ErrHomeDirNotFound if none of
// these can be determined.
func ResolveHome() (string, error) {
	if v := os.Getenv("PERSISTD_HOME"); v != "" {
		return v, nil
	}

	if xdg := os.Getenv("XDG_DATA_HOME"); xdg != "" {
		return filepath.Join(xdg, "persistd"), nil
	}

	home := os.Getenv("HOME")
	if home == "" {
		u, err := user.Current()
		if err != nil || u.HomeDir == "" {
			return "", ErrHomeDirNotFound
		}
		home = u.HomeDir
	}

	return filepath.Join(home, ".local", "share", "persistd"), nil
}

// NewLayout resolves the home directory and derives the fixed layout paths
// beneath it. It does not touch the filesystem.
func NewLayout() (*Layout, error) {
	home, err := ResolveHome()
	if err != nil {
		return nil, err
	}
	return LayoutFor(home), nil
}

// LayoutFor derives the fixed layout paths for an explicit home directory.
func LayoutFor(home string) *Layout {
	return &Layout{
		Home:       home,
		SocketFile: filepath.Join(home, "daemon.sock"),
		PidFile:    filepath.Join(home, "daemon.pid"),
		PidsDir:    filepath.Join(home, "pids"),
		LogsDir:    filepath.Join(home, "logs"),
	}
}

// PidPath returns the per-child pid file path for name.
func (l *Layout) PidPath(name string) string {
	return filepath.Join(l.PidsDir, name+".pid")
}

// StdoutLogPath returns the per-child stdout log path for name.
func (l *Layout) StdoutLogPath(name string) string {
	return filepath.Join(l.LogsDir, name+"-out.log")
}

// StderrLogPath returns the per-child stderr log path for name.
func (l *Layout) StderrLogPath(name string) string {
	return filepath.Join(l.LogsDir, name+"-err.log")
}

// EnsureHome creates the home directory itself (not pids/logs, which are
// created lazily on first start/restore).
func (l *Layout) EnsureHome() error {
	if err := os.MkdirAll(l.Home, 0o755); err != nil {
		return fmt.Errorf("create home dir: %w", err)
	}
	return nil
}

// EnsureSubdirs creates pids/ and logs/ beneath home, idempotently.
func (l *Layout) EnsureSubdirs() error {
	if err := os.MkdirAll(l.PidsDir, 0o755); err != nil {
		return fmt.Errorf("create pids dir: %w", err)
	}
	if err := os.MkdirAll(l.LogsDir, 0o755); err != nil {
		return fmt.Errorf("create logs dir: %w", err)
	}
	return nil
}

// RemoveStaleSocket unlinks an existing socket file so bind() can succeed.
// A missing socket file is not an error.
func (l *Layout) RemoveStaleSocket() error {
	if err := os.Remove(l.SocketFile); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("remove stale socket: %w", err)
	}
	return nil
}

// WritePidFile writes the daemon's own pid, decimal UTF-8, no trailing
// newline requirement.
func (l *Layout) WritePidFile(pid int) error {
	return WritePidFile(l.PidFile, pid)
}

// WritePidFile writes pid as decimal UTF-8 to path with no trailing
// newline, used both for the daemon's own pid
// file and for each managed child's pid_path.
func WritePidFile(path string, pid int) error {
	return os.WriteFile(path, fmt.Appendf(nil, "%d", pid), 0o644)
}
