// Package protocol defines the wire types and line codec for persistd's
// IPC protocol: newline-delimited JSON, each line a tagged union
// `{ "type": "<kebab-variant>", "data": <payload> }`.
package protocol

import (
	"encoding/json"
	"fmt"
	"time"
)

// Status is a process's desired or observed run state.
type Status string

const (
	StatusRunning Status = "running"
	StatusStopped Status = "stopped"
)

// LogSource identifies which child stream a LogEntry came from.
type LogSource string

const (
	SourceStdout LogSource = "stdout"
	SourceStderr LogSource = "stderr"
)

// EnvPair is one (key, value) entry of a process's environment. The wire
// form is a 2-element JSON array rather than a map, since a map would not
// preserve order or allow duplicate keys, both of which callers must be
// able to express verbatim.
type EnvPair struct {
	Key   string
	Value string
}

// MarshalJSON renders the pair as ["key","value"].
func (p EnvPair) MarshalJSON() ([]byte, error) {
	return json.Marshal([2]string{p.Key, p.Value})
}

// UnmarshalJSON parses ["key","value"].
func (p *EnvPair) UnmarshalJSON(b []byte) error {
	var pair [2]string
	if err := json.Unmarshal(b, &pair); err != nil {
		return fmt.Errorf("env pair: %w", err)
	}
	p.Key, p.Value = pair[0], pair[1]
	return nil
}

// ProcessSpec is the persistable, full description of what to run.
// Status here is the user's *desired* state at spec time, consulted by
// restore to decide whether to spawn.
type ProcessSpec struct {
	Name       string    `json:"name"`
	Cmd        []string  `json:"cmd"`
	Cwd        string    `json:"cwd"`
	Env        []EnvPair `json:"env"`
	PidPath    string    `json:"pid_path"`
	StdoutPath string    `json:"stdout_path"`
	StderrPath string    `json:"stderr_path"`
	CreatedAt  time.Time `json:"created_at"`
	Status     Status    `json:"status"`
}

// Validate checks the invariants enforced at the protocol boundary: empty
// cmd must be rejected here, not passed down to the process handle (which
// panics on the internal precondition).
func (s *ProcessSpec) Validate() error {
	if s.Name == "" {
		return fmt.Errorf("name must not be empty")
	}
	if len(s.Cmd) == 0 {
		return fmt.Errorf("cmd must not be empty")
	}
	if s.Cwd == "" {
		return fmt.Errorf("cwd must not be empty")
	}
	if s.Status != StatusRunning && s.Status != StatusStopped {
		return fmt.Errorf("status must be %q or %q", StatusRunning, StatusStopped)
	}
	return nil
}

// ProcessView projects a spec plus its live status/pid — the shape
// returned by start/restart/list/restore, combining a spec with its live
// status and pid.
type ProcessView struct {
	Name       string    `json:"name"`
	Cmd        []string  `json:"cmd"`
	Cwd        string    `json:"cwd"`
	Env        []EnvPair `json:"env"`
	PidPath    string    `json:"pid_path"`
	StdoutPath string    `json:"stdout_path"`
	StderrPath string    `json:"stderr_path"`
	CreatedAt  time.Time `json:"created_at"`
	Status     Status    `json:"status"`
	Pid        *int      `json:"pid"`
}

// ProcessMetrics extends ProcessView with sampled resource usage; a
// stopped entry reports zero usage rather than a stale sample.
type ProcessMetrics struct {
	ProcessView
	CPUPercent float64 `json:"cpu_percent"`
	RSSBytes   uint64  `json:"rss_bytes"`
}

// LogEntry is one line of child output, tagged with its origin.
type LogEntry struct {
	Name   string    `json:"name"`
	Source LogSource `json:"source"`
	Msg    string    `json:"msg"`
}
