//go:build linux

package procmgr

import (
	"os"
	"strings"
	"sync"

	"github.com/edirooss/persistd/internal/protocol"
)

// LogsSession is one in-flight `logs` operation: a merged stream of
// LogEntry values across every selected process/source sub-stream, and a
// Cancel func that drops all subscriptions — calling it when a client
// disconnects mid-stream ends every per-process sub-stream and its
// broadcast subscription, so no server state leaks.
type LogsSession struct {
	Entries <-chan protocol.LogEntry
	Cancel  func()
}

// Logs returns one merged lazy sequence of LogEntry assembled from one
// sub-stream per (selected process, selected source), each optionally
// prefixed with on-disk history. filters nil means all processes;
// sourceFilter nil means both stdout and stderr.
func (r *Registry) Logs(filters []string, sourceFilter *protocol.LogSource, lines int, stream bool) *LogsSession {
	r.mu.Lock()
	handles := r.selectLocked(filters)
	r.mu.Unlock()

	sources := []protocol.LogSource{protocol.SourceStdout, protocol.SourceStderr}
	if sourceFilter != nil {
		sources = []protocol.LogSource{*sourceFilter}
	}

	out := make(chan protocol.LogEntry, 64)
	done := make(chan struct{})
	var once sync.Once
	cancel := func() { once.Do(func() { close(done) }) }

	var wg sync.WaitGroup
	for _, h := range handles {
		for _, src := range sources {
			wg.Add(1)
			go func(h *Handle, src protocol.LogSource) {
				defer wg.Done()
				runSubStream(h, src, lines, stream, out, done)
			}(h, src)
		}
	}

	go func() {
		wg.Wait()
		close(out)
	}()

	return &LogsSession{Entries: out, Cancel: cancel}
}

// runSubStream emits history (if lines > 0) then, if stream is true,
// forwards live records until the producer or subscriber ends. Within one
// process the stdout and stderr sub-streams run as independent goroutines
// writing to the same shared channel, giving a fair (non-starving) merge
// across all selected sub-streams.
func runSubStream(h *Handle, src protocol.LogSource, lines int, stream bool, out chan<- protocol.LogEntry, done <-chan struct{}) {
	name := h.Name()
	spec := h.Spec()

	path := spec.StdoutPath
	if src == protocol.SourceStderr {
		path = spec.StderrPath
	}

	if lines > 0 {
		hist, err := readTrailingLines(path, lines)
		if err == nil {
			for _, msg := range hist {
				select {
				case out <- protocol.LogEntry{Name: name, Source: src, Msg: msg}:
				case <-done:
					return
				}
			}
		}
	}

	if !stream {
		return
	}

	var ch <-chan string
	var cancel func()
	if src == protocol.SourceStdout {
		ch, cancel = h.StdoutStream()
	} else {
		ch, cancel = h.StderrStream()
	}
	defer cancel()

	for {
		select {
		case msg, ok := <-ch:
			if !ok {
				return
			}
			select {
			case out <- protocol.LogEntry{Name: name, Source: src, Msg: msg}:
			case <-done:
				return
			}
		case <-done:
			return
		}
	}
}

// readTrailingLines returns up to n trailing lines of the file at path,
// oldest-first: it reads the log file, splits on \n, drops the last
// (likely empty) entry, takes the last n entries, and returns them in
// chronological order.
func readTrailingLines(path string, n int) ([]string, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	all := strings.Split(string(b), "\n")
	if len(all) > 0 && all[len(all)-1] == "" {
		all = all[:len(all)-1]
	}

	if n > len(all) {
		n = len(all)
	}
	return all[len(all)-n:], nil
}
