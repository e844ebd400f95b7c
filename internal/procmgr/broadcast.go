package procmgr

import "sync"

// broadcastCap is the bounded channel capacity for each log broadcast
// subscriber.
const broadcastCap = 15

// broadcast is a single-producer, multi-consumer fan-out of log lines.
// Subscribers are buffered channels; a full subscriber is skipped rather
// than blocking the producer, so no number of live subscribers can ever
// stall it.
//
// A broadcast outlives any single run of its owning child: the same
// endpoint is reused across restarts, so endGeneration (called when one
// run's output stream has drained) only ends the subscribers attached to
// that run. It never poisons the endpoint itself — a later restart's
// forwarder keeps publishing through it, and new subscribers can still
// attach and receive the next generation's output.
//
// History (what a log file already holds on disk) is not this type's
// concern — logs.go reads history from disk and prepends it ahead of
// whatever this type delivers live.
type broadcast struct {
	mu     sync.Mutex
	subs   map[uint64]chan string
	nextID uint64
}

func newBroadcast() *broadcast {
	return &broadcast{subs: make(map[uint64]chan string)}
}

// subscribe registers a new live listener. The returned cancel func must
// be called when the subscriber is done (client disconnect or stream end)
// to release the channel.
func (b *broadcast) subscribe() (ch <-chan string, cancel func()) {
	b.mu.Lock()
	defer b.mu.Unlock()

	id := b.nextID
	b.nextID++
	c := make(chan string, broadcastCap)
	b.subs[id] = c

	return c, func() { b.unsubscribe(id) }
}

func (b *broadcast) unsubscribe(id uint64) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if c, ok := b.subs[id]; ok {
		delete(b.subs, id)
		close(c)
	}
}

// publish fans msg out to every live subscriber. A subscriber whose buffer
// is full is skipped — never blocked on — so a stalled Logs client can
// never back-pressure the forwarder that owns the on-disk write: each
// send is best-effort, and a lagged subscriber must never stop the write.
func (b *broadcast) publish(msg string) {
	b.mu.Lock()
	defer b.mu.Unlock()

	for _, c := range b.subs {
		select {
		case c <- msg:
		default:
			// Subscriber lagging: drop this record for it, keep going.
		}
	}
}

// endGeneration ends every subscription attached to the current run,
// without disturbing the endpoint itself: a future restart's forwarder
// can keep publishing through it, and future subscribers can still
// attach. Called when the owning process handle's forwarder has no more
// records to publish for this run (child exited, stream drained).
func (b *broadcast) endGeneration() {
	b.mu.Lock()
	defer b.mu.Unlock()

	for id, c := range b.subs {
		delete(b.subs, id)
		close(c)
	}
}
