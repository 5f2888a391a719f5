// Package source provides recorders that feed recording events into a
// replay container: a JSONL file follower and a push-based in-memory source.
package source

import (
	"sync"

	"github.com/fakeyudi/replay/internal/event"
	"github.com/fakeyudi/replay/internal/replay"
)

// dispatch applies the mutation breaker and hands ev to the container.
// It reports whether the event was emitted.
func dispatch(opts replay.RecordOptions, ev event.Event, checkout bool) bool {
	if n := event.MutationCount(ev); n > 0 && opts.OnMutation != nil && !opts.OnMutation(n) {
		return false
	}
	if opts.Emit != nil {
		opts.Emit(ev, checkout || ev.IsFullSnapshot())
	}
	return true
}

// MemorySource is a Recorder whose events are pushed by the caller.
type MemorySource struct {
	mu      sync.Mutex
	opts    replay.RecordOptions
	running bool
	starts  int
}

// NewMemorySource returns an idle MemorySource.
func NewMemorySource() *MemorySource {
	return &MemorySource{}
}

// Start implements replay.Recorder.
func (m *MemorySource) Start(opts replay.RecordOptions) (func(), error) {
	m.mu.Lock()
	m.opts = opts
	m.running = true
	m.starts++
	gen := m.starts
	m.mu.Unlock()

	return func() {
		m.mu.Lock()
		if m.starts == gen {
			m.running = false
		}
		m.mu.Unlock()
	}, nil
}

// Push emits ev to the running recording. Full snapshots are checkouts. It
// reports false when nothing is recording or the mutation breaker dropped ev.
func (m *MemorySource) Push(ev event.Event) bool {
	opts, ok := m.current()
	if !ok {
		return false
	}
	return dispatch(opts, ev, false)
}

// Checkout emits ev as a checkout regardless of its type.
func (m *MemorySource) Checkout(ev event.Event) bool {
	opts, ok := m.current()
	if !ok {
		return false
	}
	return dispatch(opts, ev, true)
}

// Running reports whether a recording is attached.
func (m *MemorySource) Running() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.running
}

// Options returns the options of the current recording.
func (m *MemorySource) Options() replay.RecordOptions {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.opts
}

func (m *MemorySource) current() (replay.RecordOptions, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.opts, m.running
}
