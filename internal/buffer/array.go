package buffer

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/fakeyudi/replay/internal/event"
)

// Array keeps events in memory and serializes them on Finish.
type Array struct {
	mu          sync.Mutex
	events      []event.Event
	totalSize   int
	maxSize     int
	hasCheckout bool
}

// NewArray returns an empty Array with the given ceiling (DefaultMaxSize when <= 0).
func NewArray(maxSize int) *Array {
	if maxSize <= 0 {
		maxSize = DefaultMaxSize
	}
	return &Array{maxSize: maxSize}
}

// AddEvent appends ev, or returns ErrSizeExceeded when the ceiling would be crossed.
func (a *Array) AddEvent(_ context.Context, ev event.Event) error {
	n, err := event.Size(ev)
	if err != nil {
		return fmt.Errorf("measure event: %w", err)
	}

	a.mu.Lock()
	defer a.mu.Unlock()
	if a.totalSize+n > a.maxSize {
		return ErrSizeExceeded
	}
	a.totalSize += n
	a.events = append(a.events, ev)
	return nil
}

// Finish serializes the buffered events as a JSON array and empties the buffer.
func (a *Array) Finish(_ context.Context) (Payload, error) {
	a.mu.Lock()
	events := a.events
	a.events = nil
	a.totalSize = 0
	a.hasCheckout = false
	a.mu.Unlock()

	if events == nil {
		events = []event.Event{}
	}
	data, err := json.Marshal(events)
	if err != nil {
		return Payload{}, fmt.Errorf("serialize events: %w", err)
	}
	return Payload{Data: data}, nil
}

// Clear drops every buffered event.
func (a *Array) Clear() {
	a.mu.Lock()
	a.events = nil
	a.totalSize = 0
	a.hasCheckout = false
	a.mu.Unlock()
}

// EarliestTimestamp returns the smallest buffered timestamp in milliseconds.
func (a *Array) EarliestTimestamp() (int64, bool) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if len(a.events) == 0 {
		return 0, false
	}
	earliest := a.events[0].TimestampMs()
	for _, ev := range a.events[1:] {
		if ts := ev.TimestampMs(); ts < earliest {
			earliest = ts
		}
	}
	return earliest, true
}

// HasEvents reports whether anything is buffered.
func (a *Array) HasEvents() bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	return len(a.events) > 0
}

// HasCheckout reports whether the buffer holds a checkout snapshot.
func (a *Array) HasCheckout() bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.hasCheckout
}

// SetCheckout marks whether the buffer holds a checkout snapshot.
func (a *Array) SetCheckout(v bool) {
	a.mu.Lock()
	a.hasCheckout = v
	a.mu.Unlock()
}

// Type returns TypeSync.
func (a *Array) Type() Type { return TypeSync }

// Destroy clears the buffer.
func (a *Array) Destroy() { a.Clear() }

// snapshot returns a copy of the buffered events in insertion order.
func (a *Array) snapshot() []event.Event {
	a.mu.Lock()
	defer a.mu.Unlock()
	return append([]event.Event(nil), a.events...)
}
