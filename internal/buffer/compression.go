package buffer

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"

	"github.com/fakeyudi/replay/internal/event"
	"github.com/fakeyudi/replay/internal/worker"
)

// Compression routes events to the compression worker. Only the size total
// and earliest timestamp are tracked locally; the worker holds the events.
type Compression struct {
	ch     *worker.Channel
	codec  string
	logger *slog.Logger

	mu          sync.Mutex
	totalSize   int
	maxSize     int
	earliest    int64
	hasEvents   bool
	hasCheckout bool
}

// NewCompression returns a buffer backed by ch. The caller owns readiness.
func NewCompression(ch *worker.Channel, codec string, maxSize int, logger *slog.Logger) *Compression {
	if maxSize <= 0 {
		maxSize = DefaultMaxSize
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Compression{ch: ch, codec: codec, maxSize: maxSize, logger: logger}
}

// EnsureReady waits for the worker.
func (c *Compression) EnsureReady(ctx context.Context) error {
	return c.ch.EnsureReady(ctx)
}

// AddEvent posts ev to the worker after checking the size ceiling locally.
func (c *Compression) AddEvent(ctx context.Context, ev event.Event) error {
	data, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("serialize event: %w", err)
	}

	c.mu.Lock()
	if c.totalSize+len(data) > c.maxSize {
		c.mu.Unlock()
		return ErrSizeExceeded
	}
	c.totalSize += len(data)
	if ts := ev.TimestampMs(); !c.hasEvents || ts < c.earliest {
		c.earliest = ts
	}
	c.hasEvents = true
	c.mu.Unlock()

	if _, err := c.ch.PostMessage(ctx, worker.MethodAddEvent, string(data)); err != nil {
		return fmt.Errorf("add event to worker: %w", err)
	}
	return nil
}

// Finish asks the worker for the compressed segment and resets local state.
func (c *Compression) Finish(ctx context.Context) (Payload, error) {
	c.reset()
	data, err := c.ch.PostMessage(ctx, worker.MethodFinish, "")
	if err != nil {
		return Payload{}, fmt.Errorf("finish worker buffer: %w", err)
	}
	return Payload{Data: data, Compression: c.codec}, nil
}

// Clear resets local state and posts clear to the worker without waiting for
// the reply. Later requests queue behind it on the same port.
func (c *Compression) Clear() {
	c.reset()
	if err := c.ch.Notify(worker.MethodClear, ""); err != nil {
		c.logger.Debug("clearing worker buffer failed", "error", err)
	}
}

func (c *Compression) reset() {
	c.mu.Lock()
	c.totalSize = 0
	c.earliest = 0
	c.hasEvents = false
	c.hasCheckout = false
	c.mu.Unlock()
}

// EarliestTimestamp returns the smallest timestamp added since the last reset, in milliseconds.
func (c *Compression) EarliestTimestamp() (int64, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.earliest, c.hasEvents
}

// HasEvents reports whether any event was added since the last reset.
func (c *Compression) HasEvents() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.hasEvents
}

// HasCheckout reports whether the buffer holds a checkout snapshot.
func (c *Compression) HasCheckout() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.hasCheckout
}

// SetCheckout marks whether the buffer holds a checkout snapshot.
func (c *Compression) SetCheckout(v bool) {
	c.mu.Lock()
	c.hasCheckout = v
	c.mu.Unlock()
}

// Type returns TypeWorker.
func (c *Compression) Type() Type { return TypeWorker }

// Destroy terminates the worker.
func (c *Compression) Destroy() { c.ch.Destroy() }
