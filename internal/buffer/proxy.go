package buffer

import (
	"context"
	"log/slog"
	"sync"

	"github.com/fakeyudi/replay/internal/event"
	"github.com/fakeyudi/replay/internal/worker"
)

// Proxy starts on an Array and moves to a Compression buffer once the worker
// reports ready. If the worker never becomes ready the Array stays active for
// the lifetime of the proxy.
type Proxy struct {
	logger      *slog.Logger
	fallback    *Array
	compression *Compression

	mu     sync.Mutex
	active EventBuffer
	ready  chan struct{}
}

// NewProxy starts the readiness probe for ch in the background.
func NewProxy(ch *worker.Channel, codec string, maxSize int, logger *slog.Logger) *Proxy {
	if logger == nil {
		logger = slog.Default()
	}
	p := &Proxy{
		logger:      logger,
		fallback:    NewArray(maxSize),
		compression: NewCompression(ch, codec, maxSize, logger),
		ready:       make(chan struct{}),
	}
	p.active = p.fallback
	go p.ensureWorkerIsLoaded()
	return p
}

func (p *Proxy) ensureWorkerIsLoaded() {
	defer close(p.ready)

	if err := p.compression.EnsureReady(context.Background()); err != nil {
		p.logger.Warn("failed to load compression worker, falling back to array buffer", "error", err)
		return
	}
	if err := p.switchToCompressionWorker(); err != nil {
		p.logger.Warn("failed to migrate events to compression worker", "error", err)
	}
}

// switchToCompressionWorker replays buffered events into the worker buffer and
// then swaps the active pointer. The lock is held throughout so callers never
// see a partially migrated buffer.
func (p *Proxy) switchToCompressionWorker() error {
	p.mu.Lock()
	defer p.mu.Unlock()

	hasCheckout := p.fallback.HasCheckout()
	for _, ev := range p.fallback.snapshot() {
		if err := p.compression.AddEvent(context.Background(), ev); err != nil {
			p.compression.Clear()
			return err
		}
	}
	p.compression.SetCheckout(hasCheckout)
	p.active = p.compression
	p.fallback.Clear()
	p.logger.Debug("switched to compression worker buffer")
	return nil
}

// Ready is closed once the readiness decision has settled.
func (p *Proxy) Ready() <-chan struct{} { return p.ready }

func (p *Proxy) current() EventBuffer {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.active
}

func (p *Proxy) AddEvent(ctx context.Context, ev event.Event) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.active.AddEvent(ctx, ev)
}

// Finish waits for the readiness decision so the chosen buffer holds the
// complete history.
func (p *Proxy) Finish(ctx context.Context) (Payload, error) {
	select {
	case <-p.ready:
	case <-ctx.Done():
		return Payload{}, ctx.Err()
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.active.Finish(ctx)
}

func (p *Proxy) Clear() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.active.Clear()
}

func (p *Proxy) EarliestTimestamp() (int64, bool) { return p.current().EarliestTimestamp() }
func (p *Proxy) HasEvents() bool                  { return p.current().HasEvents() }
func (p *Proxy) HasCheckout() bool                { return p.current().HasCheckout() }
func (p *Proxy) Type() Type                       { return p.current().Type() }

func (p *Proxy) SetCheckout(v bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.active.SetCheckout(v)
}

// Destroy releases both buffers and the worker.
func (p *Proxy) Destroy() {
	p.fallback.Destroy()
	p.compression.Destroy()
}
