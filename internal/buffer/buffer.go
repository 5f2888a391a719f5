// Package buffer accumulates recording events between flushes.
package buffer

import (
	"context"
	"errors"
	"log/slog"

	"github.com/fakeyudi/replay/internal/event"
	"github.com/fakeyudi/replay/internal/worker"
)

// DefaultMaxSize is the byte ceiling for buffered events.
const DefaultMaxSize = 20_000_000

// ErrSizeExceeded is returned when an event would push the buffer past its ceiling.
var ErrSizeExceeded = errors.New("event buffer max size exceeded")

// Type discriminates buffer implementations.
type Type string

const (
	TypeSync   Type = "sync"
	TypeWorker Type = "worker"
)

// Payload is the finished content of a buffer. Compression is empty for a
// plain JSON array, otherwise it names the codec Data is encoded with.
type Payload struct {
	Data        []byte
	Compression string
}

// Empty reports whether the payload carries no bytes.
func (p Payload) Empty() bool { return len(p.Data) == 0 }

// EventBuffer holds events for the current segment.
type EventBuffer interface {
	AddEvent(ctx context.Context, ev event.Event) error
	// Finish returns the buffered content and empties the buffer.
	Finish(ctx context.Context) (Payload, error)
	Clear()
	EarliestTimestamp() (int64, bool)
	HasEvents() bool
	HasCheckout() bool
	SetCheckout(bool)
	Type() Type
	Destroy()
}

// Options configures New.
type Options struct {
	UseCompression bool
	// Codec selects the worker codec. An unsupported codec makes the worker
	// fail its readiness check, leaving the proxy on the array buffer.
	Codec   string
	MaxSize int
	Logger  *slog.Logger
}

// New returns a Proxy when compression is requested, otherwise an Array.
func New(opts Options) EventBuffer {
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if !opts.UseCompression {
		return NewArray(opts.MaxSize)
	}
	opts.Logger.Debug("using compression worker", "codec", opts.Codec)
	port := worker.Spawn(opts.Codec)
	ch := worker.NewChannel(port, worker.WithLogger(opts.Logger))
	return NewProxy(ch, codecName(opts.Codec), opts.MaxSize, opts.Logger)
}

func codecName(c string) string {
	if c == "" {
		return worker.DefaultCodec
	}
	return c
}
