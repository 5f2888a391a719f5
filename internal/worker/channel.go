package worker

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"
)

// DefaultReadyTimeout bounds how long EnsureReady waits for the init message.
const DefaultReadyTimeout = 5 * time.Second

type result struct {
	resp Response
	err  error
}

type pendingCall struct {
	method Method
	ch     chan result
}

// Channel correlates requests to a worker Port with their responses.
type Channel struct {
	port         Port
	logger       *slog.Logger
	readyTimeout time.Duration

	mu      sync.Mutex
	nextID  int
	pending map[int]*pendingCall

	ready     chan Response
	gone      chan struct{}
	readyOnce sync.Once
	readyErr  error
}

// ChannelOption configures a Channel.
type ChannelOption func(*Channel)

// WithLogger sets the channel logger.
func WithLogger(l *slog.Logger) ChannelOption {
	return func(c *Channel) {
		if l != nil {
			c.logger = l
		}
	}
}

// WithReadyTimeout overrides DefaultReadyTimeout. Non-positive values are ignored.
func WithReadyTimeout(d time.Duration) ChannelOption {
	return func(c *Channel) {
		if d > 0 {
			c.readyTimeout = d
		}
	}
}

// NewChannel starts reading from port.
func NewChannel(port Port, opts ...ChannelOption) *Channel {
	c := &Channel{
		port:         port,
		logger:       slog.Default(),
		readyTimeout: DefaultReadyTimeout,
		pending:      make(map[int]*pendingCall),
		ready:        make(chan Response, 1),
		gone:         make(chan struct{}),
	}
	for _, o := range opts {
		o(c)
	}
	go c.readLoop()
	return c
}

func (c *Channel) readLoop() {
	defer close(c.gone)
	for resp := range c.port.Messages() {
		if resp.Method == MethodInit {
			select {
			case c.ready <- resp:
			default:
			}
			continue
		}
		c.mu.Lock()
		call, ok := c.pending[resp.ID]
		if !ok || call.method != resp.Method {
			c.mu.Unlock()
			c.logger.Debug("ignoring unmatched worker message", "id", resp.ID, "method", resp.Method)
			continue
		}
		delete(c.pending, resp.ID)
		c.mu.Unlock()
		call.ch <- result{resp: resp}
	}

	c.mu.Lock()
	for id, call := range c.pending {
		delete(c.pending, id)
		call.ch <- result{err: ErrTerminated}
	}
	c.mu.Unlock()
}

// EnsureReady waits for the worker to report in. Only the first call probes;
// later calls return the same outcome.
func (c *Channel) EnsureReady(ctx context.Context) error {
	c.readyOnce.Do(func() {
		c.readyErr = c.waitReady(ctx)
	})
	return c.readyErr
}

func (c *Channel) waitReady(ctx context.Context) error {
	timer := time.NewTimer(c.readyTimeout)
	defer timer.Stop()

	select {
	case resp := <-c.ready:
		if !resp.Success {
			return fmt.Errorf("compression worker failed to start: %s", resp.Error)
		}
		return nil
	case <-c.gone:
		return ErrTerminated
	case <-timer.C:
		return ErrReadyTimeout
	case <-ctx.Done():
		return ctx.Err()
	}
}

// PostMessage sends method with arg and waits for the matching response.
func (c *Channel) PostMessage(ctx context.Context, method Method, arg string) ([]byte, error) {
	id, call, err := c.send(method, arg)
	if err != nil {
		return nil, err
	}

	select {
	case r := <-call.ch:
		return r.unwrap(method)
	case <-ctx.Done():
		c.forget(id)
		return nil, ctx.Err()
	}
}

// Notify sends method with arg and returns once the request is queued on the
// port. The response is drained in the background and failures are logged.
func (c *Channel) Notify(method Method, arg string) error {
	_, call, err := c.send(method, arg)
	if err != nil {
		return err
	}
	go func() {
		if _, err := (<-call.ch).unwrap(method); err != nil {
			c.logger.Debug("worker notification failed", "method", method, "error", err)
		}
	}()
	return nil
}

func (c *Channel) send(method Method, arg string) (int, *pendingCall, error) {
	call := &pendingCall{method: method, ch: make(chan result, 1)}

	c.mu.Lock()
	id := c.nextID
	c.nextID++
	c.pending[id] = call
	c.mu.Unlock()

	select {
	case <-c.gone:
		c.forget(id)
		return 0, nil, ErrTerminated
	default:
	}

	if err := c.port.Post(Request{ID: id, Method: method, Arg: arg}); err != nil {
		c.forget(id)
		return 0, nil, err
	}
	return id, call, nil
}

func (r result) unwrap(method Method) ([]byte, error) {
	if r.err != nil {
		return nil, r.err
	}
	if !r.resp.Success {
		return nil, &Error{Method: method, Message: r.resp.Error}
	}
	return r.resp.Response, nil
}

func (c *Channel) forget(id int) {
	c.mu.Lock()
	delete(c.pending, id)
	c.mu.Unlock()
}

// Destroy terminates the worker. Pending requests fail with ErrTerminated.
func (c *Channel) Destroy() {
	c.logger.Debug("destroying compression worker")
	c.port.Terminate()
}
