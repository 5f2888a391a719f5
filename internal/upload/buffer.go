// Package upload sends finished segments to the collection endpoint.
package upload

import (
	"context"
	"errors"
	"sync"
	"time"
)

// DefaultBufferSize is the default number of requests allowed in flight.
const DefaultBufferSize = 64

// ErrBufferFull is returned by Buffer.Add when the in-flight limit is reached.
var ErrBufferFull = errors.New("upload buffer full, request rejected")

// Buffer bounds the number of concurrently running tasks. Add never blocks
// waiting for capacity.
type Buffer struct {
	limit int

	mu      sync.Mutex
	n       int
	waiters []chan struct{}
}

// NewBuffer returns a Buffer allowing limit tasks in flight (DefaultBufferSize when <= 0).
func NewBuffer(limit int) *Buffer {
	if limit <= 0 {
		limit = DefaultBufferSize
	}
	return &Buffer{limit: limit}
}

// Add runs task on the calling goroutine while it counts against the limit.
func (b *Buffer) Add(ctx context.Context, task func(context.Context) (Response, error)) (Response, error) {
	b.mu.Lock()
	if b.n >= b.limit {
		b.mu.Unlock()
		return Response{}, ErrBufferFull
	}
	b.n++
	b.mu.Unlock()

	defer b.done()
	return task(ctx)
}

func (b *Buffer) done() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.n--
	if b.n == 0 {
		for _, w := range b.waiters {
			close(w)
		}
		b.waiters = nil
	}
}

// Len returns the number of tasks in flight.
func (b *Buffer) Len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.n
}

// Drain waits until no task is in flight. It returns false if timeout elapses
// first; a non-positive timeout waits indefinitely.
func (b *Buffer) Drain(timeout time.Duration) bool {
	b.mu.Lock()
	if b.n == 0 {
		b.mu.Unlock()
		return true
	}
	w := make(chan struct{})
	b.waiters = append(b.waiters, w)
	b.mu.Unlock()

	if timeout <= 0 {
		<-w
		return true
	}
	timer := time.NewTimer(timeout)
	defer timer.Stop()
	select {
	case <-w:
		return true
	case <-timer.C:
		return false
	}
}
