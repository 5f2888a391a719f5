package replay

import (
	"context"
	"errors"

	"github.com/fakeyudi/replay/internal/metrics"
	"github.com/fakeyudi/replay/internal/upload"
)

var errTooLong = errors.New("session is too long, not sending replay")

// Flush schedules a debounced flush.
func (c *Container) Flush() {
	c.debounced.Call()
}

// FlushImmediate flushes now, on the calling goroutine.
func (c *Container) FlushImmediate(ctx context.Context) {
	c.debounced.Call()
	c.debounced.Flush(ctx)
}

// SendBufferedReplayOrFlush flushes immediately in session mode. In buffer
// mode it sends what is buffered and, if continueRecording is set, restarts
// the recorder in session mode under the same session.
func (c *Container) SendBufferedReplayOrFlush(ctx context.Context, continueRecording bool) {
	c.mu.Lock()
	mode := c.mode
	c.mu.Unlock()

	if mode == ModeSession {
		c.FlushImmediate(ctx)
		return
	}

	activity := c.nowMs()
	c.logger.Info("converting buffer to session")

	c.FlushImmediate(ctx)
	stopped := c.StopRecording()
	if !continueRecording || !stopped {
		return
	}

	c.mu.Lock()
	if c.mode == ModeSession || !c.enabled {
		c.mu.Unlock()
		return
	}
	c.mode = ModeSession
	if c.sess != nil {
		c.lastActivity = activity
		c.sess.LastActivity = activity
		c.maybeSaveSessionLocked()
	}
	c.mu.Unlock()

	c.startRecording()
}

// FlushOrStart starts a session-mode recording when the container is disabled,
// otherwise it behaves like SendBufferedReplayOrFlush.
func (c *Container) FlushOrStart(ctx context.Context, continueRecording bool) {
	if !c.IsEnabled() {
		c.Start()
		return
	}
	c.SendBufferedReplayOrFlush(ctx, continueRecording)
}

// flush is the debounced flush body. Only one runFlush is in progress at a
// time; a flush arriving during one waits for it and then reschedules.
func (c *Container) flush(ctx context.Context, force bool) {
	if !c.IsEnabled() && !force {
		return
	}
	if !c.CheckAndHandleExpiredSession() {
		return
	}

	c.mu.Lock()
	if c.sess == nil {
		c.mu.Unlock()
		return
	}
	duration := c.nowMs() - c.sess.Started
	c.mu.Unlock()

	c.debounced.Cancel()

	tooShort := duration < c.opts.MinReplayDuration.Milliseconds()
	tooLong := duration > (c.opts.MaxReplayDuration + tooLongGrace).Milliseconds()
	if tooShort || tooLong {
		if tooShort {
			metrics.IncFlush("too_short")
			c.debounced.Call()
		} else {
			metrics.IncFlush("too_long")
		}
		return
	}

	c.mu.Lock()
	if c.flushing == nil {
		call := &flushCall{done: make(chan struct{})}
		c.flushing = call
		c.mu.Unlock()

		c.runFlush(ctx)

		c.mu.Lock()
		c.flushing = nil
		c.mu.Unlock()
		close(call.done)
		return
	}
	call := c.flushing
	c.mu.Unlock()

	select {
	case <-call.done:
	case <-ctx.Done():
	}
	c.debounced.Call()
}

func (c *Container) runFlush(ctx context.Context) {
	c.mu.Lock()
	if c.sess == nil || c.buf == nil {
		c.mu.Unlock()
		c.logger.Error("no session or event buffer to flush")
		return
	}
	replayID := c.sess.ID
	buf := c.buf
	c.mu.Unlock()

	if !buf.HasEvents() {
		metrics.IncFlush("empty")
		return
	}

	c.mu.Lock()
	if c.buf != buf || c.sess == nil || c.sess.ID != replayID {
		c.mu.Unlock()
		return
	}
	c.updateInitialTimestampFromBufferLocked()
	timestamp := c.nowMs()
	if timestamp-c.ctx.initialTimestamp > (c.opts.MaxReplayDuration + hardMaxGrace).Milliseconds() {
		c.mu.Unlock()
		c.failFlush(ctx, errTooLong)
		return
	}
	ectx := c.ctx.pop()
	segmentID := c.sess.SegmentID
	c.sess.SegmentID++
	c.maybeSaveSessionLocked()
	sess := *c.sess
	c.mu.Unlock()

	payload, err := buf.Finish(ctx)
	if err != nil {
		c.failFlush(ctx, err)
		return
	}
	metrics.SetBufferType(string(buf.Type()))

	data := upload.SendData{
		RecordingData:    payload,
		ReplayID:         replayID,
		SegmentID:        segmentID,
		Session:          &sess,
		Timestamp:        timestamp,
		InitialTimestamp: ectx.InitialTimestamp,
		URLs:             ectx.URLs,
		ErrorIDs:         ectx.ErrorIDs,
		TraceIDs:         ectx.TraceIDs,
	}
	if c.opts.OnData != nil {
		c.opts.OnData(data)
	}
	if c.sender != nil {
		if _, err := c.sender.SendReplay(ctx, data); err != nil {
			c.failFlush(ctx, err)
			return
		}
	}
	metrics.IncFlush("sent")
	c.logger.Debug("segment flushed", "replay_id", replayID, "segment_id", segmentID, "bytes", len(payload.Data))
}

func (c *Container) failFlush(ctx context.Context, err error) {
	metrics.IncFlush("error")
	c.logger.Error("flush failed, stopping replay", "error", err)
	c.Stop(ctx, StopOptions{Reason: "sendReplay"})
}

// updateInitialTimestampFromBufferLocked moves the segment start back to the
// earliest buffered event, for the first segment only.
func (c *Container) updateInitialTimestampFromBufferLocked() {
	if c.sess == nil || c.buf == nil || c.sess.SegmentID != 0 {
		return
	}
	if earliest, ok := c.buf.EarliestTimestamp(); ok && earliest < c.ctx.initialTimestamp {
		c.ctx.initialTimestamp = earliest
	}
}
