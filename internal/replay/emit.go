package replay

import (
	"context"
	"errors"

	"github.com/fakeyudi/replay/internal/buffer"
	"github.com/fakeyudi/replay/internal/event"
	"github.com/fakeyudi/replay/internal/metrics"
)

// AddUpdate runs cb and schedules a debounced flush in session mode unless cb
// returns true, meaning it handled flushing itself.
func (c *Container) AddUpdate(cb func() bool) {
	handled := cb()

	c.mu.Lock()
	mode := c.mode
	c.mu.Unlock()

	if mode == ModeBuffer || handled {
		return
	}
	c.debounced.Call()
}

// handleRecordingEmit is the Emit callback given to the recorder.
func (c *Container) handleRecordingEmit(ev event.Event, isCheckout bool) {
	if !c.CheckAndHandleExpiredSession() {
		c.logger.Debug("dropping event for expired or idle session")
		return
	}

	c.mu.Lock()
	checkout := isCheckout || !c.hadFirstEvent
	c.hadFirstEvent = true
	c.mu.Unlock()

	c.AddUpdate(func() bool { return c.applyEmit(ev, checkout) })
}

func (c *Container) applyEmit(ev event.Event, checkout bool) bool {
	c.mu.Lock()
	if c.mode == ModeBuffer && checkout {
		c.setInitialStateLocked(c.nowMs())
	}
	c.mu.Unlock()

	if !c.addEvent(ev, checkout) {
		return true
	}
	if !checkout {
		return false
	}

	c.addOptionsEvent()

	c.mu.Lock()
	s := c.sess
	if s != nil && s.PreviousSessionID != "" {
		c.mu.Unlock()
		return true
	}
	if c.mode == ModeBuffer && s != nil && c.buf != nil {
		if earliest, ok := c.buf.EarliestTimestamp(); ok {
			c.logger.Debug("moving session start to earliest buffered event", "started", earliest)
			s.Started = earliest
			c.maybeSaveSessionLocked()
		}
	}
	mode := c.mode
	c.mu.Unlock()

	if mode == ModeSession {
		c.Flush()
	}
	return true
}

// skipReasonLocked reports why ev must not be buffered, or "" to accept it.
func (c *Container) skipReasonLocked(ev event.Event) string {
	if c.buf == nil || c.paused || !c.enabled {
		return "inactive"
	}
	ts := ev.TimestampMs()
	if ts+c.opts.SessionIdlePause.Milliseconds() < c.nowMs() {
		return "stale"
	}
	if ts > c.ctx.initialTimestamp+c.opts.MaxReplayDuration.Milliseconds() {
		return "maxReplayDuration"
	}
	return ""
}

// addEvent buffers ev. Any buffer failure stops the recording.
func (c *Container) addEvent(ev event.Event, checkout bool) bool {
	c.mu.Lock()
	if reason := c.skipReasonLocked(ev); reason != "" {
		c.mu.Unlock()
		metrics.IncEventDropped(reason)
		if reason == "maxReplayDuration" {
			c.logger.Info("skipping event after max replay duration", "timestamp", ev.TimestampMs())
		}
		return false
	}
	buf := c.buf
	mode := c.mode
	c.mu.Unlock()

	if checkout && mode == ModeBuffer {
		buf.Clear()
	}
	if checkout {
		buf.SetCheckout(true)
	}

	if err := buf.AddEvent(context.Background(), ev); err != nil {
		reason := "addEvent"
		if errors.Is(err, buffer.ErrSizeExceeded) {
			reason = "addEventSizeExceeded"
		}
		c.logger.Error("failed to add event to buffer", "error", err)
		c.Stop(context.Background(), StopOptions{Reason: reason})
		return false
	}
	return true
}

type optionsPayload struct {
	ShouldRecordCanvas        bool    `json:"shouldRecordCanvas"`
	SessionSampleRate         float64 `json:"sessionSampleRate"`
	UseCompressionOption      bool    `json:"useCompressionOption"`
	UseCompression            bool    `json:"useCompression"`
	BlockAllMedia             bool    `json:"blockAllMedia"`
	MaskAllText               bool    `json:"maskAllText"`
	MaskAllInputs             bool    `json:"maskAllInputs"`
	NetworkDetailHasURLs      bool    `json:"networkDetailHasUrls"`
	NetworkCaptureBodies      bool    `json:"networkCaptureBodies"`
	NetworkRequestHasHeaders  bool    `json:"networkRequestHasHeaders"`
	NetworkResponseHasHeaders bool    `json:"networkResponseHasHeaders"`
}

// addOptionsEvent writes the options frame into the first segment.
func (c *Container) addOptionsEvent() {
	c.mu.Lock()
	if c.sess == nil || c.sess.SegmentID != 0 || c.buf == nil {
		c.mu.Unlock()
		return
	}
	useCompression := c.buf.Type() == buffer.TypeWorker
	c.mu.Unlock()

	ev, err := event.NewCustom("options", optionsPayload{
		SessionSampleRate:         c.opts.SessionSampleRate,
		UseCompressionOption:      c.opts.UseCompression,
		UseCompression:            useCompression,
		BlockAllMedia:             c.opts.BlockAllMedia,
		MaskAllText:               c.opts.MaskAllText,
		MaskAllInputs:             c.opts.MaskAllInputs,
		NetworkDetailHasURLs:      len(c.opts.NetworkDetailAllowURLs) > 0,
		NetworkCaptureBodies:      c.opts.NetworkCaptureBodies,
		NetworkRequestHasHeaders:  len(c.opts.NetworkRequestHeaders) > 0,
		NetworkResponseHasHeaders: len(c.opts.NetworkResponseHeaders) > 0,
	}, c.nowMs())
	if err != nil {
		c.logger.Warn("could not build options event", "error", err)
		return
	}
	c.addEvent(ev, false)
}

// onMutation is the circuit breaker handed to the recorder.
func (c *Container) onMutation(count int) bool {
	limit := c.opts.MutationLimit
	over := limit > 0 && count > limit

	if over || (c.opts.MutationBreadcrumbLimit > 0 && count > c.opts.MutationBreadcrumbLimit) {
		c.logger.Warn("large number of mutations in a single batch", "count", count, "limit", over)
	}
	if !over {
		return true
	}

	c.mu.Lock()
	force := c.mode == ModeSession
	c.mu.Unlock()

	c.bg.Add(1)
	go func() {
		defer c.bg.Done()
		c.Stop(context.Background(), StopOptions{Reason: "mutationLimit", ForceFlush: force})
	}()
	return false
}
