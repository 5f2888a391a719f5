// Package replay coordinates a recording: it owns the session and the event
// buffer, decides when segments are flushed and stops itself on any failure.
package replay

import (
	"context"
	"log/slog"
	"math/rand"
	"sync"
	"time"

	"github.com/fakeyudi/replay/internal/buffer"
	"github.com/fakeyudi/replay/internal/debounce"
	"github.com/fakeyudi/replay/internal/metrics"
	"github.com/fakeyudi/replay/internal/session"
	"github.com/fakeyudi/replay/internal/upload"
)

// Mode is the recording mode of a Container.
type Mode string

const (
	// ModeSession records and uploads continuously.
	ModeSession Mode = "session"
	// ModeBuffer keeps recent events in memory until an error or an explicit flush.
	ModeBuffer Mode = "buffer"
)

// Sender uploads a finished segment.
type Sender interface {
	SendReplay(ctx context.Context, data upload.SendData) (upload.Response, error)
}

// Config wires a Container.
type Config struct {
	Options  Options
	Recorder Recorder
	Store    session.Store
	Sender   Sender
	Logger   *slog.Logger
	Now      func() time.Time
	Rand     func() float64
}

// StopOptions control Stop.
type StopOptions struct {
	ForceFlush bool
	Reason     string
}

type flushCall struct {
	done chan struct{}
}

// Container is the replay state machine.
type Container struct {
	opts     Options
	recorder Recorder
	store    session.Store
	sender   Sender
	logger   *slog.Logger
	now      func() time.Time
	rand     func() float64

	debounced *debounce.Debouncer
	bg        sync.WaitGroup

	mu            sync.Mutex
	buf           buffer.EventBuffer
	sess          *session.Session
	mode          Mode
	enabled       bool
	paused        bool
	lastActivity  int64
	stopRecorder  func()
	hadFirstEvent bool
	ctx           eventContext
	flushing      *flushCall
}

// New returns an uninitialized Container.
func New(cfg Config) *Container {
	c := &Container{
		opts:     cfg.Options.normalized(),
		recorder: cfg.Recorder,
		store:    cfg.Store,
		sender:   cfg.Sender,
		logger:   cfg.Logger,
		now:      cfg.Now,
		rand:     cfg.Rand,
		mode:     ModeSession,
	}
	if c.logger == nil {
		c.logger = slog.Default()
	}
	if c.now == nil {
		c.now = time.Now
	}
	if c.rand == nil {
		c.rand = rand.Float64
	}
	if c.store == nil {
		c.store = &session.MemoryStore{}
	}
	c.lastActivity = c.nowMs()
	c.ctx.initialTimestamp = c.lastActivity
	c.debounced = debounce.New(func(ctx context.Context) { c.flush(ctx, false) }, c.opts.FlushMinDelay, c.opts.FlushMaxDelay)
	return c
}

func (c *Container) nowMs() int64 { return c.now().UnixMilli() }

// Init loads or creates the session and starts recording unless the session
// is unsampled. previousSessionID links a newly created session.
func (c *Container) Init(previousSessionID string) {
	s := session.LoadOrCreate(c.store, session.LoadOptions{
		Sticky:            c.opts.StickySession,
		SessionSampleRate: c.opts.SessionSampleRate,
		AllowBuffering:    !c.opts.DisableBuffering,
		Timeouts:          c.opts.timeouts(),
		PreviousSessionID: previousSessionID,
		Now:               c.now(),
		Rand:              c.rand,
		Logger:            c.logger,
	})

	c.mu.Lock()
	c.sess = s
	if s.Sampled == session.Unsampled {
		c.mu.Unlock()
		c.logger.Debug("session not sampled, recording disabled", "session_id", s.ID)
		return
	}
	if s.IsBuffering() {
		c.mode = ModeBuffer
	} else {
		c.mode = ModeSession
	}
	mode := c.mode
	c.mu.Unlock()

	c.logger.Info("starting replay", "session_id", s.ID, "mode", string(mode))
	c.initRecording()
}

// Start begins a session-mode recording regardless of sampling. It does
// nothing when already enabled.
func (c *Container) Start() {
	c.mu.Lock()
	if c.enabled {
		c.mu.Unlock()
		return
	}
	c.mode = ModeSession
	c.mu.Unlock()

	lo := session.LoadOptions{
		Sticky:            c.opts.StickySession,
		SessionSampleRate: 1,
		Timeouts:          c.opts.timeouts(),
		Now:               c.now(),
		Rand:              func() float64 { return 0 },
		Logger:            c.logger,
	}
	s := session.LoadOrCreate(c.store, lo)
	if s.Sampled == session.Unsampled {
		lo.PreviousSessionID = s.ID
		s = session.Create(c.store, lo)
	}
	c.mu.Lock()
	c.sess = s
	c.mu.Unlock()
	c.logger.Info("starting replay manually", "session_id", s.ID)
	c.initRecording()
}

func (c *Container) initRecording() {
	now := c.nowMs()
	buf := buffer.New(buffer.Options{
		UseCompression: c.opts.UseCompression,
		Codec:          c.opts.Codec,
		MaxSize:        c.opts.MaxBufferSize,
		Logger:         c.logger,
	})
	metrics.SetBufferType(string(buf.Type()))

	c.mu.Lock()
	c.setInitialStateLocked(now)
	if c.sess != nil {
		c.sess.LastActivity = now
		c.maybeSaveSessionLocked()
	}
	c.buf = buf
	c.enabled = true
	c.paused = false
	c.mu.Unlock()

	c.startRecording()
}

func (c *Container) startRecording() {
	c.mu.Lock()
	mode := c.mode
	c.hadFirstEvent = false
	c.mu.Unlock()

	opts := RecordOptions{
		MaskAllText:   c.opts.MaskAllText,
		MaskAllInputs: c.opts.MaskAllInputs,
		BlockAllMedia: c.opts.BlockAllMedia,
		Emit:          c.handleRecordingEmit,
		OnMutation:    c.onMutation,
	}
	if mode == ModeBuffer {
		opts.CheckoutEvery = BufferCheckoutTime
	}

	stop, err := c.recorder.Start(opts)
	if err != nil {
		c.logger.Error("failed to start recording", "error", err)
		return
	}
	c.mu.Lock()
	c.stopRecorder = stop
	c.mu.Unlock()
}

// StopRecording stops the recorder but keeps the session and buffer. It
// reports false if the recorder's stop function panicked.
func (c *Container) StopRecording() (ok bool) {
	c.mu.Lock()
	stop := c.stopRecorder
	c.stopRecorder = nil
	c.mu.Unlock()

	if stop == nil {
		return true
	}
	defer func() {
		if r := recover(); r != nil {
			c.logger.Error("stopping recorder failed", "panic", r)
			ok = false
		}
	}()
	stop()
	return true
}

// Stop disables the container, optionally flushing what is buffered first,
// and clears the session.
func (c *Container) Stop(ctx context.Context, opts StopOptions) {
	c.mu.Lock()
	if !c.enabled {
		c.mu.Unlock()
		return
	}
	c.enabled = false
	c.mu.Unlock()

	reason := opts.Reason
	if reason == "" {
		reason = "manual"
	}
	c.logger.Info("stopping replay", "reason", reason)
	metrics.IncStop(reason)

	c.StopRecording()
	c.debounced.Cancel()
	if opts.ForceFlush {
		c.flush(ctx, true)
	}

	c.mu.Lock()
	buf := c.buf
	c.buf = nil
	c.sess = nil
	c.mu.Unlock()

	if buf != nil {
		buf.Destroy()
	}
	if err := session.Clear(c.store); err != nil {
		c.logger.Warn("could not clear session", "error", err)
	}
}

// Pause stops listening but keeps the session alive.
func (c *Container) Pause() {
	c.mu.Lock()
	if c.paused {
		c.mu.Unlock()
		return
	}
	c.paused = true
	c.mu.Unlock()

	c.StopRecording()
	c.logger.Info("pausing replay")
}

// Resume restarts a paused recording if the session is still valid.
func (c *Container) Resume() {
	c.mu.Lock()
	paused := c.paused
	c.mu.Unlock()
	if !paused || !c.CheckAndHandleExpiredSession() {
		return
	}

	c.mu.Lock()
	c.paused = false
	c.mu.Unlock()
	c.logger.Info("resuming replay")
	c.startRecording()
}

// RecordActivity marks user activity now and resumes a paused recording.
func (c *Container) RecordActivity() {
	now := c.nowMs()
	c.mu.Lock()
	c.lastActivity = now
	if c.sess != nil {
		c.sess.LastActivity = now
		c.maybeSaveSessionLocked()
	}
	paused := c.paused && c.enabled
	c.mu.Unlock()

	if paused {
		c.Resume()
	}
}

// CheckAndHandleExpiredSession pauses an idle session or refreshes an expired
// one. It reports whether the current session is still valid for recording.
func (c *Container) CheckAndHandleExpiredSession() bool {
	now := c.nowMs()

	c.mu.Lock()
	if c.lastActivity != 0 && session.IsExpired(c.lastActivity, c.opts.SessionIdlePause, now) &&
		c.sess != nil && c.sess.Sampled == session.SampledSession {
		c.mu.Unlock()
		c.Pause()
		return false
	}
	s := c.sess
	if s == nil {
		c.mu.Unlock()
		return false
	}
	if session.ShouldRefresh(s, c.opts.timeouts(), now) {
		id := s.ID
		c.mu.Unlock()
		c.refreshSession(id)
		return false
	}
	c.mu.Unlock()
	return true
}

func (c *Container) refreshSession(previousID string) {
	c.mu.Lock()
	enabled := c.enabled
	c.mu.Unlock()
	if !enabled {
		return
	}
	c.Stop(context.Background(), StopOptions{Reason: "refreshSession"})
	c.Init(previousID)
}

// HandleError records errorID on the current segment and sends buffered data,
// switching a buffering recording to session mode.
func (c *Container) HandleError(errorID string) {
	c.mu.Lock()
	if !c.enabled {
		c.mu.Unlock()
		return
	}
	if errorID != "" {
		c.ctx.errorIDs = addUnique(c.ctx.errorIDs, errorID)
	}
	c.mu.Unlock()

	c.bg.Add(1)
	go func() {
		defer c.bg.Done()
		c.SendBufferedReplayOrFlush(context.Background(), true)
	}()
}

// AddTraceID records a trace id on the current segment.
func (c *Container) AddTraceID(id string) {
	c.mu.Lock()
	c.ctx.traceIDs = addUnique(c.ctx.traceIDs, id)
	c.mu.Unlock()
}

// AddURL records a visited URL on the current segment.
func (c *Container) AddURL(url string) {
	c.mu.Lock()
	c.ctx.urls = append(c.ctx.urls, url)
	c.mu.Unlock()
}

// Wait blocks until background stops and error handling have finished.
func (c *Container) Wait() { c.bg.Wait() }

// IsEnabled reports whether a recording is active, paused or not.
func (c *Container) IsEnabled() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.enabled
}

// IsPaused reports whether the recorder is stopped for inactivity.
func (c *Container) IsPaused() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.paused
}

// RecordingMode returns the current mode, session or buffer.
func (c *Container) RecordingMode() Mode {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.mode
}

// Session returns a copy of the current session, or nil.
func (c *Container) Session() *session.Session {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.sess == nil {
		return nil
	}
	s := *c.sess
	return &s
}

// SessionID returns the current session id, empty when there is none.
func (c *Container) SessionID() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.sess == nil {
		return ""
	}
	return c.sess.ID
}

// BufferType reports the active buffer implementation, empty when stopped.
func (c *Container) BufferType() buffer.Type {
	c.mu.Lock()
	buf := c.buf
	c.mu.Unlock()
	if buf == nil {
		return ""
	}
	return buf.Type()
}

func (c *Container) setInitialStateLocked(now int64) {
	c.ctx.clear()
	c.ctx.initialURL = c.opts.InitialURL
	c.ctx.initialTimestamp = now
	if c.opts.InitialURL != "" {
		c.ctx.urls = append(c.ctx.urls, c.opts.InitialURL)
	}
}

func (c *Container) maybeSaveSessionLocked() {
	if c.sess != nil && c.opts.StickySession {
		session.Persist(c.store, c.sess, c.logger)
	}
}
