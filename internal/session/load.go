package session

import (
	"errors"
	"log/slog"
	"math/rand"
	"time"
)

// LoadOptions control LoadOrCreate.
type LoadOptions struct {
	Sticky            bool
	SessionSampleRate float64
	AllowBuffering    bool
	Timeouts          Timeouts
	// PreviousSessionID links a new session when nothing was loaded.
	PreviousSessionID string
	Now               time.Time
	Rand              func() float64
	Logger            *slog.Logger
}

func (o *LoadOptions) defaults() {
	if o.Now.IsZero() {
		o.Now = time.Now()
	}
	if o.Rand == nil {
		o.Rand = rand.Float64
	}
	if o.Logger == nil {
		o.Logger = slog.Default()
	}
}

// LoadOrCreate returns the persisted session when sticky sessions are enabled
// and it is still valid; otherwise it creates a new one. A replaced session is
// linked through PreviousSessionID. Store failures are logged, never returned.
func LoadOrCreate(store Store, opts LoadOptions) *Session {
	opts.defaults()
	now := opts.Now.UnixMilli()

	var existing *Session
	if opts.Sticky && store != nil {
		s, err := store.Load()
		switch {
		case err == nil:
			existing = s
		case !errors.Is(err, ErrNoSession):
			opts.Logger.Warn("could not load persisted session", "error", err)
		}
	}

	if existing == nil {
		return create(store, opts, opts.PreviousSessionID, now)
	}
	if !ShouldRefresh(existing, opts.Timeouts, now) {
		opts.Logger.Debug("reusing existing session", "session_id", existing.ID)
		return existing
	}
	opts.Logger.Debug("session expired, creating new session", "previous_session_id", existing.ID)
	return create(store, opts, existing.ID, now)
}

// Create starts a fresh session with a new sampling decision.
func Create(store Store, opts LoadOptions) *Session {
	opts.defaults()
	return create(store, opts, opts.PreviousSessionID, opts.Now.UnixMilli())
}

func create(store Store, opts LoadOptions, previousID string, now int64) *Session {
	sampled := SampleType(opts.SessionSampleRate, opts.AllowBuffering, opts.Rand)
	s := MakeSession(Session{PreviousSessionID: previousID}, sampled, now)
	if opts.Sticky {
		Persist(store, &s, opts.Logger)
	}
	opts.Logger.Debug("created new session", "session_id", s.ID, "sampled", string(s.Sampled))
	return &s
}

// Persist saves s, logging rather than returning failures.
func Persist(store Store, s *Session, logger *slog.Logger) {
	if store == nil {
		return
	}
	if err := store.Save(s); err != nil {
		if logger == nil {
			logger = slog.Default()
		}
		logger.Warn("could not persist session", "session_id", s.ID, "error", err)
	}
}

// Clear deletes the persisted session.
func Clear(store Store) error {
	if store == nil {
		return nil
	}
	return store.Delete()
}
