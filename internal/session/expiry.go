package session

import "time"

// Defaults for session windows.
const (
	// SessionIdlePause pauses recording after this much inactivity.
	SessionIdlePause = 5 * time.Minute
	// SessionIdleExpire ends the session after this much inactivity.
	SessionIdleExpire = 15 * time.Minute
	// MaxReplayDuration is the longest a single session may run.
	MaxReplayDuration = 60 * time.Minute
)

// Timeouts are the windows used to evaluate expiry.
type Timeouts struct {
	MaxReplayDuration time.Duration
	SessionIdleExpire time.Duration
}

// DefaultTimeouts returns the default expiry windows.
func DefaultTimeouts() Timeouts {
	return Timeouts{MaxReplayDuration: MaxReplayDuration, SessionIdleExpire: SessionIdleExpire}
}

// IsExpired reports whether anchor+window has been reached at now. A negative
// window is always expired and a zero window never expires.
func IsExpired(anchor int64, window time.Duration, now int64) bool {
	if window < 0 {
		return true
	}
	if window == 0 {
		return false
	}
	return anchor+window.Milliseconds() <= now
}

// IsSessionExpired reports whether either the total duration or the idle
// window has run out.
func IsSessionExpired(s *Session, t Timeouts, now int64) bool {
	return IsExpired(s.Started, t.MaxReplayDuration, now) ||
		IsExpired(s.LastActivity, t.SessionIdleExpire, now)
}

// ShouldRefresh reports whether s should be replaced by a new session.
// A buffering session that has not uploaded anything is never refreshed.
func ShouldRefresh(s *Session, t Timeouts, now int64) bool {
	if !IsSessionExpired(s, t, now) {
		return false
	}
	if s.IsBuffering() {
		return false
	}
	return true
}

// SampleType draws the sampling decision. rnd returns values in [0, 1).
func SampleType(sessionSampleRate float64, allowBuffering bool, rnd func() float64) Sampled {
	if sessionSampleRate > 0 && rnd() < sessionSampleRate {
		return SampledSession
	}
	if allowBuffering {
		return SampledBuffer
	}
	return Unsampled
}
