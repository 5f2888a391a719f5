// Package session models a replay session and the rules that decide when it
// expires, refreshes or is persisted.
package session

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/google/uuid"
)

// Sampled is the sampling decision for a session. The zero value means the
// session is not sampled and never records.
type Sampled string

const (
	Unsampled      Sampled = ""
	SampledSession Sampled = "session"
	SampledBuffer  Sampled = "buffer"
)

// MarshalJSON encodes Unsampled as false.
func (s Sampled) MarshalJSON() ([]byte, error) {
	if s == Unsampled {
		return []byte("false"), nil
	}
	return json.Marshal(string(s))
}

func (s *Sampled) UnmarshalJSON(data []byte) error {
	if string(data) == "false" || string(data) == "null" {
		*s = Unsampled
		return nil
	}
	var v string
	if err := json.Unmarshal(data, &v); err != nil {
		return fmt.Errorf("invalid sampled value %s: %w", data, err)
	}
	switch Sampled(v) {
	case SampledSession, SampledBuffer:
		*s = Sampled(v)
		return nil
	}
	return fmt.Errorf("invalid sampled value %q", v)
}

// Session is the persisted replay session record. Times are epoch milliseconds.
type Session struct {
	ID                string  `json:"id"`
	Started           int64   `json:"started"`
	LastActivity      int64   `json:"lastActivity"`
	SegmentID         int     `json:"segmentId"`
	Sampled           Sampled `json:"sampled"`
	PreviousSessionID string  `json:"previousSessionId,omitempty"`
}

// IsBuffering reports whether the session is buffered and nothing has been
// uploaded yet.
func (s *Session) IsBuffering() bool {
	return s.Sampled == SampledBuffer && s.SegmentID == 0
}

// NewID returns a random session id: a v4 uuid without dashes.
func NewID() string {
	return strings.ReplaceAll(uuid.NewString(), "-", "")
}

// MakeSession fills zero fields of partial with defaults. Applying it to a
// complete session returns an equal session.
func MakeSession(partial Session, sampled Sampled, now int64) Session {
	s := partial
	if s.ID == "" {
		s.ID = NewID()
	}
	if s.Started == 0 {
		s.Started = now
	}
	if s.LastActivity == 0 {
		s.LastActivity = now
	}
	s.Sampled = sampled
	return s
}
