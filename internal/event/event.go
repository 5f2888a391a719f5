// Package event defines the recording event record shared by the recording
// source, the event buffers and the upload pipeline.
package event

import "encoding/json"

// Type is the rrweb event type discriminator.
type Type int

const (
	TypeDomContentLoaded    Type = 0
	TypeLoad                Type = 1
	TypeFullSnapshot        Type = 2
	TypeIncrementalSnapshot Type = 3
	TypeMeta                Type = 4
	TypeCustom              Type = 5
	TypePlugin              Type = 6
)

var typeNames = [...]string{"dom_content_loaded", "load", "full_snapshot", "incremental_snapshot", "meta", "custom", "plugin"}

func (t Type) String() string {
	if t >= 0 && int(t) < len(typeNames) {
		return typeNames[t]
	}
	return "unknown"
}

// incremental snapshot source for DOM mutations
const sourceMutation = 0

// Event is one timestamped recording event. Data is kept opaque.
type Event struct {
	Type      Type            `json:"type"`
	Timestamp int64           `json:"timestamp"`
	Data      json.RawMessage `json:"data,omitempty"`
}

// IsFullSnapshot reports whether the event carries a full DOM snapshot.
func (e Event) IsFullSnapshot() bool {
	return e.Type == TypeFullSnapshot
}

// TimestampMs returns the event timestamp normalised to milliseconds.
func (e Event) TimestampMs() int64 {
	return TimestampToMs(e.Timestamp)
}

// TimestampToMs converts a timestamp in seconds or milliseconds to milliseconds.
// Values above 9999999999 are already in milliseconds.
func TimestampToMs(ts int64) int64 {
	if ts > 9_999_999_999 {
		return ts
	}
	return ts * 1000
}

// Size returns the serialized length of the event in bytes.
func Size(e Event) (int, error) {
	b, err := json.Marshal(e)
	if err != nil {
		return 0, err
	}
	return len(b), nil
}

type mutationData struct {
	Source     *int              `json:"source"`
	Adds       []json.RawMessage `json:"adds"`
	Removes    []json.RawMessage `json:"removes"`
	Texts      []json.RawMessage `json:"texts"`
	Attributes []json.RawMessage `json:"attributes"`
}

// MutationCount returns the number of DOM changes carried by an incremental
// mutation event, or 0 for any other event.
func MutationCount(e Event) int {
	if e.Type != TypeIncrementalSnapshot || len(e.Data) == 0 {
		return 0
	}
	var m mutationData
	if err := json.Unmarshal(e.Data, &m); err != nil {
		return 0
	}
	if m.Source == nil || *m.Source != sourceMutation {
		return 0
	}
	return len(m.Adds) + len(m.Removes) + len(m.Texts) + len(m.Attributes)
}

// IsInteraction reports whether e is an incremental snapshot caused by the
// user (pointer, scroll, input and similar) rather than a DOM mutation.
func IsInteraction(e Event) bool {
	if e.Type != TypeIncrementalSnapshot || len(e.Data) == 0 {
		return false
	}
	var m struct {
		Source *int `json:"source"`
	}
	if err := json.Unmarshal(e.Data, &m); err != nil || m.Source == nil {
		return false
	}
	return *m.Source != sourceMutation
}

type customData struct {
	Tag     string `json:"tag"`
	Payload any    `json:"payload"`
}

// CustomTag returns the tag of a custom event.
func CustomTag(e Event) (string, bool) {
	if e.Type != TypeCustom || len(e.Data) == 0 {
		return "", false
	}
	var c customData
	if err := json.Unmarshal(e.Data, &c); err != nil || c.Tag == "" {
		return "", false
	}
	return c.Tag, true
}

// NewCustom builds a custom event with the given tag and payload.
func NewCustom(tag string, payload any, timestamp int64) (Event, error) {
	data, err := json.Marshal(customData{Tag: tag, Payload: payload})
	if err != nil {
		return Event{}, err
	}
	return Event{Type: TypeCustom, Timestamp: timestamp, Data: data}, nil
}
