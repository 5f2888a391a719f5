package archive

import (
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/fakeyudi/replay/internal/buffer"
	"github.com/fakeyudi/replay/internal/event"
	"github.com/fakeyudi/replay/internal/upload"
	"github.com/fakeyudi/replay/internal/worker"
)

// ErrMalformed is returned when a segment payload cannot be decoded.
var ErrMalformed = errors.New("malformed replay segment")

// Segment is one stored upload. Events holds the decompressed event array.
type Segment struct {
	ReplayID    string          `json:"replay_id"`
	SegmentID   int             `json:"segment_id"`
	ReplayType  string          `json:"replay_type"`
	StartedAt   int64           `json:"started_at"`
	Timestamp   int64           `json:"timestamp"`
	URLs        []string        `json:"urls"`
	ErrorIDs    []string        `json:"error_ids"`
	TraceIDs    []string        `json:"trace_ids"`
	EventCount  int             `json:"event_count"`
	Size        int             `json:"size"`
	Compression string          `json:"compression,omitempty"`
	Events      json.RawMessage `json:"events,omitempty"`
	ReceivedAt  time.Time       `json:"received_at"`
}

// DecodeEvents parses the stored event array.
func (s Segment) DecodeEvents() ([]event.Event, error) {
	var events []event.Event
	if len(s.Events) == 0 {
		return events, nil
	}
	if err := json.Unmarshal(s.Events, &events); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	return events, nil
}

// FromReplayEvent builds a Segment from upload metadata and its payload,
// decompressing the payload when a codec is named.
func FromReplayEvent(ev upload.ReplayEvent, payload buffer.Payload, receivedAt time.Time) (Segment, error) {
	if ev.ReplayID == "" {
		return Segment{}, fmt.Errorf("%w: missing replay id", ErrMalformed)
	}
	data := payload.Data
	if payload.Compression != "" {
		raw, err := worker.Decompress(payload.Compression, payload.Data)
		if err != nil {
			return Segment{}, fmt.Errorf("%w: %v", ErrMalformed, err)
		}
		data = raw
	}
	var events []json.RawMessage
	if err := json.Unmarshal(data, &events); err != nil {
		return Segment{}, fmt.Errorf("%w: %v", ErrMalformed, err)
	}

	return Segment{
		ReplayID:    ev.ReplayID,
		SegmentID:   ev.SegmentID,
		ReplayType:  ev.ReplayType,
		StartedAt:   secondsToMs(ev.ReplayStartTimestamp),
		Timestamp:   secondsToMs(ev.Timestamp),
		URLs:        ev.URLs,
		ErrorIDs:    ev.ErrorIDs,
		TraceIDs:    ev.TraceIDs,
		EventCount:  len(events),
		Size:        len(payload.Data),
		Compression: payload.Compression,
		Events:      json.RawMessage(data),
		ReceivedAt:  receivedAt.UTC(),
	}, nil
}

// FromSendData builds a Segment from a segment about to be uploaded.
func FromSendData(d upload.SendData, receivedAt time.Time) (Segment, error) {
	if d.Session == nil {
		return Segment{}, fmt.Errorf("%w: missing session", ErrMalformed)
	}
	return FromReplayEvent(upload.NewReplayEvent(d), d.RecordingData, receivedAt)
}

func secondsToMs(s float64) int64 {
	return int64(math.Round(s * 1000))
}
