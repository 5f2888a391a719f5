// Package report turns archived replay segments into a readable report.
package report

import (
	"errors"
	"fmt"
	"time"

	"github.com/fakeyudi/replay/internal/archive"
	"github.com/fakeyudi/replay/internal/event"
)

// ErrNoSegments is returned by Build when there is nothing to report on.
var ErrNoSegments = errors.New("replay has no segments")

// Report is the complete, renderable representation of one replay.
type Report struct {
	Replay   ReplayMeta      `json:"replay"`
	Segments []SegmentInfo   `json:"segments"`
	Timeline []TimelineEntry `json:"timeline"`
	URLs     []string        `json:"urls"`
	ErrorIDs []string        `json:"error_ids"`
	TraceIDs []string        `json:"trace_ids"`
}

// ReplayMeta holds summary metadata about the replay.
type ReplayMeta struct {
	ID         string    `json:"id"`
	ReplayType string    `json:"replay_type"`
	StartedAt  time.Time `json:"started_at"`
	EndedAt    time.Time `json:"ended_at"`
	Duration   string    `json:"duration"` // human-readable, e.g. "2m15s"
	Segments   int       `json:"segments"`
	Events     int64     `json:"events"`
	Bytes      int64     `json:"bytes"`
}

// SegmentInfo describes one uploaded segment.
type SegmentInfo struct {
	ID          int       `json:"id"`
	Timestamp   time.Time `json:"timestamp"`
	Events      int       `json:"events"`
	Bytes       int       `json:"bytes"`
	Compression string    `json:"compression,omitempty"`
	ErrorIDs    []string  `json:"error_ids,omitempty"`
}

// TimelineEntry is one notable event of the replay.
type TimelineEntry struct {
	Timestamp time.Time `json:"timestamp"`
	Segment   int       `json:"segment"`
	Kind      string    `json:"kind"`
	Detail    string    `json:"detail,omitempty"`
}

// Build assembles a Report from the segments of one replay. Incremental
// events other than DOM mutations are counted but left off the timeline.
func Build(segs []archive.Segment) (*Report, error) {
	if len(segs) == 0 {
		return nil, ErrNoSegments
	}
	sum := archive.Summarize(segs)
	start, end := msTime(sum.StartedAt), msTime(sum.LastAt)

	r := &Report{
		Replay: ReplayMeta{
			ID:         sum.ID,
			ReplayType: sum.ReplayType,
			StartedAt:  start,
			EndedAt:    end,
			Duration:   sum.Duration().Round(time.Second).String(),
			Segments:   sum.Segments,
			Events:     sum.Events,
			Bytes:      sum.Bytes,
		},
		Segments: []SegmentInfo{},
		Timeline: []TimelineEntry{},
		URLs:     []string{},
		ErrorIDs: []string{},
		TraceIDs: []string{},
	}

	for _, s := range segs {
		r.Segments = append(r.Segments, SegmentInfo{
			ID:          s.SegmentID,
			Timestamp:   msTime(s.Timestamp),
			Events:      s.EventCount,
			Bytes:       s.Size,
			Compression: s.Compression,
			ErrorIDs:    s.ErrorIDs,
		})
		r.URLs = appendUnique(r.URLs, s.URLs...)
		r.ErrorIDs = appendUnique(r.ErrorIDs, s.ErrorIDs...)
		r.TraceIDs = appendUnique(r.TraceIDs, s.TraceIDs...)

		events, err := s.DecodeEvents()
		if err != nil {
			return nil, fmt.Errorf("segment %d: %w", s.SegmentID, err)
		}
		for _, ev := range events {
			if entry, ok := timelineEntry(s.SegmentID, ev); ok {
				r.Timeline = append(r.Timeline, entry)
			}
		}
	}
	return r, nil
}

func timelineEntry(segment int, ev event.Event) (TimelineEntry, bool) {
	entry := TimelineEntry{Timestamp: msTime(ev.TimestampMs()), Segment: segment, Kind: ev.Type.String()}
	switch ev.Type {
	case event.TypeFullSnapshot:
		entry.Kind = "checkout"
	case event.TypeIncrementalSnapshot:
		n := event.MutationCount(ev)
		if n == 0 {
			return entry, false
		}
		entry.Kind = "mutation"
		entry.Detail = fmt.Sprintf("%d changes", n)
	case event.TypeCustom:
		if tag, ok := event.CustomTag(ev); ok {
			entry.Detail = tag
		}
	}
	return entry, true
}

func msTime(ms int64) time.Time {
	return time.UnixMilli(ms).UTC()
}

func appendUnique(set []string, vs ...string) []string {
	for _, v := range vs {
		seen := false
		for _, s := range set {
			if s == v {
				seen = true
				break
			}
		}
		if !seen {
			set = append(set, v)
		}
	}
	return set
}
