package upload

// ReplayEventType is the type of every replay metadata event.
const ReplayEventType = "replay_event"

// ReplayEvent is the segment metadata sent alongside the recording payload.
// Timestamps are epoch seconds.
type ReplayEvent struct {
	Type                 string   `json:"type"`
	ReplayID             string   `json:"replay_id"`
	SegmentID            int      `json:"segment_id"`
	ReplayType           string   `json:"replay_type"`
	ReplayStartTimestamp float64  `json:"replay_start_timestamp"`
	Timestamp            float64  `json:"timestamp"`
	URLs                 []string `json:"urls"`
	ErrorIDs             []string `json:"error_ids"`
	TraceIDs             []string `json:"trace_ids"`
}

// SegmentHeader is the first line of an upload body.
type SegmentHeader struct {
	SegmentID int `json:"segment_id"`
}
