package replay

import (
	"time"

	"github.com/fakeyudi/replay/internal/event"
)

// RecordOptions are handed to a Recorder when recording starts.
type RecordOptions struct {
	MaskAllText   bool
	MaskAllInputs bool
	BlockAllMedia bool
	// CheckoutEvery asks for a full snapshot at this interval. Zero disables.
	CheckoutEvery time.Duration
	// Emit receives every event in order. isCheckout marks full snapshots.
	Emit func(ev event.Event, isCheckout bool)
	// OnMutation is called with the mutation count of a batch before it is
	// emitted. Returning false drops the batch.
	OnMutation func(count int) bool
}

// Recorder produces recording events.
type Recorder interface {
	// Start begins recording. The returned stop function must not wait for an
	// Emit call in progress, since Emit itself may stop the recording.
	Start(opts RecordOptions) (stop func(), err error)
}

// RecorderFunc adapts a function to Recorder.
type RecorderFunc func(opts RecordOptions) (func(), error)

func (f RecorderFunc) Start(opts RecordOptions) (func(), error) { return f(opts) }
