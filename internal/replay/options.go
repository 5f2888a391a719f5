package replay

import (
	"strings"
	"time"

	"github.com/fakeyudi/replay/internal/session"
	"github.com/fakeyudi/replay/internal/upload"
)

const (
	// DefaultFlushMinDelay is the debounce wait before a segment is sent.
	DefaultFlushMinDelay = 5_000 * time.Millisecond
	// DefaultFlushMaxDelay caps how long a burst of events can delay a send.
	DefaultFlushMaxDelay = 5_500 * time.Millisecond

	// MinReplayDuration is the default shortest replay that is sent.
	MinReplayDuration = 4_999 * time.Millisecond
	// MinReplayDurationLimit caps the configured minimum.
	MinReplayDurationLimit = 15 * time.Second
	// MaxReplayDuration caps the configured maximum.
	MaxReplayDuration = session.MaxReplayDuration

	// BufferCheckoutTime is the full snapshot interval requested in buffer mode.
	BufferCheckoutTime = 60 * time.Second

	DefaultMutationLimit           = 10_000
	DefaultMutationBreadcrumbLimit = 750
	DefaultSlowClickTimeout        = 7 * time.Second

	// tooLongGrace is tolerated past MaxReplayDuration before a flush is skipped.
	tooLongGrace = 5 * time.Second
	// hardMaxGrace is tolerated past MaxReplayDuration before the replay is abandoned.
	hardMaxGrace = 30 * time.Second
)

var defaultNetworkHeaders = []string{"content-length", "content-type", "accept"}

// Options configure a Container.
type Options struct {
	FlushMinDelay     time.Duration
	FlushMaxDelay     time.Duration
	MinReplayDuration time.Duration
	MaxReplayDuration time.Duration
	SessionIdlePause  time.Duration
	SessionIdleExpire time.Duration

	SessionSampleRate float64
	// DisableBuffering marks sessions that miss the sample rate unsampled
	// instead of recording them in buffer mode.
	DisableBuffering bool
	StickySession    bool

	UseCompression bool
	// Codec is the compression codec used by the worker buffer.
	Codec         string
	MaxBufferSize int

	MaskAllText   bool
	MaskAllInputs bool
	BlockAllMedia bool

	// MutationLimit stops recording when a single batch exceeds it. Zero disables.
	MutationLimit           int
	MutationBreadcrumbLimit int
	SlowClickTimeout        time.Duration

	NetworkDetailAllowURLs []string
	NetworkDetailDenyURLs  []string
	NetworkCaptureBodies   bool
	NetworkRequestHeaders  []string
	NetworkResponseHeaders []string

	// URL is the upload endpoint, InitialURL the location being recorded.
	URL        string
	InitialURL string

	// OnData receives every finished segment before it is uploaded.
	OnData func(upload.SendData)
}

// DefaultOptions returns the recorder defaults.
func DefaultOptions() Options {
	return Options{
		FlushMinDelay:           DefaultFlushMinDelay,
		FlushMaxDelay:           DefaultFlushMaxDelay,
		MinReplayDuration:       MinReplayDuration,
		MaxReplayDuration:       MaxReplayDuration,
		SessionIdlePause:        session.SessionIdlePause,
		SessionIdleExpire:       session.SessionIdleExpire,
		SessionSampleRate:       1,
		StickySession:           true,
		UseCompression:          true,
		MaskAllText:             true,
		MaskAllInputs:           true,
		BlockAllMedia:           true,
		MutationLimit:           DefaultMutationLimit,
		MutationBreadcrumbLimit: DefaultMutationBreadcrumbLimit,
		SlowClickTimeout:        DefaultSlowClickTimeout,
		NetworkCaptureBodies:    true,
	}
}

// normalized fills unset windows and clamps durations to their ceilings.
func (o Options) normalized() Options {
	if o.FlushMinDelay <= 0 {
		o.FlushMinDelay = DefaultFlushMinDelay
	}
	if o.FlushMaxDelay <= 0 {
		o.FlushMaxDelay = DefaultFlushMaxDelay
	}
	if o.MinReplayDuration < 0 {
		o.MinReplayDuration = 0
	}
	o.MinReplayDuration = min(o.MinReplayDuration, MinReplayDurationLimit)
	if o.MaxReplayDuration <= 0 {
		o.MaxReplayDuration = MaxReplayDuration
	}
	o.MaxReplayDuration = min(o.MaxReplayDuration, MaxReplayDuration)
	if o.SessionIdlePause <= 0 {
		o.SessionIdlePause = session.SessionIdlePause
	}
	if o.SessionIdleExpire <= 0 {
		o.SessionIdleExpire = session.SessionIdleExpire
	}
	o.NetworkRequestHeaders = mergeNetworkHeaders(o.NetworkRequestHeaders)
	o.NetworkResponseHeaders = mergeNetworkHeaders(o.NetworkResponseHeaders)
	return o
}

func mergeNetworkHeaders(extra []string) []string {
	out := append([]string(nil), defaultNetworkHeaders...)
	for _, h := range extra {
		h = strings.ToLower(h)
		seen := false
		for _, d := range out {
			if d == h {
				seen = true
				break
			}
		}
		if !seen {
			out = append(out, h)
		}
	}
	return out
}

func (o Options) timeouts() session.Timeouts {
	return session.Timeouts{MaxReplayDuration: o.MaxReplayDuration, SessionIdleExpire: o.SessionIdleExpire}
}
