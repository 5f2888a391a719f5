package cmd

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/fakeyudi/replay/internal/archive"
	"github.com/fakeyudi/replay/internal/config"
	"github.com/fakeyudi/replay/internal/event"
	"github.com/fakeyudi/replay/internal/replay"
	"github.com/fakeyudi/replay/internal/session"
	"github.com/fakeyudi/replay/internal/source"
	"github.com/fakeyudi/replay/internal/upload"
)

// Custom event tags the record command reacts to.
const (
	tagError = "error"
	tagURL   = "url"
	tagTrace = "trace"
)

// drainTimeout bounds the final flush when recording ends.
const drainTimeout = 10 * time.Second

var (
	recordSource     string
	recordEndpoint   string
	recordSampleRate float64
	recordManual     bool
	recordArchive    string
	recordPrevious   string
)

// registry guards against two recordings in one process.
var registry = replay.NewRegistry()

var recordCmd = &cobra.Command{
	Use:   "record",
	Short: "Record events from a JSON lines file or stdin and upload them as segments",
	Long: `Record reads recording events, one JSON object per line, from --source
(a file that is followed as it grows, or "-" for stdin) and uploads them to
the collector in segments.

Custom events tagged "error", "url" or "trace" are attached to the current
segment; an error also sends a buffered recording.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		c := GetConfig()
		if cmd.Flags().Changed("endpoint") {
			c.Endpoint = recordEndpoint
		}
		if cmd.Flags().Changed("sample-rate") {
			rate := recordSampleRate
			c.SessionSampleRate = &rate
		}
		if cmd.Flags().Changed("archive") {
			c.ArchiveDSN = recordArchive
		}

		release, err := registry.Acquire("record")
		if err != nil {
			return err
		}
		defer release()

		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer stop()
		return runRecord(ctx, c, cmd.InOrStdin(), cmd.OutOrStdout())
	},
}

// recorderOptions maps the configuration onto container options.
func recorderOptions(c config.Config) replay.Options {
	opts := replay.DefaultOptions()
	opts.URL = c.Endpoint
	if c.SessionSampleRate != nil {
		opts.SessionSampleRate = *c.SessionSampleRate
	}
	opts.DisableBuffering = c.DisableBuffering
	if c.StickySession != nil {
		opts.StickySession = *c.StickySession
	}
	switch c.Compression {
	case "none":
		opts.UseCompression = false
	case "":
	default:
		opts.Codec = c.Compression
	}
	if c.FlushMinDelay > 0 {
		opts.FlushMinDelay = c.FlushMinDelay
	}
	if c.FlushMaxDelay > 0 {
		opts.FlushMaxDelay = c.FlushMaxDelay
	}
	if c.MinReplayDuration > 0 {
		opts.MinReplayDuration = c.MinReplayDuration
	}
	if c.MaxReplayDuration > 0 {
		opts.MaxReplayDuration = c.MaxReplayDuration
	}
	if c.MutationLimit != 0 {
		opts.MutationLimit = c.MutationLimit
	}
	return opts
}

func runRecord(ctx context.Context, c config.Config, stdin io.Reader, out io.Writer) error {
	if recordSource != "-" {
		if _, err := os.Stat(recordSource); err != nil {
			return fmt.Errorf("recording source: %w", err)
		}
	}
	store, err := session.NewSessionStore()
	if err != nil {
		return err
	}

	transport := upload.NewHTTPTransport(c.Endpoint, upload.TransportOptions{
		Headers: c.Headers,
		Logger:  log,
	})
	opts := recorderOptions(c)

	if c.ArchiveDSN != "" {
		arch, err := archive.Open(c.ArchiveDSN)
		if err != nil {
			return fmt.Errorf("opening archive: %w", err)
		}
		defer arch.Close()
		opts.OnData = func(d upload.SendData) {
			seg, err := archive.FromSendData(d, time.Now())
			if err == nil {
				err = arch.Store(context.Background(), seg)
			}
			if err != nil {
				log.Warn("local archive copy failed", "segment_id", d.SegmentID, "error", err)
			}
		}
	}

	var (
		mem  *source.MemorySource
		file *source.FileSource
		rec  replay.Recorder
	)
	if recordSource == "-" {
		mem = source.NewMemorySource()
		rec = mem
	} else {
		file = &source.FileSource{Path: recordSource, Logger: log}
		rec = file
	}

	hooked := &tagHook{next: rec}
	container := replay.New(replay.Config{
		Options:  opts,
		Recorder: hooked,
		Store:    store,
		Sender:   upload.NewClient(transport, log),
		Logger:   log,
	})
	hooked.container = container

	if recordManual {
		container.Start()
	} else {
		container.Init(recordPrevious)
	}
	switch sid := container.SessionID(); {
	case container.IsEnabled():
		fmt.Fprintf(out, "Recording session %s (%s mode).\n", sid, container.RecordingMode())
	case sid != "":
		fmt.Fprintf(out, "Session %s is not sampled, nothing will be recorded.\n", sid)
	}

	if mem != nil {
		if err := pumpEvents(ctx, stdin, mem, container.RecordActivity); err != nil {
			log.Warn("reading events failed", "error", err)
		}
	} else {
		resumeOnInput(ctx, container, file, source.DefaultPollInterval)
	}

	// Keep the session so the next run continues it; `replay stop` ends it.
	drainCtx, cancel := context.WithTimeout(context.Background(), drainTimeout)
	defer cancel()
	container.StopRecording()
	if container.IsEnabled() && container.RecordingMode() == replay.ModeSession {
		container.FlushImmediate(drainCtx)
	}
	container.Wait()
	if !transport.Flush(drainTimeout) {
		log.Warn("uploads still in flight at exit")
	}
	fmt.Fprintln(out, "Recording stopped.")
	return nil
}

// resumeOnInput resumes a paused recording once the file has grown, until
// ctx is done.
func resumeOnInput(ctx context.Context, c *replay.Container, f *source.FileSource, every time.Duration) {
	t := time.NewTicker(every)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			if c.IsEnabled() && c.IsPaused() && f.Pending() {
				c.RecordActivity()
			}
		}
	}
}

// pumpEvents feeds stdin lines into src until EOF or ctx is done. An
// interaction arriving while the recording is paused counts as activity.
func pumpEvents(ctx context.Context, r io.Reader, src *source.MemorySource, activity func()) error {
	lines := make(chan []byte)
	errc := make(chan error, 1)
	go func() {
		sc := bufio.NewScanner(r)
		sc.Buffer(make([]byte, 0, 64*1024), 16<<20)
		for sc.Scan() {
			line := append([]byte(nil), sc.Bytes()...)
			select {
			case lines <- line:
			case <-ctx.Done():
				return
			}
		}
		errc <- sc.Err()
		close(lines)
	}()

	for {
		select {
		case <-ctx.Done():
			return nil
		case line, ok := <-lines:
			if !ok {
				return <-errc
			}
			if len(line) == 0 {
				continue
			}
			var ev event.Event
			if err := json.Unmarshal(line, &ev); err != nil {
				log.Debug("skipping malformed event line", "error", err)
				continue
			}
			if !src.Push(ev) && !src.Running() && event.IsInteraction(ev) {
				activity()
				src.Push(ev)
			}
		}
	}
}

// tagHook wraps a Recorder and reports interactions and tagged custom events
// to the container once they were emitted.
type tagHook struct {
	next      replay.Recorder
	container *replay.Container
}

func (h *tagHook) Start(opts replay.RecordOptions) (func(), error) {
	emit := opts.Emit
	opts.Emit = func(ev event.Event, isCheckout bool) {
		emit(ev, isCheckout)
		h.observe(ev)
	}
	return h.next.Start(opts)
}

type tagPayload struct {
	ID      string `json:"id"`
	Href    string `json:"href"`
	TraceID string `json:"trace_id"`
}

func (h *tagHook) observe(ev event.Event) {
	c := h.container
	if event.IsInteraction(ev) {
		c.RecordActivity()
		return
	}
	tag, ok := event.CustomTag(ev)
	if !ok {
		return
	}
	var d struct {
		Payload tagPayload `json:"payload"`
	}
	if err := json.Unmarshal(ev.Data, &d); err != nil {
		log.Debug("ignoring custom event payload", "tag", tag, "error", err)
	}
	switch tag {
	case tagError:
		c.HandleError(d.Payload.ID)
	case tagURL:
		if d.Payload.Href != "" {
			c.AddURL(d.Payload.Href)
		}
	case tagTrace:
		if d.Payload.TraceID != "" {
			c.AddTraceID(d.Payload.TraceID)
		}
	}
}

var errNoSource = errors.New("--source is required")

func init() {
	recordCmd.Flags().StringVarP(&recordSource, "source", "s", "-", `JSON lines file to follow, or "-" for stdin`)
	recordCmd.Flags().StringVar(&recordEndpoint, "endpoint", "", "collector upload URL (overrides config)")
	recordCmd.Flags().Float64Var(&recordSampleRate, "sample-rate", 1, "probability of recording in session mode; misses buffer unless disabled")
	recordCmd.Flags().BoolVar(&recordManual, "manual", false, "start in session mode regardless of sampling")
	recordCmd.Flags().StringVar(&recordArchive, "archive", "", "also store every segment in this archive DSN")
	recordCmd.Flags().StringVar(&recordPrevious, "previous-session", "", "link a new session to this previous session id")
	recordCmd.PreRunE = func(cmd *cobra.Command, args []string) error {
		if recordSource == "" {
			return errNoSource
		}
		return nil
	}
	rootCmd.AddCommand(recordCmd)
}
