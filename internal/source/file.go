package source

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/fakeyudi/replay/internal/event"
	"github.com/fakeyudi/replay/internal/replay"
)

// DefaultPollInterval is how often a FileSource rereads the file when no
// filesystem notification arrived.
const DefaultPollInterval = time.Second

// FileSource follows a file of JSON lines, one recording event per line.
type FileSource struct {
	Path string
	// PollInterval backs up fsnotify on filesystems that drop notifications.
	PollInterval time.Duration
	Logger       *slog.Logger
	Now          func() time.Time

	mu     sync.Mutex
	offset int64 // end of the last consumed line
}

// Start implements replay.Recorder. The returned stop function does not wait
// for the follower to exit, so it is safe to call from inside Emit.
func (f *FileSource) Start(opts replay.RecordOptions) (func(), error) {
	file, err := os.Open(f.Path)
	if err != nil {
		return nil, fmt.Errorf("open recording source: %w", err)
	}
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		file.Close()
		return nil, err
	}
	if err := watcher.Add(f.Path); err != nil {
		watcher.Close()
		file.Close()
		return nil, fmt.Errorf("watch recording source: %w", err)
	}

	start := f.resumeOffset(file)
	if start > 0 {
		if _, err := file.Seek(start, io.SeekStart); err != nil {
			watcher.Close()
			file.Close()
			return nil, fmt.Errorf("seek recording source: %w", err)
		}
	}

	ctx, cancel := context.WithCancel(context.Background())
	fl := &follower{
		offset:  start,
		src:     f,
		opts:    opts,
		file:    file,
		reader:  bufio.NewReader(file),
		watcher: watcher,
		logger:  f.logger(),
		now:     f.Now,
	}
	if fl.now == nil {
		fl.now = time.Now
	}
	go fl.run(ctx)
	return cancel, nil
}

// resumeOffset is where a restarted recording continues. A file that shrank
// since the last recording is read from the start.
func (f *FileSource) resumeOffset(file *os.File) int64 {
	f.mu.Lock()
	defer f.mu.Unlock()
	if info, err := file.Stat(); err != nil || info.Size() < f.offset {
		f.offset = 0
	}
	return f.offset
}

func (f *FileSource) setOffset(off int64) {
	f.mu.Lock()
	f.offset = off
	f.mu.Unlock()
}

// Pending reports whether the file holds data past the last consumed line.
func (f *FileSource) Pending() bool {
	info, err := os.Stat(f.Path)
	if err != nil {
		return false
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	return info.Size() > f.offset
}

func (f *FileSource) logger() *slog.Logger {
	if f.Logger != nil {
		return f.Logger
	}
	return slog.Default()
}

type follower struct {
	src     *FileSource
	opts    replay.RecordOptions
	file    *os.File
	reader  *bufio.Reader
	watcher *fsnotify.Watcher
	logger  *slog.Logger
	now     func() time.Time

	offset   int64
	partial  []byte
	snapshot *event.Event
}

func (fl *follower) run(ctx context.Context) {
	defer fl.file.Close()
	defer fl.watcher.Close()

	poll := fl.src.PollInterval
	if poll <= 0 {
		poll = DefaultPollInterval
	}
	pollTicker := time.NewTicker(poll)
	defer pollTicker.Stop()

	var checkout <-chan time.Time
	if fl.opts.CheckoutEvery > 0 {
		t := time.NewTicker(fl.opts.CheckoutEvery)
		defer t.Stop()
		checkout = t.C
	}

	fl.drain(ctx)
	for {
		select {
		case <-ctx.Done():
			return

		case ev, ok := <-fl.watcher.Events:
			if !ok {
				return
			}
			if ev.Has(fsnotify.Write) || ev.Has(fsnotify.Create) {
				fl.drain(ctx)
			}

		case err, ok := <-fl.watcher.Errors:
			if !ok {
				return
			}
			fl.logger.Warn("recording source watcher error", "path", fl.src.Path, "error", err)

		case <-pollTicker.C:
			fl.drain(ctx)

		case <-checkout:
			fl.recheckout(ctx)
		}
	}
}

// drain emits every complete line appended since the last read.
func (fl *follower) drain(ctx context.Context) {
	if info, err := fl.file.Stat(); err == nil && info.Size() < fl.offset {
		fl.logger.Info("recording source truncated, rereading", "path", fl.src.Path)
		if _, err := fl.file.Seek(0, io.SeekStart); err != nil {
			fl.logger.Warn("could not rewind recording source", "error", err)
			return
		}
		fl.reader.Reset(fl.file)
		fl.offset = 0
		fl.partial = nil
		fl.src.setOffset(0)
	}

	for ctx.Err() == nil {
		chunk, err := fl.reader.ReadBytes('\n')
		fl.offset += int64(len(chunk))
		if err != nil {
			fl.partial = append(fl.partial, chunk...)
			if !errors.Is(err, io.EOF) {
				fl.logger.Warn("could not read recording source", "error", err)
			}
			return
		}
		line := chunk
		if len(fl.partial) > 0 {
			line = append(fl.partial, chunk...)
			fl.partial = nil
		}
		// Record the offset first: handling the line may restart the recording.
		fl.src.setOffset(fl.offset)
		fl.handleLine(bytes.TrimSpace(line))
	}
}

func (fl *follower) handleLine(line []byte) {
	if len(line) == 0 {
		return
	}
	var ev event.Event
	if err := json.Unmarshal(line, &ev); err != nil {
		fl.logger.Warn("skipping malformed recording event", "error", err)
		return
	}
	if ev.IsFullSnapshot() {
		snap := ev
		fl.snapshot = &snap
	}
	dispatch(fl.opts, ev, false)
}

// recheckout re-emits the last full snapshot as a fresh checkout.
func (fl *follower) recheckout(ctx context.Context) {
	if fl.snapshot == nil || ctx.Err() != nil {
		return
	}
	ev := *fl.snapshot
	ev.Timestamp = fl.now().UnixMilli()
	dispatch(fl.opts, ev, true)
}
