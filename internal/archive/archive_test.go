package archive

import (
	"bytes"
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"pgregory.net/rapid"

	"github.com/fakeyudi/replay/internal/buffer"
	"github.com/fakeyudi/replay/internal/session"
	"github.com/fakeyudi/replay/internal/upload"
	"github.com/fakeyudi/replay/internal/worker"
)

func openTemp(t *testing.T) *Archive {
	t.Helper()
	a, err := Open("sqlite://" + filepath.Join(t.TempDir(), "replays.db"))
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() {
		if err := a.Close(); err != nil {
			t.Errorf("Close: %v", err)
		}
	})
	return a
}

func segment(id string, n int, ts int64, events string) Segment {
	return Segment{
		ReplayID:   id,
		SegmentID:  n,
		ReplayType: "session",
		StartedAt:  1_700_000_000_000,
		Timestamp:  ts,
		URLs:       []string{"https://example.com"},
		EventCount: 1,
		Size:       len(events),
		Events:     []byte(events),
		ReceivedAt: time.UnixMilli(ts),
	}
}

func TestParseDSN(t *testing.T) {
	cases := []struct {
		dsn, drv, dialect, path string
	}{
		{"postgres://u:p@localhost/db", "pgx", dialectPostgres, "postgres://u:p@localhost/db"},
		{"postgresql://localhost/db", "pgx", dialectPostgres, "postgresql://localhost/db"},
		{"sqlite:///tmp/r.db", "sqlite", dialectSQLite, "/tmp/r.db"},
		{"  :memory: ", "sqlite", dialectSQLite, ":memory:"},
		{"/var/lib/replay.db", "sqlite", dialectSQLite, "/var/lib/replay.db"},
	}
	for _, tc := range cases {
		drv, dialect, path, err := parseDSN(tc.dsn)
		if err != nil {
			t.Fatalf("parseDSN(%q): %v", tc.dsn, err)
		}
		if drv != tc.drv || dialect != tc.dialect || path != tc.path {
			t.Errorf("parseDSN(%q) = %s %s %s", tc.dsn, drv, dialect, path)
		}
	}
	if _, _, _, err := parseDSN("  "); err == nil {
		t.Error("expected error for empty DSN")
	}
}

func TestRebind(t *testing.T) {
	pg := &Archive{dialect: dialectPostgres}
	if got := pg.rebind("a = ? AND b = ?"); got != "a = $1 AND b = $2" {
		t.Fatalf("postgres rebind: %q", got)
	}
	lite := &Archive{dialect: dialectSQLite}
	if got := lite.rebind("a = ?"); got != "a = ?" {
		t.Fatalf("sqlite rebind: %q", got)
	}
}

func TestStoreAndQuery(t *testing.T) {
	a := openTemp(t)
	ctx := context.Background()

	for _, s := range []Segment{
		segment("a", 1, 1_700_000_010_000, `[{"type":3}]`),
		segment("a", 0, 1_700_000_005_000, `[{"type":2}]`),
		segment("b", 0, 1_700_000_020_000, `[{"type":2}]`),
	} {
		if err := a.Store(ctx, s); err != nil {
			t.Fatalf("Store: %v", err)
		}
	}

	replays, err := a.Replays(ctx)
	if err != nil {
		t.Fatalf("Replays: %v", err)
	}
	if len(replays) != 2 || replays[0].ID != "b" || replays[1].ID != "a" {
		t.Fatalf("expected b then a, got %+v", replays)
	}
	if r := replays[1]; r.Segments != 2 || r.Events != 2 || r.Duration() != 10*time.Second {
		t.Fatalf("unexpected summary for a: %+v", r)
	}

	segs, err := a.Segments(ctx, "a")
	if err != nil {
		t.Fatalf("Segments: %v", err)
	}
	if len(segs) != 2 || segs[0].SegmentID != 0 || segs[1].SegmentID != 1 {
		t.Fatalf("segments not ordered: %+v", segs)
	}
	if string(segs[1].Events) != `[{"type":3}]` || segs[0].URLs[0] != "https://example.com" {
		t.Fatalf("segment content lost: %+v", segs[1])
	}
	if segs[0].ErrorIDs == nil || len(segs[0].ErrorIDs) != 0 {
		t.Fatalf("nil lists should read back empty, got %#v", segs[0].ErrorIDs)
	}

	r, err := a.Replay(ctx, "a")
	if err != nil || r.Segments != 2 || r.LastAt != 1_700_000_010_000 {
		t.Fatalf("Replay: %+v, %v", r, err)
	}
}

func TestStoreReplacesSegment(t *testing.T) {
	a := openTemp(t)
	ctx := context.Background()

	first := segment("a", 0, 1_700_000_005_000, `[{"type":2}]`)
	if err := a.Store(ctx, first); err != nil {
		t.Fatal(err)
	}
	second := first
	second.EventCount = 3
	second.Events = []byte(`[{"type":2},{"type":3},{"type":3}]`)
	if err := a.Store(ctx, second); err != nil {
		t.Fatal(err)
	}

	segs, err := a.Segments(ctx, "a")
	if err != nil {
		t.Fatal(err)
	}
	if len(segs) != 1 || segs[0].EventCount != 3 {
		t.Fatalf("expected replaced segment, got %+v", segs)
	}
}

func TestSegmentsNotFound(t *testing.T) {
	a := openTemp(t)
	if _, err := a.Segments(context.Background(), "missing"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
	replays, err := a.Replays(context.Background())
	if err != nil || len(replays) != 0 {
		t.Fatalf("expected no replays, got %v, %v", replays, err)
	}
}

func TestFromSendDataDecompresses(t *testing.T) {
	c, err := worker.NewCompressor(worker.CodecGzip)
	if err != nil {
		t.Fatal(err)
	}
	for _, e := range []string{`{"type":2,"timestamp":1}`, `{"type":3,"timestamp":2}`} {
		if err := c.AddEvent(e); err != nil {
			t.Fatal(err)
		}
	}
	data, err := c.Finish()
	if err != nil {
		t.Fatal(err)
	}

	sess := session.MakeSession(session.Session{}, session.SampledBuffer, 1_700_000_000_000)
	seg, err := FromSendData(upload.SendData{
		RecordingData:    buffer.Payload{Data: data, Compression: worker.CodecGzip},
		ReplayID:         sess.ID,
		SegmentID:        2,
		Session:          &sess,
		Timestamp:        1_700_000_009_500,
		InitialTimestamp: 1_700_000_000_250,
		ErrorIDs:         []string{"err"},
	}, time.Now())
	if err != nil {
		t.Fatalf("FromSendData: %v", err)
	}
	if seg.EventCount != 2 || seg.Size != len(data) || seg.ReplayType != "buffer" {
		t.Fatalf("unexpected segment %+v", seg)
	}
	if seg.StartedAt != 1_700_000_000_250 || seg.Timestamp != 1_700_000_009_500 {
		t.Fatalf("timestamps not restored to ms: %d %d", seg.StartedAt, seg.Timestamp)
	}
	events, err := seg.DecodeEvents()
	if err != nil || len(events) != 2 || events[1].Timestamp != 2 {
		t.Fatalf("DecodeEvents: %+v, %v", events, err)
	}
}

func TestFromReplayEventRejectsMalformed(t *testing.T) {
	ev := upload.ReplayEvent{ReplayID: "r"}
	cases := map[string]buffer.Payload{
		"not json":      {Data: []byte("nope")},
		"bad zlib":      {Data: []byte("nope"), Compression: worker.CodecZlib},
		"unknown codec": {Data: []byte("[]"), Compression: "lz4"},
	}
	for name, p := range cases {
		if _, err := FromReplayEvent(ev, p, time.Now()); !errors.Is(err, ErrMalformed) {
			t.Errorf("%s: expected ErrMalformed, got %v", name, err)
		}
	}
	if _, err := FromReplayEvent(upload.ReplayEvent{}, buffer.Payload{Data: []byte("[]")}, time.Now()); !errors.Is(err, ErrMalformed) {
		t.Error("missing replay id should be malformed")
	}
}

// Feature: replay, Property 11: Stored segments read back unchanged
func TestStoreRoundTripProperty(t *testing.T) {
	a := openTemp(t)
	ctx := context.Background()

	rapid.Check(t, func(t *rapid.T) {
		s := Segment{
			ReplayID:    rapid.StringMatching(`[a-f0-9]{32}`).Draw(t, "id"),
			SegmentID:   rapid.IntRange(0, 1000).Draw(t, "segment"),
			ReplayType:  rapid.SampledFrom([]string{"session", "buffer"}).Draw(t, "type"),
			StartedAt:   rapid.Int64Range(0, 1<<45).Draw(t, "started"),
			Timestamp:   rapid.Int64Range(0, 1<<45).Draw(t, "ts"),
			URLs:        rapid.SliceOfN(rapid.StringMatching(`https://[a-z]{1,8}\.com`), 0, 3).Draw(t, "urls"),
			ErrorIDs:    rapid.SliceOfN(rapid.StringMatching(`[a-z0-9]{4}`), 0, 3).Draw(t, "errors"),
			TraceIDs:    []string{},
			EventCount:  rapid.IntRange(0, 100).Draw(t, "count"),
			Size:        rapid.IntRange(0, 1<<20).Draw(t, "size"),
			Compression: rapid.SampledFrom([]string{"", "zlib", "gzip", "zstd"}).Draw(t, "codec"),
			Events:      []byte(`[` + rapid.StringMatching(`(\{"type":[0-6]\})?`).Draw(t, "events") + `]`),
		}
		if err := a.Store(ctx, s); err != nil {
			t.Fatalf("Store: %v", err)
		}
		segs, err := a.Segments(ctx, s.ReplayID)
		if err != nil {
			t.Fatalf("Segments: %v", err)
		}
		var got *Segment
		for i := range segs {
			if segs[i].SegmentID == s.SegmentID {
				got = &segs[i]
			}
		}
		if got == nil {
			t.Fatalf("segment %d missing", s.SegmentID)
		}
		if got.ReplayType != s.ReplayType || got.StartedAt != s.StartedAt || got.Timestamp != s.Timestamp ||
			got.EventCount != s.EventCount || got.Size != s.Size || got.Compression != s.Compression ||
			!bytes.Equal(got.Events, s.Events) || len(got.URLs) != len(s.URLs) || len(got.ErrorIDs) != len(s.ErrorIDs) {
			t.Fatalf("round trip mismatch:\nwant %+v\ngot  %+v", s, *got)
		}
	})
}
