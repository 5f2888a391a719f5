package collector

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"

	"github.com/gin-gonic/gin"

	"github.com/fakeyudi/replay/internal/archive"
	"github.com/fakeyudi/replay/internal/buffer"
	"github.com/fakeyudi/replay/internal/session"
	"github.com/fakeyudi/replay/internal/upload"
	"github.com/fakeyudi/replay/internal/worker"
)

func setup(t *testing.T, base string) (*archive.Archive, http.Handler) {
	t.Helper()
	gin.SetMode(gin.TestMode)
	a, err := archive.Open(filepath.Join(t.TempDir(), "collector.db"))
	if err != nil {
		t.Fatalf("archive.Open: %v", err)
	}
	t.Cleanup(func() { _ = a.Close() })
	return a, New(a, Options{BasePath: base}).Handler()
}

func compressed(t *testing.T, codec string, events ...string) []byte {
	t.Helper()
	c, err := worker.NewCompressor(codec)
	if err != nil {
		t.Fatal(err)
	}
	for _, e := range events {
		if err := c.AddEvent(e); err != nil {
			t.Fatal(err)
		}
	}
	data, err := c.Finish()
	if err != nil {
		t.Fatal(err)
	}
	return data
}

func metaHeader(t *testing.T, ev upload.ReplayEvent) string {
	t.Helper()
	b, err := json.Marshal(ev)
	if err != nil {
		t.Fatal(err)
	}
	return base64.StdEncoding.EncodeToString(b)
}

func TestUploadThroughClient(t *testing.T) {
	a, h := setup(t, "")
	srv := httptest.NewServer(h)
	defer srv.Close()

	transport := upload.NewHTTPTransport(srv.URL+"/api/replay", upload.TransportOptions{})
	client := upload.NewClient(transport, nil)
	sess := session.MakeSession(session.Session{}, session.SampledSession, 1_700_000_000_000)

	for seg := 0; seg < 2; seg++ {
		resp, err := client.SendReplay(context.Background(), upload.SendData{
			RecordingData: buffer.Payload{
				Data:        compressed(t, worker.CodecZstd, `{"type":2,"timestamp":1700000000000}`, `{"type":3,"timestamp":1700000001000}`),
				Compression: worker.CodecZstd,
			},
			ReplayID:         sess.ID,
			SegmentID:        seg,
			Session:          &sess,
			Timestamp:        1_700_000_005_000 + int64(seg)*5_000,
			InitialTimestamp: 1_700_000_000_000,
			URLs:             []string{"https://example.com"},
		})
		if err != nil {
			t.Fatalf("SendReplay segment %d: %v", seg, err)
		}
		if resp.StatusCode != http.StatusOK {
			t.Fatalf("expected 200, got %d", resp.StatusCode)
		}
	}
	if !transport.Flush(0) {
		t.Fatal("transport should be drained")
	}

	replays, err := a.Replays(context.Background())
	if err != nil || len(replays) != 1 {
		t.Fatalf("Replays: %+v, %v", replays, err)
	}
	if r := replays[0]; r.ID != sess.ID || r.Segments != 2 || r.Events != 4 || r.ReplayType != "session" {
		t.Fatalf("unexpected replay %+v", r)
	}

	res, err := http.Get(srv.URL + "/api/replays/" + sess.ID + "?events=1")
	if err != nil {
		t.Fatal(err)
	}
	defer res.Body.Close()
	var got replayResp
	if err := json.NewDecoder(res.Body).Decode(&got); err != nil {
		t.Fatal(err)
	}
	if len(got.Segments) != 2 || got.Segments[1].SegmentID != 1 || len(got.Segments[0].Events) == 0 {
		t.Fatalf("unexpected replay response %+v", got)
	}
	if got.Replay.Events != 4 {
		t.Fatalf("expected 4 events in summary, got %d", got.Replay.Events)
	}
}

func TestUploadRejected(t *testing.T) {
	_, h := setup(t, "")
	good := upload.ReplayEvent{Type: upload.ReplayEventType, ReplayID: "abc", SegmentID: 1}
	body := upload.EncodeBody(1, []byte(`[{"type":2,"timestamp":1}]`))

	cases := []struct {
		name    string
		headers map[string]string
		body    []byte
	}{
		{"missing metadata", nil, body},
		{"metadata not base64", map[string]string{upload.HeaderReplayEvent: "%%%"}, body},
		{"wrong event type", map[string]string{upload.HeaderReplayEvent: metaHeader(t, upload.ReplayEvent{Type: "error", ReplayID: "abc", SegmentID: 1})}, body},
		{"replay id mismatch", map[string]string{upload.HeaderReplayEvent: metaHeader(t, good), upload.HeaderReplayID: "other"}, body},
		{"no header line", map[string]string{upload.HeaderReplayEvent: metaHeader(t, good)}, []byte(`[]`)},
		{"segment mismatch", map[string]string{upload.HeaderReplayEvent: metaHeader(t, good)}, upload.EncodeBody(2, []byte(`[]`))},
		{"payload not json", map[string]string{upload.HeaderReplayEvent: metaHeader(t, good)}, upload.EncodeBody(1, []byte(`nope`))},
		{"bad compression", map[string]string{upload.HeaderReplayEvent: metaHeader(t, good), upload.HeaderCompression: "zlib"}, body},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodPost, "/api/replay", bytes.NewReader(tc.body))
			for k, v := range tc.headers {
				req.Header.Set(k, v)
			}
			rec := httptest.NewRecorder()
			h.ServeHTTP(rec, req)
			if rec.Code != http.StatusBadRequest {
				t.Fatalf("expected 400, got %d: %s", rec.Code, rec.Body.String())
			}
		})
	}
}

func TestUploadTooLarge(t *testing.T) {
	gin.SetMode(gin.TestMode)
	a, err := archive.Open(filepath.Join(t.TempDir(), "c.db"))
	if err != nil {
		t.Fatal(err)
	}
	defer a.Close()
	h := New(a, Options{MaxBodyBytes: 8}).Handler()

	req := httptest.NewRequest(http.MethodPost, "/api/replay", bytes.NewReader(upload.EncodeBody(0, []byte(`[]`))))
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	if rec.Code != http.StatusRequestEntityTooLarge {
		t.Fatalf("expected 413, got %d", rec.Code)
	}
}

func TestGetUnknownReplay(t *testing.T) {
	_, h := setup(t, "/collector/")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/collector/api/replays/missing", nil))
	if rec.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", rec.Code)
	}

	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/collector/api/replays", nil))
	if rec.Code != http.StatusOK || rec.Body.String() != "[]\n" {
		t.Fatalf("expected empty list, got %d %q", rec.Code, rec.Body.String())
	}
}

func TestHealthAndMetrics(t *testing.T) {
	_, h := setup(t, "")
	for _, path := range []string{"/healthz", "/metrics"} {
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, path, nil))
		if rec.Code != http.StatusOK {
			t.Fatalf("%s: expected 200, got %d", path, rec.Code)
		}
	}
}

func TestDecodeUpload(t *testing.T) {
	ev := upload.ReplayEvent{Type: upload.ReplayEventType, ReplayID: "abc", SegmentID: 3}
	h := http.Header{}
	h.Set(upload.HeaderReplayEvent, metaHeader(t, ev))
	h.Set(upload.HeaderReplayID, "abc")
	h.Set(upload.HeaderCompression, "gzip")

	got, payload, err := DecodeUpload(h, upload.EncodeBody(3, []byte("payload\nwith newline")))
	if err != nil {
		t.Fatalf("DecodeUpload: %v", err)
	}
	if got.ReplayID != "abc" || payload.Compression != "gzip" || string(payload.Data) != "payload\nwith newline" {
		t.Fatalf("unexpected decode: %+v %q", got, payload.Data)
	}

	h.Del(upload.HeaderReplayEvent)
	if _, _, err := DecodeUpload(h, nil); !errors.Is(err, ErrBadUpload) {
		t.Fatalf("expected ErrBadUpload, got %v", err)
	}
}
