package worker

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"pgregory.net/rapid"
)

func TestCompressorRoundTrip(t *testing.T) {
	for _, codec := range []string{CodecZlib, CodecGzip, CodecZstd} {
		t.Run(codec, func(t *testing.T) {
			c, err := NewCompressor(codec)
			if err != nil {
				t.Fatalf("NewCompressor: %v", err)
			}
			for _, ev := range []string{`{"a":1}`, `{"b":2}`} {
				if err := c.AddEvent(ev); err != nil {
					t.Fatalf("AddEvent: %v", err)
				}
			}
			out, err := c.Finish()
			if err != nil {
				t.Fatalf("Finish: %v", err)
			}
			raw, err := Decompress(codec, out)
			if err != nil {
				t.Fatalf("Decompress: %v", err)
			}
			if string(raw) != `[{"a":1},{"b":2}]` {
				t.Fatalf("got %s", raw)
			}

			// Finish resets the compressor.
			out, err = c.Finish()
			if err != nil {
				t.Fatalf("second Finish: %v", err)
			}
			raw, _ = Decompress(codec, out)
			if string(raw) != `[]` {
				t.Fatalf("expected empty array after reset, got %s", raw)
			}
		})
	}
}

func TestCompressorClear(t *testing.T) {
	c, err := NewCompressor("")
	if err != nil {
		t.Fatalf("NewCompressor: %v", err)
	}
	_ = c.AddEvent(`{"x":1}`)
	if err := c.Clear(); err != nil {
		t.Fatalf("Clear: %v", err)
	}
	_ = c.AddEvent(`{"y":2}`)
	out, _ := c.Finish()
	raw, _ := Decompress(CodecZlib, out)
	if string(raw) != `[{"y":2}]` {
		t.Fatalf("got %s", raw)
	}
	if err := c.AddEvent(""); err == nil {
		t.Fatal("expected error for empty event")
	}
}

func TestDecompressLimit(t *testing.T) {
	for _, codec := range []string{CodecZlib, CodecGzip, CodecZstd} {
		t.Run(codec, func(t *testing.T) {
			var buf bytes.Buffer
			w, err := NewEncoder(codec, &buf)
			if err != nil {
				t.Fatalf("NewEncoder: %v", err)
			}
			_, _ = w.Write(bytes.Repeat([]byte("a"), 4096))
			if err := w.Close(); err != nil {
				t.Fatalf("Close: %v", err)
			}

			if _, err := decompress(codec, buf.Bytes(), 1024); !errors.Is(err, ErrDecompressedTooLarge) {
				t.Fatalf("expected ErrDecompressedTooLarge, got %v", err)
			}
			out, err := decompress(codec, buf.Bytes(), 4096)
			if err != nil {
				t.Fatalf("decompress at exact size: %v", err)
			}
			if len(out) != 4096 {
				t.Fatalf("expected 4096 bytes, got %d", len(out))
			}
		})
	}
}

func TestUnknownCodec(t *testing.T) {
	_, err := NewCompressor("lz4")
	var uc *UnsupportedCodecError
	if !errors.As(err, &uc) {
		t.Fatalf("expected UnsupportedCodecError, got %v", err)
	}
}

// Feature: replay, Property 6: Worker payload preserves insertion order
func TestSpawnedWorkerPreservesOrder(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		values := rapid.SliceOfN(rapid.IntRange(0, 1_000_000), 0, 30).Draw(t, "values")

		ch := NewChannel(Spawn(CodecZstd))
		defer ch.Destroy()
		ctx := context.Background()
		if err := ch.EnsureReady(ctx); err != nil {
			t.Fatalf("EnsureReady: %v", err)
		}
		for _, v := range values {
			b, _ := json.Marshal(map[string]int{"v": v})
			if _, err := ch.PostMessage(ctx, MethodAddEvent, string(b)); err != nil {
				t.Fatalf("addEvent: %v", err)
			}
		}
		out, err := ch.PostMessage(ctx, MethodFinish, "")
		if err != nil {
			t.Fatalf("finish: %v", err)
		}
		raw, err := Decompress(CodecZstd, out)
		if err != nil {
			t.Fatalf("Decompress: %v", err)
		}
		var got []map[string]int
		if err := json.Unmarshal(raw, &got); err != nil {
			t.Fatalf("unmarshal %s: %v", raw, err)
		}
		if len(got) != len(values) {
			t.Fatalf("expected %d events, got %d", len(values), len(got))
		}
		for i, v := range values {
			if got[i]["v"] != v {
				t.Fatalf("event %d: expected %d, got %d", i, v, got[i]["v"])
			}
		}
	})
}

func TestEnsureReadyFailsForBadCodec(t *testing.T) {
	ch := NewChannel(Spawn("bogus"))
	defer ch.Destroy()

	err := ch.EnsureReady(context.Background())
	if err == nil {
		t.Fatal("expected readiness failure")
	}
	// Idempotent: the same outcome without a second probe.
	if err2 := ch.EnsureReady(context.Background()); err2 != err {
		t.Fatalf("expected cached error %v, got %v", err, err2)
	}
}

// fakePort lets tests script worker responses.
type fakePort struct {
	posted chan Request
	out    chan Response
}

func newFakePort() *fakePort {
	return &fakePort{posted: make(chan Request, 16), out: make(chan Response, 16)}
}

func (p *fakePort) Post(req Request) error    { p.posted <- req; return nil }
func (p *fakePort) Messages() <-chan Response { return p.out }
func (p *fakePort) Terminate()                { close(p.out) }

func TestEnsureReadyTimeout(t *testing.T) {
	p := newFakePort()
	ch := NewChannel(p, WithReadyTimeout(20*time.Millisecond))
	defer ch.Destroy()

	if err := ch.EnsureReady(context.Background()); !errors.Is(err, ErrReadyTimeout) {
		t.Fatalf("expected ErrReadyTimeout, got %v", err)
	}
}

func TestPostMessageMatchesIDAndMethod(t *testing.T) {
	p := newFakePort()
	ch := NewChannel(p)
	defer ch.Destroy()

	done := make(chan []byte, 1)
	go func() {
		out, err := ch.PostMessage(context.Background(), MethodFinish, "")
		if err != nil {
			t.Errorf("PostMessage: %v", err)
		}
		done <- out
	}()

	req := <-p.posted
	// Same id, wrong method: ignored.
	p.out <- Response{ID: req.ID, Method: MethodClear, Success: true, Response: []byte("wrong")}
	// Unknown id: ignored.
	p.out <- Response{ID: req.ID + 100, Method: MethodFinish, Success: true, Response: []byte("stray")}
	p.out <- Response{ID: req.ID, Method: MethodFinish, Success: true, Response: []byte("right")}

	select {
	case out := <-done:
		if string(out) != "right" {
			t.Fatalf("expected matching response, got %q", out)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("PostMessage did not resolve")
	}
}

func TestNotifyReturnsBeforeResponse(t *testing.T) {
	p := newFakePort()
	ch := NewChannel(p)
	defer ch.Destroy()

	if err := ch.Notify(MethodClear, ""); err != nil {
		t.Fatalf("Notify: %v", err)
	}
	req := <-p.posted
	if req.Method != MethodClear {
		t.Fatalf("expected clear request, got %s", req.Method)
	}

	// A later request is queued behind the notification.
	done := make(chan error, 1)
	go func() {
		_, err := ch.PostMessage(context.Background(), MethodFinish, "")
		done <- err
	}()
	next := <-p.posted
	if next.ID <= req.ID {
		t.Fatalf("expected finish after clear, got ids %d then %d", req.ID, next.ID)
	}

	p.out <- Response{ID: req.ID, Method: MethodClear, Success: true}
	p.out <- Response{ID: next.ID, Method: MethodFinish, Success: true}
	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("finish: %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("finish did not resolve")
	}
}

func TestPostMessageWorkerError(t *testing.T) {
	p := newFakePort()
	ch := NewChannel(p)
	defer ch.Destroy()

	errc := make(chan error, 1)
	go func() {
		_, err := ch.PostMessage(context.Background(), MethodAddEvent, "x")
		errc <- err
	}()
	req := <-p.posted
	p.out <- Response{ID: req.ID, Method: req.Method, Error: "boom"}

	var werr *Error
	if err := <-errc; !errors.As(err, &werr) || werr.Message != "boom" {
		t.Fatalf("expected worker error boom, got %v", err)
	}
}

func TestDestroyFailsPending(t *testing.T) {
	p := newFakePort()
	ch := NewChannel(p)

	errc := make(chan error, 1)
	go func() {
		_, err := ch.PostMessage(context.Background(), MethodFinish, "")
		errc <- err
	}()
	<-p.posted
	ch.Destroy()

	select {
	case err := <-errc:
		if !errors.Is(err, ErrTerminated) {
			t.Fatalf("expected ErrTerminated, got %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("pending request not failed")
	}
}
