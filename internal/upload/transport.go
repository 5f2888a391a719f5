package upload

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/fakeyudi/replay/internal/buffer"
	"github.com/fakeyudi/replay/internal/metrics"
)

// Request headers understood by the collector.
const (
	HeaderReplayID    = "X-Replay-ID"
	HeaderReplayEvent = "X-Replay-Event"
	HeaderCompression = "X-Replay-Compression"
)

// Envelope is one segment upload.
type Envelope struct {
	Event   ReplayEvent
	Payload buffer.Payload
}

// Response is what the endpoint answered.
type Response struct {
	StatusCode int
	RetryAfter string
}

// Transport delivers envelopes.
type Transport interface {
	Send(ctx context.Context, env Envelope) (Response, error)
	// Flush waits for in-flight sends, reporting false on timeout.
	Flush(timeout time.Duration) bool
}

// HTTPTransport POSTs envelopes to URL.
type HTTPTransport struct {
	URL     string
	Headers map[string]string

	client *http.Client
	buf    *Buffer
	logger *slog.Logger
}

// TransportOptions configures NewHTTPTransport.
type TransportOptions struct {
	Headers    map[string]string
	BufferSize int
	Timeout    time.Duration
	Logger     *slog.Logger
}

// NewHTTPTransport returns a transport for url.
func NewHTTPTransport(url string, opts TransportOptions) *HTTPTransport {
	if opts.Timeout <= 0 {
		opts.Timeout = 30 * time.Second
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	return &HTTPTransport{
		URL:     strings.TrimRight(url, "/"),
		Headers: opts.Headers,
		client:  &http.Client{Timeout: opts.Timeout},
		buf:     NewBuffer(opts.BufferSize),
		logger:  opts.Logger,
	}
}

// EncodeBody builds the upload body: a JSON header line followed by the payload.
func EncodeBody(segmentID int, payload []byte) []byte {
	head, _ := json.Marshal(SegmentHeader{SegmentID: segmentID})
	body := make([]byte, 0, len(head)+1+len(payload))
	body = append(body, head...)
	body = append(body, '\n')
	return append(body, payload...)
}

func (t *HTTPTransport) Send(ctx context.Context, env Envelope) (Response, error) {
	return t.buf.Add(ctx, func(ctx context.Context) (Response, error) {
		return t.do(ctx, env)
	})
}

func (t *HTTPTransport) do(ctx context.Context, env Envelope) (Response, error) {
	meta, err := json.Marshal(env.Event)
	if err != nil {
		return Response{}, fmt.Errorf("encode replay event: %w", err)
	}
	body := EncodeBody(env.Event.SegmentID, env.Payload.Data)

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, t.URL, bytes.NewReader(body))
	if err != nil {
		return Response{}, fmt.Errorf("build upload request: %w", err)
	}
	req.Header.Set("Content-Type", "application/octet-stream")
	for k, v := range t.Headers {
		req.Header.Set(k, v)
	}
	req.Header.Set(HeaderReplayID, env.Event.ReplayID)
	req.Header.Set(HeaderReplayEvent, base64.StdEncoding.EncodeToString(meta))
	if env.Payload.Compression != "" {
		req.Header.Set(HeaderCompression, env.Payload.Compression)
	}

	start := time.Now()
	resp, err := t.client.Do(req)
	metrics.ObserveUploadDuration(time.Since(start).Seconds())
	if err != nil {
		return Response{}, err
	}
	defer func() { _ = resp.Body.Close() }()

	out := Response{StatusCode: resp.StatusCode, RetryAfter: resp.Header.Get("Retry-After")}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		t.logger.Warn("upload rejected", "status", resp.StatusCode, "replay_id", env.Event.ReplayID, "segment_id", env.Event.SegmentID)
	}
	return out, nil
}

func (t *HTTPTransport) Flush(timeout time.Duration) bool {
	return t.buf.Drain(timeout)
}
