// Package collector is the HTTP endpoint replay uploads are sent to. It
// decodes each segment and stores it in an archive.
package collector

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/fakeyudi/replay/internal/archive"
	"github.com/fakeyudi/replay/internal/buffer"
	"github.com/fakeyudi/replay/internal/metrics"
	"github.com/fakeyudi/replay/internal/upload"
)

// DefaultMaxBodyBytes bounds an upload body.
const DefaultMaxBodyBytes = 32 << 20

// ErrBadUpload is returned by DecodeUpload for requests that are not a
// well formed segment upload.
var ErrBadUpload = errors.New("bad replay upload")

// Store is the archive the collector writes to.
type Store interface {
	Store(ctx context.Context, seg archive.Segment) error
	Replays(ctx context.Context) ([]archive.Replay, error)
	Segments(ctx context.Context, id string) ([]archive.Segment, error)
}

// Options configure a Server.
type Options struct {
	// BasePath prefixes every route; empty or "/" mounts at the root.
	BasePath     string
	MaxBodyBytes int64
	Metrics      http.Handler
	Logger       *slog.Logger
	Now          func() time.Time
}

// Server serves:
//
//	POST {base}/api/replay        segment upload
//	GET  {base}/api/replays       stored replays, newest first
//	GET  {base}/api/replays/:id   one replay with its segments; ?events=1 includes payloads
//	GET  {base}/metrics           prometheus metrics
//	GET  {base}/healthz
type Server struct {
	store    Store
	basePath string
	maxBody  int64
	metrics  http.Handler
	logger   *slog.Logger
	now      func() time.Time
}

// New returns a Server writing to store.
func New(store Store, opts Options) *Server {
	s := &Server{
		store:    store,
		basePath: sanitizeBase(opts.BasePath),
		maxBody:  opts.MaxBodyBytes,
		metrics:  opts.Metrics,
		logger:   opts.Logger,
		now:      opts.Now,
	}
	if s.maxBody <= 0 {
		s.maxBody = DefaultMaxBodyBytes
	}
	if s.metrics == nil {
		s.metrics = metrics.Handler()
	}
	if s.logger == nil {
		s.logger = slog.Default()
	}
	if s.now == nil {
		s.now = time.Now
	}
	return s
}

// Handler returns the gin engine as an http.Handler.
func (s *Server) Handler() http.Handler {
	g := gin.New()
	g.Use(gin.Recovery())
	group := g.Group(s.basePath)
	group.POST("/api/replay", s.handleUpload)
	group.GET("/api/replays", s.handleList)
	group.GET("/api/replays/:id", s.handleGet)
	group.GET("/metrics", gin.WrapH(s.metrics))
	group.GET("/healthz", func(c *gin.Context) { writeJSON(c, http.StatusOK, okResp{OK: true}) })
	return g
}

// NewHTTPServer wraps h with the collector's timeouts.
func NewHTTPServer(addr string, h http.Handler) *http.Server {
	return &http.Server{
		Addr:              addr,
		Handler:           h,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       60 * time.Second,
	}
}

type errorResp struct {
	Error string `json:"error"`
}

type okResp struct {
	OK bool `json:"ok"`
}

type uploadResp struct {
	OK        bool   `json:"ok"`
	ReplayID  string `json:"replay_id"`
	SegmentID int    `json:"segment_id"`
	Events    int    `json:"events"`
}

type replayResp struct {
	Replay   archive.Replay    `json:"replay"`
	Segments []archive.Segment `json:"segments"`
}

func (s *Server) handleUpload(c *gin.Context) {
	body, err := io.ReadAll(http.MaxBytesReader(c.Writer, c.Request.Body, s.maxBody))
	if err != nil {
		s.reject(c, http.StatusRequestEntityTooLarge, err)
		return
	}
	ev, payload, err := DecodeUpload(c.Request.Header, body)
	if err != nil {
		s.reject(c, http.StatusBadRequest, err)
		return
	}
	seg, err := archive.FromReplayEvent(ev, payload, s.now())
	if err != nil {
		s.reject(c, http.StatusBadRequest, err)
		return
	}
	if err := s.store.Store(c.Request.Context(), seg); err != nil {
		metrics.IncCollectorSegment("error")
		s.logger.Error("could not store segment", "replay_id", seg.ReplayID, "segment_id", seg.SegmentID, "error", err)
		writeJSON(c, http.StatusInternalServerError, errorResp{Error: "could not store segment"})
		return
	}

	metrics.IncCollectorSegment("stored")
	metrics.AddCollectorEvents(seg.EventCount)
	s.logger.Info("segment stored", "replay_id", seg.ReplayID, "segment_id", seg.SegmentID,
		"events", seg.EventCount, "bytes", seg.Size, "compression", seg.Compression)
	writeJSON(c, http.StatusOK, uploadResp{OK: true, ReplayID: seg.ReplayID, SegmentID: seg.SegmentID, Events: seg.EventCount})
}

func (s *Server) reject(c *gin.Context, code int, err error) {
	metrics.IncCollectorSegment("rejected")
	s.logger.Warn("rejected replay upload", "status", code, "error", err)
	writeJSON(c, code, errorResp{Error: err.Error()})
}

func (s *Server) handleList(c *gin.Context) {
	replays, err := s.store.Replays(c.Request.Context())
	if err != nil {
		s.logger.Error("could not list replays", "error", err)
		writeJSON(c, http.StatusInternalServerError, errorResp{Error: "could not list replays"})
		return
	}
	if replays == nil {
		replays = []archive.Replay{}
	}
	writeJSON(c, http.StatusOK, replays)
}

func (s *Server) handleGet(c *gin.Context) {
	segs, err := s.store.Segments(c.Request.Context(), c.Param("id"))
	if errors.Is(err, archive.ErrNotFound) {
		writeJSON(c, http.StatusNotFound, errorResp{Error: err.Error()})
		return
	}
	if err != nil {
		s.logger.Error("could not load replay", "replay_id", c.Param("id"), "error", err)
		writeJSON(c, http.StatusInternalServerError, errorResp{Error: "could not load replay"})
		return
	}
	if c.Query("events") == "" {
		for i := range segs {
			segs[i].Events = nil
		}
	}
	writeJSON(c, http.StatusOK, replayResp{Replay: archive.Summarize(segs), Segments: segs})
}

// DecodeUpload splits an upload body into its header line and payload and
// decodes the metadata header. The header line, the metadata and the
// X-Replay-ID header must agree on the segment.
func DecodeUpload(h http.Header, body []byte) (upload.ReplayEvent, buffer.Payload, error) {
	var ev upload.ReplayEvent
	raw := h.Get(upload.HeaderReplayEvent)
	if raw == "" {
		return ev, buffer.Payload{}, fmt.Errorf("%w: missing %s header", ErrBadUpload, upload.HeaderReplayEvent)
	}
	meta, err := base64.StdEncoding.DecodeString(raw)
	if err != nil {
		return ev, buffer.Payload{}, fmt.Errorf("%w: %s is not base64: %v", ErrBadUpload, upload.HeaderReplayEvent, err)
	}
	if err := json.Unmarshal(meta, &ev); err != nil {
		return ev, buffer.Payload{}, fmt.Errorf("%w: %s: %v", ErrBadUpload, upload.HeaderReplayEvent, err)
	}
	if ev.Type != upload.ReplayEventType {
		return ev, buffer.Payload{}, fmt.Errorf("%w: unexpected event type %q", ErrBadUpload, ev.Type)
	}
	if id := h.Get(upload.HeaderReplayID); id != "" && id != ev.ReplayID {
		return ev, buffer.Payload{}, fmt.Errorf("%w: replay id header %q does not match %q", ErrBadUpload, id, ev.ReplayID)
	}

	i := bytes.IndexByte(body, '\n')
	if i < 0 {
		return ev, buffer.Payload{}, fmt.Errorf("%w: missing segment header line", ErrBadUpload)
	}
	var head upload.SegmentHeader
	if err := json.Unmarshal(body[:i], &head); err != nil {
		return ev, buffer.Payload{}, fmt.Errorf("%w: segment header: %v", ErrBadUpload, err)
	}
	if head.SegmentID != ev.SegmentID {
		return ev, buffer.Payload{}, fmt.Errorf("%w: segment header %d does not match %d", ErrBadUpload, head.SegmentID, ev.SegmentID)
	}
	return ev, buffer.Payload{Data: body[i+1:], Compression: h.Get(upload.HeaderCompression)}, nil
}

func sanitizeBase(bp string) string {
	bp = strings.TrimSpace(bp)
	if bp == "" || bp == "/" {
		return ""
	}
	if !strings.HasPrefix(bp, "/") {
		bp = "/" + bp
	}
	return strings.TrimRight(bp, "/")
}

func writeJSON(c *gin.Context, code int, v any) {
	c.Header("Content-Type", "application/json")
	c.Status(code)
	_ = json.NewEncoder(c.Writer).Encode(v)
}
