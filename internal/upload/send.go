package upload

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/fakeyudi/replay/internal/buffer"
	"github.com/fakeyudi/replay/internal/metrics"
	"github.com/fakeyudi/replay/internal/session"
)

// RetryPolicy bounds how often SendReplay tries. The delay before attempt n+1
// is the previous delay multiplied by n, starting at BaseInterval.
type RetryPolicy struct {
	MaxAttempts  int
	BaseInterval time.Duration
}

// DefaultRetryPolicy gives 3 attempts spaced 5s and 10s apart.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{MaxAttempts: 3, BaseInterval: 5 * time.Second}
}

// Delay returns the wait before attempt+1, where attempt counts from 1.
func (p RetryPolicy) Delay(attempt int) time.Duration {
	d := p.BaseInterval
	for i := 1; i <= attempt; i++ {
		d *= time.Duration(i)
	}
	return d
}

// HTTPStatusError is returned when the endpoint answers with a non-2xx status.
type HTTPStatusError struct {
	StatusCode int
	RetryAfter string
}

func (e *HTTPStatusError) Error() string {
	return fmt.Sprintf("upload returned status code %d", e.StatusCode)
}

// Temporary reports whether the status is worth retrying (5xx).
func (e *HTTPStatusError) Temporary() bool { return e.StatusCode >= 500 }

// SendError is returned once all attempts have failed.
type SendError struct {
	Attempts int
	Cause    error
}

func (e *SendError) Error() string {
	return fmt.Sprintf("unable to send replay - max retries exceeded: %v", e.Cause)
}

func (e *SendError) Unwrap() error { return e.Cause }

// SendData is everything needed to upload one segment.
type SendData struct {
	RecordingData    buffer.Payload
	ReplayID         string
	SegmentID        int
	Session          *session.Session
	Timestamp        int64
	InitialTimestamp int64
	URLs             []string
	ErrorIDs         []string
	TraceIDs         []string
}

// Client uploads segments through a Transport with retry.
type Client struct {
	Transport Transport
	Policy    RetryPolicy
	Logger    *slog.Logger

	sleep func(context.Context, time.Duration) error
}

// NewClient returns a Client using DefaultRetryPolicy.
func NewClient(t Transport, logger *slog.Logger) *Client {
	if logger == nil {
		logger = slog.Default()
	}
	return &Client{Transport: t, Policy: DefaultRetryPolicy(), Logger: logger}
}

// SendReplay uploads data. An empty payload or an unsampled session is a no-op.
// Non-2xx statuses below 500 fail immediately; network errors and 5xx are
// retried until Policy.MaxAttempts is reached.
func (c *Client) SendReplay(ctx context.Context, data SendData) (Response, error) {
	if data.RecordingData.Empty() {
		return Response{}, nil
	}
	if data.Session == nil || data.Session.Sampled == session.Unsampled {
		return Response{}, nil
	}
	metrics.ObservePayloadBytes(len(data.RecordingData.Data))

	env := Envelope{Event: NewReplayEvent(data), Payload: data.RecordingData}
	attempts := c.Policy.MaxAttempts
	if attempts <= 0 {
		attempts = 1
	}
	sleep := c.sleep
	if sleep == nil {
		sleep = sleepCtx
	}

	var lastErr error
	for attempt := 1; attempt <= attempts; attempt++ {
		resp, err := c.sendOnce(ctx, env)
		if err == nil {
			metrics.IncUploadAttempt("ok")
			return resp, nil
		}
		var se *HTTPStatusError
		if errors.As(err, &se) && !se.Temporary() {
			metrics.IncUploadAttempt("terminal")
			return resp, err
		}
		lastErr = err
		metrics.IncUploadAttempt("retry")
		if attempt == attempts {
			break
		}
		delay := c.Policy.Delay(attempt)
		c.Logger.Debug("upload failed, retrying", "attempt", attempt, "delay", delay, "error", err)
		if err := sleep(ctx, delay); err != nil {
			return Response{}, err
		}
	}
	return Response{}, &SendError{Attempts: attempts, Cause: lastErr}
}

func (c *Client) sendOnce(ctx context.Context, env Envelope) (Response, error) {
	resp, err := c.Transport.Send(ctx, env)
	if err != nil {
		return resp, err
	}
	if resp.StatusCode != 0 && (resp.StatusCode < 200 || resp.StatusCode >= 300) {
		return resp, &HTTPStatusError{StatusCode: resp.StatusCode, RetryAfter: resp.RetryAfter}
	}
	return resp, nil
}

// NewReplayEvent builds the metadata event for d. d.Session must be set.
func NewReplayEvent(d SendData) ReplayEvent {
	return ReplayEvent{
		Type:                 ReplayEventType,
		ReplayID:             d.ReplayID,
		SegmentID:            d.SegmentID,
		ReplayType:           string(d.Session.Sampled),
		ReplayStartTimestamp: float64(d.InitialTimestamp) / 1000,
		Timestamp:            float64(d.Timestamp) / 1000,
		URLs:                 nonNil(d.URLs),
		ErrorIDs:             nonNil(d.ErrorIDs),
		TraceIDs:             nonNil(d.TraceIDs),
	}
}

func nonNil(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
