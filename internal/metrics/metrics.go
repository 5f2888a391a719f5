// Package metrics holds the prometheus collectors for the recorder, the
// upload pipeline and the collector.
package metrics

import (
	"errors"
	"net/http"
	"sync/atomic"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Package-level Prometheus collectors. They are registered via Register.
var (
	regOK atomic.Bool

	flushes = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "replay",
			Subsystem: "recorder",
			Name:      "flushes_total",
			Help:      "Flush attempts by outcome.",
		}, []string{"result"},
	)
	stops = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "replay",
			Subsystem: "recorder",
			Name:      "stops_total",
			Help:      "Recording stops by reason.",
		}, []string{"reason"},
	)
	bufferType = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: "replay",
			Subsystem: "recorder",
			Name:      "buffer_type",
			Help:      "Active event buffer implementation (1 = active).",
		}, []string{"type"},
	)
	eventsDropped = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "replay",
			Subsystem: "recorder",
			Name:      "events_dropped_total",
			Help:      "Events not added to the buffer, by reason.",
		}, []string{"reason"},
	)

	uploadAttempts = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "replay",
			Subsystem: "upload",
			Name:      "attempts_total",
			Help:      "Upload attempts by outcome.",
		}, []string{"outcome"},
	)
	uploadDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: "replay",
			Subsystem: "upload",
			Name:      "duration_seconds",
			Help:      "Duration of single upload requests.",
			Buckets:   prometheus.DefBuckets,
		},
	)
	payloadBytes = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: "replay",
			Subsystem: "upload",
			Name:      "payload_bytes",
			Help:      "Size of finished segment payloads.",
			Buckets:   prometheus.ExponentialBuckets(256, 4, 10),
		},
	)

	collectorSegments = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "replay",
			Subsystem: "collector",
			Name:      "segments_total",
			Help:      "Segments received by the collector, by status.",
		}, []string{"status"},
	)
	collectorEvents = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "replay",
			Subsystem: "collector",
			Name:      "events_total",
			Help:      "Recording events stored by the collector.",
		},
	)
)

// Register registers all metrics with the provided registerer.
// It is safe to call multiple times; subsequent calls after success are no-ops.
func Register(r prometheus.Registerer) error {
	if regOK.Load() {
		return nil
	}
	cs := []prometheus.Collector{
		flushes, stops, bufferType, eventsDropped,
		uploadAttempts, uploadDuration, payloadBytes,
		collectorSegments, collectorEvents,
	}
	for _, c := range cs {
		if err := r.Register(c); err != nil {
			var are prometheus.AlreadyRegisteredError
			if errors.As(err, &are) {
				continue
			}
			return err
		}
	}
	regOK.Store(true)
	return nil
}

// Handler serves the DefaultGatherer.
func Handler() http.Handler { return promhttp.Handler() }

// HandlerFor serves the given gatherer.
func HandlerFor(g prometheus.Gatherer) http.Handler {
	return promhttp.HandlerFor(g, promhttp.HandlerOpts{})
}

// Below are lightweight helpers used by internal packages to record metrics.
// They no-op if Register hasn't been called.

func IncFlush(result string) {
	if regOK.Load() {
		flushes.WithLabelValues(result).Inc()
	}
}

func IncStop(reason string) {
	if regOK.Load() {
		stops.WithLabelValues(reason).Inc()
	}
}

// SetBufferType marks typ as the active buffer and clears the other known types.
func SetBufferType(typ string) {
	if !regOK.Load() {
		return
	}
	for _, t := range []string{"sync", "worker"} {
		v := 0.0
		if t == typ {
			v = 1
		}
		bufferType.WithLabelValues(t).Set(v)
	}
}

func IncEventDropped(reason string) {
	if regOK.Load() {
		eventsDropped.WithLabelValues(reason).Inc()
	}
}

func IncUploadAttempt(outcome string) {
	if regOK.Load() {
		uploadAttempts.WithLabelValues(outcome).Inc()
	}
}

func ObserveUploadDuration(seconds float64) {
	if regOK.Load() {
		uploadDuration.Observe(seconds)
	}
}

func ObservePayloadBytes(n int) {
	if regOK.Load() {
		payloadBytes.Observe(float64(n))
	}
}

func IncCollectorSegment(status string) {
	if regOK.Load() {
		collectorSegments.WithLabelValues(status).Inc()
	}
}

func AddCollectorEvents(n int) {
	if regOK.Load() && n > 0 {
		collectorEvents.Add(float64(n))
	}
}
