// Package metrics registers Prometheus instrumentation for the recording
// pipeline: queue drops, utterance flushes, upload parts, and media request
// outcomes.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds the Prometheus collectors for one bot process.
type Metrics struct {
	registry *prometheus.Registry

	queueDropsTotal        *prometheus.CounterVec
	utterancesFlushedTotal *prometheus.CounterVec
	uploadPartsTotal       prometheus.Counter
	uploadErrorsTotal      prometheus.Counter
	mediaRequestsTotal     *prometheus.CounterVec
	framesForwardedTotal   prometheus.Counter
}

// New creates and registers the bot's Prometheus collectors.
func New() *Metrics {
	registry := prometheus.NewRegistry()

	queueDropsTotal := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "confbot_queue_drops_total",
		Help: "Total buffers dropped by bounded pipeline queues, per stage",
	}, []string{"stage"})
	utterancesFlushedTotal := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "confbot_utterances_flushed_total",
		Help: "Total utterances flushed by the segmenter, per flush reason",
	}, []string{"reason"})
	uploadPartsTotal := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "confbot_upload_parts_total",
		Help: "Total multipart upload parts acknowledged by storage",
	})
	uploadErrorsTotal := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "confbot_upload_errors_total",
		Help: "Total part upload attempts that failed",
	})
	mediaRequestsTotal := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "confbot_media_requests_total",
		Help: "Total outbound media requests by terminal state",
	}, []string{"state"})
	framesForwardedTotal := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "confbot_frames_forwarded_total",
		Help: "Total scaled video frames forwarded to the encode pipeline",
	})

	registry.MustRegister(
		queueDropsTotal,
		utterancesFlushedTotal,
		uploadPartsTotal,
		uploadErrorsTotal,
		mediaRequestsTotal,
		framesForwardedTotal,
	)

	return &Metrics{
		registry:               registry,
		queueDropsTotal:        queueDropsTotal,
		utterancesFlushedTotal: utterancesFlushedTotal,
		uploadPartsTotal:       uploadPartsTotal,
		uploadErrorsTotal:      uploadErrorsTotal,
		mediaRequestsTotal:     mediaRequestsTotal,
		framesForwardedTotal:   framesForwardedTotal,
	}
}

// AddQueueDrops records n dropped buffers for the named pipeline stage.
func (m *Metrics) AddQueueDrops(stage string, n float64) {
	if m == nil {
		return
	}
	m.queueDropsTotal.WithLabelValues(stage).Add(n)
}

// IncUtteranceFlushed records one flushed utterance with its reason.
func (m *Metrics) IncUtteranceFlushed(reason string) {
	if m == nil {
		return
	}
	m.utterancesFlushedTotal.WithLabelValues(reason).Inc()
}

// IncUploadPart records one acknowledged upload part.
func (m *Metrics) IncUploadPart() {
	if m == nil {
		return
	}
	m.uploadPartsTotal.Inc()
}

// IncUploadError records one failed part upload attempt.
func (m *Metrics) IncUploadError() {
	if m == nil {
		return
	}
	m.uploadErrorsTotal.Inc()
}

// IncMediaRequest records one media request reaching a terminal state.
func (m *Metrics) IncMediaRequest(state string) {
	if m == nil {
		return
	}
	m.mediaRequestsTotal.WithLabelValues(state).Inc()
}

// IncFrameForwarded records one scaled frame handed to the pipeline.
func (m *Metrics) IncFrameForwarded() {
	if m == nil {
		return
	}
	m.framesForwardedTotal.Inc()
}

// Handler returns an http.Handler serving the registry.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}
