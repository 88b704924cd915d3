// Package metrics exposes Prometheus instrumentation for the voice
// pipeline.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics contains all Prometheus metrics for the voice client. A nil
// *Metrics is valid and records nothing, so instrumentation stays
// optional.
type Metrics struct {
	// Stream metrics
	FramesReceived  *prometheus.CounterVec
	FramesMalformed prometheus.Counter
	CyclesStarted   prometheus.Counter
	CyclesFailed    prometheus.Counter

	// Chunk pipeline metrics
	ChunksPlayed      prometheus.Counter
	ChunksSkipped     *prometheus.CounterVec
	ArtifactsExpired  prometheus.Counter
	ChunkFetchSeconds prometheus.Histogram
	PendingChunks     prometheus.Gauge
}

// New creates and registers all voice pipeline metrics on reg; a nil
// reg uses the default registerer.
func New(reg prometheus.Registerer) *Metrics {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	factory := promauto.With(reg)

	return &Metrics{
		FramesReceived: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "vocalis_frames_received_total",
			Help: "Stream frames received, by frame type",
		}, []string{"type"}),
		FramesMalformed: factory.NewCounter(prometheus.CounterOpts{
			Name: "vocalis_frames_malformed_total",
			Help: "Stream lines dropped as malformed",
		}),
		CyclesStarted: factory.NewCounter(prometheus.CounterOpts{
			Name: "vocalis_cycles_started_total",
			Help: "Response cycles started",
		}),
		CyclesFailed: factory.NewCounter(prometheus.CounterOpts{
			Name: "vocalis_cycles_failed_total",
			Help: "Response cycles ended by a transport or server error",
		}),
		ChunksPlayed: factory.NewCounter(prometheus.CounterOpts{
			Name: "vocalis_chunks_played_total",
			Help: "Audio chunks handed to the output device",
		}),
		ChunksSkipped: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "vocalis_chunks_skipped_total",
			Help: "Audio chunks skipped, by reason",
		}, []string{"reason"}),
		ArtifactsExpired: factory.NewCounter(prometheus.CounterOpts{
			Name: "vocalis_artifacts_expired_total",
			Help: "Artifact fetches answered with 404",
		}),
		ChunkFetchSeconds: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "vocalis_chunk_fetch_seconds",
			Help:    "Artifact fetch latency",
			Buckets: prometheus.DefBuckets,
		}),
		PendingChunks: factory.NewGauge(prometheus.GaugeOpts{
			Name: "vocalis_pending_chunks",
			Help: "Out-of-order chunks currently buffered",
		}),
	}
}

// Skip reasons for ChunksSkipped.
const (
	SkipReasonExpired = "expired"
	SkipReasonDecode  = "decode"
	SkipReasonFetch   = "fetch"
	SkipReasonSynth   = "synthesis"
)

func (m *Metrics) ObserveFrame(frameType string) {
	if m == nil {
		return
	}
	m.FramesReceived.WithLabelValues(frameType).Inc()
}

func (m *Metrics) ObserveMalformedFrame() {
	if m == nil {
		return
	}
	m.FramesMalformed.Inc()
}

func (m *Metrics) ObserveCycleStart() {
	if m == nil {
		return
	}
	m.CyclesStarted.Inc()
}

func (m *Metrics) ObserveCycleFailure() {
	if m == nil {
		return
	}
	m.CyclesFailed.Inc()
}

func (m *Metrics) ObserveChunkPlayed() {
	if m == nil {
		return
	}
	m.ChunksPlayed.Inc()
}

func (m *Metrics) ObserveChunkSkipped(reason string) {
	if m == nil {
		return
	}
	m.ChunksSkipped.WithLabelValues(reason).Inc()
}

func (m *Metrics) ObserveArtifactExpired() {
	if m == nil {
		return
	}
	m.ArtifactsExpired.Inc()
}

func (m *Metrics) ObserveFetchSeconds(seconds float64) {
	if m == nil {
		return
	}
	m.ChunkFetchSeconds.Observe(seconds)
}

func (m *Metrics) SetPendingChunks(n int) {
	if m == nil {
		return
	}
	m.PendingChunks.Set(float64(n))
}
