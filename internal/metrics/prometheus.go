package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics contains the Prometheus metrics of the transcription pipeline. A
// nil *Metrics is valid and records nothing.
type Metrics struct {
	// Ingest metrics
	BytesIngested   prometheus.Counter
	SamplesIngested prometheus.Counter
	BufferSeconds   prometheus.Gauge
	BufferOffset    prometheus.Gauge
	BufferTrims     prometheus.Counter

	// Recognition metrics
	Cycles             *prometheus.CounterVec
	RecognizerErrors   prometheus.Counter
	RecognizerDuration prometheus.Histogram
	WindowSeconds      prometheus.Histogram
	CandidatesDropped  *prometheus.CounterVec
	SegmentsCommitted  prometheus.Counter
	StaleClips         prometheus.Counter
	Paused             prometheus.Gauge

	// Delivery metrics
	Publishes     prometheus.Counter
	PublishErrors prometheus.Counter
	WSClients     prometheus.Gauge
}

// New creates the metrics and registers them with reg.
func New(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		BytesIngested: f.NewCounter(prometheus.CounterOpts{
			Name: "streamwhisper_ingest_bytes_total",
			Help: "Total PCM bytes read from the byte source",
		}),
		SamplesIngested: f.NewCounter(prometheus.CounterOpts{
			Name: "streamwhisper_ingest_samples_total",
			Help: "Total samples appended to the ring buffer",
		}),
		BufferSeconds: f.NewGauge(prometheus.GaugeOpts{
			Name: "streamwhisper_buffer_seconds",
			Help: "Seconds of audio currently held by the ring buffer",
		}),
		BufferOffset: f.NewGauge(prometheus.GaugeOpts{
			Name: "streamwhisper_buffer_offset_seconds",
			Help: "Seconds of audio discarded from the head of the ring buffer",
		}),
		BufferTrims: f.NewCounter(prometheus.CounterOpts{
			Name: "streamwhisper_buffer_trims_total",
			Help: "Number of times the ring buffer dropped its oldest audio",
		}),

		Cycles: f.NewCounterVec(prometheus.CounterOpts{
			Name: "streamwhisper_recognition_cycles_total",
			Help: "Recognition cycles by outcome",
		}, []string{"outcome"}),
		RecognizerErrors: f.NewCounter(prometheus.CounterOpts{
			Name: "streamwhisper_recognizer_errors_total",
			Help: "Recognizer calls that returned an error",
		}),
		RecognizerDuration: f.NewHistogram(prometheus.HistogramOpts{
			Name:    "streamwhisper_recognizer_duration_seconds",
			Help:    "Latency of recognizer calls",
			Buckets: prometheus.ExponentialBuckets(0.01, 2, 12), // 10ms to ~20s
		}),
		WindowSeconds: f.NewHistogram(prometheus.HistogramOpts{
			Name:    "streamwhisper_window_seconds",
			Help:    "Duration of audio windows handed to the recognizer",
			Buckets: prometheus.LinearBuckets(1, 3, 10), // 1s to 28s
		}),
		CandidatesDropped: f.NewCounterVec(prometheus.CounterOpts{
			Name: "streamwhisper_candidates_dropped_total",
			Help: "Recognizer candidates dropped by reason",
		}, []string{"reason"}),
		SegmentsCommitted: f.NewCounter(prometheus.CounterOpts{
			Name: "streamwhisper_segments_committed_total",
			Help: "Segments appended to the committed transcript",
		}),
		StaleClips: f.NewCounter(prometheus.CounterOpts{
			Name: "streamwhisper_stale_clips_total",
			Help: "Times a stale un-recognized tail was skipped",
		}),
		Paused: f.NewGauge(prometheus.GaugeOpts{
			Name: "streamwhisper_paused",
			Help: "1 while transcription is paused",
		}),

		Publishes: f.NewCounter(prometheus.CounterOpts{
			Name: "streamwhisper_transcript_publishes_total",
			Help: "Transcript snapshots published on the event bus",
		}),
		PublishErrors: f.NewCounter(prometheus.CounterOpts{
			Name: "streamwhisper_transcript_publish_errors_total",
			Help: "Transcript publishes that a subscriber failed",
		}),
		WSClients: f.NewGauge(prometheus.GaugeOpts{
			Name: "streamwhisper_ws_clients",
			Help: "Connected websocket caption clients",
		}),
	}
}

func (m *Metrics) Cycle(outcome string) {
	if m == nil {
		return
	}
	m.Cycles.WithLabelValues(outcome).Inc()
}

func (m *Metrics) Dropped(reason string) {
	if m == nil {
		return
	}
	m.CandidatesDropped.WithLabelValues(reason).Inc()
}

func (m *Metrics) Recognized(seconds, windowSeconds float64, err error) {
	if m == nil {
		return
	}
	m.RecognizerDuration.Observe(seconds)
	m.WindowSeconds.Observe(windowSeconds)
	if err != nil {
		m.RecognizerErrors.Inc()
	}
}

func (m *Metrics) Committed() {
	if m == nil {
		return
	}
	m.SegmentsCommitted.Inc()
}

func (m *Metrics) StaleClip() {
	if m == nil {
		return
	}
	m.StaleClips.Inc()
}

func (m *Metrics) SetPaused(paused bool) {
	if m == nil {
		return
	}
	if paused {
		m.Paused.Set(1)
	} else {
		m.Paused.Set(0)
	}
}

func (m *Metrics) Published(err error) {
	if m == nil {
		return
	}
	m.Publishes.Inc()
	if err != nil {
		m.PublishErrors.Inc()
	}
}

// Ingested records one source read and the resulting buffer state.
func (m *Metrics) Ingested(bytes, samples int, bufferSeconds, bufferOffset float64, trims int) {
	if m == nil {
		return
	}
	m.BytesIngested.Add(float64(bytes))
	m.SamplesIngested.Add(float64(samples))
	m.BufferSeconds.Set(bufferSeconds)
	m.BufferOffset.Set(bufferOffset)
	if trims > 0 {
		m.BufferTrims.Add(float64(trims))
	}
}

func (m *Metrics) ClientConnected(delta int) {
	if m == nil {
		return
	}
	m.WSClients.Add(float64(delta))
}
