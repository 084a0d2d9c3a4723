// Package metrics provides Prometheus metrics for observability.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "ai_voice_call"

// Metrics holds all Prometheus metrics for the service.
type Metrics struct {
	// Call metrics
	CallsTotal     prometheus.Counter
	CallsActive    prometheus.Gauge
	CallsCompleted prometheus.Counter
	CallsFailed    prometheus.Counter
	CallDuration   prometheus.Histogram
	CallErrors     *prometheus.CounterVec
	StaleCleaned   prometheus.Counter

	// Audio metrics
	AudioBytesReceived  prometheus.Counter
	AudioChunksReceived prometheus.Counter
	FramesEmitted       prometheus.Counter
	SilentFrames        prometheus.Counter
	DecodeErrors        *prometheus.CounterVec
	AudioBytesSent      prometheus.Counter

	// Bridge metrics
	BridgeFramesDropped *prometheus.CounterVec
	BridgeJoinTimeouts  *prometheus.CounterVec
	STTErrors           *prometheus.CounterVec

	// Transcript metrics
	TranscriptsPartial prometheus.Counter
	TranscriptsFinal   prometheus.Counter

	// Conversation metrics
	TurnsTotal       prometheus.Counter
	ResponseLatency  prometheus.Histogram
	TTSLatency       prometheus.Histogram
	Escalations      *prometheus.CounterVec
	CollaboratorInit *prometheus.HistogramVec

	// Kafka publish metrics
	KafkaPublishTotal   *prometheus.CounterVec
	KafkaPublishErrors  *prometheus.CounterVec
	KafkaPublishLatency *prometheus.HistogramVec

	// RPC metrics
	RPCRequests *prometheus.CounterVec
	RPCLatency  *prometheus.HistogramVec
}

// DefaultMetrics is the global metrics instance.
var DefaultMetrics = NewMetrics(prometheus.DefaultRegisterer)

// NewMetrics creates all Prometheus metrics and registers them with reg.
// Tests pass a fresh prometheus.NewRegistry() to avoid duplicate registration.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)

	return &Metrics{
		// Call metrics
		CallsTotal: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "calls_total",
			Help:      "Total number of calls started",
		}),
		CallsActive: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "calls_active",
			Help:      "Number of currently active calls",
		}),
		CallsCompleted: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "calls_completed_total",
			Help:      "Total number of calls that ended normally",
		}),
		CallsFailed: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "calls_failed_total",
			Help:      "Total number of calls that ended in FAILED",
		}),
		CallDuration: f.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "call_duration_seconds",
			Help:      "Duration of calls in seconds",
			Buckets:   []float64{1, 5, 15, 30, 60, 120, 300, 600, 1200},
		}),
		CallErrors: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "call_errors_total",
			Help:      "Per-iteration call errors by type",
		}, []string{"error_type"}),
		StaleCleaned: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "stale_sessions_cleaned_total",
			Help:      "Total number of stale sessions force-ended by the sweeper",
		}),

		// Audio metrics
		AudioBytesReceived: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "audio_bytes_received_total",
			Help:      "Total inbound audio bytes received from the gateway",
		}),
		AudioChunksReceived: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "audio_chunks_received_total",
			Help:      "Total inbound audio messages received from the gateway",
		}),
		FramesEmitted: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "audio_frames_emitted_total",
			Help:      "Total aligned frames emitted by the frame processor",
		}),
		SilentFrames: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "audio_frames_silent_total",
			Help:      "Total emitted frames classified as silent",
		}),
		DecodeErrors: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "audio_decode_errors_total",
			Help:      "Total audio chunks skipped because they could not be decoded",
		}, []string{"encoding"}),
		AudioBytesSent: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "audio_bytes_sent_total",
			Help:      "Total synthesized audio bytes written back to the gateway",
		}),

		// Bridge metrics
		BridgeFramesDropped: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "bridge_frames_dropped_total",
			Help:      "Frames dropped because the STT audio queue was full",
		}, []string{"provider"}),
		BridgeJoinTimeouts: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "bridge_join_timeouts_total",
			Help:      "STT workers abandoned because they did not stop in time",
		}, []string{"provider"}),
		STTErrors: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "stt_errors_total",
			Help:      "Total number of STT errors",
		}, []string{"provider", "error_type"}),

		// Transcript metrics
		TranscriptsPartial: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "transcripts_partial_total",
			Help:      "Total number of partial transcripts received",
		}),
		TranscriptsFinal: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "transcripts_final_total",
			Help:      "Total number of final transcripts received",
		}),

		// Conversation metrics
		TurnsTotal: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "turns_total",
			Help:      "Total number of caller utterances answered",
		}),
		ResponseLatency: f.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "response_latency_seconds",
			Help:      "Time spent classifying and generating a response",
			Buckets:   []float64{0.01, 0.05, 0.1, 0.25, 0.5, 1, 2, 5},
		}),
		TTSLatency: f.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "tts_latency_seconds",
			Help:      "Time spent synthesizing a response",
			Buckets:   []float64{0.01, 0.05, 0.1, 0.25, 0.5, 1, 2, 5},
		}),
		Escalations: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "escalations_total",
			Help:      "Calls flagged for escalation to a human",
		}, []string{"reason"}),
		CollaboratorInit: f.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "collaborator_init_seconds",
			Help:      "Initialization time of lazily constructed collaborators",
			Buckets:   []float64{0.001, 0.01, 0.1, 0.5, 1, 5, 10},
		}, []string{"collaborator", "outcome"}),

		// Kafka publish metrics
		KafkaPublishTotal: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "kafka_publish_total",
			Help:      "Total number of Kafka messages published",
		}, []string{"topic", "event_type"}),
		KafkaPublishErrors: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "kafka_publish_errors_total",
			Help:      "Total number of Kafka publish errors",
		}, []string{"topic", "event_type"}),
		KafkaPublishLatency: f.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "kafka_publish_latency_seconds",
			Help:      "Kafka publish latency in seconds",
			Buckets:   []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1},
		}, []string{"topic"}),

		// RPC metrics
		RPCRequests: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "rpc_requests_total",
			Help:      "Total gRPC requests by method and status code",
		}, []string{"method", "code"}),
		RPCLatency: f.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "rpc_latency_seconds",
			Help:      "gRPC request latency in seconds",
			Buckets:   prometheus.DefBuckets,
		}, []string{"method"}),
	}
}

// RecordCallStart records a new call starting.
func (m *Metrics) RecordCallStart() {
	m.CallsTotal.Inc()
	m.CallsActive.Inc()
}

// RecordCallEnd records a call ending.
func (m *Metrics) RecordCallEnd(failed bool, durationSeconds float64) {
	m.CallsActive.Dec()
	m.CallDuration.Observe(durationSeconds)
	if failed {
		m.CallsFailed.Inc()
	} else {
		m.CallsCompleted.Inc()
	}
}

// RecordCallError records a recoverable per-iteration error.
func (m *Metrics) RecordCallError(errorType string) {
	m.CallErrors.WithLabelValues(errorType).Inc()
}

// RecordStaleCleanup records sessions force-ended by the sweeper.
func (m *Metrics) RecordStaleCleanup(n int) {
	m.StaleCleaned.Add(float64(n))
}

// RecordAudioReceived records one inbound audio message.
func (m *Metrics) RecordAudioReceived(bytes int) {
	m.AudioBytesReceived.Add(float64(bytes))
	m.AudioChunksReceived.Inc()
}

// RecordFrames records frames emitted by the processor for one chunk.
func (m *Metrics) RecordFrames(emitted, silent int) {
	m.FramesEmitted.Add(float64(emitted))
	m.SilentFrames.Add(float64(silent))
}

// RecordDecodeError records a chunk skipped by the decoder.
func (m *Metrics) RecordDecodeError(encoding string) {
	m.DecodeErrors.WithLabelValues(encoding).Inc()
}

// RecordAudioSent records synthesized audio written to the gateway.
func (m *Metrics) RecordAudioSent(bytes int) {
	m.AudioBytesSent.Add(float64(bytes))
}

// RecordFrameDropped records a frame dropped on a full bridge queue.
func (m *Metrics) RecordFrameDropped(provider string) {
	m.BridgeFramesDropped.WithLabelValues(provider).Inc()
}

// RecordJoinTimeout records a bridge worker that failed to stop in time.
func (m *Metrics) RecordJoinTimeout(provider string) {
	m.BridgeJoinTimeouts.WithLabelValues(provider).Inc()
}

// RecordSTTError records an STT error.
func (m *Metrics) RecordSTTError(provider, errorType string) {
	m.STTErrors.WithLabelValues(provider, errorType).Inc()
}

// RecordPartialTranscript records a partial transcript received.
func (m *Metrics) RecordPartialTranscript() {
	m.TranscriptsPartial.Inc()
}

// RecordFinalTranscript records a final transcript received.
func (m *Metrics) RecordFinalTranscript() {
	m.TranscriptsFinal.Inc()
}

// RecordTurn records one answered caller utterance.
func (m *Metrics) RecordTurn(responseSeconds, ttsSeconds float64) {
	m.TurnsTotal.Inc()
	m.ResponseLatency.Observe(responseSeconds)
	m.TTSLatency.Observe(ttsSeconds)
}

// RecordEscalation records a call flagged for escalation.
func (m *Metrics) RecordEscalation(reason string) {
	m.Escalations.WithLabelValues(reason).Inc()
}

// RecordCollaboratorInit records how long a collaborator took to initialize.
func (m *Metrics) RecordCollaboratorInit(name string, err error, seconds float64) {
	outcome := "ok"
	if err != nil {
		outcome = "error"
	}
	m.CollaboratorInit.WithLabelValues(name, outcome).Observe(seconds)
}

// RecordKafkaPublish records a Kafka publish attempt.
func (m *Metrics) RecordKafkaPublish(topic, eventType string, err error, latencySeconds float64) {
	m.KafkaPublishTotal.WithLabelValues(topic, eventType).Inc()
	m.KafkaPublishLatency.WithLabelValues(topic).Observe(latencySeconds)
	if err != nil {
		m.KafkaPublishErrors.WithLabelValues(topic, eventType).Inc()
	}
}

// RecordRPC records a completed gRPC request.
func (m *Metrics) RecordRPC(method, code string, latencySeconds float64) {
	m.RPCRequests.WithLabelValues(method, code).Inc()
	m.RPCLatency.WithLabelValues(method).Observe(latencySeconds)
}
