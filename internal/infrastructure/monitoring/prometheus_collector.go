package monitoring

import (
	"time"

	"proctorlink/internal/core/domain"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

type PrometheusCollector struct {
	sessionsActive      prometheus.Gauge
	framesRelayedTotal  *prometheus.CounterVec
	framesDroppedTotal  prometheus.Counter
	fallbackActivations prometheus.Counter
	violationsTotal     *prometheus.CounterVec
	livenessDropsTotal  prometheus.Counter

	sendLatency    prometheus.Histogram
	analyzeLatency prometheus.Histogram
}

func NewPrometheusCollector() *PrometheusCollector {
	return &PrometheusCollector{
		sessionsActive: promauto.NewGauge(prometheus.GaugeOpts{
			Name: "proctorlink_sessions_active",
			Help: "Number of sessions with a live connection",
		}),

		framesRelayedTotal: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "proctorlink_frames_relayed_total",
			Help: "Total frames accepted, by path and kind",
		}, []string{"path", "kind"}),

		framesDroppedTotal: promauto.NewCounter(prometheus.CounterOpts{
			Name: "proctorlink_frames_dropped_total",
			Help: "Total frames dropped by backpressure or send failure",
		}),

		fallbackActivations: promauto.NewCounter(prometheus.CounterOpts{
			Name: "proctorlink_fallback_activations_total",
			Help: "Sessions that started sending frames over the HTTP fallback path",
		}),

		violationsTotal: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "proctorlink_violations_total",
			Help: "Violations reported by the analysis service, by kind",
		}, []string{"kind", "severity"}),

		livenessDropsTotal: promauto.NewCounter(prometheus.CounterOpts{
			Name: "proctorlink_liveness_drops_total",
			Help: "Sessions declared disconnected by liveness window expiry",
		}),

		sendLatency: promauto.NewHistogram(prometheus.HistogramOpts{
			Name:    "proctorlink_frame_send_latency_seconds",
			Help:    "Frame send round-trip latency",
			Buckets: []float64{0.01, 0.05, 0.1, 0.2, 0.5, 1, 2, 5},
		}),

		analyzeLatency: promauto.NewHistogram(prometheus.HistogramOpts{
			Name:    "proctorlink_analyze_latency_seconds",
			Help:    "Upstream analysis latency",
			Buckets: []float64{0.01, 0.05, 0.1, 0.5, 1, 2, 5},
		}),
	}
}

func (p *PrometheusCollector) SessionConnected() {
	p.sessionsActive.Inc()
}

func (p *PrometheusCollector) SessionDisconnected() {
	p.sessionsActive.Dec()
}

func (p *PrometheusCollector) RecordFrameRelayed(path string, kind domain.FrameKind) {
	p.framesRelayedTotal.WithLabelValues(path, string(kind)).Inc()
}

func (p *PrometheusCollector) RecordFrameDropped() {
	p.framesDroppedTotal.Inc()
}

func (p *PrometheusCollector) RecordFallbackActivation() {
	p.fallbackActivations.Inc()
}

func (p *PrometheusCollector) RecordViolation(v domain.Violation) {
	p.violationsTotal.WithLabelValues(string(v.Kind), string(v.Severity)).Inc()
}

func (p *PrometheusCollector) RecordLivenessDrop() {
	p.livenessDropsTotal.Inc()
}

func (p *PrometheusCollector) RecordSendLatency(d time.Duration) {
	p.sendLatency.Observe(d.Seconds())
}

func (p *PrometheusCollector) RecordAnalyzeLatency(d time.Duration) {
	p.analyzeLatency.Observe(d.Seconds())
}
