package observers

import (
	"github.com/harunnryd/vocalink/pkg/metrics"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// PrometheusObserver exports session metrics as Prometheus collectors.
type PrometheusObserver struct {
	negotiationLatency prometheus.Histogram
	candidates         *prometheus.CounterVec
	dispatched         *prometheus.CounterVec
	statusChanges      *prometheus.CounterVec
	inputVolume        prometheus.Gauge
}

// NewPrometheusObserver registers its collectors on reg under namespace.
// It panics if they are already registered there.
func NewPrometheusObserver(reg prometheus.Registerer, namespace string) *PrometheusObserver {
	factory := promauto.With(reg)
	return &PrometheusObserver{
		negotiationLatency: factory.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "negotiation_latency_seconds",
			Help:      "Time from offer creation to applied answer.",
			Buckets:   []float64{.05, .1, .25, .5, 1, 2, 5, 10},
		}),
		candidates: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "ice_candidates_total",
			Help:      "Local ICE candidates by outcome.",
		}, []string{"outcome"}),
		dispatched: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "events_dispatched_total",
			Help:      "Inbound peer channel events by type.",
		}, []string{"type"}),
		statusChanges: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "status_changes_total",
			Help:      "Session status transitions by target status.",
		}, []string{"status"}),
		inputVolume: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "input_volume",
			Help:      "Last captured microphone level in [0,1].",
		}),
	}
}

func (o *PrometheusObserver) RecordEvent(ev metrics.MetricsEvent) {
	switch ev.Name {
	case metrics.EventNegotiationLatency:
		o.negotiationLatency.Observe(ev.Value / 1000)
	case metrics.EventCandidateQueued:
		o.candidates.WithLabelValues("queued").Inc()
	case metrics.EventCandidateSent:
		o.candidates.WithLabelValues("sent").Inc()
	case metrics.EventCandidateDropped:
		o.candidates.WithLabelValues("dropped").Inc()
	case metrics.EventDispatched:
		o.dispatched.WithLabelValues(tag(ev, "type")).Inc()
	case metrics.EventStatusChange:
		o.statusChanges.WithLabelValues(tag(ev, "status")).Inc()
	case metrics.EventInputVolume:
		o.inputVolume.Set(ev.Value)
	}
}

func tag(ev metrics.MetricsEvent, key string) string {
	if ev.Tags == nil || ev.Tags[key] == "" {
		return "unknown"
	}
	return ev.Tags[key]
}

var _ metrics.Observer = (*PrometheusObserver)(nil)
