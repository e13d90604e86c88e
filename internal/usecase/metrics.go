package usecase

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Analysis outcomes used as metric labels.
const (
	OutcomeSuccess            = "success"
	OutcomeRejected           = "rejected"
	OutcomeInFlight           = "in_flight"
	OutcomeRequestFailed      = "request_failed"
	OutcomeUnrecognizedFormat = "unrecognized_format"
	OutcomeEmptyPrediction    = "empty_prediction"
	OutcomeError              = "error"
)

// Metrics records analysis activity.
type Metrics struct {
	analyses *prometheus.CounterVec
	shapes   *prometheus.CounterVec
	duration prometheus.Histogram
}

// NewMetrics registers the analysis collectors on reg.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		analyses: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "typeteller",
			Name:      "analyses_total",
			Help:      "Analysis attempts, labeled by outcome.",
		}, []string{"outcome"}),
		shapes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "typeteller",
			Name:      "reply_shapes_total",
			Help:      "Classifier replies, labeled by the reply shape that was recognised.",
		}, []string{"shape"}),
		duration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "typeteller",
			Name:      "inference_duration_seconds",
			Help:      "Time spent waiting for the hosted classifier, fallback included.",
			Buckets:   []float64{0.25, 0.5, 1, 2, 5, 10, 20, 60, 120},
		}),
	}
	reg.MustRegister(m.analyses, m.shapes, m.duration)
	return m
}

func (m *Metrics) observeOutcome(outcome string) {
	if m == nil {
		return
	}
	m.analyses.WithLabelValues(outcome).Inc()
}

func (m *Metrics) observeShape(shape string) {
	if m == nil {
		return
	}
	m.shapes.WithLabelValues(shape).Inc()
}

func (m *Metrics) observeInference(d time.Duration) {
	if m == nil {
		return
	}
	m.duration.Observe(d.Seconds())
}
