package rollout

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/AbhishekMashetty/axon/internal/domain"
)

// Metrics records orchestration outcomes. A nil *Metrics records nothing.
type Metrics struct {
	deployments *prometheus.CounterVec
	duration    *prometheus.HistogramVec
	inFlight    prometheus.Gauge
	batches     *prometheus.CounterVec
	rollbacks   prometheus.Counter
}

// NewMetrics builds the collectors and registers them with reg when it is non-nil.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		deployments: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "axon",
			Name:      "deployments_total",
			Help:      "Finished deployments partitioned by pillar and final status.",
		}, []string{"pillar", "status"}),
		duration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "axon",
			Name:      "deployment_duration_seconds",
			Help:      "Time from PROCESSING to a final status.",
			Buckets:   []float64{30, 60, 120, 300, 600, 900, 1200, 1800, 3600},
		}, []string{"pillar", "status"}),
		inFlight: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "axon",
			Name:      "deployments_in_flight",
			Help:      "Deployments currently held by a worker.",
		}),
		batches: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "axon",
			Name:      "batches_total",
			Help:      "Processed batches partitioned by final status.",
		}, []string{"status"}),
		rollbacks: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "axon",
			Name:      "rolled_back_deployments_total",
			Help:      "Deployments moved to ROLLBACK.",
		}),
	}
	if reg != nil {
		reg.MustRegister(m.deployments, m.duration, m.inFlight, m.batches, m.rollbacks)
	}
	return m
}

func (m *Metrics) workerStarted() {
	if m == nil {
		return
	}
	m.inFlight.Inc()
}

func (m *Metrics) workerFinished(pillar domain.Pillar, status domain.Status, elapsed time.Duration) {
	if m == nil {
		return
	}
	m.inFlight.Dec()
	m.deployments.WithLabelValues(string(pillar), string(status)).Inc()
	m.duration.WithLabelValues(string(pillar), string(status)).Observe(elapsed.Seconds())
}

func (m *Metrics) batchFinished(status domain.Status) {
	if m == nil {
		return
	}
	m.batches.WithLabelValues(string(status)).Inc()
}

func (m *Metrics) rolledBack(n int) {
	if m == nil {
		return
	}
	m.rollbacks.Add(float64(n))
}
