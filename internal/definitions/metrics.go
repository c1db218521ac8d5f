package definitions

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics holds Prometheus metrics for the definitions subsystem.
type Metrics struct {
	OpsTotal          *prometheus.CounterVec
	OpDuration        *prometheus.HistogramVec
	PropagatedTotal   *prometheus.CounterVec
	PropagationFanout *prometheus.HistogramVec
}

// NewMetrics registers and returns definitions metrics on the given registerer.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		OpsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "beacon_definition_ops_total",
			Help: "Total definition operations by operation and outcome.",
		}, []string{"op", "outcome"}),
		OpDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "beacon_definition_op_duration_seconds",
			Help:    "Duration of definition operations in seconds.",
			Buckets: prometheus.ExponentialBuckets(0.0005, 2, 14), // 0.5ms .. ~4s
		}, []string{"op"}),
		PropagatedTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "beacon_group_propagations_total",
			Help: "Total member triggers rewritten by group operations.",
		}, []string{"op"}),
		PropagationFanout: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "beacon_group_propagation_members",
			Help:    "Members touched per group operation.",
			Buckets: prometheus.ExponentialBuckets(1, 2, 12), // 1 .. 2048
		}, []string{"op"}),
	}

	reg.MustRegister(
		m.OpsTotal,
		m.OpDuration,
		m.PropagatedTotal,
		m.PropagationFanout,
	)

	return m
}

func (m *Metrics) observe(op string, start time.Time, err error) {
	if m == nil {
		return
	}
	m.OpsTotal.WithLabelValues(op, string(KindOf(err))).Inc()
	m.OpDuration.WithLabelValues(op).Observe(time.Since(start).Seconds())
}

func (m *Metrics) propagated(op string, members int) {
	if m == nil {
		return
	}
	m.PropagatedTotal.WithLabelValues(op).Add(float64(members))
	m.PropagationFanout.WithLabelValues(op).Observe(float64(members))
}
