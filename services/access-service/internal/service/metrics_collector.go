package service

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

type MetricsCollector struct {
	grants             *prometheus.CounterVec
	controllerDuration *prometheus.HistogramVec
	lockContention     prometheus.Counter
}

func NewMetricsCollector(reg prometheus.Registerer) *MetricsCollector {
	factory := promauto.With(reg)

	return &MetricsCollector{
		grants: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "hotspot_grants_issued_total",
				Help: "Grant requests handled, by result",
			},
			[]string{"result"},
		),
		controllerDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "hotspot_controller_request_duration_seconds",
				Help:    "Network controller API latency",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"operation"},
		),
		lockContention: factory.NewCounter(
			prometheus.CounterOpts{
				Name: "hotspot_grant_lock_contention_total",
				Help: "Grant requests rejected because the session lock was held",
			},
		),
	}
}

// RecordGrant takes one of "granted", "idempotent", "rejected" or "failed".
func (m *MetricsCollector) RecordGrant(result string) {
	if m == nil {
		return
	}
	m.grants.WithLabelValues(result).Inc()
}

func (m *MetricsCollector) ObserveController(operation string, d time.Duration) {
	if m == nil {
		return
	}
	m.controllerDuration.WithLabelValues(operation).Observe(d.Seconds())
}

func (m *MetricsCollector) IncrementLockContention() {
	if m == nil {
		return
	}
	m.lockContention.Inc()
}
