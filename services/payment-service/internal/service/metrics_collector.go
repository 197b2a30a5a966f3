package service

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/grigta/hotspot/services/payment-service/internal/models"
)

type MetricsCollector struct {
	sessionsStarted   prometheus.Counter
	sessionOutcomes   *prometheus.CounterVec
	pollAttempts      *prometheus.CounterVec
	providerLatency   *prometheus.HistogramVec
	confirmationTime  prometheus.Histogram
	grants            *prometheus.CounterVec
	activeSessions    prometheus.Gauge
	placeholderGrants prometheus.Counter
}

// NewMetricsCollector registers on reg; pass prometheus.DefaultRegisterer in main.
// A nil *MetricsCollector records nothing.
func NewMetricsCollector(reg prometheus.Registerer) *MetricsCollector {
	factory := promauto.With(reg)

	return &MetricsCollector{
		sessionsStarted: factory.NewCounter(
			prometheus.CounterOpts{
				Name: "hotspot_sessions_started_total",
				Help: "Total number of accepted purchase requests",
			},
		),
		sessionOutcomes: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "hotspot_session_outcomes_total",
				Help: "Terminal session states",
			},
			[]string{"state"},
		),
		pollAttempts: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "hotspot_poll_attempts_total",
				Help: "Payment status queries by classified result",
			},
			[]string{"result"},
		),
		providerLatency: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "hotspot_provider_request_duration_seconds",
				Help:    "Latency of payment provider calls",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"endpoint"},
		),
		confirmationTime: factory.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "hotspot_payment_confirmation_seconds",
				Help:    "Time from initiation to confirmed payment",
				Buckets: prometheus.ExponentialBuckets(2, 2, 8),
			},
		),
		grants: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "hotspot_access_grants_total",
				Help: "Access grant calls by result",
			},
			[]string{"result"},
		),
		activeSessions: factory.NewGauge(
			prometheus.GaugeOpts{
				Name: "hotspot_active_sessions",
				Help: "Sessions currently in flight",
			},
		),
		placeholderGrants: factory.NewCounter(
			prometheus.CounterOpts{
				Name: "hotspot_placeholder_identity_total",
				Help: "Purchases that fell back to the placeholder network identity",
			},
		),
	}
}

func (m *MetricsCollector) IncrementSessionStarted() {
	if m == nil {
		return
	}
	m.sessionsStarted.Inc()
	m.activeSessions.Inc()
}

func (m *MetricsCollector) RecordSessionOutcome(state models.SessionState) {
	if m == nil {
		return
	}
	m.sessionOutcomes.WithLabelValues(string(state)).Inc()
	m.activeSessions.Dec()
}

func (m *MetricsCollector) IncrementPollAttempt(result string) {
	if m == nil {
		return
	}
	m.pollAttempts.WithLabelValues(result).Inc()
}

func (m *MetricsCollector) ObserveProviderLatency(endpoint string, d time.Duration) {
	if m == nil {
		return
	}
	m.providerLatency.WithLabelValues(endpoint).Observe(d.Seconds())
}

func (m *MetricsCollector) ObserveConfirmation(d time.Duration) {
	if m == nil {
		return
	}
	m.confirmationTime.Observe(d.Seconds())
}

func (m *MetricsCollector) IncrementGrant(success bool) {
	if m == nil {
		return
	}
	result := "failure"
	if success {
		result = "success"
	}
	m.grants.WithLabelValues(result).Inc()
}

func (m *MetricsCollector) IncrementPlaceholderIdentity() {
	if m == nil {
		return
	}
	m.placeholderGrants.Inc()
}
