package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics bundles the platform's Prometheus collectors. Collectors register
// on the default registry so promhttp.Handler serves them without extra
// wiring.
type Metrics struct {
	verifications *prometheus.CounterVec
	marks         *prometheus.CounterVec
	fraudAlerts   *prometheus.CounterVec
	extraction    prometheus.Histogram
}

// New registers and returns the collector set. Call once per process.
func New() *Metrics {
	m := &Metrics{
		verifications: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "faceattend_verifications_total",
			Help: "Face verification attempts by outcome.",
		}, []string{"outcome"}),
		marks: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "faceattend_marks_total",
			Help: "Attendance marks by resulting status.",
		}, []string{"status"}),
		fraudAlerts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "faceattend_fraud_alerts_total",
			Help: "Fraud alerts raised by type.",
		}, []string{"type"}),
		extraction: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "faceattend_extraction_seconds",
			Help:    "Face descriptor extraction latency.",
			Buckets: prometheus.DefBuckets,
		}),
	}
	prometheus.MustRegister(m.verifications, m.marks, m.fraudAlerts, m.extraction)
	return m
}

// Verified counts a verification outcome ("match" or "no_match").
func (m *Metrics) Verified(match bool) {
	outcome := "no_match"
	if match {
		outcome = "match"
	}
	m.verifications.WithLabelValues(outcome).Inc()
}

// Marked counts a persisted attendance mark.
func (m *Metrics) Marked(status string) {
	m.marks.WithLabelValues(status).Inc()
}

// AlertRaised counts a fraud alert.
func (m *Metrics) AlertRaised(alertType string) {
	m.fraudAlerts.WithLabelValues(alertType).Inc()
}

// ObserveExtraction records one extraction duration.
func (m *Metrics) ObserveExtraction(d time.Duration) {
	m.extraction.Observe(d.Seconds())
}
