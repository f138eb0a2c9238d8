package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics provides observability for the verification pipeline. A nil
// *Metrics is valid and records nothing.
type Metrics struct {
	SessionsCreated prometheus.Counter
	SessionsExpired prometheus.Counter

	// Submissions by artifact ("personal_info", "document", "biometric") and
	// outcome ("verified", "rejected", "failed", "timeout").
	Submissions *prometheus.CounterVec

	AnalyzerLatency  *prometheus.HistogramVec
	AnalyzerFailures *prometheus.CounterVec
	InFlightChecks   prometheus.Gauge

	FinalizeOutcomes *prometheus.CounterVec
}

// New registers the pipeline metrics on reg.
func New(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		SessionsCreated: f.NewCounter(prometheus.CounterOpts{
			Name: "kyc_sessions_created_total",
			Help: "Verification sessions created, including resets",
		}),
		SessionsExpired: f.NewCounter(prometheus.CounterOpts{
			Name: "kyc_sessions_expired_total",
			Help: "Verification sessions moved to expired",
		}),
		Submissions: f.NewCounterVec(prometheus.CounterOpts{
			Name: "kyc_submissions_total",
			Help: "Artifact submissions by artifact and outcome",
		}, []string{"artifact", "outcome"}),
		AnalyzerLatency: f.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "kyc_analyzer_duration_seconds",
			Help:    "Duration of provider analysis calls by artifact",
			Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30, 60},
		}, []string{"artifact"}),
		AnalyzerFailures: f.NewCounterVec(prometheus.CounterOpts{
			Name: "kyc_analyzer_failures_total",
			Help: "Provider analysis failures by artifact and error category",
		}, []string{"artifact", "category"}),
		InFlightChecks: f.NewGauge(prometheus.GaugeOpts{
			Name: "kyc_analyzer_in_flight",
			Help: "Provider analysis calls currently outstanding",
		}),
		FinalizeOutcomes: f.NewCounterVec(prometheus.CounterOpts{
			Name: "kyc_finalize_outcomes_total",
			Help: "Finalize results by session status and risk level",
		}, []string{"status", "risk"}),
	}
}

func (m *Metrics) IncSessionsCreated() {
	if m != nil {
		m.SessionsCreated.Inc()
	}
}

func (m *Metrics) AddSessionsExpired(n int) {
	if m != nil {
		m.SessionsExpired.Add(float64(n))
	}
}

func (m *Metrics) IncSubmission(artifact, outcome string) {
	if m != nil {
		m.Submissions.WithLabelValues(artifact, outcome).Inc()
	}
}

// ObserveAnalyzerLatency records one provider call.
func (m *Metrics) ObserveAnalyzerLatency(artifact string, d time.Duration) {
	if m != nil {
		m.AnalyzerLatency.WithLabelValues(artifact).Observe(d.Seconds())
	}
}

func (m *Metrics) IncAnalyzerFailure(artifact, category string) {
	if m != nil {
		m.AnalyzerFailures.WithLabelValues(artifact, category).Inc()
	}
}

func (m *Metrics) CheckStarted() {
	if m != nil {
		m.InFlightChecks.Inc()
	}
}

func (m *Metrics) CheckFinished() {
	if m != nil {
		m.InFlightChecks.Dec()
	}
}

func (m *Metrics) IncFinalizeOutcome(status, risk string) {
	if m != nil {
		m.FinalizeOutcomes.WithLabelValues(status, risk).Inc()
	}
}
