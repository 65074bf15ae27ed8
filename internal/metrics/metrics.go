package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

var (
	EmailsSent = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "emails_sent_total",
			Help: "Total recipients in batches accepted by the provider",
		},
	)

	EmailFailures = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "email_failures_total",
			Help: "Total recipients in batches that failed to send",
		},
	)

	BatchesProcessed = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "email_batches_processed_total",
			Help: "Email batch attempts by resulting status",
		},
		[]string{"status"},
	)

	BatchesInFlight = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "email_batches_in_flight",
			Help: "Email batches currently being sent",
		},
	)

	JobsProcessed = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "email_jobs_processed_total",
			Help: "Email job runs by resulting status",
		},
		[]string{"status"},
	)

	JobsSkipped = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "email_jobs_skipped_total",
			Help: "Queued email jobs skipped because another worker held the lock",
		},
	)

	ProviderSendDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "email_provider_send_duration_seconds",
			Help:    "Latency of delivery provider batch calls",
			Buckets: prometheus.ExponentialBuckets(0.05, 2, 10),
		},
	)

	ReportedErrors = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "reported_errors_total",
			Help: "Exceptions sent to the error reporter, by kind",
		},
		[]string{"kind"},
	)
)

func Init() {
	prometheus.MustRegister(EmailsSent)
	prometheus.MustRegister(EmailFailures)
	prometheus.MustRegister(BatchesProcessed)
	prometheus.MustRegister(BatchesInFlight)
	prometheus.MustRegister(JobsProcessed)
	prometheus.MustRegister(JobsSkipped)
	prometheus.MustRegister(ProviderSendDuration)
	prometheus.MustRegister(ReportedErrors)
}
