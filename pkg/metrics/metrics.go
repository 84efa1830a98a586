package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// ActivationAttempts records activation operations by action (request_otp|verify_otp|redeem)
	// and result (success|failure).
	ActivationAttempts = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "invitegate_activation_attempts_total",
			Help: "Total number of invite activation attempts",
		},
		[]string{"action", "result"},
	)

	// OTPIssued counts one-time codes issued for invite challenges.
	OTPIssued = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "invitegate_otp_issued_total",
			Help: "Total number of one-time codes issued",
		},
	)

	// OrphanedIdentities counts identities whose compensating delete failed after a
	// lost link race. Non-zero values require out-of-band reconciliation; alert on this.
	OrphanedIdentities = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "invitegate_orphaned_identities_total",
			Help: "Identities leaked by a failed compensating delete",
		},
	)

	// APILatency measures HTTP request latencies.
	APILatency = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "invitegate_api_latency_seconds",
			Help:    "API endpoint latency",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "path", "status"},
	)
)
