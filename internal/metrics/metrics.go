// Package metrics holds the Prometheus metrics of the invitation lifecycle.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Invitation lifecycle metrics
var (
	// InvitationsTotal tracks lifecycle transitions by action
	InvitationsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "invitations",
			Name:      "lifecycle_events_total",
			Help:      "Total number of invitation lifecycle events by action",
		},
		[]string{"action"},
	)

	// TokenValidationsTotal tracks token validations by outcome
	TokenValidationsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "invitations",
			Name:      "token_validations_total",
			Help:      "Total number of invitation token validations by result",
		},
		[]string{"result"},
	)

	// TokenValidationDuration tracks token validation latency
	TokenValidationDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: "invitations",
			Name:      "token_validation_duration_seconds",
			Help:      "Invitation token validation duration in seconds",
			Buckets:   prometheus.DefBuckets,
		},
	)

	// AcceptancesTotal tracks acceptances by auth method and outcome
	AcceptancesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "invitations",
			Name:      "acceptances_total",
			Help:      "Total number of invitation acceptance attempts",
		},
		[]string{"method", "status"},
	)

	// BulkItemsTotal tracks bulk operation items by operation and outcome
	BulkItemsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "invitations",
			Name:      "bulk_items_total",
			Help:      "Total number of bulk operation items by operation and status",
		},
		[]string{"operation", "status"},
	)
)

// Background work metrics
var (
	// ExpiredBySweep tracks invitations expired by the periodic sweep
	ExpiredBySweep = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: "invitations",
			Name:      "expired_by_sweep_total",
			Help:      "Total number of invitations expired by the background sweep",
		},
	)

	// RetentionDeletedTotal tracks rows removed by retention cleanup
	RetentionDeletedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "invitations",
			Name:      "retention_deleted_total",
			Help:      "Total number of rows deleted by retention cleanup",
		},
		[]string{"kind"},
	)

	// EmailJobsTotal tracks email delivery attempts by type and outcome
	EmailJobsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "invitations",
			Name:      "email_jobs_total",
			Help:      "Total number of email job executions by type and status",
		},
		[]string{"type", "status"},
	)

	// EmailPermanentFailuresTotal tracks email tasks archived after their
	// last retry
	EmailPermanentFailuresTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "invitations",
			Name:      "email_permanent_failures_total",
			Help:      "Total number of email jobs that exhausted their retries",
		},
		[]string{"type"},
	)
)

// Outcome labels.
const (
	StatusSuccess = "success"
	StatusFailed  = "failed"
)
