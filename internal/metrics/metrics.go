// internal/metrics/metrics.go
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// HttpRequestsTotal counts handled HTTP requests.
	HttpRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "http_requests_total",
			Help: "Total number of http requests handled by the service.",
		},
		[]string{"path", "method", "code"},
	)

	// ClaimOperationsTotal counts ledger operations by outcome (ok, already_claimed, claim_not_found, ...).
	ClaimOperationsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "claim_operations_total",
			Help: "Total number of reservation ledger operations by outcome.",
		},
		[]string{"operation", "outcome"},
	)

	// LiveClaims is set by the auditor after every sweep.
	LiveClaims = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "live_claims",
			Help: "Number of claims present in the store at the last audit sweep.",
		},
	)

	// OrphanClaims is the number of claims whose resource is missing from the catalog.
	OrphanClaims = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "orphan_claims",
			Help: "Number of claims referencing a resource absent from the catalog at the last audit sweep.",
		},
	)

	// AuditRunsTotal counts audit sweeps by status (success/failed).
	AuditRunsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "audit_runs_total",
			Help: "Total number of ledger audit sweeps.",
		},
		[]string{"status"},
	)

	// IsLeader is 1 while this node holds the audit leadership.
	IsLeader = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "is_leader",
			Help: "Is this node currently the leader. 1 if leader, 0 otherwise.",
		},
		[]string{"node_id"},
	)
)
