// Package metrics declares the Prometheus collectors exported on /metrics.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// DiscountValidations counts discount code validations by result reason.
	DiscountValidations = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "leadignite_discount_validations_total",
		Help: "Discount code validations by result",
	}, []string{"result"})

	// DiscountApplications counts apply attempts by outcome; released marks an undone redemption.
	DiscountApplications = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "leadignite_discount_applications_total",
		Help: "Discount applications by result",
	}, []string{"result"})

	AffiliatePayouts = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "leadignite_affiliate_payouts_total",
		Help: "Affiliate payouts by status transition",
	}, []string{"status"})

	GHLWebhooks = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "leadignite_ghl_webhooks_total",
		Help: "GoHighLevel webhook deliveries by event and result",
	}, []string{"event", "result"})

	AuditEntries = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "leadignite_audit_entries_total",
		Help: "Audit log entries by action",
	}, []string{"action"})

	// MCPExecutions counts tool dispatches by tool and final status.
	MCPExecutions = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "leadignite_mcp_executions_total",
		Help: "MCP tool executions by tool and status",
	}, []string{"tool", "status"})

	A2AMessages = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "leadignite_a2a_messages_total",
		Help: "Agent-to-agent messages routed by type and result",
	}, []string{"type", "result"})

	VectorSearchDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "leadignite_vector_search_duration_seconds",
		Help:    "Similarity search latency by backend",
		Buckets: prometheus.ExponentialBuckets(0.0005, 2, 14),
	}, []string{"backend"})
)
