// Package telemetry holds the process-level prometheus instruments. Domain
// metrics about instances live in the store; these cover the orchestrator's
// own operation.
package telemetry

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	WorkflowsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "orchestrator_provisioning_workflows_total",
		Help: "Provisioning workflow attempts by provider and outcome.",
	}, []string{"provider", "outcome"})

	WorkflowDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "orchestrator_provisioning_duration_seconds",
		Help:    "Wall-clock duration of provisioning workflow attempts.",
		Buckets: prometheus.ExponentialBuckets(0.5, 2, 12),
	}, []string{"provider"})

	WebhookDeliveries = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "orchestrator_webhook_deliveries_total",
		Help: "Webhook delivery outcomes by event type.",
	}, []string{"event", "outcome"})

	WebhookRetries = promauto.NewCounter(prometheus.CounterOpts{
		Name: "orchestrator_webhook_retries_total",
		Help: "Webhook delivery attempts beyond the first.",
	})

	HealthProbes = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "orchestrator_health_probes_total",
		Help: "Health probe results by classified status.",
	}, []string{"status"})

	TasksQueued = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "orchestrator_tasks_queued",
		Help: "Tasks currently waiting in the work queue.",
	})
)
