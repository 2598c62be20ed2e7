package api

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// ExecutionsTotal counts finished workflow runs by outcome.
	ExecutionsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "flowd_executions_total",
		Help: "Workflow executions by final status",
	}, []string{"status", "trigger"})

	// RunDurationSeconds records whole-run durations.
	RunDurationSeconds = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "flowd_run_duration_seconds",
		Help:    "Duration of workflow runs",
		Buckets: prometheus.DefBuckets,
	})

	// WebhookCallsTotal counts inbound webhook calls by admission outcome.
	WebhookCallsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "flowd_webhook_calls_total",
		Help: "Inbound webhook calls by outcome",
	}, []string{"outcome"})
)
