// Package metrics declares the Prometheus collectors shared by api and worker.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "mediagen"

var (
	TaskTransitions = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "task_transitions_total",
		Help:      "Task status transitions by target status.",
	}, []string{"status"})

	StorageRoutes = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "storage_routes_total",
		Help:      "Artifacts routed by representation (inline, object, error).",
	}, []string{"kind"})

	URLRefreshes = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "signed_url_refreshes_total",
		Help:      "Signed URL regenerations by outcome.",
	}, []string{"result"})

	PollAttempts = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "operation_poll_attempts_total",
		Help:      "Long-running operation checks by outcome (pending, done, error).",
	}, []string{"result"})

	HTTPRequests = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: namespace,
		Name:      "http_request_duration_seconds",
		Help:      "API request latency by route and status code.",
		Buckets:   prometheus.DefBuckets,
	}, []string{"method", "route", "code"})

	MessagesProcessed = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "worker_messages_total",
		Help:      "Generation messages handled by the worker, by outcome.",
	}, []string{"result"})
)
