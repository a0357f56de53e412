package util

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	DealsCreatedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "deals_created_total",
		Help: "Total number of deals created",
	})

	DealTransitionsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "deal_transitions_total",
		Help: "Total number of applied deal status transitions",
	}, []string{"event", "to"})

	CommandsRejectedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "deal_commands_rejected_total",
		Help: "Total number of deal commands rejected",
	}, []string{"command", "kind"})

	NotificationFailuresTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "notification_failures_total",
		Help: "Total number of notifications that could not be delivered",
	}, []string{"kind"})

	SweeperRunsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "sweeper_runs_total",
		Help: "Total number of sweeper runs",
	}, []string{"result"})

	SweeperTransitionsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "sweeper_transitions_total",
		Help: "Total number of deals handled by the sweeper",
	}, []string{"sweep", "result"})

	SweeperRunDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "sweeper_run_duration_seconds",
		Help:    "Duration of a full sweeper run",
		Buckets: prometheus.DefBuckets,
	})

	StorageLatency = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "storage_operation_latency_seconds",
		Help:    "Latency of storage operations",
		Buckets: prometheus.DefBuckets,
	}, []string{"op"})

	CommandMessagesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "command_messages_total",
		Help: "Total number of deal commands consumed from the broker",
	}, []string{"result"})

	HTTPRequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "http_request_duration_seconds",
		Help:    "HTTP request latency",
		Buckets: prometheus.DefBuckets,
	}, []string{"method", "path", "status"})

	HTTPRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "http_requests_total",
		Help: "Total number of HTTP requests",
	}, []string{"method", "path", "status"})
)
