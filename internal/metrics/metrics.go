package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// Chain adapters
	ChainRPCCalls = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "payrail",
		Subsystem: "chain",
		Name:      "rpc_calls_total",
		Help:      "Chain RPC calls by network, method and outcome",
	}, []string{"network", "method", "status"})

	ChainRateLimitWaits = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "payrail",
		Subsystem: "chain",
		Name:      "rate_limit_waits_total",
		Help:      "Requests that had to wait for a rate limit token",
	}, []string{"client"})

	TransfersSubmitted = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "payrail",
		Subsystem: "chain",
		Name:      "transfers_submitted_total",
		Help:      "Transfers broadcast by network and kind",
	}, []string{"network", "kind"})

	// Exchange
	ExchangeCalls = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "payrail",
		Subsystem: "exchange",
		Name:      "calls_total",
		Help:      "Exchange REST calls by endpoint and outcome",
	}, []string{"endpoint", "status"})

	ExchangeLatency = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "payrail",
		Subsystem: "exchange",
		Name:      "call_duration_seconds",
		Help:      "Exchange REST call duration",
		Buckets:   []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10},
	}, []string{"endpoint"})

	// Reconciliation
	DepositsMatched = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "payrail",
		Subsystem: "reconcile",
		Name:      "deposits_matched_total",
		Help:      "Exchange deposits matched to a pending record",
	})

	MatchCollisions = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "payrail",
		Subsystem: "reconcile",
		Name:      "match_collisions_total",
		Help:      "Deposits that matched more than one pending record",
	})

	Settlements = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "payrail",
		Subsystem: "reconcile",
		Name:      "settlements_total",
		Help:      "Settlement transitions by record kind and resulting status",
	}, []string{"kind", "status"})

	PollDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "payrail",
		Subsystem: "reconcile",
		Name:      "poll_duration_seconds",
		Help:      "Duration of one reconciliation pass",
		Buckets:   []float64{0.1, 0.5, 1, 2.5, 5, 10, 30, 60},
	}, []string{"job"})

	OutboxExecutions = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "payrail",
		Subsystem: "outbox",
		Name:      "executions_total",
		Help:      "Withdrawal outbox executions by outcome",
	}, []string{"outcome"})

	// Notifications
	WebsocketConnections = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "payrail",
		Subsystem: "notify",
		Name:      "websocket_connections",
		Help:      "Open websocket connections",
	})

	NotificationsDropped = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "payrail",
		Subsystem: "notify",
		Name:      "dropped_total",
		Help:      "Notifications not delivered",
	}, []string{"reason"})
)
