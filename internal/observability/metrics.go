package observability

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	OrdersCreated = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "exchange_core",
			Name:      "orders_created_total",
			Help:      "Orders created, by rate type",
		},
		[]string{"rate_type"},
	)

	OrderTransitions = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "exchange_core",
			Name:      "order_transitions_total",
			Help:      "Order state transitions, by target status",
		},
		[]string{"to"},
	)

	InvalidTransitions = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: "exchange_core",
			Name:      "order_invalid_transitions_total",
			Help:      "Rejected state transitions (double processing or integration bugs)",
		},
	)

	DepositsReconciled = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "exchange_core",
			Name:      "deposits_reconciled_total",
			Help:      "Deposit notifications processed, by outcome",
		},
		[]string{"outcome"}, // matched | no_match | ambiguous | duplicate | stale | ignored
	)

	BroadcastsSent = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: "exchange_core",
			Name:      "rate_broadcasts_total",
			Help:      "Rate snapshot broadcasts fanned out by the hub",
		},
	)

	BroadcastDrops = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: "exchange_core",
			Name:      "rate_broadcast_drops_total",
			Help:      "Snapshot messages dropped because a subscriber was too slow",
		},
	)

	SubscribersConnected = promauto.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "exchange_core",
			Name:      "hub_subscribers",
			Help:      "Subscribers currently registered with the broadcast hub",
		},
	)
)
