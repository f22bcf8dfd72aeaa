// Package metrics registers the Prometheus instruments exposed on /metrics.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	MovementsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "mro_inventory_movements_total",
		Help: "Inventory movements committed to the ledger, by type.",
	}, []string{"type"})

	VoidsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "mro_inventory_voids_total",
		Help: "Movement reversals committed to the ledger.",
	})

	StockAlertsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "mro_stock_alerts_total",
		Help: "Stock alerts dispatched after severity classification and throttling, by severity.",
	}, []string{"severity"})

	AlertsThrottledTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "mro_stock_alerts_throttled_total",
		Help: "Stock alerts suppressed by the cooldown throttle.",
	})

	WorkOrderTransitionsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "mro_workorder_transitions_total",
		Help: "Work order workflow transitions applied, by transition name.",
	}, []string{"transition"})
)
