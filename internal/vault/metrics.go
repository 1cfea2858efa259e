// Package vault provides Prometheus metrics for vault balance monitoring.
package vault

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// ScarCount tracks the number of SCARs per vault.
	ScarCount = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: "kimerad",
			Subsystem: "vault",
			Name:      "scar_count",
			Help:      "Number of SCARs held per vault",
		},
		[]string{"vault"},
	)

	// TotalWeight tracks the summed SCAR weight per vault.
	TotalWeight = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: "kimerad",
			Subsystem: "vault",
			Name:      "total_weight",
			Help:      "Summed SCAR weight per vault",
		},
		[]string{"vault"},
	)

	// ImbalanceRatio is the current relative weight imbalance between vaults.
	ImbalanceRatio = promauto.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "kimerad",
			Subsystem: "vault",
			Name:      "imbalance_ratio",
			Help:      "Relative weight imbalance between the two vaults (0 = balanced)",
		},
	)

	// RebalanceMoves counts SCARs moved between vaults by rebalancing.
	RebalanceMoves = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: "kimerad",
			Subsystem: "vault",
			Name:      "rebalance_moves_total",
			Help:      "Total SCARs moved between vaults by rebalance passes",
		},
	)

	// ImbalanceCritical counts times imbalance stayed above the hard ceiling
	// after a full rebalance pass.
	ImbalanceCritical = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: "kimerad",
			Subsystem: "vault",
			Name:      "imbalance_critical_total",
			Help:      "Times vault imbalance exceeded the hard ceiling after rebalancing",
		},
	)
)
