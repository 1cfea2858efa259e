package engine

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// GeoidsCreated counts geoids ingested, labeled by kind.
	GeoidsCreated = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "kimerad",
			Subsystem: "engine",
			Name:      "geoids_created_total",
			Help:      "Total geoids created, by kind",
		},
		[]string{"kind"},
	)

	// TensionDecisions counts tension gradients by decision outcome.
	TensionDecisions = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "kimerad",
			Subsystem: "engine",
			Name:      "tension_decisions_total",
			Help:      "Total tension gradients evaluated, by decision",
		},
		[]string{"decision"},
	)

	// ScarsCreated counts SCARs produced by collapse resolutions.
	ScarsCreated = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: "kimerad",
			Subsystem: "engine",
			Name:      "scars_created_total",
			Help:      "Total SCARs created from collapse decisions",
		},
	)

	// ScarsDecayed counts SCARs whose weight was reduced by a decay pass.
	ScarsDecayed = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: "kimerad",
			Subsystem: "engine",
			Name:      "scars_decayed_total",
			Help:      "Total SCAR decay applications",
		},
	)

	// ScarsPruned counts SCARs removed by retention pruning.
	ScarsPruned = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: "kimerad",
			Subsystem: "engine",
			Name:      "scars_pruned_total",
			Help:      "Total SCARs pruned below the weight floor",
		},
	)

	// ScarsFused counts SCARs absorbed into fusion representatives.
	ScarsFused = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: "kimerad",
			Subsystem: "engine",
			Name:      "scars_fused_total",
			Help:      "Total SCARs absorbed by fusion",
		},
	)

	// ScarsCrystallized counts SCARs promoted to crystallized geoids.
	ScarsCrystallized = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: "kimerad",
			Subsystem: "engine",
			Name:      "scars_crystallized_total",
			Help:      "Total SCARs crystallized into geoids",
		},
	)

	// InsightsPruned counts deprecated insights removed by maintenance.
	InsightsPruned = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: "kimerad",
			Subsystem: "engine",
			Name:      "insights_pruned_total",
			Help:      "Total deprecated insights pruned",
		},
	)
)
