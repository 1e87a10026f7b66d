package grid

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"go.opentelemetry.io/otel"
)

var tracer = otel.Tracer("grid.engine")

var (
	// cellWrites counts stored cells. Labels: type (column type), origin
	cellWrites = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "grid",
		Subsystem: "cells",
		Name:      "writes_total",
		Help:      "Cell values written, direct and derived",
	}, []string{"type", "origin"})

	// cascadeEvents counts events drained from the in-transaction bus.
	cascadeEvents = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "grid",
		Subsystem: "cascade",
		Name:      "events_total",
		Help:      "Events processed by cascade subscribers",
	}, []string{"event"})

	// formulaEvaluations counts formula cells. Labels: result (computed, memoized, error)
	formulaEvaluations = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "grid",
		Subsystem: "formula",
		Name:      "evaluations_total",
		Help:      "Formula cell evaluations by outcome",
	}, []string{"result"})

	cycleRejections = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "grid",
		Subsystem: "graph",
		Name:      "cycle_rejections_total",
		Help:      "Formula and dependency edits rejected for closing a cycle",
	}, []string{"graph"})

	mutationLatency = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "grid",
		Subsystem: "engine",
		Name:      "mutation_duration_seconds",
		Help:      "Mutation latency including the cascade",
		Buckets:   []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5},
	}, []string{"op", "status"})

	materializeLatency = promauto.NewHistogram(prometheus.HistogramOpts{
		Namespace: "grid",
		Subsystem: "view",
		Name:      "materialize_duration_seconds",
		Help:      "View materialization latency",
		Buckets:   []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5},
	})
)
