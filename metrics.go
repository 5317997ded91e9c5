package multiversion

import (
	"errors"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/surrealdb/multiversion/pkg/constants"
)

var (
	operationsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "multiversion_operations_total",
		Help: "Manager operations by outcome",
	}, []string{"op", "result"})

	operationDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "multiversion_operation_duration_seconds",
		Help:    "Duration of Manager operations",
		Buckets: []float64{0.00005, 0.0001, 0.0005, 0.001, 0.005, 0.01, 0.05, 0.25},
	}, []string{"op"})

	revisionsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "multiversion_revisions_total",
		Help: "Revisions added to revision trees",
	}, []string{"kind"})

	compactedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "multiversion_compacted_revisions_total",
		Help: "Revisions whose payload was removed by compaction",
	})

	conflictLeaves = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "multiversion_replicated_conflicts",
		Help:    "Size of the conflict set after a replication merge",
		Buckets: []float64{0, 1, 2, 4, 8, 16},
	})
)

func resultLabel(err error) string {
	switch {
	case err == nil:
		return "ok"
	case errors.Is(err, constants.ErrConflict):
		return "conflict"
	case errors.Is(err, constants.ErrNotFound):
		return "not_found"
	case errors.Is(err, constants.ErrStructuralIntegrity):
		return "structural"
	case errors.Is(err, constants.ErrInvariantViolation):
		return "invariant"
	default:
		return "error"
	}
}
