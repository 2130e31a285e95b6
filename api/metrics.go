/*
metrics.go - Prometheus instrumentation for circulation operations

PURPOSE:
  Counts every checkout/return/resize outcome so operators can watch
  rejection rates, and counts conflicts separately: a nonzero conflict
  rate means the atomic unit rejected an invariant-violating write,
  which should never happen in correct operation and deserves an alert.

EXPOSURE:
  GET /metrics (Prometheus text format), wired in server.go.

SEE ALSO:
  - handlers.go: Calls recordOutcome after each controller operation
*/
package api

import (
	"errors"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/warp/circulation-engine/circulation"
)

var (
	operationsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "circulation_operations_total",
		Help: "Circulation operations by operation and outcome.",
	}, []string{"operation", "outcome"})

	conflictsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "circulation_conflicts_total",
		Help: "Writes rejected by the atomic unit. Should stay at zero.",
	})
)

// recordOutcome classifies a controller result for the operation counter.
func recordOutcome(operation string, err error) {
	operationsTotal.WithLabelValues(operation, outcomeLabel(err)).Inc()
	if errors.Is(err, circulation.ErrConflict) {
		conflictsTotal.Inc()
	}
}

func outcomeLabel(err error) string {
	switch {
	case err == nil:
		return "success"
	case errors.Is(err, circulation.ErrNoCopiesAvailable):
		return "no_copies"
	case errors.Is(err, circulation.ErrAlreadyCheckedOut):
		return "already_checked_out"
	case errors.Is(err, circulation.ErrNoActiveCheckout):
		return "no_active_checkout"
	case errors.Is(err, circulation.ErrAlreadyReturned):
		return "already_returned"
	case errors.Is(err, circulation.ErrConflict):
		return "conflict"
	case circulation.IsNotFound(err):
		return "not_found"
	default:
		return "error"
	}
}
