// Package reconcile contains the self-healing subsystem: a generic
// lock-one-row engine, the row policies that repair records stuck in a
// non-terminal state, the orphaned-object sweeper, and the scheduler
// that drives both on independent timers.
package reconcile

import (
	"context"

	"github.com/avkorolev/wallvault/internal/server/repositories/uploads"
)

// RowPolicy is one reconciliation rule: a staleness predicate plus its
// repair. ReconcileOne selects and locks at most one candidate row via
// the transaction-bound repository and repairs it in the same
// transaction. It returns false when no unlocked candidate remains.
//
// Returning an error aborts the surrounding transaction and stops the
// policy for the current cycle; the next scheduled cycle retries. The
// missing-events policy relies on this to avoid a retry storm against a
// down event bus.
type RowPolicy interface {
	Name() string
	ReconcileOne(ctx context.Context, repo uploads.Repository) (bool, error)
}
