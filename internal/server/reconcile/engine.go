package reconcile

import (
	"context"
	"database/sql"

	"github.com/avkorolev/wallvault/internal/dbx"
	"github.com/avkorolev/wallvault/internal/logging"
	"github.com/avkorolev/wallvault/internal/server/repositories/repomanager"
)

// Engine drains each policy's candidate queue one locked row per
// transaction. Any number of engine instances may run concurrently
// against the same database: FOR UPDATE SKIP LOCKED guarantees two
// instances never pick the same row, and an instance that finds every
// candidate locked simply sees an empty queue.
type Engine struct {
	db       *sql.DB
	repos    repomanager.RepositoryManager
	policies []RowPolicy
	logger   logging.Logger
}

func NewEngine(db *sql.DB, repos repomanager.RepositoryManager, policies []RowPolicy, logger logging.Logger) *Engine {
	return &Engine{
		db:       db,
		repos:    repos,
		policies: policies,
		logger:   logger.With("component", "reconcile"),
	}
}

// Run executes every policy in order. A policy's first error ends that
// policy for this cycle; the remaining policies still run.
func (e *Engine) Run(ctx context.Context) {
	for _, p := range e.policies {
		repaired, err := e.drain(ctx, p)
		if err != nil {
			e.logger.Error(ctx, "reconciliation policy stopped", "policy", p.Name(), "repaired", repaired, "error", err)
			continue
		}
		if repaired > 0 {
			e.logger.Info(ctx, "reconciliation policy repaired rows", "policy", p.Name(), "repaired", repaired)
		}
	}
}

// drain loops lock-repair-commit until the policy reports an empty
// queue. The lock and the repair share one transaction, so a crash
// between them releases the row untouched.
func (e *Engine) drain(ctx context.Context, p RowPolicy) (int, error) {
	repaired := 0
	for {
		if err := ctx.Err(); err != nil {
			return repaired, err
		}

		var acted bool
		err := dbx.WithTx(ctx, e.db, nil, func(ctx context.Context, tx dbx.DBTX) error {
			var txErr error
			acted, txErr = p.ReconcileOne(ctx, e.repos.Uploads(tx))
			return txErr
		})
		if err != nil {
			return repaired, err
		}
		if !acted {
			return repaired, nil
		}
		repaired++
	}
}
