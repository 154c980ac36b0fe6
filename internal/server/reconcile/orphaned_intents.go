package reconcile

import (
	"context"
	"time"

	"github.com/avkorolev/wallvault/internal/logging"
	"github.com/avkorolev/wallvault/internal/server/config"
	"github.com/avkorolev/wallvault/internal/server/repositories/uploads"
)

// OrphanedIntents deletes intent rows abandoned in initiated: the
// client vanished before the upload ever began, so no bytes exist and
// nothing but the row needs cleanup.
type OrphanedIntents struct {
	threshold time.Duration
	logger    logging.Logger

	now func() time.Time
}

func NewOrphanedIntents(cfg *config.Config, logger logging.Logger) *OrphanedIntents {
	return &OrphanedIntents{
		threshold: cfg.OrphanedIntentThreshold,
		logger:    logger.With("policy", "orphaned_intents"),
		now:       time.Now,
	}
}

func (p *OrphanedIntents) Name() string { return "orphaned_intents" }

func (p *OrphanedIntents) ReconcileOne(ctx context.Context, repo uploads.Repository) (bool, error) {
	rec, err := repo.SelectStaleInitiated(ctx, p.now().Add(-p.threshold))
	if err != nil {
		return false, err
	}
	if rec == nil {
		return false, nil
	}

	p.logger.Info(ctx, "deleting abandoned intent", "upload_id", rec.ID)
	return true, repo.DeleteIntent(ctx, rec.ID)
}
