package reconcile

import (
	"context"
	"time"

	"github.com/avkorolev/wallvault/internal/logging"
	"github.com/avkorolev/wallvault/internal/server/config"
	"github.com/avkorolev/wallvault/internal/server/objectstore"
	"github.com/avkorolev/wallvault/internal/server/repositories/uploads"
)

// StuckUploads repairs rows that sat in uploading past the threshold:
// the process crashed or lost connectivity somewhere between the state
// write and the object put. Whether the bytes actually made it decides
// the repair.
type StuckUploads struct {
	store      objectstore.Store
	threshold  time.Duration
	maxRetries int
	logger     logging.Logger

	now func() time.Time
}

func NewStuckUploads(store objectstore.Store, cfg *config.Config, logger logging.Logger) *StuckUploads {
	return &StuckUploads{
		store:      store,
		threshold:  cfg.StuckUploadThreshold,
		maxRetries: cfg.MaxUploadRetries,
		logger:     logger.With("policy", "stuck_uploads"),
		now:        time.Now,
	}
}

func (p *StuckUploads) Name() string { return "stuck_uploads" }

// ReconcileOne applies the three-way repair: object present means the
// put succeeded and only the stored transition was lost, so recover;
// object absent with attempts to spare means the client may retry, so
// bump the counter (which also restarts the staleness clock); attempts
// exhausted means fail the row.
func (p *StuckUploads) ReconcileOne(ctx context.Context, repo uploads.Repository) (bool, error) {
	rec, err := repo.SelectStuckUploading(ctx, p.now().Add(-p.threshold))
	if err != nil {
		return false, err
	}
	if rec == nil {
		return false, nil
	}

	exists := false
	if rec.StorageKey != "" {
		exists, err = p.store.HeadObject(ctx, rec.StorageKey)
		if err != nil {
			return false, err
		}
	}

	switch {
	case exists:
		p.logger.Info(ctx, "object present, recovering to stored", "upload_id", rec.ID)
		return true, repo.RecoverToStored(ctx, rec.ID)
	case rec.UploadAttempts < p.maxRetries-1:
		p.logger.Info(ctx, "object absent, granting another attempt",
			"upload_id", rec.ID, "attempts", rec.UploadAttempts+1)
		return true, repo.IncrementAttempts(ctx, rec.ID)
	default:
		p.logger.Warn(ctx, "object absent and attempts exhausted, failing upload",
			"upload_id", rec.ID, "attempts", rec.UploadAttempts)
		return true, repo.TransitionToFailed(ctx, rec.ID, "max retries exceeded")
	}
}
