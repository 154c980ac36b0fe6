package reconcile

import (
	"context"
	"database/sql"

	"github.com/avkorolev/wallvault/internal/logging"
	"github.com/avkorolev/wallvault/internal/server/config"
	"github.com/avkorolev/wallvault/internal/server/models"
	"github.com/avkorolev/wallvault/internal/server/objectstore"
	"github.com/avkorolev/wallvault/internal/server/repositories/repomanager"
)

// ObjectSweeper removes blobs whose upload row is gone or failed. It
// walks the bucket listing page by page instead of the row queue, so it
// does not use the lock-one-row engine: deletes are idempotent and two
// instances sweeping the same key is harmless.
//
// Every legitimately written object has a row, because intent recording
// precedes the put. A key without a row is leftover from a deleted
// intent or does not belong to this system; a key whose row is failed
// outlived its upload.
type ObjectSweeper struct {
	db        *sql.DB
	repos     repomanager.RepositoryManager
	store     objectstore.Store
	batchSize int32
	logger    logging.Logger
}

func NewObjectSweeper(db *sql.DB, repos repomanager.RepositoryManager, store objectstore.Store, cfg *config.Config, logger logging.Logger) *ObjectSweeper {
	return &ObjectSweeper{
		db:        db,
		repos:     repos,
		store:     store,
		batchSize: int32(cfg.ObjectListBatchSize),
		logger:    logger.With("component", "object_sweeper"),
	}
}

// Run sweeps the whole bucket once. Individual delete failures are
// logged and skipped; the key stays for the next sweep.
func (s *ObjectSweeper) Run(ctx context.Context) error {
	repo := s.repos.Uploads(s.db)
	deleted := 0
	token := ""

	for {
		if err := ctx.Err(); err != nil {
			return err
		}

		keys, next, err := s.store.ListObjects(ctx, token, s.batchSize)
		if err != nil {
			return err
		}

		if len(keys) > 0 {
			states, err := repo.ListStatesByIDs(ctx, uploadIDs(keys))
			if err != nil {
				return err
			}

			for _, key := range keys {
				state, ok := states[objectstore.UploadIDFromKey(key)]
				if ok && state != models.StateFailed {
					continue
				}
				if err := s.store.DeleteObject(ctx, key); err != nil {
					s.logger.Warn(ctx, "orphaned object delete failed", "key", key, "error", err)
					continue
				}
				s.logger.Info(ctx, "orphaned object deleted", "key", key, "row_state", string(state))
				deleted++
			}
		}

		if next == "" {
			break
		}
		token = next
	}

	if deleted > 0 {
		s.logger.Info(ctx, "object sweep finished", "deleted", deleted)
	}
	return nil
}

func uploadIDs(keys []string) []string {
	seen := make(map[string]struct{}, len(keys))
	ids := make([]string, 0, len(keys))
	for _, key := range keys {
		id := objectstore.UploadIDFromKey(key)
		if id == "" {
			continue
		}
		if _, dup := seen[id]; dup {
			continue
		}
		seen[id] = struct{}{}
		ids = append(ids, id)
	}
	return ids
}
