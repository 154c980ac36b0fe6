package uploads

import (
	"context"
	"time"

	"github.com/avkorolev/wallvault/internal/server/models"
)

// Repository is the persistence contract for upload records. Lifecycle
// transitions are single atomic updates guarded by the expected source
// state; a guard miss surfaces common.ErrStateConflict.
type Repository interface {
	// Create records intent: a fresh row in the initiated state with zero
	// attempts. Returns common.ErrDuplicateActiveUpload when a non-failed
	// row already exists for the same (user, content hash) pair.
	Create(ctx context.Context, rec *models.UploadRecord) error

	GetByID(ctx context.Context, id string) (*models.UploadRecord, error)

	// GetActiveByUserAndHash returns the non-failed row for the pair, or
	// common.ErrorNotFound.
	GetActiveByUserAndHash(ctx context.Context, userID, contentHash string) (*models.UploadRecord, error)

	// TransitionToUploading moves initiated → uploading and records the
	// storage key the bytes are about to be written under, so the
	// stuck-upload repair can probe object storage for a row that never
	// reached stored.
	TransitionToUploading(ctx context.Context, id, storageKey string) error
	TransitionToStored(ctx context.Context, id string, meta models.StorageMetadata) error
	TransitionToProcessing(ctx context.Context, id string) error
	TransitionToFailed(ctx context.Context, id, reason string) error

	// Reconciliation-only operations.
	RecoverToStored(ctx context.Context, id string) error
	IncrementAttempts(ctx context.Context, id string) error
	DeleteIntent(ctx context.Context, id string) error

	// Skip-locked selectors: each locks at most one row matching its
	// staleness predicate, skipping rows locked by concurrent instances.
	// A nil record with nil error means no unlocked candidate is left.
	SelectStuckUploading(ctx context.Context, cutoff time.Time) (*models.UploadRecord, error)
	SelectStaleStored(ctx context.Context, cutoff time.Time) (*models.UploadRecord, error)
	SelectStaleInitiated(ctx context.Context, cutoff time.Time) (*models.UploadRecord, error)

	// ListStatesByIDs resolves upload states for the orphaned-object sweep.
	// IDs without a row are absent from the result map.
	ListStatesByIDs(ctx context.Context, ids []string) (map[string]models.UploadState, error)
}
