// Package services contains the upload orchestrator: it drives a single
// upload request through validation, deduplication, intent recording,
// object storage, and event publication.
package services

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/avkorolev/wallvault/internal/common"
	"github.com/avkorolev/wallvault/internal/logging"
	"github.com/avkorolev/wallvault/internal/server/config"
	"github.com/avkorolev/wallvault/internal/server/eventbus"
	"github.com/avkorolev/wallvault/internal/server/models"
	"github.com/avkorolev/wallvault/internal/server/objectstore"
	"github.com/avkorolev/wallvault/internal/server/repositories/repomanager"
	"github.com/avkorolev/wallvault/internal/server/validation"
)

// UploadService orchestrates the intake state machine for one request.
type UploadService struct {
	db     *sql.DB
	repos  repomanager.RepositoryManager
	store  objectstore.Store
	bus    eventbus.Bus
	limits validation.LimitResolver
	proc   validation.FileProcessor
	cfg    *config.Config
	logger logging.Logger

	// seams for tests
	newID func(prefix string) string
	now   func() time.Time
}

// NewUploadService wires the orchestrator with its collaborators.
func NewUploadService(
	db *sql.DB,
	repos repomanager.RepositoryManager,
	store objectstore.Store,
	bus eventbus.Bus,
	limits validation.LimitResolver,
	proc validation.FileProcessor,
	cfg *config.Config,
	logger logging.Logger,
) *UploadService {
	return &UploadService{
		db:     db,
		repos:  repos,
		store:  store,
		bus:    bus,
		limits: limits,
		proc:   proc,
		cfg:    cfg,
		logger: logger.With("component", "upload"),
		newID:  newPrefixedID,
		now:    time.Now,
	}
}

// newPrefixedID builds a time-ordered identifier such as wlpr_<uuidv7>.
func newPrefixedID(prefix string) string {
	id, err := uuid.NewV7()
	if err != nil {
		// v7 only fails when the entropy source does; fall back to v4.
		return prefix + "_" + uuid.NewString()
	}
	return prefix + "_" + id.String()
}

// HandleUpload runs the five-step intake sequence. Validation failures
// surface before any row exists; storage failures fail the row and the
// request; event publish failures are swallowed and the row is left in
// stored for the missing-events reconciliation policy to heal.
func (s *UploadService) HandleUpload(ctx context.Context, data []byte, filename, declaredMimeType, userID string) (*models.UploadResult, error) {
	limits, err := s.limits.GetLimitsForUser(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("resolve limits: %w", err)
	}

	info, err := s.proc.ProcessFile(data, filename, limits, declaredMimeType)
	if err != nil {
		return nil, err
	}

	repo := s.repos.Uploads(s.db)

	// Idempotency fast path: an existing non-failed row for the same
	// (user, content) pair answers the request without touching storage.
	existing, err := repo.GetActiveByUserAndHash(ctx, userID, info.ContentHash)
	if err == nil {
		return alreadyUploadedResult(existing), nil
	}
	if !errors.Is(err, common.ErrorNotFound) {
		return nil, fmt.Errorf("dedup lookup: %w", err)
	}

	// Write-ahead intent: durable before any irreversible side effect.
	rec := &models.UploadRecord{
		ID:          s.newID("wlpr"),
		UserID:      userID,
		ContentHash: info.ContentHash,
	}
	if err := repo.Create(ctx, rec); err != nil {
		if errors.Is(err, common.ErrDuplicateActiveUpload) {
			// Lost the first-upload race; the winner's row is the answer.
			winner, lookupErr := repo.GetActiveByUserAndHash(ctx, userID, info.ContentHash)
			if lookupErr != nil {
				return nil, fmt.Errorf("duplicate lookup: %w", lookupErr)
			}
			return alreadyUploadedResult(winner), nil
		}
		return nil, fmt.Errorf("record intent: %w", err)
	}

	key := objectstore.ObjectKey(rec.ID, info.Extension)
	if err := repo.TransitionToUploading(ctx, rec.ID, key); err != nil {
		return nil, fmt.Errorf("transition to uploading: %w", err)
	}

	if err := s.store.PutObject(ctx, key, data, info.MimeType); err != nil {
		s.logger.Error(ctx, "object storage put failed", "upload_id", rec.ID, "key", key, "error", err)
		if failErr := repo.TransitionToFailed(ctx, rec.ID, fmt.Sprintf("storage put failed: %v", err)); failErr != nil {
			// Reconciliation will still find the row in uploading.
			s.logger.Error(ctx, "could not fail upload after storage error", "upload_id", rec.ID, "error", failErr)
		}
		return nil, fmt.Errorf("%w: %v", common.ErrStorageFailure, err)
	}

	meta := models.StorageMetadata{
		StorageBucket:    s.store.Bucket(),
		StorageKey:       key,
		OriginalFilename: filename,
		FileType:         info.FileType,
		MimeType:         info.MimeType,
		Width:            info.Width,
		Height:           info.Height,
		FileSizeBytes:    info.FileSizeBytes,
	}
	if err := repo.TransitionToStored(ctx, rec.ID, meta); err != nil {
		return nil, fmt.Errorf("transition to stored: %w", err)
	}

	rec.StorageBucket = meta.StorageBucket
	rec.StorageKey = meta.StorageKey
	rec.OriginalFilename = meta.OriginalFilename
	rec.FileType = meta.FileType
	rec.MimeType = meta.MimeType
	rec.Width = meta.Width
	rec.Height = meta.Height
	rec.FileSizeBytes = meta.FileSizeBytes
	rec.CreatedAt = s.now()

	// Publish failure is deliberately not a request failure: the bytes are
	// durable, the row stays in stored, and the missing-events policy
	// republishes. Making this synchronous would turn a messaging outage
	// into a storage outage.
	if err := s.publishUploaded(ctx, rec); err != nil {
		s.logger.Warn(ctx, "uploaded event publish failed, leaving row in stored",
			"upload_id", rec.ID, "error", err)
		return &models.UploadResult{ID: rec.ID, Status: models.StatusProcessing}, nil
	}

	if err := repo.TransitionToProcessing(ctx, rec.ID); err != nil {
		// A concurrent reconciliation cycle may have advanced the row.
		s.logger.Error(ctx, "transition to processing failed after publish",
			"upload_id", rec.ID, "error", err)
	}

	return &models.UploadResult{ID: rec.ID, Status: models.StatusProcessing}, nil
}

func (s *UploadService) publishUploaded(ctx context.Context, rec *models.UploadRecord) error {
	event := models.NewUploadedEvent(s.newID("evt"), rec, s.now())
	payload, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}
	return s.bus.Publish(ctx, s.cfg.EventSubject, payload)
}

func alreadyUploadedResult(rec *models.UploadRecord) *models.UploadResult {
	return &models.UploadResult{
		ID:       rec.ID,
		Status:   models.StatusAlreadyUploaded,
		MimeType: rec.MimeType,
		Width:    rec.Width,
		Height:   rec.Height,
		FileSize: rec.FileSizeBytes,
	}
}
