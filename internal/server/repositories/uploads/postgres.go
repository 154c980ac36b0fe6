// Package uploads provides the PostgreSQL-backed repository for upload
// records: intent creation, guarded lifecycle transitions, and the
// skip-locked selectors used by reconciliation.
package uploads

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5/pgconn"

	"github.com/avkorolev/wallvault/internal/common"
	"github.com/avkorolev/wallvault/internal/dbx"
	"github.com/avkorolev/wallvault/internal/server/models"
)

const uploadColumns = `id, user_id, content_hash, upload_state, state_changed_at, upload_attempts,
		processing_error, storage_bucket, storage_key, original_filename, file_type, mime_type,
		width, height, file_size_bytes, created_at`

// PostgresRepository implements upload storage over a dbx.DBTX
// (*sql.DB or *sql.Tx). Binding to a transaction is how reconciliation
// keeps the row lock and the repair in one atomic unit.
type PostgresRepository struct {
	db dbx.DBTX
}

// NewPostgresRepository constructs a repository bound to the given DBTX.
func NewPostgresRepository(db dbx.DBTX) *PostgresRepository {
	return &PostgresRepository{db: db}
}

// Create inserts the write-ahead intent row. The partial unique index on
// (user_id, content_hash) for non-failed rows turns a first-upload race
// into ErrDuplicateActiveUpload instead of a second row.
func (r *PostgresRepository) Create(ctx context.Context, rec *models.UploadRecord) error {
	query := `
		INSERT INTO uploads (id, user_id, content_hash, upload_state, state_changed_at, upload_attempts, created_at)
		VALUES ($1, $2, $3, $4, NOW(), 0, NOW());
	`
	_, err := r.db.ExecContext(ctx, query, rec.ID, rec.UserID, rec.ContentHash, models.StateInitiated)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			return common.ErrDuplicateActiveUpload
		}
		return fmt.Errorf("db error: %w", err)
	}
	rec.UploadState = models.StateInitiated
	rec.UploadAttempts = 0
	return nil
}

// GetByID returns the record or common.ErrorNotFound.
func (r *PostgresRepository) GetByID(ctx context.Context, id string) (*models.UploadRecord, error) {
	query := `SELECT ` + uploadColumns + ` FROM uploads WHERE id = $1`
	return r.selectOne(ctx, query, id)
}

// GetActiveByUserAndHash returns the single non-failed row for the
// deduplication pair, or common.ErrorNotFound.
func (r *PostgresRepository) GetActiveByUserAndHash(ctx context.Context, userID, contentHash string) (*models.UploadRecord, error) {
	query := `SELECT ` + uploadColumns + ` FROM uploads
		WHERE user_id = $1 AND content_hash = $2 AND upload_state <> 'failed'
		LIMIT 1`
	return r.selectOne(ctx, query, userID, contentHash)
}

// TransitionToUploading moves initiated → uploading. The storage key is
// written with the same update: the put has not happened yet, but a
// later stuck-upload repair needs the key to check whether it ever did.
func (r *PostgresRepository) TransitionToUploading(ctx context.Context, id, storageKey string) error {
	query := `
		UPDATE uploads SET upload_state = $1, state_changed_at = NOW(), storage_key = $2
		WHERE id = $3 AND upload_state = $4;
	`
	res, err := r.db.ExecContext(ctx, query, models.StateUploading, storageKey, id, models.StateInitiated)
	if err != nil {
		return fmt.Errorf("db error: %w", err)
	}
	return oneRowOrConflict(res)
}

// TransitionToStored moves uploading → stored, writing the storage and
// media metadata atomically with the state change.
func (r *PostgresRepository) TransitionToStored(ctx context.Context, id string, meta models.StorageMetadata) error {
	query := `
		UPDATE uploads SET
			upload_state = $1,
			state_changed_at = NOW(),
			storage_bucket = $2,
			storage_key = $3,
			original_filename = $4,
			file_type = $5,
			mime_type = $6,
			width = $7,
			height = $8,
			file_size_bytes = $9
		WHERE id = $10 AND upload_state = $11;
	`
	res, err := r.db.ExecContext(ctx, query,
		models.StateStored, meta.StorageBucket, meta.StorageKey, meta.OriginalFilename,
		meta.FileType, meta.MimeType, meta.Width, meta.Height, meta.FileSizeBytes,
		id, models.StateUploading)
	if err != nil {
		return fmt.Errorf("db error: %w", err)
	}
	return oneRowOrConflict(res)
}

// TransitionToProcessing moves stored → processing. Called only after the
// uploaded event has been durably accepted by the event bus.
func (r *PostgresRepository) TransitionToProcessing(ctx context.Context, id string) error {
	return r.transition(ctx, id, models.StateStored, models.StateProcessing)
}

// TransitionToFailed moves any non-terminal state to failed and records
// the diagnostic reason.
func (r *PostgresRepository) TransitionToFailed(ctx context.Context, id, reason string) error {
	query := `
		UPDATE uploads SET upload_state = $1, state_changed_at = NOW(), processing_error = $2
		WHERE id = $3 AND upload_state NOT IN ($4, $5);
	`
	res, err := r.db.ExecContext(ctx, query, models.StateFailed, reason, id,
		models.StateCompleted, models.StateFailed)
	if err != nil {
		return fmt.Errorf("db error: %w", err)
	}
	return oneRowOrConflict(res)
}

// RecoverToStored is the reconciliation repair for a stuck uploading row
// whose object turned out to exist: uploading → stored. The only edge
// that looks like a regression and deliberately is not one.
func (r *PostgresRepository) RecoverToStored(ctx context.Context, id string) error {
	return r.transition(ctx, id, models.StateUploading, models.StateStored)
}

// IncrementAttempts bumps the retry counter of a stuck uploading row.
// It also resets the staleness clock so the row gets a fresh threshold
// window instead of being re-picked by the same reconciliation cycle.
func (r *PostgresRepository) IncrementAttempts(ctx context.Context, id string) error {
	query := `
		UPDATE uploads SET upload_attempts = upload_attempts + 1, state_changed_at = NOW()
		WHERE id = $1 AND upload_state = $2;
	`
	res, err := r.db.ExecContext(ctx, query, id, models.StateUploading)
	if err != nil {
		return fmt.Errorf("db error: %w", err)
	}
	return oneRowOrConflict(res)
}

// DeleteIntent removes an abandoned intent row. Only rows still in
// initiated may be deleted: once bytes may exist in object storage the
// row is an audit trail and is failed, never removed.
func (r *PostgresRepository) DeleteIntent(ctx context.Context, id string) error {
	query := `DELETE FROM uploads WHERE id = $1 AND upload_state = $2;`
	res, err := r.db.ExecContext(ctx, query, id, models.StateInitiated)
	if err != nil {
		return fmt.Errorf("db error: %w", err)
	}
	return oneRowOrConflict(res)
}

// SelectStuckUploading locks one uploading row older than cutoff.
func (r *PostgresRepository) SelectStuckUploading(ctx context.Context, cutoff time.Time) (*models.UploadRecord, error) {
	return r.selectOneStaleAndLock(ctx, models.StateUploading, cutoff)
}

// SelectStaleStored locks one stored row older than cutoff.
func (r *PostgresRepository) SelectStaleStored(ctx context.Context, cutoff time.Time) (*models.UploadRecord, error) {
	return r.selectOneStaleAndLock(ctx, models.StateStored, cutoff)
}

// SelectStaleInitiated locks one initiated row older than cutoff.
func (r *PostgresRepository) SelectStaleInitiated(ctx context.Context, cutoff time.Time) (*models.UploadRecord, error) {
	return r.selectOneStaleAndLock(ctx, models.StateInitiated, cutoff)
}

// selectOneStaleAndLock is the skip-locked primitive: it locks at most one
// candidate row for the current transaction and excludes rows already
// locked by concurrent transactions instead of blocking on them. Two
// engine instances therefore never pick the same row, and an instance
// finding everything locked simply sees an empty result.
func (r *PostgresRepository) selectOneStaleAndLock(ctx context.Context, state models.UploadState, cutoff time.Time) (*models.UploadRecord, error) {
	query := `SELECT ` + uploadColumns + ` FROM uploads
		WHERE upload_state = $1 AND state_changed_at < $2
		ORDER BY state_changed_at ASC
		LIMIT 1
		FOR UPDATE SKIP LOCKED`
	rec, err := r.selectOne(ctx, query, state, cutoff)
	if errors.Is(err, common.ErrorNotFound) {
		return nil, nil
	}
	return rec, err
}

// ListStatesByIDs resolves the upload state for each known id. Unknown
// ids are simply absent from the result.
func (r *PostgresRepository) ListStatesByIDs(ctx context.Context, ids []string) (map[string]models.UploadState, error) {
	result := make(map[string]models.UploadState, len(ids))
	if len(ids) == 0 {
		return result, nil
	}

	placeholders := make([]string, len(ids))
	args := make([]any, len(ids))
	for i, id := range ids {
		placeholders[i] = fmt.Sprintf("$%d", i+1)
		args[i] = id
	}
	query := `SELECT id, upload_state FROM uploads WHERE id IN (` + strings.Join(placeholders, ", ") + `)`

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("db error: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var id string
		var state models.UploadState
		if err := rows.Scan(&id, &state); err != nil {
			return nil, err
		}
		result[id] = state
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return result, nil
}

func (r *PostgresRepository) transition(ctx context.Context, id string, from, to models.UploadState) error {
	query := `
		UPDATE uploads SET upload_state = $1, state_changed_at = NOW()
		WHERE id = $2 AND upload_state = $3;
	`
	res, err := r.db.ExecContext(ctx, query, to, id, from)
	if err != nil {
		return fmt.Errorf("db error: %w", err)
	}
	return oneRowOrConflict(res)
}

func (r *PostgresRepository) selectOne(ctx context.Context, query string, args ...any) (*models.UploadRecord, error) {
	row := r.db.QueryRowContext(ctx, query, args...)

	var rec models.UploadRecord
	var processingError, storageBucket, storageKey, originalFilename, fileType, mimeType sql.NullString
	var width, height, fileSize sql.NullInt64

	err := row.Scan(
		&rec.ID, &rec.UserID, &rec.ContentHash, &rec.UploadState, &rec.StateChangedAt, &rec.UploadAttempts,
		&processingError, &storageBucket, &storageKey, &originalFilename, &fileType, &mimeType,
		&width, &height, &fileSize, &rec.CreatedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, common.ErrorNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("db error: %w", err)
	}

	rec.ProcessingError = processingError.String
	rec.StorageBucket = storageBucket.String
	rec.StorageKey = storageKey.String
	rec.OriginalFilename = originalFilename.String
	rec.FileType = fileType.String
	rec.MimeType = mimeType.String
	rec.Width = int(width.Int64)
	rec.Height = int(height.Int64)
	rec.FileSizeBytes = fileSize.Int64
	return &rec, nil
}

func oneRowOrConflict(res sql.Result) error {
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected error: %w", err)
	}
	switch n {
	case 1:
		return nil
	case 0:
		return common.ErrStateConflict
	default:
		return fmt.Errorf("unexpected rows affected: %d", n)
	}
}
