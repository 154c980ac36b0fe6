// Package common defines shared constants and sentinel errors used across
// the service layers. Callers should use errors.Is to match these values.
package common

import "errors"

var (
	// Repository-level errors.
	ErrorNotFound = errors.New("not found")

	// ErrStateConflict means a lifecycle transition was attempted from an
	// unexpected source state. It indicates a concurrency bug or a race with
	// reconciliation and must be logged loudly, never silently retried.
	ErrStateConflict = errors.New("upload state conflict")

	// ErrStorageFailure marks failures of the object storage backend after
	// intent was recorded. The upload row ends in the failed state.
	ErrStorageFailure = errors.New("object storage failure")

	// ErrDuplicateActiveUpload is raised when intent creation hits the
	// partial unique index on (user_id, content_hash). It is not a failure:
	// the orchestrator converts it into the idempotent already_uploaded path.
	ErrDuplicateActiveUpload = errors.New("active upload already exists for user and content hash")

	// Service-level errors.
	ErrorInternal = errors.New("internal error")
)
