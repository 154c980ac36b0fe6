// Package objectstore wraps the S3-compatible blob backend used for
// wallpaper originals. Keys follow the {uploadID}/original.{ext} layout.
package objectstore

import (
	"context"
	"strings"
)

// Store is the object storage contract consumed by the orchestrator and
// the reconciliation policies.
type Store interface {
	// PutObject writes the blob under key with the given content type.
	PutObject(ctx context.Context, key string, data []byte, contentType string) error

	// HeadObject reports whether the key exists. A missing key is not an
	// error.
	HeadObject(ctx context.Context, key string) (bool, error)

	// DeleteObject removes the key. Deleting an absent key is a no-op.
	DeleteObject(ctx context.Context, key string) error

	// ListObjects returns one page of keys plus the continuation token for
	// the next page ("" when exhausted).
	ListObjects(ctx context.Context, continuationToken string, maxKeys int32) ([]string, string, error)

	// Bucket returns the configured bucket name.
	Bucket() string
}

// ObjectKey builds the storage key for an upload's original file.
func ObjectKey(uploadID, ext string) string {
	return uploadID + "/original." + ext
}

// UploadIDFromKey extracts the upload id prefix from a storage key.
// Returns "" for keys that do not follow the {id}/... layout.
func UploadIDFromKey(key string) string {
	id, _, found := strings.Cut(key, "/")
	if !found {
		return ""
	}
	return id
}
