// Package validation implements the upload validation collaborator:
// per-user limits resolution and payload inspection. Failures surface as
// *Error values and never create any persistent state.
package validation

import (
	"context"
	"fmt"
)

// Limits are the per-user upload constraints.
type Limits struct {
	MaxSizeImage   int64
	MinWidth       int
	MinHeight      int
	MaxWidth       int
	MaxHeight      int
	AllowedFormats []string
}

// FileInfo is the outcome of successful payload inspection.
type FileInfo struct {
	ContentHash   string
	FileType      string
	MimeType      string
	Width         int
	Height        int
	FileSizeBytes int64
	Extension     string
}

// Error is a client-input validation failure (4xx-equivalent).
type Error struct {
	Field  string
	Reason string
}

func (e *Error) Error() string {
	return fmt.Sprintf("validation failed: %s: %s", e.Field, e.Reason)
}

// LimitResolver resolves upload limits for a user.
type LimitResolver interface {
	GetLimitsForUser(ctx context.Context, userID string) (Limits, error)
}

// FileProcessor validates a payload against limits and extracts its
// content hash and media metadata.
type FileProcessor interface {
	ProcessFile(data []byte, filename string, limits Limits, declaredMimeType string) (*FileInfo, error)
}
