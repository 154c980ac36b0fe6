// Package models contains the server-side domain types: the upload record,
// its lifecycle state machine, and the published event payloads.
package models

import "time"

// UploadState is the lifecycle state of an upload record.
type UploadState string

const (
	StateInitiated  UploadState = "initiated"
	StateUploading  UploadState = "uploading"
	StateStored     UploadState = "stored"
	StateProcessing UploadState = "processing"
	StateCompleted  UploadState = "completed"
	StateFailed     UploadState = "failed"
)

// transitions holds the legal forward edges of the state machine.
// failed is reachable from every non-terminal state; recovery from
// uploading back to stored is expressed as the uploading→stored edge and
// is only exercised by stuck-upload reconciliation.
var transitions = map[UploadState][]UploadState{
	StateInitiated:  {StateUploading, StateFailed},
	StateUploading:  {StateStored, StateFailed},
	StateStored:     {StateProcessing, StateFailed},
	StateProcessing: {StateCompleted, StateFailed},
}

// ValidTransition reports whether moving from one state to another is a
// legal edge of the upload state machine.
func ValidTransition(from, to UploadState) bool {
	for _, next := range transitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

// IsTerminal reports whether a state is one of the two true terminal
// states. initiated and uploading are terminal-unstable: they must not
// persist and are repaired by reconciliation.
func (s UploadState) IsTerminal() bool {
	return s == StateCompleted || s == StateFailed
}

// StorageMetadata is written atomically with the uploading→stored
// transition. Absent before that point.
type StorageMetadata struct {
	StorageBucket    string
	StorageKey       string
	OriginalFilename string
	FileType         string
	MimeType         string
	Width            int
	Height           int
	FileSizeBytes    int64
}

// UploadRecord is the single persisted entity of the intake core.
//
// Invariants:
//   - at most one row per (UserID, ContentHash) in a non-failed state;
//   - UploadState only moves along the edges above;
//   - StateChangedAt is touched on every transition and only on a
//     transition (it is the staleness clock for reconciliation);
//   - UploadAttempts only grows, and only via stuck-upload recovery.
type UploadRecord struct {
	ID              string
	UserID          string
	ContentHash     string
	UploadState     UploadState
	StateChangedAt  time.Time
	UploadAttempts  int
	ProcessingError string

	StorageBucket    string
	StorageKey       string
	OriginalFilename string
	FileType         string
	MimeType         string
	Width            int
	Height           int
	FileSizeBytes    int64

	CreatedAt time.Time
}

// Upload result statuses returned to clients.
const (
	StatusProcessing      = "processing"
	StatusAlreadyUploaded = "already_uploaded"
)

// UploadResult is the client-visible outcome of HandleUpload.
type UploadResult struct {
	ID       string `json:"id"`
	Status   string `json:"status"`
	MimeType string `json:"mime_type,omitempty"`
	Width    int    `json:"width,omitempty"`
	Height   int    `json:"height,omitempty"`
	FileSize int64  `json:"file_size_bytes,omitempty"`
}
