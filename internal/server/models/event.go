package models

import "time"

// EventTypeUploaded is the event type published after an upload reaches
// the stored state.
const EventTypeUploaded = "wallpaper.uploaded"

// WallpaperPayload describes the stored wallpaper inside an uploaded event.
type WallpaperPayload struct {
	ID               string    `json:"id"`
	UserID           string    `json:"userId"`
	FileType         string    `json:"fileType"`
	MimeType         string    `json:"mimeType"`
	FileSizeBytes    int64     `json:"fileSizeBytes"`
	Width            int       `json:"width"`
	Height           int       `json:"height"`
	AspectRatio      float64   `json:"aspectRatio"`
	StorageKey       string    `json:"storageKey"`
	StorageBucket    string    `json:"storageBucket"`
	OriginalFilename string    `json:"originalFilename"`
	UploadedAt       time.Time `json:"uploadedAt"`
}

// UploadedEvent is the wire payload published to the event bus. Delivery
// is at-least-once; consumers must treat redelivery as a no-op.
type UploadedEvent struct {
	EventID   string           `json:"eventId"`
	EventType string           `json:"eventType"`
	Timestamp time.Time        `json:"timestamp"`
	Wallpaper WallpaperPayload `json:"wallpaper"`
}

// NewUploadedEvent builds the uploaded event for a stored record.
func NewUploadedEvent(eventID string, rec *UploadRecord, now time.Time) *UploadedEvent {
	var aspect float64
	if rec.Height > 0 {
		aspect = float64(rec.Width) / float64(rec.Height)
	}
	return &UploadedEvent{
		EventID:   eventID,
		EventType: EventTypeUploaded,
		Timestamp: now,
		Wallpaper: WallpaperPayload{
			ID:               rec.ID,
			UserID:           rec.UserID,
			FileType:         rec.FileType,
			MimeType:         rec.MimeType,
			FileSizeBytes:    rec.FileSizeBytes,
			Width:            rec.Width,
			Height:           rec.Height,
			AspectRatio:      aspect,
			StorageKey:       rec.StorageKey,
			StorageBucket:    rec.StorageBucket,
			OriginalFilename: rec.OriginalFilename,
			UploadedAt:       rec.CreatedAt,
		},
	}
}
