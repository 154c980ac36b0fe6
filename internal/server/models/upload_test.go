package models

import (
	"testing"
	"time"
)

func TestValidTransition_ForwardEdges(t *testing.T) {
	allowed := []struct{ from, to UploadState }{
		{StateInitiated, StateUploading},
		{StateUploading, StateStored},
		{StateStored, StateProcessing},
		{StateProcessing, StateCompleted},
		{StateInitiated, StateFailed},
		{StateUploading, StateFailed},
		{StateStored, StateFailed},
		{StateProcessing, StateFailed},
	}
	for _, tc := range allowed {
		if !ValidTransition(tc.from, tc.to) {
			t.Fatalf("expected %s -> %s to be valid", tc.from, tc.to)
		}
	}
}

func TestValidTransition_RejectsRegressionsAndSkips(t *testing.T) {
	denied := []struct{ from, to UploadState }{
		{StateStored, StateUploading},
		{StateProcessing, StateStored},
		{StateCompleted, StateProcessing},
		{StateInitiated, StateStored},
		{StateUploading, StateProcessing},
		{StateFailed, StateInitiated},
		{StateCompleted, StateFailed},
		{StateFailed, StateFailed},
	}
	for _, tc := range denied {
		if ValidTransition(tc.from, tc.to) {
			t.Fatalf("expected %s -> %s to be invalid", tc.from, tc.to)
		}
	}
}

func TestIsTerminal(t *testing.T) {
	for _, s := range []UploadState{StateInitiated, StateUploading, StateStored, StateProcessing} {
		if s.IsTerminal() {
			t.Fatalf("%s must not be terminal", s)
		}
	}
	for _, s := range []UploadState{StateCompleted, StateFailed} {
		if !s.IsTerminal() {
			t.Fatalf("%s must be terminal", s)
		}
	}
}

func TestNewUploadedEvent(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	rec := &UploadRecord{
		ID:               "wlpr_1",
		UserID:           "u1",
		FileType:         "image",
		MimeType:         "image/png",
		FileSizeBytes:    1234,
		Width:            1920,
		Height:           1080,
		StorageKey:       "wlpr_1/original.png",
		StorageBucket:    "wallpapers",
		OriginalFilename: "sunset.png",
		CreatedAt:        now.Add(-time.Minute),
	}

	ev := NewUploadedEvent("evt_1", rec, now)

	if ev.EventType != EventTypeUploaded {
		t.Fatalf("unexpected event type %q", ev.EventType)
	}
	if ev.Wallpaper.AspectRatio < 1.77 || ev.Wallpaper.AspectRatio > 1.78 {
		t.Fatalf("unexpected aspect ratio %f", ev.Wallpaper.AspectRatio)
	}
	if ev.Wallpaper.ID != rec.ID || ev.Wallpaper.StorageKey != rec.StorageKey {
		t.Fatalf("payload does not mirror record: %+v", ev.Wallpaper)
	}
}

func TestNewUploadedEvent_ZeroHeightDoesNotDivide(t *testing.T) {
	ev := NewUploadedEvent("evt", &UploadRecord{ID: "wlpr_2"}, time.Now())
	if ev.Wallpaper.AspectRatio != 0 {
		t.Fatalf("expected zero aspect ratio, got %f", ev.Wallpaper.AspectRatio)
	}
}
