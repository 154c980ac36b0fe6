package validation

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"image"
	"net/http"
	"slices"

	// Registered decoders for image.DecodeConfig.
	_ "image/gif"
	_ "image/jpeg"
	_ "image/png"

	"github.com/avkorolev/wallvault/internal/server/config"
)

// StaticLimitResolver serves the same configured limits to every user.
// A per-user tier lookup can replace it behind the same interface.
type StaticLimitResolver struct {
	cfg *config.Config
}

func NewStaticLimitResolver(cfg *config.Config) *StaticLimitResolver {
	return &StaticLimitResolver{cfg: cfg}
}

func (r *StaticLimitResolver) GetLimitsForUser(ctx context.Context, userID string) (Limits, error) {
	return Limits{
		MaxSizeImage:   r.cfg.MaxSizeImageBytes,
		MinWidth:       r.cfg.MinWidth,
		MinHeight:      r.cfg.MinHeight,
		MaxWidth:       r.cfg.MaxWidth,
		MaxHeight:      r.cfg.MaxHeight,
		AllowedFormats: r.cfg.AllowedFormats,
	}, nil
}

// ImageProcessor inspects raster image payloads. DecodeConfig reads the
// header only, so dimension checks do not decode pixel data.
type ImageProcessor struct{}

func NewImageProcessor() *ImageProcessor {
	return &ImageProcessor{}
}

func (p *ImageProcessor) ProcessFile(data []byte, filename string, limits Limits, declaredMimeType string) (*FileInfo, error) {
	if len(data) == 0 {
		return nil, &Error{Field: "file", Reason: "empty payload"}
	}
	if limits.MaxSizeImage > 0 && int64(len(data)) > limits.MaxSizeImage {
		return nil, &Error{Field: "file", Reason: fmt.Sprintf("size %d exceeds limit %d", len(data), limits.MaxSizeImage)}
	}

	cfg, format, err := image.DecodeConfig(bytes.NewReader(data))
	if err != nil {
		return nil, &Error{Field: "file", Reason: "unsupported or corrupt image"}
	}

	if len(limits.AllowedFormats) > 0 && !slices.Contains(limits.AllowedFormats, format) {
		return nil, &Error{Field: "file", Reason: fmt.Sprintf("format %q is not allowed", format)}
	}

	sniffed := http.DetectContentType(data)
	if declaredMimeType != "" && declaredMimeType != sniffed {
		return nil, &Error{Field: "mime_type", Reason: fmt.Sprintf("declared %q but content is %q", declaredMimeType, sniffed)}
	}

	if limits.MinWidth > 0 && cfg.Width < limits.MinWidth {
		return nil, &Error{Field: "width", Reason: fmt.Sprintf("%d is below minimum %d", cfg.Width, limits.MinWidth)}
	}
	if limits.MinHeight > 0 && cfg.Height < limits.MinHeight {
		return nil, &Error{Field: "height", Reason: fmt.Sprintf("%d is below minimum %d", cfg.Height, limits.MinHeight)}
	}
	if limits.MaxWidth > 0 && cfg.Width > limits.MaxWidth {
		return nil, &Error{Field: "width", Reason: fmt.Sprintf("%d exceeds maximum %d", cfg.Width, limits.MaxWidth)}
	}
	if limits.MaxHeight > 0 && cfg.Height > limits.MaxHeight {
		return nil, &Error{Field: "height", Reason: fmt.Sprintf("%d exceeds maximum %d", cfg.Height, limits.MaxHeight)}
	}

	hash := sha256.Sum256(data)

	return &FileInfo{
		ContentHash:   hex.EncodeToString(hash[:]),
		FileType:      "image",
		MimeType:      sniffed,
		Width:         cfg.Width,
		Height:        cfg.Height,
		FileSizeBytes: int64(len(data)),
		Extension:     format,
	}, nil
}
