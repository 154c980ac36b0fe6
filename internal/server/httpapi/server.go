// Package httpapi exposes the upload intake over HTTP. It is a thin
// translation layer: multipart in, orchestrator call, status code out.
package httpapi

import (
	"context"
	"errors"
	"io"
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/avkorolev/wallvault/internal/common"
	"github.com/avkorolev/wallvault/internal/logging"
	"github.com/avkorolev/wallvault/internal/server/models"
	"github.com/avkorolev/wallvault/internal/server/validation"
)

// Uploader is the orchestrator contract consumed by the HTTP layer.
type Uploader interface {
	HandleUpload(ctx context.Context, data []byte, filename, declaredMimeType, userID string) (*models.UploadResult, error)
}

type Server struct {
	echo     *echo.Echo
	addr     string
	uploader Uploader
	logger   logging.Logger
}

func NewServer(addr string, uploader Uploader, logger logging.Logger) *Server {
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true

	s := &Server{
		echo:     e,
		addr:     addr,
		uploader: uploader,
		logger:   logger.With("component", "httpapi"),
	}

	e.POST("/api/v1/wallpapers", s.handleUpload)
	e.GET("/healthz", s.handleHealth)
	return s
}

// Start blocks serving requests until Shutdown.
func (s *Server) Start() error {
	return s.echo.Start(s.addr)
}

// Shutdown stops the listener and drains in-flight requests.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.echo.Shutdown(ctx)
}

// handleUpload accepts a multipart form with a "file" part and a
// "user_id" field. 202 for a freshly accepted upload, 200 for an
// idempotent duplicate, 400 for client mistakes, 502 when object
// storage rejected the bytes.
func (s *Server) handleUpload(c echo.Context) error {
	userID := c.FormValue("user_id")
	if userID == "" {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "user_id is required"})
	}

	fileHeader, err := c.FormFile("file")
	if err != nil {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "file part is required"})
	}

	src, err := fileHeader.Open()
	if err != nil {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "could not read file part"})
	}
	defer src.Close()

	data, err := io.ReadAll(src)
	if err != nil {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "could not read file part"})
	}

	declared := fileHeader.Header.Get("Content-Type")

	result, err := s.uploader.HandleUpload(c.Request().Context(), data, fileHeader.Filename, declared, userID)
	if err != nil {
		var verr *validation.Error
		switch {
		case errors.As(err, &verr):
			return c.JSON(http.StatusBadRequest, echo.Map{"error": verr.Reason, "field": verr.Field})
		case errors.Is(err, common.ErrStorageFailure):
			return c.JSON(http.StatusBadGateway, echo.Map{"error": "object storage unavailable"})
		default:
			s.logger.Error(c.Request().Context(), "upload failed", "error", err)
			return c.JSON(http.StatusInternalServerError, echo.Map{"error": "internal error"})
		}
	}

	status := http.StatusAccepted
	if result.Status == models.StatusAlreadyUploaded {
		status = http.StatusOK
	}
	return c.JSON(status, result)
}

func (s *Server) handleHealth(c echo.Context) error {
	return c.JSON(http.StatusOK, echo.Map{"status": "ok"})
}
