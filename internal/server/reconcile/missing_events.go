package reconcile

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/avkorolev/wallvault/internal/logging"
	"github.com/avkorolev/wallvault/internal/server/config"
	"github.com/avkorolev/wallvault/internal/server/eventbus"
	"github.com/avkorolev/wallvault/internal/server/models"
	"github.com/avkorolev/wallvault/internal/server/repositories/uploads"
)

// MissingEvents republishes the uploaded event for rows stuck in stored:
// the bytes are durable but the publish failed (or the process crashed
// before transitionToProcessing). Redelivery is safe because consumers
// treat the event as at-least-once.
type MissingEvents struct {
	bus       eventbus.Bus
	subject   string
	threshold time.Duration
	logger    logging.Logger

	now        func() time.Time
	newEventID func() string
}

func NewMissingEvents(bus eventbus.Bus, cfg *config.Config, logger logging.Logger) *MissingEvents {
	return &MissingEvents{
		bus:        bus,
		subject:    cfg.EventSubject,
		threshold:  cfg.MissingEventThreshold,
		logger:     logger.With("policy", "missing_events"),
		now:        time.Now,
		newEventID: newEventID,
	}
}

func newEventID() string {
	id, err := uuid.NewV7()
	if err != nil {
		return "evt_" + uuid.NewString()
	}
	return "evt_" + id.String()
}

func (p *MissingEvents) Name() string { return "missing_events" }

// ReconcileOne republishes and, only on success, advances the row to
// processing. A publish error propagates so the engine stops the cycle:
// with the bus down every candidate would fail identically, and the
// next scheduled cycle is the retry.
func (p *MissingEvents) ReconcileOne(ctx context.Context, repo uploads.Repository) (bool, error) {
	rec, err := repo.SelectStaleStored(ctx, p.now().Add(-p.threshold))
	if err != nil {
		return false, err
	}
	if rec == nil {
		return false, nil
	}

	payload, err := json.Marshal(models.NewUploadedEvent(p.newEventID(), rec, p.now()))
	if err != nil {
		return false, fmt.Errorf("marshal event: %w", err)
	}
	if err := p.bus.Publish(ctx, p.subject, payload); err != nil {
		return false, fmt.Errorf("republish for %s: %w", rec.ID, err)
	}

	p.logger.Info(ctx, "uploaded event republished", "upload_id", rec.ID)
	return true, repo.TransitionToProcessing(ctx, rec.ID)
}
