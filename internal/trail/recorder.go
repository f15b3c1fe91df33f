// Package trail persists and ships audit-trail events. The trail is the
// immutable record of workflow transitions, ingestion completions, and
// archivals, kept separate from application logs because it has different
// consumers and retention requirements. Every event lands in the database;
// optionally each event is also shipped to external destinations (file,
// webhook) for SIEM ingestion. Recording is fire-and-forget by contract: a
// trail failure is logged and counted, never propagated to the orchestrator.
package trail

import (
	"context"
	"log/slog"
	"time"

	"github.com/audit-portal/audit-portal/internal/db/models"
	"github.com/audit-portal/audit-portal/internal/safego"
	"github.com/audit-portal/audit-portal/internal/telemetry"
)

// EventStore is the database surface events are persisted to.
type EventStore interface {
	CreateEvent(ctx context.Context, event *models.TrailEvent) error
}

// Recorder persists trail events and fans them out to shippers.
type Recorder struct {
	store    EventStore
	shippers []Shipper
	logger   *slog.Logger
}

// NewRecorder creates a Recorder. shippers may be empty.
func NewRecorder(store EventStore, shippers []Shipper, logger *slog.Logger) *Recorder {
	return &Recorder{store: store, shippers: shippers, logger: logger}
}

// Record persists the event and ships it externally. Persistence happens
// synchronously so list endpoints see the event immediately; shipping runs in
// the background. Neither failure reaches the caller.
func (r *Recorder) Record(ctx context.Context, event *models.TrailEvent) {
	if err := r.store.CreateEvent(ctx, event); err != nil {
		r.logger.Error("failed to persist trail event",
			"audit_id", event.AuditID, "type", event.Type, "error", err)
	}

	if len(r.shippers) == 0 {
		return
	}
	safego.Go(func() {
		shipCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer cancel()
		for _, shipper := range r.shippers {
			if err := shipper.Ship(shipCtx, event); err != nil {
				telemetry.TrailShipFailuresTotal.Inc()
				r.logger.Error("failed to ship trail event",
					"audit_id", event.AuditID, "type", event.Type, "error", err)
			}
		}
	})
}

// Close closes all shippers.
func (r *Recorder) Close() error {
	var lastErr error
	for _, shipper := range r.shippers {
		if err := shipper.Close(); err != nil {
			lastErr = err
		}
	}
	return lastErr
}
