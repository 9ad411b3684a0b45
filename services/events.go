package services

import (
	"context"
	"time"

	"github.com/malwarebo/paygate/models"
	"github.com/malwarebo/paygate/monitoring"
	"github.com/malwarebo/paygate/utils"
)

// eventRecorder persists security events and fans them out once stored.
type eventRecorder struct {
	events   SecurityEventRepository
	notifier *monitoring.Notifier
	metrics  *monitoring.Metrics
	now      func() time.Time
}

func (r *eventRecorder) record(ctx context.Context, event *models.SecurityEvent) error {
	if event.CreatedAt.IsZero() && r.now != nil {
		event.CreatedAt = r.now().UTC()
	}
	if err := r.events.Create(ctx, event); err != nil {
		return utils.NewPersistenceError("record security event", err)
	}

	utils.Warn(ctx, "Security event recorded", map[string]interface{}{
		"event_id":   event.ID,
		"event_type": event.EventType,
		"severity":   event.Severity,
		"title":      event.Title,
	})
	r.metrics.ObserveSecurityEvent(string(event.EventType), string(event.Severity))
	r.notifier.NotifySecurityEvent(ctx, event)
	return nil
}
