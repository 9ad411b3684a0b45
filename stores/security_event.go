package stores

import (
	"context"
	"time"

	"github.com/malwarebo/paygate/models"
	"github.com/malwarebo/paygate/utils"
	pkgerrors "github.com/pkg/errors"
	"gorm.io/gorm"
)

type SecurityEventStore struct {
	BaseStore
}

func CreateSecurityEventStore(db *gorm.DB) *SecurityEventStore {
	return &SecurityEventStore{BaseStore: BaseStore{db: db}}
}

func (s *SecurityEventStore) Create(ctx context.Context, event *models.SecurityEvent) error {
	return translate(s.GetDB(ctx).Create(event).Error, "record %s event", event.EventType)
}

func (s *SecurityEventStore) GetByID(ctx context.Context, id string) (*models.SecurityEvent, error) {
	var event models.SecurityEvent
	if err := s.GetDB(ctx).First(&event, "id = ?", id).Error; err != nil {
		return nil, translate(err, "security event %s", id)
	}
	return &event, nil
}

// Resolve stamps an unresolved event; resolving twice is an invalid transition.
func (s *SecurityEventStore) Resolve(ctx context.Context, id, resolvedBy string, at time.Time) error {
	result := s.GetDB(ctx).Model(&models.SecurityEvent{}).
		Where("id = ? AND resolved_at IS NULL", id).
		Updates(map[string]interface{}{"resolved_at": at, "resolved_by": resolvedBy})
	if result.Error != nil {
		return translate(result.Error, "resolve security event %s", id)
	}
	if result.RowsAffected > 0 {
		return nil
	}

	if _, err := s.GetByID(ctx, id); err != nil {
		return err
	}
	return pkgerrors.Wrapf(utils.ErrInvalidTransition, "security event %s already resolved", id)
}

func (s *SecurityEventStore) List(ctx context.Context, filter models.SecurityEventFilter) ([]*models.SecurityEvent, int64, error) {
	var events []*models.SecurityEvent
	var total int64

	query := s.GetDB(ctx).Model(&models.SecurityEvent{})

	if filter.EventType != "" {
		query = query.Where("event_type = ?", filter.EventType)
	}
	if filter.Severity != "" {
		query = query.Where("severity = ?", filter.Severity)
	}
	if filter.ClientID != "" {
		query = query.Where("client_id = ?", filter.ClientID)
	}
	if filter.Unresolved {
		query = query.Where("resolved_at IS NULL")
	}
	if filter.Since != nil {
		query = query.Where("created_at >= ?", filter.Since)
	}

	if err := query.Count(&total).Error; err != nil {
		return nil, 0, translate(err, "count security events")
	}

	if filter.Limit > 0 {
		query = query.Limit(filter.Limit)
	}
	if filter.Offset > 0 {
		query = query.Offset(filter.Offset)
	}

	if err := query.Order("created_at DESC").Find(&events).Error; err != nil {
		return nil, 0, translate(err, "list security events")
	}

	return events, total, nil
}

func (s *SecurityEventStore) CountByType(ctx context.Context, since time.Time) (map[models.SecurityEventType]int64, error) {
	var rows []struct {
		EventType models.SecurityEventType
		Count     int64
	}
	err := s.GetDB(ctx).Model(&models.SecurityEvent{}).
		Select("event_type, COUNT(*) AS count").
		Where("created_at >= ?", since).
		Group("event_type").
		Scan(&rows).Error
	if err != nil {
		return nil, translate(err, "count events by type")
	}

	counts := make(map[models.SecurityEventType]int64, len(rows))
	for _, r := range rows {
		counts[r.EventType] = r.Count
	}
	return counts, nil
}

func (s *SecurityEventStore) CountBySeverity(ctx context.Context, since time.Time) (map[models.Severity]int64, error) {
	var rows []struct {
		Severity models.Severity
		Count    int64
	}
	err := s.GetDB(ctx).Model(&models.SecurityEvent{}).
		Select("severity, COUNT(*) AS count").
		Where("created_at >= ?", since).
		Group("severity").
		Scan(&rows).Error
	if err != nil {
		return nil, translate(err, "count events by severity")
	}

	counts := make(map[models.Severity]int64, len(rows))
	for _, r := range rows {
		counts[r.Severity] = r.Count
	}
	return counts, nil
}
